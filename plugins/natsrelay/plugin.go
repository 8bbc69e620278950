// Package natsrelay mirrors link traffic onto NATS. Every received frame is
// published on <prefix>.uplink.<token> and <prefix>.uplink.all; messages on
// <prefix>.downlink are written back to the peer.
package natsrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bft-labs/atlink/pkg/frame"
	"github.com/bft-labs/atlink/pkg/link"
	"github.com/bft-labs/atlink/pkg/log"
)

// UplinkMessage is published for each received frame.
type UplinkMessage struct {
	Role      string    `json:"role"`
	SessionID uint64    `json:"session_id"`
	Remote    string    `json:"remote"`
	Token     string    `json:"token"`
	Frame     []byte    `json:"frame"`
	Text      string    `json:"text,omitempty"`
	Received  time.Time `json:"received_at"`
}

// DownlinkMessage asks the peer to send bytes. SessionID 0 broadcasts.
// Data is a text line; a missing terminator is added. Raw is sent verbatim
// and wins over Data.
type DownlinkMessage struct {
	SessionID uint64 `json:"session_id"`
	Data      string `json:"data,omitempty"`
	Raw       []byte `json:"raw,omitempty"`
}

// conn is the part of *nats.Conn the relay uses.
type conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Drain() error
}

// Config holds configuration options for the relay.
type Config struct {
	// URL of the NATS server. Empty disables the relay.
	URL string

	// Prefix for every subject. Default: "atlink"
	Prefix string

	// ReconnectWait between NATS reconnects. Default: 2 seconds
	ReconnectWait time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:        "atlink",
		ReconnectWait: 2 * time.Second,
	}
}

// Plugin relays frames between a link peer and NATS.
type Plugin struct {
	link.NopEventHandler

	cfg  Config
	dial func(url string, opts ...nats.Option) (conn, error)

	mu     sync.RWMutex
	nc     conn
	role   link.Role
	peer   link.Peer
	logger log.Logger
}

// New creates a relay plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.Prefix == "" {
		cfg.Prefix = "atlink"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	return &Plugin{
		cfg: cfg,
		dial: func(url string, opts ...nats.Option) (conn, error) {
			return nats.Connect(url, opts...)
		},
		logger: log.NewNoopLogger(),
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "natsrelay"
}

// Initialize connects to NATS and subscribes to the downlink subject.
func (p *Plugin) Initialize(ctx context.Context, cfg link.PluginConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	logger = logger.With(log.String("plugin", p.Name()))

	p.mu.Lock()
	p.role = cfg.Role
	p.peer = cfg.Peer
	p.logger = logger
	p.mu.Unlock()

	if p.cfg.URL == "" {
		logger.Warn("NATS relay disabled: no url configured")
		return nil
	}

	nc, err := p.dial(p.cfg.URL,
		nats.Name("atlink-"+string(cfg.Role)),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(p.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", log.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", log.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", p.cfg.URL, err)
	}

	subject := p.downlinkSubject()
	if _, err := nc.Subscribe(subject, p.handleDownlink); err != nil {
		_ = nc.Drain()
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	p.mu.Lock()
	p.nc = nc
	p.mu.Unlock()

	logger.Info("NATS relay connected",
		log.String("url", p.cfg.URL),
		log.String("downlink", subject))
	return nil
}

// Shutdown drains the NATS connection.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	nc := p.nc
	p.nc = nil
	p.mu.Unlock()

	if nc == nil {
		return nil
	}
	return nc.Drain()
}

// OnFrame publishes a received frame.
func (p *Plugin) OnFrame(e link.FrameEvent) {
	p.mu.RLock()
	nc, role, logger := p.nc, p.role, p.logger
	p.mu.RUnlock()
	if nc == nil {
		return
	}

	token := frame.Token(e.Frame)
	msg := UplinkMessage{
		Role:      string(role),
		SessionID: e.SessionID,
		Remote:    e.Remote,
		Token:     token,
		Frame:     e.Frame,
		Received:  e.ReceivedAt,
	}
	if !frame.IsBinary(e.Frame) {
		msg.Text = strings.TrimSuffix(string(e.Frame), "\r\n")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("encode uplink", log.Err(err))
		return
	}
	for _, subject := range []string{p.uplinkSubject(token), p.cfg.Prefix + ".uplink." + uplinkAll} {
		if err := nc.Publish(subject, data); err != nil {
			logger.Warn("publish failed", log.String("subject", subject), log.Err(err))
		}
	}
}

func (p *Plugin) handleDownlink(m *nats.Msg) {
	p.mu.RLock()
	peer, logger := p.peer, p.logger
	p.mu.RUnlock()

	var msg DownlinkMessage
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		logger.Warn("invalid downlink message", log.Err(err))
		return
	}
	out := msg.Raw
	if len(out) == 0 {
		if msg.Data == "" {
			logger.Warn("empty downlink message")
			return
		}
		out = []byte(msg.Data)
		if !strings.HasSuffix(msg.Data, "\r\n") {
			out = append(out, '\r', '\n')
		}
	}
	if peer == nil {
		return
	}

	if msg.SessionID == 0 {
		n := peer.Broadcast(out)
		logger.Debug("downlink broadcast", log.Int("sessions", n))
		return
	}
	if err := peer.SendTo(msg.SessionID, out); err != nil {
		logger.Warn("downlink send failed", log.Session(msg.SessionID), log.Err(err))
	}
}

func (p *Plugin) downlinkSubject() string {
	return p.cfg.Prefix + ".downlink"
}

func (p *Plugin) uplinkSubject(token string) string {
	return p.cfg.Prefix + ".uplink." + subjectToken(token)
}

// uplinkAll is the subject token reserved for the catch-all uplink subject.
const uplinkAll = "all"

// subjectToken makes a frame token safe to use as one NATS subject token.
// A frame token equal to the catch-all token is prefixed with '_'.
func subjectToken(token string) string {
	switch token {
	case "":
		return "_"
	case uplinkAll:
		return "_" + uplinkAll
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '*' || r == '>' || r <= ' ' || r > '~':
			return '_'
		default:
			return r
		}
	}, token)
}

// Ensure Plugin implements link.Plugin and link.EventHandler.
var (
	_ link.Plugin       = (*Plugin)(nil)
	_ link.EventHandler = (*Plugin)(nil)
)
