package link

import (
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/atlink/pkg/frame"
	"github.com/bft-labs/atlink/pkg/lifecycle"
)

// Default values for session, backoff and liveness settings.
const (
	DefaultReadTimeout      = 30 * time.Second
	DefaultReadBufferSize   = 8192
	DefaultLivenessInterval = 5 * time.Second
	DefaultBindHost         = "0.0.0.0"
)

// DefaultProbe is the liveness probe line. Peers treat it as an opaque
// text frame.
var DefaultProbe = []byte("HB\r\n")

// Mode selects how a server treats concurrent connections.
type Mode int

const (
	// ModeSingle keeps only the newest connection; accepting one evicts
	// every registered session.
	ModeSingle Mode = iota
	// ModeMulti keeps every connection.
	ModeMulti
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeMulti:
		return "multi"
	default:
		return "unknown"
	}
}

// ParseMode parses "single" or "multi".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single":
		return ModeSingle, nil
	case "multi":
		return ModeMulti, nil
	default:
		return ModeSingle, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
	}
}

// SessionConfig controls a single connection's read loop and writes.
type SessionConfig struct {
	// ReadTimeout bounds each read. Default: 30 seconds
	ReadTimeout time.Duration

	// WriteTimeout bounds each write; zero means no deadline.
	WriteTimeout time.Duration

	// ReadBufferSize is the scratch buffer size per read. Default: 8192
	ReadBufferSize int

	// MaxDrainIterations caps decoder calls per read. Default: 1000
	MaxDrainIterations int

	// Limits bounds unterminated lines and binary payloads.
	Limits frame.Limits
}

// DefaultSessionConfig returns a SessionConfig with defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ReadTimeout:        DefaultReadTimeout,
		ReadBufferSize:     DefaultReadBufferSize,
		MaxDrainIterations: frame.DefaultMaxIterations,
		Limits:             frame.DefaultLimits(),
	}
}

// SetDefaults fills zero values.
func (c *SessionConfig) SetDefaults() {
	d := DefaultSessionConfig()
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.MaxDrainIterations == 0 {
		c.MaxDrainIterations = d.MaxDrainIterations
	}
	if c.Limits.MaxLineBytes == 0 {
		c.Limits.MaxLineBytes = d.Limits.MaxLineBytes
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits.MaxPayloadBytes = d.Limits.MaxPayloadBytes
	}
}

// Validate checks the session configuration.
func (c SessionConfig) Validate() error {
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: read timeout must not be negative", ErrInvalidConfig)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: write timeout must not be negative", ErrInvalidConfig)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("%w: read buffer size must be positive", ErrInvalidConfig)
	}
	if c.MaxDrainIterations <= 0 {
		return fmt.Errorf("%w: max drain iterations must be positive", ErrInvalidConfig)
	}
	return nil
}

// BackoffConfig bounds the reconnect delay.
type BackoffConfig struct {
	Min time.Duration
	Max time.Duration
}

// DefaultBackoffConfig returns the 1s floor and 10s ceiling.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{Min: lifecycle.DefaultBackoffMin, Max: lifecycle.DefaultBackoffMax}
}

// Validate checks the backoff bounds.
func (c BackoffConfig) Validate() error {
	if c.Min <= 0 {
		return fmt.Errorf("%w: backoff floor must be positive", ErrInvalidConfig)
	}
	if c.Max < c.Min {
		return fmt.Errorf("%w: backoff ceiling %s below floor %s", ErrInvalidConfig, c.Max, c.Min)
	}
	return nil
}

// LivenessConfig controls the optional per-session probe.
type LivenessConfig struct {
	Enabled  bool
	Interval time.Duration
	Probe    []byte
}

// DefaultLivenessConfig returns a disabled monitor with a 5s interval.
func DefaultLivenessConfig() LivenessConfig {
	return LivenessConfig{Interval: DefaultLivenessInterval, Probe: DefaultProbe}
}

func (c *LivenessConfig) setDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultLivenessInterval
	}
	if len(c.Probe) == 0 {
		c.Probe = DefaultProbe
	}
}

// Validate checks the liveness configuration.
func (c LivenessConfig) Validate() error {
	if c.Enabled && c.Interval <= 0 {
		return fmt.Errorf("%w: liveness interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// ClientConfig configures a reconnecting client.
type ClientConfig struct {
	Session  SessionConfig
	Backoff  BackoffConfig
	Liveness LivenessConfig
}

// DefaultClientConfig returns a ClientConfig with defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Session:  DefaultSessionConfig(),
		Backoff:  DefaultBackoffConfig(),
		Liveness: DefaultLivenessConfig(),
	}
}

// SetDefaults fills zero values.
func (c *ClientConfig) SetDefaults() {
	c.Session.SetDefaults()
	if c.Backoff.Min == 0 {
		c.Backoff.Min = lifecycle.DefaultBackoffMin
	}
	if c.Backoff.Max == 0 {
		c.Backoff.Max = lifecycle.DefaultBackoffMax
	}
	c.Liveness.setDefaults()
}

// Validate checks the client configuration.
func (c ClientConfig) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Backoff.Validate(); err != nil {
		return err
	}
	return c.Liveness.Validate()
}

// ServerConfig configures a listening server.
type ServerConfig struct {
	// BindHost is the listen address. Default: 0.0.0.0
	BindHost string
	Mode     Mode
	Session  SessionConfig
	Liveness LivenessConfig
}

// DefaultServerConfig returns a single-client ServerConfig with defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		BindHost: DefaultBindHost,
		Mode:     ModeSingle,
		Session:  DefaultSessionConfig(),
		Liveness: DefaultLivenessConfig(),
	}
}

// SetDefaults fills zero values.
func (c *ServerConfig) SetDefaults() {
	if c.BindHost == "" {
		c.BindHost = DefaultBindHost
	}
	c.Session.SetDefaults()
	c.Liveness.setDefaults()
}

// Validate checks the server configuration.
func (c ServerConfig) Validate() error {
	if c.Mode != ModeSingle && c.Mode != ModeMulti {
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidConfig, c.Mode)
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	return c.Liveness.Validate()
}

// Tunables are settings that can change while a peer runs. Zero fields
// keep the current value. They take effect on the next read, backoff step
// or probe.
type Tunables struct {
	ReadTimeout      time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	LivenessInterval time.Duration
}

// Validate checks the tunables.
func (t Tunables) Validate() error {
	if t.ReadTimeout < 0 || t.BackoffMin < 0 || t.BackoffMax < 0 || t.LivenessInterval < 0 {
		return fmt.Errorf("%w: tunables must not be negative", ErrInvalidConfig)
	}
	if t.BackoffMin > 0 && t.BackoffMax > 0 && t.BackoffMax < t.BackoffMin {
		return fmt.Errorf("%w: backoff ceiling %s below floor %s", ErrInvalidConfig, t.BackoffMax, t.BackoffMin)
	}
	return nil
}
