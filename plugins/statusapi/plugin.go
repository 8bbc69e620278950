// Package statusapi serves a small HTTP surface for a link peer: health,
// the session table, Prometheus metrics and a send endpoint.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/atlink/pkg/link"
	"github.com/bft-labs/atlink/pkg/log"
)

// Config holds configuration options for the status API.
type Config struct {
	// Addr to listen on, e.g. 127.0.0.1:9100. Empty disables the API.
	Addr string

	// ShutdownTimeout bounds graceful shutdown. Default: 5 seconds
	ShutdownTimeout time.Duration
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Role     string `json:"role"`
	Sessions int    `json:"sessions"`
}

// SendRequest is accepted by POST /send. SessionID 0 broadcasts.
type SendRequest struct {
	SessionID uint64 `json:"session_id"`
	Data      string `json:"data"`
}

// SendResponse reports how many sessions accepted a send.
type SendResponse struct {
	Delivered int `json:"delivered"`
}

// Plugin serves the status API.
type Plugin struct {
	cfg Config

	mu     sync.Mutex
	role   link.Role
	peer   link.Peer
	srv    *http.Server
	ln     net.Listener
	logger log.Logger
	done   chan struct{}
}

// New creates a status API plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Plugin{cfg: cfg, logger: log.NewNoopLogger()}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "statusapi"
}

// Initialize binds the listener and starts serving.
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

	if p.cfg.Addr == "" {
		logger.Warn("status API disabled: no address configured")
		return nil
	}

	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", p.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           p.handler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})

	p.mu.Lock()
	p.srv, p.ln, p.done = srv, ln, done
	p.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status API stopped", log.Err(err))
		}
	}()

	logger.Info("status API listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	srv, done := p.srv, p.done
	p.srv, p.ln, p.done = nil, nil, nil
	p.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	<-done
	return err
}

// Addr returns the bound address, or nil when not serving.
func (p *Plugin) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return nil
	}
	return p.ln.Addr()
}

// Handler returns the router for the given plugin configuration.
func Handler(cfg link.PluginConfig) http.Handler {
	p := New(Config{})
	p.role, p.peer = cfg.Role, cfg.Peer
	if cfg.Logger != nil {
		p.logger = cfg.Logger
	}
	return p.handler(cfg)
}

func (p *Plugin) handler(cfg link.PluginConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", p.health)
	r.Get("/sessions", p.sessions)
	r.Post("/send", p.send)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (p *Plugin) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Role: string(p.role)}
	if p.peer != nil {
		resp.Sessions = len(p.peer.Sessions())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *Plugin) sessions(w http.ResponseWriter, r *http.Request) {
	out := []link.SessionInfo{}
	if p.peer != nil {
		out = append(out, p.peer.Sessions()...)
	}
	writeJSON(w, http.StatusOK, out)
}

func (p *Plugin) send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Data == "" {
		http.Error(w, "data is required", http.StatusBadRequest)
		return
	}
	if p.peer == nil {
		http.Error(w, "not running", http.StatusServiceUnavailable)
		return
	}

	data := req.Data
	if !strings.HasSuffix(data, "\r\n") {
		data += "\r\n"
	}

	if req.SessionID == 0 {
		writeJSON(w, http.StatusOK, SendResponse{Delivered: p.peer.Broadcast([]byte(data))})
		return
	}
	if !p.hasSession(req.SessionID) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if err := p.peer.SendTo(req.SessionID, []byte(data)); err != nil {
		p.logger.Warn("send failed", log.Session(req.SessionID), log.Err(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, SendResponse{Delivered: 1})
}

func (p *Plugin) hasSession(id uint64) bool {
	for _, s := range p.peer.Sessions() {
		if s.ID == id {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Ensure Plugin implements link.Plugin.
var _ link.Plugin = (*Plugin)(nil)
