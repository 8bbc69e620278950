package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/atlink/pkg/frame"
	"github.com/bft-labs/atlink/pkg/lifecycle"
	"github.com/bft-labs/atlink/pkg/log"
)

// Server accepts connections and keeps a registry of live sessions. In
// ModeSingle the newest connection evicts every other one before it is
// registered; in ModeMulti connections coexist.
type Server struct {
	cfg     ServerConfig
	opts    options
	logger  log.Logger
	events  *dispatcher
	metrics *Metrics
	dec     *frame.Decoder

	machine     *lifecycle.Machine
	liveness    atomic.Int64
	readTimeout atomic.Int64
	nextID      atomic.Uint64

	mu       sync.Mutex
	ln       net.Listener
	port     int
	closing  bool
	sessions map[uint64]*Session
}

// NewServer creates a server; call Start to listen.
// Returns an error if configuration is invalid.
func NewServer(cfg ServerConfig, opts ...Option) (*Server, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateModuleVersions(); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	logger := o.logger.With(log.String("role", string(RoleServer)))

	s := &Server{
		cfg:      cfg,
		opts:     o,
		logger:   logger,
		events:   newDispatcher(o.eventHandler, o.plugins, logger),
		metrics:  o.metrics(),
		dec:      frame.NewDecoder(cfg.Session.Limits),
		sessions: make(map[uint64]*Session),
	}
	s.machine = lifecycle.NewMachine(lifecycle.ServerTransitions, logger, nil)
	s.liveness.Store(int64(cfg.Liveness.Interval))
	s.readTimeout.Store(int64(cfg.Session.ReadTimeout))
	return s, nil
}

// Start listens on BindHost:port and accepts in the background. Port 0
// picks a free port; see Addr. Calling Start while the server runs is a
// no-op; a different port is ignored with a warning until Stop.
func (s *Server) Start(ctx context.Context, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		if port != s.port {
			s.logger.Warn("already listening; ignoring new port",
				log.String("addr", s.ln.Addr().String()),
				log.Int("requested", port))
		}
		return nil
	}

	if err := s.machine.TransitionTo(lifecycle.StateStarting, "Start() called"); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.BindHost, strconv.Itoa(port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		_ = s.machine.TransitionTo(lifecycle.StateStopped, "listen failed")
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.machine.SetCancel(cancel)

	pluginCfg := PluginConfig{
		Role:     RoleServer,
		Logger:   s.logger,
		Peer:     s,
		Gatherer: s.opts.gatherer(),
	}
	if err := initPlugins(runCtx, s.opts.plugins, pluginCfg, s.logger); err != nil {
		cancel()
		_ = ln.Close()
		_ = s.machine.TransitionTo(lifecycle.StateStopped, "plugin init failed")
		return err
	}

	s.ln = ln
	s.port = port
	s.closing = false

	s.machine.AddWorker()
	go func() {
		defer s.machine.WorkerDone()
		s.acceptLoop(runCtx, ln)
	}()

	_ = s.machine.TransitionTo(lifecycle.StateRunning, "listening")
	s.logger.Info("server listening",
		log.String("addr", ln.Addr().String()),
		log.String("mode", s.cfg.Mode.String()))
	return nil
}

// Addr returns the listen address, or nil when not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and every session, then waits for their
// goroutines. It is idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.ln == nil {
		s.mu.Unlock()
		return nil
	}
	_ = s.machine.TransitionTo(lifecycle.StateStopping, "Stop() called")
	ln := s.ln
	s.ln = nil
	s.closing = true
	open := s.snapshotLocked()
	s.mu.Unlock()

	s.machine.Cancel()
	_ = ln.Close()
	for _, sess := range open {
		_ = sess.closeWith("stopped")
	}

	err := s.machine.WaitWithTimeout(s.opts.shutdownTimeout)
	shutdownPlugins(context.Background(), s.opts.plugins, s.logger)

	s.mu.Lock()
	s.sessions = make(map[uint64]*Session)
	s.closing = false
	s.mu.Unlock()

	_ = s.machine.TransitionTo(lifecycle.StateStopped, "stopped")
	s.logger.Info("server stopped")
	return err
}

// State returns the server lifecycle state.
func (s *Server) State() lifecycle.State {
	return s.machine.State()
}

// SendTo writes p to session id. A session that no longer exists is not an
// error: the peer may have gone between an event and the reply.
func (s *Server) SendTo(id uint64, p []byte) error {
	s.mu.Lock()
	sess := s.sessions[id]
	s.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := sess.Send(p); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Broadcast writes p to every registered session. Failures are logged per
// session and do not stop delivery to the rest. It returns the number of
// sessions that accepted the write.
func (s *Server) Broadcast(p []byte) int {
	s.mu.Lock()
	targets := s.snapshotLocked()
	s.mu.Unlock()

	sent := 0
	for _, sess := range targets {
		if err := sess.Send(p); err != nil {
			sess.logger.Warn("broadcast send failed", log.Err(err))
			continue
		}
		sent++
	}
	return sent
}

// Sessions returns a snapshot of the registered sessions ordered by id.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	targets := s.snapshotLocked()
	s.mu.Unlock()

	out := make([]SessionInfo, len(targets))
	for i, sess := range targets {
		out[i] = sess.Info()
	}
	return out
}

// Reconfigure applies tunables. Read timeouts change on every registered
// session from its next read on. Backoff fields do not apply to servers.
func (s *Server) Reconfigure(t Tunables) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.LivenessInterval > 0 {
		s.liveness.Store(int64(t.LivenessInterval))
	}
	if t.ReadTimeout > 0 {
		s.readTimeout.Store(int64(t.ReadTimeout))
		s.mu.Lock()
		targets := s.snapshotLocked()
		s.mu.Unlock()
		for _, sess := range targets {
			sess.SetReadTimeout(t.ReadTimeout)
		}
	}
	s.logger.Info("server reconfigured",
		log.Duration("read_timeout", t.ReadTimeout),
		log.Duration("liveness_interval", t.LivenessInterval))
	return nil
}

// snapshotLocked returns the registered sessions ordered by id.
// s.mu must be held.
func (s *Server) snapshotLocked() []*Session {
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", log.Err(err))
			if lifecycle.Sleep(ctx, 50*time.Millisecond) != nil {
				return
			}
			continue
		}
		s.admit(ctx, conn)
	}
}

// admit registers conn, evicting prior sessions in single mode, and starts
// its receive goroutine.
func (s *Server) admit(ctx context.Context, conn net.Conn) {
	cfg := s.cfg.Session
	cfg.ReadTimeout = time.Duration(s.readTimeout.Load())
	sess := newSession(s.nextID.Add(1), conn, cfg, s.dec, RoleServer, s.logger, s.metrics)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = sess.Close()
		return
	}
	evicted := 0
	if s.cfg.Mode == ModeSingle {
		for id, old := range s.sessions {
			_ = old.closeWith("evicted")
			delete(s.sessions, id)
			evicted++
		}
	}
	s.sessions[sess.ID()] = sess
	s.machine.AddWorker()
	s.mu.Unlock()

	if evicted > 0 {
		s.metrics.evicted(evicted)
		sess.logger.Info("evicted previous sessions", log.Int("count", evicted))
	}

	go func() {
		defer s.machine.WorkerDone()
		s.serve(ctx, sess)
	}()
}

// serve runs one session's receive loop and performs its single cleanup.
func (s *Server) serve(ctx context.Context, sess *Session) {
	s.metrics.sessionOpened(RoleServer)
	sess.logger.Info("client connected")
	s.events.OnConnectionChange(ConnectionEvent{
		SessionID: sess.ID(),
		Remote:    sess.RemoteAddr(),
		Connected: true,
	})

	var wg sync.WaitGroup
	if s.cfg.Liveness.Enabled {
		m := newLivenessMonitor(sess, &s.liveness, s.cfg.Liveness.Probe, s.metrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.run(ctx)
		}()
	}

	err := sess.Receive(ctx, func(f []byte) {
		s.events.OnFrame(FrameEvent{
			SessionID:  sess.ID(),
			Remote:     sess.RemoteAddr(),
			Frame:      f,
			ReceivedAt: time.Now(),
		})
	})

	reason := endReason(sess, err)
	_ = sess.Close()
	wg.Wait()

	s.mu.Lock()
	if cur, ok := s.sessions[sess.ID()]; ok && cur == sess {
		delete(s.sessions, sess.ID())
	}
	s.mu.Unlock()

	s.metrics.sessionClosed(RoleServer)
	sess.logger.Info("client disconnected", log.String("reason", reason))
	s.events.OnConnectionChange(ConnectionEvent{
		SessionID: sess.ID(),
		Remote:    sess.RemoteAddr(),
		Connected: false,
		Reason:    reason,
	})
}

var _ Peer = (*Server)(nil)
