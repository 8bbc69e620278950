package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/atlink/pkg/frame"
	"github.com/bft-labs/atlink/pkg/lifecycle"
	"github.com/bft-labs/atlink/pkg/log"
)

// Client keeps one connection to a server alive. It connects, delivers
// frames until the session ends, backs off and reconnects until stopped.
// At most one session exists at a time and it is fully closed before the
// next dial.
type Client struct {
	cfg     ClientConfig
	opts    options
	logger  log.Logger
	events  *dispatcher
	metrics *Metrics
	dec     *frame.Decoder

	machine  *lifecycle.Machine
	backoff  *lifecycle.Backoff
	liveness atomic.Int64
	nextID   atomic.Uint64

	mu          sync.Mutex
	running     bool
	addr        string
	readTimeout time.Duration
	session     *Session
}

// NewClient creates a client in the Idle state; call Start to connect.
// Returns an error if configuration is invalid.
func NewClient(cfg ClientConfig, opts ...Option) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateModuleVersions(); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	logger := o.logger.With(log.String("role", string(RoleClient)))

	c := &Client{
		cfg:         cfg,
		opts:        o,
		logger:      logger,
		events:      newDispatcher(o.eventHandler, o.plugins, logger),
		metrics:     o.metrics(),
		dec:         frame.NewDecoder(cfg.Session.Limits),
		backoff:     lifecycle.NewBackoff(cfg.Backoff.Min, cfg.Backoff.Max),
		readTimeout: cfg.Session.ReadTimeout,
	}
	c.machine = lifecycle.NewMachine(lifecycle.ClientTransitions, logger, nil)
	c.liveness.Store(int64(cfg.Liveness.Interval))
	return c, nil
}

// Start launches the reconnect loop against host:port and returns
// immediately. Calling Start while the client runs is a no-op; a different
// target is ignored with a warning until Stop. The loop ends when
// Stop is called or ctx is cancelled; after a cancellation call Stop before
// starting again.
func (c *Client) Start(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		if addr != c.addr {
			c.logger.Warn("already running; ignoring new target",
				log.String("target", c.addr),
				log.String("requested", addr))
		}
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.machine.SetCancel(cancel)

	pluginCfg := PluginConfig{
		Role:     RoleClient,
		Logger:   c.logger,
		Peer:     c,
		Gatherer: c.opts.gatherer(),
	}
	if err := initPlugins(runCtx, c.opts.plugins, pluginCfg, c.logger); err != nil {
		cancel()
		return err
	}

	c.running = true
	c.addr = addr
	c.backoff.Reset()

	c.machine.AddWorker()
	go func() {
		defer c.machine.WorkerDone()
		c.run(runCtx, addr)
	}()

	c.logger.Info("client started", log.String("addr", addr))
	return nil
}

// Stop cancels the loop, closes the current session immediately and waits
// for the loop to exit. It is safe to call before Start and more than once.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	s := c.session
	c.mu.Unlock()

	c.machine.Cancel()
	if s != nil {
		_ = s.closeWith("stopped")
	}

	err := c.machine.WaitWithTimeout(c.opts.shutdownTimeout)
	shutdownPlugins(context.Background(), c.opts.plugins, c.logger)

	c.logger.Info("client stopped")
	return err
}

// Send writes p to the current session. It returns ErrNotConnected when
// no session is live; nothing is queued.
func (c *Client) Send(p []byte) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return ErrNotConnected
	}
	return s.Send(p)
}

// SendTo writes p when id names the current session; other ids are ignored.
func (c *Client) SendTo(id uint64, p []byte) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil || s.ID() != id {
		return nil
	}
	if err := s.Send(p); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Broadcast writes p to the current session, if any.
func (c *Client) Broadcast(p []byte) int {
	if err := c.Send(p); err != nil {
		if !errors.Is(err, ErrNotConnected) {
			c.logger.Warn("broadcast failed", log.Err(err))
		}
		return 0
	}
	return 1
}

// Sessions returns the current session, if any.
func (c *Client) Sessions() []SessionInfo {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return []SessionInfo{}
	}
	return []SessionInfo{s.Info()}
}

// Connected reports whether a session is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// State returns the supervisor state.
func (c *Client) State() lifecycle.State {
	return c.machine.State()
}

// Await blocks until a session is live or ctx ends.
func (c *Client) Await(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		c.mu.Lock()
		running, connected := c.running, c.session != nil
		c.mu.Unlock()

		if connected {
			return nil
		}
		if !running {
			return ErrNotRunning
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Reconfigure applies tunables. Backoff bounds apply to the next delay,
// read timeout to the next read and liveness interval to the next probe.
func (c *Client) Reconfigure(t Tunables) error {
	if err := t.Validate(); err != nil {
		return err
	}

	if t.BackoffMin > 0 || t.BackoffMax > 0 {
		min, max := c.backoff.Bounds()
		if t.BackoffMin > 0 {
			min = t.BackoffMin
		}
		if t.BackoffMax > 0 {
			max = t.BackoffMax
		}
		if max < min {
			return fmt.Errorf("%w: backoff ceiling %s below floor %s", ErrInvalidConfig, max, min)
		}
		c.backoff.SetBounds(min, max)
	}
	if t.LivenessInterval > 0 {
		c.liveness.Store(int64(t.LivenessInterval))
	}
	if t.ReadTimeout > 0 {
		c.mu.Lock()
		c.readTimeout = t.ReadTimeout
		s := c.session
		c.mu.Unlock()
		if s != nil {
			s.SetReadTimeout(t.ReadTimeout)
		}
	}

	c.logger.Info("client reconfigured",
		log.Duration("read_timeout", t.ReadTimeout),
		log.Duration("backoff_min", t.BackoffMin),
		log.Duration("backoff_max", t.BackoffMax),
		log.Duration("liveness_interval", t.LivenessInterval))
	return nil
}

// run is the supervisor loop. Only ctx cancellation ends it.
func (c *Client) run(ctx context.Context, addr string) {
	defer func() {
		_ = c.machine.TransitionTo(lifecycle.StateStopped, "loop exited")
	}()

	for ctx.Err() == nil {
		_ = c.machine.TransitionTo(lifecycle.StateConnecting, addr)

		conn, err := c.opts.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("connect failed", log.String("addr", addr), log.Err(err))
			c.wait(ctx, fmt.Errorf("connect: %w", err))
			continue
		}

		c.backoff.Reset()
		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.wait(ctx, err)
	}
}

// wait moves to Backoff and sleeps the next delay.
func (c *Client) wait(ctx context.Context, cause error) {
	_ = c.machine.TransitionTo(lifecycle.StateBackoff, "retry")

	delay := c.backoff.Next()
	attempt := c.backoff.Attempt()
	c.metrics.reconnectAttempt()
	c.events.OnRetry(RetryEvent{Attempt: attempt, Delay: delay, Err: cause})
	c.logger.Info("reconnecting",
		log.Int("attempt", attempt),
		log.Duration("delay", delay))

	_ = lifecycle.Sleep(ctx, delay)
}

// serve runs one session to completion and always tears it down.
func (c *Client) serve(ctx context.Context, conn net.Conn) error {
	c.mu.Lock()
	cfg := c.cfg.Session
	cfg.ReadTimeout = c.readTimeout
	s := newSession(c.nextID.Add(1), conn, cfg, c.dec, RoleClient, c.logger, c.metrics)
	c.session = s
	c.mu.Unlock()

	_ = c.machine.TransitionTo(lifecycle.StateConnected, s.RemoteAddr())
	c.metrics.sessionOpened(RoleClient)
	s.logger.Info("connected")
	c.events.OnConnectionChange(ConnectionEvent{
		SessionID: s.ID(),
		Remote:    s.RemoteAddr(),
		Connected: true,
	})

	var wg sync.WaitGroup
	if c.cfg.Liveness.Enabled {
		m := newLivenessMonitor(s, &c.liveness, c.cfg.Liveness.Probe, c.metrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.run(ctx)
		}()
	}

	err := s.Receive(ctx, func(f []byte) {
		c.events.OnFrame(FrameEvent{
			SessionID:  s.ID(),
			Remote:     s.RemoteAddr(),
			Frame:      f,
			ReceivedAt: time.Now(),
		})
	})

	_ = c.machine.TransitionTo(lifecycle.StateEnding, "session ended")
	reason := endReason(s, err)
	_ = s.Close()
	wg.Wait()

	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()

	c.metrics.sessionClosed(RoleClient)
	s.logger.Info("disconnected", log.String("reason", reason))
	c.events.OnConnectionChange(ConnectionEvent{
		SessionID: s.ID(),
		Remote:    s.RemoteAddr(),
		Connected: false,
		Reason:    reason,
	})
	return err
}

var _ Peer = (*Client)(nil)
