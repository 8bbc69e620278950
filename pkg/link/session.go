package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/atlink/pkg/frame"
	"github.com/bft-labs/atlink/pkg/log"
)

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID          uint64    `json:"id"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	Alive       bool      `json:"alive"`
}

// Session owns one TCP connection: it turns reads into frames and
// serializes writes. A Session is created by a Client or Server.
type Session struct {
	id          uint64
	conn        net.Conn
	remote      string
	connectedAt time.Time
	role        Role

	cfg         SessionConfig
	readTimeout atomic.Int64
	dec         *frame.Decoder
	buf         frame.Buffer

	alive   atomic.Bool
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    atomic.Bool
	reason    atomic.Value // string
	done      chan struct{}

	logger  log.Logger
	metrics *Metrics
}

func newSession(id uint64, conn net.Conn, cfg SessionConfig, dec *frame.Decoder, role Role, logger log.Logger, metrics *Metrics) *Session {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	s := &Session{
		id:          id,
		conn:        conn,
		remote:      remote,
		connectedAt: time.Now(),
		role:        role,
		cfg:         cfg,
		dec:         dec,
		done:        make(chan struct{}),
		logger:      logger.With(log.Session(id), log.String("remote", remote)),
		metrics:     metrics,
	}
	s.readTimeout.Store(int64(cfg.ReadTimeout))
	s.alive.Store(true)
	return s
}

// ID returns the session identifier, unique per Client or Server.
func (s *Session) ID() uint64 { return s.id }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.remote }

// ConnectedAt returns when the session was created.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Alive reports the advisory liveness flag. It is false once the session
// is closed or the liveness monitor declared the peer dead.
func (s *Session) Alive() bool { return s.alive.Load() }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{ID: s.id, Remote: s.remote, ConnectedAt: s.connectedAt, Alive: s.Alive()}
}

// ReadTimeout returns the current per-read timeout.
func (s *Session) ReadTimeout() time.Duration {
	return time.Duration(s.readTimeout.Load())
}

// SetReadTimeout changes the timeout applied from the next read on.
func (s *Session) SetReadTimeout(d time.Duration) {
	if d > 0 {
		s.readTimeout.Store(int64(d))
	}
}

// Receive reads until the connection ends, calling fn once per frame in
// wire order. It returns nil when the peer closes the stream, an error
// wrapping ErrReadTimeout when no bytes arrive within the read timeout,
// ctx.Err() after cancellation, or the read error. Cancelling ctx closes
// the session.
func (s *Session) Receive(ctx context.Context, fn func(frame []byte)) error {
	stop := context.AfterFunc(ctx, func() { s.closeWith("stopped") })
	defer stop()

	scratch := make([]byte, s.cfg.ReadBufferSize)
	for {
		timeout := s.ReadTimeout()
		if timeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
		}

		n, err := s.conn.Read(scratch)
		if n > 0 {
			s.buf.Write(scratch[:n])
			s.drain(fn)
		}
		if err == nil {
			continue
		}

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, os.ErrDeadlineExceeded):
			return fmt.Errorf("%w after %s", ErrReadTimeout, timeout)
		default:
			return fmt.Errorf("read: %w", err)
		}
	}
}

// drain extracts every complete frame buffered so far. Each Drain pass is
// bounded; passes repeat while the previous one hit the iteration limit
// and made progress.
func (s *Session) drain(fn func(frame []byte)) {
	for {
		st := s.buf.Drain(s.dec, s.cfg.MaxDrainIterations, fn)
		s.metrics.framesReceived(s.role, st.Frames)
		if st.ResyncBytes > 0 {
			s.metrics.resyncBytes(s.role, st.ResyncBytes)
			s.logger.Debug("resynchronized stream", log.Int("dropped", st.ResyncBytes))
		}
		if !st.Truncated {
			return
		}
		if st.Frames == 0 && st.ResyncBytes == 0 {
			s.logger.Warn("drain stalled",
				log.Int("iterations", st.Iterations),
				log.Int("buffered", s.buf.Len()))
			return
		}
	}
}

// Send writes p in full. Concurrent calls never interleave. It returns
// ErrNotConnected without blocking once the session is closed.
func (s *Session) Send(p []byte) error {
	if s.closed.Load() {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrNotConnected
	}
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if _, err := s.conn.Write(p); err != nil {
		s.metrics.sendError(s.role)
		if s.closed.Load() {
			return ErrNotConnected
		}
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close closes the connection, which unblocks an in-flight read.
// It is idempotent and safe from any goroutine.
func (s *Session) Close() error {
	return s.closeWith("closed")
}

func (s *Session) closeWith(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.reason.Store(reason)
		s.closed.Store(true)
		s.alive.Store(false)
		err = s.conn.Close()
		close(s.done)
	})
	return err
}

// closeReason returns the reason recorded by the first Close, if any.
func (s *Session) closeReason() string {
	r, _ := s.reason.Load().(string)
	return r
}

// endReason describes why a receive loop ended.
func endReason(s *Session, err error) string {
	if r := s.closeReason(); r != "" {
		return r
	}
	switch {
	case err == nil:
		return "remote closed"
	case errors.Is(err, ErrReadTimeout):
		return "read timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "stopped"
	default:
		return err.Error()
	}
}
