package link

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/bft-labs/atlink/pkg/log"
)

// peekState is the result of a non-blocking look at a socket.
type peekState int

const (
	peekUnknown peekState = iota
	peekOpen
	peekClosed
)

func (p peekState) String() string {
	switch p {
	case peekOpen:
		return "open"
	case peekClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// livenessMonitor periodically probes one session and closes it when the
// peer is gone. The alive flag it maintains is advisory; the receive loop
// and Send detect disconnects on their own.
type livenessMonitor struct {
	session  *Session
	interval *atomic.Int64
	probe    []byte
	peek     func(net.Conn) peekState
	logger   log.Logger
	metrics  *Metrics
}

func newLivenessMonitor(s *Session, interval *atomic.Int64, probe []byte, metrics *Metrics) *livenessMonitor {
	return &livenessMonitor{
		session:  s,
		interval: interval,
		probe:    probe,
		peek:     peekConn,
		logger:   s.logger,
		metrics:  metrics,
	}
}

// run ticks until ctx ends, the session closes or a check fails.
func (m *livenessMonitor) run(ctx context.Context) {
	for {
		t := time.NewTimer(time.Duration(m.interval.Load()))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-m.session.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if !m.check() {
			return
		}
	}
}

// check sends the probe and peeks the socket. It reports whether the
// session is still usable.
func (m *livenessMonitor) check() bool {
	if err := m.session.Send(m.probe); err != nil {
		m.fail("probe send failed", log.Err(err))
		return false
	}
	if st := m.peek(m.session.conn); st == peekClosed {
		m.fail("peer half-closed")
		return false
	}
	m.session.alive.Store(true)
	return true
}

func (m *livenessMonitor) fail(reason string, fields ...log.Field) {
	m.session.alive.Store(false)
	m.metrics.livenessFailure(m.session.role)
	m.logger.Warn("liveness check failed, closing session",
		append(fields, log.String("reason", reason))...)
	_ = m.session.closeWith("liveness: " + reason)
}
