package link

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func newTestMonitor(s *Session, peek func(net.Conn) peekState) *livenessMonitor {
	var interval atomic.Int64
	interval.Store(int64(10 * time.Millisecond))
	m := newLivenessMonitor(s, &interval, DefaultProbe, nil)
	m.peek = peek
	return m
}

func TestLivenessMonitor_Healthy(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	go io.Copy(io.Discard, remote)
	s := newTestSession(local, SessionConfig{})
	defer s.Close()

	m := newTestMonitor(s, func(net.Conn) peekState { return peekOpen })
	if !m.check() {
		t.Fatal("check() = false for healthy peer")
	}
	if !s.Alive() {
		t.Error("Alive() = false")
	}
}

func TestLivenessMonitor_HalfClosedPeer(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	go io.Copy(io.Discard, remote)
	s := newTestSession(local, SessionConfig{})

	m := newTestMonitor(s, func(net.Conn) peekState { return peekClosed })
	if m.check() {
		t.Fatal("check() = true for half-closed peer")
	}
	if s.Alive() {
		t.Error("Alive() = true")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("session not closed")
	}
	if r := s.closeReason(); r != "liveness: peer half-closed" {
		t.Errorf("closeReason = %q", r)
	}
}

func TestLivenessMonitor_ProbeSendFails(t *testing.T) {
	local, remote := net.Pipe()
	remote.Close()
	s := newTestSession(local, SessionConfig{})

	m := newTestMonitor(s, func(net.Conn) peekState {
		t.Error("peek called after failed probe")
		return peekUnknown
	})
	if m.check() {
		t.Fatal("check() = true after failed probe")
	}
	if s.Alive() {
		t.Error("Alive() = true")
	}
}

func TestLivenessMonitor_UnknownPeekKeepsSession(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	go io.Copy(io.Discard, remote)
	s := newTestSession(local, SessionConfig{})
	defer s.Close()

	m := newTestMonitor(s, func(net.Conn) peekState { return peekUnknown })
	if !m.check() || !s.Alive() {
		t.Error("unknown peek result closed the session")
	}
}

func TestLivenessMonitor_RunStopsWithSession(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	go io.Copy(io.Discard, remote)
	s := newTestSession(local, SessionConfig{})

	var checks atomic.Int32
	m := newTestMonitor(s, func(net.Conn) peekState {
		if checks.Add(1) == 3 {
			return peekClosed
		}
		return peekOpen
	})

	done := make(chan struct{})
	go func() {
		m.run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	if checks.Load() != 3 {
		t.Errorf("checks = %d, want 3", checks.Load())
	}
}

func TestServer_LivenessProbes(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.BindHost = "127.0.0.1"
	cfg.Liveness = LivenessConfig{Enabled: true, Interval: 20 * time.Millisecond}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := s.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn := dial(t, s)
	if got := readLine(t, conn); got != "HB\r\n" {
		t.Errorf("probe = %q, want HB\\r\\n", got)
	}
}

func TestPeekState_String(t *testing.T) {
	for st, want := range map[peekState]string{peekOpen: "open", peekClosed: "closed", peekUnknown: "unknown"} {
		if st.String() != want {
			t.Errorf("%d.String() = %s", st, st.String())
		}
	}
}
