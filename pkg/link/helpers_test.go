package link

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/atlink/pkg/frame"
	"github.com/bft-labs/atlink/pkg/log"
)

// recordingHandler captures events for assertions.
type recordingHandler struct {
	mu      sync.Mutex
	frames  []FrameEvent
	changes []ConnectionEvent
	retries []RetryEvent
}

func (h *recordingHandler) OnFrame(e FrameEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, e)
}

func (h *recordingHandler) OnConnectionChange(e ConnectionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, e)
}

func (h *recordingHandler) OnRetry(e RetryEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries = append(h.retries, e)
}

func (h *recordingHandler) frameStrings() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.frames))
	for i, f := range h.frames {
		out[i] = string(f.Frame)
	}
	return out
}

func (h *recordingHandler) connectionEvents() []ConnectionEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ConnectionEvent(nil), h.changes...)
}

func (h *recordingHandler) retryEvents() []RetryEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]RetryEvent(nil), h.retries...)
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestSession(conn net.Conn, cfg SessionConfig) *Session {
	cfg.SetDefaults()
	return newSession(1, conn, cfg, frame.NewDecoder(cfg.Limits), RoleServer, log.NewNoopLogger(), nil)
}

// metricValue sums every sample of the named counter or gauge.
func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	total := 0.0
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return total
}

// recordingPlugin records lifecycle calls into a shared log.
type recordingPlugin struct {
	NopEventHandler
	name    string
	initErr error
	calls   *[]string
	mu      *sync.Mutex
	cfg     PluginConfig
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) Initialize(_ context.Context, cfg PluginConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.calls = append(*p.calls, "init:"+p.name)
	p.cfg = cfg
	return p.initErr
}

func (p *recordingPlugin) Shutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.calls = append(*p.calls, "shutdown:"+p.name)
	return nil
}
