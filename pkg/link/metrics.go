package link

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "atlink"

// Metrics holds the link collectors. A nil *Metrics records nothing.
type Metrics struct {
	frames           *prometheus.CounterVec
	resync           *prometheus.CounterVec
	sessionsActive   *prometheus.GaugeVec
	sessionsEvicted  prometheus.Counter
	reconnects       prometheus.Counter
	sendErrors       *prometheus.CounterVec
	livenessFailures *prometheus.CounterVec
}

// NewMetrics registers the link collectors with reg. Collectors already
// registered by another client or server are reused, so peers may share a
// registry. It returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	return &Metrics{
		frames: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Frames extracted from the byte stream.",
		}, []string{"role"})),
		resync: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "resync_bytes_total",
			Help:      "Bytes dropped to resynchronize after malformed headers.",
		}, []string{"role"})),
		sessionsActive: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Currently registered sessions.",
		}, []string{"role"})),
		sessionsEvicted: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions closed by single-client eviction.",
		})),
		reconnects: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnect_attempts_total",
			Help:      "Client reconnect attempts scheduled.",
		})),
		sendErrors: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "send_errors_total",
			Help:      "Failed session writes.",
		}, []string{"role"})),
		livenessFailures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "liveness_failures_total",
			Help:      "Sessions closed by the liveness monitor.",
		}, []string{"role"})),
	}
}

// register adds c to reg, or returns the equivalent collector registered
// earlier. Any other registration error is a programming error and panics.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}

func (m *Metrics) framesReceived(role Role, n int) {
	if m == nil || n == 0 {
		return
	}
	m.frames.WithLabelValues(string(role)).Add(float64(n))
}

func (m *Metrics) resyncBytes(role Role, n int) {
	if m == nil || n == 0 {
		return
	}
	m.resync.WithLabelValues(string(role)).Add(float64(n))
}

func (m *Metrics) sessionOpened(role Role) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) sessionClosed(role Role) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(string(role)).Dec()
}

func (m *Metrics) evicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.sessionsEvicted.Add(float64(n))
}

func (m *Metrics) reconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) sendError(role Role) {
	if m == nil {
		return
	}
	m.sendErrors.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) livenessFailure(role Role) {
	if m == nil {
		return
	}
	m.livenessFailures.WithLabelValues(string(role)).Inc()
}
