package link

import (
	"context"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/atlink/pkg/lifecycle"
	"github.com/bft-labs/atlink/pkg/log"
)

// Dialer opens client connections. *net.Dialer satisfies this interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option configures optional behavior of a Client or Server.
type Option func(*options)

// options holds the optional configuration shared by Client and Server.
type options struct {
	logger          log.Logger
	eventHandler    EventHandler
	plugins         []Plugin
	registry        *prometheus.Registry
	dialer          Dialer
	shutdownTimeout time.Duration
}

func defaultOptions() options {
	return options{
		logger:          log.NewNoopLogger(),
		dialer:          &net.Dialer{},
		shutdownTimeout: lifecycle.ShutdownTimeout,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNoopLogger()
	}
	return o
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets the primary handler for link events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized on Start.
// Plugins are initialized in registration order and shutdown in reverse order.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithRegistry enables metrics on reg. The registry is also handed to
// plugins as their Gatherer.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithDialer replaces the client dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithShutdownTimeout bounds how long Stop waits for goroutines.
// Default: 30 seconds
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

func (o options) metrics() *Metrics {
	if o.registry == nil {
		return nil
	}
	return NewMetrics(o.registry)
}

func (o options) gatherer() prometheus.Gatherer {
	if o.registry == nil {
		return nil
	}
	return o.registry
}
