package link

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/atlink/pkg/log"
)

// Plugin extends a Client or Server. Plugins are initialized in
// registration order when the peer starts and shut down in reverse order
// when it stops. A plugin that also implements EventHandler receives every
// event after the primary handler.
type Plugin interface {
	// Name returns a unique identifier for the plugin.
	Name() string

	// Initialize is called during Start. Returning an error aborts Start.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called during Stop.
	Shutdown(ctx context.Context) error
}

// Peer is the part of a Client or Server that plugins may drive.
type Peer interface {
	// SendTo writes p to one session. Unknown ids are ignored.
	SendTo(id uint64, p []byte) error

	// Broadcast writes p to every session and returns how many accepted it.
	Broadcast(p []byte) int

	// Sessions returns a snapshot of the registered sessions.
	Sessions() []SessionInfo

	// Reconfigure applies runtime tunables.
	Reconfigure(t Tunables) error
}

// PluginConfig is passed to plugins during initialization.
type PluginConfig struct {
	Role   Role
	Logger log.Logger
	Peer   Peer

	// Gatherer exposes the peer's metrics; nil when metrics are disabled.
	Gatherer prometheus.Gatherer
}

// initPlugins initializes plugins in order. On failure the ones already
// initialized are shut down again.
func initPlugins(ctx context.Context, plugins []Plugin, cfg PluginConfig, logger log.Logger) error {
	for i, p := range plugins {
		if err := p.Initialize(ctx, cfg); err != nil {
			logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			shutdownPlugins(context.Background(), plugins[:i], logger)
			return err
		}
		logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}
	return nil
}

// shutdownPlugins shuts plugins down in reverse order, logging failures.
func shutdownPlugins(ctx context.Context, plugins []Plugin, logger log.Logger) {
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(err))
		} else {
			logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}
}
