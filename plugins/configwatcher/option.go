package configwatcher

import "github.com/bft-labs/atlink/pkg/link"

// WithConfigWatcher returns a link Option that reloads tunables from the
// config file whenever it changes.
//
// Usage:
//
//	c, err := link.NewClient(cfg,
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        Path:   "/etc/atlink/config.toml",
//	        Loader: reloader.Load,
//	    }),
//	)
func WithConfigWatcher(cfg Config) link.Option {
	return link.WithPlugin(New(cfg))
}

// WithDefaultConfigWatcher returns a link Option that watches path with the
// default debounce delay.
func WithDefaultConfigWatcher(path string, loader Loader) link.Option {
	cfg := DefaultConfig()
	cfg.Path = path
	cfg.Loader = loader
	return WithConfigWatcher(cfg)
}
