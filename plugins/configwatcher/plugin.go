// Package configwatcher reloads runtime tunables when the config file
// changes. It watches the file's directory, debounces bursts of writes and
// hands the reloaded tunables to the peer.
package configwatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/atlink/pkg/link"
	"github.com/bft-labs/atlink/pkg/log"
)

// Loader reads the config file at path and returns the tunables it defines.
type Loader func(path string) (link.Tunables, error)

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// Path of the config file to watch. Empty disables the watcher.
	Path string

	// Loader turns the file into tunables. Nil disables the watcher.
	Loader Loader

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
	}
}

// Plugin implements config watching.
type Plugin struct {
	mu sync.Mutex

	path          string
	loader        Loader
	debounceDelay time.Duration

	peer     link.Peer
	logger   log.Logger
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
	reloads  int
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	return &Plugin{
		path:          cfg.Path,
		loader:        cfg.Loader,
		debounceDelay: cfg.DebounceDelay,
		logger:        log.NewNoopLogger(),
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching the config file's directory.
func (p *Plugin) Initialize(ctx context.Context, cfg link.PluginConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	logger = logger.With(log.String("plugin", p.Name()))

	p.mu.Lock()
	p.peer = cfg.Peer
	p.logger = logger
	p.mu.Unlock()

	if p.path == "" || p.loader == nil || cfg.Peer == nil {
		logger.Warn("Config watcher disabled: no config path or loader")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.watcher = watcher
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	logger.Info("Config watcher started", log.String("path", p.path))
	return nil
}

// Shutdown stops the watcher and any pending reload.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel, watcher := p.cancel, p.watcher
	p.cancel, p.watcher = nil, nil
	if p.debounce != nil {
		p.debounce.Stop()
		p.debounce = nil
	}
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := watcher.Close()
	p.wg.Wait()
	return err
}

// Reloads returns how many reloads were applied successfully.
func (p *Plugin) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()

	target := filepath.Clean(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// editors that save via rename show up as Create on the target
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("Config watcher: watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		p.reload()
	})
}

// reload loads the file and applies the tunables. A file that fails to load
// or validate leaves the running settings untouched.
func (p *Plugin) reload() {
	t, err := p.loader(p.path)
	if err != nil {
		p.logger.Error("Config watcher: reload failed", log.String("path", p.path), log.Err(err))
		return
	}
	if err := p.peer.Reconfigure(t); err != nil {
		p.logger.Error("Config watcher: reconfigure rejected", log.Err(err))
		return
	}

	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()

	p.logger.Info("Config watcher: tunables reloaded",
		log.Duration("read_timeout", t.ReadTimeout),
		log.Duration("backoff_min", t.BackoffMin),
		log.Duration("backoff_max", t.BackoffMax),
		log.Duration("liveness_interval", t.LivenessInterval))
}

// Ensure Plugin implements link.Plugin.
var _ link.Plugin = (*Plugin)(nil)
