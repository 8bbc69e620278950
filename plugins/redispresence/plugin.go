// Package redispresence records live sessions in Redis so other services can
// see which remotes are attached to which node.
//
// Each session owns the key <prefix>:sess:<node>:<id> holding
// "<role>:<remote>". Keys carry a TTL that is refreshed while the session
// lives and are deleted when it ends or the plugin shuts down.
package redispresence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bft-labs/atlink/pkg/link"
	"github.com/bft-labs/atlink/pkg/log"
)

// store is the subset of *redis.Client used by the plugin.
type store interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Config holds configuration options for the presence plugin.
type Config struct {
	// URL of the Redis server, e.g. redis://localhost:6379/0. Empty disables the plugin.
	URL string

	// Prefix for every key. Default: "atlink"
	Prefix string

	// Node identifies this process in keys. Default: "atlink"
	Node string

	// TTL of each key. Keys are refreshed every TTL/2. Default: 30 seconds
	TTL time.Duration

	// OpTimeout bounds each Redis call. Default: 2 seconds
	OpTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:    "atlink",
		Node:      "atlink",
		TTL:       30 * time.Second,
		OpTimeout: 2 * time.Second,
	}
}

// Plugin publishes session presence to Redis.
type Plugin struct {
	link.NopEventHandler

	cfg  Config
	dial func(url string) (store, error)

	mu     sync.Mutex
	rdb    store
	role   link.Role
	keys   map[uint64]entry
	logger log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type entry struct {
	key   string
	value string
}

// New creates a presence plugin with the given configuration.
func New(cfg Config) *Plugin {
	def := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.Node == "" {
		cfg.Node = def.Node
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	return &Plugin{
		cfg:    cfg,
		dial:   dialRedis,
		keys:   make(map[uint64]entry),
		logger: log.NewNoopLogger(),
	}
}

func dialRedis(url string) (store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "redispresence"
}

// Initialize connects to Redis and starts the refresh loop.
func (p *Plugin) Initialize(ctx context.Context, cfg link.PluginConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	logger = logger.With(log.String("plugin", p.Name()))

	p.mu.Lock()
	p.role = cfg.Role
	p.logger = logger
	p.mu.Unlock()

	if p.cfg.URL == "" {
		logger.Warn("Redis presence disabled: no url configured")
		return nil
	}

	rdb, err := p.dial(p.cfg.URL)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.OpTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("ping redis: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	p.mu.Lock()
	p.rdb = rdb
	p.cancel = stop
	p.mu.Unlock()

	p.wg.Add(1)
	go p.refreshLoop(runCtx)

	logger.Info("Redis presence enabled",
		log.String("node", p.cfg.Node),
		log.Duration("ttl", p.cfg.TTL))
	return nil
}

// Shutdown stops refreshing, removes every key this plugin owns and closes
// the client.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	rdb, cancel := p.rdb, p.cancel
	p.rdb, p.cancel = nil, nil
	keys := make([]string, 0, len(p.keys))
	for _, e := range p.keys {
		keys = append(keys, e.key)
	}
	p.keys = make(map[uint64]entry)
	p.mu.Unlock()

	if rdb == nil {
		return nil
	}
	cancel()
	p.wg.Wait()

	var firstErr error
	if len(keys) > 0 {
		sort.Strings(keys)
		opCtx, done := context.WithTimeout(ctx, p.cfg.OpTimeout)
		firstErr = rdb.Del(opCtx, keys...).Err()
		done()
	}
	if err := rdb.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// OnConnectionChange writes or deletes the session key.
func (p *Plugin) OnConnectionChange(e link.ConnectionEvent) {
	p.mu.Lock()
	rdb, logger := p.rdb, p.logger
	if rdb == nil {
		p.mu.Unlock()
		return
	}
	var ent entry
	if e.Connected {
		ent = entry{key: p.key(e.SessionID), value: string(p.role) + ":" + e.Remote}
		p.keys[e.SessionID] = ent
	} else {
		var ok bool
		if ent, ok = p.keys[e.SessionID]; !ok {
			p.mu.Unlock()
			return
		}
		delete(p.keys, e.SessionID)
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.OpTimeout)
	defer cancel()

	if e.Connected {
		if err := rdb.Set(ctx, ent.key, ent.value, p.cfg.TTL).Err(); err != nil {
			logger.Warn("presence set failed", log.String("key", ent.key), log.Err(err))
		}
		return
	}
	if err := rdb.Del(ctx, ent.key).Err(); err != nil {
		logger.Warn("presence delete failed", log.String("key", ent.key), log.Err(err))
	}
}

func (p *Plugin) refreshLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.TTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

// refresh extends every owned key, rewriting any that expired meanwhile.
func (p *Plugin) refresh(ctx context.Context) {
	p.mu.Lock()
	rdb, logger := p.rdb, p.logger
	entries := make([]entry, 0, len(p.keys))
	for _, e := range p.keys {
		entries = append(entries, e)
	}
	p.mu.Unlock()
	if rdb == nil {
		return
	}

	for _, e := range entries {
		opCtx, cancel := context.WithTimeout(ctx, p.cfg.OpTimeout)
		ok, err := rdb.Expire(opCtx, e.key, p.cfg.TTL).Result()
		if err == nil && !ok {
			err = rdb.Set(opCtx, e.key, e.value, p.cfg.TTL).Err()
		}
		cancel()
		if err != nil {
			logger.Warn("presence refresh failed", log.String("key", e.key), log.Err(err))
		}
	}
}

func (p *Plugin) key(id uint64) string {
	return fmt.Sprintf("%s:sess:%s:%d", p.cfg.Prefix, p.cfg.Node, id)
}

// Ensure Plugin implements link.Plugin and link.EventHandler.
var (
	_ link.Plugin       = (*Plugin)(nil)
	_ link.EventHandler = (*Plugin)(nil)
)
