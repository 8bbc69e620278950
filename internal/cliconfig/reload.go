package cliconfig

import (
	"fmt"

	"github.com/bft-labs/atlink/pkg/link"
)

// Reloader re-reads a config file and derives tunables from it. Values set
// by flags keep winning over the file, as they did at startup.
type Reloader struct {
	base    Config
	changed map[string]bool
}

// NewReloader captures the startup configuration and changed flags.
func NewReloader(base Config, changed map[string]bool) *Reloader {
	cp := make(map[string]bool, len(changed))
	for k, v := range changed {
		cp[k] = v
	}
	return &Reloader{base: base, changed: cp}
}

// Load reads path and returns the resulting tunables.
func (r *Reloader) Load(path string) (link.Tunables, error) {
	fc, err := LoadFileConfig(path)
	if err != nil {
		return link.Tunables{}, fmt.Errorf("load config: %w", err)
	}
	cfg := r.base
	if err := ApplyFileConfig(&cfg, fc, r.changed); err != nil {
		return link.Tunables{}, err
	}
	if err := ApplyEnvConfig(&cfg, r.changed); err != nil {
		return link.Tunables{}, err
	}
	if err := cfg.Validate(); err != nil {
		return link.Tunables{}, err
	}
	return cfg.Tunables(), nil
}
