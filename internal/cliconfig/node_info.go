package cliconfig

import "os"

// ResolveNodeName sets cfg.NodeName from the hostname when it is empty.
// The name keys presence records shared by several atlink processes.
func ResolveNodeName(cfg *Config) {
	if cfg.NodeName != "" {
		return
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		cfg.NodeName = h
		return
	}
	cfg.NodeName = "atlink"
}
