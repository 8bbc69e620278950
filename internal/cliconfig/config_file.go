package cliconfig

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Port             int    `toml:"port"`
	Bind             string `toml:"bind"`
	Multi            *bool  `toml:"multi"`
	Host             string `toml:"host"`
	ReadTimeout      string `toml:"read_timeout"`
	WriteTimeout     string `toml:"write_timeout"`
	ReadBufferSize   int    `toml:"read_buffer_size"`
	BackoffMin       string `toml:"backoff_min"`
	BackoffMax       string `toml:"backoff_max"`
	Liveness         *bool  `toml:"liveness"`
	LivenessInterval string `toml:"liveness_interval"`
	LivenessProbe    string `toml:"liveness_probe"`
	LogLevel         string `toml:"log_level"`
	NodeName         string `toml:"node_name"`
	StatusAddr       string `toml:"status_addr"`
	NATSURL          string `toml:"nats_url"`
	NATSPrefix       string `toml:"nats_prefix"`
	RedisURL         string `toml:"redis_url"`
	RedisPrefix      string `toml:"redis_prefix"`
	RedisTTL         string `toml:"redis_ttl"`
	WatchConfig      *bool  `toml:"watch_config"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.atlink/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".atlink", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setInt("port", fc.Port, &cfg.Port)
	s.setString("bind", fc.Bind, &cfg.Bind)
	s.setString("host", fc.Host, &cfg.Host)
	s.setString("liveness-probe", fc.LivenessProbe, &cfg.LivenessProbe)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("node", fc.NodeName, &cfg.NodeName)
	s.setString("status-addr", fc.StatusAddr, &cfg.StatusAddr)
	s.setString("nats-url", fc.NATSURL, &cfg.NATSURL)
	s.setString("nats-prefix", fc.NATSPrefix, &cfg.NATSPrefix)
	s.setString("redis-url", fc.RedisURL, &cfg.RedisURL)
	s.setString("redis-prefix", fc.RedisPrefix, &cfg.RedisPrefix)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"read-timeout", fc.ReadTimeout, &cfg.ReadTimeout},
		{"write-timeout", fc.WriteTimeout, &cfg.WriteTimeout},
		{"backoff-min", fc.BackoffMin, &cfg.BackoffMin},
		{"backoff-max", fc.BackoffMax, &cfg.BackoffMax},
		{"liveness-interval", fc.LivenessInterval, &cfg.LivenessInterval},
		{"redis-ttl", fc.RedisTTL, &cfg.RedisTTL},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	s.setInt("read-buffer-size", fc.ReadBufferSize, &cfg.ReadBufferSize)

	s.setBool("multi", fc.Multi, &cfg.Multi)
	s.setBool("liveness", fc.Liveness, &cfg.Liveness)
	s.setBool("watch-config", fc.WatchConfig, &cfg.WatchConfig)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
