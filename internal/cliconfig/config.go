package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/atlink/pkg/link"
)

// Defaults for the CLI.
const (
	DefaultPort        = 5000
	DefaultHost        = "127.0.0.1"
	DefaultBind        = "0.0.0.0"
	DefaultLogLevel    = "info"
	DefaultNATSPrefix  = "atlink"
	DefaultRedisPrefix = "atlink"
	DefaultRedisTTL    = 30 * time.Second
)

// Config holds CLI configuration for atlink.
type Config struct {
	// Server role
	Port  int
	Bind  string
	Multi bool

	// Client role
	Host string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ReadBufferSize int
	BackoffMin     time.Duration
	BackoffMax     time.Duration

	Liveness         bool
	LivenessInterval time.Duration
	LivenessProbe    string

	LogLevel    string
	NodeName    string
	StatusAddr  string
	NATSURL     string
	NATSPrefix  string
	RedisURL    string
	RedisPrefix string
	RedisTTL    time.Duration
	WatchConfig bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Port:             DefaultPort,
		Bind:             DefaultBind,
		Host:             DefaultHost,
		ReadTimeout:      link.DefaultReadTimeout,
		ReadBufferSize:   link.DefaultReadBufferSize,
		BackoffMin:       time.Second,
		BackoffMax:       10 * time.Second,
		LivenessInterval: link.DefaultLivenessInterval,
		LivenessProbe:    "HB",
		LogLevel:         DefaultLogLevel,
		NATSPrefix:       DefaultNATSPrefix,
		RedisPrefix:      DefaultRedisPrefix,
		RedisTTL:         DefaultRedisTTL,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("write timeout must not be negative")
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("read buffer size must be positive")
	}
	if c.BackoffMin <= 0 {
		return fmt.Errorf("backoff min must be positive")
	}
	if c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("backoff max %s is below backoff min %s", c.BackoffMax, c.BackoffMin)
	}
	if c.Liveness && c.LivenessInterval <= 0 {
		return fmt.Errorf("liveness interval must be positive")
	}
	if strings.ContainsAny(c.LivenessProbe, "\r\n") {
		return fmt.Errorf("liveness probe must be a single line")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if c.RedisURL != "" && c.RedisTTL <= 0 {
		return fmt.Errorf("redis ttl must be positive")
	}
	return nil
}

// Mode returns the server mode selected by --multi.
func (c Config) Mode() link.Mode {
	if c.Multi {
		return link.ModeMulti
	}
	return link.ModeSingle
}

func (c Config) session() link.SessionConfig {
	s := link.DefaultSessionConfig()
	s.ReadTimeout = c.ReadTimeout
	s.WriteTimeout = c.WriteTimeout
	s.ReadBufferSize = c.ReadBufferSize
	return s
}

func (c Config) liveness() link.LivenessConfig {
	l := link.DefaultLivenessConfig()
	l.Enabled = c.Liveness
	l.Interval = c.LivenessInterval
	if c.LivenessProbe != "" {
		l.Probe = []byte(c.LivenessProbe + "\r\n")
	}
	return l
}

// ServerConfig converts the CLI configuration for link.NewServer.
func (c Config) ServerConfig() link.ServerConfig {
	return link.ServerConfig{
		BindHost: c.Bind,
		Mode:     c.Mode(),
		Session:  c.session(),
		Liveness: c.liveness(),
	}
}

// ClientConfig converts the CLI configuration for link.NewClient.
func (c Config) ClientConfig() link.ClientConfig {
	return link.ClientConfig{
		Session:  c.session(),
		Backoff:  link.BackoffConfig{Min: c.BackoffMin, Max: c.BackoffMax},
		Liveness: c.liveness(),
	}
}

// Tunables returns the settings that can be hot-reloaded.
func (c Config) Tunables() link.Tunables {
	return link.Tunables{
		ReadTimeout:      c.ReadTimeout,
		BackoffMin:       c.BackoffMin,
		BackoffMax:       c.BackoffMax,
		LivenessInterval: c.LivenessInterval,
	}
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
