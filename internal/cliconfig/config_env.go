package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (ATLINK_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	if err := s.setIntFromString("port", os.Getenv("ATLINK_PORT"), &cfg.Port); err != nil {
		return err
	}
	s.setString("bind", os.Getenv("ATLINK_BIND"), &cfg.Bind)
	s.setString("host", os.Getenv("ATLINK_HOST"), &cfg.Host)
	s.setString("liveness-probe", os.Getenv("ATLINK_LIVENESS_PROBE"), &cfg.LivenessProbe)
	s.setString("log-level", os.Getenv("ATLINK_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("node", os.Getenv("ATLINK_NODE"), &cfg.NodeName)
	s.setString("status-addr", os.Getenv("ATLINK_STATUS_ADDR"), &cfg.StatusAddr)
	s.setString("nats-url", os.Getenv("ATLINK_NATS_URL"), &cfg.NATSURL)
	s.setString("nats-prefix", os.Getenv("ATLINK_NATS_PREFIX"), &cfg.NATSPrefix)
	s.setString("redis-url", os.Getenv("ATLINK_REDIS_URL"), &cfg.RedisURL)
	s.setString("redis-prefix", os.Getenv("ATLINK_REDIS_PREFIX"), &cfg.RedisPrefix)

	if err := s.setDuration("read-timeout", os.Getenv("ATLINK_READ_TIMEOUT"), &cfg.ReadTimeout); err != nil {
		return err
	}
	if err := s.setDuration("write-timeout", os.Getenv("ATLINK_WRITE_TIMEOUT"), &cfg.WriteTimeout); err != nil {
		return err
	}
	if err := s.setDuration("backoff-min", os.Getenv("ATLINK_BACKOFF_MIN"), &cfg.BackoffMin); err != nil {
		return err
	}
	if err := s.setDuration("backoff-max", os.Getenv("ATLINK_BACKOFF_MAX"), &cfg.BackoffMax); err != nil {
		return err
	}
	if err := s.setDuration("liveness-interval", os.Getenv("ATLINK_LIVENESS_INTERVAL"), &cfg.LivenessInterval); err != nil {
		return err
	}
	if err := s.setDuration("redis-ttl", os.Getenv("ATLINK_REDIS_TTL"), &cfg.RedisTTL); err != nil {
		return err
	}

	if err := s.setIntFromString("read-buffer-size", os.Getenv("ATLINK_READ_BUFFER_SIZE"), &cfg.ReadBufferSize); err != nil {
		return err
	}

	s.setBoolFromString("multi", os.Getenv("ATLINK_MULTI"), &cfg.Multi)
	s.setBoolFromString("liveness", os.Getenv("ATLINK_LIVENESS"), &cfg.Liveness)
	s.setBoolFromString("watch-config", os.Getenv("ATLINK_WATCH_CONFIG"), &cfg.WatchConfig)

	return nil
}
