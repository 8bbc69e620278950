package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/atlink/internal/cliconfig"
	"github.com/bft-labs/atlink/pkg/link"
	"github.com/bft-labs/atlink/pkg/log"
	"github.com/bft-labs/atlink/plugins/configwatcher"
	"github.com/bft-labs/atlink/plugins/natsrelay"
	"github.com/bft-labs/atlink/plugins/redispresence"
	"github.com/bft-labs/atlink/plugins/statusapi"
)

const helpDescription = `
Talk to line-oriented instruments over TCP.

atlink runs either end of a framed link: text lines terminated by CRLF,
'@'-tokenized commands and length-prefixed binary records (A_D, A_R).

Highlights:
  - serve: accept one instrument (a new connection evicts the old) or many with --multi.
  - connect: keep a client session alive with capped exponential backoff.
  - Optional half-open detection, NATS relay, Redis presence and a status API.
  - Configure via file, env (ATLINK_*), or flags; tunables hot-reload with --watch-config.
`

var exampleUsage = strings.TrimSpace(`
  atlink serve --port 5000
  atlink serve --port 5000 --multi --status-addr 127.0.0.1:9100
  atlink connect --host 10.0.0.12 --port 5000 --liveness
  atlink connect --config $HOME/.atlink/config.toml --nats-url nats://127.0.0.1:4222
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:          "atlink",
		Short:        "Framed TCP link for line-oriented instruments",
		Long:         strings.TrimSpace(helpDescription),
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.atlink/config.toml)")
	pf.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on or connect to")
	pf.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "end a session after this long without data")
	pf.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "deadline for each write (0 disables)")
	pf.IntVar(&cfg.ReadBufferSize, "read-buffer", cfg.ReadBufferSize, "bytes per socket read")
	pf.BoolVar(&cfg.Liveness, "liveness", cfg.Liveness, "probe peers and drop half-closed connections")
	pf.DurationVar(&cfg.LivenessInterval, "liveness-interval", cfg.LivenessInterval, "interval between liveness probes")
	pf.StringVar(&cfg.LivenessProbe, "liveness-probe", cfg.LivenessProbe, "probe line sent to peers (CRLF is appended)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error)")
	pf.StringVar(&cfg.NodeName, "node", cfg.NodeName, "node name used in presence keys (default: hostname)")
	pf.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "serve /health, /sessions and /metrics on this address")
	pf.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "relay frames through this NATS server")
	pf.StringVar(&cfg.NATSPrefix, "nats-prefix", cfg.NATSPrefix, "NATS subject prefix")
	pf.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "record session presence in this Redis")
	pf.StringVar(&cfg.RedisPrefix, "redis-prefix", cfg.RedisPrefix, "Redis key prefix")
	pf.DurationVar(&cfg.RedisTTL, "redis-ttl", cfg.RedisTTL, "TTL of presence keys")
	pf.BoolVar(&cfg.WatchConfig, "watch-config", cfg.WatchConfig, "reload tunables when the config file changes")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Accept instrument connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, &cfg, cfgPath, link.RoleServer)
		},
	}
	serve.Flags().StringVar(&cfg.Bind, "bind", cfg.Bind, "address to bind")
	serve.Flags().BoolVar(&cfg.Multi, "multi", cfg.Multi, "keep every connection instead of evicting older ones")

	connect := &cobra.Command{
		Use:   "connect",
		Short: "Connect to an instrument and reconnect on failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, &cfg, cfgPath, link.RoleClient)
		},
	}
	connect.Flags().StringVar(&cfg.Host, "host", cfg.Host, "host to connect to")
	connect.Flags().DurationVar(&cfg.BackoffMin, "backoff-min", cfg.BackoffMin, "first reconnect delay")
	connect.Flags().DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "reconnect delay cap")

	root.AddCommand(serve, connect)

	if err := root.Execute(); err != nil {
		zl, _ := cliconfig.Logger(os.Stderr, cliconfig.DefaultLogLevel)
		zl.Error().Err(err).Msg("atlink")
		os.Exit(1)
	}
}

// loadConfig layers the config file and ATLINK_* variables under the flags
// the user set. It returns the changed-flag set and the config path used.
func loadConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) (map[string]bool, string, error) {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return nil, "", fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return nil, "", err
		}
	} else {
		cfgFile = ""
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return nil, "", err
	}
	cliconfig.ResolveNodeName(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return changed, cfgFile, nil
}

func run(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string, role link.Role) error {
	changed, cfgFile, err := loadConfig(cmd, cfg, cfgPath)
	if err != nil {
		return err
	}

	zl, err := cliconfig.Logger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	zl.Info().Str("role", string(role)).Interface("config", cfg).Msg("configuration")
	logger := log.NewZerologAdapterWithLogger(zl).With(log.String("role", string(role)))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []link.Option{
		link.WithLogger(logger),
		link.WithRegistry(reg),
		link.WithEventHandler(newFrameLogger(logger)),
	}
	opts = append(opts, pluginOptions(*cfg, cfgFile, changed, logger)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var (
		send func([]byte) error
		stop func() error
	)
	switch role {
	case link.RoleServer:
		srv, err := link.NewServer(cfg.ServerConfig(), opts...)
		if err != nil {
			return fmt.Errorf("create server: %w", err)
		}
		if err := srv.Start(ctx, cfg.Port); err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		send = broadcastSender(srv)
		stop = srv.Stop
	default:
		c, err := link.NewClient(cfg.ClientConfig(), opts...)
		if err != nil {
			return fmt.Errorf("create client: %w", err)
		}
		if err := c.Start(ctx, cfg.Host, cfg.Port); err != nil {
			return fmt.Errorf("start client: %w", err)
		}
		send = c.Send
		stop = c.Stop
	}

	go runConsole(ctx, os.Stdin, send, logger)

	sig := <-sigCh
	logger.Info("received signal, stopping", log.String("signal", sig.String()))
	cancel()

	if err := stop(); err != nil {
		return fmt.Errorf("stop %s: %w", role, err)
	}
	return nil
}

// pluginOptions enables the plugins the configuration asks for.
func pluginOptions(cfg cliconfig.Config, cfgFile string, changed map[string]bool, logger log.Logger) []link.Option {
	var opts []link.Option

	if cfg.StatusAddr != "" {
		opts = append(opts, statusapi.WithStatusAPI(cfg.StatusAddr))
	}
	if cfg.NATSURL != "" {
		opts = append(opts, natsrelay.WithNATSRelay(natsrelay.Config{
			URL:    cfg.NATSURL,
			Prefix: cfg.NATSPrefix,
		}))
	}
	if cfg.RedisURL != "" {
		opts = append(opts, redispresence.WithRedisPresence(redispresence.Config{
			URL:    cfg.RedisURL,
			Prefix: cfg.RedisPrefix,
			Node:   cfg.NodeName,
			TTL:    cfg.RedisTTL,
		}))
	}
	if cfg.WatchConfig {
		if cfgFile == "" {
			logger.Warn("--watch-config ignored: no config file found")
		} else {
			reloader := cliconfig.NewReloader(cfg, changed)
			opts = append(opts, configwatcher.WithDefaultConfigWatcher(cfgFile, reloader.Load))
		}
	}
	return opts
}
