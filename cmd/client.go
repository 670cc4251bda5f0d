package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"github.com/repowiki/console/internal/config"
	"github.com/repowiki/console/internal/logging"
	"github.com/repowiki/console/internal/socket"
	"github.com/repowiki/console/internal/trust"
)

// clientFlags holds the flags shared by every subcommand that talks to a
// backend. Flag values override config file values, which override defaults.
type clientFlags struct {
	config   string
	endpoint string
	timeout  time.Duration
	logLevel string
}

func registerClientFlags(fs *flag.FlagSet) *clientFlags {
	cf := &clientFlags{}
	fs.StringVar(&cf.config, "config", "", "Path to config file (default: ~/.repowiki/config.toml)")
	fs.StringVar(&cf.endpoint, "endpoint", "", "Backend WebSocket URL, ws:// or wss:// (overrides config)")
	fs.DurationVar(&cf.timeout, "timeout", 0, "Connect timeout, e.g. 5s (overrides config)")
	fs.StringVar(&cf.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	return cf
}

// loadConfig loads the config file and applies the flag overrides, then
// validates the merged result.
func (cf *clientFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cf.config)
	if err != nil {
		return nil, err
	}
	if cf.endpoint != "" {
		cfg.Endpoint = cf.endpoint
	}
	if cf.timeout > 0 {
		cfg.ConnectTimeoutMs = int(cf.timeout / time.Millisecond)
	}
	if cf.logLevel != "" {
		cfg.LogLevel = cf.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the subcommand logger from the merged config.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.LogFile)
}

// socketConfig converts file-level settings into transport settings,
// including the pinned-certificate verifier for wss endpoints.
func socketConfig(cfg *config.Config) (socket.Config, error) {
	tlsCfg, err := trust.ClientTLSConfig(cfg.TLSFingerprint)
	if err != nil {
		return socket.Config{}, err
	}
	return socket.Config{
		Endpoint:             cfg.Endpoint,
		ConnectTimeout:       time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond,
		HeartbeatInterval:    time.Duration(cfg.HeartbeatMs) * time.Millisecond,
		ReconnectBase:        time.Duration(cfg.ReconnectBaseMs) * time.Millisecond,
		ReconnectCap:         time.Duration(cfg.ReconnectCapMs) * time.Millisecond,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
		QueueCapacity:        cfg.QueueCapacity,
		DedupCapacity:        cfg.DedupCapacity,
		SentTTL:              time.Duration(cfg.SentTTLMs) * time.Millisecond,
		SentSweep:            time.Duration(cfg.SentSweepMs) * time.Millisecond,
		SendRate:             cfg.SendRate,
		SendBurst:            cfg.SendBurst,
		TLS:                  tlsCfg,
	}, nil
}

// newClient builds a socket client from the merged config. The client starts
// disconnected; callers register handlers first, then Connect.
func newClient(cfg *config.Config, log *zap.Logger) (*socket.Client, error) {
	scfg, err := socketConfig(cfg)
	if err != nil {
		return nil, err
	}
	return socket.New(scfg, log)
}

// connectTimeout derives the context deadline for the initial Connect call.
func connectTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
}

// connect opens the client's connection, bounded by the configured timeout.
func connect(client *socket.Client, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(cfg))
	defer cancel()
	return client.Connect(ctx)
}
