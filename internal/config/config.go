// Package config provides TOML configuration file loading and parsing for the
// console client. The configuration file lives at ~/.repowiki/config.toml by
// default, but can be overridden with the --config flag. CLI flags always take
// precedence over file values.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	apperrors "github.com/repowiki/console/internal/errors"
)

// Config represents the client configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Endpoint is the backend WebSocket URL (ws:// or wss://).
	// Default: ws://127.0.0.1:8001/ws
	Endpoint string `toml:"endpoint"`

	// TLSFingerprint pins the backend's certificate for wss endpoints.
	// SHA-256 colon-separated hex, as advertised in discovery TXT records.
	// Empty means standard CA verification.
	TLSFingerprint string `toml:"tls_fingerprint"`

	// ConnectTimeoutMs bounds the WebSocket dial, in milliseconds.
	// Default: 10000
	ConnectTimeoutMs int `toml:"connect_timeout_ms"`

	// HeartbeatMs is the interval between application-level pings.
	// A connection with no pong for twice this interval is considered dead.
	// Default: 30000
	HeartbeatMs int `toml:"heartbeat_ms"`

	// ReconnectBaseMs is the delay before the first reconnect attempt.
	// Attempt n waits min(base * 2^(n-1), cap) milliseconds.
	// Default: 1000
	ReconnectBaseMs int `toml:"reconnect_base_ms"`

	// ReconnectCapMs caps the exponential reconnect delay.
	// Default: 30000
	ReconnectCapMs int `toml:"reconnect_cap_ms"`

	// ReconnectMaxAttempts is the number of automatic reconnect attempts
	// before giving up. A fresh Connect resets the counter.
	// Default: 5
	ReconnectMaxAttempts int `toml:"reconnect_max_attempts"`

	// QueueCapacity bounds the outbound queue used while disconnected.
	// On overflow the oldest queued message is dropped.
	// Default: 256
	QueueCapacity int `toml:"queue_capacity"`

	// DedupCapacity bounds the received-message-id cache. Eviction is
	// least-recently-used, so duplicate suppression is best-effort once
	// more ids than this have been seen.
	// Default: 512
	DedupCapacity int `toml:"dedup_capacity"`

	// SentTTLMs is how long sent-message records are retained for
	// correlation queries, in milliseconds.
	// Default: 300000 (5 minutes)
	SentTTLMs int `toml:"sent_ttl_ms"`

	// SentSweepMs is the interval of the sweep that removes expired
	// sent-message records, in milliseconds.
	// Default: 60000
	SentSweepMs int `toml:"sent_sweep_ms"`

	// SendRate limits outbound messages per second, protecting the backend
	// from a queue flush flood after reconnect. Zero disables the limiter.
	// Default: 50
	SendRate float64 `toml:"send_rate"`

	// SendBurst is the burst size for the outbound rate limiter.
	// Default: 10
	SendBurst int `toml:"send_burst"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// LogFile is an optional path for rotated JSON log output.
	// Empty means console logging only.
	LogFile string `toml:"log_file"`

	// JournalPath is the SQLite file for the session journal.
	// Empty disables journaling.
	JournalPath string `toml:"journal_path"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint (e.g. "127.0.0.1:9090"). Empty disables the endpoint.
	MetricsAddr string `toml:"metrics_addr"`
}

// Default returns a Config populated with the reference policy values.
func Default() *Config {
	return &Config{
		Endpoint:             DefaultEndpoint,
		ConnectTimeoutMs:     10000,
		HeartbeatMs:          30000,
		ReconnectBaseMs:      1000,
		ReconnectCapMs:       30000,
		ReconnectMaxAttempts: 5,
		QueueCapacity:        256,
		DedupCapacity:        512,
		SentTTLMs:            300000,
		SentSweepMs:          60000,
		SendRate:             50,
		SendBurst:            10,
		LogLevel:             "info",
	}
}

// DefaultConfigPath returns the default config file location: ~/.repowiki/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".repowiki", "config.toml"), nil
}

// DefaultJournalPath returns the default session journal location:
// ~/.repowiki/journal.db.
func DefaultJournalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".repowiki", "journal.db"), nil
}

// WriteDefault creates a config file with the given endpoint at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string, endpoint string) error {
	// Check if file already exists - never overwrite
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, nothing to do
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Build minimal TOML config with the standard policy values.
	// Using raw string to control formatting exactly
	content := fmt.Sprintf(`# repowiki console configuration
# Created by 'repowiki config init'

# Backend WebSocket endpoint
endpoint = %q

# Heartbeat interval in milliseconds; a connection with no pong for twice
# this interval is treated as dead and reconnected.
heartbeat_ms = 30000

# Reconnect policy: attempt n waits min(base * 2^(n-1), cap) milliseconds.
reconnect_base_ms = 1000
reconnect_cap_ms = 30000
reconnect_max_attempts = 5

# Logging: debug, info, warn, error
log_level = "info"
`, endpoint)

	// Write with restrictive permissions (owner read/write only)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
// File values are decoded over Default(), so omitted keys keep the reference
// policy values.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.repowiki/config.toml). Returns Default() without error if the
//     default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		// This allows the client to run without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			// Can't determine home dir, return defaults
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			// Default config doesn't exist, that's fine
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		// This matches user expectation: if they specify a config file, it should exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, apperrors.ConfigNotFound(path)
		}
	}

	// Parse the TOML file. Any parse error is fatal since the user expects
	// the config to be applied.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigParse,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}

	return cfg, nil
}

// Validate checks the configuration for semantically invalid values.
// It returns the first problem found as a "config.invalid" error.
func (c *Config) Validate() error {
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil {
			return apperrors.ConfigInvalid(fmt.Sprintf("endpoint %q is not a URL", c.Endpoint))
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return apperrors.ConfigInvalid(fmt.Sprintf("endpoint scheme must be ws or wss, got %q", u.Scheme))
		}
	}
	if c.ConnectTimeoutMs <= 0 {
		return apperrors.ConfigInvalid("connect_timeout_ms must be positive")
	}
	if c.HeartbeatMs <= 0 {
		return apperrors.ConfigInvalid("heartbeat_ms must be positive")
	}
	if c.ReconnectBaseMs <= 0 {
		return apperrors.ConfigInvalid("reconnect_base_ms must be positive")
	}
	if c.ReconnectCapMs < c.ReconnectBaseMs {
		return apperrors.ConfigInvalid("reconnect_cap_ms must be >= reconnect_base_ms")
	}
	if c.ReconnectMaxAttempts < 0 {
		return apperrors.ConfigInvalid("reconnect_max_attempts cannot be negative")
	}
	if c.QueueCapacity <= 0 {
		return apperrors.ConfigInvalid("queue_capacity must be positive")
	}
	if c.DedupCapacity <= 0 {
		return apperrors.ConfigInvalid("dedup_capacity must be positive")
	}
	if c.SentTTLMs <= 0 || c.SentSweepMs <= 0 {
		return apperrors.ConfigInvalid("sent_ttl_ms and sent_sweep_ms must be positive")
	}
	if c.SendRate < 0 || c.SendBurst < 0 {
		return apperrors.ConfigInvalid("send_rate and send_burst cannot be negative")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return apperrors.ConfigInvalid(fmt.Sprintf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	return nil
}
