package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/repowiki/console/internal/errors"
)

func parseClientFlags(t *testing.T, args []string) *clientFlags {
	t.Helper()
	// Isolate from any real ~/.repowiki/config.toml.
	t.Setenv("HOME", t.TempDir())
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cf := registerClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cf
}

func TestLoadConfigFlagOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
endpoint = "ws://from-file:8001/ws"
connect_timeout_ms = 7000
log_level = "warn"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cf := parseClientFlags(t, []string{
		"--config", path,
		"--endpoint", "ws://from-flag:9001/ws",
		"--timeout", "3s",
	})
	cfg, err := cf.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Endpoint != "ws://from-flag:9001/ws" {
		t.Errorf("endpoint: flag must override file, got %q", cfg.Endpoint)
	}
	if cfg.ConnectTimeoutMs != 3000 {
		t.Errorf("timeout: flag must override file, got %d", cfg.ConnectTimeoutMs)
	}
	// Untouched flag keeps the file value.
	if cfg.LogLevel != "warn" {
		t.Errorf("log level: file value must survive, got %q", cfg.LogLevel)
	}
}

func TestLoadConfigValidatesMergedResult(t *testing.T) {
	cf := parseClientFlags(t, []string{"--endpoint", "http://wrong-scheme"})
	if _, err := cf.loadConfig(); err == nil {
		t.Fatal("expected validation error for non-ws endpoint")
	} else if !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
		t.Fatalf("expected config.invalid, got %v", err)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	cf := parseClientFlags(t, []string{"--config", filepath.Join(t.TempDir(), "nope.toml")})
	if _, err := cf.loadConfig(); err == nil {
		t.Fatal("expected error for missing explicit config file")
	} else if !apperrors.IsCode(err, apperrors.CodeConfigNotFound) {
		t.Fatalf("expected config.not_found, got %v", err)
	}
}

func TestSocketConfigConversion(t *testing.T) {
	cf := parseClientFlags(t, nil)
	cfg, err := cf.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	cfg.Endpoint = "ws://10.1.2.3:8001/ws"
	cfg.ConnectTimeoutMs = 4000
	cfg.HeartbeatMs = 15000
	cfg.ReconnectBaseMs = 500
	cfg.ReconnectCapMs = 8000
	cfg.ReconnectMaxAttempts = 3
	cfg.QueueCapacity = 32

	scfg, err := socketConfig(cfg)
	if err != nil {
		t.Fatalf("socketConfig: %v", err)
	}
	if scfg.Endpoint != cfg.Endpoint {
		t.Errorf("endpoint: got %q", scfg.Endpoint)
	}
	if scfg.ConnectTimeout != 4*time.Second {
		t.Errorf("connect timeout: got %v", scfg.ConnectTimeout)
	}
	if scfg.HeartbeatInterval != 15*time.Second {
		t.Errorf("heartbeat: got %v", scfg.HeartbeatInterval)
	}
	if scfg.ReconnectBase != 500*time.Millisecond || scfg.ReconnectCap != 8*time.Second {
		t.Errorf("reconnect policy: got base=%v cap=%v", scfg.ReconnectBase, scfg.ReconnectCap)
	}
	if scfg.ReconnectMaxAttempts != 3 {
		t.Errorf("max attempts: got %d", scfg.ReconnectMaxAttempts)
	}
	if scfg.QueueCapacity != 32 {
		t.Errorf("queue capacity: got %d", scfg.QueueCapacity)
	}
	if scfg.TLS != nil {
		t.Error("no pin configured, TLS config must be nil")
	}
}

func TestSocketConfigAppliesPin(t *testing.T) {
	cf := parseClientFlags(t, nil)
	cfg, err := cf.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	cfg.TLSFingerprint = "AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:" +
		"AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99"

	scfg, err := socketConfig(cfg)
	if err != nil {
		t.Fatalf("socketConfig: %v", err)
	}
	if scfg.TLS == nil {
		t.Fatal("expected a pinning TLS config")
	}
	if scfg.TLS.VerifyPeerCertificate == nil {
		t.Fatal("expected a VerifyPeerCertificate hook")
	}
}

func TestSocketConfigRejectsBadPin(t *testing.T) {
	cf := parseClientFlags(t, nil)
	cfg, err := cf.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	cfg.TLSFingerprint = "not-a-fingerprint"

	if _, err := socketConfig(cfg); err == nil {
		t.Fatal("expected bad pin error")
	} else if !apperrors.IsCode(err, apperrors.CodeTrustBadPin) {
		t.Fatalf("expected trust.bad_pin, got %v", err)
	}
}
