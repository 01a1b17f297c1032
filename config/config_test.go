package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Name != "sagabank" || cfg.App.Environment != "development" {
		t.Fatalf("app config: %+v", cfg.App)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Address() != "0.0.0.0:8080" {
		t.Fatalf("address = %q", cfg.Server.Address())
	}
	if cfg.Saga.Initiator != "cloudbank" || cfg.Saga.DecisionTimeout != 30*time.Second {
		t.Fatalf("saga config: %+v", cfg.Saga)
	}
	if cfg.Banks.BankA != "banka" || cfg.Banks.BankB != "bankb" {
		t.Fatalf("banks config: %+v", cfg.Banks)
	}
	if cfg.Storage.Type != "memory" || cfg.SessionCache.Type != "memory" {
		t.Fatalf("storage %q cache %q", cfg.Storage.Type, cfg.SessionCache.Type)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load("", map[string]interface{}{
		"server.port": 9090,
		"log.level":   "debug",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("server port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SAGABANK_SERVER__PORT", "7070")
	t.Setenv("SAGABANK_LOG__FORMAT", "text")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("server port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Log.Format != "text" {
		t.Fatalf("log format = %q, want text", cfg.Log.Format)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("server:\n  port: 6060\nsaga:\n  initiator: testbank\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Fatalf("server port = %d, want 6060", cfg.Server.Port)
	}
	if cfg.Saga.Initiator != "testbank" {
		t.Fatalf("initiator = %q, want testbank", cfg.Saga.Initiator)
	}
	// Untouched keys keep their defaults.
	if cfg.Log.Level != "info" {
		t.Fatalf("log level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected missing file to fail")
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected unsupported format to fail")
	}
}

func TestValidationRejectsBadValues(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]interface{}
	}{
		{"bad environment", map[string]interface{}{"app.environment": "qa"}},
		{"bad log level", map[string]interface{}{"log.level": "verbose"}},
		{"bad storage type", map[string]interface{}{"storage.type": "sqlite"}},
		{"port out of range", map[string]interface{}{"server.port": 70000}},
		{"same bank names", map[string]interface{}{"banks.bank_a": "bankb"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load("", tc.overrides)
			if err == nil {
				t.Fatal("expected validation failure")
			}
			var details ValidationErrors
			if !errors.As(err, &details) {
				t.Fatalf("error type %T: %v", err, err)
			}
		})
	}
}

func TestHotReloadableChanged(t *testing.T) {
	cfg := DefaultConfig()
	base := ExtractHotReloadable(cfg)
	if base.Changed(base) {
		t.Fatal("identical snapshots reported changed")
	}

	cfg.Log.Level = "debug"
	if !base.Changed(ExtractHotReloadable(cfg)) {
		t.Fatal("log level change not detected")
	}

	cfg = DefaultConfig()
	cfg.Server.RateLimit.RPS = 10
	if !base.Changed(ExtractHotReloadable(cfg)) {
		t.Fatal("rate limit change not detected")
	}
}

func TestExtractHotReloadable(t *testing.T) {
	cfg := DefaultConfig()
	hot := ExtractHotReloadable(cfg)
	if hot.LogLevel != cfg.Log.Level || hot.LogFormat != cfg.Log.Format {
		t.Fatalf("log fields: %+v", hot)
	}
	if hot.DecisionTimeout != cfg.Saga.DecisionTimeout || hot.WatchdogInterval != cfg.Saga.WatchdogInterval {
		t.Fatalf("saga fields: %+v", hot)
	}
	if hot.RateLimitRPS != cfg.Server.RateLimit.RPS || hot.RateLimitBurst != cfg.Server.RateLimit.Burst {
		t.Fatalf("rate limit fields: %+v", hot)
	}
}
