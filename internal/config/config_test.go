package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.BindAddress != "0.0.0.0:8080" {
		t.Fatalf("expected default bind address, got %q", cfg.Server.BindAddress)
	}
	if cfg.Container.MaxEntities != 1024 || cfg.Container.MaxComponents != 64 {
		t.Fatalf("expected default ceilings 1024/64, got %d/%d",
			cfg.Container.MaxEntities, cfg.Container.MaxComponents)
	}
	if cfg.Database.Enabled {
		t.Fatal("expected the database to be disabled by default")
	}
	if cfg.Container.RebuildThreshold != 0.5 {
		t.Fatalf("expected rebuild threshold 0.5, got %v", cfg.Container.RebuildThreshold)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	body := `
[server]
name = "forge-eu"
bind_address = "127.0.0.1:9090"

[container]
max_entities = 4096
tick_interval = 50000000

[logging]
level = "debug"
format = "json"
`
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Name != "forge-eu" {
		t.Fatalf("expected forge-eu, got %q", cfg.Server.Name)
	}
	if cfg.Server.BindAddress != "127.0.0.1:9090" {
		t.Fatalf("expected overridden bind, got %q", cfg.Server.BindAddress)
	}
	if cfg.Container.MaxEntities != 4096 {
		t.Fatalf("expected 4096 entities, got %d", cfg.Container.MaxEntities)
	}
	if cfg.Container.TickInterval != 50*time.Millisecond {
		t.Fatalf("expected 50ms tick, got %s", cfg.Container.TickInterval)
	}
	// Untouched sections keep their defaults.
	if cfg.Container.MaxComponents != 64 {
		t.Fatalf("expected default component ceiling, got %d", cfg.Container.MaxComponents)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("expected debug/json logging, got %+v", cfg.Logging)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected a missing file to fail")
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[server\nname="), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected malformed toml to fail")
	}
}
