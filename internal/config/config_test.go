package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Blob.SignedURLTTL != 60*time.Second || cfg.Editor.AutosaveDelay != 3*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadYAMLWithEnvExpansionAndOverrides(t *testing.T) {
	t.Setenv("TEST_BUCKET", "team-docs")
	t.Setenv("SMARTDOCS_AUTOSAVE_DELAY_MS", "1500")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
app:
  log_level: debug
blob:
  bucket: ${TEST_BUCKET}
  signed_url_ttl: 2m
editor:
  autosave_delay: 5s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Blob.Bucket != "team-docs" {
		t.Errorf("bucket = %q, want team-docs", cfg.Blob.Bucket)
	}
	if cfg.Blob.SignedURLTTL != 2*time.Minute {
		t.Errorf("signed url ttl = %v, want 2m", cfg.Blob.SignedURLTTL)
	}
	if cfg.Editor.AutosaveDelay != 1500*time.Millisecond {
		t.Errorf("env should override file, got %v", cfg.Editor.AutosaveDelay)
	}
	if cfg.App.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.App.LogLevel)
	}
	if cfg.HTTP.Addr != ":8787" {
		t.Errorf("unset values keep defaults, got addr %q", cfg.HTTP.Addr)
	}
}

func TestLoadWithoutFileUsesEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example/db")
	t.Setenv("BLOB_SIGNED_URL_TTL_SECONDS", "90")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://example/db" || cfg.Blob.SignedURLTTL != 90*time.Second {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestEditorIdleTimeoutFromEnv(t *testing.T) {
	if Default().Editor.IdleTimeout != 30*time.Minute {
		t.Fatalf("idle timeout default = %v, want 30m", Default().Editor.IdleTimeout)
	}
	t.Setenv("SMARTDOCS_EDITOR_IDLE_TIMEOUT_SECONDS", "600")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Editor.IdleTimeout != 10*time.Minute {
		t.Fatalf("idle timeout = %v, want 10m", cfg.Editor.IdleTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"log level":  func(c *Config) { c.App.LogLevel = "loud" },
		"bucket":     func(c *Config) { c.Blob.Bucket = "" },
		"url ttl":    func(c *Config) { c.Blob.SignedURLTTL = 0 },
		"secret":     func(c *Config) { c.Auth.Secret = "short" },
		"meili url":  func(c *Config) { c.Search.MeiliURL = "not a url" },
		"autosave":   func(c *Config) { c.Editor.AutosaveDelay = time.Millisecond },
		"week limit": func(c *Config) { c.Blob.SignedURLTTL = 8 * 24 * time.Hour },
		"idle":       func(c *Config) { c.Editor.IdleTimeout = 10 * time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}
