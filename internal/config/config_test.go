package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != ":8081" {
		t.Errorf("expected default listen :8081, got %s", cfg.Listen)
	}
	if cfg.Session.Store != "memory" || cfg.Session.TTL != 30*time.Minute {
		t.Errorf("unexpected session defaults: %+v", cfg.Session)
	}
	if len(cfg.CORS.Origins) != 1 || cfg.CORS.Origins[0] != "*" {
		t.Errorf("expected wildcard CORS default, got %v", cfg.CORS.Origins)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aegis.yaml")
	body := `
listen: ":9000"
logging:
  level: debug
storage:
  enabled: true
  path: /tmp/audit.db
  retention_days: 7
session:
  store: memory
  ttl: 10m
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.Logging.Level != "debug" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !cfg.Storage.Enabled || cfg.Storage.RetentionDays != 7 {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Session.TTL != 10*time.Minute {
		t.Errorf("expected ttl 10m, got %s", cfg.Session.TTL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("POLICY_DIR", "/etc/aegis/policies")
	t.Setenv("ML_MODEL_DIR", "/models")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("DRY_RUN", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != ":7777" {
		t.Errorf("expected PORT override, got %s", cfg.Listen)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected LOG_LEVEL override, got %s", cfg.Logging.Level)
	}
	if len(cfg.CORS.Origins) != 2 || cfg.CORS.Origins[1] != "https://b.example" {
		t.Errorf("expected trimmed origins, got %v", cfg.CORS.Origins)
	}
	if cfg.Policy.Dir != "/etc/aegis/policies" || cfg.ML.ModelDir != "/models" {
		t.Errorf("unexpected dirs: %+v", cfg)
	}
	if cfg.Session.Store != "redis" || cfg.Session.Redis.URL == "" {
		t.Errorf("expected REDIS_URL to select redis store, got %+v", cfg.Session)
	}
	if !cfg.LLM.DryRun {
		t.Error("expected DRY_RUN override")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	for i, mutate := range []func(*Config){
		func(c *Config) { c.Listen = "" },
		func(c *Config) { c.Session.TTL = 0 },
		func(c *Config) { c.Session.Store = "dynamo" },
		func(c *Config) { c.Storage.Enabled = true; c.Storage.Path = "" },
		func(c *Config) { c.Telemetry.Exporter = "jaeger" },
	} {
		cfg := defaults()
		mutate(cfg)
		if err := cfg.validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
