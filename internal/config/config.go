// Package config loads the gateway configuration: YAML file, defaults, and
// environment overrides, validated before use.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"aegis/internal/conversation"
)

// Config holds all configuration for the gateway.
type Config struct {
	Listen    string          `yaml:"listen"`
	Logging   LoggingConfig   `yaml:"logging"`
	CORS      CORSConfig      `yaml:"cors"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Session   SessionConfig   `yaml:"session"`
	Storage   StorageConfig   `yaml:"storage"`
	Policy    PolicyConfig    `yaml:"policy"`
	ML        MLConfig        `yaml:"ml"`
	LLM       LLMConfig       `yaml:"llm"`
	External  ExternalConfig  `yaml:"external"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// CORSConfig holds cross-origin settings for the wire API.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// SessionConfig holds context-analyzer session settings.
type SessionConfig struct {
	Store           string                   `yaml:"store"` // "memory" or "redis"
	TTL             time.Duration            `yaml:"ttl"`
	MaxHistoryTurns int                      `yaml:"max_history_turns"`
	PruneInterval   time.Duration            `yaml:"prune_interval"`
	Redis           conversation.RedisConfig `yaml:"redis"`
}

// StorageConfig holds the audit sink configuration.
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// PolicyConfig holds the policy directory location.
type PolicyConfig struct {
	Dir string `yaml:"dir"`
}

// MLConfig holds the model registry location.
type MLConfig struct {
	ModelDir string `yaml:"model_dir"`
}

// LLMConfig holds upstream provider settings. Providers is the raw JSON
// array accepted by the LLM_PROVIDERS knob.
type LLMConfig struct {
	Providers string `yaml:"providers"`
	DryRun    bool   `yaml:"dry_run"`
}

// ExternalConfig carries connection strings consumed by external sinks.
// This build persists to SQLite; these are parsed for the contract only.
type ExternalConfig struct {
	PostgresURL   string `yaml:"postgres_url"`
	ClickhouseURL string `yaml:"clickhouse_url"`
}

// Load reads and parses the configuration file. A missing file yields
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config with sensible default values.
func defaults() *Config {
	return &Config{
		Listen: ":8081",
		Logging: LoggingConfig{
			Format: "json",
			Level:  "info",
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Exporter:    "none",
			ServiceName: "aegis",
			Endpoint:    "localhost:4317",
			Insecure:    true,
		},
		Session: SessionConfig{
			Store:           "memory",
			TTL:             30 * time.Minute,
			MaxHistoryTurns: 10,
			PruneInterval:   5 * time.Minute,
			Redis: conversation.RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "aegis:session:",
			},
		},
		Storage: StorageConfig{
			Enabled:       false,
			Path:          "data/aegis.db",
			RetentionDays: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		c.CORS.Origins = origins
	}
	if v := os.Getenv("POLICY_DIR"); v != "" {
		c.Policy.Dir = v
	}
	if v := os.Getenv("ML_MODEL_DIR"); v != "" {
		c.ML.ModelDir = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Session.Store = "redis"
		c.Session.Redis.URL = v
	}
	if v := os.Getenv("LLM_PROVIDERS"); v != "" {
		c.LLM.Providers = v
	}
	if os.Getenv("DRY_RUN") == "true" {
		c.LLM.DryRun = true
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		c.External.PostgresURL = v
	}
	if v := os.Getenv("CLICKHOUSE_URL"); v != "" {
		c.External.ClickhouseURL = v
	}
	if v := os.Getenv("AUDIT_DB_PATH"); v != "" {
		c.Storage.Enabled = true
		c.Storage.Path = v
	}

	// Telemetry follows the standard OTEL env vars.
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = "otlp"
		c.Telemetry.Endpoint = v
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true" {
		c.Telemetry.Insecure = true
	}
}

// validate checks that the configuration is usable.
func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.Session.Store != "memory" && c.Session.Store != "redis" {
		return fmt.Errorf("session store must be \"memory\" or \"redis\", got %q", c.Session.Store)
	}
	if c.Session.Store == "redis" && c.Session.Redis.URL == "" && c.Session.Redis.Addr == "" {
		return fmt.Errorf("redis session store needs a url or addr")
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("storage path is required when storage is enabled")
	}
	switch c.Telemetry.Exporter {
	case "", "none", "otlp", "stdout":
	default:
		return fmt.Errorf("telemetry exporter must be \"otlp\", \"stdout\", or \"none\", got %q", c.Telemetry.Exporter)
	}
	return nil
}

// LogLevel maps the configured level onto slog's scale.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}
