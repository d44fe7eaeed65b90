// Package config loads engine configuration from a YAML file with
// environment variable overrides, and can watch the file for runtime
// log-level changes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the full daemon configuration. Durations are expressed in
// Go duration syntax in YAML ("24h", "500ms").
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// RedisAddr enables the Redis store when non-empty; otherwise the
	// in-memory store is used.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Provider selects the model backend: openai, google, or ollama.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	SessionTTL      time.Duration `yaml:"session_ttl"`
	RetentionWindow int           `yaml:"retention_window"`
	EditBudget      time.Duration `yaml:"edit_budget"`
	LLMTimeout      time.Duration `yaml:"llm_timeout"`
	LLMMaxRetries   int           `yaml:"llm_max_retries"`
	LockTimeout     time.Duration `yaml:"lock_timeout"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`

	// AllowedTypes overrides the wireframe node type allowlist. Entries
	// may use glob syntax.
	AllowedTypes []string `yaml:"allowed_types"`

	// CORSOrigins lists allowed CORS origins; empty allows none.
	CORSOrigins []string `yaml:"cors_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:            ":8080",
		LogLevel:        "info",
		Provider:        "openai",
		SessionTTL:      24 * time.Hour,
		RetentionWindow: 20,
		EditBudget:      5 * time.Second,
		LLMTimeout:      3 * time.Second,
		LLMMaxRetries:   2,
		LockTimeout:     30 * time.Second,
		JanitorInterval: 60 * time.Second,
	}
}

// Load reads the config file (optional) and applies environment
// overrides. A missing path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("WIREFLOW_ADDR", &c.Addr)
	setString("WIREFLOW_LOG_LEVEL", &c.LogLevel)
	setString("WIREFLOW_REDIS_ADDR", &c.RedisAddr)
	setString("WIREFLOW_REDIS_PASSWORD", &c.RedisPassword)
	setInt("WIREFLOW_REDIS_DB", &c.RedisDB)
	setString("WIREFLOW_PROVIDER", &c.Provider)
	setString("WIREFLOW_MODEL", &c.Model)
	setDuration("WIREFLOW_SESSION_TTL", &c.SessionTTL)
	setInt("WIREFLOW_RETENTION_WINDOW", &c.RetentionWindow)
	setDuration("WIREFLOW_EDIT_BUDGET", &c.EditBudget)
	setDuration("WIREFLOW_LLM_TIMEOUT", &c.LLMTimeout)
	setInt("WIREFLOW_LLM_MAX_RETRIES", &c.LLMMaxRetries)
	setDuration("WIREFLOW_LOCK_TIMEOUT", &c.LockTimeout)
	setDuration("WIREFLOW_JANITOR_INTERVAL", &c.JanitorInterval)
}

func (c *Config) validate() error {
	if c.RetentionWindow < 2 {
		return fmt.Errorf("retention_window must be at least 2, got %d", c.RetentionWindow)
	}
	if c.EditBudget <= 0 || c.LLMTimeout <= 0 {
		return fmt.Errorf("edit_budget and llm_timeout must be positive")
	}
	switch c.Provider {
	case "openai", "google", "ollama":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	return nil
}
