// Package config resolves the runtime configuration of the demo server and
// examples. Resolution order is defaults -> YAML file -> environment, so
// local runs need no file and deployments can override any single knob.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	Listen   string
	RedisURL string
	LogLevel string

	DefaultTTL  time.Duration
	MaxAttempts int
	BaseDelay   time.Duration

	BudgetCapacity int
	BudgetRefill   time.Duration
	BatchSize      int

	CacheCapacity int
	CacheCeiling  int

	WindowSize    time.Duration
	Retention     time.Duration
	AlertCooldown time.Duration

	LatencyAlertMs float64
}

// configFile mirrors the YAML schema. Kept separate from Config so resolved
// runtime fields stay internal to this package.
type configFile struct {
	Server struct {
		Listen   string `yaml:"listen"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Dependencies struct {
		RedisURL string `yaml:"redis_url"`
	} `yaml:"dependencies"`
	Budget struct {
		Capacity      int `yaml:"capacity"`
		RefillSeconds int `yaml:"refill_seconds"`
		BatchSize     int `yaml:"batch_size"`
	} `yaml:"budget"`
	Cache struct {
		Capacity   int `yaml:"capacity"`
		Ceiling    int `yaml:"ceiling"`
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"cache"`
	Retry struct {
		MaxAttempts int `yaml:"max_attempts"`
		BaseDelayMs int `yaml:"base_delay_ms"`
	} `yaml:"retry"`
	Metrics struct {
		WindowSeconds   int     `yaml:"window_seconds"`
		RetentionHours  int     `yaml:"retention_hours"`
		CooldownSeconds int     `yaml:"cooldown_seconds"`
		LatencyAlertMs  float64 `yaml:"latency_alert_ms"`
	} `yaml:"metrics"`
}

// Load resolves configuration from path (missing file is not an error) and
// the environment.
func Load(path string) (Config, error) {
	cfg := Config{
		Listen:         ":8080",
		LogLevel:       "info",
		DefaultTTL:     5 * time.Minute,
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		BudgetCapacity: 100,
		BudgetRefill:   time.Second,
		BatchSize:      16,
		CacheCapacity:  1024,
		WindowSize:     5 * time.Minute,
		Retention:      24 * time.Hour,
		AlertCooldown:  5 * time.Minute,
		LatencyAlertMs: 500,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Server.Listen != "" {
			cfg.Listen = f.Server.Listen
		}
		if f.Server.LogLevel != "" {
			cfg.LogLevel = f.Server.LogLevel
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.Budget.Capacity > 0 {
			cfg.BudgetCapacity = f.Budget.Capacity
		}
		if f.Budget.RefillSeconds > 0 {
			cfg.BudgetRefill = time.Duration(f.Budget.RefillSeconds) * time.Second
		}
		if f.Budget.BatchSize > 0 {
			cfg.BatchSize = f.Budget.BatchSize
		}
		if f.Cache.Capacity > 0 {
			cfg.CacheCapacity = f.Cache.Capacity
		}
		if f.Cache.Ceiling > 0 {
			cfg.CacheCeiling = f.Cache.Ceiling
		}
		if f.Cache.TTLSeconds > 0 {
			cfg.DefaultTTL = time.Duration(f.Cache.TTLSeconds) * time.Second
		}
		if f.Retry.MaxAttempts > 0 {
			cfg.MaxAttempts = f.Retry.MaxAttempts
		}
		if f.Retry.BaseDelayMs > 0 {
			cfg.BaseDelay = time.Duration(f.Retry.BaseDelayMs) * time.Millisecond
		}
		if f.Metrics.WindowSeconds > 0 {
			cfg.WindowSize = time.Duration(f.Metrics.WindowSeconds) * time.Second
		}
		if f.Metrics.RetentionHours > 0 {
			cfg.Retention = time.Duration(f.Metrics.RetentionHours) * time.Hour
		}
		if f.Metrics.CooldownSeconds > 0 {
			cfg.AlertCooldown = time.Duration(f.Metrics.CooldownSeconds) * time.Second
		}
		if f.Metrics.LatencyAlertMs > 0 {
			cfg.LatencyAlertMs = f.Metrics.LatencyAlertMs
		}
	}

	cfg.Listen = envOrDefault("LISTEN_ADDR", cfg.Listen)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.BudgetCapacity = envInt("BUDGET_CAPACITY", cfg.BudgetCapacity)
	cfg.BudgetRefill = time.Duration(envInt("BUDGET_REFILL_SECONDS", int(cfg.BudgetRefill.Seconds()))) * time.Second
	cfg.BatchSize = envInt("BATCH_SIZE", cfg.BatchSize)
	cfg.CacheCapacity = envInt("CACHE_CAPACITY", cfg.CacheCapacity)
	cfg.CacheCeiling = envInt("CACHE_CEILING", cfg.CacheCeiling)
	cfg.DefaultTTL = time.Duration(envInt("CACHE_TTL_SECONDS", int(cfg.DefaultTTL.Seconds()))) * time.Second
	cfg.MaxAttempts = envInt("MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.BaseDelay = time.Duration(envInt("BASE_DELAY_MS", int(cfg.BaseDelay.Milliseconds()))) * time.Millisecond
	cfg.WindowSize = time.Duration(envInt("WINDOW_SECONDS", int(cfg.WindowSize.Seconds()))) * time.Second
	cfg.Retention = time.Duration(envInt("RETENTION_HOURS", int(cfg.Retention.Hours()))) * time.Hour
	cfg.AlertCooldown = time.Duration(envInt("ALERT_COOLDOWN_SECONDS", int(cfg.AlertCooldown.Seconds()))) * time.Second

	if cfg.BudgetCapacity <= 0 {
		return Config{}, fmt.Errorf("budget capacity must be > 0")
	}
	if cfg.CacheCapacity <= 0 {
		return Config{}, fmt.Errorf("cache capacity must be > 0")
	}
	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
