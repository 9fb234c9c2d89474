package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, 100, cfg.BudgetCapacity)
	assert.Equal(t, time.Second, cfg.BudgetRefill)
	assert.Equal(t, 5*time.Minute, cfg.DefaultTTL)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Retention)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: ":9999"
budget:
  capacity: 250
  refill_seconds: 5
cache:
  capacity: 4096
  ttl_seconds: 60
retry:
  max_attempts: 5
metrics:
  latency_alert_ms: 750
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, 250, cfg.BudgetCapacity)
	assert.Equal(t, 5*time.Second, cfg.BudgetRefill)
	assert.Equal(t, 4096, cfg.CacheCapacity)
	assert.Equal(t, time.Minute, cfg.DefaultTTL)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 750.0, cfg.LatencyAlertMs)
	assert.Equal(t, 16, cfg.BatchSize, "unset fields keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("budget:\n  capacity: 250\n"), 0o600))
	t.Setenv("BUDGET_CAPACITY", "42")
	t.Setenv("CACHE_TTL_SECONDS", "120")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.BudgetCapacity)
	assert.Equal(t, 2*time.Minute, cfg.DefaultTTL)
	assert.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}
