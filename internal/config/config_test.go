package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("OWNER_ID", "u-1")
	t.Setenv("API_BASE_URL", " http://backend:8080/ ")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "u-1", cfg.Owner.OwnerID)
	assert.Equal(t, "customer", cfg.Owner.OwnerRole)
	assert.Equal(t, "android", cfg.Owner.Platform)
	assert.Equal(t, "http://backend:8080", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, 20, cfg.API.SyncLimit)
	assert.Equal(t, 3, cfg.Retry.ReconcileMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialInterval)
	assert.False(t, cfg.Database.Enabled())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("RECONCILE_MAX_ATTEMPTS", "0")
	t.Setenv("RETRY_INITIAL_INTERVAL", "1s")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_NAME", "push")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retry.ReconcileMaxAttempts, "non-positive attempts fall back to the default")
	assert.Equal(t, time.Second, cfg.Retry.InitialInterval)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, 2.5, cfg.Server.RateLimitRPS)
	assert.Equal(t, "5432", cfg.Database.Port)
}
