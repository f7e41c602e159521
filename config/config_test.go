package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost:5432/kpiops")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1024, cfg.Events.QueueSize)
	assert.Equal(t, 10000, cfg.Cache.MaxEntries)
	assert.Equal(t, 14, cfg.Forecast.DefaultDays)
	assert.Equal(t, 50, cfg.Capacity.HistoryLimit)
	assert.Equal(t, 30, cfg.Server.ShutdownGraceSeconds)
	assert.Equal(t, 10, cfg.Security.RateLimitAuthPerMin)
	assert.False(t, cfg.Ingest.CrossTenantUploadsAllowed)
	assert.GreaterOrEqual(t, cfg.Events.WorkerPoolSize, 2)
}

func TestLoadConfigOperationalEnvOverrides(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost:5432/kpiops")
	t.Setenv("EVENT_QUEUE_SIZE", "256")
	t.Setenv("CACHE_MAX_ENTRIES", "500")
	t.Setenv("RATE_LIMIT_AUTH_PER_MIN", "3")
	t.Setenv("CROSS_TENANT_UPLOADS_ALLOWED", "true")
	t.Setenv("SHUTDOWN_GRACE_SECONDS", "5")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Events.QueueSize)
	assert.Equal(t, 500, cfg.Cache.MaxEntries)
	assert.Equal(t, 3, cfg.Security.RateLimitAuthPerMin)
	assert.Equal(t, 5, cfg.Server.ShutdownGraceSeconds)
	assert.True(t, cfg.Ingest.CrossTenantUploadsAllowed)
}

func TestLoadConfigEventStoreDefaultsToDBURL(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost:5432/kpiops")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, cfg.Database.URL, cfg.Database.EventStoreURL)
}

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DB_URL", "")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database url")
}

func TestValidateConfigRejectsBadPort(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 0
	cfg.Database.URL = "postgres://localhost/x"

	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}
