package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "default", cfg.Server.ProjectID)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, "@every 5m", cfg.Refresh.Schedule)
	assert.Equal(t, 5*time.Second, cfg.Backoff())
	assert.Equal(t, time.Minute, cfg.StateTTL())
	assert.Equal(t, 10000, cfg.Redis.LocalMaxEntries)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_SERVER_ADDR", ":9999")
	t.Setenv("APP_POSTGRES_HOST", "db")
	t.Setenv("APP_POSTGRES_PORT", "6543")
	t.Setenv("APP_REDIS_ADDR", "cache:6379")
	t.Setenv("APP_REFRESH_SCHEDULE", "@every 1m")

	cfg := Load()

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, "@every 1m", cfg.Refresh.Schedule)
	assert.Equal(t, "postgres://:@db:6543/?sslmode=disable", cfg.DSN())
}

func TestSetupLogging_DoesNotPanic(t *testing.T) {
	for _, level := range []string{"debug", "WARN", "error", "", "nonsense"} {
		assert.NotPanics(t, func() { SetupLogging(level) })
	}
}
