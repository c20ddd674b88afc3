package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("INSTANCE_ID", "node-a")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "node-a", cfg.InstanceID)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, DefaultPresenceConfig(), cfg.Presence)
	assert.Empty(t, cfg.DatabaseURL, "statistics are optional")
}

func TestLoadConfig_RequiredFields(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "secret")

	_, err := LoadConfig()
	assert.EqualError(t, err, "REDIS_URL is required")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "")

	_, err = LoadConfig()
	assert.EqualError(t, err, "JWT_SECRET is required")
}

func TestLoadConfig_PresenceOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PRESENCE_AWAY_THRESHOLD", "2m")
	t.Setenv("PRESENCE_OFFLINE_THRESHOLD", "10m")
	t.Setenv("PRESENCE_SWEEP_INTERVAL", "15s")
	t.Setenv("PRESENCE_STORE_RETRIES", "5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Presence.AwayThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Presence.OfflineThreshold)
	assert.Equal(t, 15*time.Second, cfg.Presence.SweepInterval)
	assert.Equal(t, uint64(5), cfg.Presence.StoreRetries)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadConfig_InvalidPresence(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "secret")

	t.Setenv("PRESENCE_SWEEP_INTERVAL", "soon")
	_, err := LoadConfig()
	assert.EqualError(t, err, "invalid PRESENCE_SWEEP_INTERVAL format")

	t.Setenv("PRESENCE_SWEEP_INTERVAL", "-1s")
	_, err = LoadConfig()
	assert.EqualError(t, err, "PRESENCE_SWEEP_INTERVAL must be positive")

	t.Setenv("PRESENCE_SWEEP_INTERVAL", "")
	t.Setenv("PRESENCE_AWAY_THRESHOLD", "20m")
	_, err = LoadConfig()
	assert.Error(t, err, "away threshold must be shorter than offline threshold")
}
