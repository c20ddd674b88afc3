package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	InstanceID  string
	LogLevel    slog.Level
	Presence    PresenceConfig
}

// PresenceConfig holds the timing knobs of the presence lifecycle.
type PresenceConfig struct {
	AwayThreshold    time.Duration
	OfflineThreshold time.Duration
	SweepInterval    time.Duration
	FocusGrace       time.Duration
	BuddyTTL         time.Duration
	RecoveryWindow   time.Duration
	StoreTimeout     time.Duration
	StoreRetries     uint64
}

func DefaultPresenceConfig() PresenceConfig {
	return PresenceConfig{
		AwayThreshold:    5 * time.Minute,
		OfflineThreshold: 15 * time.Minute,
		SweepInterval:    60 * time.Second,
		FocusGrace:       5 * time.Minute,
		BuddyTTL:         2 * time.Hour,
		RecoveryWindow:   5 * time.Minute,
		StoreTimeout:     2 * time.Second,
		StoreRetries:     3,
	}
}

func LoadConfig() (*Config, error) {
	presence, err := loadPresenceConfig()
	if err != nil {
		return nil, err
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		InstanceID:  getEnv("INSTANCE_ID", uuid.NewString()),
		LogLevel:    level,
		Presence:    presence,
	}

	// Validate required fields
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

func loadPresenceConfig() (PresenceConfig, error) {
	p := DefaultPresenceConfig()

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"PRESENCE_AWAY_THRESHOLD", &p.AwayThreshold},
		{"PRESENCE_OFFLINE_THRESHOLD", &p.OfflineThreshold},
		{"PRESENCE_SWEEP_INTERVAL", &p.SweepInterval},
		{"PRESENCE_FOCUS_GRACE", &p.FocusGrace},
		{"PRESENCE_BUDDY_TTL", &p.BuddyTTL},
		{"PRESENCE_RECOVERY_WINDOW", &p.RecoveryWindow},
		{"PRESENCE_STORE_TIMEOUT", &p.StoreTimeout},
	}
	for _, d := range durations {
		raw := os.Getenv(d.key)
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return p, fmt.Errorf("invalid %s format", d.key)
		}
		if parsed <= 0 {
			return p, fmt.Errorf("%s must be positive", d.key)
		}
		*d.target = parsed
	}

	if raw := os.Getenv("PRESENCE_STORE_RETRIES"); raw != "" {
		retries, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return p, errors.New("invalid PRESENCE_STORE_RETRIES format")
		}
		p.StoreRetries = retries
	}

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (p PresenceConfig) Validate() error {
	if p.AwayThreshold >= p.OfflineThreshold {
		return errors.New("PRESENCE_AWAY_THRESHOLD must be shorter than PRESENCE_OFFLINE_THRESHOLD")
	}
	if p.SweepInterval <= 0 || p.StoreTimeout <= 0 {
		return errors.New("presence intervals must be positive")
	}
	return nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(raw))); err != nil {
		return level, fmt.Errorf("invalid LOG_LEVEL %q", raw)
	}
	return level, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
