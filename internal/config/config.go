// Package config loads server configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/tasknexus/backend/internal/logging"
	"github.com/tasknexus/backend/internal/sync/conflict"
)

// Config holds all server settings.
type Config struct {
	Port    string
	Env     string
	DataDir string

	RemoteBaseURL string
	RemoteAPIKey  string
	SourceID      string
	RemoteTimeout time.Duration

	SyncInterval      time.Duration
	SyncStrategy      conflict.Strategy
	DisableResilience bool
	ServerSideDelta   bool

	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables win over it.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		logging.Debug("Loaded .env file", nil)
	}

	cfg := Config{
		Port:    getEnv("PORT", "8080"),
		Env:     getEnv("ENV", "development"),
		DataDir: getEnv("DATA_DIR", "./data"),

		RemoteBaseURL: getEnv("REMOTE_BASE_URL", "http://localhost:9090"),
		RemoteAPIKey:  getEnv("REMOTE_API_KEY", ""),
		SourceID:      getEnv("SOURCE_ID", "tasknexus-local"),
		RemoteTimeout: getDuration("REMOTE_TIMEOUT", 30*time.Second),

		SyncInterval:      getDuration("SYNC_INTERVAL", 5*time.Minute),
		SyncStrategy:      conflict.Strategy(getEnv("SYNC_STRATEGY", string(conflict.StrategyRemoteWins))),
		DisableResilience: getBool("SYNC_DISABLE_RESILIENCE", false),
		ServerSideDelta:   getBool("SYNC_SERVER_SIDE_DELTA", false),

		RateLimitPerSecond: getFloat("RATE_LIMIT_PER_SECOND", 20),
		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 40),
	}

	if !cfg.SyncStrategy.IsValid() {
		logging.Warn("Unknown sync strategy, falling back to remote_wins",
			map[string]interface{}{"strategy": string(cfg.SyncStrategy)})
		cfg.SyncStrategy = conflict.StrategyRemoteWins
	}

	if cfg.Env == "production" && cfg.RemoteAPIKey == "" {
		logging.Error("REMOTE_API_KEY must be set in production environment", nil, nil)
		os.Exit(1)
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logging.Warn("Invalid duration value, using default",
			map[string]interface{}{"key": key, "value": v})
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
