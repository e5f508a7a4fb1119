// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	UpstreamBaseURL string
	UpstreamAPIKey  string
	PlayerDBBaseURL string

	SyncInterval       time.Duration
	FullReloadInterval time.Duration
	ReloadWorkers      int
	DispatcherCooldown time.Duration

	HeartbeatInterval     time.Duration
	IdentifyTimeout       time.Duration
	SessionRemovalTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/auctions.db"),

		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", "https://api.hypixel.net"),
		UpstreamAPIKey:  getEnv("UPSTREAM_API_KEY", ""),
		PlayerDBBaseURL: getEnv("PLAYERDB_BASE_URL", "https://sessionserver.mojang.com"),

		SyncInterval:       getEnvDuration("SYNC_INTERVAL", time.Minute),
		FullReloadInterval: getEnvDuration("FULL_RELOAD_INTERVAL", 6*time.Hour),
		ReloadWorkers:      getEnvInt("RELOAD_WORKERS", 4),
		DispatcherCooldown: getEnvDuration("DISPATCHER_COOLDOWN", time.Minute),

		HeartbeatInterval:     getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		IdentifyTimeout:       getEnvDuration("IDENTIFY_TIMEOUT", 10*time.Second),
		SessionRemovalTimeout: getEnvDuration("SESSION_REMOVAL_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.UpstreamAPIKey == "" {
		return fmt.Errorf("UPSTREAM_API_KEY cannot be empty")
	}
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL cannot be empty")
	}
	if c.ReloadWorkers <= 0 {
		return fmt.Errorf("RELOAD_WORKERS must be > 0")
	}
	if c.SyncInterval <= 0 || c.FullReloadInterval <= 0 {
		return fmt.Errorf("sync intervals must be > 0")
	}
	if c.HeartbeatInterval <= 0 || c.IdentifyTimeout <= 0 || c.SessionRemovalTimeout <= 0 {
		return fmt.Errorf("session timeouts must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
