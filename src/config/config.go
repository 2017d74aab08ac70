// Package config loads and validates the live workout session server's
// configuration from environment variables (optionally populated from a
// .env file in development).
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all runtime configuration. Loaded once at startup;
// changes require a restart.
type Config struct {
	// Port is the HTTP/WebSocket listen port.
	Port string
	// BehindProxy controls whether client-IP extraction trusts
	// CF-Connecting-IP / X-Forwarded-For / X-Real-IP headers.
	BehindProxy bool
	// DatabaseURL is the Postgres connection string backing the store.
	DatabaseURL string
	// HeartbeatInterval is how often a participant writes a liveness
	// heartbeat.
	HeartbeatInterval time.Duration
	// HeartbeatScanInterval is how often the background scanner sweeps
	// active sessions for stale heartbeats.
	HeartbeatScanInterval time.Duration
	// HeartbeatStaleAfter is the age at which a heartbeat is considered
	// stale and the participant treated as left.
	HeartbeatStaleAfter time.Duration
	// StrictSyncTimeout is the strict-sync barrier's fallback window.
	StrictSyncTimeout time.Duration
}

// Load reads configuration from the environment and validates required
// fields, falling back to sane defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                  getenv("PORT", "8080"),
		BehindProxy:           getenv("BEHIND_PROXY", "false") == "true",
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		HeartbeatInterval:     getDuration("HEARTBEAT_INTERVAL", 15*time.Second),
		HeartbeatScanInterval: getDuration("HEARTBEAT_SCAN_INTERVAL", 20*time.Second),
		HeartbeatStaleAfter:   getDuration("HEARTBEAT_STALE_AFTER", 45*time.Second),
		StrictSyncTimeout:     getDuration("STRICT_SYNC_TIMEOUT", 60*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
