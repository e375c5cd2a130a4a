// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the service configuration from GTMC_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// knownWeakSecrets contains default/example secrets that must be rejected.
var knownWeakSecrets = []string{
	"change-me-to-32-byte-secret-key!",
	"REPLACE_WITH_YOUR_OWN_SECRET_KEY!",
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath        string `env:"GTMC_DB_PATH" envDefault:"./data/gtmconsent.db"`
	SessionSecret string `env:"GTMC_SESSION_SECRET,required"`
	ServerHost    string `env:"GTMC_SERVER_HOST" envDefault:"localhost"`
	ServerPort    int    `env:"GTMC_SERVER_PORT" envDefault:"8080"`
	Env           string `env:"GTMC_ENV" envDefault:"development"`
	LogLevel      string `env:"GTMC_LOG_LEVEL" envDefault:"info"`

	// Admin account
	AdminUser         string `env:"GTMC_ADMIN_USER" envDefault:"admin"`
	AdminPasswordHash string `env:"GTMC_ADMIN_PASSWORD_HASH"` // argon2id, see -hash-password

	// Cache configuration
	RedisURL    string        `env:"GTMC_REDIS_URL"` // Optional, memory cache otherwise
	CachePrefix string        `env:"GTMC_CACHE_PREFIX" envDefault:"gtmc:"`
	GeoCacheTTL time.Duration `env:"GTMC_GEO_CACHE_TTL" envDefault:"24h"`

	// Geolocation
	GeoIPDBPath string        `env:"GTMC_GEOIP_DB_PATH"` // GeoLite2-City.mmdb, tried before the HTTP API
	GeoAPIURL   string        `env:"GTMC_GEO_API_URL" envDefault:"http://ip-api.com/json"`
	GeoDisabled bool          `env:"GTMC_GEO_DISABLED" envDefault:"false"`
	GeoTimeout  time.Duration `env:"GTMC_GEO_TIMEOUT" envDefault:"3s"`

	// Consent API
	DedupeWindow time.Duration `env:"GTMC_DEDUPE_WINDOW" envDefault:"10s"`
	ConsentRPS   float64       `env:"GTMC_CONSENT_RPS" envDefault:"5"`
	ConsentBurst int           `env:"GTMC_CONSENT_BURST" envDefault:"10"`
}

// IsDevelopment returns true if the application is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// UseRedisCache returns true if Redis caching is configured.
func (c Config) UseRedisCache() bool {
	return c.RedisURL != ""
}

// GeoIPEnabled returns true if a local MaxMind database is configured.
func (c Config) GeoIPEnabled() bool {
	return c.GeoIPDBPath != "" && !c.GeoDisabled
}

// AdminEnabled returns true if an admin password hash is configured.
func (c Config) AdminEnabled() bool {
	return c.AdminUser != "" && c.AdminPasswordHash != ""
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// MinSessionSecretLength is the minimum required length for the session secret.
const MinSessionSecretLength = 32

// Load parses environment variables and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if !hasMinimumEntropy(cfg.SessionSecret) {
		slog.Warn("GTMC_SESSION_SECRET has low character diversity; " +
			"consider generating a random secret with: openssl rand -base64 32")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.SessionSecret) < MinSessionSecretLength {
		return fmt.Errorf("GTMC_SESSION_SECRET must be at least %d bytes long, got %d bytes; "+
			"generate a secure secret with: openssl rand -base64 32",
			MinSessionSecretLength, len(c.SessionSecret))
	}
	for _, weak := range knownWeakSecrets {
		if c.SessionSecret == weak {
			return fmt.Errorf("GTMC_SESSION_SECRET is a known default value and must not be used; " +
				"generate a secure secret with: openssl rand -base64 32")
		}
	}

	switch c.Env {
	case "development", "production":
	default:
		return fmt.Errorf("GTMC_ENV must be development or production, got %q", c.Env)
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("GTMC_SERVER_PORT out of range: %d", c.ServerPort)
	}
	if c.ConsentRPS <= 0 || c.ConsentBurst <= 0 {
		return fmt.Errorf("GTMC_CONSENT_RPS and GTMC_CONSENT_BURST must be positive")
	}
	if c.DedupeWindow < 0 {
		return fmt.Errorf("GTMC_DEDUPE_WINDOW must not be negative")
	}
	if c.GeoTimeout <= 0 {
		return fmt.Errorf("GTMC_GEO_TIMEOUT must be positive")
	}
	return nil
}

// hasMinimumEntropy checks that a secret contains at least 3 character classes
// (lowercase, uppercase, digits, special characters).
func hasMinimumEntropy(s string) bool {
	charTypes := 0
	if strings.ContainsAny(s, "abcdefghijklmnopqrstuvwxyz") {
		charTypes++
	}
	if strings.ContainsAny(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		charTypes++
	}
	if strings.ContainsAny(s, "0123456789") {
		charTypes++
	}
	if strings.ContainsAny(s, "!@#$%^&*()-_=+[]{}|;:,.<>?/~`'\"\\") {
		charTypes++
	}
	return charTypes >= 3
}
