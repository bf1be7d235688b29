package config

import (
	"encoding/hex"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// devSecretKey is the compiled-in development fallback for the at-rest
// encryption key. Production refuses to start without an explicit key.
const devSecretKey = "courier-dev-only-32-byte-secret!"

// Config holds all configuration for the application.
type Config struct {
	Port        string
	GatewayAddr string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// SecretKey is the 32-byte AES key for at-rest message encryption.
	SecretKey []byte
	// UsingDevKey is true when SecretKey fell back to the compiled-in
	// development key.
	UsingDevKey bool

	SessionTTL  time.Duration
	CORSOrigins []string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GatewayAddr: getEnv("GATEWAY_ADDR", ":8081"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SessionTTL:  parseDuration(getEnv("SESSION_TTL", "72h")),
	}

	// Parse CORS origins (comma-separated)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, entry := range strings.Split(origins, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, entry)
			}
		}
	} else {
		cfg.CORSOrigins = []string{"*"}
	}

	cfg.SecretKey, cfg.UsingDevKey = loadSecretKey()

	// In production, require an explicit key and redis URL
	if cfg.Env == "production" {
		if cfg.UsingDevKey {
			panic("SECRET_KEY is required in production")
		}
		if os.Getenv("REDIS_URL") == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// loadSecretKey reads SECRET_KEY as 64 hex chars or a raw 32-byte string,
// falling back to the development key when unset.
func loadSecretKey() ([]byte, bool) {
	raw := os.Getenv("SECRET_KEY")
	if raw == "" {
		return []byte(devSecretKey), true
	}

	if len(raw) == 64 {
		if key, err := hex.DecodeString(raw); err == nil {
			return key, false
		}
	}
	if len(raw) == 32 {
		return []byte(raw), false
	}

	panic("SECRET_KEY must be 32 raw bytes or 64 hex characters")
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func parseDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		panic("invalid duration: " + value)
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
