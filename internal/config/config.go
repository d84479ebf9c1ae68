// Package config loads application configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration
type Config struct {
	Server ServerConfig
	Relay  RelayConfig
	Routes RoutesConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// RelayConfig holds the notification pipeline settings
type RelayConfig struct {
	// SpamScoreThreshold marks notifications above it as high-alert
	SpamScoreThreshold float64 `validate:"gte=0"`
	// TextLimit is the body truncation limit in Unicode code points
	TextLimit int `validate:"gt=0"`
	// SpamMarker prefixes subjects that suppress delivery entirely
	SpamMarker string `validate:"required"`
	// MaxUploadBytes bounds the in-memory share of an inbound form
	MaxUploadBytes int64 `validate:"gt=0"`
	// Username and AvatarURL override the notification envelope identity
	Username  string
	AvatarURL string `validate:"omitempty,url"`
	// RateLimit requests per RateWindow per client IP; zero disables
	RateLimit  int           `validate:"gte=0"`
	RateWindow time.Duration `validate:"gte=0"`
}

// RoutesConfig holds routing table configuration. RedisAddr selects the
// Redis-backed table; an empty RedisAddr falls back to the YAML file.
type RoutesConfig struct {
	File          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int `validate:"gte=0"`
	KeyPrefix     string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Relay: RelayConfig{
			SpamScoreThreshold: getFloatEnv("SPAM_SCORE_THRESHOLD", 5.0),
			TextLimit:          getIntEnv("RELAY_TEXT_LIMIT", 1000),
			SpamMarker:         getEnv("RELAY_SPAM_MARKER", "[SPAM]"),
			MaxUploadBytes:     getInt64Env("RELAY_MAX_UPLOAD_BYTES", 32<<20),
			Username:           getEnv("RELAY_USERNAME", ""),
			AvatarURL:          getEnv("RELAY_AVATAR_URL", ""),
			RateLimit:          getIntEnv("RELAY_RATE_LIMIT", 0),
			RateWindow:         getDurationEnv("RELAY_RATE_WINDOW", time.Minute),
		},
		Routes: RoutesConfig{
			File:          getEnv("ROUTES_FILE", "routes.yaml"),
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getIntEnv("REDIS_DB", 0),
			KeyPrefix:     getEnv("ROUTE_KEY_PREFIX", "webhook:"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns an integer from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getInt64Env returns a 64-bit integer from environment variable or default
func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

// getFloatEnv returns a float from environment variable or default
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getDurationEnv returns a duration from environment variable or default
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
