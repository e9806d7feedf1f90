// Package config provides configuration for the dinematch server.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	WSPort       int `env:"WS_PORT" envDefault:"8090"`       // External WebSocket port
	HTTPPort     int `env:"HTTP_PORT" envDefault:"8080"`     // Public REST API
	InternalPort int `env:"INTERNAL_PORT" envDefault:"8091"` // /health, /metrics

	// Database
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:dinematch.db?cache=shared&mode=rwc&_txlock=immediate&_busy_timeout=5000"`

	// Auth settings
	JWTSecret string `env:"JWT_SECRET"`

	// WebSocket settings
	PingInterval   time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	WriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	ReadTimeout    time.Duration `env:"WS_READ_TIMEOUT" envDefault:"60s"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536"`

	// Session rules
	DefaultMaxMatches int `env:"DEFAULT_MAX_MATCHES" envDefault:"3"`
	DefaultMaxMembers int `env:"DEFAULT_MAX_MEMBERS" envDefault:"8"`

	// Store retries
	StoreRetryAttempts uint          `env:"STORE_RETRY_ATTEMPTS" envDefault:"3"`
	StoreRetryDelay    time.Duration `env:"STORE_RETRY_DELAY" envDefault:"25ms"`

	// Vote tally backend: memory or redis
	TallyBackend string        `env:"TALLY_BACKEND" envDefault:"memory"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisTTL     time.Duration `env:"REDIS_TALLY_TTL" envDefault:"24h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load loads configuration from environment variables. A parse error is
// returned alongside the defaults so the caller can log it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return Defaults(), err
	}
	return cfg, nil
}

// Defaults returns the configuration used when no environment is set.
func Defaults() *Config {
	return &Config{
		WSPort:             8090,
		HTTPPort:           8080,
		InternalPort:       8091,
		DatabaseURL:        "file:dinematch.db?cache=shared&mode=rwc&_txlock=immediate&_busy_timeout=5000",
		PingInterval:       30 * time.Second,
		WriteTimeout:       10 * time.Second,
		ReadTimeout:        60 * time.Second,
		MaxMessageSize:     65536,
		DefaultMaxMatches:  3,
		DefaultMaxMembers:  8,
		StoreRetryAttempts: 3,
		StoreRetryDelay:    25 * time.Millisecond,
		TallyBackend:       "memory",
		RedisAddr:          "localhost:6379",
		RedisTTL:           24 * time.Hour,
		LogLevel:           "info",
	}
}
