// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Escrow settings
	MinOrderAmount    string        // Minimum order price in Kz
	MaxOrderAmount    string        // Maximum order price in Kz
	AutoReleaseWindow time.Duration // How long after seller delivery before auto-release
	OutboxInterval    time.Duration // How often the outbox relay drains pending events
	ReconcileInterval time.Duration // How often the reconciliation sweep runs

	// Security
	AdminSecret       string // Admin API secret (required outside development)
	ReceiptSigningKey string // HMAC key for receipt signatures
	RateLimitRPS      int
	AllowedOrigins    string // Comma-separated CORS origins, "*" in development

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint, tracing disabled when empty
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultMinOrderAmount    = "100"     // 100 Kz
	DefaultMaxOrderAmount    = "5000000" // 5M Kz
	DefaultAutoReleaseWindow = 72 * time.Hour
	DefaultOutboxInterval    = 5 * time.Second
	DefaultReconcileInterval = 10 * time.Minute
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		MinOrderAmount:    getEnv("MIN_ORDER_AMOUNT", DefaultMinOrderAmount),
		MaxOrderAmount:    getEnv("MAX_ORDER_AMOUNT", DefaultMaxOrderAmount),
		AutoReleaseWindow: getEnvDuration("AUTO_RELEASE_WINDOW", DefaultAutoReleaseWindow),
		OutboxInterval:    getEnvDuration("OUTBOX_INTERVAL", DefaultOutboxInterval),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		ReceiptSigningKey: os.Getenv("RECEIPT_SIGNING_KEY"),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if !c.IsDevelopment() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required outside development")
	}
	if !c.IsDevelopment() && c.ReceiptSigningKey == "" {
		return fmt.Errorf("RECEIPT_SIGNING_KEY is required outside development")
	}
	if c.AutoReleaseWindow < time.Minute {
		return fmt.Errorf("AUTO_RELEASE_WINDOW must be at least 1m")
	}
	if c.OutboxInterval < time.Second {
		return fmt.Errorf("OUTBOX_INTERVAL must be at least 1s")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
