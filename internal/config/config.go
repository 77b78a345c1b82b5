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
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)

	// Risk scoring thresholds
	RiskLowThreshold    int // score <= low  => low risk
	RiskMediumThreshold int // score <= med  => medium risk, above => high

	// Velocity limits (transactions per trailing 10 minutes)
	SoftVelocityThreshold int // at or above: confirmation required
	HardVelocityThreshold int // at or above: immediate block + freeze

	// Confirmation and freeze behavior
	ConfirmationTimeout   time.Duration // window for confirming a held transaction
	DefaultFreezeDuration time.Duration // freeze length when an account has none configured

	// Impossible-travel tunable
	MaxTravelSpeedKmh float64

	// AlertWebhookURL mirrors recorded alerts to an external sink (optional)
	AlertWebhookURL string

	// Security
	RateLimitRPM int
}

// Defaults
const (
	DefaultPort                  = "8080"
	DefaultEnv                   = "development"
	DefaultLogLevel              = "info"
	DefaultRiskLowThreshold      = 30
	DefaultRiskMediumThreshold   = 60
	DefaultSoftVelocity          = 3
	DefaultHardVelocity          = 5
	DefaultConfirmationTimeout   = 60 * time.Second
	DefaultFreezeDurationMinutes = 30
	DefaultMaxTravelSpeedKmh     = 900 // commercial airliner
	DefaultRateLimitRPM          = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RiskLowThreshold:      getEnvInt("RISK_LOW_THRESHOLD", DefaultRiskLowThreshold),
		RiskMediumThreshold:   getEnvInt("RISK_MEDIUM_THRESHOLD", DefaultRiskMediumThreshold),
		SoftVelocityThreshold: getEnvInt("SOFT_VELOCITY_THRESHOLD", DefaultSoftVelocity),
		HardVelocityThreshold: getEnvInt("HARD_VELOCITY_THRESHOLD", DefaultHardVelocity),
		ConfirmationTimeout:   getEnvDuration("CONFIRMATION_TIMEOUT", DefaultConfirmationTimeout),
		DefaultFreezeDuration: getEnvDuration("DEFAULT_FREEZE_DURATION", DefaultFreezeDurationMinutes*time.Minute),
		MaxTravelSpeedKmh:     getEnvFloat("MAX_TRAVEL_SPEED_KMH", DefaultMaxTravelSpeedKmh),
		AlertWebhookURL:       os.Getenv("ALERT_WEBHOOK_URL"),
		RateLimitRPM:          getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configured thresholds are coherent
func (c *Config) Validate() error {
	if c.RiskLowThreshold < 0 || c.RiskMediumThreshold > 100 {
		return fmt.Errorf("risk thresholds must lie within [0,100]")
	}
	if c.RiskLowThreshold >= c.RiskMediumThreshold {
		return fmt.Errorf("RISK_LOW_THRESHOLD must be below RISK_MEDIUM_THRESHOLD")
	}
	if c.SoftVelocityThreshold <= 0 || c.HardVelocityThreshold <= 0 {
		return fmt.Errorf("velocity thresholds must be positive")
	}
	if c.SoftVelocityThreshold > c.HardVelocityThreshold {
		return fmt.Errorf("SOFT_VELOCITY_THRESHOLD cannot exceed HARD_VELOCITY_THRESHOLD")
	}
	if c.ConfirmationTimeout <= 0 {
		return fmt.Errorf("CONFIRMATION_TIMEOUT must be positive")
	}
	if c.MaxTravelSpeedKmh <= 0 {
		return fmt.Errorf("MAX_TRAVEL_SPEED_KMH must be positive")
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
