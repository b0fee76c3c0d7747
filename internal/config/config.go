package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	LogLevel    slog.Level

	DispatchBatchSize int
	EventTimeout      time.Duration
	ActionTimeout     time.Duration
	DispatchLockTTL   time.Duration
	ChurnThreshold    float64

	SMTP SMTPConfig

	EmailRateLimit  int
	EmailRateWindow time.Duration

	DispatchSchedule     string
	ContractScanSchedule string
	ContractAlertDays    int
}

// SMTPConfig is empty when no mail transport is configured.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),

		DispatchBatchSize: getEnvInt("DISPATCH_BATCH_SIZE", 50),
		EventTimeout:      getEnvDuration("EVENT_TIMEOUT", 30*time.Second),
		ActionTimeout:     getEnvDuration("ACTION_TIMEOUT", 10*time.Second),
		DispatchLockTTL:   getEnvDuration("DISPATCH_LOCK_TTL", 2*time.Minute),
		ChurnThreshold:    getEnvFloat("CHURN_THRESHOLD", 0.75),

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "noreply@localhost"),
		},

		EmailRateLimit:  getEnvInt("EMAIL_RATE_LIMIT", 0),
		EmailRateWindow: getEnvDuration("EMAIL_RATE_WINDOW", time.Hour),

		DispatchSchedule:     getEnv("DISPATCH_SCHEDULE", ""),
		ContractScanSchedule: getEnv("CONTRACT_SCAN_SCHEDULE", ""),
		ContractAlertDays:    getEnvInt("CONTRACT_ALERT_DAYS", 60),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.DispatchBatchSize <= 0 {
		return nil, fmt.Errorf("DISPATCH_BATCH_SIZE must be positive, got %d", cfg.DispatchBatchSize)
	}
	if math.IsNaN(cfg.ChurnThreshold) || cfg.ChurnThreshold <= 0 || cfg.ChurnThreshold >= 1 {
		return nil, fmt.Errorf("CHURN_THRESHOLD must be strictly between 0 and 1, got %v", cfg.ChurnThreshold)
	}

	return cfg, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
