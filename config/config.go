package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every runtime knob the binary reads. Values come from the
// environment; cmd/api loads a .env file first when one is present.
type Config struct {
	DatabaseURL string
	HTTPAddr    string
	JWTSecret   string

	RedisAddr     string
	RedisPassword string

	ClassifierURL     string
	ClassifierTimeout time.Duration

	// DailyIssueLimit caps issue creation per reporter per 24h window.
	// Zero disables the limiter.
	DailyIssueLimit int

	LogLevel string
}

// Load reads configuration from the environment. DATABASE_URL and
// JWT_SECRET are mandatory; everything else has a sensible default.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		ClassifierURL:     os.Getenv("CLASSIFIER_URL"),
		ClassifierTimeout: 5 * time.Second,
		DailyIssueLimit:   5,
		LogLevel:          getenv("LOG_LEVEL", "info"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}

	if v := os.Getenv("CLASSIFIER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse CLASSIFIER_TIMEOUT: %w", err)
		}
		cfg.ClassifierTimeout = d
	}
	if v := os.Getenv("DAILY_ISSUE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse DAILY_ISSUE_LIMIT: %w", err)
		}
		cfg.DailyIssueLimit = n
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
