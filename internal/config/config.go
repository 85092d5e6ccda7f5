// Package config loads process configuration from the environment and
// detection rules from a rules file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all process configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Engine
	RulesFile         string
	HistoryWindowSize int
	MaxConcurrency    int

	// Market rates
	RatesAPIURL       string
	RatesBaseCurrency string
	RatesCacheTTL     time.Duration

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration

	// Observability
	OTLPEndpoint string

	// Storage
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ProfileTTL    time.Duration

	// Alert delivery
	KafkaBrokers []string
	AlertTopic   string

	// Reviewer auth
	JWTSecret    string
	JWTAccessTTL time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RulesFile:         getEnv("RULES_FILE", ""),
		HistoryWindowSize: getEnvInt("HISTORY_WINDOW_SIZE", 100),
		MaxConcurrency:    getEnvInt("MAX_CONCURRENCY", 16),

		RatesAPIURL:       getEnv("RATES_API_URL", ""),
		RatesBaseCurrency: getEnv("RATES_BASE_CURRENCY", "USD"),
		RatesCacheTTL:     getEnvDuration("RATES_CACHE_TTL", 5*time.Minute),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		ProfileTTL:    getEnvDuration("PROFILE_TTL", 0),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		AlertTopic:   getEnv("ALERT_TOPIC", "risk.alerts"),

		JWTSecret:    getEnv("JWT_SECRET", "risk-engine-dev-secret-change-me"),
		JWTAccessTTL: getEnvDuration("JWT_ACCESS_TTL", time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
