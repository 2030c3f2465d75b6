// Package config populates all service settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	DBPath          string
	APIKey          string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	IngestBatchSize int

	// Reverse geocoding configuration.
	GeocodeEnabled   bool
	GeocodeURL       string
	GeocodeUserAgent string
	GeocodeTimeout   time.Duration
	GeocodeDelay     time.Duration
	GeocodeBatchSize int

	// Scoring configuration.
	ScoreWindowDays int
	ScoreMinRows    int

	// Optional Kafka stream ingest.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	geocodeTimeout, err := parseDuration("GEOCODE_TIMEOUT", "6s")
	if err != nil {
		return nil, err
	}
	geocodeDelay, err := parseDuration("GEOCODE_DELAY", "900ms")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		DBPath:          envOrDefault("DB_PATH", "roadpulse.db"),
		APIKey:          os.Getenv("API_KEY"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		IngestBatchSize: envInt("INGEST_BATCH_SIZE", 500),

		GeocodeEnabled:   envBool("GEOCODE_ENABLED", false),
		GeocodeURL:       envOrDefault("GEOCODE_URL", "https://nominatim.openstreetmap.org"),
		GeocodeUserAgent: envOrDefault("GEOCODE_USER_AGENT", "roadpulse-etl/1.0"),
		GeocodeTimeout:   geocodeTimeout,
		GeocodeDelay:     geocodeDelay,
		GeocodeBatchSize: envInt("GEOCODE_BATCH_SIZE", 50),

		ScoreWindowDays: envInt("SCORE_WINDOW_DAYS", 7),
		ScoreMinRows:    envInt("SCORE_MIN_ROWS", 5),

		KafkaEnabled: envBool("KAFKA_ENABLED", false),
		KafkaBrokers: parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "road-telemetry"),
		KafkaGroupID: envOrDefault("KAFKA_GROUP_ID", "road-telemetry-etl"),
	}

	if cfg.DBPath == "" {
		return nil, errors.New("DB_PATH is required")
	}
	if cfg.ScoreWindowDays <= 0 {
		return nil, errors.New("SCORE_WINDOW_DAYS must be positive")
	}
	if cfg.ScoreMinRows <= 0 {
		return nil, errors.New("SCORE_MIN_ROWS must be positive")
	}
	if cfg.GeocodeEnabled && cfg.GeocodeURL == "" {
		return nil, errors.New("GEOCODE_ENABLED is true but GEOCODE_URL is not set")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true"
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	s := envOrDefault(key, fallback)
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
