package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Arrivals    ArrivalsConfig
	Poll        PollConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL              string
	IngestExchange   string
	IngestQueue      string
	IngestRoutingKey string
	EventsExchange   string
	EventsRoutingKey string
	DLQQueue         string
	PrefetchCount    int
}

// ArrivalsConfig holds upstream arrivals API settings
type ArrivalsConfig struct {
	BaseURL        string
	AppKey         string
	TimeoutSeconds int
}

// PollConfig holds live poller settings. Load enforces the minimums.
type PollConfig struct {
	Enabled          bool
	IntervalSeconds  int
	Concurrency      int
	StaggerMS        int
	MaxAttempts      int
	BackoffBaseMS    int
	StalenessSeconds int
	RecentCapacity   int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "fleet-tracker"),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              getEnv("RABBITMQ_URL", ""),
			IngestExchange:   getEnv("RABBITMQ_INGEST_EXCHANGE", "routeflow.observations.exchange"),
			IngestQueue:      getEnv("RABBITMQ_INGEST_QUEUE", "routeflow.observations.queue"),
			IngestRoutingKey: getEnv("RABBITMQ_INGEST_ROUTING_KEY", "vehicle.observation.raw"),
			EventsExchange:   getEnv("RABBITMQ_EVENTS_EXCHANGE", "routeflow.sightings.exchange"),
			EventsRoutingKey: getEnv("RABBITMQ_EVENTS_ROUTING_KEY", "vehicle.sighting.processed"),
			DLQQueue:         getEnv("RABBITMQ_DLQ_QUEUE", "routeflow.observations.dlq"),
			PrefetchCount:    getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Arrivals: ArrivalsConfig{
			BaseURL:        strings.TrimRight(getEnv("ARRIVALS_API_BASE_URL", "https://api.tfl.gov.uk"), "/"),
			AppKey:         getEnv("ARRIVALS_API_KEY", ""),
			TimeoutSeconds: getEnvAsInt("HTTP_TIMEOUT_SECONDS", 15),
		},
		Poll: PollConfig{
			Enabled:          getEnvAsBool("POLL_ENABLED", true),
			IntervalSeconds:  getEnvAsInt("POLL_INTERVAL_SECONDS", 60),
			Concurrency:      getEnvAsInt("POLL_CONCURRENCY", 4),
			StaggerMS:        getEnvAsInt("POLL_STAGGER_MS", 50),
			MaxAttempts:      getEnvAsInt("POLL_MAX_ATTEMPTS", 3),
			BackoffBaseMS:    getEnvAsInt("POLL_BACKOFF_BASE_MS", 250),
			StalenessSeconds: getEnvAsInt("POLL_STALENESS_SECONDS", 300),
			RecentCapacity:   getEnvAsInt("POLL_RECENT_CAPACITY", 500),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}

	// Clamp poller knobs to their minimums
	if cfg.Poll.IntervalSeconds < 5 {
		cfg.Poll.IntervalSeconds = 5
	}
	if cfg.Poll.Concurrency < 1 {
		cfg.Poll.Concurrency = 1
	}
	if cfg.Poll.MaxAttempts < 1 {
		cfg.Poll.MaxAttempts = 1
	}
	if cfg.Poll.StalenessSeconds < 10 {
		cfg.Poll.StalenessSeconds = 10
	}
	if cfg.Poll.RecentCapacity < 1 {
		cfg.Poll.RecentCapacity = 500
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
