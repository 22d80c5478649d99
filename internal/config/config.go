// Package config loads service settings from environment variables,
// applying defaults and validating before the pipeline starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HubURL             string
	HubToken           string
	HubPingInterval    time.Duration
	HubPongTimeout     time.Duration
	HubMaxAuthFailures int
	HubBufferSize      int

	WeatherURL     string
	WeatherAPIKey  string
	WeatherLat     float64
	WeatherLon     float64
	WeatherTTL     time.Duration
	WeatherTimeout time.Duration
	WeatherEnabled bool

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	ForwardRetries          int

	BatchSize          int
	BatchFlushInterval time.Duration
	BatchMaxRetries    int

	InfluxURL         string
	InfluxToken       string
	InfluxOrg         string
	InfluxBucket      string
	InfluxMeasurement string

	KafkaDLQBrokers []string
	KafkaDLQTopic   string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// GetLogLevel returns the configured log level.
func (c *Config) GetLogLevel() string { return c.LogLevel }

// GetLogFormat returns the configured log format.
func (c *Config) GetLogFormat() string { return c.LogFormat }

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	cfg := &Config{
		HubURL:   os.Getenv("HUB_URL"),
		HubToken: os.Getenv("HUB_TOKEN"),

		WeatherURL:    os.Getenv("WEATHER_URL"),
		WeatherAPIKey: os.Getenv("WEATHER_API_KEY"),

		InfluxURL:         envOrDefault("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:       os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:         envOrDefault("INFLUX_ORG", "home"),
		InfluxBucket:      envOrDefault("INFLUX_BUCKET", "events"),
		InfluxMeasurement: envOrDefault("INFLUX_MEASUREMENT", "state_changed"),

		KafkaDLQBrokers: parseBrokers(os.Getenv("KAFKA_DLQ_BROKERS")),
		KafkaDLQTopic:   envOrDefault("KAFKA_DLQ_TOPIC", "homestream-dead-letters"),

		HTTPAddr:  envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.HubPingInterval, err = parseDuration("HUB_PING_INTERVAL", "30s"); err != nil {
		return nil, err
	}
	if cfg.HubPongTimeout, err = parseDuration("HUB_PONG_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.HubMaxAuthFailures, err = parseInt("HUB_MAX_AUTH_FAILURES", 3); err != nil {
		return nil, err
	}
	if cfg.HubBufferSize, err = parseInt("HUB_BUFFER_SIZE", 1000); err != nil {
		return nil, err
	}

	if cfg.WeatherLat, err = parseFloat("WEATHER_LAT", 0); err != nil {
		return nil, err
	}
	if cfg.WeatherLon, err = parseFloat("WEATHER_LON", 0); err != nil {
		return nil, err
	}
	if cfg.WeatherTTL, err = parseDuration("WEATHER_TTL", "5m"); err != nil {
		return nil, err
	}
	if cfg.WeatherTimeout, err = parseDuration("WEATHER_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	cfg.WeatherEnabled = cfg.WeatherAPIKey != ""
	if v := os.Getenv("WEATHER_ENABLED"); v != "" {
		cfg.WeatherEnabled = v == "true"
	}

	if cfg.BreakerFailureThreshold, err = parseInt("BREAKER_FAILURE_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if cfg.BreakerCooldown, err = parseDuration("BREAKER_COOLDOWN", "30s"); err != nil {
		return nil, err
	}
	if cfg.ForwardRetries, err = parseInt("FORWARD_RETRIES", 2); err != nil {
		return nil, err
	}

	if cfg.BatchSize, err = parseInt("BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.BatchFlushInterval, err = parseDuration("BATCH_FLUSH_INTERVAL", "5s"); err != nil {
		return nil, err
	}
	if cfg.BatchMaxRetries, err = parseInt("BATCH_MAX_RETRIES", 3); err != nil {
		return nil, err
	}

	if cfg.ShutdownTimeout, err = parseDuration("SHUTDOWN_TIMEOUT", "30s"); err != nil {
		return nil, err
	}

	if cfg.HubURL == "" {
		return nil, fmt.Errorf("HUB_URL is required")
	}
	if !strings.HasPrefix(cfg.HubURL, "ws://") && !strings.HasPrefix(cfg.HubURL, "wss://") {
		return nil, fmt.Errorf("HUB_URL must be a ws:// or wss:// URL")
	}
	if cfg.HubToken == "" {
		return nil, fmt.Errorf("HUB_TOKEN is required")
	}
	if cfg.WeatherEnabled && cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_ENABLED is true but WEATHER_API_KEY is not set")
	}
	if cfg.InfluxToken == "" {
		return nil, fmt.Errorf("INFLUX_TOKEN is required")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}
