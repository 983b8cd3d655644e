package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (rate limiting)
	Redis RedisConfig

	// Resolution cache configuration
	Cache CacheConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Consistency sweep configuration
	Consistency ConsistencyConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration for the rate limiter
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// CacheConfig holds resolution cache configuration
type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string
	MetricsEnabled bool
}

// ConsistencyConfig holds the periodic closure verification settings
type ConsistencyConfig struct {
	Enabled  bool
	Schedule string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("ARBOR_HOST", "0.0.0.0"),
			Port:            getEnv("ARBOR_PORT", "8080"),
			ReadTimeout:     getEnvDuration("ARBOR_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("ARBOR_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("ARBOR_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("ARBOR_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("ARBOR_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("ARBOR_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("ARBOR_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("ARBOR_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("ARBOR_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("ARBOR_REDIS_ENABLED", false),
			Addr:     getEnv("ARBOR_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("ARBOR_REDIS_PASSWORD", ""),
			DB:       getEnvInt("ARBOR_REDIS_DB", 0),
		},
		Cache: CacheConfig{
			MaxEntries: getEnvInt("ARBOR_CACHE_MAX_ENTRIES", 100000),
			TTL:        getEnvDuration("ARBOR_CACHE_TTL", 5*time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("ARBOR_LOG_LEVEL", "info"),
			MetricsEnabled: getEnvBool("ARBOR_METRICS_ENABLED", true),
		},
		Consistency: ConsistencyConfig{
			Enabled:  getEnvBool("ARBOR_CONSISTENCY_SWEEP_ENABLED", true),
			Schedule: getEnv("ARBOR_CONSISTENCY_SWEEP_SCHEDULE", "@every 10m"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Consistency.Enabled && c.Consistency.Schedule == "" {
		return fmt.Errorf("consistency sweep schedule is required when the sweep is enabled")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
