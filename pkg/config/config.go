// Package config loads application configuration from DENTFLOW_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dentflow/dentflow/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Redis         RedisConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
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

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// CacheConfig holds access-cache settings.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// RedisConfig holds the pub/sub broadcaster settings. Enabled is false when
// no address is configured; the service then runs with a purely local cache.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Enabled bool
	Path    string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool

	// ReconcileSchedule is the cron expression for catalog reconciliation.
	ReconcileSchedule string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	redisAddr := getEnv("DENTFLOW_REDIS_ADDR", "")

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("DENTFLOW_HOST", "0.0.0.0"),
			Port:            getEnv("DENTFLOW_PORT", "8080"),
			ReadTimeout:     getEnvDuration("DENTFLOW_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("DENTFLOW_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("DENTFLOW_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("DENTFLOW_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("DENTFLOW_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DENTFLOW_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("DENTFLOW_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("DENTFLOW_POSTGRES_IDLE_CONNS", 5),
			ConnLifetime: getEnvDuration("DENTFLOW_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Cache: CacheConfig{
			Size: getEnvInt("DENTFLOW_CACHE_SIZE", 4096),
			TTL:  getEnvDuration("DENTFLOW_CACHE_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  redisAddr != "",
			Addr:     redisAddr,
			Password: getEnv("DENTFLOW_REDIS_PASSWORD", ""),
			DB:       getEnvInt("DENTFLOW_REDIS_DB", 0),
		},
		Audit: AuditConfig{
			Enabled: getEnvBool("DENTFLOW_AUDIT_ENABLED", true),
			Path:    getEnv("DENTFLOW_AUDIT_PATH", "/var/log/dentflow/audit.log"),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(strings.ToLower(getEnv("DENTFLOW_LOG_LEVEL", "info"))),
			MetricsEnabled:     getEnvBool("DENTFLOW_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("DENTFLOW_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("DENTFLOW_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("DENTFLOW_OTEL_SERVICE_NAME", "dentflow-authz"),
			OTelServiceVersion: getEnv("DENTFLOW_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("DENTFLOW_OTEL_INSECURE", true),
			ReconcileSchedule:  getEnv("DENTFLOW_RECONCILE_SCHEDULE", "@hourly"),
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
		return fmt.Errorf("postgres URL is required (DENTFLOW_POSTGRES_URL)")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit log path is required when auditing is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
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
