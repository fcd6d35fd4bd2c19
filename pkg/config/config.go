package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cadenzahq/clearway/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Policy        PolicyConfig
	Continuity    ContinuityConfig
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

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// RedisConfig holds Redis configuration for the session cache, intent store,
// and cross-tab broadcast channel
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// AuthConfig holds OIDC settings for the external identity store
type AuthConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// PolicyConfig holds access-policy file settings
type PolicyConfig struct {
	// Path to the YAML policy file (scope prefixes, admin bypass allow-list).
	// Empty means built-in defaults only.
	Path string
	// Watch enables hot reload of the policy file
	Watch bool
}

// ContinuityConfig holds inactivity-timeout defaults; per-user preferences
// override these at runtime
type ContinuityConfig struct {
	DefaultIdleTimeout time.Duration
	WarningLead        time.Duration
	CheckInterval      time.Duration
}

// AuditConfig holds audit sink configuration
type AuditConfig struct {
	FilePath      string
	RetentionDays int
	// Cron spec for the retention sweep, default daily at 03:00
	RetentionSchedule string
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
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("CLEARWAY_HOST", "0.0.0.0"),
			Port:            getEnv("CLEARWAY_PORT", "8080"),
			ReadTimeout:     getEnvDuration("CLEARWAY_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("CLEARWAY_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("CLEARWAY_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("CLEARWAY_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("CLEARWAY_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("CLEARWAY_POSTGRES_URL", ""),
			MaxConns: getEnvInt("CLEARWAY_POSTGRES_MAX_CONNS", 25),
			MinConns: getEnvInt("CLEARWAY_POSTGRES_MIN_CONNS", 5),
			Timeout:  getEnvDuration("CLEARWAY_POSTGRES_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:        getEnv("CLEARWAY_REDIS_URL", "redis://localhost:6379/0"),
			Password:   getEnv("CLEARWAY_REDIS_PASSWORD", ""),
			DB:         getEnvInt("CLEARWAY_REDIS_DB", -1),
			MaxRetries: getEnvInt("CLEARWAY_REDIS_MAX_RETRIES", 3),
			PoolSize:   getEnvInt("CLEARWAY_REDIS_POOL_SIZE", 10),
		},
		Auth: AuthConfig{
			IssuerURL:    getEnv("CLEARWAY_OIDC_ISSUER", ""),
			ClientID:     getEnv("CLEARWAY_OIDC_CLIENT_ID", ""),
			ClientSecret: getEnv("CLEARWAY_OIDC_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("CLEARWAY_OIDC_REDIRECT_URL", ""),
		},
		Policy: PolicyConfig{
			Path:  getEnv("CLEARWAY_POLICY_PATH", ""),
			Watch: getEnvBool("CLEARWAY_POLICY_WATCH", true),
		},
		Continuity: ContinuityConfig{
			DefaultIdleTimeout: getEnvDuration("CLEARWAY_IDLE_TIMEOUT_DEFAULT", 30*time.Minute),
			WarningLead:        getEnvDuration("CLEARWAY_IDLE_WARNING_LEAD", 2*time.Minute),
			CheckInterval:      getEnvDuration("CLEARWAY_IDLE_CHECK_INTERVAL", 15*time.Second),
		},
		Audit: AuditConfig{
			FilePath:          getEnv("CLEARWAY_AUDIT_FILE", ""),
			RetentionDays:     getEnvInt("CLEARWAY_AUDIT_RETENTION_DAYS", 90),
			RetentionSchedule: getEnv("CLEARWAY_AUDIT_RETENTION_SCHEDULE", "0 3 * * *"),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(strings.ToLower(getEnv("CLEARWAY_LOG_LEVEL", "info"))),
			MetricsEnabled:     getEnvBool("CLEARWAY_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("CLEARWAY_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("CLEARWAY_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("CLEARWAY_OTEL_SERVICE_NAME", "clearway"),
			OTelServiceVersion: getEnv("CLEARWAY_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("CLEARWAY_OTEL_INSECURE", true),
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

	if c.Auth.IssuerURL != "" {
		if c.Auth.ClientID == "" || c.Auth.RedirectURL == "" {
			return fmt.Errorf("OIDC client ID and redirect URL are required when an issuer is configured")
		}
	}

	if c.Continuity.WarningLead >= c.Continuity.DefaultIdleTimeout {
		return fmt.Errorf("idle warning lead must be shorter than the idle timeout")
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
