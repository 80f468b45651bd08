package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Limits   LimitConfig
	Webhooks WebhookConfig
	Notify   NotifyConfig

	// PolicyFile is the optional YAML exemption policy, hot-reloaded.
	PolicyFile string

	LogLevel string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for probes)
	HealthPort string
}

// DatabaseConfig holds the PostgreSQL settings.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the optional shared-counter backend. An empty URL
// keeps rate limiting in-process.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// AuthConfig holds the credential and session settings.
type AuthConfig struct {
	// Pepper is the HMAC key for password and API-key digests. Rotating
	// it invalidates every stored digest.
	Pepper        string
	SessionTTL    time.Duration
	SecureCookies bool
}

// LimitConfig holds the rate-limiter window.
type LimitConfig struct {
	Requests int
	Window   time.Duration
}

// WebhookConfig holds the outbound queue tuning.
type WebhookConfig struct {
	SweepInterval time.Duration
	StaleAfter    time.Duration
	BatchSize     int
}

// NotifyConfig holds the delivery targets for the email and SMS
// channels. An empty URL disables the channel.
type NotifyConfig struct {
	EmailWebhookURL string
	SMSWebhookURL   string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("PORTAL_HOST", "0.0.0.0"),
			Port:            getEnv("PORTAL_PORT", "8080"),
			ReadTimeout:     getEnvDuration("PORTAL_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("PORTAL_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("PORTAL_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("PORTAL_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("PORTAL_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("PORTAL_POSTGRES_URL", "postgres://localhost/portal?sslmode=disable"),
			MaxOpenConns:    getEnvInt("PORTAL_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("PORTAL_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("PORTAL_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:      getEnv("PORTAL_REDIS_URL", ""),
			Password: getEnv("PORTAL_REDIS_PASSWORD", ""),
			DB:       getEnvInt("PORTAL_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Pepper:        getEnv("PORTAL_PEPPER", ""),
			SessionTTL:    getEnvDuration("PORTAL_SESSION_TTL", 12*time.Hour),
			SecureCookies: getEnvBool("PORTAL_SECURE_COOKIES", true),
		},
		Limits: LimitConfig{
			Requests: getEnvInt("PORTAL_RATE_LIMIT_REQUESTS", 300),
			Window:   getEnvDuration("PORTAL_RATE_LIMIT_WINDOW", time.Minute),
		},
		Webhooks: WebhookConfig{
			SweepInterval: getEnvDuration("PORTAL_WEBHOOK_SWEEP_INTERVAL", 30*time.Second),
			StaleAfter:    getEnvDuration("PORTAL_WEBHOOK_STALE_AFTER", 5*time.Minute),
			BatchSize:     getEnvInt("PORTAL_WEBHOOK_BATCH_SIZE", 50),
		},
		Notify: NotifyConfig{
			EmailWebhookURL: getEnv("PORTAL_EMAIL_WEBHOOK_URL", ""),
			SMSWebhookURL:   getEnv("PORTAL_SMS_WEBHOOK_URL", ""),
		},
		PolicyFile: getEnv("PORTAL_POLICY_FILE", ""),
		LogLevel:   getEnv("PORTAL_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
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
	if c.Auth.Pepper == "" {
		return fmt.Errorf("PORTAL_PEPPER is required; digests are unusable without it")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Limits.Requests <= 0 || c.Limits.Window <= 0 {
		return fmt.Errorf("rate limit requests and window must be positive")
	}
	return nil
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
