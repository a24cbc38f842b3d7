// Package config provides application configuration read from the environment.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

const minSecretLength = 32

// ServerConfig interface for server-specific configuration.
type ServerConfig interface {
	GetServerPort() string
	GetReadTimeout() time.Duration
	GetWriteTimeout() time.Duration
	GetIdleTimeout() time.Duration
}

// SessionConfig interface for session timer configuration.
type SessionConfig interface {
	GetAllocation() time.Duration
	GetPollInterval() time.Duration
	GetWindowTTL() time.Duration
	IsLockoutOnExhaustion() bool
}

// StorageConfig interface for storage backend configuration.
type StorageConfig interface {
	GetStorageBackend() string
	GetRedisURL() string
	GetSQLitePath() string
}

// SecurityConfig interface for the gate's credentials and signing secrets.
type SecurityConfig interface {
	GetLabUsername() string
	GetLabPassword() string
	GetCookieSecret() string
	GetEntryPassSecret() string
	GetEntryPassTTL() time.Duration
}

// AppConfig implements all configuration interfaces.
type AppConfig struct {
	serverPort                 string
	environment                string
	logLevel                   string
	logFormat                  string
	storageBackend             string
	redisURL                   string
	sqlitePath                 string
	labUsername                string
	labPassword                string
	cookieSecret               string
	entryPassSecret            string
	readTimeout                time.Duration
	writeTimeout               time.Duration
	idleTimeout                time.Duration
	allocation                 time.Duration
	pollInterval               time.Duration
	windowTTL                  time.Duration
	entryPassTTL               time.Duration
	rateLimitRequestsPerMinute int
	lockoutOnExhaustion        bool
	rateLimitEnabled           bool
}

// Source looks up a raw setting by its environment variable name and
// returns "" when it is unset.
type Source func(key string) string

// NewConfig creates a new configuration instance with default values
// and overrides from environment variables.
func NewConfig() *AppConfig {
	return NewConfigFrom(os.Getenv)
}

// NewConfigFrom builds the configuration from source. labctl passes a
// viper lookup so a YAML file can supply the same keys as the environment.
func NewConfigFrom(source Source) *AppConfig {
	if source == nil {
		source = os.Getenv
	}
	getEnvString := func(key, def string) string { return envString(source, key, def) }
	getEnvInt := func(key string, def int) int { return envInt(source, key, def) }
	getEnvBool := func(key string, def bool) bool { return envBool(source, key, def) }
	getEnvDuration := func(key, def string) time.Duration { return envDuration(source, key, def) }
	getSecret := func(environment, key string) string { return secretFrom(source, environment, key) }

	environment := getEnvString("ENVIRONMENT", EnvDevelopment)

	return &AppConfig{
		serverPort:                 getEnvString("SERVER_PORT", "8080"),
		environment:                environment,
		logLevel:                   getEnvString("LOG_LEVEL", "info"),
		logFormat:                  getEnvString("LOG_FORMAT", defaultLogFormat(environment)),
		readTimeout:                getEnvDuration("READ_TIMEOUT", "15s"),
		writeTimeout:               getEnvDuration("WRITE_TIMEOUT", "15s"),
		idleTimeout:                getEnvDuration("IDLE_TIMEOUT", "60s"),
		allocation:                 time.Duration(getEnvInt("ALLOCATION_MINUTES", 10)) * time.Minute,
		pollInterval:               getEnvDuration("POLL_INTERVAL", "500ms"),
		storageBackend:             strings.ToLower(getEnvString("STORAGE_BACKEND", StorageMemory)),
		redisURL:                   getEnvString("REDIS_URL", "redis://localhost:6379/0"),
		sqlitePath:                 getEnvString("SQLITE_PATH", "data/hairscope.db"),
		windowTTL:                  getEnvDuration("WINDOW_TTL", "12h"),
		labUsername:                getEnvString("LAB_USERNAME", "Bhanuprasad"),
		labPassword:                getEnvString("LAB_PASSWORD", "Password@123"),
		cookieSecret:               getSecret(environment, "COOKIE_SECRET"),
		entryPassSecret:            getSecret(environment, "ENTRY_PASS_SECRET"),
		entryPassTTL:               getEnvDuration("ENTRY_PASS_TTL", "60s"),
		lockoutOnExhaustion:        getEnvBool("LOCKOUT_ON_EXHAUSTION", true),
		rateLimitEnabled:           getEnvBool("RATE_LIMIT_ENABLED", false),
		rateLimitRequestsPerMinute: getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 120),
	}
}

// GetServerPort returns the server port configuration.
func (c *AppConfig) GetServerPort() string {
	return c.serverPort
}

// GetEnvironment returns the application environment configuration.
func (c *AppConfig) GetEnvironment() string {
	return c.environment
}

// GetLogLevel returns the log level configuration.
func (c *AppConfig) GetLogLevel() string {
	return c.logLevel
}

// GetLogFormat returns "json" or "text".
func (c *AppConfig) GetLogFormat() string {
	return c.logFormat
}

// IsProduction returns true if the application is running in production environment.
func (c *AppConfig) IsProduction() bool {
	return c.environment == EnvProduction
}

// GetReadTimeout returns the server read timeout configuration.
func (c *AppConfig) GetReadTimeout() time.Duration {
	return c.readTimeout
}

// GetWriteTimeout returns the server write timeout configuration.
func (c *AppConfig) GetWriteTimeout() time.Duration {
	return c.writeTimeout
}

// GetIdleTimeout returns the server idle timeout configuration.
func (c *AppConfig) GetIdleTimeout() time.Duration {
	return c.idleTimeout
}

// GetAllocation returns the lab time granted per session.
func (c *AppConfig) GetAllocation() time.Duration {
	return c.allocation
}

// GetPollInterval returns how often the lab view re-reads the session.
func (c *AppConfig) GetPollInterval() time.Duration {
	return c.pollInterval
}

// GetWindowTTL returns the TTL of window-scoped session records.
func (c *AppConfig) GetWindowTTL() time.Duration {
	return c.windowTTL
}

// IsLockoutOnExhaustion reports whether an exhausted profile sees the
// restriction notice instead of the login form.
func (c *AppConfig) IsLockoutOnExhaustion() bool {
	return c.lockoutOnExhaustion
}

// GetStorageBackend returns memory, redis or sqlite.
func (c *AppConfig) GetStorageBackend() string {
	return c.storageBackend
}

// GetRedisURL returns the Redis connection URL.
func (c *AppConfig) GetRedisURL() string {
	return c.redisURL
}

// GetSQLitePath returns the SQLite database file path.
func (c *AppConfig) GetSQLitePath() string {
	return c.sqlitePath
}

// GetLabUsername returns the configured lab username.
func (c *AppConfig) GetLabUsername() string {
	return c.labUsername
}

// GetLabPassword returns the configured lab password.
func (c *AppConfig) GetLabPassword() string {
	return c.labPassword
}

// GetCookieSecret returns the key used to sign the profile and window cookies.
func (c *AppConfig) GetCookieSecret() string {
	return c.cookieSecret
}

// GetEntryPassSecret returns the entry pass signing secret.
func (c *AppConfig) GetEntryPassSecret() string {
	return c.entryPassSecret
}

// GetEntryPassTTL returns the entry pass lifetime.
func (c *AppConfig) GetEntryPassTTL() time.Duration {
	return c.entryPassTTL
}

// IsRateLimitEnabled reports whether the rate limit middleware is installed.
func (c *AppConfig) IsRateLimitEnabled() bool {
	return c.rateLimitEnabled
}

// GetRateLimitRequestsPerMinute returns the per-client request budget.
func (c *AppConfig) GetRateLimitRequestsPerMinute() int {
	return c.rateLimitRequestsPerMinute
}

// Validate checks if the configuration is valid.
func (c *AppConfig) Validate() error {
	if c.serverPort == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if c.environment != EnvDevelopment && c.environment != EnvStaging && c.environment != EnvProduction {
		return fmt.Errorf("environment must be one of: development, staging, production")
	}

	if c.allocation <= 0 {
		return fmt.Errorf("ALLOCATION_MINUTES must be positive")
	}

	if c.pollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}

	switch c.storageBackend {
	case StorageMemory:
	case StorageRedis:
		if c.redisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis storage backend")
		}
	case StorageSQLite:
		if c.sqlitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite storage backend")
		}
	default:
		return fmt.Errorf("storage backend must be one of: memory, redis, sqlite")
	}

	if c.labUsername == "" || c.labPassword == "" {
		return fmt.Errorf("lab username and password cannot be empty")
	}

	for name, secret := range map[string]string{
		"COOKIE_SECRET":     c.cookieSecret,
		"ENTRY_PASS_SECRET": c.entryPassSecret,
	} {
		if len(secret) < minSecretLength {
			return fmt.Errorf("%s must be at least %d characters long", name, minSecretLength)
		}
		if c.IsProduction() && isDefaultSecret(secret) {
			return fmt.Errorf("%s: default secrets are not allowed in production", name)
		}
	}

	if c.entryPassTTL <= 0 {
		return fmt.Errorf("ENTRY_PASS_TTL must be positive")
	}

	if c.rateLimitEnabled && c.rateLimitRequestsPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	return nil
}

// Helper functions for environment variable parsing.
func envString(source Source, key, defaultValue string) string {
	if value := source(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(source Source, key string, defaultValue int) int {
	if value := source(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func envBool(source Source, key string, defaultValue bool) bool {
	if value := source(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func envDuration(source Source, key, defaultValue string) time.Duration {
	if value := source(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	if duration, err := time.ParseDuration(defaultValue); err == nil {
		return duration
	}
	return time.Second
}

func defaultLogFormat(environment string) string {
	if environment == EnvProduction {
		return "json"
	}
	return "text"
}

// getSecret reads a signing secret. Production refuses to start without
// one; other environments get a random secret per process.
func getSecret(environment, key string) string {
	return secretFrom(os.Getenv, environment, key)
}

func secretFrom(source Source, environment, key string) string {
	if value := source(key); value != "" {
		return value
	}
	if environment == EnvProduction {
		panic(fmt.Sprintf("%s must be set in production", key))
	}
	return generateSecureSecret()
}

// generateSecureSecret returns 32 random bytes, base64 encoded.
func generateSecureSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate secret: %v", err))
	}
	return base64.URLEncoding.EncodeToString(b)
}

var defaultSecretPatterns = []string{
	"secret",
	"changeme",
	"placeholder",
	"example",
	"sample",
	"your-super-secret",
	"hairscope-development",
}

// isDefaultSecret reports whether secret looks like a placeholder copied
// from an example env file.
func isDefaultSecret(secret string) bool {
	if secret == "" {
		return false
	}
	lower := strings.ToLower(secret)
	for _, pattern := range defaultSecretPatterns {
		if strings.HasPrefix(lower, pattern) || strings.HasSuffix(lower, pattern) {
			return true
		}
	}
	return false
}
