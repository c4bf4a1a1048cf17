// Package config provides configuration management for the task manager.
// It handles loading and validation of configuration values from environment variables,
// with support for required variables, default values, and collective error reporting.
// A `.env` file, if present, is loaded by main before LoadConfig runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported values for DB_DRIVER.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseConfig selects the persistence backend and holds its settings.
type DatabaseConfig struct {
	Driver   string
	Mongo    *MongoConfig
	Postgres *PoolConfig
}

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI      string
	Database string
}

// PoolConfig represents configuration for a single PostgreSQL connection pool.
type PoolConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	MaxSize  int
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	JWTSecret     string        // Secret key for signing JWTs
	TokenDuration time.Duration // Zero means tokens carry no exp claim
	BcryptCost    int
}

// MailConfig holds settings for the outbound notification sender.
type MailConfig struct {
	SendGridAPIKey string // Empty disables delivery; messages are only logged
	From           string
	Workers        int
	QueueSize      int
	SendTimeout    time.Duration
}

// UploadConfig bounds avatar uploads.
type UploadConfig struct {
	AvatarMaxBytes int64
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port           string
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// AppConfig is the top-level configuration structure for the application.
type AppConfig struct {
	Database *DatabaseConfig
	Auth     *AuthConfig
	Mail     *MailConfig
	Upload   *UploadConfig
	Log      *LogConfig
	Server   *ServerConfig
}

// Helper function to get a required environment variable.
// Appends an error to the errors slice if the variable is not set.
func getRequiredEnv(key string, errors *[]string) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		*errors = append(*errors, fmt.Sprintf("missing required environment variable: %s", key))
		return ""
	}
	return value
}

// Helper function to get an optional environment variable with a default string value.
func getOptionalEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// Helper function to get an optional environment variable parsed as an int.
// Uses defaultValue if not set or if parsing fails. Appends an error if parsing fails.
func getOptionalEnvInt(key string, defaultValue int, errors *[]string) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue
	}
	valueInt, err := strconv.Atoi(valueStr)
	if err != nil {
		*errors = append(*errors, fmt.Sprintf("invalid value for %s: expected integer, got '%s': %v", key, valueStr, err))
		return defaultValue
	}
	return valueInt
}

// Helper function to get an optional environment variable parsed as time.Duration.
// `time.ParseDuration` expects a string like "15m", "1h30s".
func getOptionalEnvDuration(key string, defaultValue time.Duration, errors *[]string) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue
	}
	valueDuration, err := time.ParseDuration(valueStr)
	if err != nil {
		*errors = append(*errors, fmt.Sprintf("invalid value for %s: expected duration string, got '%s': %v", key, valueStr, err))
		return defaultValue
	}
	if valueDuration < 0 {
		*errors = append(*errors, fmt.Sprintf("invalid value for %s: duration must not be negative", key))
		return defaultValue
	}
	return valueDuration
}

// clamp keeps an integer setting within [lo, hi], recording an error when it had to.
func clamp(name string, v, lo, hi int, errors *[]string) int {
	if v < lo {
		*errors = append(*errors, fmt.Sprintf("%s (%d) is less than minimum %d", name, v, lo))
		return lo
	}
	if v > hi {
		*errors = append(*errors, fmt.Sprintf("%s (%d) is greater than maximum %d", name, v, hi))
		return hi
	}
	return v
}

// LoadConfig creates and returns an AppConfig by reading and validating environment variables.
// It collects all errors encountered during loading and returns a single error if any exist.
func LoadConfig() (*AppConfig, error) {
	var errors []string

	// Database Configuration
	driver := strings.ToLower(getOptionalEnv("DB_DRIVER", DriverMongo))
	dbCfg := &DatabaseConfig{Driver: driver}
	switch driver {
	case DriverMongo:
		dbCfg.Mongo = &MongoConfig{
			URI:      getRequiredEnv("MONGODB_URL", &errors),
			Database: getOptionalEnv("MONGODB_DATABASE", "task-manager-api"),
		}
	case DriverPostgres:
		dbCfg.Postgres = &PoolConfig{
			Host:     getOptionalEnv("DB_HOST", "localhost"),
			Port:     getOptionalEnvInt("DB_PORT", 5432, &errors),
			User:     getRequiredEnv("DB_USER", &errors),
			Password: getRequiredEnv("DB_PASSWORD", &errors),
			DBName:   getRequiredEnv("DB_NAME", &errors),
			MaxSize:  clamp("DB_POOL_SIZE", getOptionalEnvInt("DB_POOL_SIZE", 10, &errors), 1, 100, &errors),
		}
	case DriverMemory:
	default:
		errors = append(errors, fmt.Sprintf("invalid value for DB_DRIVER: %q (want %s, %s or %s)", driver, DriverMongo, DriverPostgres, DriverMemory))
	}

	// Auth Configuration
	authConfig := &AuthConfig{
		JWTSecret:     getRequiredEnv("JWT_SECRET", &errors),
		TokenDuration: getOptionalEnvDuration("JWT_TOKEN_DURATION", 0, &errors),
		BcryptCost:    clamp("BCRYPT_COST", getOptionalEnvInt("BCRYPT_COST", 8, &errors), 4, 31, &errors),
	}

	// Mail Configuration
	mailConfig := &MailConfig{
		SendGridAPIKey: getOptionalEnv("SENDGRID_API_KEY", ""),
		From:           getOptionalEnv("EMAIL_FROM", "no-reply@taskmanager.local"),
		Workers:        clamp("MAIL_WORKERS", getOptionalEnvInt("MAIL_WORKERS", 2, &errors), 1, 16, &errors),
		QueueSize:      clamp("MAIL_QUEUE_SIZE", getOptionalEnvInt("MAIL_QUEUE_SIZE", 32, &errors), 1, 1024, &errors),
		SendTimeout:    getOptionalEnvDuration("MAIL_SEND_TIMEOUT", 10*time.Second, &errors),
	}

	uploadConfig := &UploadConfig{
		AvatarMaxBytes: int64(getOptionalEnvInt("AVATAR_MAX_BYTES", 1000000, &errors)),
	}
	if uploadConfig.AvatarMaxBytes <= 0 {
		errors = append(errors, "AVATAR_MAX_BYTES must be positive")
	}

	logConfig := &LogConfig{
		Level:  strings.ToLower(getOptionalEnv("LOG_LEVEL", "info")),
		Format: strings.ToLower(getOptionalEnv("LOG_FORMAT", "json")),
	}
	if logConfig.Format != "json" && logConfig.Format != "console" {
		errors = append(errors, fmt.Sprintf("invalid value for LOG_FORMAT: %q (want json or console)", logConfig.Format))
	}

	// Server Configuration
	serverConfig := &ServerConfig{
		Port:           getOptionalEnv("PORT", "3000"),
		RequestTimeout: getOptionalEnvDuration("REQUEST_TIMEOUT", 30*time.Second, &errors),
		AllowedOrigins: splitList(getOptionalEnv("CORS_ALLOWED_ORIGINS", "*")),
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return &AppConfig{
		Database: dbCfg,
		Auth:     authConfig,
		Mail:     mailConfig,
		Upload:   uploadConfig,
		Log:      logConfig,
		Server:   serverConfig,
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
