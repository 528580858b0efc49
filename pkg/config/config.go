// Package config provides environment-based configuration for the control plane.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the control plane.
type Config struct {
	// Database configuration
	DatabaseDSN string

	// Logging
	LogLevel  slog.Level
	LogFormat string // "json" or "console"

	// Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Server configuration
	APIPort int
	APIHost string

	// PlatformDomain is the apex domain user subdomains live under.
	PlatformDomain string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// Nodes configuration
	Nodes NodesConfig

	// Containers configuration
	Containers ContainersConfig

	// Gate configuration
	Gate GateConfig

	// Exports configuration
	Exports ExportsConfig

	// Cleanup configuration
	Cleanup CleanupConfig
}

// NodesConfig holds node registry and agent transport configuration.
type NodesConfig struct {
	// FreshnessWindow bounds how stale a heartbeat may be before a node is
	// reported offline.
	FreshnessWindow time.Duration
	// AgentPort is the port node agents listen on.
	AgentPort int
	// AgentTimeout bounds a single agent HTTP call.
	AgentTimeout time.Duration
	// AgentRetries is the number of attempts per agent operation.
	AgentRetries int
	// AgentRetryBackoff is the base delay between agent retries.
	AgentRetryBackoff time.Duration
}

// ContainersConfig holds per-user container defaults and port policy.
type ContainersConfig struct {
	DefaultMemoryMB  int
	DefaultCPUCores  int
	DefaultStorageGB int
	// MaxPortsPerUser caps the number of host ports a container may hold.
	MaxPortsPerUser int
}

// GateConfig holds acceptable-use gate configuration.
type GateConfig struct {
	// QuestionsFile is a YAML question bank loaded at startup when the
	// questions table is empty.
	QuestionsFile string
	// QuestionCount is how many questions each user is assigned.
	QuestionCount int
}

// ExportsConfig holds object storage configuration for filesystem exports.
type ExportsConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	// UploadURLExpiry bounds how long the agent's upload URL stays valid.
	UploadURLExpiry time.Duration
}

// CleanupConfig holds background sweeper configuration.
type CleanupConfig struct {
	// Interval between sweeps for leftover container state.
	Interval time.Duration
	// StaleAge is how old a creating reservation must be before it is
	// reaped. Must exceed the agent call timeout.
	StaleAge time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseDSN:     getEnv("DATABASE_URL", "postgres://localhost:5432/den?sslmode=disable"),
		LogLevel:        getLevelEnv("LOG_LEVEL", slog.LevelInfo),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTExpiry:       getDurationEnv("JWT_EXPIRY", 24*time.Hour),
		APIPort:         getIntEnv("API_PORT", 8080),
		APIHost:         getEnv("API_HOST", "0.0.0.0"),
		PlatformDomain:  getEnv("PLATFORM_DOMAIN", "den.town"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		Nodes: NodesConfig{
			FreshnessWindow:   getDurationEnv("NODE_FRESHNESS_WINDOW", 30*time.Second),
			AgentPort:         getIntEnv("AGENT_PORT", 8081),
			AgentTimeout:      getDurationEnv("AGENT_TIMEOUT", 60*time.Second),
			AgentRetries:      getIntEnv("AGENT_RETRIES", 3),
			AgentRetryBackoff: getDurationEnv("AGENT_RETRY_BACKOFF", 2*time.Second),
		},
		Containers: ContainersConfig{
			DefaultMemoryMB:  getIntEnv("DEFAULT_MEMORY_MB", 4096),
			DefaultCPUCores:  getIntEnv("DEFAULT_CPU_CORES", 4),
			DefaultStorageGB: getIntEnv("DEFAULT_STORAGE_GB", 15),
			MaxPortsPerUser:  getIntEnv("MAX_PORTS_PER_USER", 5),
		},
		Gate: GateConfig{
			QuestionsFile: getEnv("QUESTIONS_FILE", ""),
			QuestionCount: getIntEnv("GATE_QUESTION_COUNT", 3),
		},
		Exports: ExportsConfig{
			Endpoint:        getEnv("EXPORT_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("EXPORT_S3_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("EXPORT_S3_SECRET_KEY", ""),
			Bucket:          getEnv("EXPORT_S3_BUCKET", "den-exports"),
			UseSSL:          getBoolEnv("EXPORT_S3_USE_SSL", true),
			UploadURLExpiry: getDurationEnv("EXPORT_UPLOAD_URL_EXPIRY", 2*time.Hour),
		},
		Cleanup: CleanupConfig{
			Interval: getDurationEnv("CLEANUP_INTERVAL", time.Minute),
			StaleAge: getDurationEnv("CLEANUP_STALE_AGE", 10*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.PlatformDomain == "" {
		return fmt.Errorf("PLATFORM_DOMAIN is required")
	}
	return nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	cfg := &Config{
		DatabaseDSN:     getEnv("DATABASE_URL", "postgres://localhost:5432/den?sslmode=disable"),
		LogLevel:        getLevelEnv("LOG_LEVEL", slog.LevelInfo),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		JWTSecret:       getEnv("JWT_SECRET", "development-secret-key-min-32-chars"),
		JWTExpiry:       getDurationEnv("JWT_EXPIRY", 24*time.Hour),
		APIPort:         getIntEnv("API_PORT", 8080),
		APIHost:         getEnv("API_HOST", "0.0.0.0"),
		PlatformDomain:  getEnv("PLATFORM_DOMAIN", "den.town"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		Nodes: NodesConfig{
			FreshnessWindow:   getDurationEnv("NODE_FRESHNESS_WINDOW", 30*time.Second),
			AgentPort:         getIntEnv("AGENT_PORT", 8081),
			AgentTimeout:      getDurationEnv("AGENT_TIMEOUT", 60*time.Second),
			AgentRetries:      getIntEnv("AGENT_RETRIES", 3),
			AgentRetryBackoff: getDurationEnv("AGENT_RETRY_BACKOFF", 2*time.Second),
		},
		Containers: ContainersConfig{
			DefaultMemoryMB:  getIntEnv("DEFAULT_MEMORY_MB", 4096),
			DefaultCPUCores:  getIntEnv("DEFAULT_CPU_CORES", 4),
			DefaultStorageGB: getIntEnv("DEFAULT_STORAGE_GB", 15),
			MaxPortsPerUser:  getIntEnv("MAX_PORTS_PER_USER", 5),
		},
		Gate: GateConfig{
			QuestionsFile: getEnv("QUESTIONS_FILE", ""),
			QuestionCount: getIntEnv("GATE_QUESTION_COUNT", 3),
		},
		Exports: ExportsConfig{
			Endpoint:        getEnv("EXPORT_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("EXPORT_S3_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("EXPORT_S3_SECRET_KEY", ""),
			Bucket:          getEnv("EXPORT_S3_BUCKET", "den-exports"),
			UseSSL:          getBoolEnv("EXPORT_S3_USE_SSL", true),
			UploadURLExpiry: getDurationEnv("EXPORT_UPLOAD_URL_EXPIRY", 2*time.Hour),
		},
		Cleanup: CleanupConfig{
			Interval: getDurationEnv("CLEANUP_INTERVAL", time.Minute),
			StaleAge: getDurationEnv("CLEANUP_STALE_AGE", 10*time.Minute),
		},
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getLevelEnv(key string, defaultValue slog.Level) slog.Level {
	switch strings.ToLower(os.Getenv(key)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
