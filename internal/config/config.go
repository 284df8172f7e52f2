// Package config provides configuration loading from environment variables.
package config

import (
	"lambdabridge/internal/apperrors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// ServiceConfig holds process-level configuration for the bridge.
type ServiceConfig struct {
	NATSURL         string
	NATSCredsFile   string
	Port            string
	MetricsPort     string
	APIKey          string
	LogLevel        slog.Level
	StoreBackend    string
	StorePath       string
	RedisAddr       string
	AWSEndpoint     string        // optional override, e.g. LocalStack
	InvokeTimeout   time.Duration // bound on one Lambda invoke call
	ShutdownTimeout time.Duration // bound on draining HTTP servers
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		NATSURL:         GetEnv("NATS_URL", "nats://localhost:4222"),
		NATSCredsFile:   GetEnv("NATS_CREDS_FILE", ""),
		Port:            GetEnv("HTTP_PORT", "8080"),
		MetricsPort:     GetEnv("METRICS_PORT", "9090"),
		APIKey:          GetSecretFile(GetEnv("API_KEY_FILE", "")),
		LogLevel:        ParseLogLevel(GetEnv("LOG_LEVEL", "info")),
		StoreBackend:    strings.ToLower(GetEnv("STORE_BACKEND", StoreSQLite)),
		StorePath:       GetEnv("STORE_PATH", DefaultStorePath()),
		RedisAddr:       GetEnv("REDIS_ADDR", "localhost:6379"),
		AWSEndpoint:     GetEnv("AWS_ENDPOINT_URL", ""),
		InvokeTimeout:   GetDurationEnv("INVOKE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: GetDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// Validate checks values that have no sensible fallback.
func (c *ServiceConfig) Validate() error {
	if c.NATSURL == "" {
		return apperrors.Config("NATS_URL", "NATS_URL must not be empty")
	}
	switch c.StoreBackend {
	case StoreSQLite:
		if c.StorePath == "" {
			return apperrors.Config("STORE_PATH", "STORE_PATH must not be empty for the sqlite store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return apperrors.Config("REDIS_ADDR", "REDIS_ADDR must not be empty for the redis store")
		}
	default:
		return apperrors.Config("STORE_BACKEND", "STORE_BACKEND must be sqlite or redis, got "+c.StoreBackend)
	}
	return nil
}

// DefaultStorePath returns $XDG_CONFIG_HOME/nats_aws_files/bridge.db,
// falling back to the OS user config directory.
func DefaultStorePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		var err error
		if dir, err = os.UserConfigDir(); err != nil {
			return filepath.Join(".", "nats_aws_files", "bridge.db")
		}
	}
	return filepath.Join(dir, "nats_aws_files", "bridge.db")
}

// ParseLogLevel maps debug|info|warn|error to a slog level; unknown values are info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
