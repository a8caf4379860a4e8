// modgate/utils/env.go
package utils

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// GetEnv reads an environment variable or returns a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvDuration parses a duration variable, logging and falling back to the
// default when the value is malformed or not positive.
func GetEnvDuration(key, fallback string, logger *slog.Logger) time.Duration {
	raw := GetEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logger.Warn("Invalid duration, using default", "key", key, "value", raw, "default", fallback)
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// GetEnvInt parses an integer variable with the same fallback rules as
// GetEnvDuration.
func GetEnvInt(key string, fallback int, logger *slog.Logger) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		logger.Warn("Invalid integer, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return v
}

// GetEnvBool parses a boolean variable. Unset or empty values yield the
// default; malformed ones are logged and also yield the default.
func GetEnvBool(key string, fallback bool, logger *slog.Logger) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Warn("Invalid boolean, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return v
}
