package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv applies environment overrides on top of a loaded config.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("SENTINEL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("SENTINEL_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if v := os.Getenv("SENTINEL_AUTO_FAILOVER"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Failover.EnableAutomaticFailover = enabled
		}
	}

	if v := os.Getenv("SENTINEL_HEALTH_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Failover.HealthCheckInterval = d
		}
	}

	if v := os.Getenv("SENTINEL_STRATEGY"); v != "" {
		cfg.Failover.Coordinator.Strategy = v
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
