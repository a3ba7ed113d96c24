package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modelfleet/sentinel/internal/failover"
)

// Config is the top-level service configuration.
type Config struct {
	Server   ServerConfig          `yaml:"server"`
	Failover failover.SystemConfig `yaml:"failover"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns a configuration suitable for local development.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			LogLevel:        "info",
			ShutdownTimeout: 15 * time.Second,
		},
		Failover: failover.DefaultSystemConfig(),
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	LoadFromEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Failover.SuccessRateFloor < 0 || c.Failover.SuccessRateFloor > 1 {
		return fmt.Errorf("success_rate_floor must be within [0,1], got %v", c.Failover.SuccessRateFloor)
	}
	return nil
}
