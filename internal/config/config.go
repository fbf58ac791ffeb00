package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the service configuration.
type Config struct {
	DatabasePath string `yaml:"database"`
	Port         int    `yaml:"port"`
	UploadDir    string `yaml:"upload_dir"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "suspension_bench.db",
		Port:         8080,
		UploadDir:    "uploads/photos",
		LogLevel:     "info",
		LogFormat:    "console",
	}
}

// Load loads configuration from file and environment variables.
// Priority: environment variables > config file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SUSPENSION_BENCH_CONFIG")
	if configPath == "" {
		configPath = ".suspension-bench.yaml"
	}

	if err := loadFromFile(cfg, configPath); err != nil {
		// Config file is optional, so we just skip if not found
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if db := os.Getenv("SUSPENSION_BENCH_DB"); db != "" {
		cfg.DatabasePath = db
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT value %q: %w", port, err)
		}
		cfg.Port = p
	}
	if dir := os.Getenv("SUSPENSION_BENCH_UPLOAD_DIR"); dir != "" {
		cfg.UploadDir = dir
	}
	if level := os.Getenv("SUSPENSION_BENCH_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("SUSPENSION_BENCH_LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}
