package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "planvault.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PLANVAULT_PORT")
	setString(&cfg.Server.APIKey, "PLANVAULT_API_KEY")
	setDuration(&cfg.Server.ReadTimeout, "PLANVAULT_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "PLANVAULT_WRITE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "PLANVAULT_SHUTDOWN_TIMEOUT")
	setString(&cfg.Storage.Root, "PLANVAULT_STORAGE_ROOT")
	setDuration(&cfg.Storage.LockTimeout, "PLANVAULT_LOCK_TIMEOUT")
	setDuration(&cfg.Storage.CacheTTL, "PLANVAULT_CACHE_TTL")
	setInt64(&cfg.Cache.MaxSizeMB, "PLANVAULT_CACHE_SIZE_MB")
	setString(&cfg.Logging.Level, "PLANVAULT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PLANVAULT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "PLANVAULT_LOG_ASYNC")
	setString(&cfg.Tenancy.DefaultTenant, "PLANVAULT_DEFAULT_TENANT")
	setBool(&cfg.MCP.Enabled, "PLANVAULT_MCP_ENABLED")
	setString(&cfg.Tracing.Endpoint, "PLANVAULT_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Storage.Root == "" {
		return errors.New("storage.root is required")
	}
	if cfg.Storage.LockTimeout <= 0 {
		return errors.New("storage.lock_timeout must be positive")
	}
	if cfg.Cache.MaxSizeMB < 1 {
		return errors.New("cache.max_size_mb must be >= 1")
	}
	if cfg.Tenancy.DefaultTenant == "" {
		return errors.New("tenancy.default_tenant is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
