// Package config provides hierarchical configuration loading for PlanVault.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the PlanVault service.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Cache   Cache   `yaml:"cache"`
	Logging Logging `yaml:"logging"`
	Tenancy Tenancy `yaml:"tenancy"`
	MCP     MCP     `yaml:"mcp"`
	Tracing Tracing `yaml:"tracing"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	APIKey          string        `yaml:"api_key"` // Empty disables API auth
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Storage holds filesystem persistence configuration.
type Storage struct {
	Root        string        `yaml:"root"`         // Base directory for all tenant data
	LockTimeout time.Duration `yaml:"lock_timeout"` // Max wait for a resource lock
	CacheTTL    time.Duration `yaml:"cache_ttl"`    // Read-cache entry lifetime
}

// Cache holds document cache configuration.
type Cache struct {
	MaxSizeMB int64 `yaml:"max_size_mb"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Tenancy holds multi-tenant configuration.
type Tenancy struct {
	DefaultTenant string `yaml:"default_tenant"`
}

// MCP holds Model Context Protocol server configuration.
type MCP struct {
	Enabled bool `yaml:"enabled"` // Serve MCP over stdio alongside HTTP
}

// Tracing holds OpenTelemetry export configuration. An empty endpoint
// disables tracing.
type Tracing struct {
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: Storage{
			Root:        ".planvault",
			LockTimeout: 10 * time.Second,
			CacheTTL:    5 * time.Minute,
		},
		Cache: Cache{
			MaxSizeMB: 64,
		},
		Logging: Logging{
			Level:   "info",
			Service: "planvault",
		},
		Tenancy: Tenancy{
			DefaultTenant: "default",
		},
		MCP: MCP{
			Enabled: true,
		},
	}
}
