// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/bundlehost/domain/security"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Security SecurityConfig `yaml:"security"`
	Modules  []string       `yaml:"modules"`
	Registry RegistryConfig `yaml:"registry"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the user and session store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// SecurityConfig configures the security controller and the bootstrap administrator.
type SecurityConfig struct {
	DefaultSource     string        `yaml:"default_source"`
	AdminLogin        string        `yaml:"admin_login"`
	AdminPassword     string        `yaml:"admin_password"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	SessionSliding    *bool         `yaml:"session_sliding"` // nil means true
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	DataSourceTimeout time.Duration `yaml:"datasource_timeout"`
	BcryptCost        int           `yaml:"bcrypt_cost"`
	SessionIDs        string        `yaml:"session_ids"` // "uuid" or "token"
}

// Sliding reports whether session expiry slides on access.
func (s SecurityConfig) Sliding() bool {
	return s.SessionSliding == nil || *s.SessionSliding
}

// Policy returns the session expiry policy.
func (s SecurityConfig) Policy() security.ExpiryPolicy {
	return security.ExpiryPolicy{
		TTL:           s.SessionTTL,
		Sliding:       s.Sliding(),
		SweepInterval: s.SweepInterval,
	}.WithDefaults()
}

// RegistryConfig configures the service registry.
type RegistryConfig struct {
	LookupPolicy string `yaml:"lookup_policy"` // "first_registered" or "highest_ranking"
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// DefaultModules are installed and started when the modules list is empty.
var DefaultModules = []string{"kernel", "greeter"}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes, applying environment
// expansion, overrides, defaults and validation.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	BUNDLEHOST_SERVER_HOST            - Server host (default: 127.0.0.1)
//	BUNDLEHOST_SERVER_PORT            - Server port (default: 8181)
//	BUNDLEHOST_DATABASE_DRIVER        - sqlite or memory (default: sqlite)
//	BUNDLEHOST_DATABASE_DSN           - Database path (default: bundlehost.db)
//	BUNDLEHOST_DEFAULT_SOURCE         - Default user source (default: kimios)
//	BUNDLEHOST_ADMIN_LOGIN            - Bootstrap admin uid (default: admin)
//	BUNDLEHOST_ADMIN_PASSWORD         - Bootstrap admin password (default: kimios)
//	BUNDLEHOST_SESSION_TTL            - Session lifetime (default: 30m)
//	BUNDLEHOST_SESSION_SLIDING        - Extend sessions on access (default: true)
//	BUNDLEHOST_SWEEP_INTERVAL         - Expired session sweep (default: 1m)
//	BUNDLEHOST_DATASOURCE_TIMEOUT     - Data source call bound (default: 5s)
//	BUNDLEHOST_SESSION_IDS            - Session id format: uuid or token (default: uuid)
//	BUNDLEHOST_MODULES                - Comma separated module names
//	BUNDLEHOST_REGISTRY_LOOKUP_POLICY - first_registered or highest_ranking
//	BUNDLEHOST_LOG_LEVEL              - debug, info, warn, error (default: info)
//	BUNDLEHOST_LOG_FORMAT             - json or console (default: json)
//	BUNDLEHOST_METRICS_ENABLED        - Enable /metrics endpoint (default: false)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFallback loads path if it exists, otherwise configures from the environment.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies BUNDLEHOST_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("BUNDLEHOST_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BUNDLEHOST_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Database configuration
	if v := os.Getenv("BUNDLEHOST_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("BUNDLEHOST_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Security configuration
	if v := os.Getenv("BUNDLEHOST_DEFAULT_SOURCE"); v != "" {
		cfg.Security.DefaultSource = v
	}
	if v := os.Getenv("BUNDLEHOST_ADMIN_LOGIN"); v != "" {
		cfg.Security.AdminLogin = v
	}
	if v := os.Getenv("BUNDLEHOST_ADMIN_PASSWORD"); v != "" {
		cfg.Security.AdminPassword = v
	}
	if v := os.Getenv("BUNDLEHOST_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.SessionTTL = d
		}
	}
	if v := os.Getenv("BUNDLEHOST_SESSION_SLIDING"); v != "" {
		sliding := parseBool(v)
		cfg.Security.SessionSliding = &sliding
	}
	if v := os.Getenv("BUNDLEHOST_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.SweepInterval = d
		}
	}
	if v := os.Getenv("BUNDLEHOST_DATASOURCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.DataSourceTimeout = d
		}
	}
	if v := os.Getenv("BUNDLEHOST_SESSION_IDS"); v != "" {
		cfg.Security.SessionIDs = v
	}

	// Modules
	if v := os.Getenv("BUNDLEHOST_MODULES"); v != "" {
		cfg.Modules = nil
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Modules = append(cfg.Modules, name)
			}
		}
	}
	if v := os.Getenv("BUNDLEHOST_REGISTRY_LOOKUP_POLICY"); v != "" {
		cfg.Registry.LookupPolicy = v
	}

	// Logging configuration
	if v := os.Getenv("BUNDLEHOST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BUNDLEHOST_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("BUNDLEHOST_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("BUNDLEHOST_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8181
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "bundlehost.db"
	}

	if cfg.Security.DefaultSource == "" {
		cfg.Security.DefaultSource = security.DefaultSource
	}
	if cfg.Security.AdminLogin == "" {
		cfg.Security.AdminLogin = security.AdminLogin
	}
	if cfg.Security.AdminPassword == "" {
		cfg.Security.AdminPassword = "kimios"
	}
	defaults := security.DefaultExpiryPolicy()
	if cfg.Security.SessionTTL == 0 {
		cfg.Security.SessionTTL = defaults.TTL
	}
	if cfg.Security.SweepInterval == 0 {
		cfg.Security.SweepInterval = defaults.SweepInterval
	}
	if cfg.Security.DataSourceTimeout == 0 {
		cfg.Security.DataSourceTimeout = 5 * time.Second
	}
	if cfg.Security.BcryptCost == 0 {
		cfg.Security.BcryptCost = 10
	}
	if cfg.Security.SessionIDs == "" {
		cfg.Security.SessionIDs = "uuid"
	}

	if len(cfg.Modules) == 0 {
		cfg.Modules = append([]string(nil), DefaultModules...)
	}
	if cfg.Registry.LookupPolicy == "" {
		cfg.Registry.LookupPolicy = "first_registered"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port)
	}

	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'memory', got %q", cfg.Database.Driver)
	}

	if cfg.Security.SessionTTL < 0 {
		return fmt.Errorf("security.session_ttl must be positive")
	}
	if cfg.Security.SweepInterval < 0 {
		return fmt.Errorf("security.sweep_interval must be positive")
	}
	if cfg.Security.DataSourceTimeout < 0 {
		return fmt.Errorf("security.datasource_timeout must be positive")
	}
	if cfg.Security.BcryptCost < 4 || cfg.Security.BcryptCost > 31 {
		return fmt.Errorf("security.bcrypt_cost must be between 4 and 31, got %d", cfg.Security.BcryptCost)
	}
	if cfg.Security.SessionIDs != "uuid" && cfg.Security.SessionIDs != "token" {
		return fmt.Errorf("security.session_ids must be 'uuid' or 'token', got %q", cfg.Security.SessionIDs)
	}

	seen := make(map[string]bool, len(cfg.Modules))
	for i, name := range cfg.Modules {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("modules[%d] is empty", i)
		}
		if seen[name] {
			return fmt.Errorf("modules[%d]: %q listed twice", i, name)
		}
		seen[name] = true
	}

	validPolicies := map[string]bool{"first_registered": true, "highest_ranking": true}
	if !validPolicies[strings.ToLower(cfg.Registry.LookupPolicy)] {
		return fmt.Errorf("registry.lookup_policy must be 'first_registered' or 'highest_ranking', got %q", cfg.Registry.LookupPolicy)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}
