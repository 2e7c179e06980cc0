// Package config loads, defaults and validates the daosnfs configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DAOSNFS_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Store configuration pattern: the storage and content sections carry a
// Type selector plus one map per implementation; only the map matching the
// selected type is decoded, by the factory functions in factories.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete daosnfs configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings.
	Server ServerConfig `mapstructure:"server"`

	// Storage selects and configures the node-store backend.
	Storage StorageConfig `mapstructure:"storage"`

	// Content selects and configures the file-content store.
	Content ContentConfig `mapstructure:"content"`

	// Exports defines the filesystem exports served to clients.
	Exports []ExportConfig `mapstructure:"exports" validate:"dive"`

	// Metrics controls the Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is the output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// StorageConfig selects the node-store backend. Only the section matching
// Type is used.
type StorageConfig struct {
	// Type is the backend: memory or badger.
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Memory holds memory-backend options (currently none).
	Memory map[string]any `mapstructure:"memory"`

	// Badger holds BadgerDB-backend options (dir, attr_cache_size, ...).
	Badger map[string]any `mapstructure:"badger"`
}

// ContentConfig selects the file-content store. Only the section matching
// Type is used.
type ContentConfig struct {
	// Type is the store: memory or s3.
	Type string `mapstructure:"type" validate:"required,oneof=memory s3"`

	// Memory holds memory-store options (currently none).
	Memory map[string]any `mapstructure:"memory"`

	// S3 holds S3-store options (region, bucket, endpoint, credentials).
	S3 map[string]any `mapstructure:"s3"`
}

// ExportConfig defines one filesystem export.
type ExportConfig struct {
	// Name is the export path presented to clients (e.g. "/daos").
	Name string `mapstructure:"name" validate:"required,startswith=/"`

	// ServerGroup is the storage service group, optional.
	ServerGroup string `mapstructure:"server_group" validate:"max=36"`

	// Pool identifies the storage pool, mandatory, at most 36 characters.
	Pool string `mapstructure:"pool" validate:"required,max=36"`

	// Container identifies the filesystem container within the pool,
	// mandatory, at most 36 characters.
	Container string `mapstructure:"container" validate:"required,max=36"`

	// Umask is applied to the mode of objects created through this export.
	Umask uint32 `mapstructure:"umask" validate:"lte=511"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on.
	Enabled bool `mapstructure:"enabled"`

	// Listen is the address of the metrics HTTP listener.
	Listen string `mapstructure:"listen"`
}

// Load loads configuration from file, environment, and defaults.
// configPath empty means the default location is searched.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures environment variables and config file search.
// Environment variables use the DAOSNFS_ prefix with underscores, e.g.
// DAOSNFS_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DAOSNFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if one exists. A missing file
// is not an error; defaults apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory: $XDG_CONFIG_HOME/daosnfs,
// falling back to ~/.config/daosnfs, then the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "daosnfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "daosnfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
