package config

import (
	"strings"
	"time"
)

// ApplyDefaults fills in unspecified configuration fields. Zero values are
// replaced; explicit values are preserved. Store-specific defaults are
// handled by the store constructors.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyContentDefaults(&cfg.Content)
	applyMetricsDefaults(&cfg.Metrics)
	applyExportDefaults(cfg.Exports)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
}

func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":9090"
	}
}

func applyExportDefaults(exports []ExportConfig) {
	for i := range exports {
		if exports[i].Umask == 0 {
			exports[i].Umask = 0o022
		}
	}
}
