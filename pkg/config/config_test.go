package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
exports:
  - name: /daos
    pool: pool-label
    container: cont-label
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "memory", cfg.Content.Type)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
	assert.False(t, cfg.Metrics.Enabled)

	require.Len(t, cfg.Exports, 1)
	assert.Equal(t, uint32(0o022), cfg.Exports[0].Umask)
}

func TestLoad_ExplicitValuesPreserved(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
server:
  shutdown_timeout: 5s
storage:
  type: badger
  badger:
    dir: /tmp/daosnfs
metrics:
  enabled: true
  listen: ":9100"
exports:
  - name: /daos
    pool: pool-label
    container: cont-label
    umask: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Levels normalize to upper case.
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "badger", cfg.Storage.Type)
	assert.Equal(t, "/tmp/daosnfs", cfg.Storage.Badger["dir"])
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)
}

func TestLoad_NoExports(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: INFO
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one export")
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: INFO
exports:
  - name: /daos
    pool: pool-label
    container: cont-label
`)
	t.Setenv("DAOSNFS_LOGGING_LEVEL", "ERROR")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
}

func TestValidate_DuplicateExportNames(t *testing.T) {
	cfg := &Config{
		Exports: []ExportConfig{
			{Name: "/daos", Pool: "p", Container: "c"},
			{Name: "/daos", Pool: "p2", Container: "c2"},
		},
	}
	ApplyDefaults(cfg)

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate export name")
}

func TestValidate_Identifiers(t *testing.T) {
	base := func(pool, container string) *Config {
		cfg := &Config{
			Exports: []ExportConfig{
				{Name: "/daos", Pool: pool, Container: container},
			},
		}
		ApplyDefaults(cfg)
		return cfg
	}

	// Short labels pass.
	assert.NoError(t, Validate(base("tank", "posix-cont")))

	// UUID text form passes.
	assert.NoError(t, Validate(base(
		"12345678-1234-1234-1234-123456789abc",
		"87654321-4321-4321-4321-cba987654321",
	)))

	// UUID-length but not a UUID fails.
	err := Validate(base("xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx", "c"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid UUID")

	// Over the identifier length limit fails on the struct tag.
	assert.Error(t, Validate(base("this-pool-label-is-well-over-the-thirty-six-character-limit", "c")))
}

func TestValidate_BadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "TRACE" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad storage type", func(c *Config) { c.Storage.Type = "etcd" }},
		{"bad content type", func(c *Config) { c.Content.Type = "gcs" }},
		{"export name without slash", func(c *Config) { c.Exports[0].Name = "daos" }},
		{"umask out of range", func(c *Config) { c.Exports[0].Umask = 0o1000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Exports: []ExportConfig{{Name: "/daos", Pool: "p", Container: "c"}},
			}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, filepath.Join("/custom/config", "daosnfs", "config.yaml"), GetDefaultConfigPath())
}
