package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raaihank/phi-deid/internal/generation"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.SettingsStore.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.JobTimeout)
	assert.Equal(t, "ledongthuc", cfg.PDF.Engine)
	assert.False(t, cfg.Generation.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
redaction:
  categories:
    redactSSN: false
    urls: false
  custom_patterns:
    - name: case
      pattern: 'CASE-\d+'
      replacement: '[CASE]'
      enabled: true
pipeline:
  job_timeout: 30s
settings_store:
  backend: sql
  driver: sqlite
  dsn: settings.db
generation:
  enabled: true
  backend: rules
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.JobTimeout)
	assert.Equal(t, "sql", cfg.SettingsConfig().Backend)
	assert.Equal(t, "settings.db", cfg.SettingsConfig().DSN)
	assert.Equal(t, generation.BackendRules, cfg.GenerationConfig().Backend)
	assert.Equal(t, "debug", cfg.LoggerConfig().Level)

	redaction := cfg.RedactionSettings()
	assert.False(t, redaction.IsEnabled(privacy.CategorySSN))
	assert.False(t, redaction.IsEnabled(privacy.CategoryURLs))
	assert.True(t, redaction.IsEnabled(privacy.CategoryEmails))
	require.Len(t, redaction.CustomPatterns, 1)
	assert.Equal(t, "[CASE]", redaction.CustomPatterns[0].Replacement)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DEID_SERVER_PORT", "9191")
	t.Setenv("DEID_SETTINGS_STORE_BACKEND", "redis")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.SettingsStore.Backend)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"port", "server:\n  port: 70000\n", "invalid server port"},
		{"log level", "logging:\n  level: loud\n", "invalid log level"},
		{"pdf engine", "pdf:\n  engine: mupdf\n", "invalid pdf engine"},
		{"generation backend", "generation:\n  backend: gpt\n", "invalid generation backend"},
		{"settings backend", "settings_store:\n  backend: etcd\n", "invalid settings store backend"},
		{"cache backend", "cache:\n  backend: memcached\n", "invalid cache backend"},
		{"export format", "export:\n  format: xml\n", "invalid export format"},
		{"category", "redaction:\n  categories:\n    faces: true\n", "unknown redaction category"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGenerationDisabledYieldsNoBackend(t *testing.T) {
	cfg := GetDefaults()
	cfg.Generation.Backend = "ollama"

	assert.Equal(t, generation.BackendNone, cfg.GenerationConfig().Backend)
}

func TestWatchRequiresFile(t *testing.T) {
	_, err := Load("")
	require.NoError(t, err)

	assert.Error(t, Watch(func(*Config) {}, nil))
}
