package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaultConfig_IsValid(t *testing.T) {
	config := NewDefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, "badger", config.Storage.Type)
	assert.Equal(t, 50, config.History.MaxEntries)
	assert.Equal(t, "http://localhost:8000/api", config.Backend.BaseURL)
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	base := writeConfigFile(t, "base.toml", `
[jobs]
poll_interval = "3s"
max_attempts = 10

[server]
port = 9000
`)
	override := writeConfigFile(t, "override.toml", `
[jobs]
max_attempts = 20
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, "3s", config.Jobs.PollInterval)
	assert.Equal(t, 20, config.Jobs.MaxAttempts)
	assert.Equal(t, 9000, config.Server.Port)
	// untouched sections keep their defaults
	assert.Equal(t, "2s", config.Jobs.CancelGrace)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "flashdeck.toml", `
[backend]
base_url = "http://file.example/api"
`)
	t.Setenv("FLASHDECK_BACKEND_URL", "http://env.example/api")
	t.Setenv("FLASHDECK_JOBS_MAX_ATTEMPTS", "7")
	t.Setenv("FLASHDECK_LOG_OUTPUT", "stdout, file")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "http://env.example/api", config.Backend.BaseURL)
	assert.Equal(t, 7, config.Jobs.MaxAttempts)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadFromFiles_InvalidToml(t *testing.T) {
	path := writeConfigFile(t, "bad.toml", "[jobs\nmax_attempts = ")
	_, err := LoadFromFiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 8085, config.Server.Port)

	ApplyFlagOverrides(config, 9999, "0.0.0.0")
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero attempts", func(c *Config) { c.Jobs.MaxAttempts = 0 }},
		{"bad poll interval", func(c *Config) { c.Jobs.PollInterval = "soon" }},
		{"negative grace", func(c *Config) { c.Jobs.CancelGrace = "-1s" }},
		{"unknown storage", func(c *Config) { c.Storage.Type = "sqlite" }},
		{"redis without url", func(c *Config) {
			c.Storage.Type = "redis"
			c.Storage.Redis.URL = ""
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"no allowed types", func(c *Config) { c.Documents.AllowedTypes = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, 2*time.Second, ParseDurationOr("2s", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("nope", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("0s", time.Minute))
}

func TestDeepCloneConfig(t *testing.T) {
	original := NewDefaultConfig()
	clone := DeepCloneConfig(original)

	clone.Documents.AllowedTypes[0] = "text/plain"
	clone.Jobs.MaxAttempts = 1

	assert.Equal(t, "application/pdf", original.Documents.AllowedTypes[0])
	assert.Equal(t, 150, original.Jobs.MaxAttempts)
	assert.Nil(t, DeepCloneConfig(nil))
}
