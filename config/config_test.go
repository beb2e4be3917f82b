package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INQUEST_LLM_API_KEY", "test-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"http://localhost:9200"}, cfg.Backend.Addresses)
	assert.True(t, cfg.LLM.Enabled)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 8087, cfg.API.Port)
	assert.Equal(t, 128, cfg.Investigation.CacheSize)
	assert.Equal(t, time.Hour, cfg.Investigation.CacheTTL)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
backend:
  addresses:
    - http://search-1:9200
    - http://search-2:9200
llm:
  enabled: false
api:
  port: 9090
investigation:
  cache_size: 16
  cache_ttl: 30m
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Backend.Addresses, 2)
	assert.False(t, cfg.LLM.Enabled)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 16, cfg.Investigation.CacheSize)
	assert.Equal(t, 30*time.Minute, cfg.Investigation.CacheTTL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INQUEST_LLM_ENABLED", "false")
	t.Setenv("INQUEST_API_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.LLM.Enabled)
	assert.Equal(t, 7070, cfg.API.Port)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Setenv("INQUEST_LLM_ENABLED", "false")
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Backend.Addresses = nil
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.API.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.LLM.Enabled = true
	cfg.LLM.APIKey = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Investigation.CacheSize = -1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Log.Level = "verbose"
	assert.Error(t, cfg.Validate())
}
