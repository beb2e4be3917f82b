// Package config loads service configuration from an optional YAML file and
// INQUEST_* environment variables, with sane local-development defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all settings for the query engine.
type Config struct {
	Backend struct {
		Addresses       []string `mapstructure:"addresses"`
		Username        string   `mapstructure:"username"`
		Password        string   `mapstructure:"password"`
		InsecureSkipTLS bool     `mapstructure:"insecure_skip_tls"`
	} `mapstructure:"backend"`

	LLM struct {
		// Enabled toggles the primary parse path; disabled means every
		// parse uses the deterministic fallback.
		Enabled           bool    `mapstructure:"enabled"`
		BaseURL           string  `mapstructure:"base_url"`
		APIKey            string  `mapstructure:"api_key"`
		Model             string  `mapstructure:"model"`
		Temperature       float32 `mapstructure:"temperature"`
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	} `mapstructure:"llm"`

	API struct {
		Port int    `mapstructure:"port"`
		Host string `mapstructure:"host"`
	} `mapstructure:"api"`

	Investigation struct {
		CacheSize int           `mapstructure:"cache_size"`
		CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"investigation"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.addresses", []string{"http://localhost:9200"})
	v.SetDefault("backend.username", "")
	v.SetDefault("backend.password", "")
	v.SetDefault("backend.insecure_skip_tls", false)

	v.SetDefault("llm.enabled", true)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.requests_per_second", 2.0)

	v.SetDefault("api.port", 8087)
	v.SetDefault("api.host", "0.0.0.0")

	v.SetDefault("investigation.cache_size", 128)
	v.SetDefault("investigation.cache_ttl", time.Hour)

	v.SetDefault("log.level", "info")
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment overrides apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("INQUEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if len(c.Backend.Addresses) == 0 {
		return fmt.Errorf("backend.addresses must not be empty")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required when llm.enabled is true")
	}
	if c.Investigation.CacheSize < 0 {
		return fmt.Errorf("investigation.cache_size must be >= 0")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
