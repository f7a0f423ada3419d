package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/spf13/viper"
)

var (
	activeMu sync.Mutex
	active   *viper.Viper
)

// keys that can be overridden from the environment without a config file
var envKeys = map[string]func(*Config) interface{}{
	"server.port":              func(c *Config) interface{} { return c.Server.Port },
	"logging.level":            func(c *Config) interface{} { return c.Logging.Level },
	"logging.format":           func(c *Config) interface{} { return c.Logging.Format },
	"pipeline.job_timeout":     func(c *Config) interface{} { return c.Pipeline.JobTimeout },
	"pipeline.max_file_size":   func(c *Config) interface{} { return c.Pipeline.MaxFileSize },
	"ocr.language":             func(c *Config) interface{} { return c.OCR.Language },
	"pdf.engine":               func(c *Config) interface{} { return c.PDF.Engine },
	"generation.enabled":       func(c *Config) interface{} { return c.Generation.Enabled },
	"generation.backend":       func(c *Config) interface{} { return c.Generation.Backend },
	"generation.base_url":      func(c *Config) interface{} { return c.Generation.BaseURL },
	"generation.model":         func(c *Config) interface{} { return c.Generation.Model },
	"settings_store.backend":   func(c *Config) interface{} { return c.SettingsStore.Backend },
	"settings_store.redis_url": func(c *Config) interface{} { return c.SettingsStore.RedisURL },
	"settings_store.driver":    func(c *Config) interface{} { return c.SettingsStore.Driver },
	"settings_store.dsn":       func(c *Config) interface{} { return c.SettingsStore.DSN },
	"cache.enabled":            func(c *Config) interface{} { return c.Cache.Enabled },
	"cache.backend":            func(c *Config) interface{} { return c.Cache.Backend },
	"cache.redis_url":          func(c *Config) interface{} { return c.Cache.RedisURL },
	"inbox.enabled":            func(c *Config) interface{} { return c.Inbox.Enabled },
	"inbox.dir":                func(c *Config) interface{} { return c.Inbox.Dir },
	"websocket.enabled":        func(c *Config) interface{} { return c.WebSocket.Enabled },
	"websocket.username":       func(c *Config) interface{} { return c.WebSocket.Username },
	"websocket.password":       func(c *Config) interface{} { return c.WebSocket.Password },
	"rate_limit.enabled":       func(c *Config) interface{} { return c.RateLimit.Enabled },
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/phi-deid/")
	v.AddConfigPath("$HOME/.phi-deid/")

	// Environment variable overrides
	v.SetEnvPrefix("DEID")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, value := range envKeys {
		v.SetDefault(key, value(config))
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	activeMu.Lock()
	active = v
	activeMu.Unlock()

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.PDF.Engine != "ledongthuc" && config.PDF.Engine != "pdfcpu" {
		return fmt.Errorf("invalid pdf engine: %s (must be ledongthuc or pdfcpu)", config.PDF.Engine)
	}

	switch config.Generation.Backend {
	case "none", "ollama", "rules":
	default:
		return fmt.Errorf("invalid generation backend: %s (must be none, ollama, or rules)", config.Generation.Backend)
	}

	switch config.SettingsStore.Backend {
	case "memory", "redis", "sql":
	default:
		return fmt.Errorf("invalid settings store backend: %s (must be memory, redis, or sql)", config.SettingsStore.Backend)
	}

	if config.Cache.Backend != "memory" && config.Cache.Backend != "redis" {
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", config.Cache.Backend)
	}

	switch config.Export.Format {
	case "txt", "csv", "json", "parquet":
	default:
		return fmt.Errorf("invalid export format: %s (must be txt, csv, json, or parquet)", config.Export.Format)
	}

	if config.Pipeline.JobTimeout < 0 {
		return fmt.Errorf("invalid job timeout: %s", config.Pipeline.JobTimeout)
	}

	for key := range config.Redaction.Categories {
		if _, ok := privacy.ParseCategory(key); !ok {
			return fmt.Errorf("unknown redaction category: %s", key)
		}
	}

	for _, p := range config.Redaction.CustomPatterns {
		if p.Name == "" {
			return fmt.Errorf("custom pattern %q has no name", p.Pattern)
		}
	}

	return nil
}

// Watch starts watching the loaded configuration file for changes. Invalid
// updates are reported to onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) error {
	activeMu.Lock()
	v := active
	activeMu.Unlock()

	if v == nil {
		return errors.New("configuration has not been loaded")
	}
	if v.ConfigFileUsed() == "" {
		return errors.New("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to unmarshal config: %w", err))
			}
			return
		}

		if err := validateConfig(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("invalid configuration: %w", err))
			}
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
