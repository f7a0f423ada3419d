package config

import (
	"github.com/raaihank/phi-deid/internal/api"
	"github.com/raaihank/phi-deid/internal/cache"
	"github.com/raaihank/phi-deid/internal/extraction"
	"github.com/raaihank/phi-deid/internal/generation"
	"github.com/raaihank/phi-deid/internal/inbox"
	"github.com/raaihank/phi-deid/internal/logger"
	"github.com/raaihank/phi-deid/internal/privacy"
	"github.com/raaihank/phi-deid/internal/queue"
	"github.com/raaihank/phi-deid/internal/settings"
	"github.com/raaihank/phi-deid/internal/websocket"
)

// RedactionSettings returns the initial redaction settings. Categories not
// listed stay enabled.
func (c *Config) RedactionSettings() privacy.RedactionConfig {
	cfg := privacy.DefaultRedactionConfig()
	for key, enabled := range c.Redaction.Categories {
		if category, ok := privacy.ParseCategory(key); ok {
			cfg.Set(category, enabled)
		}
	}
	for _, p := range c.Redaction.CustomPatterns {
		cfg.CustomPatterns = append(cfg.CustomPatterns, privacy.CustomPattern{
			Name:        p.Name,
			Pattern:     p.Pattern,
			Replacement: p.Replacement,
			Enabled:     p.Enabled,
		})
	}
	return cfg
}

func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		File: &logger.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		AllowedExtensions: c.Pipeline.AllowedExtensions,
		AllowedMIMETypes:  c.Pipeline.AllowedMIMETypes,
		MaxFileSize:       c.Pipeline.MaxFileSize,
		JobTimeout:        c.Pipeline.JobTimeout,
	}
}

func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Enabled:        c.Cache.Enabled,
		Backend:        c.Cache.Backend,
		RedisURL:       c.Cache.RedisURL,
		MaxConnections: c.Cache.MaxConnections,
		MinIdleConns:   c.Cache.MinIdleConns,
		DefaultTTL:     c.Cache.DefaultTTL,
		MaxEntries:     c.Cache.MaxEntries,
		KeyPrefix:      c.Cache.KeyPrefix,
	}
}

func (c *Config) ExtractionConfig() extraction.Config {
	return extraction.Config{
		PDFEngine:   c.PDF.Engine,
		OCRLanguage: c.OCR.Language,
	}
}

// GenerationConfig returns the backend configuration. A disabled generation
// section always yields BackendNone.
func (c *Config) GenerationConfig() generation.Config {
	backend := generation.BackendType(c.Generation.Backend)
	if !c.Generation.Enabled {
		backend = generation.BackendNone
	}
	return generation.Config{
		Backend: backend,
		BaseURL: c.Generation.BaseURL,
		Timeout: c.Generation.Timeout,
	}
}

func (c *Config) SettingsConfig() settings.Config {
	return settings.Config{
		Backend:         c.SettingsStore.Backend,
		RedisURL:        c.SettingsStore.RedisURL,
		Driver:          c.SettingsStore.Driver,
		DSN:             c.SettingsStore.DSN,
		MaxOpenConns:    c.SettingsStore.MaxOpenConns,
		ConnMaxLifetime: c.SettingsStore.ConnMaxLifetime,
	}
}

func (c *Config) InboxConfig() inbox.Config {
	return inbox.Config{
		Enabled:     c.Inbox.Enabled,
		Dir:         c.Inbox.Dir,
		DoneDir:     c.Inbox.DoneDir,
		Settle:      c.Inbox.Settle,
		AutoProcess: c.Inbox.AutoProcess,
	}
}

func (c *Config) HubConfig() *websocket.HubConfig {
	return &websocket.HubConfig{
		BroadcastJobs:        c.WebSocket.BroadcastJobs,
		BroadcastProgress:    c.WebSocket.BroadcastProgress,
		BroadcastConnections: c.WebSocket.BroadcastConnections,
		Username:             c.WebSocket.Username,
		Password:             c.WebSocket.Password,
		AllowedOrigins:       c.WebSocket.AllowedOrigins,
	}
}

func (c *Config) APIConfig() api.Config {
	return api.Config{
		Port:           c.Server.Port,
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
		IdleTimeout:    c.Server.IdleTimeout,
		MaxUploadBytes: c.Server.MaxUploadBytes,
		RateLimit: api.RateLimitConfig{
			Enabled:        c.RateLimit.Enabled,
			RequestsPerMin: c.RateLimit.RequestsPerMin,
			Burst:          c.RateLimit.Burst,
		},
	}
}
