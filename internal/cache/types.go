package cache

import (
	"context"
	"time"
)

// Entry is the extracted text of one document
type Entry struct {
	Name     string    `json:"name"`
	Text     string    `json:"text"`
	CachedAt time.Time `json:"cached_at"`
	TTL      int64     `json:"ttl"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Backend     string  `json:"backend"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes,omitempty"`
}

// Config contains extraction cache configuration
type Config struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Backend        string        `yaml:"backend" mapstructure:"backend"` // memory or redis
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxEntries     int           `yaml:"max_entries" mapstructure:"max_entries"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// Cache stores extracted text keyed by document content
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Store(ctx context.Context, key string, entry *Entry) error
	Clear(ctx context.Context) error
	GetStats(ctx context.Context) (*CacheStats, error)
	Close() error
}
