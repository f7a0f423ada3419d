package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache keeps extracted text in process. The oldest entry is evicted
// once MaxEntries is reached.
type MemoryCache struct {
	config Config

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string

	hits   atomic.Int64
	misses atomic.Int64

	now func() time.Time
}

// NewMemoryCache creates an empty memory cache
func NewMemoryCache(config Config) *MemoryCache {
	return &MemoryCache{
		config:  config,
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Get implements Cache
func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && c.expired(entry) {
		c.removeLocked(key)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}

	c.hits.Add(1)
	copied := *entry
	return &copied, true, nil
}

// Store implements Cache
func (c *MemoryCache) Store(_ context.Context, key string, entry *Entry) error {
	stored := *entry
	stored.CachedAt = c.now()
	stored.TTL = int64(c.config.DefaultTTL.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.removeLocked(key)
	}
	if c.config.MaxEntries > 0 {
		for len(c.order) >= c.config.MaxEntries {
			c.removeLocked(c.order[0])
		}
	}

	c.entries[key] = &stored
	c.order = append(c.order, key)
	return nil
}

// Clear implements Cache
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.order = nil
	c.mu.Unlock()
	return nil
}

// GetStats implements Cache
func (c *MemoryCache) GetStats(_ context.Context) (*CacheStats, error) {
	c.mu.Lock()
	keys := len(c.entries)
	c.mu.Unlock()

	stats := &CacheStats{
		Backend:   "memory",
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		TotalKeys: int64(keys),
	}
	stats.HitRate = hitRate(stats.Hits, stats.Misses)
	return stats, nil
}

// Close implements Cache
func (c *MemoryCache) Close() error {
	return nil
}

func (c *MemoryCache) expired(entry *Entry) bool {
	return c.config.DefaultTTL > 0 && c.now().Sub(entry.CachedAt) > c.config.DefaultTTL
}

func (c *MemoryCache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
