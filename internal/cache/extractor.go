package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/raaihank/phi-deid/internal/extraction"
	"go.uber.org/zap"
)

// New creates the configured cache
func New(config Config, logger *zap.Logger) (Cache, error) {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "phi-deid"
	}

	switch config.Backend {
	case "", "memory":
		logger.Info("Extraction cache initialized",
			zap.String("backend", "memory"),
			zap.Int("max_entries", config.MaxEntries),
			zap.Duration("default_ttl", config.DefaultTTL))
		return NewMemoryCache(config), nil
	case "redis":
		return NewRedisCache(config, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", config.Backend)
	}
}

// Extractor skips extraction for documents whose content was seen before.
// Cache failures fall through to the wrapped extractor.
type Extractor struct {
	next   extraction.Extractor
	cache  Cache
	prefix string
	engine string
	logger *zap.Logger
}

// NewExtractor wraps next. engine distinguishes results of differently
// configured pipelines sharing one cache.
func NewExtractor(next extraction.Extractor, cache Cache, config Config, engine string, logger *zap.Logger) *Extractor {
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "phi-deid"
	}
	return &Extractor{
		next:   next,
		cache:  cache,
		prefix: prefix,
		engine: engine,
		logger: logger.With(zap.String("component", "extraction_cache")),
	}
}

// Extract implements extraction.Extractor
func (e *Extractor) Extract(ctx context.Context, src extraction.Source, progress extraction.ProgressFunc) (string, error) {
	key := e.key(src)

	entry, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("Cache lookup failed", zap.String("file", src.Name), zap.Error(err))
	}
	if ok {
		e.logger.Debug("Cache hit", zap.String("file", src.Name))
		return entry.Text, nil
	}

	text, err := e.next.Extract(ctx, src, progress)
	if err != nil {
		return "", err
	}

	if err := e.cache.Store(ctx, key, &Entry{Name: src.Name, Text: text}); err != nil {
		e.logger.Warn("Failed to cache extracted text", zap.String("file", src.Name), zap.Error(err))
	}
	return text, nil
}

// key hashes the content together with the engine, the resolved kind and
// the extension
func (e *Extractor) key(src extraction.Source) string {
	hasher := sha256.New()
	hasher.Write([]byte(e.engine))
	hasher.Write([]byte{0})
	hasher.Write([]byte(extraction.DetectKind(src.Name, src.MIME)))
	hasher.Write([]byte{0})
	hasher.Write([]byte(extraction.Extension(src.Name)))
	hasher.Write([]byte{0})
	hasher.Write(src.Content)

	hash := hex.EncodeToString(hasher.Sum(nil))
	return fmt.Sprintf("%s:text:%s", e.prefix, hash[:32])
}
