package settings

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/raaihank/phi-deid/internal/privacy"
	"go.uber.org/zap"
)

// RecordKey is the key the settings record is stored under
const RecordKey = "phiDeidSettings"

// Store persists the redaction settings as one keyed record
type Store interface {
	// Load returns the stored settings, or defaults when nothing is stored
	Load(ctx context.Context) (privacy.RedactionConfig, error)
	// Exists reports whether a record has been stored
	Exists(ctx context.Context) (bool, error)
	Save(ctx context.Context, cfg privacy.RedactionConfig) error
	Close() error
}

// Config contains settings store configuration
type Config struct {
	Backend         string        `yaml:"backend" mapstructure:"backend"` // memory, redis, sql
	RedisURL        string        `yaml:"redis_url" mapstructure:"redis_url"`
	Driver          string        `yaml:"driver" mapstructure:"driver"` // postgres, sqlite
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// New creates the configured store
func New(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		logger.Info("Using in-memory settings store")
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg.RedisURL, logger)
	case "sql":
		return NewSQLStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown settings store backend: %s", cfg.Backend)
	}
}

// Seed stores initial when no record exists yet and returns the settings in
// effect. An existing record always wins.
func Seed(ctx context.Context, store Store, initial privacy.RedactionConfig) (privacy.RedactionConfig, error) {
	exists, err := store.Exists(ctx)
	if err != nil {
		return privacy.RedactionConfig{}, err
	}
	if exists {
		return store.Load(ctx)
	}
	if err := store.Save(ctx, initial); err != nil {
		return privacy.RedactionConfig{}, err
	}
	return initial.Clone(), nil
}

// MemoryStore keeps the record in process
type MemoryStore struct {
	mu     sync.RWMutex
	record []byte
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store
func (m *MemoryStore) Load(_ context.Context) (privacy.RedactionConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.record == nil {
		return privacy.DefaultRedactionConfig(), nil
	}
	return decode(m.record)
}

// Exists implements Store
func (m *MemoryStore) Exists(_ context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record != nil, nil
}

// Save implements Store
func (m *MemoryStore) Save(_ context.Context, cfg privacy.RedactionConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	m.mu.Lock()
	m.record = data
	m.mu.Unlock()
	return nil
}

// Close implements Store
func (m *MemoryStore) Close() error {
	return nil
}

func decode(data []byte) (privacy.RedactionConfig, error) {
	cfg := privacy.DefaultRedactionConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return privacy.RedactionConfig{}, fmt.Errorf("failed to decode settings record: %w", err)
	}
	return cfg, nil
}

// maskURL masks the password of a connection URL for logging
func maskURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
