package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	"github.com/raaihank/phi-deid/internal/privacy"
	"go.uber.org/zap"
)

// RedisStore keeps the record under RecordKey in Redis
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects to redisURL and verifies the connection
func NewRedisStore(redisURL string, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	store := &RedisStore{
		client: redis.NewClient(opts),
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := store.client.Ping(ctx).Result(); err != nil {
		store.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis settings store initialized",
		zap.String("redis_url", maskURL(redisURL)),
	)

	return store, nil
}

// Load implements Store
func (s *RedisStore) Load(ctx context.Context) (privacy.RedactionConfig, error) {
	data, err := s.client.Get(ctx, RecordKey).Bytes()
	if err == redis.Nil {
		s.logger.Debug("No stored settings, using defaults")
		return privacy.DefaultRedactionConfig(), nil
	}
	if err != nil {
		return privacy.RedactionConfig{}, fmt.Errorf("failed to read settings: %w", err)
	}
	return decode(data)
}

// Exists implements Store
func (s *RedisStore) Exists(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, RecordKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check settings: %w", err)
	}
	return n > 0, nil
}

// Save implements Store
func (s *RedisStore) Save(ctx context.Context, cfg privacy.RedactionConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := s.client.Set(ctx, RecordKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}

	s.logger.Debug("Settings stored", zap.Int("bytes", len(data)))
	return nil
}

// Close implements Store
func (s *RedisStore) Close() error {
	return s.client.Close()
}
