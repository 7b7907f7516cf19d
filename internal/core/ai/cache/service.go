package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ingredient-recognizer/internal/infrastructure/config"
	"ingredient-recognizer/internal/pkg/common"

	"github.com/go-redis/redis/v8"
)

// RedisStore Redis 緩存
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore 創建 Redis 緩存並測試連接
func NewRedisStore(cfg config.CacheConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

// Get 獲取緩存
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			common.LogCacheMiss("redis")
			return nil, common.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	common.LogCacheHit("redis")
	return data, nil
}

// Set 設置緩存
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Close 關閉連接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
