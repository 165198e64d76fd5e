package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

// RedisConfig holds connection settings for RedisCache.
type RedisConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// RedisCache implements Cache using Redis string keys with native expiry.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a RedisCache. The connection is established lazily.
func NewRedisCache(cfg RedisConfig) *RedisCache {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	return &RedisCache{client: redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})}
}

// Get implements Cache.Get. redis.Nil is a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (models.EnhancedForecast, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.EnhancedForecast{}, false, nil
		}
		return models.EnhancedForecast{}, false, fmt.Errorf("redis get: %w", err)
	}
	v, err := decodeEntry(raw)
	if err != nil {
		return models.EnhancedForecast{}, false, err
	}
	return v, true, nil
}

// Set implements Cache.Set.
func (c *RedisCache) Set(ctx context.Context, key string, value models.EnhancedForecast, ttl time.Duration) error {
	raw, err := encodeEntry(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks if redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
