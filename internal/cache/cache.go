// Package cache stores composed EnhancedForecast entries keyed by the
// orchestrator's cache key. Implementations are safe for concurrent use and
// last-write-wins per key.
package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

// Cache defines the interface for enhanced forecast caching implementations.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.EnhancedForecast, bool, error)
	Set(ctx context.Context, key string, value models.EnhancedForecast, ttl time.Duration) error
}

// Pinger is implemented by caches backed by a remote server. Used for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DefaultLRUSize bounds the in-memory cache when no size is configured.
const DefaultLRUSize = 4096

// InMemoryCache implements Cache with a bounded LRU. Expired entries are
// removed on access; the least recently used entry is evicted when full.
type InMemoryCache struct {
	lru *lru.Cache
	now func() time.Time
}

type cacheEntry struct {
	value     models.EnhancedForecast
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache holding at most size entries.
func NewInMemoryCache(size int) (*InMemoryCache, error) {
	if size <= 0 {
		size = DefaultLRUSize
	}
	l, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &InMemoryCache{lru: l, now: time.Now}, nil
}

// Get returns (data, true, nil) on hit and (zero, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.EnhancedForecast, bool, error) {
	v, ok := c.lru.Get(key)
	if !ok {
		return models.EnhancedForecast{}, false, nil
	}
	entry := v.(cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.lru.Remove(key)
		return models.EnhancedForecast{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value for ttl.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.EnhancedForecast, ttl time.Duration) error {
	c.lru.Add(key, cacheEntry{value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

// Len reports the number of entries, including expired ones not yet touched.
func (c *InMemoryCache) Len() int {
	return c.lru.Len()
}
