//go:build integration
// +build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

type remoteCache interface {
	Cache
	Pinger
	Close() error
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// TestRemoteCaches_Integration runs the same contract against memcached and
// redis. Unreachable servers are skipped.
func TestRemoteCaches_Integration(t *testing.T) {
	backends := map[string]func() (remoteCache, error){
		"memcached": func() (remoteCache, error) {
			return NewMemcachedCache(envOr("MEMCACHED_ADDRS", "localhost:11211"), 500*time.Millisecond, 2)
		},
		"redis": func() (remoteCache, error) {
			return NewRedisCache(RedisConfig{Addr: envOr("REDIS_ADDR", "localhost:6379"), DialTimeout: 500 * time.Millisecond}), nil
		},
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			c, err := open()
			if err != nil {
				t.Fatalf("open %s: %v", name, err)
			}
			defer c.Close()

			ctx := context.Background()
			if err := c.Ping(ctx); err != nil {
				t.Skipf("%s not reachable: %v", name, err)
			}

			key := "integration-" + name + "-" + time.Now().Format("150405.000000")
			val := testEntry(59.91, 10.75)
			alt := 120
			val.Location.Altitude = &alt
			if err := c.Set(ctx, key, val, time.Minute); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			got, ok, err := c.Get(ctx, key)
			if err != nil || !ok {
				t.Fatalf("Get() = ok %v err %v, want hit", ok, err)
			}
			if got.Location.String() != val.Location.String() || got.TTL != val.TTL {
				t.Errorf("Get() location %s ttl %v, want %s %v", got.Location, got.TTL, val.Location, val.TTL)
			}
			if got.Analysis == nil || got.Analysis.Advisory != val.Analysis.Advisory {
				t.Errorf("Analysis = %+v, want %+v", got.Analysis, val.Analysis)
			}

			if _, ok, err := c.Get(ctx, key+"-missing"); err != nil || ok {
				t.Errorf("Get(missing) = ok %v err %v, want miss", ok, err)
			}
		})
	}
}
