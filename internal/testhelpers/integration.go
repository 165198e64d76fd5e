//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-enhancer/internal/analysis"
	"github.com/kjstillabower/forecast-enhancer/internal/cache"
	"github.com/kjstillabower/forecast-enhancer/internal/forecast"
	"github.com/kjstillabower/forecast-enhancer/internal/service"
)

// CompactForecast is a minimal met.no locationforecast/2.0/compact body with
// two hourly steps and a frost-level minimum.
const CompactForecast = `{
  "type": "Feature",
  "properties": {
    "meta": {"updated_at": "2026-01-10T05:30:00Z", "units": {"air_temperature": "celsius"}},
    "timeseries": [
      {"time": "2026-01-10T06:00:00Z", "data": {
        "instant": {"details": {"air_pressure_at_sea_level": 1021.0, "air_temperature": -4.2, "relative_humidity": 80.0, "wind_from_direction": 10.0, "wind_speed": 2.4}},
        "next_1_hours": {"summary": {"symbol_code": "clearsky_night"}, "details": {"precipitation_amount": 0.0}},
        "next_6_hours": {"summary": {"symbol_code": "fair_day"}, "details": {"precipitation_amount": 0.0, "probability_of_precipitation": 5.0}}
      }},
      {"time": "2026-01-10T07:00:00Z", "data": {
        "instant": {"details": {"air_temperature": -3.1, "wind_speed": 3.0}},
        "next_1_hours": {"summary": {"symbol_code": "fair_day"}, "details": {"precipitation_amount": 0.0}}
      }}
    ]
  }
}`

// FakeMetNo serves CompactForecast and counts requests. Status overrides the
// response code when non-zero.
type FakeMetNo struct {
	*httptest.Server
	requests atomic.Int64
	Status   atomic.Int32
}

// NewFakeMetNo starts a fake provider that is closed with the test.
func NewFakeMetNo(t *testing.T) *FakeMetNo {
	t.Helper()
	f := &FakeMetNo{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if r.Header.Get("User-Agent") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if code := f.Status.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(CompactForecast))
	}))
	t.Cleanup(f.Server.Close)
	return f
}

// Requests returns how many requests reached the provider.
func (f *FakeMetNo) Requests() int64 {
	return f.requests.Load()
}

// SetupCache returns the backend named by INTEGRATION_CACHE_BACKEND
// (memcached, redis or in_memory). Unreachable remote backends fall back to
// in-memory so the suite still runs.
func SetupCache(t *testing.T) cache.Cache {
	t.Helper()
	switch os.Getenv("INTEGRATION_CACHE_BACKEND") {
	case "memcached":
		addr := os.Getenv("MEMCACHED_ADDRS")
		if addr == "" {
			addr = "localhost:11211"
		}
		mc, err := cache.NewMemcachedCache(addr, 500*time.Millisecond, 2)
		if err == nil {
			if err = mc.Ping(context.Background()); err == nil {
				t.Cleanup(func() { _ = mc.Close() })
				t.Logf("Using Memcached cache at %s", addr)
				return mc
			}
			_ = mc.Close()
		}
		t.Logf("Memcached not available (%v), using in-memory cache", err)
	case "redis":
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			addr = "localhost:6379"
		}
		rc := cache.NewRedisCache(cache.RedisConfig{Addr: addr})
		err := rc.Ping(context.Background())
		if err == nil {
			t.Cleanup(func() { _ = rc.Close() })
			t.Logf("Using Redis cache at %s", addr)
			return rc
		}
		_ = rc.Close()
		t.Logf("Redis not available (%v), using in-memory cache", err)
	}
	mem, err := cache.NewInMemoryCache(256)
	if err != nil {
		t.Fatalf("NewInMemoryCache() error = %v", err)
	}
	return mem
}

// SetupService wires a real met.no client against provider, a rule-based
// analysis registry and the integration cache.
func SetupService(t *testing.T, provider *FakeMetNo, logger *zap.Logger) (*service.EnhancementService, *analysis.Registry) {
	t.Helper()
	client, err := forecast.NewMetNoClient(provider.URL, "forecast-enhancer-integration/1.0 test@example.com", 2*time.Second)
	if err != nil {
		t.Fatalf("NewMetNoClient() error = %v", err)
	}
	reg := analysis.NewRegistry(logger)
	if err := reg.Bootstrap(context.Background(), analysis.Registration{ID: analysis.RuleBasedID, Backend: analysis.NewRuleBasedBackend()}); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	return service.NewEnhancementService(client, reg, SetupCache(t), service.Config{}, logger), reg
}
