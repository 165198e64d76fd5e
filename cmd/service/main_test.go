package main

import (
	"testing"
	"time"

	"github.com/kjstillabower/forecast-enhancer/internal/analysis"
	"github.com/kjstillabower/forecast-enhancer/internal/cache"
	"github.com/kjstillabower/forecast-enhancer/internal/config"
	"github.com/kjstillabower/forecast-enhancer/internal/models"
	"github.com/kjstillabower/forecast-enhancer/internal/service"
)

func testConfig() *config.Config {
	return &config.Config{
		CacheBackend:            "in_memory",
		CacheLRUSize:            16,
		FlagshipTTL:             5 * time.Minute,
		PopularTTL:              10 * time.Minute,
		DefaultTTL:              15 * time.Minute,
		Flagship:                &config.Location{Lat: 59.9139, Lon: 10.7522},
		Popular:                 []config.Location{{Lat: 60.39, Lon: 5.32}},
		BreakerFailureThreshold: 3,
		BreakerSuccessThreshold: 1,
		BreakerTimeout:          time.Second,
	}
}

func TestNewCache(t *testing.T) {
	tests := []struct {
		backend  string
		wantNil  bool
		wantPing bool
	}{
		{"in_memory", false, false},
		{"none", true, false},
		{"redis", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := testConfig()
			cfg.CacheBackend = tt.backend
			cfg.RedisAddr = "127.0.0.1:1"
			store, closeFn, ping, err := newCache(cfg)
			if err != nil {
				t.Fatalf("newCache() error = %v", err)
			}
			defer func() { _ = closeFn() }()
			if (store == nil) != tt.wantNil {
				t.Errorf("store nil = %v, want %v", store == nil, tt.wantNil)
			}
			if (ping != nil) != tt.wantPing {
				t.Errorf("ping set = %v, want %v", ping != nil, tt.wantPing)
			}
		})
	}

	cfg := testConfig()
	store, _, _, _ := newCache(cfg)
	if _, ok := store.(*cache.InMemoryCache); !ok {
		t.Errorf("default backend = %T, want *cache.InMemoryCache", store)
	}
}

func TestTTLPolicy_FromConfig(t *testing.T) {
	policy := ttlPolicy(testConfig())

	ttl, tier := policy.For(models.NewLocationKey(59.91, 10.75, nil))
	if tier != service.TierFlagship || ttl != 5*time.Minute {
		t.Errorf("flagship = %v/%s", ttl, tier)
	}
	alt := 40
	if _, tier := policy.For(models.NewLocationKey(60.39, 5.32, &alt)); tier != service.TierPopular {
		t.Errorf("popular with altitude tier = %s, want popular", tier)
	}
	if ttl, tier := policy.For(models.NewLocationKey(1, 1, nil)); tier != service.TierDefault || ttl != 15*time.Minute {
		t.Errorf("long tail = %v/%s", ttl, tier)
	}
}

func TestFlagshipKey_Unset(t *testing.T) {
	cfg := testConfig()
	cfg.Flagship = nil
	if flagshipKey(cfg) != nil {
		t.Error("flagshipKey() should be nil without a configured flagship")
	}
}

func TestAnalysisCandidates(t *testing.T) {
	cfg := testConfig()
	if got := analysisCandidates(cfg); len(got) != 0 {
		t.Errorf("no optional backends configured: got %d candidates", len(got))
	}

	cfg.FastModelPath = "../../models/comfort.yaml"
	cfg.RichEnabled = true
	cfg.RichEndpoint = "http://localhost:11434"
	cfg.RichModel = "llama3.2:1b"
	got := analysisCandidates(cfg)
	if len(got) != 2 || got[0].ID != analysis.FastNumericID || got[1].ID != analysis.RichID {
		t.Errorf("candidates = %+v, want fast-numeric then rich", got)
	}
}
