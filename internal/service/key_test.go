package service

import (
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-enhancer/internal/analysis"
	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

func TestCacheKey(t *testing.T) {
	alt := 120
	base := CacheKey(models.NewLocationKey(59.9139, 10.7522, nil), false, "")

	if !strings.HasPrefix(base, "forecast:") {
		t.Errorf("key %q missing prefix", base)
	}
	if got := CacheKey(models.NewLocationKey(59.9141, 10.7549, nil), false, ""); got != base {
		t.Error("nearby coordinates should share a key")
	}
	if got := CacheKey(models.NewLocationKey(59.91, 10.75, nil), false, analysis.AutoBackend); got != base {
		t.Error("empty backend should equal auto")
	}

	distinct := []string{
		CacheKey(models.NewLocationKey(59.92, 10.75, nil), false, ""),
		CacheKey(models.NewLocationKey(59.91, 10.75, &alt), false, ""),
		CacheKey(models.NewLocationKey(59.91, 10.75, nil), true, ""),
		CacheKey(models.NewLocationKey(59.91, 10.75, nil), false, analysis.RuleBasedID),
	}
	seen := map[string]bool{base: true}
	for i, k := range distinct {
		if seen[k] {
			t.Errorf("key %d collides", i)
		}
		seen[k] = true
	}
}

func TestTTLPolicy_For(t *testing.T) {
	flagship := models.NewLocationKey(59.91, 10.75, nil)
	p := DefaultTTLPolicy()
	p.Flagship = &flagship
	p.Popular = []models.LocationKey{models.NewLocationKey(60.39, 5.32, nil)}

	alt := 300
	tests := []struct {
		name     string
		loc      models.LocationKey
		wantTTL  time.Duration
		wantTier string
	}{
		{"flagship", flagship, DefaultFlagshipTTL, TierFlagship},
		{"flagship with altitude", models.NewLocationKey(59.91, 10.75, &alt), DefaultFlagshipTTL, TierFlagship},
		{"popular", models.NewLocationKey(60.39, 5.32, nil), DefaultPopularTTL, TierPopular},
		{"long tail", models.NewLocationKey(-33.87, 151.21, nil), DefaultLongTailTTL, TierDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ttl, tier := p.For(tt.loc)
			if ttl != tt.wantTTL || tier != tt.wantTier {
				t.Errorf("For() = %v, %q; want %v, %q", ttl, tier, tt.wantTTL, tt.wantTier)
			}
		})
	}
	if DefaultFlagshipTTL != 300*time.Second || DefaultPopularTTL != 600*time.Second || DefaultLongTailTTL != 900*time.Second {
		t.Errorf("default TTLs = %v/%v/%v, want 5m/10m/15m", DefaultFlagshipTTL, DefaultPopularTTL, DefaultLongTailTTL)
	}
}
