package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

func testEntry(lat, lon float64) models.EnhancedForecast {
	loc := models.NewLocationKey(lat, lon, nil)
	return models.EnhancedForecast{
		Location: loc,
		Forecast: models.NormalizedForecast{
			Location: loc,
			Current:  models.Reading{Temperature: 12.5, Symbol: "cloudy"},
		},
		Analysis: &models.AnalysisResult{Advisory: "Mild and dry.", Backend: "rule-based"},
		CachedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		TTL:      15 * time.Minute,
	}
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves them.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, err := NewInMemoryCache(10)
	if err != nil {
		t.Fatalf("NewInMemoryCache() error = %v", err)
	}

	val := testEntry(59.91, 10.75)
	if err := c.Set(ctx, "k1", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Location != val.Location || got.Analysis.Advisory != val.Analysis.Advisory {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

func TestInMemoryCache_Get_Miss(t *testing.T) {
	c, _ := NewInMemoryCache(10)

	_, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies expired entries miss and are removed.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c, _ := NewInMemoryCache(10)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k1", testEntry(1, 1), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	now = now.Add(61 * time.Second)

	if _, ok, _ := c.Get(ctx, "k1"); ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after expired access", c.Len())
	}
}

func TestInMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, _ := NewInMemoryCache(2)

	_ = c.Set(ctx, "a", testEntry(1, 1), time.Minute)
	_ = c.Set(ctx, "b", testEntry(2, 2), time.Minute)
	_, _, _ = c.Get(ctx, "a")
	_ = c.Set(ctx, "c", testEntry(3, 3), time.Minute)

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Error("a should still be cached")
	}
}

func TestInMemoryCache_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	c, _ := NewInMemoryCache(10)

	first := testEntry(1, 1)
	second := testEntry(1, 1)
	second.Analysis = &models.AnalysisResult{Advisory: "second"}
	_ = c.Set(ctx, "k", first, time.Minute)
	_ = c.Set(ctx, "k", second, time.Minute)

	got, _, _ := c.Get(ctx, "k")
	if got.Analysis.Advisory != "second" {
		t.Errorf("Advisory = %q, want second", got.Analysis.Advisory)
	}
}

func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c, _ := NewInMemoryCache(64)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			for j := 0; j < 100; j++ {
				_ = c.Set(ctx, key, testEntry(float64(i), 0), time.Minute)
				_, _, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}

func TestCodec_RoundTripPreservesEntry(t *testing.T) {
	alt := 120
	val := testEntry(59.91, 10.75)
	val.Location = models.NewLocationKey(59.91, 10.75, &alt)
	val.Alerts = []models.Alert{{Title: "Frost", Priority: models.AlertPriorityNormal}}

	raw, err := encodeEntry(val)
	if err != nil {
		t.Fatalf("encodeEntry() error = %v", err)
	}
	got, err := decodeEntry(raw)
	if err != nil {
		t.Fatalf("decodeEntry() error = %v", err)
	}
	if got.TTL != val.TTL || !got.CachedAt.Equal(val.CachedAt) {
		t.Errorf("TTL/CachedAt changed: got %v/%v want %v/%v", got.TTL, got.CachedAt, val.TTL, val.CachedAt)
	}
	if got.Location.Altitude == nil || *got.Location.Altitude != 120 {
		t.Errorf("Altitude = %v, want 120", got.Location.Altitude)
	}
	if len(got.Alerts) != 1 {
		t.Errorf("Alerts = %v", got.Alerts)
	}
}

func TestCodec_DecodeGarbage(t *testing.T) {
	if _, err := decodeEntry([]byte("not zstd")); err == nil {
		t.Fatal("decodeEntry() expected error for garbage input")
	}
}
