package service

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMissTracker_BeginEnd(t *testing.T) {
	m := newMissTracker()
	key := CacheKey(oslo, false, "")

	if got := m.begin(key); got != 1 {
		t.Errorf("begin() = %d, want 1", got)
	}
	if got := m.begin(key); got != 2 {
		t.Errorf("second begin() = %d, want 2", got)
	}
	m.end(key)
	if got := m.active(key); got != 1 {
		t.Errorf("active after one end = %d, want 1", got)
	}
	m.end(key)
	m.end(key)
	if got := m.active(key); got != 0 {
		t.Errorf("extra end() must not go negative: active = %d", got)
	}
	if _, ok := m.inFlight[key]; ok {
		t.Error("released key should be removed")
	}
}

func TestMissTracker_ConcurrentKeys(t *testing.T) {
	m := newMissTracker()
	keys := []string{CacheKey(oslo, false, ""), CacheKey(oslo, true, "")}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			m.begin(k)
			m.end(k)
		}(keys[i%2])
	}
	wg.Wait()
	for _, k := range keys {
		if got := m.active(k); got != 0 {
			t.Errorf("active(%q) = %d, want 0", k, got)
		}
	}
}

func TestEnhance_ReleasesInFlightKey(t *testing.T) {
	svc, _ := newTestService(&mockFetcher{}, newMockCache(), Config{})
	if _, err := svc.Enhance(context.Background(), oslo.Lat, oslo.Lon, DefaultOptions()); err != nil {
		t.Fatalf("Enhance() error = %v", err)
	}
	key := CacheKey(oslo, false, "")
	// end runs in the origin goroutine after the result is delivered.
	for i := 0; i < 100 && svc.inFlight.active(key) != 0; i++ {
		time.Sleep(time.Millisecond)
	}
	if got := svc.inFlight.active(key); got != 0 {
		t.Errorf("in-flight after Enhance = %d, want 0", got)
	}
}
