//go:build integration
// +build integration

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-enhancer/internal/lifecycle"
	"github.com/kjstillabower/forecast-enhancer/internal/models"
	"github.com/kjstillabower/forecast-enhancer/internal/observability"
	testhelpers "github.com/kjstillabower/forecast-enhancer/internal/testhelpers"
	"github.com/kjstillabower/forecast-enhancer/internal/traffic"
)

var testLogger *zap.Logger

func init() {
	var err error
	testLogger, err = observability.NewLogger()
	if err != nil {
		panic(err)
	}
}

// setupIntegrationRouter builds the full router over a real met.no client
// pointed at a fake provider.
func setupIntegrationRouter(t *testing.T, limiter *rate.Limiter) (http.Handler, *testhelpers.FakeMetNo) {
	t.Helper()
	lifecycle.Reset()
	lifecycle.MarkReady()
	t.Cleanup(lifecycle.Reset)

	provider := testhelpers.NewFakeMetNo(t)
	svc, reg := testhelpers.SetupService(t, provider, testLogger)
	tracker := traffic.NewTracker()
	svc.SetOutcomeRecorder(tracker)
	health := &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50, DegradedMinSamples: 3}
	h := NewHandler(svc, reg, tracker, health, testLogger)
	return NewRouter(h, RouterConfig{Limiter: limiter, Tracker: tracker, RequestTimeout: 5 * time.Second}, testLogger), provider
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

// uniqueCoords keeps remote caches from serving entries written by earlier runs.
func uniqueCoords() string {
	lat := float64(time.Now().UnixNano()%8000)/100 - 40
	return "lat=" + strconv.FormatFloat(lat, 'f', 2, 64) + "&lon=12.34"
}

func TestIntegration_ForecastEndToEnd(t *testing.T) {
	router, provider := setupIntegrationRouter(t, nil)
	q := uniqueCoords()

	w := get(router, "/forecast?"+q)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var first models.EnhancedForecast
	if err := json.NewDecoder(w.Body).Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Provenance != models.ProvenanceOrigin {
		t.Errorf("Provenance = %q, want origin", first.Provenance)
	}
	if first.Forecast.Current.Temperature != -4.2 {
		t.Errorf("Current.Temperature = %v, want -4.2", first.Forecast.Current.Temperature)
	}
	if first.Analysis == nil || first.Analysis.Advisory == "" {
		t.Error("expected an advisory on the composed forecast")
	}

	w = get(router, "/forecast?"+q)
	var second models.EnhancedForecast
	_ = json.NewDecoder(w.Body).Decode(&second)
	if second.Provenance != models.ProvenanceCache {
		t.Errorf("second Provenance = %q, want cache", second.Provenance)
	}
	if provider.Requests() != 1 {
		t.Errorf("provider requests = %d, want 1", provider.Requests())
	}
}

func TestIntegration_ProviderOutageDegradesHealth(t *testing.T) {
	router, provider := setupIntegrationRouter(t, nil)
	provider.Status.Store(http.StatusServiceUnavailable)

	for i := 0; i < 3; i++ {
		if w := get(router, "/forecast?lat=10&lon="+strconv.Itoa(i)+"&use_cache=false"); w.Code != http.StatusServiceUnavailable {
			t.Errorf("request %d: status = %d, want 503", i, w.Code)
		}
	}
	w := get(router, "/health")
	var health map[string]interface{}
	_ = json.NewDecoder(w.Body).Decode(&health)
	if w.Code != http.StatusServiceUnavailable || health["status"] != "degraded" {
		t.Errorf("health = %d %v, want 503 degraded", w.Code, health["status"])
	}
}

func TestIntegration_RateLimitUnderConcurrency(t *testing.T) {
	router, _ := setupIntegrationRouter(t, rate.NewLimiter(1, 3))

	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := map[int]int{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := get(router, "/forecast?lat=59.91&lon=10.75")
			mu.Lock()
			codes[w.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if codes[http.StatusTooManyRequests] == 0 {
		t.Errorf("expected some 429 responses, got %v", codes)
	}
	if codes[http.StatusOK] > 3 {
		t.Errorf("more successes than burst allows: %v", codes)
	}
}

func TestIntegration_MetricsExposed(t *testing.T) {
	router, _ := setupIntegrationRouter(t, nil)
	get(router, "/forecast?"+uniqueCoords())

	w := get(router, "/metrics")
	body := w.Body.String()
	for _, name := range []string{"httpRequestsTotal", "upstreamCallsTotal", "cacheLookupsTotal"} {
		if !strings.Contains(body, name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}
