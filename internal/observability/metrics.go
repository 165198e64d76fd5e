package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Upstream forecast provider calls by status label (success, client_error, server_error, error).
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency. Watch for: p95 > 2s means the provider is degrading.
	UpstreamDuration *prometheus.HistogramVec

	// Upstream failures by error category (timeout, network, upstream_5xx, malformed, ...).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Cache lookups by result (hit, miss, error, bypass). Hit rate = hit/(hit+miss).
	CacheLookupsTotal *prometheus.CounterVec

	// Cache errors by operation (get, set) and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache operation latency by operation and outcome.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Cache writes by TTL tier (flagship, popular, default).
	CacheWritesByTierTotal *prometheus.CounterVec

	// Concurrent misses for the same key (duplicate upstream work).
	CacheStampedeDetectedTotal prometheus.Counter

	// Misses answered by a shared in-flight fetch when coalescing is enabled.
	CoalescedFetchesTotal prometheus.Counter

	// Analysis requests by backend and outcome (ok, error, placeholder).
	AnalysisRequestsTotal *prometheus.CounterVec

	// Analysis latency by backend.
	AnalysisDurationSeconds *prometheus.HistogramVec

	// Backend readiness state (0 uninitialized, 1 initializing, 2 ready, 3 failed).
	BackendState *prometheus.GaugeVec

	// Current-best promotions by backend.
	BackendPromotionsTotal *prometheus.CounterVec

	// Refresh driver runs and per-location failures.
	RefreshRunsTotal    prometheus.Counter
	RefreshErrorsTotal  prometheus.Counter
	RefreshDurationSecs prometheus.Histogram

	// Batch sizes and isolated per-location failures.
	BatchLocations      prometheus.Histogram
	BatchLocationErrors prometheus.Counter

	// Circuit breaker state by component (0 closed, 1 open, 2 half-open) and transitions.
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// Snapshot upserts handed to the persistence collaborator by outcome.
	SnapshotUpsertsTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "httpRequestsTotal", Help: "Total number of HTTP requests"},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "httpRequestsInFlight", Help: "Number of HTTP requests currently being served"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rateLimitDeniedTotal", Help: "Requests denied by the rate limiter (429)"},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstreamCallsTotal", Help: "Forecast provider calls by status"},
		[]string{"status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Forecast provider latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstreamErrorsTotal", Help: "Forecast provider failures by category"},
		[]string{"category"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheLookupsTotal", Help: "Cache lookups by result"},
		[]string{"result"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheErrorsTotal", Help: "Cache errors by operation and category"},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "outcome"},
	)
	CacheWritesByTierTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheWritesByTierTotal", Help: "Cache writes by TTL tier"},
		[]string{"tier"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheStampedeDetectedTotal", Help: "Concurrent misses observed for the same cache key"},
	)
	CoalescedFetchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "coalescedFetchesTotal", Help: "Misses served by a shared in-flight fetch"},
	)
	AnalysisRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "analysisRequestsTotal", Help: "Analysis requests by backend and outcome"},
		[]string{"backend", "outcome"},
	)
	AnalysisDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analysisDurationSeconds",
			Help:    "Analysis latency in seconds by backend",
			Buckets: []float64{.001, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend"},
	)
	BackendState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "analysisBackendState", Help: "Backend readiness (0 uninitialized, 1 initializing, 2 ready, 3 failed)"},
		[]string{"backend"},
	)
	BackendPromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "analysisBackendPromotionsTotal", Help: "Current-best promotions by backend"},
		[]string{"backend"},
	)
	RefreshRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "refreshRunsTotal", Help: "Scheduled refresh runs"},
	)
	RefreshErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "refreshErrorsTotal", Help: "Per-location failures during scheduled refresh"},
	)
	RefreshDurationSecs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refreshDurationSeconds",
			Help:    "Duration of one scheduled refresh run",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	BatchLocations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batchLocations",
			Help:    "Locations per batch request",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		},
	)
	BatchLocationErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "batchLocationErrorsTotal", Help: "Isolated per-location failures inside batch requests"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "circuitBreakerState", Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)"},
		[]string{"component"},
	)
	CircuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "circuitBreakerTransitionsTotal", Help: "Circuit breaker state transitions"},
		[]string{"component", "from", "to"},
	)
	SnapshotUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "snapshotUpsertsTotal", Help: "Last-known snapshot upserts by outcome"},
		[]string{"outcome"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight, RateLimitDeniedTotal,
		UpstreamCallsTotal, UpstreamDuration, UpstreamErrorsTotal,
		CacheLookupsTotal, CacheErrorsTotal, CacheOperationDurationSeconds, CacheWritesByTierTotal,
		CacheStampedeDetectedTotal, CoalescedFetchesTotal,
		AnalysisRequestsTotal, AnalysisDurationSeconds, BackendState, BackendPromotionsTotal,
		RefreshRunsTotal, RefreshErrorsTotal, RefreshDurationSecs,
		BatchLocations, BatchLocationErrors,
		CircuitBreakerState, CircuitBreakerTransitions,
		SnapshotUpsertsTotal,
	)
}

// StatusLabel maps an HTTP status code to a low-cardinality metric label.
func StatusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
