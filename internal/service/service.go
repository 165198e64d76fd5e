// Package service composes forecasts with analysis behind a tiered cache.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/forecast-enhancer/internal/alerts"
	"github.com/kjstillabower/forecast-enhancer/internal/analysis"
	"github.com/kjstillabower/forecast-enhancer/internal/cache"
	"github.com/kjstillabower/forecast-enhancer/internal/forecast"
	"github.com/kjstillabower/forecast-enhancer/internal/models"
	"github.com/kjstillabower/forecast-enhancer/internal/observability"
	"github.com/kjstillabower/forecast-enhancer/internal/snapshot"
)

// Analyzer produces an advisory. It never fails; *analysis.Registry implements it.
type Analyzer interface {
	Analyze(ctx context.Context, f models.NormalizedForecast, preferred string) models.AnalysisResult
}

// OutcomeRecorder receives upstream fetch outcomes (see traffic.Tracker).
type OutcomeRecorder interface {
	RecordSuccess()
	RecordError()
}

// Options controls a single Enhance call.
type Options struct {
	PreferredBackend string
	ForceRefresh     bool
	SkipAnalysis     bool
	UseCache         bool
	Altitude         *int
	// UserID, when set, stores the result as that user's last-known snapshot.
	UserID string
}

// DefaultOptions returns options with caching enabled and automatic backend selection.
func DefaultOptions() Options {
	return Options{UseCache: true}
}

// Config holds orchestrator settings.
type Config struct {
	TTL TTLPolicy
	// CoalesceEnabled shares one upstream fetch between concurrent misses for a key.
	CoalesceEnabled bool
	// SnapshotTimeout bounds each fire-and-forget snapshot upsert.
	SnapshotTimeout time.Duration
}

// Stats are process-lifetime lookup counters.
type Stats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Bypassed int64   `json:"bypassed"`
	HitRate  float64 `json:"hitRate"`
}

// EnhancementService is the cache-aware facade over the forecast client and
// the analysis registry.
type EnhancementService struct {
	fetcher  forecast.Fetcher
	analyzer Analyzer
	cache    cache.Cache
	ttl      TTLPolicy
	logger   *zap.Logger
	now      func() time.Time

	snapshots       snapshot.Sink
	snapshotTimeout time.Duration
	outcomes        OutcomeRecorder

	inFlight *missTracker
	group    *singleflight.Group

	hits     atomic.Int64
	misses   atomic.Int64
	bypassed atomic.Int64
}

// NewEnhancementService wires the orchestrator. c may be nil, which disables caching.
func NewEnhancementService(fetcher forecast.Fetcher, analyzer Analyzer, c cache.Cache, cfg Config, logger *zap.Logger) *EnhancementService {
	s := &EnhancementService{
		fetcher:         fetcher,
		analyzer:        analyzer,
		cache:           c,
		ttl:             cfg.TTL,
		logger:          observability.OrNop(logger),
		now:             time.Now,
		snapshots:       snapshot.NopSink{},
		snapshotTimeout: cfg.SnapshotTimeout,
		inFlight:        newMissTracker(),
	}
	def := DefaultTTLPolicy()
	if s.ttl.FlagshipTTL <= 0 {
		s.ttl.FlagshipTTL = def.FlagshipTTL
	}
	if s.ttl.PopularTTL <= 0 {
		s.ttl.PopularTTL = def.PopularTTL
	}
	if s.ttl.DefaultTTL <= 0 {
		s.ttl.DefaultTTL = def.DefaultTTL
	}
	if s.snapshotTimeout <= 0 {
		s.snapshotTimeout = 5 * time.Second
	}
	if cfg.CoalesceEnabled {
		s.group = &singleflight.Group{}
	}
	return s
}

// SetSnapshotSink sets the persistence collaborator for per-user snapshots.
func (s *EnhancementService) SetSnapshotSink(sink snapshot.Sink) {
	if sink == nil {
		sink = snapshot.NopSink{}
	}
	s.snapshots = sink
}

// SetOutcomeRecorder sets where upstream fetch outcomes are reported.
func (s *EnhancementService) SetOutcomeRecorder(r OutcomeRecorder) {
	s.outcomes = r
}

// Stats returns hit/miss counters since process start.
func (s *EnhancementService) Stats() Stats {
	h, m := s.hits.Load(), s.misses.Load()
	st := Stats{Hits: h, Misses: m, Bypassed: s.bypassed.Load()}
	if h+m > 0 {
		st.HitRate = float64(h) / float64(h+m)
	}
	return st
}

type outcome struct {
	entry models.EnhancedForecast
	err   error
}

// Enhance returns the composed forecast for (lat, lon). It fails only when the
// forecast itself cannot be fetched; analysis and cache failures degrade.
//
// The miss pipeline does not inherit the caller's cancellation: when the caller
// gives up, fetch, analysis and the cache write still complete for the next caller.
func (s *EnhancementService) Enhance(ctx context.Context, lat, lon float64, opts Options) (models.EnhancedForecast, error) {
	loc := models.NewLocationKey(lat, lon, opts.Altitude)
	key := CacheKey(loc, opts.SkipAnalysis, opts.PreferredBackend)
	logger := observability.LoggerFromContext(ctx, s.logger).With(zap.String("location", loc.String()))
	start := time.Now()

	useCache := opts.UseCache && s.cache != nil
	switch {
	case !useCache || opts.ForceRefresh:
		s.bypassed.Add(1)
		observability.CacheLookupsTotal.WithLabelValues("bypass").Inc()
	default:
		if cached, ok := s.lookup(ctx, key, logger); ok {
			s.hits.Add(1)
			cached.Provenance = models.ProvenanceCache
			s.storeSnapshot(ctx, opts.UserID, cached.Forecast, logger)
			logger.Debug("forecast served", zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
			return cached, nil
		}
		s.misses.Add(1)
	}

	if n := s.inFlight.begin(key); n > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		logger.Debug("concurrent miss for key", zap.Int("concurrent", n))
	}

	detached := context.WithoutCancel(ctx)
	done := s.startOrigin(detached, key, loc, opts, useCache, logger)

	select {
	case o := <-done:
		if o.err != nil {
			return models.EnhancedForecast{}, o.err
		}
		s.storeSnapshot(ctx, opts.UserID, o.entry.Forecast, logger)
		logger.Debug("forecast served", zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
		return o.entry, nil
	case <-ctx.Done():
		logger.Debug("caller gave up, origin fetch continues", zap.Error(ctx.Err()))
		return models.EnhancedForecast{}, ctx.Err()
	}
}

// startOrigin runs the miss pipeline in the background and returns a channel
// that receives exactly one outcome.
func (s *EnhancementService) startOrigin(ctx context.Context, key string, loc models.LocationKey, opts Options, useCache bool, logger *zap.Logger) <-chan outcome {
	done := make(chan outcome, 1)

	if s.group == nil {
		go func() {
			defer s.inFlight.end(key)
			e, err := s.origin(ctx, key, loc, opts, useCache, logger)
			done <- outcome{entry: e, err: err}
		}()
		return done
	}

	// Forced refreshes and cache-bypassing calls never share with ordinary misses.
	flightKey := fmt.Sprintf("%s|%t|%t", key, opts.ForceRefresh, useCache)
	ch := s.group.DoChan(flightKey, func() (interface{}, error) {
		return s.origin(ctx, key, loc, opts, useCache, logger)
	})
	go func() {
		defer s.inFlight.end(key)
		r := <-ch
		if r.Shared {
			observability.CoalescedFetchesTotal.Inc()
		}
		if r.Err != nil {
			done <- outcome{err: r.Err}
			return
		}
		done <- outcome{entry: r.Val.(models.EnhancedForecast)}
	}()
	return done
}

// origin fetches, analyzes, composes and writes through. Fetch precedes
// analysis precedes the cache write.
func (s *EnhancementService) origin(ctx context.Context, key string, loc models.LocationKey, opts Options, useCache bool, logger *zap.Logger) (models.EnhancedForecast, error) {
	f, err := s.fetcher.Fetch(ctx, loc.Lat, loc.Lon, loc.Altitude)
	if err != nil {
		if s.outcomes != nil {
			s.outcomes.RecordError()
		}
		logger.Warn("upstream fetch failed",
			zap.String("category", string(forecast.CategorizeError(err))), zap.Error(err))
		return models.EnhancedForecast{}, fmt.Errorf("fetch forecast for %s: %w", loc, err)
	}
	if s.outcomes != nil {
		s.outcomes.RecordSuccess()
	}

	var result *models.AnalysisResult
	if !opts.SkipAnalysis {
		r := s.analyzer.Analyze(ctx, f, opts.PreferredBackend)
		result = &r
	}

	ttl, tier := s.ttl.For(loc)
	entry := models.EnhancedForecast{
		Location:   loc,
		Forecast:   f,
		Analysis:   result,
		Alerts:     alerts.Derive(f),
		CachedAt:   s.now().UTC(),
		TTL:        ttl,
		Provenance: models.ProvenanceOrigin,
	}

	switch {
	case !useCache:
	case !producedByPreferred(opts.PreferredBackend, result):
		// The key names the preferred backend; a fallback advisory stored
		// there would outlive that backend becoming Ready.
		logger.Debug("fallback advisory not cached",
			zap.String("preferred", opts.PreferredBackend), zap.String("backend", result.Backend))
	default:
		s.store(ctx, key, entry, tier, logger)
	}
	return entry, nil
}

// producedByPreferred reports whether result came from the explicitly
// requested backend. Auto selection and skipped analysis always match.
func producedByPreferred(preferred string, result *models.AnalysisResult) bool {
	preferred = strings.TrimSpace(preferred)
	if result == nil || preferred == "" || preferred == analysis.AutoBackend {
		return true
	}
	return result.Backend == preferred
}

// lookup treats any cache error as a miss.
func (s *EnhancementService) lookup(ctx context.Context, key string, logger *zap.Logger) (models.EnhancedForecast, bool) {
	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		logger.Warn("cache get failed, treating as miss", zap.Error(err))
		return models.EnhancedForecast{}, false
	case ok:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return cached, true
	default:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return models.EnhancedForecast{}, false
	}
}

func (s *EnhancementService) store(ctx context.Context, key string, entry models.EnhancedForecast, tier string, logger *zap.Logger) {
	setStart := time.Now()
	if err := s.cache.Set(ctx, key, entry, entry.TTL); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	observability.CacheWritesByTierTotal.WithLabelValues(tier).Inc()
}

// storeSnapshot hands the forecast to the snapshot sink without waiting.
func (s *EnhancementService) storeSnapshot(ctx context.Context, userID string, f models.NormalizedForecast, logger *zap.Logger) {
	if userID == "" {
		return
	}
	sink, timeout := s.snapshots, s.snapshotTimeout
	go func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := sink.Upsert(sctx, userID, f); err != nil {
			observability.SnapshotUpsertsTotal.WithLabelValues("error").Inc()
			logger.Warn("snapshot upsert failed", zap.String("user_id", userID), zap.Error(err))
			return
		}
		observability.SnapshotUpsertsTotal.WithLabelValues("ok").Inc()
	}()
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network"):
		return "connection"
	case strings.Contains(errStr, "decode") || strings.Contains(errStr, "decompress"):
		return "decode"
	default:
		return "unknown"
	}
}
