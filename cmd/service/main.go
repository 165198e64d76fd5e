package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-enhancer/internal/analysis"
	"github.com/kjstillabower/forecast-enhancer/internal/cache"
	"github.com/kjstillabower/forecast-enhancer/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-enhancer/internal/config"
	"github.com/kjstillabower/forecast-enhancer/internal/forecast"
	httphandler "github.com/kjstillabower/forecast-enhancer/internal/http"
	"github.com/kjstillabower/forecast-enhancer/internal/lifecycle"
	"github.com/kjstillabower/forecast-enhancer/internal/models"
	"github.com/kjstillabower/forecast-enhancer/internal/observability"
	"github.com/kjstillabower/forecast-enhancer/internal/refresh"
	"github.com/kjstillabower/forecast-enhancer/internal/service"
	"github.com/kjstillabower/forecast-enhancer/internal/snapshot"
	"github.com/kjstillabower/forecast-enhancer/internal/traffic"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	metno, err := forecast.NewMetNoClient(cfg.UpstreamURL, cfg.UpstreamUserAgent, cfg.UpstreamTimeout)
	if err != nil {
		logger.Fatal("forecast client", zap.Error(err))
	}
	metno.SetCircuitBreaker(newBreaker(cfg, "forecast_provider", forecast.IsBreakerFailure))
	logger.Info("circuit breaker enabled",
		zap.Int("failure_threshold", cfg.BreakerFailureThreshold), zap.Duration("timeout", cfg.BreakerTimeout))

	store, closeCache, cachePing, err := newCache(cfg)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))

	registry := analysis.NewRegistry(logger)
	svc := service.NewEnhancementService(metno, registry, store, service.Config{
		TTL:             ttlPolicy(cfg),
		CoalesceEnabled: cfg.CoalesceEnabled,
		SnapshotTimeout: cfg.SnapshotTimeout,
	}, logger)
	tracker := traffic.NewTracker()
	svc.SetOutcomeRecorder(tracker)

	var pool *pgxpool.Pool
	if cfg.SnapshotDSN != "" {
		pool, err = pgxpool.New(context.Background(), cfg.SnapshotDSN)
		if err != nil {
			logger.Fatal("snapshot pool", zap.Error(err))
		}
		sink := snapshot.NewPostgresSink(pool)
		schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := sink.EnsureSchema(schemaCtx); err != nil {
			logger.Warn("snapshot schema unavailable, snapshots disabled", zap.Error(err))
		} else {
			svc.SetSnapshotSink(sink)
			logger.Info("snapshots enabled")
		}
		schemaCancel()
	}

	driver := refresh.NewDriver(svc, refresh.Config{
		Interval:    cfg.RefreshInterval,
		RunTimeout:  cfg.RefreshInterval,
		Concurrency: cfg.RefreshConcurrency,
		Flagship:    flagshipKey(cfg),
		Popular:     popularKeys(cfg),
	}, logger)

	registry.OnPromotion(driver.RefreshFlagship)
	if err := registry.Bootstrap(context.Background(),
		analysis.Registration{ID: analysis.RuleBasedID, Backend: analysis.NewRuleBasedBackend()},
		analysisCandidates(cfg)...,
	); err != nil {
		logger.Fatal("analysis registry", zap.Error(err))
	}

	if cfg.WarmOnStartup {
		report := driver.RunOnce(context.Background())
		logger.Info("cache warmed", zap.Int("refreshed", report.Refreshed), zap.Int("failed", report.Failed))
	}
	if cfg.RefreshEnabled {
		if err := driver.Start(); err != nil {
			logger.Fatal("refresh driver", zap.Error(err))
		}
	}

	handler := httphandler.NewHandler(svc, registry, tracker, &httphandler.HealthConfig{
		DegradedWindow:     cfg.DegradedWindow,
		DegradedErrorPct:   cfg.DegradedErrorPct,
		DegradedMinSamples: cfg.DegradedMinSamples,
		CachePing:          cachePing,
		Version:            version,
	}, logger)
	handler.SetRefreshStatus(driver)

	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		Tracker:        tracker,
		RequestTimeout: cfg.RequestTimeout,
		TestingMode:    cfg.TestingMode,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.MarkReady()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}
	driver.Stop(shutdownCtx)

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if err := closeCache(); err != nil {
		logger.Error("cache close", zap.Error(err))
	}
	if pool != nil {
		pool.Close()
	}
	logger.Info("shutdown complete")
}

// newBreaker builds a circuit breaker that reports its state to metrics.
func newBreaker(cfg *config.Config, component string, isFailure func(error) bool) *circuitbreaker.CircuitBreaker {
	observability.CircuitBreakerState.WithLabelValues(component).Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        component,
		IsFailure:        isFailure,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.CircuitBreakerTransitions.WithLabelValues(component, from.String(), to.String()).Inc()
			observability.CircuitBreakerState.WithLabelValues(component).Set(float64(to))
		},
	})
}

// newCache returns the configured store, a closer and an optional ping for
// /health. A nil store disables caching.
func newCache(cfg *config.Config) (cache.Cache, func() error, func(context.Context) error, error) {
	noop := func() error { return nil }
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, noop, nil, err
		}
		return mc, mc.Close, mc.Ping, nil
	case "redis":
		rc := cache.NewRedisCache(cache.RedisConfig{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  cfg.RedisTimeout,
			ReadTimeout:  cfg.RedisTimeout,
			WriteTimeout: cfg.RedisTimeout,
		})
		return rc, rc.Close, rc.Ping, nil
	case "none":
		return nil, noop, nil, nil
	default:
		mem, err := cache.NewInMemoryCache(cfg.CacheLRUSize)
		if err != nil {
			return nil, noop, nil, err
		}
		return mem, noop, nil, nil
	}
}

// analysisCandidates lists the optional backends in ascending quality. The
// rule-based baseline is always registered separately.
func analysisCandidates(cfg *config.Config) []analysis.Registration {
	var out []analysis.Registration
	if cfg.FastModelPath != "" {
		out = append(out, analysis.Registration{
			ID:      analysis.FastNumericID,
			Backend: analysis.NewFastNumericBackend(cfg.FastModelPath),
		})
	}
	if cfg.RichEnabled {
		out = append(out, analysis.Registration{
			ID: analysis.RichID,
			Backend: analysis.NewRichBackend(analysis.RichConfig{
				Endpoint:       cfg.RichEndpoint,
				Model:          cfg.RichModel,
				RequestTimeout: cfg.RichRequestTimeout,
				InitTimeout:    cfg.RichInitTimeout,
				Seed:           cfg.RichSeed,
				MaxTokens:      cfg.RichMaxTokens,
				Breaker:        newBreaker(cfg, "analysis_rich", nil),
			}),
		})
	}
	return out
}

func ttlPolicy(cfg *config.Config) service.TTLPolicy {
	return service.TTLPolicy{
		Flagship:    flagshipKey(cfg),
		Popular:     popularKeys(cfg),
		FlagshipTTL: cfg.FlagshipTTL,
		PopularTTL:  cfg.PopularTTL,
		DefaultTTL:  cfg.DefaultTTL,
	}
}

func flagshipKey(cfg *config.Config) *models.LocationKey {
	if cfg.Flagship == nil {
		return nil
	}
	k := models.NewLocationKey(cfg.Flagship.Lat, cfg.Flagship.Lon, nil)
	return &k
}

func popularKeys(cfg *config.Config) []models.LocationKey {
	out := make([]models.LocationKey, 0, len(cfg.Popular))
	for _, p := range cfg.Popular {
		out = append(out, models.NewLocationKey(p.Lat, p.Lon, nil))
	}
	return out
}
