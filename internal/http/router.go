package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-enhancer/internal/observability"
	"github.com/kjstillabower/forecast-enhancer/internal/traffic"
)

// RouterConfig controls middleware applied to the forecast routes.
type RouterConfig struct {
	// Limiter is nil when rate limiting is disabled.
	Limiter        *rate.Limiter
	Tracker        *traffic.Tracker
	RequestTimeout time.Duration
	TestingMode    bool
}

// NewRouter wires the public routes. Rate limiting and the request timeout
// apply to /forecast routes only; /health, /stats and /metrics stay reachable
// under load.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.HandleFunc("/stats", h.GetStats).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	if cfg.TestingMode {
		observability.OrNop(logger).Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", h.GetTestStatus).Methods("GET")
		router.HandleFunc("/test/{action}", h.PostTestAction).Methods("POST")
	}

	forecastRouter := router.NewRoute().Subrouter()
	forecastRouter.Use(RateLimitMiddleware(cfg.Limiter, cfg.Tracker))
	if cfg.RequestTimeout > 0 {
		forecastRouter.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	forecastRouter.HandleFunc("/forecast", h.GetForecast).Methods("GET")
	forecastRouter.HandleFunc("/forecast/batch", h.PostBatch).Methods("POST")
	return router
}
