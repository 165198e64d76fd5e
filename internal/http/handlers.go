package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-enhancer/internal/forecast"
	"github.com/kjstillabower/forecast-enhancer/internal/lifecycle"
	"github.com/kjstillabower/forecast-enhancer/internal/models"
	"github.com/kjstillabower/forecast-enhancer/internal/observability"
	"github.com/kjstillabower/forecast-enhancer/internal/refresh"
	"github.com/kjstillabower/forecast-enhancer/internal/service"
	"github.com/kjstillabower/forecast-enhancer/internal/traffic"
	"github.com/kjstillabower/forecast-enhancer/internal/validation"
)

// maxBatchBody bounds POST /forecast/batch request bodies.
const maxBatchBody = 64 << 10

// Enhancer is implemented by *service.EnhancementService.
type Enhancer interface {
	Enhance(ctx context.Context, lat, lon float64, opts service.Options) (models.EnhancedForecast, error)
	EnhanceBatch(ctx context.Context, coords []service.Coordinate) (service.BatchResult, error)
	Stats() service.Stats
}

// BackendStatus is implemented by *analysis.Registry.
type BackendStatus interface {
	Current() (string, bool)
	Statuses() []models.EntryStatus
}

// RefreshStatus is implemented by *refresh.Driver.
type RefreshStatus interface {
	LastRun() (refresh.RunReport, bool)
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow     time.Duration
	DegradedErrorPct   int
	DegradedMinSamples int
	// CachePing, when set, is called to check cache reachability. Used for remote backends.
	CachePing func(ctx context.Context) error
	Version   string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc          Enhancer
	backends     BackendStatus
	traffic      *traffic.Tracker
	refresh      RefreshStatus
	healthConfig *HealthConfig
	logger       *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. backends, tracker and healthConfig may be nil.
func NewHandler(svc Enhancer, backends BackendStatus, tracker *traffic.Tracker, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		svc:          svc,
		backends:     backends,
		traffic:      tracker,
		healthConfig: healthConfig,
		logger:       observability.OrNop(logger),
	}
}

// SetRefreshStatus exposes the refresh driver's last run on /stats.
func (h *Handler) SetRefreshStatus(r RefreshStatus) {
	h.refresh = r
}

// GetForecast handles GET /forecast?lat=&lon=[&altitude=&backend=&force_refresh=&skip_analysis=&use_cache=&user_id=].
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	coords, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return
	}
	opts, err := h.parseOptions(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}

	result, err := h.svc.Enhance(r.Context(), coords.Lat, coords.Lon, opts)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) parseOptions(r *http.Request) (service.Options, error) {
	q := r.URL.Query()
	opts := service.DefaultOptions()
	var err error
	if opts.Altitude, err = validation.ParseAltitude(q.Get("altitude")); err != nil {
		return opts, err
	}
	if opts.PreferredBackend, err = validation.ValidateBackend(q.Get("backend"), h.backendIDs()); err != nil {
		return opts, err
	}
	if opts.ForceRefresh, err = validation.ParseFlag(q.Get("force_refresh"), false); err != nil {
		return opts, err
	}
	if opts.SkipAnalysis, err = validation.ParseFlag(q.Get("skip_analysis"), false); err != nil {
		return opts, err
	}
	if opts.UseCache, err = validation.ParseFlag(q.Get("use_cache"), true); err != nil {
		return opts, err
	}
	if opts.UserID, err = validation.ValidateUserID(q.Get("user_id")); err != nil {
		return opts, err
	}
	return opts, nil
}

func (h *Handler) backendIDs() []string {
	if h.backends == nil {
		return nil
	}
	statuses := h.backends.Statuses()
	ids := make([]string, 0, len(statuses))
	for _, s := range statuses {
		ids = append(ids, s.ID)
	}
	return ids
}

type batchRequest struct {
	Locations []service.Coordinate `json:"locations"`
}

// PostBatch handles POST /forecast/batch. Per-location failures are reported
// inside a 200 response; only a malformed or oversized batch is rejected.
func (h *Handler) PostBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "body must be {\"locations\":[{\"lat\":..,\"lon\":..}]}")
		return
	}
	for i, c := range body.Locations {
		if _, err := validation.ValidateCoordinates(c.Lat, c.Lon); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES",
				"locations["+strconv.Itoa(i)+"]: "+err.Error())
			return
		}
	}

	res, err := h.svc.EnhanceBatch(r.Context(), body.Locations)
	switch {
	case errors.Is(err, service.ErrBatchTooLarge):
		writeError(w, r, http.StatusBadRequest, "BATCH_TOO_LARGE", err.Error())
		return
	case errors.Is(err, service.ErrEmptyBatch):
		writeError(w, r, http.StatusBadRequest, "EMPTY_BATCH", err.Error())
		return
	case err != nil:
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetStats handles GET /stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"cache":         h.svc.Stats(),
		"uptimeSeconds": int64(lifecycle.Uptime().Seconds()),
	}
	if h.backends != nil {
		current, _ := h.backends.Current()
		resp["analysis"] = map[string]interface{}{
			"current":  current,
			"backends": h.backends.Statuses(),
		}
	}
	if h.refresh != nil {
		if last, ok := h.refresh.LastRun(); ok {
			resp["lastRefresh"] = last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"forecastProvider": "healthy"}
	if result.reason == "error_rate_breach" {
		checks["forecastProvider"] = "unhealthy"
	}
	version := "dev"
	if h.healthConfig != nil {
		if h.healthConfig.CachePing != nil {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			if h.healthConfig.CachePing(ctx) == nil {
				checks["cache"] = "healthy"
			} else {
				checks["cache"] = "unhealthy"
			}
			cancel()
		}
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.backends != nil {
		if current, ok := h.backends.Current(); ok {
			resp["analysisBackend"] = current
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if !lifecycle.IsReady() {
		return healthResult{"starting", http.StatusServiceUnavailable, "startup"}
	}
	if h.healthConfig != nil && h.traffic != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		if h.traffic.Degraded(h.healthConfig.DegradedWindow, float64(h.healthConfig.DegradedErrorPct), h.healthConfig.DegradedMinSamples) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {error:{code,message,requestId}} with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// StatusClientClosedRequest is the non-standard 499 used when the caller
// disconnected before a response was ready.
const StatusClientClosedRequest = 499

// writeServiceError maps orchestrator failures to status codes and logs the cause at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out")
	case errors.Is(err, context.Canceled):
		writeError(w, r, StatusClientClosedRequest, "CLIENT_CLOSED_REQUEST", "Client closed the request")
	case errors.Is(err, forecast.ErrUpstreamMalformed):
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_MALFORMED", "Forecast provider returned an unreadable response")
	default:
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch forecast data")
	}
	observability.LoggerFromContext(r.Context(), nil).Debug("forecast request failed", zap.Error(err))
}
