package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/forecast-enhancer/internal/lifecycle"
)

// GetTestStatus handles GET /test. Returns the traffic windows behind /health.
// Only routed when testing mode is on.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := h.degradedWindow()
	resp := map[string]interface{}{
		"window_length": window.String(),
		"health":        h.computeHealthStatus().status,
	}
	if h.traffic != nil {
		errs, total := h.traffic.ErrorRate(window)
		resp["upstream_outcomes_in_window"] = total
		resp["upstream_errors_in_window"] = errs
		resp["denied_requests_in_window"] = h.traffic.DenialCount(window)
	}
	if h.healthConfig != nil {
		resp["config"] = map[string]interface{}{
			"degraded_error_pct":   h.healthConfig.DegradedErrorPct,
			"degraded_min_samples": h.healthConfig.DegradedMinSamples,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostTestAction handles POST /test/{action} for success, error, reset and shutdown.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	if h.traffic == nil && (action == "success" || action == "error") {
		writeError(w, r, http.StatusConflict, "NO_TRACKER", "traffic tracking is disabled")
		return
	}
	switch action {
	case "success":
		n := readCount(r, 10)
		for i := 0; i < n; i++ {
			h.traffic.RecordSuccess()
		}
		h.writeTestResult(w, action, "Recorded "+strconv.Itoa(n)+" upstream successes")
	case "error":
		n := readCount(r, 1)
		for i := 0; i < n; i++ {
			h.traffic.RecordError()
		}
		h.writeTestResult(w, action, "Recorded "+strconv.Itoa(n)+" upstream errors")
	case "reset":
		if h.traffic != nil {
			h.traffic.Reset()
		}
		lifecycle.SetShuttingDown(false)
		lifecycle.MarkReady()
		h.writeTestResult(w, action, "All simulated state cleared")
	case "shutdown":
		lifecycle.SetShuttingDown(true)
		h.writeTestResult(w, action, "Shutting-down flag set")
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
	}
}

func (h *Handler) writeTestResult(w http.ResponseWriter, action, msg string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  action,
		"message": msg,
		"state":   h.computeHealthStatus().status,
	})
}

func (h *Handler) degradedWindow() time.Duration {
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		return h.healthConfig.DegradedWindow
	}
	return 60 * time.Second
}

// readCount reads {"count": n} from the body, falling back to def.
func readCount(r *http.Request, def int) int {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		return def
	}
	return body.Count
}
