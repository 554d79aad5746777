package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/aviation-weather-service/internal/observability"
)

// GetTestStatus handles GET /test. Returns the current simulated state.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := h.degradedWindow()
	errs, total := h.tracker.ErrorRate(window)

	cfg := make(map[string]interface{})
	if h.healthConfig != nil {
		cfg["rate_limit_rps"] = h.healthConfig.RateLimitRPS
		cfg["rate_limit_burst"] = h.healthConfig.RateLimitBurst
		cfg["overload_threshold"] = h.overloadThreshold()
		cfg["overload_window_seconds"] = h.healthConfig.OverloadWindow.Seconds()
		cfg["degraded_error_pct"] = h.healthConfig.DegradedErrorPct
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_requests_in_window":  h.tracker.RequestCount(window),
		"denied_requests_in_window": h.tracker.DenialCount(window),
		"errors_in_window":          errs,
		"outcomes_in_window":        total,
		"window_length":             window.String(),
		"shutting_down":             h.state.IsShuttingDown(),
		"state":                     h.computeHealthStatus(r.Context()).status,
		"config":                    cfg,
	})
}

// PostTestAction handles POST /test/{action} for load, error, reset, shutdown and clear_cache.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "load":
		h.postTestLoad(w, r)
	case "error":
		h.postTestError(w, r)
	case "reset":
		h.postTestReset(w, r)
	case "shutdown":
		h.postTestShutdown(w, r)
	case "clear_cache":
		h.postTestClearCache(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
	}
}

// postTestLoad records count simulated requests, passing each through the rate limiter when one is configured.
func (h *Handler) postTestLoad(w http.ResponseWriter, r *http.Request) {
	count := decodeCount(r, 10)
	var accepted, denied int
	if h.rateLimiter != nil {
		for i := 0; i < count; i++ {
			if h.rateLimiter.Allow() {
				h.tracker.RecordSuccess()
				accepted++
			} else {
				h.tracker.RecordDenied()
				observability.RateLimitDeniedTotal.Inc()
				denied++
			}
		}
	} else {
		h.tracker.RecordSuccessN(count)
		accepted = count
	}
	msg := "Recorded " + strconv.Itoa(accepted) + " accepted"
	if denied > 0 {
		msg += ", " + strconv.Itoa(denied) + " denied"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"action":   "load",
		"message":  msg,
		"state":    h.computeHealthStatus(r.Context()).status,
		"accepted": accepted,
		"denied":   denied,
	})
}

// postTestError records count simulated upstream failures.
func (h *Handler) postTestError(w http.ResponseWriter, r *http.Request) {
	count := decodeCount(r, 1)
	h.tracker.RecordErrorN(count)
	errs, total := h.tracker.ErrorRate(h.degradedWindow())
	pct := 0
	if total > 0 {
		pct = errs * 100 / total
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"action":         "error",
		"message":        "Recorded " + strconv.Itoa(count) + " errors",
		"state":          h.computeHealthStatus(r.Context()).status,
		"error_rate_pct": pct,
	})
}

// postTestReset clears traffic history and the shutdown flag.
func (h *Handler) postTestReset(w http.ResponseWriter, r *http.Request) {
	h.tracker.Reset()
	h.state.SetShuttingDown(false)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "reset",
		"message": "All simulated state cleared",
	})
}

// postTestShutdown sets the shutdown flag; health reports shutting-down afterwards.
func (h *Handler) postTestShutdown(w http.ResponseWriter, r *http.Request) {
	h.state.SetShuttingDown(true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "shutdown",
		"message": "Shutting-down flag set",
	})
}

func (h *Handler) postTestClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.reports.ClearCache(r.Context()); err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Warn("cache clear failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "CACHE_CLEAR_FAILED", "Unable to clear report cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  "clear_cache",
		"message": "Report cache cleared",
	})
}

func (h *Handler) degradedWindow() time.Duration {
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		return h.healthConfig.DegradedWindow
	}
	return 60 * time.Second
}

func (h *Handler) overloadThreshold() int {
	if h.healthConfig == nil || h.healthConfig.RateLimitRPS <= 0 {
		return 0
	}
	return int(float64(h.healthConfig.RateLimitRPS) *
		h.healthConfig.OverloadWindow.Seconds() *
		float64(h.healthConfig.OverloadThresholdPct) / 100)
}

// decodeCount reads {"count": N} from the body, falling back to def for missing or non-positive values.
func decodeCount(r *http.Request, def int) int {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		return def
	}
	return body.Count
}
