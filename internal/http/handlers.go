package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/aviation-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/aviation-weather-service/internal/lifecycle"
	"github.com/kjstillabower/aviation-weather-service/internal/models"
	"github.com/kjstillabower/aviation-weather-service/internal/observability"
	"github.com/kjstillabower/aviation-weather-service/internal/traffic"
	"github.com/kjstillabower/aviation-weather-service/internal/validation"
)

const unavailableMessage = "Unable to fetch weather data. Try again in a few moments."

// ReportService is the subset of the report fetcher used by the handlers.
type ReportService interface {
	Fetch(ctx context.Context, station string, kind models.ReportKind) models.Result
	ClearCache(ctx context.Context) error
}

// BreakerState reports the upstream circuit breaker position.
type BreakerState interface {
	State() circuitbreaker.State
}

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	RateLimitBurst         int // 0 when rate limiter disabled
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	// Breaker, when set, marks the service degraded while the upstream circuit is open.
	Breaker BreakerState
	// CachePing, when set, is called to check shared cache reachability.
	CachePing func(ctx context.Context) error
}

// Options carries request-level settings for the handlers.
type Options struct {
	StationMinLen         int
	StationMaxLen         int
	BriefingSlowThreshold time.Duration
	Version               string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	reports          ReportService
	tracker          *traffic.Tracker
	state            *lifecycle.State
	healthConfig     *HealthConfig
	logger           *zap.Logger
	rateLimiter      *rate.Limiter
	opts             Options
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig and rateLimiter may be nil.
func NewHandler(
	reports ReportService,
	tracker *traffic.Tracker,
	state *lifecycle.State,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	rateLimiter *rate.Limiter,
	opts Options,
) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker(nil, 0)
	}
	if state == nil {
		state = lifecycle.NewState(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StationMinLen == 0 && opts.StationMaxLen == 0 {
		opts.StationMinLen = validation.DefaultMinLen
		opts.StationMaxLen = validation.DefaultMaxLen
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handler{
		reports:      reports,
		tracker:      tracker,
		state:        state,
		healthConfig: healthConfig,
		logger:       logger,
		rateLimiter:  rateLimiter,
		opts:         opts,
	}
}

// reportResponse is the JSON shape of a single served report.
type reportResponse struct {
	Station    string    `json:"station"`
	Kind       string    `json:"kind"`
	Report     string    `json:"report"`
	Raw        string    `json:"raw"`
	FetchedAt  time.Time `json:"fetchedAt"`
	Stale      bool      `json:"stale"`
	AgeMinutes int       `json:"ageMinutes"`
	Cached     bool      `json:"cached"`
}

func newReportResponse(res models.Result) *reportResponse {
	return &reportResponse{
		Station:    res.Report.Station,
		Kind:       res.Report.Kind.String(),
		Report:     res.Text(),
		Raw:        res.Report.Text,
		FetchedAt:  res.Report.FetchedAt.UTC(),
		Stale:      res.Outcome == models.OutcomeStale,
		AgeMinutes: res.AgeMinutes(),
		Cached:     res.FromCache,
	}
}

// GetReport handles GET /weather/{kind}/{station}.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, err := models.ParseReportKind(vars["kind"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REPORT_KIND", "kind must be metar or taf")
		return
	}
	station, err := validation.ValidateStation(vars["station"], h.opts.StationMinLen, h.opts.StationMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_STATION", err.Error())
		return
	}

	res := h.reports.Fetch(r.Context(), station, kind)
	h.recordOutcome(res)
	if !res.OK() {
		writeAbsent(w, r, station, kind, res.Reason)
		return
	}
	writeJSON(w, http.StatusOK, newReportResponse(res))
}

// recordOutcome feeds the traffic tracker. A station with no report is not an upstream fault.
func (h *Handler) recordOutcome(res models.Result) {
	if res.OK() || res.Reason == models.ReasonNotFound {
		h.tracker.RecordSuccess()
		return
	}
	h.tracker.RecordError()
}

func writeAbsent(w http.ResponseWriter, r *http.Request, station string, kind models.ReportKind, reason models.AbsentReason) {
	if reason == models.ReasonNotFound {
		writeError(w, r, http.StatusServiceUnavailable, "REPORT_NOT_FOUND",
			"No "+kind.String()+" report available for "+station)
		return
	}
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", unavailableMessage)
}

type briefingRequest struct {
	DepartureAirport string `json:"departureAirport"`
	ArrivalAirport   string `json:"arrivalAirport"`
	IncludeForecast  bool   `json:"includeForecast"`
}

type airportBriefing struct {
	Station string          `json:"station"`
	METAR   *reportResponse `json:"metar"`
	TAF     *reportResponse `json:"taf,omitempty"`
}

type briefingResponse struct {
	Departure      airportBriefing `json:"departure"`
	Arrival        airportBriefing `json:"arrival"`
	Stale          bool            `json:"stale"`
	ResponseTimeMs int64           `json:"responseTimeMs"`
}

// PostBriefing handles POST /briefing. METARs (and TAFs when requested) for both airports
// are fetched concurrently; a missing METAR fails the whole briefing.
func (h *Handler) PostBriefing(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req briefingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON")
		return
	}
	departure, err := validation.ValidateStation(req.DepartureAirport, h.opts.StationMinLen, h.opts.StationMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_STATION", "departureAirport: "+err.Error())
		return
	}
	arrival, err := validation.ValidateStation(req.ArrivalAirport, h.opts.StationMinLen, h.opts.StationMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_STATION", "arrivalAirport: "+err.Error())
		return
	}

	kinds := []models.ReportKind{models.KindMETAR}
	if req.IncludeForecast {
		kinds = append(kinds, models.KindTAF)
	}
	stations := []string{departure, arrival}
	results := make([][]models.Result, len(stations))
	var wg sync.WaitGroup
	for i, station := range stations {
		results[i] = make([]models.Result, len(kinds))
		for j, kind := range kinds {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i][j] = h.reports.Fetch(r.Context(), station, kind)
			}()
		}
	}
	wg.Wait()

	logger := observability.LoggerFromContext(r.Context(), h.logger)
	resp := briefingResponse{}
	briefings := []*airportBriefing{&resp.Departure, &resp.Arrival}
	for i, station := range stations {
		briefings[i].Station = station
		for j, kind := range kinds {
			res := results[i][j]
			h.recordOutcome(res)
			if !res.OK() {
				if kind == models.KindMETAR {
					logger.Warn("briefing missing current conditions",
						zap.String("station", station),
						zap.String("reason", string(res.Reason)))
					writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", unavailableMessage)
					return
				}
				continue
			}
			if res.Outcome == models.OutcomeStale {
				resp.Stale = true
			}
			if kind == models.KindMETAR {
				briefings[i].METAR = newReportResponse(res)
			} else {
				briefings[i].TAF = newReportResponse(res)
			}
		}
	}

	elapsed := time.Since(start)
	resp.ResponseTimeMs = elapsed.Milliseconds()
	if h.opts.BriefingSlowThreshold > 0 && elapsed > h.opts.BriefingSlowThreshold {
		logger.Warn("briefing response exceeded target",
			zap.Duration("elapsed", elapsed),
			zap.Duration("target", h.opts.BriefingSlowThreshold),
			zap.String("departure", departure),
			zap.String("arrival", arrival))
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
	cacheErr := h.pingCache(r.Context())
	result := h.evaluateHealth(cacheErr)

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

	checks := map[string]string{"weatherApi": "healthy"}
	if h.healthConfig != nil && h.healthConfig.Breaker != nil {
		checks["circuitBreaker"] = h.healthConfig.Breaker.State().String()
		if h.healthConfig.Breaker.State() == circuitbreaker.StateOpen {
			checks["weatherApi"] = "unhealthy"
		}
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		checks["cache"] = "healthy"
		if cacheErr != nil {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   h.opts.Version,
		"uptime":    h.state.Uptime().Round(time.Second).String(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus pings the cache and evaluates the health conditions.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	return h.evaluateHealth(h.pingCache(ctx))
}

// pingCache returns the shared cache reachability error, or nil when no ping is configured.
func (h *Handler) pingCache(ctx context.Context) error {
	if h.healthConfig == nil || h.healthConfig.CachePing == nil {
		return nil
	}
	return h.healthConfig.CachePing(ctx)
}

// evaluateHealth applies conditions in priority order:
// shutting-down > degraded (circuit open, cache unreachable) > overloaded > idle >
// degraded (error rate) > healthy.
func (h *Handler) evaluateHealth(cacheErr error) healthResult {
	if h.state.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	cfg := h.healthConfig
	if cfg == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if cfg.Breaker != nil && cfg.Breaker.State() == circuitbreaker.StateOpen {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if cacheErr != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "cache_unreachable"}
	}
	if cfg.OverloadWindow > 0 && cfg.RateLimitRPS > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(h.tracker.RequestCount(cfg.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.IdleWindow > 0 && cfg.MinimumLifespan > 0 && h.state.Uptime() >= cfg.MinimumLifespan {
		threshold := float64(cfg.IdleThresholdReqPerMin) * cfg.IdleWindow.Minutes()
		if float64(h.tracker.ActivityCount(cfg.IdleWindow)) < threshold {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := h.tracker.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
