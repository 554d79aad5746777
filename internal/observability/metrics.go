package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream (aviationweather) call rate by kind and status.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per call. Watch for: p99 approaching the 5s fetch bound.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts for upstream calls. High retries = unstable upstream.
	UpstreamRetriesTotal prometheus.Counter

	// Upstream errors by category (timeout, network, upstream_5xx, ...).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Fetch results by kind and outcome (fresh, stale, absent) and source (cache, upstream, none).
	ReportFetchesTotal *prometheus.CounterVec

	// Absent results by reason (not_found, unavailable, unexpected).
	ReportAbsentTotal *prometheus.CounterVec

	// Age of stale reports served after an upstream failure.
	StaleReportAgeSeconds prometheus.Histogram

	// Per-station fetch count (allow-list; others go to "other").
	ReportFetchesByStationTotal *prometheus.CounterVec

	// Store operation latency by op and result. Watch for: slow shared backends.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Store errors by op. Store errors degrade to upstream fetches, they never fail a request.
	CacheErrorsTotal *prometheus.CounterVec

	// Callers that joined an in-flight upstream call instead of issuing their own.
	RequestCoalescingJoinsTotal *prometheus.CounterVec

	// Circuit breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions by from/to state.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Cache warming runs, failures and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Report events published, by result (success, error).
	ReportEventsPublishedTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// In-flight requests still running when shutdown began.
	ShutdownInFlightRequests prometheus.Gauge

	trackedStationsMu sync.RWMutex
	trackedStations   map[string]struct{}

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of aviation weather API calls",
		},
		[]string{"kind", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Aviation weather API latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for aviation weather API calls",
		},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "Aviation weather API errors by category",
		},
		[]string{"category"},
	)
	ReportFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportFetchesTotal",
			Help: "Report fetches by kind, outcome and source",
		},
		[]string{"kind", "outcome", "source"},
	)
	ReportAbsentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportAbsentTotal",
			Help: "Report fetches that produced no report, by reason",
		},
		[]string{"kind", "reason"},
	)
	StaleReportAgeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "staleReportAgeSeconds",
			Help:    "Age of stale reports served after upstream failure",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 21600, 86400},
		},
	)
	ReportFetchesByStationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportFetchesByStationTotal",
			Help: "Report fetches by station (allow-list; others use station=other)",
		},
		[]string{"station"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Report store operation latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"op", "result"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Report store errors by operation",
		},
		[]string{"op"},
	)
	RequestCoalescingJoinsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingJoinsTotal",
			Help: "Fetches that waited on an in-flight upstream call for the same station and kind",
		},
		[]string{"kind"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed station",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30},
		},
	)
	ReportEventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportEventsPublishedTotal",
			Help: "Report events handed to the event publisher, by result",
		},
		[]string{"result"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests observed when graceful shutdown started",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal, UpstreamErrorsTotal,
		ReportFetchesTotal, ReportAbsentTotal, StaleReportAgeSeconds, ReportFetchesByStationTotal,
		CacheOperationDurationSeconds, CacheErrorsTotal,
		RequestCoalescingJoinsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		ReportEventsPublishedTotal,
		RateLimitDeniedTotal,
		ShutdownInFlightRequests,
	)
}

// TrafficCounter is the read side of the traffic tracker used for window gauges.
type TrafficCounter interface {
	RequestCount(window time.Duration) int
	DenialCount(window time.Duration) int
}

// RegisterTrafficGauges registers load and rejects gauges over the overload window.
// Only the first call registers; later calls are no-ops.
func RegisterTrafficGauges(counter TrafficCounter, window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(counter.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(counter.DenialCount(window)) },
			),
		)
	})
}

// SetTrackedStations sets the allow-list for per-station metrics.
func SetTrackedStations(stations []string) {
	trackedStationsMu.Lock()
	defer trackedStationsMu.Unlock()
	trackedStations = make(map[string]struct{}, len(stations))
	for _, s := range stations {
		trackedStations[normalizeStationForMetrics(s)] = struct{}{}
	}
}

// MetricStationLabel returns the station label for metrics: the station itself when
// tracked, "other" otherwise. Keeps label cardinality bounded.
func MetricStationLabel(station string) string {
	s := normalizeStationForMetrics(station)
	trackedStationsMu.RLock()
	_, ok := trackedStations[s] // nil map read is safe
	trackedStationsMu.RUnlock()
	if ok {
		return s
	}
	return "other"
}

// RecordReportFetch records one fetch result.
func RecordReportFetch(station, kind, outcome, source string) {
	ReportFetchesTotal.WithLabelValues(kind, outcome, source).Inc()
	ReportFetchesByStationTotal.WithLabelValues(MetricStationLabel(station)).Inc()
}

// SetCircuitBreakerState sets the state gauge for component.
func SetCircuitBreakerState(component string, state int) {
	CircuitBreakerState.WithLabelValues(component).Set(float64(state))
}

// RecordCircuitBreakerTransition counts a state change for component.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// RecordShutdownInFlight records the number of in-flight requests at shutdown.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

func normalizeStationForMetrics(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
