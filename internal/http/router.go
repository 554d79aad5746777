package http

import (
	"time"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/aviation-weather-service/internal/observability"
)

// RouterConfig selects the optional parts of the route table.
type RouterConfig struct {
	RequestTimeout time.Duration
	TestingMode    bool
}

// NewRouter wires the handler's routes and middleware:
// /health and /metrics are never rate limited; report routes are rate limited and time-bounded.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(h.logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	reports := router.NewRoute().Subrouter()
	reports.Use(RateLimitMiddleware(h.rateLimiter, h.tracker))
	if cfg.RequestTimeout > 0 {
		reports.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	reports.HandleFunc("/weather/{kind}/{station}", h.GetReport).Methods("GET")
	reports.HandleFunc("/briefing", h.PostBriefing).Methods("POST")

	if cfg.TestingMode {
		h.logger.Warn("testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", h.GetTestStatus).Methods("GET")
		router.HandleFunc("/test/{action}", h.PostTestAction).Methods("POST")
	}
	return router
}
