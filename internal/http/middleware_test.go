package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/aviation-weather-service/internal/lifecycle"
	"github.com/kjstillabower/aviation-weather-service/internal/models"
	"github.com/kjstillabower/aviation-weather-service/internal/observability"
	"github.com/kjstillabower/aviation-weather-service/internal/traffic"
)

func kausReports() *mockReports {
	return &mockReports{results: map[string]models.Result{
		"metar:KAUS": models.Fresh(metarReport("KAUS", "KAUS 011151Z"), false),
	}}
}

func TestMiddleware_ThroughHandler(t *testing.T) {
	h := newTestHandler(kausReports(), nil, zap.NewNop())

	w := serve(h, "GET", "/weather/metar/KAUS", "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	router := NewRouter(newTestHandler(kausReports(), nil, zap.NewNop()), RouterConfig{})

	req := httptest.NewRequest("GET", "/weather/metar/KAUS", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
}

func TestMiddleware_CorrelationIDInContextAndErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	var seenID string
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.New(core)))
	router.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		seenID = observability.CorrelationID(r.Context())
		observability.LoggerFromContext(r.Context(), nil).Info("probe")
		writeError(w, r, http.StatusTeapot, "PROBE", "probe")
	})

	req := httptest.NewRequest("GET", "/probe", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if seenID != "abc-123" {
		t.Errorf("correlation ID in context = %q, want abc-123", seenID)
	}
	entries := logs.FilterMessage("probe").All()
	if len(entries) != 1 || entries[0].ContextMap()["correlation_id"] != "abc-123" {
		t.Errorf("request logger missing correlation_id: %v", entries)
	}
	var resp struct {
		Error struct {
			RequestID string `json:"requestId"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.RequestID != "abc-123" {
		t.Errorf("requestId = %q, want abc-123", resp.Error.RequestID)
	}
}

func TestMiddleware_MetricsRecordsNonOK(t *testing.T) {
	h := newTestHandler(&mockReports{}, nil, zap.NewNop())

	w := serve(h, "GET", "/weather/metar/KSEA", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestMiddleware_HealthThroughChain(t *testing.T) {
	w := serve(newTestHandler(&mockReports{}, nil, zap.NewNop()), "GET", "/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestMiddleware_MetricsRoute(t *testing.T) {
	w := serve(newTestHandler(&mockReports{}, nil, zap.NewNop()), "GET", "/metrics", "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestGetRoute_UsesTemplate(t *testing.T) {
	var got string
	router := mux.NewRouter()
	router.HandleFunc("/weather/{kind}/{station}", func(w http.ResponseWriter, r *http.Request) {
		got = getRoute(r)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/weather/metar/KAUS", nil))

	if got != "/weather/{kind}/{station}" {
		t.Errorf("getRoute = %q, want template", got)
	}
	if unmatched := getRoute(httptest.NewRequest("GET", "/nope", nil)); unmatched != "unmatched" {
		t.Errorf("getRoute without route = %q, want unmatched", unmatched)
	}
}

func TestStatusCodeString(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 404: "4xx", 429: "4xx", 503: "5xx"} {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	inside := make(chan int64, 1)
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inside <- InFlightCount()
	}))
	before := InFlightCount()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))

	if got := <-inside; got != before+1 {
		t.Errorf("in-flight during request = %d, want %d", got, before+1)
	}
	if got := InFlightCount(); got != before {
		t.Errorf("in-flight after request = %d, want %d", got, before)
	}
}

func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	var ctxErr error
	handler := TimeoutMiddleware(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		ctxErr = r.Context().Err()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/weather/metar/KAUS", nil))

	if ctxErr != context.DeadlineExceeded {
		t.Errorf("context error = %v, want deadline exceeded", ctxErr)
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	tracker := traffic.NewTracker(nil, 0)
	h := NewHandler(kausReports(), tracker, lifecycle.NewState(nil), nil, zap.NewNop(), rate.NewLimiter(1, 2), Options{})
	router := NewRouter(h, RouterConfig{})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/weather/metar/KAUS", nil))

		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		var errResp struct {
			Error struct {
				Code      string `json:"code"`
				RequestID string `json:"requestId"`
			} `json:"error"`
		}
		if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
			t.Fatalf("decode 429 response: %v", err)
		}
		if errResp.Error.Code != "RATE_LIMITED" {
			t.Errorf("error.code = %q, want RATE_LIMITED", errResp.Error.Code)
		}
		if errResp.Error.RequestID == "" {
			t.Error("429 response missing requestId")
		}
	}
	if got := tracker.DenialCount(time.Minute); got != 1 {
		t.Errorf("DenialCount = %d, want 1", got)
	}
}

func TestRateLimitMiddleware_HealthNotLimited(t *testing.T) {
	h := NewHandler(kausReports(), nil, nil, nil, zap.NewNop(), rate.NewLimiter(rate.Limit(0.001), 1), Options{})
	router := NewRouter(h, RouterConfig{})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
		if w.Code != http.StatusOK {
			t.Errorf("health request %d: status = %d, want 200", i, w.Code)
		}
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	handler := RateLimitMiddleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/weather/metar/KAUS", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (nil limiter should allow)", w.Code)
	}
}
