package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/aviation-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/aviation-weather-service/internal/models"
	"github.com/kjstillabower/aviation-weather-service/internal/observability"
)

// DefaultBaseURL is the NOAA Aviation Weather Center data API.
const DefaultBaseURL = "https://aviationweather.gov/api/data"

// maxBodyBytes caps a raw report response; multi-hour METAR history is a few KB.
const maxBodyBytes = 1 << 20

// ReportClient retrieves raw report text for a station from the upstream source.
type ReportClient interface {
	FetchRaw(ctx context.Context, station string, kind models.ReportKind) (string, error)
}

var (
	ErrBadRequest      = errors.New("upstream rejected request")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrNetwork         = errors.New("network error")
	ErrTimeout         = errors.New("request timeout")
)

// AviationWeatherClient fetches raw METAR and TAF text from aviationweather.gov.
type AviationWeatherClient struct {
	baseURL        *url.URL
	userAgent      string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// Options configures an AviationWeatherClient. Zero values use defaults.
type Options struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration // per attempt
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	HTTPClient     *http.Client
}

// NewAviationWeatherClient validates opts and returns a client.
func NewAviationWeatherClient(opts Options) (*AviationWeatherClient, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid API URL %q: scheme must be http or https", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = observability.ServiceName + "/1.0"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &AviationWeatherClient{
		baseURL:        base,
		userAgent:      opts.UserAgent,
		timeout:        opts.Timeout,
		client:         httpClient,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
	}, nil
}

// SetCircuitBreaker wraps every upstream attempt in cb. Pass nil to disable.
func (c *AviationWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// FetchRaw returns the raw report body for station. Transient failures are retried with
// exponential backoff until attempts run out or ctx is done.
func (c *AviationWeatherClient) FetchRaw(ctx context.Context, station string, kind models.ReportKind) (string, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v (last error: %v)", ErrTimeout, ctx.Err(), lastErr)
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		body, err := c.attempt(ctx, station, kind)
		if err == nil {
			return body, nil
		}
		observability.UpstreamErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()

		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *AviationWeatherClient) attempt(ctx context.Context, station string, kind models.ReportKind) (string, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, station, kind)
	}
	var body string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		body, err = c.callAPI(ctx, station, kind)
		return err
	})
	return body, err
}

func (c *AviationWeatherClient) callAPI(ctx context.Context, station string, kind models.ReportKind) (string, error) {
	start := time.Now()
	kindLabel := kind.String()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, station, kind)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(kindLabel, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(kindLabel, "error").Observe(time.Since(start).Seconds())
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(kindLabel, status).Inc()
	observability.UpstreamDuration.WithLabelValues(kindLabel, status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", classifyTransportError(fmt.Errorf("read response body: %w", err))
	}
	return string(body), nil
}

func (c *AviationWeatherClient) buildRequest(ctx context.Context, station string, kind models.ReportKind) (*http.Request, error) {
	var path string
	params := url.Values{}
	params.Set("ids", station)
	params.Set("format", "raw")
	switch kind {
	case models.KindMETAR:
		path = "/metar"
		params.Set("taf", "false")
		params.Set("hours", "2")
	case models.KindTAF:
		path = "/taf"
	default:
		return nil, fmt.Errorf("unsupported report kind %q", kind)
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("User-Agent", c.userAgent)
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// classifyTransportError wraps errors from the HTTP transport into ErrTimeout or ErrNetwork.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: HTTP %d", ErrBadRequest, resp.StatusCode)
	}
	return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
}

// IsTransient reports whether err is an upstream availability failure (network, timeout,
// non-2xx, rate limit, open circuit) as opposed to a programming or request error.
// Transient failures are eligible for stale-cache fallback.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUpstreamFailure) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrBadRequest) ||
		errors.Is(err, circuitbreaker.ErrOpen) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// isRetryable is narrower than IsTransient: a 400 will not change on retry and an open
// circuit is not worth hammering.
func isRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUpstreamFailure) ||
		errors.Is(err, ErrRateLimited)
}

// IsBreakerFailure reports whether err should count toward opening the circuit.
func IsBreakerFailure(err error) bool {
	return isRetryable(err)
}

func (c *AviationWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
