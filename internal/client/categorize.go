package client

import (
	"context"
	"errors"

	"github.com/kjstillabower/aviation-weather-service/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (upstreamErrorsTotal).
const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryRateLimited ErrorCategory = "rate_limited"
	ErrorCategoryBadRequest  ErrorCategory = "bad_request"
	ErrorCategoryUpstream    ErrorCategory = "upstream_error"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrNetwork):
		return ErrorCategoryNetwork
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrBadRequest):
		return ErrorCategoryBadRequest
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream
	}
	return ErrorCategoryUnknown
}
