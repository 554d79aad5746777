package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrOpen is returned by Call while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker protects upstream calls by opening after repeated failures
// and allowing probe requests in half-open state.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	openedAt         time.Time
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	component        string
	isFailure        func(error) bool
	onStateChange    func(from, to State)
	clock            clockwork.Clock
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration // how long the circuit stays open before probing
	Component        string
	// IsFailure decides which errors count toward opening. Nil counts every error.
	// Errors that are not failures (e.g. a 400 for a bad station) pass through untouched.
	IsFailure     func(error) bool
	OnStateChange func(from, to State)
	Clock         clockwork.Clock
}

// New creates a new CircuitBreaker with the given config.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		component:        cfg.Component,
		isFailure:        cfg.IsFailure,
		onStateChange:    cfg.OnStateChange,
		clock:            cfg.Clock,
	}
}

// Call runs fn when the circuit allows it. While open it returns ErrOpen until the
// open timeout elapses, then moves to half-open and lets calls through as probes.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	if cb.state != StateOpen {
		cb.mu.Unlock()
		return nil
	}
	if cb.clock.Since(cb.openedAt) < cb.timeout {
		cb.mu.Unlock()
		return ErrOpen
	}
	cb.successCount = 0
	notify := cb.transitionLocked(StateHalfOpen)
	cb.mu.Unlock()
	notify()
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	notify := func() {}
	switch {
	case err != nil && cb.isFailure(err):
		cb.failureCount++
		cb.successCount = 0
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			cb.openedAt = cb.clock.Now()
			cb.failureCount = 0
			notify = cb.transitionLocked(StateOpen)
		}
	case err != nil:
		// Not a breaker failure; leaves counters as they are.
	default:
		cb.failureCount = 0
		cb.successCount++
		if cb.state == StateHalfOpen && cb.successCount >= cb.successThreshold {
			cb.successCount = 0
			notify = cb.transitionLocked(StateClosed)
		}
	}
	cb.mu.Unlock()
	notify()
}

// transitionLocked changes state and returns the callback to run after unlocking.
func (cb *CircuitBreaker) transitionLocked(to State) func() {
	from := cb.state
	if from == to {
		return func() {}
	}
	cb.state = to
	if cb.onStateChange == nil {
		return func() {}
	}
	return func() { cb.onStateChange(from, to) }
}

// State returns the current state (for metrics and health).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Component returns the label this breaker reports under.
func (cb *CircuitBreaker) Component() string {
	return cb.component
}
