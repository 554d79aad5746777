package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

type transition struct{ from, to State }

func newTestBreaker(clock clockwork.Clock, transitions *[]transition) *CircuitBreaker {
	return New(Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		Component:        "test",
		Clock:            clock,
		OnStateChange: func(from, to State) {
			*transitions = append(*transitions, transition{from, to})
		},
	})
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var transitions []transition
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Call(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "fn must not run while open")
	assert.Equal(t, []transition{{StateClosed, StateOpen}}, transitions)
}

func TestCircuitBreaker_HalfOpenThenClosed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var transitions []transition
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Call(ctx, fail)
	}
	clock.Advance(31 * time.Second)

	require.NoError(t, cb.Call(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Call(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var transitions []transition
	cb := newTestBreaker(clock, &transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Call(ctx, fail)
	}
	clock.Advance(31 * time.Second)
	assert.ErrorIs(t, cb.Call(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(10 * time.Second)
	assert.ErrorIs(t, cb.Call(ctx, succeed), ErrOpen, "open timeout restarts on reopen")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{FailureThreshold: 2, Clock: clockwork.NewFakeClock()})
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	_ = cb.Call(ctx, succeed)
	_ = cb.Call(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	notCounted := errors.New("bad request")
	cb := New(Config{
		FailureThreshold: 1,
		Clock:            clockwork.NewFakeClock(),
		IsFailure:        func(err error) bool { return !errors.Is(err, notCounted) },
	})

	err := cb.Call(context.Background(), func(context.Context) error { return notCounted })
	assert.ErrorIs(t, err, notCounted)
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
