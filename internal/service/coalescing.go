package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/kjstillabower/aviation-weather-service/internal/cache"
	"github.com/kjstillabower/aviation-weather-service/internal/client"
)

// inFlightCall is a single upstream call that several callers may wait on.
// text and err are written once before done is closed.
type inFlightCall struct {
	done chan struct{}
	text string
	err  error
}

// requestCoalescer prevents cache stampede by coalescing concurrent misses for the same key
// into one upstream call.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[cache.Key]*inFlightCall
}

func newRequestCoalescer() *requestCoalescer {
	return &requestCoalescer{inFlight: make(map[cache.Key]*inFlightCall)}
}

// Do runs fn for key unless a call for key is already in flight, in which case it waits
// for that call. joined reports whether the caller attached to an existing call.
// Each caller stops waiting when its own ctx is done; fn keeps running for the others.
func (rc *requestCoalescer) Do(ctx context.Context, key cache.Key, fn func() (string, error)) (text string, joined bool, err error) {
	rc.mu.Lock()
	call, joined := rc.inFlight[key]
	if !joined {
		call = &inFlightCall{done: make(chan struct{})}
		rc.inFlight[key] = call
		go rc.run(key, call, fn)
	}
	rc.mu.Unlock()

	select {
	case <-call.done:
		return call.text, joined, call.err
	case <-ctx.Done():
		return "", joined, fmt.Errorf("%w: waiting for upstream: %w", client.ErrTimeout, ctx.Err())
	}
}

func (rc *requestCoalescer) run(key cache.Key, call *inFlightCall, fn func() (string, error)) {
	defer func() {
		if r := recover(); r != nil {
			call.text, call.err = "", fmt.Errorf("upstream call panicked: %v", r)
		}
		rc.mu.Lock()
		delete(rc.inFlight, key)
		rc.mu.Unlock()
		close(call.done)
	}()
	call.text, call.err = fn()
}

// pending returns the number of keys with a call in flight.
func (rc *requestCoalescer) pending() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
