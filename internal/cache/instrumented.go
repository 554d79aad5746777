package cache

import (
	"context"
	"time"

	"github.com/kjstillabower/aviation-weather-service/internal/observability"
)

// Instrumented wraps a Store and records operation latency and errors.
type Instrumented struct {
	next Store
}

// Instrument returns s wrapped with metrics. Ping is forwarded when s implements Pinger.
func Instrument(s Store) *Instrumented {
	return &Instrumented{next: s}
}

// Unwrap returns the underlying store.
func (i *Instrumented) Unwrap() Store { return i.next }

func (i *Instrumented) Get(ctx context.Context, key Key) (Entry, bool, error) {
	start := time.Now()
	e, ok, err := i.next.Get(ctx, key)
	result := "hit"
	switch {
	case err != nil:
		result = "error"
	case !ok:
		result = "miss"
	}
	observe("get", result, start, err)
	return e, ok, err
}

func (i *Instrumented) Put(ctx context.Context, entry Entry) error {
	start := time.Now()
	err := i.next.Put(ctx, entry)
	observe("put", resultLabel(err), start, err)
	return err
}

func (i *Instrumented) Clear(ctx context.Context) error {
	start := time.Now()
	err := i.next.Clear(ctx)
	observe("clear", resultLabel(err), start, err)
	return err
}

// Ping forwards to the wrapped store. Stores without a server are always reachable.
func (i *Instrumented) Ping(ctx context.Context) error {
	if p, ok := i.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func observe(op, result string, start time.Time, err error) {
	observability.CacheOperationDurationSeconds.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues(op).Inc()
	}
}
