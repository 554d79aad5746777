package traffic

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultRetention is how long outcomes are kept when no retention is given.
const DefaultRetention = 30 * time.Minute

// Tracker maintains sliding windows of request outcome timestamps.
// Single source of truth for overload (RequestCount, DenialCount), idle (ActivityCount)
// and degraded (ErrorRate) health decisions.
type Tracker struct {
	mu           sync.Mutex
	clock        clockwork.Clock
	retention    time.Duration
	successTimes []time.Time
	errorTimes   []time.Time
	deniedTimes  []time.Time
}

// NewTracker returns a Tracker keeping outcomes for retention, which must cover the
// longest window queried. A nil clock uses the real clock.
func NewTracker(clock clockwork.Clock, retention time.Duration) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{clock: clock, retention: retention}
}

// RecordSuccess records a request that produced a report.
func (t *Tracker) RecordSuccess() {
	t.recordN(&t.successTimes, 1)
}

// RecordError records a request that produced no report (upstream unavailable, timeout).
func (t *Tracker) RecordError() {
	t.recordN(&t.errorTimes, 1)
}

// RecordDenied records a rate-limit denial (429).
func (t *Tracker) RecordDenied() {
	t.recordN(&t.deniedTimes, 1)
}

// RecordSuccessN records n successful outcomes. For synthetic load injection.
func (t *Tracker) RecordSuccessN(n int) {
	t.recordN(&t.successTimes, n)
}

// RecordErrorN records n error outcomes. For synthetic error injection.
func (t *Tracker) RecordErrorN(n int) {
	t.recordN(&t.errorTimes, n)
}

func (t *Tracker) recordN(slice *[]time.Time, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	for i := 0; i < n; i++ {
		*slice = append(*slice, now)
	}
	t.pruneLocked(now)
}

// RequestCount returns the number of outcomes (success + error + denied) within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	return countInWindow(t.successTimes, cutoff) +
		countInWindow(t.errorTimes, cutoff) +
		countInWindow(t.deniedTimes, cutoff)
}

// ActivityCount returns the number of served requests (success + error) within the window.
// Denials are excluded: a flood of rejected requests is not activity.
func (t *Tracker) ActivityCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	return countInWindow(t.successTimes, cutoff) + countInWindow(t.errorTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.deniedTimes, t.clock.Now().Add(-window))
}

// ErrorRate returns (errorCount, totalCount) within the window.
// totalCount includes successes and errors only; denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	errCount := countInWindow(t.errorTimes, cutoff)
	successCount := countInWindow(t.successTimes, cutoff)
	return errCount, errCount + successCount
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.deniedTimes = nil
}

// countInWindow counts timestamps that are not before the cutoff time.
func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than the retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.deniedTimes)
}
