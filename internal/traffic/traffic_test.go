package traffic

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestTracker() (*Tracker, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewTracker(clock, 10*time.Minute), clock
}

// TestRequestCount_Empty verifies that RequestCount returns 0 when no
// requests have been recorded within the time window.
func TestRequestCount_Empty(t *testing.T) {
	tr, _ := newTestTracker()
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestRecordDenied_AndCounts verifies that RecordDenied increments both
// DenialCount and RequestCount, but not ActivityCount.
func TestRecordDenied_AndCounts(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordSuccess()
	tr.RecordDenied()
	tr.RecordDenied()
	if n := tr.DenialCount(time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
	if n := tr.RequestCount(time.Minute); n != 3 {
		t.Errorf("RequestCount() = %d, want 3", n)
	}
	if n := tr.ActivityCount(time.Minute); n != 1 {
		t.Errorf("ActivityCount() = %d, want 1", n)
	}
}

// TestErrorRate_DeniedExcluded verifies that ErrorRate only counts successes and errors.
func TestErrorRate_DeniedExcluded(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordSuccess()
	tr.RecordSuccess()
	tr.RecordError()
	tr.RecordDenied()
	errors, total := tr.ErrorRate(time.Minute)
	if errors != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errors, total)
	}
}

// TestLoadAndError_UnifiedDenominator verifies that RecordSuccessN and RecordErrorN
// contribute to both RequestCount and ErrorRate.
func TestLoadAndError_UnifiedDenominator(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordSuccessN(39)
	tr.RecordErrorN(1)
	errors, total := tr.ErrorRate(time.Minute)
	if errors != 1 || total != 40 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 40)", errors, total)
	}
	if n := tr.RequestCount(time.Minute); n != 40 {
		t.Errorf("RequestCount() = %d, want 40", n)
	}
}

// TestWindowSlides verifies that outcomes leave a window as the clock advances.
func TestWindowSlides(t *testing.T) {
	tr, clock := newTestTracker()
	tr.RecordSuccessN(5)
	clock.Advance(90 * time.Second)
	tr.RecordError()

	if n := tr.RequestCount(time.Minute); n != 1 {
		t.Errorf("RequestCount(1m) = %d, want 1", n)
	}
	if n := tr.RequestCount(2 * time.Minute); n != 6 {
		t.Errorf("RequestCount(2m) = %d, want 6", n)
	}
	errors, total := tr.ErrorRate(time.Minute)
	if errors != 1 || total != 1 {
		t.Errorf("ErrorRate(1m) = (%d, %d), want (1, 1)", errors, total)
	}
}

// TestRetentionPrunes verifies that outcomes older than the retention are dropped.
func TestRetentionPrunes(t *testing.T) {
	tr, clock := newTestTracker()
	tr.RecordSuccessN(3)
	clock.Advance(11 * time.Minute)
	tr.RecordSuccess()

	tr.mu.Lock()
	kept := len(tr.successTimes)
	tr.mu.Unlock()
	if kept != 1 {
		t.Errorf("retained successes = %d, want 1", kept)
	}
}

// TestReset verifies that Reset clears all recorded outcomes.
func TestReset(t *testing.T) {
	tr, _ := newTestTracker()
	tr.RecordSuccess()
	tr.RecordError()
	tr.RecordDenied()
	tr.Reset()
	if n := tr.RequestCount(time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
	errors, total := tr.ErrorRate(time.Minute)
	if errors != 0 || total != 0 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 0)", errors, total)
	}
}

func TestConcurrentRecording(t *testing.T) {
	tr := NewTracker(nil, 0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordSuccess()
			_ = tr.RequestCount(time.Minute)
		}()
	}
	wg.Wait()
	if n := tr.RequestCount(time.Minute); n != 50 {
		t.Errorf("RequestCount() = %d, want 50", n)
	}
}
