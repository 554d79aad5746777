package lifecycle

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// State tracks process lifecycle: when the service started and whether it is draining.
type State struct {
	clock        clockwork.Clock
	startedAt    time.Time
	shuttingDown atomic.Bool
}

// NewState records the start time from clock. A nil clock uses the real clock.
func NewState(clock clockwork.Clock) *State {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &State{clock: clock, startedAt: clock.Now()}
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func (s *State) SetShuttingDown(v bool) {
	s.shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func (s *State) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// StartedAt returns the process start time.
func (s *State) StartedAt() time.Time {
	return s.startedAt
}

// Uptime returns the time since start.
func (s *State) Uptime() time.Duration {
	return s.clock.Since(s.startedAt)
}
