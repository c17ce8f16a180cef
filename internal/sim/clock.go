package sim

import (
	"sync"
	"time"
)

// Clock tracks how far simulated time has advanced relative to the wall
// clock. The telemetry bridge streams the drift so external consumers can
// align replays with real timestamps.
type Clock struct {
	mu        sync.Mutex
	now       func() time.Time
	startedAt time.Time
	simulated time.Duration
}

// NewClock builds a clock anchored at the current wall time. The time source
// may be overridden for tests.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, startedAt: now()}
}

// Advance accrues simulated time; the loop calls this once per tick.
func (c *Clock) Advance(step time.Duration) {
	if c == nil || step <= 0 {
		return
	}
	c.mu.Lock()
	c.simulated += step
	c.mu.Unlock()
}

// Snapshot returns the wall timestamp, the simulated timestamp, and the
// recommended offset between them, all in milliseconds.
func (c *Clock) Snapshot() (serverMs, simulatedMs, offsetMs int64) {
	if c == nil {
		return 0, 0, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	serverMs = now.UnixMilli()
	simulatedMs = c.startedAt.Add(c.simulated).UnixMilli()
	offsetMs = serverMs - simulatedMs
	return serverMs, simulatedMs, offsetMs
}

// SimulatedMs returns the simulated timestamp in milliseconds.
func (c *Clock) SimulatedMs() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt.Add(c.simulated).UnixMilli()
}
