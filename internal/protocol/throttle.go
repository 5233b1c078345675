package protocol

import "time"

// DefaultPublishInterval is the minimum simulation time between two state publishes.
const DefaultPublishInterval = 50 * time.Millisecond

// Throttle rate-limits publishing against simulation time rather than the wall clock, so
// a stalled process does not burst on resume.
type Throttle struct {
	interval time.Duration
	elapsed  time.Duration
	primed   bool
}

// NewThrottle builds a throttle; non-positive intervals fall back to the default.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	return &Throttle{interval: interval}
}

// Advance accounts for one tick of length step and reports whether a publish is allowed.
// The first call after construction or Reset always allows.
func (t *Throttle) Advance(step time.Duration) bool {
	if !t.primed {
		t.primed = true
		t.elapsed = 0
		return true
	}
	t.elapsed += step
	if t.elapsed < t.interval {
		return false
	}
	t.elapsed = 0
	return true
}

// Reset makes the next Advance publish immediately.
func (t *Throttle) Reset() {
	t.primed = false
	t.elapsed = 0
}

// Interval returns the configured spacing.
func (t *Throttle) Interval() time.Duration { return t.interval }
