package httpapi

import (
	"sync"
	"time"
)

// WindowLimiter admits at most limit admin operations within any sliding window. A ring of
// the last limit admission times is enough to decide: a new call is allowed once the oldest
// admission has left the window.
type WindowLimiter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	ring []time.Time
	next int
}

// NewWindowLimiter constructs a limiter; a non-positive window or limit disables it.
func NewWindowLimiter(window time.Duration, limit int, clock func() time.Time) *WindowLimiter {
	if clock == nil {
		clock = time.Now
	}
	if window <= 0 || limit <= 0 {
		return &WindowLimiter{now: clock}
	}
	return &WindowLimiter{window: window, now: clock, ring: make([]time.Time, limit)}
}

// Allow reports whether the caller may proceed and records the admission.
func (l *WindowLimiter) Allow() bool {
	if l == nil || len(l.ring) == 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	oldest := l.ring[l.next]
	if !oldest.IsZero() && now.Sub(oldest) < l.window {
		return false
	}
	l.ring[l.next] = now
	l.next = (l.next + 1) % len(l.ring)
	return true
}
