package simulation

import (
	"sync"
	"time"
)

// TickMetricsSnapshot summarises observed tick durations.
type TickMetricsSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
	Overrun int
}

// AverageFPS derives the frame rate equivalent of the average tick cost.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickMonitor accumulates timing statistics for the peer's simulation loop. It is read by
// the frontend status line while the loop goroutine writes to it.
type TickMonitor struct {
	mu      sync.Mutex
	budget  time.Duration
	samples int
	total   time.Duration
	max     time.Duration
	last    time.Duration
	overrun int
}

// NewTickMonitor constructs a monitor that counts ticks slower than budget as overruns. A
// zero budget disables overrun tracking.
func NewTickMonitor(budget time.Duration) *TickMonitor {
	return &TickMonitor{budget: budget}
}

// Observe records the duration of a completed tick.
func (m *TickMonitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	if m.budget > 0 && duration > m.budget {
		m.overrun++
	}
}

// Snapshot returns a copy of the aggregated statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	snap := TickMetricsSnapshot{Samples: m.samples, Max: m.max, Last: m.last, Overrun: m.overrun}
	total := m.total
	m.mu.Unlock()

	if snap.Samples > 0 {
		snap.Average = total / time.Duration(snap.Samples)
	}
	return snap
}

// Reset clears the statistics, used when a new round starts.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples, m.total, m.max, m.last, m.overrun = 0, 0, 0, 0, 0
	m.mu.Unlock()
}
