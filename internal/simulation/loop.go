package simulation

import (
	"context"
	"time"
)

// StepFunc advances the simulation by one fixed timestep.
type StepFunc func(step time.Duration)

// maxCatchUp bounds how many steps a single wake-up may run after a stall.
const maxCatchUp = 5

// Loop drives a fixed timestep simulation at the configured target frequency.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc
	monitor  *TickMonitor
	cancel   context.CancelFunc
	done     chan struct{}
	now      func() time.Time
}

// LoopOption customises a Loop.
type LoopOption func(*Loop)

// WithMonitor records the wall time of every step in monitor.
func WithMonitor(monitor *TickMonitor) LoopOption {
	return func(l *Loop) { l.monitor = monitor }
}

// NewLoop configures a loop that targets the provided frames per second.
func NewLoop(targetHz float64, step StepFunc, opts ...LoopOption) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	loop := &Loop{step: interval, stepFunc: step, now: time.Now}
	for _, opt := range opts {
		opt(loop)
	}
	return loop
}

// Start begins ticking until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil || l.done != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	ticker := time.NewTicker(l.step)
	go func() {
		defer close(l.done)
		defer ticker.Stop()
		last := l.now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				steps := 0
				for accumulator >= l.step && steps < maxCatchUp {
					l.runStep()
					accumulator -= l.step
					steps++
				}
				//2.- Drop whatever backlog remains after a long stall instead of spiralling.
				if accumulator >= l.step {
					accumulator = 0
				}
			}
		}
	}()
}

func (l *Loop) runStep() {
	if l.monitor == nil {
		l.stepFunc(l.step)
		return
	}
	started := l.now()
	l.stepFunc(l.step)
	l.monitor.Observe(l.now().Sub(started))
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
		l.done = nil
	}
}

// StepDuration exposes the configured timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
