package world

import "flappysync/internal/state"

// Spawner counts ticks and releases a pipe every SpawnEveryTick ticks.
type Spawner struct {
	every int
	timer int
}

// NewSpawner builds a spawner for the geometry's cadence.
func NewSpawner(g state.Geometry) *Spawner {
	every := g.SpawnEveryTick
	if every <= 0 {
		every = 1
	}
	return &Spawner{every: every}
}

// Reset restarts the cadence for a new round.
func (s *Spawner) Reset() { s.timer = 0 }

// Waiting reports whether a pipe is due but held back for lack of a seed.
func (s *Spawner) Waiting() bool { return s.timer >= s.every }

// Advance counts one tick and emits every due pipe. While the generator is unseeded the
// counter keeps running; once the seed lands the overdue pipes are emitted shifted left by
// the distance they would already have travelled, keeping positions aligned with peers that
// spawned on time. Compensation covers less than one full interval: a peer overdue by more
// started before the originator drew the seed, so it restarts the cadence on this tick.
func (s *Spawner) Advance(gen *Generator, g state.Geometry, emit func(state.Pipe)) int {
	s.timer++
	if gen.Seeded() && s.timer-s.every >= s.every {
		s.timer = 1
	}
	emitted := 0
	for s.timer >= s.every {
		gap, ok := gen.NextGapTop()
		if !ok {
			break
		}
		overdue := s.timer - s.every
		emit(state.Pipe{X: g.Width - g.PipeSpeed*float64(overdue), GapTop: gap})
		s.timer -= s.every
		emitted++
	}
	return emitted
}
