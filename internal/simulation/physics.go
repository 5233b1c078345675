package simulation

import (
	"flappysync/internal/state"
	"flappysync/internal/world"
)

// Integrate applies one tick of gravity to a locally owned, living bird.
func Integrate(bird *state.Bird, g state.Geometry) {
	if !bird.Local() || !bird.Alive {
		return
	}
	//1.- Velocity first, then position, so a jump takes effect on the same tick.
	bird.Velocity += g.Gravity
	bird.Y += bird.Velocity
}

// Jump sets the upward impulse. Commands for remote or dead birds are dropped.
func Jump(bird *state.Bird, g state.Geometry) bool {
	if !bird.Local() || !bird.Alive {
		return false
	}
	bird.Velocity = g.JumpImpulse
	return true
}

// CheckBounds kills a locally owned bird whose extent leaves the field vertically.
func CheckBounds(bird *state.Bird, g state.Geometry) bool {
	if !bird.Local() || !bird.Alive {
		return false
	}
	extent := bird.Extent()
	if bird.Y-extent < 0 || bird.Y+extent > g.Height {
		bird.Alive = false
		return true
	}
	return false
}

// CheckPipes resolves collision and scoring for a locally owned bird. startedAlive reports
// whether the bird was alive when the tick began: a bird killed earlier in the same tick still
// scores the pipes it has cleared, while a bird dead since an earlier tick scores nothing. Only
// a living bird collides; the first pipe hit kills it and stops evaluation.
func CheckPipes(bird *state.Bird, pipes []state.Pipe, g state.Geometry, startedAlive bool) (hit bool, scored int) {
	if !bird.Local() || !startedAlive {
		return false, 0
	}
	box := bird.HitBox()
	for i := range pipes {
		pipe := &pipes[i]
		top, bottom := pipe.HitBoxes(g)
		if bird.Alive && (box.Overlaps(top) || box.Overlaps(bottom)) {
			bird.Alive = false
			return true, scored
		}
		//1.- A process owns at most one bird, so one Passed flag per pipe is enough.
		if !pipe.Passed && bird.X > pipe.TrailingEdge(g) {
			pipe.Passed = true
			bird.Score++
			scored++
		}
	}
	return false, scored
}

// AdvancePipes spawns due pipes, scrolls the field and culls pipes that left it. It returns
// the number of pipes spawned and removed.
func AdvancePipes(pipes *state.Pipes, spawner *world.Spawner, gen *world.Generator, g state.Geometry) (spawned, culled int) {
	spawned = spawner.Advance(gen, g, pipes.Append)
	pipes.Scroll(g.PipeSpeed)
	culled = pipes.Cull(g)
	return spawned, culled
}
