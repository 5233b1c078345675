package world

import (
	"testing"

	"flappysync/internal/state"
)

func TestGeneratorDeterministicAcrossInstances(t *testing.T) {
	g := state.DefaultGeometry()
	for _, seed := range []int64{0, 1, 42, 99999, -7, 1 << 40} {
		left := NewGenerator(g)
		right := NewGenerator(g)
		left.Seed(seed)
		right.Seed(seed)
		for i := 0; i < 1000; i++ {
			a, okA := left.NextGapTop()
			b, okB := right.NextGapTop()
			if !okA || !okB {
				t.Fatalf("seed %d draw %d: expected seeded draws", seed, i)
			}
			if a != b {
				t.Fatalf("seed %d draw %d: sequences diverged %d != %d", seed, i, a, b)
			}
		}
	}
}

func TestGeneratorStaysWithinGapRange(t *testing.T) {
	g := state.DefaultGeometry()
	lo, hi := g.GapRange()
	gen := NewGenerator(g)
	gen.Seed(NewSeed())
	seenLo, seenHi := hi, lo
	for i := 0; i < 5000; i++ {
		v, _ := gen.NextGapTop()
		if v < lo || v > hi {
			t.Fatalf("draw %d out of range: %d", i, v)
		}
		if v < seenLo {
			seenLo = v
		}
		if v > seenHi {
			seenHi = v
		}
	}
	if seenLo != lo || seenHi != hi {
		t.Fatalf("expected inclusive bounds to be reachable, saw [%d, %d]", seenLo, seenHi)
	}
}

func TestGeneratorRefusesUnseededDraws(t *testing.T) {
	gen := NewGenerator(state.DefaultGeometry())
	if _, ok := gen.NextGapTop(); ok {
		t.Fatal("expected unseeded generator to refuse draws")
	}
	gen.Seed(5)
	gen.Unseed()
	if gen.Seeded() {
		t.Fatal("expected Unseed to clear the seeded flag")
	}
	if _, ok := gen.NextGapTop(); ok {
		t.Fatal("expected draw refusal after Unseed")
	}
}

func TestSpawnerReleasesOnCadence(t *testing.T) {
	g := state.DefaultGeometry()
	gen := NewGenerator(g)
	gen.Seed(11)
	spawner := NewSpawner(g)

	var pipes []state.Pipe
	for tick := 1; tick <= 3*g.SpawnEveryTick; tick++ {
		spawner.Advance(gen, g, func(p state.Pipe) { pipes = append(pipes, p) })
		if tick%g.SpawnEveryTick != 0 && len(pipes) != tick/g.SpawnEveryTick {
			t.Fatalf("tick %d: unexpected pipe count %d", tick, len(pipes))
		}
	}
	if len(pipes) != 3 {
		t.Fatalf("expected three pipes, got %d", len(pipes))
	}
	for _, p := range pipes {
		if p.X != g.Width {
			t.Fatalf("on-time pipes spawn at the field edge, got %v", p.X)
		}
	}
}

func TestSpawnerHoldsUntilSeedAndCompensatesPosition(t *testing.T) {
	g := state.DefaultGeometry()
	onTime := NewGenerator(g)
	onTime.Seed(77)
	late := NewGenerator(g)

	onTimeSpawner := NewSpawner(g)
	lateSpawner := NewSpawner(g)
	var onTimePipes, latePipes state.Pipes

	const seedArrivesAt = 130
	for tick := 1; tick <= 2*g.SpawnEveryTick+5; tick++ {
		if tick == seedArrivesAt {
			late.Seed(77)
		}
		onTimeSpawner.Advance(onTime, g, onTimePipes.Append)
		lateSpawner.Advance(late, g, latePipes.Append)
		if tick < seedArrivesAt && latePipes.Len() != 0 {
			t.Fatalf("tick %d: late peer spawned before the seed arrived", tick)
		}
		onTimePipes.Scroll(g.PipeSpeed)
		latePipes.Scroll(g.PipeSpeed)
	}

	a, b := onTimePipes.Items(), latePipes.Items()
	if len(a) != len(b) {
		t.Fatalf("pipe counts diverged: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("pipe %d diverged: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSpawnerRestartsCadenceWhenStartedBeforeOriginator(t *testing.T) {
	g := state.DefaultGeometry()
	const originatorStarts = 300

	early := NewGenerator(g)
	earlySpawner := NewSpawner(g)
	var earlyPipes state.Pipes
	originator := NewGenerator(g)
	originatorSpawner := NewSpawner(g)
	var originatorPipes state.Pipes

	for tick := 1; tick <= originatorStarts+2*g.SpawnEveryTick+5; tick++ {
		if tick == originatorStarts {
			originator.Seed(31)
			early.Seed(31)
		}
		earlySpawner.Advance(early, g, earlyPipes.Append)
		earlyPipes.Scroll(g.PipeSpeed)
		if tick >= originatorStarts {
			originatorSpawner.Advance(originator, g, originatorPipes.Append)
			originatorPipes.Scroll(g.PipeSpeed)
		}
		for _, p := range earlyPipes.Items() {
			if p.X > g.Width {
				t.Fatalf("tick %d: pipe beyond the field edge %+v", tick, p)
			}
		}
		if tick == originatorStarts && earlyPipes.Len() != 0 {
			t.Fatalf("a long-waiting peer must not dump overdue pipes, got %d", earlyPipes.Len())
		}
	}

	a, b := originatorPipes.Items(), earlyPipes.Items()
	if len(a) != 2 || len(a) != len(b) {
		t.Fatalf("pipe counts diverged: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("pipe %d diverged: %+v vs %+v", i, a[i], b[i])
		}
	}
}
