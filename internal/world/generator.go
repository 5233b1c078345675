package world

import (
	"math/rand"
	"sync"
	"time"

	"flappysync/internal/state"
)

// Generator draws pipe gap offsets from a seeded sequence. Every peer that applies the same
// seed before its first draw of a round observes the same offsets.
type Generator struct {
	lo, hi int
	rng    *rand.Rand
	seed   int64
	seeded bool
}

// NewGenerator prepares an unseeded generator for the geometry's gap range.
func NewGenerator(g state.Geometry) *Generator {
	lo, hi := g.GapRange()
	if hi < lo {
		hi = lo
	}
	return &Generator{lo: lo, hi: hi}
}

// Seed restarts the sequence from the supplied value.
func (gen *Generator) Seed(seed int64) {
	gen.rng = rand.New(rand.NewSource(seed))
	gen.seed = seed
	gen.seeded = true
}

// Unseed forgets the current sequence so the next round waits for a fresh seed.
func (gen *Generator) Unseed() {
	gen.rng = nil
	gen.seeded = false
}

// Seeded reports whether draws are currently allowed.
func (gen *Generator) Seeded() bool { return gen.seeded }

// CurrentSeed returns the last applied seed.
func (gen *Generator) CurrentSeed() (int64, bool) { return gen.seed, gen.seeded }

// NextGapTop draws the next offset, uniform over the inclusive gap range. It refuses to draw
// from an unseeded sequence.
func (gen *Generator) NextGapTop() (int, bool) {
	if !gen.seeded || gen.rng == nil {
		return 0, false
	}
	return gen.lo + gen.rng.Intn(gen.hi-gen.lo+1), true
}

var (
	seedMu  sync.Mutex
	seedRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NewSeed draws a fresh round seed. Only the seed originator calls it.
func NewSeed() int64 {
	seedMu.Lock()
	defer seedMu.Unlock()
	return seedRng.Int63()
}
