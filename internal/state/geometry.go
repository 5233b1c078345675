package state

// Geometry holds the field dimensions and tuning constants every peer must agree on.
// Peers with different geometry diverge even when they share a seed.
type Geometry struct {
	Width  float64
	Height float64

	BirdX       float64
	BirdStartY  float64
	BirdWidth   float64
	BirdHeight  float64
	HitInsetX   float64 // fraction of the bird width trimmed from each side
	HitInsetY   float64 // fraction of the bird height trimmed from top and bottom
	Gravity     float64
	JumpImpulse float64

	PipeWidth      float64
	PipeInset      float64 // pixels trimmed from each side of a pipe hit-box
	PipeGap        int
	PipeSpeed      float64
	PipeMinMargin  int
	SpawnEveryTick int
}

// DefaultGeometry mirrors the two-player game's tuning.
func DefaultGeometry() Geometry {
	return Geometry{
		Width:          1200,
		Height:         700,
		BirdX:          100,
		BirdStartY:     350,
		BirdWidth:      45,
		BirdHeight:     30,
		HitInsetX:      0.45,
		HitInsetY:      0.10,
		Gravity:        0.5,
		JumpImpulse:    -10,
		PipeWidth:      50,
		PipeInset:      5,
		PipeGap:        200,
		PipeSpeed:      3,
		PipeMinMargin:  100,
		SpawnEveryTick: 120,
	}
}

// GapRange reports the inclusive bounds for a pipe's gap-start offset.
func (g Geometry) GapRange() (lo, hi int) {
	return g.PipeMinMargin, int(g.Height) - g.PipeGap - g.PipeMinMargin
}

// Rect is an axis aligned box in field coordinates, y growing downwards.
type Rect struct {
	X, Y, W, H float64
}

// Overlaps reports whether two boxes share interior area; touching edges do not count.
func (r Rect) Overlaps(o Rect) bool {
	if r.W <= 0 || r.H <= 0 || o.W <= 0 || o.H <= 0 {
		return false
	}
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}
