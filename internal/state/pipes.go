package state

// Pipe is a top/bottom obstacle pair sharing one gap.
type Pipe struct {
	X      float64
	GapTop int
	Passed bool
}

// TrailingEdge is the x coordinate of the pipe's far side.
func (p Pipe) TrailingEdge(g Geometry) float64 { return p.X + g.PipeWidth }

// HitBoxes returns the collision boxes of the upper and lower halves.
func (p Pipe) HitBoxes(g Geometry) (top, bottom Rect) {
	x := p.X + g.PipeInset
	w := g.PipeWidth - 2*g.PipeInset
	gapBottom := float64(p.GapTop + g.PipeGap)
	top = Rect{X: x, Y: 0, W: w, H: float64(p.GapTop)}
	bottom = Rect{X: x, Y: gapBottom, W: w, H: g.Height - gapBottom}
	return top, bottom
}

// Pipes is the ordered obstacle sequence, oldest first.
type Pipes struct {
	items []Pipe
}

// Len returns the number of live pipes.
func (ps *Pipes) Len() int { return len(ps.items) }

// Items exposes the live pipes for in-place updates.
func (ps *Pipes) Items() []Pipe { return ps.items }

// Append adds a newly spawned pipe at the back of the sequence.
func (ps *Pipes) Append(p Pipe) { ps.items = append(ps.items, p) }

// Clear drops every pipe, keeping the backing array for the next round.
func (ps *Pipes) Clear() { ps.items = ps.items[:0] }

// Scroll moves every pipe left by dx.
func (ps *Pipes) Scroll(dx float64) {
	for i := range ps.items {
		ps.items[i].X -= dx
	}
}

// Cull removes pipes from the front whose trailing edge has left the field.
func (ps *Pipes) Cull(g Geometry) int {
	//1.- Pipes move in lockstep, so expired pipes always form a prefix.
	n := 0
	for n < len(ps.items) && ps.items[n].TrailingEdge(g) <= 0 {
		n++
	}
	if n == 0 {
		return 0
	}
	ps.items = append(ps.items[:0], ps.items[n:]...)
	return n
}

// Snapshot copies the sequence for readers outside the tick.
func (ps *Pipes) Snapshot() []Pipe {
	return append([]Pipe(nil), ps.items...)
}
