package state

import (
	"fmt"
	"math"
	"strings"
)

// Tag identifies one of the two birds. Tags double as the owning-side colour on the wire.
type Tag int

const (
	// TagNone marks the absence of a tag in a message.
	TagNone Tag = iota
	// TagA is the red bird, owned by player one.
	TagA
	// TagB is the blue bird, owned by player two.
	TagB
)

// Tags lists the bird tags in render and iteration order.
var Tags = [...]Tag{TagA, TagB}

func (t Tag) String() string {
	switch t {
	case TagA:
		return "red"
	case TagB:
		return "blue"
	default:
		return ""
	}
}

// Valid reports whether the tag names a bird.
func (t Tag) Valid() bool { return t == TagA || t == TagB }

// ParseTag accepts the colour names as well as the A/B letters.
func ParseTag(raw string) (Tag, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "red", "a":
		return TagA, nil
	case "blue", "b":
		return TagB, nil
	case "":
		return TagNone, nil
	default:
		return TagNone, fmt.Errorf("unknown bird tag %q", raw)
	}
}

// Owner records which process is the source of truth for a bird.
type Owner int

const (
	// OwnerRemote birds only change through the merge step.
	OwnerRemote Owner = iota
	// OwnerLocal birds are driven by this process's physics.
	OwnerLocal
)

// Bird is the simulated player entity. It is created once and reused across rounds.
type Bird struct {
	Tag      Tag
	Owner    Owner
	X        float64
	Y        float64
	Velocity float64
	Alive    bool
	Score    int

	startY float64
	width  float64
	height float64
	insetX float64
	insetY float64
}

// NewBird places a bird at the geometry's start position.
func NewBird(tag Tag, owner Owner, g Geometry) *Bird {
	bird := &Bird{
		Tag:    tag,
		Owner:  owner,
		X:      g.BirdX,
		startY: g.BirdStartY,
		width:  g.BirdWidth,
		height: g.BirdHeight,
		insetX: g.HitInsetX,
		insetY: g.HitInsetY,
	}
	bird.Reset()
	return bird
}

// Local reports whether this process owns the bird.
func (b *Bird) Local() bool { return b != nil && b.Owner == OwnerLocal }

// Reset re-initialises the round state; X and ownership never change.
func (b *Bird) Reset() {
	if b == nil {
		return
	}
	b.Y = b.startY
	b.Velocity = 0
	b.Score = 0
	b.Alive = true
}

// Extent returns the half height used by the out-of-bounds check.
func (b *Bird) Extent() float64 {
	return math.Floor(b.height / 2)
}

// HitBox returns the collision box, inset from the sprite extents so grazing contact is
// forgiven.
func (b *Bird) HitBox() Rect {
	marginX := math.Floor(b.width * b.insetX)
	marginY := math.Floor(b.height * b.insetY)
	return Rect{
		X: b.X - math.Floor(b.width/2) + marginX,
		Y: b.Y - math.Floor(b.height/2) + marginY,
		W: b.width - 2*marginX,
		H: b.height - 2*marginY,
	}
}

// Size returns the sprite extents.
func (b *Bird) Size() (w, h float64) { return b.width, b.height }

// Birds is the fixed pair of birds of a match, indexed by tag.
type Birds struct {
	A *Bird
	B *Bird
}

// NewBirds creates both birds; owned lists the tags this process drives.
func NewBirds(g Geometry, owned ...Tag) Birds {
	ownerOf := func(tag Tag) Owner {
		for _, candidate := range owned {
			if candidate == tag {
				return OwnerLocal
			}
		}
		return OwnerRemote
	}
	return Birds{
		A: NewBird(TagA, ownerOf(TagA), g),
		B: NewBird(TagB, ownerOf(TagB), g),
	}
}

// Get returns the bird for a tag or nil.
func (bs Birds) Get(tag Tag) *Bird {
	switch tag {
	case TagA:
		return bs.A
	case TagB:
		return bs.B
	default:
		return nil
	}
}

// All returns both birds in tag order.
func (bs Birds) All() []*Bird { return []*Bird{bs.A, bs.B} }

// AnyAlive reports whether at least one bird is still flying.
func (bs Birds) AnyAlive() bool {
	return (bs.A != nil && bs.A.Alive) || (bs.B != nil && bs.B.Alive)
}
