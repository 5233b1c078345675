package match

import (
	"fmt"
	"strings"

	"flappysync/internal/state"
)

// Role fixes which birds a process drives. It never changes after startup.
type Role int

const (
	// RolePlayerA drives the red bird and originates round seeds.
	RolePlayerA Role = iota + 1
	// RolePlayerB drives the blue bird.
	RolePlayerB
	// RoleObserver drives nothing and mirrors both birds.
	RoleObserver
)

// ParseRole accepts the numeric menu choices as well as descriptive names.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "a", "red", "player1", "p1":
		return RolePlayerA, nil
	case "2", "b", "blue", "player2", "p2":
		return RolePlayerB, nil
	case "3", "observer", "spectator":
		return RoleObserver, nil
	default:
		return 0, fmt.Errorf("unknown role %q (want 1, 2 or 3)", raw)
	}
}

func (r Role) String() string {
	switch r {
	case RolePlayerA:
		return "player1"
	case RolePlayerB:
		return "player2"
	case RoleObserver:
		return "observer"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the three roles.
func (r Role) Valid() bool { return r >= RolePlayerA && r <= RoleObserver }

// OwnedTag returns the bird this role drives, or TagNone for observers.
func (r Role) OwnedTag() state.Tag {
	switch r {
	case RolePlayerA:
		return state.TagA
	case RolePlayerB:
		return state.TagB
	default:
		return state.TagNone
	}
}

// Owns reports whether the role drives tag.
func (r Role) Owns(tag state.Tag) bool {
	return tag.Valid() && r.OwnedTag() == tag
}

// RemoteTags lists the birds this role mirrors from snapshots.
func (r Role) RemoteTags() []state.Tag {
	tags := make([]state.Tag, 0, len(state.Tags))
	for _, tag := range state.Tags {
		if !r.Owns(tag) {
			tags = append(tags, tag)
		}
	}
	return tags
}

// OriginatesSeed reports whether the role draws and broadcasts round seeds.
func (r Role) OriginatesSeed() bool { return r == RolePlayerA }

// FiltersSelf reports whether the role drops messages carrying its own sender id.
// Observers publish nothing, so they keep everything.
func (r Role) FiltersSelf() bool { return r == RolePlayerA || r == RolePlayerB }

// Publishes reports whether the role sends state and phase messages.
func (r Role) Publishes() bool { return r == RolePlayerA || r == RolePlayerB }
