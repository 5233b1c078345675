package match

import (
	"flappysync/internal/protocol"
	"flappysync/internal/state"
)

// DefaultAlpha is the per-tick smoothing factor applied to remote positions.
const DefaultAlpha = 0.2

// Merge eases a remote bird toward the last snapshot for its tag. Score and alive are
// copied as-is. Locally owned birds are never touched.
func Merge(bird *state.Bird, snapshot protocol.Message, alpha float64) bool {
	if bird == nil || bird.Local() || snapshot.Kind != protocol.KindState || snapshot.Tag != bird.Tag {
		return false
	}
	bird.Y += (snapshot.Y - bird.Y) * alpha
	bird.Score = snapshot.Score
	bird.Alive = snapshot.Alive
	return true
}

// RemoteStates keeps the latest snapshot per bird tag.
type RemoteStates struct {
	latest map[state.Tag]protocol.Message
}

// NewRemoteStates creates an empty snapshot table.
func NewRemoteStates() *RemoteStates {
	return &RemoteStates{latest: make(map[state.Tag]protocol.Message, len(state.Tags))}
}

// Store replaces the snapshot on file for the message's tag.
func (r *RemoteStates) Store(msg protocol.Message) {
	if msg.Kind != protocol.KindState || !msg.Tag.Valid() {
		return
	}
	r.latest[msg.Tag] = msg
}

// Get returns the snapshot on file for tag.
func (r *RemoteStates) Get(tag state.Tag) (protocol.Message, bool) {
	msg, ok := r.latest[tag]
	return msg, ok
}

// Len reports how many tags have a snapshot on file.
func (r *RemoteStates) Len() int { return len(r.latest) }

// Clear forgets every snapshot, used when a round starts.
func (r *RemoteStates) Clear() {
	for tag := range r.latest {
		delete(r.latest, tag)
	}
}
