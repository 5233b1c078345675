package match

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidPeerID is returned when a join omits the participant identifier.
	ErrInvalidPeerID = errors.New("peer id must not be empty")
	// ErrMatchFull indicates that the roster has reached its capacity.
	ErrMatchFull = errors.New("match capacity reached")
)

// RosterSnapshot is a stable view of a roster for observers.
type RosterSnapshot struct {
	Topic string   `json:"topic"`
	Peers []string `json:"peers"`
}

// RosterOption configures optional Roster behaviour.
type RosterOption func(*Roster)

// WithRosterClock overrides the wall-clock time source.
func WithRosterClock(clock func() time.Time) RosterOption {
	return func(r *Roster) {
		//1.- Allow tests to inject a deterministic time source.
		if clock != nil {
			r.now = clock
		}
	}
}

// WithRosterCapacity caps the number of concurrent peers; zero means unlimited.
func WithRosterCapacity(max int) RosterOption {
	return func(r *Roster) {
		if max > 0 {
			r.max = max
		}
	}
}

// Roster tracks the participants seen on one match topic together with the last time each
// was heard from. The relay broker uses it to cap topics; peers use it to show who is
// around.
type Roster struct {
	mu    sync.RWMutex
	topic string
	max   int
	peers map[string]time.Time
	now   func() time.Time
}

// NewRoster creates an empty roster for topic.
func NewRoster(topic string, opts ...RosterOption) *Roster {
	roster := &Roster{topic: topic, peers: make(map[string]time.Time), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(roster)
		}
	}
	return roster
}

// Join registers or refreshes a participant, enforcing capacity for newcomers.
func (r *Roster) Join(peerID string) error {
	trimmed := strings.TrimSpace(peerID)
	if trimmed == "" {
		return ErrInvalidPeerID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	//1.- Reject newcomers once the roster is full; known peers only refresh their heartbeat.
	if _, exists := r.peers[trimmed]; !exists && r.max > 0 && len(r.peers) >= r.max {
		return ErrMatchFull
	}
	r.peers[trimmed] = r.now()
	return nil
}

// Leave removes a participant.
func (r *Roster) Leave(peerID string) {
	r.mu.Lock()
	delete(r.peers, strings.TrimSpace(peerID))
	r.mu.Unlock()
}

// Prune forgets participants not heard from within maxAge and returns how many were removed.
func (r *Roster) Prune(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, seen := range r.peers {
		if seen.Before(cutoff) {
			delete(r.peers, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of participants.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Snapshot returns the participants sorted by id.
func (r *Roster) Snapshot() RosterSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := RosterSnapshot{Topic: r.topic, Peers: make([]string, 0, len(r.peers))}
	for id := range r.peers {
		snapshot.Peers = append(snapshot.Peers, id)
	}
	//1.- Sort identifiers to keep payloads deterministic.
	sort.Strings(snapshot.Peers)
	return snapshot
}
