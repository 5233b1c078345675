// Package protocol defines the messages peers exchange on the match topic and the codecs
// that put them on the wire.
package protocol

import (
	"errors"
	"fmt"
	"math"

	"flappysync/internal/state"
)

// Version is the schema version written by this build. Messages without a version are
// treated as version 1.
const Version = 1

var (
	// ErrMalformed marks payloads that cannot be decoded into a message.
	ErrMalformed = errors.New("protocol: malformed message")
	// ErrUnsupportedVersion marks payloads from a newer schema.
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
)

// Kind discriminates the message union.
type Kind uint8

const (
	// KindState carries one bird's snapshot.
	KindState Kind = iota + 1
	// KindRoundStart announces a new round and its seed.
	KindRoundStart
	// KindPhase carries a bare phase change.
	KindPhase
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindRoundStart:
		return "round_start"
	case KindPhase:
		return "phase"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Phase is the match phase as seen on the wire.
type Phase uint8

const (
	// PhaseUnknown means the message carried no phase.
	PhaseUnknown Phase = iota
	// PhaseNotStarted is the start screen before the first round.
	PhaseNotStarted
	// PhaseRunning is an active round.
	PhaseRunning
	// PhaseEnded is the game-over screen.
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "start_screen"
	case PhaseRunning:
		return "playing"
	case PhaseEnded:
		return "game_over"
	default:
		return ""
	}
}

// ParsePhase accepts the wire names together with the running/ended aliases.
func ParsePhase(raw string) (Phase, bool) {
	switch raw {
	case "start_screen", "not_started":
		return PhaseNotStarted, true
	case "playing", "running":
		return PhaseRunning, true
	case "game_over", "ended":
		return PhaseEnded, true
	default:
		return PhaseUnknown, false
	}
}

// Message is the tagged union of everything published on a match topic. Which fields are
// meaningful depends on Kind.
type Message struct {
	Version int
	Kind    Kind
	Sender  string
	Tag     state.Tag
	Y       float64
	Score   int
	Alive   bool
	Phase   Phase
	Seed    int64
}

// StateOf snapshots a bird for publication.
func StateOf(sender string, bird *state.Bird, phase Phase) Message {
	return Message{
		Version: Version,
		Kind:    KindState,
		Sender:  sender,
		Tag:     bird.Tag,
		Y:       bird.Y,
		Score:   bird.Score,
		Alive:   bird.Alive,
		Phase:   phase,
	}
}

// RoundStart announces a running round seeded with seed.
func RoundStart(sender string, seed int64) Message {
	return Message{Version: Version, Kind: KindRoundStart, Sender: sender, Phase: PhaseRunning, Seed: seed}
}

// PhaseSignal announces a phase change without any bird state.
func PhaseSignal(sender string, phase Phase) Message {
	return Message{Version: Version, Kind: KindPhase, Sender: sender, Phase: phase}
}

// Ends reports whether the message tells receivers the round is over.
func (m Message) Ends() bool { return m.Phase == PhaseEnded }

// Validate checks the invariants every codec enforces after decoding.
func (m Message) Validate() error {
	if m.Version > Version {
		return fmt.Errorf("%w: v%d", ErrUnsupportedVersion, m.Version)
	}
	if m.Sender == "" {
		return fmt.Errorf("%w: missing sender", ErrMalformed)
	}
	switch m.Kind {
	case KindState:
		if !m.Tag.Valid() {
			return fmt.Errorf("%w: state without bird tag", ErrMalformed)
		}
		if math.IsNaN(m.Y) || math.IsInf(m.Y, 0) {
			return fmt.Errorf("%w: non-finite position", ErrMalformed)
		}
		if m.Score < 0 {
			return fmt.Errorf("%w: negative score %d", ErrMalformed, m.Score)
		}
	case KindRoundStart:
	case KindPhase:
		if m.Phase == PhaseUnknown {
			return fmt.Errorf("%w: phase signal without phase", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformed, m.Kind)
	}
	return nil
}
