package match

import (
	"flappysync/internal/protocol"
	"flappysync/internal/state"
)

// Phase is the match phase shared with the wire format.
type Phase = protocol.Phase

// Match phases.
const (
	PhaseNotStarted = protocol.PhaseNotStarted
	PhaseRunning    = protocol.PhaseRunning
	PhaseEnded      = protocol.PhaseEnded
)

// Coordinator is the per-process phase machine: NotStarted, Running, Ended, Running, and so
// on until shutdown. It only tracks the phase; Session performs the side effects of each
// transition.
type Coordinator struct {
	phase  Phase
	rounds int
}

// NewCoordinator starts on the NotStarted screen.
func NewCoordinator() *Coordinator { return &Coordinator{phase: PhaseNotStarted} }

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase { return c.phase }

// Rounds counts how many times Running was entered.
func (c *Coordinator) Rounds() int { return c.rounds }

// Start handles a local start input. It reports whether a new round began.
func (c *Coordinator) Start() bool {
	if c.phase == PhaseRunning {
		return false
	}
	c.phase = PhaseRunning
	c.rounds++
	return true
}

// Observe ends a running round once no bird is alive. It reports whether the phase changed.
func (c *Coordinator) Observe(birds state.Birds) bool {
	if c.phase != PhaseRunning || birds.AnyAlive() {
		return false
	}
	c.phase = PhaseEnded
	return true
}

// RemoteEnded applies an ended signal from a peer. The first end wins, whatever the state of
// the local birds.
func (c *Coordinator) RemoteEnded() bool {
	if c.phase != PhaseRunning {
		return false
	}
	c.phase = PhaseEnded
	return true
}

// Outcome summarises a finished round for the end screen.
type Outcome struct {
	Winner state.Tag
	Tie    bool
	ScoreA int
	ScoreB int
}

// DecideOutcome compares the final scores; equal scores are a tie.
func DecideOutcome(birds state.Birds) Outcome {
	out := Outcome{}
	if birds.A != nil {
		out.ScoreA = birds.A.Score
	}
	if birds.B != nil {
		out.ScoreB = birds.B.Score
	}
	switch {
	case out.ScoreA > out.ScoreB:
		out.Winner = state.TagA
	case out.ScoreB > out.ScoreA:
		out.Winner = state.TagB
	default:
		out.Tie = true
	}
	return out
}
