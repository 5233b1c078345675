package replayplayer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"flappysync/internal/replay"
)

// RoundSummary describes one round reconstructed from a bundle.
type RoundSummary struct {
	Number  int            `json:"number"`
	Seed    int64          `json:"seed"`
	Started uint64         `json:"started_tick"`
	Ended   uint64         `json:"ended_tick,omitempty"`
	Scores  map[string]int `json:"scores,omitempty"`
	Winner  string         `json:"winner,omitempty"`
	Tie     bool           `json:"tie,omitempty"`
}

// Summary condenses a bundle for operators.
type Summary struct {
	PeerID   string         `json:"peer_id"`
	Role     string         `json:"role"`
	Topic    string         `json:"topic"`
	Events   int            `json:"events"`
	Frames   int            `json:"frames"`
	Inbound  map[string]int `json:"inbound"`
	Outbound map[string]int `json:"outbound"`
	Senders  []string       `json:"senders"`
	Rounds   []RoundSummary `json:"rounds"`
}

// Open loads the bundle at path, accepting either the directory or its manifest.json.
func Open(path string) (*replay.Bundle, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		path = filepath.Dir(path)
	}
	return replay.Load(path)
}

// Summarise walks the bundle timeline and rebuilds per-round results.
func Summarise(bundle *replay.Bundle) Summary {
	summary := Summary{
		PeerID:   bundle.Header.PeerID,
		Role:     bundle.Header.Role,
		Topic:    bundle.Header.Topic,
		Events:   len(bundle.Events),
		Frames:   len(bundle.Frames),
		Inbound:  make(map[string]int),
		Outbound: make(map[string]int),
	}
	senders := make(map[string]struct{})
	var current *RoundSummary

	_ = bundle.Replay(func(entry replay.TimelineEntry) error {
		if event := entry.Event; event != nil {
			if event.Direction == "out" {
				summary.Outbound[event.Kind]++
			} else {
				summary.Inbound[event.Kind]++
				senders[event.Sender] = struct{}{}
			}
			//1.- Every round start message opens a round, whichever side sent it.
			if event.Kind == "round_start" {
				summary.Rounds = append(summary.Rounds, RoundSummary{Number: len(summary.Rounds) + 1, Seed: event.Seed, Started: event.Tick})
				current = &summary.Rounds[len(summary.Rounds)-1]
			}
			return nil
		}
		frame := entry.Frame.Record
		if current == nil || frame.Round != current.Number || current.Ended != 0 {
			return nil
		}
		//2.- Scores follow the latest frame; the first ended frame closes the round.
		current.Scores = make(map[string]int, len(frame.Birds))
		for _, bird := range frame.Birds {
			current.Scores[bird.Tag] = bird.Score
		}
		if frame.Phase == "game_over" {
			current.Ended = frame.Tick
			current.Winner = frame.Winner
			current.Tie = frame.Tie
		}
		return nil
	})

	for sender := range senders {
		summary.Senders = append(summary.Senders, sender)
	}
	sort.Strings(summary.Senders)
	return summary
}

// Render prints a human readable summary.
func Render(w io.Writer, summary Summary) {
	fmt.Fprintf(w, "peer %s (%s) on %s\n", summary.PeerID, summary.Role, summary.Topic)
	fmt.Fprintf(w, "  %d events, %d frames, peers seen: %v\n", summary.Events, summary.Frames, summary.Senders)
	for _, round := range summary.Rounds {
		fmt.Fprintf(w, "  round %d seed %d started at tick %d", round.Number, round.Seed, round.Started)
		switch {
		case round.Ended == 0:
			fmt.Fprintln(w, ", unfinished")
		case round.Tie:
			fmt.Fprintf(w, ", tie at tick %d red=%d blue=%d\n", round.Ended, round.Scores["red"], round.Scores["blue"])
		default:
			fmt.Fprintf(w, ", %s won at tick %d red=%d blue=%d\n", round.Winner, round.Ended, round.Scores["red"], round.Scores["blue"])
		}
	}
}
