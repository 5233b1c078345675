package protocol

import (
	"fmt"

	"flappysync/internal/state"
)

// wireMessage is the document layout shared by the JSON and msgpack codecs. The field
// names match the legacy two-player MQTT payloads so older clients interoperate.
type wireMessage struct {
	Version  *int     `json:"v,omitempty" msgpack:"v,omitempty"`
	PlayerID string   `json:"player_id,omitempty" msgpack:"player_id,omitempty"`
	Color    string   `json:"color,omitempty" msgpack:"color,omitempty"`
	Y        *float64 `json:"y,omitempty" msgpack:"y,omitempty"`
	Score    *int     `json:"score,omitempty" msgpack:"score,omitempty"`
	Alive    *bool    `json:"alive,omitempty" msgpack:"alive,omitempty"`
	State    string   `json:"game_state,omitempty" msgpack:"game_state,omitempty"`
	Seed     *int64   `json:"seed,omitempty" msgpack:"seed,omitempty"`
}

func toWire(m Message) wireMessage {
	version := m.Version
	if version == 0 {
		version = Version
	}
	w := wireMessage{Version: &version, PlayerID: m.Sender, State: m.Phase.String()}
	switch m.Kind {
	case KindState:
		y, score, alive := m.Y, m.Score, m.Alive
		w.Color = m.Tag.String()
		w.Y, w.Score, w.Alive = &y, &score, &alive
	case KindRoundStart:
		seed := m.Seed
		w.Seed = &seed
	}
	return w
}

func fromWire(w wireMessage) (Message, error) {
	m := Message{Version: Version, Sender: w.PlayerID}
	if w.Version != nil && *w.Version != 0 {
		m.Version = *w.Version
	}
	if w.State != "" {
		phase, ok := ParsePhase(w.State)
		if !ok {
			return Message{}, fmt.Errorf("%w: unknown game_state %q", ErrMalformed, w.State)
		}
		m.Phase = phase
	}

	//1.- A seed wins the classification, then a bird colour, then a bare phase.
	switch {
	case w.Seed != nil:
		m.Kind = KindRoundStart
		m.Seed = *w.Seed
		if m.Phase == PhaseUnknown {
			m.Phase = PhaseRunning
		}
	case w.Color != "":
		tag, err := state.ParseTag(w.Color)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if w.Y == nil {
			return Message{}, fmt.Errorf("%w: state without y", ErrMalformed)
		}
		m.Kind = KindState
		m.Tag = tag
		m.Y = *w.Y
		m.Alive = true
		if w.Score != nil {
			m.Score = *w.Score
		}
		if w.Alive != nil {
			m.Alive = *w.Alive
		}
	case m.Phase != PhaseUnknown:
		m.Kind = KindPhase
	default:
		return Message{}, fmt.Errorf("%w: no seed, colour or phase", ErrMalformed)
	}

	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
