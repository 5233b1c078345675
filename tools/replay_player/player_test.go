package replayplayer

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flappysync/internal/logging"
	"flappysync/internal/match"
	"flappysync/internal/protocol"
	"flappysync/internal/replay"
	"flappysync/internal/state"
)

func recordMatch(t *testing.T) string {
	t.Helper()
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	writer, _, err := replay.NewWriter(t.TempDir(), "summary", func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	writer.SetHeader(replay.Header{PeerID: "player-a", Role: "player_a", Topic: "flappy/room"})
	rec := replay.NewRecorder(writer, time.Second/60, logging.NewTestLogger())

	g := state.DefaultGeometry()
	blue := state.NewBird(state.TagB, state.OwnerRemote, g)
	blue.Score = 2

	rec.RecordMessage(0, match.DirectionOut, protocol.RoundStart("player-a", 11))
	rec.RecordMessage(30, match.DirectionIn, protocol.StateOf("player-b", blue, protocol.PhaseRunning))
	rec.RecordFrame(match.View{Tick: 30, Round: 1, Phase: protocol.PhaseRunning, Birds: []match.BirdView{
		{Tag: state.TagA, Score: 1, Alive: true}, {Tag: state.TagB, Score: 2, Alive: true},
	}})
	rec.RecordFrame(match.View{Tick: 90, Round: 1, Phase: protocol.PhaseEnded, Outcome: match.Outcome{Winner: state.TagB}, Birds: []match.BirdView{
		{Tag: state.TagA, Score: 1}, {Tag: state.TagB, Score: 3},
	}})
	rec.RecordFrame(match.View{Tick: 96, Round: 1, Phase: protocol.PhaseEnded, Birds: []match.BirdView{
		{Tag: state.TagA, Score: 7}, {Tag: state.TagB, Score: 7},
	}})
	rec.RecordMessage(120, match.DirectionIn, protocol.RoundStart("player-b", 12))
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return writer.Directory()
}

func TestSummariseRebuildsRounds(t *testing.T) {
	dir := recordMatch(t)
	bundle, err := Open(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	summary := Summarise(bundle)
	if summary.Events != 3 || summary.Frames != 3 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	if summary.Outbound["round_start"] != 1 || summary.Inbound["state"] != 1 || summary.Inbound["round_start"] != 1 {
		t.Fatalf("unexpected direction tallies in=%v out=%v", summary.Inbound, summary.Outbound)
	}
	if len(summary.Senders) != 1 || summary.Senders[0] != "player-b" {
		t.Fatalf("unexpected senders %v", summary.Senders)
	}
	if len(summary.Rounds) != 2 {
		t.Fatalf("expected two rounds, got %+v", summary.Rounds)
	}
	first := summary.Rounds[0]
	if first.Seed != 11 || first.Ended != 90 || first.Winner != "blue" || first.Scores["blue"] != 3 {
		t.Fatalf("unexpected first round %+v", first)
	}
	if summary.Rounds[1].Seed != 12 || summary.Rounds[1].Ended != 0 {
		t.Fatalf("unexpected second round %+v", summary.Rounds[1])
	}

	var out bytes.Buffer
	Render(&out, summary)
	text := out.String()
	if !strings.Contains(text, "round 1 seed 11 started at tick 0, blue won at tick 90 red=1 blue=3") {
		t.Fatalf("unexpected rendering:\n%s", text)
	}
	if !strings.Contains(text, "round 2 seed 12 started at tick 120, unfinished") {
		t.Fatalf("expected unfinished round in rendering:\n%s", text)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing bundle")
	}
}
