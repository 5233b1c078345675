package match

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"flappysync/internal/logging"
	"flappysync/internal/protocol"
	"flappysync/internal/state"
	"flappysync/internal/transport"
)

const step = time.Second / 60

type capturePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *capturePublisher) Publish(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, append([]byte(nil), payload...))
	return true
}

func (c *capturePublisher) messages(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, 0, len(c.payloads))
	for _, payload := range c.payloads {
		msg, err := protocol.JSON{}.Decode(payload)
		if err != nil {
			t.Fatalf("decode published payload: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func encode(t *testing.T, msg protocol.Message) []byte {
	t.Helper()
	payload, err := protocol.JSON{}.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return payload
}

func newTestSession(role Role, id string, pub Publisher, opts ...SessionOption) *Session {
	opts = append([]SessionOption{WithLogger(logging.NewTestLogger())}, opts...)
	return NewSession(role, id, protocol.JSON{}, pub, opts...)
}

func startRound(t *testing.T, s *Session) {
	t.Helper()
	s.Submit(InputStart)
	s.Tick(step)
	if s.View().Phase != PhaseRunning {
		t.Fatalf("expected running phase, got %v", s.View().Phase)
	}
}

func TestSessionFiltersOwnMessages(t *testing.T) {
	s := newTestSession(RolePlayerB, "player-b", &capturePublisher{})
	startRound(t, s)
	before := s.View().Birds

	s.Deliver(encode(t, protocol.Message{Kind: protocol.KindState, Sender: "player-b", Tag: state.TagA, Y: 10, Score: 7, Alive: false}))
	s.Tick(step)

	if s.remote.Len() != 0 {
		t.Fatal("self-sent snapshot reached the remote table")
	}
	if bird, _ := s.View().Bird(state.TagA); bird.Score != 0 || !bird.Alive || bird.Y != before[0].Y {
		t.Fatalf("remote bird changed after a self-sent snapshot: %+v", bird)
	}
	if s.Stats().SelfFiltered != 1 {
		t.Fatalf("expected one filtered message, got %+v", s.Stats())
	}
}

func TestObserverKeepsMessagesFromAnySender(t *testing.T) {
	s := newTestSession(RoleObserver, "watcher", nil)
	startRound(t, s)
	s.Deliver(encode(t, protocol.Message{Kind: protocol.KindState, Sender: "watcher", Tag: state.TagB, Y: 200, Alive: true}))
	s.Tick(step)
	if s.remote.Len() != 1 {
		t.Fatal("observer must not filter by sender")
	}
}

func TestSessionMergeScenario(t *testing.T) {
	s := newTestSession(RolePlayerB, "player-b", &capturePublisher{})
	startRound(t, s)
	s.mu.Lock()
	s.birds.A.Y = 100
	s.mu.Unlock()

	s.Deliver(encode(t, protocol.Message{Kind: protocol.KindState, Sender: "X", Tag: state.TagA, Y: 300, Score: 4, Alive: true}))
	s.Tick(step)

	bird, _ := s.View().Bird(state.TagA)
	if math.Abs(bird.Y-140) > 1e-9 || bird.Score != 4 || !bird.Alive {
		t.Fatalf("unexpected merged bird %+v", bird)
	}

	//1.- Without a fresh snapshot the bird keeps easing toward the last target.
	s.Tick(step)
	bird, _ = s.View().Bird(state.TagA)
	if math.Abs(bird.Y-172) > 1e-9 {
		t.Fatalf("expected continued convergence to 172, got %v", bird.Y)
	}
}

func TestSessionIgnoresSnapshotsForOwnedBird(t *testing.T) {
	s := newTestSession(RolePlayerA, "player-a", &capturePublisher{})
	startRound(t, s)
	s.Deliver(encode(t, protocol.Message{Kind: protocol.KindState, Sender: "intruder", Tag: state.TagA, Y: 20, Score: 9, Alive: false}))
	s.Tick(step)

	if _, ok := s.remote.Get(state.TagA); ok {
		t.Fatal("snapshot for the owned tag must be ignored")
	}
	if bird, _ := s.View().Bird(state.TagA); bird.Score != 0 || !bird.Alive {
		t.Fatalf("owned bird overwritten by a snapshot: %+v", bird)
	}
}

func TestRemoteEndedWinsWhileAlive(t *testing.T) {
	s := newTestSession(RolePlayerB, "player-b", &capturePublisher{})
	startRound(t, s)

	s.Deliver(encode(t, protocol.PhaseSignal("player-a", PhaseEnded)))
	s.Tick(step)

	view := s.View()
	if view.Phase != PhaseEnded {
		t.Fatalf("expected ended phase, got %v", view.Phase)
	}
	if bird, _ := view.Bird(state.TagB); !bird.Alive {
		t.Fatal("a remote end must not kill the local bird")
	}
}

func TestStateCarryingEndedRoutesToCoordinator(t *testing.T) {
	s := newTestSession(RoleObserver, "watcher", nil)
	startRound(t, s)
	msg := protocol.Message{Kind: protocol.KindState, Sender: "player-a", Tag: state.TagA, Y: 300, Alive: true, Phase: PhaseEnded}
	s.Deliver(encode(t, msg))
	s.Tick(step)
	if s.View().Phase != PhaseEnded {
		t.Fatal("ended phase on a state message must end the round")
	}
}

func TestFinalSnapshotSettlesScoreBeforeOutcome(t *testing.T) {
	s := newTestSession(RolePlayerA, "player-a", &capturePublisher{}, WithSeedSource(func() int64 { return 5 }))
	startRound(t, s)
	s.Deliver(encode(t, protocol.Message{Kind: protocol.KindState, Sender: "player-b", Tag: state.TagB, Y: 350, Score: 3, Alive: true}))
	s.Tick(step)

	//1.- Blue's last snapshot both raises its score and ends the round.
	s.Deliver(encode(t, protocol.Message{Kind: protocol.KindState, Sender: "player-b", Tag: state.TagB, Y: 690, Score: 4, Alive: false, Phase: PhaseEnded}))
	s.Tick(step)

	view := s.View()
	if view.Phase != PhaseEnded {
		t.Fatalf("expected ended phase, got %v", view.Phase)
	}
	if bird, _ := view.Bird(state.TagB); bird.Score != 4 || bird.Alive {
		t.Fatalf("final snapshot not applied to blue: %+v", bird)
	}
	if view.Outcome.ScoreB != 4 || view.Outcome.Winner != state.TagB || view.Outcome.Tie {
		t.Fatalf("outcome built from a stale snapshot: %+v", view.Outcome)
	}
}

func TestLateFinalSnapshotRefreshesOutcome(t *testing.T) {
	s := newTestSession(RolePlayerB, "player-b", &capturePublisher{})
	startRound(t, s)
	s.Deliver(encode(t, protocol.PhaseSignal("player-a", PhaseEnded)))
	s.Tick(step)
	if s.View().Outcome.Tie != true {
		t.Fatalf("expected a 0-0 tie first, got %+v", s.View().Outcome)
	}

	s.Deliver(encode(t, protocol.Message{Kind: protocol.KindState, Sender: "player-a", Tag: state.TagA, Y: 350, Score: 2, Alive: false, Phase: PhaseEnded}))
	s.Tick(step)
	if out := s.View().Outcome; out.ScoreA != 2 || out.Winner != state.TagA || out.Tie {
		t.Fatalf("late final snapshot not reflected in the outcome: %+v", out)
	}
}

func TestLocalEndPublishesSignal(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestSession(RolePlayerA, "player-a", pub, WithSeedSource(func() int64 { return 42 }))
	startRound(t, s)
	s.Deliver(encode(t, protocol.Message{Kind: protocol.KindState, Sender: "player-b", Tag: state.TagB, Y: 350, Alive: false}))

	for i := 0; i < 120 && s.View().Phase == PhaseRunning; i++ {
		s.Tick(step)
	}

	if s.View().Phase != PhaseEnded {
		t.Fatal("round must end once both birds are down")
	}
	msgs := pub.messages(t)
	if len(msgs) < 3 || msgs[0].Kind != protocol.KindRoundStart || msgs[0].Seed != 42 {
		t.Fatalf("expected the round to open with its seed, got %+v", msgs)
	}
	last := msgs[len(msgs)-1]
	if last.Kind != protocol.KindPhase || !last.Ends() {
		t.Fatalf("expected a closing ended signal, got %+v", last)
	}
	final := msgs[len(msgs)-2]
	if final.Kind != protocol.KindState || final.Alive || final.Tag != state.TagA {
		t.Fatalf("expected a final dead snapshot, got %+v", final)
	}
}

func TestStatePublishIsThrottled(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestSession(RolePlayerA, "player-a", pub)
	startRound(t, s)
	for i := 0; i < 11; i++ {
		s.Tick(step)
	}
	states := 0
	for _, msg := range pub.messages(t) {
		if msg.Kind == protocol.KindState {
			states++
		}
	}
	//1.- Twelve running ticks at 60 Hz cover 200ms, which allows a publish every fourth tick.
	if states != 3 {
		t.Fatalf("expected three state publishes, got %d", states)
	}
}

func TestObserverNeverPublishes(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestSession(RoleObserver, "watcher", pub)
	startRound(t, s)
	for i := 0; i < 30; i++ {
		s.Tick(step)
	}
	if len(pub.messages(t)) != 0 {
		t.Fatal("observer must stay silent")
	}
}

func TestSpawningWaitsForSeedThenAligns(t *testing.T) {
	const seed = 9001
	a := newTestSession(RolePlayerA, "player-a", &capturePublisher{}, WithSeedSource(func() int64 { return seed }))
	b := newTestSession(RolePlayerB, "player-b", &capturePublisher{})
	startRound(t, a)
	startRound(t, b)

	for tick := 2; tick <= 300; tick++ {
		if tick == 150 {
			if view := b.View(); len(view.Pipes) != 0 || !view.WaitingForSeed {
				t.Fatalf("unseeded peer must not spawn: %+v", view.Pipes)
			}
			b.Deliver(encode(t, protocol.RoundStart("player-a", seed)))
		}
		a.Tick(step)
		b.Tick(step)
	}

	pipesA, pipesB := a.View().Pipes, b.View().Pipes
	if len(pipesA) == 0 || len(pipesA) != len(pipesB) {
		t.Fatalf("pipe counts differ: %d vs %d", len(pipesA), len(pipesB))
	}
	for i := range pipesA {
		if pipesA[i] != pipesB[i] {
			t.Fatalf("pipe %d diverged: %+v vs %+v", i, pipesA[i], pipesB[i])
		}
	}
}

func TestSeedStashedUntilRoundStarts(t *testing.T) {
	s := newTestSession(RolePlayerB, "player-b", &capturePublisher{})
	s.Deliver(encode(t, protocol.RoundStart("player-a", 5)))
	s.Tick(step)
	if s.gen.Seeded() {
		t.Fatal("seed must wait for the local round to start")
	}
	startRound(t, s)
	if seed, ok := s.gen.CurrentSeed(); !ok || seed != 5 {
		t.Fatalf("expected stashed seed 5, got %d (%v)", seed, ok)
	}
}

func TestEndedSignalDiscardsStashedSeed(t *testing.T) {
	s := newTestSession(RoleObserver, "watcher", nil)
	s.Deliver(encode(t, protocol.RoundStart("player-a", 5)))
	s.Deliver(encode(t, protocol.PhaseSignal("player-a", PhaseEnded)))
	s.Tick(step)
	startRound(t, s)
	if s.gen.Seeded() {
		t.Fatal("a seed from a finished round must not be reused")
	}
}

func TestDeliverCountsDrops(t *testing.T) {
	s := newTestSession(RolePlayerB, "player-b", nil, WithInboxSize(1))
	s.Deliver([]byte("{"))
	s.Deliver(encode(t, protocol.PhaseSignal("a", PhaseEnded)))
	s.Deliver(encode(t, protocol.PhaseSignal("a", PhaseEnded)))

	stats := s.Stats()
	if stats.Malformed != 1 || stats.Delivered != 1 || stats.InboxOverflow != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

type recorderStub struct {
	messages []Direction
	frames   []View
}

func (r *recorderStub) RecordMessage(_ uint64, dir Direction, _ protocol.Message) {
	r.messages = append(r.messages, dir)
}

func (r *recorderStub) RecordFrame(view View) { r.frames = append(r.frames, view) }

func TestRecorderSeesTrafficAndFrames(t *testing.T) {
	rec := &recorderStub{}
	s := newTestSession(RolePlayerA, "player-a", &capturePublisher{}, WithRecorder(rec, 5))
	startRound(t, s)
	s.Deliver(encode(t, protocol.Message{Kind: protocol.KindState, Sender: "player-b", Tag: state.TagB, Y: 1, Alive: true}))
	for i := 0; i < 9; i++ {
		s.Tick(step)
	}
	if len(rec.frames) != 2 {
		t.Fatalf("expected frames on ticks 5 and 10, got %d", len(rec.frames))
	}
	in, out := 0, 0
	for _, dir := range rec.messages {
		if dir == DirectionIn {
			in++
		} else {
			out++
		}
	}
	if in != 1 || out == 0 {
		t.Fatalf("unexpected recorded traffic in=%d out=%d", in, out)
	}
}

// hover flaps the owned bird whenever it sinks below the field middle.
func hover(s *Session, g state.Geometry) {
	s.mu.Lock()
	bird := s.birds.Get(s.role.OwnedTag())
	sinking := bird.Alive && bird.Velocity >= 0 && bird.Y > g.BirdStartY+50
	s.mu.Unlock()
	if sinking {
		s.Submit(InputJump)
	}
}

func TestTwoPeersConvergeOverLoopback(t *testing.T) {
	//1.- A wide gap keeps hovering birds clear of every pipe while offsets still vary.
	g := state.DefaultGeometry()
	g.PipeGap = 450
	g.PipeMinMargin = 50

	hub := transport.NewHub()
	endA := hub.Endpoint("flappy/e2e", 256)
	endB := hub.Endpoint("flappy/e2e", 256)
	a := newTestSession(RolePlayerA, "player-a", endA, WithGeometry(g), WithSeedSource(func() int64 { return 77 }))
	b := newTestSession(RolePlayerB, "player-b", endB, WithGeometry(g))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go endA.Run(ctx, a.Deliver)
	go endB.Run(ctx, b.Deliver)
	deadline := time.Now().Add(2 * time.Second)
	for !endA.Connected() || !endB.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("loopback endpoints never joined")
		}
		time.Sleep(time.Millisecond)
	}

	const release = 600
	a.Submit(InputStart)
	b.Submit(InputStart)
	compared, bonus := 0, false
	for i := 0; i < 2000; i++ {
		if i < release {
			hover(a, g)
			hover(b, g)
		} else if !bonus {
			//2.- Blue scores on the tick it falls out, so only its final snapshots carry it.
			b.mu.Lock()
			bird := b.birds.B
			next := bird.Y + bird.Velocity + g.Gravity
			if bird.Alive && next+bird.Extent() > g.Height {
				bird.Score += 5
				bonus = true
			}
			b.mu.Unlock()
		}
		a.Tick(step)
		b.Tick(step)

		viewA, viewB := a.View(), b.View()
		if viewA.Phase == PhaseEnded && viewB.Phase == PhaseEnded {
			break
		}
		//3.- While both run seeded the obstacle fields must be identical tick by tick.
		if viewA.Phase == PhaseRunning && viewB.Phase == PhaseRunning && viewA.Seeded && viewB.Seeded {
			if len(viewA.Pipes) != len(viewB.Pipes) {
				t.Fatalf("tick %d: pipe counts diverged %d vs %d", i, len(viewA.Pipes), len(viewB.Pipes))
			}
			for k := range viewA.Pipes {
				pa, pb := viewA.Pipes[k], viewB.Pipes[k]
				if pa.X != pb.X || pa.GapTop != pb.GapTop {
					t.Fatalf("tick %d pipe %d diverged: %+v vs %+v", i, k, pa, pb)
				}
			}
			if len(viewA.Pipes) > 0 {
				compared++
			}
		}
		time.Sleep(time.Millisecond)
	}

	viewA, viewB := a.View(), b.View()
	if viewA.Phase != PhaseEnded || viewB.Phase != PhaseEnded {
		t.Fatalf("peers did not converge on ended: %v / %v", viewA.Phase, viewB.Phase)
	}
	if seed, ok := b.gen.CurrentSeed(); !ok || seed != 77 {
		t.Fatalf("player two never applied the round seed: %d (%v)", seed, ok)
	}
	if compared < 100 {
		t.Fatalf("expected pipes on screen for most of the round, compared %d ticks", compared)
	}
	if !bonus {
		t.Fatal("blue never fell out of the field")
	}
	if viewA.Outcome != viewB.Outcome {
		t.Fatalf("outcomes differ: %+v vs %+v", viewA.Outcome, viewB.Outcome)
	}
	if out := viewB.Outcome; out.Winner != state.TagB || out.ScoreB != out.ScoreA+5 || out.ScoreA == 0 {
		t.Fatalf("unexpected final outcome %+v", out)
	}
	if viewA.Peers == 0 || viewB.Peers == 0 {
		t.Fatal("peers should have seen each other")
	}
}
