package match

import (
	"sync"
	"sync/atomic"
	"time"

	"flappysync/internal/logging"
	"flappysync/internal/protocol"
	"flappysync/internal/simulation"
	"flappysync/internal/state"
	"flappysync/internal/world"
)

// Input is a command from the frontend.
type Input int

const (
	// InputStart is any key that is not a jump key. It starts a round from the start or
	// end screen.
	InputStart Input = iota + 1
	// InputJump flaps the owned bird while running and starts a round otherwise.
	InputJump
)

// Publisher sends encoded payloads without waiting. Transports satisfy it.
type Publisher interface {
	Publish(payload []byte) bool
}

// Direction tells a Recorder whether a message was received or sent.
type Direction string

// Message directions.
const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Recorder captures a match for later inspection.
type Recorder interface {
	RecordMessage(tick uint64, dir Direction, msg protocol.Message)
	RecordFrame(view View)
}

const (
	inputQueueSize  = 16
	peerPruneTicks  = 60
	peerIdleTimeout = 3 * time.Second
)

// SessionOption configures optional Session behaviour at construction time.
type SessionOption func(*Session)

// WithGeometry overrides the field geometry. Every peer must use the same values.
func WithGeometry(g state.Geometry) SessionOption {
	return func(s *Session) { s.geometry = g }
}

// WithAlpha overrides the remote smoothing factor.
func WithAlpha(alpha float64) SessionOption {
	return func(s *Session) {
		if alpha > 0 && alpha <= 1 {
			s.alpha = alpha
		}
	}
}

// WithInboxSize bounds the inbound queue.
func WithInboxSize(size int) SessionOption {
	return func(s *Session) { s.inboxSize = size }
}

// WithPublishInterval sets the minimum simulation time between state publishes.
func WithPublishInterval(interval time.Duration) SessionOption {
	return func(s *Session) { s.publishInterval = interval }
}

// WithSeedSource replaces the seed generator used by the seed originator.
func WithSeedSource(source func() int64) SessionOption {
	return func(s *Session) {
		//1.- Tests pin the seed so both peers can be checked against a known layout.
		if source != nil {
			s.seedSource = source
		}
	}
}

// WithLogger routes session logs to logger.
func WithLogger(logger *logging.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithRecorder captures every message and a world frame every frameEvery ticks.
func WithRecorder(recorder Recorder, frameEvery int) SessionOption {
	return func(s *Session) {
		s.recorder = recorder
		if frameEvery > 0 {
			s.frameEvery = uint64(frameEvery)
		}
	}
}

// WithClock injects the wall clock used for peer bookkeeping.
func WithClock(clock func() time.Time) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Session owns everything one process knows about a match: the birds, the obstacle field,
// the phase and the latest remote snapshots. Transport goroutines only touch it through
// Deliver; the tick owns the rest under a single mutex.
type Session struct {
	role  Role
	id    string
	codec protocol.Codec
	pub   Publisher
	log   *logging.Logger

	geometry        state.Geometry
	alpha           float64
	inboxSize       int
	publishInterval time.Duration
	seedSource      func() int64
	now             func() time.Time
	recorder        Recorder
	frameEvery      uint64

	inbox  *Inbox
	inputs chan Input
	peers  *Roster
	stats  sessionCounters

	mu          sync.Mutex
	tick        uint64
	birds       state.Birds
	pipes       state.Pipes
	gen         *world.Generator
	spawner     *world.Spawner
	phase       *Coordinator
	remote      *RemoteStates
	throttle    *protocol.Throttle
	pendingSeed *int64
	outcome     Outcome
}

// NewSession wires a session for role. pub may be nil for roles that never publish.
func NewSession(role Role, id string, codec protocol.Codec, pub Publisher, opts ...SessionOption) *Session {
	s := &Session{
		role:            role,
		id:              id,
		codec:           codec,
		pub:             pub,
		log:             logging.L(),
		geometry:        state.DefaultGeometry(),
		alpha:           DefaultAlpha,
		inboxSize:       256,
		publishInterval: protocol.DefaultPublishInterval,
		seedSource:      world.NewSeed,
		now:             time.Now,
		frameEvery:      12,
	}
	//1.- Apply the functional options before sizing anything that depends on them.
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.codec == nil {
		s.codec = protocol.JSON{}
	}
	s.log = s.log.With(logging.String("role", role.String()), logging.String("peer_id", id))

	//2.- Build the world for this role; only the owned bird is driven locally.
	owned := []state.Tag{}
	if tag := role.OwnedTag(); tag.Valid() {
		owned = append(owned, tag)
	}
	s.birds = state.NewBirds(s.geometry, owned...)
	s.gen = world.NewGenerator(s.geometry)
	s.spawner = world.NewSpawner(s.geometry)
	s.phase = NewCoordinator()
	s.remote = NewRemoteStates()
	s.throttle = protocol.NewThrottle(s.publishInterval)
	s.inbox = NewInbox(s.inboxSize)
	s.inputs = make(chan Input, inputQueueSize)
	s.peers = NewRoster("", WithRosterClock(s.now))
	return s
}

// Role returns the role fixed at construction.
func (s *Session) Role() Role { return s.role }

// ID returns this process's sender id.
func (s *Session) ID() string { return s.id }

// Deliver is the transport callback. It decodes the payload, drops it when malformed or
// self-sent and queues it for the next tick. It never blocks.
func (s *Session) Deliver(payload []byte) {
	msg, err := s.codec.Decode(payload)
	if err != nil {
		s.stats.malformed.Add(1)
		s.log.Debug("dropping inbound message", logging.Error(err), logging.Int("bytes", len(payload)))
		return
	}
	if s.role.FiltersSelf() && msg.Sender == s.id {
		s.stats.selfFiltered.Add(1)
		return
	}
	if !s.inbox.Push(msg) {
		s.stats.inboxOverflow.Add(1)
		return
	}
	s.stats.delivered.Add(1)
}

// Submit queues a frontend command for the next tick. It reports false when the command was
// dropped because the queue is full.
func (s *Session) Submit(in Input) bool {
	select {
	case s.inputs <- in:
		return true
	default:
		s.stats.inputOverflow.Add(1)
		return false
	}
}

// Tick advances the match by one fixed step.
func (s *Session) Tick(step time.Duration) {
	s.mu.Lock()
	s.tick++
	//1.- Inputs and inbound messages are applied at a fixed point before any simulation.
	s.drainInputs()
	s.inbox.Drain(s.apply)
	//2.- Simulate, merge and publish only while a round is running.
	if s.phase.Phase() == PhaseRunning {
		s.simulate(step)
	}
	if s.tick%peerPruneTicks == 0 {
		s.peers.Prune(peerIdleTimeout)
	}
	var frame *View
	if s.recorder != nil && s.frameEvery > 0 && s.tick%s.frameEvery == 0 {
		view := s.viewLocked()
		frame = &view
	}
	s.mu.Unlock()
	s.stats.ticks.Add(1)

	if frame != nil {
		s.recorder.RecordFrame(*frame)
	}
}

func (s *Session) drainInputs() {
	for {
		select {
		case in := <-s.inputs:
			s.handleInput(in)
		default:
			return
		}
	}
}

func (s *Session) handleInput(in Input) {
	if s.phase.Phase() != PhaseRunning {
		s.startRound()
		return
	}
	if in != InputJump {
		return
	}
	if bird := s.birds.Get(s.role.OwnedTag()); bird != nil {
		simulation.Jump(bird, s.geometry)
	}
}

func (s *Session) apply(msg protocol.Message) {
	if s.recorder != nil {
		s.recorder.RecordMessage(s.tick, DirectionIn, msg)
	}
	_ = s.peers.Join(msg.Sender)

	switch msg.Kind {
	case protocol.KindRoundStart:
		s.applySeed(msg)
	case protocol.KindState:
		//1.- Snapshots for the owned bird are ignored; its owner is this process.
		if !s.role.Owns(msg.Tag) {
			s.remote.Store(msg)
		}
	}

	//2.- An ended phase routes to the coordinator whatever else the message carried. The
	// final snapshot's score and alive land first so the outcome uses them.
	if msg.Ends() {
		s.pendingSeed = nil
		settled := s.phase.Phase() != PhaseNotStarted && s.settleFinal(msg)
		switch {
		case s.phase.RemoteEnded():
			s.finishRound("remote", msg.Sender)
		case settled && s.phase.Phase() == PhaseEnded:
			s.outcome = DecideOutcome(s.birds)
		}
	}
}

// settleFinal applies a round-ending snapshot to its remote bird at once.
func (s *Session) settleFinal(msg protocol.Message) bool {
	if msg.Kind != protocol.KindState || s.role.Owns(msg.Tag) {
		return false
	}
	return Merge(s.birds.Get(msg.Tag), msg, s.alpha)
}

func (s *Session) applySeed(msg protocol.Message) {
	if s.role.OriginatesSeed() {
		s.log.Warn("ignoring seed from another seed originator", logging.String("sender", msg.Sender))
		return
	}
	if s.phase.Phase() == PhaseRunning {
		s.gen.Seed(msg.Seed)
		s.log.Debug("applied round seed", logging.Int64("seed", msg.Seed), logging.Bool("late", s.spawner.Waiting()))
		return
	}
	seed := msg.Seed
	s.pendingSeed = &seed
}

func (s *Session) startRound() {
	if !s.phase.Start() {
		return
	}
	//1.- Reset the round: birds, obstacles, cadence and stale remote snapshots.
	for _, bird := range s.birds.All() {
		bird.Reset()
	}
	s.pipes.Clear()
	s.spawner.Reset()
	s.remote.Clear()
	s.throttle.Reset()
	s.outcome = Outcome{}

	//2.- Seed the obstacle sequence, or wait for the originator's seed.
	switch {
	case s.role.OriginatesSeed():
		seed := s.seedSource()
		s.gen.Seed(seed)
		s.publish(protocol.RoundStart(s.id, seed))
	case s.pendingSeed != nil:
		s.gen.Seed(*s.pendingSeed)
		s.pendingSeed = nil
	default:
		s.gen.Unseed()
	}
	seed, seeded := s.gen.CurrentSeed()
	s.log.Info("round started", logging.Int("round", s.phase.Rounds()), logging.Bool("seeded", seeded), logging.Int64("seed", seed))
}

func (s *Session) simulate(step time.Duration) {
	g := s.geometry
	owned := s.birds.Get(s.role.OwnedTag())

	//1.- Local physics and bounds for the owned bird only.
	startedAlive := owned != nil && owned.Alive
	if owned != nil {
		simulation.Integrate(owned, g)
		if simulation.CheckBounds(owned, g) {
			s.log.Debug("bird left the field", logging.String("tag", owned.Tag.String()), logging.Float64("y", owned.Y))
		}
	}

	//2.- Advance the shared obstacle field, then resolve collisions and scoring.
	simulation.AdvancePipes(&s.pipes, s.spawner, s.gen, g)
	if owned != nil {
		if hit, _ := simulation.CheckPipes(owned, s.pipes.Items(), g, startedAlive); hit {
			s.log.Debug("bird hit a pipe", logging.String("tag", owned.Tag.String()), logging.Int("score", owned.Score))
		}
	}

	//3.- Ease remote birds toward their last snapshot.
	for _, tag := range s.role.RemoteTags() {
		if snapshot, ok := s.remote.Get(tag); ok {
			Merge(s.birds.Get(tag), snapshot, s.alpha)
		}
	}

	//4.- End the round once nobody is flying and tell peers so they converge promptly.
	if s.phase.Observe(s.birds) {
		s.finishRound("local", s.id)
		if s.role.Publishes() {
			s.publish(protocol.StateOf(s.id, owned, PhaseEnded))
			s.publish(protocol.PhaseSignal(s.id, PhaseEnded))
		}
		return
	}

	//5.- Throttled state publish.
	if s.role.Publishes() && s.throttle.Advance(step) {
		s.publish(protocol.StateOf(s.id, owned, PhaseRunning))
	}
}

func (s *Session) finishRound(cause, by string) {
	s.outcome = DecideOutcome(s.birds)
	s.log.Info("round ended",
		logging.String("cause", cause),
		logging.String("by", by),
		logging.Int("score_red", s.outcome.ScoreA),
		logging.Int("score_blue", s.outcome.ScoreB),
	)
}

func (s *Session) publish(msg protocol.Message) {
	if s.pub == nil {
		return
	}
	payload, err := s.codec.Encode(msg)
	if err != nil {
		s.stats.encodeErrors.Add(1)
		s.log.Warn("encode failed", logging.String("kind", msg.Kind.String()), logging.Error(err))
		return
	}
	if s.recorder != nil {
		s.recorder.RecordMessage(s.tick, DirectionOut, msg)
	}
	if s.pub.Publish(payload) {
		s.stats.published.Add(1)
		return
	}
	s.stats.publishDropped.Add(1)
}

// BirdView is a render-ready copy of a bird.
type BirdView struct {
	Tag   state.Tag
	Y     float64
	Alive bool
	Score int
	Local bool
}

// View is a copy of the session state for rendering and recording.
type View struct {
	Role           Role
	ID             string
	Tick           uint64
	Phase          Phase
	Round          int
	Seeded         bool
	WaitingForSeed bool
	Birds          []BirdView
	Pipes          []state.Pipe
	Outcome        Outcome
	Peers          int
	Geometry       state.Geometry
}

// Bird returns the view of tag.
func (v View) Bird(tag state.Tag) (BirdView, bool) {
	for _, bird := range v.Birds {
		if bird.Tag == tag {
			return bird, true
		}
	}
	return BirdView{}, false
}

// View copies the current state under the session lock.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	seeded := s.gen.Seeded()
	view := View{
		Role:           s.role,
		ID:             s.id,
		Tick:           s.tick,
		Phase:          s.phase.Phase(),
		Round:          s.phase.Rounds(),
		Seeded:         seeded,
		WaitingForSeed: s.phase.Phase() == PhaseRunning && !seeded,
		Pipes:          s.pipes.Snapshot(),
		Outcome:        s.outcome,
		Peers:          s.peers.Len(),
		Geometry:       s.geometry,
	}
	for _, bird := range s.birds.All() {
		view.Birds = append(view.Birds, BirdView{
			Tag:   bird.Tag,
			Y:     bird.Y,
			Alive: bird.Alive,
			Score: bird.Score,
			Local: bird.Local(),
		})
	}
	return view
}

// Stats summarises session traffic since startup.
type Stats struct {
	Ticks          uint64
	Delivered      uint64
	Malformed      uint64
	SelfFiltered   uint64
	InboxOverflow  uint64
	InputOverflow  uint64
	Published      uint64
	PublishDropped uint64
	EncodeErrors   uint64
}

type sessionCounters struct {
	ticks          atomic.Uint64
	delivered      atomic.Uint64
	malformed      atomic.Uint64
	selfFiltered   atomic.Uint64
	inboxOverflow  atomic.Uint64
	inputOverflow  atomic.Uint64
	published      atomic.Uint64
	publishDropped atomic.Uint64
	encodeErrors   atomic.Uint64
}

// Stats returns the traffic counters.
func (s *Session) Stats() Stats {
	return Stats{
		Ticks:          s.stats.ticks.Load(),
		Delivered:      s.stats.delivered.Load(),
		Malformed:      s.stats.malformed.Load(),
		SelfFiltered:   s.stats.selfFiltered.Load(),
		InboxOverflow:  s.stats.inboxOverflow.Load(),
		InputOverflow:  s.stats.inputOverflow.Load(),
		Published:      s.stats.published.Load(),
		PublishDropped: s.stats.publishDropped.Load(),
		EncodeErrors:   s.stats.encodeErrors.Load(),
	}
}
