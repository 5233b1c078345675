package replay

import (
	"math"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"flappysync/internal/logging"
	"flappysync/internal/match"
	"flappysync/internal/protocol"
)

// BirdFrame is one bird inside a recorded frame.
type BirdFrame struct {
	Tag   string  `msgpack:"tag"`
	Y     float64 `msgpack:"y"`
	Alive bool    `msgpack:"alive"`
	Score int     `msgpack:"score"`
	Local bool    `msgpack:"local"`
}

// PipeFrame is one obstacle inside a recorded frame.
type PipeFrame struct {
	X      float64 `msgpack:"x"`
	GapTop int     `msgpack:"gap_top"`
	Passed bool    `msgpack:"passed"`
}

// FrameRecord is the msgpack payload stored for every sampled frame.
type FrameRecord struct {
	Tick   uint64      `msgpack:"tick"`
	Phase  string      `msgpack:"phase"`
	Round  int         `msgpack:"round"`
	Seeded bool        `msgpack:"seeded"`
	Birds  []BirdFrame `msgpack:"birds"`
	Pipes  []PipeFrame `msgpack:"pipes"`
	Winner string      `msgpack:"winner,omitempty"`
	Tie    bool        `msgpack:"tie,omitempty"`
}

// RecorderStats counts what the recorder persisted.
type RecorderStats struct {
	Events int
	Frames int
	Errors int
}

// Recorder persists session traffic and sampled frames into a bundle. It satisfies
// match.Recorder so sessions can feed it directly.
type Recorder struct {
	mu     sync.Mutex
	writer *Writer
	step   time.Duration
	log    *logging.Logger
	stats  RecorderStats
}

// NewRecorder wraps writer; step converts ticks into simulated milliseconds.
func NewRecorder(writer *Writer, step time.Duration, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.L()
	}
	if step <= 0 {
		step = time.Second / 60
	}
	return &Recorder{writer: writer, step: step, log: logger}
}

// RecordMessage appends a sent or received message to the event log.
func (r *Recorder) RecordMessage(tick uint64, dir match.Direction, msg protocol.Message) {
	if r == nil || r.writer == nil {
		return
	}
	record := EventRecord{
		Tick:      tick,
		Direction: string(dir),
		Kind:      msg.Kind.String(),
		Sender:    msg.Sender,
		Y:         msg.Y,
		Score:     msg.Score,
		Alive:     msg.Alive,
		Seed:      msg.Seed,
	}
	if msg.Tag.Valid() {
		record.Tag = msg.Tag.String()
	}
	if msg.Phase != protocol.PhaseUnknown {
		record.Phase = msg.Phase.String()
	}
	//1.- Seeds are also kept in the header so tooling can rebuild pipe layouts.
	if msg.Kind == protocol.KindRoundStart {
		r.writer.NoteSeed(msg.Seed)
	}
	err := r.writer.AppendEvent(record)
	r.count(err, true)
}

// RecordFrame encodes the view with msgpack and stages it as a frame.
func (r *Recorder) RecordFrame(view match.View) {
	if r == nil || r.writer == nil {
		return
	}
	payload, err := msgpack.Marshal(frameFromView(view))
	if err == nil {
		simulated := int64(math.Round(float64(view.Tick) * float64(r.step) / float64(time.Millisecond)))
		err = r.writer.AppendFrame(view.Tick, simulated, payload)
	}
	r.count(err, false)
}

// Stats returns a copy of the recorder counters.
func (r *Recorder) Stats() RecorderStats {
	if r == nil {
		return RecorderStats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close flushes and closes the underlying writer.
func (r *Recorder) Close() error {
	if r == nil || r.writer == nil {
		return nil
	}
	return r.writer.Close()
}

func (r *Recorder) count(err error, event bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.stats.Errors++
		//1.- Only the first failure is logged; a broken disk would otherwise flood the log.
		if r.stats.Errors == 1 {
			r.log.Warn("replay recording failed", logging.Error(err))
		}
		return
	}
	if event {
		r.stats.Events++
	} else {
		r.stats.Frames++
	}
}

func frameFromView(view match.View) FrameRecord {
	frame := FrameRecord{
		Tick:   view.Tick,
		Phase:  view.Phase.String(),
		Round:  view.Round,
		Seeded: view.Seeded,
		Birds:  make([]BirdFrame, 0, len(view.Birds)),
		Pipes:  make([]PipeFrame, 0, len(view.Pipes)),
		Tie:    view.Outcome.Tie,
	}
	if view.Outcome.Winner.Valid() {
		frame.Winner = view.Outcome.Winner.String()
	}
	for _, bird := range view.Birds {
		frame.Birds = append(frame.Birds, BirdFrame{
			Tag:   bird.Tag.String(),
			Y:     bird.Y,
			Alive: bird.Alive,
			Score: bird.Score,
			Local: bird.Local,
		})
	}
	for _, pipe := range view.Pipes {
		frame.Pipes = append(frame.Pipes, PipeFrame{X: pipe.X, GapTop: pipe.GapTop, Passed: pipe.Passed})
	}
	return frame
}
