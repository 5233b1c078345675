package replay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrTruncatedFrame reports a frame stream that ends mid-record.
var ErrTruncatedFrame = errors.New("replay: truncated frame")

// Frame is a decoded frame plus its capture metadata.
type Frame struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Record      FrameRecord
}

// TimelineEntry interleaves events and frames in tick order.
type TimelineEntry struct {
	Tick  uint64
	Event *EventRecord
	Frame *Frame
}

// Bundle is a fully decoded recording.
type Bundle struct {
	Directory string
	Manifest  Manifest
	Header    Header
	Events    []EventRecord
	Frames    []Frame
}

// Load decodes the bundle stored in dir. A missing header is tolerated so bundles from a
// peer that crashed before Close stay readable.
func Load(dir string) (*Bundle, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	bundle := &Bundle{Directory: dir, Manifest: manifest}

	if manifest.HeaderPath != "" {
		header, err := ReadHeader(filepath.Join(dir, manifest.HeaderPath))
		switch {
		case err == nil:
			bundle.Header = header
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read header: %w", err)
		}
	}

	events, err := loadEvents(filepath.Join(dir, pathOr(manifest.EventsPath, eventsFile)))
	if err != nil {
		return nil, err
	}
	bundle.Events = events

	frames, err := loadFrames(filepath.Join(dir, pathOr(manifest.FramesPath, framesFile)))
	if err != nil {
		return nil, err
	}
	bundle.Frames = frames
	return bundle, nil
}

// Timeline merges events and frames, events first within one tick.
func (b *Bundle) Timeline() []TimelineEntry {
	if b == nil {
		return nil
	}
	entries := make([]TimelineEntry, 0, len(b.Events)+len(b.Frames))
	for i := range b.Events {
		entries = append(entries, TimelineEntry{Tick: b.Events[i].Tick, Event: &b.Events[i]})
	}
	for i := range b.Frames {
		entries = append(entries, TimelineEntry{Tick: b.Frames[i].Tick, Frame: &b.Frames[i]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Tick != entries[j].Tick {
			return entries[i].Tick < entries[j].Tick
		}
		return entries[i].Event != nil && entries[j].Event == nil
	})
	return entries
}

// Replay streams the timeline through apply, stopping at the first error.
func (b *Bundle) Replay(apply func(TimelineEntry) error) error {
	if apply == nil {
		return fmt.Errorf("apply callback required")
	}
	for _, entry := range b.Timeline() {
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

func pathOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func loadEvents(path string) ([]EventRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var events []EventRecord
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record EventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", len(events), err)
		}
		events = append(events, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

func loadFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frames: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("open frame stream: %w", err)
	}
	defer decoder.Close()

	var frames []Frame
	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(decoder, header); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return nil, fmt.Errorf("frame %d header: %w", len(frames), ErrTruncatedFrame)
		}
		frame := Frame{
			Tick:        binary.LittleEndian.Uint64(header[0:8]),
			SimulatedMs: int64(binary.LittleEndian.Uint64(header[8:16])),
			CapturedAt:  time.Unix(0, int64(binary.LittleEndian.Uint64(header[16:24]))).UTC(),
		}
		payload := make([]byte, binary.LittleEndian.Uint32(header[24:28]))
		if _, err := io.ReadFull(decoder, payload); err != nil {
			return nil, fmt.Errorf("frame %d payload: %w", len(frames), ErrTruncatedFrame)
		}
		if err := msgpack.Unmarshal(payload, &frame.Record); err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", len(frames), err)
		}
		frames = append(frames, frame)
	}
}
