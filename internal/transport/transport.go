// Package transport moves opaque payloads between peers over a shared topic. Every
// implementation delivers a peer's own publications back to it, as MQTT does.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"flappysync/internal/logging"
)

// ErrUnsupportedScheme is returned by Open for URLs no transport understands.
var ErrUnsupportedScheme = errors.New("transport: unsupported url scheme")

// Handler receives inbound payloads. It is invoked from transport goroutines and must not
// block.
type Handler func(payload []byte)

// Transport is a fire-and-forget publish/subscribe connection to one topic.
type Transport interface {
	// Run connects and delivers inbound payloads to handler until ctx is cancelled. Faults
	// are logged and retried in the background; Run only returns once ctx is done.
	Run(ctx context.Context, handler Handler) error
	// Publish hands a payload to the transport without waiting. It reports false when the
	// payload was dropped.
	Publish(payload []byte) bool
	// Status reports connection state and counters.
	Status() Status
}

// Status is a point in time view of a transport.
type Status struct {
	Kind       string
	Connected  bool
	Published  uint64
	Dropped    uint64
	Received   uint64
	Reconnects uint64
}

type counters struct {
	connected  atomic.Bool
	published  atomic.Uint64
	dropped    atomic.Uint64
	received   atomic.Uint64
	reconnects atomic.Uint64
}

func (c *counters) status(kind string) Status {
	return Status{
		Kind:       kind,
		Connected:  c.connected.Load(),
		Published:  c.published.Load(),
		Dropped:    c.dropped.Load(),
		Received:   c.received.Load(),
		Reconnects: c.reconnects.Load(),
	}
}

// Options configures Open.
type Options struct {
	URL            string
	Topic          string
	ClientID       string
	ConnectTimeout time.Duration
	QueueSize      int
	Logger         *logging.Logger
	// BinaryFrames sends payloads as binary WebSocket messages, for codecs whose output is
	// not UTF-8 text.
	BinaryFrames bool
	// Token, when set, is called before every relay dial and sent as a bearer credential.
	Token func() (string, error)
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Logger == nil {
		o.Logger = logging.L()
	}
	return o
}

// Open selects a transport from the URL scheme: tcp, ssl and mqtt URLs use MQTT, ws and wss
// URLs use the relay broker and loopback URLs stay in process.
func Open(opts Options) (Transport, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(opts.Topic) == "" {
		return nil, errors.New("transport: topic is required")
	}
	parsed, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "tcp", "ssl", "tls", "mqtt", "mqtts":
		return NewMQTT(opts), nil
	case "ws", "wss":
		return NewWebSocket(opts)
	case "loopback":
		return DefaultHubs.Hub(parsed.Host).Endpoint(opts.Topic, opts.QueueSize), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, parsed.Scheme)
	}
}

// sleepContext waits for d or until ctx is done, reporting false on cancellation.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
