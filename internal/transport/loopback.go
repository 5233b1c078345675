package transport

import (
	"context"
	"sync"
)

// Hub is an in-process bus. Endpoints on the same topic see every payload published on it.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Endpoint]struct{}
}

// NewHub creates an empty bus.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Endpoint]struct{})}
}

// Endpoint attaches a new subscriber-publisher to topic with a bounded delivery queue.
func (h *Hub) Endpoint(topic string, queueSize int) *Endpoint {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Endpoint{hub: h, topic: topic, queue: make(chan []byte, queueSize)}
}

func (h *Hub) join(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.topics[e.topic]
	if members == nil {
		members = make(map[*Endpoint]struct{})
		h.topics[e.topic] = members
	}
	members[e] = struct{}{}
}

func (h *Hub) leave(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.topics[e.topic], e)
	if len(h.topics[e.topic]) == 0 {
		delete(h.topics, e.topic)
	}
}

func (h *Hub) fanOut(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for member := range h.topics[topic] {
		member.enqueue(payload)
	}
}

// Hubs is a registry of named hubs for loopback URLs.
type Hubs struct {
	mu   sync.Mutex
	hubs map[string]*Hub
}

// DefaultHubs backs loopback:// URLs opened through Open.
var DefaultHubs = &Hubs{}

// Hub returns the hub registered under name, creating it on first use.
func (r *Hubs) Hub(name string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hubs == nil {
		r.hubs = make(map[string]*Hub)
	}
	hub, ok := r.hubs[name]
	if !ok {
		hub = NewHub()
		r.hubs[name] = hub
	}
	return hub
}

// Endpoint is one participant on a Hub topic.
type Endpoint struct {
	hub   *Hub
	topic string
	queue chan []byte
	counters
}

func (e *Endpoint) enqueue(payload []byte) {
	select {
	case e.queue <- append([]byte(nil), payload...):
	default:
		e.dropped.Add(1)
	}
}

// Run implements Transport.
func (e *Endpoint) Run(ctx context.Context, handler Handler) error {
	e.hub.join(e)
	e.connected.Store(true)
	defer func() {
		e.connected.Store(false)
		e.hub.leave(e)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-e.queue:
			e.received.Add(1)
			if handler != nil {
				handler(payload)
			}
		}
	}
}

// Publish implements Transport. Payloads published before Run joins the hub are dropped.
func (e *Endpoint) Publish(payload []byte) bool {
	if !e.connected.Load() {
		e.dropped.Add(1)
		return false
	}
	e.hub.fanOut(e.topic, payload)
	e.published.Add(1)
	return true
}

// Status implements Transport.
func (e *Endpoint) Status() Status { return e.status("loopback") }

// Connected reports whether Run has joined the hub.
func (e *Endpoint) Connected() bool { return e.connected.Load() }
