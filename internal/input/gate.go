package input

import (
	"sync"
	"time"

	"flappysync/internal/logging"
)

// Clock exposes the current time for rate limiting decisions.
type Clock interface {
	Now() time.Time
}

type clockFunc func() time.Time

// Now implements Clock for functional adapters.
func (c clockFunc) Now() time.Time { return c() }

// ClockFunc adapts a function into a Clock.
func ClockFunc(fn func() time.Time) Clock { return clockFunc(fn) }

// Config bounds how fast one client may publish through the relay. Rate is payloads per
// second; Burst is how many may arrive back to back. A non-positive rate disables the gate.
type Config struct {
	Rate  float64
	Burst int
}

// DropReason enumerates why a payload was refused.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonEmpty       DropReason = "empty"
	DropReasonRateLimited DropReason = "rate_limit"
)

// String returns the textual representation of the drop reason.
func (r DropReason) String() string { return string(r) }

// Decision summarises whether a payload may be relayed.
type Decision struct {
	Accepted bool
	Reason   DropReason
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Empty       uint64 `json:"empty"`
	RateLimited uint64 `json:"rate_limited"`
}

type bucket struct {
	tokens float64
	last   time.Time
}

// Gate applies a per-client token bucket to relayed payloads.
type Gate struct {
	mu      sync.Mutex
	cfg     Config
	clock   Clock
	logger  *logging.Logger
	clients map[string]*bucket
	drops   map[string]DropCounters
}

// Option customises gate construction.
type Option func(*Gate)

// WithClock overrides the clock used for refills.
func WithClock(clock Clock) Option {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGate constructs a gate with the supplied configuration and logger.
func NewGate(cfg Config, logger *logging.Logger, opts ...Option) *Gate {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = logging.L()
	}
	gate := &Gate{
		cfg:     cfg,
		clock:   ClockFunc(time.Now),
		logger:  logger,
		clients: make(map[string]*bucket),
		drops:   make(map[string]DropCounters),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Evaluate decides whether clientID may publish payload now.
func (g *Gate) Evaluate(clientID string, payload []byte) Decision {
	if g == nil {
		return Decision{Accepted: true}
	}
	if len(payload) == 0 {
		g.observe(clientID, DropReasonEmpty)
		return Decision{Reason: DropReasonEmpty}
	}
	if g.cfg.Rate <= 0 {
		return Decision{Accepted: true}
	}

	g.mu.Lock()
	now := g.clock.Now()
	b := g.clients[clientID]
	if b == nil {
		b = &bucket{tokens: float64(g.cfg.Burst), last: now}
		g.clients[clientID] = b
	}
	//1.- Refill for the elapsed time, capped at the burst size.
	b.tokens += now.Sub(b.last).Seconds() * g.cfg.Rate
	if limit := float64(g.cfg.Burst); b.tokens > limit {
		b.tokens = limit
	}
	b.last = now
	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}
	g.mu.Unlock()

	if !allowed {
		g.observe(clientID, DropReasonRateLimited)
		return Decision{Reason: DropReasonRateLimited}
	}
	return Decision{Accepted: true}
}

func (g *Gate) observe(clientID string, reason DropReason) {
	g.mu.Lock()
	current := g.drops[clientID]
	switch reason {
	case DropReasonEmpty:
		current.Empty++
	case DropReasonRateLimited:
		current.RateLimited++
	}
	g.drops[clientID] = current
	first := current.Empty+current.RateLimited == 1
	g.mu.Unlock()
	//1.- Only the first drop per client is logged.
	if first {
		g.logger.Warn("relay payload dropped", logging.String("client", clientID), logging.String("reason", reason.String()))
	}
}

// Forget removes a client's bucket and counters when its connection closes.
func (g *Gate) Forget(clientID string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	delete(g.clients, clientID)
	delete(g.drops, clientID)
	g.mu.Unlock()
}

// Metrics returns a copy of the per-client drop counters.
func (g *Gate) Metrics() map[string]DropCounters {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.drops) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(g.drops))
	for id, counters := range g.drops {
		clone[id] = counters
	}
	return clone
}
