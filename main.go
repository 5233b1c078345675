package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"

	"flappysync/internal/auth"
	configpkg "flappysync/internal/config"
	httpapi "flappysync/internal/http"
	"flappysync/internal/input"
	"flappysync/internal/logging"
	"flappysync/internal/match"
)

const (
	sendQueueSize = 256
	writeWait     = 5 * time.Second
)

var errBrokerFull = errors.New("broker connection limit reached")

// frame is a relayed payload with the WebSocket message type it arrived as.
type frame struct {
	kind int
	data []byte
}

// Client is one WebSocket connection subscribed to a topic.
type Client struct {
	id    string
	topic string
	conn  *websocket.Conn
	send  chan frame
}

type room struct {
	roster  *match.Roster
	clients map[*Client]struct{}
}

// Broker relays every payload published on a topic to all connections on that topic,
// the sender included. It never inspects payloads.
type Broker struct {
	cfg      *configpkg.Config
	log      *logging.Logger
	upgrader websocket.Upgrader
	gate     *input.Gate
	verifier *auth.Verifier
	started  time.Time

	mu       sync.Mutex
	rooms    map[string]*room
	admitted int

	relayed   atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
	throttled atomic.Uint64

	errMu      sync.Mutex
	startupErr error
}

// NewBroker creates a relay using the configured limits.
func NewBroker(cfg *configpkg.Config, logger *logging.Logger) *Broker {
	if logger == nil {
		logger = logging.L()
	}
	limits := *cfg
	if limits.PingInterval <= 0 {
		limits.PingInterval = configpkg.DefaultPingInterval
	}
	b := &Broker{cfg: &limits, log: logger, started: time.Now(), rooms: make(map[string]*room)}
	b.upgrader = websocket.Upgrader{CheckOrigin: originChecker(limits.AllowedOrigins)}
	b.gate = input.NewGate(input.Config{Rate: limits.PublishRate, Burst: limits.PublishBurst}, logger)
	if limits.WSTokenSecret != "" {
		verifier, err := auth.NewVerifier(limits.WSTokenSecret, 5*time.Second)
		if err != nil {
			logger.Fatal("invalid websocket token secret", logging.Error(err))
		}
		b.verifier = verifier
	}
	return b
}

// originChecker allows every origin when the list is empty. Requests without an Origin
// header come from native peers rather than browsers and are always allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}

// roomLocked returns the room for topic, creating it on first use; callers hold b.mu.
func (b *Broker) roomLocked(topic string) *room {
	r := b.rooms[topic]
	if r == nil {
		r = &room{
			roster:  match.NewRoster(topic, match.WithRosterCapacity(b.cfg.MaxTopicPeers)),
			clients: make(map[*Client]struct{}),
		}
		b.rooms[topic] = r
	}
	return r
}

func (b *Broker) admit(topic, id string) (*Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.MaxClients > 0 && b.admitted >= b.cfg.MaxClients {
		return nil, errBrokerFull
	}
	r := b.roomLocked(topic)
	if err := r.roster.Join(id); err != nil {
		if len(r.clients) == 0 && r.roster.Len() == 0 {
			delete(b.rooms, topic)
		}
		return nil, err
	}
	b.admitted++
	return &Client{id: id, topic: topic, send: make(chan frame, sendQueueSize)}, nil
}

func (b *Broker) attach(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.roomLocked(c.topic)
	//1.- Re-join in case a same-id connection left between admission and upgrade.
	_ = r.roster.Join(c.id)
	r.clients[c] = struct{}{}
}

// release drops c from its room and closes its send queue exactly once.
func (b *Broker) release(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.admitted--
	r := b.rooms[c.topic]
	if r == nil {
		return
	}
	if _, attached := r.clients[c]; attached {
		delete(r.clients, c)
		close(c.send)
	}
	//1.- A reconnecting peer may still hold another connection under the same id.
	for other := range r.clients {
		if other.id == c.id {
			return
		}
	}
	r.roster.Leave(c.id)
	if len(r.clients) == 0 && r.roster.Len() == 0 {
		delete(b.rooms, c.topic)
	}
}

func (b *Broker) broadcast(topic string, msg frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.rooms[topic]
	if r == nil {
		return
	}
	for c := range r.clients {
		select {
		case c.send <- msg:
			b.relayed.Add(1)
		default:
			//1.- Slow clients lose the payload rather than stalling the topic.
			b.dropped.Add(1)
		}
	}
}

func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		http.Error(w, "topic query parameter is required", http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("client"))
	if id == "" {
		id = r.RemoteAddr
	}
	if b.verifier != nil {
		//1.- Authenticated peers are known by the token subject, never by the query string.
		claims, err := b.verifier.Verify(bearerToken(r), topic)
		if err != nil {
			b.rejected.Add(1)
			b.log.Warn("websocket token rejected", logging.String("topic", topic), logging.String("client", id), logging.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		id = claims.Subject
	}

	client, err := b.admit(topic, id)
	if err != nil {
		b.rejected.Add(1)
		status := http.StatusServiceUnavailable
		if errors.Is(err, match.ErrMatchFull) {
			status = http.StatusConflict
		}
		b.log.Warn("websocket admission refused", logging.String("topic", topic), logging.String("client", id), logging.Error(err))
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.release(client)
		b.log.Warn("websocket upgrade failed", logging.String("client", id), logging.Error(err))
		return
	}
	client.conn = conn
	b.attach(client)
	b.log.Debug("client connected", logging.String("topic", topic), logging.String("client", id))

	go b.writePump(client)
	go b.readPump(client)
}

// bearerToken reads the Authorization header, falling back to the token query parameter
// for browser clients that cannot set headers on a WebSocket handshake.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (b *Broker) readPump(c *Client) {
	defer func() {
		b.release(c)
		b.gate.Forget(c.id)
		c.conn.Close()
		b.log.Debug("client disconnected", logging.String("topic", c.topic), logging.String("client", c.id))
	}()
	if b.cfg.MaxPayloadBytes > 0 {
		c.conn.SetReadLimit(b.cfg.MaxPayloadBytes)
	}
	//1.- Two missed pings mark the connection dead.
	deadline := 2 * b.cfg.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.log.Debug("websocket read failed", logging.String("client", c.id), logging.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
		if decision := b.gate.Evaluate(c.id, msg); !decision.Accepted {
			b.throttled.Add(1)
			continue
		}
		//2.- Frames keep their type so binary codecs never travel as text.
		b.broadcast(c.topic, frame{kind: kind, data: msg})
	}
}

func (b *Broker) writePump(c *Client) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// CloseTopic disconnects every client on topic.
func (b *Broker) CloseTopic(topic string) int {
	b.mu.Lock()
	var conns []*websocket.Conn
	if r := b.rooms[topic]; r != nil {
		for c := range r.clients {
			conns = append(conns, c.conn)
		}
	}
	b.mu.Unlock()
	//1.- Closing outside the lock lets the read pumps release themselves.
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "topic closed"), time.Now().Add(writeWait))
		_ = conn.Close()
	}
	return len(conns)
}

// CloseAll disconnects every client of every topic.
func (b *Broker) CloseAll() int {
	b.mu.Lock()
	topics := make([]string, 0, len(b.rooms))
	for topic := range b.rooms {
		topics = append(topics, topic)
	}
	b.mu.Unlock()
	total := 0
	for _, topic := range topics {
		total += b.CloseTopic(topic)
	}
	return total
}

// Stats implements httpapi.ReadinessProvider.
func (b *Broker) Stats() httpapi.Stats {
	b.mu.Lock()
	stats := httpapi.Stats{Topics: len(b.rooms)}
	for _, r := range b.rooms {
		stats.Clients += len(r.clients)
		stats.Rooms = append(stats.Rooms, r.roster.Snapshot())
	}
	b.mu.Unlock()
	sort.Slice(stats.Rooms, func(i, j int) bool { return stats.Rooms[i].Topic < stats.Rooms[j].Topic })
	stats.Relayed = b.relayed.Load()
	stats.Dropped = b.dropped.Load()
	stats.Rejected = b.rejected.Load()
	stats.Throttled = b.throttled.Load()
	stats.UptimeSeconds = time.Since(b.started).Seconds()
	return stats
}

// StartupError implements httpapi.ReadinessProvider.
func (b *Broker) StartupError() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.startupErr
}

func (b *Broker) setStartupError(err error) {
	b.errMu.Lock()
	b.startupErr = err
	b.errMu.Unlock()
}

// newMux wires the relay and the operational handlers.
func newMux(b *Broker, cfg *configpkg.Config, logger *logging.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.serveWS)
	httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Readiness:   b,
		Closer:      b,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewWindowLimiter(time.Minute, 10, nil),
	}).Register(mux)
	return mux
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "broker:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := configpkg.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging, "broker")
	if err != nil {
		return err
	}
	defer logger.Sync()

	broker := NewBroker(cfg, logger)
	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           logging.HTTPTraceMiddleware(logger)(newMux(broker, cfg, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var grpcServer *grpc.Server
	if cfg.GRPCAddress != "" {
		grpcServer, err = startGRPC(cfg, logger)
		if err != nil {
			//1.- The relay still serves; readiness reports the failure.
			broker.setStartupError(err)
			logger.Error("gRPC health server failed to start", logging.Error(err))
		}
	}

	tlsEnabled := cfg.TLSCertPath != ""
	errCh := make(chan error, 1)
	go func() {
		base, relay := advertisedURLs(cfg.Address, tlsEnabled)
		logger.Info("broker listening", logging.String("url", base), logging.String("relay", relay))
		if tlsEnabled {
			errCh <- server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("broker shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//2.- Hijacked WebSocket connections are not tracked by Shutdown, so close them explicitly.
	closed := broker.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	logger.Info("broker stopped", logging.Int("disconnected", closed))
	return nil
}
