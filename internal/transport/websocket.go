package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"flappysync/internal/logging"
)

const (
	minBackoff   = 250 * time.Millisecond
	maxBackoff   = 5 * time.Second
	writeTimeout = 5 * time.Second
)

// WebSocket is a client of the relay broker. It reconnects with capped exponential backoff
// and drops publications while disconnected.
type WebSocket struct {
	endpoint string
	dialer   *websocket.Dialer
	timeout  time.Duration
	token    func() (string, error)
	kind     int
	log      *logging.Logger
	outbound chan []byte
	counters
}

// NewWebSocket prepares a relay client; the connection is made by Run.
func NewWebSocket(opts Options) (*WebSocket, error) {
	opts = opts.withDefaults()
	endpoint, err := relayURL(opts.URL, opts.Topic, opts.ClientID)
	if err != nil {
		return nil, err
	}
	return &WebSocket{
		endpoint: endpoint,
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.ConnectTimeout},
		timeout:  opts.ConnectTimeout,
		token:    opts.Token,
		kind:     frameKind(opts.BinaryFrames),
		log:      opts.Logger.With(logging.String("transport", "websocket")),
		outbound: make(chan []byte, opts.QueueSize),
	}, nil
}

// relayURL points a broker base URL at its /ws endpoint for topic.
func relayURL(raw, topic, clientID string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("transport: parse url: %w", err)
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/ws"
	}
	query := parsed.Query()
	query.Set("topic", topic)
	if clientID != "" {
		query.Set("client", clientID)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Run implements Transport.
func (w *WebSocket) Run(ctx context.Context, handler Handler) error {
	backoff := minBackoff
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		//1.- Dial with the connect timeout so a dead broker never wedges the loop.
		var conn *websocket.Conn
		header, err := w.dialHeader()
		if err == nil {
			dialCtx, cancel := context.WithTimeout(ctx, w.timeout)
			conn, _, err = w.dialer.DialContext(dialCtx, w.endpoint, header)
			cancel()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("relay dial failed", logging.Error(err), logging.Duration("retry_in", backoff))
			if !sleepContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		if attempt > 0 {
			w.reconnects.Add(1)
		}
		backoff = minBackoff
		w.log.Info("relay connected", logging.String("endpoint", w.endpoint))

		//2.- Serve the connection until it fails, then loop back to redial.
		err = w.serve(ctx, conn, handler)
		if ctx.Err() != nil {
			return nil
		}
		w.log.Warn("relay connection lost", logging.Error(err))
	}
}

func frameKind(binary bool) int {
	if binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// dialHeader carries a freshly issued token so reconnects never present an expired one.
func (w *WebSocket) dialHeader() (http.Header, error) {
	if w.token == nil {
		return nil, nil
	}
	token, err := w.token()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return header, nil
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (w *WebSocket) serve(ctx context.Context, conn *websocket.Conn, handler Handler) error {
	w.drainOutbound()
	w.connected.Store(true)
	defer func() {
		w.connected.Store(false)
		conn.Close()
	}()

	readErr := make(chan error, 1)
	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			w.received.Add(1)
			if handler != nil {
				handler(payload)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-readErr:
			return err
		case payload := <-w.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(w.kind, payload); err != nil {
				return err
			}
			w.published.Add(1)
		}
	}
}

// drainOutbound discards payloads queued for a previous connection.
func (w *WebSocket) drainOutbound() {
	for {
		select {
		case <-w.outbound:
			w.dropped.Add(1)
		default:
			return
		}
	}
}

// Publish implements Transport.
func (w *WebSocket) Publish(payload []byte) bool {
	if !w.connected.Load() {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.outbound <- payload:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Status implements Transport.
func (w *WebSocket) Status() Status { return w.status("websocket") }
