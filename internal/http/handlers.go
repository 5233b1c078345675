package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"flappysync/internal/logging"
	"flappysync/internal/match"
)

// Stats summarises relay activity.
type Stats struct {
	Clients       int                    `json:"clients"`
	Topics        int                    `json:"topics"`
	Relayed       uint64                 `json:"relayed"`
	Dropped       uint64                 `json:"dropped"`
	Rejected      uint64                 `json:"rejected"`
	Throttled     uint64                 `json:"throttled"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Rooms         []match.RosterSnapshot `json:"rooms,omitempty"`
}

// ReadinessProvider exposes broker state required for readiness and metrics.
type ReadinessProvider interface {
	Stats() Stats
	StartupError() error
}

// TopicCloser disconnects every client of a topic and reports how many were dropped.
type TopicCloser interface {
	CloseTopic(topic string) int
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Closer      TopicCloser
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the broker operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	closer      TopicCloser
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		closer:      opts.Closer,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/healthz", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/api/stats", h.StatsHandler())
	mux.HandleFunc("/admin/topics/close", h.CloseTopicHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports broker readiness, including client counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
		Topics        int     `json:"topics"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			stats := h.readiness.Stats()
			resp.Clients = stats.Clients
			resp.Topics = stats.Topics
			resp.UptimeSeconds = stats.UptimeSeconds
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// StatsHandler returns the relay statistics including per-topic rosters.
func (h *HandlerSet) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var stats Stats
		if h.readiness != nil {
			stats = h.readiness.Stats()
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var stats Stats
		if h.readiness != nil {
			stats = h.readiness.Stats()
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP broker_uptime_seconds Broker uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE broker_uptime_seconds gauge\n")
		fmt.Fprintf(w, "broker_uptime_seconds %.0f\n", stats.UptimeSeconds)

		fmt.Fprintf(w, "# HELP broker_clients Current connected WebSocket clients.\n")
		fmt.Fprintf(w, "# TYPE broker_clients gauge\n")
		fmt.Fprintf(w, "broker_clients %d\n", stats.Clients)

		fmt.Fprintf(w, "# HELP broker_topics Match topics with at least one client.\n")
		fmt.Fprintf(w, "# TYPE broker_topics gauge\n")
		fmt.Fprintf(w, "broker_topics %d\n", stats.Topics)

		fmt.Fprintf(w, "# HELP broker_relayed_total Payloads queued for delivery.\n")
		fmt.Fprintf(w, "# TYPE broker_relayed_total counter\n")
		fmt.Fprintf(w, "broker_relayed_total %d\n", stats.Relayed)

		fmt.Fprintf(w, "# HELP broker_dropped_total Payloads dropped for slow clients.\n")
		fmt.Fprintf(w, "# TYPE broker_dropped_total counter\n")
		fmt.Fprintf(w, "broker_dropped_total %d\n", stats.Dropped)

		fmt.Fprintf(w, "# HELP broker_rejected_total Connections refused by capacity limits.\n")
		fmt.Fprintf(w, "# TYPE broker_rejected_total counter\n")
		fmt.Fprintf(w, "broker_rejected_total %d\n", stats.Rejected)

		fmt.Fprintf(w, "# HELP broker_throttled_total Payloads refused by the per-connection publish gate.\n")
		fmt.Fprintf(w, "# TYPE broker_throttled_total counter\n")
		fmt.Fprintf(w, "broker_throttled_total %d\n", stats.Throttled)

		if len(stats.Rooms) > 0 {
			fmt.Fprintf(w, "# HELP broker_topic_peers Peers per match topic.\n")
			fmt.Fprintf(w, "# TYPE broker_topic_peers gauge\n")
			for _, room := range stats.Rooms {
				fmt.Fprintf(w, "broker_topic_peers{topic=%q} %d\n", room.Topic, len(room.Peers))
			}
		}
	}
}

// CloseTopicHandler authorises and disconnects every client of a topic.
func (h *HandlerSet) CloseTopicHandler() http.HandlerFunc {
	type response struct {
		Status       string `json:"status"`
		Topic        string `json:"topic"`
		Disconnected int    `json:"disconnected"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "close_topic"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("close topic denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("close topic denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("close topic denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		topic := strings.TrimSpace(r.URL.Query().Get("topic"))
		if topic == "" {
			http.Error(w, "topic is required", http.StatusBadRequest)
			return
		}
		if h.closer == nil {
			http.Error(w, "topic management is unavailable", http.StatusServiceUnavailable)
			return
		}
		dropped := h.closer.CloseTopic(topic)
		reqLogger.Info("topic closed", logging.String("topic", topic), logging.Int("disconnected", dropped))
		writeJSON(w, http.StatusOK, response{Status: "closed", Topic: topic, Disconnected: dropped})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
