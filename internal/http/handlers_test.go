package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flappysync/internal/logging"
	"flappysync/internal/match"
)

type stubReadiness struct {
	stats Stats
	err   error
}

func (s *stubReadiness) Stats() Stats        { return s.stats }
func (s *stubReadiness) StartupError() error { return s.err }

type stubLimiter struct {
	remaining int
}

func (s *stubLimiter) Allow() bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

type stubCloser struct {
	topics []string
}

func (s *stubCloser) CloseTopic(topic string) int {
	s.topics = append(s.topics, topic)
	return 2
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	mux := http.NewServeMux()
	handlers.Register(mux)

	for _, path := range []string{"/livez", "/healthz"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rr.Code)
		}
		var payload struct {
			Status    string `json:"status"`
			Timestamp string `json:"timestamp"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if payload.Status != "alive" || payload.Timestamp != fixed.Format(time.RFC3339Nano) {
			t.Fatalf("%s: unexpected payload %+v", path, payload)
		}
	}
}

func TestReadinessHandlerUnavailable(t *testing.T) {
	readiness := &stubReadiness{stats: Stats{Clients: 3, Topics: 1, UptimeSeconds: 45}, err: errors.New("grpc listener failed")}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness})

	rr := httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Status        string  `json:"status"`
		Message       string  `json:"message"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
		Topics        int     `json:"topics"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "error" || payload.Message != "grpc listener failed" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Clients != 3 || payload.Topics != 1 || payload.UptimeSeconds != 45 {
		t.Fatalf("unexpected counts: %+v", payload)
	}
}

func TestStatsHandlerReturnsRooms(t *testing.T) {
	readiness := &stubReadiness{stats: Stats{
		Clients: 2,
		Topics:  1,
		Relayed: 40,
		Rooms:   []match.RosterSnapshot{{Topic: "flappy/a", Peers: []string{"p1", "p2"}}},
	}}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness})

	rr := httptest.NewRecorder()
	handlers.StatsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type: %q", ct)
	}
	var got Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Relayed != 40 || len(got.Rooms) != 1 || got.Rooms[0].Peers[1] != "p2" {
		t.Fatalf("unexpected stats %+v", got)
	}

	rr = httptest.NewRecorder()
	handlers.StatsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/stats", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", rr.Code)
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	readiness := &stubReadiness{stats: Stats{
		Clients:       2,
		Topics:        1,
		Relayed:       4,
		Dropped:       1,
		Rejected:      3,
		Throttled:     5,
		UptimeSeconds: 90,
		Rooms:         []match.RosterSnapshot{{Topic: "flappy/a", Peers: []string{"p1", "p2"}}},
	}}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness})

	rr := httptest.NewRecorder()
	handlers.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"broker_relayed_total 4",
		"broker_dropped_total 1",
		"broker_rejected_total 3",
		"broker_throttled_total 5",
		"broker_clients 2",
		"broker_topics 1",
		"broker_uptime_seconds 90",
		`broker_topic_peers{topic="flappy/a"} 2`,
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
}

func TestCloseTopicHandlerAuthAndRateLimits(t *testing.T) {
	closer := &stubCloser{}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Closer:      closer,
		AdminToken:  "topsecret",
		RateLimiter: &stubLimiter{remaining: 2},
	})

	makeRequest := func(method, token, topic string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(method, "/admin/topics/close?topic="+topic, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		handlers.CloseTopicHandler().ServeHTTP(rr, req)
		return rr
	}

	if resp := makeRequest(http.MethodGet, "topsecret", "a"); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.Code)
	}
	if resp := makeRequest(http.MethodPost, "", "a"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for missing token, got %d", resp.Code)
	}
	if resp := makeRequest(http.MethodPost, "wrong", "a"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for wrong token, got %d", resp.Code)
	}
	resp := makeRequest(http.MethodPost, "topsecret", "flappy%2Froom")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for authorised request, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"disconnected":2`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
	if len(closer.topics) != 1 || closer.topics[0] != "flappy/room" {
		t.Fatalf("unexpected closed topics %v", closer.topics)
	}
	if resp := makeRequest(http.MethodPost, "topsecret", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without topic, got %d", resp.Code)
	}
	if resp := makeRequest(http.MethodPost, "topsecret", "b"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.Code)
	}
}

func TestCloseTopicHandlerDisabledWithoutToken(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Closer: &stubCloser{}})
	rr := httptest.NewRecorder()
	handlers.CloseTopicHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/topics/close?topic=a", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when admin auth is disabled, got %d", rr.Code)
	}
}
