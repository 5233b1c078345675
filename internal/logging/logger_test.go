package logging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"flappysync/internal/config"
)

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core)).With(String("component", "merge"))

	logger.Info("applied snapshot", Int("score", 4))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["component"] != "merge" {
		t.Fatalf("expected component field, got %#v", ctx)
	}
	if ctx["score"] != int64(4) {
		t.Fatalf("expected score field, got %#v", ctx["score"])
	}
}

func TestLoggerFromContextFallsBackToGlobal(t *testing.T) {
	if LoggerFromContext(context.Background()) != L() {
		t.Fatal("expected global logger without context value")
	}
	custom := NewTestLogger()
	ctx := ContextWithLogger(context.Background(), custom)
	if LoggerFromContext(ctx) != custom {
		t.Fatal("expected context logger to win")
	}
}

func TestNewWritesJSONToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.log")
	previous := L()
	t.Cleanup(func() { ReplaceGlobals(previous) })

	logger, err := New(config.LoggingConfig{Level: "debug", Path: path, MaxSizeMB: 1}, "peer")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("tick", Uint64("tick", 7))
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("decode entry %q: %v", data, err)
	}
	if entry["message"] != "tick" || entry["service"] != "peer" || entry["tick"] != float64(7) {
		t.Fatalf("unexpected entry %#v", entry)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "info", MaxSizeMB: 1}, "peer"); err == nil {
		t.Fatal("expected error for missing path")
	}
	if _, err := New(config.LoggingConfig{Level: "loud", Path: "x.log", MaxSizeMB: 1}, "peer"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestHTTPTraceMiddlewarePropagatesHeader(t *testing.T) {
	var seen string
	handler := HTTPTraceMiddleware(NewTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(TraceIDHeader, "abc123")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if seen != "abc123" || rr.Header().Get(TraceIDHeader) != "abc123" {
		t.Fatalf("expected trace propagation, context=%q header=%q", seen, rr.Header().Get(TraceIDHeader))
	}
}
