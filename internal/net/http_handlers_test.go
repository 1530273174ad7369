package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lightcycle/internal/net/proto"
	"lightcycle/internal/observability"
	"lightcycle/internal/relay"
	"lightcycle/internal/telemetry"
	"lightcycle/logging"
)

func TestHealthReportsOK(t *testing.T) {
	handler := NewHTTPHandler(relay.NewHub(relay.DefaultConfig()), HTTPHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "ok" {
		t.Fatalf("expected body ok, got %q", body)
	}
	if origin := resp.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("expected permissive CORS header, got %q", origin)
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	handler := NewHTTPHandler(relay.NewHub(relay.DefaultConfig()), HTTPHandlerConfig{})

	req := httptest.NewRequest(http.MethodOptions, "/diagnostics", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if resp.Body.Len() != 0 {
		t.Fatalf("expected empty preflight body, got %q", resp.Body.String())
	}
}

func TestDiagnosticsIncludesRelayAndTelemetry(t *testing.T) {
	metrics := &logging.Metrics{}
	cfg := relay.DefaultConfig()
	cfg.Metrics = telemetry.WrapMetrics(metrics)
	hub := relay.NewHub(cfg)
	handler := NewHTTPHandler(hub, HTTPHandlerConfig{
		Metrics:  metrics,
		LogStats: func() logging.RouterStats { return logging.RouterStats{EventsTotal: 7} },
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		resp.Body.Close()
	})

	env, _ := proto.New(proto.TypeRequestPlayerID, proto.DestinationGlobal, nil, time.Now())
	data, _ := proto.Encode(env)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to send request: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("failed to read reply: %v", err)
	}

	diag, err := http.Get(srv.URL + "/diagnostics")
	if err != nil {
		t.Fatalf("diagnostics request failed: %v", err)
	}
	defer diag.Body.Close()

	if contentType := diag.Header.Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", contentType)
	}

	var payload struct {
		Status    string            `json:"status"`
		Relay     relay.Diagnostics `json:"relay"`
		Telemetry map[string]uint64 `json:"telemetry"`
		Logging   *struct {
			EventsTotal uint64 `json:"eventsTotal"`
		} `json:"logging"`
	}
	if err := json.NewDecoder(diag.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode diagnostics payload: %v", err)
	}

	if payload.Status != "ok" {
		t.Fatalf("expected status ok, got %q", payload.Status)
	}
	if len(payload.Relay.Players) != 1 || payload.Relay.Players[0].ID != "1" {
		t.Fatalf("expected one connected player, got %+v", payload.Relay.Players)
	}
	if payload.Relay.MaxPlayers != relay.DefaultMaxPlayers {
		t.Fatalf("expected max players %d, got %d", relay.DefaultMaxPlayers, payload.Relay.MaxPlayers)
	}
	if payload.Telemetry["relay.envelopes_in"] != 1 {
		t.Fatalf("expected one inbound envelope in telemetry, got %v", payload.Telemetry)
	}
	if payload.Logging == nil || payload.Logging.EventsTotal != 7 {
		t.Fatalf("expected logging stats in diagnostics, got %+v", payload.Logging)
	}
}

func TestPprofIsOptIn(t *testing.T) {
	hub := relay.NewHub(relay.DefaultConfig())

	disabled := NewHTTPHandler(hub, HTTPHandlerConfig{})
	resp := httptest.NewRecorder()
	disabled.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected pprof to be hidden by default, got %d", resp.Code)
	}

	enabled := NewHTTPHandler(hub, HTTPHandlerConfig{Observability: observability.Config{EnablePprofTrace: true}})
	resp = httptest.NewRecorder()
	enabled.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected pprof index when enabled, got %d", resp.Code)
	}
}

func TestServesClientDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("const arena = true;"), 0o644); err != nil {
		t.Fatalf("failed to write client file: %v", err)
	}

	handler := NewHTTPHandler(relay.NewHub(relay.DefaultConfig()), HTTPHandlerConfig{ClientDir: dir})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/app.js", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "arena") {
		t.Fatalf("expected client file contents, got %q", resp.Body.String())
	}
}
