package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fieldgrid/dispatch-core/internal/broadcast"
	"github.com/fieldgrid/dispatch-core/internal/dispatch"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/config"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/logging"
	"github.com/fieldgrid/dispatch-core/internal/registry"
	"github.com/fieldgrid/dispatch-core/internal/telemetry"
)

// fakeStream is a dispatch.Stream for handler tests.
type fakeStream struct {
	sent []dispatch.ServerMessage
}

func (f *fakeStream) Send(msg dispatch.ServerMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeStream) RemoteAddr() string { return "10.0.0.5:52101" }

// testEnv bundles a server with the collaborators tests poke at directly.
type testEnv struct {
	server *Server
	router http.Handler
	coord  *dispatch.Coordinator
	dedup  *telemetry.Deduplicator
}

func newTestEnv(t *testing.T, mutate func(deps *Deps)) *testEnv {
	t.Helper()

	log := logging.Default()
	reg := registry.New()
	hub := NewHub(config.WebSocketConfig{}, reg, log)
	bc := broadcast.New(reg, hub)
	coord := dispatch.NewCoordinator(4)
	dedup := telemetry.NewDeduplicator(bc, 5*time.Minute)

	deps := Deps{
		Logger:      log,
		Registry:    reg,
		Coordinator: coord,
		Broadcaster: bc,
		Dedup:       dedup,
		Hub:         hub,
		Version:     "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{
		server: srv,
		router: srv.buildRouter(),
		coord:  coord,
		dedup:  dedup,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return out
}

func TestSubmitCommand_Accepted(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterChannel("pump-17", &fakeStream{})

	rec := env.do(t, http.MethodPost, "/api/v1/devices/pump-17/commands",
		`{"name":"start","params":{"speed":3}}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["status"] != "queued" {
		t.Errorf("status = %v, want queued", body["status"])
	}
	if body["command_id"] == "" || body["command_id"] == nil {
		t.Error("response missing command_id")
	}

	// The command sits in the device's queue until its stream drains it.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fn, err := env.coord.DequeueBlocking(ctx, "pump-17")
	if err != nil {
		t.Fatalf("DequeueBlocking() error = %v", err)
	}
	msg, err := fn()
	if err != nil {
		t.Fatalf("message func error = %v", err)
	}
	if msg.Command == nil || msg.Command.Name != "start" {
		t.Errorf("queued command = %+v, want name start", msg.Command)
	}
	if msg.Command.IssuedAt.IsZero() {
		t.Error("IssuedAt should be stamped when the message is built")
	}
}

func TestSubmitCommand_DeviceOffline(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/devices/pump-17/commands", `{"name":"start"}`)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["code"] != ErrCodeChannelNotRegistered {
		t.Errorf("code = %v, want %s", body["code"], ErrCodeChannelNotRegistered)
	}
}

func TestSubmitCommand_QueueFull(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterChannel("pump-17", &fakeStream{})

	// Saturate the queue; nothing is draining it.
	for i := 0; i < 4; i++ {
		if err := env.coord.Enqueue("pump-17", func() (dispatch.ServerMessage, error) {
			return dispatch.ServerMessage{}, nil
		}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	rec := env.do(t, http.MethodPost, "/api/v1/devices/pump-17/commands", `{"name":"start"}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["code"] != ErrCodeQueueFull {
		t.Errorf("code = %v, want %s", body["code"], ErrCodeQueueFull)
	}
}

func TestSubmitCommand_BadRequest(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing name", `{"params":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/devices/pump-17/commands", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestClearCommands(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterChannel("pump-17", &fakeStream{})

	for i := 0; i < 3; i++ {
		if err := env.coord.Enqueue("pump-17", func() (dispatch.ServerMessage, error) {
			return dispatch.ServerMessage{}, nil
		}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	rec := env.do(t, http.MethodDelete, "/api/v1/devices/pump-17/commands", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if stats := env.coord.GetStats(); stats.PendingRecords != 0 {
		t.Errorf("PendingRecords = %d, want 0 after clear", stats.PendingRecords)
	}
	if !env.coord.Online("pump-17") {
		t.Error("clearing the queue must not drop the channel")
	}
}

func TestDeviceStatusAndOnlineList(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coord.RegisterChannel("pump-17", &fakeStream{})

	rec := env.do(t, http.MethodGet, "/api/v1/devices/pump-17/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["online"] != true {
		t.Errorf("online = %v, want true", body["online"])
	}
	if body["addr"] != "10.0.0.5:52101" {
		t.Errorf("addr = %v, want stream remote addr", body["addr"])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/valve-03/status", "")
	body = decodeBody(t, rec)
	if body["online"] != false {
		t.Errorf("online = %v for unknown device, want false", body["online"])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/online", "")
	body = decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestIngestTelemetry(t *testing.T) {
	env := newTestEnv(t, nil)

	now := time.Now().UTC()
	body, _ := json.Marshal(map[string]any{
		"readings": []telemetry.Reading{
			{SensorID: "temp-042", Timestamp: now, Value: 21.5},
			{SensorID: "temp-042", Timestamp: now.Add(time.Second), Value: 21.6},
		},
	})

	rec := env.do(t, http.MethodPost, "/api/v1/telemetry", string(body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody(t, rec)
	if resp["accepted"] != float64(2) {
		t.Errorf("accepted = %v, want 2", resp["accepted"])
	}

	// The batch advances the sensor's watermark to its newest timestamp.
	mark, ok := env.dedup.Watermark("temp-042")
	if !ok {
		t.Fatal("sensor has no watermark after ingest")
	}
	if !mark.Equal(now.Add(time.Second)) {
		t.Errorf("watermark = %v, want %v", mark, now.Add(time.Second))
	}
}

func TestIngestTelemetry_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{broken`},
		{"empty batch", `{"readings":[]}`},
		{"missing sensor_id", `{"readings":[{"timestamp":"2026-01-10T12:00:00Z","value":1}]}`},
		{"missing timestamp", `{"readings":[{"sensor_id":"temp-042","value":1}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/telemetry", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestWSTicket_SingleUse(t *testing.T) {
	env := newTestEnv(t, nil)

	// Empty JWT secret means dev-mode auth; the ticket is bound to the
	// dev user.
	rec := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	ticket, _ := body["ticket"].(string)
	if ticket == "" {
		t.Fatal("response missing ticket")
	}

	userID, ok := env.server.tickets.consume(ticket)
	if !ok || userID != "dev" {
		t.Errorf("consume() = (%q, %v), want (dev, true)", userID, ok)
	}

	if _, ok := env.server.tickets.consume(ticket); ok {
		t.Error("ticket consumed twice")
	}
}

func TestTicketStore_Expiry(t *testing.T) {
	ts := newTicketStore()
	ticket := ts.issue("operator-1")

	// Force expiry.
	ts.mu.Lock()
	entry := ts.tickets[ticket]
	entry.expiresAt = time.Now().Add(-time.Second)
	ts.tickets[ticket] = entry
	ts.mu.Unlock()

	if _, ok := ts.consume(ticket); ok {
		t.Error("expired ticket accepted")
	}
}

func TestAuthMiddleware_RequiresToken(t *testing.T) {
	env := newTestEnv(t, func(deps *Deps) {
		deps.Security.JWTSecret = "test-secret"
	})

	rec := env.do(t, http.MethodGet, "/api/v1/devices/online", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without bearer token", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/online", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for invalid token", rr.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rec.Code)
	}
	metrics := decodeBody(t, rec)
	rt, ok := metrics["runtime"].(map[string]any)
	if !ok {
		t.Fatalf("metrics missing runtime section: %v", metrics)
	}
	if _, ok := rt["goroutines"]; !ok {
		t.Error("metrics missing runtime.goroutines")
	}
	if dispatchStats, ok := metrics["dispatch"].(map[string]any); !ok {
		t.Error("metrics missing dispatch section")
	} else if dispatchStats["online_devices"] != float64(0) {
		t.Errorf("online_devices = %v, want 0", dispatchStats["online_devices"])
	}
}

func TestListActivity_Disabled(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/activity", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when activity log disabled", rec.Code)
	}
}
