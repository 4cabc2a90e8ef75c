package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-espcam/internal/log"
	"github.com/teslashibe/go-espcam/pkg/camera"
	"github.com/teslashibe/go-espcam/pkg/panel"
	"github.com/teslashibe/go-espcam/pkg/stream"
)

type device struct {
	jpeg []byte

	mu      sync.Mutex
	queries []string
	status  int
}

func (d *device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.queries = append(d.queries, r.URL.RawQuery)
	status := d.status
	d.mu.Unlock()

	q := r.URL.RawQuery
	if strings.HasPrefix(q, "getstill=1") || q == "capture=1;stop" {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(d.jpeg)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
	}
	w.Write([]byte("OK"))
}

func (d *device) setStatus(code int) {
	d.mu.Lock()
	d.status = code
	d.mu.Unlock()
}

func (d *device) last() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queries) == 0 {
		return ""
	}
	return d.queries[len(d.queries)-1]
}

type failingChecker struct{}

func (failingChecker) Health(ctx context.Context) error { return errors.New("refused") }

func newTestServer(t *testing.T, opts ...Option) (*Server, *device) {
	t.Helper()

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(60, 80, color.Black), imaging.JPEG); err != nil {
		t.Fatalf("encode: %v", err)
	}
	dev := &device{jpeg: buf.Bytes()}
	ts := httptest.NewServer(dev)
	t.Cleanup(ts.Close)

	logger := log.Discard()
	client := camera.NewClient(ts.URL, camera.WithLogger(logger))
	poller := stream.New(client, nil, stream.WithInterval(5*time.Millisecond), stream.WithLogger(logger))
	p := panel.New(camera.NewManager(client), client, poller, nil, panel.WithLogger(logger))
	t.Cleanup(p.Close)

	return NewServer(p, append([]Option{WithLogger(logger)}, opts...)...), dev
}

func do(t *testing.T, s *Server, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestIndex(t *testing.T) {
	s, _ := newTestServer(t)

	resp := do(t, s, "GET", "/", "")
	if resp.StatusCode != 200 {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("/ws/state")) {
		t.Error("page should subscribe to the state feed")
	}
}

func TestListParams(t *testing.T) {
	s, _ := newTestServer(t)

	var params []ParamInfo
	decode(t, do(t, s, "GET", "/api/params", ""), &params)

	if len(params) != 4 {
		t.Fatalf("Expected 4 params, got %d", len(params))
	}
	if params[1].Name != camera.Quality || params[1].Min != 10 || params[1].Max != 63 || params[1].Value != 12 {
		t.Errorf("quality = %+v", params[1])
	}
}

func TestSetParam(t *testing.T) {
	s, dev := newTestServer(t)

	resp := do(t, s, "PUT", "/api/params/quality", `{"value":25}`)
	if resp.StatusCode != 200 {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var body struct {
		Settings camera.Settings `json:"settings"`
	}
	decode(t, resp, &body)

	if body.Settings.Quality != 25 {
		t.Errorf("Quality = %d, want 25", body.Settings.Quality)
	}
	if q := dev.last(); q != "quality=25;stop" {
		t.Errorf("device query = %q", q)
	}
}

func TestSetParamErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		device int
		want   int
	}{
		{"out of range", "/api/params/quality", `{"value":5}`, 0, fiber.StatusBadRequest},
		{"unknown param", "/api/params/zoom", `{"value":1}`, 0, fiber.StatusBadRequest},
		{"missing value", "/api/params/flash", `{}`, 0, fiber.StatusBadRequest},
		{"bad json", "/api/params/flash", `{`, 0, fiber.StatusBadRequest},
		{"device rejects", "/api/params/flash", `{"value":10}`, 500, fiber.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, dev := newTestServer(t)
			dev.setStatus(tt.device)

			resp := do(t, s, "PUT", tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestDetectionStartWithoutStream(t *testing.T) {
	s, _ := newTestServer(t)

	resp := do(t, s, "POST", "/api/detection/start", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("Expected status 409, got %d", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["error"] != panel.NotStreamingMessage {
		t.Errorf("error = %v", body["error"])
	}
}

func TestStreamRoutes(t *testing.T) {
	s, _ := newTestServer(t)

	var state panel.State
	decode(t, do(t, s, "POST", "/api/stream/start", ""), &state)
	if !state.Streaming {
		t.Error("expected streaming after start")
	}

	decode(t, do(t, s, "POST", "/api/stream/toggle", ""), &state)
	if state.Streaming {
		t.Error("expected stopped after toggle")
	}

	decode(t, do(t, s, "POST", "/api/stream/stop", ""), &state)
	if state.Streaming {
		t.Error("expected stopped")
	}
}

func TestCapture(t *testing.T) {
	s, dev := newTestServer(t)

	resp := do(t, s, "POST", "/api/capture", "")
	if resp.StatusCode != 200 {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	cd := resp.Header.Get("Content-Disposition")
	if !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, "capture_") || !strings.Contains(cd, ".jpg") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, dev.jpeg) {
		t.Error("capture body differs from device image")
	}
	if q := dev.last(); q != "capture=1;stop" {
		t.Errorf("device query = %q", q)
	}
}

func TestFrame(t *testing.T) {
	s, dev := newTestServer(t)

	resp := do(t, s, "GET", "/api/frame?annotated=1", "")
	if resp.StatusCode != 200 {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, dev.jpeg) {
		t.Error("expected the device still without detections")
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, WithVersion("1.2.3"))

	var body map[string]any
	decode(t, do(t, s, "GET", "/health", ""), &body)
	if body["status"] != "ok" || body["version"] != "1.2.3" {
		t.Errorf("health = %v", body)
	}
	if body["feeds"] != "stopped" {
		t.Errorf("feeds = %v, want stopped before Run", body["feeds"])
	}
	if body["detector"] != "disabled" {
		t.Errorf("detector = %v, want disabled", body["detector"])
	}

	s, _ = newTestServer(t, WithDetector(failingChecker{}))
	decode(t, do(t, s, "GET", "/health", ""), &body)
	if body["detector"] != "unreachable" {
		t.Errorf("detector = %v, want unreachable", body["detector"])
	}
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	resp := do(t, s, "GET", "/metrics", "")
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"espcam_streaming 0", `espcam_ws_clients{feed="state"} 0`, "espcam_captures_total 0"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestLogs(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, "POST", "/api/stream/start", "")
	do(t, s, "POST", "/api/stream/stop", "")

	var events []panel.Event
	decode(t, do(t, s, "GET", "/api/logs", ""), &events)
	if len(events) != 2 || events[0].Message != "stream started" {
		t.Errorf("events = %+v", events)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s, _ := newTestServer(t)

	resp := do(t, s, "GET", "/ws/state", "")
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("Expected status 426, got %d", resp.StatusCode)
	}
}

func TestStateWebSocket(t *testing.T) {
	s, _ := newTestServer(t, WithPort("18090"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	var health map[string]any
	decode(t, do(t, s, "GET", "/health", ""), &health)
	if health["feeds"] != "running" {
		t.Errorf("feeds = %v, want running", health["feeds"])
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18090/ws/state", nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer ws.Close()

	var state panel.State
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(&state); err != nil {
		t.Fatalf("Failed to read initial state: %v", err)
	}
	if state.Streaming {
		t.Error("initial state should not be streaming")
	}

	time.Sleep(50 * time.Millisecond)
	if err := s.panel.SetParam(context.Background(), "flash", 200); err != nil {
		t.Fatalf("SetParam failed: %v", err)
	}

	for {
		if err := ws.ReadJSON(&state); err != nil {
			t.Fatalf("Failed to read state: %v", err)
		}
		if state.Settings.Flash == 200 {
			break
		}
	}

	ws.Close()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelShutdown()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	for _, h := range s.hubs() {
		if h.IsRunning() {
			t.Error("hub still running after Shutdown")
		}
	}
}
