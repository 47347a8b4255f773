package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/eyecam/internal/camera"
	"github.com/bryanchriswhite/eyecam/internal/config"
	"github.com/bryanchriswhite/eyecam/internal/output"
	"github.com/bryanchriswhite/eyecam/internal/stream"
	"github.com/gorilla/websocket"
)

var testJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0xFF, 0xD9}

// jpegHandler always returns testJPEG; Connect fails with connectErr
type jpegHandler struct {
	connectErr error
	sources    atomic.Value
}

func (h *jpegHandler) Connect(source string) error {
	if h.connectErr != nil {
		return h.connectErr
	}
	h.sources.Store(source)
	return nil
}

func (h *jpegHandler) GetFrame() ([]byte, error) {
	time.Sleep(time.Millisecond)
	return testJPEG, nil
}

func (h *jpegHandler) Disconnect() {}
func (h *jpegHandler) Name() string { return "jpeg" }

type fixture struct {
	cam *camera.Camera
	cfg *config.Manager
	srv *Server
}

func newFixture(t *testing.T, h camera.Handler) *fixture {
	t.Helper()
	cfg, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	cam := camera.New(h, 100)
	t.Cleanup(func() { cam.Close() })
	return &fixture{cam: cam, cfg: cfg, srv: NewServer(cam, cfg, nil, nil)}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeStats(t *testing.T, rec *httptest.ResponseRecorder) camera.Stats {
	t.Helper()
	var st camera.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("Failed to decode stats %q: %v", rec.Body.String(), err)
	}
	return st
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &jpegHandler{})

	rec := f.do(t, "GET", "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "healthy" || body["camera"] != "disconnected" {
		t.Errorf("Unexpected health %v", body)
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	h := &jpegHandler{}
	f := newFixture(t, h)

	rec := f.do(t, "POST", "/api/camera/connect", `{"source":"/dev/video0"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Connect: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	st := decodeStats(t, rec)
	if st.State != "connected" || st.Source != "/dev/video0" || st.ConnectionID == "" {
		t.Errorf("Unexpected stats after connect: %+v", st)
	}

	if rec := f.do(t, "POST", "/api/camera/connect", `{"source":"/dev/video0"}`); rec.Code != http.StatusOK {
		t.Errorf("Reconnecting to the same source: expected 200, got %d", rec.Code)
	}
	if rec := f.do(t, "POST", "/api/camera/connect", `{"source":"/dev/video1"}`); rec.Code != http.StatusConflict {
		t.Errorf("Connecting to another source: expected 409, got %d", rec.Code)
	}

	rec = f.do(t, "POST", "/api/camera/disconnect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Disconnect: expected 200, got %d", rec.Code)
	}
	if st := decodeStats(t, rec); st.State != "disconnected" {
		t.Errorf("Expected disconnected, got %s", st.State)
	}

	if rec := f.do(t, "POST", "/api/camera/disconnect", ""); rec.Code != http.StatusConflict {
		t.Errorf("Disconnect while waiting: expected 409, got %d", rec.Code)
	}
}

func TestConnectUsesConfiguredSource(t *testing.T) {
	h := &jpegHandler{}
	f := newFixture(t, h)
	if err := f.cfg.Set("camera.source", "/dev/ttyACM0"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if rec := f.do(t, "POST", "/api/camera/connect", ""); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got, _ := h.sources.Load().(string); got != "/dev/ttyACM0" {
		t.Errorf("Expected configured source, got %q", got)
	}
}

func TestConnectFailure(t *testing.T) {
	f := newFixture(t, &jpegHandler{connectErr: camera.ErrTimeout})

	rec := f.do(t, "POST", "/api/camera/connect", `{"source":"rtsp://eye"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["state"] != "timeout" {
		t.Errorf("Expected state timeout, got %v", body)
	}

	if rec := f.do(t, "POST", "/api/camera/connect", `{"source":`); rec.Code != http.StatusBadRequest {
		t.Errorf("Malformed body: expected 400, got %d", rec.Code)
	}
}

func TestSetFPS(t *testing.T) {
	f := newFixture(t, &jpegHandler{})

	rec := f.do(t, "PUT", "/api/camera/fps", `{"target_fps":15}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.cam.TargetFrameRate() != 15 {
		t.Errorf("Expected camera target 15, got %d", f.cam.TargetFrameRate())
	}
	if f.cfg.Get().Camera.TargetFPS != 15 {
		t.Errorf("Expected target persisted, got %d", f.cfg.Get().Camera.TargetFPS)
	}

	for _, body := range []string{`{"target_fps":-1}`, `{"target_fps":70000}`, `{}`, `nope`} {
		if rec := f.do(t, "PUT", "/api/camera/fps", body); rec.Code != http.StatusBadRequest {
			t.Errorf("Body %s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestGetFrame(t *testing.T) {
	f := newFixture(t, &jpegHandler{})

	if rec := f.do(t, "GET", "/api/camera/frame", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Disconnected: expected 503, got %d", rec.Code)
	}

	if err := f.cam.Connect("eye"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	rec := f.do(t, "GET", "/api/camera/frame", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), testJPEG) {
		t.Errorf("Unexpected frame %x", rec.Body.Bytes())
	}
}

func TestGetFrameFromStream(t *testing.T) {
	cam := camera.New(&jpegHandler{}, 100)
	defer cam.Close()
	mjpeg := output.NewMJPEGOutput(output.Config{})
	mjpeg.Start()
	defer mjpeg.Stop()
	pump := stream.NewPump(cam, mjpeg)
	srv := NewServer(cam, nil, mjpeg, pump)

	cam.Connect("eye")
	pump.Start()
	defer func() {
		pump.Stop()
		cam.Close()
		pump.Wait()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mjpeg.Stats().Frames == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/camera/frame", nil))
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), testJPEG) {
		t.Errorf("Expected streamed frame, got %d %x", rec.Code, rec.Body.Bytes())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/stream", nil))
	var body struct {
		Output *output.Stats `json:"output"`
		Pump   *stream.Stats `json:"pump"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode stream stats: %v", err)
	}
	if body.Output == nil || body.Pump == nil || !body.Pump.Running || body.Output.Frames == 0 {
		t.Errorf("Unexpected stream stats %s", rec.Body.String())
	}
}

func TestStatsFeed(t *testing.T) {
	f := newFixture(t, &jpegHandler{})
	f.srv.SetStatsInterval(10 * time.Millisecond)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/camera/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var st camera.Stats
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if st.Backend != "jpeg" || st.State != "disconnected" {
		t.Errorf("Unexpected first stats %+v", st)
	}

	if err := f.cam.Connect("eye"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for st.State != "connected" {
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("Never saw connected state: %v", err)
		}
	}
}

func TestGetConfig(t *testing.T) {
	f := newFixture(t, &jpegHandler{})

	rec := f.do(t, "GET", "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var cfg config.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("Failed to decode config: %v", err)
	}
	if cfg.ServerPort != 8080 || cfg.Camera.Backend != "noop" {
		t.Errorf("Unexpected config %+v", cfg)
	}
}

func TestGetConfig_EffectiveOverrides(t *testing.T) {
	h := &jpegHandler{}
	f := newFixture(t, h)

	effective := f.cfg.Get()
	effective.Camera.Backend = "openiris"
	effective.Camera.Source = "/dev/ttyUSB1"
	f.srv.SetEffectiveConfig(effective)
	effective.Camera.Source = "changed after handoff"

	rec := f.do(t, "GET", "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var cfg config.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("Failed to decode config: %v", err)
	}
	if cfg.Camera.Backend != "openiris" || cfg.Camera.Source != "/dev/ttyUSB1" {
		t.Errorf("Expected effective camera settings, got %+v", cfg.Camera)
	}
	if f.cfg.Get().Camera.Backend != "noop" {
		t.Errorf("Effective settings leaked into the file config")
	}

	if rec := f.do(t, "PUT", "/api/camera/fps", `{"target_fps":12}`); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	rec = f.do(t, "GET", "/api/config", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("Failed to decode config: %v", err)
	}
	if cfg.Camera.TargetFPS != 12 {
		t.Errorf("Expected target_fps 12, got %d", cfg.Camera.TargetFPS)
	}

	if rec := f.do(t, "POST", "/api/camera/connect", ""); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got, _ := h.sources.Load().(string); got != "/dev/ttyUSB1" {
		t.Errorf("Expected effective source, got %q", got)
	}
}

func TestIndexAndCORS(t *testing.T) {
	f := newFixture(t, &jpegHandler{})

	rec := f.do(t, "GET", "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/api/camera") {
		t.Errorf("Unexpected index: %d", rec.Code)
	}

	rec = f.do(t, "OPTIONS", "/api/camera", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected CORS preflight response, got %d", rec.Code)
	}

	// mux reports method mismatches inside the /api subrouter as not found
	if rec := f.do(t, "DELETE", "/api/camera", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for DELETE, got %d", rec.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{camera.ErrAlreadyConnected, http.StatusConflict},
		{camera.ErrNotConnected, http.StatusConflict},
		{camera.ErrDisconnected, http.StatusServiceUnavailable},
		{camera.ErrTimeout, http.StatusBadGateway},
		{camera.Errorf("failed to open port: busy"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, expected %d", tt.err, got, tt.want)
		}
	}
}
