package output

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/eyecam/internal/logger"
	"github.com/google/uuid"
)

const defaultClientBuffer = 2

// Stats describes the stream as seen by its viewers
type Stats struct {
	Running    bool      `json:"running"`
	Frames     uint64    `json:"frames"`
	Clients    int       `json:"clients"`
	FPS        float64   `json:"fps"`
	LastUpdate time.Time `json:"last_update"`
	Uptime     string    `json:"uptime"`
}

// MJPEGOutput streams frames as Motion JPEG over HTTP
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	// Latest frame, sent to viewers as soon as they connect
	frameMu      sync.RWMutex
	currentFrame []byte
	lastUpdate   time.Time

	// Connected clients, by client ID
	clientsMu sync.RWMutex
	clients   map[chan []byte]string

	// Stats
	frameCount atomic.Uint64
	startTime  time.Time
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.ClientBuffer < 1 {
		config.ClientBuffer = defaultClientBuffer
	}
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]string),
	}
}

// Start initializes the MJPEG output.
// The HTTP handler is registered separately via GetHTTPHandler().
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount.Store(0)

	logger.WithComponent("mjpeg").Info().
		Int("client_buffer", m.config.ClientBuffer).
		Msg("Output started")
	return nil
}

// Stop cleanly shuts down the output and ends every client stream
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]string)
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().
		Uint64("frames", m.frameCount.Load()).
		Msg("Output stopped")
	return nil
}

// WriteFrame sends a frame to all connected clients. Clients that have
// not drained their buffer skip the frame.
func (m *MJPEGOutput) WriteFrame(frame []byte) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}
	if len(frame) == 0 {
		return nil
	}

	m.frameMu.Lock()
	m.currentFrame = frame
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.frameCount.Add(1)

	m.clientsMu.RLock()
	for ch, id := range m.clients {
		select {
		case ch <- frame:
		default:
			logger.WithComponent("mjpeg").Trace().Str("client_id", id).Msg("Client is slow, skipping frame")
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ClientCount returns the number of connected viewers
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Stats returns a snapshot of the stream statistics
func (m *MJPEGOutput) Stats() Stats {
	m.mu.RLock()
	running := m.running
	startTime := m.startTime
	m.mu.RUnlock()

	m.frameMu.RLock()
	lastUpdate := m.lastUpdate
	m.frameMu.RUnlock()

	s := Stats{
		Running:    running,
		Frames:     m.frameCount.Load(),
		Clients:    m.ClientCount(),
		LastUpdate: lastUpdate,
	}
	if running && !startTime.IsZero() {
		elapsed := time.Since(startTime)
		if secs := elapsed.Seconds(); secs > 0 {
			s.FPS = float64(s.Frames) / secs
		}
		s.Uptime = elapsed.Round(time.Second).String()
	}
	return s
}

// LatestFrame returns the most recent frame and when it was written
func (m *MJPEGOutput) LatestFrame() ([]byte, time.Time) {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.currentFrame, m.lastUpdate
}

// register adds a client channel, primed with the latest frame
func (m *MJPEGOutput) register() (chan []byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return nil, "", false
	}

	ch := make(chan []byte, m.config.ClientBuffer)
	id := uuid.NewString()

	m.frameMu.RLock()
	if m.currentFrame != nil {
		ch <- m.currentFrame
	}
	m.frameMu.RUnlock()

	m.clientsMu.Lock()
	m.clients[ch] = id
	m.clientsMu.Unlock()
	return ch, id, true
}

func (m *MJPEGOutput) unregister(ch chan []byte) int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	delete(m.clients, ch)
	return len(m.clients)
}

// GetHTTPHandler returns an http.Handler for the MJPEG stream.
// Mount this at /stream or similar endpoint.
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithComponent("mjpeg")

		frameChan, clientID, ok := m.register()
		if !ok {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		log.Info().
			Str("client_id", clientID).
			Str("remote", r.RemoteAddr).
			Int("clients", m.ClientCount()).
			Msg("New client connected")

		defer func() {
			remaining := m.unregister(frameChan)
			log.Info().Str("client_id", clientID).Int("remaining", remaining).Msg("Client disconnected")
		}()

		for {
			var jpegData []byte
			select {
			case <-r.Context().Done():
				return
			case data, open := <-frameChan:
				if !open {
					return
				}
				jpegData = data
			}

			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}

			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// GetViewerHandler returns an HTTP handler with a full-window stream viewer
// and a live stats line fed by the camera websocket
func (m *MJPEGOutput) GetViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

// GetStatsHandler returns an HTTP handler that shows stream statistics
func (m *MJPEGOutput) GetStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := m.Stats()

		status, class := "Stopped", "status-stopped"
		if s.Running {
			status, class = "Running", "status-running"
		}
		lastUpdate := "Never"
		if !s.LastUpdate.IsZero() {
			lastUpdate = time.Since(s.LastUpdate).Round(time.Millisecond).String() + " ago"
		}
		uptime := s.Uptime
		if uptime == "" {
			uptime = "N/A"
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, statsHTML, class, status, m.config.TargetFPS, s.FPS, s.Frames, s.Clients, lastUpdate, uptime)
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>eyecam</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #000;
            overflow: hidden;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
        }
        img {
            width: 100vw;
            height: 100vh;
            object-fit: contain;
            display: block;
            background: #000;
        }
        .stats {
            position: fixed;
            bottom: 16px;
            left: 16px;
            padding: 8px 14px;
            background: rgba(40, 40, 40, 0.9);
            color: #ccc;
            border-radius: 20px;
            font-family: monospace;
            font-size: 13px;
        }
    </style>
</head>
<body>
    <img src="/stream" alt="eyecam live stream">
    <div class="stats" id="stats">connecting...</div>
    <script>
        const el = document.getElementById('stats');
        const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
        const ws = new WebSocket(proto + '//' + location.host + '/api/camera/ws');
        ws.onmessage = (e) => {
            const s = JSON.parse(e.data);
            el.textContent = s.backend + ' ' + s.state + ' ' + s.frame_rate + '/' + s.target_frame_rate + ' fps, ' +
                s.frames_captured + ' frames, ' + s.read_errors + ' errors';
        };
        ws.onclose = () => { el.textContent = 'disconnected'; };
    </script>
</body>
</html>`

const statsHTML = `<!DOCTYPE html>
<html>
<head>
    <title>eyecam - MJPEG Stats</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .stat { margin: 10px 0; }
        .label { color: #569cd6; }
        .value { color: #4ec9b0; }
        .status-running { color: #4ec9b0; }
        .status-stopped { color: #ce9178; }
    </style>
</head>
<body>
    <h1>eyecam MJPEG Stream Stats</h1>
    <div class="stat"><span class="label">Status:</span> <span class="value %s">%s</span></div>
    <div class="stat"><span class="label">Target FPS:</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Actual FPS:</span> <span class="value">%.2f</span></div>
    <div class="stat"><span class="label">Total Frames:</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Connected Clients:</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Last Update:</span> <span class="value">%s</span></div>
    <div class="stat"><span class="label">Uptime:</span> <span class="value">%s</span></div>
    <p><a href="/stream" style="color: #569cd6;">View Stream</a></p>
</body>
</html>`
