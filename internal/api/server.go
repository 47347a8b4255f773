package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/eyecam/internal/camera"
	"github.com/bryanchriswhite/eyecam/internal/config"
	"github.com/bryanchriswhite/eyecam/internal/logger"
	"github.com/bryanchriswhite/eyecam/internal/output"
	"github.com/bryanchriswhite/eyecam/internal/stream"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	// DefaultStatsInterval is how often the websocket feed pushes Stats
	DefaultStatsInterval = time.Second

	// frameTimeout bounds GET /api/camera/frame
	frameTimeout = 2 * time.Second
	framePoll    = 5 * time.Millisecond
)

// Server represents the HTTP API server
type Server struct {
	router        *mux.Router
	cam           *camera.Camera
	configMgr     *config.Manager
	effectiveMu   sync.RWMutex
	effective     *config.Config
	mjpeg         *output.MJPEGOutput
	pump          *stream.Pump
	upgrader      websocket.Upgrader
	statsInterval time.Duration
	httpServer    *http.Server
}

// NewServer creates a new API server. mjpeg and pump may be nil when
// streaming is disabled.
func NewServer(cam *camera.Camera, configMgr *config.Manager, mjpeg *output.MJPEGOutput, pump *stream.Pump) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		cam:           cam,
		configMgr:     configMgr,
		mjpeg:         mjpeg,
		pump:          pump,
		statsInterval: DefaultStatsInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// SetEffectiveConfig sets the settings the process is actually running
// with, flag and environment overrides included. When set it backs
// GET /api/config and the default connect source instead of the file.
func (s *Server) SetEffectiveConfig(cfg *config.Config) {
	s.effectiveMu.Lock()
	defer s.effectiveMu.Unlock()
	if cfg == nil {
		s.effective = nil
		return
	}
	c := *cfg
	s.effective = &c
}

// currentConfig returns a copy of the effective settings, falling back to
// the config file. It returns nil when neither is available.
func (s *Server) currentConfig() *config.Config {
	s.effectiveMu.RLock()
	defer s.effectiveMu.RUnlock()
	if s.effective != nil {
		c := *s.effective
		return &c
	}
	if s.configMgr != nil {
		return s.configMgr.Get()
	}
	return nil
}

// SetStatsInterval changes the websocket push interval
func (s *Server) SetStatsInterval(d time.Duration) {
	s.statsInterval = d
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Camera control
	api.HandleFunc("/camera", s.handleGetCamera).Methods("GET")
	api.HandleFunc("/camera/connect", s.handleConnect).Methods("POST")
	api.HandleFunc("/camera/disconnect", s.handleDisconnect).Methods("POST")
	api.HandleFunc("/camera/fps", s.handleSetFPS).Methods("PUT")
	api.HandleFunc("/camera/frame", s.handleGetFrame).Methods("GET")
	api.HandleFunc("/camera/ws", s.handleStatsFeed)

	// Stream and configuration
	api.HandleFunc("/stream", s.handleStreamStats).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.mjpeg != nil {
		s.router.HandleFunc("/stream", s.mjpeg.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/stream/stats", s.mjpeg.GetStatsHandler()).Methods("GET")
		s.router.HandleFunc("/", s.mjpeg.GetViewerHandler()).Methods("GET")
	} else {
		s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves HTTP on port until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithComponent("api").Info().
		Str("url", "http://localhost"+addr).
		Msg("Starting server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve on %s: %w", addr, err)
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// errorStatus maps a camera error to an HTTP status
func errorStatus(err error) int {
	switch {
	case camera.IsUsageError(err):
		return http.StatusConflict
	case errors.Is(err, camera.ErrDisconnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"state": camera.StateOf(err).String(),
	})
}

// HTTP Handlers

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cam.Stats())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
	}
	// an empty body connects to the configured source
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	source := req.Source
	if source == "" {
		if cfg := s.currentConfig(); cfg != nil {
			source = cfg.Camera.Source
		}
	}

	if err := s.cam.Connect(source); err != nil {
		logger.WithComponent("api").Warn().Err(err).Str("source", source).Msg("Connect request failed")
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.cam.Stats())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.cam.Disconnect(); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.cam.Stats())
}

func (s *Server) handleSetFPS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetFPS *int `json:"target_fps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TargetFPS == nil || *req.TargetFPS < 0 || *req.TargetFPS > math.MaxUint16 {
		http.Error(w, fmt.Sprintf("target_fps must be between 0 and %d", math.MaxUint16), http.StatusBadRequest)
		return
	}

	fps := *req.TargetFPS
	s.cam.SetTargetFrameRate(uint16(fps))

	s.effectiveMu.Lock()
	if s.effective != nil {
		s.effective.Camera.TargetFPS = fps
	}
	s.effectiveMu.Unlock()

	if s.configMgr != nil {
		if err := s.configMgr.SetTargetFPS(fps); err != nil {
			logger.WithComponent("api").Warn().Err(err).Int("target_fps", fps).Msg("Failed to persist target fps")
		}
	}
	writeJSON(w, http.StatusOK, s.cam.Stats())
}

// handleGetFrame serves one JPEG. It polls rather than blocking on the
// camera so a stalled backend cannot pin the request.
func (s *Server) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	if !s.cam.Connected() {
		writeError(w, http.StatusServiceUnavailable, camera.ErrDisconnected)
		return
	}

	// the pump drains the camera while streaming, so use its latest frame
	if s.mjpeg != nil && s.pump != nil && s.pump.IsRunning() {
		if frame, _ := s.mjpeg.LatestFrame(); frame != nil {
			writeFrame(w, frame)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), frameTimeout)
	defer cancel()
	ticker := time.NewTicker(framePoll)
	defer ticker.Stop()

	for {
		frame, ok, err := s.cam.TryGetFrame()
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		if ok {
			writeFrame(w, frame)
			return
		}

		select {
		case <-ctx.Done():
			http.Error(w, "no frame within "+frameTimeout.String(), http.StatusGatewayTimeout)
			return
		case <-ticker.C:
		}
	}
}

func writeFrame(w http.ResponseWriter, frame []byte) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame)
}

// handleStatsFeed pushes camera Stats over a websocket until the client
// goes away
func (s *Server) handleStatsFeed(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// reads only to notice the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.cam.Stats()); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Output *output.Stats `json:"output,omitempty"`
		Pump   *stream.Stats `json:"pump,omitempty"`
	}{}
	if s.mjpeg != nil {
		st := s.mjpeg.Stats()
		resp.Output = &st
	}
	if s.pump != nil {
		st := s.pump.Stats()
		resp.Pump = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.currentConfig()
	if cfg == nil {
		http.Error(w, "no configuration loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
		"camera":  s.cam.State().String(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>eyecam</title>
    <style>
        body { font-family: system-ui, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
        code { background: #f5f5f5; padding: 2px 6px; border-radius: 3px; }
    </style>
</head>
<body>
    <h1>eyecam</h1>
    <p>Streaming is disabled. API endpoints:</p>
    <ul>
        <li><a href="/api/health">/api/health</a></li>
        <li><a href="/api/camera">/api/camera</a></li>
        <li><a href="/api/camera/frame">/api/camera/frame</a></li>
        <li><a href="/api/config">/api/config</a></li>
    </ul>
    <p>Connect with <code>POST /api/camera/connect</code>.</p>
</body>
</html>`
