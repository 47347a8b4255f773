package camera

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/eyecam/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// FrameBufferSize is how many frames the acquisition goroutine may queue
	// ahead of the caller before its send blocks
	FrameBufferSize = 30

	// unpacedRetryDelay keeps a failing backend from spinning the loop when
	// no target frame rate is set
	unpacedRetryDelay = 10 * time.Millisecond
)

// counters are shared between the caller and the acquisition goroutine.
// Every field is independent; none guards another.
type counters struct {
	shouldStop      atomic.Bool
	frameRate       atomic.Uint32
	targetFrameRate atomic.Uint32
	framesCaptured  atomic.Uint64
	readErrors      atomic.Uint64
	state           atomic.Int32
}

// connection is the Connected half of the camera: the running acquisition
// goroutine and the channels used to talk to it
type connection struct {
	id     string
	source string
	frames chan []byte
	stop   chan struct{}
	done   chan joinResult
}

// joinResult hands the handler back from the acquisition goroutine
type joinResult struct {
	handler Handler
	panic   any
	stack   []byte
}

// Stats is a point-in-time snapshot of a camera
type Stats struct {
	Backend         string `json:"backend"`
	State           string `json:"state"`
	Source          string `json:"source,omitempty"`
	ConnectionID    string `json:"connection_id,omitempty"`
	FrameRate       uint16 `json:"frame_rate"`
	TargetFrameRate uint16 `json:"target_frame_rate"`
	FramesCaptured  uint64 `json:"frames_captured"`
	ReadErrors      uint64 `json:"read_errors"`
	Buffered        int    `json:"buffered"`
}

// Camera drives one Handler through two states. While waiting the camera
// holds the handler itself; while connected the handler belongs to the
// acquisition goroutine and the camera holds only the connection. Exactly
// one of handler and conn is non-nil.
type Camera struct {
	mu      sync.Mutex
	handler Handler
	conn    *connection

	// current mirrors conn for lock-free readers (Stats, Source)
	current atomic.Pointer[connection]
	backend string
	ctr     counters
}

// New creates a waiting camera around handler
func New(handler Handler, targetFrameRate uint16) *Camera {
	c := &Camera{
		handler: handler,
		backend: handler.Name(),
	}
	c.ctr.targetFrameRate.Store(uint32(targetFrameRate))
	c.ctr.state.Store(int32(StateDisconnected))
	return c
}

func (c *Camera) log() *zerolog.Logger {
	l := logger.WithComponent("camera").With().Str("backend", c.backend).Logger()
	return &l
}

// Connect connects the handler to source and starts acquisition.
// Connecting again to the current source is a no-op; connecting to a
// different source while connected returns ErrAlreadyConnected.
func (c *Camera) Connect(source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.log()

	if c.conn != nil {
		if c.conn.source == source {
			log.Debug().Str("source", source).Msg("Already connected to source")
			return nil
		}
		return ErrAlreadyConnected
	}

	c.ctr.state.Store(int32(StateConnecting))
	log.Info().Str("source", source).Msg("Connecting")

	if err := c.handler.Connect(source); err != nil {
		err = asCameraError(err)
		c.ctr.state.Store(int32(StateOf(err)))
		log.Warn().Err(err).Str("source", source).Msg("Connect failed")
		return err
	}

	conn := &connection{
		id:     uuid.NewString(),
		source: source,
		frames: make(chan []byte, FrameBufferSize),
		stop:   make(chan struct{}),
		done:   make(chan joinResult, 1),
	}

	h := c.handler
	c.handler = nil
	c.conn = conn
	c.current.Store(conn)
	c.ctr.shouldStop.Store(false)
	c.ctr.state.Store(int32(StateConnected))

	go c.acquire(h, conn)

	log.Info().
		Str("source", source).
		Str("connection_id", conn.id).
		Msg("Connected, acquisition started")
	return nil
}

// Disconnect stops acquisition, waits for the acquisition goroutine to
// exit and takes the handler back. If that goroutine panicked the panic is
// raised again here.
func (c *Camera) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectLocked()
}

func (c *Camera) disconnectLocked() error {
	if c.conn == nil {
		return ErrNotConnected
	}

	conn := c.conn
	c.ctr.shouldStop.Store(true)
	close(conn.stop)

	// the goroutine closes frames on exit; draining unblocks a pending send
	for range conn.frames {
	}
	res := <-conn.done

	res.handler.Disconnect()
	c.handler = res.handler
	c.conn = nil
	c.current.Store(nil)
	c.ctr.frameRate.Store(0)
	c.ctr.state.Store(int32(StateDisconnected))

	c.log().Info().
		Str("source", conn.source).
		Str("connection_id", conn.id).
		Msg("Disconnected")

	if res.panic != nil {
		panic(fmt.Sprintf("camera: acquisition goroutine panicked: %v\n\n%s", res.panic, res.stack))
	}
	return nil
}

// Close disconnects if connected and releases the handler's transport
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.disconnectLocked()
	}
	c.handler.Disconnect()
	return nil
}

// GetFrame blocks until the next frame is available. It returns
// ErrDisconnected while waiting, and an error if acquisition has ended.
func (c *Camera) GetFrame() ([]byte, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil, ErrDisconnected
	}

	frame, ok := <-conn.frames
	if !ok {
		return nil, Errorf("acquisition stopped")
	}
	return frame, nil
}

// TryGetFrame is the non-blocking form of GetFrame; ok is false when no
// frame is queued.
func (c *Camera) TryGetFrame() (frame []byte, ok bool, err error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil, false, ErrDisconnected
	}

	select {
	case frame, ok = <-conn.frames:
		if !ok {
			return nil, false, Errorf("acquisition stopped")
		}
		return frame, true, nil
	default:
		return nil, false, nil
	}
}

// FrameRate returns the achieved frame rate; 0 until the first frame has
// been paced
func (c *Camera) FrameRate() uint16 {
	return uint16(c.ctr.frameRate.Load())
}

// TargetFrameRate returns the frame rate the acquisition loop paces to
func (c *Camera) TargetFrameRate() uint16 {
	return uint16(c.ctr.targetFrameRate.Load())
}

// SetTargetFrameRate changes the pacing target; 0 disables pacing.
// The next loop iteration picks it up. A pacing sleep already under way
// runs to the old interval.
func (c *Camera) SetTargetFrameRate(fps uint16) {
	c.ctr.targetFrameRate.Store(uint32(fps))
}

// State returns Connected while connected, otherwise the result of the
// last connection attempt
func (c *Camera) State() State {
	return State(c.ctr.state.Load())
}

// Connected reports whether an acquisition goroutine is running
func (c *Camera) Connected() bool {
	return c.current.Load() != nil
}

// Source returns the connected source, or "" while waiting
func (c *Camera) Source() string {
	if conn := c.current.Load(); conn != nil {
		return conn.source
	}
	return ""
}

// Backend returns the handler's name
func (c *Camera) Backend() string {
	return c.backend
}

// Buffered returns how many frames are queued for the caller
func (c *Camera) Buffered() int {
	if conn := c.current.Load(); conn != nil {
		return len(conn.frames)
	}
	return 0
}

// Stats returns a snapshot of the camera's counters
func (c *Camera) Stats() Stats {
	st := Stats{
		Backend:         c.backend,
		State:           c.State().String(),
		FrameRate:       c.FrameRate(),
		TargetFrameRate: c.TargetFrameRate(),
		FramesCaptured:  c.ctr.framesCaptured.Load(),
		ReadErrors:      c.ctr.readErrors.Load(),
	}
	if conn := c.current.Load(); conn != nil {
		st.Source = conn.source
		st.ConnectionID = conn.id
		st.Buffered = len(conn.frames)
	}
	return st
}

// acquire is the acquisition goroutine. It owns h until it returns it
// through conn.done.
func (c *Camera) acquire(h Handler, conn *connection) {
	l := c.log().With().Str("connection_id", conn.id).Logger()
	log := &l

	defer func() {
		res := joinResult{handler: h}
		if r := recover(); r != nil {
			res.panic = r
			res.stack = debug.Stack()
			log.Error().Interface("panic", r).Msg("Acquisition goroutine panicked")
		}
		close(conn.frames)
		conn.done <- res
	}()

	for !c.ctr.shouldStop.Load() {
		start := time.Now()

		frame, err := h.GetFrame()
		if err != nil {
			c.ctr.readErrors.Add(1)
			log.Trace().Err(err).Msg("Frame read failed, skipping")
		} else {
			select {
			case conn.frames <- frame:
				c.ctr.framesCaptured.Add(1)
			case <-conn.stop:
				log.Debug().Int("bytes", len(frame)).Msg("Dropping frame, camera disconnecting")
				continue
			}
		}

		target := c.ctr.targetFrameRate.Load()
		switch {
		case target > 0:
			interval := time.Second / time.Duration(target)
			sleep(interval-time.Since(start), conn.stop)
		case err != nil:
			sleep(unpacedRetryDelay, conn.stop)
		}

		if err == nil {
			c.ctr.frameRate.Store(achievedRate(time.Since(start)))
		}
	}

	log.Debug().Msg("Acquisition stopped")
}

// achievedRate converts one iteration's duration into frames per second
func achievedRate(elapsed time.Duration) uint32 {
	ms := elapsed.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return uint32(1000 / ms)
}

// sleep waits for d or until stop is closed
func sleep(d time.Duration, stop <-chan struct{}) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-stop:
	}
}

func asCameraError(err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return Errorf("%v", err)
}
