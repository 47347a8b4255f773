// Package stream moves frames from a camera into an output.
package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/eyecam/internal/camera"
	"github.com/bryanchriswhite/eyecam/internal/logger"
	"github.com/bryanchriswhite/eyecam/internal/output"
)

// DefaultRetryInterval is how long the pump waits before asking a
// disconnected camera again
const DefaultRetryInterval = 250 * time.Millisecond

// Stats counts what the pump has moved
type Stats struct {
	Running    bool   `json:"running"`
	Forwarded  uint64 `json:"forwarded"`
	SinkErrors uint64 `json:"sink_errors"`
}

// Pump forwards every frame from a Camera to an Output on its own goroutine
type Pump struct {
	cam   *camera.Camera
	out   output.Output
	retry time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}

	forwarded  atomic.Uint64
	sinkErrors atomic.Uint64
}

// NewPump creates a stopped pump
func NewPump(cam *camera.Camera, out output.Output) *Pump {
	return &Pump{
		cam:   cam,
		out:   out,
		retry: DefaultRetryInterval,
	}
}

// SetRetryInterval changes the wait between attempts while the camera is
// not delivering. Call before Start.
func (p *Pump) SetRetryInterval(d time.Duration) {
	p.retry = d
}

// Start begins forwarding
func (p *Pump) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pump already running")
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stopChan, p.done)

	logger.WithComponent("stream").Info().
		Str("backend", p.cam.Backend()).
		Str("output", p.out.Name()).
		Msg("Pump started")
	return nil
}

// Stop signals the pump to exit. A pump blocked waiting for a frame exits
// once the next frame arrives or the camera disconnects; use Wait to join.
func (p *Pump) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	close(p.stopChan)
}

// Wait blocks until the pump goroutine has exited
func (p *Pump) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

// IsRunning reports whether the pump has been started and not stopped
func (p *Pump) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns a snapshot of the counters
func (p *Pump) Stats() Stats {
	return Stats{
		Running:    p.IsRunning(),
		Forwarded:  p.forwarded.Load(),
		SinkErrors: p.sinkErrors.Load(),
	}
}

func (p *Pump) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	log := logger.WithComponent("stream")

	for {
		select {
		case <-stop:
			log.Info().Uint64("forwarded", p.forwarded.Load()).Msg("Pump stopped")
			return
		default:
		}

		frame, err := p.cam.GetFrame()
		if err != nil {
			log.Trace().Err(err).Msg("No frame from camera, retrying")
			select {
			case <-stop:
			case <-time.After(p.retry):
			}
			continue
		}

		if err := p.out.WriteFrame(frame); err != nil {
			p.sinkErrors.Add(1)
			log.Debug().Err(err).Str("output", p.out.Name()).Msg("Failed to write frame")
			continue
		}
		p.forwarded.Add(1)
	}
}
