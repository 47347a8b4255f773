// Package openiris is the camera backend for OpenIris firmware, which
// streams length-prefixed JPEG frames over a serial link.
package openiris

import (
	"io"
	"runtime"
	"time"

	"github.com/bryanchriswhite/eyecam/internal/camera"
	"github.com/bryanchriswhite/eyecam/internal/logger"
	"github.com/bryanchriswhite/eyecam/internal/serialframe"
)

const (
	// DefaultReadTimeout bounds every read so a silent device cannot stall
	// a disconnect
	DefaultReadTimeout = 100 * time.Millisecond

	baudRate       = 3_000_000
	baudRateDarwin = 115_200
)

// Port is an open serial link
type Port interface {
	serialframe.Port
	io.Closer
}

// Opener opens the serial device name. Flow control is always off.
type Opener func(name string, baud int, timeout time.Duration) (Port, error)

// Config holds the serial link settings
type Config struct {
	BaudRate    int
	ReadTimeout time.Duration
	Frame       serialframe.Config

	// Open defaults to the system serial driver
	Open Opener
}

// DefaultBaudRate returns the link speed for this platform. The higher rate
// is unreliable on macOS.
func DefaultBaudRate() int {
	if runtime.GOOS == "darwin" {
		return baudRateDarwin
	}
	return baudRate
}

// DefaultConfig returns the settings the firmware expects
func DefaultConfig() Config {
	return Config{
		BaudRate:    DefaultBaudRate(),
		ReadTimeout: DefaultReadTimeout,
		Frame:       serialframe.DefaultConfig(),
		Open:        openPort,
	}
}

// Camera reads frames from one serial port
type Camera struct {
	cfg    Config
	port   Port
	source string
	reader *serialframe.Reader
}

// New creates a disconnected OpenIris camera. Zero fields in cfg take
// their defaults.
func New(cfg Config) *Camera {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Open == nil {
		cfg.Open = openPort
	}
	return &Camera{cfg: cfg}
}

// Connect opens the serial device source. A different source closes the
// current port first.
func (c *Camera) Connect(source string) error {
	log := logger.WithComponent("openiris")

	if c.port != nil {
		if c.source == source {
			log.Trace().Str("source", source).Msg("Skipping connection, already connected")
			return nil
		}
		log.Info().Str("from", c.source).Str("to", source).Msg("Switching serial port")
		c.Disconnect()
	}

	if source == "" {
		return camera.ErrInvalidSource
	}

	log.Info().
		Str("source", source).
		Int("baud", c.cfg.BaudRate).
		Dur("read_timeout", c.cfg.ReadTimeout).
		Msg("Connecting to serial port")

	port, err := c.cfg.Open(source, c.cfg.BaudRate, c.cfg.ReadTimeout)
	if err != nil {
		return camera.Errorf("failed to open port: %v", err)
	}

	c.port = port
	c.source = source
	c.reader = serialframe.NewReader(port, c.cfg.Frame)

	log.Info().Str("source", source).Msg("Connected to serial port")
	return nil
}

// GetFrame reads one frame. Timeouts and desync surface as StateError and
// are retried by the acquisition loop.
func (c *Camera) GetFrame() ([]byte, error) {
	if c.port == nil {
		return nil, camera.ErrDisconnected
	}

	frame, err := c.reader.ReadFrame()
	if err != nil {
		return nil, camera.Errorf("%v", err)
	}
	return frame, nil
}

// Disconnect closes the port
func (c *Camera) Disconnect() {
	if c.port == nil {
		return
	}

	if err := c.port.Close(); err != nil {
		logger.WithComponent("openiris").Warn().
			Err(err).
			Str("source", c.source).
			Msg("Failed to close serial port")
	}

	c.port = nil
	c.reader = nil
	c.source = ""
}

func (c *Camera) Name() string { return "openiris" }
