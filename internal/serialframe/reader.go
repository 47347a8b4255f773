package serialframe

import (
	"errors"
	"fmt"
	"io"

	"github.com/bryanchriswhite/eyecam/internal/logger"
	"github.com/rs/zerolog"
)

const (
	// DefaultPeekSize is the scan window; it should stay below the size of
	// any real JPEG frame
	DefaultPeekSize = 256

	// DefaultBacklogLimit is the unread byte count above which the driver
	// buffer is flushed to keep latency bounded
	DefaultBacklogLimit = 8192

	// DefaultMaxScan caps how many windows one ReadFrame scans for a header
	DefaultMaxScan = 64
)

var (
	// ErrTimeout means a read returned no bytes before the port's timeout
	ErrTimeout = errors.New("serialframe: read timed out")

	// ErrNoHeader means MaxScan windows passed without a frame header
	ErrNoHeader = errors.New("serialframe: no frame header found")
)

// Port is the transport a Reader pulls from. Like a raw-mode serial port
// with a read timeout, Read may return io.EOF when nothing arrived in time.
type Port interface {
	io.Reader

	// Available returns the number of received bytes not yet read
	Available() (int, error)

	// Flush discards everything the driver has buffered
	Flush() error
}

// Config tunes a Reader
type Config struct {
	PeekSize     int `json:"peek_size" yaml:"peek_size"`
	BacklogLimit int `json:"backlog_limit" yaml:"backlog_limit"`
	// MaxScan of 0 scans until the port errors
	MaxScan int `json:"max_scan_windows" yaml:"max_scan_windows"`
}

// DefaultConfig returns the protocol defaults
func DefaultConfig() Config {
	return Config{
		PeekSize:     DefaultPeekSize,
		BacklogLimit: DefaultBacklogLimit,
		MaxScan:      DefaultMaxScan,
	}
}

// Reader extracts frames from a Port. It keeps no bytes between calls;
// whatever is left after a frame stays in the driver's buffer.
type Reader struct {
	port Port
	cfg  Config
}

// NewReader creates a Reader on port. Non-positive peek size or backlog
// limit fall back to the defaults.
func NewReader(port Port, cfg Config) *Reader {
	if cfg.PeekSize <= 0 {
		cfg.PeekSize = DefaultPeekSize
	}
	if cfg.BacklogLimit <= 0 {
		cfg.BacklogLimit = DefaultBacklogLimit
	}
	return &Reader{port: port, cfg: cfg}
}

// ReadFrame returns the next frame payload. It scans window by window for
// a header, reads whatever part of the payload the scan did not already
// pull in, and afterwards flushes the port if its backlog has grown past
// the limit. A flush can cost a partially received frame.
func (r *Reader) ReadFrame() ([]byte, error) {
	log := logger.WithComponent("serialframe")
	defer r.dropBacklog(log)

	var pending []byte
	for windows := 0; ; windows++ {
		if r.cfg.MaxScan > 0 && windows >= r.cfg.MaxScan {
			return nil, fmt.Errorf("%w after %d windows", ErrNoHeader, windows)
		}

		window, err := r.read(r.cfg.PeekSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read bytes from serial port buffer: %w", err)
		}
		log.Trace().Int("bytes", len(window)).Msg("Read bytes during peek")

		pending = append(pending, window...)
		length, start, keep, err := scan(pending)
		if errors.Is(err, ErrNeedMore) {
			log.Trace().Int("kept", len(pending)-keep).Msg("No header yet, peeking further")
			pending = append(pending[:0], pending[keep:]...)
			continue
		}

		return r.payload(pending[start:], length, log)
	}
}

// payload completes body to length bytes from the port and copies it out
func (r *Reader) payload(body []byte, length int, log *zerolog.Logger) ([]byte, error) {
	if missing := length - len(body); missing > 0 {
		rest, err := r.read(missing)
		if err != nil {
			return nil, fmt.Errorf("failed to read remaining bytes from serial port buffer: %w", err)
		}
		body = append(body, rest...)
	}

	if len(body) < length {
		log.Warn().
			Int("declared", length).
			Int("received", len(body)).
			Msg("Incomplete jpeg frame despite reading declared length")
		return nil, ErrIncompleteFrame
	}

	frame := make([]byte, length)
	copy(frame, body)
	return frame, nil
}

// read reads up to n bytes. A timeout after some bytes have arrived ends
// the read early with what was received; a timeout with nothing received
// is ErrTimeout.
func (r *Reader) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := r.port.Read(buf[got:])
		got += m
		if err == nil && m > 0 {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if got == 0 {
			return nil, ErrTimeout
		}
		break
	}
	return buf[:got], nil
}

// dropBacklog flushes the port once its unread backlog passes the limit
func (r *Reader) dropBacklog(log *zerolog.Logger) {
	leftover, err := r.port.Available()
	if err != nil {
		log.Error().Err(err).Msg("Failed to query leftover bytes in serial port")
		return
	}
	if leftover <= r.cfg.BacklogLimit {
		return
	}

	log.Trace().Int("bytes", leftover).Msg("Dropping leftover bytes")
	if err := r.port.Flush(); err != nil {
		log.Error().Err(err).Msg("Failed to drop leftover bytes")
	}
}
