package camera

import (
	"fmt"
	"strings"
)

// Handler is implemented by each camera backend. A handler owns its
// transport and is never called from two goroutines at once: the Camera
// hands it to the acquisition goroutine on Connect and takes it back on
// Disconnect. Implementations must therefore be safe to move between
// goroutines, but need no locking of their own.
type Handler interface {
	// Connect opens or validates the transport named by source.
	// Connecting again to the same source succeeds without reopening.
	Connect(source string) error

	// GetFrame returns exactly one frame payload. It may block on I/O.
	// ErrDisconnected before Connect, ErrReadFailed for a transient
	// empty read that the caller should retry.
	GetFrame() ([]byte, error)

	// Disconnect releases the transport but leaves the handler reusable.
	// Safe to call repeatedly and before any Connect.
	Disconnect()

	// Name returns the backend name (e.g. "noop", "openiris")
	Name() string
}

// Kind names one of the supported backends
type Kind string

const (
	KindNoop     Kind = "noop"
	KindOpenCV   Kind = "opencv"
	KindOpenIris Kind = "openiris"
)

// Kinds returns every supported backend kind
func Kinds() []Kind {
	return []Kind{KindNoop, KindOpenCV, KindOpenIris}
}

// Description returns a one-line summary of the backend
func (k Kind) Description() string {
	switch k {
	case KindNoop:
		return "stub backend, always connects and yields empty frames"
	case KindOpenCV:
		return "OpenCV video capture (files, URLs, capture devices)"
	case KindOpenIris:
		return "OpenIris serial link streaming length-prefixed JPEG frames"
	default:
		return ""
	}
}

// ParseKind parses a backend name, case-insensitively
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown camera backend %q (use: noop, opencv, openiris)", s)
}
