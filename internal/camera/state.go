package camera

import (
	"errors"
	"fmt"
)

// State is both a connection result and the last known state of a camera
type State int

const (
	StateTimeout State = iota
	StateConnected
	StateReadFailed
	StateConnecting
	StateDisconnected
	StateInvalidSource
	StateError
)

func (s State) String() string {
	switch s {
	case StateTimeout:
		return "timeout"
	case StateConnected:
		return "connected"
	case StateReadFailed:
		return "read_failed"
	case StateConnecting:
		return "connecting"
	case StateDisconnected:
		return "disconnected"
	case StateInvalidSource:
		return "invalid_source"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Error is the error form of a State. Message is only meaningful for
// StateError and for the usage errors below.
type Error struct {
	State   State
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "camera: " + e.State.String()
	}
	return fmt.Sprintf("camera: %s: %s", e.State, e.Message)
}

// Is matches on State so errors.Is(err, ErrTimeout) works for any
// timeout regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrTimeout       = &Error{State: StateTimeout}
	ErrReadFailed    = &Error{State: StateReadFailed}
	ErrDisconnected  = &Error{State: StateDisconnected}
	ErrInvalidSource = &Error{State: StateInvalidSource}

	// ErrAlreadyConnected is returned by Connect while connected to another source
	ErrAlreadyConnected = &Error{State: StateConnected, Message: "already connected"}
	// ErrNotConnected is returned by Disconnect while waiting
	ErrNotConnected = &Error{State: StateDisconnected, Message: "camera is not connected"}
)

// Errorf builds a StateError with a formatted message
func Errorf(format string, args ...any) *Error {
	return &Error{State: StateError, Message: fmt.Sprintf(format, args...)}
}

// StateOf returns the State carried by err. Errors that are not camera
// errors map to StateError.
func StateOf(err error) State {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.State
	}
	return StateError
}

// IsUsageError reports whether err is a caller misuse rather than a transport fault
func IsUsageError(err error) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce == ErrAlreadyConnected || ce == ErrNotConnected
}
