//go:build !windows

package openiris

import (
	"time"

	"github.com/pkg/term"
)

// openPort opens name in raw mode. VTIME gives each read the timeout;
// a read that times out returns io.EOF.
func openPort(name string, baud int, timeout time.Duration) (Port, error) {
	t, err := term.Open(name,
		term.Speed(baud),
		term.RawMode,
		term.ReadTimeout(timeout),
		term.FlowControl(term.NONE),
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
