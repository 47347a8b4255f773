package openiris

import (
	"fmt"
	"time"
)

func openPort(name string, baud int, timeout time.Duration) (Port, error) {
	return nil, fmt.Errorf("serial ports are not supported on windows")
}
