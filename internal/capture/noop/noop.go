// Package noop is the stub camera backend.
package noop

// Camera always connects and always returns an empty frame
type Camera struct{}

// New creates a stub camera
func New() *Camera {
	return &Camera{}
}

func (c *Camera) Connect(source string) error { return nil }

func (c *Camera) GetFrame() ([]byte, error) { return []byte{}, nil }

func (c *Camera) Disconnect() {}

func (c *Camera) Name() string { return "noop" }
