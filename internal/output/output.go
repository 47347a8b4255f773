package output

// Output defines the interface for frame sinks. Frames are JPEG bytes,
// passed through as the camera produced them.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output. The output must not keep a
	// reference the caller later mutates; frames from a Camera are never
	// reused, so passing them straight through is fine.
	WriteFrame(frame []byte) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	// ClientBuffer is the number of frames queued per viewer before frames
	// are skipped for that viewer
	ClientBuffer int
	// TargetFPS is informational, shown on the stats page
	TargetFPS int
}
