package config

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	LogPretty  bool   `json:"log_pretty" yaml:"log_pretty"`

	Camera CameraConfig `json:"camera" yaml:"camera"`
	Serial SerialConfig `json:"serial" yaml:"serial"`
	Stream StreamConfig `json:"stream" yaml:"stream"`
}

// CameraConfig selects the backend and what it connects to
type CameraConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	// Source is a serial device, capture device index, file or URL
	Source string `json:"source" yaml:"source"`
	// TargetFPS of 0 leaves acquisition unpaced
	TargetFPS   int  `json:"target_fps" yaml:"target_fps"`
	AutoConnect bool `json:"auto_connect" yaml:"auto_connect"`
}

// SerialConfig tunes the OpenIris serial link. Zero values take the
// backend defaults.
type SerialConfig struct {
	BaudRate       int `json:"baud_rate" yaml:"baud_rate"`
	ReadTimeoutMs  int `json:"read_timeout_ms" yaml:"read_timeout_ms"`
	PeekSize       int `json:"peek_size" yaml:"peek_size"`
	BacklogLimit   int `json:"backlog_limit" yaml:"backlog_limit"`
	MaxScanWindows int `json:"max_scan_windows" yaml:"max_scan_windows"`
}

// StreamConfig controls the MJPEG output
type StreamConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// ClientBuffer is how many frames a slow viewer may lag before frames
	// are skipped for it
	ClientBuffer int `json:"client_buffer" yaml:"client_buffer"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Camera: CameraConfig{
			Backend:     "noop",
			TargetFPS:   30,
			AutoConnect: true,
		},
		Serial: SerialConfig{
			ReadTimeoutMs:  100,
			PeekSize:       256,
			BacklogLimit:   8192,
			MaxScanWindows: 64,
		},
		Stream: StreamConfig{
			Enabled:      true,
			ClientBuffer: 2,
		},
	}
}
