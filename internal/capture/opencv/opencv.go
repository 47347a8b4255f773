// Package opencv is the generic video-capture camera backend. A source is
// either a device index ("0") or anything FFmpeg can open: a file, an RTSP
// or HTTP URL.
package opencv

import (
	"strconv"

	"github.com/bryanchriswhite/eyecam/internal/camera"
	"github.com/bryanchriswhite/eyecam/internal/logger"
	"gocv.io/x/gocv"
)

// Camera wraps one gocv.VideoCapture. Frames are re-encoded as JPEG.
type Camera struct {
	capture *gocv.VideoCapture
	source  string
}

// New creates a disconnected camera
func New() *Camera {
	return &Camera{}
}

// Connect opens source. A different source closes the current capture
// first.
func (c *Camera) Connect(source string) error {
	log := logger.WithComponent("opencv")

	if c.capture != nil {
		if c.source == source {
			log.Trace().Str("source", source).Msg("Skipping connection, already connected")
			return nil
		}
		log.Info().Str("from", c.source).Str("to", source).Msg("Switching capture source")
		c.Disconnect()
	}

	if source == "" {
		return camera.ErrInvalidSource
	}

	capture, err := open(source)
	if err != nil {
		return camera.Errorf("failed to open camera: %v", err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return camera.ErrTimeout
	}

	c.capture = capture
	c.source = source

	log.Info().
		Str("source", source).
		Float64("fps", capture.Get(gocv.VideoCaptureFPS)).
		Float64("width", capture.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", capture.Get(gocv.VideoCaptureFrameHeight)).
		Msg("Opened video capture")
	return nil
}

func open(source string) (*gocv.VideoCapture, error) {
	if id, err := strconv.Atoi(source); err == nil {
		return gocv.VideoCaptureDevice(id)
	}
	return gocv.VideoCaptureFileWithAPI(source, gocv.VideoCaptureFFmpeg)
}

// GetFrame reads the next frame and encodes it as JPEG
func (c *Camera) GetFrame() ([]byte, error) {
	if c.capture == nil {
		return nil, camera.ErrDisconnected
	}

	img := gocv.NewMat()
	defer img.Close()

	if ok := c.capture.Read(&img); !ok || img.Empty() {
		return nil, camera.ErrReadFailed
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, camera.Errorf("failed to encode frame: %v", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory released by Close
	src := buf.GetBytes()
	frame := make([]byte, len(src))
	copy(frame, src)
	return frame, nil
}

// Disconnect releases the capture
func (c *Camera) Disconnect() {
	if c.capture == nil {
		return
	}

	if err := c.capture.Close(); err != nil {
		logger.WithComponent("opencv").Warn().Err(err).Str("source", c.source).Msg("Failed to release capture")
	}
	c.capture = nil
	c.source = ""
}

func (c *Camera) Name() string { return "opencv" }
