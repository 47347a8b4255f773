// Package capture builds camera backends by kind.
package capture

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/eyecam/internal/camera"
	"github.com/bryanchriswhite/eyecam/internal/capture/noop"
	"github.com/bryanchriswhite/eyecam/internal/capture/opencv"
	"github.com/bryanchriswhite/eyecam/internal/capture/openiris"
	"github.com/bryanchriswhite/eyecam/internal/config"
	"github.com/bryanchriswhite/eyecam/internal/logger"
	"github.com/bryanchriswhite/eyecam/internal/serialframe"
)

// Options carries backend specific settings
type Options struct {
	Serial openiris.Config
}

// DefaultOptions returns the defaults for every backend
func DefaultOptions() Options {
	return Options{Serial: openiris.DefaultConfig()}
}

// OptionsFromConfig maps the config file onto backend options
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg.Serial.BaudRate > 0 {
		opts.Serial.BaudRate = cfg.Serial.BaudRate
	}
	if cfg.Serial.ReadTimeoutMs > 0 {
		opts.Serial.ReadTimeout = time.Duration(cfg.Serial.ReadTimeoutMs) * time.Millisecond
	}
	opts.Serial.Frame = serialframe.Config{
		PeekSize:     cfg.Serial.PeekSize,
		BacklogLimit: cfg.Serial.BacklogLimit,
		MaxScan:      cfg.Serial.MaxScanWindows,
	}
	return opts
}

// NewHandler creates a disconnected handler of the given kind
func NewHandler(kind camera.Kind, opts Options) (camera.Handler, error) {
	log := logger.WithComponent("capture")

	var h camera.Handler
	switch kind {
	case camera.KindNoop:
		h = noop.New()
	case camera.KindOpenCV:
		h = opencv.New()
	case camera.KindOpenIris:
		h = openiris.New(opts.Serial)
	default:
		return nil, fmt.Errorf("unknown camera backend %q", kind)
	}

	log.Debug().Str("backend", h.Name()).Msg("Created camera handler")
	return h, nil
}

// NewCamera creates a waiting camera of the given kind with default options
func NewCamera(kind camera.Kind, targetFPS uint16) (*camera.Camera, error) {
	return NewCameraWithOptions(kind, targetFPS, DefaultOptions())
}

// NewCameraWithOptions creates a waiting camera of the given kind
func NewCameraWithOptions(kind camera.Kind, targetFPS uint16, opts Options) (*camera.Camera, error) {
	h, err := NewHandler(kind, opts)
	if err != nil {
		return nil, err
	}
	return camera.New(h, targetFPS), nil
}
