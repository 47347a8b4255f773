package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/eyecam/internal/api"
	"github.com/bryanchriswhite/eyecam/internal/camera"
	"github.com/bryanchriswhite/eyecam/internal/capture"
	"github.com/bryanchriswhite/eyecam/internal/logger"
	"github.com/bryanchriswhite/eyecam/internal/output"
	"github.com/bryanchriswhite/eyecam/internal/stream"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the eyecam server",
	Long: `Start the camera and the HTTP server.

The server exposes camera control under /api, an MJPEG stream at /stream
and a viewer page at /.`,
	Example: `  # Serve the configured camera on the default port (8080)
  eyecam serve

  # Serve an OpenIris camera on a custom port
  eyecam serve --backend openiris --source /dev/ttyACM0 --port 9090

  # Serve an RTSP feed, unpaced, with debug logging
  eyecam serve --backend opencv --source rtsp://10.0.0.5/eye --fps 0 --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("backend", cfg.Camera.Backend).
		Str("source", cfg.Camera.Source).
		Int("target_fps", cfg.Camera.TargetFPS).
		Msg("Configuration loaded")

	kind, err := camera.ParseKind(cfg.Camera.Backend)
	if err != nil {
		return err
	}
	cam, err := capture.NewCameraWithOptions(kind, uint16(cfg.Camera.TargetFPS), capture.OptionsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create camera: %w", err)
	}

	if cfg.Camera.AutoConnect {
		if err := cam.Connect(cfg.Camera.Source); err != nil {
			log.Warn().Err(err).Msg("Camera not connected, use POST /api/camera/connect to retry")
		}
	}

	var (
		mjpeg *output.MJPEGOutput
		pump  *stream.Pump
	)
	if cfg.Stream.Enabled {
		mjpeg = output.NewMJPEGOutput(output.Config{
			ClientBuffer: cfg.Stream.ClientBuffer,
			TargetFPS:    cfg.Camera.TargetFPS,
		})
		if err := mjpeg.Start(); err != nil {
			cam.Close()
			return fmt.Errorf("failed to start MJPEG output: %w", err)
		}
		pump = stream.NewPump(cam, mjpeg)
		if err := pump.Start(); err != nil {
			mjpeg.Stop()
			cam.Close()
			return fmt.Errorf("failed to start stream pump: %w", err)
		}
	}

	server := api.NewServer(cam, configMgr, mjpeg, pump)
	server.SetEffectiveConfig(cfg)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Str("web_ui", fmt.Sprintf("http://localhost:%d", cfg.ServerPort)).
		Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort)).
		Msg("eyecam is running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully")
	case runErr = <-serveErr:
		log.Error().Err(runErr).Msg("Server stopped")
	}

	// streams end first so Shutdown does not wait on them
	if pump != nil {
		pump.Stop()
		mjpeg.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	if err := cam.Close(); err != nil {
		log.Warn().Err(err).Msg("Camera close failed")
	}
	if pump != nil {
		pump.Wait()
	}

	log.Info().Msg("Stopped")
	return runErr
}
