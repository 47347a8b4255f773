package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bryanchriswhite/eyecam/internal/camera"
	"github.com/bryanchriswhite/eyecam/internal/capture"
	"github.com/bryanchriswhite/eyecam/internal/logger"
	"github.com/spf13/cobra"
)

var grabCmd = &cobra.Command{
	Use:   "grab",
	Short: "Capture frames to disk",
	Long: `Connect to the configured camera, write a number of frames to a
directory as frame-0001.jpg, frame-0002.jpg and so on, then disconnect.`,
	Example: `  # Grab 10 frames into the current directory
  eyecam grab

  # Grab 100 frames from an OpenIris camera
  eyecam grab --backend openiris --source /dev/ttyACM0 --count 100 --out ./frames`,
	RunE: runGrab,
}

var (
	grabCount   int
	grabOut     string
	grabTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(grabCmd)

	grabCmd.Flags().IntVarP(&grabCount, "count", "n", 10, "number of frames to capture")
	grabCmd.Flags().StringVarP(&grabOut, "out", "o", ".", "output directory")
	grabCmd.Flags().DurationVar(&grabTimeout, "timeout", 5*time.Second, "give up when no frame arrives for this long")
}

func runGrab(cmd *cobra.Command, args []string) error {
	if grabCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("grab")

	if err := os.MkdirAll(grabOut, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	kind, err := camera.ParseKind(cfg.Camera.Backend)
	if err != nil {
		return err
	}
	cam, err := capture.NewCameraWithOptions(kind, uint16(cfg.Camera.TargetFPS), capture.OptionsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create camera: %w", err)
	}
	defer cam.Close()

	if err := cam.Connect(cfg.Camera.Source); err != nil {
		return fmt.Errorf("failed to connect to %q: %w", cfg.Camera.Source, err)
	}

	start := time.Now()
	for i := 1; i <= grabCount; i++ {
		frame, err := nextFrame(cam, grabTimeout)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}

		path := filepath.Join(grabOut, fmt.Sprintf("frame-%04d.jpg", i))
		if err := os.WriteFile(path, frame, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		log.Debug().Str("path", path).Int("bytes", len(frame)).Msg("Wrote frame")
	}
	elapsed := time.Since(start)

	st := cam.Stats()
	fmt.Printf("Captured %d frames to %s in %v (%.1f fps, camera reports %d fps, %d read errors)\n",
		grabCount, grabOut, elapsed.Round(time.Millisecond),
		float64(grabCount)/elapsed.Seconds(), st.FrameRate, st.ReadErrors)

	return cam.Disconnect()
}

// nextFrame waits up to timeout for the camera's next frame
func nextFrame(cam *camera.Camera, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		frame, ok, err := cam.TryGetFrame()
		if err != nil {
			return nil, err
		}
		if ok {
			return frame, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no frame within %v", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
