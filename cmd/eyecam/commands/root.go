package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/bryanchriswhite/eyecam/internal/config"
	"github.com/bryanchriswhite/eyecam/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "eyecam",
		Short: "eyecam - camera frame acquisition for eye tracking",
		Long: `eyecam acquires frames from an eye-tracking camera and serves them
over HTTP.

Backends:
  • noop      stub camera, for wiring tests
  • opencv    OpenCV video capture (devices, files, RTSP/HTTP URLs)
  • openiris  OpenIris firmware over a serial link

Settings come from the config file, then EYECAM_* environment variables,
then flags.`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/eyecam/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human readable console logs")
	rootCmd.PersistentFlags().String("backend", "", "camera backend (noop, opencv, openiris)")
	rootCmd.PersistentFlags().String("source", "", "camera source: serial device, device index, file or URL")
	rootCmd.PersistentFlags().Int("fps", 0, "target frame rate, 0 for unpaced")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
	viper.BindPFlag("camera.backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("camera.source", rootCmd.PersistentFlags().Lookup("source"))
	viper.BindPFlag("camera.target_fps", rootCmd.PersistentFlags().Lookup("fps"))
}

func initConfig() {
	viper.SetEnvPrefix("EYECAM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file and layers environment and flag
// overrides on top. Overrides are not written back to the file.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	cfg := configMgr.Get()
	if viper.IsSet("server_port") {
		cfg.ServerPort = viper.GetInt("server_port")
	}
	if viper.IsSet("log_level") {
		cfg.LogLevel = viper.GetString("log_level")
	}
	if viper.IsSet("log_pretty") {
		cfg.LogPretty = viper.GetBool("log_pretty")
	}
	if viper.IsSet("camera.backend") {
		cfg.Camera.Backend = viper.GetString("camera.backend")
	}
	if viper.IsSet("camera.source") {
		cfg.Camera.Source = viper.GetString("camera.source")
	}
	if viper.IsSet("camera.target_fps") {
		cfg.Camera.TargetFPS = viper.GetInt("camera.target_fps")
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid settings: %w", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, cfg, nil
}
