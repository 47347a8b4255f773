package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/eyecam/internal/camera"
	"github.com/bryanchriswhite/eyecam/internal/capture"
	"github.com/bryanchriswhite/eyecam/internal/config"
	"github.com/bryanchriswhite/eyecam/internal/serialframe"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage eyecam configuration",
	Long: `View and manage eyecam configuration settings.

Settings come from the config file, then EYECAM_* environment variables,
then command line flags. Only 'config set' writes to the file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the settings eyecam would run with",
	Long: `Display the effective settings: the config file with environment and
flag overrides applied. Use --file to see the file alone.`,
	Example: `  # Effective settings as YAML (default)
  eyecam config show

  # What 'serve --backend openiris' would use, as JSON
  eyecam config show --backend openiris --format json

  # The config file without overrides
  eyecam config show --file`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value. Nested keys use dots. The value
is parsed according to the key's type and validated before saving.`,
	Example: `  # Use the OpenIris backend
  eyecam config set camera.backend openiris
  eyecam config set camera.source /dev/ttyACM0

  # Run unpaced
  eyecam config set camera.target_fps 0

  # Set server port
  eyecam config set server_port 9090`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a value from the config file. A section key such as 'serial' prints all of its fields.`,
	Example: `  # Get the camera backend
  eyecam config get camera.backend

  # Get every serial protocol setting
  eyecam config get serial`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate settings and show the resolved camera setup",
	Long: `Validate the effective settings and print the camera backend, source and,
for the openiris backend, the serial link and framing parameters that will be used.`,
	RunE: runConfigCheck,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var (
	formatFlag   string
	showFileOnly bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configCheckCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
	configShowCmd.Flags().BoolVar(&showFileOnly, "file", false, "show the config file without overrides")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	if showFileOnly {
		configMgr, err := config.NewManager(GetConfigFile())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = configMgr.Get()
	} else {
		_, effective, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = effective
	}

	return encode(cfg, formatFlag)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := configMgr.Set(key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	fmt.Printf("Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	value, err := configMgr.Lookup(args[0])
	if err != nil {
		return err
	}
	if section, ok := value.(map[string]interface{}); ok {
		return encode(section, "yaml")
	}
	fmt.Println(value)
	return nil
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kind, err := camera.ParseKind(cfg.Camera.Backend)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	source := cfg.Camera.Source
	if source == "" {
		source = "(none, connect will fail until one is set)"
	}
	fmt.Fprintf(w, "backend\t%s\t%s\n", kind, kind.Description())
	fmt.Fprintf(w, "source\t%s\n", source)
	if cfg.Camera.TargetFPS == 0 {
		fmt.Fprintf(w, "target_fps\t0\tunpaced\n")
	} else {
		fmt.Fprintf(w, "target_fps\t%d\n", cfg.Camera.TargetFPS)
	}

	if kind == camera.KindOpenIris {
		serial := capture.OptionsFromConfig(cfg).Serial
		frame := withFrameDefaults(serial.Frame)
		fmt.Fprintf(w, "baud_rate\t%d\n", serial.BaudRate)
		fmt.Fprintf(w, "read_timeout\t%v\n", serial.ReadTimeout)
		fmt.Fprintf(w, "peek_size\t%d\n", frame.PeekSize)
		fmt.Fprintf(w, "backlog_limit\t%d\n", frame.BacklogLimit)
		fmt.Fprintf(w, "max_scan_windows\t%d\n", frame.MaxScan)
	}

	fmt.Fprintf(w, "status\tok\n")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println(configMgr.GetConfigPath())
	return nil
}

// withFrameDefaults fills zero framing fields the way the serial reader does
func withFrameDefaults(c serialframe.Config) serialframe.Config {
	d := serialframe.DefaultConfig()
	if c.PeekSize == 0 {
		c.PeekSize = d.PeekSize
	}
	if c.BacklogLimit == 0 {
		c.BacklogLimit = d.BacklogLimit
	}
	return c
}

func encode(v interface{}, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(v)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", format)
	}
}
