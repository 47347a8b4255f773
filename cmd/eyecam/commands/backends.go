package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/eyecam/internal/camera"
	"github.com/bryanchriswhite/eyecam/internal/config"
	"github.com/spf13/cobra"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List camera backends",
	Long:  `List the camera backends this build supports and mark the configured one.`,
	Example: `  # List backends in table format (default)
  eyecam backends

  # List backends in JSON format
  eyecam backends --format json`,
	RunE: runBackends,
}

var backendsFormat string

type backendInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Configured  bool   `json:"configured"`
}

func init() {
	rootCmd.AddCommand(backendsCmd)

	backendsCmd.Flags().StringVarP(&backendsFormat, "format", "f", "table", "output format (table or json)")
}

func runBackends(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	configured, _ := camera.ParseKind(configMgr.Get().Camera.Backend)

	var backends []backendInfo
	for _, k := range camera.Kinds() {
		backends = append(backends, backendInfo{
			Name:        string(k),
			Description: k.Description(),
			Configured:  k == configured,
		})
	}

	switch backendsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(backends)
	case "table":
		return printBackendsTable(backends)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", backendsFormat)
	}
}

func printBackendsTable(backends []backendInfo) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "NAME\tCONFIGURED\tDESCRIPTION")
	fmt.Fprintln(w, "----\t----------\t-----------")

	for _, b := range backends {
		configured := "No"
		if b.Configured {
			configured = "Yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.Name, configured, b.Description)
	}

	return nil
}
