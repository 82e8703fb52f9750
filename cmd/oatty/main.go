// Command oatty wires the command registry, tool-server client manager,
// value-provider cache, and execution engine into a minimal CLI capable
// of running a workflow end to end. It is a composition root, not the
// interactive TUI the rest of the project's surface is designed for;
// that UI is an external collaborator and stays out of this module.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "oatty",
	Short: "Compose MCP tool servers and HTTP commands into workflows",
	Long:  "oatty runs declarative multi-step workflows over MCP tool servers and OpenAPI-derived HTTP commands, resolving templated arguments between steps.",
}

func init() {
	rootCmd.PersistentFlags().String("config-dir", "", "Override the config directory (defaults to $XDG_CONFIG_HOME/oatty, see OATTY_CONFIG_DIR)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(providersLookupCmd)

	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogEnableCmd)
	catalogCmd.AddCommand(catalogDisableCmd)

	historyCmd.AddCommand(historyPurgeCmd)
	historyCmd.AddCommand(historyListCmd)

	cobra.OnInitialize(initConfigDirOverride)
}

// initConfigDirOverride mirrors the --config-dir persistent flag into
// OATTY_CONFIG_DIR, the environment variable internal/config.ConfigDir
// already honors, so every collaborator built in newApp that takes its
// path from ConfigDir picks it up without threading a config path
// through every constructor. The history directory comes from the XDG
// data home and is not affected.
func initConfigDirOverride() {
	dir, err := rootCmd.PersistentFlags().GetString("config-dir")
	if err != nil || dir == "" {
		return
	}
	_ = os.Setenv("OATTY_CONFIG_DIR", dir)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
