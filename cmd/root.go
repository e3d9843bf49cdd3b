package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zonekit",
	Short: "Provision ephemeral zones for automated test runs",
	Long: `zonekit provisions isolated zones on a remote global-zone host over a
single administrative SSH connection, waits for each zone's network to come
up, and makes it reachable through a forwarded port. The resulting run-state
file is the handle for tearing the zone down again.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to the config file (default zonekit.yaml)")
}
