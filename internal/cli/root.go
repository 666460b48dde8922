// Package cli is the famcomp command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var flagConfig string

// defaultConfigPath honors FAMCOMP_CONFIG before falling back to ./config.json.
func defaultConfigPath() string {
	if p := os.Getenv("FAMCOMP_CONFIG"); p != "" {
		return p
	}
	return "./config.json"
}

// NewRootCmd builds the root command. Without a subcommand it serves.
func NewRootCmd() *cobra.Command {
	serve := newServeCmd()
	root := &cobra.Command{
		Use:          "famcomp",
		Short:        "Household chore tracker",
		Long:         "famcomp fires recurring household chores on cron schedules and keeps everyone's notifications in line.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfigPath(), "path to the JSON or YAML config (or FAMCOMP_CONFIG env)")

	root.AddCommand(serve, newPreviewCmd())
	return root
}
