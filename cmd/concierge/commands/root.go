// Package commands implements the Concierge CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "concierge",
		Short: "Concierge - chat assistant daemon",
		Long: `Concierge is a chat assistant that lives in your team's messaging
platform: it answers mentions through an answering engine, promotes
messages into tracked tasks, and keeps live dashboards pinned in
channels.

Examples:
  concierge serve
  concierge serve --config ./config.yaml
  concierge secret set gateway
  concierge tasks --user "Ada Lovelace"`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSecretCmd(),
		newTasksCmd(),
		newVersionCmd(version),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
