package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arviz-agent",
		Short: "Drive CybORG AR visualization games",
		Long: `arviz-agent starts, steps through and ends games on a CybORG game server
and keeps the current network graph for display.

Each command continues the game recorded for the selected profile, so a
session can be driven one invocation at a time or from the control API
exposed by "arviz-agent serve".`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("profile", "", "Session profile (overrides storage.profile)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newStartCmd(),
		newNextCmd(),
		newPrevCmd(),
		newEndCmd(),
		newStatusCmd(),
		newPlayCmd(),
		newSimCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput(cmd) {
				return writeJSONTo(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "arviz-agent version %s\n", version)
			return nil
		},
	}
}
