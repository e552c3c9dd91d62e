package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/csai/cyborg-arviz-agent/internal/observability"
	"github.com/csai/cyborg-arviz-agent/internal/simserver"
)

func newSimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Manage the local simulation container",
	}
	cmd.AddCommand(
		newSimActionCmd("up", "Start the simulation container and wait for its API", func(cmd *cobra.Command, l *simserver.Launcher) (simserver.Status, error) {
			return l.Up(cmd.Context())
		}),
		newSimActionCmd("down", "Remove the simulation container", func(cmd *cobra.Command, l *simserver.Launcher) (simserver.Status, error) {
			if err := l.Down(cmd.Context()); err != nil {
				return simserver.Status{}, err
			}
			return l.Status(cmd.Context())
		}),
		newSimActionCmd("status", "Show the simulation container", func(cmd *cobra.Command, l *simserver.Launcher) (simserver.Status, error) {
			return l.Status(cmd.Context())
		}),
	)
	return cmd
}

func newSimActionCmd(use, short string, run func(*cobra.Command, *simserver.Launcher) (simserver.Status, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.NewLoggerTo(cmd.ErrOrStderr(), cfg.Observability.LogLevel)
			l, err := simserver.New(cmd.Context(), cfg.Simulation, logger)
			if err != nil {
				return err
			}
			defer l.Close()

			st, err := run(cmd, l)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSONTo(cmd.OutOrStdout(), st)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s", st.Name, st.State)
			if st.BaseURL != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " at %s", st.BaseURL)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}
