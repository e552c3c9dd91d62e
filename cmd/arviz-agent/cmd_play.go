package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const playPrompt = "[s]tart [n]ext [p]rev [e]nd [q]uit> "

func newPlayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Step through a game interactively",
		Long: `play reads one command per line from stdin and prints the headline and
both sides' actions after every step. Quitting leaves the game recorded so
it can be resumed later; use "e" to end it on the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				red, _ := cmd.Flags().GetString("red")
				blue, _ := cmd.Flags().GetString("blue")
				steps, _ := cmd.Flags().GetInt("max-steps")
				if red == "" {
					red = a.cfg.Game.RedAgent
				}
				if blue == "" {
					blue = a.cfg.Game.BlueAgent
				}
				if steps == 0 {
					steps = a.cfg.Game.MaxSteps
				}
				return playLoop(ctx, cmd, a, red, blue, steps)
			})
		},
	}
	cmd.Flags().String("red", "", "Red agent for new games (default game.red_agent)")
	cmd.Flags().String("blue", "", "Blue agent for new games (default game.blue_agent)")
	cmd.Flags().Int("max-steps", 0, "Steps for new games (default game.max_steps)")
	return cmd
}

func playLoop(ctx context.Context, cmd *cobra.Command, a *app, red, blue string, steps int) error {
	out := cmd.OutOrStdout()
	if err := a.ctrl.Resume(ctx); err != nil {
		fmt.Fprintf(out, "! %v\n", describe(err))
	}
	writeReportText(out, buildReport(a, ""))

	in := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, playPrompt)
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		var (
			err     error
			message string
		)
		switch strings.ToLower(strings.TrimSpace(in.Text())) {
		case "":
			continue
		case "q", "quit", "exit":
			return nil
		case "s", "start":
			_, err = a.ctrl.Start(ctx, red, blue, steps)
		case "n", "next":
			_, err = a.ctrl.Next(ctx)
		case "p", "prev", "previous":
			_, err = a.ctrl.Previous(ctx)
		case "e", "end":
			_, message, err = a.ctrl.End(ctx)
		default:
			fmt.Fprintf(out, "unknown command %q\n", in.Text())
			continue
		}
		if err != nil {
			fmt.Fprintf(out, "! %v\n", describe(err))
			continue
		}
		writeReportText(out, buildReport(a, message))
	}
}
