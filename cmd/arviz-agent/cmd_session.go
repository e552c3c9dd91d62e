package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/csai/cyborg-arviz-agent/internal/graph"
	"github.com/csai/cyborg-arviz-agent/internal/session"
)

type sideReport struct {
	Action      string         `json:"action"`
	Nodes       int            `json:"nodes"`
	Edges       int            `json:"edges"`
	Compromised int            `json:"compromised"`
	Statuses    map[string]int `json:"statuses"`
}

type report struct {
	session.Status
	Message string      `json:"message,omitempty"`
	Red     *sideReport `json:"red,omitempty"`
	Blue    *sideReport `json:"blue,omitempty"`
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new game",
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
				if _, err := a.ctrl.Start(ctx, red, blue, steps); err != nil {
					return describe(err)
				}
				return printReport(cmd, a, "")
			})
		},
	}
	cmd.Flags().String("red", "", "Red agent (default game.red_agent)")
	cmd.Flags().String("blue", "", "Blue agent (default game.blue_agent)")
	cmd.Flags().Int("max-steps", 0, "Number of steps in the game (default game.max_steps)")
	return cmd
}

func newNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the next step, playing it if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.ctrl.Next(ctx); err != nil {
					return describe(err)
				}
				return printReport(cmd, a, "")
			})
		},
	}
}

func newPrevCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "prev",
		Aliases: []string{"previous"},
		Short:   "Show the previous step",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.ctrl.Previous(ctx); err != nil {
					return describe(err)
				}
				return printReport(cmd, a, "")
			})
		},
	}
}

func newEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "End the current game",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				_, message, err := a.ctrl.End(ctx)
				if err != nil {
					return describe(err)
				}
				return printReport(cmd, a, message)
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorded game",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
					if err := a.ctrl.Resume(ctx); err != nil {
						return describe(err)
					}
				}
				return printReport(cmd, a, "")
			})
		},
	}
	cmd.Flags().Bool("refresh", false, "Re-read the current step's graph from the server")
	return cmd
}

func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

// describe turns session errors into the short notices shown to a user.
func describe(err error) error {
	switch {
	case errors.Is(err, session.ErrGameActive):
		return fmt.Errorf("a game is already running; end it first: %w", err)
	case errors.Is(err, session.ErrNoGame):
		return fmt.Errorf("start a game first: %w", err)
	case errors.Is(err, session.ErrFinalStep):
		return fmt.Errorf("already at the final step: %w", err)
	case errors.Is(err, session.ErrFirstStep):
		return fmt.Errorf("already at the first step: %w", err)
	}
	return err
}

func buildReport(a *app, message string) report {
	r := report{Status: a.ctrl.Status(), Message: message}
	view := a.ctrl.View()
	if red, blue, ok := view.ActionSummaries(); ok {
		r.Red = sideOf(view, graph.SideRed, red)
		r.Blue = sideOf(view, graph.SideBlue, blue)
	}
	return r
}

func sideOf(view *graph.View, name, action string) *sideReport {
	nodes := view.Nodes(name)
	side := graph.Side{Nodes: nodes}
	return &sideReport{
		Action:      action,
		Nodes:       len(nodes),
		Edges:       len(view.Edges(name)),
		Compromised: side.CompromisedCount(),
		Statuses:    side.StatusCounts(),
	}
}

func printReport(cmd *cobra.Command, a *app, message string) error {
	r := buildReport(a, message)
	if jsonOutput(cmd) {
		return writeJSONTo(cmd.OutOrStdout(), r)
	}
	writeReportText(cmd.OutOrStdout(), r)
	return nil
}

func writeReportText(w io.Writer, r report) {
	if r.Message != "" {
		fmt.Fprintln(w, r.Message)
	}
	fmt.Fprintln(w, r.Headline)
	if r.State.Active() {
		fmt.Fprintf(w, "  game %s: %s vs %s, step %d/%d\n",
			r.State.GameID, r.State.RedAgent, r.State.BlueAgent, r.State.CurrentStep, r.State.MaxSteps)
	}
	for _, side := range []struct {
		label string
		rep   *sideReport
	}{{"Red", r.Red}, {"Blue", r.Blue}} {
		if side.rep == nil {
			continue
		}
		action := side.rep.Action
		if action == "" {
			action = "-"
		}
		fmt.Fprintf(w, "  %-5s %s\n", side.label+":", action)
		fmt.Fprintf(w, "        nodes %d, links %d, compromised %d", side.rep.Nodes, side.rep.Edges, side.rep.Compromised)
		if len(side.rep.Statuses) > 0 {
			parts := make([]string, 0, len(side.rep.Statuses))
			for _, k := range graph.SortedStatuses(side.rep.Statuses) {
				parts = append(parts, fmt.Sprintf("%s=%d", k, side.rep.Statuses[k]))
			}
			fmt.Fprintf(w, " (%s)", strings.Join(parts, " "))
		}
		fmt.Fprintln(w)
	}
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
