package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"piplan/internal/app"
	"piplan/internal/engine"
	"piplan/internal/planning"
	"piplan/internal/report"
	"piplan/internal/snapshot"
)

func planCmd() *cobra.Command {
	var (
		input      string
		demo       bool
		iterations []string
		teams      []string
		buffer     float64
		rounds     int
		effort     float64
		stream     bool
		format     string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Negotiate a PI plan from a backlog snapshot",
		Long: `Reads a snapshot (YAML, or JSON for .json files) with iterations, teams and features,
negotiates every plannable story and stores the run under .piplan/.
Iterations and teams fall back to piplan.yml when the snapshot has none.`,
		Example: `  piplan plan --demo
  piplan plan --input backlog.yaml --teams team-a --buffer 0.1 --format markdown
  piplan plan --input backlog.json --stream --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap *snapshot.Snapshot
			switch {
			case demo:
				snap = snapshot.Demo()
			case input != "":
				loaded, err := snapshot.LoadFile(input)
				if err != nil {
					return err
				}
				snap = loaded
			default:
				return errors.New("--input or --demo is required")
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			req := engine.PlanRequest{
				Snapshot:       snap,
				Iterations:     iterations,
				TeamFilter:     teams,
				MaxRounds:      rounds,
				FallbackEffort: effort,
			}
			if cmd.Flags().Changed("buffer") {
				req.CapacityBuffer = &buffer
			}
			asJSON := viper.GetBool("json")
			if stream {
				req.Observer = streamTo(os.Stdout, asJSON)
			}
			return withWorkspace(func(ws *app.Workspace) error {
				res, planErr := ws.Engine.Plan(cmd.Context(), req)
				if planErr != nil && res.Run.ID == "" {
					return planErr
				}
				if asJSON {
					if err := printJSON(res); err != nil {
						return err
					}
				} else if err := writePlanReport(os.Stdout, res, f); err != nil {
					return err
				}
				if planErr != nil {
					return fmt.Errorf("run %s stopped early: %w", res.Run.ID, planErr)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "snapshot file (.yaml, .yml or .json)")
	cmd.Flags().BoolVar(&demo, "demo", false, "plan the built-in demo snapshot")
	cmd.Flags().StringSliceVar(&iterations, "iterations", nil, "ordered iteration names (overrides snapshot and config)")
	cmd.Flags().StringSliceVar(&teams, "teams", nil, "plan only these teams (id or name)")
	cmd.Flags().Float64Var(&buffer, "buffer", planning.DefaultCapacityBuffer, "capacity buffer fraction in [0,1)")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "negotiation rounds (default from config)")
	cmd.Flags().Float64Var(&effort, "effort", 0, "effort for unestimated stories (default from config)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print negotiation events as they happen")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "report format: text, markdown, html, csv")
	return cmd
}

func writePlanReport(w io.Writer, res engine.Result, f report.Format) error {
	sections := []func(io.Writer, engine.Result, report.Format) error{
		report.Summary,
		report.Board,
		report.Assignments,
		report.Rejections,
		report.Risks,
	}
	for i, section := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := section(w, res, f); err != nil {
			return err
		}
	}
	return nil
}

// streamTo returns an observer printing each event as it is decided, one
// line per event, or one JSON object per line when asJSON is set.
func streamTo(w io.Writer, asJSON bool) func(planning.Event) error {
	enc := json.NewEncoder(w)
	return func(evt planning.Event) error {
		if asJSON {
			return enc.Encode(struct {
				Type  planning.EventKind `json:"type"`
				Event planning.Event     `json:"event"`
			}{evt.Kind(), evt})
		}
		_, err := fmt.Fprintln(w, describeEvent(evt))
		return err
	}
}

func describeEvent(evt planning.Event) string {
	switch e := evt.(type) {
	case planning.ProposalEvent:
		return fmt.Sprintf("[round %d] propose #%d %q to %s (%.1f SP)", e.Round, e.StoryID, e.StoryTitle, e.TeamID, e.Effort)
	case planning.AcceptedEvent:
		return fmt.Sprintf("[round %d] accept  #%d -> %s %s: %s", e.Round, e.StoryID, e.TeamID, e.Iteration, e.Reason)
	case planning.RejectedEvent:
		return fmt.Sprintf("[round %d] reject  #%d by %s: %s", e.Round, e.StoryID, e.TeamID, e.Reason)
	case planning.GapFillingStartEvent:
		return "gap filling: " + e.Message
	default:
		return string(evt.Kind())
	}
}
