package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"piplan/internal/app"
	"piplan/internal/engine"
	"piplan/internal/repo"
	"piplan/internal/report"
)

func runsCmd() *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored planning runs",
	}
	runs.AddCommand(runsListCmd())
	runs.AddCommand(runsShowCmd())
	runs.AddCommand(runsEventsCmd())
	runs.AddCommand(runsRisksCmd())
	runs.AddCommand(runsBoardCmd())
	runs.AddCommand(runsDeleteCmd())
	return runs
}

func runsListCmd() *cobra.Command {
	var limit int
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			return withWorkspace(func(ws *app.Workspace) error {
				items, err := ws.Engine.ListRuns(cmd.Context(), limit, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				return report.Runs(os.Stdout, items, f)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, markdown, html, csv")
	return cmd
}

func runsShowCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run's summary, assignments and rejections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			return withResult(cmd, args[0], func(res engine.Result) error {
				if viper.GetBool("json") {
					return printJSON(res)
				}
				return writePlanReport(os.Stdout, res, f)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, markdown, html, csv")
	return cmd
}

func runsEventsCmd() *cobra.Command {
	var (
		limit   int
		cursor  int64
		evtType string
		format  string
	)
	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show a run's negotiation trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			return withWorkspace(func(ws *app.Workspace) error {
				items, err := ws.Engine.ListEvents(cmd.Context(), args[0], cursor, limit, evtType)
				if err != nil {
					return notFound(err, args[0])
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				if err := report.Events(os.Stdout, items, f); err != nil {
					return err
				}
				if limit > 0 && len(items) == limit {
					fmt.Fprintf(os.Stderr, "more events: --cursor %s\n", strconv.FormatInt(items[len(items)-1].ID, 10))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum events (0 for all)")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "list events after this event id")
	cmd.Flags().StringVar(&evtType, "type", "", "only this event type (proposal, assignment.accepted, assignment.rejected, gap_filling.start)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, markdown, html, csv")
	return cmd
}

func runsRisksCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "risks <run-id>",
		Short: "Show a run's risks and dependency findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			return withResult(cmd, args[0], func(res engine.Result) error {
				if viper.GetBool("json") {
					return printJSON(res.Analysis)
				}
				return report.Risks(os.Stdout, res, f)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, markdown, html, csv")
	return cmd
}

func runsBoardCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "board <run-id>",
		Short: "Render the program board (teams x iterations)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			return withResult(cmd, args[0], func(res engine.Result) error {
				if out == "" {
					return report.Board(os.Stdout, res, f)
				}
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := report.Board(file, res, f); err != nil {
					file.Close()
					return err
				}
				return file.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, markdown, html, csv")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func runsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run with its trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(func(ws *app.Workspace) error {
				if err := ws.Engine.DeleteRun(cmd.Context(), args[0]); err != nil {
					return notFound(err, args[0])
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"deleted": args[0]})
				}
				fmt.Printf("deleted run %s\n", args[0])
				return nil
			})
		},
	}
}

func withResult(cmd *cobra.Command, runID string, fn func(engine.Result) error) error {
	return withWorkspace(func(ws *app.Workspace) error {
		res, err := ws.Engine.GetResult(cmd.Context(), runID)
		if err != nil {
			return notFound(err, runID)
		}
		return fn(res)
	})
}

func notFound(err error, runID string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("run %s not found", runID)
	}
	return err
}
