// Package report renders planning results as tables.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"piplan/internal/domain"
	"piplan/internal/engine"
	"piplan/internal/planning"
)

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatCSV      Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case "md", FormatMarkdown:
		return FormatMarkdown, nil
	case FormatHTML, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q (text, markdown, html, csv)", s)
	}
}

// ContentType is the MIME type of a rendered report.
func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

func newTable(title string) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	if title != "" {
		tw.SetTitle(title)
	}
	return tw
}

func render(w io.Writer, tw table.Writer, f Format) error {
	var out string
	switch f {
	case FormatMarkdown:
		out = tw.RenderMarkdown()
	case FormatHTML:
		out = tw.RenderHTML()
	case FormatCSV:
		out = tw.RenderCSV()
	default:
		out = tw.Render()
	}
	_, err := fmt.Fprintln(w, out)
	return err
}

// Board renders the program board: one row per team, one column per
// iteration, each cell listing the stories and the load against capacity.
func Board(w io.Writer, res engine.Result, f Format) error {
	iterations := res.Run.Iterations
	cells := make(map[string]map[string][]string, len(res.Teams))
	for _, a := range res.Plan.Assignments {
		if cells[a.TeamID] == nil {
			cells[a.TeamID] = make(map[string][]string)
		}
		cells[a.TeamID][a.Iteration] = append(cells[a.TeamID][a.Iteration], fmt.Sprintf("#%d", a.StoryID))
	}
	status := make(map[string]planning.CapacityStatus, len(res.Analysis.Capacity))
	for _, st := range res.Analysis.Capacity {
		status[st.TeamID+"\x00"+st.Iteration] = st
	}

	tw := newTable(fmt.Sprintf("Program board (run %s, %s)", res.Run.ID, res.Run.Status))
	header := table.Row{"Team"}
	for _, it := range iterations {
		header = append(header, it)
	}
	tw.AppendHeader(header)
	for _, t := range res.Teams {
		row := table.Row{teamLabel(t)}
		for _, it := range iterations {
			stories := strings.Join(cells[t.ID][it], " ")
			st := status[t.ID+"\x00"+it]
			load := fmt.Sprintf("%.1f/%.1f SP", st.Load, st.Capacity)
			if stories == "" {
				row = append(row, load)
				continue
			}
			row = append(row, stories+"\n"+load)
		}
		tw.AppendRow(row)
	}
	if f == FormatText {
		tw.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Colors: text.Colors{text.Bold}}})
	}
	return render(w, tw, f)
}

func Assignments(w io.Writer, res engine.Result, f Format) error {
	titles := storyTitles(res.Features)
	tw := newTable("Assignments")
	tw.AppendHeader(table.Row{"#", "Story", "Title", "Feature", "Team", "Iteration", "Effort"})
	var total float64
	for _, a := range res.Plan.Assignments {
		tw.AppendRow(table.Row{a.SequenceOrder, a.StoryID, titles[a.StoryID], a.FeatureID, a.TeamID, a.Iteration, fmt.Sprintf("%.1f", a.Effort)})
		total += a.Effort
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "Total", fmt.Sprintf("%.1f", total)})
	return render(w, tw, f)
}

func Risks(w io.Writer, res engine.Result, f Format) error {
	tw := newTable("Risks")
	tw.AppendHeader(table.Row{"ID", "Impact", "Score", "Title", "Mitigation"})
	for _, r := range res.Analysis.Risks {
		tw.AppendRow(table.Row{r.ID, string(r.Impact), fmt.Sprintf("%.2f", r.Score), r.Title, r.Mitigation})
	}
	if err := render(w, tw, f); err != nil {
		return err
	}
	if len(res.Analysis.Dependencies) == 0 {
		return nil
	}
	deps := newTable("Dependencies")
	deps.AppendHeader(table.Row{"Feature", "Depends on", "Kind", "Severity", "Issue"})
	for _, d := range res.Analysis.Dependencies {
		deps.AppendRow(table.Row{d.FeatureID, d.DependsOn, string(d.Kind), string(d.Severity), d.Issue})
	}
	return render(w, deps, f)
}

func Summary(w io.Writer, res engine.Result, f Format) error {
	run := res.Run
	tw := newTable("Run " + run.ID)
	tw.AppendRows([]table.Row{
		{"Status", string(run.Status)},
		{"Iterations", strings.Join(run.Iterations, ", ")},
		{"Capacity buffer", fmt.Sprintf("%.0f%%", run.CapacityBuffer*100)},
		{"Rounds", fmt.Sprintf("%d/%d", run.Rounds, run.MaxRounds)},
		{"Stories", run.TotalStories},
		{"Schedulable", run.Schedulable},
		{"Without team", run.Unassigned},
		{"Accepted", run.Accepted},
		{"Rejected", run.Rejected},
		{"Risks", len(res.Analysis.Risks)},
	})
	return render(w, tw, f)
}

// Rejections lists the stories still unscheduled with the ledger's reason.
func Rejections(w io.Writer, res engine.Result, f Format) error {
	tw := newTable("Rejected stories")
	tw.AppendHeader(table.Row{"Story", "Feature", "Team", "Round", "Reason"})
	for _, r := range res.Plan.Rejections {
		tw.AppendRow(table.Row{r.StoryID, r.FeatureID, r.TeamID, r.Round, r.Reason})
	}
	return render(w, tw, f)
}

func Runs(w io.Writer, runs []domain.Run, f Format) error {
	tw := newTable("")
	tw.AppendHeader(table.Row{"ID", "Created", "Status", "Accepted", "Rejected", "Unassigned", "Iterations"})
	for _, r := range runs {
		tw.AppendRow(table.Row{r.ID, r.CreatedAt, string(r.Status), r.Accepted, r.Rejected, r.Unassigned, len(r.Iterations)})
	}
	return render(w, tw, f)
}

func Events(w io.Writer, evts []domain.Event, f Format) error {
	tw := newTable("")
	tw.AppendHeader(table.Row{"Seq", "Type", "Story", "Team", "TS"})
	for _, e := range evts {
		story := ""
		if e.StoryID != nil {
			story = fmt.Sprint(*e.StoryID)
		}
		tw.AppendRow(table.Row{e.Seq, e.Type, story, e.TeamID, e.TS})
	}
	return render(w, tw, f)
}

func teamLabel(t domain.Team) string {
	if t.Name != "" && t.Name != t.ID {
		return fmt.Sprintf("%s (%s)", t.Name, t.ID)
	}
	return t.ID
}

func storyTitles(features []*domain.Feature) map[int]string {
	out := make(map[int]string)
	for _, f := range features {
		for _, s := range f.Stories {
			out[s.ID] = s.Title
		}
	}
	return out
}
