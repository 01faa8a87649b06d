// Package snapshot loads the backlog a planning run works on: teams,
// features and their user stories, from JSON or YAML.
package snapshot

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"piplan/internal/domain"
	"piplan/internal/planning"
)

//go:embed demo.yaml
var demoYAML []byte

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Snapshot is a backlog ready to hand to the coordinator.
type Snapshot struct {
	Iterations []string          `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	Teams      []domain.Team     `json:"teams,omitempty" yaml:"teams,omitempty"`
	Features   []*domain.Feature `json:"features" yaml:"features"`
}

// featureRecord accepts "dependencies" as another name for depends_on_features.
type featureRecord struct {
	domain.Feature `yaml:",inline"`
	Dependencies   []int `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

type document struct {
	Iterations []string        `json:"iterations" yaml:"iterations"`
	Teams      []domain.Team   `json:"teams" yaml:"teams"`
	Features   []featureRecord `json:"features" yaml:"features"`
}

// FormatFor picks the decoder from a file extension. Unknown extensions are
// read as YAML, which also accepts JSON.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes a snapshot document.
func Parse(data []byte, format Format) (*Snapshot, error) {
	var doc document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("invalid snapshot json: %w", err)
		}
	case FormatYAML, "":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid snapshot yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown snapshot format %q", format)
	}
	snap := &Snapshot{Iterations: doc.Iterations, Teams: doc.Teams}
	seen := make(map[int]struct{}, len(doc.Features))
	stories := make(map[int]int)
	for i := range doc.Features {
		rec := doc.Features[i]
		f := rec.Feature
		if f.ID == 0 {
			return nil, fmt.Errorf("feature %d has no id", i)
		}
		if _, dup := seen[f.ID]; dup {
			return nil, fmt.Errorf("feature %d listed twice", f.ID)
		}
		seen[f.ID] = struct{}{}
		if f.Effort != nil && *f.Effort < 0 {
			return nil, fmt.Errorf("feature %d has negative effort %.1f", f.ID, *f.Effort)
		}
		for _, st := range f.Stories {
			if owner, dup := stories[st.ID]; dup {
				return nil, fmt.Errorf("story %d listed twice (features %d and %d)", st.ID, owner, f.ID)
			}
			stories[st.ID] = f.ID
			if err := checkEstimates(st); err != nil {
				return nil, err
			}
		}
		if len(f.DependsOnFeatures) == 0 && len(rec.Dependencies) > 0 {
			f.DependsOnFeatures = rec.Dependencies
		}
		snap.Features = append(snap.Features, &f)
	}
	return snap, nil
}

func checkEstimates(st domain.Story) error {
	if st.Effort != nil && *st.Effort < 0 {
		return fmt.Errorf("story %d has negative effort %.1f", st.ID, *st.Effort)
	}
	if st.RemainingWork != nil && *st.RemainingWork < 0 {
		return fmt.Errorf("story %d has negative remaining work %.1f", st.ID, *st.RemainingWork)
	}
	return nil
}

// LoadFile reads a snapshot from disk.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, FormatFor(path))
}

// Demo returns the built-in sample backlog.
func Demo() *Snapshot {
	snap, err := Parse(demoYAML, FormatYAML)
	if err != nil {
		panic(fmt.Sprintf("demo snapshot: %v", err))
	}
	return snap
}

type PrepareOptions struct {
	Iterations     []string
	FallbackEffort float64
	// TeamFilter keeps only teams whose id or name is listed. Empty keeps all.
	TeamFilter []string
}

// Prepare normalises a parsed snapshot in place: it drops stories that are no
// longer new or active, fills missing feature ids on stories, derives deadline
// iterations from milestones and feature effort from the kept stories, and
// applies the team filter.
func (s *Snapshot) Prepare(opts PrepareOptions) error {
	if opts.FallbackEffort <= 0 {
		opts.FallbackEffort = planning.DefaultFallbackEffort
	}
	var cal *planning.Calendar
	if len(opts.Iterations) > 0 {
		c, err := planning.NewCalendar(opts.Iterations)
		if err != nil {
			return err
		}
		cal = &c
	}
	for _, f := range s.Features {
		kept := f.Stories[:0]
		for _, st := range f.Stories {
			if !st.State.Plannable() {
				continue
			}
			if st.FeatureID == 0 {
				st.FeatureID = f.ID
			}
			kept = append(kept, st)
		}
		f.Stories = kept
		if f.DeadlineIteration == "" && cal != nil {
			f.DeadlineIteration = milestoneDeadline(f.Milestones, *cal)
		}
		if f.Effort == nil && len(f.Stories) > 0 {
			var total float64
			for _, st := range f.Stories {
				total += st.PlanningEffort(opts.FallbackEffort)
			}
			f.Effort = &total
		}
	}
	if len(opts.TeamFilter) > 0 {
		teams, err := filterTeams(s.Teams, opts.TeamFilter)
		if err != nil {
			return err
		}
		s.Teams = teams
	}
	return nil
}

func milestoneDeadline(milestones []domain.Milestone, cal planning.Calendar) string {
	best, bestRank := "", math.MaxInt
	for _, m := range milestones {
		if m.Iteration == "" {
			continue
		}
		if r := cal.Rank(m.Iteration); r < bestRank {
			best, bestRank = m.Iteration, r
		}
	}
	return best
}

func filterTeams(teams []domain.Team, allow []string) ([]domain.Team, error) {
	wanted := make(map[string]struct{}, len(allow))
	for _, a := range allow {
		if a = strings.TrimSpace(a); a != "" {
			wanted[a] = struct{}{}
		}
	}
	var out []domain.Team
	for _, t := range teams {
		_, byID := wanted[t.ID]
		_, byName := wanted[t.Name]
		if byID || byName {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("team filter matches no team")
	}
	return out, nil
}
