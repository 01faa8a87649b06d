// Package analysis derives risks and dependency findings from a finished
// plan. It only reads the plan.
package analysis

import (
	"fmt"
	"strings"

	"piplan/internal/domain"
	"piplan/internal/planning"
)

type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Weight is the impact multiplier used for risk scores.
func (l Level) Weight() float64 {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	default:
		return 0
	}
}

type Risk struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Probability     float64 `json:"probability"`
	Impact          Level   `json:"impact" enum:"low,medium,high,critical"`
	Score           float64 `json:"risk_score"`
	Mitigation      string  `json:"mitigation,omitempty"`
	Owner           string  `json:"owner,omitempty"`
	RelatedFeatures []int   `json:"related_features,omitempty"`
	RelatedStories  []int   `json:"related_stories,omitempty"`
}

type FindingKind string

const (
	FindingOrderViolation FindingKind = "dependency_violation"
	FindingCrossTeam      FindingKind = "cross_team_dependency"
)

// DependencyFinding reports a feature dependency that needs coordination.
type DependencyFinding struct {
	Kind                FindingKind `json:"kind"`
	FeatureID           int         `json:"feature_id"`
	DependsOn           int         `json:"depends_on"`
	FeatureIteration    string      `json:"feature_iteration,omitempty"`
	DependencyIteration string      `json:"dependency_iteration,omitempty"`
	FeatureTeam         string      `json:"feature_team,omitempty"`
	DependencyTeam      string      `json:"dependency_team,omitempty"`
	Severity            Level       `json:"severity"`
	Issue               string      `json:"issue"`
}

type Input struct {
	Features []*domain.Feature
	Teams    []domain.Team
	Calendar planning.Calendar
	Plan     planning.Plan
	Capacity []planning.CapacityStatus
}

type Report struct {
	Risks        []Risk                    `json:"risks"`
	Dependencies []DependencyFinding       `json:"dependencies"`
	Capacity     []planning.CapacityStatus `json:"capacity"`
}

// Analyze runs every rule over the plan. Output order is deterministic.
func Analyze(in Input) Report {
	rep := Report{Capacity: in.Capacity}
	rep.Risks = append(rep.Risks, unresolvedDependencies(in)...)
	rep.Risks = append(rep.Risks, overcommitments(in)...)
	rep.Risks = append(rep.Risks, unplannedFeatures(in)...)
	rep.Risks = append(rep.Risks, teamGaps(in)...)
	rep.Risks = append(rep.Risks, rejectedStories(in)...)
	rep.Dependencies = dependencyFindings(in)
	return rep
}

func newRisk(id, title, desc string, prob float64, impact Level) Risk {
	return Risk{
		ID:          id,
		Title:       title,
		Description: desc,
		Probability: prob,
		Impact:      impact,
		Score:       prob * impact.Weight(),
	}
}

func unresolvedDependencies(in Input) []Risk {
	var out []Risk
	for _, f := range in.Features {
		for _, dep := range f.DependsOnFeatures {
			if _, ok := in.Plan.FeatureIterations[dep]; ok {
				continue
			}
			r := newRisk(
				fmt.Sprintf("risk-dep-%d-%d", f.ID, dep),
				fmt.Sprintf("Unresolved dependency: feature %d not in plan", dep),
				fmt.Sprintf("Feature %d (%s) depends on feature %d which has no scheduled story", f.ID, f.Title, dep),
				0.8, LevelHigh)
			r.Mitigation = "Ensure the dependency is included in the PI plan"
			r.RelatedFeatures = []int{f.ID, dep}
			out = append(out, r)
		}
	}
	return out
}

type cell struct {
	team, iteration string
}

func overcommitments(in Input) []Risk {
	load := make(map[cell]float64)
	for _, a := range in.Plan.Assignments {
		load[cell{a.TeamID, a.Iteration}] += a.Effort
	}
	var out []Risk
	for _, t := range in.Teams {
		for _, it := range in.Calendar.Names() {
			used, ok := load[cell{t.ID, it}]
			if !ok {
				continue
			}
			capacity := t.CapacityFor(it)
			if used <= capacity {
				continue
			}
			var (
				pct   float64
				level = LevelCritical
				prob  = 0.9
			)
			if capacity > 0 {
				pct = (used/capacity - 1) * 100
				if pct <= 20 {
					level, prob = LevelHigh, 0.7
				}
			}
			r := newRisk(
				fmt.Sprintf("risk-capacity-%s-%s", t.ID, slug(it)),
				fmt.Sprintf("Overcommitment: %s in %s", displayName(t), it),
				fmt.Sprintf("Team %s is overcommitted by %.1f%% (%.1f/%.1f SP)", displayName(t), pct, used, capacity),
				prob, level)
			r.Mitigation = "Reduce scope or increase capacity"
			r.Owner = t.ID
			out = append(out, r)
		}
	}
	return out
}

func unplannedFeatures(in Input) []Risk {
	var missing []*domain.Feature
	for _, f := range in.Features {
		if _, ok := in.Plan.FeatureIterations[f.ID]; !ok {
			missing = append(missing, f)
		}
	}
	switch len(missing) {
	case 0:
		return nil
	case 1:
		f := missing[0]
		r := newRisk(
			fmt.Sprintf("risk-unassigned-feature-%d", f.ID),
			fmt.Sprintf("Feature %d not assigned: %s", f.ID, truncate(f.Title, 50)),
			fmt.Sprintf("Feature %d (%s) has no story scheduled in any team or iteration", f.ID, f.Title),
			1.0, LevelMedium)
		r.Mitigation = "Assign the feature to a team and iteration or move it to the next PI"
		r.RelatedFeatures = []int{f.ID}
		return []Risk{r}
	}
	ids := make([]int, 0, len(missing))
	labels := make([]string, 0, 5)
	for i, f := range missing {
		ids = append(ids, f.ID)
		if i < 5 {
			labels = append(labels, fmt.Sprintf("%d (%s)", f.ID, truncate(f.Title, 30)))
		}
	}
	desc := fmt.Sprintf("%d features have no story scheduled in any team or iteration: %s", len(missing), strings.Join(labels, ", "))
	if len(missing) > 5 {
		desc += "..."
	}
	r := newRisk("risk-unassigned-features", fmt.Sprintf("%d features not assigned", len(missing)), desc, 1.0, LevelMedium)
	r.Mitigation = "Assign the features to teams and iterations or move them to the next PI"
	r.RelatedFeatures = ids
	return []Risk{r}
}

func teamGaps(in Input) []Risk {
	ids := in.Plan.UnassignedStories
	if len(ids) == 0 {
		return nil
	}
	r := newRisk("risk-no-team",
		fmt.Sprintf("%d stories without a planning team", len(ids)),
		fmt.Sprintf("Stories %s have no assigned team that takes part in this plan", joinInts(ids)),
		1.0, LevelMedium)
	r.Mitigation = "Assign the stories to a participating team"
	r.RelatedStories = append([]int(nil), ids...)
	return []Risk{r}
}

func rejectedStories(in Input) []Risk {
	out := make([]Risk, 0, len(in.Plan.Rejections))
	for _, rej := range in.Plan.Rejections {
		r := newRisk(
			fmt.Sprintf("risk-rejected-story-%d", rej.StoryID),
			fmt.Sprintf("Story %d could not be scheduled", rej.StoryID),
			fmt.Sprintf("Team %s rejected story %d in round %d: %s", rej.TeamID, rej.StoryID, rej.Round, rej.Reason),
			1.0, LevelMedium)
		r.Owner = rej.TeamID
		r.Mitigation = "Split the story, resolve its dependencies or add capacity"
		r.RelatedFeatures = []int{rej.FeatureID}
		r.RelatedStories = []int{rej.StoryID}
		out = append(out, r)
	}
	return out
}

func dependencyFindings(in Input) []DependencyFinding {
	// team of each feature's first accepted story
	featureTeam := make(map[int]string)
	for _, a := range in.Plan.Assignments {
		if _, ok := featureTeam[a.FeatureID]; !ok {
			featureTeam[a.FeatureID] = a.TeamID
		}
	}
	var out []DependencyFinding
	for _, f := range in.Features {
		it, ok := in.Plan.FeatureIterations[f.ID]
		if !ok {
			continue
		}
		for _, dep := range f.DependsOnFeatures {
			depIt, ok := in.Plan.FeatureIterations[dep]
			if !ok {
				continue
			}
			base := DependencyFinding{
				FeatureID:           f.ID,
				DependsOn:           dep,
				FeatureIteration:    it,
				DependencyIteration: depIt,
				FeatureTeam:         featureTeam[f.ID],
				DependencyTeam:      featureTeam[dep],
			}
			if in.Calendar.Rank(depIt) > in.Calendar.Rank(it) {
				v := base
				v.Kind = FindingOrderViolation
				v.Severity = LevelHigh
				v.Issue = fmt.Sprintf("Dependency starts in %s, after the dependent feature in %s", depIt, it)
				out = append(out, v)
			}
			if base.FeatureTeam != base.DependencyTeam {
				c := base
				c.Kind = FindingCrossTeam
				c.Severity = LevelMedium
				c.Issue = "Cross-team dependency"
				out = append(out, c)
			}
		}
	}
	return out
}

// Counts tallies risks per impact level.
func (r Report) Counts() map[Level]int {
	out := make(map[Level]int, 4)
	for _, risk := range r.Risks {
		out[risk.Impact]++
	}
	return out
}

func displayName(t domain.Team) string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func slug(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), "-"))
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
