package planning

import (
	"fmt"
	"sort"
	"strings"

	"piplan/internal/domain"
)

// CheckKind names the ledger check that decided a verdict.
type CheckKind string

const (
	CheckFeatureDependency CheckKind = "feature_dependency"
	CheckStoryDependency   CheckKind = "story_dependency"
	CheckCapacity          CheckKind = "capacity"
)

const noSlotReason = "no capacity or dependencies met in any future iteration"

// Resolution is the dependency-resolution state shared by all ledgers: the
// iteration each scheduled story landed in and the first iteration of each
// scheduled feature.
type Resolution struct {
	Stories  map[int]string
	Features map[int]string
}

// Verdict is the answer to a single CanFit question.
type Verdict struct {
	Accepted  bool      `json:"accepted"`
	Check     CheckKind `json:"check"`
	Reason    string    `json:"reason"`
	Suggested string    `json:"suggested_iteration,omitempty"`
	Blocking  []int     `json:"blocking,omitempty"`
}

// Slot is the outcome of a forward search over iterations.
type Slot struct {
	Iteration string
	Found     bool
	Reason    string
	Last      Verdict
}

// CapacityStatus is a read-only view of one team/iteration cell.
type CapacityStatus struct {
	TeamID      string  `json:"team_id"`
	Iteration   string  `json:"iteration"`
	Load        float64 `json:"load"`
	Capacity    float64 `json:"capacity"`
	MaxAllowed  float64 `json:"max_allowed"`
	Available   float64 `json:"available"`
	Utilization float64 `json:"utilization_percent"`
}

// Ledger tracks committed effort per iteration for one team. Load only grows.
type Ledger struct {
	team           domain.Team
	calendar       Calendar
	buffer         float64
	fallbackEffort float64
	load           map[string]float64
}

func NewLedger(team domain.Team, calendar Calendar, buffer, fallbackEffort float64) *Ledger {
	return &Ledger{
		team:           team,
		calendar:       calendar,
		buffer:         buffer,
		fallbackEffort: fallbackEffort,
		load:           make(map[string]float64),
	}
}

func (l *Ledger) Team() domain.Team { return l.team }

func (l *Ledger) Load(iteration string) float64 { return l.load[iteration] }

func (l *Ledger) Capacity(iteration string) float64 { return l.team.CapacityFor(iteration) }

// MaxAllowed is the capacity left after holding back the buffer fraction.
func (l *Ledger) MaxAllowed(iteration string) float64 {
	return l.Capacity(iteration) * (1 - l.buffer)
}

func (l *Ledger) Available(iteration string) float64 {
	return l.MaxAllowed(iteration) - l.load[iteration]
}

func (l *Ledger) Status(iteration string) CapacityStatus {
	capacity := l.Capacity(iteration)
	st := CapacityStatus{
		TeamID:     l.team.ID,
		Iteration:  iteration,
		Load:       l.load[iteration],
		Capacity:   capacity,
		MaxAllowed: l.MaxAllowed(iteration),
		Available:  l.Available(iteration),
	}
	if capacity > 0 {
		st.Utilization = st.Load / capacity * 100
	}
	return st
}

// Commit records effort against iteration. It is the only way load changes.
func (l *Ledger) Commit(iteration string, effort float64) {
	l.load[iteration] += effort
}

// CanFit checks feature dependencies, story dependencies and buffered
// capacity in that order, stopping at the first failure.
func (l *Ledger) CanFit(story *domain.Story, iteration string, res Resolution) Verdict {
	at := l.calendar.Rank(iteration)

	if blocking := blockingDeps(story.DependsOnFeatures, res.Features, func(depIteration string) bool { return l.calendar.Rank(depIteration) < at }); len(blocking) > 0 {
		return Verdict{
			Check:     CheckFeatureDependency,
			Reason:    fmt.Sprintf("waiting on %s to finish in an earlier iteration than %s", describeIDs("feature", blocking), iteration),
			Suggested: l.suggestAfter(story.DependsOnFeatures, res.Features),
			Blocking:  blocking,
		}
	}

	if blocking := blockingDeps(story.DependsOnStories, res.Stories, func(depIteration string) bool { return l.calendar.Rank(depIteration) <= at }); len(blocking) > 0 {
		return Verdict{
			Check:     CheckStoryDependency,
			Reason:    fmt.Sprintf("waiting on %s to be scheduled in or before %s", describeIDs("story", blocking), iteration),
			Suggested: l.suggestAfter(story.DependsOnStories, res.Stories),
			Blocking:  blocking,
		}
	}

	effort := story.PlanningEffort(l.fallbackEffort)
	maxAllowed := l.MaxAllowed(iteration)
	available := maxAllowed - l.load[iteration]
	if effort <= available {
		return Verdict{
			Accepted: true,
			Check:    CheckCapacity,
			Reason:   fmt.Sprintf("%.1f SP free in %s", available, iteration),
		}
	}
	next, _ := l.calendar.Next(iteration)
	return Verdict{
		Check: CheckCapacity,
		Reason: fmt.Sprintf("not enough capacity in %s: %.1f SP available (max %.1f SP with %.0f%% buffer), %.1f SP needed",
			iteration, available, maxAllowed, l.buffer*100, effort),
		Suggested: next,
	}
}

// FindAssignmentSlot scans iterations from start onwards and returns the
// first one CanFit accepts.
func (l *Ledger) FindAssignmentSlot(story *domain.Story, start int, res Resolution) Slot {
	if start < 0 {
		start = 0
	}
	var last Verdict
	for i := start; i < l.calendar.Len(); i++ {
		iteration := l.calendar.At(i)
		last = l.CanFit(story, iteration, res)
		if last.Accepted {
			return Slot{Iteration: iteration, Found: true, Reason: last.Reason, Last: last}
		}
	}
	reason := noSlotReason
	if last.Reason != "" {
		reason = fmt.Sprintf("%s (last check: %s)", noSlotReason, last.Reason)
	}
	return Slot{Reason: reason, Last: last}
}

// suggestAfter points one past the latest already-scheduled dependency. With
// nothing scheduled there is no anchor and no hint.
func (l *Ledger) suggestAfter(deps []int, scheduled map[int]string) string {
	latest, found := -1, false
	for _, dep := range deps {
		it, ok := scheduled[dep]
		if !ok {
			continue
		}
		if r := l.calendar.Rank(it); !found || r > latest {
			latest, found = r, true
		}
	}
	if !found || latest >= l.calendar.Len()-1 {
		return ""
	}
	return l.calendar.At(latest + 1)
}

func blockingDeps(deps []int, scheduled map[int]string, ordered func(depIteration string) bool) []int {
	var blocking []int
	for _, dep := range deps {
		it, ok := scheduled[dep]
		if !ok || !ordered(it) {
			blocking = append(blocking, dep)
		}
	}
	return blocking
}

func describeIDs(kind string, ids []int) string {
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprintf("%s %d", kind, id)
	}
	return strings.Join(parts, ", ")
}
