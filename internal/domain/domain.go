package domain

import "time"

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

type WorkState string

const (
	StateNew      WorkState = "new"
	StateActive   WorkState = "active"
	StateResolved WorkState = "resolved"
	StateClosed   WorkState = "closed"
)

// Plannable reports whether work in this state takes part in planning.
func (s WorkState) Plannable() bool {
	return s == StateNew || s == StateActive || s == ""
}

type AssignmentStatus string

const (
	AssignmentProposed AssignmentStatus = "proposed"
	AssignmentAccepted AssignmentStatus = "accepted"
	AssignmentRejected AssignmentStatus = "rejected"
)

type Team struct {
	ID                   string             `json:"id" yaml:"id"`
	Name                 string             `json:"name" yaml:"name"`
	Capacity             float64            `json:"capacity" yaml:"capacity"`
	CapacityPerIteration map[string]float64 `json:"capacity_per_iteration,omitempty" yaml:"capacity_per_iteration,omitempty"`
}

// CapacityFor returns the override for iteration when present, else the default capacity.
func (t Team) CapacityFor(iteration string) float64 {
	if c, ok := t.CapacityPerIteration[iteration]; ok {
		return c
	}
	return t.Capacity
}

type Story struct {
	ID                int       `json:"id" yaml:"id"`
	Title             string    `json:"title" yaml:"title"`
	Description       string    `json:"description,omitempty" yaml:"description,omitempty"`
	FeatureID         int       `json:"feature_id" yaml:"feature_id"`
	AssignedTeam      string    `json:"assigned_team,omitempty" yaml:"assigned_team,omitempty"`
	Effort            *float64  `json:"effort,omitempty" yaml:"effort,omitempty"`
	RemainingWork     *float64  `json:"remaining_work,omitempty" yaml:"remaining_work,omitempty"`
	State             WorkState `json:"state,omitempty" yaml:"state,omitempty"`
	DependsOnFeatures []int     `json:"depends_on_features,omitempty" yaml:"depends_on_features,omitempty"`
	DependsOnStories  []int     `json:"depends_on_stories,omitempty" yaml:"depends_on_stories,omitempty"`
}

// PlanningEffort resolves the effort used for scheduling. Active stories prefer
// remaining work; a missing or zero estimate resolves to fallback.
func (s Story) PlanningEffort(fallback float64) float64 {
	var v *float64
	if s.State == StateActive && s.RemainingWork != nil {
		v = s.RemainingWork
	} else {
		v = s.Effort
	}
	if v == nil || *v == 0 {
		return fallback
	}
	return *v
}

type Milestone struct {
	ID         int        `json:"id" yaml:"id"`
	Title      string     `json:"title" yaml:"title"`
	TargetDate *time.Time `json:"target_date,omitempty" yaml:"target_date,omitempty"`
	Iteration  string     `json:"iteration,omitempty" yaml:"iteration,omitempty"`
}

type Feature struct {
	ID                int         `json:"id" yaml:"id"`
	Title             string      `json:"title" yaml:"title"`
	Description       string      `json:"description,omitempty" yaml:"description,omitempty"`
	State             WorkState   `json:"state,omitempty" yaml:"state,omitempty"`
	Priority          Priority    `json:"priority,omitempty" yaml:"priority,omitempty"`
	BusinessValue     *float64    `json:"business_value,omitempty" yaml:"business_value,omitempty"`
	CostOfDelay       float64     `json:"cost_of_delay" yaml:"cost_of_delay,omitempty"`
	Effort            *float64    `json:"effort,omitempty" yaml:"effort,omitempty"`
	PriorityScore     float64     `json:"priority_score" yaml:"priority_score,omitempty"`
	Rank              int         `json:"rank,omitempty" yaml:"rank,omitempty"`
	DependsOnFeatures []int       `json:"depends_on_features,omitempty" yaml:"depends_on_features,omitempty"`
	Milestones        []Milestone `json:"milestones,omitempty" yaml:"milestones,omitempty"`
	DeadlineIteration string      `json:"deadline_iteration,omitempty" yaml:"deadline_iteration,omitempty"`
	AssignedTeam      string      `json:"assigned_team,omitempty" yaml:"assigned_team,omitempty"`
	Stories           []Story     `json:"user_stories,omitempty" yaml:"user_stories,omitempty"`
}

// EarliestMilestone returns the earliest dated milestone target, if any.
func (f Feature) EarliestMilestone() (time.Time, bool) {
	var (
		earliest time.Time
		found    bool
	)
	for _, m := range f.Milestones {
		if m.TargetDate == nil {
			continue
		}
		if !found || m.TargetDate.Before(earliest) {
			earliest = *m.TargetDate
			found = true
		}
	}
	return earliest, found
}

type Assignment struct {
	StoryID         int              `json:"story_id"`
	FeatureID       int              `json:"feature_id"`
	TeamID          string           `json:"team_id"`
	Iteration       string           `json:"iteration"`
	Effort          float64          `json:"effort"`
	Status          AssignmentStatus `json:"status" enum:"proposed,accepted,rejected"`
	SequenceOrder   int              `json:"sequence_order"`
	DependencyReady bool             `json:"dependency_ready"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCanceled  RunStatus = "canceled"
	RunFailed    RunStatus = "failed"
)

// Run is the stored header of one planning run.
type Run struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Status         RunStatus `json:"status" enum:"running,completed,canceled,failed"`
	Iterations     []string  `json:"iterations"`
	CapacityBuffer float64   `json:"capacity_buffer"`
	MaxRounds      int       `json:"max_rounds"`
	Rounds         int       `json:"rounds"`
	TotalStories   int       `json:"total_stories"`
	Schedulable    int       `json:"schedulable_stories"`
	Unassigned     int       `json:"unassigned_stories"`
	Accepted       int       `json:"accepted"`
	Rejected       int       `json:"rejected"`
	CreatedAt      string    `json:"created_at" format:"date-time"`
}

type Event struct {
	ID      int64  `json:"id"`
	RunID   string `json:"run_id"`
	Seq     int    `json:"seq"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	StoryID *int   `json:"story_id,omitempty"`
	TeamID  string `json:"team_id,omitempty"`
	Payload string `json:"payload_json"`
}
