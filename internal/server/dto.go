package server

import (
	"encoding/json"

	"piplan/internal/analysis"
	"piplan/internal/domain"
	"piplan/internal/engine"
	"piplan/internal/planning"
)

// CreatePlanRequest is the POST /plans body. Snapshot uses the same document
// shape as snapshot files; Demo plans the built-in sample instead.
type CreatePlanRequest struct {
	Snapshot       json.RawMessage `json:"snapshot,omitempty"`
	Demo           bool            `json:"demo,omitempty"`
	Iterations     []string        `json:"iterations,omitempty"`
	Teams          []string        `json:"teams,omitempty"`
	CapacityBuffer *float64        `json:"capacity_buffer,omitempty"`
	MaxRounds      int             `json:"max_rounds,omitempty"`
	FallbackEffort float64         `json:"fallback_effort,omitempty"`
}

type PlanResponse struct {
	Run         domain.Run                `json:"run"`
	Summary     planning.Summary          `json:"summary"`
	Assignments []domain.Assignment       `json:"assignments"`
	Rejections  []planning.Rejection      `json:"rejections"`
	Unassigned  []int                     `json:"unassigned_stories"`
	Risks       []analysis.Risk           `json:"risks"`
	Capacity    []planning.CapacityStatus `json:"capacity"`
}

func planResponse(res engine.Result) PlanResponse {
	out := PlanResponse{
		Run:         res.Run,
		Summary:     res.Plan.Summary,
		Assignments: res.Plan.Assignments,
		Rejections:  res.Plan.Rejections,
		Unassigned:  res.Plan.UnassignedStories,
		Risks:       res.Analysis.Risks,
		Capacity:    res.Analysis.Capacity,
	}
	if out.Assignments == nil {
		out.Assignments = []domain.Assignment{}
	}
	if out.Rejections == nil {
		out.Rejections = []planning.Rejection{}
	}
	if out.Unassigned == nil {
		out.Unassigned = []int{}
	}
	if out.Risks == nil {
		out.Risks = []analysis.Risk{}
	}
	return out
}

type RiskResponse struct {
	Risks        []analysis.Risk              `json:"risks"`
	Dependencies []analysis.DependencyFinding `json:"dependencies"`
	Counts       map[string]int               `json:"counts"`
}

func riskResponse(rep analysis.Report) RiskResponse {
	out := RiskResponse{
		Risks:        rep.Risks,
		Dependencies: rep.Dependencies,
		Counts:       map[string]int{},
	}
	for level, n := range rep.Counts() {
		out.Counts[string(level)] = n
	}
	if out.Risks == nil {
		out.Risks = []analysis.Risk{}
	}
	if out.Dependencies == nil {
		out.Dependencies = []analysis.DependencyFinding{}
	}
	return out
}

type paginatedRuns struct {
	Items      []domain.Run `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
