package planning_test

import (
	"time"

	"piplan/internal/domain"
)

var iterations = []string{"Sprint 1", "Sprint 2", "Sprint 3"}

func pts(v float64) *float64 { return &v }

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) }
}

func story(id, feature int, team string, effort float64) domain.Story {
	return domain.Story{ID: id, Title: "story", FeatureID: feature, AssignedTeam: team, Effort: pts(effort), State: domain.StateNew}
}
