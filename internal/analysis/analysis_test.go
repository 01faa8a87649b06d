package analysis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piplan/internal/analysis"
	"piplan/internal/domain"
	"piplan/internal/planning"
)

func calendar(t *testing.T) planning.Calendar {
	t.Helper()
	cal, err := planning.NewCalendar([]string{"Sprint 1", "Sprint 2", "Sprint 3"})
	require.NoError(t, err)
	return cal
}

func accepted(story, feature int, team, iteration string, effort float64) domain.Assignment {
	return domain.Assignment{StoryID: story, FeatureID: feature, TeamID: team, Iteration: iteration, Effort: effort, Status: domain.AssignmentAccepted}
}

func TestAnalyzeRisks(t *testing.T) {
	teams := []domain.Team{
		{ID: "a", Name: "Alpha", Capacity: 10},
		{ID: "b", Name: "Beta", Capacity: 10},
	}
	features := []*domain.Feature{
		{ID: 1, Title: "Auth"},
		{ID: 2, Title: "Payments", DependsOnFeatures: []int{1, 9}},
		{ID: 3, Title: "Reports"},
		{ID: 4, Title: "Audit"},
	}
	plan := planning.Plan{
		Assignments: []domain.Assignment{
			accepted(11, 1, "a", "Sprint 1", 11),
			accepted(21, 2, "b", "Sprint 1", 15),
		},
		FeatureIterations: map[int]string{1: "Sprint 1", 2: "Sprint 1"},
		Rejections:        []planning.Rejection{{StoryID: 31, FeatureID: 3, TeamID: "a", Round: 3, Reason: "no capacity"}},
		UnassignedStories: []int{41},
	}

	rep := analysis.Analyze(analysis.Input{Features: features, Teams: teams, Calendar: calendar(t), Plan: plan})

	var ids []string
	for _, r := range rep.Risks {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{
		"risk-dep-2-9",
		"risk-capacity-a-sprint-1",
		"risk-capacity-b-sprint-1",
		"risk-unassigned-features",
		"risk-no-team",
		"risk-rejected-story-31",
	}, ids)

	dep := rep.Risks[0]
	assert.Equal(t, analysis.LevelHigh, dep.Impact)
	assert.InDelta(t, 2.4, dep.Score, 1e-9)

	// 10% over nominal capacity is high, 50% over is critical
	assert.Equal(t, analysis.LevelHigh, rep.Risks[1].Impact)
	assert.Equal(t, analysis.LevelCritical, rep.Risks[2].Impact)
	assert.Contains(t, rep.Risks[2].Description, "50.0%")

	assert.Equal(t, []int{3, 4}, rep.Risks[3].RelatedFeatures)
	assert.Equal(t, []int{41}, rep.Risks[4].RelatedStories)

	counts := rep.Counts()
	assert.Equal(t, 2, counts[analysis.LevelHigh])
	assert.Equal(t, 1, counts[analysis.LevelCritical])
	assert.Equal(t, 3, counts[analysis.LevelMedium])
}

func TestAnalyzeSingleUnplannedFeature(t *testing.T) {
	features := []*domain.Feature{{ID: 1, Title: "Auth"}, {ID: 2, Title: "Payments"}}
	plan := planning.Plan{
		Assignments:       []domain.Assignment{accepted(11, 1, "a", "Sprint 1", 3)},
		FeatureIterations: map[int]string{1: "Sprint 1"},
	}
	rep := analysis.Analyze(analysis.Input{Features: features, Calendar: calendar(t), Plan: plan})
	require.Len(t, rep.Risks, 1)
	assert.Equal(t, "risk-unassigned-feature-2", rep.Risks[0].ID)
}

func TestDependencyFindings(t *testing.T) {
	features := []*domain.Feature{
		{ID: 1, Title: "Base"},
		{ID: 2, Title: "Needs base", DependsOnFeatures: []int{1}},
		{ID: 3, Title: "Same team", DependsOnFeatures: []int{2}},
	}
	plan := planning.Plan{
		Assignments: []domain.Assignment{
			accepted(21, 2, "a", "Sprint 1", 1),
			accepted(31, 3, "a", "Sprint 2", 1),
			accepted(11, 1, "b", "Sprint 2", 1),
		},
		FeatureIterations: map[int]string{1: "Sprint 2", 2: "Sprint 1", 3: "Sprint 2"},
	}
	rep := analysis.Analyze(analysis.Input{Features: features, Calendar: calendar(t), Plan: plan})

	require.Len(t, rep.Dependencies, 2)
	assert.Equal(t, analysis.FindingOrderViolation, rep.Dependencies[0].Kind)
	assert.Equal(t, 2, rep.Dependencies[0].FeatureID)
	assert.Equal(t, "Sprint 2", rep.Dependencies[0].DependencyIteration)
	assert.Equal(t, analysis.FindingCrossTeam, rep.Dependencies[1].Kind)
	assert.Equal(t, "a", rep.Dependencies[1].FeatureTeam)
	assert.Equal(t, "b", rep.Dependencies[1].DependencyTeam)
}
