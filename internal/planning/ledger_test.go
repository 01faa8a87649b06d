package planning_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piplan/internal/domain"
	"piplan/internal/planning"
)

func newLedger(t *testing.T, team domain.Team, buffer float64) *planning.Ledger {
	t.Helper()
	cal, err := planning.NewCalendar(iterations)
	require.NoError(t, err)
	return planning.NewLedger(team, cal, buffer, planning.DefaultFallbackEffort)
}

func emptyResolution() planning.Resolution {
	return planning.Resolution{Stories: map[int]string{}, Features: map[int]string{}}
}

func TestLedgerCapacityWithoutBuffer(t *testing.T) {
	l := newLedger(t, domain.Team{ID: "a", Capacity: 20}, 0)
	first := story(1, 10, "a", 15)
	second := story(2, 10, "a", 10)

	v := l.CanFit(&first, "Sprint 1", emptyResolution())
	require.True(t, v.Accepted)
	l.Commit("Sprint 1", 15)

	v = l.CanFit(&second, "Sprint 1", emptyResolution())
	assert.False(t, v.Accepted)
	assert.Equal(t, planning.CheckCapacity, v.Check)
	assert.Equal(t, "Sprint 2", v.Suggested)
	assert.Contains(t, v.Reason, "5.0 SP available")

	slot := l.FindAssignmentSlot(&second, 0, emptyResolution())
	require.True(t, slot.Found)
	assert.Equal(t, "Sprint 2", slot.Iteration)
}

func TestLedgerBufferAndOverrides(t *testing.T) {
	team := domain.Team{ID: "a", Capacity: 40, CapacityPerIteration: map[string]float64{"Sprint 2": 10}}
	l := newLedger(t, team, 0.2)

	assert.InDelta(t, 32.0, l.MaxAllowed("Sprint 1"), 1e-9)
	assert.InDelta(t, 8.0, l.MaxAllowed("Sprint 2"), 1e-9)

	s := story(1, 1, "a", 9)
	assert.False(t, l.CanFit(&s, "Sprint 2", emptyResolution()).Accepted)
	assert.True(t, l.CanFit(&s, "Sprint 3", emptyResolution()).Accepted)
}

func TestLedgerCapacityRejectOnLastIterationHasNoSuggestion(t *testing.T) {
	l := newLedger(t, domain.Team{ID: "a", Capacity: 5}, 0)
	s := story(1, 1, "a", 8)
	v := l.CanFit(&s, "Sprint 3", emptyResolution())
	assert.False(t, v.Accepted)
	assert.Empty(t, v.Suggested)

	slot := l.FindAssignmentSlot(&s, 0, emptyResolution())
	assert.False(t, slot.Found)
	assert.Contains(t, slot.Reason, "no capacity or dependencies met in any future iteration")
}

func TestLedgerFeatureDependencyMustBeStrictlyEarlier(t *testing.T) {
	l := newLedger(t, domain.Team{ID: "a", Capacity: 40}, 0)
	s := story(1, 1, "a", 3)
	s.DependsOnFeatures = []int{7}
	res := planning.Resolution{Stories: map[int]string{}, Features: map[int]string{7: "Sprint 2"}}

	v := l.CanFit(&s, "Sprint 2", res)
	assert.False(t, v.Accepted)
	assert.Equal(t, planning.CheckFeatureDependency, v.Check)
	assert.Equal(t, []int{7}, v.Blocking)
	assert.Equal(t, "Sprint 3", v.Suggested)

	assert.True(t, l.CanFit(&s, "Sprint 3", res).Accepted)
}

func TestLedgerStoryDependencyAllowsSameIteration(t *testing.T) {
	l := newLedger(t, domain.Team{ID: "a", Capacity: 40}, 0)
	s := story(1, 1, "a", 3)
	s.DependsOnStories = []int{99}
	res := planning.Resolution{Stories: map[int]string{99: "Sprint 2"}, Features: map[int]string{}}

	v := l.CanFit(&s, "Sprint 1", res)
	assert.False(t, v.Accepted)
	assert.Equal(t, planning.CheckStoryDependency, v.Check)
	assert.Equal(t, "Sprint 3", v.Suggested)

	assert.True(t, l.CanFit(&s, "Sprint 2", res).Accepted)
}

func TestLedgerMissingDependencyNamesIDsWithoutHint(t *testing.T) {
	l := newLedger(t, domain.Team{ID: "a", Capacity: 40}, 0)
	s := story(1, 1, "a", 3)
	s.DependsOnFeatures = []int{12, 4}

	v := l.CanFit(&s, "Sprint 1", emptyResolution())
	assert.False(t, v.Accepted)
	assert.Contains(t, v.Reason, "feature 4, feature 12")
	assert.ElementsMatch(t, []int{4, 12}, v.Blocking)
	assert.Empty(t, v.Suggested)
}

func TestLedgerDependencyChecksRunBeforeCapacity(t *testing.T) {
	l := newLedger(t, domain.Team{ID: "a", Capacity: 1}, 0)
	s := story(1, 1, "a", 30)
	s.DependsOnStories = []int{5}
	v := l.CanFit(&s, "Sprint 1", emptyResolution())
	assert.Equal(t, planning.CheckStoryDependency, v.Check)
}

func TestLedgerStatus(t *testing.T) {
	l := newLedger(t, domain.Team{ID: "a", Capacity: 20}, 0.25)
	l.Commit("Sprint 1", 5)
	st := l.Status("Sprint 1")
	assert.Equal(t, "a", st.TeamID)
	assert.InDelta(t, 15.0, st.MaxAllowed, 1e-9)
	assert.InDelta(t, 10.0, st.Available, 1e-9)
	assert.InDelta(t, 25.0, st.Utilization, 1e-9)
}
