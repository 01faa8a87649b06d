package planning_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piplan/internal/domain"
	"piplan/internal/planning"
)

func newPlanner(t *testing.T) planning.DependencyAwarePlanner {
	t.Helper()
	cal, err := planning.NewCalendar(iterations)
	require.NoError(t, err)
	return planning.DependencyAwarePlanner{Calendar: cal}
}

func TestEarliestStart(t *testing.T) {
	p := newPlanner(t)
	tests := []struct {
		name     string
		features []int
		stories  []int
		res      planning.Resolution
		want     int
	}{
		{
			name:     "feature dependency pushes past its iteration",
			features: []int{1},
			res:      planning.Resolution{Features: map[int]string{1: "Sprint 2"}},
			want:     2,
		},
		{
			name:    "story dependency allows the same iteration",
			stories: []int{9},
			res:     planning.Resolution{Stories: map[int]string{9: "Sprint 1"}},
			want:    0,
		},
		{
			name:     "unscheduled dependencies impose nothing",
			features: []int{3},
			stories:  []int{4},
			res:      planning.Resolution{},
			want:     0,
		},
		{
			name:     "latest constraint wins",
			features: []int{1},
			stories:  []int{9},
			res: planning.Resolution{
				Features: map[int]string{1: "Sprint 1"},
				Stories:  map[int]string{9: "Sprint 3"},
			},
			want: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := story(100, 50, "a", 1)
			s.DependsOnFeatures = tt.features
			s.DependsOnStories = tt.stories
			assert.Equal(t, tt.want, p.EarliestStart(&s, tt.res))
		})
	}
}

func TestFindSlotBeyondHorizon(t *testing.T) {
	p := newPlanner(t)
	l := planning.NewLedger(domain.Team{ID: "a", Capacity: 40}, p.Calendar, 0, 5)
	s := story(1, 2, "a", 1)
	s.DependsOnFeatures = []int{1}
	slot := p.FindSlot(&s, l, planning.Resolution{Features: map[int]string{1: "Sprint 3"}})
	assert.False(t, slot.Found)
	assert.Contains(t, slot.Reason, "beyond the last iteration")
}

func TestFindSlotSearchesFromEarliestStart(t *testing.T) {
	p := newPlanner(t)
	l := planning.NewLedger(domain.Team{ID: "a", Capacity: 40}, p.Calendar, 0, 5)
	s := story(1, 2, "a", 1)
	s.DependsOnFeatures = []int{1}
	slot := p.FindSlot(&s, l, planning.Resolution{Features: map[int]string{1: "Sprint 1"}, Stories: map[int]string{}})
	require.True(t, slot.Found)
	assert.Equal(t, "Sprint 2", slot.Iteration)
}
