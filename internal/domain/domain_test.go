package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func pts(v float64) *float64 { return &v }

func TestStoryPlanningEffort(t *testing.T) {
	cases := []struct {
		name  string
		story Story
		want  float64
	}{
		{"new uses effort", Story{State: StateNew, Effort: pts(8), RemainingWork: pts(2)}, 8},
		{"active prefers remaining work", Story{State: StateActive, Effort: pts(8), RemainingWork: pts(2)}, 2},
		{"active without remaining work uses effort", Story{State: StateActive, Effort: pts(8)}, 8},
		{"missing estimate falls back", Story{State: StateNew}, 5},
		{"zero effort falls back", Story{State: StateNew, Effort: pts(0)}, 5},
		{"zero remaining work falls back", Story{State: StateActive, Effort: pts(8), RemainingWork: pts(0)}, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.story.PlanningEffort(5))
		})
	}
}
