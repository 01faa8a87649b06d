package planning

import (
	"slices"
	"time"

	"piplan/internal/domain"
)

const (
	DefaultBusinessValue = 100.0
	noDeadlineNumber     = unknownIterationNumber
)

// Prioritizer orders features for negotiation.
type Prioritizer interface {
	Prioritize(features []*domain.Feature) []*domain.Feature
}

// StandardPrioritizer ranks by earliest milestone date, then deadline
// iteration, then descending cost of delay. Cost of delay, priority score and
// rank are written back onto each feature.
type StandardPrioritizer struct {
	Calendar Calendar
}

// UrgencyBoost scales business value by how early the deadline iteration falls.
func UrgencyBoost(deadlineNumber int) float64 {
	switch {
	case deadlineNumber <= 2:
		return 2.0
	case deadlineNumber <= 4:
		return 1.5
	default:
		return 1.0
	}
}

type priorityKey struct {
	milestone    time.Time
	hasMilestone bool
	deadline     int
	costOfDelay  float64
}

func (k priorityKey) compare(o priorityKey) int {
	switch {
	case k.hasMilestone && !o.hasMilestone:
		return -1
	case !k.hasMilestone && o.hasMilestone:
		return 1
	case k.hasMilestone && !k.milestone.Equal(o.milestone):
		return k.milestone.Compare(o.milestone)
	}
	if k.deadline != o.deadline {
		if k.deadline < o.deadline {
			return -1
		}
		return 1
	}
	switch {
	case k.costOfDelay > o.costOfDelay:
		return -1
	case k.costOfDelay < o.costOfDelay:
		return 1
	}
	return 0
}

func (p StandardPrioritizer) Prioritize(features []*domain.Feature) []*domain.Feature {
	type ranked struct {
		feature *domain.Feature
		key     priorityKey
	}
	items := make([]ranked, 0, len(features))
	for _, f := range features {
		if f == nil {
			continue
		}
		deadline := p.deadlineNumber(f)
		p.score(f, deadline)
		key := priorityKey{deadline: deadline, costOfDelay: f.CostOfDelay}
		key.milestone, key.hasMilestone = f.EarliestMilestone()
		items = append(items, ranked{feature: f, key: key})
	}
	slices.SortStableFunc(items, func(a, b ranked) int { return a.key.compare(b.key) })
	out := make([]*domain.Feature, len(items))
	for i, it := range items {
		it.feature.Rank = i + 1
		out[i] = it.feature
	}
	return out
}

func (p StandardPrioritizer) score(f *domain.Feature, deadline int) {
	if f.BusinessValue == nil || *f.BusinessValue == 0 {
		bv := DefaultBusinessValue
		f.BusinessValue = &bv
	}
	f.CostOfDelay = *f.BusinessValue * UrgencyBoost(deadline)
	effort := 1.0
	if f.Effort != nil && *f.Effort > 0 {
		effort = *f.Effort
	}
	f.PriorityScore = f.CostOfDelay / effort
}

func (p StandardPrioritizer) deadlineNumber(f *domain.Feature) int {
	if f.DeadlineIteration == "" {
		return noDeadlineNumber
	}
	return p.Calendar.Number(f.DeadlineIteration)
}
