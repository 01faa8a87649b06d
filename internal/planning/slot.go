package planning

import "piplan/internal/domain"

const beyondHorizonReason = "dependencies push the earliest start beyond the last iteration"

// Planner finds the iteration a story should land in for a given team.
type Planner interface {
	FindSlot(story *domain.Story, ledger *Ledger, res Resolution) Slot
}

// DependencyAwarePlanner starts the search at the earliest iteration already
// scheduled dependencies allow and lets the ledger scan forward from there.
type DependencyAwarePlanner struct {
	Calendar Calendar
}

// EarliestStart returns the lowest iteration index the story may start in.
// Feature dependencies must finish in a strictly earlier iteration, story
// dependencies may share one. Unscheduled dependencies impose nothing here;
// the ledger rejects them. A result >= Calendar.Len() means no room.
func (p DependencyAwarePlanner) EarliestStart(story *domain.Story, res Resolution) int {
	start := 0
	for _, dep := range story.DependsOnFeatures {
		it, ok := res.Features[dep]
		if !ok {
			continue
		}
		if idx, known := p.Calendar.Index(it); known {
			start = max(start, idx+1)
		}
	}
	for _, dep := range story.DependsOnStories {
		it, ok := res.Stories[dep]
		if !ok {
			continue
		}
		if idx, known := p.Calendar.Index(it); known {
			start = max(start, idx)
		}
	}
	return start
}

func (p DependencyAwarePlanner) FindSlot(story *domain.Story, ledger *Ledger, res Resolution) Slot {
	start := p.EarliestStart(story, res)
	if start >= p.Calendar.Len() {
		return Slot{Reason: beyondHorizonReason}
	}
	return ledger.FindAssignmentSlot(story, start, res)
}
