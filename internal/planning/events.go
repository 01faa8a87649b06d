package planning

import "time"

type EventKind string

const (
	EventProposal         EventKind = "proposal"
	EventAccepted         EventKind = "assignment.accepted"
	EventRejected         EventKind = "assignment.rejected"
	EventGapFillingStart  EventKind = "gap_filling.start"
	pendingIterationLabel           = "TBD"
)

// Event is one immutable step of a negotiation, in emission order.
type Event interface {
	Kind() EventKind
	Time() time.Time
}

type ProposalEvent struct {
	At         time.Time `json:"ts"`
	Round      int       `json:"round"`
	StoryID    int       `json:"story_id"`
	StoryTitle string    `json:"story_title"`
	FeatureID  int       `json:"feature_id"`
	TeamID     string    `json:"team_id"`
	Iteration  string    `json:"iteration"`
	Effort     float64   `json:"effort"`
}

type AcceptedEvent struct {
	At            time.Time `json:"ts"`
	Round         int       `json:"round"`
	StoryID       int       `json:"story_id"`
	FeatureID     int       `json:"feature_id"`
	TeamID        string    `json:"team_id"`
	Iteration     string    `json:"iteration"`
	Effort        float64   `json:"effort"`
	SequenceOrder int       `json:"sequence_order"`
	Reason        string    `json:"reason"`
}

type RejectedEvent struct {
	At                 time.Time `json:"ts"`
	Round              int       `json:"round"`
	StoryID            int       `json:"story_id"`
	FeatureID          int       `json:"feature_id"`
	TeamID             string    `json:"team_id"`
	Reason             string    `json:"reason"`
	Blocking           []int     `json:"blocking,omitempty"`
	SuggestedIteration *string   `json:"suggested_iteration"`
}

type GapFillingStartEvent struct {
	At      time.Time `json:"ts"`
	Message string    `json:"message"`
}

func (e ProposalEvent) Kind() EventKind        { return EventProposal }
func (e ProposalEvent) Time() time.Time        { return e.At }
func (e AcceptedEvent) Kind() EventKind        { return EventAccepted }
func (e AcceptedEvent) Time() time.Time        { return e.At }
func (e RejectedEvent) Kind() EventKind        { return EventRejected }
func (e RejectedEvent) Time() time.Time        { return e.At }
func (e GapFillingStartEvent) Kind() EventKind { return EventGapFillingStart }
func (e GapFillingStartEvent) Time() time.Time { return e.At }
