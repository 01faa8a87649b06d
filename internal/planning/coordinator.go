package planning

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"time"

	"piplan/internal/domain"
)

const (
	DefaultCapacityBuffer = 0.20
	DefaultMaxRounds      = 3
	DefaultFallbackEffort = 5.0
)

// Phase is the coordinator state: Idle -> Negotiating -> GapFilling -> Done.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNegotiating
	PhaseGapFilling
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseGapFilling:
		return "gap_filling"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// GapFiller runs once after the last round. It is where leftover capacity or
// oversized stories would be handled.
type GapFiller func(ctx context.Context, c *Coordinator)

type Options struct {
	CapacityBuffer float64
	MaxRounds      int
	FallbackEffort float64
	Prioritizer    Prioritizer
	Planner        Planner
	GapFiller      GapFiller
	Now            func() time.Time
}

func DefaultOptions() Options {
	return Options{
		CapacityBuffer: DefaultCapacityBuffer,
		MaxRounds:      DefaultMaxRounds,
		FallbackEffort: DefaultFallbackEffort,
	}
}

func (o Options) validate() error {
	if o.CapacityBuffer < 0 || o.CapacityBuffer >= 1 {
		return fmt.Errorf("capacity buffer %.2f must be in [0,1)", o.CapacityBuffer)
	}
	if o.MaxRounds < 1 {
		return fmt.Errorf("max rounds %d must be at least 1", o.MaxRounds)
	}
	if o.FallbackEffort <= 0 {
		return errors.New("fallback effort must be positive")
	}
	return nil
}

// Rejection is the latest failed decision for a story that is still unscheduled.
type Rejection struct {
	StoryID   int    `json:"story_id"`
	FeatureID int    `json:"feature_id"`
	TeamID    string `json:"team_id"`
	Round     int    `json:"round"`
	Reason    string `json:"reason"`
	Blocking  []int  `json:"blocking,omitempty"`
}

type Summary struct {
	TotalStories int `json:"total_stories"`
	Schedulable  int `json:"schedulable_stories"`
	Unassigned   int `json:"unassigned_stories"`
	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
}

// Plan is the coordinator's output. Maps and slices are copies.
type Plan struct {
	Assignments       []domain.Assignment `json:"assignments"`
	StoryIterations   map[int]string      `json:"story_iterations"`
	FeatureIterations map[int]string      `json:"feature_iterations"`
	Rejections        []Rejection         `json:"rejections"`
	UnassignedStories []int               `json:"unassigned_stories"`
	Summary           Summary             `json:"summary"`
	Rounds            int                 `json:"rounds"`
	Complete          bool                `json:"complete"`
}

// Coordinator owns all scheduling state for one planning run.
type Coordinator struct {
	opts     Options
	calendar Calendar
	teams    []domain.Team
	features []*domain.Feature

	ledgers     map[string]*Ledger
	ledgersName map[string]*Ledger

	phase             Phase
	round             int
	assignments       []domain.Assignment
	scheduledStories  map[int]string
	scheduledFeatures map[int]string
	rejections        map[int]Rejection
}

func NewCoordinator(teams []domain.Team, features []*domain.Feature, iterations []string, opts Options) (*Coordinator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	calendar, err := NewCalendar(iterations)
	if err != nil {
		return nil, err
	}
	if opts.Prioritizer == nil {
		opts.Prioritizer = StandardPrioritizer{Calendar: calendar}
	}
	if opts.Planner == nil {
		opts.Planner = DependencyAwarePlanner{Calendar: calendar}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Coordinator{
		opts:              opts,
		calendar:          calendar,
		teams:             teams,
		features:          features,
		ledgers:           make(map[string]*Ledger, len(teams)),
		ledgersName:       make(map[string]*Ledger, len(teams)),
		scheduledStories:  make(map[int]string),
		scheduledFeatures: make(map[int]string),
		rejections:        make(map[int]Rejection),
	}
	for _, t := range teams {
		if t.ID == "" {
			return nil, errors.New("team id is required")
		}
		if _, dup := c.ledgers[t.ID]; dup {
			return nil, fmt.Errorf("team %s listed twice", t.ID)
		}
		l := NewLedger(t, calendar, opts.CapacityBuffer, opts.FallbackEffort)
		c.ledgers[t.ID] = l
		if t.Name != "" {
			if _, taken := c.ledgersName[t.Name]; !taken {
				c.ledgersName[t.Name] = l
			}
		}
	}
	return c, nil
}

func (c *Coordinator) Phase() Phase { return c.phase }

func (c *Coordinator) Calendar() Calendar { return c.calendar }

func (c *Coordinator) Features() []*domain.Feature { return c.features }

// Ledger resolves a team by id, then by display name.
func (c *Coordinator) Ledger(team string) (*Ledger, bool) {
	if team == "" {
		return nil, false
	}
	if l, ok := c.ledgers[team]; ok {
		return l, true
	}
	l, ok := c.ledgersName[team]
	return l, ok
}

// Prioritize reorders the coordinator's features with the configured
// Prioritizer and returns the new order.
func (c *Coordinator) Prioritize() []*domain.Feature {
	c.features = c.opts.Prioritizer.Prioritize(c.features)
	return c.features
}

func (c *Coordinator) Sequence() []*domain.Story {
	return BuildSequence(c.features)
}

// Negotiate returns the event stream for the run. Each story is decided and
// committed before its event is yielded, so a consumer that stops early or a
// cancelled ctx leaves a consistent partial plan. A coordinator negotiates
// once; later calls yield nothing.
func (c *Coordinator) Negotiate(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if c.phase != PhaseIdle {
			return
		}
		sequence := c.Sequence()
		c.phase = PhaseNegotiating
		for round := 1; round <= c.opts.MaxRounds; round++ {
			c.round = round
			for _, story := range sequence {
				if ctx.Err() != nil {
					return
				}
				if !c.negotiateStory(story, yield) {
					return
				}
			}
		}
		c.phase = PhaseGapFilling
		if !yield(GapFillingStartEvent{At: c.opts.Now(), Message: "starting gap filling"}) {
			return
		}
		if c.opts.GapFiller != nil {
			c.opts.GapFiller(ctx, c)
		}
		c.phase = PhaseDone
	}
}

// Run drains Negotiate, handing each event to observe. It stops at the first
// observer error or when ctx is done.
func (c *Coordinator) Run(ctx context.Context, observe func(Event) error) error {
	for evt := range c.Negotiate(ctx) {
		if observe == nil {
			continue
		}
		if err := observe(evt); err != nil {
			return err
		}
	}
	if c.phase == PhaseDone {
		return nil
	}
	return ctx.Err()
}

func (c *Coordinator) negotiateStory(story *domain.Story, yield func(Event) bool) bool {
	if _, done := c.scheduledStories[story.ID]; done {
		return true
	}
	ledger, ok := c.Ledger(story.AssignedTeam)
	if !ok {
		return true
	}
	teamID := ledger.Team().ID
	effort := story.PlanningEffort(c.opts.FallbackEffort)
	if !yield(ProposalEvent{
		At:         c.opts.Now(),
		Round:      c.round,
		StoryID:    story.ID,
		StoryTitle: story.Title,
		FeatureID:  story.FeatureID,
		TeamID:     teamID,
		Iteration:  pendingIterationLabel,
		Effort:     effort,
	}) {
		return false
	}

	slot := c.opts.Planner.FindSlot(story, ledger, c.resolution())
	if !slot.Found {
		rej := Rejection{
			StoryID:   story.ID,
			FeatureID: story.FeatureID,
			TeamID:    teamID,
			Round:     c.round,
			Reason:    slot.Reason,
			Blocking:  slot.Last.Blocking,
		}
		c.rejections[story.ID] = rej
		return yield(RejectedEvent{
			At:        c.opts.Now(),
			Round:     c.round,
			StoryID:   story.ID,
			FeatureID: story.FeatureID,
			TeamID:    teamID,
			Reason:    rej.Reason,
			Blocking:  rej.Blocking,
		})
	}

	a := c.accept(story, ledger, slot.Iteration, effort)
	return yield(AcceptedEvent{
		At:            c.opts.Now(),
		Round:         c.round,
		StoryID:       a.StoryID,
		FeatureID:     a.FeatureID,
		TeamID:        a.TeamID,
		Iteration:     a.Iteration,
		Effort:        a.Effort,
		SequenceOrder: a.SequenceOrder,
		Reason:        slot.Reason,
	})
}

func (c *Coordinator) accept(story *domain.Story, ledger *Ledger, iteration string, effort float64) domain.Assignment {
	a := domain.Assignment{
		StoryID:         story.ID,
		FeatureID:       story.FeatureID,
		TeamID:          ledger.Team().ID,
		Iteration:       iteration,
		Effort:          effort,
		Status:          domain.AssignmentAccepted,
		SequenceOrder:   len(c.assignments) + 1,
		DependencyReady: true,
	}
	c.assignments = append(c.assignments, a)
	c.scheduledStories[story.ID] = iteration
	if _, seen := c.scheduledFeatures[story.FeatureID]; !seen {
		c.scheduledFeatures[story.FeatureID] = iteration
	}
	ledger.Commit(iteration, effort)
	delete(c.rejections, story.ID)
	return a
}

func (c *Coordinator) resolution() Resolution {
	return Resolution{Stories: c.scheduledStories, Features: c.scheduledFeatures}
}

// Capacity returns the status of every team/iteration cell in calendar order.
func (c *Coordinator) Capacity() []CapacityStatus {
	out := make([]CapacityStatus, 0, len(c.teams)*c.calendar.Len())
	for _, t := range c.teams {
		l := c.ledgers[t.ID]
		for _, it := range c.calendar.names {
			out = append(out, l.Status(it))
		}
	}
	return out
}

// Plan snapshots the accumulated assignments and resolution maps.
func (c *Coordinator) Plan() Plan {
	p := Plan{
		Assignments:       append([]domain.Assignment(nil), c.assignments...),
		StoryIterations:   maps.Clone(c.scheduledStories),
		FeatureIterations: maps.Clone(c.scheduledFeatures),
		Rounds:            c.round,
		Complete:          c.phase == PhaseDone,
	}
	for _, story := range c.Sequence() {
		p.Summary.TotalStories++
		if _, ok := c.Ledger(story.AssignedTeam); !ok {
			p.Summary.Unassigned++
			p.UnassignedStories = append(p.UnassignedStories, story.ID)
			continue
		}
		p.Summary.Schedulable++
		if rej, ok := c.rejections[story.ID]; ok {
			p.Rejections = append(p.Rejections, rej)
		}
	}
	p.Summary.Accepted = len(p.Assignments)
	p.Summary.Rejected = len(p.Rejections)
	return p
}
