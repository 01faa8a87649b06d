package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"piplan/internal/analysis"
	"piplan/internal/config"
	"piplan/internal/domain"
	"piplan/internal/events"
	"piplan/internal/planning"
	"piplan/internal/repo"
	"piplan/internal/snapshot"
	"piplan/internal/webhook"
)

// TimeLayout is a fixed-width RFC 3339 layout, so stored timestamps sort
// lexically in time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrInvalidRequest marks planning requests rejected before negotiation starts.
var ErrInvalidRequest = errors.New("invalid plan request")

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Webhooks *webhook.Dispatcher
	Log      *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

func New(db *sql.DB, cfg *config.Config, log *slog.Logger) Engine {
	if log == nil {
		log = slog.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{},
		Config:   cfg,
		Webhooks: webhook.NewDispatcher(cfg, log),
		Log:      log,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// PlanRequest describes one planning run. Zero values fall back to the
// snapshot and then to the project config.
type PlanRequest struct {
	Snapshot       *snapshot.Snapshot
	Iterations     []string
	TeamFilter     []string
	CapacityBuffer *float64
	MaxRounds      int
	FallbackEffort float64
	// Observer sees every event after it is stored. An error aborts the run.
	Observer func(planning.Event) error
}

// Result is everything a finished run produced. It is stored with the run.
type Result struct {
	Run      domain.Run        `json:"run"`
	Teams    []domain.Team     `json:"teams"`
	Features []*domain.Feature `json:"features"`
	Plan     planning.Plan     `json:"plan"`
	Analysis analysis.Report   `json:"analysis"`
}

type settings struct {
	iterations []string
	teams      []domain.Team
	opts       planning.Options
}

func (e Engine) resolve(req PlanRequest) (settings, error) {
	var s settings
	if req.Snapshot == nil {
		return s, errors.New("snapshot is required")
	}
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default("default")
	}
	s.opts = planning.DefaultOptions()
	s.opts.CapacityBuffer = cfg.Planning.CapacityBuffer
	s.opts.MaxRounds = cfg.Planning.MaxRounds
	s.opts.FallbackEffort = cfg.Planning.DefaultEffort
	if req.CapacityBuffer != nil {
		s.opts.CapacityBuffer = *req.CapacityBuffer
	}
	if req.MaxRounds > 0 {
		s.opts.MaxRounds = req.MaxRounds
	}
	if req.FallbackEffort > 0 {
		s.opts.FallbackEffort = req.FallbackEffort
	}

	switch {
	case len(req.Iterations) > 0:
		s.iterations = req.Iterations
	case len(req.Snapshot.Iterations) > 0:
		s.iterations = req.Snapshot.Iterations
	default:
		s.iterations = cfg.Planning.Iterations
	}
	if len(s.iterations) == 0 {
		return s, errors.New("no iterations configured")
	}

	if len(req.Snapshot.Teams) == 0 {
		req.Snapshot.Teams = append([]domain.Team(nil), cfg.Teams...)
	}
	for i := range req.Snapshot.Teams {
		t := &req.Snapshot.Teams[i]
		if t.Capacity == 0 && len(t.CapacityPerIteration) == 0 {
			t.Capacity = cfg.Planning.DefaultCapacity
		}
	}
	err := req.Snapshot.Prepare(snapshot.PrepareOptions{
		Iterations:     s.iterations,
		FallbackEffort: s.opts.FallbackEffort,
		TeamFilter:     req.TeamFilter,
	})
	if err != nil {
		return s, err
	}
	s.teams = req.Snapshot.Teams
	if len(s.teams) == 0 {
		return s, errors.New("no teams to plan for")
	}
	s.opts.Now = e.now
	return s, nil
}

// Plan runs a full negotiation and stores its trace, assignments and result.
// When ctx is canceled mid-run the partial plan is stored with status
// canceled and returned together with ctx's error.
func (e Engine) Plan(ctx context.Context, req PlanRequest) (Result, error) {
	s, err := e.resolve(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	coord, err := planning.NewCoordinator(s.teams, req.Snapshot.Features, s.iterations, s.opts)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	coord.Prioritize()

	projectID := ""
	if e.Config != nil {
		projectID = e.Config.Project.ID
	}
	run := domain.Run{
		ID:             e.newID(),
		ProjectID:      projectID,
		Status:         domain.RunRunning,
		Iterations:     s.iterations,
		CapacityBuffer: s.opts.CapacityBuffer,
		MaxRounds:      s.opts.MaxRounds,
		CreatedAt:      e.now().UTC().Format(TimeLayout),
	}
	log := e.logger().With("run_id", run.ID)

	// storage outlives cancellation so a canceled run keeps its trace
	dbCtx := context.WithoutCancel(ctx)
	tx, err := e.DB.BeginTx(dbCtx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRunTx(dbCtx, tx, run); err != nil {
		return Result{}, fmt.Errorf("insert run: %w", err)
	}

	seq := 0
	runErr := coord.Run(ctx, func(evt planning.Event) error {
		seq++
		if err := e.Events.Append(dbCtx, tx, run.ID, seq, evt); err != nil {
			return err
		}
		log.Debug("negotiation event", "seq", seq, "type", string(evt.Kind()))
		if req.Observer != nil {
			return req.Observer(evt)
		}
		return nil
	})
	switch {
	case runErr == nil:
		run.Status = domain.RunCompleted
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		run.Status = domain.RunCanceled
	default:
		return Result{}, fmt.Errorf("negotiate: %w", runErr)
	}

	plan := coord.Plan()
	res := Result{
		Teams:    s.teams,
		Features: coord.Features(),
		Plan:     plan,
		Analysis: analysis.Analyze(analysis.Input{
			Features: coord.Features(),
			Teams:    s.teams,
			Calendar: coord.Calendar(),
			Plan:     plan,
			Capacity: coord.Capacity(),
		}),
	}
	run.Rounds = plan.Rounds
	run.TotalStories = plan.Summary.TotalStories
	run.Schedulable = plan.Summary.Schedulable
	run.Unassigned = plan.Summary.Unassigned
	run.Accepted = plan.Summary.Accepted
	run.Rejected = plan.Summary.Rejected
	res.Run = run

	if err := e.Repo.InsertAssignmentsTx(dbCtx, tx, run.ID, plan.Assignments); err != nil {
		return Result{}, err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return Result{}, fmt.Errorf("marshal result: %w", err)
	}
	if err := e.Repo.FinishRunTx(dbCtx, tx, run, data); err != nil {
		return Result{}, fmt.Errorf("finish run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}

	log.Info("planning run finished",
		"status", string(run.Status),
		"events", seq,
		"accepted", run.Accepted,
		"rejected", run.Rejected,
		"unassigned", run.Unassigned,
		"risks", len(res.Analysis.Risks))

	evtType := webhook.EventPlanCompleted
	if run.Status == domain.RunCanceled {
		evtType = webhook.EventPlanCanceled
	}
	e.Webhooks.Notify(dbCtx, evtType, run.ID, run)

	if run.Status == domain.RunCanceled {
		return res, runErr
	}
	return res, nil
}

func (e Engine) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return e.Repo.GetRun(ctx, id)
}

// GetResult loads the stored result of a finished run.
func (e Engine) GetResult(ctx context.Context, id string) (Result, error) {
	data, err := e.Repo.GetRunResult(ctx, id)
	if err != nil {
		return Result{}, err
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("decode result of run %s: %w", id, err)
	}
	return res, nil
}

func (e Engine) ListRuns(ctx context.Context, limit int, cursorCreatedAt, cursorID string) ([]domain.Run, error) {
	projectID := ""
	if e.Config != nil {
		projectID = e.Config.Project.ID
	}
	return e.Repo.ListRuns(ctx, projectID, limit, cursorCreatedAt, cursorID)
}

func (e Engine) ListAssignments(ctx context.Context, runID, teamID, iteration string) ([]domain.Assignment, error) {
	if _, err := e.Repo.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return e.Repo.ListAssignments(ctx, runID, teamID, iteration)
}

func (e Engine) ListEvents(ctx context.Context, runID string, cursor int64, limit int, evtType string) ([]domain.Event, error) {
	if _, err := e.Repo.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return e.Repo.ListEvents(ctx, runID, cursor, limit, evtType)
}

// DeleteRun removes a run with its trace and assignments.
func (e Engine) DeleteRun(ctx context.Context, runID string) error {
	return e.Repo.DeleteRun(ctx, runID)
}
