package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"piplan/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const runColumns = `id,project_id,status,iterations_json,capacity_buffer,max_rounds,rounds,total_stories,schedulable_stories,unassigned_stories,accepted,rejected,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		r          domain.Run
		iterations string
	)
	err := row.Scan(&r.ID, &r.ProjectID, &r.Status, &iterations, &r.CapacityBuffer, &r.MaxRounds, &r.Rounds,
		&r.TotalStories, &r.Schedulable, &r.Unassigned, &r.Accepted, &r.Rejected, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(iterations), &r.Iterations); err != nil {
		return r, fmt.Errorf("decode iterations of run %s: %w", r.ID, err)
	}
	return r, nil
}

func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	return insertRun(ctx, tx, run)
}

func (r Repo) InsertRun(ctx context.Context, run domain.Run) error {
	return insertRun(ctx, r.DB, run)
}

func insertRun(ctx context.Context, ex execer, run domain.Run) error {
	iterations, err := json.Marshal(run.Iterations)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO runs(`+runColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.ProjectID, run.Status, string(iterations), run.CapacityBuffer, run.MaxRounds, run.Rounds,
		run.TotalStories, run.Schedulable, run.Unassigned, run.Accepted, run.Rejected, run.CreatedAt)
	return err
}

// FinishRunTx stores the final counters, status and serialized result of a run.
func (r Repo) FinishRunTx(ctx context.Context, tx *sql.Tx, run domain.Run, result []byte) error {
	res, err := tx.ExecContext(ctx, `UPDATE runs SET status=?,rounds=?,total_stories=?,schedulable_stories=?,unassigned_stories=?,accepted=?,rejected=?,result_json=? WHERE id=?`,
		run.Status, run.Rounds, run.TotalStories, run.Schedulable, run.Unassigned, run.Accepted, run.Rejected, nullableBytes(result), run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

// GetRunResult returns the serialized result stored when the run finished.
func (r Repo) GetRunResult(ctx context.Context, id string) ([]byte, error) {
	var data sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT result_json FROM runs WHERE id=?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !data.Valid {
		return nil, ErrNotFound
	}
	return []byte(data.String), nil
}

// ListRuns pages runs newest first. The cursor is the (created_at, id) of the
// last run of the previous page.
func (r Repo) ListRuns(ctx context.Context, projectID string, limit int, cursorCreatedAt, cursorID string) ([]domain.Run, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT ` + runColumns + ` FROM runs WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func (r Repo) DeleteRun(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM runs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertAssignmentsTx(ctx context.Context, tx *sql.Tx, runID string, assignments []domain.Assignment) error {
	for _, a := range assignments {
		_, err := tx.ExecContext(ctx, `INSERT INTO assignments(run_id,story_id,feature_id,team_id,iteration,effort,status,sequence_order,dependency_ready) VALUES (?,?,?,?,?,?,?,?,?)`,
			runID, a.StoryID, a.FeatureID, a.TeamID, a.Iteration, a.Effort, a.Status, a.SequenceOrder, boolToInt(a.DependencyReady))
		if err != nil {
			return fmt.Errorf("insert assignment for story %d: %w", a.StoryID, err)
		}
	}
	return nil
}

// ListAssignments returns a run's assignments in acceptance order, optionally
// narrowed to one team and/or iteration.
func (r Repo) ListAssignments(ctx context.Context, runID, teamID, iteration string) ([]domain.Assignment, error) {
	clauses := []string{"run_id=?"}
	args := []any{runID}
	if teamID != "" {
		clauses = append(clauses, "team_id=?")
		args = append(args, teamID)
	}
	if iteration != "" {
		clauses = append(clauses, "iteration=?")
		args = append(args, iteration)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT story_id,feature_id,team_id,iteration,effort,status,sequence_order,dependency_ready FROM assignments WHERE `+
		strings.Join(clauses, " AND ")+` ORDER BY sequence_order`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var (
			a     domain.Assignment
			ready int
		)
		if err := rows.Scan(&a.StoryID, &a.FeatureID, &a.TeamID, &a.Iteration, &a.Effort, &a.Status, &a.SequenceOrder, &ready); err != nil {
			return nil, err
		}
		a.DependencyReady = ready != 0
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListEvents returns up to limit events of a run in emission order, starting
// after the event id cursor. evtType narrows to one event kind.
func (r Repo) ListEvents(ctx context.Context, runID string, cursor int64, limit int, evtType string) ([]domain.Event, error) {
	clauses := []string{"run_id=?"}
	args := []any{runID}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := `SELECT id,run_id,seq,ts,type,story_id,team_id,payload_json FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			storyID sql.NullInt64
			teamID  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &e.TS, &e.Type, &storyID, &teamID, &e.Payload); err != nil {
			return nil, err
		}
		if storyID.Valid {
			id := int(storyID.Int64)
			e.StoryID = &id
		}
		e.TeamID = teamID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) CountEvents(ctx context.Context, runID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE run_id=?`, runID).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
