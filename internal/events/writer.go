package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"piplan/internal/planning"
)

// Writer appends negotiation events to a run's trace.
type Writer struct {
	Now func() time.Time
}

// Append stores evt as entry seq of runID inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, runID string, seq int, evt planning.Event) error {
	ts := evt.Time()
	if ts.IsZero() {
		if w.Now == nil {
			w.Now = time.Now
		}
		ts = w.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	storyID, teamID := subject(evt)
	_, err = tx.ExecContext(ctx, `INSERT INTO events(run_id,seq,ts,type,story_id,team_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		runID, seq, ts.UTC().Format(time.RFC3339Nano), string(evt.Kind()), storyID, nullable(teamID), string(data))
	if err != nil {
		return fmt.Errorf("append event %d: %w", seq, err)
	}
	return nil
}

func subject(evt planning.Event) (any, string) {
	switch e := evt.(type) {
	case planning.ProposalEvent:
		return e.StoryID, e.TeamID
	case planning.AcceptedEvent:
		return e.StoryID, e.TeamID
	case planning.RejectedEvent:
		return e.StoryID, e.TeamID
	default:
		return nil, ""
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
