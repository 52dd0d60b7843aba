package events

import (
	"context"
	"database/sql"
	"time"
)

// Writer appends orchestration audit events inside the caller's transaction.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, orchestrationID, eventType, source, summary, detail string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO orchestration_events(orchestration_id,event_type,source,summary,detail,recorded_at) VALUES (?,?,?,?,?,?)`,
		orchestrationID, eventType, source, summary, nullable(detail), ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
