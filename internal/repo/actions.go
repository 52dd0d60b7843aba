package repo

import (
	"context"
	"database/sql"
	"strings"

	"pilotline/internal/domain"
)

const controlActionColumns = `id,orchestration_id,action_type,payload,requested_by,idempotency_key,status,queue_action_id,created_at`

func scanControlAction(scan func(dest ...any) error) (domain.ControlAction, error) {
	var a domain.ControlAction
	var queueActionID sql.NullString
	err := scan(&a.ID, &a.OrchestrationID, &a.ActionType, &a.Payload, &a.RequestedBy, &a.IdempotencyKey, &a.Status, &queueActionID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if queueActionID.Valid {
		a.QueueActionID = &queueActionID.String
	}
	return a, err
}

func (r Repo) GetControlActionByKey(ctx context.Context, orchestrationID, idempotencyKey string) (domain.ControlAction, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+controlActionColumns+` FROM control_plane_actions WHERE orchestration_id=? AND idempotency_key=?`,
		orchestrationID, idempotencyKey)
	return scanControlAction(row.Scan)
}

// GetStartActionByKey finds a prior launch by idempotency key alone; launch
// replays have no orchestration id to scope by yet.
func (r Repo) GetStartActionByKey(ctx context.Context, idempotencyKey string) (domain.ControlAction, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+controlActionColumns+` FROM control_plane_actions WHERE action_type=? AND idempotency_key=? ORDER BY created_at LIMIT 1`,
		"start_orchestration", idempotencyKey)
	return scanControlAction(row.Scan)
}

func (r Repo) GetControlAction(ctx context.Context, id string) (domain.ControlAction, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+controlActionColumns+` FROM control_plane_actions WHERE id=?`, id)
	return scanControlAction(row.Scan)
}

func (r Repo) InsertControlAction(ctx context.Context, tx *sql.Tx, a domain.ControlAction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO control_plane_actions(id,orchestration_id,action_type,payload,requested_by,idempotency_key,status,queue_action_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OrchestrationID, a.ActionType, a.Payload, a.RequestedBy, a.IdempotencyKey, a.Status, nullableStringPtr(a.QueueActionID), a.CreatedAt)
	return err
}

func (r Repo) SetControlActionQueueID(ctx context.Context, tx *sql.Tx, actionID, queueActionID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE control_plane_actions SET queue_action_id=? WHERE id=?`, queueActionID, actionID)
	return err
}

func (r Repo) SetControlActionStatus(ctx context.Context, tx *sql.Tx, actionID, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE control_plane_actions SET status=? WHERE id=?`, status, actionID)
	return err
}

func (r Repo) ListControlActions(ctx context.Context, orchestrationID string, limit int) ([]domain.ControlAction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+controlActionColumns+` FROM control_plane_actions WHERE orchestration_id=? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		orchestrationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ControlAction
	for rows.Next() {
		a, err := scanControlAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

func (r Repo) CountControlActions(ctx context.Context, orchestrationID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM control_plane_actions WHERE orchestration_id=?`, orchestrationID).Scan(&n)
	return n, err
}

const inboundActionColumns = `id,node_id,orchestration_id,type,payload,status,control_action_id,idempotency_key,created_at,claimed_at,completed_at`

func scanInboundAction(scan func(dest ...any) error) (domain.InboundAction, error) {
	var a domain.InboundAction
	var claimedAt, completedAt sql.NullString
	err := scan(&a.ID, &a.NodeID, &a.OrchestrationID, &a.Type, &a.Payload, &a.Status, &a.ControlActionID, &a.IdempotencyKey, &a.CreatedAt, &claimedAt, &completedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if claimedAt.Valid {
		a.ClaimedAt = &claimedAt.String
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.String
	}
	return a, err
}

func (r Repo) InsertInboundAction(ctx context.Context, tx *sql.Tx, a domain.InboundAction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO inbound_actions(id,node_id,orchestration_id,type,payload,status,control_action_id,idempotency_key,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.NodeID, a.OrchestrationID, a.Type, a.Payload, a.Status, a.ControlActionID, a.IdempotencyKey, a.CreatedAt)
	return err
}

func (r Repo) GetInboundAction(ctx context.Context, id string) (domain.InboundAction, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+inboundActionColumns+` FROM inbound_actions WHERE id=?`, id)
	return scanInboundAction(row.Scan)
}

// OldestPendingInboundAction returns the next queue entry for a node.
func (r Repo) OldestPendingInboundAction(ctx context.Context, tx *sql.Tx, nodeID string) (domain.InboundAction, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+inboundActionColumns+` FROM inbound_actions WHERE node_id=? AND status='pending' ORDER BY created_at, rowid LIMIT 1`, nodeID)
	return scanInboundAction(row.Scan)
}

func (r Repo) MarkInboundActionClaimed(ctx context.Context, tx *sql.Tx, id, ts string) error {
	_, err := tx.ExecContext(ctx, `UPDATE inbound_actions SET status='claimed', claimed_at=? WHERE id=?`, ts, id)
	return err
}

func (r Repo) MarkInboundActionCompleted(ctx context.Context, tx *sql.Tx, id, ts string) error {
	_, err := tx.ExecContext(ctx, `UPDATE inbound_actions SET status='completed', completed_at=? WHERE id=?`, ts, id)
	return err
}

func (r Repo) ListPendingInboundActions(ctx context.Context, nodeID string, limit int) ([]domain.InboundAction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+inboundActionColumns+` FROM inbound_actions WHERE node_id=? AND status='pending' ORDER BY created_at, rowid LIMIT ?`, nodeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InboundAction
	for rows.Next() {
		a, err := scanInboundAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

// IsUniqueViolation reports whether err is the store's uniqueness-constraint
// rejection; the idempotency ledger converts it into a replay.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
