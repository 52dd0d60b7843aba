package repo

import (
	"context"
	"database/sql"
	"errors"

	"pilotline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,name,created_at) VALUES (?,?,?)`,
		p.ID, p.Name, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) InsertDesign(ctx context.Context, d domain.Design) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO designs(id,project_id,title,created_at) VALUES (?,?,?,?)`,
		d.ID, d.ProjectID, d.Title, d.CreatedAt)
	return err
}

func (r Repo) GetDesign(ctx context.Context, id string) (domain.Design, error) {
	var d domain.Design
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,title,created_at FROM designs WHERE id=?`, id).
		Scan(&d.ID, &d.ProjectID, &d.Title, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) UpsertNode(ctx context.Context, n domain.Node) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO nodes(id,name,webhook_url,last_heartbeat_at,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, webhook_url=excluded.webhook_url`,
		n.ID, nullable(n.Name), nullableStringPtr(n.WebhookURL), nullable(n.LastHeartbeatAt), n.CreatedAt)
	return err
}

func (r Repo) GetNode(ctx context.Context, id string) (domain.Node, error) {
	var n domain.Node
	var name, webhookURL, heartbeat sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,webhook_url,last_heartbeat_at,created_at FROM nodes WHERE id=?`, id).
		Scan(&n.ID, &name, &webhookURL, &heartbeat, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if name.Valid {
		n.Name = name.String
	}
	if webhookURL.Valid {
		n.WebhookURL = &webhookURL.String
	}
	if heartbeat.Valid {
		n.LastHeartbeatAt = heartbeat.String
	}
	return n, nil
}

func (r Repo) ListNodes(ctx context.Context) ([]domain.Node, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,webhook_url,last_heartbeat_at,created_at FROM nodes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Node
	for rows.Next() {
		var n domain.Node
		var name, webhookURL, heartbeat sql.NullString
		if err := rows.Scan(&n.ID, &name, &webhookURL, &heartbeat, &n.CreatedAt); err != nil {
			return nil, err
		}
		if name.Valid {
			n.Name = name.String
		}
		if webhookURL.Valid {
			n.WebhookURL = &webhookURL.String
		}
		if heartbeat.Valid {
			n.LastHeartbeatAt = heartbeat.String
		}
		res = append(res, n)
	}
	return res, nil
}

func (r Repo) RecordHeartbeat(ctx context.Context, nodeID, ts string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE nodes SET last_heartbeat_at=? WHERE id=?`, ts, nodeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertOrchestration(ctx context.Context, tx *sql.Tx, o domain.Orchestration) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO orchestrations(id,project_id,design_id,node_id,feature_name,branch,status,total_phases,policy_snapshot,policy_snapshot_hash,preset_origin,design_only,policy_revision,ticket_ids_json,requested_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.ProjectID, o.DesignID, o.NodeID, o.FeatureName, nullable(o.Branch), o.Status, o.TotalPhases,
		nullable(o.PolicySnapshot), nullable(o.PolicySnapshotHash), nullable(o.PresetOrigin), boolToInt(o.DesignOnly),
		o.PolicyRevision, nullable(o.TicketIDsJSON), o.RequestedBy, o.CreatedAt)
	return err
}

const orchestrationColumns = `id,project_id,design_id,node_id,feature_name,COALESCE(branch,''),status,total_phases,COALESCE(policy_snapshot,''),COALESCE(policy_snapshot_hash,''),COALESCE(preset_origin,''),design_only,policy_revision,COALESCE(ticket_ids_json,''),requested_by,created_at`

func scanOrchestration(row *sql.Row) (domain.Orchestration, error) {
	var o domain.Orchestration
	var designOnly int
	err := row.Scan(&o.ID, &o.ProjectID, &o.DesignID, &o.NodeID, &o.FeatureName, &o.Branch, &o.Status, &o.TotalPhases,
		&o.PolicySnapshot, &o.PolicySnapshotHash, &o.PresetOrigin, &designOnly, &o.PolicyRevision, &o.TicketIDsJSON,
		&o.RequestedBy, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	o.DesignOnly = designOnly != 0
	return o, err
}

func (r Repo) GetOrchestration(ctx context.Context, id string) (domain.Orchestration, error) {
	return scanOrchestration(r.DB.QueryRowContext(ctx, `SELECT `+orchestrationColumns+` FROM orchestrations WHERE id=?`, id))
}

func (r Repo) GetOrchestrationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Orchestration, error) {
	return scanOrchestration(tx.QueryRowContext(ctx, `SELECT `+orchestrationColumns+` FROM orchestrations WHERE id=?`, id))
}

func (r Repo) ListOrchestrations(ctx context.Context, projectID string) ([]domain.Orchestration, error) {
	query := `SELECT ` + orchestrationColumns + ` FROM orchestrations`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Orchestration
	for rows.Next() {
		var o domain.Orchestration
		var designOnly int
		if err := rows.Scan(&o.ID, &o.ProjectID, &o.DesignID, &o.NodeID, &o.FeatureName, &o.Branch, &o.Status, &o.TotalPhases,
			&o.PolicySnapshot, &o.PolicySnapshotHash, &o.PresetOrigin, &designOnly, &o.PolicyRevision, &o.TicketIDsJSON,
			&o.RequestedBy, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.DesignOnly = designOnly != 0
		res = append(res, o)
	}
	return res, nil
}

// UpdateOrchestrationPolicy writes the new snapshot only if the stored
// revision still matches; the caller handles the zero-rows conflict.
func (r Repo) UpdateOrchestrationPolicy(ctx context.Context, tx *sql.Tx, id, snapshot, hash string, fromRevision int) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE orchestrations SET policy_snapshot=?, policy_snapshot_hash=?, policy_revision=policy_revision+1 WHERE id=? AND policy_revision=?`,
		snapshot, hash, id, fromRevision)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) UpdateOrchestrationStart(ctx context.Context, tx *sql.Tx, id, snapshot, hash, presetOrigin string, designOnly bool) error {
	_, err := tx.ExecContext(ctx, `UPDATE orchestrations SET policy_snapshot=?, policy_snapshot_hash=?, preset_origin=?, design_only=? WHERE id=?`,
		nullable(snapshot), nullable(hash), nullable(presetOrigin), boolToInt(designOnly), id)
	return err
}

func (r Repo) DeleteOrchestrationRow(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM orchestrations WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
