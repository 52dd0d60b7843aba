package repo

import (
	"context"
	"database/sql"

	"pilotline/internal/domain"
)

func (r Repo) InsertCommit(ctx context.Context, c domain.Commit) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO commits(id,orchestration_id,phase_number,sha,message,recorded_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.OrchestrationID, c.PhaseNumber, c.SHA, nullable(c.Message), c.RecordedAt)
	return err
}

func (r Repo) ListCommits(ctx context.Context, orchestrationID string) ([]domain.Commit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,orchestration_id,phase_number,sha,COALESCE(message,''),recorded_at FROM commits WHERE orchestration_id=? ORDER BY recorded_at`, orchestrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Commit
	for rows.Next() {
		var c domain.Commit
		if err := rows.Scan(&c.ID, &c.OrchestrationID, &c.PhaseNumber, &c.SHA, &c.Message, &c.RecordedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

func (r Repo) SavePlan(ctx context.Context, p domain.Plan) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO plans(id,orchestration_id,phase_number,content,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET content=excluded.content`,
		p.ID, p.OrchestrationID, p.PhaseNumber, p.Content, p.CreatedAt)
	return err
}

func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO teams(id,orchestration_id,name,created_at) VALUES (?,?,?,?)`,
		t.ID, t.OrchestrationID, t.Name, t.CreatedAt)
	return err
}

func (r Repo) InsertTeamMember(ctx context.Context, tx *sql.Tx, m domain.TeamMember) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO team_members(team_id,agent_id,role) VALUES (?,?,?)`,
		m.TeamID, m.AgentID, m.Role)
	return err
}

func (r Repo) UpsertSupervisorState(ctx context.Context, s domain.SupervisorState) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO supervisor_states(feature_name,node_id,orchestration_id,state_json,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(feature_name,node_id) DO UPDATE SET orchestration_id=excluded.orchestration_id, state_json=excluded.state_json, updated_at=excluded.updated_at`,
		s.FeatureName, s.NodeID, nullable(s.OrchestrationID), s.StateJSON, s.UpdatedAt)
	return err
}

func (r Repo) GetSupervisorState(ctx context.Context, featureName, nodeID string) (domain.SupervisorState, error) {
	var s domain.SupervisorState
	var orchestrationID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT feature_name,node_id,orchestration_id,state_json,updated_at FROM supervisor_states WHERE feature_name=? AND node_id=?`,
		featureName, nodeID).Scan(&s.FeatureName, &s.NodeID, &orchestrationID, &s.StateJSON, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if orchestrationID.Valid {
		s.OrchestrationID = orchestrationID.String
	}
	return s, err
}
