package repo

import (
	"context"
	"database/sql"
	"fmt"

	"pilotline/internal/domain"
)

// cascadeTables is the fixed deletion order for everything referencing an
// orchestration. The orchestration row itself goes last, outside this list.
var cascadeTables = []string{
	"phases",
	"task_events",
	"execution_tasks",
	"team_members",
	"teams",
	"commits",
	"plans",
	"control_plane_actions",
	"inbound_actions",
	"orchestration_events",
	"supervisor_states",
}

// CascadeTables returns the ordered dependent-table list.
func CascadeTables() []string {
	return append([]string(nil), cascadeTables...)
}

// DeleteDependentBatch removes at most limit rows referencing the
// orchestration from one table and reports how many went. Each call
// re-queries current state, so interrupted cascades resume safely.
func (r Repo) DeleteDependentBatch(ctx context.Context, tx *sql.Tx, o domain.Orchestration, table string, limit int) (int64, error) {
	var query string
	args := []any{o.ID, limit}
	switch table {
	case "team_members":
		query = `DELETE FROM team_members WHERE rowid IN (
			SELECT tm.rowid FROM team_members tm JOIN teams t ON t.id=tm.team_id WHERE t.orchestration_id=? LIMIT ?)`
	case "teams":
		// team_members.team_id references teams.id, so only member-free
		// teams can go in this batch; the rest wait for a later step.
		query = `DELETE FROM teams WHERE rowid IN (
			SELECT rowid FROM teams WHERE orchestration_id=?
			AND id NOT IN (SELECT team_id FROM team_members) LIMIT ?)`
	case "supervisor_states":
		query = `DELETE FROM supervisor_states WHERE rowid IN (
			SELECT rowid FROM supervisor_states WHERE feature_name=? AND node_id=? LIMIT ?)`
		args = []any{o.FeatureName, o.NodeID, limit}
	default:
		query = fmt.Sprintf(`DELETE FROM %s WHERE rowid IN (SELECT rowid FROM %s WHERE orchestration_id=? LIMIT ?)`, table, table)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s batch: %w", table, err)
	}
	return res.RowsAffected()
}
