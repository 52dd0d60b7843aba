package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"pilotline/internal/domain"
)

func (r Repo) InsertPhase(ctx context.Context, tx *sql.Tx, p domain.Phase) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO phases(orchestration_id,phase_number,status,created_at) VALUES (?,?,?,?)`,
		p.OrchestrationID, p.PhaseNumber, p.Status, p.CreatedAt)
	return err
}

func (r Repo) ListPhases(ctx context.Context, orchestrationID string) ([]domain.Phase, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT orchestration_id,phase_number,status,created_at FROM phases WHERE orchestration_id=? ORDER BY phase_number`, orchestrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Phase
	for rows.Next() {
		var p domain.Phase
		if err := rows.Scan(&p.OrchestrationID, &p.PhaseNumber, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

const taskColumns = `id,orchestration_id,phase_number,task_number,subject,COALESCE(description,''),status,COALESCE(model,''),depends_on_json,revision,inserted_by,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.ExecutionTask, error) {
	var t domain.ExecutionTask
	var dependsOn, insertedBy sql.NullString
	err := scan(&t.ID, &t.OrchestrationID, &t.PhaseNumber, &t.TaskNumber, &t.Subject, &t.Description, &t.Status, &t.Model,
		&dependsOn, &t.Revision, &insertedBy, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if dependsOn.Valid && dependsOn.String != "" {
		_ = json.Unmarshal([]byte(dependsOn.String), &t.DependsOn)
	}
	if insertedBy.Valid {
		t.InsertedBy = &insertedBy.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.ExecutionTask) error {
	deps, err := marshalIntSlice(t.DependsOn)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO execution_tasks(id,orchestration_id,phase_number,task_number,subject,description,status,model,depends_on_json,revision,inserted_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OrchestrationID, t.PhaseNumber, t.TaskNumber, t.Subject, nullable(t.Description), t.Status, nullable(t.Model),
		deps, t.Revision, nullableStringPtr(t.InsertedBy), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTaskByNumberTx(ctx context.Context, tx *sql.Tx, orchestrationID string, phaseNumber, taskNumber int) (domain.ExecutionTask, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM execution_tasks WHERE orchestration_id=? AND phase_number=? AND task_number=?`,
		orchestrationID, phaseNumber, taskNumber)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskByNumber(ctx context.Context, orchestrationID string, phaseNumber, taskNumber int) (domain.ExecutionTask, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM execution_tasks WHERE orchestration_id=? AND phase_number=? AND task_number=?`,
		orchestrationID, phaseNumber, taskNumber)
	return scanTask(row.Scan)
}

func (r Repo) ListTasks(ctx context.Context, orchestrationID string, phaseNumber int) ([]domain.ExecutionTask, error) {
	clauses := `orchestration_id=?`
	args := []any{orchestrationID}
	if phaseNumber > 0 {
		clauses += ` AND phase_number=?`
		args = append(args, phaseNumber)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM execution_tasks WHERE `+clauses+` ORDER BY phase_number, task_number`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExecutionTask
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// MaxTaskNumber returns the highest task number in a phase, 0 when empty.
func (r Repo) MaxTaskNumber(ctx context.Context, tx *sql.Tx, orchestrationID string, phaseNumber int) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(task_number),0) FROM execution_tasks WHERE orchestration_id=? AND phase_number=?`,
		orchestrationID, phaseNumber).Scan(&n)
	return n, err
}

// UpdateTaskGuarded patches the task only if its revision and pending status
// still hold; the revision advances by 1 with the write.
func (r Repo) UpdateTaskGuarded(ctx context.Context, tx *sql.Tx, t domain.ExecutionTask, fromRevision int) (bool, error) {
	deps, err := marshalIntSlice(t.DependsOn)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE execution_tasks SET subject=?, description=?, model=?, depends_on_json=?, revision=revision+1, updated_at=?
WHERE id=? AND revision=? AND status='pending'`,
		t.Subject, nullable(t.Description), nullable(t.Model), deps, t.UpdatedAt, t.ID, fromRevision)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func marshalIntSlice(in []int) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r Repo) InsertTaskEvent(ctx context.Context, e domain.TaskEvent) error {
	var phase any
	if e.PhaseNumber != nil {
		phase = *e.PhaseNumber
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO task_events(orchestration_id,task_id,phase_number,status,message,recorded_at) VALUES (?,?,?,?,?,?)`,
		e.OrchestrationID, e.TaskID, phase, e.Status, nullable(e.Message), e.RecordedAt)
	return err
}

func (r Repo) ListTaskEvents(ctx context.Context, orchestrationID string) ([]domain.TaskEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,orchestration_id,task_id,phase_number,status,COALESCE(message,''),recorded_at FROM task_events WHERE orchestration_id=?`, orchestrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskEvent
	for rows.Next() {
		var e domain.TaskEvent
		var phase sql.NullInt64
		if err := rows.Scan(&e.ID, &e.OrchestrationID, &e.TaskID, &phase, &e.Status, &e.Message, &e.RecordedAt); err != nil {
			return nil, err
		}
		if phase.Valid {
			p := int(phase.Int64)
			e.PhaseNumber = &p
		}
		res = append(res, e)
	}
	return res, nil
}

func (r Repo) ListOrchestrationEvents(ctx context.Context, orchestrationID string, limit int) ([]domain.OrchestrationEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,orchestration_id,event_type,source,summary,COALESCE(detail,''),recorded_at FROM orchestration_events WHERE orchestration_id=? ORDER BY id DESC LIMIT ?`,
		orchestrationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrchestrationEvent
	for rows.Next() {
		var e domain.OrchestrationEvent
		if err := rows.Scan(&e.ID, &e.OrchestrationID, &e.EventType, &e.Source, &e.Summary, &e.Detail, &e.RecordedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}
