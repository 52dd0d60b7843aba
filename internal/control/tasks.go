package control

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pilotline/internal/action"
	"pilotline/internal/domain"
	"pilotline/internal/repo"
)

// applyTaskCommand executes task_edit, task_insert and task_set_model against
// pending tasks. Edits are guarded by the task revision; inserts number
// themselves after the current maximum of the phase.
func (p Processor) applyTaskCommand(ctx context.Context, tx *sql.Tx, orch domain.Orchestration, cmd *action.Command, requestedBy string) error {
	switch cmd.Type {
	case action.TypeTaskInsert:
		return p.insertTask(ctx, tx, orch, cmd, requestedBy)
	default:
		return p.editTask(ctx, tx, orch, cmd)
	}
}

func (p Processor) editTask(ctx context.Context, tx *sql.Tx, orch domain.Orchestration, cmd *action.Command) error {
	t, err := p.Repo.GetTaskByNumberTx(ctx, tx, orch.ID, cmd.PhaseNumber, cmd.TaskNumber)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("Task %d not found in phase %d", cmd.TaskNumber, cmd.PhaseNumber)
		}
		return err
	}
	if t.Status != "pending" {
		return fmt.Errorf("Task %d status is %q (must be %q)", t.TaskNumber, t.Status, "pending")
	}
	if cmd.Revision != t.Revision {
		return errors.New("Task revision conflict")
	}
	switch cmd.Type {
	case action.TypeTaskEdit:
		if cmd.Subject != nil {
			t.Subject = *cmd.Subject
		}
		if cmd.Description != nil {
			t.Description = *cmd.Description
		}
		if cmd.TaskModel != nil {
			t.Model = *cmd.TaskModel
		}
	case action.TypeTaskSetModel:
		t.Model = *cmd.TaskModel
	}
	t.UpdatedAt = p.nowString()
	ok, err := p.Repo.UpdateTaskGuarded(ctx, tx, t, cmd.Revision)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("Task revision conflict")
	}
	return nil
}

func (p Processor) insertTask(ctx context.Context, tx *sql.Tx, orch domain.Orchestration, cmd *action.Command, requestedBy string) error {
	// afterTask 0 means insert at the head of a possibly empty phase.
	if cmd.AfterTask != 0 {
		if _, err := p.Repo.GetTaskByNumberTx(ctx, tx, orch.ID, cmd.PhaseNumber, cmd.AfterTask); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("Task %d not found in phase %d", cmd.AfterTask, cmd.PhaseNumber)
			}
			return err
		}
	}
	for _, dep := range cmd.DependsOn {
		if _, err := p.Repo.GetTaskByNumberTx(ctx, tx, orch.ID, cmd.PhaseNumber, dep); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("Dependency task %d not found in phase %d", dep, cmd.PhaseNumber)
			}
			return err
		}
	}
	max, err := p.Repo.MaxTaskNumber(ctx, tx, orch.ID, cmd.PhaseNumber)
	if err != nil {
		return err
	}
	now := p.nowString()
	t := domain.ExecutionTask{
		ID:              uuid.New().String(),
		OrchestrationID: orch.ID,
		PhaseNumber:     cmd.PhaseNumber,
		TaskNumber:      max + 1,
		Subject:         *cmd.Subject,
		Status:          "pending",
		DependsOn:       cmd.DependsOn,
		Revision:        1,
		InsertedBy:      &requestedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if cmd.Description != nil {
		t.Description = *cmd.Description
	}
	if cmd.TaskModel != nil {
		t.Model = *cmd.TaskModel
	}
	return p.Repo.InsertTask(ctx, tx, t)
}
