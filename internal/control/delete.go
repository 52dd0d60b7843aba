package control

import (
	"context"
	"errors"

	"pilotline/internal/repo"
)

// DeleteResult reports one staged-deletion step.
type DeleteResult struct {
	Done                   bool   `json:"done"`
	Deleted                bool   `json:"deleted"`
	DeletedOrchestrationID string `json:"deleted_orchestration_id,omitempty"`
}

// DeleteOrchestration performs one bounded step of the staged cascade: at
// most one batch per dependent table, then the orchestration row itself once
// every table is drained. Callers loop until Done. Deleting an orchestration
// that is already gone reports Done with Deleted false.
func (p Processor) DeleteOrchestration(ctx context.Context, id string) (DeleteResult, error) {
	orch, err := p.Repo.GetOrchestration(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return DeleteResult{Done: true, Deleted: false, DeletedOrchestrationID: id}, nil
		}
		return DeleteResult{}, err
	}
	batch := p.Config.DeletionBatchSize()
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return DeleteResult{}, err
	}
	defer tx.Rollback()

	remaining := false
	for _, table := range repo.CascadeTables() {
		n, err := p.Repo.DeleteDependentBatch(ctx, tx, orch, table, batch)
		if err != nil {
			return DeleteResult{}, err
		}
		if n == int64(batch) {
			// The table may hold more rows; another step is needed.
			remaining = true
		}
	}
	if remaining {
		if err := tx.Commit(); err != nil {
			return DeleteResult{}, err
		}
		return DeleteResult{Done: false}, nil
	}
	deleted, err := p.Repo.DeleteOrchestrationRow(ctx, tx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Done: true, Deleted: deleted, DeletedOrchestrationID: id}, nil
}

// DeleteOrchestrationFully loops the staged deletion until it finishes.
func (p Processor) DeleteOrchestrationFully(ctx context.Context, id string) (DeleteResult, error) {
	for {
		res, err := p.DeleteOrchestration(ctx, id)
		if err != nil {
			return DeleteResult{}, err
		}
		if res.Done {
			return res, nil
		}
	}
}
