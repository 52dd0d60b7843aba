package control

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"

	"pilotline/internal/action"
	"pilotline/internal/domain"
	"pilotline/internal/repo"
)

// SnapshotHash is the content address of a policy snapshot.
func SnapshotHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256-" + hex.EncodeToString(sum[:])
}

// applyPolicyCommand mutates the orchestration's policy snapshot under the
// revision guard. The compare-and-swap happens in SQL, so a concurrent writer
// that commits first turns this call into a conflict.
func (p Processor) applyPolicyCommand(ctx context.Context, tx *sql.Tx, orch domain.Orchestration, cmd *action.Command) error {
	if cmd.TargetRevision != orch.PolicyRevision {
		return errors.New("Policy revision conflict")
	}
	snap := map[string]any{}
	if orch.PolicySnapshot != "" {
		if err := json.Unmarshal([]byte(orch.PolicySnapshot), &snap); err != nil {
			snap = map[string]any{}
		}
	}
	switch cmd.Type {
	case action.TypeSetPolicy:
		var next map[string]any
		if err := json.Unmarshal(cmd.Policy, &next); err != nil {
			return errors.New(`"policy" must be an object`)
		}
		snap = next
	case action.TypeSetRoleModel:
		models, _ := snap["models"].(map[string]any)
		if models == nil {
			models = map[string]any{}
		}
		models[cmd.Role] = cmd.Model
		snap["models"] = models
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	ok, err := p.Repo.UpdateOrchestrationPolicy(ctx, tx, orch.ID, string(data), SnapshotHash(data), orch.PolicyRevision)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("Policy revision conflict")
	}
	return nil
}

// GetLatestPolicySnapshot returns the stored snapshot as a map, or nil when
// the orchestration or its snapshot is missing or unparseable.
func (p Processor) GetLatestPolicySnapshot(ctx context.Context, orchestrationID string) (map[string]any, error) {
	orch, err := p.Repo.GetOrchestration(ctx, orchestrationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if orch.PolicySnapshot == "" {
		return nil, nil
	}
	var snap map[string]any
	if err := json.Unmarshal([]byte(orch.PolicySnapshot), &snap); err != nil {
		return nil, nil
	}
	return snap, nil
}

// GetActivePolicy overlays the node's live supervisor state on the stored
// snapshot. Any missing or unparseable link in the chain degrades to nil
// rather than an error; the caller renders that as "no active policy".
func (p Processor) GetActivePolicy(ctx context.Context, orchestrationID string) (map[string]any, error) {
	orch, err := p.Repo.GetOrchestration(ctx, orchestrationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	state, err := p.Repo.GetSupervisorState(ctx, orch.FeatureName, orch.NodeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if state.StateJSON == "" {
		return nil, nil
	}
	var live map[string]any
	if err := json.Unmarshal([]byte(state.StateJSON), &live); err != nil {
		return nil, nil
	}
	base := map[string]any{}
	if orch.PolicySnapshot != "" {
		if err := json.Unmarshal([]byte(orch.PolicySnapshot), &base); err != nil {
			return nil, nil
		}
	}
	overlay, _ := live["policy"].(map[string]any)
	for k, v := range overlay {
		base[k] = v
	}
	return base, nil
}
