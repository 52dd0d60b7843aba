package control

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pilotline/internal/action"
	"pilotline/internal/config"
	"pilotline/internal/domain"
	"pilotline/internal/events"
	"pilotline/internal/repo"
)

// Processor is the control-plane command pipeline. Every public method runs
// as one transaction: idempotency lookup, validation, domain mutation, queue
// entry and audit event either all land or none do.
type Processor struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Processor {
	return Processor{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (p Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Processor) nowString() string {
	return p.now().UTC().Format(time.RFC3339)
}

// EnqueueOptions are the inputs of a runtime control action submission.
type EnqueueOptions struct {
	OrchestrationID string
	NodeID          string
	ActionType      string
	Payload         string
	RequestedBy     string
	IdempotencyKey  string
}

// EnqueueControlAction validates and records a runtime control action,
// returning the control action id. A replayed idempotency key returns the
// previously recorded id with no further side effects.
func (p Processor) EnqueueControlAction(ctx context.Context, opts EnqueueOptions) (string, error) {
	existing, err := p.Repo.GetControlActionByKey(ctx, opts.OrchestrationID, opts.IdempotencyKey)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	cmd, err := action.Validate(opts.ActionType, opts.Payload)
	if err != nil {
		return "", err
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	orch, err := p.Repo.GetOrchestrationTx(ctx, tx, opts.OrchestrationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", errors.New("Orchestration not found")
		}
		return "", err
	}
	if err := p.applyCommand(ctx, tx, orch, cmd, opts.RequestedBy); err != nil {
		return "", err
	}
	actionID, err := p.insertActionPair(ctx, tx, orch, actionPair{
		NodeID:         opts.NodeID,
		ActionType:     opts.ActionType,
		Payload:        opts.Payload,
		RequestedBy:    opts.RequestedBy,
		IdempotencyKey: opts.IdempotencyKey,
		EventType:      "control_action_requested",
	})
	if err != nil {
		if repo.IsUniqueViolation(err) {
			// Lost the insert race; the winner's row is the result.
			tx.Rollback()
			winner, lookupErr := p.Repo.GetControlActionByKey(ctx, opts.OrchestrationID, opts.IdempotencyKey)
			if lookupErr != nil {
				return "", lookupErr
			}
			return winner.ID, nil
		}
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return actionID, nil
}

func (p Processor) applyCommand(ctx context.Context, tx *sql.Tx, orch domain.Orchestration, cmd *action.Command, requestedBy string) error {
	switch cmd.Type {
	case action.TypeSetPolicy, action.TypeSetRoleModel:
		return p.applyPolicyCommand(ctx, tx, orch, cmd)
	case action.TypeTaskEdit, action.TypeTaskInsert, action.TypeTaskSetModel:
		return p.applyTaskCommand(ctx, tx, orch, cmd, requestedBy)
	}
	// pause/resume/retry are pure dispatch commands; the node interprets them.
	return nil
}

type actionPair struct {
	NodeID         string
	ActionType     string
	Payload        string
	RequestedBy    string
	IdempotencyKey string
	EventType      string
}

// insertActionPair writes the control action, its dispatch-queue entry and
// one audit event inside the caller's transaction.
func (p Processor) insertActionPair(ctx context.Context, tx *sql.Tx, orch domain.Orchestration, pair actionPair) (string, error) {
	now := p.nowString()
	nodeID := pair.NodeID
	if nodeID == "" {
		nodeID = orch.NodeID
	}
	ctl := domain.ControlAction{
		ID:              uuid.New().String(),
		OrchestrationID: orch.ID,
		ActionType:      pair.ActionType,
		Payload:         pair.Payload,
		RequestedBy:     pair.RequestedBy,
		IdempotencyKey:  pair.IdempotencyKey,
		Status:          "pending",
		CreatedAt:       now,
	}
	if err := p.Repo.InsertControlAction(ctx, tx, ctl); err != nil {
		return "", err
	}
	inbound := domain.InboundAction{
		ID:              uuid.New().String(),
		NodeID:          nodeID,
		OrchestrationID: orch.ID,
		Type:            pair.ActionType,
		Payload:         pair.Payload,
		Status:          "pending",
		ControlActionID: ctl.ID,
		IdempotencyKey:  pair.IdempotencyKey,
		CreatedAt:       now,
	}
	if err := p.Repo.InsertInboundAction(ctx, tx, inbound); err != nil {
		return "", err
	}
	if err := p.Repo.SetControlActionQueueID(ctx, tx, ctl.ID, inbound.ID); err != nil {
		return "", err
	}
	summary := fmt.Sprintf("%s requested by %s", pair.ActionType, pair.RequestedBy)
	if err := p.Events.Append(ctx, tx, orch.ID, pair.EventType, "control-plane", summary, pair.Payload); err != nil {
		return "", err
	}
	return ctl.ID, nil
}

// StartOptions starts an already-created orchestration.
type StartOptions struct {
	OrchestrationID    string
	NodeID             string
	PolicySnapshot     string
	PolicySnapshotHash string
	PresetOrigin       string
	DesignOnly         *bool
	RequestedBy        string
	IdempotencyKey     string
}

// StartOrchestration enqueues the synthetic start_orchestration action for an
// existing orchestration, optionally refreshing its policy snapshot fields.
func (p Processor) StartOrchestration(ctx context.Context, opts StartOptions) (string, error) {
	existing, err := p.Repo.GetControlActionByKey(ctx, opts.OrchestrationID, opts.IdempotencyKey)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	orch, err := p.Repo.GetOrchestrationTx(ctx, tx, opts.OrchestrationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", errors.New("Orchestration not found")
		}
		return "", err
	}
	if opts.PolicySnapshot != "" {
		orch.PolicySnapshot = opts.PolicySnapshot
		orch.PolicySnapshotHash = opts.PolicySnapshotHash
		if orch.PolicySnapshotHash == "" {
			orch.PolicySnapshotHash = SnapshotHash([]byte(opts.PolicySnapshot))
		}
	}
	if opts.PresetOrigin != "" {
		orch.PresetOrigin = opts.PresetOrigin
	}
	if opts.DesignOnly != nil {
		orch.DesignOnly = *opts.DesignOnly
	}
	if err := p.Repo.UpdateOrchestrationStart(ctx, tx, orch.ID, orch.PolicySnapshot, orch.PolicySnapshotHash, orch.PresetOrigin, orch.DesignOnly); err != nil {
		return "", err
	}
	actionID, err := p.insertActionPair(ctx, tx, orch, actionPair{
		NodeID:         opts.NodeID,
		ActionType:     action.TypeStart,
		Payload:        startPayload(orch),
		RequestedBy:    opts.RequestedBy,
		IdempotencyKey: opts.IdempotencyKey,
		EventType:      "launch_requested",
	})
	if err != nil {
		if repo.IsUniqueViolation(err) {
			tx.Rollback()
			winner, lookupErr := p.Repo.GetControlActionByKey(ctx, opts.OrchestrationID, opts.IdempotencyKey)
			if lookupErr != nil {
				return "", lookupErr
			}
			return winner.ID, nil
		}
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return actionID, nil
}

func startPayload(orch domain.Orchestration) string {
	data, _ := json.Marshal(map[string]any{
		"feature":            orch.FeatureName,
		"branch":             orch.Branch,
		"totalPhases":        orch.TotalPhases,
		"policySnapshotHash": orch.PolicySnapshotHash,
		"presetOrigin":       orch.PresetOrigin,
		"designOnly":         orch.DesignOnly,
	})
	return string(data)
}

// LaunchOptions create and start a new orchestration.
type LaunchOptions struct {
	ProjectID      string
	DesignID       string
	NodeID         string
	Feature        string
	Branch         string
	TotalPhases    int
	TicketIDs      []string
	PolicyPreset   string
	RequestedBy    string
	IdempotencyKey string
}

type LaunchResult struct {
	OrchestrationID string
	ActionID        string
}

// LaunchOrchestration validates the project/design/node triple, snapshots the
// requested policy preset, creates the orchestration with its phases and
// enqueues the synthetic start action, all in one transaction.
func (p Processor) LaunchOrchestration(ctx context.Context, opts LaunchOptions) (LaunchResult, error) {
	if prior, err := p.Repo.GetStartActionByKey(ctx, opts.IdempotencyKey); err == nil {
		return LaunchResult{OrchestrationID: prior.OrchestrationID, ActionID: prior.ID}, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return LaunchResult{}, err
	}
	if _, err := p.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return LaunchResult{}, errors.New("Project not found")
		}
		return LaunchResult{}, err
	}
	design, err := p.Repo.GetDesign(ctx, opts.DesignID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return LaunchResult{}, errors.New("Design not found")
		}
		return LaunchResult{}, err
	}
	if design.ProjectID != opts.ProjectID {
		return LaunchResult{}, fmt.Errorf("Design %s does not belong to project %s", opts.DesignID, opts.ProjectID)
	}
	if err := p.ensureNodeOnline(ctx, opts.NodeID); err != nil {
		return LaunchResult{}, err
	}
	preset, ok := p.Config.Policies.Presets[opts.PolicyPreset]
	if !ok {
		return LaunchResult{}, fmt.Errorf("Unknown preset %q", opts.PolicyPreset)
	}
	snapshot, err := json.Marshal(map[string]any{
		"preset":  opts.PolicyPreset,
		"models":  preset.Models,
		"options": preset.Options,
	})
	if err != nil {
		return LaunchResult{}, err
	}
	ticketIDs := ""
	if len(opts.TicketIDs) > 0 {
		b, err := json.Marshal(opts.TicketIDs)
		if err != nil {
			return LaunchResult{}, err
		}
		ticketIDs = string(b)
	}
	now := p.nowString()
	orch := domain.Orchestration{
		ID:                 uuid.New().String(),
		ProjectID:          opts.ProjectID,
		DesignID:           opts.DesignID,
		NodeID:             opts.NodeID,
		FeatureName:        opts.Feature,
		Branch:             opts.Branch,
		Status:             "launching",
		TotalPhases:        opts.TotalPhases,
		PolicySnapshot:     string(snapshot),
		PolicySnapshotHash: SnapshotHash(snapshot),
		PresetOrigin:       opts.PolicyPreset,
		DesignOnly:         len(opts.TicketIDs) == 0,
		PolicyRevision:     0,
		TicketIDsJSON:      ticketIDs,
		RequestedBy:        opts.RequestedBy,
		CreatedAt:          now,
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return LaunchResult{}, err
	}
	defer tx.Rollback()

	if err := p.Repo.InsertOrchestration(ctx, tx, orch); err != nil {
		return LaunchResult{}, err
	}
	for i := 1; i <= opts.TotalPhases; i++ {
		if err := p.Repo.InsertPhase(ctx, tx, domain.Phase{
			OrchestrationID: orch.ID,
			PhaseNumber:     i,
			Status:          "pending",
			CreatedAt:       now,
		}); err != nil {
			return LaunchResult{}, err
		}
	}
	actionID, err := p.insertActionPair(ctx, tx, orch, actionPair{
		NodeID:         opts.NodeID,
		ActionType:     action.TypeStart,
		Payload:        startPayload(orch),
		RequestedBy:    opts.RequestedBy,
		IdempotencyKey: opts.IdempotencyKey,
		EventType:      "launch_requested",
	})
	if err != nil {
		if repo.IsUniqueViolation(err) {
			tx.Rollback()
			prior, lookupErr := p.Repo.GetStartActionByKey(ctx, opts.IdempotencyKey)
			if lookupErr != nil {
				return LaunchResult{}, lookupErr
			}
			return LaunchResult{OrchestrationID: prior.OrchestrationID, ActionID: prior.ID}, nil
		}
		return LaunchResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return LaunchResult{}, err
	}
	return LaunchResult{OrchestrationID: orch.ID, ActionID: actionID}, nil
}

func (p Processor) ensureNodeOnline(ctx context.Context, nodeID string) error {
	node, err := p.Repo.GetNode(ctx, nodeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errors.New("Node not found")
		}
		return err
	}
	ttl := time.Duration(p.Config.HeartbeatTTLSeconds()) * time.Second
	if node.LastHeartbeatAt == "" {
		return fmt.Errorf("Node %s is offline (no heartbeat)", nodeID)
	}
	hb, err := time.Parse(time.RFC3339, node.LastHeartbeatAt)
	// A heartbeat exactly ttl old is already stale.
	if err != nil || p.now().UTC().Sub(hb) >= ttl {
		return fmt.Errorf("Node %s is offline (last heartbeat %s)", nodeID, node.LastHeartbeatAt)
	}
	return nil
}

// ListControlActions returns the newest actions first, default limit 50.
func (p Processor) ListControlActions(ctx context.Context, orchestrationID string, limit int) ([]domain.ControlAction, error) {
	return p.Repo.ListControlActions(ctx, orchestrationID, limit)
}

// ClaimNextInboundAction hands the oldest pending queue entry to a node.
// The second return is false when the queue is empty.
func (p Processor) ClaimNextInboundAction(ctx context.Context, nodeID string) (domain.InboundAction, bool, error) {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InboundAction{}, false, err
	}
	defer tx.Rollback()

	a, err := p.Repo.OldestPendingInboundAction(ctx, tx, nodeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.InboundAction{}, false, nil
		}
		return domain.InboundAction{}, false, err
	}
	now := p.nowString()
	if err := p.Repo.MarkInboundActionClaimed(ctx, tx, a.ID, now); err != nil {
		return domain.InboundAction{}, false, err
	}
	summary := fmt.Sprintf("%s claimed by node %s", a.Type, nodeID)
	if err := p.Events.Append(ctx, tx, a.OrchestrationID, "action_claimed", "node:"+nodeID, summary, ""); err != nil {
		return domain.InboundAction{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InboundAction{}, false, err
	}
	a.Status = "claimed"
	a.ClaimedAt = &now
	return a, true, nil
}

// CompleteInboundAction marks a claimed queue entry and its control action
// completed.
func (p Processor) CompleteInboundAction(ctx context.Context, id, nodeID string) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a, err := p.Repo.GetInboundAction(ctx, id)
	if err != nil {
		return err
	}
	if a.NodeID != nodeID {
		return fmt.Errorf("action %s is not assigned to node %s", id, nodeID)
	}
	now := p.nowString()
	if err := p.Repo.MarkInboundActionCompleted(ctx, tx, a.ID, now); err != nil {
		return err
	}
	if err := p.Repo.SetControlActionStatus(ctx, tx, a.ControlActionID, "completed"); err != nil {
		return err
	}
	summary := fmt.Sprintf("%s completed by node %s", a.Type, nodeID)
	if err := p.Events.Append(ctx, tx, a.OrchestrationID, "action_completed", "node:"+nodeID, summary, ""); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordTaskEvent appends a worker status report.
func (p Processor) RecordTaskEvent(ctx context.Context, e domain.TaskEvent) error {
	if e.RecordedAt == "" {
		e.RecordedAt = p.nowString()
	}
	return p.Repo.InsertTaskEvent(ctx, e)
}

// OrchestrationDetail is the read model for one orchestration.
type OrchestrationDetail struct {
	Orchestration domain.Orchestration
	Phases        []domain.Phase
	Tasks         []domain.ExecutionTask
	TaskStates    []domain.TaskEvent
	Events        []domain.OrchestrationEvent
}

// GetOrchestrationDetail returns the orchestration plus its phases, tasks,
// deduplicated task states and recent audit events.
func (p Processor) GetOrchestrationDetail(ctx context.Context, id string) (OrchestrationDetail, error) {
	orch, err := p.Repo.GetOrchestration(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return OrchestrationDetail{}, errors.New("Orchestration not found")
		}
		return OrchestrationDetail{}, err
	}
	phases, err := p.Repo.ListPhases(ctx, id)
	if err != nil {
		return OrchestrationDetail{}, err
	}
	tasks, err := p.Repo.ListTasks(ctx, id, 0)
	if err != nil {
		return OrchestrationDetail{}, err
	}
	taskEvents, err := p.Repo.ListTaskEvents(ctx, id)
	if err != nil {
		return OrchestrationDetail{}, err
	}
	auditEvents, err := p.Repo.ListOrchestrationEvents(ctx, id, 100)
	if err != nil {
		return OrchestrationDetail{}, err
	}
	return OrchestrationDetail{
		Orchestration: orch,
		Phases:        phases,
		Tasks:         tasks,
		TaskStates:    DedupeTaskEvents(taskEvents),
		Events:        auditEvents,
	}, nil
}
