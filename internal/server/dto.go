package server

import (
	"pilotline/internal/control"
	"pilotline/internal/domain"
)

type CreateProjectRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type CreateDesignRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
}

type RegisterNodeRequest struct {
	Name       string  `json:"name"`
	WebhookURL *string `json:"webhook_url,omitempty"`
}

type SupervisorStateRequest struct {
	OrchestrationID string `json:"orchestration_id,omitempty"`
	StateJSON       string `json:"state_json"`
}

type LaunchRequest struct {
	ProjectID      string   `json:"project_id"`
	DesignID       string   `json:"design_id"`
	NodeID         string   `json:"node_id"`
	Feature        string   `json:"feature"`
	Branch         string   `json:"branch,omitempty"`
	TotalPhases    int      `json:"total_phases" minimum:"1"`
	TicketIDs      []string `json:"ticket_ids,omitempty"`
	PolicyPreset   string   `json:"policy_preset"`
	RequestedBy    string   `json:"requested_by"`
	IdempotencyKey string   `json:"idempotency_key"`
}

type LaunchResponse struct {
	OrchestrationID string `json:"orchestration_id"`
	ActionID        string `json:"action_id"`
}

type StartRequest struct {
	NodeID             string `json:"node_id,omitempty"`
	PolicySnapshot     string `json:"policy_snapshot,omitempty"`
	PolicySnapshotHash string `json:"policy_snapshot_hash,omitempty"`
	PresetOrigin       string `json:"preset_origin,omitempty"`
	DesignOnly         *bool  `json:"design_only,omitempty"`
	RequestedBy        string `json:"requested_by"`
	IdempotencyKey     string `json:"idempotency_key"`
}

type EnqueueActionRequest struct {
	NodeID         string `json:"node_id,omitempty"`
	ActionType     string `json:"action_type"`
	Payload        string `json:"payload"`
	RequestedBy    string `json:"requested_by"`
	IdempotencyKey string `json:"idempotency_key"`
}

type ActionResponse struct {
	ActionID string `json:"action_id"`
}

type PolicyResponse struct {
	Policy map[string]any `json:"policy"`
}

type ClaimResponse struct {
	Claimed bool                  `json:"claimed"`
	Action  *domain.InboundAction `json:"action,omitempty"`
}

type TaskEventRequest struct {
	TaskID      string `json:"task_id"`
	PhaseNumber *int   `json:"phase_number,omitempty"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	RecordedAt  string `json:"recorded_at,omitempty" format:"date-time"`
}

type CommitRequest struct {
	PhaseNumber int    `json:"phase_number"`
	SHA         string `json:"sha"`
	Message     string `json:"message,omitempty"`
}

type PlanRequest struct {
	ID          string `json:"id,omitempty"`
	PhaseNumber int    `json:"phase_number"`
	Content     string `json:"content"`
}

type OrchestrationDetailResponse struct {
	Orchestration domain.Orchestration        `json:"orchestration"`
	Phases        []domain.Phase              `json:"phases"`
	Tasks         []domain.ExecutionTask      `json:"tasks"`
	TaskStates    []domain.TaskEvent          `json:"task_states"`
	Events        []domain.OrchestrationEvent `json:"events"`
}

func detailResponse(d control.OrchestrationDetail) OrchestrationDetailResponse {
	return OrchestrationDetailResponse{
		Orchestration: d.Orchestration,
		Phases:        d.Phases,
		Tasks:         d.Tasks,
		TaskStates:    d.TaskStates,
		Events:        d.Events,
	}
}
