package domain

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Design struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Node is an external worker that executes orchestrations and polls the
// dispatch queue. A node with a stale heartbeat is considered offline.
type Node struct {
	ID              string  `json:"id"`
	Name            string  `json:"name,omitempty"`
	WebhookURL      *string `json:"webhook_url,omitempty"`
	LastHeartbeatAt string  `json:"last_heartbeat_at,omitempty" format:"date-time"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type Orchestration struct {
	ID                 string `json:"id"`
	ProjectID          string `json:"project_id"`
	DesignID           string `json:"design_id"`
	NodeID             string `json:"node_id"`
	FeatureName        string `json:"feature_name"`
	Branch             string `json:"branch,omitempty"`
	Status             string `json:"status"`
	TotalPhases        int    `json:"total_phases"`
	PolicySnapshot     string `json:"policy_snapshot,omitempty"`
	PolicySnapshotHash string `json:"policy_snapshot_hash,omitempty"`
	PresetOrigin       string `json:"preset_origin,omitempty"`
	DesignOnly         bool   `json:"design_only"`
	PolicyRevision     int    `json:"policy_revision"`
	TicketIDsJSON      string `json:"ticket_ids_json,omitempty"`
	RequestedBy        string `json:"requested_by"`
	CreatedAt          string `json:"created_at" format:"date-time"`
}

// ControlAction is the immutable log record of a requested command. At most
// one row ever exists per (orchestration_id, idempotency_key).
type ControlAction struct {
	ID              string  `json:"id"`
	OrchestrationID string  `json:"orchestration_id"`
	ActionType      string  `json:"action_type"`
	Payload         string  `json:"payload"`
	RequestedBy     string  `json:"requested_by"`
	IdempotencyKey  string  `json:"idempotency_key"`
	Status          string  `json:"status" enum:"pending,completed"`
	QueueActionID   *string `json:"queue_action_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

// InboundAction is the dispatch-queue entry a worker node claims to execute
// a control action.
type InboundAction struct {
	ID              string  `json:"id"`
	NodeID          string  `json:"node_id"`
	OrchestrationID string  `json:"orchestration_id"`
	Type            string  `json:"type"`
	Payload         string  `json:"payload"`
	Status          string  `json:"status" enum:"pending,claimed,completed"`
	ControlActionID string  `json:"control_action_id"`
	IdempotencyKey  string  `json:"idempotency_key"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	ClaimedAt       *string `json:"claimed_at,omitempty" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
}

type Phase struct {
	OrchestrationID string `json:"orchestration_id"`
	PhaseNumber     int    `json:"phase_number"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// ExecutionTask is a unit of work inside a phase. The task number is unique
// within its phase; revision is the optimistic-concurrency stamp.
type ExecutionTask struct {
	ID              string  `json:"id"`
	OrchestrationID string  `json:"orchestration_id"`
	PhaseNumber     int     `json:"phase_number"`
	TaskNumber      int     `json:"task_number"`
	Subject         string  `json:"subject"`
	Description     string  `json:"description,omitempty"`
	Status          string  `json:"status" enum:"pending,in_progress,completed,skipped"`
	Model           string  `json:"model,omitempty"`
	DependsOn       []int   `json:"depends_on,omitempty"`
	Revision        int     `json:"revision"`
	InsertedBy      *string `json:"inserted_by,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// OrchestrationEvent is an append-only audit entry. Rows are never updated
// or deleted except by the deletion cascade.
type OrchestrationEvent struct {
	ID              int64  `json:"id"`
	OrchestrationID string `json:"orchestration_id"`
	EventType       string `json:"event_type"`
	Source          string `json:"source"`
	Summary         string `json:"summary"`
	Detail          string `json:"detail,omitempty"`
	RecordedAt      string `json:"recorded_at" format:"date-time"`
}

// TaskEvent is an append-only status report from a worker. Current state is a
// read-time projection keeping the latest recorded_at per (phase, task).
type TaskEvent struct {
	ID              int64  `json:"id"`
	OrchestrationID string `json:"orchestration_id"`
	TaskID          string `json:"task_id"`
	PhaseNumber     *int   `json:"phase_number,omitempty"`
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`
	RecordedAt      string `json:"recorded_at" format:"date-time"`
}

type Commit struct {
	ID              string `json:"id"`
	OrchestrationID string `json:"orchestration_id"`
	PhaseNumber     int    `json:"phase_number"`
	SHA             string `json:"sha"`
	Message         string `json:"message,omitempty"`
	RecordedAt      string `json:"recorded_at" format:"date-time"`
}

type Plan struct {
	ID              string `json:"id"`
	OrchestrationID string `json:"orchestration_id"`
	PhaseNumber     int    `json:"phase_number"`
	Content         string `json:"content"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type Team struct {
	ID              string `json:"id"`
	OrchestrationID string `json:"orchestration_id"`
	Name            string `json:"name"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type TeamMember struct {
	TeamID  string `json:"team_id"`
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
}

// SupervisorState is the worker-reported live state for a feature on a node.
// Its state_json may carry a policy overlay merged into the active policy.
type SupervisorState struct {
	FeatureName     string `json:"feature_name"`
	NodeID          string `json:"node_id"`
	OrchestrationID string `json:"orchestration_id,omitempty"`
	StateJSON       string `json:"state_json"`
	UpdatedAt       string `json:"updated_at" format:"date-time"`
}
