package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"pilotline/internal/control"
	"pilotline/internal/domain"
)

func registerProjects(api huma.API, p control.Processor) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		proj := domain.Project{
			ID:        newID(input.Body.ID),
			Name:      input.Body.Name,
			CreatedAt: nowString(p),
		}
		if err := p.Repo.InsertProject(ctx, proj); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: proj}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := p.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		proj, err := p.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: proj}, nil
	})
}

func registerDesigns(api huma.API, p control.Processor) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-design",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/designs",
		Summary:       "Create design",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      CreateDesignRequest `json:"body"`
	}) (*struct {
		Body domain.Design `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if _, err := p.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		d := domain.Design{
			ID:        newID(input.Body.ID),
			ProjectID: input.ProjectID,
			Title:     input.Body.Title,
			CreatedAt: nowString(p),
		}
		if err := p.Repo.InsertDesign(ctx, d); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Design `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-design",
		Method:      http.MethodGet,
		Path:        "/designs/{design_id}",
		Summary:     "Get design",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DesignID string `path:"design_id"`
	}) (*struct {
		Body domain.Design `json:"body"`
	}, error) {
		d, err := p.Repo.GetDesign(ctx, input.DesignID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Design `json:"body"`
		}{Body: d}, nil
	})
}

func registerNodes(api huma.API, p control.Processor) {
	huma.Register(api, huma.Operation{
		OperationID: "register-node",
		Method:      http.MethodPut,
		Path:        "/nodes/{node_id}",
		Summary:     "Register or update node",
	}, func(ctx context.Context, input *struct {
		NodeID string `path:"node_id"`
		Body   RegisterNodeRequest `json:"body"`
	}) (*struct {
		Body domain.Node `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		n := domain.Node{
			ID:         input.NodeID,
			Name:       input.Body.Name,
			WebhookURL: input.Body.WebhookURL,
			CreatedAt:  nowString(p),
		}
		if err := p.Repo.UpsertNode(ctx, n); err != nil {
			return nil, handleError(err)
		}
		stored, err := p.Repo.GetNode(ctx, input.NodeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Node `json:"body"`
		}{Body: stored}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-nodes",
		Method:      http.MethodGet,
		Path:        "/nodes",
		Summary:     "List nodes",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Node `json:"body"`
	}, error) {
		items, err := p.Repo.ListNodes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Node `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "node-heartbeat",
		Method:      http.MethodPost,
		Path:        "/nodes/{node_id}/heartbeat",
		Summary:     "Record node heartbeat",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NodeID string `path:"node_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		ts := nowString(p)
		if err := p.Repo.RecordHeartbeat(ctx, input.NodeID, ts); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"node_id": input.NodeID, "last_heartbeat_at": ts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-supervisor-state",
		Method:      http.MethodPut,
		Path:        "/nodes/{node_id}/supervisor-state/{feature_name}",
		Summary:     "Save supervisor state",
	}, func(ctx context.Context, input *struct {
		NodeID      string `path:"node_id"`
		FeatureName string `path:"feature_name"`
		Body        SupervisorStateRequest `json:"body"`
	}) (*struct {
		Body domain.SupervisorState `json:"body"`
	}, error) {
		s := domain.SupervisorState{
			FeatureName:     input.FeatureName,
			NodeID:          input.NodeID,
			OrchestrationID: input.Body.OrchestrationID,
			StateJSON:       input.Body.StateJSON,
			UpdatedAt:       nowString(p),
		}
		if err := p.Repo.UpsertSupervisorState(ctx, s); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SupervisorState `json:"body"`
		}{Body: s}, nil
	})
}

func registerOrchestrations(api huma.API, p control.Processor) {
	huma.Register(api, huma.Operation{
		OperationID:   "launch-orchestration",
		Method:        http.MethodPost,
		Path:          "/orchestrations/launch",
		Summary:       "Launch orchestration",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body LaunchRequest `json:"body"`
	}) (*struct {
		Body LaunchResponse `json:"body"`
	}, error) {
		res, err := p.LaunchOrchestration(ctx, control.LaunchOptions{
			ProjectID:      input.Body.ProjectID,
			DesignID:       input.Body.DesignID,
			NodeID:         input.Body.NodeID,
			Feature:        input.Body.Feature,
			Branch:         input.Body.Branch,
			TotalPhases:    input.Body.TotalPhases,
			TicketIDs:      input.Body.TicketIDs,
			PolicyPreset:   input.Body.PolicyPreset,
			RequestedBy:    input.Body.RequestedBy,
			IdempotencyKey: input.Body.IdempotencyKey,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LaunchResponse `json:"body"`
		}{Body: LaunchResponse{OrchestrationID: res.OrchestrationID, ActionID: res.ActionID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-orchestration",
		Method:      http.MethodPost,
		Path:        "/orchestrations/{orchestration_id}/start",
		Summary:     "Start orchestration",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrchestrationID string `path:"orchestration_id"`
		Body            StartRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		id, err := p.StartOrchestration(ctx, control.StartOptions{
			OrchestrationID:    input.OrchestrationID,
			NodeID:             input.Body.NodeID,
			PolicySnapshot:     input.Body.PolicySnapshot,
			PolicySnapshotHash: input.Body.PolicySnapshotHash,
			PresetOrigin:       input.Body.PresetOrigin,
			DesignOnly:         input.Body.DesignOnly,
			RequestedBy:        input.Body.RequestedBy,
			IdempotencyKey:     input.Body.IdempotencyKey,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: ActionResponse{ActionID: id}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orchestrations",
		Method:      http.MethodGet,
		Path:        "/orchestrations",
		Summary:     "List orchestrations",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body []domain.Orchestration `json:"body"`
	}, error) {
		items, err := p.Repo.ListOrchestrations(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Orchestration `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-orchestration",
		Method:      http.MethodGet,
		Path:        "/orchestrations/{orchestration_id}",
		Summary:     "Get orchestration detail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrchestrationID string `path:"orchestration_id"`
	}) (*struct {
		Body OrchestrationDetailResponse `json:"body"`
	}, error) {
		detail, err := p.GetOrchestrationDetail(ctx, input.OrchestrationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrchestrationDetailResponse `json:"body"`
		}{Body: detailResponse(detail)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-orchestration",
		Method:      http.MethodDelete,
		Path:        "/orchestrations/{orchestration_id}",
		Summary:     "Delete orchestration (one staged step)",
	}, func(ctx context.Context, input *struct {
		OrchestrationID string `path:"orchestration_id"`
	}) (*struct {
		Body control.DeleteResult `json:"body"`
	}, error) {
		res, err := p.DeleteOrchestration(ctx, input.OrchestrationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body control.DeleteResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerActions(api huma.API, p control.Processor) {
	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-action",
		Method:        http.MethodPost,
		Path:          "/orchestrations/{orchestration_id}/actions",
		Summary:       "Enqueue control action",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		OrchestrationID string `path:"orchestration_id"`
		Body            EnqueueActionRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		if input.Body.IdempotencyKey == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "idempotency_key is required", nil)
		}
		id, err := p.EnqueueControlAction(ctx, control.EnqueueOptions{
			OrchestrationID: input.OrchestrationID,
			NodeID:          input.Body.NodeID,
			ActionType:      input.Body.ActionType,
			Payload:         input.Body.Payload,
			RequestedBy:     input.Body.RequestedBy,
			IdempotencyKey:  input.Body.IdempotencyKey,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: ActionResponse{ActionID: id}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/orchestrations/{orchestration_id}/actions",
		Summary:     "List control actions",
	}, func(ctx context.Context, input *struct {
		OrchestrationID string `path:"orchestration_id"`
		Limit           int    `query:"limit"`
	}) (*struct {
		Body []domain.ControlAction `json:"body"`
	}, error) {
		items, err := p.ListControlActions(ctx, input.OrchestrationID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ControlAction `json:"body"`
		}{Body: items}, nil
	})
}

func registerPolicies(api huma.API, p control.Processor) {
	huma.Register(api, huma.Operation{
		OperationID: "get-policy-snapshot",
		Method:      http.MethodGet,
		Path:        "/orchestrations/{orchestration_id}/policy",
		Summary:     "Latest policy snapshot",
	}, func(ctx context.Context, input *struct {
		OrchestrationID string `path:"orchestration_id"`
	}) (*struct {
		Body PolicyResponse `json:"body"`
	}, error) {
		snap, err := p.GetLatestPolicySnapshot(ctx, input.OrchestrationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PolicyResponse `json:"body"`
		}{Body: PolicyResponse{Policy: snap}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-active-policy",
		Method:      http.MethodGet,
		Path:        "/orchestrations/{orchestration_id}/policy/active",
		Summary:     "Active policy (snapshot plus live overlay)",
	}, func(ctx context.Context, input *struct {
		OrchestrationID string `path:"orchestration_id"`
	}) (*struct {
		Body PolicyResponse `json:"body"`
	}, error) {
		policy, err := p.GetActivePolicy(ctx, input.OrchestrationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PolicyResponse `json:"body"`
		}{Body: PolicyResponse{Policy: policy}}, nil
	})
}

func registerQueue(api huma.API, p control.Processor) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-action",
		Method:      http.MethodPost,
		Path:        "/nodes/{node_id}/queue/claim",
		Summary:     "Claim next pending action",
	}, func(ctx context.Context, input *struct {
		NodeID string `path:"node_id"`
	}) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		a, ok, err := p.ClaimNextInboundAction(ctx, input.NodeID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ClaimResponse{Claimed: ok}
		if ok {
			resp.Action = &a
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-action",
		Method:      http.MethodPost,
		Path:        "/nodes/{node_id}/queue/{action_id}/complete",
		Summary:     "Complete a claimed action",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NodeID   string `path:"node_id"`
		ActionID string `path:"action_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := p.CompleteInboundAction(ctx, input.ActionID, input.NodeID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "completed"}}, nil
	})
}

func registerTaskEvents(api huma.API, p control.Processor) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-task-event",
		Method:        http.MethodPost,
		Path:          "/orchestrations/{orchestration_id}/task-events",
		Summary:       "Record task event",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		OrchestrationID string `path:"orchestration_id"`
		Body            TaskEventRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if input.Body.TaskID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "task_id is required", nil)
		}
		err := p.RecordTaskEvent(ctx, domain.TaskEvent{
			OrchestrationID: input.OrchestrationID,
			TaskID:          input.Body.TaskID,
			PhaseNumber:     input.Body.PhaseNumber,
			Status:          input.Body.Status,
			Message:         input.Body.Message,
			RecordedAt:      input.Body.RecordedAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "recorded"}}, nil
	})
}

func registerArtifacts(api huma.API, p control.Processor) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-commit",
		Method:        http.MethodPost,
		Path:          "/orchestrations/{orchestration_id}/commits",
		Summary:       "Record commit",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		OrchestrationID string `path:"orchestration_id"`
		Body            CommitRequest `json:"body"`
	}) (*struct {
		Body domain.Commit `json:"body"`
	}, error) {
		if input.Body.SHA == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "sha is required", nil)
		}
		c := domain.Commit{
			ID:              uuid.New().String(),
			OrchestrationID: input.OrchestrationID,
			PhaseNumber:     input.Body.PhaseNumber,
			SHA:             input.Body.SHA,
			Message:         input.Body.Message,
			RecordedAt:      nowString(p),
		}
		if err := p.Repo.InsertCommit(ctx, c); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Commit `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-commits",
		Method:      http.MethodGet,
		Path:        "/orchestrations/{orchestration_id}/commits",
		Summary:     "List commits",
	}, func(ctx context.Context, input *struct {
		OrchestrationID string `path:"orchestration_id"`
	}) (*struct {
		Body []domain.Commit `json:"body"`
	}, error) {
		items, err := p.Repo.ListCommits(ctx, input.OrchestrationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Commit `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-plan",
		Method:      http.MethodPut,
		Path:        "/orchestrations/{orchestration_id}/plan",
		Summary:     "Save phase plan",
	}, func(ctx context.Context, input *struct {
		OrchestrationID string `path:"orchestration_id"`
		Body            PlanRequest `json:"body"`
	}) (*struct {
		Body domain.Plan `json:"body"`
	}, error) {
		plan := domain.Plan{
			ID:              newID(input.Body.ID),
			OrchestrationID: input.OrchestrationID,
			PhaseNumber:     input.Body.PhaseNumber,
			Content:         input.Body.Content,
			CreatedAt:       nowString(p),
		}
		if err := p.Repo.SavePlan(ctx, plan); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Plan `json:"body"`
		}{Body: plan}, nil
	})
}

func newID(requested string) string {
	if requested != "" {
		return requested
	}
	return uuid.New().String()
}

func nowString(p control.Processor) string {
	return p.Now().UTC().Format("2006-01-02T15:04:05Z07:00")
}
