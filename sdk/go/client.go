package pilotlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Pilotline HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Orchestration is the API orchestration model (partial).
type Orchestration struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	FeatureName    string `json:"feature_name"`
	Status         string `json:"status"`
	NodeID         string `json:"node_id"`
	TotalPhases    int    `json:"total_phases"`
	PolicyRevision int    `json:"policy_revision"`
}

// ControlAction is the API control-action model.
type ControlAction struct {
	ID              string `json:"id"`
	OrchestrationID string `json:"orchestration_id"`
	ActionType      string `json:"action_type"`
	Payload         string `json:"payload"`
	Status          string `json:"status"`
	RequestedBy     string `json:"requested_by"`
	IdempotencyKey  string `json:"idempotency_key"`
	CreatedAt       string `json:"created_at"`
}

// InboundAction is a dispatch-queue entry as seen by a node.
type InboundAction struct {
	ID              string `json:"id"`
	NodeID          string `json:"node_id"`
	OrchestrationID string `json:"orchestration_id"`
	Type            string `json:"type"`
	Payload         string `json:"payload"`
	Status          string `json:"status"`
}

// LaunchRequest starts a new orchestration.
type LaunchRequest struct {
	ProjectID      string   `json:"project_id"`
	DesignID       string   `json:"design_id"`
	NodeID         string   `json:"node_id"`
	Feature        string   `json:"feature"`
	Branch         string   `json:"branch,omitempty"`
	TotalPhases    int      `json:"total_phases"`
	TicketIDs      []string `json:"ticket_ids,omitempty"`
	PolicyPreset   string   `json:"policy_preset"`
	RequestedBy    string   `json:"requested_by"`
	IdempotencyKey string   `json:"idempotency_key"`
}

// LaunchResult identifies the created orchestration and its start action.
type LaunchResult struct {
	OrchestrationID string `json:"orchestration_id"`
	ActionID        string `json:"action_id"`
}

// DeleteResult reports one staged-deletion step.
type DeleteResult struct {
	Done                   bool   `json:"done"`
	Deleted                bool   `json:"deleted"`
	DeletedOrchestrationID string `json:"deleted_orchestration_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Launch creates and starts an orchestration.
func (c *Client) Launch(ctx context.Context, req LaunchRequest) (LaunchResult, error) {
	var resp LaunchResult
	err := c.do(ctx, http.MethodPost, "v0/orchestrations/launch", req, &resp)
	return resp, err
}

// EnqueueAction submits a runtime control action.
func (c *Client) EnqueueAction(ctx context.Context, orchestrationID, actionType, payload, requestedBy, idempotencyKey string) (string, error) {
	body := map[string]any{
		"action_type":     actionType,
		"payload":         payload,
		"requested_by":    requestedBy,
		"idempotency_key": idempotencyKey,
	}
	var resp struct {
		ActionID string `json:"action_id"`
	}
	endpoint := fmt.Sprintf("v0/orchestrations/%s/actions", url.PathEscape(orchestrationID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.ActionID, err
}

// ListActions returns recorded control actions, newest first.
func (c *Client) ListActions(ctx context.Context, orchestrationID string, limit int) ([]ControlAction, error) {
	var resp []ControlAction
	endpoint := fmt.Sprintf("v0/orchestrations/%s/actions", url.PathEscape(orchestrationID))
	if limit > 0 {
		endpoint += fmt.Sprintf("?limit=%d", limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetOrchestrations lists orchestrations, optionally by project.
func (c *Client) GetOrchestrations(ctx context.Context, projectID string) ([]Orchestration, error) {
	var resp []Orchestration
	endpoint := "v0/orchestrations"
	if projectID != "" {
		endpoint += "?project_id=" + url.QueryEscape(projectID)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Delete performs one staged deletion step; loop until Done.
func (c *Client) Delete(ctx context.Context, orchestrationID string) (DeleteResult, error) {
	var resp DeleteResult
	endpoint := fmt.Sprintf("v0/orchestrations/%s", url.PathEscape(orchestrationID))
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

// ClaimAction polls the dispatch queue for a node. The boolean is false when
// the queue is empty.
func (c *Client) ClaimAction(ctx context.Context, nodeID string) (InboundAction, bool, error) {
	var resp struct {
		Claimed bool           `json:"claimed"`
		Action  *InboundAction `json:"action"`
	}
	endpoint := fmt.Sprintf("v0/nodes/%s/queue/claim", url.PathEscape(nodeID))
	if err := c.do(ctx, http.MethodPost, endpoint, nil, &resp); err != nil {
		return InboundAction{}, false, err
	}
	if !resp.Claimed || resp.Action == nil {
		return InboundAction{}, false, nil
	}
	return *resp.Action, true, nil
}

// CompleteAction acknowledges a claimed queue entry.
func (c *Client) CompleteAction(ctx context.Context, nodeID, actionID string) error {
	endpoint := fmt.Sprintf("v0/nodes/%s/queue/%s/complete", url.PathEscape(nodeID), url.PathEscape(actionID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// Heartbeat records a node heartbeat.
func (c *Client) Heartbeat(ctx context.Context, nodeID string) error {
	endpoint := fmt.Sprintf("v0/nodes/%s/heartbeat", url.PathEscape(nodeID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
