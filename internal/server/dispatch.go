package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"pilotline/internal/control"
	"pilotline/internal/domain"
)

const (
	defaultDispatchInterval = 2 * time.Second
	defaultDispatchTimeout  = 5 * time.Second
	defaultDispatchBatch    = 100
)

// dispatcher pushes pending queue entries to nodes that registered a webhook
// URL. Delivery is a notification only: the node still claims and completes
// the action through the API, so a lost notification costs latency, not
// correctness.
type dispatcher struct {
	processor control.Processor
	client    *http.Client
	mu        sync.Mutex
	notified  map[string]struct{}
}

// StartDispatcher runs the webhook notifier in the background when enabled.
func StartDispatcher(p control.Processor) {
	if p.Config == nil || !p.Config.Dispatch.Enabled {
		return
	}
	d := &dispatcher{
		processor: p,
		client:    &http.Client{Timeout: defaultDispatchTimeout},
		notified:  make(map[string]struct{}),
	}
	go d.run()
}

func (d *dispatcher) run() {
	interval := defaultDispatchInterval
	if d.processor.Config.Dispatch.IntervalSeconds > 0 {
		interval = time.Duration(d.processor.Config.Dispatch.IntervalSeconds) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *dispatcher) dispatchAll() {
	ctx := context.Background()
	nodes, err := d.processor.Repo.ListNodes(ctx)
	if err != nil {
		log.Printf("dispatch: list nodes failed: %v", err)
		return
	}
	for _, node := range nodes {
		if node.WebhookURL == nil || strings.TrimSpace(*node.WebhookURL) == "" {
			continue
		}
		d.dispatchNode(ctx, node)
	}
}

func (d *dispatcher) dispatchNode(ctx context.Context, node domain.Node) {
	pending, err := d.processor.Repo.ListPendingInboundActions(ctx, node.ID, defaultDispatchBatch)
	if err != nil {
		log.Printf("dispatch: fetch pending for node %s failed: %v", node.ID, err)
		return
	}
	for _, a := range pending {
		if d.seen(a.ID) {
			continue
		}
		if err := d.postAction(ctx, *node.WebhookURL, a); err != nil {
			log.Printf("dispatch: deliver to %s failed: %v", *node.WebhookURL, err)
			return
		}
		d.markSeen(a.ID)
	}
}

func (d *dispatcher) seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.notified[id]
	return ok
}

func (d *dispatcher) markSeen(id string) {
	d.mu.Lock()
	d.notified[id] = struct{}{}
	d.mu.Unlock()
}

type dispatchNotice struct {
	ID              string          `json:"id"`
	OrchestrationID string          `json:"orchestration_id"`
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	PayloadRaw      string          `json:"payload_raw,omitempty"`
	CreatedAt       string          `json:"created_at"`
}

func (d *dispatcher) postAction(ctx context.Context, url string, a domain.InboundAction) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if a.Payload != "" {
		if json.Valid([]byte(a.Payload)) {
			payload = json.RawMessage([]byte(a.Payload))
		} else {
			raw = a.Payload
		}
	}
	data, err := json.Marshal(dispatchNotice{
		ID:              a.ID,
		OrchestrationID: a.OrchestrationID,
		Type:            a.Type,
		Payload:         payload,
		PayloadRaw:      raw,
		CreatedAt:       a.CreatedAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pilotline-Action", a.Type)
	req.Header.Set("X-Pilotline-Delivery", a.ID)
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
