package control_test

import (
	"strconv"
	"testing"
	"time"

	"pilotline/internal/action"
	"pilotline/internal/control"
	"pilotline/internal/domain"
)

func enqueuePolicy(t *testing.T, env testEnv, orchID, key, payload string) error {
	t.Helper()
	_, err := env.Processor.EnqueueControlAction(env.Ctx, control.EnqueueOptions{
		OrchestrationID: orchID,
		ActionType:      action.TypeSetPolicy,
		Payload:         payload,
		RequestedBy:     "tester",
		IdempotencyKey:  key,
	})
	return err
}

func TestSetPolicyReplacesSnapshotAndBumpsRevision(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-policy")

	err := enqueuePolicy(t, env, res.OrchestrationID, "pol-1",
		`{"feature":"checkout-flow","targetRevision":0,"policy":{"models":{"coder":"max"},"options":{"strict":true}}}`)
	if err != nil {
		t.Fatalf("set policy: %v", err)
	}
	orch, err := env.Processor.Repo.GetOrchestration(env.Ctx, res.OrchestrationID)
	if err != nil {
		t.Fatal(err)
	}
	if orch.PolicyRevision != 1 {
		t.Fatalf("revision should advance to 1, got %d", orch.PolicyRevision)
	}
	snap, err := env.Processor.GetLatestPolicySnapshot(env.Ctx, res.OrchestrationID)
	if err != nil {
		t.Fatal(err)
	}
	models, _ := snap["models"].(map[string]any)
	if models["coder"] != "max" {
		t.Fatalf("snapshot not replaced: %v", snap)
	}
	if _, kept := snap["preset"]; kept {
		t.Fatalf("replace should drop prior snapshot fields: %v", snap)
	}
}

func TestSetPolicyStaleRevisionConflicts(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-stale")

	if err := enqueuePolicy(t, env, res.OrchestrationID, "pol-a",
		`{"feature":"checkout-flow","targetRevision":0,"policy":{}}`); err != nil {
		t.Fatalf("first update: %v", err)
	}
	err := enqueuePolicy(t, env, res.OrchestrationID, "pol-b",
		`{"feature":"checkout-flow","targetRevision":0,"policy":{}}`)
	if err == nil || err.Error() != "Policy revision conflict" {
		t.Fatalf("got %v", err)
	}
	// The losing submission must leave no trace.
	n, err := env.Processor.Repo.CountControlActions(env.Ctx, res.OrchestrationID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 { // start + pol-a
		t.Fatalf("conflicting action was recorded, count=%d", n)
	}
}

func TestPolicyRevisionIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-mono")

	for i := 0; i < 3; i++ {
		payload := `{"feature":"checkout-flow","targetRevision":` + itoa(i) + `,"policy":{"round":` + itoa(i) + `}}`
		if err := enqueuePolicy(t, env, res.OrchestrationID, "mono-"+itoa(i), payload); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		orch, err := env.Processor.Repo.GetOrchestration(env.Ctx, res.OrchestrationID)
		if err != nil {
			t.Fatal(err)
		}
		if orch.PolicyRevision != i+1 {
			t.Fatalf("round %d: revision %d", i, orch.PolicyRevision)
		}
	}
}

func TestSetRoleModelPatchesSingleRole(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-role")

	_, err := env.Processor.EnqueueControlAction(env.Ctx, control.EnqueueOptions{
		OrchestrationID: res.OrchestrationID,
		ActionType:      action.TypeSetRoleModel,
		Payload:         `{"feature":"checkout-flow","targetRevision":0,"role":"reviewer","model":"lite"}`,
		RequestedBy:     "tester",
		IdempotencyKey:  "role-1",
	})
	if err != nil {
		t.Fatalf("set role model: %v", err)
	}
	snap, err := env.Processor.GetLatestPolicySnapshot(env.Ctx, res.OrchestrationID)
	if err != nil {
		t.Fatal(err)
	}
	models, _ := snap["models"].(map[string]any)
	if models["reviewer"] != "lite" {
		t.Fatalf("role not patched: %v", snap)
	}
	// Preset fields other than the patched role survive.
	if snap["preset"] != "balanced" {
		t.Fatalf("patch should keep the rest of the snapshot: %v", snap)
	}
}

func TestActivePolicyDegradesToNil(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-active")

	policy, err := env.Processor.GetActivePolicy(env.Ctx, res.OrchestrationID)
	if err != nil {
		t.Fatal(err)
	}
	if policy != nil {
		t.Fatalf("no supervisor state yet, want nil, got %v", policy)
	}
	if policy, err = env.Processor.GetActivePolicy(env.Ctx, "missing"); err != nil || policy != nil {
		t.Fatalf("missing orchestration should degrade to nil, got %v %v", policy, err)
	}

	err = env.Processor.Repo.UpsertSupervisorState(env.Ctx, domain.SupervisorState{
		FeatureName:     "checkout-flow",
		NodeID:          "node-1",
		OrchestrationID: res.OrchestrationID,
		StateJSON:       `{"policy":{"paused":true}}`,
		UpdatedAt:       testNow.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatal(err)
	}
	policy, err = env.Processor.GetActivePolicy(env.Ctx, res.OrchestrationID)
	if err != nil {
		t.Fatal(err)
	}
	if policy == nil || policy["paused"] != true || policy["preset"] != "balanced" {
		t.Fatalf("overlay not merged: %v", policy)
	}

	// Corrupt live state degrades to nil instead of erroring.
	err = env.Processor.Repo.UpsertSupervisorState(env.Ctx, domain.SupervisorState{
		FeatureName: "checkout-flow",
		NodeID:      "node-1",
		StateJSON:   `{broken`,
		UpdatedAt:   testNow.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatal(err)
	}
	if policy, err = env.Processor.GetActivePolicy(env.Ctx, res.OrchestrationID); err != nil || policy != nil {
		t.Fatalf("invalid state should degrade to nil, got %v %v", policy, err)
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
