package control_test

import (
	"testing"

	"pilotline/internal/domain"
)

func countRows(t *testing.T, env testEnv, table, orchID string) int {
	t.Helper()
	var n int
	err := env.Processor.DB.QueryRowContext(env.Ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE orchestration_id=?`, orchID).Scan(&n)
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func seedTeam(t *testing.T, env testEnv, orchID, teamID string, agents ...string) {
	t.Helper()
	tx, err := env.Processor.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	team := domain.Team{ID: teamID, OrchestrationID: orchID, Name: "core", CreatedAt: "2024-01-01T00:00:00Z"}
	if err := env.Processor.Repo.InsertTeam(env.Ctx, tx, team); err != nil {
		t.Fatalf("insert team: %v", err)
	}
	for _, agent := range agents {
		m := domain.TeamMember{TeamID: teamID, AgentID: agent, Role: "coder"}
		if err := env.Processor.Repo.InsertTeamMember(env.Ctx, tx, m); err != nil {
			t.Fatalf("insert member: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func countTeamMembers(t *testing.T, env testEnv, teamID string) int {
	t.Helper()
	var n int
	err := env.Processor.DB.QueryRowContext(env.Ctx,
		`SELECT COUNT(*) FROM team_members WHERE team_id=?`, teamID).Scan(&n)
	if err != nil {
		t.Fatalf("count team_members: %v", err)
	}
	return n
}

func TestDeleteRemovesAllDependentRows(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-del")
	insertTask(t, env, res.OrchestrationID, "del-ins", 1, 0, "doomed")
	seedTeam(t, env, res.OrchestrationID, "team-del", "agent-a")
	if err := env.Processor.Repo.InsertCommit(env.Ctx, domain.Commit{
		ID: "commit-del", OrchestrationID: res.OrchestrationID, PhaseNumber: 1, SHA: "abc123", RecordedAt: "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert commit: %v", err)
	}
	if err := env.Processor.Repo.SavePlan(env.Ctx, domain.Plan{
		ID: "plan-del", OrchestrationID: res.OrchestrationID, PhaseNumber: 1, Content: "plan", CreatedAt: "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	if err := env.Processor.Repo.UpsertSupervisorState(env.Ctx, domain.SupervisorState{
		FeatureName: "checkout-flow", NodeID: "node-1", OrchestrationID: res.OrchestrationID,
		StateJSON: `{"policy":{}}`, UpdatedAt: "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("upsert supervisor state: %v", err)
	}

	out, err := env.Processor.DeleteOrchestrationFully(env.Ctx, res.OrchestrationID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !out.Done || !out.Deleted || out.DeletedOrchestrationID != res.OrchestrationID {
		t.Fatalf("unexpected result: %+v", out)
	}
	for _, table := range []string{"phases", "execution_tasks", "control_plane_actions", "inbound_actions", "orchestration_events", "task_events", "teams", "commits", "plans", "supervisor_states"} {
		if n := countRows(t, env, table, res.OrchestrationID); n != 0 {
			t.Fatalf("%s still has %d rows", table, n)
		}
	}
	if n := countTeamMembers(t, env, "team-del"); n != 0 {
		t.Fatalf("team_members still has %d rows", n)
	}
	if _, err := env.Processor.Repo.GetOrchestration(env.Ctx, res.OrchestrationID); err == nil {
		t.Fatalf("orchestration row survived")
	}
}

func TestDeleteMissingOrchestrationIsDoneNotDeleted(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.Processor.DeleteOrchestration(env.Ctx, "never-existed")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !out.Done || out.Deleted {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestDeleteRepeatAfterCompletion(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-del-twice")
	if _, err := env.Processor.DeleteOrchestrationFully(env.Ctx, res.OrchestrationID); err != nil {
		t.Fatal(err)
	}
	out, err := env.Processor.DeleteOrchestration(env.Ctx, res.OrchestrationID)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Done || out.Deleted {
		t.Fatalf("second delete should report deleted=false: %+v", out)
	}
}

func TestDeleteDoesNotTouchOtherOrchestrations(t *testing.T) {
	env := newTestEnv(t)
	doomed := mustLaunch(t, env, "launch-doomed")
	kept := mustLaunch(t, env, "launch-kept")
	insertTask(t, env, kept.OrchestrationID, "kept-ins", 1, 0, "survivor")

	if _, err := env.Processor.DeleteOrchestrationFully(env.Ctx, doomed.OrchestrationID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Processor.Repo.GetOrchestration(env.Ctx, kept.OrchestrationID); err != nil {
		t.Fatalf("sibling orchestration lost: %v", err)
	}
	if n := countRows(t, env, "phases", kept.OrchestrationID); n != 3 {
		t.Fatalf("sibling phases lost, have %d", n)
	}
	if n := countRows(t, env, "execution_tasks", kept.OrchestrationID); n != 1 {
		t.Fatalf("sibling tasks lost, have %d", n)
	}
}

func TestDeleteStepIsBounded(t *testing.T) {
	env := newTestEnv(t)
	env.Processor.Config.Deletion.BatchSize = 1
	res := mustLaunch(t, env, "launch-del-step")
	// Three phase rows with a batch of one need several steps.
	out, err := env.Processor.DeleteOrchestration(env.Ctx, res.OrchestrationID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Done {
		t.Fatalf("first step should not finish with batch size 1")
	}
	if _, err := env.Processor.Repo.GetOrchestration(env.Ctx, res.OrchestrationID); err != nil {
		t.Fatalf("orchestration row must survive until dependents drain: %v", err)
	}
	steps := 1
	for !out.Done {
		if steps > 50 {
			t.Fatalf("deletion did not converge")
		}
		out, err = env.Processor.DeleteOrchestration(env.Ctx, res.OrchestrationID)
		if err != nil {
			t.Fatal(err)
		}
		steps++
	}
	if !out.Deleted {
		t.Fatalf("final step should delete the root row: %+v", out)
	}
}

func TestDeleteDrainsTeamLargerThanBatch(t *testing.T) {
	env := newTestEnv(t)
	env.Processor.Config.Deletion.BatchSize = 1
	res := mustLaunch(t, env, "launch-del-team")
	seedTeam(t, env, res.OrchestrationID, "team-big", "agent-a", "agent-b", "agent-c")

	// Members outnumber the batch, so the first step must leave the team
	// row in place rather than fail on the referencing members.
	out, err := env.Processor.DeleteOrchestration(env.Ctx, res.OrchestrationID)
	if err != nil {
		t.Fatalf("first step: %v", err)
	}
	if out.Done {
		t.Fatalf("three members with batch size 1 need several steps")
	}
	if n := countRows(t, env, "teams", res.OrchestrationID); n != 1 {
		t.Fatalf("team row should survive while members remain, have %d", n)
	}
	steps := 1
	for !out.Done {
		if steps > 50 {
			t.Fatalf("deletion did not converge")
		}
		out, err = env.Processor.DeleteOrchestration(env.Ctx, res.OrchestrationID)
		if err != nil {
			t.Fatalf("step %d: %v", steps+1, err)
		}
		steps++
	}
	if !out.Deleted {
		t.Fatalf("final step should delete the root row: %+v", out)
	}
	if n := countTeamMembers(t, env, "team-big"); n != 0 {
		t.Fatalf("team_members still has %d rows", n)
	}
	if n := countRows(t, env, "teams", res.OrchestrationID); n != 0 {
		t.Fatalf("teams still has %d rows", n)
	}
}
