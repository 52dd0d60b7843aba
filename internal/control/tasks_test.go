package control_test

import (
	"testing"

	"pilotline/internal/action"
	"pilotline/internal/control"
	"pilotline/internal/domain"
)

func enqueueTask(t *testing.T, env testEnv, orchID, key, actionType, payload string) error {
	t.Helper()
	_, err := env.Processor.EnqueueControlAction(env.Ctx, control.EnqueueOptions{
		OrchestrationID: orchID,
		ActionType:      actionType,
		Payload:         payload,
		RequestedBy:     "tester",
		IdempotencyKey:  key,
	})
	return err
}

func insertTask(t *testing.T, env testEnv, orchID, key string, phase, afterTask int, subject string) {
	t.Helper()
	payload := `{"feature":"checkout-flow","phaseNumber":` + itoa(phase) + `,"afterTask":` + itoa(afterTask) + `,"subject":"` + subject + `"}`
	if err := enqueueTask(t, env, orchID, key, action.TypeTaskInsert, payload); err != nil {
		t.Fatalf("insert %s: %v", subject, err)
	}
}

func getTask(t *testing.T, env testEnv, orchID string, phase, number int) domain.ExecutionTask {
	t.Helper()
	task, err := env.Processor.Repo.GetTaskByNumber(env.Ctx, orchID, phase, number)
	if err != nil {
		t.Fatalf("get task %d/%d: %v", phase, number, err)
	}
	return task
}

func TestInsertIntoEmptyPhaseNumbersFromOne(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-ins-empty")

	insertTask(t, env, res.OrchestrationID, "ins-1", 1, 0, "first")
	task := getTask(t, env, res.OrchestrationID, 1, 1)
	if task.TaskNumber != 1 || task.Revision != 1 || task.Status != "pending" {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.InsertedBy == nil || *task.InsertedBy != "tester" {
		t.Fatalf("inserted_by not recorded: %+v", task)
	}
}

func TestInsertAppendsAfterMaxNumber(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-ins-max")

	insertTask(t, env, res.OrchestrationID, "ins-a", 1, 0, "first")
	insertTask(t, env, res.OrchestrationID, "ins-b", 1, 1, "second")
	task := getTask(t, env, res.OrchestrationID, 1, 2)
	if task.Subject != "second" {
		t.Fatalf("numbering broke: %+v", task)
	}
	// Numbers are per phase.
	insertTask(t, env, res.OrchestrationID, "ins-c", 2, 0, "other-phase")
	task = getTask(t, env, res.OrchestrationID, 2, 1)
	if task.Subject != "other-phase" {
		t.Fatalf("phase scoping broke: %+v", task)
	}
}

func TestInsertValidatesAnchorsAndDependencies(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-ins-bad")

	err := enqueueTask(t, env, res.OrchestrationID, "bad-anchor", action.TypeTaskInsert,
		`{"feature":"checkout-flow","phaseNumber":1,"afterTask":5,"subject":"x"}`)
	if err == nil || err.Error() != "Task 5 not found in phase 1" {
		t.Fatalf("got %v", err)
	}
	err = enqueueTask(t, env, res.OrchestrationID, "bad-dep", action.TypeTaskInsert,
		`{"feature":"checkout-flow","phaseNumber":1,"afterTask":0,"subject":"x","dependsOn":[9]}`)
	if err == nil || err.Error() != "Dependency task 9 not found in phase 1" {
		t.Fatalf("got %v", err)
	}
}

func TestEditGuardedByRevision(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-edit")
	insertTask(t, env, res.OrchestrationID, "ins-e", 1, 0, "original")

	err := enqueueTask(t, env, res.OrchestrationID, "edit-1", action.TypeTaskEdit,
		`{"feature":"checkout-flow","phaseNumber":1,"taskNumber":1,"revision":1,"subject":"renamed"}`)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	task := getTask(t, env, res.OrchestrationID, 1, 1)
	if task.Subject != "renamed" || task.Revision != 2 {
		t.Fatalf("edit not applied: %+v", task)
	}

	err = enqueueTask(t, env, res.OrchestrationID, "edit-stale", action.TypeTaskEdit,
		`{"feature":"checkout-flow","phaseNumber":1,"taskNumber":1,"revision":1,"subject":"late"}`)
	if err == nil || err.Error() != "Task revision conflict" {
		t.Fatalf("got %v", err)
	}
	task = getTask(t, env, res.OrchestrationID, 1, 1)
	if task.Subject != "renamed" {
		t.Fatalf("stale edit mutated the task: %+v", task)
	}
}

func TestEditRejectsNonPendingRegardlessOfRevision(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-edit-status")
	insertTask(t, env, res.OrchestrationID, "ins-s", 1, 0, "busy")

	_, err := env.Processor.DB.ExecContext(env.Ctx,
		`UPDATE execution_tasks SET status='in_progress' WHERE orchestration_id=? AND phase_number=1 AND task_number=1`,
		res.OrchestrationID)
	if err != nil {
		t.Fatal(err)
	}
	err = enqueueTask(t, env, res.OrchestrationID, "edit-busy", action.TypeTaskEdit,
		`{"feature":"checkout-flow","phaseNumber":1,"taskNumber":1,"revision":1,"subject":"nope"}`)
	if err == nil || err.Error() != `Task 1 status is "in_progress" (must be "pending")` {
		t.Fatalf("got %v", err)
	}
}

func TestEditUnknownTask(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-edit-missing")
	err := enqueueTask(t, env, res.OrchestrationID, "edit-missing", action.TypeTaskEdit,
		`{"feature":"checkout-flow","phaseNumber":1,"taskNumber":7,"revision":1,"subject":"x"}`)
	if err == nil || err.Error() != "Task 7 not found in phase 1" {
		t.Fatalf("got %v", err)
	}
}

func TestTaskSetModel(t *testing.T) {
	env := newTestEnv(t)
	res := mustLaunch(t, env, "launch-setmodel")
	insertTask(t, env, res.OrchestrationID, "ins-m", 1, 0, "modeled")

	err := enqueueTask(t, env, res.OrchestrationID, "setmodel-1", action.TypeTaskSetModel,
		`{"feature":"checkout-flow","phaseNumber":1,"taskNumber":1,"revision":1,"model":"max"}`)
	if err != nil {
		t.Fatalf("set model: %v", err)
	}
	task := getTask(t, env, res.OrchestrationID, 1, 1)
	if task.Model != "max" || task.Revision != 2 {
		t.Fatalf("model not applied: %+v", task)
	}
}
