package control_test

import (
	"testing"

	"pilotline/internal/control"
	"pilotline/internal/domain"
)

func taskEvent(taskID string, phase *int, status, recordedAt string) domain.TaskEvent {
	return domain.TaskEvent{
		OrchestrationID: "orch-1",
		TaskID:          taskID,
		PhaseNumber:     phase,
		Status:          status,
		RecordedAt:      recordedAt,
	}
}

func TestDedupeKeepsLatestPerTask(t *testing.T) {
	one := 1
	in := []domain.TaskEvent{
		taskEvent("task-a", &one, "running", "2024-01-01T10:00:00Z"),
		taskEvent("task-a", &one, "done", "2024-01-01T11:00:00Z"),
		taskEvent("task-b", &one, "running", "2024-01-01T10:30:00Z"),
	}
	out := control.DedupeTaskEvents(in)
	if len(out) != 2 {
		t.Fatalf("want 2 entries, got %d", len(out))
	}
	if out[0].TaskID != "task-a" || out[0].Status != "done" || out[0].RecordedAt != "2024-01-01T11:00:00Z" {
		t.Fatalf("latest report should win: %+v", out[0])
	}
	if out[1].TaskID != "task-b" {
		t.Fatalf("unexpected order: %+v", out)
	}
}

func TestDedupeLateDuplicateWithOlderTimestampLoses(t *testing.T) {
	one := 1
	in := []domain.TaskEvent{
		taskEvent("task-a", &one, "running", "2024-01-01T10:00:00Z"),
		taskEvent("task-a", &one, "done", "2024-01-01T11:00:00Z"),
		taskEvent("task-a", &one, "stalled", "2024-01-01T10:30:00Z"),
	}
	out := control.DedupeTaskEvents(in)
	if len(out) != 1 || out[0].Status != "done" {
		t.Fatalf("out-of-order duplicate overwrote a newer state: %+v", out)
	}
}

func TestDedupeTieGoesToLaterArrival(t *testing.T) {
	one := 1
	in := []domain.TaskEvent{
		taskEvent("task-a", &one, "running", "2024-01-01T10:00:00Z"),
		taskEvent("task-a", &one, "done", "2024-01-01T10:00:00Z"),
	}
	out := control.DedupeTaskEvents(in)
	if len(out) != 1 || out[0].Status != "done" {
		t.Fatalf("equal timestamps should keep the later arrival: %+v", out)
	}
}

func TestDedupeSeparatesPhaselessEvents(t *testing.T) {
	one := 1
	in := []domain.TaskEvent{
		taskEvent("task-a", &one, "running", "2024-01-01T10:00:00Z"),
		taskEvent("task-a", nil, "planning", "2024-01-01T09:00:00Z"),
	}
	out := control.DedupeTaskEvents(in)
	// A phase-scoped report and an orchestrator-level report for the same
	// task id are distinct states.
	if len(out) != 2 {
		t.Fatalf("want 2 entries, got %+v", out)
	}
}

func TestDedupeEmptyInput(t *testing.T) {
	if out := control.DedupeTaskEvents(nil); len(out) != 0 {
		t.Fatalf("want empty, got %+v", out)
	}
}
