package action_test

import (
	"testing"

	"pilotline/internal/action"
)

func TestValidateRejectsUnknownType(t *testing.T) {
	if _, err := action.Validate("bogus", `{}`); err == nil || err.Error() != "Invalid actionType" {
		t.Fatalf("got %v", err)
	}
}

func TestValidateRejectsStartType(t *testing.T) {
	// start_orchestration exists only on the launch path.
	if _, err := action.Validate(action.TypeStart, `{"feature":"f"}`); err == nil || err.Error() != "Invalid actionType" {
		t.Fatalf("got %v", err)
	}
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	if _, err := action.Validate(action.TypePause, `{nope`); err == nil || err.Error() != "Invalid payload: must be valid JSON" {
		t.Fatalf("got %v", err)
	}
}

func TestValidateNonObjectPayloadReportsFirstField(t *testing.T) {
	// A JSON array is valid JSON but carries no fields.
	if _, err := action.Validate(action.TypePause, `[1,2]`); err == nil || err.Error() != `requires "feature"` {
		t.Fatalf("got %v", err)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	cases := []struct {
		name       string
		actionType string
		payload    string
		wantErr    string
	}{
		{"pause missing feature", action.TypePause, `{}`, `requires "feature"`},
		{"pause missing phase", action.TypePause, `{"feature":"f"}`, `requires "phase"`},
		{"retry missing phase", action.TypeRetry, `{"feature":"f"}`, `requires "phase"`},
		{"set_policy missing revision", action.TypeSetPolicy, `{"feature":"f"}`, `requires "targetRevision"`},
		{"set_role_model missing role", action.TypeSetRoleModel, `{"feature":"f","targetRevision":0}`, `Invalid role: ""`},
		{"set_role_model bad role", action.TypeSetRoleModel, `{"feature":"f","targetRevision":0,"role":"chef"}`, `Invalid role: "chef"`},
		{"set_role_model bad model", action.TypeSetRoleModel, `{"feature":"f","targetRevision":0,"role":"coder","model":"huge"}`, `Invalid model(for "coder"): "huge"`},
		{"task_edit missing taskNumber", action.TypeTaskEdit, `{"feature":"f","phaseNumber":1}`, `requires "taskNumber"`},
		{"task_edit missing revision", action.TypeTaskEdit, `{"feature":"f","phaseNumber":1,"taskNumber":2}`, `requires "revision"`},
		{"task_edit no edit fields", action.TypeTaskEdit, `{"feature":"f","phaseNumber":1,"taskNumber":2,"revision":1}`, "requires at least one edit field"},
		{"task_edit bad model", action.TypeTaskEdit, `{"feature":"f","phaseNumber":1,"taskNumber":2,"revision":1,"model":"huge"}`, `Invalid model(for "task"): "huge"`},
		{"task_insert missing afterTask", action.TypeTaskInsert, `{"feature":"f","phaseNumber":1}`, `requires "afterTask"`},
		{"task_insert missing subject", action.TypeTaskInsert, `{"feature":"f","phaseNumber":1,"afterTask":0}`, `requires "subject"`},
		{"task_insert dependsOn not array", action.TypeTaskInsert, `{"feature":"f","phaseNumber":1,"afterTask":0,"subject":"s","dependsOn":"x"}`, `"dependsOn" must be an array`},
		{"task_set_model missing model", action.TypeTaskSetModel, `{"feature":"f","phaseNumber":1,"taskNumber":2,"revision":1}`, `requires "model"`},
		{"task_set_model bad model", action.TypeTaskSetModel, `{"feature":"f","phaseNumber":1,"taskNumber":2,"revision":1,"model":"huge"}`, `Invalid model(for "task"): "huge"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := action.Validate(tc.actionType, tc.payload)
			if err == nil || err.Error() != tc.wantErr {
				t.Fatalf("want %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidateAcceptedCommands(t *testing.T) {
	cmd, err := action.Validate(action.TypePause, `{"feature":"f","phase":2}`)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if cmd.Phase == nil || *cmd.Phase != 2 {
		t.Fatalf("phase not decoded: %+v", cmd)
	}

	cmd, err = action.Validate(action.TypeResume, `{"feature":"f"}`)
	if err != nil {
		t.Fatalf("resume without phase: %v", err)
	}
	if cmd.Phase != nil {
		t.Fatalf("resume phase should be optional")
	}

	cmd, err = action.Validate(action.TypeSetRoleModel, `{"feature":"f","targetRevision":3,"role":"planner","model":"max"}`)
	if err != nil {
		t.Fatalf("set_role_model: %v", err)
	}
	if cmd.TargetRevision != 3 || cmd.Role != "planner" || cmd.Model != "max" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	cmd, err = action.Validate(action.TypeTaskInsert, `{"feature":"f","phaseNumber":1,"afterTask":2,"subject":"s","dependsOn":[1,2]}`)
	if err != nil {
		t.Fatalf("task_insert: %v", err)
	}
	if len(cmd.DependsOn) != 2 || cmd.AfterTask != 2 || *cmd.Subject != "s" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestClosedSets(t *testing.T) {
	for _, r := range action.Roles() {
		if !action.ValidRole(r) {
			t.Fatalf("role %q rejected", r)
		}
	}
	if action.ValidRole("task") {
		t.Fatalf("task is not an orchestration role")
	}
	for _, m := range action.Models() {
		if !action.ValidModel(m) {
			t.Fatalf("model %q rejected", m)
		}
	}
	if action.ValidModel("") {
		t.Fatalf("empty model accepted")
	}
}
