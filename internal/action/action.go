package action

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action types. TypeStart is reachable only through the launch/start path and
// is never accepted by the enqueue validator.
const (
	TypeStart        = "start_orchestration"
	TypePause        = "pause"
	TypeResume       = "resume"
	TypeRetry        = "retry"
	TypeSetPolicy    = "orchestration_set_policy"
	TypeSetRoleModel = "orchestration_set_role_model"
	TypeTaskEdit     = "task_edit"
	TypeTaskInsert   = "task_insert"
	TypeTaskSetModel = "task_set_model"
)

var runtimeActions = map[string]bool{
	TypePause:        true,
	TypeResume:       true,
	TypeRetry:        true,
	TypeSetPolicy:    true,
	TypeSetRoleModel: true,
	TypeTaskEdit:     true,
	TypeTaskInsert:   true,
	TypeTaskSetModel: true,
}

// RuntimeAction reports whether t is in the fixed enqueueable set.
func RuntimeAction(t string) bool { return runtimeActions[t] }

var roles = []string{"supervisor", "planner", "coder", "reviewer"}

var models = []string{"lite", "standard", "max"}

func ValidRole(r string) bool {
	for _, v := range roles {
		if v == r {
			return true
		}
	}
	return false
}

func ValidModel(m string) bool {
	for _, v := range models {
		if v == m {
			return true
		}
	}
	return false
}

// Roles returns the closed role set.
func Roles() []string { return append([]string(nil), roles...) }

// Models returns the closed model set.
func Models() []string { return append([]string(nil), models...) }

// Command is the normalized form of a validated control action payload.
// Only the fields for the command's type are populated.
type Command struct {
	Type    string
	Feature string

	// pause / resume / retry
	Phase *int

	// orchestration_set_policy / orchestration_set_role_model
	TargetRevision int
	Policy         json.RawMessage
	Role           string
	Model          string

	// task commands
	PhaseNumber int
	TaskNumber  int
	Revision    int
	AfterTask   int
	Subject     *string
	Description *string
	TaskModel   *string
	DependsOn   []int
}

// Validate maps (actionType, payload) to a normalized Command or a rejection.
// Required fields are checked in a fixed order so error messages are
// deterministic; the exact error texts are part of the wire contract.
func Validate(actionType, payload string) (*Command, error) {
	if !RuntimeAction(actionType) {
		return nil, errors.New("Invalid actionType")
	}
	if !json.Valid([]byte(payload)) {
		return nil, errors.New("Invalid payload: must be valid JSON")
	}
	fields := map[string]json.RawMessage{}
	// A non-object payload simply has no fields; the first required-field
	// check reports it.
	_ = json.Unmarshal([]byte(payload), &fields)

	cmd := &Command{Type: actionType}
	var err error
	if cmd.Feature, err = requireString(fields, "feature"); err != nil {
		return nil, err
	}

	switch actionType {
	case TypePause, TypeRetry:
		p, err := requireInt(fields, "phase")
		if err != nil {
			return nil, err
		}
		cmd.Phase = &p
	case TypeResume:
		if p, ok, err := optionalInt(fields, "phase"); err != nil {
			return nil, err
		} else if ok {
			cmd.Phase = &p
		}
	case TypeSetPolicy:
		if cmd.TargetRevision, err = requireInt(fields, "targetRevision"); err != nil {
			return nil, err
		}
		if raw, ok := fields["policy"]; ok {
			cmd.Policy = raw
		}
	case TypeSetRoleModel:
		if cmd.TargetRevision, err = requireInt(fields, "targetRevision"); err != nil {
			return nil, err
		}
		cmd.Role, _ = stringField(fields, "role")
		if !ValidRole(cmd.Role) {
			return nil, fmt.Errorf("Invalid role: %q", cmd.Role)
		}
		cmd.Model, _ = stringField(fields, "model")
		if !ValidModel(cmd.Model) {
			return nil, fmt.Errorf("Invalid model(for %q): %q", cmd.Role, cmd.Model)
		}
	case TypeTaskEdit:
		if err := decodeTaskRef(fields, cmd); err != nil {
			return nil, err
		}
		if s, ok := stringField(fields, "subject"); ok {
			cmd.Subject = &s
		}
		if s, ok := stringField(fields, "description"); ok {
			cmd.Description = &s
		}
		if s, ok := stringField(fields, "model"); ok {
			cmd.TaskModel = &s
		}
		if cmd.Subject == nil && cmd.Description == nil && cmd.TaskModel == nil {
			return nil, errors.New("requires at least one edit field")
		}
		if cmd.TaskModel != nil && !ValidModel(*cmd.TaskModel) {
			return nil, fmt.Errorf("Invalid model(for %q): %q", "task", *cmd.TaskModel)
		}
	case TypeTaskInsert:
		if cmd.PhaseNumber, err = requireInt(fields, "phaseNumber"); err != nil {
			return nil, err
		}
		if cmd.AfterTask, err = requireInt(fields, "afterTask"); err != nil {
			return nil, err
		}
		subject, err := requireString(fields, "subject")
		if err != nil {
			return nil, err
		}
		cmd.Subject = &subject
		if s, ok := stringField(fields, "description"); ok {
			cmd.Description = &s
		}
		if s, ok := stringField(fields, "model"); ok {
			if !ValidModel(s) {
				return nil, fmt.Errorf("Invalid model(for %q): %q", "task", s)
			}
			cmd.TaskModel = &s
		}
		if raw, ok := fields["dependsOn"]; ok {
			var deps []int
			if err := json.Unmarshal(raw, &deps); err != nil {
				return nil, errors.New(`"dependsOn" must be an array`)
			}
			cmd.DependsOn = deps
		}
	case TypeTaskSetModel:
		if err := decodeTaskRef(fields, cmd); err != nil {
			return nil, err
		}
		model, err := requireString(fields, "model")
		if err != nil {
			return nil, err
		}
		if !ValidModel(model) {
			return nil, fmt.Errorf("Invalid model(for %q): %q", "task", model)
		}
		cmd.TaskModel = &model
	}
	return cmd, nil
}

func decodeTaskRef(fields map[string]json.RawMessage, cmd *Command) error {
	var err error
	if cmd.PhaseNumber, err = requireInt(fields, "phaseNumber"); err != nil {
		return err
	}
	if cmd.TaskNumber, err = requireInt(fields, "taskNumber"); err != nil {
		return err
	}
	if cmd.Revision, err = requireInt(fields, "revision"); err != nil {
		return err
	}
	return nil
}

func requireString(fields map[string]json.RawMessage, name string) (string, error) {
	s, ok := stringField(fields, name)
	if !ok {
		return "", fmt.Errorf("requires %q", name)
	}
	return s, nil
}

func requireInt(fields map[string]json.RawMessage, name string) (int, error) {
	v, ok, err := optionalInt(fields, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("requires %q", name)
	}
	return v, nil
}

func optionalInt(fields map[string]json.RawMessage, name string) (int, bool, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return 0, false, nil
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false, fmt.Errorf("requires %q", name)
	}
	return v, true, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
