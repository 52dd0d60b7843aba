package control

import (
	"strconv"

	"pilotline/internal/domain"
)

// orchestratorScope groups task events that carry no phase number.
const orchestratorScope = "orchestrator"

// DedupeTaskEvents collapses repeated reports for the same (phase, task) to
// the one with the greatest recordedAt. RFC 3339 timestamps compare correctly
// as strings. A later duplicate with an older timestamp never wins; output
// keeps first-seen order of the keys.
func DedupeTaskEvents(in []domain.TaskEvent) []domain.TaskEvent {
	latest := make(map[string]domain.TaskEvent, len(in))
	order := make([]string, 0, len(in))
	for _, e := range in {
		scope := orchestratorScope
		if e.PhaseNumber != nil {
			scope = strconv.Itoa(*e.PhaseNumber)
		}
		key := scope + "|" + e.TaskID
		cur, seen := latest[key]
		if !seen {
			order = append(order, key)
			latest[key] = e
			continue
		}
		if e.RecordedAt >= cur.RecordedAt {
			latest[key] = e
		}
	}
	out := make([]domain.TaskEvent, 0, len(order))
	for _, key := range order {
		out = append(out, latest[key])
	}
	return out
}
