package orchestrator

import "github.com/xiongQvQ/ZenGrowth/pkg/schema"

// taskTransitions is the per-run task state machine. A task enters a
// terminal state at most once per run; only Reset or a new run returns
// it to pending. The pending -> failed edge covers tasks that fail
// before their handler runs (condition or interpolation errors).
var taskTransitions = map[schema.TaskStatus][]schema.TaskStatus{
	schema.TaskStatusPending: {
		schema.TaskStatusRunning,
		schema.TaskStatusSkipped,
		schema.TaskStatusFailed,
	},
	schema.TaskStatusRunning: {
		schema.TaskStatusCompleted,
		schema.TaskStatusFailed,
	},
}

// canTransition reports whether a task may move between the two states.
func canTransition(from, to schema.TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
