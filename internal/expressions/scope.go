package expressions

import (
	"encoding/json"
	"sync"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// Scope holds all data available for condition evaluation and param
// interpolation during one workflow run.
type Scope struct {
	Params map[string]any // workflow input parameters
	Tasks  map[string]any // task ID -> {"output": value, "status": status}
	Run    map[string]any // run metadata (run_id, mode, etc.)
}

// Data returns the scope as the flat map expected by expression engines.
func (s *Scope) Data() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	return map[string]any{
		"params": s.Params,
		"tasks":  s.Tasks,
		"run":    s.Run,
	}
}

// ScopeBuilder accumulates task results as a run progresses and produces
// Scope snapshots. It enforces:
//   - Task results are immutable after completion (frozen on insert).
//   - Append-only: results are added as tasks reach terminal states.
//   - Params and run metadata are frozen at construction.
type ScopeBuilder struct {
	mu     sync.RWMutex
	params map[string]any
	run    map[string]any
	tasks  map[string]any
}

// NewScopeBuilder creates a ScopeBuilder initialized with run-level data.
// params and run are deep-copied to prevent external mutation.
func NewScopeBuilder(params, run map[string]any) *ScopeBuilder {
	return &ScopeBuilder{
		params: deepCopyMap(params),
		run:    deepCopyMap(run),
		tasks:  make(map[string]any),
	}
}

// AddResult registers a task's terminal result. The output value is frozen
// (deep-copied) at the time of insertion. Subsequent calls with the same
// task ID are rejected; task results are immutable after completion.
func (sb *ScopeBuilder) AddResult(taskID string, status schema.TaskStatus, output schema.TaskOutput) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, exists := sb.tasks[taskID]; exists {
		return schema.NewErrorf(schema.ErrCodeInterpolation,
			"result for task %q already registered; task results are immutable after completion", taskID)
	}

	sb.tasks[taskID] = map[string]any{
		"output": deepCopyAny(output.Value()),
		"status": string(status),
	}
	return nil
}

// Build creates a Scope snapshot. The returned scope is safe to hand to
// concurrently-running tasks: accumulated results are copied, params and
// run were frozen at construction.
func (sb *ScopeBuilder) Build() *Scope {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	return &Scope{
		Params: sb.params,
		Run:    sb.run,
		Tasks:  deepCopyMap(sb.tasks),
	}
}

// TaskIDs returns the IDs of tasks with registered results.
func (sb *ScopeBuilder) TaskIDs() []string {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return mapKeys(sb.tasks)
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		// Primitives (string, float64, bool, nil, int, int64) are value types.
		return v
	}
}
