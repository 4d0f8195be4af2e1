package schema

import (
	"context"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	}
	return false
}

// Skip reasons recorded on skipped tasks.
const (
	SkipReasonDependency = "dependency_not_satisfied"
	SkipReasonCondition  = "condition_not_met"
)

// ExecutionMode selects how independent tasks are scheduled.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

// TaskDefinition describes a single task in an analysis workflow.
// Handler carries the executable body and never serializes.
type TaskDefinition struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Priority    int            `json:"priority,omitempty" yaml:"priority,omitempty"` // lower runs earlier among ready tasks
	Retries     int            `json:"retries,omitempty" yaml:"retries,omitempty"`
	Timeout     time.Duration  `json:"-" yaml:"-"`
	Condition   string         `json:"condition,omitempty" yaml:"condition,omitempty"` // expression gating execution
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Handler     TaskHandler    `json:"-" yaml:"-"`
}

// TaskHandler is the executable body of a task. The context map merges
// the task's resolved parameters with the outputs of its completed
// dependencies, keyed by dependency task ID.
type TaskHandler interface {
	Execute(ctx context.Context, taskCtx map[string]any) (TaskOutput, error)
}

// HandlerFunc adapts a plain function to TaskHandler.
type HandlerFunc func(ctx context.Context, taskCtx map[string]any) (TaskOutput, error)

func (f HandlerFunc) Execute(ctx context.Context, taskCtx map[string]any) (TaskOutput, error) {
	return f(ctx, taskCtx)
}

// TaskResult is the recorded outcome of one task execution.
type TaskResult struct {
	TaskID      string        `json:"task_id"`
	Status      TaskStatus    `json:"status"`
	Output      TaskOutput    `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	SkipReason  string        `json:"skip_reason,omitempty"`
	Attempts    int           `json:"attempts"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// WorkflowResult aggregates one full workflow run.
type WorkflowResult struct {
	RunID          string                 `json:"run_id"`
	Mode           ExecutionMode          `json:"mode"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    time.Time              `json:"completed_at"`
	Duration       time.Duration          `json:"duration"`
	CompletionRate float64                `json:"completion_rate"`
	Results        map[string]*TaskResult `json:"results"`
}

// Completed reports whether every task in the run completed.
func (r *WorkflowResult) Completed() bool {
	return r.CompletionRate >= 1.0
}

// TaskSummary is the compact per-task view kept in run history.
type TaskSummary struct {
	TaskID   string        `json:"task_id"`
	Status   TaskStatus    `json:"status"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// ExecutionRecord is one entry in the bounded in-memory run history.
type ExecutionRecord struct {
	RunID          string        `json:"run_id"`
	Mode           ExecutionMode `json:"mode"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
	Duration       time.Duration `json:"duration"`
	CompletionRate float64       `json:"completion_rate"`
	Tasks          []TaskSummary `json:"tasks"`
}

// ExecutionStatus is a point-in-time snapshot of task states grouped by
// status, with the completion rate over all registered tasks.
type ExecutionStatus struct {
	Pending        []string `json:"pending"`
	Running        []string `json:"running"`
	Completed      []string `json:"completed"`
	Failed         []string `json:"failed"`
	Skipped        []string `json:"skipped"`
	CompletionRate float64  `json:"completion_rate"`
}
