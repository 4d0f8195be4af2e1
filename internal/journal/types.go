package journal

import (
	"encoding/json"
	"time"
)

// RunRecord is the archived form of one workflow run.
type RunRecord struct {
	RunID          string        `json:"run_id"`
	Mode           string        `json:"mode"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
	DurationMs     int64         `json:"duration_ms"`
	CompletionRate float64       `json:"completion_rate"`
	Tasks          []*TaskRecord `json:"tasks,omitempty"`
}

// TaskRecord is the archived outcome of one task within a run. Output
// holds the handler result as serialized JSON; StartedAt is nil for
// tasks that were skipped before running.
type TaskRecord struct {
	RunID       string          `json:"run_id"`
	TaskID      string          `json:"task_id"`
	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	SkipReason  string          `json:"skip_reason,omitempty"`
	Attempts    int             `json:"attempts"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

// FallbackRecord is the archived form of one provider fallback event.
// ToProvider is empty when the chain was exhausted.
type FallbackRecord struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	FromProvider string    `json:"from_provider"`
	ToProvider   string    `json:"to_provider,omitempty"`
	Reason       string    `json:"reason"`
	Attempts     int       `json:"attempts"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}
