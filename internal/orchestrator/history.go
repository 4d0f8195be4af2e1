package orchestrator

import (
	"context"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// buildRecord condenses a run into the compact history entry. Task
// summaries follow execution order rather than map order.
func buildRecord(result *schema.WorkflowResult, order []string) schema.ExecutionRecord {
	tasks := make([]schema.TaskSummary, 0, len(order))
	for _, id := range order {
		res, ok := result.Results[id]
		if !ok {
			continue
		}
		tasks = append(tasks, schema.TaskSummary{
			TaskID:   res.TaskID,
			Status:   res.Status,
			Attempts: res.Attempts,
			Duration: res.Duration,
			Error:    res.Error,
		})
	}
	return schema.ExecutionRecord{
		RunID:          result.RunID,
		Mode:           result.Mode,
		StartedAt:      result.StartedAt,
		CompletedAt:    result.CompletedAt,
		Duration:       result.Duration,
		CompletionRate: result.CompletionRate,
		Tasks:          tasks,
	}
}

// History returns the retained run records, oldest first.
func (o *Orchestrator) History() []schema.ExecutionRecord {
	return o.history.Snapshot()
}

// LastRun returns the most recent run record, if any.
func (o *Orchestrator) LastRun() (schema.ExecutionRecord, bool) {
	return o.history.Last()
}

// journalRun forwards a finished run to the configured journal. The
// journal write survives cancellation of the run context; failures are
// logged and otherwise swallowed so archiving never breaks execution.
func (o *Orchestrator) journalRun(ctx context.Context, result *schema.WorkflowResult) {
	if o.journal == nil {
		return
	}
	if err := o.journal.RecordRun(context.WithoutCancel(ctx), result); err != nil {
		o.logger.WarnContext(ctx, "journal write failed", "error", err.Error())
	}
}
