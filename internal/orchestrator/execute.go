package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiongQvQ/ZenGrowth/internal/expressions"
	"github.com/xiongQvQ/ZenGrowth/internal/faults"
	"github.com/xiongQvQ/ZenGrowth/internal/logging"
	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// ExecuteWorkflow runs every registered task once. Sequential mode walks
// the computed order one task at a time; parallel mode submits each
// topological layer to the worker pool. Cancellation is checked at task
// boundaries: tasks that never started stay pending in the returned
// result, and the error reports the aborted run.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, mode schema.ExecutionMode) (*schema.WorkflowResult, error) {
	switch mode {
	case "":
		mode = schema.ModeSequential
	case schema.ModeSequential, schema.ModeParallel:
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown execution mode %q", mode)
	}

	o.mu.Lock()
	if o.runActive {
		o.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeExecution,
			"a workflow run is already active")
	}
	defs := make([]*schema.TaskDefinition, 0, len(o.regOrder))
	byID := make(map[string]*schema.TaskDefinition, len(o.regOrder))
	for _, id := range o.regOrder {
		defs = append(defs, o.defs[id])
		byID[id] = o.defs[id]
	}
	plan, err := computePlan(defs)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.runActive = true
	o.results = make(map[string]*schema.TaskResult, len(defs))
	for _, def := range defs {
		o.results[def.ID] = &schema.TaskResult{TaskID: def.ID, Status: schema.TaskStatusPending}
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.runActive = false
		o.mu.Unlock()
	}()

	runID := uuid.New().String()
	ctx = logging.WithRunID(ctx, runID)
	started := time.Now().UTC()
	scope := expressions.NewScopeBuilder(o.cfg.Params, map[string]any{
		"run_id":     runID,
		"mode":       string(mode),
		"started_at": started.Format(time.RFC3339),
	})

	o.logger.InfoContext(ctx, "workflow started",
		"mode", string(mode), "tasks", len(defs))

	switch mode {
	case schema.ModeParallel:
		o.runLayers(ctx, plan.layers, byID, scope)
	default:
		for _, id := range plan.order {
			if ctx.Err() != nil {
				break
			}
			o.runTask(ctx, byID[id], scope, nil)
		}
	}

	result := o.buildResult(runID, mode, started, time.Now().UTC())
	o.history.Append(buildRecord(result, plan.order))
	o.journalRun(ctx, result)

	if ctx.Err() != nil {
		o.logger.WarnContext(ctx, "workflow cancelled",
			"completion_rate", result.CompletionRate)
		return result, schema.NewError(schema.ErrCodeCancelled,
			"workflow run cancelled").WithCause(ctx.Err())
	}

	o.logger.InfoContext(ctx, "workflow finished",
		"completion_rate", result.CompletionRate,
		"duration", result.Duration.String())
	return result, nil
}

// runLayers executes one topological layer at a time, tasks within a
// layer concurrently on the bounded pool.
func (o *Orchestrator) runLayers(ctx context.Context, layers [][]string, byID map[string]*schema.TaskDefinition, scope *expressions.ScopeBuilder) {
	for _, layer := range layers {
		if ctx.Err() != nil {
			return
		}

		var wg sync.WaitGroup
		for _, id := range layer {
			def := byID[id]
			wg.Add(1)
			err := o.pool.Submit(ctx, func(taskCtx context.Context) {
				defer wg.Done()
				o.runTask(taskCtx, def, scope, nil)
			})
			if err != nil {
				wg.Done()
				break
			}
		}
		wg.Wait()
	}
}

// ExecuteSingleTask runs one task outside a full workflow run, applying
// the same dependency, condition, and retry semantics against the
// current result set. extra is merged over the built context map and
// wins on key collisions. A terminal result from an earlier run is
// replaced, which makes ad-hoc re-runs of failed tasks possible.
func (o *Orchestrator) ExecuteSingleTask(ctx context.Context, id string, extra map[string]any) (*schema.TaskResult, error) {
	o.mu.Lock()
	if o.runActive {
		o.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeExecution,
			"a workflow run is already active")
	}
	def, ok := o.defs[id]
	if !ok {
		o.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeUnknownTask,
			"task %s is not registered", id).WithTask(id)
	}
	o.runActive = true
	o.results[id] = &schema.TaskResult{TaskID: id, Status: schema.TaskStatusPending}

	runID := uuid.New().String()
	scope := expressions.NewScopeBuilder(o.cfg.Params, map[string]any{
		"run_id": runID,
		"mode":   "single",
	})
	for rid, res := range o.results {
		if rid == id || !res.Status.Terminal() {
			continue
		}
		if err := scope.AddResult(rid, res.Status, scopeOutput(res)); err != nil {
			o.runActive = false
			o.mu.Unlock()
			return nil, err
		}
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.runActive = false
		o.mu.Unlock()
	}()

	ctx = logging.WithRunID(ctx, runID)
	o.runTask(ctx, def, scope, extra)

	return o.TaskResult(id), nil
}

// runTask drives one task through its state machine: dependency gate,
// condition gate, parameter interpolation, then the handler with retry.
func (o *Orchestrator) runTask(ctx context.Context, def *schema.TaskDefinition, scope *expressions.ScopeBuilder, extra map[string]any) {
	ctx = logging.WithTaskID(ctx, def.ID)

	if ctx.Err() != nil {
		return
	}

	if unsat := o.unsatisfiedDeps(def); len(unsat) > 0 {
		o.logger.InfoContext(ctx, "task skipped",
			"reason", schema.SkipReasonDependency, "unsatisfied", unsat)
		o.finishSkipped(def.ID, scope, schema.SkipReasonDependency)
		return
	}

	snap := scope.Build()

	if def.Condition != "" {
		met, err := o.conditions.Evaluate(ctx, def.Condition, snap)
		if err != nil {
			o.finishFailed(def.ID, scope, 0, schema.NewErrorf(schema.ErrCodeValidation,
				"condition evaluation failed: %s", err.Error()).WithTask(def.ID).WithCause(err))
			o.logger.WarnContext(ctx, "condition evaluation failed", "error", err.Error())
			return
		}
		if !met {
			o.logger.InfoContext(ctx, "task skipped",
				"reason", schema.SkipReasonCondition, "condition", def.Condition)
			o.finishSkipped(def.ID, scope, schema.SkipReasonCondition)
			return
		}
	}

	taskCtx, err := o.buildTaskContext(def, snap, extra)
	if err != nil {
		o.finishFailed(def.ID, scope, 0, err)
		o.logger.WarnContext(ctx, "task failed", "error", err.Error())
		return
	}

	o.transition(def.ID, schema.TaskStatusRunning, func(r *schema.TaskResult) {
		r.StartedAt = time.Now().UTC()
	})
	o.logger.InfoContext(ctx, "task started")

	output, attempts, err := o.invokeWithRetries(ctx, def, taskCtx)
	if err != nil {
		o.finishFailed(def.ID, scope, attempts, err)
		o.logger.WarnContext(ctx, "task failed",
			"attempts", attempts, "error", err.Error())
		return
	}

	o.finishCompleted(def.ID, scope, output, attempts)
	o.logger.InfoContext(ctx, "task completed", "attempts", attempts)
}

// unsatisfiedDeps lists dependencies whose recorded status is anything
// other than completed.
func (o *Orchestrator) unsatisfiedDeps(def *schema.TaskDefinition) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var unsat []string
	for _, dep := range def.DependsOn {
		res, ok := o.results[dep]
		if !ok || res.Status != schema.TaskStatusCompleted {
			unsat = append(unsat, dep)
		}
	}
	return unsat
}

// buildTaskContext assembles the handler's context map: the task's
// interpolated parameters first, then each completed dependency's output
// keyed by task id, then extra. Later entries win on collision.
func (o *Orchestrator) buildTaskContext(def *schema.TaskDefinition, snap *expressions.Scope, extra map[string]any) (map[string]any, error) {
	params := def.Params
	if len(params) > 0 {
		resolved, err := o.interp.ResolveParams(params, snap)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"resolve params: %s", err.Error()).WithTask(def.ID).WithCause(err)
		}
		params = resolved
	}

	taskCtx := make(map[string]any, len(params)+len(def.DependsOn)+len(extra))
	for k, v := range params {
		taskCtx[k] = v
	}
	for _, dep := range def.DependsOn {
		entry, ok := snap.Tasks[dep].(map[string]any)
		if !ok {
			continue
		}
		taskCtx[dep] = entry["output"]
	}
	for k, v := range extra {
		taskCtx[k] = v
	}
	return taskCtx, nil
}

// invokeWithRetries calls the handler up to 1+Retries times. Attempts
// stop early on non-retryable errors or context cancellation; the wait
// between attempts follows the configured backoff policy.
func (o *Orchestrator) invokeWithRetries(ctx context.Context, def *schema.TaskDefinition, taskCtx map[string]any) (schema.TaskOutput, int, error) {
	attempts := 0
	for {
		attempts++
		output, err := o.invokeHandler(ctx, def, taskCtx)
		if err == nil {
			return output, attempts, nil
		}
		if attempts > def.Retries {
			return schema.TaskOutput{}, attempts, err
		}

		cls := faults.Classify(err)
		if !cls.Retryable {
			return schema.TaskOutput{}, attempts, err
		}

		delay := o.cfg.Retry.Delay(attempts-1, cls)
		o.logger.WarnContext(ctx, "task attempt failed, retrying",
			"attempt", attempts, "kind", string(cls.Kind),
			"delay", delay.String(), "error", err.Error())
		if werr := faults.Wait(ctx, delay); werr != nil {
			return schema.TaskOutput{}, attempts, schema.NewError(schema.ErrCodeCancelled,
				"retry wait cancelled").WithTask(def.ID).WithCause(werr)
		}
	}
}

// invokeHandler runs the handler once under the task's timeout. Panics
// become handler errors so a misbehaving handler fails its task instead
// of the process.
func (o *Orchestrator) invokeHandler(ctx context.Context, def *schema.TaskDefinition, taskCtx map[string]any) (out schema.TaskOutput, err error) {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			out = schema.TaskOutput{}
			err = schema.NewErrorf(schema.ErrCodeHandlerFailed,
				"handler panicked: %v", r).WithTask(def.ID)
		}
	}()

	out, err = def.Handler.Execute(ctx, taskCtx)
	if err != nil {
		return schema.TaskOutput{}, schema.NewErrorf(schema.ErrCodeHandlerFailed,
			"%s", err.Error()).WithTask(def.ID).WithCause(err)
	}
	return out, nil
}

func (o *Orchestrator) finishCompleted(id string, scope *expressions.ScopeBuilder, output schema.TaskOutput, attempts int) {
	now := time.Now().UTC()
	o.transition(id, schema.TaskStatusCompleted, func(r *schema.TaskResult) {
		r.Output = output
		r.Attempts = attempts
		r.CompletedAt = now
		if !r.StartedAt.IsZero() {
			r.Duration = now.Sub(r.StartedAt)
		}
	})
	_ = scope.AddResult(id, schema.TaskStatusCompleted, output)
}

func (o *Orchestrator) finishFailed(id string, scope *expressions.ScopeBuilder, attempts int, err error) {
	now := time.Now().UTC()
	o.transition(id, schema.TaskStatusFailed, func(r *schema.TaskResult) {
		r.Error = err.Error()
		r.Attempts = attempts
		r.CompletedAt = now
		if !r.StartedAt.IsZero() {
			r.Duration = now.Sub(r.StartedAt)
		}
	})
	_ = scope.AddResult(id, schema.TaskStatusFailed, schema.ErrorOutput(err.Error()))
}

func (o *Orchestrator) finishSkipped(id string, scope *expressions.ScopeBuilder, reason string) {
	now := time.Now().UTC()
	o.transition(id, schema.TaskStatusSkipped, func(r *schema.TaskResult) {
		r.SkipReason = reason
		r.CompletedAt = now
	})
	_ = scope.AddResult(id, schema.TaskStatusSkipped, schema.TaskOutput{})
}

// scopeOutput picks the output recorded into the expression scope for a
// terminal result: failed tasks expose their error reason.
func scopeOutput(res *schema.TaskResult) schema.TaskOutput {
	if res.Status == schema.TaskStatusFailed && res.Error != "" {
		return schema.ErrorOutput(res.Error)
	}
	return res.Output
}

// buildResult snapshots the current results into a WorkflowResult.
func (o *Orchestrator) buildResult(runID string, mode schema.ExecutionMode, started, completed time.Time) *schema.WorkflowResult {
	o.mu.RLock()
	defer o.mu.RUnlock()

	results := make(map[string]*schema.TaskResult, len(o.results))
	completedCount := 0
	for id, res := range o.results {
		cp := *res
		results[id] = &cp
		if res.Status == schema.TaskStatusCompleted {
			completedCount++
		}
	}

	rate := 0.0
	if len(o.regOrder) > 0 {
		rate = float64(completedCount) / float64(len(o.regOrder))
	}

	return &schema.WorkflowResult{
		RunID:          runID,
		Mode:           mode,
		StartedAt:      started,
		CompletedAt:    completed,
		Duration:       completed.Sub(started),
		CompletionRate: rate,
		Results:        results,
	}
}
