// Package orchestrator executes dependency graphs of analysis tasks.
//
// Tasks are registered with handlers, ordered by Kahn's algorithm with
// priority and registration-order tie-breaks, and executed sequentially
// or layer-parallel on a bounded worker pool. Failures stay local to
// their branch: a failed task marks its transitive dependents skipped
// while every independent branch keeps going.
package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/xiongQvQ/ZenGrowth/internal/expressions"
	"github.com/xiongQvQ/ZenGrowth/internal/faults"
	"github.com/xiongQvQ/ZenGrowth/internal/logging"
	"github.com/xiongQvQ/ZenGrowth/internal/ring"
	"github.com/xiongQvQ/ZenGrowth/internal/validation"
	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// Default configuration values.
const (
	DefaultPoolSize    = 4
	DefaultHistorySize = 50
	DefaultTaskTimeout = 5 * time.Minute
)

// Config holds orchestrator tuning knobs. Zero values fall back to the
// defaults above.
type Config struct {
	// PoolSize caps how many tasks run concurrently in parallel mode.
	PoolSize int
	// HistorySize caps the retained ExecutionRecords.
	HistorySize int
	// DefaultTimeout applies to tasks that do not set their own.
	DefaultTimeout time.Duration
	// Retry is the backoff policy applied between task retry attempts.
	// Zero-valued fields fall back to the faults defaults.
	Retry faults.Policy
	// Params are workflow-level inputs exposed to task conditions and
	// ${{params.*}} interpolation.
	Params map[string]any
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTaskTimeout
	}
	return c
}

// Journal archives completed runs. Satisfied by *journal.LibSQL and
// test fakes; a nil journal disables archiving.
type Journal interface {
	RecordRun(ctx context.Context, result *schema.WorkflowResult) error
}

// Orchestrator owns the task registry and all per-run state. One run is
// active at a time; Status, History, and Export remain callable while a
// run is in flight.
type Orchestrator struct {
	cfg     Config
	logger  *slog.Logger
	journal Journal

	conditions *expressions.Conditions
	interp     *expressions.Interpolator
	validator  *validation.ConfigValidator
	pool       *workerPool
	history    *ring.Ring[schema.ExecutionRecord]

	mu        sync.RWMutex
	defs      map[string]*schema.TaskDefinition
	regOrder  []string
	results   map[string]*schema.TaskResult
	runActive bool
}

// New creates an Orchestrator. logger may be nil (falls back to a text
// handler on stderr) and jrnl may be nil (no archiving).
func New(cfg Config, logger *slog.Logger, jrnl Journal) (*Orchestrator, error) {
	cfg = cfg.withDefaults()

	if logger == nil {
		logger = slog.New(logging.NewCorrelationHandler(
			slog.NewTextHandler(os.Stderr, nil)))
	}

	conditions, err := expressions.NewConditions()
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewConfigValidator()
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		journal:    jrnl,
		conditions: conditions,
		interp:     expressions.NewInterpolator(),
		validator:  validator,
		pool:       newWorkerPool(cfg.PoolSize),
		history:    ring.New[schema.ExecutionRecord](cfg.HistorySize),
		defs:       make(map[string]*schema.TaskDefinition),
		results:    make(map[string]*schema.TaskResult),
	}, nil
}

// RegisterTask adds a task to the registry. The definition is immutable
// once registered: DependsOn and the top-level Params map are copied.
func (o *Orchestrator) RegisterTask(def schema.TaskDefinition) error {
	if def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "task id is required")
	}
	if def.Handler == nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"task %s has no handler", def.ID).WithTask(def.ID)
	}
	if def.Retries < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"task %s has negative retries", def.ID).WithTask(def.ID)
	}

	seen := make(map[string]bool, len(def.DependsOn))
	for _, dep := range def.DependsOn {
		if dep == def.ID {
			return schema.NewErrorf(schema.ErrCodeCyclicDependency,
				"task %s depends on itself", def.ID).
				WithTask(def.ID).
				WithDetails(map[string]any{"cycle": []string{def.ID}})
		}
		if seen[dep] {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"task %s has duplicate dependency %q", def.ID, dep).WithTask(def.ID)
		}
		seen[dep] = true
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runActive {
		return schema.NewError(schema.ErrCodeExecution,
			"cannot register tasks while a run is active")
	}
	if _, exists := o.defs[def.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeDuplicateTask,
			"task %s is already registered", def.ID).WithTask(def.ID)
	}

	stored := def
	stored.DependsOn = append([]string(nil), def.DependsOn...)
	if len(def.Params) > 0 {
		params := make(map[string]any, len(def.Params))
		for k, v := range def.Params {
			params[k] = v
		}
		stored.Params = params
	}

	o.defs[def.ID] = &stored
	o.regOrder = append(o.regOrder, def.ID)
	return nil
}

// RemoveTask drops a task and its recorded result from the registry.
// Tasks that depend on it will skip until they are removed or rewired.
func (o *Orchestrator) RemoveTask(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runActive {
		return schema.NewError(schema.ErrCodeExecution,
			"cannot remove tasks while a run is active")
	}
	if _, exists := o.defs[id]; !exists {
		return schema.NewErrorf(schema.ErrCodeUnknownTask,
			"task %s is not registered", id).WithTask(id)
	}

	delete(o.defs, id)
	delete(o.results, id)
	for i, rid := range o.regOrder {
		if rid == id {
			o.regOrder = append(o.regOrder[:i], o.regOrder[i+1:]...)
			break
		}
	}
	return nil
}

// TaskIDs returns the registered ids in registration order.
func (o *Orchestrator) TaskIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.regOrder...)
}

// ExecutionOrder computes the topological order the next run would use.
func (o *Orchestrator) ExecutionOrder() ([]string, error) {
	plan, err := computePlan(o.orderedDefs())
	if err != nil {
		return nil, err
	}
	return plan.order, nil
}

// Layers groups tasks by topological depth; tasks within one layer are
// independent and run concurrently in parallel mode.
func (o *Orchestrator) Layers() ([][]string, error) {
	plan, err := computePlan(o.orderedDefs())
	if err != nil {
		return nil, err
	}
	return plan.layers, nil
}

// Status returns a point-in-time snapshot of task states. Tasks without
// a recorded result for the current run count as pending. The id lists
// are sorted; the completion rate is completed over total registered.
func (o *Orchestrator) Status() schema.ExecutionStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	status := schema.ExecutionStatus{
		Pending:   []string{},
		Running:   []string{},
		Completed: []string{},
		Failed:    []string{},
		Skipped:   []string{},
	}

	for _, id := range o.regOrder {
		state := schema.TaskStatusPending
		if res, ok := o.results[id]; ok {
			state = res.Status
		}
		switch state {
		case schema.TaskStatusRunning:
			status.Running = append(status.Running, id)
		case schema.TaskStatusCompleted:
			status.Completed = append(status.Completed, id)
		case schema.TaskStatusFailed:
			status.Failed = append(status.Failed, id)
		case schema.TaskStatusSkipped:
			status.Skipped = append(status.Skipped, id)
		default:
			status.Pending = append(status.Pending, id)
		}
	}

	sort.Strings(status.Pending)
	sort.Strings(status.Running)
	sort.Strings(status.Completed)
	sort.Strings(status.Failed)
	sort.Strings(status.Skipped)

	if len(o.regOrder) > 0 {
		status.CompletionRate = float64(len(status.Completed)) / float64(len(o.regOrder))
	}
	return status
}

// TaskResult returns a copy of the recorded result for one task, or nil
// when the task has not produced one in the current run.
func (o *Orchestrator) TaskResult(id string) *schema.TaskResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res, ok := o.results[id]
	if !ok {
		return nil
	}
	cp := *res
	return &cp
}

// Reset clears all task results so the next run starts from pending.
// Registered tasks and the run history are retained.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runActive {
		return schema.NewError(schema.ErrCodeExecution,
			"cannot reset while a run is active")
	}
	o.results = make(map[string]*schema.TaskResult, len(o.defs))
	return nil
}

// Close shuts down the worker pool. The orchestrator must not be used
// after Close.
func (o *Orchestrator) Close() {
	o.pool.Close()
}

// PoolMetrics returns a snapshot of the parallel-mode pool counters.
func (o *Orchestrator) PoolMetrics() PoolMetrics {
	return o.pool.Metrics()
}

// orderedDefs snapshots the registered definitions in registration order.
func (o *Orchestrator) orderedDefs() []*schema.TaskDefinition {
	o.mu.RLock()
	defer o.mu.RUnlock()
	defs := make([]*schema.TaskDefinition, 0, len(o.regOrder))
	for _, id := range o.regOrder {
		defs = append(defs, o.defs[id])
	}
	return defs
}

// transition applies a guarded status change and mutation to a task's
// result under the run lock. It refuses moves the task state machine
// does not allow, which keeps terminal results immutable within a run.
func (o *Orchestrator) transition(id string, to schema.TaskStatus, mutate func(*schema.TaskResult)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	res, ok := o.results[id]
	if !ok {
		res = &schema.TaskResult{TaskID: id, Status: schema.TaskStatusPending}
		o.results[id] = res
	}
	if !canTransition(res.Status, to) {
		o.logger.Warn("refused task state transition",
			"task_id", id, "from", string(res.Status), "to", string(to))
		return false
	}
	res.Status = to
	if mutate != nil {
		mutate(res)
	}
	return true
}
