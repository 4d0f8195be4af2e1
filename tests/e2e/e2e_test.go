package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiongQvQ/ZenGrowth/internal/faults"
	"github.com/xiongQvQ/ZenGrowth/internal/handlers"
	"github.com/xiongQvQ/ZenGrowth/internal/journal"
	"github.com/xiongQvQ/ZenGrowth/internal/orchestrator"
	"github.com/xiongQvQ/ZenGrowth/internal/router"
	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// --- Test harness ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastRetry keeps backoff waits out of test runtime.
var fastRetry = faults.Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Millisecond,
	MaxDelay:    2 * time.Millisecond,
	Multiplier:  1.0,
	JitterPct:   0,
	MinDelay:    time.Nanosecond,
}

type harness struct {
	t       *testing.T
	archive *journal.LibSQL
	router  *router.Router
	orch    *orchestrator.Orchestrator
}

// newHarness wires the full engine against stub provider clients: a
// libSQL archive, the fallback router, and an orchestrator that journals
// into the same database. clients are registered in chain order, google
// before volcano.
func newHarness(t *testing.T, clients map[string]router.Client) *harness {
	return newHarnessCfg(t, clients, orchestrator.Config{})
}

func newHarnessCfg(t *testing.T, clients map[string]router.Client, cfg orchestrator.Config) *harness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	arch, err := journal.NewLibSQL("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, arch.Migrate(context.Background()))
	t.Cleanup(func() { _ = arch.Close() })

	rt := router.New(router.Config{
		FallbackOrder: []string{"google", "volcano"},
		Retry:         fastRetry,
	}, discardLogger(), arch)
	prio := 1
	for _, name := range []string{"google", "volcano"} {
		client, ok := clients[name]
		if !ok {
			continue
		}
		require.NoError(t, rt.RegisterProvider(schema.ProviderConfig{
			Name:     name,
			Priority: prio,
			Enabled:  true,
			Model:    "stub-model",
			APIKey:   "sk-" + name + "-0123456789abcdef",
		}, client))
		prio++
	}
	t.Cleanup(rt.Close)

	if cfg.Retry == (faults.Policy{}) {
		cfg.Retry = fastRetry
	}
	o, err := orchestrator.New(cfg, discardLogger(), arch)
	require.NoError(t, err)
	t.Cleanup(o.Close)

	return &harness{t: t, archive: arch, router: rt, orch: o}
}

func (h *harness) register(def schema.TaskDefinition) {
	h.t.Helper()
	require.NoError(h.t, h.orch.RegisterTask(def))
}

// llmTask binds a stage to the router through the LLM handler.
func (h *harness) llmTask(id string, deps []string, instruction string) schema.TaskDefinition {
	h.t.Helper()
	handler, err := handlers.NewLLM(h.router, handlers.LLMConfig{Instruction: instruction})
	require.NoError(h.t, err)
	return schema.TaskDefinition{ID: id, DependsOn: deps, Handler: handler}
}

func (h *harness) run(mode schema.ExecutionMode) *schema.WorkflowResult {
	h.t.Helper()
	result, err := h.orch.ExecuteWorkflow(context.Background(), mode)
	require.NoError(h.t, err)
	return result
}

// --- Stub provider clients ---

type stubClient struct {
	mu      sync.Mutex
	resp    *schema.Response
	err     error
	prompts []string
}

func (c *stubClient) Invoke(_ context.Context, req schema.Request) (*schema.Response, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, req.Prompt)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	cp := *c.resp
	return &cp, nil
}

func (c *stubClient) SupportsMultimodal() bool { return false }

func (c *stubClient) captured() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

func okClient(content string) *stubClient {
	return &stubClient{resp: &schema.Response{Content: content, Model: "stub-model"}}
}

// 401 classifies as a non-retryable auth failure, so the chain advances
// without backoff sleeps.
func authFailClient() *stubClient {
	return &stubClient{err: &schema.ProviderError{StatusCode: 401, Message: "invalid api key"}}
}

func staticHandler(output schema.TaskOutput) schema.TaskHandler {
	return handlers.Static{Output: output}
}

func echoHandler() schema.TaskHandler {
	return schema.HandlerFunc(func(_ context.Context, taskCtx map[string]any) (schema.TaskOutput, error) {
		out := make(map[string]any, len(taskCtx))
		for k, v := range taskCtx {
			out[k] = v
		}
		return schema.MapOutput(out), nil
	})
}

// --- E2E Scenarios ---

// 1. Linear pipeline: data feeds two model stages, upstream output lands
// in downstream prompts.
func TestLinearPipeline(t *testing.T) {
	google := okClient("event spikes on tuesdays")
	h := newHarness(t, map[string]router.Client{"google": google})

	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Handler: staticHandler(schema.MapOutput(map[string]any{"total_events": 1500, "source": "events.ndjson"})),
	})
	h.register(h.llmTask("event_analysis", []string{"data_processing"}, "Analyze event frequency."))
	h.register(h.llmTask("report_generation", []string{"event_analysis"}, "Write the executive report."))

	result := h.run(schema.ModeSequential)

	assert.True(t, result.Completed())
	require.Len(t, result.Results, 3)
	for id, res := range result.Results {
		assert.Equal(t, schema.TaskStatusCompleted, res.Status, "task %s", id)
	}

	// The report output carries the serving provider.
	report := result.Results["report_generation"]
	assert.Equal(t, "event spikes on tuesdays", report.Output.Map["content"])
	assert.Equal(t, "google", report.Output.Map["provider"])

	// Each model stage saw its dependency's output in the prompt.
	prompts := google.captured()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "Analyze event frequency.")
	assert.Contains(t, prompts[0], "total_events")
	assert.Contains(t, prompts[1], "event spikes on tuesdays")
}

// 2. Diamond dependency in parallel mode: fan-out stages run in one
// layer, the join waits for both.
func TestDiamondParallel(t *testing.T) {
	h := newHarness(t, map[string]router.Client{"google": okClient("done")})

	var joinSaw atomic.Value
	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Handler: staticHandler(schema.MapOutput(map[string]any{"rows": 10})),
	})
	h.register(schema.TaskDefinition{
		ID:        "event_analysis",
		DependsOn: []string{"data_processing"},
		Handler:   staticHandler(schema.MapOutput(map[string]any{"kind": "events"})),
	})
	h.register(schema.TaskDefinition{
		ID:        "retention_analysis",
		DependsOn: []string{"data_processing"},
		Handler:   staticHandler(schema.MapOutput(map[string]any{"kind": "retention"})),
	})
	h.register(schema.TaskDefinition{
		ID:        "report_generation",
		DependsOn: []string{"event_analysis", "retention_analysis"},
		Handler: schema.HandlerFunc(func(_ context.Context, taskCtx map[string]any) (schema.TaskOutput, error) {
			joinSaw.Store(len(taskCtx))
			return schema.ScalarOutput("report"), nil
		}),
	})

	result := h.run(schema.ModeParallel)

	assert.True(t, result.Completed())
	assert.Equal(t, schema.ModeParallel, result.Mode)
	// Both branch outputs were present when the join ran.
	assert.Equal(t, 2, joinSaw.Load())
}

// 3. A failed stage skips its dependents; the sibling branch finishes.
func TestFailureSkipsDependents(t *testing.T) {
	h := newHarness(t, map[string]router.Client{"google": okClient("fine")})

	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Handler: staticHandler(schema.MapOutput(map[string]any{"rows": 10})),
	})
	h.register(schema.TaskDefinition{
		ID:        "event_analysis",
		DependsOn: []string{"data_processing"},
		Handler: schema.HandlerFunc(func(context.Context, map[string]any) (schema.TaskOutput, error) {
			return schema.TaskOutput{}, fmt.Errorf("schema drift in export")
		}),
	})
	h.register(h.llmTask("retention_analysis", []string{"data_processing"}, "Analyze retention."))
	h.register(schema.TaskDefinition{
		ID:        "report_generation",
		DependsOn: []string{"event_analysis", "retention_analysis"},
		Handler:   staticHandler(schema.ScalarOutput("report")),
	})

	result := h.run(schema.ModeSequential)

	assert.Equal(t, schema.TaskStatusFailed, result.Results["event_analysis"].Status)
	assert.Contains(t, result.Results["event_analysis"].Error, "schema drift")
	assert.Equal(t, schema.TaskStatusCompleted, result.Results["retention_analysis"].Status)
	assert.Equal(t, schema.TaskStatusSkipped, result.Results["report_generation"].Status)
	assert.Equal(t, schema.SkipReasonDependency, result.Results["report_generation"].SkipReason)
	assert.InDelta(t, 0.5, result.CompletionRate, 1e-9)
	assert.False(t, result.Completed())
}

// 4. A flaky handler recovers within its retry budget.
func TestFlakyHandlerRecovers(t *testing.T) {
	h := newHarness(t, nil)

	var calls int64
	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Retries: 2,
		Handler: schema.HandlerFunc(func(context.Context, map[string]any) (schema.TaskOutput, error) {
			if atomic.AddInt64(&calls, 1) < 3 {
				return schema.TaskOutput{}, fmt.Errorf("transient read failure")
			}
			return schema.MapOutput(map[string]any{"rows": 99}), nil
		}),
	})

	result := h.run(schema.ModeSequential)

	res := result.Results["data_processing"]
	assert.Equal(t, schema.TaskStatusCompleted, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt64(&calls))
}

// 5. Conditions gate optional stages across all three dialects; a
// condition skip cascades as a dependency skip.
func TestConditionGates(t *testing.T) {
	h := newHarnessCfg(t, nil, orchestrator.Config{
		Params: map[string]any{"min_events": 1000},
	})

	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Handler: staticHandler(schema.MapOutput(map[string]any{"total_events": 1500})),
	})
	h.register(schema.TaskDefinition{
		ID:        "event_analysis",
		DependsOn: []string{"data_processing"},
		Condition: "tasks.data_processing.output.total_events > params.min_events",
		Handler:   staticHandler(schema.MapOutput(map[string]any{"kind": "events"})),
	})
	h.register(schema.TaskDefinition{
		ID:        "anomaly_scan",
		DependsOn: []string{"data_processing"},
		Condition: `cel: "data_processing" in tasks`,
		Handler:   staticHandler(schema.MapOutput(map[string]any{"kind": "anomalies"})),
	})
	// enable_export is not a workflow param; jq yields null == true -> false.
	h.register(schema.TaskDefinition{
		ID:        "path_analysis",
		DependsOn: []string{"data_processing"},
		Condition: "jq: .params.enable_export == true",
		Handler:   staticHandler(schema.MapOutput(map[string]any{"kind": "paths"})),
	})
	h.register(schema.TaskDefinition{
		ID:        "path_report",
		DependsOn: []string{"path_analysis"},
		Handler:   staticHandler(schema.ScalarOutput("paths report")),
	})

	result := h.run(schema.ModeSequential)

	assert.Equal(t, schema.TaskStatusCompleted, result.Results["event_analysis"].Status)
	assert.Equal(t, schema.TaskStatusCompleted, result.Results["anomaly_scan"].Status)

	assert.Equal(t, schema.TaskStatusSkipped, result.Results["path_analysis"].Status)
	assert.Equal(t, schema.SkipReasonCondition, result.Results["path_analysis"].SkipReason)
	assert.Equal(t, schema.TaskStatusSkipped, result.Results["path_report"].Status)
	assert.Equal(t, schema.SkipReasonDependency, result.Results["path_report"].SkipReason)
}

// 6. Workflow params interpolate into task params, upstream fields
// included; whole-string placeholders keep their type.
func TestParamInterpolation(t *testing.T) {
	h := newHarnessCfg(t, nil, orchestrator.Config{
		Params: map[string]any{"window": "30d", "data_path": "data/events.ndjson"},
	})

	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Params:  map[string]any{"path": "${{params.data_path}}"},
		Handler: staticHandler(schema.MapOutput(map[string]any{"total_events": 1500})),
	})
	h.register(schema.TaskDefinition{
		ID:        "event_analysis",
		DependsOn: []string{"data_processing"},
		Params: map[string]any{
			"window": "window ${{params.window}}",
			"events": "${{tasks.data_processing.output.total_events}}",
		},
		Handler: echoHandler(),
	})

	result := h.run(schema.ModeSequential)
	require.True(t, result.Completed())

	out := result.Results["event_analysis"].Output.Map
	assert.Equal(t, "window 30d", out["window"])
	assert.Equal(t, 1500, out["events"])
	// Dependency output rides along under the dependency's id.
	dep, ok := out["data_processing"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1500, dep["total_events"])
}

// 7. Primary provider fails auth mid-run: the stage is served by the
// fallback, and the advance is recorded and archived.
func TestProviderFallbackDuringRun(t *testing.T) {
	volcano := okClient("served by volcano")
	h := newHarness(t, map[string]router.Client{
		"google":  authFailClient(),
		"volcano": volcano,
	})

	h.register(h.llmTask("event_analysis", nil, "Analyze events."))

	result := h.run(schema.ModeSequential)

	res := result.Results["event_analysis"]
	require.Equal(t, schema.TaskStatusCompleted, res.Status)
	assert.Equal(t, "volcano", res.Output.Map["provider"])
	assert.Equal(t, "served by volcano", res.Output.Map["content"])

	events := h.router.FallbackHistory(10)
	require.Len(t, events, 1)
	assert.Equal(t, "google", events[0].FromProvider)
	assert.Equal(t, "volcano", events[0].ToProvider)
	assert.Equal(t, schema.KindAuth, events[0].Reason)
	assert.True(t, events[0].Success)

	archived, err := h.archive.ListFallbacks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "google", archived[0].FromProvider)
	assert.True(t, archived[0].Success)
}

// 8. Every provider down: the stage fails with the chain exhausted.
func TestChainExhaustedFailsStage(t *testing.T) {
	h := newHarness(t, map[string]router.Client{
		"google":  authFailClient(),
		"volcano": authFailClient(),
	})

	h.register(h.llmTask("event_analysis", nil, "Analyze events."))
	h.register(schema.TaskDefinition{
		ID:        "report_generation",
		DependsOn: []string{"event_analysis"},
		Handler:   staticHandler(schema.ScalarOutput("report")),
	})

	result := h.run(schema.ModeSequential)

	res := result.Results["event_analysis"]
	assert.Equal(t, schema.TaskStatusFailed, res.Status)
	assert.Contains(t, res.Error, schema.ErrCodeAllProvidersExhausted)
	assert.Equal(t, schema.TaskStatusSkipped, result.Results["report_generation"].Status)

	// Two advances are archived: google to volcano, then the exhausted
	// tail with no destination.
	archived, err := h.archive.ListFallbacks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, archived, 2)
	var exhausted *journal.FallbackRecord
	for _, ev := range archived {
		assert.False(t, ev.Success)
		if ev.ToProvider == "" {
			exhausted = ev
		}
	}
	require.NotNil(t, exhausted)
	assert.Equal(t, "volcano", exhausted.FromProvider)
}

// 9. Completed runs land in the archive with their task rows.
func TestRunArchived(t *testing.T) {
	h := newHarness(t, map[string]router.Client{"google": okClient("ok")})

	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Handler: staticHandler(schema.MapOutput(map[string]any{"rows": 7})),
	})
	h.register(h.llmTask("event_analysis", []string{"data_processing"}, "Analyze."))

	result := h.run(schema.ModeParallel)

	runs, err := h.archive.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	rec := runs[0]
	assert.Equal(t, result.RunID, rec.RunID)
	assert.Equal(t, string(schema.ModeParallel), rec.Mode)
	assert.InDelta(t, 1.0, rec.CompletionRate, 1e-9)
	require.Len(t, rec.Tasks, 2)
	for _, task := range rec.Tasks {
		assert.Equal(t, result.RunID, task.RunID)
		assert.Equal(t, string(schema.TaskStatusCompleted), task.Status)
		assert.NotEmpty(t, task.Output)
	}
}

// 10. Single-task execution respects the gates and reuses prior results.
func TestSingleTaskExecution(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Handler: staticHandler(schema.MapOutput(map[string]any{"total_events": 1500})),
	})
	h.register(schema.TaskDefinition{
		ID:        "event_analysis",
		DependsOn: []string{"data_processing"},
		Handler:   echoHandler(),
	})

	// The dependency has not completed, so the ad-hoc run skips.
	res, err := h.orch.ExecuteSingleTask(ctx, "event_analysis", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusSkipped, res.Status)
	assert.Equal(t, schema.SkipReasonDependency, res.SkipReason)

	res, err = h.orch.ExecuteSingleTask(ctx, "data_processing", nil)
	require.NoError(t, err)
	require.Equal(t, schema.TaskStatusCompleted, res.Status)

	// Now the gate is satisfied; extra params win on collision.
	res, err = h.orch.ExecuteSingleTask(ctx, "event_analysis", map[string]any{"depth": "full"})
	require.NoError(t, err)
	require.Equal(t, schema.TaskStatusCompleted, res.Status)
	assert.Equal(t, "full", res.Output.Map["depth"])
	dep, ok := res.Output.Map["data_processing"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1500, dep["total_events"])
}

// 11. Reset returns every task to pending and a fresh run succeeds.
func TestResetAndRerun(t *testing.T) {
	h := newHarness(t, nil)

	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Handler: staticHandler(schema.MapOutput(map[string]any{"rows": 1})),
	})

	first := h.run(schema.ModeSequential)
	require.True(t, first.Completed())

	require.NoError(t, h.orch.Reset())
	status := h.orch.Status()
	assert.Equal(t, []string{"data_processing"}, status.Pending)
	assert.Zero(t, status.CompletionRate)

	second := h.run(schema.ModeSequential)
	assert.True(t, second.Completed())
	assert.NotEqual(t, first.RunID, second.RunID)

	runs, err := h.archive.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

// 12. Cancellation mid-run: finished work stays, untouched tasks remain
// pending, and the error reports the aborted run.
func TestCancellationMidRun(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Handler: staticHandler(schema.MapOutput(map[string]any{"rows": 1})),
	})
	h.register(schema.TaskDefinition{
		ID:        "event_analysis",
		DependsOn: []string{"data_processing"},
		Handler: schema.HandlerFunc(func(context.Context, map[string]any) (schema.TaskOutput, error) {
			cancel()
			return schema.MapOutput(map[string]any{"kind": "events"}), nil
		}),
	})
	h.register(schema.TaskDefinition{
		ID:        "report_generation",
		DependsOn: []string{"event_analysis"},
		Handler:   staticHandler(schema.ScalarOutput("report")),
	})

	result, err := h.orch.ExecuteWorkflow(ctx, schema.ModeSequential)
	require.Error(t, err)
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeCancelled, engErr.Code)

	require.NotNil(t, result)
	assert.Equal(t, schema.TaskStatusCompleted, result.Results["data_processing"].Status)
	assert.Equal(t, schema.TaskStatusCompleted, result.Results["event_analysis"].Status)
	assert.Equal(t, schema.TaskStatusPending, result.Results["report_generation"].Status)
}

// 13. A stage that outlives its timeout fails instead of hanging the run.
func TestStageTimeout(t *testing.T) {
	h := newHarness(t, nil)

	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Timeout: 20 * time.Millisecond,
		Handler: schema.HandlerFunc(func(ctx context.Context, _ map[string]any) (schema.TaskOutput, error) {
			<-ctx.Done()
			return schema.TaskOutput{}, ctx.Err()
		}),
	})

	result := h.run(schema.ModeSequential)

	res := result.Results["data_processing"]
	assert.Equal(t, schema.TaskStatusFailed, res.Status)
	assert.Contains(t, res.Error, "context deadline exceeded")
}

// 14. Only one run at a time; the guard rejects the overlap.
func TestConcurrentRunGuard(t *testing.T) {
	h := newHarness(t, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	h.register(schema.TaskDefinition{
		ID: "data_processing",
		Handler: schema.HandlerFunc(func(context.Context, map[string]any) (schema.TaskOutput, error) {
			once.Do(func() { close(started) })
			<-release
			return schema.MapOutput(map[string]any{"rows": 1}), nil
		}),
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.ExecuteWorkflow(context.Background(), schema.ModeSequential)
		done <- err
	}()
	<-started

	_, err := h.orch.ExecuteWorkflow(context.Background(), schema.ModeSequential)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already active")

	close(release)
	require.NoError(t, <-done)
}

// 15. A YAML document drives the run once handlers are bound by id.
func TestImportedWorkflowRuns(t *testing.T) {
	h := newHarness(t, map[string]router.Client{"google": okClient("imported ok")})

	doc := []byte(`
version: "1"
settings:
  mode: parallel
tasks:
  - id: data_processing
    priority: 1
  - id: event_analysis
    depends_on: [data_processing]
    priority: 2
    retries: 1
    timeout: 30s
`)
	bound := map[string]schema.TaskHandler{
		"data_processing": staticHandler(schema.MapOutput(map[string]any{"rows": 3})),
	}
	llm, err := handlers.NewLLM(h.router, handlers.LLMConfig{Instruction: "Analyze events."})
	require.NoError(t, err)
	bound["event_analysis"] = llm

	require.NoError(t, h.orch.ImportConfiguration(doc, bound))
	assert.ElementsMatch(t, []string{"data_processing", "event_analysis"}, h.orch.TaskIDs())

	result := h.run(schema.ModeParallel)
	assert.True(t, result.Completed())
	assert.Equal(t, "imported ok", result.Results["event_analysis"].Output.Map["content"])

	// A document with an unbound task never replaces the registry.
	err = h.orch.ImportConfiguration([]byte(`
version: "1"
tasks:
  - id: unbound_stage
`), bound)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler bound")
	assert.ElementsMatch(t, []string{"data_processing", "event_analysis"}, h.orch.TaskIDs())
}

// 16. The in-memory history evicts oldest first; the archive keeps all.
func TestHistoryRingVersusArchive(t *testing.T) {
	h := newHarnessCfg(t, nil, orchestrator.Config{HistorySize: 2})
	ctx := context.Background()

	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Handler: staticHandler(schema.MapOutput(map[string]any{"rows": 1})),
	})

	runIDs := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		result := h.run(schema.ModeSequential)
		runIDs = append(runIDs, result.RunID)
	}

	records := h.orch.History()
	require.Len(t, records, 2)
	assert.Equal(t, runIDs[1], records[0].RunID)
	assert.Equal(t, runIDs[2], records[1].RunID)

	last, ok := h.orch.LastRun()
	require.True(t, ok)
	assert.Equal(t, runIDs[2], last.RunID)

	runs, err := h.archive.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

// 17. Wide fan-out on the bounded pool: every stage completes.
func TestWideWorkflow(t *testing.T) {
	h := newHarnessCfg(t, nil, orchestrator.Config{PoolSize: 3})

	var running, peak int64
	for i := 0; i < 10; i++ {
		h.register(schema.TaskDefinition{
			ID: fmt.Sprintf("segment_%02d", i),
			Handler: schema.HandlerFunc(func(context.Context, map[string]any) (schema.TaskOutput, error) {
				cur := atomic.AddInt64(&running, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&running, -1)
				return schema.MapOutput(map[string]any{"segment": cur}), nil
			}),
		})
	}

	result := h.run(schema.ModeParallel)

	assert.True(t, result.Completed())
	assert.Len(t, result.Results, 10)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3))
}

// 18. Preferred provider on one stage: the handler pins its vendor while
// the rest of the run uses the chain head.
func TestPreferredProviderStage(t *testing.T) {
	google := okClient("from google")
	volcano := okClient("from volcano")
	h := newHarness(t, map[string]router.Client{"google": google, "volcano": volcano})

	pinned, err := handlers.NewLLM(h.router, handlers.LLMConfig{
		Instruction: "Summarize conversion funnels.",
		Provider:    "volcano",
	})
	require.NoError(t, err)

	h.register(h.llmTask("event_analysis", nil, "Analyze events."))
	h.register(schema.TaskDefinition{ID: "conversion_analysis", Handler: pinned})

	result := h.run(schema.ModeSequential)
	require.True(t, result.Completed())

	assert.Equal(t, "google", result.Results["event_analysis"].Output.Map["provider"])
	assert.Equal(t, "volcano", result.Results["conversion_analysis"].Output.Map["provider"])
	assert.Len(t, google.captured(), 1)
	assert.Len(t, volcano.captured(), 1)

	// Pinning is routing, not failure: no fallback event was recorded.
	assert.Empty(t, h.router.FallbackHistory(10))
}

// 19. Export round-trip: a registered workflow re-imports from its own
// YAML export and produces the same plan.
func TestExportReimport(t *testing.T) {
	h := newHarness(t, nil)

	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Handler: staticHandler(schema.MapOutput(map[string]any{"rows": 1})),
	})
	h.register(schema.TaskDefinition{
		ID:        "event_analysis",
		DependsOn: []string{"data_processing"},
		Priority:  2,
		Retries:   1,
		Condition: "tasks.data_processing.status == 'completed'",
		Handler:   echoHandler(),
	})

	order, err := h.orch.ExecutionOrder()
	require.NoError(t, err)

	doc, err := h.orch.ExportYAML()
	require.NoError(t, err)
	assert.Contains(t, string(doc), "event_analysis")

	bound := map[string]schema.TaskHandler{
		"data_processing": staticHandler(schema.MapOutput(map[string]any{"rows": 1})),
		"event_analysis":  echoHandler(),
	}
	require.NoError(t, h.orch.ImportConfiguration(doc, bound))

	reimported, err := h.orch.ExecutionOrder()
	require.NoError(t, err)
	assert.Equal(t, order, reimported)

	result := h.run(schema.ModeSequential)
	assert.True(t, result.Completed())
}

// 20. Failed stages re-run ad hoc after the upstream problem clears.
func TestFailedStageRerun(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	broken := int64(1)
	h.register(schema.TaskDefinition{
		ID:      "data_processing",
		Handler: staticHandler(schema.MapOutput(map[string]any{"rows": 5})),
	})
	h.register(schema.TaskDefinition{
		ID:        "event_analysis",
		DependsOn: []string{"data_processing"},
		Handler: schema.HandlerFunc(func(context.Context, map[string]any) (schema.TaskOutput, error) {
			if atomic.LoadInt64(&broken) == 1 {
				return schema.TaskOutput{}, fmt.Errorf("upstream export truncated")
			}
			return schema.MapOutput(map[string]any{"kind": "events"}), nil
		}),
	})

	result := h.run(schema.ModeSequential)
	require.Equal(t, schema.TaskStatusFailed, result.Results["event_analysis"].Status)

	atomic.StoreInt64(&broken, 0)
	res, err := h.orch.ExecuteSingleTask(ctx, "event_analysis", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusCompleted, res.Status)

	status := h.orch.Status()
	assert.Empty(t, status.Failed)
	assert.ElementsMatch(t, []string{"data_processing", "event_analysis"}, status.Completed)
}
