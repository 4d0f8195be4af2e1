package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

func newTestJournal(t *testing.T) *LibSQL {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewLibSQL("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, j.Migrate(context.Background()))
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func sampleRun() *schema.WorkflowResult {
	completed := time.Now().UTC().Truncate(time.Millisecond)
	started := completed.Add(-2 * time.Second)
	return &schema.WorkflowResult{
		RunID:          uuid.New().String(),
		Mode:           schema.ModeParallel,
		StartedAt:      started,
		CompletedAt:    completed,
		Duration:       completed.Sub(started),
		CompletionRate: 1.0,
		Results: map[string]*schema.TaskResult{
			"data_processing": {
				TaskID:      "data_processing",
				Status:      schema.TaskStatusCompleted,
				Output:      schema.MapOutput(map[string]any{"rows": 1532}),
				Attempts:    1,
				StartedAt:   started,
				CompletedAt: completed,
				Duration:    completed.Sub(started),
			},
			"event_analysis": {
				TaskID:     "event_analysis",
				Status:     schema.TaskStatusSkipped,
				SkipReason: schema.SkipReasonCondition,
			},
		},
	}
}

// --- Run Tests ---

func TestRecordRun_RoundTrip(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	res := sampleRun()
	require.NoError(t, j.RecordRun(ctx, res))

	runs, err := j.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, res.RunID, got.RunID)
	assert.Equal(t, "parallel", got.Mode)
	assert.Equal(t, res.Duration.Milliseconds(), got.DurationMs)
	assert.InDelta(t, 1.0, got.CompletionRate, 1e-9)
	assert.WithinDuration(t, res.StartedAt, got.StartedAt, time.Second)

	require.Len(t, got.Tasks, 2)
	byID := make(map[string]*TaskRecord, len(got.Tasks))
	for _, task := range got.Tasks {
		byID[task.TaskID] = task
	}

	done := byID["data_processing"]
	require.NotNil(t, done)
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, 1, done.Attempts)
	assert.JSONEq(t, `{"kind":"map","map":{"rows":1532}}`, string(done.Output))
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	skipped := byID["event_analysis"]
	require.NotNil(t, skipped)
	assert.Equal(t, "skipped", skipped.Status)
	assert.Equal(t, schema.SkipReasonCondition, skipped.SkipReason)
	assert.Nil(t, skipped.Output)
	assert.Nil(t, skipped.StartedAt)
}

func TestRecordRun_ReplacesExistingRun(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	res := sampleRun()
	require.NoError(t, j.RecordRun(ctx, res))

	res.CompletionRate = 0.5
	delete(res.Results, "event_analysis")
	require.NoError(t, j.RecordRun(ctx, res))

	runs, err := j.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.InDelta(t, 0.5, runs[0].CompletionRate, 1e-9)
	assert.Len(t, runs[0].Tasks, 1)
}

func TestListRuns_NewestFirstAndLimit(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		res := sampleRun()
		res.StartedAt = base.Add(time.Duration(i) * time.Minute)
		res.CompletedAt = res.StartedAt.Add(time.Second)
		require.NoError(t, j.RecordRun(ctx, res))
		ids = append(ids, res.RunID)
	}

	runs, err := j.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].RunID)
	assert.Equal(t, ids[0], runs[2].RunID)

	runs, err = j.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].RunID)
	assert.Equal(t, ids[1], runs[1].RunID)
}

func TestListRuns_Empty(t *testing.T) {
	j := newTestJournal(t)
	runs, err := j.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// --- Fallback Tests ---

func TestRecordFallback_RoundTrip(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	reqID := uuid.New().String()
	advance := schema.FallbackEvent{
		ID:           uuid.New().String(),
		RequestID:    reqID,
		Timestamp:    time.Now().UTC().Add(-time.Minute),
		FromProvider: "google",
		ToProvider:   "volcano",
		Reason:       schema.KindRateLimit,
		Attempts:     3,
		Success:      true,
	}
	terminal := schema.FallbackEvent{
		ID:           uuid.New().String(),
		RequestID:    reqID,
		Timestamp:    time.Now().UTC(),
		FromProvider: "volcano",
		Reason:       schema.KindAuth,
		Attempts:     1,
		Error:        "provider volcano: status 401: bad key",
	}
	require.NoError(t, j.RecordFallback(ctx, advance))
	require.NoError(t, j.RecordFallback(ctx, terminal))

	events, err := j.ListFallbacks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, terminal.ID, events[0].ID)
	assert.Equal(t, "volcano", events[0].FromProvider)
	assert.Empty(t, events[0].ToProvider)
	assert.Equal(t, string(schema.KindAuth), events[0].Reason)
	assert.False(t, events[0].Success)
	assert.Contains(t, events[0].Error, "status 401")

	assert.Equal(t, advance.ID, events[1].ID)
	assert.Equal(t, "volcano", events[1].ToProvider)
	assert.Equal(t, 3, events[1].Attempts)
	assert.True(t, events[1].Success)

	events, err = j.ListFallbacks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, terminal.ID, events[0].ID)
}

func TestRecordFallback_DuplicateID(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	ev := schema.FallbackEvent{
		ID:           uuid.New().String(),
		RequestID:    uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		FromProvider: "google",
		ToProvider:   "volcano",
		Reason:       schema.KindTimeout,
		Attempts:     2,
	}
	require.NoError(t, j.RecordFallback(ctx, ev))

	ev.Attempts = 9
	require.NoError(t, j.RecordFallback(ctx, ev))

	events, err := j.ListFallbacks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Attempts)
}

// --- Lifecycle Tests ---

func TestMigrateIdempotent(t *testing.T) {
	j := newTestJournal(t)
	// Migrate already ran in newTestJournal; a second call is a no-op.
	require.NoError(t, j.Migrate(context.Background()))
}

func TestNopDiscardsEverything(t *testing.T) {
	var n Journal = Nop{}
	ctx := context.Background()

	require.NoError(t, n.RecordRun(ctx, sampleRun()))
	require.NoError(t, n.RecordFallback(ctx, schema.FallbackEvent{ID: "x"}))

	runs, err := n.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	require.NoError(t, n.Migrate(ctx))
	require.NoError(t, n.Close())
}
