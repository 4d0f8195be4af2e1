package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiongQvQ/ZenGrowth/internal/breaker"
	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

func TestStats_TracksTraffic(t *testing.T) {
	r := newTestRouter(t, Config{})
	gemini := &fakeClient{script: []error{nil, nil, nil, errBadPrompt}}
	addProvider(t, r, enabledProvider("gemini", 1), gemini)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := r.InvokeWithFallback(ctx, schema.Request{Prompt: "hi"}, "gemini")
		require.NoError(t, err)
	}
	_, _, err := r.InvokeWithFallback(ctx, schema.Request{Prompt: "hi"}, "gemini")
	requireCode(t, err, schema.ErrCodeAllProvidersExhausted)

	m := r.Stats()["gemini"]
	assert.Equal(t, int64(4), m.Requests)
	assert.Equal(t, int64(3), m.Succeeded)
	assert.Equal(t, int64(1), m.Failed)
	assert.InDelta(t, 0.75, m.SuccessRate, 1e-9)
	assert.Equal(t, 1, m.ConsecutiveFailures)
	assert.Greater(t, m.P50, time.Duration(0))
	assert.GreaterOrEqual(t, m.P99, m.P50)
	assert.False(t, m.LastRequestAt.IsZero())
	assert.Contains(t, m.LastError, "invalid request")
	assert.False(t, m.LastErrorAt.IsZero())
}

func TestExportMetrics_JSONShape(t *testing.T) {
	r := newTestRouter(t, Config{})
	addProvider(t, r, enabledProvider("gemini", 1), &fakeClient{})

	_, _, err := r.InvokeWithFallback(context.Background(), schema.Request{Prompt: "hi"}, "gemini")
	require.NoError(t, err)

	raw, err := r.ExportMetrics()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Contains(t, doc, "generated_at")

	providers, ok := doc["providers"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, providers, "gemini")
	gemini := providers["gemini"].(map[string]any)
	assert.Equal(t, float64(1), gemini["requests"])
	assert.Equal(t, float64(1), gemini["success_rate"])
}

func TestFallbackHistory_CapAndLimit(t *testing.T) {
	r := newTestRouter(t, Config{HistorySize: 2})
	gemini := &fakeClient{script: []error{errBadPrompt}}
	addProvider(t, r, enabledProvider("gemini", 1), gemini)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := r.InvokeWithFallback(ctx, schema.Request{Prompt: "hi"}, "gemini")
		requireCode(t, err, schema.ErrCodeAllProvidersExhausted)
	}

	history := r.FallbackHistory(0)
	require.Len(t, history, 2, "ring keeps only the newest events")
	assert.True(t, !history[1].Timestamp.Before(history[0].Timestamp))

	limited := r.FallbackHistory(1)
	require.Len(t, limited, 1)
	assert.Equal(t, history[1].ID, limited[0].ID)

	stats := r.FallbackStats()
	assert.Equal(t, int64(3), stats.Total, "counters outlive ring eviction")
}

func TestReport_Shape(t *testing.T) {
	r := newTestRouter(t, Config{
		FallbackOrder: []string{"volcano"},
		MaxRetries:    4,
		Breaker:       breaker.Config{FailureThreshold: 3, Cooldown: 45 * time.Second, HalfOpenMax: 1},
	})
	gemini := &fakeClient{script: []error{errBadPrompt}}
	volcano := &fakeClient{}
	addProvider(t, r, enabledProvider("gemini", 1), gemini)
	addProvider(t, r, enabledProvider("volcano", 2), volcano)

	_, _, err := r.InvokeWithFallback(context.Background(), schema.Request{Prompt: "hi"}, "gemini")
	require.NoError(t, err)

	report := r.Report()
	assert.False(t, report.GeneratedAt.IsZero())
	assert.Equal(t, []string{"volcano"}, report.Config.FallbackOrder)
	assert.Equal(t, 4, report.Config.MaxRetries)
	assert.Equal(t, 3, report.Config.FailureThreshold)
	assert.Equal(t, "45s", report.Config.Cooldown)

	assert.Equal(t, int64(1), report.Stats.Total)
	assert.Equal(t, int64(1), report.Stats.Succeeded)

	require.Contains(t, report.Circuits, "gemini")
	require.Contains(t, report.Circuits, "volcano")
	assert.Equal(t, schema.CircuitClosed, report.Circuits["gemini"])

	require.Len(t, report.Recent, 1)
	assert.Equal(t, "gemini", report.Recent[0].FromProvider)
	assert.Equal(t, "volcano", report.Recent[0].ToProvider)
}
