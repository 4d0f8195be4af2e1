package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// handleRun executes the full workflow in the requested mode.
func (s *ZenGrowthServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode := schema.ExecutionMode(req.GetString("mode", ""))

	result, err := s.orchestrator.ExecuteWorkflow(ctx, mode)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", err)), nil
	}
	return marshalResult(result)
}

// handleStatus returns the current task states plus the last run and any
// configured schedules.
func (s *ZenGrowthServer) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload := map[string]any{
		"status": s.orchestrator.Status(),
	}
	if rec, ok := s.orchestrator.LastRun(); ok {
		payload["last_run"] = rec
	}
	if s.scheduler != nil {
		payload["schedules"] = s.scheduler.Schedules()
	}
	return marshalResult(payload)
}

// handleTask runs one task ad hoc against the current result set.
func (s *ZenGrowthServer) handleTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	params := mcp.ParseStringMap(req, "params", nil)

	result, execErr := s.orchestrator.ExecuteSingleTask(ctx, taskID, params)
	if execErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("task execution failed: %v", execErr)), nil
	}
	return marshalResult(result)
}

// handleProviders lists every registered provider with masked keys,
// health, circuit state, and call metrics. check=true forces a live
// probe of all providers before reporting.
func (s *ZenGrowthServer) handleProviders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req.GetString("check", "false") == "true" {
		s.router.ForceHealthCheckAll(ctx)
	}
	return marshalResult(map[string]any{"providers": s.router.ProviderInfo()})
}

// handleInvoke sends a single prompt through the fallback chain.
func (s *ZenGrowthServer) handleInvoke(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError("prompt is required"), nil
	}

	creq := schema.Request{
		Prompt: prompt,
		System: req.GetString("system", ""),
		Model:  req.GetString("model", ""),
	}

	var preferred []string
	if p := req.GetString("provider", ""); p != "" {
		preferred = append(preferred, p)
	}

	resp, event, invErr := s.router.InvokeWithFallback(ctx, creq, preferred...)
	if invErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invocation failed: %v", invErr)), nil
	}

	payload := map[string]any{"response": resp}
	if event != nil {
		payload["fallback"] = event
	}
	return marshalResult(payload)
}

// handleHistory lists recent runs or fallback events, from the in-memory
// rings by default or from the libSQL archive with archived=true.
func (s *ZenGrowthServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource := req.GetString("resource", "runs")
	archived := req.GetString("archived", "false") == "true"
	filter := mcp.ParseStringMap(req, "filter", nil)
	limit := extractInt(filter, "limit", 20)

	switch resource {
	case "runs":
		return s.historyRuns(ctx, archived, limit)
	case "fallbacks":
		return s.historyFallbacks(ctx, archived, limit)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- History helpers ---

func (s *ZenGrowthServer) historyRuns(ctx context.Context, archived bool, limit int) (*mcp.CallToolResult, error) {
	if archived {
		if s.archive == nil {
			return mcp.NewToolResultError("no archive configured"), nil
		}
		runs, err := s.archive.ListRuns(ctx, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("archive query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"runs": runs})
	}

	records := s.orchestrator.History()
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return marshalResult(map[string]any{"runs": records})
}

func (s *ZenGrowthServer) historyFallbacks(ctx context.Context, archived bool, limit int) (*mcp.CallToolResult, error) {
	if archived {
		if s.archive == nil {
			return mcp.NewToolResultError("no archive configured"), nil
		}
		events, err := s.archive.ListFallbacks(ctx, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("archive query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"fallbacks": events})
	}

	return marshalResult(map[string]any{
		"fallbacks": s.router.FallbackHistory(limit),
		"stats":     s.router.FallbackStats(),
	})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
