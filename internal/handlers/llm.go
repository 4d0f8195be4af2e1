// Package handlers provides TaskHandler implementations for workflow
// stages: model-backed analysis through the fallback router, and static
// outputs for data-only stages and tests.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// Invoker is the slice of the router an LLM handler needs.
type Invoker interface {
	InvokeWithFallback(ctx context.Context, req schema.Request, preferred ...string) (*schema.Response, *schema.FallbackEvent, error)
}

// LLMConfig shapes one model-backed task.
type LLMConfig struct {
	Instruction string   // what the model is asked to do
	System      string   // optional system prompt
	Provider    string   // preferred provider, empty lets the router pick
	Model       string   // optional model override
	Temperature *float64
	MaxTokens   int
	Multimodal  bool
	ContextKeys []string // task-context keys appended to the prompt, nil means all
}

// LLM runs a task by prompting a model through the fallback router. The
// task context (resolved params and upstream outputs) is serialized into
// the prompt so analysis stages see their dependencies' results.
type LLM struct {
	invoker Invoker
	cfg     LLMConfig
}

func NewLLM(invoker Invoker, cfg LLMConfig) (*LLM, error) {
	if invoker == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "llm handler requires an invoker")
	}
	if strings.TrimSpace(cfg.Instruction) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "llm handler requires an instruction")
	}
	return &LLM{invoker: invoker, cfg: cfg}, nil
}

func (h *LLM) Execute(ctx context.Context, taskCtx map[string]any) (schema.TaskOutput, error) {
	prompt, err := h.buildPrompt(taskCtx)
	if err != nil {
		return schema.TaskOutput{}, err
	}

	req := schema.Request{
		System:      h.cfg.System,
		Prompt:      prompt,
		Model:       h.cfg.Model,
		Temperature: h.cfg.Temperature,
		MaxTokens:   h.cfg.MaxTokens,
		Multimodal:  h.cfg.Multimodal,
	}
	var preferred []string
	if h.cfg.Provider != "" {
		preferred = []string{h.cfg.Provider}
	}

	resp, _, err := h.invoker.InvokeWithFallback(ctx, req, preferred...)
	if err != nil {
		return schema.TaskOutput{}, err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return schema.TaskOutput{}, schema.NewError(schema.ErrCodeHandlerFailed,
			"model returned empty content").WithProvider(resp.Provider)
	}

	out := map[string]any{
		"content":  resp.Content,
		"provider": resp.Provider,
		"model":    resp.Model,
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}
	if resp.FinishReason != "" {
		out["finish_reason"] = resp.FinishReason
	}
	return schema.MapOutput(out), nil
}

// buildPrompt renders the instruction followed by the selected context
// entries as indented JSON. Missing keys are skipped: an optional
// upstream task may have been condition-skipped.
func (h *LLM) buildPrompt(taskCtx map[string]any) (string, error) {
	keys := h.cfg.ContextKeys
	if keys == nil {
		keys = make([]string, 0, len(taskCtx))
		for k := range taskCtx {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	var b strings.Builder
	b.WriteString(h.cfg.Instruction)
	wrote := false
	for _, key := range keys {
		value, ok := taskCtx[key]
		if !ok {
			continue
		}
		blob, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeHandlerFailed,
				"context value %s is not serializable: %s", key, err.Error()).WithCause(err)
		}
		if !wrote {
			b.WriteString("\n\nContext:")
			wrote = true
		}
		fmt.Fprintf(&b, "\n%s:\n%s", key, blob)
	}
	return b.String(), nil
}

// Static returns the same output for every execution.
type Static struct {
	Output schema.TaskOutput
}

func (s Static) Execute(ctx context.Context, taskCtx map[string]any) (schema.TaskOutput, error) {
	return s.Output, nil
}
