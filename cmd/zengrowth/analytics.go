package main

import (
	"context"

	"github.com/xiongQvQ/ZenGrowth/internal/handlers"
	"github.com/xiongQvQ/ZenGrowth/internal/orchestrator"
	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// analystSystem is the shared system prompt for every model-backed stage.
const analystSystem = "You are a senior business analyst working from " +
	"product event data. Ground every claim in the data you are given, " +
	"quantify where possible, and state uncertainty explicitly."

// stage describes one task of the built-in analytics workflow.
type stage struct {
	id          string
	description string
	dependsOn   []string
	priority    int
	instruction string   // empty means the stage runs without a model
	contextKeys []string // upstream outputs included in the prompt
}

// analyticsStages is the default workflow: a data preparation stage,
// five analyses that fan out from it, and a report that joins them.
var analyticsStages = []stage{
	{
		id:          "data_processing",
		description: "Validate the event data source and describe it for downstream stages",
		priority:    1,
	},
	{
		id:          "event_analysis",
		description: "Event frequency, activity trends, and notable spikes",
		dependsOn:   []string{"data_processing"},
		priority:    2,
		instruction: "Analyze user event patterns in the prepared dataset: overall activity trends, the most frequent events, and notable spikes or drop-offs.",
		contextKeys: []string{"data_processing"},
	},
	{
		id:          "retention_analysis",
		description: "Cohort retention, churn points, and retained-user behavior",
		dependsOn:   []string{"data_processing"},
		priority:    2,
		instruction: "Measure user retention in the prepared dataset: cohort retention over time, where churn concentrates, and the behaviors that separate retained users from churned ones.",
		contextKeys: []string{"data_processing"},
	},
	{
		id:          "conversion_analysis",
		description: "Funnel conversion rates and drop-off stages",
		dependsOn:   []string{"data_processing"},
		priority:    2,
		instruction: "Analyze conversion funnels in the prepared dataset: step-by-step conversion rates, the biggest drop-off stages, and concrete hypotheses for the losses.",
		contextKeys: []string{"data_processing"},
	},
	{
		id:          "user_segmentation",
		description: "Behavioral user segments and their relative value",
		dependsOn:   []string{"data_processing"},
		priority:    3,
		instruction: "Segment the users in the prepared dataset by behavior: identify distinct groups, their defining actions, relative sizes, and the value each segment represents.",
		contextKeys: []string{"data_processing"},
	},
	{
		id:          "path_analysis",
		description: "Navigation journeys, loops, and conversion paths",
		dependsOn:   []string{"data_processing"},
		priority:    3,
		instruction: "Analyze user navigation paths in the prepared dataset: the most common journeys, loops and dead ends, and the paths most correlated with conversion.",
		contextKeys: []string{"data_processing"},
	},
	{
		id:          "report_generation",
		description: "Executive report joining all five analyses",
		dependsOn: []string{
			"event_analysis", "retention_analysis", "conversion_analysis",
			"user_segmentation", "path_analysis",
		},
		priority:    4,
		instruction: "Write an executive analytics report from the five upstream analyses: key findings, cross-cutting insights, and prioritized recommendations. Open with a short summary, then one section per analysis area.",
		contextKeys: []string{
			"event_analysis", "retention_analysis", "conversion_analysis",
			"user_segmentation", "path_analysis",
		},
	},
}

// dataProcessingHandler stamps the configured data source for downstream
// prompts. The engine does not parse raw event exports itself; analysis
// stages reason over whatever descriptor and params the run carries.
func dataProcessingHandler() schema.TaskHandler {
	return schema.HandlerFunc(func(_ context.Context, taskCtx map[string]any) (schema.TaskOutput, error) {
		source := "unspecified"
		if v, ok := taskCtx["data_path"].(string); ok && v != "" {
			source = v
		}
		return schema.MapOutput(map[string]any{"source": source}), nil
	})
}

// analyticsHandlers builds the handler for every stage, keyed by task ID.
// The same map serves both code registration and workflow file imports.
func analyticsHandlers(invoker handlers.Invoker) (map[string]schema.TaskHandler, error) {
	set := make(map[string]schema.TaskHandler, len(analyticsStages))
	for _, st := range analyticsStages {
		if st.instruction == "" {
			set[st.id] = dataProcessingHandler()
			continue
		}
		h, err := handlers.NewLLM(invoker, handlers.LLMConfig{
			Instruction: st.instruction,
			System:      analystSystem,
			ContextKeys: st.contextKeys,
		})
		if err != nil {
			return nil, err
		}
		set[st.id] = h
	}
	return set, nil
}

// registerAnalyticsWorkflow registers the built-in task set.
func registerAnalyticsWorkflow(o *orchestrator.Orchestrator, set map[string]schema.TaskHandler) error {
	for _, st := range analyticsStages {
		def := schema.TaskDefinition{
			ID:          st.id,
			Description: st.description,
			DependsOn:   st.dependsOn,
			Priority:    st.priority,
			Handler:     set[st.id],
		}
		if err := o.RegisterTask(def); err != nil {
			return err
		}
	}
	return nil
}
