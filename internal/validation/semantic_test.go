package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

func analyticsConfig() *schema.WorkflowConfig {
	return &schema.WorkflowConfig{
		Version: schema.ConfigVersion,
		Tasks: []schema.TaskConfig{
			{ID: "data_processing", Priority: 1},
			{ID: "event_analysis", Priority: 2, DependsOn: []string{"data_processing"}},
			{ID: "report_generation", Priority: 3, DependsOn: []string{"event_analysis"}},
		},
	}
}

func issueCodes(issues []schema.ValidationIssue) []string {
	codes := make([]string, 0, len(issues))
	for _, issue := range issues {
		codes = append(codes, issue.Code)
	}
	return codes
}

func TestValidateSemantic_CleanConfig(t *testing.T) {
	result := validateSemantic(analyticsConfig())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestValidateSemantic_DuplicateTaskID(t *testing.T) {
	cfg := analyticsConfig()
	cfg.Tasks = append(cfg.Tasks, schema.TaskConfig{ID: "data_processing"})

	result := validateSemantic(cfg)
	require.False(t, result.Valid())
	assert.Contains(t, issueCodes(result.Errors), schema.ErrCodeDuplicateTask)
	assert.Contains(t, result.Errors[0].Message, "tasks[0]")
}

func TestValidateSemantic_SelfDependency(t *testing.T) {
	cfg := &schema.WorkflowConfig{
		Tasks: []schema.TaskConfig{
			{ID: "event_analysis", DependsOn: []string{"event_analysis"}},
		},
	}

	result := validateSemantic(cfg)
	require.False(t, result.Valid())
	assert.Contains(t, issueCodes(result.Errors), schema.ErrCodeCyclicDependency)
}

func TestValidateSemantic_UnknownDependency(t *testing.T) {
	cfg := &schema.WorkflowConfig{
		Tasks: []schema.TaskConfig{
			{ID: "event_analysis", DependsOn: []string{"ghost_task"}},
		},
	}

	result := validateSemantic(cfg)
	require.False(t, result.Valid())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeUnknownTask, result.Errors[0].Code)
	assert.Equal(t, "tasks[0].depends_on[0]", result.Errors[0].Path)
}

func TestValidateSemantic_DuplicateDependency(t *testing.T) {
	cfg := &schema.WorkflowConfig{
		Tasks: []schema.TaskConfig{
			{ID: "data_processing"},
			{ID: "event_analysis", DependsOn: []string{"data_processing", "data_processing"}},
		},
	}

	result := validateSemantic(cfg)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "duplicate dependency")
}

func TestValidateSemantic_InvalidTimeout(t *testing.T) {
	cfg := &schema.WorkflowConfig{
		Tasks: []schema.TaskConfig{{ID: "a", Timeout: "fast"}},
	}

	result := validateSemantic(cfg)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "not a valid duration")
}

func TestValidateSemantic_NegativeTimeout(t *testing.T) {
	cfg := &schema.WorkflowConfig{
		Tasks: []schema.TaskConfig{{ID: "a", Timeout: "-30s"}},
	}

	result := validateSemantic(cfg)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "negative")
}

func TestValidateSemantic_NegativeRetries(t *testing.T) {
	cfg := &schema.WorkflowConfig{
		Tasks: []schema.TaskConfig{{ID: "a", Retries: -2}},
	}

	result := validateSemantic(cfg)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "negative")
}

func TestValidateSemantic_HighRetriesWarns(t *testing.T) {
	cfg := &schema.WorkflowConfig{
		Tasks: []schema.TaskConfig{{ID: "a", Retries: 25}},
	}

	result := validateSemantic(cfg)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "high retry count")
}

func TestValidateSemantic_ParamRefWithoutDependencyWarns(t *testing.T) {
	cfg := &schema.WorkflowConfig{
		Tasks: []schema.TaskConfig{
			{ID: "data_processing"},
			{
				ID:     "report_generation",
				Params: map[string]any{"rows": "${{tasks.data_processing.output.rows}}"},
			},
		},
	}

	result := validateSemantic(cfg)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "tasks[1].params", result.Warnings[0].Path)
	assert.Contains(t, result.Warnings[0].Message, "data_processing")
}

func TestValidateSemantic_ParamRefWithDependencyIsClean(t *testing.T) {
	cfg := &schema.WorkflowConfig{
		Tasks: []schema.TaskConfig{
			{ID: "data_processing"},
			{
				ID:        "report_generation",
				DependsOn: []string{"data_processing"},
				Params:    map[string]any{"rows": "${{tasks.data_processing.output.rows}}"},
			},
		},
	}

	result := validateSemantic(cfg)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}
