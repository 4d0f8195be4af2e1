package validation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xiongQvQ/ZenGrowth/internal/expressions"
	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// validateSemantic performs cross-field analysis on the configuration.
// Checks: unique task ids, dependency references, duration strings,
// retry bounds, and parameter references that bypass depends_on.
func validateSemantic(cfg *schema.WorkflowConfig) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[string]int, len(cfg.Tasks))
	taskIDs := make(map[string]bool, len(cfg.Tasks))
	for i, tc := range cfg.Tasks {
		if tc.ID == "" {
			continue // structural catches missing ids
		}
		if first, dup := seen[tc.ID]; dup {
			result.AddError(fmt.Sprintf("tasks[%d].id", i), schema.ErrCodeDuplicateTask,
				fmt.Sprintf("duplicate task id %q (first defined at tasks[%d])", tc.ID, first))
			continue
		}
		seen[tc.ID] = i
		taskIDs[tc.ID] = true
	}

	for i := range cfg.Tasks {
		validateTaskSemantic(&cfg.Tasks[i], fmt.Sprintf("tasks[%d]", i), taskIDs, result)
	}

	return result
}

// validateTaskSemantic checks a single task entry.
func validateTaskSemantic(tc *schema.TaskConfig, path string, taskIDs map[string]bool, result *schema.ValidationResult) {
	declared := make(map[string]bool, len(tc.DependsOn))
	for j, dep := range tc.DependsOn {
		depPath := fmt.Sprintf("%s.depends_on[%d]", path, j)
		if dep == tc.ID {
			result.AddError(depPath, schema.ErrCodeCyclicDependency,
				fmt.Sprintf("task %q depends on itself", tc.ID))
			continue
		}
		if !taskIDs[dep] {
			result.AddError(depPath, schema.ErrCodeUnknownTask,
				fmt.Sprintf("references non-existent task %q", dep))
		}
		if declared[dep] {
			result.AddError(depPath, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate dependency %q", dep))
		}
		declared[dep] = true
	}

	if tc.Timeout != "" {
		d, err := time.ParseDuration(tc.Timeout)
		switch {
		case err != nil:
			result.AddError(path+".timeout", schema.ErrCodeValidation,
				fmt.Sprintf("invalid timeout %q: not a valid duration", tc.Timeout))
		case d < 0:
			result.AddError(path+".timeout", schema.ErrCodeValidation,
				fmt.Sprintf("timeout %q must not be negative", tc.Timeout))
		}
	}

	if tc.Retries < 0 {
		result.AddError(path+".retries", schema.ErrCodeValidation,
			fmt.Sprintf("retries must not be negative, got %d", tc.Retries))
	} else if tc.Retries > 10 {
		result.AddWarning(path+".retries", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause long stalls", tc.Retries))
	}

	// Parameters may reference task outputs; a referenced task that is not
	// a declared dependency may not have run yet, failing interpolation.
	if len(tc.Params) > 0 {
		raw, err := json.Marshal(tc.Params)
		if err != nil {
			return
		}
		for _, ref := range expressions.ReferencedTasks(raw) {
			if declared[ref] {
				continue
			}
			result.AddWarning(path+".params", schema.ErrCodeValidation,
				fmt.Sprintf("references output of task %q which is not a declared dependency", ref))
		}
	}
}
