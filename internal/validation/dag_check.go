package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// validateDAG runs cycle detection over the declared dependency graph.
// Runs after semantic checks, so edges can assume valid references and
// no self-loops; a detected cycle names exactly its member tasks.
func validateDAG(cfg *schema.WorkflowConfig) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	taskIDs := make(map[string]bool, len(cfg.Tasks))
	edges := make(map[string][]string, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		taskIDs[tc.ID] = true
	}
	for _, tc := range cfg.Tasks {
		for _, dep := range tc.DependsOn {
			if taskIDs[dep] && dep != tc.ID {
				edges[tc.ID] = append(edges[tc.ID], dep)
			}
		}
	}

	cycle := stronglyConnected(taskIDs, edges)
	if len(cycle) > 0 {
		result.AddError("tasks", schema.ErrCodeCyclicDependency,
			fmt.Sprintf("dependency cycle detected among tasks: %s", strings.Join(cycle, ", ")))
	}

	return result
}

// stronglyConnected returns the sorted union of all non-trivial strongly
// connected components, empty when the graph is acyclic.
func stronglyConnected(nodes map[string]bool, edges map[string][]string) []string {
	index := make(map[string]int, len(nodes))
	low := make(map[string]int, len(nodes))
	onStack := make(map[string]bool, len(nodes))
	var stack []string
	next := 0
	var cycle []string

	var visit func(id string)
	visit = func(id string) {
		index[id] = next
		low[id] = next
		next++
		stack = append(stack, id)
		onStack[id] = true

		for _, dep := range edges[id] {
			if _, seen := index[dep]; !seen {
				visit(dep)
				if low[dep] < low[id] {
					low[id] = low[dep]
				}
			} else if onStack[dep] && index[dep] < low[id] {
				low[id] = index[dep]
			}
		}

		if low[id] == index[id] {
			var component []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				component = append(component, top)
				if top == id {
					break
				}
			}
			if len(component) > 1 {
				cycle = append(cycle, component...)
			}
		}
	}

	ordered := make([]string, 0, len(nodes))
	for id := range nodes {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	for _, id := range ordered {
		if _, seen := index[id]; !seen {
			visit(id)
		}
	}

	sort.Strings(cycle)
	return cycle
}
