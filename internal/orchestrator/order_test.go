package orchestrator

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"pgregory.net/rapid"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// --- helpers ---

func noopHandler() schema.TaskHandler {
	return schema.HandlerFunc(func(ctx context.Context, taskCtx map[string]any) (schema.TaskOutput, error) {
		return schema.ScalarOutput("ok"), nil
	})
}

func taskDef(id string, priority int, deps ...string) *schema.TaskDefinition {
	return &schema.TaskDefinition{
		ID:        id,
		Priority:  priority,
		DependsOn: deps,
		Handler:   noopHandler(),
	}
}

func mustPlan(t *testing.T, defs ...*schema.TaskDefinition) *executionPlan {
	t.Helper()
	plan, err := computePlan(defs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return plan
}

func assertCode(t *testing.T, err error, expectedCode string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	engErr, ok := err.(*schema.EngineError)
	if !ok {
		t.Fatalf("expected EngineError, got %T: %v", err, err)
	}
	if engErr.Code != expectedCode {
		t.Errorf("expected code %s, got %s: %s", expectedCode, engErr.Code, engErr.Message)
	}
}

// --- order tests ---

func TestComputePlan_LinearChain(t *testing.T) {
	plan := mustPlan(t,
		taskDef("data_processing", 1),
		taskDef("event_analysis", 2, "data_processing"),
		taskDef("report_generation", 3, "event_analysis"),
	)

	want := []string{"data_processing", "event_analysis", "report_generation"}
	if !reflect.DeepEqual(plan.order, want) {
		t.Errorf("expected order %v, got %v", want, plan.order)
	}
}

func TestComputePlan_PriorityOrdersReadyTasks(t *testing.T) {
	plan := mustPlan(t,
		taskDef("low", 3),
		taskDef("high", 1),
		taskDef("mid", 2),
	)

	want := []string{"high", "mid", "low"}
	if !reflect.DeepEqual(plan.order, want) {
		t.Errorf("expected order %v, got %v", want, plan.order)
	}
}

func TestComputePlan_RegistrationOrderBreaksPriorityTies(t *testing.T) {
	plan := mustPlan(t,
		taskDef("c", 1),
		taskDef("a", 1),
		taskDef("b", 1),
	)

	want := []string{"c", "a", "b"}
	if !reflect.DeepEqual(plan.order, want) {
		t.Errorf("expected registration order %v, got %v", want, plan.order)
	}
}

func TestComputePlan_DependenciesDominatePriority(t *testing.T) {
	// "late" has the best priority but must wait for its dependency.
	plan := mustPlan(t,
		taskDef("root", 9),
		taskDef("late", 1, "root"),
	)

	want := []string{"root", "late"}
	if !reflect.DeepEqual(plan.order, want) {
		t.Errorf("expected order %v, got %v", want, plan.order)
	}
}

func TestComputePlan_AnalyticsPipeline(t *testing.T) {
	plan := mustPlan(t,
		taskDef("data_processing", 1),
		taskDef("event_analysis", 2, "data_processing"),
		taskDef("retention_analysis", 2, "data_processing"),
		taskDef("conversion_analysis", 2, "data_processing"),
		taskDef("segmentation_analysis", 3, "data_processing"),
		taskDef("path_analysis", 3, "data_processing"),
		taskDef("report_generation", 4,
			"event_analysis", "retention_analysis", "conversion_analysis",
			"segmentation_analysis", "path_analysis"),
	)

	want := []string{
		"data_processing",
		"event_analysis", "retention_analysis", "conversion_analysis",
		"segmentation_analysis", "path_analysis",
		"report_generation",
	}
	if !reflect.DeepEqual(plan.order, want) {
		t.Errorf("expected order %v, got %v", want, plan.order)
	}

	if len(plan.layers) != 3 {
		t.Fatalf("expected 3 layers, got %d: %v", len(plan.layers), plan.layers)
	}
	if len(plan.layers[1]) != 5 {
		t.Errorf("middle layer should hold the 5 analyses, got %v", plan.layers[1])
	}
}

func TestComputePlan_DiamondLayers(t *testing.T) {
	plan := mustPlan(t,
		taskDef("a", 1),
		taskDef("b", 1, "a"),
		taskDef("c", 1, "a"),
		taskDef("d", 1, "b", "c"),
	)

	wantLayers := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(plan.layers, wantLayers) {
		t.Errorf("expected layers %v, got %v", wantLayers, plan.layers)
	}
}

func TestComputePlan_IndependentTasksShareALayer(t *testing.T) {
	plan := mustPlan(t,
		taskDef("a", 1),
		taskDef("b", 2),
		taskDef("c", 3),
	)

	if len(plan.layers) != 1 || len(plan.layers[0]) != 3 {
		t.Errorf("expected one layer with 3 tasks, got %v", plan.layers)
	}
}

// --- error tests ---

func TestComputePlan_Empty(t *testing.T) {
	_, err := computePlan(nil)
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestComputePlan_UnknownDependency(t *testing.T) {
	_, err := computePlan([]*schema.TaskDefinition{
		taskDef("a", 1, "ghost"),
	})
	assertCode(t, err, schema.ErrCodeUnknownTask)
}

func TestComputePlan_TwoNodeCycle(t *testing.T) {
	_, err := computePlan([]*schema.TaskDefinition{
		taskDef("a", 1, "b"),
		taskDef("b", 1, "a"),
	})
	assertCode(t, err, schema.ErrCodeCyclicDependency)

	engErr := err.(*schema.EngineError)
	cycle, ok := engErr.Details["cycle"].([]string)
	if !ok {
		t.Fatalf("expected cycle detail, got %v", engErr.Details)
	}
	if !reflect.DeepEqual(cycle, []string{"a", "b"}) {
		t.Errorf("expected cycle [a b], got %v", cycle)
	}
}

func TestComputePlan_CycleExcludesDownstreamTasks(t *testing.T) {
	// c is blocked by the cycle but not part of it.
	_, err := computePlan([]*schema.TaskDefinition{
		taskDef("a", 1, "b"),
		taskDef("b", 1, "a"),
		taskDef("c", 1, "b"),
	})
	assertCode(t, err, schema.ErrCodeCyclicDependency)

	engErr := err.(*schema.EngineError)
	cycle := engErr.Details["cycle"].([]string)
	if !reflect.DeepEqual(cycle, []string{"a", "b"}) {
		t.Errorf("expected cycle [a b] without downstream c, got %v", cycle)
	}
}

func TestComputePlan_NamesEveryCycle(t *testing.T) {
	_, err := computePlan([]*schema.TaskDefinition{
		taskDef("a", 1, "b"),
		taskDef("b", 1, "a"),
		taskDef("x", 1, "y"),
		taskDef("y", 1, "x"),
		taskDef("free", 1),
	})
	assertCode(t, err, schema.ErrCodeCyclicDependency)

	engErr := err.(*schema.EngineError)
	cycle := engErr.Details["cycle"].([]string)
	if !reflect.DeepEqual(cycle, []string{"a", "b", "x", "y"}) {
		t.Errorf("expected both cycles named, got %v", cycle)
	}
}

func TestComputePlan_LargerCycle(t *testing.T) {
	_, err := computePlan([]*schema.TaskDefinition{
		taskDef("a", 1),
		taskDef("b", 1, "a", "d"),
		taskDef("c", 1, "b"),
		taskDef("d", 1, "c"),
	})
	assertCode(t, err, schema.ErrCodeCyclicDependency)

	engErr := err.(*schema.EngineError)
	cycle := engErr.Details["cycle"].([]string)
	if !reflect.DeepEqual(cycle, []string{"b", "c", "d"}) {
		t.Errorf("expected cycle [b c d], got %v", cycle)
	}
}

// --- properties ---

// TestComputePlan_TopologicalOrderProperty generates random DAGs (edges
// only point at earlier tasks, so they are acyclic by construction) and
// checks that every dependency precedes its dependent and the order is
// a permutation of the registered ids.
func TestComputePlan_TopologicalOrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(rt, "n")

		defs := make([]*schema.TaskDefinition, 0, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("task%02d", i)
			var deps []string
			if i > 0 {
				depCount := rapid.IntRange(0, i).Draw(rt, fmt.Sprintf("deps%02d", i))
				picked := rapid.SampledFrom(permutation(i)).Draw(rt, fmt.Sprintf("pick%02d", i))
				for _, j := range picked[:depCount] {
					deps = append(deps, fmt.Sprintf("task%02d", j))
				}
			}
			defs = append(defs, &schema.TaskDefinition{
				ID:        id,
				Priority:  rapid.IntRange(1, 5).Draw(rt, fmt.Sprintf("prio%02d", i)),
				DependsOn: deps,
				Handler:   noopHandler(),
			})
		}

		plan, err := computePlan(defs)
		if err != nil {
			rt.Fatalf("unexpected error on acyclic input: %v", err)
		}
		if len(plan.order) != n {
			rt.Fatalf("order has %d entries, want %d", len(plan.order), n)
		}

		pos := make(map[string]int, n)
		for i, id := range plan.order {
			if _, dup := pos[id]; dup {
				rt.Fatalf("duplicate id %s in order", id)
			}
			pos[id] = i
		}
		for _, def := range defs {
			for _, dep := range def.DependsOn {
				if pos[dep] >= pos[def.ID] {
					rt.Fatalf("dependency %s does not precede %s: %v", dep, def.ID, plan.order)
				}
			}
		}
	})
}

// permutation returns a slice of candidate orderings of 0..n-1 for
// rapid to sample dependency sets from.
func permutation(n int) [][]int {
	base := make([]int, n)
	for i := range base {
		base[i] = i
	}
	reversed := make([]int, n)
	for i := range reversed {
		reversed[i] = n - 1 - i
	}
	return [][]int{base, reversed}
}
