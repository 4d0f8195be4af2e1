package orchestrator

import (
	"sort"
	"strings"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// executionPlan is the computed layout for one run: the full topological
// order used by sequential mode plus the dependency layers used by
// parallel mode.
type executionPlan struct {
	order  []string
	layers [][]string
}

// taskRank orders ready tasks deterministically: ascending priority
// first, then the order in which tasks were registered.
type taskRank struct {
	priority int
	index    int
}

func rankLess(a, b taskRank) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.index < b.index
}

func sortByRank(ids []string, rank map[string]taskRank) {
	sort.SliceStable(ids, func(i, j int) bool {
		return rankLess(rank[ids[i]], rank[ids[j]])
	})
}

// computePlan runs Kahn's algorithm over the registered tasks. defs must
// be in registration order. Unknown dependencies and cycles abort the
// plan; no partial order is ever returned.
func computePlan(defs []*schema.TaskDefinition) (*executionPlan, error) {
	if len(defs) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "no tasks registered")
	}

	rank := make(map[string]taskRank, len(defs))
	deps := make(map[string][]string, len(defs))
	dependents := make(map[string][]string, len(defs))

	for i, def := range defs {
		rank[def.ID] = taskRank{priority: def.Priority, index: i}
	}

	for _, def := range defs {
		for _, dep := range def.DependsOn {
			if _, ok := rank[dep]; !ok {
				return nil, schema.NewErrorf(schema.ErrCodeUnknownTask,
					"task %s depends on unknown task %q", def.ID, dep).WithTask(def.ID)
			}
			dependents[dep] = append(dependents[dep], def.ID)
		}
		deps[def.ID] = def.DependsOn
	}

	inDegree := make(map[string]int, len(defs))
	for _, def := range defs {
		inDegree[def.ID] = len(def.DependsOn)
	}

	ready := make([]string, 0, len(defs))
	for _, def := range defs {
		if inDegree[def.ID] == 0 {
			ready = append(ready, def.ID)
		}
	}
	sortByRank(ready, rank)

	order := make([]string, 0, len(defs))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := false
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
				released = true
			}
		}
		if released {
			sortByRank(ready, rank)
		}
	}

	if len(order) != len(defs) {
		cycle := cycleMembers(defs)
		return nil, schema.NewErrorf(schema.ErrCodeCyclicDependency,
			"dependency cycle detected among tasks: %s", strings.Join(cycle, ", ")).
			WithDetails(map[string]any{"cycle": cycle})
	}

	return &executionPlan{order: order, layers: computeLayers(order, deps)}, nil
}

// computeLayers groups tasks by topological depth: a task's layer is one
// past its deepest dependency. Tasks in the same layer share no edges
// and may run concurrently.
func computeLayers(order []string, deps map[string][]string) [][]string {
	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, id := range order {
		d := 0
		for _, dep := range deps[id] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	layers := make([][]string, maxDepth+1)
	for _, id := range order {
		layers[depth[id]] = append(layers[depth[id]], id)
	}
	return layers
}

// cycleMembers returns exactly the task ids that sit on a dependency
// cycle, sorted. It finds strongly connected components over the
// dependency edges (Tarjan); every component with more than one member
// is cyclic, since self-dependencies are rejected at registration.
func cycleMembers(defs []*schema.TaskDefinition) []string {
	adj := make(map[string][]string, len(defs))
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		adj[def.ID] = def.DependsOn
		ids = append(ids, def.ID)
	}

	index := make(map[string]int, len(defs))
	low := make(map[string]int, len(defs))
	onStack := make(map[string]bool, len(defs))
	stack := make([]string, 0, len(defs))
	next := 0
	var members []string

	var connect func(id string)
	connect = func(id string) {
		index[id] = next
		low[id] = next
		next++
		stack = append(stack, id)
		onStack[id] = true

		for _, dep := range adj[id] {
			if _, seen := index[dep]; !seen {
				connect(dep)
				if low[dep] < low[id] {
					low[id] = low[dep]
				}
			} else if onStack[dep] {
				if index[dep] < low[id] {
					low[id] = index[dep]
				}
			}
		}

		if low[id] != index[id] {
			return
		}
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
			members = append(members, component...)
		}
	}

	for _, id := range ids {
		if _, seen := index[id]; !seen {
			connect(id)
		}
	}

	sort.Strings(members)
	return members
}
