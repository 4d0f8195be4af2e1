package diagram

import (
	"fmt"
	"sort"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// Build constructs a Model from task definitions and optional per-task
// results. Topology is computed locally, so bare definitions diagram
// fine: an imported workflow never has to be registered or run first.
func Build(title string, defs []schema.TaskDefinition, results map[string]*schema.TaskResult) (*Model, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("diagram: no tasks")
	}

	byID := make(map[string]*schema.TaskDefinition, len(defs))
	for i := range defs {
		def := &defs[i]
		if def.ID == "" {
			return nil, fmt.Errorf("diagram: task %d has no id", i)
		}
		if _, dup := byID[def.ID]; dup {
			return nil, fmt.Errorf("diagram: duplicate task id %q", def.ID)
		}
		byID[def.ID] = def
	}
	for _, def := range byID {
		for _, dep := range def.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("diagram: task %q depends on unknown task %q", def.ID, dep)
			}
		}
	}

	levels, err := layer(byID)
	if err != nil {
		return nil, err
	}

	nodes := make([]*Node, 0, len(defs)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	for _, level := range levels {
		for _, id := range level {
			nodes = append(nodes, taskNode(byID[id], results[id]))
		}
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	return &Model{
		Title:  title,
		Nodes:  nodes,
		Edges:  buildEdges(byID),
		Levels: wrapLevels(levels),
	}, nil
}

func taskNode(def *schema.TaskDefinition, res *schema.TaskResult) *Node {
	node := &Node{ID: def.ID, Label: def.ID, Kind: NodeKindTask}
	if def.Condition != "" {
		node.Kind = NodeKindGated
	}
	if res != nil {
		node.Status = &StatusOverlay{
			Status:     string(res.Status),
			DurationMs: res.Duration.Milliseconds(),
			Attempts:   res.Attempts,
			Error:      res.Error,
		}
	}
	return node
}

// layer groups tasks into dependency waves: every task lands one level
// below its deepest dependency. Within a level, run order (priority, then
// id) decides placement.
func layer(byID map[string]*schema.TaskDefinition) ([][]string, error) {
	indeg := make(map[string]int, len(byID))
	dependents := make(map[string][]string, len(byID))
	for id, def := range byID {
		indeg[id] = len(def.DependsOn)
		for _, dep := range def.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var current []string
	for id, n := range indeg {
		if n == 0 {
			current = append(current, id)
		}
	}

	var levels [][]string
	placed := 0
	for len(current) > 0 {
		sortLevel(byID, current)
		levels = append(levels, current)
		placed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range dependents[id] {
				indeg[dependent]--
				if indeg[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
	if placed != len(byID) {
		return nil, fmt.Errorf("diagram: dependency cycle among %d tasks", len(byID)-placed)
	}
	return levels, nil
}

func sortLevel(byID map[string]*schema.TaskDefinition, level []string) {
	sort.Slice(level, func(i, j int) bool {
		a, b := byID[level[i]], byID[level[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
}

// buildEdges lists dependency arrows plus the virtual frame: start feeds
// every root, every leaf feeds end. Sorted for deterministic renders.
func buildEdges(byID map[string]*schema.TaskDefinition) []Edge {
	hasDependent := make(map[string]bool, len(byID))
	var edges []Edge
	for _, def := range byID {
		for _, dep := range def.DependsOn {
			edges = append(edges, Edge{From: dep, To: def.ID})
			hasDependent[dep] = true
		}
	}
	for id, def := range byID {
		if len(def.DependsOn) == 0 {
			edges = append(edges, Edge{From: startID, To: id})
		}
		if !hasDependent[id] {
			edges = append(edges, Edge{From: id, To: endID})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

func wrapLevels(levels [][]string) [][]string {
	wrapped := make([][]string, 0, len(levels)+2)
	wrapped = append(wrapped, []string{startID})
	wrapped = append(wrapped, levels...)
	wrapped = append(wrapped, []string{endID})
	return wrapped
}
