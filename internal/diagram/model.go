package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindTask  NodeKind = "task"
	NodeKindGated NodeKind = "gated" // task with a condition gate
	NodeKindStart NodeKind = "start"
	NodeKindEnd   NodeKind = "end"
)

// Virtual node ids framing the task graph.
const (
	startID = "__start__"
	endID   = "__end__"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is a single task in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries run state for a node.
type StatusOverlay struct {
	Status     string // from schema.TaskStatus
	DurationMs int64
	Attempts   int
	Error      string
}

// Edge is a dependency arrow between two tasks.
type Edge struct {
	From string
	To   string
}
