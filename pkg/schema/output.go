package schema

// OutputKind discriminates the shapes a task handler may produce.
type OutputKind string

const (
	OutputMap    OutputKind = "map"
	OutputList   OutputKind = "list"
	OutputScalar OutputKind = "scalar"
	OutputError  OutputKind = "error"
)

// TaskOutput is the canonical handler result. Exactly one value field is
// populated, selected by Kind, so downstream tasks never shape-sniff.
type TaskOutput struct {
	Kind   OutputKind     `json:"kind"`
	Map    map[string]any `json:"map,omitempty"`
	List   []any          `json:"list,omitempty"`
	Scalar any            `json:"scalar,omitempty"`
	Reason string         `json:"reason,omitempty"` // set when Kind == OutputError
}

// MapOutput wraps a keyed result set.
func MapOutput(m map[string]any) TaskOutput {
	return TaskOutput{Kind: OutputMap, Map: m}
}

// ListOutput wraps an ordered result set.
func ListOutput(l []any) TaskOutput {
	return TaskOutput{Kind: OutputList, List: l}
}

// ScalarOutput wraps a single value.
func ScalarOutput(v any) TaskOutput {
	return TaskOutput{Kind: OutputScalar, Scalar: v}
}

// ErrorOutput wraps a handler-reported failure reason.
func ErrorOutput(reason string) TaskOutput {
	return TaskOutput{Kind: OutputError, Reason: reason}
}

// Value returns the populated variant as an untyped value. Error outputs
// return their reason string.
func (o TaskOutput) Value() any {
	switch o.Kind {
	case OutputMap:
		return o.Map
	case OutputList:
		return o.List
	case OutputScalar:
		return o.Scalar
	case OutputError:
		return o.Reason
	}
	return nil
}

// IsError reports whether the output carries a failure.
func (o TaskOutput) IsError() bool {
	return o.Kind == OutputError
}

// IsZero reports whether the output was never set.
func (o TaskOutput) IsZero() bool {
	return o.Kind == ""
}
