package expressions

import (
	"context"
	"strings"
)

// Conditions evaluates task gate conditions. The dialect is selected by
// prefix: "cel:" and "jq:" route to the matching engine, everything else
// is treated as an expr expression.
type Conditions struct {
	expr *ExprEngine
	cel  *CELEngine
	jq   *GoJQEngine
}

// NewConditions creates a condition evaluator with all three engines.
func NewConditions() (*Conditions, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Conditions{
		expr: NewExprEngine(),
		cel:  celEngine,
		jq:   NewGoJQEngine(),
	}, nil
}

// Evaluate runs the condition against the scope and reduces the result to
// a boolean. Empty conditions are vacuously true.
func (c *Conditions) Evaluate(ctx context.Context, condition string, scope *Scope) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}

	var engine Engine = c.expr
	switch {
	case strings.HasPrefix(condition, "cel:"):
		engine = c.cel
		condition = strings.TrimSpace(strings.TrimPrefix(condition, "cel:"))
	case strings.HasPrefix(condition, "jq:"):
		engine = c.jq
		condition = strings.TrimSpace(strings.TrimPrefix(condition, "jq:"))
	}

	out, err := engine.Evaluate(ctx, condition, scope.Data())
	if err != nil {
		return false, err
	}

	return Truthy(out), nil
}

// Truthy reduces an expression result to a boolean. Booleans pass through;
// nil, zero numbers, empty strings, and empty collections are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int32:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	case float32:
		return val != 0
	case float64:
		return val != 0
	case map[string]any:
		return len(val) > 0
	case []any:
		return len(val) > 0
	}
	return true
}
