package expressions

import "context"

// Engine evaluates expressions against workflow data.
// Three implementations: Expr (conditions, default dialect), CEL (cel:
// prefixed conditions), GoJQ (jq: prefixed conditions and transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
