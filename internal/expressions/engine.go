// Package expressions provides the expression engines backing the logic
// node family: Expr for indicator predicates, CEL for branch conditions,
// and jq for JSON reshaping. All engines cache compiled programs and are
// safe for concurrent use.
package expressions

import "context"

// Engine evaluates an expression against the data visible to a node:
// its resolved input values and its document params.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
