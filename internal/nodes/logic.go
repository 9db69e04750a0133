package nodes

import (
	"context"

	"github.com/nkranes/signalflow/internal/expressions"
	"github.com/nkranes/signalflow/internal/node"
	"github.com/nkranes/signalflow/pkg/schema"
)

var filterDefinition = node.Definition{
	Description: "Evaluates an expr predicate over the input value.",
	Category:    node.CategoryLogic,
	Inputs: map[string]node.PortSpec{
		"value": {Type: "any", Optional: true},
	},
	Outputs: map[string]node.PortSpec{
		"pass":  {Type: "boolean"},
		"value": {Type: "any"},
	},
	Params: []node.ParamSpec{
		{Name: "expression", Type: "string"},
	},
}

// filterNode gates a value on an expr-lang predicate. The expression sees
// the input as `value` plus every node param as a top-level variable.
type filterNode struct {
	node.Base
	engine *expressions.ExprEngine
}

func filterFactory(engine *expressions.ExprEngine) node.Factory {
	return func(id string, params map[string]any, nctx node.Context) (node.Node, error) {
		return &filterNode{Base: node.NewBase(id, params, nctx), engine: engine}, nil
	}
}

func (n *filterNode) Definition() node.Definition { return filterDefinition }

func (n *filterNode) Run(ctx context.Context, inputs node.Values) (node.Values, error) {
	expression := stringParam(n.Params(), "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "param \"expression\" is required")
	}

	env := make(map[string]any, len(n.Params())+1)
	for k, v := range n.Params() {
		env[k] = v
	}
	env["value"] = inputs["value"]

	out, err := n.engine.Evaluate(ctx, expression, env)
	if err != nil {
		return nil, err
	}

	pass, ok := out.(bool)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"filter expression %q returned %T, want boolean", expression, out)
	}

	result := node.Values{"pass": pass}
	if pass {
		result["value"] = inputs["value"]
	}
	return result, nil
}

var branchDefinition = node.Definition{
	Description: "CEL-gated branch point for exec-sequenced graphs.",
	Category:    node.CategoryFlow,
	Inputs: map[string]node.PortSpec{
		"exec":  {Type: "exec", Optional: true},
		"value": {Type: "any", Optional: true},
	},
	Outputs: map[string]node.PortSpec{
		"done":  {Type: "exec"},
		"pass":  {Type: "boolean"},
		"value": {Type: "any"},
	},
	Params: []node.ParamSpec{
		{Name: "condition", Type: "string"},
	},
}

// branchNode evaluates a CEL condition against its inputs and params. Exec
// edges carry ordering only; the verdict is exposed on the data outputs.
type branchNode struct {
	node.Base
	engine *expressions.CELEngine
}

func branchFactory(engine *expressions.CELEngine) node.Factory {
	return func(id string, params map[string]any, nctx node.Context) (node.Node, error) {
		return &branchNode{Base: node.NewBase(id, params, nctx), engine: engine}, nil
	}
}

func (n *branchNode) Definition() node.Definition { return branchDefinition }

func (n *branchNode) Run(ctx context.Context, inputs node.Values) (node.Values, error) {
	condition := stringParam(n.Params(), "condition", "")
	if condition == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "param \"condition\" is required")
	}

	out, err := n.engine.Evaluate(ctx, condition, map[string]any{
		"inputs": map[string]any(inputs),
		"params": n.Params(),
	})
	if err != nil {
		return nil, err
	}

	pass, ok := out.(bool)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"condition %q returned %T, want boolean", condition, out)
	}

	return node.Values{"pass": pass, "value": inputs["value"]}, nil
}

var transformDefinition = node.Definition{
	Description: "Reshapes the input with a jq expression. The input is bound to .value.",
	Category:    node.CategoryLogic,
	Inputs: map[string]node.PortSpec{
		"value": {Type: "any", Optional: true},
	},
	Outputs: map[string]node.PortSpec{
		"value": {Type: "any"},
	},
	Params: []node.ParamSpec{
		{Name: "expression", Type: "string", Default: ".value"},
	},
}

type transformNode struct {
	node.Base
	engine *expressions.GoJQEngine
}

func transformFactory(engine *expressions.GoJQEngine) node.Factory {
	return func(id string, params map[string]any, nctx node.Context) (node.Node, error) {
		return &transformNode{Base: node.NewBase(id, params, nctx), engine: engine}, nil
	}
}

func (n *transformNode) Definition() node.Definition { return transformDefinition }

func (n *transformNode) Run(ctx context.Context, inputs node.Values) (node.Values, error) {
	expression := stringParam(n.Params(), "expression", ".value")

	out, err := n.engine.Evaluate(ctx, expression, map[string]any{"value": inputs["value"]})
	if err != nil {
		return nil, err
	}
	return node.Values{"value": out}, nil
}

var execStartDefinition = node.Definition{
	Description: "Entry point emitting the exec signal that starts a sequence.",
	Category:    node.CategoryFlow,
	Outputs: map[string]node.PortSpec{
		"out": {Type: "exec"},
	},
}

type execStartNode struct {
	node.Base
}

func execStartFactory() node.Factory {
	return func(id string, params map[string]any, nctx node.Context) (node.Node, error) {
		return &execStartNode{Base: node.NewBase(id, params, nctx)}, nil
	}
}

func (n *execStartNode) Definition() node.Definition { return execStartDefinition }

func (n *execStartNode) Run(_ context.Context, _ node.Values) (node.Values, error) {
	return node.Values{}, nil
}
