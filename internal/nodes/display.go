package nodes

import (
	"context"
	"log/slog"

	"github.com/nkranes/signalflow/internal/node"
)

var displayTableDefinition = node.Definition{
	Description: "Terminal sink surfacing a tabular value through the result callback.",
	Category:    node.CategoryIO,
	Inputs: map[string]node.PortSpec{
		"value": {Type: "any", Optional: true},
		"title": {Type: "string", Optional: true},
	},
	Outputs: map[string]node.PortSpec{
		"value": {Type: "any"},
		"title": {Type: "string"},
	},
}

// displayTableNode echoes its input to its output. The executor surfaces
// CategoryIO results through the result callback as soon as the node runs.
type displayTableNode struct {
	node.Base
}

func displayTableFactory() node.Factory {
	return func(id string, params map[string]any, nctx node.Context) (node.Node, error) {
		return &displayTableNode{Base: node.NewBase(id, params, nctx)}, nil
	}
}

func (n *displayTableNode) Definition() node.Definition { return displayTableDefinition }

func (n *displayTableNode) Run(_ context.Context, inputs node.Values) (node.Values, error) {
	out := node.Values{"value": inputs["value"]}
	if title, ok := inputs["title"].(string); ok && title != "" {
		out["title"] = title
	}
	return out, nil
}

var displayLogDefinition = node.Definition{
	Description: "Logging sink writing its input to the structured log.",
	Category:    node.CategoryIO,
	Inputs: map[string]node.PortSpec{
		"value": {Type: "any", Optional: true},
	},
	Outputs: map[string]node.PortSpec{
		"value": {Type: "any"},
	},
	Params: []node.ParamSpec{
		{Name: "label", Type: "string"},
		{Name: "level", Type: "string", Default: "info"},
	},
}

type displayLogNode struct {
	node.Base
	logger *slog.Logger
}

func displayLogFactory(logger *slog.Logger) node.Factory {
	return func(id string, params map[string]any, nctx node.Context) (node.Node, error) {
		return &displayLogNode{Base: node.NewBase(id, params, nctx), logger: logger}, nil
	}
}

func (n *displayLogNode) Definition() node.Definition { return displayLogDefinition }

func (n *displayLogNode) Run(ctx context.Context, inputs node.Values) (node.Values, error) {
	label := stringParam(n.Params(), "label", n.ID())

	level := slog.LevelInfo
	switch stringParam(n.Params(), "level", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	n.logger.Log(ctx, level, "display",
		slog.String("label", label),
		slog.Any("value", inputs["value"]))

	return node.Values{"value": inputs["value"]}, nil
}
