// Package nodes contains the built-in node implementations: market-data
// fetchers, indicators, expression-driven logic nodes, LLM calls, and
// display sinks. Registration is explicit — hosts call RegisterBuiltins
// once at startup.
package nodes

import (
	"encoding/json"
	"log/slog"

	"github.com/nkranes/signalflow/internal/expressions"
	"github.com/nkranes/signalflow/internal/node"
)

// Config carries the shared dependencies of the built-in nodes.
type Config struct {
	HTTP   HTTPConfig
	Logger *slog.Logger
}

// RegisterBuiltins registers every built-in node type in the given
// registry. Duplicate registration (calling this twice on one registry)
// fails on the first collision.
func RegisterBuiltins(reg *node.Registry, cfg Config) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	exprEngine := expressions.NewExprEngine()
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}
	jqEngine := expressions.NewGoJQEngine()

	type entry struct {
		name    string
		def     node.Definition
		factory node.Factory
	}

	entries := []entry{
		{"ticker.fetch", tickerFetchDefinition, tickerFetchFactory(cfg.HTTP)},
		{"indicator.sma", smaDefinition, smaFactory()},
		{"filter.expr", filterDefinition, filterFactory(exprEngine)},
		{"branch.condition", branchDefinition, branchFactory(celEngine)},
		{"transform.jq", transformDefinition, transformFactory(jqEngine)},
		{"llm.complete", llmDefinition, llmFactory(cfg.HTTP)},
		{"display.table", displayTableDefinition, displayTableFactory()},
		{"display.log", displayLogDefinition, displayLogFactory(cfg.Logger)},
		{"exec.start", execStartDefinition, execStartFactory()},
	}

	for _, e := range entries {
		if err := reg.Register(e.name, e.def, e.factory); err != nil {
			return err
		}
	}
	return nil
}

// --- param helpers shared by all node files ---

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
