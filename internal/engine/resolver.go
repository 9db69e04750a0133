package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/nkranes/signalflow/internal/logging"
	"github.com/nkranes/signalflow/internal/node"
	"github.com/nkranes/signalflow/pkg/schema"
)

// resolve pulls a node's outputs, recursively resolving every data
// dependency first. The outcome is memoized per node ID, so diamond fan-in
// and the exec sequencer all share a single underlying Run.
//
// A failure thrown by the node itself is recorded into results as an
// {"error": message} entry the moment it happens; a failure inherited from
// an upstream dependency only propagates, leaving the dependent node absent
// from results.
func (e *Executor) resolve(ctx context.Context, id string, results Results) (node.Values, error) {
	e.mu.Lock()
	if r, ok := e.memo[id]; ok {
		e.mu.Unlock()
		return r.outputs, r.err
	}
	if e.resolving[id] {
		e.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "dependency cycle involving node %q", id).WithNode(id)
	}
	e.resolving[id] = true
	e.mu.Unlock()

	r := e.runOnce(ctx, id, results)

	e.mu.Lock()
	delete(e.resolving, id)
	e.memo[id] = r
	e.mu.Unlock()

	return r.outputs, r.err
}

// runOnce gathers inputs, runs the node, and classifies the outcome.
func (e *Executor) runOnce(ctx context.Context, id string, results Results) *resolution {
	n := e.nodes[id]

	inputs, err := e.gatherInputs(ctx, id, results)
	if err != nil {
		// Upstream failure or cycle — this node never ran.
		return &resolution{err: err}
	}

	runCtx := logging.WithNodeID(logging.WithGraphID(ctx, e.doc.ID), id)

	inputs, err = n.ValidateInputs(inputs)
	if err != nil {
		return e.failNode(runCtx, id, err, results)
	}

	outputs, err := n.Run(runCtx, inputs)
	if err != nil {
		return e.failNode(runCtx, id, err, results)
	}
	if outputs == nil {
		outputs = node.Values{}
	}

	// IO nodes surface their outputs through the result callback exactly
	// once, immediately after their value is obtained.
	if e.resultFn != nil && n.Definition().Category == node.CategoryIO {
		e.resultFn(id, outputs)
	}

	return &resolution{outputs: outputs}
}

// failNode converts a node-scoped failure to data: a log line, an error
// entry in the results map, and a memoized error for downstream consumers.
func (e *Executor) failNode(ctx context.Context, id string, err error, results Results) *resolution {
	logging.LogWith(ctx, e.logger).Error("node execution failed", slog.String("error", err.Error()))
	results[id] = node.Values{"error": err.Error()}
	return &resolution{
		err:        schema.NewErrorf(schema.ErrCodeNodeFailed, "%s", err.Error()).WithNode(id).WithCause(err),
		ownFailure: true,
	}
}

// gatherInputs resolves every node feeding this node's data inputs and
// assembles the input map. Unconnected ports are simply absent; the node's
// ValidateInputs decides whether that is acceptable.
func (e *Executor) gatherInputs(ctx context.Context, id string, results Results) (node.Values, error) {
	wires := e.dataIn[id]
	inputs := make(node.Values, len(wires))

	ports := make([]string, 0, len(wires))
	for port := range wires {
		ports = append(ports, port)
	}
	sort.Strings(ports)

	for _, port := range ports {
		w := wires[port]
		upstream, err := e.resolve(ctx, w.fromNode, results)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"input %q depends on failed node %q", port, w.fromNode).WithNode(id).WithCause(err)
		}
		if v, ok := upstream[w.fromPort]; ok {
			inputs[port] = v
		}
	}
	return inputs, nil
}
