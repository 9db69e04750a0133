package engine

import (
	"context"
	"log/slog"

	"github.com/nkranes/signalflow/internal/node"
)

// Execute runs the graph to completion and returns the per-node results
// map. The strategy is chosen once for the whole graph: pure value-flow
// when no exec edge was accepted, hybrid otherwise.
//
// Execute only returns an error for configuration problems; node failures
// are visible as {"error": message} entries and unreachable nodes as
// missing keys.
func (e *Executor) Execute(ctx context.Context) (Results, error) {
	results := make(Results, len(e.order))

	if e.hasExec {
		e.executeHybrid(ctx, results)
	} else {
		e.executeDataflow(ctx, results)
	}

	return results, nil
}

// executeDataflow is the pure value-flow strategy: pull each sink, then
// sweep every node not yet resolved.
func (e *Executor) executeDataflow(ctx context.Context, results Results) {
	targets := e.sinks()
	if len(targets) == 0 {
		// No sinks (edgeless or fully connected in cycles): evaluate every
		// node independently.
		targets = e.order
	}

	for _, id := range targets {
		if e.stopped.Load() || ctx.Err() != nil {
			e.logger.Info("execution stopped before target", slog.String("node_id", id))
			return
		}
		outputs, err := e.resolve(ctx, id, results)
		if err != nil {
			// Own failures were already recorded by the resolver; inherited
			// ones leave the target absent.
			continue
		}
		results[id] = outputs
	}

	e.sweep(ctx, results)
}

// executeHybrid runs the control-flow pass over every start node, then
// collects values for the whole graph exactly like the pure strategy's
// sweep. Memoization guarantees a node reached by both passes runs once.
func (e *Executor) executeHybrid(ctx context.Context, results Results) {
	visited := make(map[string]bool, len(e.order))
	for _, id := range e.startNodes() {
		if e.stopped.Load() || ctx.Err() != nil {
			e.logger.Info("execution stopped before start node", slog.String("node_id", id))
			return
		}
		e.sequence(ctx, id, visited, results)
	}

	e.sweep(ctx, results)
}

// sequence is the push-based control-flow walk: run the node for its side
// effects, then follow its outgoing exec edges in acceptance order. The
// visited set guards against exec cycles; the shared memo guards against
// re-running nodes the value resolver already reached.
func (e *Executor) sequence(ctx context.Context, id string, visited map[string]bool, results Results) {
	if visited[id] {
		return
	}
	visited[id] = true

	if _, err := e.resolve(ctx, id, results); err != nil {
		// A failed node does not propagate its exec signal.
		return
	}
	for _, next := range e.execOut[id] {
		e.sequence(ctx, next, visited, results)
	}
}

// sweep pulls every node not yet present in results. Nodes that cannot be
// resolved here are silently absent — only their own failures (already
// recorded by the resolver) surface.
func (e *Executor) sweep(ctx context.Context, results Results) {
	for _, id := range e.order {
		if e.stopped.Load() || ctx.Err() != nil {
			return
		}
		if _, done := results[id]; done {
			continue
		}
		outputs, err := e.resolve(ctx, id, results)
		if err != nil {
			continue
		}
		if _, done := results[id]; !done {
			results[id] = outputs
		}
	}
}

// Nodes exposes the live node instances, keyed by ID. Read-only view for
// hosts that need to inspect instances between construction and execution.
func (e *Executor) Nodes() map[string]node.Node {
	out := make(map[string]node.Node, len(e.nodes))
	for id, n := range e.nodes {
		out[id] = n
	}
	return out
}
