// Package engine builds an executable wiring from a graph document and a
// node registry and runs it to completion, producing per-node results.
//
// Execution is single-threaded and cooperative: the engine performs no I/O
// of its own and suspends only inside a node's Run. One memo table keyed by
// node ID guarantees each node runs at most once per pass, no matter whether
// the value resolver or the exec sequencer reaches it first.
package engine

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nkranes/signalflow/internal/credentials"
	"github.com/nkranes/signalflow/internal/node"
	"github.com/nkranes/signalflow/internal/types"
	"github.com/nkranes/signalflow/pkg/schema"
)

// Results maps node IDs to their output values. A node-scoped failure is
// recorded as {"error": message} under the failing node's ID.
type Results map[string]node.Values

// ResultFunc receives the outputs of IO-category nodes as they resolve.
type ResultFunc func(nodeID string, outputs node.Values)

// wire identifies the source end feeding a data input port.
type wire struct {
	fromNode string
	fromPort string
}

// Executor owns one execution pass over a graph document. Instances are
// single-use: construct, execute, discard.
type Executor struct {
	doc    *schema.Graph
	logger *slog.Logger
	creds  credentials.Provider

	nodes map[string]node.Node // node ID → live instance
	order []string             // node IDs in deterministic document order

	// Value-flow view: per-target input port wiring.
	dataIn map[string]map[string]wire
	// Control-flow view: per-source exec successors and incoming exec counts.
	execOut map[string][]string
	execIn  map[string]int
	// Outgoing accepted edge counts (data and exec), for sink detection.
	outgoing map[string]int

	// A single exec edge anywhere flips the whole run to the hybrid strategy.
	hasExec bool

	mu        sync.Mutex
	memo      map[string]*resolution
	resolving map[string]bool

	stopped    atomic.Bool
	resultFn   ResultFunc
	progressFn node.ProgressFunc
}

// resolution is the memoized outcome of one node run.
type resolution struct {
	outputs node.Values
	err     error
	// ownFailure marks errors thrown by the node itself, as opposed to an
	// upstream dependency failing. Only own failures become result entries.
	ownFailure bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithCredentials supplies the credential provider injected into each
// node's graph context. When set, required credentials are validated before
// any execution is permitted.
func WithCredentials(p credentials.Provider) Option {
	return func(e *Executor) { e.creds = p }
}

// NewExecutor instantiates every node of the document and resolves its
// edges into value-flow and control-flow wiring. Unknown node types and
// missing credentials are configuration errors and fail construction;
// unresolvable or type-incompatible edges are logged and skipped.
func NewExecutor(doc *schema.Graph, reg *node.Registry, opts ...Option) (*Executor, error) {
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph document is nil")
	}

	e := &Executor{
		doc:       doc,
		logger:    slog.Default(),
		nodes:     make(map[string]node.Node, len(doc.Nodes)),
		dataIn:    make(map[string]map[string]wire),
		execOut:   make(map[string][]string),
		execIn:    make(map[string]int),
		outgoing:  make(map[string]int),
		memo:      make(map[string]*resolution),
		resolving: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("graph_id", doc.ID))

	// Go maps are unordered; sorted IDs are the deterministic stand-in for
	// document order.
	e.order = make([]string, 0, len(doc.Nodes))
	for id := range doc.Nodes {
		e.order = append(e.order, id)
	}
	sort.Strings(e.order)

	// Instantiate one node per document entry. An unknown type is fatal.
	for _, id := range e.order {
		gn := doc.Nodes[id]
		reg, err := reg.Get(gn.Type)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown node type %q", gn.Type).WithNode(id).WithCause(err)
		}
		inst, err := reg.New(id, gn.Params, node.Context{
			GraphID:     doc.ID,
			Graph:       doc,
			NodeID:      id,
			Credentials: e.creds,
		})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "construct node %q: %s", id, err.Error()).WithNode(id).WithCause(err)
		}
		e.nodes[id] = inst
	}

	// Resolve edges. Bad edges degrade to a partial graph, never an error.
	for _, edge := range doc.Edges {
		e.acceptEdge(edge)
	}

	// Pre-flight credential validation, only when a provider was supplied.
	if e.creds != nil {
		if err := e.validateCredentials(); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// acceptEdge resolves one document edge against the instantiated nodes and
// their declared ports, records it in the matching view, or logs a warning
// and drops it.
func (e *Executor) acceptEdge(edge schema.GraphEdge) {
	fromNode, fromPort, err := schema.ParseEndpoint(edge.From)
	if err != nil {
		e.logger.Warn("skipping malformed edge", slog.String("from", edge.From), slog.String("to", edge.To), slog.String("error", err.Error()))
		return
	}
	toNode, toPort, err := schema.ParseEndpoint(edge.To)
	if err != nil {
		e.logger.Warn("skipping malformed edge", slog.String("from", edge.From), slog.String("to", edge.To), slog.String("error", err.Error()))
		return
	}

	src, ok := e.nodes[fromNode]
	if !ok {
		e.logger.Warn("skipping edge from unknown node", slog.String("from", edge.From), slog.String("to", edge.To))
		return
	}
	dst, ok := e.nodes[toNode]
	if !ok {
		e.logger.Warn("skipping edge to unknown node", slog.String("from", edge.From), slog.String("to", edge.To))
		return
	}

	outSpec, ok := src.Definition().Outputs[fromPort]
	if !ok {
		e.logger.Warn("skipping edge from undeclared output port", slog.String("from", edge.From), slog.String("to", edge.To))
		return
	}
	inSpec, ok := dst.Definition().Inputs[toPort]
	if !ok {
		e.logger.Warn("skipping edge to undeclared input port", slog.String("from", edge.From), slog.String("to", edge.To))
		return
	}

	srcKey := types.Canonical(outSpec.Type)
	dstKey := types.Canonical(inSpec.Type)
	if !types.Compatible(srcKey, dstKey) {
		e.logger.Warn("skipping edge with incompatible socket types",
			slog.String("from", edge.From), slog.String("to", edge.To),
			slog.String("source_type", string(srcKey)), slog.String("target_type", string(dstKey)))
		return
	}

	if srcKey == types.Exec {
		e.execOut[fromNode] = append(e.execOut[fromNode], toNode)
		e.execIn[toNode]++
		e.hasExec = true
	} else {
		if e.dataIn[toNode] == nil {
			e.dataIn[toNode] = make(map[string]wire)
		}
		e.dataIn[toNode][toPort] = wire{fromNode: fromNode, fromPort: fromPort}
	}
	e.outgoing[fromNode]++
}

// validateCredentials aggregates every required credential key missing from
// the provider and fails with one error naming all of them.
func (e *Executor) validateCredentials() error {
	seen := make(map[string]bool)
	var missing []string
	for _, id := range e.order {
		for _, key := range e.nodes[id].Definition().RequiredCredentials {
			if seen[key] {
				continue
			}
			seen[key] = true
			if !e.creds.Has(key) {
				missing = append(missing, key)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return schema.NewErrorf(schema.ErrCodeCredentials,
		"missing required credentials: %s", strings.Join(missing, ", ")).
		WithDetails(map[string]any{"missing": missing})
}

// SetProgressFunc installs the progress sink and fans it out to every node
// instance.
func (e *Executor) SetProgressFunc(fn node.ProgressFunc) {
	e.progressFn = fn
	for _, n := range e.nodes {
		n.SetProgressFunc(fn)
	}
}

// SetResultFunc installs the result sink invoked for IO-category nodes.
func (e *Executor) SetResultFunc(fn ResultFunc) {
	e.resultFn = fn
}

// Stop requests cooperative cancellation: no further targets or start nodes
// are begun, every live node instance is signalled, and the resolver memo
// is reset. It does not interrupt a Run already in flight.
func (e *Executor) Stop() {
	e.stopped.Store(true)
	for _, n := range e.nodes {
		n.Stop()
	}
	e.mu.Lock()
	e.memo = make(map[string]*resolution)
	e.resolving = make(map[string]bool)
	e.mu.Unlock()
}

// sinks returns the IDs of nodes with no outgoing accepted edge, in
// deterministic order. An edgeless or fully-cyclic graph has no sinks and
// degenerates to evaluating every node independently.
func (e *Executor) sinks() []string {
	var out []string
	for _, id := range e.order {
		if e.outgoing[id] == 0 {
			out = append(out, id)
		}
	}
	return out
}

// startNodes returns the hybrid strategy's entry points: nodes declaring at
// least one exec output port with no incoming exec edge.
func (e *Executor) startNodes() []string {
	var out []string
	for _, id := range e.order {
		if e.execIn[id] > 0 {
			continue
		}
		for _, spec := range e.nodes[id].Definition().Outputs {
			if types.Canonical(spec.Type) == types.Exec {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// logWith returns the executor logger enriched with a node correlation ID.
func (e *Executor) logWith(nodeID string) *slog.Logger {
	return e.logger.With(slog.String("node_id", nodeID))
}
