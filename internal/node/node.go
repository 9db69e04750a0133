// Package node defines the runtime contract every executable node satisfies
// and the registry that maps graph node type names to factories.
package node

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nkranes/signalflow/internal/credentials"
	"github.com/nkranes/signalflow/pkg/schema"
)

// Values is a port-name keyed value mapping, used for both node inputs and
// node outputs.
type Values map[string]any

// PortSpec declares a single typed port on a node.
type PortSpec struct {
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

// ParamSpec describes one configurable node parameter. Consumed by editors
// and by node implementations; the engine does not interpret it.
type ParamSpec struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Default any    `json:"default,omitempty"`
}

// Category classifies a node family. CategoryIO specifically marks nodes
// whose outputs are surfaced through the executor's result callback.
type Category string

const (
	CategoryIO        Category = "io"
	CategoryMarket    Category = "market"
	CategoryIndicator Category = "indicator"
	CategoryLogic     Category = "logic"
	CategoryLLM       Category = "llm"
	CategoryFlow      Category = "flow"
)

// Definition is the static metadata of a node type: its declared ports,
// parameters, classification, and the credential keys it needs to execute.
type Definition struct {
	Description         string              `json:"description,omitempty"`
	Category            Category            `json:"category"`
	Inputs              map[string]PortSpec `json:"inputs,omitempty"`
	Outputs             map[string]PortSpec `json:"outputs,omitempty"`
	Params              []ParamSpec         `json:"params,omitempty"`
	RequiredCredentials []string            `json:"required_credentials,omitempty"`
}

// Context carries the graph-scoped environment handed to a node at
// construction time.
type Context struct {
	GraphID     string
	Graph       *schema.Graph
	NodeID      string
	Credentials credentials.Provider
}

// ProgressFunc receives advisory progress reports from a running node.
// Percent is in [0, 100]; text is free-form status.
type ProgressFunc func(nodeID string, percent float64, text string)

// Node is the behavioral contract of an executable node instance. Instances
// live for a single execution pass.
type Node interface {
	// ID returns the node's graph-document ID.
	ID() string

	// Definition returns the node type's static metadata.
	Definition() Definition

	// Run transforms declared inputs into declared outputs. It is the sole
	// execution entry point and may block on external I/O; it must honor
	// ctx and the cooperative stop flag at its own discretion.
	Run(ctx context.Context, inputs Values) (Values, error)

	// ValidateInputs normalizes or rejects inputs before Run. Errors here
	// are node-scoped failures, same as Run errors.
	ValidateInputs(inputs Values) (Values, error)

	// SetProgressFunc installs the progress sink. Nil disables reporting.
	SetProgressFunc(fn ProgressFunc)

	// Stop requests cooperative cancellation. It must not block.
	Stop()
}

// Base provides the common node plumbing: identity, params, graph context,
// progress reporting, and the cooperative stop flag. Concrete nodes embed
// Base and implement Run and Definition.
type Base struct {
	id     string
	params map[string]any
	nctx   Context

	mu       sync.Mutex
	progress ProgressFunc
	stopped  atomic.Bool
}

// NewBase constructs the embedded base for a node instance.
func NewBase(id string, params map[string]any, nctx Context) Base {
	if params == nil {
		params = map[string]any{}
	}
	return Base{id: id, params: params, nctx: nctx}
}

// ID returns the node's graph-document ID.
func (b *Base) ID() string { return b.id }

// Params returns the raw parameter map from the graph document.
func (b *Base) Params() map[string]any { return b.params }

// GraphContext returns the graph-scoped environment.
func (b *Base) GraphContext() Context { return b.nctx }

// ValidateInputs passes inputs through unchanged. Nodes that need
// normalization override it.
func (b *Base) ValidateInputs(inputs Values) (Values, error) {
	return inputs, nil
}

// SetProgressFunc installs the progress sink.
func (b *Base) SetProgressFunc(fn ProgressFunc) {
	b.mu.Lock()
	b.progress = fn
	b.mu.Unlock()
}

// Progress reports advisory progress to the installed sink, if any.
func (b *Base) Progress(percent float64, text string) {
	b.mu.Lock()
	fn := b.progress
	b.mu.Unlock()
	if fn != nil {
		fn(b.id, percent, text)
	}
}

// Stop flips the cooperative stop flag.
func (b *Base) Stop() {
	b.stopped.Store(true)
}

// Stopped reports whether cancellation was requested. Long-running nodes
// poll this between units of work.
func (b *Base) Stopped() bool {
	return b.stopped.Load()
}
