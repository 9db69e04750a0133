package node

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nkranes/signalflow/internal/types"
	"github.com/nkranes/signalflow/pkg/schema"
)

// Factory constructs a node instance for one execution pass.
type Factory func(id string, params map[string]any, nctx Context) (Node, error)

// Registration pairs a node type's static definition with its factory.
type Registration struct {
	Definition Definition
	New        Factory
}

// Registry is the thread-safe mapping from graph node type names to
// registrations. Registration is explicit: there is no filesystem scanning,
// and duplicate names are rejected rather than overwritten.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds a node type. Returns an error on empty name, nil factory,
// or duplicate registration.
func (r *Registry) Register(name string, def Definition, factory Factory) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "node type name is empty")
	}
	if factory == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "node type %q has nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "node type %q already registered", name)
	}
	r.entries[name] = Registration{Definition: def, New: factory}
	return nil
}

// Get retrieves a registration by type name.
func (r *Registry) Get(name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[name]
	if !ok {
		return Registration{}, schema.NewErrorf(schema.ErrCodeNotFound, "node type %q not registered", name)
	}
	return reg, nil
}

// Has checks if a node type is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Count returns the number of registered node types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Types returns all registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDefinitions checks every declared port type of every registered
// node against the socket type system and returns one diagnostic per
// unknown type. It never fails; the caller decides what to do with the
// diagnostics.
func ValidateDefinitions(r *Registry) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var diags []string
	for _, name := range names {
		def := r.entries[name].Definition
		for _, port := range sortedPortNames(def.Inputs) {
			if !types.Known(def.Inputs[port].Type) {
				diags = append(diags, fmt.Sprintf("node type %q: input %q has unknown socket type %q", name, port, def.Inputs[port].Type))
			}
		}
		for _, port := range sortedPortNames(def.Outputs) {
			if !types.Known(def.Outputs[port].Type) {
				diags = append(diags, fmt.Sprintf("node type %q: output %q has unknown socket type %q", name, port, def.Outputs[port].Type))
			}
		}
	}
	return diags
}

// sortedPortNames returns port names in sorted order for deterministic diagnostics.
func sortedPortNames(ports map[string]PortSpec) []string {
	names := make([]string, 0, len(ports))
	for name := range ports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiredKeysForGraph walks every node of a document and returns the
// deduplicated union of credential keys its node types require. Unknown
// node types contribute nothing; the executor rejects them separately.
func RequiredKeysForGraph(doc *schema.Graph, r *Registry) []string {
	seen := make(map[string]bool)
	keys := make([]string, 0)
	for _, gn := range doc.Nodes {
		reg, err := r.Get(gn.Type)
		if err != nil {
			continue
		}
		for _, key := range reg.Definition.RequiredCredentials {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// Process-wide default registry with at-most-once lazy initialization.
// Hosts normally pass a registry into the executor explicitly; the default
// exists for embedders that want a shared instance.
var (
	defaultMu  sync.Mutex
	defaultReg *Registry
)

// Default returns the process-wide registry, creating it on first use.
// Concurrent first callers observe the same instance.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultReg == nil {
		defaultReg = NewRegistry()
	}
	return defaultReg
}

// SetDefault replaces the process-wide registry. Intended for hosts that
// build a fully-populated registry at startup, and for tests.
func SetDefault(r *Registry) {
	defaultMu.Lock()
	defaultReg = r
	defaultMu.Unlock()
}

// ResetDefault clears the process-wide registry so the next Default call
// re-initializes. Test helper.
func ResetDefault() {
	defaultMu.Lock()
	defaultReg = nil
	defaultMu.Unlock()
}
