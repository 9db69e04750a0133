// Package types implements the socket type system: canonical type keys,
// the alias table for legacy type names, and the pairwise compatibility
// rule the engine uses to accept or reject an edge.
package types

import (
	"strings"
	"sync"
)

// Key is a canonical, alias-resolved socket type identifier.
type Key string

// Kind discriminates data sockets from exec sockets. Exec sockets carry
// sequencing signal only and form a closed type universe: they never unify
// with data types, not even with Any.
type Kind int

const (
	KindData Kind = iota
	KindExec
)

// Canonical socket keys.
const (
	Any          Key = "any"
	Exec         Key = "exec"
	String       Key = "string"
	Number       Key = "number"
	Boolean      Key = "boolean"
	Object       Key = "object"
	CandleSeries Key = "candleseries"
	NumberSeries Key = "numberseries"
	Signal       Key = "signal"
)

// aliases maps legacy or shorthand type names to canonical keys. Consulted
// once per port at graph-build time; compatibility checks afterwards are
// plain key comparisons.
var aliases = map[string]Key{
	"text":     String,
	"str":      String,
	"float":    Number,
	"int":      Number,
	"integer":  Number,
	"bool":     Boolean,
	"dict":     Object,
	"json":     Object,
	"candles":  CandleSeries,
	"ohlcv":    CandleSeries,
	"series":   NumberSeries,
	"trigger":  Exec,
	"wildcard": Any,
}

// Canonical resolves a raw port type string to its canonical key: trim,
// lower-case, alias lookup. An empty type resolves to the Any wildcard.
func Canonical(raw string) Key {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return Any
	}
	if k, ok := aliases[s]; ok {
		return k
	}
	return Key(s)
}

// knownKeys is the closed set of canonical keys the engine recognizes.
var knownKeys = map[Key]bool{
	Any:          true,
	Exec:         true,
	String:       true,
	Number:       true,
	Boolean:      true,
	Object:       true,
	CandleSeries: true,
	NumberSeries: true,
	Signal:       true,
}

// Known reports whether a raw type string resolves to a recognized
// canonical key. Used by node definition validation.
func Known(raw string) bool {
	return knownKeys[Canonical(raw)]
}

// KindOf returns the kind axis of a canonical key.
func KindOf(k Key) Kind {
	if k == Exec {
		return KindExec
	}
	return KindData
}

// Compatible reports whether an edge from a source socket of type src to a
// target socket of type dst is allowed. Exec sockets only connect to exec
// sockets; among data sockets, Any unifies with everything and otherwise
// the keys must match exactly.
func Compatible(src, dst Key) bool {
	if KindOf(src) == KindExec || KindOf(dst) == KindExec {
		return src == Exec && dst == Exec
	}
	return src == Any || dst == Any || src == dst
}

// Socket is the opaque per-type handle handed to rendering layers. The
// engine itself only cares about the Key; the handle exists so every port
// of the same canonical type shares one identity.
type Socket struct {
	Key Key
}

// SocketRegistry memoizes one Socket handle per canonical key.
// Thread-safe. The Any key always resolves to the same shared handle.
type SocketRegistry struct {
	mu      sync.Mutex
	sockets map[Key]*Socket
}

// NewSocketRegistry creates an empty socket registry.
func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{sockets: make(map[Key]*Socket)}
}

// Get returns the shared handle for a raw type string, creating it on first
// use.
func (r *SocketRegistry) Get(raw string) *Socket {
	key := Canonical(raw)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sockets[key]; ok {
		return s
	}
	s := &Socket{Key: key}
	r.sockets[key] = s
	return s
}
