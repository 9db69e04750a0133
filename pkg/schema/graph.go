package schema

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// SchemaVersion is the current graph document schema version.
const SchemaVersion = 2

// Graph is the JSON-serializable graph document: a declarative description
// of nodes and the edges wiring them. It carries no behavior — node business
// logic lives behind the node registry, and execution order is derived by
// the engine at run time.
type Graph struct {
	ID      string               `json:"id"`
	Name    string               `json:"name"`
	Version int                  `json:"version"`
	Nodes   map[string]GraphNode `json:"nodes"`
	Edges   []GraphEdge          `json:"edges"`

	// Groups and Layout are editor annotations. The engine ignores them but
	// they round-trip so saving a document never loses canvas state.
	Groups json.RawMessage `json:"groups,omitempty"`
	Layout json.RawMessage `json:"layout,omitempty"`
}

// GraphNode is one node entry in a graph document.
type GraphNode struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`

	// Presentation-only fields, ignored by the engine.
	Title    string      `json:"title,omitempty"`
	Position *[2]float64 `json:"position,omitempty"`
	Size     *[2]float64 `json:"size,omitempty"`
}

// GraphEdge is a directed connection between two node ports. Both endpoints
// use the "<nodeId>.<portName>" form.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewGraph creates an empty graph document with a fresh unique ID and the
// current schema version.
func NewGraph(name string) *Graph {
	return &Graph{
		ID:      uuid.NewString(),
		Name:    name,
		Version: SchemaVersion,
		Nodes:   make(map[string]GraphNode),
		Edges:   make([]GraphEdge, 0),
	}
}

// ParseGraph decodes a graph document from its JSON wire form.
func ParseGraph(raw []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "parse graph document: %s", err.Error()).WithCause(err)
	}
	if g.Nodes == nil {
		g.Nodes = make(map[string]GraphNode)
	}
	return &g, nil
}

// ParseEndpoint splits an edge endpoint "<nodeId>.<portName>" on the first
// dot. Port names may themselves contain dots; node IDs may not.
func ParseEndpoint(endpoint string) (nodeID, port string, err error) {
	idx := strings.Index(endpoint, ".")
	if idx < 0 {
		return "", "", NewErrorf(ErrCodeValidation, "malformed edge endpoint %q: missing '.' separator", endpoint)
	}
	return endpoint[:idx], endpoint[idx+1:], nil
}

// MakeEndpoint formats a node ID and port name as an edge endpoint.
func MakeEndpoint(nodeID, port string) string {
	return nodeID + "." + port
}
