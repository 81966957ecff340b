package collab

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Position is the layout position of a node. The engine never interprets
// coordinates; it only carries them for clients.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single workflow step.
type Node struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Kind     string   `json:"type"`
	Position Position `json:"position"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the shared workflow state: nodes keyed by ID plus a set of
// directed edges. Committed snapshots never contain an edge whose endpoint
// is missing; the invariant may only be violated transiently while a batch
// of operations is being applied.
//
// Graph is not safe for concurrent mutation. The engine clones before
// applying operations and shares only committed, immutable copies.
type Graph struct {
	Nodes map[string]Node
	Edges map[Edge]struct{}
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[string]Node),
		Edges: make(map[Edge]struct{}),
	}
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return NewGraph()
	}
	clone := &Graph{
		Nodes: make(map[string]Node, len(g.Nodes)),
		Edges: make(map[Edge]struct{}, len(g.Edges)),
	}
	for id, n := range g.Nodes {
		clone.Nodes[id] = n
	}
	for e := range g.Edges {
		clone.Edges[e] = struct{}{}
	}
	return clone
}

// HasNode reports whether a node with the given ID exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.Nodes[id]
	return ok
}

// HasEdge reports whether the edge exists.
func (g *Graph) HasEdge(e Edge) bool {
	_, ok := g.Edges[e]
	return ok
}

// Validate checks the graph invariant: every edge endpoint references an
// existing node.
func (g *Graph) Validate() error {
	for e := range g.Edges {
		if !g.HasNode(e.From) {
			return fmt.Errorf("edge %s-%s: node %q not found", e.From, e.To, e.From)
		}
		if !g.HasNode(e.To) {
			return fmt.Errorf("edge %s-%s: node %q not found", e.From, e.To, e.To)
		}
	}
	return nil
}

// graphWire is the JSON wire form: node and edge arrays with deterministic
// ordering, matching what clients render.
type graphWire struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// MarshalJSON encodes the graph as {"nodes":[...],"edges":[...]} with nodes
// sorted by ID and edges sorted by (from, to).
func (g *Graph) MarshalJSON() ([]byte, error) {
	wire := graphWire{
		Nodes: make([]Node, 0, len(g.Nodes)),
		Edges: make([]Edge, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		wire.Nodes = append(wire.Nodes, n)
	}
	sort.Slice(wire.Nodes, func(i, j int) bool {
		return wire.Nodes[i].ID < wire.Nodes[j].ID
	})
	for e := range g.Edges {
		wire.Edges = append(wire.Edges, e)
	}
	sort.Slice(wire.Edges, func(i, j int) bool {
		if wire.Edges[i].From != wire.Edges[j].From {
			return wire.Edges[i].From < wire.Edges[j].From
		}
		return wire.Edges[i].To < wire.Edges[j].To
	})
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the array wire form. Duplicate node IDs keep the
// last occurrence; duplicate edges collapse.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var wire graphWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	g.Nodes = make(map[string]Node, len(wire.Nodes))
	g.Edges = make(map[Edge]struct{}, len(wire.Edges))
	for _, n := range wire.Nodes {
		g.Nodes[n.ID] = n
	}
	for _, e := range wire.Edges {
		g.Edges[e] = struct{}{}
	}
	return nil
}
