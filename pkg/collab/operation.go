package collab

import (
	"encoding/json"
	"fmt"
)

// OpKind identifies one of the six mutating operation kinds.
type OpKind string

// Operation kinds.
const (
	OpMoveNode   OpKind = "move_node"
	OpAddNode    OpKind = "add_node"
	OpDeleteNode OpKind = "delete_node"
	OpUpdateNode OpKind = "update_node"
	OpAddEdge    OpKind = "add_edge"
	OpDeleteEdge OpKind = "delete_edge"
)

// Operation is a single graph mutation submitted by a client. Operations
// are immutable once submitted; they are applied exactly once by the
// conflict resolver.
//
// TargetID is the conflict-detection key: "node:<id>" for node operations,
// "edge:<from>-<to>" for edge operations. AffectedNodes lists every node ID
// the operation touches, including edge endpoints.
type Operation interface {
	Kind() OpKind
	TargetID() string
	AffectedNodes() []string

	// applyTo mutates g in place. Application is idempotent: adding an
	// already-present node or edge and patching a missing node are no-ops.
	// Conflict detection happens before application, not here.
	applyTo(g *Graph)
}

// MoveNode repositions an existing node.
type MoveNode struct {
	NodeID   string   `json:"node_id"`
	Position Position `json:"position"`
}

// Kind implements Operation.
func (op MoveNode) Kind() OpKind { return OpMoveNode }

// TargetID implements Operation.
func (op MoveNode) TargetID() string { return "node:" + op.NodeID }

// AffectedNodes implements Operation.
func (op MoveNode) AffectedNodes() []string { return []string{op.NodeID} }

func (op MoveNode) applyTo(g *Graph) {
	if n, ok := g.Nodes[op.NodeID]; ok {
		n.Position = op.Position
		g.Nodes[op.NodeID] = n
	}
}

// AddNode inserts a new node.
type AddNode struct {
	Node Node `json:"node"`
}

// Kind implements Operation.
func (op AddNode) Kind() OpKind { return OpAddNode }

// TargetID implements Operation.
func (op AddNode) TargetID() string { return "node:" + op.Node.ID }

// AffectedNodes implements Operation.
func (op AddNode) AffectedNodes() []string { return []string{op.Node.ID} }

func (op AddNode) applyTo(g *Graph) {
	if !g.HasNode(op.Node.ID) {
		g.Nodes[op.Node.ID] = op.Node
	}
}

// DeleteNode removes a node and every edge incident to it.
type DeleteNode struct {
	NodeID string `json:"node_id"`
}

// Kind implements Operation.
func (op DeleteNode) Kind() OpKind { return OpDeleteNode }

// TargetID implements Operation.
func (op DeleteNode) TargetID() string { return "node:" + op.NodeID }

// AffectedNodes implements Operation.
func (op DeleteNode) AffectedNodes() []string { return []string{op.NodeID} }

func (op DeleteNode) applyTo(g *Graph) {
	delete(g.Nodes, op.NodeID)
	for e := range g.Edges {
		if e.From == op.NodeID || e.To == op.NodeID {
			delete(g.Edges, e)
		}
	}
}

// UpdateNode patches a node's label and/or kind. Nil fields are left
// untouched.
type UpdateNode struct {
	NodeID string  `json:"node_id"`
	Label  *string `json:"label,omitempty"`
	NKind  *string `json:"type,omitempty"`
}

// Kind implements Operation.
func (op UpdateNode) Kind() OpKind { return OpUpdateNode }

// TargetID implements Operation.
func (op UpdateNode) TargetID() string { return "node:" + op.NodeID }

// AffectedNodes implements Operation.
func (op UpdateNode) AffectedNodes() []string { return []string{op.NodeID} }

func (op UpdateNode) applyTo(g *Graph) {
	n, ok := g.Nodes[op.NodeID]
	if !ok {
		return
	}
	if op.Label != nil {
		n.Label = *op.Label
	}
	if op.NKind != nil {
		n.Kind = *op.NKind
	}
	g.Nodes[op.NodeID] = n
}

// AddEdge inserts a directed edge. The edge is only materialized when both
// endpoints exist, which preserves the no-dangling-edge invariant even for
// batches that interleave node and edge additions.
type AddEdge struct {
	Edge Edge `json:"edge"`
}

// Kind implements Operation.
func (op AddEdge) Kind() OpKind { return OpAddEdge }

// TargetID implements Operation.
func (op AddEdge) TargetID() string {
	return "edge:" + op.Edge.From + "-" + op.Edge.To
}

// AffectedNodes implements Operation.
func (op AddEdge) AffectedNodes() []string { return []string{op.Edge.From, op.Edge.To} }

func (op AddEdge) applyTo(g *Graph) {
	if g.HasNode(op.Edge.From) && g.HasNode(op.Edge.To) {
		g.Edges[op.Edge] = struct{}{}
	}
}

// DeleteEdge removes a directed edge.
type DeleteEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Kind implements Operation.
func (op DeleteEdge) Kind() OpKind { return OpDeleteEdge }

// TargetID implements Operation.
func (op DeleteEdge) TargetID() string { return "edge:" + op.From + "-" + op.To }

// AffectedNodes implements Operation.
func (op DeleteEdge) AffectedNodes() []string { return []string{op.From, op.To} }

func (op DeleteEdge) applyTo(g *Graph) {
	delete(g.Edges, Edge{From: op.From, To: op.To})
}

// ApplyOps applies a batch in order to a copy of g and returns the result.
// The input graph is never mutated.
func ApplyOps(g *Graph, ops []Operation) *Graph {
	out := g.Clone()
	for _, op := range ops {
		op.applyTo(out)
	}
	return out
}

// opEnvelope is the {op_type, payload} JSON wire form shared by the client
// protocol and the operation log.
type opEnvelope struct {
	OpType  OpKind          `json:"op_type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalOperation encodes an operation into its wire envelope.
func MarshalOperation(op Operation) ([]byte, error) {
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", op.Kind(), err)
	}
	return json.Marshal(opEnvelope{OpType: op.Kind(), Payload: payload})
}

// UnmarshalOperation decodes a wire envelope into the concrete operation
// type. Unknown op_type values are an error.
func UnmarshalOperation(data []byte) (Operation, error) {
	var env opEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode operation envelope: %w", err)
	}

	var (
		op  Operation
		err error
	)
	switch env.OpType {
	case OpMoveNode:
		var v MoveNode
		err = json.Unmarshal(env.Payload, &v)
		op = v
	case OpAddNode:
		var v AddNode
		err = json.Unmarshal(env.Payload, &v)
		op = v
	case OpDeleteNode:
		var v DeleteNode
		err = json.Unmarshal(env.Payload, &v)
		op = v
	case OpUpdateNode:
		var v UpdateNode
		err = json.Unmarshal(env.Payload, &v)
		op = v
	case OpAddEdge:
		var v AddEdge
		err = json.Unmarshal(env.Payload, &v)
		op = v
	case OpDeleteEdge:
		var v DeleteEdge
		err = json.Unmarshal(env.Payload, &v)
		op = v
	default:
		return nil, fmt.Errorf("unknown op_type %q", env.OpType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.OpType, err)
	}
	return op, nil
}

// stringPtr is a convenience for building UpdateNode patches.
func stringPtr(s string) *string { return &s }

// UpdateLabel builds an UpdateNode that patches only the label.
func UpdateLabel(nodeID, label string) UpdateNode {
	return UpdateNode{NodeID: nodeID, Label: stringPtr(label)}
}

// UpdateKind builds an UpdateNode that patches only the kind.
func UpdateKind(nodeID, kind string) UpdateNode {
	return UpdateNode{NodeID: nodeID, NKind: stringPtr(kind)}
}
