package collab

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphClone(t *testing.T) {
	t.Run("deep copy is independent", func(t *testing.T) {
		g := NewGraph()
		g.Nodes["a"] = Node{ID: "a", Label: "A", Kind: "input"}
		g.Nodes["b"] = Node{ID: "b", Label: "B", Kind: "process"}
		g.Edges[Edge{From: "a", To: "b"}] = struct{}{}

		clone := g.Clone()
		clone.Nodes["c"] = Node{ID: "c"}
		delete(clone.Nodes, "a")
		delete(clone.Edges, Edge{From: "a", To: "b"})

		assert.True(t, g.HasNode("a"))
		assert.False(t, g.HasNode("c"))
		assert.True(t, g.HasEdge(Edge{From: "a", To: "b"}))
	})

	t.Run("nil graph clones to empty", func(t *testing.T) {
		var g *Graph
		clone := g.Clone()
		require.NotNil(t, clone)
		assert.Empty(t, clone.Nodes)
		assert.Empty(t, clone.Edges)
	})
}

func TestGraphValidate(t *testing.T) {
	t.Run("valid graph", func(t *testing.T) {
		g := NewGraph()
		g.Nodes["a"] = Node{ID: "a"}
		g.Nodes["b"] = Node{ID: "b"}
		g.Edges[Edge{From: "a", To: "b"}] = struct{}{}

		assert.NoError(t, g.Validate())
	})

	t.Run("dangling edge endpoint", func(t *testing.T) {
		g := NewGraph()
		g.Nodes["a"] = Node{ID: "a"}
		g.Edges[Edge{From: "a", To: "missing"}] = struct{}{}

		err := g.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("empty graph is valid", func(t *testing.T) {
		assert.NoError(t, NewGraph().Validate())
	})
}

func TestGraphJSON(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		g := NewGraph()
		g.Nodes["start"] = Node{ID: "start", Label: "Start", Kind: "input", Position: Position{X: 10, Y: 20}}
		g.Nodes["end"] = Node{ID: "end", Label: "End", Kind: "output"}
		g.Edges[Edge{From: "start", To: "end"}] = struct{}{}

		data, err := json.Marshal(g)
		require.NoError(t, err)

		decoded := NewGraph()
		require.NoError(t, json.Unmarshal(data, decoded))
		assert.Equal(t, g.Nodes, decoded.Nodes)
		assert.Equal(t, g.Edges, decoded.Edges)
	})

	t.Run("deterministic ordering", func(t *testing.T) {
		g := NewGraph()
		for _, id := range []string{"c", "a", "b"} {
			g.Nodes[id] = Node{ID: id}
		}
		g.Edges[Edge{From: "b", To: "c"}] = struct{}{}
		g.Edges[Edge{From: "a", To: "b"}] = struct{}{}

		first, err := json.Marshal(g)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := json.Marshal(g)
			require.NoError(t, err)
			assert.Equal(t, string(first), string(again))
		}

		var wire struct {
			Nodes []Node `json:"nodes"`
			Edges []Edge `json:"edges"`
		}
		require.NoError(t, json.Unmarshal(first, &wire))
		require.Len(t, wire.Nodes, 3)
		assert.Equal(t, "a", wire.Nodes[0].ID)
		assert.Equal(t, "b", wire.Nodes[1].ID)
		assert.Equal(t, "c", wire.Nodes[2].ID)
		require.Len(t, wire.Edges, 2)
		assert.Equal(t, Edge{From: "a", To: "b"}, wire.Edges[0])
	})

	t.Run("node kind uses type key", func(t *testing.T) {
		g := NewGraph()
		g.Nodes["a"] = Node{ID: "a", Kind: "process"}

		data, err := json.Marshal(g)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"type":"process"`)
	})

	t.Run("empty graph marshals to empty arrays", func(t *testing.T) {
		data, err := json.Marshal(NewGraph())
		require.NoError(t, err)
		assert.JSONEq(t, `{"nodes":[],"edges":[]}`, string(data))
	})
}
