package collab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/collabgraph/pkg/collab/store"
)

// newTestResolver seeds session "s1" at version 1 with the three-node base
// graph and returns a resolver over it.
func newTestResolver(t *testing.T) (*Resolver, *VersionStore) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	vs := NewVersionStore(st)
	_, err := vs.Commit(context.Background(), "s1", baseGraph(), "initial", "ai", nil)
	require.NoError(t, err)
	return NewResolver(st, vs), vs
}

func mustResolve(t *testing.T, r *Resolver, authorID string, baseVersion int64, ops ...Operation) Result {
	t.Helper()
	res, err := r.Resolve(context.Background(), "s1", authorID, baseVersion, ops)
	require.NoError(t, err)
	return res
}

func TestResolveApplied(t *testing.T) {
	t.Run("batch on the latest version applies cleanly", func(t *testing.T) {
		r, _ := newTestResolver(t)

		res := mustResolve(t, r, "alice", 1,
			MoveNode{NodeID: "a", Position: Position{X: 50, Y: 60}},
		)
		assert.Equal(t, StatusApplied, res.Status)
		assert.Equal(t, int64(2), res.Version)
		assert.Equal(t, Position{X: 50, Y: 60}, res.Graph.Nodes["a"].Position)
		assert.NoError(t, res.Err())
	})

	t.Run("empty batch is a no-op at the current version", func(t *testing.T) {
		r, vs := newTestResolver(t)

		res := mustResolve(t, r, "alice", 1)
		assert.Equal(t, StatusApplied, res.Status)
		assert.Equal(t, int64(1), res.Version)

		state, err := vs.State(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), state.MaxVersion, "no-op must not bump the version")
	})

	t.Run("unknown session", func(t *testing.T) {
		r, _ := newTestResolver(t)
		_, err := r.Resolve(context.Background(), "ghost", "alice", 0, []Operation{
			MoveNode{NodeID: "a"},
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestResolveMerge(t *testing.T) {
	t.Run("disjoint concurrent batches merge", func(t *testing.T) {
		r, _ := newTestResolver(t)

		// Alice commits on top of version 1.
		first := mustResolve(t, r, "alice", 1,
			MoveNode{NodeID: "a", Position: Position{X: 10, Y: 10}},
		)
		require.Equal(t, StatusApplied, first.Status)
		require.Equal(t, int64(2), first.Version)

		// Bob, still on version 1, edits a different node. Both edits land.
		second := mustResolve(t, r, "bob", 1,
			UpdateLabel("c", "Renamed C"),
		)
		assert.Equal(t, StatusMerged, second.Status)
		assert.Equal(t, int64(3), second.Version)
		assert.Equal(t, Position{X: 10, Y: 10}, second.Graph.Nodes["a"].Position)
		assert.Equal(t, "Renamed C", second.Graph.Nodes["c"].Label)
	})

	t.Run("duplicate edge deletes converge", func(t *testing.T) {
		r, _ := newTestResolver(t)

		mustResolve(t, r, "alice", 1, DeleteEdge{From: "a", To: "b"})
		res := mustResolve(t, r, "bob", 1, DeleteEdge{From: "a", To: "b"})

		assert.Equal(t, StatusMerged, res.Status)
		assert.False(t, res.Graph.HasEdge(Edge{From: "a", To: "b"}))
	})

	t.Run("duplicate edge adds converge", func(t *testing.T) {
		r, _ := newTestResolver(t)

		mustResolve(t, r, "alice", 1, AddEdge{Edge: Edge{From: "a", To: "c"}})
		res := mustResolve(t, r, "bob", 1, AddEdge{Edge: Edge{From: "a", To: "c"}})

		assert.Equal(t, StatusMerged, res.Status)
		assert.True(t, res.Graph.HasEdge(Edge{From: "a", To: "c"}))
	})

	t.Run("merge applies on the latest graph, not the stale base", func(t *testing.T) {
		r, _ := newTestResolver(t)

		mustResolve(t, r, "alice", 1, AddNode{Node: Node{ID: "d", Label: "D"}})
		res := mustResolve(t, r, "bob", 1, MoveNode{NodeID: "b", Position: Position{X: 5, Y: 5}})

		assert.True(t, res.Graph.HasNode("d"), "concurrent addition must survive the merge")
	})
}

func TestResolveConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("same node moved by both sides", func(t *testing.T) {
		r, _ := newTestResolver(t)

		mustResolve(t, r, "alice", 1, MoveNode{NodeID: "a", Position: Position{X: 1, Y: 1}})
		res := mustResolve(t, r, "bob", 1, MoveNode{NodeID: "a", Position: Position{X: 9, Y: 9}})

		assert.Equal(t, StatusConflict, res.Status)
		require.Len(t, res.Conflicts, 1)
		assert.Contains(t, res.Conflicts[0], "node:a")

		// The returned graph is the authoritative state for rebasing.
		assert.Equal(t, Position{X: 1, Y: 1}, res.Graph.Nodes["a"].Position)

		var cerr *ConflictError
		require.ErrorAs(t, res.Err(), &cerr)
		assert.Equal(t, "s1", cerr.SessionID)
	})

	t.Run("deleting a concurrently modified node", func(t *testing.T) {
		r, _ := newTestResolver(t)

		mustResolve(t, r, "alice", 1, MoveNode{NodeID: "b", Position: Position{X: 2, Y: 2}})
		res := mustResolve(t, r, "bob", 1, DeleteNode{NodeID: "b"})

		assert.Equal(t, StatusConflict, res.Status)
		assert.Contains(t, res.Conflicts[0], "'b'")
	})

	t.Run("editing a concurrently deleted node", func(t *testing.T) {
		r, _ := newTestResolver(t)

		mustResolve(t, r, "alice", 1, DeleteNode{NodeID: "c"})
		res := mustResolve(t, r, "bob", 1, AddEdge{Edge: Edge{From: "b", To: "c"}})

		assert.Equal(t, StatusConflict, res.Status)
		assert.Contains(t, res.Conflicts[0], "deleted concurrently")
	})

	t.Run("conflict writes nothing", func(t *testing.T) {
		r, vs := newTestResolver(t)

		mustResolve(t, r, "alice", 1, MoveNode{NodeID: "a", Position: Position{X: 1, Y: 1}})
		res := mustResolve(t, r, "bob", 1, MoveNode{NodeID: "a", Position: Position{X: 9, Y: 9}})
		require.Equal(t, StatusConflict, res.Status)

		state, err := vs.State(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), state.MaxVersion)
		assert.Equal(t, int64(2), state.CurrentVersion)

		timeline, err := vs.History(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, timeline.Versions, 2)
	})

	t.Run("one bad operation rejects the whole batch", func(t *testing.T) {
		r, _ := newTestResolver(t)

		mustResolve(t, r, "alice", 1, MoveNode{NodeID: "a", Position: Position{X: 1, Y: 1}})
		res := mustResolve(t, r, "bob", 1,
			UpdateLabel("c", "fine"),
			MoveNode{NodeID: "a", Position: Position{X: 9, Y: 9}},
		)
		require.Equal(t, StatusConflict, res.Status)
		// The clean update must not land either.
		assert.NotEqual(t, "fine", res.Graph.Nodes["c"].Label)
	})
}

func TestResolveAfterUndo(t *testing.T) {
	// Committing against a rewound pointer truncates the redone future and
	// resolves against what survives, not against the discarded versions.
	r, vs := newTestResolver(t)
	ctx := context.Background()

	mustResolve(t, r, "alice", 1, AddNode{Node: Node{ID: "d"}})         // v2
	mustResolve(t, r, "alice", 2, MoveNode{NodeID: "d", Position: Position{X: 7}}) // v3

	_, err := vs.MoveTo(ctx, "s1", 1)
	require.NoError(t, err)

	// Bob edits from version 1 with the pointer at 1. His commit lands at
	// version 2, replacing the discarded branch.
	res := mustResolve(t, r, "bob", 1, UpdateLabel("a", "fresh start"))
	assert.Equal(t, StatusMerged, res.Status)
	assert.Equal(t, int64(2), res.Version)
	assert.False(t, res.Graph.HasNode("d"))

	state, err := vs.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.MaxVersion)
}

func TestDescribeBatch(t *testing.T) {
	desc := describeBatch("alice", []Operation{
		MoveNode{NodeID: "a"},
		AddEdge{Edge: Edge{From: "a", To: "b"}},
	})
	assert.Equal(t, "alice: move_node, add_edge", desc)
}
