package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/collabgraph/pkg/collab/store"
)

// Status is the outcome of resolving an operation batch.
type Status string

// Resolution outcomes.
const (
	// StatusApplied means no concurrent operations existed; the batch
	// applied cleanly on the version the client last observed.
	StatusApplied Status = "applied"

	// StatusMerged means concurrent operations existed but touched
	// disjoint entities; the batch applied on top of them.
	StatusMerged Status = "merged"

	// StatusConflict means the batch collided with concurrent operations
	// and was not applied. The client must rebase on the returned graph.
	StatusConflict Status = "conflict"
)

// Result is the outcome of Resolve: the committed (or current, on conflict)
// version and graph, plus one message per conflicting entity.
type Result struct {
	SessionID string   `json:"session_id"`
	Status    Status   `json:"status"`
	Version   int64    `json:"version"`
	Graph     *Graph   `json:"graph"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// Err returns a *ConflictError when the result is a conflict, nil otherwise.
func (r Result) Err() error {
	if r.Status != StatusConflict {
		return nil
	}
	return &ConflictError{SessionID: r.SessionID, Conflicts: r.Conflicts}
}

// Resolver implements version-based optimistic concurrency with
// operation-level merging. A batch declaring baseVersion is checked pairwise
// against every logged operation with a later version; if no pair collides,
// the batch is applied on top of the latest graph, not the client's stale
// base.
type Resolver struct {
	store    store.Store
	versions *VersionStore
}

// NewResolver creates a resolver over the given store and version store.
func NewResolver(st store.Store, versions *VersionStore) *Resolver {
	return &Resolver{store: st, versions: versions}
}

// Resolve checks an ordered operation batch against everything committed
// after baseVersion and either commits it atomically or rejects it with one
// message per conflicting entity.
//
// An unknown session fails with ErrNotFound. An empty batch is a no-op
// success at the current version: no log entry, no snapshot, no version
// bump. On conflict nothing is written and the current graph is returned
// for the client to rebase on.
func (r *Resolver) Resolve(ctx context.Context, sessionID, authorID string, baseVersion int64, ops []Operation) (Result, error) {
	unlock := r.versions.lockSession(sessionID)
	defer unlock()

	state, err := r.store.VersionState(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return Result{}, fmt.Errorf("read version state: %w", err)
	}

	snap, err := r.store.Snapshot(ctx, sessionID, state.CurrentVersion)
	if err != nil {
		return Result{}, fmt.Errorf("load current snapshot: %w", err)
	}
	current, err := decodeGraph(snap.Graph)
	if err != nil {
		return Result{}, err
	}

	if len(ops) == 0 {
		return Result{
			SessionID: sessionID,
			Status:    StatusApplied,
			Version:   state.CurrentVersion,
			Graph:     current,
		}, nil
	}

	var concurrent []Operation
	if baseVersion < state.MaxVersion {
		entries, err := r.store.OperationsSince(ctx, sessionID, baseVersion)
		if err != nil {
			return Result{}, fmt.Errorf("read operation log: %w", err)
		}
		for _, entry := range entries {
			op, err := UnmarshalOperation(entry.Op)
			if err != nil {
				// A malformed log entry cannot veto an edit; skip it.
				continue
			}
			concurrent = append(concurrent, op)
		}
	}

	if conflicts := detectConflicts(ops, concurrent); len(conflicts) > 0 {
		return Result{
			SessionID: sessionID,
			Status:    StatusConflict,
			Version:   state.CurrentVersion,
			Graph:     current,
			Conflicts: conflicts,
		}, nil
	}

	merged := ApplyOps(current, ops)
	version, err := r.versions.commitLocked(ctx, sessionID, merged, describeBatch(authorID, ops), authorID, ops)
	if err != nil {
		return Result{}, err
	}

	status := StatusMerged
	if len(concurrent) == 0 && baseVersion == state.MaxVersion {
		status = StatusApplied
	}
	return Result{
		SessionID: sessionID,
		Status:    status,
		Version:   version,
		Graph:     merged,
	}, nil
}

// detectConflicts checks each incoming operation against the concurrent
// set:
//   - same target entity touched by both sides conflicts, except the
//     idempotent pairs delete_edge/delete_edge and add_edge/add_edge, where
//     both sides resolve to the same end state;
//   - deleting a node that any concurrent operation touched conflicts;
//   - referencing a node a concurrent operation deleted conflicts.
//
// Operations on disjoint entities never conflict.
func detectConflicts(incoming, concurrent []Operation) []string {
	concurrentByTarget := make(map[string]Operation, len(concurrent))
	deletedNodes := make(map[string]struct{})
	for _, op := range concurrent {
		concurrentByTarget[op.TargetID()] = op
		if del, ok := op.(DeleteNode); ok {
			deletedNodes[del.NodeID] = struct{}{}
		}
	}

	var conflicts []string
	for _, op := range incoming {
		if other, ok := concurrentByTarget[op.TargetID()]; ok && !idempotentPair(op, other) {
			conflicts = append(conflicts, fmt.Sprintf(
				"conflict on %s: your '%s' vs concurrent '%s'",
				op.TargetID(), op.Kind(), other.Kind()))
			continue
		}

		if del, ok := op.(DeleteNode); ok {
			for _, c := range concurrent {
				if c.TargetID() != op.TargetID() && touchesNode(c, del.NodeID) {
					conflicts = append(conflicts, fmt.Sprintf(
						"cannot delete node '%s': it was modified by concurrent '%s'",
						del.NodeID, c.Kind()))
					break
				}
			}
		}

		for _, nodeID := range op.AffectedNodes() {
			if _, gone := deletedNodes[nodeID]; gone && op.TargetID() != "node:"+nodeID {
				conflicts = append(conflicts, fmt.Sprintf(
					"conflict: your '%s' references node '%s' which was deleted concurrently",
					op.Kind(), nodeID))
			}
		}
	}
	return conflicts
}

// idempotentPair reports whether two same-target operations converge to the
// same end state regardless of order.
func idempotentPair(a, b Operation) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	return a.Kind() == OpDeleteEdge || a.Kind() == OpAddEdge
}

func touchesNode(op Operation, nodeID string) bool {
	for _, id := range op.AffectedNodes() {
		if id == nodeID {
			return true
		}
	}
	return false
}

// describeBatch builds the snapshot description recorded for an applied
// batch, e.g. "alice: move_node, add_edge".
func describeBatch(authorID string, ops []Operation) string {
	kinds := make([]string, len(ops))
	for i, op := range ops {
		kinds[i] = string(op.Kind())
	}
	return authorID + ": " + strings.Join(kinds, ", ")
}
