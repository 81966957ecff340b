package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/collabgraph/pkg/collab/store"
)

// VersionEntry describes one surviving snapshot in a session's timeline.
type VersionEntry struct {
	Version     int64     `json:"version"`
	Description string    `json:"description"`
	AuthorID    string    `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
	IsCurrent   bool      `json:"is_current"`
}

// Timeline is the full version history of a session.
type Timeline struct {
	SessionID      string         `json:"session_id"`
	CurrentVersion int64          `json:"current_version"`
	Versions       []VersionEntry `json:"versions"`
}

// VersionStore manages the per-session snapshot list and the movable
// current-version pointer with git-like semantics: committing while the
// pointer is behind the tip discards the redone future.
//
// All mutation is serialized per session; sessions never contend with each
// other. The version pointer state always satisfies
// 0 <= CurrentVersion <= MaxVersion.
type VersionStore struct {
	store store.Store
	clock func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewVersionStore creates a version store over the given storage backend.
func NewVersionStore(st store.Store) *VersionStore {
	return &VersionStore{
		store:    st,
		clock:    time.Now,
		sessions: make(map[string]*sessionLock),
	}
}

// WithClock overrides the time source. Useful for tests.
func (v *VersionStore) WithClock(clock func() time.Time) *VersionStore {
	v.clock = clock
	return v
}

// lockSession acquires the per-session mutex and returns its release func.
// Entries are refcounted and removed when no caller references them, so the
// map does not grow with dead sessions.
func (v *VersionStore) lockSession(sessionID string) func() {
	v.mu.Lock()
	sl, ok := v.sessions[sessionID]
	if !ok {
		sl = &sessionLock{}
		v.sessions[sessionID] = sl
	}
	sl.refs++
	v.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		v.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(v.sessions, sessionID)
		}
		v.mu.Unlock()
	}
}

// Commit appends a new snapshot holding graph and advances both the pointer
// and the tip to it. If the pointer was behind the tip, snapshots after the
// pointer are truncated first: a new edit after undo erases the redone
// future. The first commit for a session creates its version state at
// version 1.
//
// The log entries for ops are recorded at the new version, in batch order.
// The version state is written last, so a storage failure mid-commit leaves
// the pointer (and the graph it references) untouched.
func (v *VersionStore) Commit(ctx context.Context, sessionID string, g *Graph, description, authorID string, ops []Operation) (int64, error) {
	unlock := v.lockSession(sessionID)
	defer unlock()
	return v.commitLocked(ctx, sessionID, g, description, authorID, ops)
}

// commitLocked is Commit's body; the caller must hold the session lock.
func (v *VersionStore) commitLocked(ctx context.Context, sessionID string, g *Graph, description, authorID string, ops []Operation) (int64, error) {
	state, err := v.store.VersionState(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		state = store.State{SessionID: sessionID}
	} else if err != nil {
		return 0, fmt.Errorf("read version state: %w", err)
	}

	if state.CurrentVersion < state.MaxVersion {
		// The truncated snapshots are exactly the ones this commit discards.
		if err := v.store.TruncateSnapshots(ctx, sessionID, state.CurrentVersion); err != nil {
			return 0, fmt.Errorf("truncate future snapshots: %w", err)
		}
	}

	newVersion := state.CurrentVersion + 1
	graphJSON, err := json.Marshal(g)
	if err != nil {
		return 0, fmt.Errorf("marshal graph: %w", err)
	}

	now := v.clock().UTC()
	if err := v.store.AppendSnapshot(ctx, store.SnapshotRec{
		SessionID:   sessionID,
		Version:     newVersion,
		Graph:       graphJSON,
		Description: description,
		AuthorID:    authorID,
		CreatedAt:   now,
	}); err != nil {
		return 0, fmt.Errorf("append snapshot: %w", err)
	}

	for _, op := range ops {
		opJSON, err := MarshalOperation(op)
		if err != nil {
			return 0, err
		}
		if err := v.store.AppendOperation(ctx, store.LogEntry{
			SessionID: sessionID,
			Version:   newVersion,
			AuthorID:  authorID,
			Op:        opJSON,
			AppliedAt: now,
		}); err != nil {
			return 0, fmt.Errorf("append operation: %w", err)
		}
	}

	state.MaxVersion = newVersion
	state.CurrentVersion = newVersion
	if err := v.store.WriteVersionState(ctx, state); err != nil {
		return 0, fmt.Errorf("write version state: %w", err)
	}
	return newVersion, nil
}

// MoveTo moves the current-version pointer to target without creating a
// snapshot or changing the tip. It implements undo, redo, and revert to an
// arbitrary version. Targets outside [1, maxVersion] fail with
// OutOfRangeError.
func (v *VersionStore) MoveTo(ctx context.Context, sessionID string, target int64) (*Graph, error) {
	unlock := v.lockSession(sessionID)
	defer unlock()

	state, err := v.store.VersionState(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read version state: %w", err)
	}

	if target < 1 || target > state.MaxVersion {
		return nil, &OutOfRangeError{Target: target, Max: state.MaxVersion}
	}

	snap, err := v.store.Snapshot(ctx, sessionID, target)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %d: %w", target, err)
	}

	state.CurrentVersion = target
	if err := v.store.WriteVersionState(ctx, state); err != nil {
		return nil, fmt.Errorf("write version state: %w", err)
	}
	return decodeGraph(snap.Graph)
}

// History returns the surviving snapshots in ascending version order with
// the current pointer flagged. A session with no committed workflow yields
// an empty timeline at version 0.
func (v *VersionStore) History(ctx context.Context, sessionID string) (Timeline, error) {
	timeline := Timeline{SessionID: sessionID}

	state, err := v.store.VersionState(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Timeline{}, fmt.Errorf("read version state: %w", err)
	}
	timeline.CurrentVersion = state.CurrentVersion

	snaps, err := v.store.SnapshotsSince(ctx, sessionID, 0)
	if err != nil {
		return Timeline{}, fmt.Errorf("list snapshots: %w", err)
	}
	for _, snap := range snaps {
		timeline.Versions = append(timeline.Versions, VersionEntry{
			Version:     snap.Version,
			Description: snap.Description,
			AuthorID:    snap.AuthorID,
			CreatedAt:   snap.CreatedAt,
			IsCurrent:   snap.Version == state.CurrentVersion,
		})
	}
	return timeline, nil
}

// Peek returns the graph at a surviving version without moving the pointer.
func (v *VersionStore) Peek(ctx context.Context, sessionID string, version int64) (*Graph, error) {
	snap, err := v.store.Snapshot(ctx, sessionID, version)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("session %s version %d: %w", sessionID, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %d: %w", version, err)
	}
	return decodeGraph(snap.Graph)
}

// State returns the session's version pointer state.
func (v *VersionStore) State(ctx context.Context, sessionID string) (store.State, error) {
	state, err := v.store.VersionState(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return store.State{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return store.State{}, fmt.Errorf("read version state: %w", err)
	}
	return state, nil
}

// CurrentGraph returns the graph at the current pointer and its version.
func (v *VersionStore) CurrentGraph(ctx context.Context, sessionID string) (*Graph, int64, error) {
	state, err := v.State(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	snap, err := v.store.Snapshot(ctx, sessionID, state.CurrentVersion)
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshot %d: %w", state.CurrentVersion, err)
	}
	g, err := decodeGraph(snap.Graph)
	if err != nil {
		return nil, 0, err
	}
	return g, state.CurrentVersion, nil
}

func decodeGraph(data []byte) (*Graph, error) {
	g := NewGraph()
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return g, nil
}
