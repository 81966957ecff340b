// Package store persists the operation log, snapshots, and version state
// that back the collaborative synchronization engine.
package store

import (
	"context"
	"errors"
	"time"
)

// LogEntry is one applied operation in the append-only log. Ordering by
// increasing version is the source of truth for what happened when; entries
// are never mutated.
type LogEntry struct {
	SessionID string
	Version   int64
	AuthorID  string
	// Op is the operation in its {op_type, payload} wire form.
	Op        []byte
	AppliedAt time.Time
}

// SnapshotRec is an immutable full materialization of the graph at a
// version. Truncation on a new edit after undo is the only way a snapshot
// is ever removed.
type SnapshotRec struct {
	SessionID   string
	Version     int64
	Graph       []byte
	Description string
	AuthorID    string
	CreatedAt   time.Time
}

// State is the per-session version pointer pair. MaxVersion is the highest
// surviving snapshot; CurrentVersion is the pointer, 0 when no snapshot
// exists yet.
type State struct {
	SessionID      string
	MaxVersion     int64
	CurrentVersion int64
}

// Store persists collaboration state. Implementations must be safe for
// concurrent use and independently consistent per session.
type Store interface {
	// AppendOperation appends one entry to the operation log.
	AppendOperation(ctx context.Context, entry LogEntry) error

	// AppendSnapshot stores a snapshot. Appending a version that already
	// exists for the session is an error.
	AppendSnapshot(ctx context.Context, snap SnapshotRec) error

	// SnapshotsSince returns surviving snapshots with version > after,
	// ordered by version ascending. Empty slice if none.
	SnapshotsSince(ctx context.Context, sessionID string, after int64) ([]SnapshotRec, error)

	// Snapshot returns the snapshot at an exact version.
	// Returns ErrNotFound if it does not exist.
	Snapshot(ctx context.Context, sessionID string, version int64) (SnapshotRec, error)

	// OperationsSince returns log entries with version > after, ordered by
	// version then insertion. Empty slice if none.
	OperationsSince(ctx context.Context, sessionID string, after int64) ([]LogEntry, error)

	// VersionState returns the session's pointer state.
	// Returns ErrNotFound for an unknown session.
	VersionState(ctx context.Context, sessionID string) (State, error)

	// WriteVersionState creates or replaces the session's pointer state.
	WriteVersionState(ctx context.Context, state State) error

	// TruncateSnapshots removes snapshots with version > after.
	// Returns nil if nothing matched.
	TruncateSnapshots(ctx context.Context, sessionID string, after int64) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a session, snapshot, or state row doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateVersion indicates a snapshot already exists at the version.
	ErrDuplicateVersion = errors.New("snapshot version already exists")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)
