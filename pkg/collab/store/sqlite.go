package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists collaboration state to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite-backed store.
// The path should be a file path (e.g., "./collab.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS operations (
			session_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			author_id TEXT NOT NULL,
			op_data BLOB NOT NULL,
			applied_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_session_version
			ON operations(session_id, version)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			session_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			graph BLOB NOT NULL,
			description TEXT NOT NULL,
			author_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (session_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS version_states (
			session_id TEXT PRIMARY KEY,
			max_version INTEGER NOT NULL,
			current_version INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// AppendOperation implements Store.
func (s *SQLiteStore) AppendOperation(ctx context.Context, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (session_id, version, author_id, op_data, applied_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.SessionID, entry.Version, entry.AuthorID, entry.Op,
		entry.AppliedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append operation: %w", err)
	}
	return nil
}

// AppendSnapshot implements Store.
func (s *SQLiteStore) AppendSnapshot(ctx context.Context, snap SnapshotRec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, version, graph, description, author_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.SessionID, snap.Version, snap.Graph, snap.Description, snap.AuthorID,
		snap.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateVersion
		}
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

// SnapshotsSince implements Store.
func (s *SQLiteStore) SnapshotsSince(ctx context.Context, sessionID string, after int64) ([]SnapshotRec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT version, graph, description, author_id, created_at
		FROM snapshots
		WHERE session_id = ? AND version > ?
		ORDER BY version ASC
	`, sessionID, after)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRec
	for rows.Next() {
		snap := SnapshotRec{SessionID: sessionID}
		var createdAt string
		if err := rows.Scan(&snap.Version, &snap.Graph, &snap.Description, &snap.AuthorID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Snapshot implements Store.
func (s *SQLiteStore) Snapshot(ctx context.Context, sessionID string, version int64) (SnapshotRec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return SnapshotRec{}, ErrStoreClosed
	}

	snap := SnapshotRec{SessionID: sessionID, Version: version}
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT graph, description, author_id, created_at
		FROM snapshots
		WHERE session_id = ? AND version = ?
	`, sessionID, version).Scan(&snap.Graph, &snap.Description, &snap.AuthorID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRec{}, ErrNotFound
	}
	if err != nil {
		return SnapshotRec{}, fmt.Errorf("load snapshot: %w", err)
	}
	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return snap, nil
}

// OperationsSince implements Store.
func (s *SQLiteStore) OperationsSince(ctx context.Context, sessionID string, after int64) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT version, author_id, op_data, applied_at
		FROM operations
		WHERE session_id = ? AND version > ?
		ORDER BY version ASC, rowid ASC
	`, sessionID, after)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		entry := LogEntry{SessionID: sessionID}
		var appliedAt string
		if err := rows.Scan(&entry.Version, &entry.AuthorID, &entry.Op, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		entry.AppliedAt, _ = time.Parse(time.RFC3339Nano, appliedAt)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return out, nil
}

// VersionState implements Store.
func (s *SQLiteStore) VersionState(ctx context.Context, sessionID string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return State{}, ErrStoreClosed
	}

	state := State{SessionID: sessionID}
	err := s.db.QueryRowContext(ctx, `
		SELECT max_version, current_version
		FROM version_states
		WHERE session_id = ?
	`, sessionID).Scan(&state.MaxVersion, &state.CurrentVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("load version state: %w", err)
	}
	return state, nil
}

// WriteVersionState implements Store.
func (s *SQLiteStore) WriteVersionState(ctx context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO version_states (session_id, max_version, current_version)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			max_version = excluded.max_version,
			current_version = excluded.current_version
	`, state.SessionID, state.MaxVersion, state.CurrentVersion)
	if err != nil {
		return fmt.Errorf("write version state: %w", err)
	}
	return nil
}

// TruncateSnapshots implements Store.
func (s *SQLiteStore) TruncateSnapshots(ctx context.Context, sessionID string, after int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE session_id = ? AND version > ?
	`, sessionID, after)
	if err != nil {
		return fmt.Errorf("truncate snapshots: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
