package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and examples.
// Data is lost when the process exits.
type MemoryStore struct {
	mu        sync.RWMutex
	ops       map[string][]LogEntry
	snapshots map[string]map[int64]SnapshotRec
	states    map[string]State
	closed    bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ops:       make(map[string][]LogEntry),
		snapshots: make(map[string]map[int64]SnapshotRec),
		states:    make(map[string]State),
	}
}

// AppendOperation implements Store.
func (m *MemoryStore) AppendOperation(_ context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	entry.Op = cloneBytes(entry.Op)
	m.ops[entry.SessionID] = append(m.ops[entry.SessionID], entry)
	return nil
}

// AppendSnapshot implements Store.
func (m *MemoryStore) AppendSnapshot(_ context.Context, snap SnapshotRec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	byVersion := m.snapshots[snap.SessionID]
	if byVersion == nil {
		byVersion = make(map[int64]SnapshotRec)
		m.snapshots[snap.SessionID] = byVersion
	}
	if _, exists := byVersion[snap.Version]; exists {
		return ErrDuplicateVersion
	}

	snap.Graph = cloneBytes(snap.Graph)
	byVersion[snap.Version] = snap
	return nil
}

// SnapshotsSince implements Store.
func (m *MemoryStore) SnapshotsSince(_ context.Context, sessionID string, after int64) ([]SnapshotRec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	var out []SnapshotRec
	for version, snap := range m.snapshots[sessionID] {
		if version > after {
			snap.Graph = cloneBytes(snap.Graph)
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Snapshot implements Store.
func (m *MemoryStore) Snapshot(_ context.Context, sessionID string, version int64) (SnapshotRec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return SnapshotRec{}, ErrStoreClosed
	}

	snap, ok := m.snapshots[sessionID][version]
	if !ok {
		return SnapshotRec{}, ErrNotFound
	}
	snap.Graph = cloneBytes(snap.Graph)
	return snap, nil
}

// OperationsSince implements Store.
func (m *MemoryStore) OperationsSince(_ context.Context, sessionID string, after int64) ([]LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	var out []LogEntry
	for _, entry := range m.ops[sessionID] {
		if entry.Version > after {
			entry.Op = cloneBytes(entry.Op)
			out = append(out, entry)
		}
	}
	// Log order is already insertion order; make version the primary key.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// VersionState implements Store.
func (m *MemoryStore) VersionState(_ context.Context, sessionID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return State{}, ErrStoreClosed
	}

	state, ok := m.states[sessionID]
	if !ok {
		return State{}, ErrNotFound
	}
	return state, nil
}

// WriteVersionState implements Store.
func (m *MemoryStore) WriteVersionState(_ context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	m.states[state.SessionID] = state
	return nil
}

// TruncateSnapshots implements Store.
func (m *MemoryStore) TruncateSnapshots(_ context.Context, sessionID string, after int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	for version := range m.snapshots[sessionID] {
		if version > after {
			delete(m.snapshots[sessionID], version)
		}
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.ops = nil
	m.snapshots = nil
	m.states = nil
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
