// Package lock serializes message processing per session.
//
// AI-driven replies must be generated against a non-stale conversation
// history: two generations racing in one session would both read the same
// history and the later commit would silently clobber the earlier one.
// Locking per session keeps that impossible while leaving different
// sessions fully concurrent.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout indicates the configured queue-wait cap elapsed before the
// lock was acquired. Retryable.
var ErrTimeout = errors.New("lock wait timed out")

// Notifier observes lock lifecycle transitions. The realtime hub implements
// this to broadcast processing status to session participants. All methods
// may be called concurrently.
type Notifier interface {
	// Queued fires when a caller starts waiting behind the current holder.
	Queued(sessionID, waiterID, holderID string)

	// Started fires when a caller acquires the lock.
	Started(sessionID, holderID string)

	// Done fires after the lock is released.
	Done(sessionID, holderID string)
}

// Manager provides one logical lock per session. Entries exist only while
// callers reference them; an idle session holds no registry entry.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	notifier Notifier
	timeout  time.Duration
}

type entry struct {
	sem    chan struct{} // capacity 1; a token in the channel means held
	refs   int
	holder string // guarded by Manager.mu
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the lifecycle notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithTimeout caps how long WithLock waits in the queue. Zero (the default)
// waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// NewManager creates a lock manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{sessions: make(map[string]*entry)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithLock runs fn while holding the session's lock. Acquisition blocks
// without busy-waiting and honors ctx cancellation; with a configured
// timeout, waiting longer fails with ErrTimeout. The lock is released on
// every exit path, including fn panicking.
//
// While queued, the notifier (if any) receives Queued with the current
// holder; on acquisition Started; after release Done.
func (m *Manager) WithLock(ctx context.Context, sessionID, holderID string, fn func(ctx context.Context) error) error {
	e := m.retain(sessionID)
	defer m.release(sessionID)

	// Fast path: uncontended.
	select {
	case e.sem <- struct{}{}:
	default:
		m.notifyQueued(sessionID, holderID, e)
		if err := m.waitAcquire(ctx, e); err != nil {
			return err
		}
	}

	m.setHolder(e, holderID)
	m.notifyStarted(sessionID, holderID)

	defer func() {
		m.setHolder(e, "")
		<-e.sem
		m.notifyDone(sessionID, holderID)
	}()

	return fn(ctx)
}

// Holder returns who currently holds the session's lock, or "" if unheld.
func (m *Manager) Holder(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[sessionID]; ok {
		return e.holder
	}
	return ""
}

func (m *Manager) waitAcquire(ctx context.Context, e *entry) error {
	var timeoutCh <-chan time.Time
	if m.timeout > 0 {
		timer := time.NewTimer(m.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeoutCh:
		return ErrTimeout
	}
}

// retain returns the session's entry, creating it on first use.
func (m *Manager) retain(sessionID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[sessionID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.sessions[sessionID] = e
	}
	e.refs++
	return e
}

// release drops one reference and garbage-collects the entry when nobody
// holds or waits for it anymore.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(m.sessions, sessionID)
	}
}

func (m *Manager) setHolder(e *entry, holderID string) {
	m.mu.Lock()
	e.holder = holderID
	m.mu.Unlock()
}

func (m *Manager) notifyQueued(sessionID, waiterID string, e *entry) {
	if m.notifier == nil {
		return
	}
	m.mu.Lock()
	holder := e.holder
	m.mu.Unlock()
	m.notifier.Queued(sessionID, waiterID, holder)
}

func (m *Manager) notifyStarted(sessionID, holderID string) {
	if m.notifier != nil {
		m.notifier.Started(sessionID, holderID)
	}
}

func (m *Manager) notifyDone(sessionID, holderID string) {
	if m.notifier != nil {
		m.notifier.Done(sessionID, holderID)
	}
}
