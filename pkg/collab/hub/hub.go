// Package hub tracks connected participants per session and fans realtime
// events out to them.
//
// Each connection owns a buffered outbound channel; the hub never invokes
// callbacks into connection code, it only sends. Delivery is non-blocking:
// a participant whose buffer is full misses the event (counted and
// reported), which never fails the originating request. Liveness is
// maintained by heartbeats; participants past the miss threshold are
// disconnected by a reaper goroutine.
//
// A Hub is an explicit instance passed by reference into session handlers;
// there is no package-level registry.
package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed indicates the hub has been shut down.
var ErrClosed = errors.New("hub closed")

// DefaultBuffer is the outbound channel capacity per connection.
const DefaultBuffer = 64

// TransportError describes a delivery failure to a single participant.
// It is reported through the drop hook and logged, never returned to the
// event's originator.
type TransportError struct {
	SessionID     string
	ParticipantID string
	Event         EventType
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("dropped %s event for participant %s in session %s",
		e.Event, e.ParticipantID, e.SessionID)
}

// Conn is one participant's connection to a session.
type Conn struct {
	session     string
	participant Participant
	events      chan Envelope
	done        chan struct{}

	// deadline is guarded by the hub mutex.
	deadline time.Time
}

// Events returns the outbound event stream. The channel is never closed;
// consumers should select on Done as well.
func (c *Conn) Events() <-chan Envelope { return c.events }

// Done is closed when the participant leaves or is reaped.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Participant returns the connection's identity.
func (c *Conn) Participant() Participant { return c.participant }

// Hub multiplexes presence, typing, and state-change events across the
// participants of each session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Conn
	closed   bool

	buffer            int
	heartbeatInterval time.Duration
	missThreshold     int
	logger            *slog.Logger
	onDrop            func(err *TransportError, evt Envelope)
	clock             func() time.Time

	dropped atomic.Int64
	done    chan struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-connection outbound buffer capacity.
func WithBuffer(n int) Option {
	return func(h *Hub) { h.buffer = n }
}

// WithHeartbeat enables the liveness reaper: a participant that has not
// sent a heartbeat within interval*misses is disconnected.
func WithHeartbeat(interval time.Duration, misses int) Option {
	return func(h *Hub) {
		h.heartbeatInterval = interval
		h.missThreshold = misses
	}
}

// WithLogger sets the logger for drop and reap events.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithOnDrop sets a hook invoked for every dropped delivery.
func WithOnDrop(fn func(err *TransportError, evt Envelope)) Option {
	return func(h *Hub) { h.onDrop = fn }
}

// WithClock overrides the time source. Useful for tests.
func WithClock(clock func() time.Time) Option {
	return func(h *Hub) { h.clock = clock }
}

// New creates a hub and, when heartbeats are enabled, starts its reaper.
func New(opts ...Option) *Hub {
	h := &Hub{
		sessions: make(map[string]map[string]*Conn),
		buffer:   DefaultBuffer,
		clock:    time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.missThreshold <= 0 {
		h.missThreshold = 3
	}
	if h.heartbeatInterval > 0 {
		go h.reap()
	}
	return h
}

// Join connects a participant to a session and broadcasts the updated
// presence list to everyone in it, the new participant included. Joining
// again with the same participant ID replaces the previous connection.
func (h *Hub) Join(sessionID string, p Participant) (*Conn, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}

	conns := h.sessions[sessionID]
	if conns == nil {
		conns = make(map[string]*Conn)
		h.sessions[sessionID] = conns
	}
	if prev, ok := conns[p.ID]; ok {
		close(prev.done)
	}

	c := &Conn{
		session:     sessionID,
		participant: p,
		events:      make(chan Envelope, h.buffer),
		done:        make(chan struct{}),
		deadline:    h.deadlineLocked(),
	}
	conns[p.ID] = c
	h.mu.Unlock()

	h.broadcastPresence(sessionID)
	return c, nil
}

// Leave disconnects a participant and broadcasts the updated presence list
// to the remaining participants. Unknown participants are a no-op.
func (h *Hub) Leave(sessionID, participantID string) {
	h.mu.Lock()
	removed := h.removeLocked(sessionID, participantID)
	h.mu.Unlock()

	if removed {
		h.broadcastPresence(sessionID)
	}
}

// Broadcast delivers an event to every participant of the session except
// those listed in exclude. State-changing events (operation_committed,
// version_moved, processing) are broadcast with no exclusions: the sender
// needs the authoritative result too.
func (h *Hub) Broadcast(sessionID string, evt Envelope, exclude ...string) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.sessions[sessionID]))
	for id, c := range h.sessions[sessionID] {
		if contains(exclude, id) {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, evt)
	}
}

// Relay delivers an ephemeral event (typing) to everyone except the
// sender. Nothing is persisted; a drop is harmless.
func (h *Hub) Relay(sessionID, senderID string, evt Envelope) {
	h.Broadcast(sessionID, evt, senderID)
}

// Heartbeat refreshes a participant's liveness deadline.
func (h *Hub) Heartbeat(sessionID, participantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.sessions[sessionID][participantID]; ok {
		c.deadline = h.deadlineLocked()
	}
}

// OnlineParticipants returns the session's connected participants sorted
// by ID.
func (h *Hub) OnlineParticipants(sessionID string) []Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Participant, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		out = append(out, c.participant)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dropped returns the total number of deliveries dropped to full buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close disconnects everyone and stops the reaper.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	close(h.done)
	for _, conns := range h.sessions {
		for _, c := range conns {
			close(c.done)
		}
	}
	h.sessions = make(map[string]map[string]*Conn)
	return nil
}

// deliver sends without blocking; a full buffer drops the event.
func (h *Hub) deliver(c *Conn, evt Envelope) {
	select {
	case c.events <- evt:
	default:
		h.dropped.Add(1)
		terr := &TransportError{
			SessionID:     c.session,
			ParticipantID: c.participant.ID,
			Event:         evt.Type,
		}
		if h.onDrop != nil {
			h.onDrop(terr, evt)
		}
		if h.logger != nil {
			h.logger.Warn("event dropped",
				slog.String("session_id", c.session),
				slog.String("participant_id", c.participant.ID),
				slog.String("event_type", string(evt.Type)),
			)
		}
	}
}

func (h *Hub) broadcastPresence(sessionID string) {
	payload := PresencePayload{Online: h.OnlineParticipants(sessionID)}
	h.Broadcast(sessionID, NewEnvelope(EventPresence, sessionID, payload))
}

// removeLocked detaches a connection. Caller holds the write lock.
func (h *Hub) removeLocked(sessionID, participantID string) bool {
	conns := h.sessions[sessionID]
	c, ok := conns[participantID]
	if !ok {
		return false
	}
	close(c.done)
	delete(conns, participantID)
	if len(conns) == 0 {
		delete(h.sessions, sessionID)
	}
	return true
}

func (h *Hub) deadlineLocked() time.Time {
	if h.heartbeatInterval <= 0 {
		// No heartbeat configured; connections never expire.
		return time.Time{}
	}
	return h.clock().Add(h.heartbeatInterval * time.Duration(h.missThreshold))
}

// reap periodically disconnects participants whose heartbeat deadline has
// passed and broadcasts the resulting presence change.
func (h *Hub) reap() {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.reapExpired()
		case <-h.done:
			return
		}
	}
}

func (h *Hub) reapExpired() {
	now := h.clock()

	type expired struct {
		sessionID     string
		participantID string
	}
	var victims []expired

	h.mu.Lock()
	for sessionID, conns := range h.sessions {
		for id, c := range conns {
			if !c.deadline.IsZero() && c.deadline.Before(now) {
				victims = append(victims, expired{sessionID, id})
			}
		}
	}
	for _, v := range victims {
		h.removeLocked(v.sessionID, v.participantID)
	}
	h.mu.Unlock()

	for _, v := range victims {
		if h.logger != nil {
			h.logger.Info("participant reaped after missed heartbeats",
				slog.String("session_id", v.sessionID),
				slog.String("participant_id", v.participantID),
			)
		}
		h.broadcastPresence(v.sessionID)
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
