package hub

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a realtime channel event.
type EventType string

// Server-to-client event types.
const (
	EventPresence           EventType = "presence"
	EventTyping             EventType = "typing"
	EventOperationCommitted EventType = "operation_committed"
	EventVersionMoved       EventType = "version_moved"
	EventProcessing         EventType = "processing"
)

// Participant identifies a connected user within a session.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Envelope is the wire frame for every realtime event.
type Envelope struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"at"`
}

// NewEnvelope wraps a payload with a fresh event ID and timestamp.
func NewEnvelope(evtType EventType, sessionID string, payload any) Envelope {
	return Envelope{
		ID:        uuid.New().String(),
		Type:      evtType,
		SessionID: sessionID,
		Payload:   payload,
		At:        time.Now().UTC(),
	}
}

// PresencePayload carries the full online list after a membership change.
type PresencePayload struct {
	Online []Participant `json:"online"`
}

// TypingPayload is the ephemeral typing indicator. Lossy-tolerant: a
// dropped typing event leaves the indicator stale only until the
// client-side expiry timer clears it.
type TypingPayload struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	IsTyping      bool   `json:"is_typing"`
}

// OperationCommittedPayload announces a committed operation batch. It is
// delivered to the sender too: the authoritative server-computed result (a
// merge, for instance) may differ from what the sender optimistically
// applied locally.
type OperationCommittedPayload struct {
	Version  int64           `json:"version"`
	Graph    json.RawMessage `json:"graph"`
	Status   string          `json:"status"`
	AuthorID string          `json:"author_id"`
}

// VersionMovedPayload announces an undo/redo/revert pointer move.
type VersionMovedPayload struct {
	CurrentVersion int64           `json:"current_version"`
	MaxVersion     int64           `json:"max_version"`
	Graph          json.RawMessage `json:"graph"`
	AuthorID       string          `json:"author_id"`
}

// ProcessingStatus is the lifecycle phase of a serialized message cycle.
type ProcessingStatus string

// Processing phases.
const (
	ProcessingStarted ProcessingStatus = "started"
	ProcessingQueued  ProcessingStatus = "queued"
	ProcessingDone    ProcessingStatus = "done"
)

// ProcessingPayload reports lock queue status for a session.
type ProcessingPayload struct {
	Status   ProcessingStatus `json:"status"`
	HolderID string           `json:"holder_id,omitempty"`
	WaiterID string           `json:"waiter_id,omitempty"`
	Message  string           `json:"message,omitempty"`
}
