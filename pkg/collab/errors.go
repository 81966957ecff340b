package collab

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the synchronization engine.
var (
	// ErrNotFound indicates an unknown session or snapshot version.
	ErrNotFound = errors.New("workflow not found")

	// ErrOutOfRange indicates a version target outside [1, maxVersion].
	ErrOutOfRange = errors.New("version out of range")
)

// ConflictError reports why an operation batch could not be applied. It is
// expected and recoverable: the client must rebase onto the returned graph
// and resubmit. Conflicts are never retried automatically.
type ConflictError struct {
	// SessionID is the session the batch targeted.
	SessionID string
	// Conflicts holds one human-readable message per offending entity.
	Conflicts []string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s: %d conflicting operations: %s",
		e.SessionID, len(e.Conflicts), strings.Join(e.Conflicts, "; "))
}

// OutOfRangeError reports an invalid version target for MoveTo.
type OutOfRangeError struct {
	// Target is the requested version.
	Target int64
	// Max is the highest surviving version.
	Max int64
}

// Error implements the error interface.
func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("version %d out of range [1, %d]", e.Target, e.Max)
}

// Unwrap returns ErrOutOfRange for errors.Is support.
func (e *OutOfRangeError) Unwrap() error {
	return ErrOutOfRange
}
