// Package observability provides structured logging, metrics, and tracing
// for the collaboration engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in; every helper tolerates a nil logger.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds collaboration context to a logger.
// Returns a new logger with session_id and author_id fields.
func EnrichLogger(logger *slog.Logger, sessionID, authorID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("session_id", sessionID),
		slog.String("author_id", authorID),
	)
}

// LogCommit logs a committed operation batch.
func LogCommit(logger *slog.Logger, sessionID string, version int64, status string, opCount int) {
	if logger == nil {
		return
	}
	logger.Info("batch committed",
		slog.String("session_id", sessionID),
		slog.Int64("version", version),
		slog.String("status", status),
		slog.Int("op_count", opCount),
	)
}

// LogConflict logs a rejected operation batch.
func LogConflict(logger *slog.Logger, sessionID string, baseVersion int64, conflicts []string) {
	if logger == nil {
		return
	}
	logger.Info("batch rejected",
		slog.String("session_id", sessionID),
		slog.Int64("base_version", baseVersion),
		slog.Int("conflict_count", len(conflicts)),
	)
}

// LogVersionMove logs an undo/redo/revert pointer move.
func LogVersionMove(logger *slog.Logger, sessionID string, target int64, authorID string) {
	if logger == nil {
		return
	}
	logger.Info("version pointer moved",
		slog.String("session_id", sessionID),
		slog.Int64("target_version", target),
		slog.String("author_id", authorID),
	)
}

// LogLockWait logs a caller queuing behind a session lock holder.
func LogLockWait(logger *slog.Logger, sessionID, waiterID, holderID string) {
	if logger == nil {
		return
	}
	logger.Debug("lock wait",
		slog.String("session_id", sessionID),
		slog.String("waiter_id", waiterID),
		slog.String("holder_id", holderID),
	)
}

// LogGeneration logs a serialized message-processing cycle completing.
func LogGeneration(logger *slog.Logger, sessionID, authorID string, version int64, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("generation committed",
		slog.String("session_id", sessionID),
		slog.String("author_id", authorID),
		slog.Int64("version", version),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogGenerationError logs a failed message-processing cycle.
func LogGenerationError(logger *slog.Logger, sessionID, authorID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("generation failed",
		slog.String("session_id", sessionID),
		slog.String("author_id", authorID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
