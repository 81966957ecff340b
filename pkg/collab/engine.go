package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/collabgraph/pkg/collab/hub"
	"github.com/randalmurphal/collabgraph/pkg/collab/lock"
	"github.com/randalmurphal/collabgraph/pkg/collab/observability"
	"github.com/randalmurphal/collabgraph/pkg/collab/store"
)

// Generator produces the next workflow graph for a session, given the
// current one. It stands in for the AI collaborator: the engine treats its
// output as just another committed edit. The description becomes the
// snapshot description; empty means "AI-generated workflow".
type Generator func(ctx context.Context, current *Graph) (g *Graph, description string, err error)

// RevertResult is the outcome of a pointer move.
type RevertResult struct {
	Version int64  `json:"version"`
	Graph   *Graph `json:"graph"`
	Message string `json:"message"`
}

// Engine wires the conflict resolver, version store, session lock manager,
// and realtime hub into the operations a session handler calls. One engine
// serves all sessions of a process; sessions never block each other.
type Engine struct {
	versions *VersionStore
	resolver *Resolver
	hub      *hub.Hub
	locks    *lock.Manager

	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	lockTimeout time.Duration
	clock       func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLockTimeout caps how long a message waits behind the session lock.
// Zero (the default) waits indefinitely.
func WithLockTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.lockTimeout = d }
}

// WithClock overrides the time source. Useful for tests.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates an engine over the given store and hub. The hub may be
// nil, in which case nothing is broadcast (useful in tests that only
// exercise resolution and versioning).
func NewEngine(st store.Store, h *hub.Hub, opts ...EngineOption) *Engine {
	e := &Engine{
		hub:     h,
		metrics: observability.NoopMetrics{},
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.versions = NewVersionStore(st).WithClock(e.clock)
	e.resolver = NewResolver(st, e.versions)

	lockOpts := []lock.Option{}
	if h != nil {
		lockOpts = append(lockOpts, lock.WithNotifier(&processingNotifier{hub: h, logger: e.logger}))
	}
	if e.lockTimeout > 0 {
		lockOpts = append(lockOpts, lock.WithTimeout(e.lockTimeout))
	}
	e.locks = lock.NewManager(lockOpts...)
	return e
}

// Versions exposes the engine's version store for direct history access.
func (e *Engine) Versions() *VersionStore { return e.versions }

// ApplyOperations resolves an operation batch against everything committed
// after baseVersion, commits it on success, and broadcasts the committed
// result to every participant of the session, the author included.
//
// A conflict is not an error: the returned Result carries the messages and
// the current graph for the client to rebase on, and nothing is broadcast.
func (e *Engine) ApplyOperations(ctx context.Context, sessionID, authorID string, baseVersion int64, ops []Operation) (Result, error) {
	ctx, span := observability.StartResolveSpan(ctx, sessionID, baseVersion, len(ops))
	start := time.Now()

	res, err := e.resolver.Resolve(ctx, sessionID, authorID, baseVersion, ops)
	if err != nil {
		observability.EndSpanWithError(span, err)
		return Result{}, err
	}
	e.metrics.RecordResolve(ctx, string(res.Status), time.Since(start))

	if res.Status == StatusConflict {
		observability.LogConflict(e.logger, sessionID, baseVersion, res.Conflicts)
		observability.AddSpanEvent(ctx, "conflict")
		observability.EndSpanWithError(span, nil)
		return res, nil
	}

	// An empty batch is a no-op success: nothing committed, nothing to
	// broadcast.
	if len(ops) > 0 {
		observability.LogCommit(e.logger, sessionID, res.Version, string(res.Status), len(ops))
		e.broadcastCommit(ctx, sessionID, authorID, res)
	}
	observability.EndSpanWithError(span, nil)
	return res, nil
}

// VersionTimeline returns the session's surviving snapshots with the
// current pointer flagged.
func (e *Engine) VersionTimeline(ctx context.Context, sessionID string) (Timeline, error) {
	return e.versions.History(ctx, sessionID)
}

// Revert moves the session's version pointer to target without creating a
// snapshot, and broadcasts the move to every participant, the author
// included. It implements undo, redo, and revert-to-arbitrary.
func (e *Engine) Revert(ctx context.Context, sessionID, authorID string, target int64) (RevertResult, error) {
	g, err := e.versions.MoveTo(ctx, sessionID, target)
	if err != nil {
		return RevertResult{}, err
	}
	observability.LogVersionMove(e.logger, sessionID, target, authorID)

	if e.hub != nil {
		state, err := e.versions.State(ctx, sessionID)
		if err != nil {
			return RevertResult{}, err
		}
		graphJSON, err := json.Marshal(g)
		if err != nil {
			return RevertResult{}, fmt.Errorf("marshal graph: %w", err)
		}
		e.hub.Broadcast(sessionID, hub.NewEnvelope(hub.EventVersionMoved, sessionID, hub.VersionMovedPayload{
			CurrentVersion: target,
			MaxVersion:     state.MaxVersion,
			Graph:          graphJSON,
			AuthorID:       authorID,
		}))
	}

	return RevertResult{
		Version: target,
		Graph:   g,
		Message: fmt.Sprintf("moved to version %d", target),
	}, nil
}

// Undo moves the pointer one version back.
func (e *Engine) Undo(ctx context.Context, sessionID, authorID string) (RevertResult, error) {
	state, err := e.versions.State(ctx, sessionID)
	if err != nil {
		return RevertResult{}, err
	}
	return e.Revert(ctx, sessionID, authorID, state.CurrentVersion-1)
}

// Redo moves the pointer one version forward.
func (e *Engine) Redo(ctx context.Context, sessionID, authorID string) (RevertResult, error) {
	state, err := e.versions.State(ctx, sessionID)
	if err != nil {
		return RevertResult{}, err
	}
	return e.Revert(ctx, sessionID, authorID, state.CurrentVersion+1)
}

// SnapshotAt returns the graph at a surviving version without moving the
// pointer.
func (e *Engine) SnapshotAt(ctx context.Context, sessionID string, version int64) (*Graph, error) {
	return e.versions.Peek(ctx, sessionID, version)
}

// ProcessMessage runs one serialized message-processing cycle: it acquires
// the session lock (queuing behind any in-flight cycle, with queue status
// broadcast to participants), invokes the generator against the current
// graph, commits its output as an AI-authored snapshot, and broadcasts the
// commit.
//
// Lock acquisition honors ctx. Once acquired, the cycle runs detached from
// ctx's cancellation: a client disconnecting mid-generation does not abort
// the in-flight call. The commit and broadcast complete on the absent
// client's behalf, and the lock is released on every exit path.
func (e *Engine) ProcessMessage(ctx context.Context, sessionID, authorID string, generate Generator) (Result, error) {
	ctx, span := observability.StartGenerationSpan(ctx, sessionID, authorID)
	done := observability.TimedOperation()
	queuedAt := time.Now()

	var res Result
	err := e.locks.WithLock(ctx, sessionID, authorID, func(ctx context.Context) error {
		e.metrics.RecordLockWait(ctx, time.Since(queuedAt))
		ctx = context.WithoutCancel(ctx)

		current, _, err := e.versions.CurrentGraph(ctx, sessionID)
		if errors.Is(err, ErrNotFound) {
			current = NewGraph()
		} else if err != nil {
			return err
		}

		g, description, err := generate(ctx, current)
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		if description == "" {
			description = "AI-generated workflow"
		}

		version, err := e.versions.Commit(ctx, sessionID, g, description, authorID, nil)
		if err != nil {
			return err
		}

		res = Result{
			SessionID: sessionID,
			Status:    StatusApplied,
			Version:   version,
			Graph:     g,
		}
		e.broadcastCommit(ctx, sessionID, authorID, res)
		return nil
	})

	if err != nil {
		observability.LogGenerationError(e.logger, sessionID, authorID, err)
		observability.EndSpanWithError(span, err)
		return Result{}, err
	}
	observability.LogGeneration(e.logger, sessionID, authorID, res.Version, done())
	observability.EndSpanWithError(span, nil)
	return res, nil
}

func (e *Engine) broadcastCommit(ctx context.Context, sessionID, authorID string, res Result) {
	graphJSON, err := json.Marshal(res.Graph)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("marshal committed graph",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
		}
		return
	}
	e.metrics.RecordCommit(ctx, int64(len(graphJSON)))
	if e.hub == nil {
		return
	}
	e.hub.Broadcast(sessionID, hub.NewEnvelope(hub.EventOperationCommitted, sessionID, hub.OperationCommittedPayload{
		Version:  res.Version,
		Graph:    graphJSON,
		Status:   string(res.Status),
		AuthorID: authorID,
	}))
}

// processingNotifier bridges lock lifecycle transitions onto the realtime
// channel as processing events.
type processingNotifier struct {
	hub    *hub.Hub
	logger *slog.Logger
}

// Queued implements lock.Notifier.
func (n *processingNotifier) Queued(sessionID, waiterID, holderID string) {
	observability.LogLockWait(n.logger, sessionID, waiterID, holderID)
	n.hub.Broadcast(sessionID, hub.NewEnvelope(hub.EventProcessing, sessionID, hub.ProcessingPayload{
		Status:   hub.ProcessingQueued,
		HolderID: holderID,
		WaiterID: waiterID,
		Message:  fmt.Sprintf("request from %s is waiting: another message is being processed", waiterID),
	}))
}

// Started implements lock.Notifier.
func (n *processingNotifier) Started(sessionID, holderID string) {
	n.hub.Broadcast(sessionID, hub.NewEnvelope(hub.EventProcessing, sessionID, hub.ProcessingPayload{
		Status:   hub.ProcessingStarted,
		HolderID: holderID,
		Message:  fmt.Sprintf("processing message from %s", holderID),
	}))
}

// Done implements lock.Notifier.
func (n *processingNotifier) Done(sessionID, holderID string) {
	n.hub.Broadcast(sessionID, hub.NewEnvelope(hub.EventProcessing, sessionID, hub.ProcessingPayload{
		Status:   hub.ProcessingDone,
		HolderID: holderID,
	}))
}
