/*
Package collab provides collaborative state synchronization for multi-user
editing of workflow graphs.

# Overview

collab keeps one shared directed graph consistent across any number of
concurrent editors, human or AI. Every edit batch declares the version the
client last saw; the conflict resolver compares the batch against
everything committed after that version and applies, merges, or rejects it.
Accepted batches become immutable snapshots in a per-session version
history with git-style undo, redo, and revert.

The engine is a library, not a server: a websocket or HTTP layer feeds it
operations and relays its broadcast events to clients.

# Basic Usage

Create an engine over a store and a hub. A session starts existing when
its first workflow is committed, typically by an AI generation; manual
edits then build on it:

	st := store.NewMemoryStore()
	defer st.Close()

	h := hub.New()
	defer h.Close()

	engine := collab.NewEngine(st, h)

	// Version 1: the generated workflow.
	first, err := engine.ProcessMessage(ctx, "session-1", "alice", generate)
	if err != nil {
	    log.Fatal(err)
	}

	// Version 2: a manual edit on top of it.
	res, err := engine.ApplyOperations(ctx, "session-1", "alice", first.Version, []collab.Operation{
	    collab.AddNode{Node: collab.Node{ID: "start", Label: "Start", Kind: "input"}},
	})
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Println(res.Status, res.Version) // "applied 2"

# Conflict Handling

A conflict is a normal outcome, not an error. The result carries the
messages and the authoritative graph for the client to rebase on:

	res, err := engine.ApplyOperations(ctx, sessionID, "bob", staleVersion, ops)
	if err != nil {
	    log.Fatal(err)
	}
	if res.Status == collab.StatusConflict {
	    for _, msg := range res.Conflicts {
	        fmt.Println(msg)
	    }
	    // Re-fetch res.Graph, rebuild the batch, retry with res.Version.
	}

Batches touching disjoint parts of the graph merge automatically; only
batches editing the same node or edge as a concurrent commit are rejected.

# Version History

Undo and redo move a pointer through the surviving snapshots. Committing
while rewound discards the versions ahead of the pointer, like committing
on a rewound git branch:

	engine.Undo(ctx, sessionID, "alice")      // pointer 5 -> 4
	engine.Undo(ctx, sessionID, "alice")      // pointer 4 -> 3
	engine.ApplyOperations(ctx, sessionID, "alice", 3, ops) // 4 and 5 are gone; new commit is 4

	timeline, _ := engine.VersionTimeline(ctx, sessionID)
	for _, v := range timeline.Versions {
	    fmt.Println(v.Version, v.Description, v.IsCurrent)
	}

# AI Messages

ProcessMessage serializes AI generation per session: one generation runs at
a time, later messages queue, and participants see queued/started/done
processing events through the hub:

	res, err := engine.ProcessMessage(ctx, sessionID, "alice",
	    func(ctx context.Context, current *collab.Graph) (*collab.Graph, string, error) {
	        next := current.Clone()
	        // ... call the model, mutate next ...
	        return next, "added an approval step", nil
	    })

# Realtime Events

Participants join a session on the hub and read envelopes from their
connection channel. Commits and version moves are broadcast to everyone,
the author included; typing indicators skip the sender:

	conn, _ := h.Join(sessionID, hub.Participant{ID: "alice", Name: "Alice"})
	for {
	    select {
	    case evt := <-conn.Events():
	        // forward to the websocket
	    case <-conn.Done():
	        return
	    }
	}

# Persistence

Two store implementations are provided: store.NewMemoryStore for tests and
single-process use, and store.NewSQLiteStore for durable history that
survives restarts.
*/
package collab
