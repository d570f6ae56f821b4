// Package session provides durable persistence for archivist cataloguing
// sessions in PostgreSQL.
//
// A session is one bounded conversation, from start to commit or abandon.
// The [Store] handles persistence while the archivist orchestrator owns
// conversation logic; the store is deliberately free of business rules
// beyond two safety checks (terminal-only sweeps, version-guarded writes).
//
// Key operations:
//
//   - Lifecycle: [Store.Create], [Store.Get], [Store.ActiveByEntity], [Store.SetStatus]
//   - Turn persistence: [Store.Update] (single atomic write per chat turn)
//   - Maintenance: [Store.DeleteOlderThan] (terminal statuses only)
//
// # Write Safety
//
// [Store.Update] is conditional on the session's version column
// (compare-and-swap). Two concurrent turns against the same session do
// not silently last-write-win; the loser gets [ErrVersionConflict] and
// can reload and retry.
//
// The at-most-one-active-session-per-entity-per-user invariant is
// enforced by a partial unique index; a create that loses that race
// returns [ErrDuplicateActive] so the caller can resume the winner.
package session
