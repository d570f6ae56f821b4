// Package archivist implements the conversational cataloguing
// orchestrator: a stateful pipeline that interviews an observer about a
// denizen, incrementally extracts structured classification fields from
// the dialogue, and gates committing the record on a completeness score.
//
// # Turn shape
//
// Each [Archivist.Chat] call is one request/response cycle. The model is
// invoked with the full message history and the declared tool schemas;
// while it requests tool calls the orchestrator executes them (fanning
// out concurrently within a round) and re-invokes, up to a hard round
// cap. The cap is a cost and latency bound: hitting it ends the loop
// with whatever text the model last produced.
//
// After the conversation settles, a separate single-shot extraction call
// turns the exchange into a partial field record, which is merged into
// the session's accumulated fields, revalidated, and persisted in one
// conditional write.
//
// # Failure policy
//
// Tool failures and extraction failures degrade: the turn still yields
// an agent message. Model errors and persistence errors fail the turn.
// Nothing in this package retries; transient-failure handling belongs to
// callers.
package archivist
