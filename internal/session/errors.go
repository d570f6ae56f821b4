package session

import "errors"

// Sentinel errors for session persistence. These are part of the Store's
// public API and should be checked with errors.Is().
var (
	// ErrNotFound indicates the requested session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrVersionConflict indicates a conditional update lost a race with a
	// concurrent writer. The caller may reload the session and retry.
	ErrVersionConflict = errors.New("session version conflict")

	// ErrDuplicateActive indicates an insert violated the one-active-session
	// -per-entity-per-user constraint. The caller should resume the existing
	// active session instead.
	ErrDuplicateActive = errors.New("active session already exists for entity")
)
