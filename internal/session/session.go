package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/atlasworld/atlas/internal/denizen"
)

// Status is the session lifecycle state. Completed and abandoned are
// terminal; no transition leaves them.
type Status string

// Valid statuses.
const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// ParseStatus returns the Status matching s exactly.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusActive, StatusCompleted, StatusAbandoned:
		return Status(s), true
	}
	return "", false
}

// Message roles. The archivist side of the dialogue uses "agent", not
// "assistant": the role names are part of the persisted message log.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Message is one entry in a session's append-only message log.
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a single cataloguing conversation (application-level type).
//
// Version is a monotonic counter incremented on every persisted update;
// [Store.Update] uses it as a compare-and-swap guard so concurrent turns
// against one session fail fast instead of silently losing data.
type Session struct {
	ID         uuid.UUID
	UserID     string
	EntityID   string // optional link to a pre-existing record being edited
	Status     Status
	Messages   []Message
	Fields     denizen.ExtractedFields
	Confidence float64
	Warnings   []string
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AppendMessage appends to the in-memory message log.
func (s *Session) AppendMessage(role, text string, at time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Text: text, Timestamp: at})
}
