package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/atlasworld/atlas/internal/denizen"
)

// Row is the typed database shape of a session. Every column is mapped
// explicitly; JSONB payloads are decoded field by field in rowToSession
// rather than cast through.
type Row struct {
	ID         pgtype.UUID
	UserID     string
	EntityID   *string
	Status     string
	Messages   []byte // JSONB array of Message
	Fields     []byte // JSONB ExtractedFields
	Confidence float64
	Warnings   []byte // JSONB array of strings
	Version    int64
	CreatedAt  pgtype.Timestamptz
	UpdatedAt  pgtype.Timestamptz
}

// CreateParams are the columns written on insert.
type CreateParams struct {
	ID       pgtype.UUID
	UserID   string
	EntityID *string
	Status   string
	Messages []byte
	Fields   []byte
	Warnings []byte
}

// UpdateParams carry a full session snapshot plus the version the update
// is conditional on.
type UpdateParams struct {
	ID         pgtype.UUID
	Messages   []byte
	Fields     []byte
	Confidence float64
	Warnings   []byte
	Version    int64 // expected current version; row moves to Version+1
}

// SetStatusParams update the lifecycle column (and optionally the entity
// link, set on commit).
type SetStatusParams struct {
	ID       pgtype.UUID
	Status   string
	EntityID *string
}

// ActiveByEntityParams identify the at-most-one active session for an
// (entity, user) pair.
type ActiveByEntityParams struct {
	EntityID string
	UserID   string
}

// DeleteOlderThanParams restrict the maintenance sweep.
type DeleteOlderThanParams struct {
	Statuses []string
	Cutoff   pgtype.Timestamptz
}

// Querier is the database interface the Store consumes. Defined here, by
// the consumer, so unit tests can substitute a mock while production uses
// [PGQuerier] over a pgx pool.
type Querier interface {
	CreateSession(ctx context.Context, arg CreateParams) (Row, error)
	GetSession(ctx context.Context, id pgtype.UUID) (Row, error)
	GetActiveSessionByEntity(ctx context.Context, arg ActiveByEntityParams) (Row, error)
	UpdateSession(ctx context.Context, arg UpdateParams) (int64, error)
	SetSessionStatus(ctx context.Context, arg SetStatusParams) (int64, error)
	DeleteSessionsOlderThan(ctx context.Context, arg DeleteOlderThanParams) (int64, error)
}

// Store persists archivist sessions. It owns the row↔domain mapping and
// the optimistic-concurrency contract; it contains no conversation logic.
//
// Store is safe for concurrent use; all state lives in the database.
type Store struct {
	querier Querier
	logger  *slog.Logger
}

// NewStore creates a session store over the given querier.
func NewStore(querier Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{querier: querier, logger: logger}
}

// Create inserts a new session and returns it with its generated id,
// version and timestamps. A unique-constraint violation on the active
// (entity, user) pair surfaces as [ErrDuplicateActive].
func (s *Store) Create(ctx context.Context, userID, entityID string, messages []Message, fields denizen.ExtractedFields) (*Session, error) {
	msgJSON, fieldsJSON, warnJSON, err := encodePayloads(messages, fields, nil)
	if err != nil {
		return nil, err
	}

	var entityPtr *string
	if entityID != "" {
		entityPtr = &entityID
	}

	row, err := s.querier.CreateSession(ctx, CreateParams{
		ID:       uuidToPg(uuid.New()),
		UserID:   userID,
		EntityID: entityPtr,
		Status:   string(StatusActive),
		Messages: msgJSON,
		Fields:   fieldsJSON,
		Warnings: warnJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	sess, err := rowToSession(row)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("created session", "id", sess.ID, "user_id", userID, "entity_id", entityID)
	return sess, nil
}

// Get retrieves a session by id. Returns [ErrNotFound] if no row exists.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	row, err := s.querier.GetSession(ctx, uuidToPg(id))
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return rowToSession(row)
}

// ActiveByEntity returns the active session linked to (entityID, userID),
// or [ErrNotFound] when none exists.
func (s *Store) ActiveByEntity(ctx context.Context, entityID, userID string) (*Session, error) {
	row, err := s.querier.GetActiveSessionByEntity(ctx, ActiveByEntityParams{
		EntityID: entityID,
		UserID:   userID,
	})
	if err != nil {
		return nil, fmt.Errorf("active session for entity %s: %w", entityID, err)
	}
	return rowToSession(row)
}

// Update persists the session's messages, fields, confidence and warnings
// in one write, conditional on sess.Version matching the stored row and
// the stored row still being active. On success sess.Version is advanced
// to the new value; a lost race against another turn or against a
// commit/abandon returns [ErrVersionConflict] and the stored session is
// left unchanged.
func (s *Store) Update(ctx context.Context, sess *Session) error {
	msgJSON, fieldsJSON, warnJSON, err := encodePayloads(sess.Messages, sess.Fields, sess.Warnings)
	if err != nil {
		return err
	}

	affected, err := s.querier.UpdateSession(ctx, UpdateParams{
		ID:         uuidToPg(sess.ID),
		Messages:   msgJSON,
		Fields:     fieldsJSON,
		Confidence: sess.Confidence,
		Warnings:   warnJSON,
		Version:    sess.Version,
	})
	if err != nil {
		return fmt.Errorf("update session %s: %w", sess.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("update session %s at version %d: %w", sess.ID, sess.Version, ErrVersionConflict)
	}

	sess.Version++
	s.logger.Debug("updated session", "id", sess.ID, "version", sess.Version)
	return nil
}

// SetStatus transitions the session's lifecycle column. entityID, when
// non-empty, is written alongside (used by commit to link the session to
// the entity it produced). Returns [ErrNotFound] for an unknown id.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status, entityID string) error {
	var entityPtr *string
	if entityID != "" {
		entityPtr = &entityID
	}

	affected, err := s.querier.SetSessionStatus(ctx, SetStatusParams{
		ID:       uuidToPg(id),
		Status:   string(status),
		EntityID: entityPtr,
	})
	if err != nil {
		return fmt.Errorf("set status of session %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("set status of session %s: %w", id, ErrNotFound)
	}

	s.logger.Debug("session status changed", "id", id, "status", status)
	return nil
}

// DeleteOlderThan removes sessions whose status is in statuses and whose
// last activity predates cutoff. Active sessions are never swept: any
// non-terminal status in the list is rejected outright rather than
// silently filtered, to catch caller bugs.
func (s *Store) DeleteOlderThan(ctx context.Context, statuses []Status, cutoff time.Time) (int64, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		if !st.Terminal() {
			return 0, fmt.Errorf("refusing to sweep non-terminal status %q", st)
		}
		names = append(names, string(st))
	}
	if len(names) == 0 {
		return 0, nil
	}

	deleted, err := s.querier.DeleteSessionsOlderThan(ctx, DeleteOlderThanParams{
		Statuses: names,
		Cutoff:   pgtype.Timestamptz{Time: cutoff, Valid: true},
	})
	if err != nil {
		return 0, fmt.Errorf("delete sessions older than %s: %w", cutoff, err)
	}

	if deleted > 0 {
		s.logger.Info("swept terminal sessions", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

func encodePayloads(messages []Message, fields denizen.ExtractedFields, warnings []string) (msg, flds, warn []byte, err error) {
	if messages == nil {
		messages = []Message{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	if msg, err = json.Marshal(messages); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal messages: %w", err)
	}
	if flds, err = json.Marshal(fields); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal fields: %w", err)
	}
	if warn, err = json.Marshal(warnings); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal warnings: %w", err)
	}
	return msg, flds, warn, nil
}

// rowToSession converts a database row to the application type.
func rowToSession(row Row) (*Session, error) {
	status, ok := ParseStatus(row.Status)
	if !ok {
		return nil, fmt.Errorf("session %s has unknown status %q", pgToUUID(row.ID), row.Status)
	}

	sess := &Session{
		ID:         pgToUUID(row.ID),
		UserID:     row.UserID,
		Status:     status,
		Confidence: row.Confidence,
		Version:    row.Version,
		CreatedAt:  row.CreatedAt.Time,
		UpdatedAt:  row.UpdatedAt.Time,
	}
	if row.EntityID != nil {
		sess.EntityID = *row.EntityID
	}

	if len(row.Messages) > 0 {
		if err := json.Unmarshal(row.Messages, &sess.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages of session %s: %w", sess.ID, err)
		}
	}
	if len(row.Fields) > 0 {
		if err := json.Unmarshal(row.Fields, &sess.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields of session %s: %w", sess.ID, err)
		}
	}
	if len(row.Warnings) > 0 {
		if err := json.Unmarshal(row.Warnings, &sess.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshal warnings of session %s: %w", sess.ID, err)
		}
	}

	return sess, nil
}

func uuidToPg(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgToUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
