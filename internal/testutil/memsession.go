package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/atlasworld/atlas/internal/session"
)

// MemSessionQuerier is an in-memory session.Querier with the same
// semantics as the PostgreSQL implementation: version-conditional
// updates, the at-most-one-active-session-per-(entity,user) constraint,
// and status-filtered sweeps. It lets orchestrator tests run the full
// store path without a database.
//
// Safe for concurrent use.
type MemSessionQuerier struct {
	mu   sync.Mutex
	rows map[[16]byte]session.Row
}

// NewMemSessionQuerier creates an empty in-memory querier.
func NewMemSessionQuerier() *MemSessionQuerier {
	return &MemSessionQuerier{rows: make(map[[16]byte]session.Row)}
}

// CreateSession inserts a row, enforcing the active-entity uniqueness
// constraint the real schema carries as a partial unique index.
func (m *MemSessionQuerier) CreateSession(_ context.Context, arg session.CreateParams) (session.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if arg.EntityID != nil && arg.Status == string(session.StatusActive) {
		for _, row := range m.rows {
			if row.Status == string(session.StatusActive) &&
				row.EntityID != nil && *row.EntityID == *arg.EntityID &&
				row.UserID == arg.UserID {
				return session.Row{}, session.ErrDuplicateActive
			}
		}
	}

	now := pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
	row := session.Row{
		ID:        arg.ID,
		UserID:    arg.UserID,
		EntityID:  arg.EntityID,
		Status:    arg.Status,
		Messages:  arg.Messages,
		Fields:    arg.Fields,
		Warnings:  arg.Warnings,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.rows[arg.ID.Bytes] = row
	return row, nil
}

func (m *MemSessionQuerier) GetSession(_ context.Context, id pgtype.UUID) (session.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id.Bytes]
	if !ok {
		return session.Row{}, session.ErrNotFound
	}
	return row, nil
}

func (m *MemSessionQuerier) GetActiveSessionByEntity(_ context.Context, arg session.ActiveByEntityParams) (session.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if row.Status == string(session.StatusActive) &&
			row.EntityID != nil && *row.EntityID == arg.EntityID &&
			row.UserID == arg.UserID {
			return row, nil
		}
	}
	return session.Row{}, session.ErrNotFound
}

// UpdateSession applies the snapshot only when the stored version
// matches and the session is still active, mirroring the conditional
// UPDATE. Terminal sessions reject the write even at the right version
// because status changes do not advance the version counter.
func (m *MemSessionQuerier) UpdateSession(_ context.Context, arg session.UpdateParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[arg.ID.Bytes]
	if !ok || row.Version != arg.Version || row.Status != string(session.StatusActive) {
		return 0, nil
	}

	row.Messages = arg.Messages
	row.Fields = arg.Fields
	row.Confidence = arg.Confidence
	row.Warnings = arg.Warnings
	row.Version++
	row.UpdatedAt = pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
	m.rows[arg.ID.Bytes] = row
	return 1, nil
}

func (m *MemSessionQuerier) SetSessionStatus(_ context.Context, arg session.SetStatusParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[arg.ID.Bytes]
	if !ok {
		return 0, nil
	}
	row.Status = arg.Status
	if arg.EntityID != nil {
		row.EntityID = arg.EntityID
	}
	row.UpdatedAt = pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
	m.rows[arg.ID.Bytes] = row
	return 1, nil
}

func (m *MemSessionQuerier) DeleteSessionsOlderThan(_ context.Context, arg session.DeleteOlderThanParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := make(map[string]struct{}, len(arg.Statuses))
	for _, s := range arg.Statuses {
		allowed[s] = struct{}{}
	}

	var deleted int64
	for key, row := range m.rows {
		if _, ok := allowed[row.Status]; !ok {
			continue
		}
		if row.UpdatedAt.Time.Before(arg.Cutoff.Time) {
			delete(m.rows, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports how many rows the querier holds.
func (m *MemSessionQuerier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Touch rewinds a session's last-activity timestamp, for sweep tests.
func (m *MemSessionQuerier) Touch(id pgtype.UUID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row, ok := m.rows[id.Bytes]; ok {
		row.UpdatedAt = pgtype.Timestamptz{Time: at, Valid: true}
		m.rows[id.Bytes] = row
	}
}
