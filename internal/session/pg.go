package session

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGQuerier implements Querier over a pgx connection pool.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier creates a PostgreSQL-backed querier.
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

const sessionColumns = `id, user_id, entity_id, status, messages, extracted_fields, confidence, warnings, version, created_at, updated_at`

const createSessionSQL = `
INSERT INTO archivist_sessions (id, user_id, entity_id, status, messages, extracted_fields, warnings)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + sessionColumns

// CreateSession inserts a session row. A violation of the partial unique
// index on active (entity_id, user_id) maps to ErrDuplicateActive.
func (q *PGQuerier) CreateSession(ctx context.Context, arg CreateParams) (Row, error) {
	row := q.pool.QueryRow(ctx, createSessionSQL,
		arg.ID, arg.UserID, arg.EntityID, arg.Status, arg.Messages, arg.Fields, arg.Warnings)

	r, err := scanSession(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Row{}, ErrDuplicateActive
		}
		return Row{}, err
	}
	return r, nil
}

const getSessionSQL = `SELECT ` + sessionColumns + ` FROM archivist_sessions WHERE id = $1`

func (q *PGQuerier) GetSession(ctx context.Context, id pgtype.UUID) (Row, error) {
	r, err := scanSession(q.pool.QueryRow(ctx, getSessionSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	return r, err
}

const getActiveByEntitySQL = `
SELECT ` + sessionColumns + `
FROM archivist_sessions
WHERE entity_id = $1 AND user_id = $2 AND status = 'active'
LIMIT 1`

func (q *PGQuerier) GetActiveSessionByEntity(ctx context.Context, arg ActiveByEntityParams) (Row, error) {
	r, err := scanSession(q.pool.QueryRow(ctx, getActiveByEntitySQL, arg.EntityID, arg.UserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	return r, err
}

const updateSessionSQL = `
UPDATE archivist_sessions
SET messages = $2,
    extracted_fields = $3,
    confidence = $4,
    warnings = $5,
    version = version + 1,
    updated_at = now()
WHERE id = $1 AND version = $6 AND status = 'active'`

// UpdateSession performs the compare-and-swap write. Zero rows affected
// means the expected version no longer matches, the session has left
// the active state, or the row is gone; the Store maps all of that to
// ErrVersionConflict. The status guard matters because SetSessionStatus
// does not advance the version: without it a stale snapshot could write
// conversation state into a session that just turned terminal.
func (q *PGQuerier) UpdateSession(ctx context.Context, arg UpdateParams) (int64, error) {
	tag, err := q.pool.Exec(ctx, updateSessionSQL,
		arg.ID, arg.Messages, arg.Fields, arg.Confidence, arg.Warnings, arg.Version)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const setStatusSQL = `
UPDATE archivist_sessions
SET status = $2,
    entity_id = COALESCE($3, entity_id),
    updated_at = now()
WHERE id = $1`

func (q *PGQuerier) SetSessionStatus(ctx context.Context, arg SetStatusParams) (int64, error) {
	tag, err := q.pool.Exec(ctx, setStatusSQL, arg.ID, arg.Status, arg.EntityID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deleteOlderThanSQL = `
DELETE FROM archivist_sessions
WHERE status = ANY($1) AND updated_at < $2`

func (q *PGQuerier) DeleteSessionsOlderThan(ctx context.Context, arg DeleteOlderThanParams) (int64, error) {
	tag, err := q.pool.Exec(ctx, deleteOlderThanSQL, arg.Statuses, arg.Cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (Row, error) {
	var r Row
	err := row.Scan(
		&r.ID, &r.UserID, &r.EntityID, &r.Status, &r.Messages, &r.Fields,
		&r.Confidence, &r.Warnings, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}
