package world

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/atlasworld/atlas/internal/denizen"
)

// DenizenRow is the database representation of a catalogue entry.
type DenizenRow struct {
	ID            string
	Name          string
	EntityType    string
	Allegiance    string
	Domain        string
	Description   string
	Subtitle      string
	ThreatLevel   string
	Lore          string
	FirstObserved string
	Glyphs        string
	CoordGeometry float64
	CoordAlterity float64
	CoordDynamics float64
	Features      []byte
	Extended      []byte
	CreatedAt     pgtype.Timestamptz
	UpdatedAt     pgtype.Timestamptz
}

// SearchRow is a catalogue entry joined with its similarity score.
type SearchRow struct {
	DenizenRow
	Score float64
}

// UpsertParams carries a denizen write plus its pre-marshaled JSON
// columns and optional embedding.
type UpsertParams struct {
	Denizen   denizen.Denizen
	Features  []byte
	Extended  []byte
	Embedding *pgvector.Vector
}

// PGQuerier implements Querier against PostgreSQL with pgvector.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier creates a PostgreSQL-backed querier for the catalogue.
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

const denizenColumns = `id, name, entity_type, allegiance, domain, description,
	subtitle, threat_level, lore, first_observed, glyphs,
	coord_geometry, coord_alterity, coord_dynamics,
	features, extended, created_at, updated_at`

const upsertDenizenSQL = `
INSERT INTO denizens (
	id, name, entity_type, allegiance, domain, description,
	subtitle, threat_level, lore, first_observed, glyphs,
	coord_geometry, coord_alterity, coord_dynamics,
	features, extended, embedding
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	entity_type = EXCLUDED.entity_type,
	allegiance = EXCLUDED.allegiance,
	domain = EXCLUDED.domain,
	description = EXCLUDED.description,
	subtitle = EXCLUDED.subtitle,
	threat_level = EXCLUDED.threat_level,
	lore = EXCLUDED.lore,
	first_observed = EXCLUDED.first_observed,
	glyphs = EXCLUDED.glyphs,
	coord_geometry = EXCLUDED.coord_geometry,
	coord_alterity = EXCLUDED.coord_alterity,
	coord_dynamics = EXCLUDED.coord_dynamics,
	features = EXCLUDED.features,
	extended = EXCLUDED.extended,
	embedding = EXCLUDED.embedding,
	updated_at = now()`

// UpsertDenizen inserts or replaces a catalogue entry by id.
func (q *PGQuerier) UpsertDenizen(ctx context.Context, arg UpsertParams) error {
	d := arg.Denizen
	_, err := q.pool.Exec(ctx, upsertDenizenSQL,
		d.ID, d.Name, string(d.Type), string(d.Allegiance), d.Domain, d.Description,
		d.Subtitle, string(d.ThreatLevel), d.Lore, d.FirstObserved, d.Glyphs,
		d.CoordGeometry, d.CoordAlterity, d.CoordDynamics,
		arg.Features, arg.Extended, arg.Embedding,
	)
	return err
}

const searchDenizensSQL = `
SELECT ` + denizenColumns + `, 1 - (embedding <=> $1) AS score
FROM denizens
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1
LIMIT $2`

// SearchDenizens returns catalogue entries ranked by cosine similarity
// to the query embedding.
func (q *PGQuerier) SearchDenizens(ctx context.Context, embedding pgvector.Vector, limit int32) ([]SearchRow, error) {
	rows, err := q.pool.Query(ctx, searchDenizensSQL, embedding, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var row SearchRow
		if err := scanDenizen(rows.Scan, &row.DenizenRow, &row.Score); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const listDenizensSQL = `
SELECT ` + denizenColumns + `
FROM denizens
ORDER BY created_at DESC`

// ListDenizens returns every catalogue entry, newest first.
func (q *PGQuerier) ListDenizens(ctx context.Context) ([]DenizenRow, error) {
	rows, err := q.pool.Query(ctx, listDenizensSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DenizenRow
	for rows.Next() {
		var row DenizenRow
		if err := scanDenizen(rows.Scan, &row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountDenizens returns the number of catalogued entries.
func (q *PGQuerier) CountDenizens(ctx context.Context) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx, `SELECT count(*) FROM denizens`).Scan(&n)
	return n, err
}

func scanDenizen(scan func(...any) error, row *DenizenRow, extra ...any) error {
	dest := []any{
		&row.ID, &row.Name, &row.EntityType, &row.Allegiance, &row.Domain, &row.Description,
		&row.Subtitle, &row.ThreatLevel, &row.Lore, &row.FirstObserved, &row.Glyphs,
		&row.CoordGeometry, &row.CoordAlterity, &row.CoordDynamics,
		&row.Features, &row.Extended, &row.CreatedAt, &row.UpdatedAt,
	}
	dest = append(dest, extra...)
	return scan(dest...)
}

func rowToDenizen(row DenizenRow) (denizen.Denizen, error) {
	d := denizen.Denizen{
		ID:            row.ID,
		Name:          row.Name,
		Type:          denizen.EntityType(row.EntityType),
		Allegiance:    denizen.Allegiance(row.Allegiance),
		Domain:        row.Domain,
		Description:   row.Description,
		Subtitle:      row.Subtitle,
		ThreatLevel:   denizen.ThreatLevel(row.ThreatLevel),
		Lore:          row.Lore,
		FirstObserved: row.FirstObserved,
		Glyphs:        row.Glyphs,
		CoordGeometry: row.CoordGeometry,
		CoordAlterity: row.CoordAlterity,
		CoordDynamics: row.CoordDynamics,
		CreatedAt:     row.CreatedAt.Time,
		UpdatedAt:     row.UpdatedAt.Time,
	}
	if len(row.Features) > 0 {
		if err := json.Unmarshal(row.Features, &d.Features); err != nil {
			return denizen.Denizen{}, fmt.Errorf("unmarshal features: %w", err)
		}
	}
	if len(row.Extended) > 0 {
		var ext denizen.Extended
		if err := json.Unmarshal(row.Extended, &ext); err != nil {
			return denizen.Denizen{}, fmt.Errorf("unmarshal extended: %w", err)
		}
		if !ext.Empty() {
			d.Extended = &ext
		}
	}
	return d, nil
}
