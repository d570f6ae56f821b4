// Package world maintains the shared catalogue of denizens and derives
// the bounded world-context digest used to ground the archivist's
// prompts. Similarity search runs over pgvector embeddings generated
// from each entity's name, domain and description.
package world

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/atlasworld/atlas/internal/denizen"
)

// Match is one similarity-search result.
type Match struct {
	Denizen denizen.Denizen
	Score   float64 // cosine similarity, higher is closer
}

// Querier is the database interface the Store consumes.
type Querier interface {
	UpsertDenizen(ctx context.Context, arg UpsertParams) error
	SearchDenizens(ctx context.Context, embedding pgvector.Vector, limit int32) ([]SearchRow, error)
	ListDenizens(ctx context.Context) ([]DenizenRow, error)
	CountDenizens(ctx context.Context) (int64, error)
}

// Store manages the denizen catalogue with vector search. It handles
// embedding generation on write and similarity queries on read.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	querier  Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a catalogue store. The embedder may be nil, in which
// case writes persist without an embedding and similarity search returns
// no results (degraded but functional).
func NewStore(querier Querier, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{querier: querier, embedder: embedder, logger: logger}
}

// Upsert writes a denizen to the catalogue, generating its embedding
// from name, domain and description.
func (s *Store) Upsert(ctx context.Context, d denizen.Denizen) error {
	if d.ID == "" {
		return fmt.Errorf("denizen has no id")
	}

	var embedding *pgvector.Vector
	if s.embedder != nil {
		vec, err := s.embed(ctx, embeddingText(d))
		if err != nil {
			return fmt.Errorf("embed denizen %s: %w", d.ID, err)
		}
		embedding = &vec
	}

	featuresJSON, err := json.Marshal(d.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	extendedJSON, err := json.Marshal(d.Extended)
	if err != nil {
		return fmt.Errorf("marshal extended: %w", err)
	}

	if err := s.querier.UpsertDenizen(ctx, UpsertParams{
		Denizen:   d,
		Features:  featuresJSON,
		Extended:  extendedJSON,
		Embedding: embedding,
	}); err != nil {
		return fmt.Errorf("upsert denizen %s: %w", d.ID, err)
	}

	s.logger.Debug("upserted denizen", "id", d.ID, "name", d.Name)
	return nil
}

// Search returns the denizens most similar to the query text, ranked by
// cosine similarity. Without an embedder it returns an empty result.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if s.embedder == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.querier.SearchDenizens(ctx, vec, int32(limit)) // #nosec G115 -- limit is capped by callers
	if err != nil {
		return nil, fmt.Errorf("search denizens: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		d, err := rowToDenizen(row.DenizenRow)
		if err != nil {
			s.logger.Warn("skipping malformed denizen row", "id", row.ID, "error", err)
			continue
		}
		matches = append(matches, Match{Denizen: d, Score: row.Score})
	}
	return matches, nil
}

// All returns every catalogued denizen, newest first.
func (s *Store) All(ctx context.Context) ([]denizen.Denizen, error) {
	rows, err := s.querier.ListDenizens(ctx)
	if err != nil {
		return nil, fmt.Errorf("list denizens: %w", err)
	}

	out := make([]denizen.Denizen, 0, len(rows))
	for _, row := range rows {
		d, err := rowToDenizen(row)
		if err != nil {
			s.logger.Warn("skipping malformed denizen row", "id", row.ID, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Summarize produces the bounded textual digest of the catalogue used
// for prompt grounding.
func (s *Store) Summarize(ctx context.Context) (string, error) {
	all, err := s.All(ctx)
	if err != nil {
		return "", err
	}
	return Summarize(all), nil
}

func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{{Content: []*ai.Part{ai.NewTextPart(text)}}},
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding returned")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

func embeddingText(d denizen.Denizen) string {
	parts := []string{d.Name, d.Domain, d.Description}
	if len(d.Features) > 0 {
		parts = append(parts, strings.Join(d.Features, ", "))
	}
	return strings.Join(parts, "\n")
}
