package archivist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/atlasworld/atlas/internal/denizen"
	"github.com/atlasworld/atlas/internal/session"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultMaxToolRounds   = 3
	DefaultToolTimeout     = 15 * time.Second
	DefaultCommitThreshold = 0.7
	DefaultTemperature     = 0.8
)

// WorldContext produces the bounded catalogue digest spliced into each
// turn's system instruction.
type WorldContext interface {
	Summarize(ctx context.Context) (string, error)
}

// Config contains all required parameters for the Archivist.
type Config struct {
	Genkit   *genkit.Genkit
	Sessions *session.Store
	World    WorldContext // catalogue digest for prompt grounding; may be nil
	Similar  SimilaritySearcher
	Logger   *slog.Logger

	ModelName   string
	Temperature float32

	MaxToolRounds   int           // tool-call loop cap per turn
	ToolTimeout     time.Duration // per tool invocation
	CommitThreshold float64       // confidence gate for isComplete

	// RateLimiter throttles model calls. Nil installs a default of
	// 5 req/s with a burst of 10.
	RateLimiter *rate.Limiter
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Archivist is the session orchestrator: it owns the per-session
// conversation loop, drives the bounded tool-call loop, runs field
// extraction and merging, and exposes the commit/abandon transitions.
//
// All configuration is captured immutably at construction; an Archivist
// is safe for concurrent use across sessions. Turns against the same
// session are serialized by the store's version guard, not by locking.
type Archivist struct {
	g          *genkit.Genkit
	sessions   *session.Store
	world      WorldContext
	dispatcher *Dispatcher
	toolRefs   []ai.ToolRef // capability schemas, registered once at construction
	logger     *slog.Logger

	modelName   string
	temperature float32

	maxToolRounds   int
	commitThreshold float64
	limiter         *rate.Limiter

	now func() time.Time // test hook
}

// New creates an Archivist from the given configuration.
func New(cfg Config) (*Archivist, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxRounds := cfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	threshold := cfg.CommitThreshold
	if threshold <= 0 {
		threshold = DefaultCommitThreshold
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(5, 10)
	}

	a := &Archivist{
		g:               cfg.Genkit,
		sessions:        cfg.Sessions,
		world:           cfg.World,
		logger:          logger,
		modelName:       cfg.ModelName,
		temperature:     temperature,
		maxToolRounds:   maxRounds,
		commitThreshold: threshold,
		limiter:         limiter,
		now:             time.Now,
	}
	a.dispatcher = NewDispatcher(cfg.Genkit, cfg.Similar, cfg.ModelName, cfg.ToolTimeout, logger)
	a.toolRefs = a.dispatcher.DefineTools(cfg.Genkit)

	logger.Info("archivist initialized",
		"model", cfg.ModelName,
		"max_tool_rounds", maxRounds,
		"commit_threshold", threshold,
	)
	return a, nil
}

// Dispatcher exposes the tool dispatcher, mainly so callers can read
// the diagnostic invocation record.
func (a *Archivist) Dispatcher() *Dispatcher { return a.dispatcher }

// StartParams describe the context available when opening a session.
type StartParams struct {
	UserID   string
	EntityID string // pre-existing record being edited, if any

	// Opening-message context, in descending priority.
	AnalysisNotes    string // pre-existing AI analysis of uploaded media
	MediaDescription string // raw description of uploaded media
	EntityName       string
}

// StartSession opens a cataloguing conversation. When EntityID names an
// entity with an existing active session for this user, that session is
// resumed instead of creating a duplicate. The opening agent message is
// templated from the available context without a model call.
func (a *Archivist) StartSession(ctx context.Context, p StartParams) (*session.Session, error) {
	if p.UserID == "" {
		return nil, errors.New("user id is required")
	}

	if p.EntityID != "" {
		existing, err := a.sessions.ActiveByEntity(ctx, p.EntityID, p.UserID)
		switch {
		case err == nil:
			a.logger.Debug("resuming active session",
				"session_id", existing.ID, "entity_id", p.EntityID)
			return existing, nil
		case !errors.Is(err, session.ErrNotFound):
			return nil, err
		}
	}

	opening := []session.Message{{
		Role:      session.RoleAgent,
		Text:      openingMessage(p),
		Timestamp: a.now().UTC(),
	}}

	sess, err := a.sessions.Create(ctx, p.UserID, p.EntityID, opening, denizen.ExtractedFields{})
	if err != nil {
		// A concurrent StartSession for the same entity can win the
		// insert race; the unique index turns that into a resume.
		if p.EntityID != "" && errors.Is(err, session.ErrDuplicateActive) {
			return a.sessions.ActiveByEntity(ctx, p.EntityID, p.UserID)
		}
		return nil, err
	}
	return sess, nil
}

// GetSession returns the current persisted state of a session.
func (a *Archivist) GetSession(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	return a.sessions.Get(ctx, id)
}

// GetExtractedFields returns the fields accumulated so far.
func (a *Archivist) GetExtractedFields(ctx context.Context, id uuid.UUID) (denizen.ExtractedFields, error) {
	sess, err := a.sessions.Get(ctx, id)
	if err != nil {
		return denizen.ExtractedFields{}, err
	}
	return sess.Fields, nil
}

// CommitToArchive closes a session and derives a draft entity record
// from its accumulated fields. It fails with [MissingFieldsError] when
// required fields are absent; on success the session transitions to
// completed, the point of no return.
//
// The draft deliberately omits spatial placement, resolution of
// suggested connections to ids, and media attachment; those belong to
// the caller.
func (a *Archivist) CommitToArchive(ctx context.Context, id uuid.UUID) (*denizen.Draft, error) {
	sess, err := a.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusActive {
		return nil, fmt.Errorf("commit session %s in status %q: %w", id, sess.Status, ErrSessionNotActive)
	}

	v := denizen.Validate(sess.Fields)
	if !v.Valid {
		return nil, &MissingFieldsError{Fields: v.MissingRequired}
	}

	draft := buildDraft(sess.Fields)

	if err := a.sessions.SetStatus(ctx, id, session.StatusCompleted, draft.ID); err != nil {
		return nil, err
	}

	a.logger.Info("session committed",
		"session_id", id,
		"entity_id", draft.ID,
		"confidence", v.Confidence,
	)
	return draft, nil
}

// AbandonSession transitions an active session to abandoned. Abandoning
// a session that is not active is an error, not a no-op, to catch
// caller bugs.
func (a *Archivist) AbandonSession(ctx context.Context, id uuid.UUID) error {
	sess, err := a.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != session.StatusActive {
		return fmt.Errorf("abandon session %s in status %q: %w", id, sess.Status, ErrSessionNotActive)
	}
	return a.sessions.SetStatus(ctx, id, session.StatusAbandoned, "")
}

// CleanupOldSessions deletes terminal sessions whose last activity is
// older than maxAge. Active sessions are never swept regardless of age.
func (a *Archivist) CleanupOldSessions(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := a.now().Add(-maxAge)
	return a.sessions.DeleteOlderThan(ctx,
		[]session.Status{session.StatusCompleted, session.StatusAbandoned}, cutoff)
}

// buildDraft assembles the partial entity record from accumulated
// fields. The id is a slug of the name; glyphs fall back to the
// documented default; unset coordinates default to 0.
func buildDraft(f denizen.ExtractedFields) *denizen.Draft {
	d := &denizen.Draft{
		ID:          denizen.Slug(*f.Name),
		Name:        *f.Name,
		Type:        *f.Type,
		Allegiance:  *f.Allegiance,
		Domain:      *f.Domain,
		Description: *f.Description,
		Glyphs:      denizen.DefaultGlyphs,

		Features:             f.Features,
		SuggestedConnections: f.SuggestedConnections,
		Extended:             f.Extended,
	}
	if f.Subtitle != nil {
		d.Subtitle = *f.Subtitle
	}
	if f.ThreatLevel != nil {
		d.ThreatLevel = *f.ThreatLevel
	}
	if f.Lore != nil {
		d.Lore = *f.Lore
	}
	if f.FirstObserved != nil {
		d.FirstObserved = *f.FirstObserved
	}
	if f.Glyphs != nil && *f.Glyphs != "" {
		d.Glyphs = *f.Glyphs
	}
	if f.CoordGeometry != nil {
		d.CoordGeometry = *f.CoordGeometry
	}
	if f.CoordAlterity != nil {
		d.CoordAlterity = *f.CoordAlterity
	}
	if f.CoordDynamics != nil {
		d.CoordDynamics = *f.CoordDynamics
	}
	return d
}
