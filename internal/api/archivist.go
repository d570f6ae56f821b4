package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/atlasworld/atlas/internal/archivist"
	"github.com/atlasworld/atlas/internal/denizen"
	"github.com/atlasworld/atlas/internal/log"
	"github.com/atlasworld/atlas/internal/session"
	"github.com/atlasworld/atlas/internal/world"
)

// ArchivistHandler exposes the cataloguing conversation over HTTP.
//
// Endpoints:
//   - POST /api/archivist/sessions              - start (or resume) a session
//   - GET  /api/archivist/sessions/{id}         - session state
//   - GET  /api/archivist/sessions/{id}/fields  - accumulated fields + validation
//   - POST /api/archivist/sessions/{id}/chat    - one conversational turn
//   - POST /api/archivist/sessions/{id}/commit  - close the session, archive the record
//   - POST /api/archivist/sessions/{id}/abandon - close the session, discard the record
type ArchivistHandler struct {
	archivist *archivist.Archivist
	world     *world.Store
	logger    log.Logger
}

// NewArchivistHandler creates an archivist handler. world may be nil,
// in which case committed drafts are returned but not written to the
// catalogue.
func NewArchivistHandler(a *archivist.Archivist, w *world.Store, logger log.Logger) *ArchivistHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &ArchivistHandler{archivist: a, world: w, logger: logger}
}

// RegisterRoutes registers archivist routes on the given mux.
func (h *ArchivistHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/archivist/sessions", h.start)
	mux.HandleFunc("GET /api/archivist/sessions/{id}", h.get)
	mux.HandleFunc("GET /api/archivist/sessions/{id}/fields", h.fields)
	mux.HandleFunc("POST /api/archivist/sessions/{id}/chat", h.chat)
	mux.HandleFunc("POST /api/archivist/sessions/{id}/commit", h.commit)
	mux.HandleFunc("POST /api/archivist/sessions/{id}/abandon", h.abandon)
}

// StartSessionRequest is the body for POST /api/archivist/sessions.
type StartSessionRequest struct {
	UserID           string `json:"userId"`
	EntityID         string `json:"entityId,omitempty"`
	EntityName       string `json:"entityName,omitempty"`
	MediaDescription string `json:"mediaDescription,omitempty"`
	AnalysisNotes    string `json:"analysisNotes,omitempty"`
}

// ChatRequest is the body for POST /api/archivist/sessions/{id}/chat.
type ChatRequest struct {
	Message       string `json:"message"`
	ImageURL      string `json:"imageUrl,omitempty"`
	EntityContext string `json:"entityContext,omitempty"`
}

// SessionResponse is the JSON shape of a session.
type SessionResponse struct {
	ID         uuid.UUID               `json:"id"`
	UserID     string                  `json:"userId"`
	EntityID   string                  `json:"entityId,omitempty"`
	Status     string                  `json:"status"`
	Messages   []session.Message       `json:"messages"`
	Fields     denizen.ExtractedFields `json:"fields"`
	Confidence float64                 `json:"confidence"`
	Warnings   []string                `json:"warnings,omitempty"`
	CreatedAt  time.Time               `json:"createdAt"`
	UpdatedAt  time.Time               `json:"updatedAt"`
}

// FieldsResponse is the JSON shape of the accumulated-fields view.
type FieldsResponse struct {
	Fields          denizen.ExtractedFields `json:"fields"`
	Confidence      float64                 `json:"confidence"`
	Valid           bool                    `json:"valid"`
	MissingRequired []string                `json:"missingRequired,omitempty"`
}

// CommitResponse is the JSON shape of a successful commit.
type CommitResponse struct {
	Draft    *denizen.Draft `json:"draft"`
	Archived bool           `json:"archived"`
}

func sessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		ID:         s.ID,
		UserID:     s.UserID,
		EntityID:   s.EntityID,
		Status:     string(s.Status),
		Messages:   s.Messages,
		Fields:     s.Fields,
		Confidence: s.Confidence,
		Warnings:   s.Warnings,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func (h *ArchivistHandler) start(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing field", "userId is required")
		return
	}

	sess, err := h.archivist.StartSession(r.Context(), archivist.StartParams{
		UserID:           req.UserID,
		EntityID:         req.EntityID,
		EntityName:       req.EntityName,
		MediaDescription: req.MediaDescription,
		AnalysisNotes:    req.AnalysisNotes,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(sess))
}

func (h *ArchivistHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	sess, err := h.archivist.GetSession(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

func (h *ArchivistHandler) fields(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	fields, err := h.archivist.GetExtractedFields(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	v := denizen.Validate(fields)
	writeJSON(w, http.StatusOK, FieldsResponse{
		Fields:          fields,
		Confidence:      v.Confidence,
		Valid:           v.Valid,
		MissingRequired: v.MissingRequired,
	})
}

func (h *ArchivistHandler) chat(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing field", "message is required")
		return
	}

	result, err := h.archivist.Chat(r.Context(), id, archivist.ChatParams{
		UserMessage:   req.Message,
		ImageURL:      req.ImageURL,
		EntityContext: req.EntityContext,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ArchivistHandler) commit(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	draft, err := h.archivist.CommitToArchive(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	// The session is already completed at this point; an archive write
	// failure is reported, not rolled back.
	archived := false
	if h.world != nil {
		if err := h.world.Upsert(r.Context(), draftToDenizen(draft)); err != nil {
			h.logger.Error("failed to archive committed draft",
				"session_id", id, "entity_id", draft.ID, "error", err)
		} else {
			archived = true
		}
	}
	writeJSON(w, http.StatusOK, CommitResponse{Draft: draft, Archived: archived})
}

func (h *ArchivistHandler) abandon(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := h.archivist.AbandonSession(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "abandoned"})
}

// sessionID parses the {id} path value, writing a 400 on failure.
func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id", err.Error())
		return uuid.UUID{}, false
	}
	return id, true
}

// writeDomainError maps archivist and session errors onto HTTP statuses.
func (h *ArchivistHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var missing *archivist.MissingFieldsError
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found", "")
	case errors.Is(err, archivist.ErrSessionNotActive):
		writeError(w, http.StatusConflict, "session not active", err.Error())
	case errors.Is(err, session.ErrVersionConflict):
		writeError(w, http.StatusConflict, "concurrent update", "the session was modified by another request; retry")
	case errors.As(err, &missing):
		writeError(w, http.StatusUnprocessableEntity, "record incomplete", missing.Error())
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

// draftToDenizen converts a committed draft into a catalogue entry.
// Spatial placement and connection resolution stay at their zero
// values until an operator positions the entity.
func draftToDenizen(d *denizen.Draft) denizen.Denizen {
	return denizen.Denizen{
		ID:            d.ID,
		Name:          d.Name,
		Type:          d.Type,
		Allegiance:    d.Allegiance,
		Domain:        d.Domain,
		Description:   d.Description,
		Subtitle:      d.Subtitle,
		ThreatLevel:   d.ThreatLevel,
		Lore:          d.Lore,
		FirstObserved: d.FirstObserved,
		Glyphs:        d.Glyphs,
		CoordGeometry: d.CoordGeometry,
		CoordAlterity: d.CoordAlterity,
		CoordDynamics: d.CoordDynamics,
		Features:      d.Features,
		Extended:      d.Extended,
	}
}
