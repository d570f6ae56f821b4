package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasworld/atlas/internal/archivist"
	"github.com/atlasworld/atlas/internal/denizen"
	"github.com/atlasworld/atlas/internal/log"
	"github.com/atlasworld/atlas/internal/session"
	"github.com/atlasworld/atlas/internal/testutil"
	"github.com/atlasworld/atlas/internal/world"
)

type stubWorldContext struct{}

func (stubWorldContext) Summarize(context.Context) (string, error) {
	return "The catalogue is empty. This denizen will be its first entry.", nil
}

// stubWorldQuerier records upserts so commit tests can verify the
// archive write without a database.
type stubWorldQuerier struct {
	upserts []world.UpsertParams
}

func (q *stubWorldQuerier) UpsertDenizen(_ context.Context, arg world.UpsertParams) error {
	q.upserts = append(q.upserts, arg)
	return nil
}

func (q *stubWorldQuerier) SearchDenizens(context.Context, pgvector.Vector, int32) ([]world.SearchRow, error) {
	return nil, nil
}

func (q *stubWorldQuerier) ListDenizens(context.Context) ([]world.DenizenRow, error) {
	return nil, nil
}

func (q *stubWorldQuerier) CountDenizens(context.Context) (int64, error) { return 0, nil }

type apiHarness struct {
	handler http.Handler
	store   *session.Store
	querier *testutil.MemSessionQuerier
	world   *stubWorldQuerier
}

func newAPIHarness(t *testing.T, model *testutil.MockModel) *apiHarness {
	t.Helper()

	g := genkit.Init(context.Background())
	modelName := model.Register(g)

	querier := testutil.NewMemSessionQuerier()
	store := session.NewStore(querier, log.NewNop())

	a, err := archivist.New(archivist.Config{
		Genkit:    g,
		Sessions:  store,
		World:     stubWorldContext{},
		ModelName: modelName,
		Logger:    log.NewNop(),
	})
	require.NoError(t, err)

	worldQuerier := &stubWorldQuerier{}
	worldStore := world.NewStore(worldQuerier, nil, log.NewNop())

	mux := http.NewServeMux()
	NewArchivistHandler(a, worldStore, log.NewNop()).RegisterRoutes(mux)

	return &apiHarness{handler: mux, store: store, querier: querier, world: worldQuerier}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func (h *apiHarness) startSession(t *testing.T) SessionResponse {
	t.Helper()

	w := h.do(t, http.MethodPost, "/api/archivist/sessions", StartSessionRequest{
		UserID:     "scholar-7",
		EntityName: "The Dream Warden",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp SessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func ptr[T any](v T) *T { return &v }

func TestStartSession(t *testing.T) {
	h := newAPIHarness(t, testutil.NewMockModel("Noted."))

	resp := h.startSession(t)

	assert.Equal(t, "scholar-7", resp.UserID)
	assert.Equal(t, string(session.StatusActive), resp.Status)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, session.RoleAgent, resp.Messages[0].Role)
	assert.Contains(t, resp.Messages[0].Text, "The Dream Warden")
}

func TestStartSessionValidation(t *testing.T) {
	h := newAPIHarness(t, testutil.NewMockModel("Noted."))

	t.Run("missing user id", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/archivist/sessions", StartSessionRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "userId is required")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/archivist/sessions",
			strings.NewReader(`{invalid json}`))
		w := httptest.NewRecorder()
		h.handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid request body")
	})
}

func TestGetSession(t *testing.T) {
	h := newAPIHarness(t, testutil.NewMockModel("Noted."))
	created := h.startSession(t)

	t.Run("found", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/api/archivist/sessions/"+created.ID.String(), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp SessionResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, created.ID, resp.ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/api/archivist/sessions/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/api/archivist/sessions/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid session id")
	})
}

func TestChatTurn(t *testing.T) {
	model := testutil.NewMockModel("The Archivist inclines its head. What name does it carry?")
	h := newAPIHarness(t, model)
	created := h.startSession(t)

	w := h.do(t, http.MethodPost, "/api/archivist/sessions/"+created.ID.String()+"/chat",
		ChatRequest{Message: "I saw a tall figure at the boundary of sleep."})
	require.Equal(t, http.StatusOK, w.Code)

	var result archivist.TurnResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Contains(t, result.Message, "What name does it carry?")
	assert.False(t, result.IsComplete)
	assert.NotEmpty(t, result.SuggestedQuestions)
}

func TestChatValidation(t *testing.T) {
	h := newAPIHarness(t, testutil.NewMockModel("Noted."))
	created := h.startSession(t)

	t.Run("empty message", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/archivist/sessions/"+created.ID.String()+"/chat",
			ChatRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "message is required")
	})

	t.Run("abandoned session conflicts", func(t *testing.T) {
		abandon := h.do(t, http.MethodPost, "/api/archivist/sessions/"+created.ID.String()+"/abandon", nil)
		require.Equal(t, http.StatusOK, abandon.Code)

		w := h.do(t, http.MethodPost, "/api/archivist/sessions/"+created.ID.String()+"/chat",
			ChatRequest{Message: "hello?"})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "session not active")
	})
}

func TestFields(t *testing.T) {
	h := newAPIHarness(t, testutil.NewMockModel("Noted."))
	created := h.startSession(t)

	w := h.do(t, http.MethodGet, "/api/archivist/sessions/"+created.ID.String()+"/fields", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp FieldsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Valid)
	assert.Zero(t, resp.Confidence)
	assert.Len(t, resp.MissingRequired, 5)
}

func TestCommitIncomplete(t *testing.T) {
	h := newAPIHarness(t, testutil.NewMockModel("Noted."))
	created := h.startSession(t)

	w := h.do(t, http.MethodPost, "/api/archivist/sessions/"+created.ID.String()+"/commit", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "missing required fields")
	assert.Empty(t, h.world.upserts)
}

func TestCommitArchivesDraft(t *testing.T) {
	h := newAPIHarness(t, testutil.NewMockModel("Noted."))

	sess, err := h.store.Create(context.Background(), "scholar-7", "", []session.Message{
		{Role: session.RoleAgent, Text: "Greetings.", Timestamp: time.Now().UTC()},
	}, denizen.ExtractedFields{
		Name:        ptr("The Dream Warden"),
		Type:        ptr(denizen.TypeGuardian),
		Allegiance:  ptr(denizen.AllegianceLiminalCovenant),
		Domain:      ptr("Thresholds"),
		Description: ptr("Stands watch where waking frays."),
		Features:    []string{"lantern of unlight"},
	})
	require.NoError(t, err)

	w := h.do(t, http.MethodPost, "/api/archivist/sessions/"+sess.ID.String()+"/commit", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp CommitResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Draft)
	assert.Equal(t, "the-dream-warden", resp.Draft.ID)
	assert.True(t, resp.Archived)

	require.Len(t, h.world.upserts, 1)
	archived := h.world.upserts[0].Denizen
	assert.Equal(t, "the-dream-warden", archived.ID)
	assert.Equal(t, denizen.TypeGuardian, archived.Type)
	assert.Equal(t, denizen.DefaultGlyphs, archived.Glyphs)

	t.Run("second commit conflicts", func(t *testing.T) {
		again := h.do(t, http.MethodPost, "/api/archivist/sessions/"+sess.ID.String()+"/commit", nil)
		assert.Equal(t, http.StatusConflict, again.Code)
	})
}

func TestAbandon(t *testing.T) {
	h := newAPIHarness(t, testutil.NewMockModel("Noted."))
	created := h.startSession(t)

	w := h.do(t, http.MethodPost, "/api/archivist/sessions/"+created.ID.String()+"/abandon", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "abandoned")

	t.Run("second abandon conflicts", func(t *testing.T) {
		again := h.do(t, http.MethodPost, "/api/archivist/sessions/"+created.ID.String()+"/abandon", nil)
		assert.Equal(t, http.StatusConflict, again.Code)
	})
}
