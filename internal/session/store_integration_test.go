package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasworld/atlas/internal/denizen"
	"github.com/atlasworld/atlas/internal/log"
	"github.com/atlasworld/atlas/internal/session"
	"github.com/atlasworld/atlas/internal/testutil"
)

// TestStoreIntegration exercises the store against a real PostgreSQL
// instance: JSONB round trips, the partial unique index and the
// version-conditional update are behaviors the in-memory querier can
// only approximate.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := session.NewStore(session.NewPGQuerier(db.Pool), log.NewNop())

	opening := []session.Message{{
		Role:      session.RoleAgent,
		Text:      "Describe what you encountered.",
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}}

	t.Run("create and get round trip", func(t *testing.T) {
		created, err := store.Create(ctx, "scholar-1", "", opening, denizen.ExtractedFields{})
		require.NoError(t, err)
		assert.Equal(t, session.StatusActive, created.Status)
		assert.EqualValues(t, 1, created.Version)

		got, err := store.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		require.Len(t, got.Messages, 1)
		assert.Equal(t, opening[0].Text, got.Messages[0].Text)
		assert.Nil(t, got.Fields.Name)
	})

	t.Run("active session per entity is unique", func(t *testing.T) {
		first, err := store.Create(ctx, "scholar-2", "the-dream-warden", opening, denizen.ExtractedFields{})
		require.NoError(t, err)

		_, err = store.Create(ctx, "scholar-2", "the-dream-warden", opening, denizen.ExtractedFields{})
		require.ErrorIs(t, err, session.ErrDuplicateActive)

		// A different user is unaffected.
		_, err = store.Create(ctx, "scholar-3", "the-dream-warden", opening, denizen.ExtractedFields{})
		require.NoError(t, err)

		// Closing the winner frees the slot.
		require.NoError(t, store.SetStatus(ctx, first.ID, session.StatusAbandoned, ""))
		_, err = store.Create(ctx, "scholar-2", "the-dream-warden", opening, denizen.ExtractedFields{})
		require.NoError(t, err)

		active, err := store.ActiveByEntity(ctx, "the-dream-warden", "scholar-2")
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, active.ID)
	})

	t.Run("conditional update detects lost race", func(t *testing.T) {
		sess, err := store.Create(ctx, "scholar-4", "", opening, denizen.ExtractedFields{})
		require.NoError(t, err)

		stale := *sess
		sess.AppendMessage(session.RoleUser, "It wore a lantern of unlight.", time.Now().UTC())
		require.NoError(t, store.Update(ctx, sess))
		assert.EqualValues(t, 2, sess.Version)

		stale.AppendMessage(session.RoleUser, "a conflicting write", time.Now().UTC())
		err = store.Update(ctx, &stale)
		require.ErrorIs(t, err, session.ErrVersionConflict)

		got, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, got.Messages, 2)
		assert.Equal(t, "It wore a lantern of unlight.", got.Messages[1].Text)
	})

	t.Run("terminal session rejects stale write", func(t *testing.T) {
		sess, err := store.Create(ctx, "scholar-8", "", opening, denizen.ExtractedFields{})
		require.NoError(t, err)

		// Abandon changes status without touching the version, so the
		// stale snapshot still carries a matching version number.
		require.NoError(t, store.SetStatus(ctx, sess.ID, session.StatusAbandoned, ""))

		sess.AppendMessage(session.RoleUser, "a message from a lost race", time.Now().UTC())
		err = store.Update(ctx, sess)
		require.ErrorIs(t, err, session.ErrVersionConflict)

		got, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Len(t, got.Messages, 1)
		assert.Equal(t, session.StatusAbandoned, got.Status)
	})

	t.Run("commit links entity id", func(t *testing.T) {
		sess, err := store.Create(ctx, "scholar-5", "", opening, denizen.ExtractedFields{})
		require.NoError(t, err)

		require.NoError(t, store.SetStatus(ctx, sess.ID, session.StatusCompleted, "the-null-bringer"))

		got, err := store.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusCompleted, got.Status)
		assert.Equal(t, "the-null-bringer", got.EntityID)
	})

	t.Run("sweep ignores active sessions", func(t *testing.T) {
		active, err := store.Create(ctx, "scholar-6", "", opening, denizen.ExtractedFields{})
		require.NoError(t, err)
		done, err := store.Create(ctx, "scholar-7", "", opening, denizen.ExtractedFields{})
		require.NoError(t, err)
		require.NoError(t, store.SetStatus(ctx, done.ID, session.StatusAbandoned, ""))

		// Cutoff in the future: everything qualifies by age, so only
		// the status filter protects the active session.
		deleted, err := store.DeleteOlderThan(ctx,
			[]session.Status{session.StatusCompleted, session.StatusAbandoned},
			time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, deleted, int64(1))

		_, err = store.Get(ctx, done.ID)
		require.ErrorIs(t, err, session.ErrNotFound)
		_, err = store.Get(ctx, active.ID)
		require.NoError(t, err)
	})
}
