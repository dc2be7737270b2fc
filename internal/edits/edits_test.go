package edits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wesm/awesome-sync/internal/db"
	"github.com/wesm/awesome-sync/internal/models"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Initialize())
	t.Cleanup(func() { database.Close() })
	return database
}

func seedResource(t *testing.T, database *db.DB) *models.Resource {
	t.Helper()
	r := &models.Resource{
		Title:       "ffmpeg",
		URL:         "https://ffmpeg.org",
		Description: "Complete video solution",
		Category:    "Media Tools",
		Subcategory: "Encoders",
		Tags:        []string{"cli"},
		Status:      models.StatusApproved,
	}
	require.NoError(t, database.CreateResource(r))
	return r
}

func TestPropose(t *testing.T) {
	database := newTestDB(t)
	s := New(database)
	res := seedResource(t, database)

	edit, err := s.Propose(res.ID, "alice", map[string]any{
		"title":    "FFmpeg",
		"tags":     []string{"cli", " c "},
		"category": "Media Tools",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EditPending, edit.Status)
	assert.Equal(t, map[string]models.FieldChange{
		"title": {Old: "ffmpeg", New: "FFmpeg"},
		"tags":  {Old: []string{"cli"}, New: []string{"cli", "c"}},
	}, edit.ProposedChanges)

	stored, err := database.GetResourceEdit(edit.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.OriginalResourceUpdatedAt.Equal(res.UpdatedAt))
	assert.Equal(t, "alice", stored.SubmittedBy)

	t.Run("rejects fields outside the allowlist", func(t *testing.T) {
		_, err := s.Propose(res.ID, "alice", map[string]any{"status": "approved"})
		assert.ErrorIs(t, err, ErrFieldNotEditable)
	})

	t.Run("rejects wrong types", func(t *testing.T) {
		_, err := s.Propose(res.ID, "alice", map[string]any{"title": 42})
		assert.ErrorIs(t, err, ErrInvalidValue)
		_, err = s.Propose(res.ID, "alice", map[string]any{"tags": "cli"})
		assert.ErrorIs(t, err, ErrInvalidValue)
		_, err = s.Propose(res.ID, "alice", map[string]any{"url": "  "})
		assert.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("rejects no-op edits", func(t *testing.T) {
		_, err := s.Propose(res.ID, "alice", map[string]any{"description": "Complete video solution"})
		assert.ErrorIs(t, err, ErrNoChanges)
	})

	t.Run("unknown resource", func(t *testing.T) {
		_, err := s.Propose("missing", "alice", map[string]any{"title": "X"})
		assert.ErrorIs(t, err, db.ErrNotFound)
	})
}

func TestApprove(t *testing.T) {
	database := newTestDB(t)
	s := New(database)
	res := seedResource(t, database)

	edit, err := s.Propose(res.ID, "alice", map[string]any{"title": "FFmpeg", "tags": []string{"cli", "c"}})
	require.NoError(t, err)

	updated, err := s.Approve(edit.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, "FFmpeg", updated.Title)
	assert.Equal(t, []string{"cli", "c"}, updated.Tags)
	assert.Equal(t, "Media Tools", updated.Category)
	assert.Equal(t, "Encoders", updated.Subcategory)

	stored, err := database.GetResourceEdit(edit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EditApproved, stored.Status)
	assert.Equal(t, "admin", stored.HandledBy)
	assert.NotNil(t, stored.HandledAt)

	audit, err := database.ListAuditLog(res.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "resource_edit_approve", audit[0].Action)
	assert.Equal(t, "admin", audit[0].Actor)
	assert.Contains(t, audit[0].Changes, "title")

	_, err = s.Approve(edit.ID, "admin")
	assert.ErrorIs(t, err, db.ErrEditNotPending)

	_, err = s.Approve("missing", "admin")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestApproveConflict(t *testing.T) {
	database := newTestDB(t)
	s := New(database)
	res := seedResource(t, database)

	edit, err := s.Propose(res.ID, "alice", map[string]any{"title": "FFmpeg"})
	require.NoError(t, err)

	desc := "Changed meanwhile"
	_, err = database.UpdateResource(res.ID, models.ResourceUpdate{Description: &desc})
	require.NoError(t, err)

	_, err = s.Approve(edit.ID, "admin")
	assert.ErrorIs(t, err, db.ErrEditConflict)

	current, err := database.GetResource(res.ID)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg", current.Title, "conflicting edit is not applied")

	stored, err := database.GetResourceEdit(edit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EditPending, stored.Status)
}

func TestApproveMovesCategory(t *testing.T) {
	database := newTestDB(t)
	s := New(database)
	res := seedResource(t, database)

	t.Run("new category clears the subcategory", func(t *testing.T) {
		edit, err := s.Propose(res.ID, "alice", map[string]any{"category": "General Tools"})
		require.NoError(t, err)

		updated, err := s.Approve(edit.ID, "admin")
		require.NoError(t, err)
		assert.Equal(t, "General Tools", updated.Category)
		assert.Empty(t, updated.Subcategory)

		category, err := database.GetCategoryByName("General Tools")
		require.NoError(t, err)
		assert.NotNil(t, category, "missing category is created")
	})

	t.Run("subcategory under the current category", func(t *testing.T) {
		edit, err := s.Propose(res.ID, "alice", map[string]any{"subcategory": "Transcoders"})
		require.NoError(t, err)

		updated, err := s.Approve(edit.ID, "admin")
		require.NoError(t, err)
		assert.Equal(t, "General Tools", updated.Category)
		assert.Equal(t, "Transcoders", updated.Subcategory)

		category, err := database.GetCategoryByName("General Tools")
		require.NoError(t, err)
		sub, err := database.GetSubcategoryByName("Transcoders", category.ID)
		require.NoError(t, err)
		assert.NotNil(t, sub)
	})
}

func TestReject(t *testing.T) {
	database := newTestDB(t)
	s := New(database)
	res := seedResource(t, database)

	edit, err := s.Propose(res.ID, "alice", map[string]any{"title": "FFmpeg"})
	require.NoError(t, err)

	require.NoError(t, s.Reject(edit.ID, "admin", "title is fine as is"))

	stored, err := database.GetResourceEdit(edit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EditRejected, stored.Status)
	assert.Equal(t, "title is fine as is", stored.RejectionReason)

	current, err := database.GetResource(res.ID)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg", current.Title)

	_, err = s.Approve(edit.ID, "admin")
	assert.ErrorIs(t, err, db.ErrEditNotPending)
	assert.ErrorIs(t, s.Reject(edit.ID, "admin", ""), db.ErrEditNotPending)
}
