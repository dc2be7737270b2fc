package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wesm/awesome-sync/internal/db"
	"github.com/wesm/awesome-sync/internal/markdown"
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

const toolsList = `# Awesome Tools [![Awesome](https://awesome.re/badge.svg)](https://awesome.re)

## Tools

### CLI

- [ffmpeg](https://ffmpeg.org) - Complete video solution
- [yt-dlp](https://github.com/yt-dlp/yt-dlp) - Downloader ` + "`python`" + `
`

func TestReconcileIdempotent(t *testing.T) {
	database := newTestDB(t)
	r := New(database)
	records := markdown.Parse(toolsList).Records

	first, err := r.Reconcile(records, Options{Actor: "tester", Repository: "https://github.com/example/awesome"})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Imported)
	assert.Empty(t, first.Errors)

	second, err := r.Reconcile(records, Options{Actor: "tester"})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Skipped)

	count, err := database.CountResources("")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	res, err := database.GetResourceByURL("https://github.com/yt-dlp/yt-dlp")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, models.StatusApproved, res.Status)
	assert.True(t, res.GithubSynced)
	assert.Equal(t, []string{"python"}, res.Tags)
	assert.Equal(t, "General Tools", res.Category, "alias table maps Tools")
	assert.Equal(t, "CLI", res.Subcategory)
	assert.Equal(t, ImportSource, res.Metadata["source"])
	assert.Equal(t, "Tools", res.Metadata["sourceCategory"])
	assert.Equal(t, "https://github.com/example/awesome", res.Metadata["sourceRepository"])

	audit, err := database.ListAuditLog(res.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "github_import_create", audit[0].Action)
	assert.Equal(t, "tester", audit[0].Actor)
}

func TestReconcileExistingDuplicate(t *testing.T) {
	t.Run("unchanged duplicate is skipped", func(t *testing.T) {
		database := newTestDB(t)
		seedExisting(t, database, "Complete video solution")

		result, err := New(database).Reconcile(markdown.Parse(toolsList).Records, Options{})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Imported)
		assert.Equal(t, 0, result.Updated)
		assert.Equal(t, 1, result.Skipped)
		assert.Empty(t, result.Errors)
	})

	t.Run("changed duplicate is updated", func(t *testing.T) {
		database := newTestDB(t)
		existing := seedExisting(t, database, "Old description")

		result, err := New(database).Reconcile(markdown.Parse(toolsList).Records, Options{Actor: "importer"})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Imported)
		assert.Equal(t, 1, result.Updated)
		assert.Equal(t, 0, result.Skipped)
		assert.Empty(t, result.Errors)

		var updated *PlanItem
		for i := range result.Plan {
			if result.Plan[i].Action == ActionUpdate {
				updated = &result.Plan[i]
			}
		}
		require.NotNil(t, updated)
		assert.Equal(t, existing.ID, updated.ResourceID)
		assert.Equal(t, models.FieldChange{Old: "Old description", New: "Complete video solution"}, updated.Changes["description"])

		res, err := database.GetResource(existing.ID)
		require.NoError(t, err)
		assert.Equal(t, "Complete video solution", res.Description)
		assert.True(t, res.GithubSynced)
		assert.NotNil(t, res.LastSyncedAt)

		audit, err := database.ListAuditLog(existing.ID)
		require.NoError(t, err)
		require.Len(t, audit, 1)
		assert.Equal(t, "github_import_update", audit[0].Action)
	})
}

func seedExisting(t *testing.T, database *db.DB, description string) *models.Resource {
	t.Helper()
	res := &models.Resource{
		Title:       "ffmpeg",
		URL:         "https://ffmpeg.org",
		Description: description,
		Category:    "General Tools",
		Subcategory: "CLI",
		Status:      models.StatusApproved,
	}
	require.NoError(t, database.CreateResource(res))
	return res
}

func TestReconcileDedupWithinBatch(t *testing.T) {
	md := "## Tools\n\n- [A](https://dup.example) - First\n- [A](  https://dup.example  ) - Second\n- [B](https://other.example)\n"

	for _, dryRun := range []bool{false, true} {
		database := newTestDB(t)
		result, err := New(database).Reconcile(markdown.Parse(md).Records, Options{DryRun: dryRun})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Imported, "dry run %v", dryRun)
		assert.Equal(t, 1, result.Updated, "dry run %v", dryRun)
		require.Len(t, result.Plan, 3)
		assert.NotEqual(t, ActionCreate, result.Plan[1].Action)
	}

	database := newTestDB(t)
	_, err := New(database).Reconcile(markdown.Parse(md).Records, Options{})
	require.NoError(t, err)
	count, err := database.CountResources("")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReconcileUnmappedCategory(t *testing.T) {
	database := newTestDB(t)
	md := "## Encoding Transcoding & Codecs\n\n- [x264](https://x264.example) - Encoder\n"

	result, err := New(database).Reconcile(markdown.Parse(md).Records, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "Encoding Transcoding & Codecs")

	res, err := database.GetResourceByURL("https://x264.example")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Encoding Transcoding & Codecs", res.Category)
	_, hasSource := res.Metadata["sourceCategory"]
	assert.False(t, hasSource)

	cat, err := database.GetCategoryByName("Encoding Transcoding & Codecs")
	require.NoError(t, err)
	assert.NotNil(t, cat)
}

func TestReconcileRecordErrorsDoNotAbort(t *testing.T) {
	database := newTestDB(t)
	_, err := database.CreateCategory("Media Tools", "media-tools")
	require.NoError(t, err)

	// "Media-Tools!" is unmapped and slugs onto the existing category
	md := "## Media-Tools!\n\n- [Bad](https://bad.example)\n\n## Media Tools\n\n- [Good](https://good.example) - Fine\n"

	dry, err := New(database).Reconcile(markdown.Parse(md).Records, Options{DryRun: true})
	require.NoError(t, err)

	live, err := New(database).Reconcile(markdown.Parse(md).Records, Options{})
	require.NoError(t, err)

	for _, result := range []*Result{dry, live} {
		assert.Equal(t, 1, result.Imported)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "https://bad.example")
		assert.Equal(t, ActionError, result.Plan[0].Action)
	}

	bad, err := database.GetResourceByURL("https://bad.example")
	require.NoError(t, err)
	assert.Nil(t, bad)
}

func TestReconcileDryRunParity(t *testing.T) {
	md := `## Tools

- [A](https://a.example) - One

### Editors

- [B](https://b.example) - Two

## Brand New

- [C](https://c.example)
- [A](https://a.example) - Moved
`
	database := newTestDB(t)
	seedDB := func() {
		require.NoError(t, database.CreateResource(&models.Resource{
			Title: "B", URL: "https://b.example", Description: "Two",
			Category: "General Tools", Subcategory: "Editors", Status: models.StatusApproved,
		}))
	}
	seedDB()

	records := markdown.Parse(md).Records
	dry, err := New(database).Reconcile(records, Options{DryRun: true})
	require.NoError(t, err)

	count, err := database.CountResources("")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "dry run writes nothing")
	cats, err := database.ListCategories()
	require.NoError(t, err)
	assert.Empty(t, cats)

	live, err := New(database).Reconcile(records, Options{})
	require.NoError(t, err)

	assert.Equal(t, live.Imported, dry.Imported)
	assert.Equal(t, live.Updated, dry.Updated)
	assert.Equal(t, live.Skipped, dry.Skipped)
	assert.Equal(t, len(live.Errors), len(dry.Errors))
	assert.Equal(t, 2, live.Imported)
	assert.Equal(t, 1, live.Updated)
	assert.Equal(t, 1, live.Skipped)
}

func TestReconcileUnreachableStore(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Initialize())
	require.NoError(t, database.Close())

	_, err = New(database).Reconcile(markdown.Parse(toolsList).Records, Options{})
	assert.Error(t, err)
}
