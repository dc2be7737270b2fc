package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wesm/awesome-sync/internal/api"
	"github.com/wesm/awesome-sync/internal/db"
	"github.com/wesm/awesome-sync/internal/markdown"
	"github.com/wesm/awesome-sync/internal/models"
)

const remoteList = `# Awesome Video [![Awesome](https://awesome.re/badge.svg)](https://awesome.re)

## Tools

### CLI

- [ffmpeg](https://ffmpeg.org) - Complete video solution
- [yt-dlp](https://github.com/yt-dlp/yt-dlp) - Downloader

## Oddities

- [Thing](https://thing.example) - Strange things
`

type fakeCommit struct {
	repo    string
	branch  string
	path    string
	content string
	message string
}

// fakeClient serves repositories and README files from memory
type fakeClient struct {
	mu        sync.Mutex
	repos     map[string]*models.Repository
	files     map[string]string
	commits   []fakeCommit
	fetchErr  error
	commitErr error
	tokens    []string
	// fetches made with api.WithFreshContent
	freshFetches int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		repos: map[string]*models.Repository{
			"octo/awesome": {
				URL:           "https://github.com/octo/awesome",
				Owner:         "octo",
				Name:          "awesome",
				FullName:      "octo/awesome",
				DefaultBranch: "main",
			},
			"octo/archived": {
				URL:           "https://github.com/octo/archived",
				Owner:         "octo",
				Name:          "archived",
				FullName:      "octo/archived",
				DefaultBranch: "main",
				Archived:      true,
			},
		},
		files: make(map[string]string),
	}
}

func (f *fakeClient) factory(token string) RepositoryClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	return f
}

func fileKey(owner, name, branch, path string) string {
	if path == "" {
		path = api.DefaultReadmePath
	}
	return fmt.Sprintf("%s/%s@%s:%s", owner, name, branch, path)
}

func (f *fakeClient) put(branch, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[fileKey("octo", "awesome", branch, "")] = content
}

func (f *fakeClient) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	repo, ok := f.repos[owner+"/"+name]
	if !ok {
		return nil, fmt.Errorf("repository %s/%s not found", owner, name)
	}
	r := *repo
	return &r, nil
}

func (f *fakeClient) FetchRawMarkdown(ctx context.Context, owner, name, branch, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	if api.FreshContentRequested(ctx) {
		f.freshFetches++
	}
	content, ok := f.files[fileKey(owner, name, branch, path)]
	if !ok {
		return "", api.ErrFileNotFound
	}
	return content, nil
}

func (f *fakeClient) CommitFile(ctx context.Context, owner, name, branch, path, content, message string) (*models.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	f.files[fileKey(owner, name, branch, path)] = content
	f.commits = append(f.commits, fakeCommit{owner + "/" + name, branch, path, content, message})
	sha := fmt.Sprintf("sha%d", len(f.commits))
	return &models.CommitResult{SHA: sha, URL: "https://github.com/" + owner + "/" + name + "/commit/" + sha}, nil
}

func newTestSyncer(t *testing.T) (*Syncer, *fakeClient, *db.DB) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Initialize())
	t.Cleanup(func() { database.Close() })

	fake := newFakeClient()
	return New(database, fake.factory), fake, database
}

func TestParseRepositoryURL(t *testing.T) {
	valid := map[string]string{
		"octo/awesome":                        "octo/awesome",
		"https://github.com/octo/awesome":     "octo/awesome",
		"https://github.com/octo/awesome/":    "octo/awesome",
		"https://github.com/octo/awesome.git": "octo/awesome",
		"http://www.github.com/octo/awesome":  "octo/awesome",
		"git@github.com:octo/awesome.git":     "octo/awesome",
		"  octo/awesome-video.js  ":           "octo/awesome-video.js",
	}
	for raw, want := range valid {
		t.Run(raw, func(t *testing.T) {
			owner, name, err := ParseRepositoryURL(raw)
			require.NoError(t, err)
			assert.Equal(t, want, owner+"/"+name)
		})
	}

	for _, raw := range []string{"", "octo", "https://gitlab.com/octo/awesome", "octo/awesome/extra", "https://github.com/octo"} {
		t.Run("invalid "+raw, func(t *testing.T) {
			_, _, err := ParseRepositoryURL(raw)
			assert.Error(t, err)
		})
	}
}

func TestConfigureRepository(t *testing.T) {
	s, fake, database := newTestSyncer(t)
	fake.repos["octo/awesome"].DefaultBranch = "trunk"
	fake.put("trunk", remoteList)
	ctx := context.Background()

	repo, err := s.ConfigureRepository(ctx, "https://github.com/octo/awesome.git", "secret")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/octo/awesome", repo.URL)

	stored, err := database.GetRepositoryByURL("https://github.com/octo/awesome")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "trunk", stored.DefaultBranch)
	assert.Equal(t, "octo/awesome", stored.FullName)

	// the default branch is used and the configured client is reused
	result, err := s.ImportFromGitHub(ctx, "octo/awesome", ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, []string{"secret"}, fake.tokens)

	t.Run("unreachable", func(t *testing.T) {
		_, err := s.ConfigureRepository(ctx, "octo/missing", "")
		assert.Error(t, err)

		stored, err := database.GetRepositoryByURL("https://github.com/octo/missing")
		require.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := s.ConfigureRepository(ctx, "not a repository", "")
		assert.Error(t, err)
	})
}

func TestDefaultToken(t *testing.T) {
	s, fake, _ := newTestSyncer(t)
	fake.put("main", remoteList)
	s.SetDefaultToken("from-config")

	_, err := s.ImportFromGitHub(context.Background(), "octo/awesome", ImportOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"from-config"}, fake.tokens)
}

func TestImportFromGitHub(t *testing.T) {
	s, fake, database := newTestSyncer(t)
	fake.put("main", remoteList)
	ctx := context.Background()

	result, err := s.ImportFromGitHub(ctx, "https://github.com/octo/awesome", ImportOptions{Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Records)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, "Awesome Video", result.Title)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "Oddities")

	item, err := database.GetSyncQueueItem(result.QueueItemID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.SyncCompleted, item.Status)
	assert.Equal(t, models.DirectionImport, item.Direction)
	assert.NotNil(t, item.ProcessedAt)

	history, err := s.History(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, result.HistoryID, history[0].ID)
	assert.Equal(t, result.QueueItemID, history[0].QueueItemID)
	assert.Equal(t, 3, history[0].ResourcesAdded)
	assert.Equal(t, 3, history[0].TotalResources)
	assert.Equal(t, "alice", history[0].PerformedBy)
	assert.Equal(t, "https://github.com/octo/awesome", history[0].RepositoryURL)

	res, err := database.GetResourceByURL("https://ffmpeg.org")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "https://github.com/octo/awesome", res.Metadata["sourceRepository"])

	// a second run finds nothing to do but is still recorded
	again, err := s.ImportFromGitHub(ctx, "octo/awesome", ImportOptions{Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Imported)
	assert.Equal(t, 3, again.Skipped)

	history, err = s.History(10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestImportDryRun(t *testing.T) {
	s, fake, database := newTestSyncer(t)
	fake.put("main", remoteList)

	result, err := s.ImportFromGitHub(context.Background(), "octo/awesome", ImportOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)

	count, err := database.CountResources("")
	require.NoError(t, err)
	assert.Zero(t, count)

	history, err := s.History(1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, true, history[0].Snapshot["dryRun"])
	assert.Equal(t, DefaultActor, history[0].PerformedBy)
}

func TestImportFailure(t *testing.T) {
	s, fake, database := newTestSyncer(t)
	fake.fetchErr = &api.RateLimitError{ResetTime: time.Now().Add(time.Minute), Err: errors.New("API rate limit exceeded")}

	_, err := s.ImportFromGitHub(context.Background(), "octo/awesome", ImportOptions{})
	var rateErr *api.RateLimitError
	require.True(t, errors.As(err, &rateErr))

	failed, err := database.ListSyncQueue(models.SyncFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].ErrorMessage, "rate limit")

	history, err := s.History(10)
	require.NoError(t, err)
	require.Len(t, history, 1, "failed syncs are recorded once")
	assert.Contains(t, history[0].Snapshot["error"], "rate limit")
	assert.Zero(t, history[0].ResourcesAdded)
}

func seedResources(t *testing.T, database *db.DB) []*models.Resource {
	t.Helper()
	resources := []*models.Resource{
		{Title: "ffmpeg", URL: "https://ffmpeg.org", Description: "complete video solution.", Category: "Media Tools", Status: models.StatusApproved},
		{Title: "yt-dlp", URL: "https://github.com/yt-dlp/yt-dlp", Description: "Downloader", Category: "General Tools", Subcategory: "CLI", Tags: []string{"python"}, Status: models.StatusApproved},
		{Title: "Draft", URL: "https://draft.example", Description: "Not approved yet", Category: "Media Tools", Status: models.StatusPending},
	}
	for _, r := range resources {
		require.NoError(t, database.CreateResource(r))
	}
	return resources
}

func exportOptions() ExportOptions {
	return ExportOptions{
		Actor:        "bob",
		RequireValid: true,
		Format: markdown.Options{
			Title:               "Awesome Video",
			Description:         "A curated list of video tools",
			IncludeContributing: true,
			IncludeLicense:      true,
		},
	}
}

func TestExportToGitHub(t *testing.T) {
	s, fake, database := newTestSyncer(t)
	seeded := seedResources(t, database)
	ctx := context.Background()

	result, err := s.ExportToGitHub(ctx, "octo/awesome", exportOptions())
	require.NoError(t, err)
	assert.True(t, result.Lint.Valid, "%v", result.Lint.Errors)
	assert.Equal(t, 2, result.TotalResources)
	assert.Equal(t, []string{"https://ffmpeg.org", "https://github.com/yt-dlp/yt-dlp"}, result.Added)
	assert.Empty(t, result.Updated)
	assert.Empty(t, result.Removed)
	assert.Contains(t, result.Markdown, "- [ffmpeg](https://ffmpeg.org) - Complete video solution\n")
	assert.Contains(t, result.Markdown, "[Repository](https://github.com/octo/awesome)")
	assert.NotContains(t, result.Markdown, "draft.example")

	require.Len(t, fake.commits, 1)
	assert.Equal(t, result.Markdown, fake.commits[0].content)
	assert.Equal(t, 1, fake.freshFetches, "the remote file is read past any cache")
	assert.Equal(t, "main", fake.commits[0].branch)
	assert.Equal(t, "Update awesome list (2 resources)", fake.commits[0].message)
	require.NotNil(t, result.Commit)
	assert.Equal(t, "sha1", result.Commit.SHA)

	synced, err := database.GetResource(seeded[0].ID)
	require.NoError(t, err)
	assert.True(t, synced.GithubSynced)
	assert.NotNil(t, synced.LastSyncedAt)

	history, err := s.History(1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.DirectionExport, history[0].Direction)
	assert.Equal(t, 2, history[0].ResourcesAdded)
	assert.Equal(t, "sha1", history[0].CommitSHA)
	assert.Equal(t, "bob", history[0].PerformedBy)

	t.Run("unchanged content skips the commit", func(t *testing.T) {
		again, err := s.ExportToGitHub(ctx, "octo/awesome", exportOptions())
		require.NoError(t, err)
		assert.True(t, again.Unchanged)
		assert.Nil(t, again.Commit)
		assert.Len(t, fake.commits, 1)
	})

	t.Run("diff reports updates and removals", func(t *testing.T) {
		desc := "Downloads streams"
		_, err := database.UpdateResource(seeded[1].ID, models.ResourceUpdate{Description: &desc})
		require.NoError(t, err)
		rejected := models.StatusRejected
		_, err = database.UpdateResource(seeded[0].ID, models.ResourceUpdate{Status: &rejected})
		require.NoError(t, err)

		changed, err := s.ExportToGitHub(ctx, "octo/awesome", exportOptions())
		require.NoError(t, err)
		assert.Empty(t, changed.Added)
		assert.Equal(t, []string{"https://github.com/yt-dlp/yt-dlp"}, changed.Updated)
		assert.Equal(t, []string{"https://ffmpeg.org"}, changed.Removed)
		assert.Len(t, fake.commits, 2)
	})

	history, err = s.History(10)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestExportDryRun(t *testing.T) {
	s, fake, database := newTestSyncer(t)
	seedResources(t, database)

	opts := exportOptions()
	opts.DryRun = true
	result, err := s.ExportToGitHub(context.Background(), "octo/awesome", opts)
	require.NoError(t, err)
	assert.Len(t, result.Added, 2)
	assert.Nil(t, result.Commit)
	assert.Empty(t, fake.commits)

	resources, err := database.ListApprovedResources()
	require.NoError(t, err)
	for _, r := range resources {
		assert.False(t, r.GithubSynced)
	}
}

func TestExportFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid document", func(t *testing.T) {
		s, fake, database := newTestSyncer(t)
		seedResources(t, database)

		opts := exportOptions()
		opts.Format.IncludeLicense = false
		result, err := s.ExportToGitHub(ctx, "octo/awesome", opts)
		assert.ErrorIs(t, err, ErrInvalidDocument)
		require.NotNil(t, result)
		assert.False(t, result.Lint.Valid)
		assert.Empty(t, fake.commits)

		history, err := s.History(1)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, false, history[0].Snapshot["lintValid"])
	})

	t.Run("archived repository", func(t *testing.T) {
		s, _, _ := newTestSyncer(t)
		_, err := s.ExportToGitHub(ctx, "octo/archived", exportOptions())
		assert.ErrorIs(t, err, ErrRepositoryArchived)
	})

	t.Run("commit rejected", func(t *testing.T) {
		s, fake, database := newTestSyncer(t)
		seedResources(t, database)
		fake.commitErr = errors.New("403 forbidden")

		_, err := s.ExportToGitHub(ctx, "octo/awesome", exportOptions())
		require.Error(t, err)

		failed, err := database.ListSyncQueue(models.SyncFailed)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Contains(t, failed[0].ErrorMessage, "403 forbidden")
	})
}

func TestProcessQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("drains in order and continues past failures", func(t *testing.T) {
		s, fake, database := newTestSyncer(t)
		fake.put("main", remoteList)

		_, err := s.EnqueueImport("octo/missing", ImportOptions{})
		require.NoError(t, err)
		_, err = s.EnqueueImport("octo/awesome", ImportOptions{})
		require.NoError(t, err)
		_, err = s.EnqueueExport("octo/awesome", exportOptions())
		require.NoError(t, err)

		result, err := s.ProcessQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, &ProcessResult{Processed: 3, Completed: 2, Failed: 1}, result)

		count, err := database.CountResources(models.StatusApproved)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		assert.Len(t, fake.commits, 1)

		history, err := s.History(10)
		require.NoError(t, err)
		assert.Len(t, history, 3)

		status, err := s.Status()
		require.NoError(t, err)
		assert.Equal(t, 2, status.Queue[models.SyncCompleted])
		assert.Equal(t, 1, status.Queue[models.SyncFailed])
		assert.Zero(t, status.Queue[models.SyncPending])
		require.NotNil(t, status.LastSync)
		assert.Equal(t, models.DirectionExport, status.LastSync.Direction)

		// terminal items are never picked up again
		again, err := s.ProcessQueue(ctx)
		require.NoError(t, err)
		assert.Zero(t, again.Processed)
	})

	t.Run("options round trip through metadata", func(t *testing.T) {
		s, fake, database := newTestSyncer(t)
		fake.put("main", remoteList)

		item, err := s.EnqueueImport("octo/awesome", ImportOptions{DryRun: true, Actor: "carol"})
		require.NoError(t, err)

		stored, err := database.GetSyncQueueItem(item.ID)
		require.NoError(t, err)
		assert.Equal(t, true, stored.Metadata["dryRun"])

		_, err = s.ProcessQueue(ctx)
		require.NoError(t, err)

		count, err := database.CountResources("")
		require.NoError(t, err)
		assert.Zero(t, count)

		history, err := s.History(1)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "carol", history[0].PerformedBy)
	})

	t.Run("unknown direction fails", func(t *testing.T) {
		s, _, database := newTestSyncer(t)
		require.NoError(t, database.AddToGithubSyncQueue(&models.SyncQueueItem{
			RepositoryURL: "https://github.com/octo/awesome",
			Direction:     "sideways",
		}))

		result, err := s.ProcessQueue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)

		history, err := s.History(1)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Contains(t, history[0].Snapshot["error"], "unknown sync direction")
	})
}
