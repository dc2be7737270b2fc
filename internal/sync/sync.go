package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wesm/awesome-sync/internal/api"
	"github.com/wesm/awesome-sync/internal/db"
	"github.com/wesm/awesome-sync/internal/lint"
	"github.com/wesm/awesome-sync/internal/markdown"
	"github.com/wesm/awesome-sync/internal/models"
	"github.com/wesm/awesome-sync/internal/reconcile"
)

// DefaultActor is recorded as the performer when options carry no actor
const DefaultActor = "github-sync"

var (
	// ErrRepositoryArchived is returned when exporting to a read-only repository
	ErrRepositoryArchived = errors.New("repository is archived")
	// ErrInvalidDocument is returned by an export requiring a valid document when lint fails
	ErrInvalidDocument = errors.New("generated document failed validation")
	// ErrUnknownDirection is returned for queue items that are neither import nor export
	ErrUnknownDirection = errors.New("unknown sync direction")
)

// RepositoryClient fetches and commits files in a remote repository
type RepositoryClient interface {
	GetRepository(ctx context.Context, owner, name string) (*models.Repository, error)
	FetchRawMarkdown(ctx context.Context, owner, name, branch, path string) (string, error)
	CommitFile(ctx context.Context, owner, name, branch, path, content, message string) (*models.CommitResult, error)
}

// ClientFactory builds a client for token. An empty token means anonymous access.
type ClientFactory func(token string) RepositoryClient

// GitHubClientFactory builds GitHub API clients
func GitHubClientFactory(token string) RepositoryClient {
	return api.NewGitHubClient(token)
}

// ImportOptions controls an import
type ImportOptions struct {
	DryRun bool   `json:"dryRun"`
	Branch string `json:"branch,omitempty"`
	Path   string `json:"path,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

// ExportOptions controls an export
type ExportOptions struct {
	DryRun       bool             `json:"dryRun"`
	Branch       string           `json:"branch,omitempty"`
	Path         string           `json:"path,omitempty"`
	Message      string           `json:"message,omitempty"`
	RequireValid bool             `json:"requireValid"`
	Actor        string           `json:"actor,omitempty"`
	Format       markdown.Options `json:"format"`
}

// ImportResult is the outcome of an import
type ImportResult struct {
	*reconcile.Result
	Title       string `json:"title"`
	Records     int    `json:"records"`
	QueueItemID int64  `json:"queueItemId"`
	HistoryID   int64  `json:"historyId"`
}

// ExportResult is the outcome of an export. Added, Updated and Removed hold
// the URLs that differ between the remote document and the generated one.
type ExportResult struct {
	Markdown       string               `json:"markdown"`
	TotalResources int                  `json:"totalResources"`
	Added          []string             `json:"added"`
	Updated        []string             `json:"updated"`
	Removed        []string             `json:"removed"`
	Lint           *lint.Result         `json:"lint"`
	Unchanged      bool                 `json:"unchanged"`
	Commit         *models.CommitResult `json:"commit,omitempty"`
	CommitMessage  string               `json:"commitMessage,omitempty"`
	QueueItemID    int64                `json:"queueItemId"`
	HistoryID      int64                `json:"historyId"`
}

// ProcessResult counts the queue items handled by one ProcessQueue call
type ProcessResult struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Status reports queue depth and the latest finished sync
type Status struct {
	Queue    map[models.SyncStatus]int `json:"queue"`
	LastSync *models.SyncHistoryEntry  `json:"lastSync,omitempty"`
}

// Syncer moves awesome lists between GitHub repositories and the local database
type Syncer struct {
	db         *db.DB
	reconciler *reconcile.Reconciler
	factory    ClientFactory

	// mu serializes sync operations so reconciler writes never interleave
	mu sync.Mutex

	credsMu      sync.Mutex
	defaultToken string
	// tokens by canonical repository URL, never persisted
	tokens  map[string]string
	clients map[string]RepositoryClient
}

// New creates a new syncer
func New(database *db.DB, factory ClientFactory) *Syncer {
	if factory == nil {
		factory = GitHubClientFactory
	}
	return &Syncer{
		db:         database,
		reconciler: reconcile.New(database),
		factory:    factory,
		tokens:     make(map[string]string),
		clients:    make(map[string]RepositoryClient),
	}
}

// SetDefaultToken sets the token used for repositories configured without one
func (s *Syncer) SetDefaultToken(token string) {
	s.credsMu.Lock()
	defer s.credsMu.Unlock()
	s.defaultToken = token
	for url := range s.clients {
		if _, ok := s.tokens[url]; !ok {
			delete(s.clients, url)
		}
	}
}

func (s *Syncer) client(repoURL string) RepositoryClient {
	s.credsMu.Lock()
	defer s.credsMu.Unlock()
	if c, ok := s.clients[repoURL]; ok {
		return c
	}
	token, ok := s.tokens[repoURL]
	if !ok {
		token = s.defaultToken
	}
	c := s.factory(token)
	s.clients[repoURL] = c
	return c
}

// ConfigureRepository checks that the repository is reachable with token and
// stores it for later syncs. The token is only held in memory.
func (s *Syncer) ConfigureRepository(ctx context.Context, rawURL, token string) (*models.Repository, error) {
	owner, name, err := ParseRepositoryURL(rawURL)
	if err != nil {
		return nil, err
	}
	repoURL := CanonicalRepositoryURL(owner, name)

	if token == "" {
		s.credsMu.Lock()
		token = s.defaultToken
		s.credsMu.Unlock()
	}
	client := s.factory(token)

	repo, err := client.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to reach repository %s/%s: %w", owner, name, err)
	}
	repo.URL = repoURL
	if repo.Owner == "" {
		repo.Owner = owner
	}
	if repo.Name == "" {
		repo.Name = name
	}
	if repo.FullName == "" {
		repo.FullName = owner + "/" + name
	}

	if err := s.db.SaveRepository(repo); err != nil {
		return nil, fmt.Errorf("failed to save repository %s: %w", repo.FullName, err)
	}

	s.credsMu.Lock()
	s.tokens[repoURL] = token
	s.clients[repoURL] = client
	s.credsMu.Unlock()

	log.Info().
		Str("repository", repo.FullName).
		Str("default_branch", repo.DefaultBranch).
		Bool("archived", repo.Archived).
		Bool("authenticated", token != "").
		Msg("configured repository")
	return repo, nil
}

// target is a resolved repository and branch to sync against
type target struct {
	url    string
	owner  string
	name   string
	branch string
	repo   *models.Repository
	client RepositoryClient
}

func (t *target) fullName() string {
	return t.owner + "/" + t.name
}

func (s *Syncer) target(ctx context.Context, repoURL, branch string) (*target, error) {
	owner, name, err := ParseRepositoryURL(repoURL)
	if err != nil {
		return nil, err
	}
	t := &target{url: CanonicalRepositoryURL(owner, name), owner: owner, name: name}
	t.client = s.client(t.url)

	t.repo, err = s.db.GetRepositoryByURL(t.url)
	if err != nil {
		return nil, err
	}
	if t.repo == nil {
		t.repo, err = t.client.GetRepository(ctx, owner, name)
		if err != nil {
			return nil, fmt.Errorf("failed to get repository %s: %w", t.fullName(), err)
		}
	}

	t.branch = branch
	if t.branch == "" {
		t.branch = t.repo.DefaultBranch
	}
	if t.branch == "" {
		t.branch = "main"
	}
	return t, nil
}

// ImportFromGitHub imports the awesome list of a repository into the database
func (s *Syncer) ImportFromGitHub(ctx context.Context, repoURL string, opts ImportOptions) (*ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.enqueue(repoURL, models.DirectionImport, opts)
	if err != nil {
		return nil, err
	}
	return s.runImport(ctx, item, opts)
}

// ExportToGitHub renders the approved resources and commits them to a repository
func (s *Syncer) ExportToGitHub(ctx context.Context, repoURL string, opts ExportOptions) (*ExportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.enqueue(repoURL, models.DirectionExport, opts)
	if err != nil {
		return nil, err
	}
	return s.runExport(ctx, item, opts)
}

// EnqueueImport adds a pending import to the sync queue
func (s *Syncer) EnqueueImport(repoURL string, opts ImportOptions) (*models.SyncQueueItem, error) {
	return s.enqueue(repoURL, models.DirectionImport, opts)
}

// EnqueueExport adds a pending export to the sync queue
func (s *Syncer) EnqueueExport(repoURL string, opts ExportOptions) (*models.SyncQueueItem, error) {
	return s.enqueue(repoURL, models.DirectionExport, opts)
}

func (s *Syncer) enqueue(repoURL string, direction models.SyncDirection, opts any) (*models.SyncQueueItem, error) {
	owner, name, err := ParseRepositoryURL(repoURL)
	if err != nil {
		return nil, err
	}
	metadata, err := toMetadata(opts)
	if err != nil {
		return nil, err
	}

	item := &models.SyncQueueItem{
		RepositoryURL: CanonicalRepositoryURL(owner, name),
		Direction:     direction,
		Metadata:      metadata,
	}
	if err := s.db.AddToGithubSyncQueue(item); err != nil {
		return nil, err
	}
	log.Debug().Int64("item", item.ID).Str("repository", item.RepositoryURL).Str("direction", string(direction)).Msg("queued sync")
	return item, nil
}

// ProcessQueue drains pending queue items one at a time in creation order.
// A failing item is marked failed and processing continues.
func (s *Syncer) ProcessQueue(ctx context.Context) (*ProcessResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.db.ListSyncQueue(models.SyncPending)
	if err != nil {
		return nil, err
	}

	total := len(items)
	result := &ProcessResult{}
	if total == 0 {
		log.Info().Msg("no pending sync queue items")
		return result, nil
	}
	log.Info().Int("pending", total).Msg("processing sync queue")

	for i := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		item := &items[i]

		err := s.processItem(ctx, item)
		if errors.Is(err, db.ErrInvalidTransition) {
			log.Warn().Int64("item", item.ID).Err(err).Msg("queue item no longer pending")
			continue
		}

		result.Processed++
		if err != nil {
			result.Failed++
			log.Warn().Int64("item", item.ID).Str("repository", item.RepositoryURL).Err(err).Msg("sync failed")
		} else {
			result.Completed++
		}
		log.Info().Msgf("Progress: %d/%d queue items (%.1f%%)", i+1, total, float64(i+1)/float64(total)*100.0)
	}

	log.Info().Int("completed", result.Completed).Int("failed", result.Failed).Msg("sync queue drained")
	return result, nil
}

func (s *Syncer) processItem(ctx context.Context, item *models.SyncQueueItem) error {
	switch item.Direction {
	case models.DirectionImport:
		var opts ImportOptions
		if err := fromMetadata(item.Metadata, &opts); err != nil {
			return s.fail(item, err)
		}
		_, err := s.runImport(ctx, item, opts)
		return err
	case models.DirectionExport:
		var opts ExportOptions
		if err := fromMetadata(item.Metadata, &opts); err != nil {
			return s.fail(item, err)
		}
		_, err := s.runExport(ctx, item, opts)
		return err
	default:
		return s.fail(item, fmt.Errorf("%w %q", ErrUnknownDirection, item.Direction))
	}
}

func (s *Syncer) fail(item *models.SyncQueueItem, cause error) error {
	_, err := s.run(item, func() (*models.SyncHistoryEntry, error) {
		return nil, cause
	})
	return err
}

// run moves item through processing to a terminal state. Exactly one history
// entry is written, together with the terminal status.
func (s *Syncer) run(item *models.SyncQueueItem, fn func() (*models.SyncHistoryEntry, error)) (*models.SyncHistoryEntry, error) {
	if err := s.db.UpdateGithubSyncStatus(item.ID, models.SyncProcessing, ""); err != nil {
		return nil, err
	}

	entry, runErr := fn()
	if entry == nil {
		entry = &models.SyncHistoryEntry{}
	}
	entry.QueueItemID = item.ID
	entry.RepositoryURL = item.RepositoryURL
	entry.Direction = item.Direction
	if entry.Snapshot == nil {
		entry.Snapshot = map[string]any{}
	}

	status, errMsg := models.SyncCompleted, ""
	if runErr != nil {
		status, errMsg = models.SyncFailed, runErr.Error()
		entry.Snapshot["error"] = errMsg
		logRateLimit(runErr)
	}

	err := s.db.InTx(func(tx *db.DB) error {
		if err := tx.RecordSyncHistory(entry); err != nil {
			return err
		}
		return tx.UpdateGithubSyncStatus(item.ID, status, errMsg)
	})
	if err != nil {
		if markErr := s.db.UpdateGithubSyncStatus(item.ID, models.SyncFailed, err.Error()); markErr != nil {
			log.Error().Int64("item", item.ID).Err(markErr).Msg("failed to mark sync as failed")
		}
		if runErr == nil {
			runErr = err
		}
		return entry, runErr
	}

	item.Status = status
	item.ErrorMessage = errMsg
	return entry, runErr
}

func (s *Syncer) runImport(ctx context.Context, item *models.SyncQueueItem, opts ImportOptions) (*ImportResult, error) {
	var result *ImportResult
	entry, err := s.run(item, func() (*models.SyncHistoryEntry, error) {
		var err error
		result, err = s.doImport(ctx, item.RepositoryURL, opts)
		return importHistory(result, opts), err
	})
	if result != nil {
		result.QueueItemID = item.ID
		if entry != nil {
			result.HistoryID = entry.ID
		}
	}
	return result, err
}

func (s *Syncer) doImport(ctx context.Context, repoURL string, opts ImportOptions) (*ImportResult, error) {
	t, err := s.target(ctx, repoURL, opts.Branch)
	if err != nil {
		return nil, err
	}

	log.Info().Str("repository", t.fullName()).Str("branch", t.branch).Bool("dry_run", opts.DryRun).Msg("importing awesome list")

	content, err := t.client.FetchRawMarkdown(ctx, t.owner, t.name, t.branch, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch awesome list from %s: %w", t.fullName(), err)
	}

	parsed := markdown.Parse(content)
	log.Info().Int("records", len(parsed.Records)).Int("warnings", len(parsed.Warnings)).Msg("parsed awesome list")

	reconciled, err := s.reconciler.Reconcile(parsed.Records, reconcile.Options{
		DryRun:     opts.DryRun,
		Actor:      actor(opts.Actor),
		Repository: t.url,
	})
	if err != nil {
		return nil, err
	}

	warnings := make([]string, 0, len(parsed.Warnings)+len(reconciled.Warnings))
	for _, w := range parsed.Warnings {
		warnings = append(warnings, fmt.Sprintf("line %d: %s", w.Line, w.Message))
	}
	reconciled.Warnings = append(warnings, reconciled.Warnings...)

	return &ImportResult{
		Result:  reconciled,
		Title:   parsed.Title,
		Records: len(parsed.Records),
	}, nil
}

func importHistory(result *ImportResult, opts ImportOptions) *models.SyncHistoryEntry {
	entry := &models.SyncHistoryEntry{
		PerformedBy: actor(opts.Actor),
		Snapshot:    map[string]any{"dryRun": opts.DryRun},
	}
	if result == nil {
		return entry
	}
	entry.ResourcesAdded = result.Imported
	entry.ResourcesUpdated = result.Updated
	entry.TotalResources = result.Records
	entry.Snapshot["title"] = result.Title
	entry.Snapshot["skipped"] = result.Skipped
	entry.Snapshot["errors"] = len(result.Errors)
	entry.Snapshot["warnings"] = len(result.Warnings)
	return entry
}

func (s *Syncer) runExport(ctx context.Context, item *models.SyncQueueItem, opts ExportOptions) (*ExportResult, error) {
	var result *ExportResult
	entry, err := s.run(item, func() (*models.SyncHistoryEntry, error) {
		var err error
		result, err = s.doExport(ctx, item.RepositoryURL, opts)
		return exportHistory(result, opts), err
	})
	if result != nil {
		result.QueueItemID = item.ID
		if entry != nil {
			result.HistoryID = entry.ID
		}
	}
	return result, err
}

func (s *Syncer) doExport(ctx context.Context, repoURL string, opts ExportOptions) (*ExportResult, error) {
	t, err := s.target(ctx, repoURL, opts.Branch)
	if err != nil {
		return nil, err
	}
	if t.repo.Archived && !opts.DryRun {
		return nil, fmt.Errorf("%s: %w", t.fullName(), ErrRepositoryArchived)
	}

	resources, err := s.db.ListApprovedResources()
	if err != nil {
		return nil, err
	}

	format := opts.Format
	if format.RepoURL == "" {
		format.RepoURL = t.url
	}
	content := markdown.Format(resources, format)

	result := &ExportResult{Markdown: content, TotalResources: len(resources)}
	log.Info().Str("repository", t.fullName()).Str("branch", t.branch).Int("resources", len(resources)).Bool("dry_run", opts.DryRun).Msg("exporting awesome list")

	// awesome lists always carry a license; contributing is optional
	result.Lint = lint.ValidateWithOptions(content, lint.Options{
		RequireContributing: format.IncludeContributing,
		RequireLicense:      true,
	})
	if !result.Lint.Valid {
		log.Warn().Int("errors", len(result.Lint.Errors)).Msg("generated awesome list has lint errors")
		if opts.RequireValid {
			return result, fmt.Errorf("%w: %d errors", ErrInvalidDocument, len(result.Lint.Errors))
		}
	}

	// the diff and the unchanged check must see the current remote file
	remote, err := t.client.FetchRawMarkdown(api.WithFreshContent(ctx), t.owner, t.name, t.branch, opts.Path)
	if err != nil && !errors.Is(err, api.ErrFileNotFound) {
		return result, fmt.Errorf("failed to fetch current awesome list from %s: %w", t.fullName(), err)
	}
	result.Added, result.Updated, result.Removed = diffDocuments(remote, content)

	if remote == content {
		result.Unchanged = true
		log.Info().Str("repository", t.fullName()).Msg("awesome list unchanged, skipping commit")
		return result, nil
	}
	if opts.DryRun {
		return result, nil
	}

	result.CommitMessage = opts.Message
	if result.CommitMessage == "" {
		result.CommitMessage = fmt.Sprintf("Update awesome list (%d resources)", len(resources))
	}
	result.Commit, err = t.client.CommitFile(ctx, t.owner, t.name, t.branch, opts.Path, content, result.CommitMessage)
	if err != nil {
		return result, fmt.Errorf("failed to commit awesome list to %s: %w", t.fullName(), err)
	}

	changed := make(map[string]bool, len(result.Added)+len(result.Updated))
	for _, url := range result.Added {
		changed[url] = true
	}
	for _, url := range result.Updated {
		changed[url] = true
	}
	if err := s.markSynced(resources, changed); err != nil {
		return result, err
	}

	log.Info().
		Str("repository", t.fullName()).
		Str("sha", result.Commit.SHA).
		Int("added", len(result.Added)).
		Int("updated", len(result.Updated)).
		Int("removed", len(result.Removed)).
		Msg("exported awesome list")
	return result, nil
}

// markSynced flags exported resources that were new or changed in the commit
func (s *Syncer) markSynced(resources []models.Resource, changed map[string]bool) error {
	synced := true
	ts := time.Now().UTC()
	return s.db.InTx(func(tx *db.DB) error {
		for _, r := range resources {
			if r.GithubSynced && !changed[exportedURL(r.URL)] {
				continue
			}
			if _, err := tx.UpdateResource(r.ID, models.ResourceUpdate{GithubSynced: &synced, LastSyncedAt: &ts}); err != nil {
				return fmt.Errorf("failed to mark resource %s synced: %w", r.ID, err)
			}
		}
		return nil
	})
}

func exportHistory(result *ExportResult, opts ExportOptions) *models.SyncHistoryEntry {
	entry := &models.SyncHistoryEntry{
		PerformedBy: actor(opts.Actor),
		Snapshot:    map[string]any{"dryRun": opts.DryRun},
	}
	if result == nil {
		return entry
	}
	entry.ResourcesAdded = len(result.Added)
	entry.ResourcesUpdated = len(result.Updated)
	entry.ResourcesRemoved = len(result.Removed)
	entry.TotalResources = result.TotalResources
	entry.Snapshot["unchanged"] = result.Unchanged
	if result.Lint != nil {
		entry.Snapshot["lintValid"] = result.Lint.Valid
		entry.Snapshot["lintErrors"] = len(result.Lint.Errors)
	}
	if result.Commit != nil {
		entry.CommitSHA = result.Commit.SHA
		entry.CommitURL = result.Commit.URL
		entry.CommitMessage = result.CommitMessage
	}
	return entry
}

// diffDocuments compares two awesome lists by URL
func diffDocuments(before, after string) (added, updated, removed []string) {
	old := indexRecords(markdown.Parse(before).Records)
	cur := indexRecords(markdown.Parse(after).Records)

	added, updated, removed = []string{}, []string{}, []string{}
	for url, rec := range cur {
		prev, ok := old[url]
		switch {
		case !ok:
			added = append(added, url)
		case recordChanged(prev, rec):
			updated = append(updated, url)
		}
	}
	for url := range old {
		if _, ok := cur[url]; !ok {
			removed = append(removed, url)
		}
	}

	sort.Strings(added)
	sort.Strings(updated)
	sort.Strings(removed)
	return added, updated, removed
}

func indexRecords(records []markdown.Record) map[string]markdown.Record {
	index := make(map[string]markdown.Record, len(records))
	for _, rec := range records {
		url := db.NormalizeURL(rec.Resource.URL)
		if _, ok := index[url]; !ok {
			index[url] = rec
		}
	}
	return index
}

func recordChanged(a, b markdown.Record) bool {
	return a.Resource.Title != b.Resource.Title ||
		markdown.FormatDescription(a.Resource.Description) != markdown.FormatDescription(b.Resource.Description) ||
		strings.Join(a.CategoryPath, "/") != strings.Join(b.CategoryPath, "/")
}

// exportedURL is the form a stored URL takes once written to and parsed back from markdown
func exportedURL(url string) string {
	return db.NormalizeURL(markdown.FormatURL(url))
}

// History lists the most recent sync history entries, newest first
func (s *Syncer) History(limit int) ([]models.SyncHistoryEntry, error) {
	return s.db.GetSyncHistory(limit)
}

// Status reports queue counts by status and the latest history entry
func (s *Syncer) Status() (*Status, error) {
	counts, err := s.db.CountSyncQueueByStatus()
	if err != nil {
		return nil, err
	}
	status := &Status{Queue: counts}

	latest, err := s.db.GetSyncHistory(1)
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		status.LastSync = &latest[0]
	}
	return status, nil
}

func actor(a string) string {
	if a == "" {
		return DefaultActor
	}
	return a
}

func logRateLimit(err error) {
	var rateErr *api.RateLimitError
	if errors.As(err, &rateErr) {
		wait := time.Until(rateErr.ResetTime)
		if wait < 0 {
			wait = 0
		}
		log.Warn().
			Str("reset_at", rateErr.ResetTime.Format(time.RFC3339)).
			Dur("wait", wait.Round(time.Second)).
			Msg("GitHub rate limit hit, enqueue the sync again after the reset")
	}
}

func toMetadata(opts any) (map[string]any, error) {
	data, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync options: %w", err)
	}
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to encode sync options: %w", err)
	}
	return metadata, nil
}

func fromMetadata(metadata map[string]any, opts any) error {
	if len(metadata) == 0 {
		return nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to decode sync options: %w", err)
	}
	if err := json.Unmarshal(data, opts); err != nil {
		return fmt.Errorf("failed to decode sync options: %w", err)
	}
	return nil
}
