// Package reconcile applies parsed awesome-list records to the store as an
// idempotent create / update / skip plan keyed by normalized URL.
package reconcile

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wesm/awesome-sync/internal/db"
	"github.com/wesm/awesome-sync/internal/hierarchy"
	"github.com/wesm/awesome-sync/internal/markdown"
	"github.com/wesm/awesome-sync/internal/models"
)

// Action is what the reconciler does with one record
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
	ActionError  Action = "error"
)

// ImportSource is recorded in the metadata of every imported resource
const ImportSource = "github-import"

// Options controls a reconcile run
type Options struct {
	DryRun bool
	// Actor is written to the audit log
	Actor string
	// Repository is the source repository URL recorded as provenance
	Repository string
}

// PlanItem describes the action taken (or planned) for one record
type PlanItem struct {
	Line         int                           `json:"line"`
	URL          string                        `json:"url"`
	Title        string                        `json:"title"`
	Action       Action                        `json:"action"`
	CategoryPath []string                      `json:"categoryPath"`
	ResourceID   string                        `json:"resourceId,omitempty"`
	Changes      map[string]models.FieldChange `json:"changes,omitempty"`
	Error        string                        `json:"error,omitempty"`
}

// Result summarizes a reconcile run
type Result struct {
	Imported int        `json:"imported"`
	Updated  int        `json:"updated"`
	Skipped  int        `json:"skipped"`
	Errors   []string   `json:"errors"`
	Warnings []string   `json:"warnings,omitempty"`
	Plan     []PlanItem `json:"plan,omitempty"`
}

// Reconciler upserts parsed records into the store
type Reconciler struct {
	db *db.DB
}

// New creates a reconciler over the store
func New(database *db.DB) *Reconciler {
	return &Reconciler{db: database}
}

// Reconcile classifies every record as create, update or skip and, unless
// DryRun is set, applies it. Each record is written in its own transaction
// together with its audit entry; a failing record is rolled back, reported in
// Errors, and the batch continues. Only an unreachable store aborts the batch.
func (r *Reconciler) Reconcile(records []markdown.Record, opts Options) (*Result, error) {
	if err := r.db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to reach store: %w", err)
	}

	result := &Result{Errors: []string{}}
	b := &batch{
		opts:     opts,
		result:   result,
		resolver: hierarchy.New(r.db),
		seen:     make(map[string]*models.Resource),
	}
	if opts.DryRun {
		b.resolver = hierarchy.NewDryRun(r.db)
	}

	log.Info().Int("records", len(records)).Bool("dry_run", opts.DryRun).Str("repository", opts.Repository).Msg("reconciling records")

	for _, rec := range records {
		var item PlanItem
		var err error
		if opts.DryRun {
			item, err = b.apply(r.db, rec)
		} else {
			err = r.db.InTx(func(tx *db.DB) error {
				item, err = b.apply(tx, rec)
				return err
			})
		}

		if err != nil {
			msg := fmt.Sprintf("line %d %s: %v", rec.Line, rec.Resource.URL, err)
			result.Errors = append(result.Errors, msg)
			item.Action = ActionError
			item.Error = err.Error()
			log.Warn().Int("line", rec.Line).Str("url", rec.Resource.URL).Err(err).Msg("failed to reconcile record")
		}

		switch item.Action {
		case ActionCreate:
			result.Imported++
		case ActionUpdate:
			result.Updated++
		case ActionSkip:
			result.Skipped++
		}
		result.Plan = append(result.Plan, item)
	}

	log.Info().
		Int("imported", result.Imported).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Bool("dry_run", opts.DryRun).
		Msg("reconcile finished")

	return result, nil
}

// batch carries the state of one Reconcile call
type batch struct {
	opts     Options
	result   *Result
	resolver *hierarchy.Resolver
	// seen holds the planned state of resources touched by a dry run
	seen map[string]*models.Resource
}

func (b *batch) apply(store *db.DB, rec markdown.Record) (PlanItem, error) {
	url := db.NormalizeURL(rec.Resource.URL)
	item := PlanItem{Line: rec.Line, URL: url, Title: rec.Resource.Title}
	if url == "" {
		return item, fmt.Errorf("empty url")
	}

	path, sourceCategory := b.canonicalPath(rec)
	item.CategoryPath = path.Slice()

	resolved, err := b.resolver.WithStore(store).Resolve(path)
	if err != nil {
		return item, fmt.Errorf("failed to resolve category %s: %w", path, err)
	}
	path = resolved.Path
	item.CategoryPath = path.Slice()

	existing, err := b.lookup(store, url)
	if err != nil {
		return item, err
	}

	if existing == nil {
		item.Action = ActionCreate
		res := &models.Resource{
			Title:          rec.Resource.Title,
			URL:            url,
			Description:    rec.Resource.Description,
			Category:       path.Category,
			Subcategory:    path.Subcategory,
			SubSubcategory: path.SubSubcategory,
			Tags:           rec.Resource.Tags,
			Status:         models.StatusApproved,
			SubmittedBy:    b.opts.Actor,
			ApprovedBy:     b.opts.Actor,
			GithubSynced:   true,
			Metadata:       b.provenance(sourceCategory),
		}
		if b.opts.DryRun {
			b.seen[url] = res
			return item, nil
		}
		ts := time.Now().UTC()
		res.LastSyncedAt = &ts
		if err := store.CreateResource(res); err != nil {
			return item, err
		}
		item.ResourceID = res.ID
		return item, store.LogAudit(&models.AuditLogEntry{
			ResourceID: res.ID,
			Action:     "github_import_create",
			Actor:      b.opts.Actor,
			Changes: map[string]any{
				"title":    res.Title,
				"url":      res.URL,
				"category": path.String(),
			},
			Note: b.note(),
		})
	}

	item.ResourceID = existing.ID
	item.Changes = diff(existing, rec.Resource, path)
	if len(item.Changes) == 0 {
		item.Action = ActionSkip
		return item, nil
	}
	item.Action = ActionUpdate

	if b.opts.DryRun {
		planned := *existing
		planned.Title = rec.Resource.Title
		planned.Description = rec.Resource.Description
		planned.Category = path.Category
		planned.Subcategory = path.Subcategory
		planned.SubSubcategory = path.SubSubcategory
		b.seen[url] = &planned
		return item, nil
	}

	synced := true
	ts := time.Now().UTC()
	update := models.ResourceUpdate{
		Title:          &rec.Resource.Title,
		Description:    &rec.Resource.Description,
		Category:       &path.Category,
		Subcategory:    &path.Subcategory,
		SubSubcategory: &path.SubSubcategory,
		GithubSynced:   &synced,
		LastSyncedAt:   &ts,
		Metadata:       b.provenance(sourceCategory),
	}
	if len(rec.Resource.Tags) > 0 {
		update.Tags = &rec.Resource.Tags
	}
	if _, err := store.UpdateResource(existing.ID, update); err != nil {
		return item, err
	}

	changes := make(map[string]any, len(item.Changes))
	for field, change := range item.Changes {
		changes[field] = change
	}
	return item, store.LogAudit(&models.AuditLogEntry{
		ResourceID: existing.ID,
		Action:     "github_import_update",
		Actor:      b.opts.Actor,
		Changes:    changes,
		Note:       b.note(),
	})
}

// canonicalPath maps the record's category onto the canonical taxonomy.
// Unmapped names pass through unchanged with a warning.
func (b *batch) canonicalPath(rec markdown.Record) (hierarchy.Path, string) {
	path := hierarchy.PathFromSlice(rec.CategoryPath)
	original := path.Category

	canonical, known := hierarchy.CanonicalCategory(original)
	if !known {
		msg := fmt.Sprintf("line %d: category %q is not in the canonical taxonomy, kept as is", rec.Line, original)
		b.result.Warnings = append(b.result.Warnings, msg)
		log.Warn().Int("line", rec.Line).Str("category", original).Msg("unmapped category passed through")
	}
	path.Category = canonical

	if canonical != original {
		return path, original
	}
	return path, ""
}

func (b *batch) lookup(store *db.DB, url string) (*models.Resource, error) {
	if planned, ok := b.seen[url]; ok {
		return planned, nil
	}
	existing, err := store.GetResourceByURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to look up resource: %w", err)
	}
	return existing, nil
}

func (b *batch) provenance(sourceCategory string) map[string]any {
	metadata := map[string]any{"source": ImportSource}
	if b.opts.Repository != "" {
		metadata["sourceRepository"] = b.opts.Repository
	}
	if sourceCategory != "" {
		metadata["sourceCategory"] = sourceCategory
	}
	return metadata
}

func (b *batch) note() string {
	if b.opts.Repository == "" {
		return "imported from markdown"
	}
	return "imported from " + b.opts.Repository
}

// diff compares the fields that decide between update and skip
func diff(existing *models.Resource, entry markdown.Entry, path hierarchy.Path) map[string]models.FieldChange {
	changes := make(map[string]models.FieldChange)
	add := func(field, from, to string) {
		if from != to {
			changes[field] = models.FieldChange{Old: from, New: to}
		}
	}
	add("title", existing.Title, entry.Title)
	add("description", existing.Description, entry.Description)
	add("category", existing.Category, path.Category)
	add("subcategory", existing.Subcategory, path.Subcategory)
	add("subSubcategory", existing.SubSubcategory, path.SubSubcategory)
	return changes
}
