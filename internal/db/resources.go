package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wesm/awesome-sync/internal/models"
)

const resourceColumns = `id, title, url, description, category, subcategory, sub_subcategory, tags,
	status, submitted_by, approved_by, approved_at, github_synced, last_synced_at, metadata,
	created_at, updated_at`

func scanResource(row scanner) (*models.Resource, error) {
	var r models.Resource
	var sub, subSub, submittedBy, approvedBy, tags, metadata sql.NullString
	var approvedAt, lastSyncedAt sql.NullTime
	var status string

	err := row.Scan(
		&r.ID, &r.Title, &r.URL, &r.Description, &r.Category, &sub, &subSub, &tags,
		&status, &submittedBy, &approvedBy, &approvedAt, &r.GithubSynced, &lastSyncedAt, &metadata,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Subcategory = sub.String
	r.SubSubcategory = subSub.String
	r.Status = models.ResourceStatus(status)
	r.SubmittedBy = submittedBy.String
	r.ApprovedBy = approvedBy.String
	r.ApprovedAt = timePtr(approvedAt)
	r.LastSyncedAt = timePtr(lastSyncedAt)

	if err := decodeJSON(tags, &r.Tags); err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &r.Metadata); err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *DB) queryResources(query string, args ...any) ([]models.Resource, error) {
	rows, err := db.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	var resources []models.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, *r)
	}
	return resources, rows.Err()
}

// NormalizeURL trims the URL used as the natural dedup key
func NormalizeURL(url string) string {
	return strings.TrimSpace(url)
}

// GetResourceByURL gets a resource by its normalized URL. Returns nil if absent.
func (db *DB) GetResourceByURL(url string) (*models.Resource, error) {
	row := db.q.QueryRow(`SELECT `+resourceColumns+` FROM resources WHERE url = ?`, NormalizeURL(url))
	r, err := scanResource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get resource by url: %w", err)
	}
	return r, nil
}

// GetResource gets a resource by ID. Returns nil if absent.
func (db *DB) GetResource(id string) (*models.Resource, error) {
	row := db.q.QueryRow(`SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
	r, err := scanResource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return r, nil
}

// CreateResource inserts a resource, filling in ID, timestamps and default status
func (db *DB) CreateResource(r *models.Resource) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = models.StatusPending
	}
	r.URL = NormalizeURL(r.URL)
	ts := now()
	r.CreatedAt = ts
	r.UpdatedAt = ts
	if r.Status == models.StatusApproved && r.ApprovedAt == nil {
		r.ApprovedAt = &ts
	}

	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := encodeJSON(tags)
	if err != nil {
		return err
	}
	metadata := r.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := encodeJSON(metadata)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO resources (` + resourceColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.q.Exec(
		query,
		r.ID, r.Title, r.URL, r.Description, r.Category,
		nullString(r.Subcategory), nullString(r.SubSubcategory), tagsJSON,
		string(r.Status), nullString(r.SubmittedBy), nullString(r.ApprovedBy), nullTime(r.ApprovedAt),
		r.GithubSynced, nullTime(r.LastSyncedAt), metadataJSON,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

// UpdateResource applies the non-nil fields of u to the resource and bumps updated_at.
// Metadata keys are merged into the existing bag.
func (db *DB) UpdateResource(id string, u models.ResourceUpdate) (*models.Resource, error) {
	existing, err := db.GetResource(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}

	var sets []string
	var args []any
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if u.Title != nil {
		set("title", *u.Title)
	}
	if u.URL != nil {
		set("url", NormalizeURL(*u.URL))
	}
	if u.Description != nil {
		set("description", *u.Description)
	}
	if u.Category != nil {
		set("category", *u.Category)
	}
	if u.Subcategory != nil {
		set("subcategory", nullString(*u.Subcategory))
	}
	if u.SubSubcategory != nil {
		set("sub_subcategory", nullString(*u.SubSubcategory))
	}
	if u.Tags != nil {
		tags := *u.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := encodeJSON(tags)
		if err != nil {
			return nil, err
		}
		set("tags", tagsJSON)
	}
	if u.Status != nil {
		set("status", string(*u.Status))
		if *u.Status == models.StatusApproved && existing.ApprovedAt == nil {
			set("approved_at", now())
		}
	}
	if u.ApprovedBy != nil {
		set("approved_by", nullString(*u.ApprovedBy))
	}
	if u.GithubSynced != nil {
		set("github_synced", *u.GithubSynced)
	}
	if u.LastSyncedAt != nil {
		set("last_synced_at", *u.LastSyncedAt)
	}
	if len(u.Metadata) > 0 {
		merged := existing.Metadata
		if merged == nil {
			merged = map[string]any{}
		}
		for k, v := range u.Metadata {
			merged[k] = v
		}
		metadataJSON, err := encodeJSON(merged)
		if err != nil {
			return nil, err
		}
		set("metadata", metadataJSON)
	}

	set("updated_at", now())
	args = append(args, id)

	query := `UPDATE resources SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	if _, err := db.q.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("failed to update resource: %w", err)
	}

	return db.GetResource(id)
}

// ListApprovedResources lists every approved resource in category order
func (db *DB) ListApprovedResources() ([]models.Resource, error) {
	return db.ListResources(models.StatusApproved)
}

// ListResources lists resources with the given status, or all resources if status is empty
func (db *DB) ListResources(status models.ResourceStatus) ([]models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY category, COALESCE(subcategory, ''), COALESCE(sub_subcategory, ''), title COLLATE NOCASE`
	return db.queryResources(query, args...)
}

// CountResources counts resources with the given status, or all resources if status is empty
func (db *DB) CountResources(status models.ResourceStatus) (int, error) {
	query := `SELECT COUNT(*) FROM resources`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	var count int
	if err := db.q.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count resources: %w", err)
	}
	return count, nil
}

// FindOrphanedResources lists resources whose category path references a
// category, subcategory or sub-subcategory that does not exist in the tree
func (db *DB) FindOrphanedResources() ([]models.Resource, error) {
	query := `
	SELECT ` + resourceColumns + ` FROM resources r
	WHERE NOT EXISTS (SELECT 1 FROM categories c WHERE c.name = r.category)
	   OR (r.subcategory IS NOT NULL AND NOT EXISTS (
			SELECT 1 FROM subcategories s JOIN categories c ON s.category_id = c.id
			WHERE c.name = r.category AND s.name = r.subcategory))
	   OR (r.sub_subcategory IS NOT NULL AND NOT EXISTS (
			SELECT 1 FROM sub_subcategories ss
			JOIN subcategories s ON ss.subcategory_id = s.id
			JOIN categories c ON s.category_id = c.id
			WHERE c.name = r.category AND s.name = r.subcategory AND ss.name = r.sub_subcategory))
	ORDER BY r.category, r.title
	`
	return db.queryResources(query)
}
