package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/wesm/awesome-sync/internal/models"
)

// SaveRepository saves a configured repository to the database
func (db *DB) SaveRepository(repo *models.Repository) error {
	if repo.ConfiguredAt.IsZero() {
		repo.ConfiguredAt = now()
	}

	query := `
	INSERT INTO github_repositories (url, owner, name, full_name, default_branch, archived, configured_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		owner = excluded.owner,
		name = excluded.name,
		full_name = excluded.full_name,
		default_branch = excluded.default_branch,
		archived = excluded.archived,
		configured_at = excluded.configured_at
	`

	_, err := db.q.Exec(query, repo.URL, repo.Owner, repo.Name, repo.FullName, repo.DefaultBranch,
		repo.Archived, repo.ConfiguredAt)
	if err != nil {
		return fmt.Errorf("failed to save repository: %w", err)
	}

	return db.q.QueryRow(`SELECT id FROM github_repositories WHERE url = ?`, repo.URL).Scan(&repo.ID)
}

// GetRepositoryByURL gets a configured repository by its URL. Returns nil if absent.
func (db *DB) GetRepositoryByURL(url string) (*models.Repository, error) {
	query := `SELECT id, url, owner, name, full_name, default_branch, archived, configured_at
	FROM github_repositories WHERE url = ?`

	var repo models.Repository
	err := db.q.QueryRow(query, url).Scan(&repo.ID, &repo.URL, &repo.Owner, &repo.Name, &repo.FullName,
		&repo.DefaultBranch, &repo.Archived, &repo.ConfiguredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}

	return &repo, nil
}

// AddToGithubSyncQueue creates a pending sync queue item
func (db *DB) AddToGithubSyncQueue(item *models.SyncQueueItem) error {
	item.Status = models.SyncPending
	item.CreatedAt = now()
	metadata, err := encodeJSON(item.Metadata)
	if err != nil {
		return err
	}

	result, err := db.q.Exec(`
	INSERT INTO github_sync_queue (repository_url, direction, status, metadata, created_at)
	VALUES (?, ?, ?, ?, ?)`,
		item.RepositoryURL, string(item.Direction), string(item.Status), metadata, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add sync queue item: %w", err)
	}
	if item.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read sync queue item id: %w", err)
	}
	return nil
}

// UpdateGithubSyncStatus moves a queue item to status. Only
// pending→processing and processing→completed|failed are accepted.
func (db *DB) UpdateGithubSyncStatus(id int64, status models.SyncStatus, errMsg string) error {
	var from models.SyncStatus
	switch status {
	case models.SyncProcessing:
		from = models.SyncPending
	case models.SyncCompleted, models.SyncFailed:
		from = models.SyncProcessing
	default:
		return fmt.Errorf("%w: cannot move to %q", ErrInvalidTransition, status)
	}

	var processedAt sql.NullTime
	if status == models.SyncCompleted || status == models.SyncFailed {
		processedAt = sql.NullTime{Time: now(), Valid: true}
	}

	result, err := db.q.Exec(`
	UPDATE github_sync_queue SET status = ?, error_message = ?, processed_at = ?
	WHERE id = ? AND status = ?`,
		string(status), nullString(errMsg), processedAt, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: item %d is not %s", ErrInvalidTransition, id, from)
	}
	return nil
}

const queueColumns = `id, repository_url, direction, status, error_message, metadata, created_at, processed_at`

func scanQueueItem(row scanner) (*models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	var direction, status string
	var errMsg, metadata sql.NullString
	var processedAt sql.NullTime
	if err := row.Scan(&item.ID, &item.RepositoryURL, &direction, &status, &errMsg, &metadata,
		&item.CreatedAt, &processedAt); err != nil {
		return nil, err
	}
	item.Direction = models.SyncDirection(direction)
	item.Status = models.SyncStatus(status)
	item.ErrorMessage = errMsg.String
	item.ProcessedAt = timePtr(processedAt)
	if err := decodeJSON(metadata, &item.Metadata); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetSyncQueueItem gets a queue item by ID. Returns nil if absent.
func (db *DB) GetSyncQueueItem(id int64) (*models.SyncQueueItem, error) {
	item, err := scanQueueItem(db.q.QueryRow(`SELECT `+queueColumns+` FROM github_sync_queue WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync queue item: %w", err)
	}
	return item, nil
}

// ListSyncQueue lists queue items with the given status in creation order
func (db *DB) ListSyncQueue(status models.SyncStatus) ([]models.SyncQueueItem, error) {
	rows, err := db.q.Query(`SELECT `+queueColumns+` FROM github_sync_queue WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list sync queue: %w", err)
	}
	defer rows.Close()

	var items []models.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync queue item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// CountSyncQueueByStatus counts queue items per status
func (db *DB) CountSyncQueueByStatus() (map[models.SyncStatus]int, error) {
	rows, err := db.q.Query(`SELECT status, COUNT(*) FROM github_sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync queue: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan sync queue count: %w", err)
		}
		counts[models.SyncStatus(status)] = n
	}
	return counts, rows.Err()
}

// RecordSyncHistory appends an immutable history entry
func (db *DB) RecordSyncHistory(entry *models.SyncHistoryEntry) error {
	entry.CreatedAt = now()
	snapshot, err := encodeJSON(entry.Snapshot)
	if err != nil {
		return err
	}

	var queueItemID sql.NullInt64
	if entry.QueueItemID != 0 {
		queueItemID = sql.NullInt64{Int64: entry.QueueItemID, Valid: true}
	}

	result, err := db.q.Exec(`
	INSERT INTO github_sync_history (queue_item_id, repository_url, direction, resources_added, resources_updated,
		resources_removed, total_resources, commit_sha, commit_url, commit_message, snapshot, performed_by, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		queueItemID, entry.RepositoryURL, string(entry.Direction), entry.ResourcesAdded, entry.ResourcesUpdated,
		entry.ResourcesRemoved, entry.TotalResources, nullString(entry.CommitSHA), nullString(entry.CommitURL),
		nullString(entry.CommitMessage), snapshot, nullString(entry.PerformedBy), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record sync history: %w", err)
	}
	if entry.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read sync history id: %w", err)
	}
	return nil
}

// GetSyncHistory lists the most recent history entries, newest first
func (db *DB) GetSyncHistory(limit int) ([]models.SyncHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.q.Query(`
	SELECT id, queue_item_id, repository_url, direction, resources_added, resources_updated, resources_removed,
		total_resources, commit_sha, commit_url, commit_message, snapshot, performed_by, created_at
	FROM github_sync_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync history: %w", err)
	}
	defer rows.Close()

	var entries []models.SyncHistoryEntry
	for rows.Next() {
		var e models.SyncHistoryEntry
		var direction string
		var queueItemID sql.NullInt64
		var sha, url, msg, snapshot, performedBy sql.NullString
		if err := rows.Scan(&e.ID, &queueItemID, &e.RepositoryURL, &direction, &e.ResourcesAdded, &e.ResourcesUpdated,
			&e.ResourcesRemoved, &e.TotalResources, &sha, &url, &msg, &snapshot, &performedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync history: %w", err)
		}
		e.QueueItemID = queueItemID.Int64
		e.Direction = models.SyncDirection(direction)
		e.CommitSHA = sha.String
		e.CommitURL = url.String
		e.CommitMessage = msg.String
		e.PerformedBy = performedBy.String
		if err := decodeJSON(snapshot, &e.Snapshot); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LogAudit appends an audit log entry
func (db *DB) LogAudit(entry *models.AuditLogEntry) error {
	entry.CreatedAt = now()
	changes := entry.Changes
	if changes == nil {
		changes = map[string]any{}
	}
	changesJSON, err := encodeJSON(changes)
	if err != nil {
		return err
	}

	result, err := db.q.Exec(`
	INSERT INTO audit_log (resource_id, action, actor, changes, note, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		nullString(entry.ResourceID), entry.Action, nullString(entry.Actor), changesJSON, nullString(entry.Note), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	if entry.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read audit log id: %w", err)
	}
	return nil
}

// ListAuditLog lists audit entries for a resource in the order they were written
func (db *DB) ListAuditLog(resourceID string) ([]models.AuditLogEntry, error) {
	rows, err := db.q.Query(`
	SELECT id, resource_id, action, actor, changes, note, created_at
	FROM audit_log WHERE resource_id = ? ORDER BY id`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	return scanAuditLog(rows)
}

// ListCategoryAuditLog lists audit entries for category tree nodes in the order they were written
func (db *DB) ListCategoryAuditLog() ([]models.AuditLogEntry, error) {
	rows, err := db.q.Query(`
	SELECT id, resource_id, action, actor, changes, note, created_at
	FROM audit_log WHERE resource_id IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	return scanAuditLog(rows)
}

func scanAuditLog(rows *sql.Rows) ([]models.AuditLogEntry, error) {
	defer rows.Close()

	var entries []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var resID, actor, changes, note sql.NullString
		if err := rows.Scan(&e.ID, &resID, &e.Action, &actor, &changes, &note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.ResourceID = resID.String
		e.Actor = actor.String
		e.Note = note.String
		if err := decodeJSON(changes, &e.Changes); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
