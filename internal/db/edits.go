package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wesm/awesome-sync/internal/models"
)

// CreateResourceEdit inserts a pending resource edit
func (db *DB) CreateResourceEdit(edit *models.ResourceEdit) error {
	if edit.ID == "" {
		edit.ID = uuid.NewString()
	}
	edit.Status = models.EditPending
	ts := now()
	edit.CreatedAt = ts
	edit.UpdatedAt = ts

	changes, err := encodeJSON(edit.ProposedChanges)
	if err != nil {
		return err
	}
	data, err := encodeJSON(edit.ProposedData)
	if err != nil {
		return err
	}
	var ai sql.NullString
	if edit.AISuggestions != nil {
		s, err := encodeJSON(edit.AISuggestions)
		if err != nil {
			return err
		}
		ai = nullString(s)
	}

	_, err = db.q.Exec(`
	INSERT INTO resource_edits (id, resource_id, submitted_by, status, original_resource_updated_at,
		proposed_changes, proposed_data, ai_suggestions, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		edit.ID, edit.ResourceID, edit.SubmittedBy, string(edit.Status), edit.OriginalResourceUpdatedAt,
		changes, data, ai, edit.CreatedAt, edit.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create resource edit: %w", err)
	}
	return nil
}

// GetResourceEdit gets a resource edit by ID. Returns nil if absent.
func (db *DB) GetResourceEdit(id string) (*models.ResourceEdit, error) {
	var e models.ResourceEdit
	var status string
	var changes, data, ai, handledBy, reason sql.NullString
	var handledAt sql.NullTime

	err := db.q.QueryRow(`
	SELECT id, resource_id, submitted_by, status, original_resource_updated_at, proposed_changes,
		proposed_data, ai_suggestions, handled_by, handled_at, rejection_reason, created_at, updated_at
	FROM resource_edits WHERE id = ?`, id).Scan(
		&e.ID, &e.ResourceID, &e.SubmittedBy, &status, &e.OriginalResourceUpdatedAt, &changes,
		&data, &ai, &handledBy, &handledAt, &reason, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get resource edit: %w", err)
	}

	e.Status = models.EditStatus(status)
	e.HandledBy = handledBy.String
	e.HandledAt = timePtr(handledAt)
	e.RejectionReason = reason.String
	if err := decodeJSON(changes, &e.ProposedChanges); err != nil {
		return nil, err
	}
	if err := decodeJSON(data, &e.ProposedData); err != nil {
		return nil, err
	}
	if err := decodeJSON(ai, &e.AISuggestions); err != nil {
		return nil, err
	}
	return &e, nil
}

// ResolveResourceEdit moves a pending edit to approved or rejected
func (db *DB) ResolveResourceEdit(id string, status models.EditStatus, handledBy, reason string) error {
	ts := now()
	result, err := db.q.Exec(`
	UPDATE resource_edits SET status = ?, handled_by = ?, handled_at = ?, rejection_reason = ?, updated_at = ?
	WHERE id = ? AND status = ?`,
		string(status), handledBy, ts, nullString(reason), ts, id, string(models.EditPending))
	if err != nil {
		return fmt.Errorf("failed to resolve resource edit: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve resource edit: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("edit %s: %w", id, ErrEditNotPending)
	}
	return nil
}
