// Package edits handles proposed changes to existing resources and their
// review. An edit is approved only if the resource has not changed since the
// edit was proposed.
package edits

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wesm/awesome-sync/internal/db"
	"github.com/wesm/awesome-sync/internal/hierarchy"
	"github.com/wesm/awesome-sync/internal/models"
)

// Editable fields
const (
	FieldTitle          = "title"
	FieldDescription    = "description"
	FieldURL            = "url"
	FieldTags           = "tags"
	FieldCategory       = "category"
	FieldSubcategory    = "subcategory"
	FieldSubSubcategory = "subSubcategory"
)

// category levels, top-down
var pathFields = []string{FieldCategory, FieldSubcategory, FieldSubSubcategory}

var editableFields = map[string]bool{
	FieldTitle:          true,
	FieldDescription:    true,
	FieldURL:            true,
	FieldTags:           true,
	FieldCategory:       true,
	FieldSubcategory:    true,
	FieldSubSubcategory: true,
}

var (
	// ErrFieldNotEditable is returned when a proposal touches a field outside the allowlist
	ErrFieldNotEditable = errors.New("field is not editable")
	// ErrInvalidValue is returned when a proposed value has the wrong type
	ErrInvalidValue = errors.New("invalid field value")
	// ErrNoChanges is returned when a proposal matches the current resource
	ErrNoChanges = errors.New("edit does not change the resource")
)

// Service proposes and reviews resource edits
type Service struct {
	db *db.DB
}

// New creates an edit service over the store
func New(database *db.DB) *Service {
	return &Service{db: database}
}

// Propose records a pending edit of resourceID. Only fields that differ from
// the current resource are kept in the diff.
func (s *Service) Propose(resourceID, submitter string, proposed map[string]any) (*models.ResourceEdit, error) {
	data := make(map[string]any, len(proposed))
	for field, value := range proposed {
		if !editableFields[field] {
			return nil, fmt.Errorf("%w: %s", ErrFieldNotEditable, field)
		}
		normalized, err := normalize(field, value)
		if err != nil {
			return nil, err
		}
		data[field] = normalized
	}

	res, err := s.db.GetResource(resourceID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("resource %s: %w", resourceID, db.ErrNotFound)
	}

	changes := diff(res, data)
	if len(changes) == 0 {
		return nil, ErrNoChanges
	}

	edit := &models.ResourceEdit{
		ResourceID:                res.ID,
		SubmittedBy:               submitter,
		OriginalResourceUpdatedAt: res.UpdatedAt,
		ProposedChanges:           changes,
		ProposedData:              data,
	}
	if err := s.db.CreateResourceEdit(edit); err != nil {
		return nil, err
	}

	log.Info().Str("edit", edit.ID).Str("resource", res.ID).Str("submitted_by", submitter).Int("fields", len(changes)).Msg("proposed resource edit")
	return edit, nil
}

// Approve applies a pending edit. It fails with db.ErrEditConflict when the
// resource was modified after the edit was proposed.
func (s *Service) Approve(editID, handler string) (*models.Resource, error) {
	var updated *models.Resource
	err := s.db.InTx(func(tx *db.DB) error {
		edit, err := pendingEdit(tx, editID)
		if err != nil {
			return err
		}

		res, err := tx.GetResource(edit.ResourceID)
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("resource %s: %w", edit.ResourceID, db.ErrNotFound)
		}
		if !res.UpdatedAt.Equal(edit.OriginalResourceUpdatedAt) {
			return fmt.Errorf("edit %s: %w", editID, db.ErrEditConflict)
		}

		update, err := buildUpdate(tx, res, edit)
		if err != nil {
			return err
		}
		if updated, err = tx.UpdateResource(res.ID, update); err != nil {
			return err
		}
		if err := tx.ResolveResourceEdit(editID, models.EditApproved, handler, ""); err != nil {
			return err
		}

		changes := make(map[string]any, len(edit.ProposedChanges))
		for field, change := range edit.ProposedChanges {
			changes[field] = change
		}
		return tx.LogAudit(&models.AuditLogEntry{
			ResourceID: res.ID,
			Action:     "resource_edit_approve",
			Actor:      handler,
			Changes:    changes,
			Note:       fmt.Sprintf("edit %s submitted by %s", editID, edit.SubmittedBy),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("edit", editID).Str("resource", updated.ID).Str("handled_by", handler).Msg("approved resource edit")
	return updated, nil
}

// Reject closes a pending edit without applying it
func (s *Service) Reject(editID, handler, reason string) error {
	return s.db.InTx(func(tx *db.DB) error {
		edit, err := pendingEdit(tx, editID)
		if err != nil {
			return err
		}
		if err := tx.ResolveResourceEdit(editID, models.EditRejected, handler, reason); err != nil {
			return err
		}
		log.Info().Str("edit", editID).Str("resource", edit.ResourceID).Str("handled_by", handler).Msg("rejected resource edit")
		return tx.LogAudit(&models.AuditLogEntry{
			ResourceID: edit.ResourceID,
			Action:     "resource_edit_reject",
			Actor:      handler,
			Note:       reason,
		})
	})
}

func pendingEdit(store *db.DB, editID string) (*models.ResourceEdit, error) {
	edit, err := store.GetResourceEdit(editID)
	if err != nil {
		return nil, err
	}
	if edit == nil {
		return nil, fmt.Errorf("edit %s: %w", editID, db.ErrNotFound)
	}
	if edit.Status != models.EditPending {
		return nil, fmt.Errorf("edit %s is %s: %w", editID, edit.Status, db.ErrEditNotPending)
	}
	return edit, nil
}

// buildUpdate turns a stored edit into a resource update. When a category
// level changes, the levels below it are cleared unless the edit names them,
// and the resulting path is resolved so missing nodes exist.
func buildUpdate(tx *db.DB, res *models.Resource, edit *models.ResourceEdit) (models.ResourceUpdate, error) {
	var u models.ResourceUpdate

	for _, f := range []struct {
		field string
		dst   **string
	}{
		{FieldTitle, &u.Title},
		{FieldDescription, &u.Description},
		{FieldURL, &u.URL},
	} {
		change, ok := edit.ProposedChanges[f.field]
		if !ok {
			continue
		}
		v, err := normalize(f.field, change.New)
		if err != nil {
			return u, err
		}
		s := v.(string)
		*f.dst = &s
	}

	if change, ok := edit.ProposedChanges[FieldTags]; ok {
		v, err := normalize(FieldTags, change.New)
		if err != nil {
			return u, err
		}
		tags := v.([]string)
		u.Tags = &tags
	}

	moved := false
	for _, field := range pathFields {
		if _, ok := edit.ProposedChanges[field]; ok {
			moved = true
		}
	}
	if !moved {
		return u, nil
	}

	levels := []string{res.Category, res.Subcategory, res.SubSubcategory}
	cleared := false
	for i, field := range pathFields {
		value, ok := edit.ProposedData[field]
		switch {
		case ok:
			v, err := normalize(field, value)
			if err != nil {
				return u, err
			}
			if v.(string) != levels[i] {
				cleared = true
			}
			levels[i] = v.(string)
		case cleared:
			levels[i] = ""
		}
	}

	path := hierarchy.Path{Category: levels[0], Subcategory: levels[1], SubSubcategory: levels[2]}
	resolved, err := hierarchy.New(tx).Resolve(path)
	if err != nil {
		return u, fmt.Errorf("failed to resolve category %s: %w", path, err)
	}
	u.Category = &resolved.Path.Category
	u.Subcategory = &resolved.Path.Subcategory
	u.SubSubcategory = &resolved.Path.SubSubcategory
	return u, nil
}

// normalize checks a proposed value's type. Tags arrive as []string or, after
// a JSON round trip, []any.
func normalize(field string, value any) (any, error) {
	if field == FieldTags {
		switch v := value.(type) {
		case nil:
			return []string{}, nil
		case []string:
			return cleanTags(v), nil
		case []any:
			tags := make([]string, 0, len(v))
			for _, t := range v {
				s, ok := t.(string)
				if !ok {
					return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidValue, field)
				}
				tags = append(tags, s)
			}
			return cleanTags(tags), nil
		default:
			return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidValue, field)
		}
	}

	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidValue, field)
	}
	s = strings.TrimSpace(s)
	if s == "" && (field == FieldTitle || field == FieldURL || field == FieldCategory) {
		return nil, fmt.Errorf("%w: %s must not be empty", ErrInvalidValue, field)
	}
	return s, nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func diff(res *models.Resource, data map[string]any) map[string]models.FieldChange {
	current := map[string]any{
		FieldTitle:          res.Title,
		FieldDescription:    res.Description,
		FieldURL:            res.URL,
		FieldCategory:       res.Category,
		FieldSubcategory:    res.Subcategory,
		FieldSubSubcategory: res.SubSubcategory,
	}

	changes := make(map[string]models.FieldChange)
	for field, value := range data {
		if field == FieldTags {
			tags := value.([]string)
			old := res.Tags
			if old == nil {
				old = []string{}
			}
			if !slices.Equal(old, tags) {
				changes[field] = models.FieldChange{Old: old, New: tags}
			}
			continue
		}
		if current[field] != value {
			changes[field] = models.FieldChange{Old: current[field], New: value}
		}
	}
	return changes
}
