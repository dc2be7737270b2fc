package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/wesm/awesome-sync/internal/models"
)

// Audit actions for category tree nodes. Their entries carry no resource id.
const (
	ActionCategoryCreate = "category_create"
	ActionCategoryDelete = "category_delete"
)

const (
	levelCategory       = "category"
	levelSubcategory    = "subcategory"
	levelSubSubcategory = "subSubcategory"
)

func (db *DB) logNode(action, level string, id, parentID int64, name, slug string) error {
	changes := map[string]any{
		"level": level,
		"id":    id,
		"name":  name,
		"slug":  slug,
	}
	if parentID != 0 {
		changes["parentId"] = parentID
	}
	return db.LogAudit(&models.AuditLogEntry{Action: action, Changes: changes})
}

// GetCategoryByName gets a category by name. Returns nil if absent.
func (db *DB) GetCategoryByName(name string) (*models.Category, error) {
	return db.getCategory(`name = ?`, name)
}

// GetCategoryBySlug gets a category by slug. Returns nil if absent.
func (db *DB) GetCategoryBySlug(slug string) (*models.Category, error) {
	return db.getCategory(`slug = ?`, slug)
}

// GetCategory gets a category by ID. Returns nil if absent.
func (db *DB) GetCategory(id int64) (*models.Category, error) {
	return db.getCategory(`id = ?`, id)
}

func (db *DB) getCategory(where string, arg any) (*models.Category, error) {
	var c models.Category
	err := db.q.QueryRow(`SELECT id, name, slug, created_at FROM categories WHERE `+where, arg).
		Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// CreateCategory inserts a top-level category and audits the creation
func (db *DB) CreateCategory(name, slug string) (*models.Category, error) {
	c := &models.Category{Name: name, Slug: slug, CreatedAt: now()}
	err := db.InTx(func(tx *DB) error {
		result, err := tx.q.Exec(`INSERT INTO categories (name, slug, created_at) VALUES (?, ?, ?)`,
			c.Name, c.Slug, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create category: %w", err)
		}
		if c.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read category id: %w", err)
		}
		return tx.logNode(ActionCategoryCreate, levelCategory, c.ID, 0, name, slug)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCategories lists top-level categories by name
func (db *DB) ListCategories() ([]models.Category, error) {
	rows, err := db.q.Query(`SELECT id, name, slug, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// DeleteCategory deletes a category that has no resources and no subcategories
func (db *DB) DeleteCategory(id int64) error {
	return db.InTx(func(tx *DB) error {
		c, err := tx.GetCategory(id)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("category %d: %w", id, ErrNotFound)
		}

		var resources, children int
		if err := tx.q.QueryRow(`SELECT COUNT(*) FROM resources WHERE category = ?`, c.Name).Scan(&resources); err != nil {
			return fmt.Errorf("failed to count category resources: %w", err)
		}
		if err := tx.q.QueryRow(`SELECT COUNT(*) FROM subcategories WHERE category_id = ?`, id).Scan(&children); err != nil {
			return fmt.Errorf("failed to count subcategories: %w", err)
		}
		if resources > 0 || children > 0 {
			return fmt.Errorf("%w: category %q has %d resources and %d subcategories",
				ErrDeleteProtected, c.Name, resources, children)
		}

		if _, err := tx.q.Exec(`DELETE FROM categories WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete category: %w", err)
		}
		return tx.logNode(ActionCategoryDelete, levelCategory, id, 0, c.Name, c.Slug)
	})
}

// GetSubcategoryByName gets a subcategory by name within a category. Returns nil if absent.
func (db *DB) GetSubcategoryByName(name string, categoryID int64) (*models.Subcategory, error) {
	return db.getSubcategory(`name = ? AND category_id = ?`, name, categoryID)
}

// GetSubcategoryBySlug gets a subcategory by slug within a category. Returns nil if absent.
func (db *DB) GetSubcategoryBySlug(slug string, categoryID int64) (*models.Subcategory, error) {
	return db.getSubcategory(`slug = ? AND category_id = ?`, slug, categoryID)
}

// GetSubcategory gets a subcategory by ID. Returns nil if absent.
func (db *DB) GetSubcategory(id int64) (*models.Subcategory, error) {
	return db.getSubcategory(`id = ?`, id)
}

func (db *DB) getSubcategory(where string, args ...any) (*models.Subcategory, error) {
	var s models.Subcategory
	err := db.q.QueryRow(`SELECT id, category_id, name, slug, created_at FROM subcategories WHERE `+where, args...).
		Scan(&s.ID, &s.CategoryID, &s.Name, &s.Slug, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subcategory: %w", err)
	}
	return &s, nil
}

// CreateSubcategory inserts a subcategory under categoryID and audits the creation
func (db *DB) CreateSubcategory(name, slug string, categoryID int64) (*models.Subcategory, error) {
	s := &models.Subcategory{CategoryID: categoryID, Name: name, Slug: slug, CreatedAt: now()}
	err := db.InTx(func(tx *DB) error {
		result, err := tx.q.Exec(`INSERT INTO subcategories (category_id, name, slug, created_at) VALUES (?, ?, ?, ?)`,
			s.CategoryID, s.Name, s.Slug, s.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create subcategory: %w", err)
		}
		if s.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read subcategory id: %w", err)
		}
		return tx.logNode(ActionCategoryCreate, levelSubcategory, s.ID, categoryID, name, slug)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSubcategory deletes a subcategory that has no resources and no sub-subcategories
func (db *DB) DeleteSubcategory(id int64) error {
	return db.InTx(func(tx *DB) error {
		var name, slug, categoryName string
		var categoryID int64
		err := tx.q.QueryRow(`
			SELECT s.name, s.slug, c.id, c.name FROM subcategories s JOIN categories c ON s.category_id = c.id
			WHERE s.id = ?`, id).Scan(&name, &slug, &categoryID, &categoryName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("subcategory %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("failed to get subcategory: %w", err)
		}

		var resources, children int
		if err := tx.q.QueryRow(`SELECT COUNT(*) FROM resources WHERE category = ? AND subcategory = ?`,
			categoryName, name).Scan(&resources); err != nil {
			return fmt.Errorf("failed to count subcategory resources: %w", err)
		}
		if err := tx.q.QueryRow(`SELECT COUNT(*) FROM sub_subcategories WHERE subcategory_id = ?`, id).Scan(&children); err != nil {
			return fmt.Errorf("failed to count sub-subcategories: %w", err)
		}
		if resources > 0 || children > 0 {
			return fmt.Errorf("%w: subcategory %q has %d resources and %d sub-subcategories",
				ErrDeleteProtected, name, resources, children)
		}

		if _, err := tx.q.Exec(`DELETE FROM subcategories WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete subcategory: %w", err)
		}
		return tx.logNode(ActionCategoryDelete, levelSubcategory, id, categoryID, name, slug)
	})
}

// GetSubSubcategoryByName gets a sub-subcategory by name within a subcategory. Returns nil if absent.
func (db *DB) GetSubSubcategoryByName(name string, subcategoryID int64) (*models.SubSubcategory, error) {
	return db.getSubSubcategory(`name = ? AND subcategory_id = ?`, name, subcategoryID)
}

// GetSubSubcategoryBySlug gets a sub-subcategory by slug within a subcategory. Returns nil if absent.
func (db *DB) GetSubSubcategoryBySlug(slug string, subcategoryID int64) (*models.SubSubcategory, error) {
	return db.getSubSubcategory(`slug = ? AND subcategory_id = ?`, slug, subcategoryID)
}

func (db *DB) getSubSubcategory(where string, args ...any) (*models.SubSubcategory, error) {
	var s models.SubSubcategory
	err := db.q.QueryRow(`SELECT id, subcategory_id, name, slug, created_at FROM sub_subcategories WHERE `+where, args...).
		Scan(&s.ID, &s.SubcategoryID, &s.Name, &s.Slug, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sub-subcategory: %w", err)
	}
	return &s, nil
}

// CreateSubSubcategory inserts a sub-subcategory under subcategoryID and audits the creation
func (db *DB) CreateSubSubcategory(name, slug string, subcategoryID int64) (*models.SubSubcategory, error) {
	s := &models.SubSubcategory{SubcategoryID: subcategoryID, Name: name, Slug: slug, CreatedAt: now()}
	err := db.InTx(func(tx *DB) error {
		result, err := tx.q.Exec(`INSERT INTO sub_subcategories (subcategory_id, name, slug, created_at) VALUES (?, ?, ?, ?)`,
			s.SubcategoryID, s.Name, s.Slug, s.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create sub-subcategory: %w", err)
		}
		if s.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read sub-subcategory id: %w", err)
		}
		return tx.logNode(ActionCategoryCreate, levelSubSubcategory, s.ID, subcategoryID, name, slug)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSubSubcategory deletes a sub-subcategory that has no resources
func (db *DB) DeleteSubSubcategory(id int64) error {
	return db.InTx(func(tx *DB) error {
		var name, slug, subName, categoryName string
		var subcategoryID int64
		err := tx.q.QueryRow(`
			SELECT ss.name, ss.slug, s.id, s.name, c.name FROM sub_subcategories ss
			JOIN subcategories s ON ss.subcategory_id = s.id
			JOIN categories c ON s.category_id = c.id
			WHERE ss.id = ?`, id).Scan(&name, &slug, &subcategoryID, &subName, &categoryName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("sub-subcategory %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("failed to get sub-subcategory: %w", err)
		}

		var resources int
		if err := tx.q.QueryRow(`
			SELECT COUNT(*) FROM resources WHERE category = ? AND subcategory = ? AND sub_subcategory = ?`,
			categoryName, subName, name).Scan(&resources); err != nil {
			return fmt.Errorf("failed to count sub-subcategory resources: %w", err)
		}
		if resources > 0 {
			return fmt.Errorf("%w: sub-subcategory %q has %d resources", ErrDeleteProtected, name, resources)
		}

		if _, err := tx.q.Exec(`DELETE FROM sub_subcategories WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete sub-subcategory: %w", err)
		}
		return tx.logNode(ActionCategoryDelete, levelSubSubcategory, id, subcategoryID, name, slug)
	})
}
