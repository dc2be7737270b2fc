// Package hierarchy resolves category paths onto the three-level
// category / subcategory / sub-subcategory tree, creating missing nodes.
package hierarchy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wesm/awesome-sync/internal/models"
)

var (
	// ErrSlugConflict is matched by every *SlugConflictError
	ErrSlugConflict = errors.New("category exists with different name")
	// ErrInvalidPath is returned for paths with an empty or missing level
	ErrInvalidPath = errors.New("invalid category path")
)

// Store is the slice of the relational store the resolver needs.
// Lookups return nil, nil when the node does not exist.
type Store interface {
	GetCategoryByName(name string) (*models.Category, error)
	GetCategoryBySlug(slug string) (*models.Category, error)
	CreateCategory(name, slug string) (*models.Category, error)
	GetSubcategoryByName(name string, categoryID int64) (*models.Subcategory, error)
	GetSubcategoryBySlug(slug string, categoryID int64) (*models.Subcategory, error)
	CreateSubcategory(name, slug string, categoryID int64) (*models.Subcategory, error)
	GetSubSubcategoryByName(name string, subcategoryID int64) (*models.SubSubcategory, error)
	GetSubSubcategoryBySlug(slug string, subcategoryID int64) (*models.SubSubcategory, error)
	CreateSubSubcategory(name, slug string, subcategoryID int64) (*models.SubSubcategory, error)
}

// SlugConflictError reports a node whose slug is already taken by a sibling with another name
type SlugConflictError struct {
	Level        int
	Name         string
	ExistingName string
	Slug         string
}

func (e *SlugConflictError) Error() string {
	return fmt.Sprintf("%s %q: slug %q already used by %q", levelName(e.Level), e.Name, e.Slug, e.ExistingName)
}

func (e *SlugConflictError) Is(target error) bool {
	return target == ErrSlugConflict
}

// Path is a category path expressed as display names
type Path struct {
	Category       string
	Subcategory    string
	SubSubcategory string
}

// PathFromSlice builds a Path from up to three levels. Levels past the third are ignored.
func PathFromSlice(levels []string) Path {
	var p Path
	if len(levels) > 0 {
		p.Category = levels[0]
	}
	if len(levels) > 1 {
		p.Subcategory = levels[1]
	}
	if len(levels) > 2 {
		p.SubSubcategory = levels[2]
	}
	return p
}

// Slice returns the non-empty levels of the path
func (p Path) Slice() []string {
	out := []string{p.Category}
	if p.Subcategory != "" {
		out = append(out, p.Subcategory)
		if p.SubSubcategory != "" {
			out = append(out, p.SubSubcategory)
		}
	}
	return out
}

func (p Path) String() string {
	return strings.Join(p.Slice(), " > ")
}

// Resolved holds the identifiers of each resolved level. IDs are zero for
// levels that are absent from the path, or that a dry run only planned.
type Resolved struct {
	Path             Path
	CategoryID       int64
	SubcategoryID    int64
	SubSubcategoryID int64
	// Created lists the nodes created (or planned, in a dry run) by this call
	Created []string
}

// Resolver maps category paths onto tree rows, creating missing levels.
// It assumes a single writer: lookup and insert are separate statements.
type Resolver struct {
	store        Store
	dryRun       bool
	plannedNames map[string]struct{}
	plannedSlugs map[string]string
}

// New creates a resolver that writes missing nodes to the store
func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// NewDryRun creates a resolver that only plans missing nodes in memory.
// Planned nodes are remembered so later paths under them resolve consistently.
func NewDryRun(store Store) *Resolver {
	return &Resolver{
		store:        store,
		dryRun:       true,
		plannedNames: make(map[string]struct{}),
		plannedSlugs: make(map[string]string),
	}
}

// WithStore returns a resolver sharing this one's plan but backed by store,
// used to run resolution inside a transaction.
func (r *Resolver) WithStore(store Store) *Resolver {
	clone := *r
	clone.store = store
	return &clone
}

// Resolve returns the identifiers of every level of path, creating missing
// levels top-down: category, then subcategory, then sub-subcategory.
func (r *Resolver) Resolve(path Path) (*Resolved, error) {
	path = Path{
		Category:       strings.TrimSpace(path.Category),
		Subcategory:    strings.TrimSpace(path.Subcategory),
		SubSubcategory: strings.TrimSpace(path.SubSubcategory),
	}
	if path.Category == "" {
		return nil, fmt.Errorf("%w: empty category", ErrInvalidPath)
	}
	if path.Subcategory == "" && path.SubSubcategory != "" {
		return nil, fmt.Errorf("%w: sub-subcategory %q without subcategory", ErrInvalidPath, path.SubSubcategory)
	}

	res := &Resolved{Path: path}

	catID, catKey, err := r.resolveLevel(1, "", path.Category, res, levelOps{
		byName: func() (int64, bool, error) {
			c, err := r.store.GetCategoryByName(path.Category)
			if err != nil || c == nil {
				return 0, false, err
			}
			return c.ID, true, nil
		},
		bySlug: func(slug string) (string, bool, error) {
			c, err := r.store.GetCategoryBySlug(slug)
			if err != nil || c == nil {
				return "", false, err
			}
			return c.Name, true, nil
		},
		create: func(slug string) (int64, error) {
			c, err := r.store.CreateCategory(path.Category, slug)
			if err != nil {
				return 0, err
			}
			return c.ID, nil
		},
	})
	if err != nil {
		return nil, err
	}
	res.CategoryID = catID

	if path.Subcategory == "" {
		return res, nil
	}

	subID, subKey, err := r.resolveLevel(2, catKey, path.Subcategory, res, levelOps{
		byName: func() (int64, bool, error) {
			s, err := r.store.GetSubcategoryByName(path.Subcategory, catID)
			if err != nil || s == nil {
				return 0, false, err
			}
			return s.ID, true, nil
		},
		bySlug: func(slug string) (string, bool, error) {
			s, err := r.store.GetSubcategoryBySlug(slug, catID)
			if err != nil || s == nil {
				return "", false, err
			}
			return s.Name, true, nil
		},
		create: func(slug string) (int64, error) {
			s, err := r.store.CreateSubcategory(path.Subcategory, slug, catID)
			if err != nil {
				return 0, err
			}
			return s.ID, nil
		},
	})
	if err != nil {
		return nil, err
	}
	res.SubcategoryID = subID

	if path.SubSubcategory == "" {
		return res, nil
	}

	subSubID, _, err := r.resolveLevel(3, subKey, path.SubSubcategory, res, levelOps{
		byName: func() (int64, bool, error) {
			s, err := r.store.GetSubSubcategoryByName(path.SubSubcategory, subID)
			if err != nil || s == nil {
				return 0, false, err
			}
			return s.ID, true, nil
		},
		bySlug: func(slug string) (string, bool, error) {
			s, err := r.store.GetSubSubcategoryBySlug(slug, subID)
			if err != nil || s == nil {
				return "", false, err
			}
			return s.Name, true, nil
		},
		create: func(slug string) (int64, error) {
			s, err := r.store.CreateSubSubcategory(path.SubSubcategory, slug, subID)
			if err != nil {
				return 0, err
			}
			return s.ID, nil
		},
	})
	if err != nil {
		return nil, err
	}
	res.SubSubcategoryID = subSubID

	return res, nil
}

type levelOps struct {
	byName func() (id int64, found bool, err error)
	bySlug func(slug string) (existingName string, found bool, err error)
	create func(slug string) (int64, error)
}

const plannedPrefix = "plan:"

// resolveLevel finds or creates one node. parentKey identifies the parent
// either by row id or, in a dry run, by its planned path.
func (r *Resolver) resolveLevel(level int, parentKey, name string, res *Resolved, ops levelOps) (int64, string, error) {
	nameKey := fmt.Sprintf("%d|%s|%s", level, parentKey, name)
	if _, ok := r.plannedNames[nameKey]; ok {
		return 0, plannedPrefix + nameKey, nil
	}

	parentPlanned := strings.HasPrefix(parentKey, plannedPrefix)
	if !parentPlanned {
		id, found, err := ops.byName()
		if err != nil {
			return 0, "", fmt.Errorf("failed to look up %s %q: %w", levelName(level), name, err)
		}
		if found {
			return id, fmt.Sprintf("id:%d", id), nil
		}
	}

	slug, err := Slugify(name)
	if err != nil {
		return 0, "", fmt.Errorf("%s %q: %w", levelName(level), name, err)
	}

	slugKey := fmt.Sprintf("%d|%s|%s", level, parentKey, slug)
	if existing, ok := r.plannedSlugs[slugKey]; ok {
		return 0, "", &SlugConflictError{Level: level, Name: name, ExistingName: existing, Slug: slug}
	}
	if !parentPlanned {
		existing, found, err := ops.bySlug(slug)
		if err != nil {
			return 0, "", fmt.Errorf("failed to look up %s slug %q: %w", levelName(level), slug, err)
		}
		if found {
			return 0, "", &SlugConflictError{Level: level, Name: name, ExistingName: existing, Slug: slug}
		}
	}

	res.Created = append(res.Created, fmt.Sprintf("%s %q", levelName(level), name))

	if r.dryRun {
		r.plannedNames[nameKey] = struct{}{}
		r.plannedSlugs[slugKey] = name
		return 0, plannedPrefix + nameKey, nil
	}

	id, err := ops.create(slug)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create %s %q: %w", levelName(level), name, err)
	}
	log.Debug().Str("level", levelName(level)).Str("name", name).Str("slug", slug).Msg("created category node")
	return id, fmt.Sprintf("id:%d", id), nil
}

func levelName(level int) string {
	switch level {
	case 1:
		return "category"
	case 2:
		return "subcategory"
	default:
		return "sub-subcategory"
	}
}

// OrphanFinder lists resources whose category path does not exist in the tree
type OrphanFinder interface {
	FindOrphanedResources() ([]models.Resource, error)
}

// Orphans reports resources attached to category names missing from the tree
func Orphans(store OrphanFinder) ([]models.Resource, error) {
	orphans, err := store.FindOrphanedResources()
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned resources: %w", err)
	}
	return orphans, nil
}
