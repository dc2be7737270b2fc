package models

import (
	"time"
)

// ResourceStatus is the lifecycle state of a catalog resource
type ResourceStatus string

const (
	StatusPending  ResourceStatus = "pending"
	StatusApproved ResourceStatus = "approved"
	StatusRejected ResourceStatus = "rejected"
	StatusArchived ResourceStatus = "archived"
)

// Resource represents a single catalog entry
type Resource struct {
	ID             string
	Title          string
	URL            string
	Description    string
	Category       string
	Subcategory    string
	SubSubcategory string
	Tags           []string
	Status         ResourceStatus
	SubmittedBy    string
	ApprovedBy     string
	ApprovedAt     *time.Time
	GithubSynced   bool
	LastSyncedAt   *time.Time
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CategoryPath returns the non-empty levels of the resource's category path
func (r *Resource) CategoryPath() []string {
	path := []string{r.Category}
	if r.Subcategory != "" {
		path = append(path, r.Subcategory)
		if r.SubSubcategory != "" {
			path = append(path, r.SubSubcategory)
		}
	}
	return path
}

// ResourceUpdate holds the fields to change on a resource. Nil fields are left untouched.
type ResourceUpdate struct {
	Title          *string
	URL            *string
	Description    *string
	Category       *string
	Subcategory    *string
	SubSubcategory *string
	Tags           *[]string
	Status         *ResourceStatus
	ApprovedBy     *string
	GithubSynced   *bool
	LastSyncedAt   *time.Time
	Metadata       map[string]any
}

// Category is a top-level node of the category tree
type Category struct {
	ID        int64
	Name      string
	Slug      string
	CreatedAt time.Time
}

// Subcategory is a second-level node, scoped to a category
type Subcategory struct {
	ID         int64
	CategoryID int64
	Name       string
	Slug       string
	CreatedAt  time.Time
}

// SubSubcategory is a third-level node, scoped to a subcategory
type SubSubcategory struct {
	ID            int64
	SubcategoryID int64
	Name          string
	Slug          string
	CreatedAt     time.Time
}

// EditStatus is the resolution state of a resource edit
type EditStatus string

const (
	EditPending  EditStatus = "pending"
	EditApproved EditStatus = "approved"
	EditRejected EditStatus = "rejected"
)

// FieldChange is a single old/new pair in a field-level diff
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ResourceEdit is a proposed change to an existing resource awaiting review
type ResourceEdit struct {
	ID                        string
	ResourceID                string
	SubmittedBy               string
	Status                    EditStatus
	OriginalResourceUpdatedAt time.Time
	ProposedChanges           map[string]FieldChange
	ProposedData              map[string]any
	AISuggestions             map[string]any
	HandledBy                 string
	HandledAt                 *time.Time
	RejectionReason           string
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// Repository is a GitHub repository configured for sync
type Repository struct {
	ID            int64
	URL           string
	Owner         string
	Name          string
	FullName      string
	DefaultBranch string
	Archived      bool
	ConfiguredAt  time.Time
}

// CommitResult describes a commit created on the remote repository
type CommitResult struct {
	SHA string
	URL string
}

// SyncDirection is the direction of a GitHub sync
type SyncDirection string

const (
	DirectionImport SyncDirection = "import"
	DirectionExport SyncDirection = "export"
)

// SyncStatus is the state of a sync queue item
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncProcessing SyncStatus = "processing"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// SyncQueueItem is one import or export request against a repository
type SyncQueueItem struct {
	ID            int64
	RepositoryURL string
	Direction     SyncDirection
	Status        SyncStatus
	ErrorMessage  string
	Metadata      map[string]any
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// SyncHistoryEntry is the immutable record of a finished sync
type SyncHistoryEntry struct {
	ID               int64
	QueueItemID      int64
	RepositoryURL    string
	Direction        SyncDirection
	ResourcesAdded   int
	ResourcesUpdated int
	ResourcesRemoved int
	TotalResources   int
	CommitSHA        string
	CommitURL        string
	CommitMessage    string
	Snapshot         map[string]any
	PerformedBy      string
	CreatedAt        time.Time
}

// AuditLogEntry is an append-only record of a mutating action
type AuditLogEntry struct {
	ID         int64
	ResourceID string // empty for category-level actions
	Action     string
	Actor      string
	Changes    map[string]any
	Note       string
	CreatedAt  time.Time
}
