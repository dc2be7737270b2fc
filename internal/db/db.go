package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a mutation targets a row that does not exist
	ErrNotFound = errors.New("not found")
	// ErrDeleteProtected is returned when deleting a node that still has resources or children
	ErrDeleteProtected = errors.New("delete protected")
	// ErrInvalidTransition is returned when a sync queue item is moved out of order
	ErrInvalidTransition = errors.New("invalid sync status transition")
	// ErrEditConflict is returned when a resource changed after an edit against it was proposed
	ErrEditConflict = errors.New("resource changed since edit was proposed")
	// ErrEditNotPending is returned when resolving an edit that was already handled
	ErrEditNotPending = errors.New("edit is not pending")
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// DB represents the database connection. Inside InTx the same methods run
// against the open transaction.
type DB struct {
	*sql.DB
	q    querier
	inTx bool
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection also keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, q: db}, nil
}

// Initialize creates the database schema if it doesn't exist
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		slug TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subcategories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category_id INTEGER NOT NULL REFERENCES categories(id),
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(category_id, name),
		UNIQUE(category_id, slug)
	);

	CREATE TABLE IF NOT EXISTS sub_subcategories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subcategory_id INTEGER NOT NULL REFERENCES subcategories(id),
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(subcategory_id, name),
		UNIQUE(subcategory_id, slug)
	);

	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		subcategory TEXT,
		sub_subcategory TEXT,
		tags TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		submitted_by TEXT,
		approved_by TEXT,
		approved_at TIMESTAMP,
		github_synced BOOLEAN NOT NULL DEFAULT 0,
		last_synced_at TIMESTAMP,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS resource_edits (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL REFERENCES resources(id),
		submitted_by TEXT NOT NULL,
		status TEXT NOT NULL,
		original_resource_updated_at TIMESTAMP NOT NULL,
		proposed_changes TEXT NOT NULL,
		proposed_data TEXT NOT NULL,
		ai_suggestions TEXT,
		handled_by TEXT,
		handled_at TIMESTAMP,
		rejection_reason TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		resource_id TEXT,
		action TEXT NOT NULL,
		actor TEXT,
		changes TEXT NOT NULL DEFAULT '{}',
		note TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS github_repositories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		full_name TEXT NOT NULL,
		default_branch TEXT NOT NULL,
		archived BOOLEAN NOT NULL DEFAULT 0,
		configured_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS github_sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_url TEXT NOT NULL,
		direction TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS github_sync_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		queue_item_id INTEGER,
		repository_url TEXT NOT NULL,
		direction TEXT NOT NULL,
		resources_added INTEGER NOT NULL DEFAULT 0,
		resources_updated INTEGER NOT NULL DEFAULT 0,
		resources_removed INTEGER NOT NULL DEFAULT 0,
		total_resources INTEGER NOT NULL DEFAULT 0,
		commit_sha TEXT,
		commit_url TEXT,
		commit_message TEXT,
		snapshot TEXT NOT NULL DEFAULT '{}',
		performed_by TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_resources_status ON resources(status);
	CREATE INDEX IF NOT EXISTS idx_resources_category ON resources(category, subcategory, sub_subcategory);
	CREATE INDEX IF NOT EXISTS idx_audit_log_resource ON audit_log(resource_id);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON github_sync_queue(status);
	`

	_, err := db.q.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// InTx runs fn inside a single transaction. The *DB handed to fn issues every
// query against that transaction; returning an error rolls it back.
// Calling InTx on a transaction-scoped DB runs fn in the enclosing transaction.
func (db *DB) InTx(fn func(tx *DB) error) error {
	if db.inTx {
		return fn(db)
	}

	sqlTx, err := db.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&DB{DB: db.DB, q: sqlTx, inTx: true}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

func now() time.Time {
	return time.Now().UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(data), nil
}

func decodeJSON(raw sql.NullString, v any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), v); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}
