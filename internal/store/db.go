package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Open connects to the database and verifies the connection. driverName is
// "postgres" in deployments and "sqlite3" for local mode and tests.
func Open(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so every query method
// can run standalone or inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the relational task store. All write paths that touch more than
// one row (a subtask and its parent) go through Transaction.
type Store struct {
	db *sql.DB
}

// New creates a Store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Transaction runs fn inside a database transaction. The transaction is
// rolled back when fn returns an error and committed otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// schema is portable across Postgres and SQLite: TEXT ids, numbered
// placeholders in the queries, timestamps handled by the drivers.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'EMPLOYEE'
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'TODO',
		priority TEXT NOT NULL DEFAULT '',
		progress INTEGER NOT NULL DEFAULT 0,
		task_type TEXT NOT NULL DEFAULT 'INDIVIDUAL',
		start_date TIMESTAMP,
		due_date TIMESTAMP,
		all_day BOOLEAN NOT NULL DEFAULT FALSE,
		location TEXT NOT NULL DEFAULT '',
		meeting_link TEXT NOT NULL DEFAULT '',
		recurrence TEXT NOT NULL DEFAULT '',
		google_event_id TEXT NOT NULL DEFAULT '',
		parent_id TEXT NOT NULL DEFAULT '',
		assignee_id TEXT NOT NULL DEFAULT '',
		creator_id TEXT NOT NULL DEFAULT '',
		assigned_by_id TEXT NOT NULL DEFAULT '',
		team_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks (parent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks (assignee_id)`,
	`CREATE TABLE IF NOT EXISTS task_members (
		task_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'MEMBER',
		PRIMARY KEY (task_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS task_collaborators (
		task_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (task_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_settings (
		user_id TEXT PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		direction TEXT NOT NULL DEFAULT 'TMS_TO_GOOGLE',
		sync_task_deadlines BOOLEAN NOT NULL DEFAULT TRUE,
		sync_team_events BOOLEAN NOT NULL DEFAULT TRUE,
		sync_personal_events BOOLEAN NOT NULL DEFAULT FALSE,
		sync_holidays BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS personal_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		start_time TIMESTAMP,
		end_time TIMESTAMP,
		all_day BOOLEAN NOT NULL DEFAULT FALSE,
		google_event_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_personal_events_google ON personal_events (google_event_id)`,
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
