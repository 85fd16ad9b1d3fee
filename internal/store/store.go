// Package store provides the durable task store backed by embedded SQLite.
//
// The store owns the schema and both timestamps, and enforces the
// single-writer discipline: all mutating operations are serialized through
// one mutex around the write path, so two concurrent create/update/delete
// calls never interleave partially. Reads run concurrently under WAL and
// each List call observes a consistent point-in-time snapshot.
//
// The database runs in embedded mode using ncruces/go-sqlite3 with WAL
// enabled:
//   - Database file: tasuku.db (one per deployment)
//   - Schema: single tasks table keyed by id
//   - Index: (order_index, created_at) for the canonical listing order
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/tasuku-app/tasuku/internal/task"
)

// ErrNotFound is returned by Update and Delete when no task has the given id.
var ErrNotFound = errors.New("task not found")

// TimeLayout is the persisted timestamp format. It is fixed-width with all
// times converted to UTC, so the stored text sorts lexicographically in
// chronological order and the SQL ORDER BY reproduces the canonical order
// exactly, including CreatedAt tie-breaks at nanosecond precision.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite connection with task-store functionality.
type Store struct {
	conn *sql.DB
	path string

	// writeMu serializes the durable write path. WAL gives us concurrent
	// readers; this gives us one observable total order of mutations.
	writeMu sync.Mutex
}

// Open creates a new store connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist it is created; call InitSchema before use.
//
// The caller MUST call Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		scheduled_for TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		order_index INTEGER NOT NULL DEFAULT 0
	);

	-- Index matching the canonical listing order
	CREATE INDEX IF NOT EXISTS idx_tasks_order
	    ON tasks(order_index ASC, created_at DESC);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Create validates the supplied fields, assigns id and both timestamps, and
// writes the task durably. OrderIndex defaults to 0 when absent from input.
// Returns the full canonical task as persisted.
func (s *Store) Create(ctx context.Context, in *task.Task) (*task.Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	t := in.Clone()
	now := time.Now().UTC()
	t.ID = uuid.NewString()
	t.CreatedAt = now
	t.UpdatedAt = now

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO tasks (
		id, title, description, completed, priority,
		scheduled_for, created_at, updated_at, order_index
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		t.ID,
		t.Title,
		t.Description,
		boolToInt(t.Completed),
		t.Priority,
		timeToNullString(t.ScheduledFor),
		t.CreatedAt.Format(TimeLayout),
		t.UpdatedAt.Format(TimeLayout),
		t.OrderIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	return t, nil
}

// Update overwrites the supplied fields of an existing task and sets
// UpdatedAt. ID and CreatedAt are immutable. Returns ErrNotFound if no task
// has the given id, otherwise the full canonical task as persisted.
//
// Semantics are last-writer-wins by arrival order at the store; there is no
// version field and no conflict detection.
func (s *Store) Update(ctx context.Context, in *task.Task) (*task.Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()

	query := `
	UPDATE tasks SET
		title = ?,
		description = ?,
		completed = ?,
		priority = ?,
		scheduled_for = ?,
		updated_at = ?,
		order_index = ?
	WHERE id = ?
	`

	res, err := s.conn.ExecContext(ctx, query,
		in.Title,
		in.Description,
		boolToInt(in.Completed),
		in.Priority,
		timeToNullString(in.ScheduledFor),
		now.Format(TimeLayout),
		in.OrderIndex,
		in.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", in.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", in.ID, err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("update task %s: %w", in.ID, ErrNotFound)
	}

	return s.getLocked(ctx, in.ID)
}

// Delete removes the task with the given id. Hard delete, no tombstone.
// Returns ErrNotFound if no task has the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("delete task %s: %w", id, ErrNotFound)
	}

	return nil
}

// Get retrieves a single task by id. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	query := `
	SELECT id, title, description, completed, priority,
	       scheduled_for, created_at, updated_at, order_index
	FROM tasks
	WHERE id = ?
	`

	t, err := scanTask(s.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// getLocked re-reads a task inside the write mutex, so Update can return the
// exact row it committed.
func (s *Store) getLocked(ctx context.Context, id string) (*task.Task, error) {
	return s.Get(ctx, id)
}

// List returns all tasks in the canonical order: order_index ascending, ties
// broken by created_at descending. The result is freshly computed on each
// call and safe to call concurrently with writes.
func (s *Store) List(ctx context.Context) ([]*task.Task, error) {
	query := `
	SELECT id, title, description, completed, priority,
	       scheduled_for, created_at, updated_at, order_index
	FROM tasks
	ORDER BY order_index ASC, created_at DESC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// Count returns the total number of tasks in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// Put inserts a task preserving every field, including id and timestamps.
// Used by the migrator to copy legacy rows verbatim; normal creation goes
// through Create so the store assigns id and timestamps.
func (s *Store) Put(ctx context.Context, t *task.Task) error {
	if t.ID == "" {
		return fmt.Errorf("put requires an id")
	}
	if err := t.Validate(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO tasks (
		id, title, description, completed, priority,
		scheduled_for, created_at, updated_at, order_index
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		t.ID,
		t.Title,
		t.Description,
		boolToInt(t.Completed),
		t.Priority,
		timeToNullString(t.ScheduledFor),
		t.CreatedAt.UTC().Format(TimeLayout),
		t.UpdatedAt.UTC().Format(TimeLayout),
		t.OrderIndex,
	)
	if err != nil {
		return fmt.Errorf("failed to put task %s: %w", t.ID, err)
	}

	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

// scanTask scans one task row.
func scanTask(row scanner) (*task.Task, error) {
	var t task.Task
	var completed int
	var createdAt, updatedAt string
	var scheduledFor sql.NullString

	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&completed,
		&t.Priority,
		&scheduledFor,
		&createdAt,
		&updatedAt,
		&t.OrderIndex,
	)
	if err != nil {
		return nil, err
	}

	t.Completed = completed != 0

	if at, err := ParseTime(createdAt); err == nil {
		t.CreatedAt = at
	}
	if at, err := ParseTime(updatedAt); err == nil {
		t.UpdatedAt = at
	}
	t.ScheduledFor = nullStringToTime(scheduledFor)

	return &t, nil
}

// ParseTime parses a persisted timestamp. Legacy stores wrote plain RFC3339,
// so that is accepted as a fallback.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(TimeLayout), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
