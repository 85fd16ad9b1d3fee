// Package migrate provides the one-shot legacy store migration.
//
// Older deployments kept their tasks in a todos table at a different
// location, with a schema that predates the order_index column. Before the
// sync hub accepts any connection, Run copies that legacy store into the
// current schema exactly once:
//
//  1. If a store already exists at the new location, nothing happens. An
//     existing store - even an empty one - is proof the migration already
//     ran; emptiness is not evidence of "not yet migrated".
//  2. If no legacy store exists, nothing happens.
//  3. Otherwise the new store is created and every legacy row is copied,
//     preserving id, timestamps and all fields, defaulting order_index to 0
//     when the legacy schema lacks it. The legacy store is never deleted.
//
// The copy is fail-fast: the first row that cannot be inserted aborts the
// migration, and the caller must treat that as fatal to startup rather than
// retry. The partial new store is left in place for inspection.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/tasuku-app/tasuku/internal/store"
	"github.com/tasuku-app/tasuku/internal/task"
)

// Result reports what the migration did.
type Result struct {
	// Skipped is true when no copy took place.
	Skipped bool
	// Reason explains why the migration was skipped.
	Reason string
	// TasksCopied is the number of rows copied into the new store.
	TasksCopied int
}

// Run performs the legacy migration from legacyPath to newPath.
// It must complete before the store and hub accept traffic.
// If logger is nil, a default logger writing to stderr is used.
func Run(ctx context.Context, legacyPath, newPath string, logger *log.Logger) (*Result, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}

	if fileExists(newPath) {
		logger.Printf("Store already exists at %s, skipping migration", newPath)
		return &Result{Skipped: true, Reason: "store already exists"}, nil
	}

	if legacyPath == "" || !fileExists(legacyPath) {
		logger.Printf("No legacy store at %s, skipping migration", legacyPath)
		return &Result{Skipped: true, Reason: "no legacy store"}, nil
	}

	logger.Printf("Migrating legacy store %s -> %s", legacyPath, newPath)

	tasks, err := readLegacy(ctx, legacyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy store: %w", err)
	}

	dst, err := store.Open(newPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create new store: %w", err)
	}
	defer dst.Close()

	if err := dst.InitSchemaContext(ctx); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, t := range tasks {
		if err := dst.Put(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to copy task %s: %w", t.ID, err)
		}
		result.TasksCopied++
	}

	logger.Printf("Migration complete: %d tasks copied", result.TasksCopied)
	return result, nil
}

// readLegacy opens the legacy database read-only and returns all rows.
func readLegacy(ctx context.Context, path string) ([]*task.Task, error) {
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy database: %w", err)
	}
	defer conn.Close()

	hasOrder, err := legacyHasOrderIndex(ctx, conn)
	if err != nil {
		return nil, err
	}

	query := `
	SELECT id, title, description, completed, priority,
	       scheduled_for, created_at, updated_at
	FROM todos
	`
	if hasOrder {
		query = `
		SELECT id, title, description, completed, priority,
		       scheduled_for, created_at, updated_at, order_index
		FROM todos
		`
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy todos: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		var t task.Task
		var completed int
		var description, scheduledFor sql.NullString
		var createdAt, updatedAt string

		dest := []any{
			&t.ID,
			&t.Title,
			&description,
			&completed,
			&t.Priority,
			&scheduledFor,
			&createdAt,
			&updatedAt,
		}
		if hasOrder {
			dest = append(dest, &t.OrderIndex)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan legacy todo: %w", err)
		}

		t.Completed = completed != 0
		t.Description = description.String
		if scheduledFor.Valid {
			if at, err := store.ParseTime(scheduledFor.String); err == nil {
				t.ScheduledFor = &at
			}
		}
		t.CreatedAt = parseLegacyTime(createdAt)
		t.UpdatedAt = parseLegacyTime(updatedAt)

		tasks = append(tasks, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legacy todos: %w", err)
	}

	return tasks, nil
}

// legacyHasOrderIndex reports whether the legacy todos table carries an
// order_index column. The oldest schema predates it.
func legacyHasOrderIndex(ctx context.Context, conn *sql.DB) (bool, error) {
	rows, err := conn.QueryContext(ctx, `PRAGMA table_info(todos)`)
	if err != nil {
		return false, fmt.Errorf("failed to inspect legacy schema: %w", err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan legacy schema row: %w", err)
		}
		if name == "order_index" {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("error iterating legacy schema: %w", err)
	}

	return found, nil
}

// parseLegacyTime parses a legacy timestamp, falling back to the zero time
// when the value is unreadable rather than aborting the whole copy.
func parseLegacyTime(s string) time.Time {
	if t, err := store.ParseTime(s); err == nil {
		return t
	}
	return time.Time{}
}

// fileExists reports whether path exists as a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
