package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tasuku-app/tasuku/internal/task"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "tasuku.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}

	return s
}

func TestCreateAssignsServerFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &task.Task{Title: "A"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if created.ID == "" {
		t.Error("Expected assigned id, got empty")
	}
	if created.Completed {
		t.Error("Expected completed=false by default")
	}
	if created.Priority != 0 {
		t.Errorf("Expected priority 0, got %d", created.Priority)
	}
	if created.OrderIndex != 0 {
		t.Errorf("Expected order_index 0, got %d", created.OrderIndex)
	}
	if !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Errorf("Expected created_at == updated_at, got %v vs %v",
			created.CreatedAt, created.UpdatedAt)
	}

	// Round-trip through the database must yield the same record.
	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "A" || !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("Round-trip mismatch: %+v vs %+v", got, created)
	}
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Create(context.Background(), &task.Task{}); err == nil {
		t.Error("Expected validation error for empty title, got nil")
	}

	count, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty store after rejected create, got %d rows", count)
	}
}

func TestUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &task.Task{Title: "Before"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	mod := created.Clone()
	mod.Title = "After"
	mod.Completed = true
	mod.Priority = 3
	mod.OrderIndex = 7

	updated, err := s.Update(ctx, mod)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if updated.Title != "After" || !updated.Completed || updated.Priority != 3 || updated.OrderIndex != 7 {
		t.Errorf("Update did not apply fields: %+v", updated)
	}
	if updated.ID != created.ID {
		t.Errorf("Update changed id: %s -> %s", created.ID, updated.ID)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("Update changed created_at: %v -> %v", created.CreatedAt, updated.CreatedAt)
	}
	if updated.UpdatedAt.Before(updated.CreatedAt) {
		t.Errorf("updated_at %v before created_at %v", updated.UpdatedAt, updated.CreatedAt)
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Update(context.Background(), &task.Task{ID: "missing", Title: "X"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &task.Task{Title: "Gone soon"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := s.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	if err := s.Delete(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListCanonicalOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Same order_index: newer creations sort first.
	first, err := s.Create(ctx, &task.Task{Title: "first"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := s.Create(ctx, &task.Task{Title: "second"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	pinned, err := s.Create(ctx, &task.Task{Title: "pinned", OrderIndex: -1})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	last, err := s.Create(ctx, &task.Task{Title: "last", OrderIndex: 5})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	tasks, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []string{pinned.ID, second.ID, first.ID, last.ID}
	if len(tasks) != len(want) {
		t.Fatalf("Expected %d tasks, got %d", len(want), len(tasks))
	}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Errorf("Position %d: expected %s (%s), got %s (%s)",
				i, id, want[i], tasks[i].ID, tasks[i].Title)
		}
	}
}

func TestListReflectsNetEffect(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, _ := s.Create(ctx, &task.Task{Title: "a"})
	b, _ := s.Create(ctx, &task.Task{Title: "b"})
	c, _ := s.Create(ctx, &task.Task{Title: "c"})

	if err := s.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	mod := a.Clone()
	mod.Title = "a2"
	if _, err := s.Update(ctx, mod); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	tasks, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(tasks))
	}
	byID := map[string]string{}
	for _, tk := range tasks {
		byID[tk.ID] = tk.Title
	}
	if byID[a.ID] != "a2" {
		t.Errorf("Expected updated title a2, got %s", byID[a.ID])
	}
	if _, ok := byID[c.ID]; !ok {
		t.Error("Task c missing from listing")
	}
	if _, ok := byID[b.ID]; ok {
		t.Error("Deleted task b still in listing")
	}
}

func TestScheduledForRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC)
	created, err := s.Create(ctx, &task.Task{Title: "Scheduled", ScheduledFor: &at})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ScheduledFor == nil || !got.ScheduledFor.Equal(at) {
		t.Errorf("Expected scheduled_for %v, got %v", at, got.ScheduledFor)
	}
}

func TestConcurrentCreates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Create(ctx, &task.Task{Title: "concurrent"}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent create failed: %v", err)
	}

	tasks, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tasks) != n {
		t.Errorf("Expected %d tasks, got %d", n, len(tasks))
	}

	seen := map[string]bool{}
	for _, tk := range tasks {
		if seen[tk.ID] {
			t.Errorf("Duplicate id %s", tk.ID)
		}
		seen[tk.ID] = true
	}
}

func TestPutPreservesFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	createdAt := time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC)
	updatedAt := createdAt.Add(48 * time.Hour)
	in := &task.Task{
		ID:         "legacy-1",
		Title:      "Imported",
		Completed:  true,
		Priority:   2,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
		OrderIndex: 4,
	}

	if err := s.Put(ctx, in); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(ctx, "legacy-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.CreatedAt.Equal(createdAt) || !got.UpdatedAt.Equal(updatedAt) {
		t.Errorf("Put rewrote timestamps: %+v", got)
	}
	if got.OrderIndex != 4 || !got.Completed || got.Priority != 2 {
		t.Errorf("Put dropped fields: %+v", got)
	}
}
