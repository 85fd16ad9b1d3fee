// Package task defines the task record shared by the store, the sync hub,
// and clients. Fields are flat with last-write-wins semantics; the store
// owns both timestamps.
package task

import (
	"fmt"
	"time"
)

// Task is a single task record, the unit of synchronization.
//
// ID, CreatedAt and UpdatedAt are server-authoritative: the store assigns
// them and clients must treat them as read-only. OrderIndex drives manual
// ordering; ties are broken by CreatedAt descending.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
	Priority    int    `json:"priority"`

	// ScheduledFor is an optional user-chosen time for the task.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderIndex int `json:"order_index"`
}

// Validate checks the fields a client is allowed to supply.
// Server-assigned fields (ID, timestamps) are not checked here; the store
// fills them in on create.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// Less reports whether t sorts before other in the canonical listing order:
// OrderIndex ascending, ties broken by CreatedAt descending. Every reader
// must reproduce this order identically.
func (t *Task) Less(other *Task) bool {
	if t.OrderIndex != other.OrderIndex {
		return t.OrderIndex < other.OrderIndex
	}
	return t.CreatedAt.After(other.CreatedAt)
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.ScheduledFor != nil {
		at := *t.ScheduledFor
		c.ScheduledFor = &at
	}
	return &c
}
