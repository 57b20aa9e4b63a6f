// Package task holds the data model shared by the supervisor and the
// workers: a Task's identity, its opaque definition, and the state machine
// its status moves through between submission and a terminal outcome.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is one of the task lifecycle states. The terminal ones -
// Succeeded, Failed, Interrupted - are never left once entered.
type Status string

const (
	Pending     Status = "pending"
	Dispatched  Status = "dispatched"
	Running     Status = "running"
	Succeeded   Status = "succeeded"
	Failed      Status = "failed"
	Interrupted Status = "interrupted"
)

// Terminal reports whether s is one of the states a task never leaves.
func (s Status) Terminal() bool {
	switch s {
	case Succeeded, Failed, Interrupted:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case Pending, Dispatched, Running, Succeeded, Failed, Interrupted:
		return true
	default:
		return false
	}
}

// Task is the durable unit of deferred work. Def is opaque to the core -
// it is handed to the business-logic collaborator verbatim and never
// inspected by the supervisor or the dispatch loop.
type Task struct {
	ID          uuid.UUID       `json:"id"`
	Def         json.RawMessage `json:"def"`
	WorkerID    *uuid.UUID      `json:"worker_id,omitempty"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
}

// Due reports whether the task's ScheduledAt (if any) has already passed
// as of now, i.e. whether it should be dispatched immediately rather than
// pushed onto the schedule heap.
func (t Task) Due(now time.Time) bool {
	return t.ScheduledAt == nil || !t.ScheduledAt.After(now)
}
