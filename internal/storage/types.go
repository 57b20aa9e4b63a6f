// Package storage defines the Gateway contract that the supervisor, the
// worker dispatch loop and the HTTP submission endpoint compose against.
// The concrete implementation (internal/storage/postgres) is the only
// place that knows it's talking to Postgres; everything else in the core
// only ever sees this interface, which keeps the CAS semantics and the
// notification-channel shape testable without a live database.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Patryk27/free-churro-scheduler/internal/task"
)

// ScheduledTask is the (id, scheduled_at) pair returned for pending tasks
// that have a fire time set, whether past or future - the backlog the
// supervisor rebuilds its schedule heap from at startup.
type ScheduledTask struct {
	ID          uuid.UUID
	ScheduledAt time.Time
}

// Filter narrows a FindTasks call. A nil field means "don't filter on it".
type Filter struct {
	Status *task.Status
}

// Gateway is the small set of transactional operations every other
// component composes. Every method is atomic at the single-statement or
// explicit-transaction level, per the contract table in the core design
// doc: no caller needs to wrap two Gateway calls in its own transaction.
type Gateway interface {
	// CreateTask inserts a new pending task and publishes "new_task:{id}"
	// on the "supervisor" channel within the same transaction the row is
	// committed in - subscribers never observe an uncommitted task.
	CreateTask(ctx context.Context, def []byte, scheduledAt *time.Time) (uuid.UUID, error)

	// ListPendingScheduled returns every pending task with a non-null
	// ScheduledAt. Used once, at supervisor startup.
	ListPendingScheduled(ctx context.Context) ([]ScheduledTask, error)

	// ListPendingASAP returns the ids of pending tasks whose ScheduledAt is
	// null or already in the past. Used once, at supervisor startup.
	ListPendingASAP(ctx context.Context) ([]uuid.UUID, error)

	// UpsertWorker records a heartbeat for id, creating the worker row if
	// it doesn't exist yet, and publishes "heartbeat:{id}" on "supervisor".
	UpsertWorker(ctx context.Context, id uuid.UUID) error

	// AssignTask transitions a task from pending to dispatched, iff it is
	// still pending, and publishes "dispatch:{id}" on "worker:{workerID}"
	// on success. The returned bool is false (with a nil error) if the row
	// was no longer pending - that's an expected outcome, not a failure.
	AssignTask(ctx context.Context, taskID, workerID uuid.UUID) (bool, error)

	// BeginTask is the sole at-most-once guarantor: it transitions a task
	// from dispatched to running iff it is currently dispatched to
	// workerID. The returned bool is false (with a nil error) if some
	// other caller already won the race.
	BeginTask(ctx context.Context, taskID, workerID uuid.UUID) (bool, error)

	// FinishTask transitions a running task to a terminal status. It
	// returns errs.ErrTaskNotRunning if the task isn't currently running.
	FinishTask(ctx context.Context, taskID uuid.UUID, status task.Status) error

	// ListDispatchedTo returns the ids of tasks currently dispatched to
	// workerID - the backlog a worker re-enqueues on startup to pick up
	// dispatches it received while it was down.
	ListDispatchedTo(ctx context.Context, workerID uuid.UUID) ([]uuid.UUID, error)

	// FindTask looks a single task up by id, for the worker's dispatch
	// loop (to fetch Def before running it) and for the HTTP boundary.
	FindTask(ctx context.Context, id uuid.UUID) (task.Task, error)

	// FindTasks lists tasks, optionally filtered - backs the HTTP
	// boundary's GET /tasks.
	FindTasks(ctx context.Context, filter Filter) ([]task.Task, error)

	// DeleteTask removes a task outright - backs the HTTP boundary's
	// DELETE /tasks/{id}. Not used by the core's own invariants.
	DeleteTask(ctx context.Context, id uuid.UUID) error

	// Subscribe opens a lazy, ordered stream of string payloads published
	// on channel. Messages published before the subscription is
	// established are not delivered; there is no replay.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Close releases any resources held by the gateway.
	Close() error
}

// Subscription is the lazy, ordered stream of notification payloads a
// Gateway.Subscribe call opens.
type Subscription interface {
	// Next blocks until the next payload arrives, ctx is cancelled, or the
	// stream is lost. A non-nil error other than ctx.Err() means the
	// stream was lost and is fatal to whichever driver depends on it - the
	// caller should restart that driver and re-bootstrap from the Gateway.
	Next(ctx context.Context) (string, error)

	// Close releases the subscription's underlying connection.
	Close() error
}
