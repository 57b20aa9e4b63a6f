// Package scheduler is the supervisor side of the dispatch engine: the
// schedule heap and the main loop that drains the "supervisor"
// notification channel, reacts to the heap becoming due, and hands tasks
// off to the worker registry's chosen target.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Patryk27/free-churro-scheduler/internal/errs"
	"github.com/Patryk27/free-churro-scheduler/internal/registry"
	"github.com/Patryk27/free-churro-scheduler/internal/retry"
	"github.com/Patryk27/free-churro-scheduler/internal/storage"
	"github.com/Patryk27/free-churro-scheduler/internal/task"
)

// DefaultRetryBackoff is how long a task waits in memory before the
// supervisor tries to find a dispatch target for it again, when no
// worker was eligible the first time around.
const DefaultRetryBackoff = 1 * time.Second

// dbRetryBase, dbRetryMax and dbRetryAttempts bound the backoff used for
// transient FindTask/AssignTask errors - per spec.md §7, a caller retries
// these before giving up; only once the budget is exhausted does it count
// as the infrastructural unavailability that's allowed to escalate.
const (
	dbRetryBase     = 200 * time.Millisecond
	dbRetryMax      = 10 * time.Second
	dbRetryAttempts = 5
)

func newDBRetry() *retry.Exponential {
	return &retry.Exponential{Base: dbRetryBase, Max: dbRetryMax, MaxAttempts: dbRetryAttempts}
}

// DefaultMaintenanceInterval is how often the supervisor garbage-collects
// stale registry entries.
const DefaultMaintenanceInterval = 1 * time.Second

// Supervisor is the singleton operator-launched scheduling process. It
// owns the schedule heap and the worker registry; there is no leader
// election or consensus, by design (see the core design doc's
// non-goals) - running two supervisors against the same database is an
// operator error, not a scenario this type defends against beyond the
// atomic claim already providing safety.
type Supervisor struct {
	gateway  storage.Gateway
	registry *registry.Registry
	schedule *schedule
	logger   *slog.Logger

	retryBackoff        time.Duration
	maintenanceInterval time.Duration
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

func WithRetryBackoff(d time.Duration) Option {
	return func(s *Supervisor) { s.retryBackoff = d }
}

func WithLivenessWindow(d time.Duration) Option {
	return func(s *Supervisor) { s.registry = registry.New(d) }
}

func New(gateway storage.Gateway, opts ...Option) *Supervisor {
	s := &Supervisor{
		gateway:             gateway,
		registry:            registry.New(registry.DefaultLivenessWindow),
		schedule:            newSchedule(),
		logger:              slog.Default(),
		retryBackoff:        DefaultRetryBackoff,
		maintenanceInterval: DefaultMaintenanceInterval,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start subscribes to the "supervisor" channel, rebuilds the schedule
// heap from the database's pending backlog, and then runs the main loop
// until ctx is cancelled or the notification stream is lost. Per the
// core design doc, subscribing must happen before the backlog reads so
// that no notification published in between is missed.
func (s *Supervisor) Start(ctx context.Context) error {
	sub, err := s.gateway.Subscribe(ctx, "supervisor")
	if err != nil {
		return fmt.Errorf("scheduler: couldn't subscribe to supervisor channel: %w", err)
	}
	defer sub.Close()

	if err := s.bootstrap(ctx); err != nil {
		return fmt.Errorf("scheduler: couldn't bootstrap from backlog: %w", err)
	}

	s.logger.Info("supervisor ready")

	notifications := make(chan string)
	streamErr := make(chan error, 1)

	go func() {
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				streamErr <- err
				return
			}
			select {
			case notifications <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	maintenance := time.NewTicker(s.maintenanceInterval)
	defer maintenance.Stop()

	for {
		var timer <-chan time.Time
		if fireAt, ok := s.schedule.peekFireAt(); ok {
			d := time.Until(fireAt)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d).C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-streamErr:
			return fmt.Errorf("scheduler: %w: %w", errs.ErrStreamLost, err)

		case msg := <-notifications:
			if err := s.handleNotification(ctx, msg); err != nil {
				s.logger.Warn("couldn't handle notification", "notification", msg, "error", err)
			}

		case <-timer:
			now := time.Now()
			for _, taskID := range s.schedule.popDue(now) {
				if err := s.dispatch(ctx, taskID); err != nil {
					s.logger.Error("couldn't dispatch task", "task", taskID, "error", err)
				}
			}

		case <-maintenance.C:
			dead := s.registry.GC(time.Now())
			for _, id := range dead {
				s.logger.Warn("worker seems to have died, dropping from registry", "worker", id)
			}
		}
	}
}

// bootstrap rebuilds the schedule heap from every pending row - both the
// ones with a future scheduled_at and the ones that should fire
// immediately (no scheduled_at, or one already in the past). This covers
// tasks created while a previous supervisor incarnation was offline.
func (s *Supervisor) bootstrap(ctx context.Context) error {
	scheduled, err := s.gateway.ListPendingScheduled(ctx)
	if err != nil {
		return fmt.Errorf("couldn't list pending scheduled tasks: %w", err)
	}
	for _, t := range scheduled {
		s.schedule.push(t.ID, t.ScheduledAt)
	}

	asap, err := s.gateway.ListPendingASAP(ctx)
	if err != nil {
		return fmt.Errorf("couldn't list pending asap tasks: %w", err)
	}
	now := time.Now()
	for _, id := range asap {
		s.schedule.push(id, now)
	}

	return nil
}

func (s *Supervisor) handleNotification(ctx context.Context, msg string) error {
	kind, id, err := splitNotification(msg)
	if err != nil {
		return err
	}

	switch kind {
	case "new_task":
		return s.handleNewTask(ctx, id)
	case "heartbeat":
		s.registry.RecordHeartbeat(id, time.Now())
		return nil
	default:
		return fmt.Errorf("unrecognized notification kind %q", kind)
	}
}

func (s *Supervisor) handleNewTask(ctx context.Context, id uuid.UUID) error {
	t, err := s.findTaskWithRetry(ctx, id)
	if err != nil {
		// The retry budget is exhausted, but the task still exists
		// somewhere in the database - losing it from the schedule
		// outright would strand it until the next process restart, so
		// fall back to treating it as due right away rather than
		// dropping it. dispatch will find out for itself, via AssignTask,
		// if it's no longer pending.
		s.schedule.push(id, time.Now())
		return fmt.Errorf("couldn't look up new task %s: %w", id, err)
	}

	now := time.Now()
	if t.Due(now) {
		s.schedule.push(id, now)
	} else {
		s.schedule.push(id, *t.ScheduledAt)
	}

	return nil
}

// findTaskWithRetry retries FindTask with bounded backoff on transient
// errors, the same pattern workerproc's heartbeat emitter uses. A
// not-found result is not transient and is returned immediately.
func (s *Supervisor) findTaskWithRetry(ctx context.Context, id uuid.UUID) (task.Task, error) {
	strategy := newDBRetry()

	for {
		t, err := s.gateway.FindTask(ctx, id)
		if err == nil {
			return t, nil
		}
		if errors.Is(err, errs.ErrTaskNotFound) {
			return task.Task{}, err
		}

		wait, ok := strategy.Next()
		if !ok {
			return task.Task{}, err
		}

		s.logger.Warn("transient error looking up task, retrying", "task", id, "error", err, "wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return task.Task{}, ctx.Err()
		}
	}
}

// dispatch implements the dispatch procedure from the core design doc:
// pick a target, try to assign the task to it, and on success mark the
// target busy. No eligible worker is not an error - the task just waits
// in memory and gets retried after retryBackoff.
func (s *Supervisor) dispatch(ctx context.Context, taskID uuid.UUID) error {
	target, ok := s.registry.PickTarget()
	if !ok {
		s.schedule.push(taskID, time.Now().Add(s.retryBackoff))
		return nil
	}

	assigned, err := s.assignTaskWithRetry(ctx, taskID, target)
	if err != nil {
		// Retry budget exhausted - the task is still pending in the
		// database, so push it back onto the heap instead of losing it;
		// a future notification or the next due-timer pass gets another
		// shot once whatever's wrong with the database clears up.
		s.schedule.push(taskID, time.Now().Add(s.retryBackoff))
		return fmt.Errorf("couldn't assign task %s to %s: %w", taskID, target, err)
	}
	if !assigned {
		// The row isn't pending anymore - it got dispatched by a previous
		// supervisor incarnation, or deleted. Not ours to schedule.
		s.logger.Debug("task is no longer pending, dropping", "task", taskID)
		return nil
	}

	s.registry.MarkBusy(target)
	s.logger.Info("dispatched task", "task", taskID, "worker", target)

	return nil
}

// assignTaskWithRetry retries AssignTask with bounded backoff on
// transient errors. The CAS-failed outcome (assigned == false) is not an
// error and is returned immediately without retrying.
func (s *Supervisor) assignTaskWithRetry(ctx context.Context, taskID, target uuid.UUID) (bool, error) {
	strategy := newDBRetry()

	for {
		assigned, err := s.gateway.AssignTask(ctx, taskID, target)
		if err == nil {
			return assigned, nil
		}

		wait, ok := strategy.Next()
		if !ok {
			return false, err
		}

		s.logger.Warn("transient error assigning task, retrying", "task", taskID, "worker", target, "error", err, "wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func splitNotification(msg string) (kind string, id uuid.UUID, err error) {
	parts := strings.SplitN(msg, ":", 2)
	if len(parts) != 2 {
		return "", uuid.Nil, fmt.Errorf("malformed notification %q", msg)
	}

	id, err = uuid.Parse(parts[1])
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("malformed notification %q: %w", msg, err)
	}

	return parts[0], id, nil
}
