// Package workerproc is the worker side of the dispatch engine: the loop
// that subscribes to its own worker channel, claims dispatched tasks via
// the atomic BeginTask CAS, runs them through an injected TaskRunner, and
// reports the outcome back through FinishTask.
package workerproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Patryk27/free-churro-scheduler/internal/errs"
	"github.com/Patryk27/free-churro-scheduler/internal/retry"
	"github.com/Patryk27/free-churro-scheduler/internal/storage"
	"github.com/Patryk27/free-churro-scheduler/internal/task"
)

// finishGrace bounds each FinishTask attempt. It's deliberately decoupled
// from the dispatch loop's own ctx - the most important caller is the
// SIGINT/SIGTERM mid-task path that records Interrupted, where ctx is
// already cancelled by the time this runs, and a cancelled ctx would make
// database/sql refuse to even acquire a connection. The whole point of
// this write is to still go through on a best-effort basis.
const finishGrace = 5 * time.Second

// dbRetryBase, dbRetryMax and dbRetryAttempts bound the backoff used for
// transient FindTask/FinishTask errors once a task has already been
// claimed - per spec.md §7, a caller retries these before giving up.
const (
	dbRetryBase     = 200 * time.Millisecond
	dbRetryMax      = 10 * time.Second
	dbRetryAttempts = 5
)

func newDBRetry() *retry.Exponential {
	return &retry.Exponential{Base: dbRetryBase, Max: dbRetryMax, MaxAttempts: dbRetryAttempts}
}

// TaskRunner executes a task's def and reports success or failure. It is
// the seam between this package's dispatch machinery and the actual
// business logic a deployment wants to run - nothing in here knows what
// a def means.
type TaskRunner interface {
	Run(ctx context.Context, t task.Task) error
}

// Dispatcher is one dispatch slot of a worker: it owns a worker id, a
// gateway connection, and a TaskRunner. Multiple Dispatchers can share a
// single worker id by running concurrently (the work command starts one
// per --slots slot), the way a single worker process might run several
// tasks at once.
type Dispatcher struct {
	gateway  storage.Gateway
	workerID uuid.UUID
	runner   TaskRunner
	logger   *slog.Logger
}

func NewDispatcher(gateway storage.Gateway, workerID uuid.UUID, runner TaskRunner, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{gateway: gateway, workerID: workerID, runner: runner, logger: logger}
}

// Start subscribes to this worker's dedicated channel, drains any backlog
// of tasks dispatched while this worker id was offline, and then
// processes tasks one at a time as notifications arrive, until ctx is
// cancelled or the stream is lost.
//
// Tasks are run sequentially within a single Dispatcher; callers wanting
// concurrent execution slots should run several Dispatchers sharing the
// same workerID, mirroring how the core design doc's --slots flag is
// meant to be implemented at the cmd layer.
func (d *Dispatcher) Start(ctx context.Context) error {
	channel := "worker:" + d.workerID.String()

	sub, err := d.gateway.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("workerproc: couldn't subscribe to %s: %w", channel, err)
	}
	defer sub.Close()

	backlog, err := d.gateway.ListDispatchedTo(ctx, d.workerID)
	if err != nil {
		return fmt.Errorf("workerproc: couldn't list backlog: %w", err)
	}
	for _, id := range backlog {
		d.process(ctx, id)
	}

	d.logger.Info("worker ready", "worker", d.workerID)

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("workerproc: %w: %w", errs.ErrStreamLost, err)
		}

		id, err := parseDispatch(msg)
		if err != nil {
			d.logger.Warn("couldn't parse dispatch notification", "notification", msg, "error", err)
			continue
		}

		d.process(ctx, id)
	}
}

// process claims a single task and runs it to completion. Any failure to
// claim (someone else already claimed it, or it vanished) is logged and
// dropped - it's the same "expected outcome" class of event AssignTask's
// false return covers on the supervisor side.
func (d *Dispatcher) process(ctx context.Context, taskID uuid.UUID) {
	claimed, err := d.gateway.BeginTask(ctx, taskID, d.workerID)
	if err != nil {
		d.logger.Error("couldn't claim task", "task", taskID, "error", err)
		return
	}
	if !claimed {
		d.logger.Debug("task already claimed by someone else, skipping", "task", taskID)
		return
	}

	t, err := d.findTaskWithRetry(ctx, taskID)
	if err != nil {
		// The task is claimed (running in the database) but we couldn't
		// fetch its def after exhausting the retry budget - there's
		// nothing left to run, so record it as failed rather than leave
		// the row stuck at running forever.
		d.logger.Error("couldn't look up claimed task after retries, marking failed", "task", taskID, "error", err)
		if ferr := d.finishWithRetry(taskID, task.Failed); ferr != nil {
			d.logger.Error("couldn't record task outcome", "task", taskID, "status", task.Failed, "error", ferr)
		}
		return
	}

	d.logger.Info("starting task", "task", taskID)

	status := task.Succeeded
	if runErr := d.runner.Run(ctx, t); runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			status = task.Interrupted
		} else {
			status = task.Failed
		}
		d.logger.Info("task finished", "task", taskID, "status", status, "error", runErr)
	} else {
		d.logger.Info("task finished", "task", taskID, "status", status)
	}

	if err := d.finishWithRetry(taskID, status); err != nil {
		d.logger.Error("couldn't record task outcome", "task", taskID, "status", status, "error", err)
	}
}

// findTaskWithRetry retries FindTask with bounded backoff on transient
// errors. A not-found result is not transient and is returned immediately.
func (d *Dispatcher) findTaskWithRetry(ctx context.Context, taskID uuid.UUID) (task.Task, error) {
	strategy := newDBRetry()

	for {
		t, err := d.gateway.FindTask(ctx, taskID)
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

		d.logger.Warn("transient error looking up claimed task, retrying", "task", taskID, "error", err, "wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return task.Task{}, ctx.Err()
		}
	}
}

// finishWithRetry retries FinishTask with bounded backoff on transient
// errors. Each attempt gets its own finishGrace-bounded context rather
// than the dispatch loop's ctx - see finishGrace's doc comment - so it
// keeps trying even once the worker is shutting down.
func (d *Dispatcher) finishWithRetry(taskID uuid.UUID, status task.Status) error {
	strategy := newDBRetry()

	for {
		finishCtx, cancel := context.WithTimeout(context.Background(), finishGrace)
		err := d.gateway.FinishTask(finishCtx, taskID, status)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, errs.ErrTaskNotRunning) {
			return err
		}

		wait, ok := strategy.Next()
		if !ok {
			return err
		}

		d.logger.Warn("transient error recording task outcome, retrying", "task", taskID, "status", status, "error", err, "wait", wait)
		time.Sleep(wait)
	}
}

func parseDispatch(msg string) (uuid.UUID, error) {
	parts := strings.SplitN(msg, ":", 2)
	if len(parts) != 2 || parts[0] != "dispatch" {
		return uuid.Nil, fmt.Errorf("malformed dispatch notification %q", msg)
	}
	return uuid.Parse(parts[1])
}
