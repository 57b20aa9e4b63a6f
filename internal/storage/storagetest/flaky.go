package storagetest

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/Patryk27/free-churro-scheduler/internal/storage"
	"github.com/Patryk27/free-churro-scheduler/internal/task"
)

// ErrInjected is returned by a Flaky gateway in place of delegating to the
// wrapped Gateway, for as many calls as configured.
var ErrInjected = errors.New("storagetest: injected transient failure")

// Flaky wraps a Gateway and fails the configured number of times on a
// given method before delegating to the real call - for exercising the
// bounded retry wrappers in scheduler and workerproc without a live,
// flaky Postgres to point them at.
type Flaky struct {
	storage.Gateway

	mu               sync.Mutex
	failFindTask     int
	failAssignTask   int
	failFinishTask   int
	failUpsertWorker int
}

func NewFlaky(gw storage.Gateway) *Flaky {
	return &Flaky{Gateway: gw}
}

// FailFindTask makes the next n calls to FindTask return ErrInjected.
func (f *Flaky) FailFindTask(n int) *Flaky {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFindTask = n
	return f
}

// FailAssignTask makes the next n calls to AssignTask return ErrInjected.
func (f *Flaky) FailAssignTask(n int) *Flaky {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAssignTask = n
	return f
}

// FailFinishTask makes the next n calls to FinishTask return ErrInjected.
func (f *Flaky) FailFinishTask(n int) *Flaky {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFinishTask = n
	return f
}

// FailUpsertWorker makes the next n calls to UpsertWorker return ErrInjected.
func (f *Flaky) FailUpsertWorker(n int) *Flaky {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpsertWorker = n
	return f
}

func (f *Flaky) FindTask(ctx context.Context, id uuid.UUID) (task.Task, error) {
	f.mu.Lock()
	if f.failFindTask > 0 {
		f.failFindTask--
		f.mu.Unlock()
		return task.Task{}, ErrInjected
	}
	f.mu.Unlock()
	return f.Gateway.FindTask(ctx, id)
}

func (f *Flaky) AssignTask(ctx context.Context, taskID, workerID uuid.UUID) (bool, error) {
	f.mu.Lock()
	if f.failAssignTask > 0 {
		f.failAssignTask--
		f.mu.Unlock()
		return false, ErrInjected
	}
	f.mu.Unlock()
	return f.Gateway.AssignTask(ctx, taskID, workerID)
}

func (f *Flaky) FinishTask(ctx context.Context, taskID uuid.UUID, status task.Status) error {
	f.mu.Lock()
	if f.failFinishTask > 0 {
		f.failFinishTask--
		f.mu.Unlock()
		return ErrInjected
	}
	f.mu.Unlock()
	return f.Gateway.FinishTask(ctx, taskID, status)
}

func (f *Flaky) UpsertWorker(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	if f.failUpsertWorker > 0 {
		f.failUpsertWorker--
		f.mu.Unlock()
		return ErrInjected
	}
	f.mu.Unlock()
	return f.Gateway.UpsertWorker(ctx, id)
}
