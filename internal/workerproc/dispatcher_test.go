package workerproc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patryk27/free-churro-scheduler/internal/storage/storagetest"
	"github.com/Patryk27/free-churro-scheduler/internal/task"
)

type stubRunner struct {
	err error
}

func (r stubRunner) Run(ctx context.Context, t task.Task) error {
	return r.err
}

func TestDispatcher_RunsDispatchedTaskToSuccess(t *testing.T) {
	gw := storagetest.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerID := uuid.New()
	d := NewDispatcher(gw, workerID, stubRunner{}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)

	taskID, err := gw.CreateTask(ctx, []byte(`{"ty":"baz"}`), nil)
	require.NoError(t, err)
	_, err = gw.AssignTask(ctx, taskID, workerID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tk, err := gw.FindTask(ctx, taskID)
		return err == nil && tk.Status == task.Succeeded
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-errCh
}

func TestDispatcher_RunsDispatchedTaskToFailure(t *testing.T) {
	gw := storagetest.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerID := uuid.New()
	d := NewDispatcher(gw, workerID, stubRunner{err: errors.New("boom")}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)

	taskID, err := gw.CreateTask(ctx, []byte(`{"ty":"baz"}`), nil)
	require.NoError(t, err)
	_, err = gw.AssignTask(ctx, taskID, workerID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tk, err := gw.FindTask(ctx, taskID)
		return err == nil && tk.Status == task.Failed
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-errCh
}

func TestDispatcher_DrainsBacklogOnStartup(t *testing.T) {
	gw := storagetest.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerID := uuid.New()

	taskID, err := gw.CreateTask(ctx, []byte(`{"ty":"baz"}`), nil)
	require.NoError(t, err)
	_, err = gw.AssignTask(ctx, taskID, workerID)
	require.NoError(t, err)

	d := NewDispatcher(gw, workerID, stubRunner{}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		tk, err := gw.FindTask(ctx, taskID)
		return err == nil && tk.Status == task.Succeeded
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-errCh
}

func TestDispatcher_IgnoresTaskClaimedBySomeoneElse(t *testing.T) {
	gw := storagetest.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerID := uuid.New()
	otherWorkerID := uuid.New()

	taskID, err := gw.CreateTask(ctx, []byte(`{"ty":"baz"}`), nil)
	require.NoError(t, err)
	_, err = gw.AssignTask(ctx, taskID, otherWorkerID)
	require.NoError(t, err)

	d := NewDispatcher(gw, workerID, stubRunner{}, nil)
	d.process(ctx, taskID)

	tk, err := gw.FindTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, task.Dispatched, tk.Status)
}

func TestDispatcher_RetriesTransientFindTaskErrorBeforeRunning(t *testing.T) {
	inner := storagetest.New()
	gw := storagetest.NewFlaky(inner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerID := uuid.New()
	taskID, err := inner.CreateTask(ctx, []byte(`{"ty":"baz"}`), nil)
	require.NoError(t, err)
	_, err = inner.AssignTask(ctx, taskID, workerID)
	require.NoError(t, err)

	gw.FailFindTask(2)

	d := NewDispatcher(gw, workerID, stubRunner{}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		tk, err := inner.FindTask(ctx, taskID)
		return err == nil && tk.Status == task.Succeeded
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	<-errCh
}

func TestDispatcher_MarksFailedWhenFindTaskRetryBudgetExhausted(t *testing.T) {
	inner := storagetest.New()
	gw := storagetest.NewFlaky(inner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerID := uuid.New()
	taskID, err := inner.CreateTask(ctx, []byte(`{"ty":"baz"}`), nil)
	require.NoError(t, err)
	_, err = inner.AssignTask(ctx, taskID, workerID)
	require.NoError(t, err)

	// More failures than the retry budget allows - FindTask never
	// recovers for this task, so the fallback in process() should mark
	// it failed instead of leaving it stuck at running.
	gw.FailFindTask(dbRetryAttempts + 50)

	d := NewDispatcher(gw, workerID, stubRunner{}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		tk, err := inner.FindTask(ctx, taskID)
		return err == nil && tk.Status == task.Failed
	}, 15*time.Second, 5*time.Millisecond)

	cancel()
	<-errCh
}

func TestDispatcher_RetriesTransientFinishTaskError(t *testing.T) {
	inner := storagetest.New()
	gw := storagetest.NewFlaky(inner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerID := uuid.New()
	taskID, err := inner.CreateTask(ctx, []byte(`{"ty":"baz"}`), nil)
	require.NoError(t, err)
	_, err = inner.AssignTask(ctx, taskID, workerID)
	require.NoError(t, err)

	gw.FailFinishTask(2)

	d := NewDispatcher(gw, workerID, stubRunner{}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		tk, err := inner.FindTask(ctx, taskID)
		return err == nil && tk.Status == task.Succeeded
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	<-errCh
}

func TestParseDispatch(t *testing.T) {
	id := uuid.New()

	got, err := parseDispatch("dispatch:" + id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = parseDispatch("not-a-dispatch:" + id.String())
	assert.Error(t, err)
}
