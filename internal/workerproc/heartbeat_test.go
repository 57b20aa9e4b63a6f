package workerproc

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Patryk27/free-churro-scheduler/internal/storage/storagetest"
)

func TestHeartbeat_RetriesTransientUpsertError(t *testing.T) {
	inner := storagetest.New()
	gw := storagetest.NewFlaky(inner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerID := uuid.New()
	gw.FailUpsertWorker(2)

	sub, err := inner.Subscribe(ctx, "supervisor")
	require.NoError(t, err)
	defer sub.Close()

	h := NewHeartbeat(gw, workerID, 10*time.Millisecond, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx) }()

	// The first beat's first two upsert attempts fail and are retried with
	// backoff; only the third attempt goes through and publishes a
	// heartbeat notification.
	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "heartbeat:"+workerID.String(), msg)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestHeartbeat_ExitsWithErrorWhenRetryBudgetExhausted(t *testing.T) {
	inner := storagetest.New()
	gw := storagetest.NewFlaky(inner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerID := uuid.New()
	gw.FailUpsertWorker(heartbeatRetryAttempts + 50)

	h := NewHeartbeat(gw, workerID, 10*time.Millisecond, nil)

	err := h.Run(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, context.Canceled)
}

func TestHeartbeat_BeatsUntilCancelled(t *testing.T) {
	gw := storagetest.New()
	ctx, cancel := context.WithCancel(context.Background())

	workerID := uuid.New()
	h := NewHeartbeat(gw, workerID, 10*time.Millisecond, nil)

	sub, err := gw.Subscribe(ctx, "supervisor")
	require.NoError(t, err)
	defer sub.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx) }()

	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "heartbeat:"+workerID.String(), msg)

	cancel()
	<-errCh
}
