package workerproc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Patryk27/free-churro-scheduler/internal/registry"
	"github.com/Patryk27/free-churro-scheduler/internal/retry"
	"github.com/Patryk27/free-churro-scheduler/internal/storage"
)

// heartbeatRetryBase, heartbeatRetryMax and heartbeatRetryAttempts bound
// the backoff used for transient UpsertWorker failures. Once the budget
// is exhausted, Run returns an error - per spec.md §7, this is the
// infrastructural-unavailability case (the database has been unreachable
// past the retry budget, not just a single missed beat), and that's the
// one class of failure allowed to escalate to a non-zero process exit at
// the cmd layer.
const (
	heartbeatRetryBase     = 200 * time.Millisecond
	heartbeatRetryMax      = 10 * time.Second
	heartbeatRetryAttempts = 10
)

// Heartbeat periodically calls UpsertWorker so the supervisor's registry
// keeps treating this worker as live. It runs until ctx is cancelled or
// the retry budget on a failing beat is exhausted.
type Heartbeat struct {
	gateway  storage.Gateway
	workerID uuid.UUID
	interval time.Duration
	logger   *slog.Logger
}

func NewHeartbeat(gateway storage.Gateway, workerID uuid.UUID, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = registry.DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{gateway: gateway, workerID: workerID, interval: interval, logger: logger}
}

// Run beats every interval until ctx is cancelled. A transient upsert
// failure is retried with bounded exponential backoff; only once that
// budget is exhausted does Run return an error, so the caller (the work
// cmd) can exit non-zero instead of silently running a worker the
// supervisor no longer believes is alive.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.beatWithRetry(ctx); err != nil {
				return fmt.Errorf("workerproc: heartbeat: %w", err)
			}
		}
	}
}

func (h *Heartbeat) beatWithRetry(ctx context.Context) error {
	strategy := &retry.Exponential{
		Base:        heartbeatRetryBase,
		Max:         heartbeatRetryMax,
		MaxAttempts: heartbeatRetryAttempts,
	}

	for {
		err := h.gateway.UpsertWorker(ctx, h.workerID)
		if err == nil {
			return nil
		}

		wait, ok := strategy.Next()
		if !ok {
			return fmt.Errorf("retry budget exhausted: %w", err)
		}

		h.logger.Warn("heartbeat failed, retrying", "worker", h.workerID, "error", err, "wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
