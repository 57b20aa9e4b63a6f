// Package storagetest provides an in-memory storage.Gateway double so the
// supervisor and worker dispatch loop can be unit tested without a live
// Postgres instance. It reproduces the CAS and notification semantics
// documented on storage.Gateway, not the SQL.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Patryk27/free-churro-scheduler/internal/errs"
	"github.com/Patryk27/free-churro-scheduler/internal/storage"
	"github.com/Patryk27/free-churro-scheduler/internal/task"
)

// Gateway is a storage.Gateway backed by a plain map and guarded by a
// single mutex - fine for tests, which never exercise concurrency beyond
// what a handful of goroutines in a single test process generate.
type Gateway struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*task.Task

	channels map[string][]chan string
}

func New() *Gateway {
	return &Gateway{
		tasks:    make(map[uuid.UUID]*task.Task),
		channels: make(map[string][]chan string),
	}
}

func (g *Gateway) publish(channel, payload string) {
	for _, ch := range g.channels[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (g *Gateway) CreateTask(ctx context.Context, def []byte, scheduledAt *time.Time) (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := uuid.New()
	now := time.Now()

	g.tasks[id] = &task.Task{
		ID:          id,
		Def:         append([]byte(nil), def...),
		Status:      task.Pending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ScheduledAt: scheduledAt,
	}

	g.publish("supervisor", "new_task:"+id.String())

	return id, nil
}

func (g *Gateway) ListPendingScheduled(ctx context.Context) ([]storage.ScheduledTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []storage.ScheduledTask
	for _, t := range g.tasks {
		if t.Status == task.Pending && t.ScheduledAt != nil {
			out = append(out, storage.ScheduledTask{ID: t.ID, ScheduledAt: *t.ScheduledAt})
		}
	}
	return out, nil
}

func (g *Gateway) ListPendingASAP(ctx context.Context) ([]uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	var out []uuid.UUID
	for _, t := range g.tasks {
		if t.Status == task.Pending && t.Due(now) {
			out = append(out, t.ID)
		}
	}
	return out, nil
}

func (g *Gateway) UpsertWorker(ctx context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.publish("supervisor", "heartbeat:"+id.String())
	return nil
}

func (g *Gateway) AssignTask(ctx context.Context, taskID, workerID uuid.UUID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[taskID]
	if !ok || t.Status != task.Pending {
		return false, nil
	}

	t.Status = task.Dispatched
	t.WorkerID = &workerID
	t.UpdatedAt = time.Now()

	g.publish("worker:"+workerID.String(), "dispatch:"+taskID.String())

	return true, nil
}

func (g *Gateway) BeginTask(ctx context.Context, taskID, workerID uuid.UUID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[taskID]
	if !ok || t.Status != task.Dispatched || t.WorkerID == nil || *t.WorkerID != workerID {
		return false, nil
	}

	t.Status = task.Running
	t.UpdatedAt = time.Now()

	return true, nil
}

func (g *Gateway) FinishTask(ctx context.Context, taskID uuid.UUID, status task.Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[taskID]
	if !ok || t.Status != task.Running {
		return errs.ErrTaskNotRunning
	}

	t.Status = status
	t.UpdatedAt = time.Now()

	return nil
}

func (g *Gateway) ListDispatchedTo(ctx context.Context, workerID uuid.UUID) ([]uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []uuid.UUID
	for _, t := range g.tasks {
		if t.Status == task.Dispatched && t.WorkerID != nil && *t.WorkerID == workerID {
			out = append(out, t.ID)
		}
	}
	return out, nil
}

func (g *Gateway) FindTask(ctx context.Context, id uuid.UUID) (task.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return task.Task{}, errs.ErrTaskNotFound
	}
	return *t, nil
}

func (g *Gateway) FindTasks(ctx context.Context, filter storage.Filter) ([]task.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []task.Task
	for _, t := range g.tasks {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (g *Gateway) DeleteTask(ctx context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.tasks[id]; !ok {
		return errs.ErrTaskNotFound
	}
	delete(g.tasks, id)
	return nil
}

func (g *Gateway) Subscribe(ctx context.Context, channel string) (storage.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch := make(chan string, 64)
	g.channels[channel] = append(g.channels[channel], ch)

	return &subscription{gateway: g, channel: channel, ch: ch}, nil
}

func (g *Gateway) Close() error { return nil }

type subscription struct {
	gateway *Gateway
	channel string
	ch      chan string
}

func (s *subscription) Next(ctx context.Context) (string, error) {
	select {
	case payload := <-s.ch:
		return payload, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *subscription) Close() error {
	s.gateway.mu.Lock()
	defer s.gateway.mu.Unlock()

	chans := s.gateway.channels[s.channel]
	for i, ch := range chans {
		if ch == s.ch {
			s.gateway.channels[s.channel] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	return nil
}
