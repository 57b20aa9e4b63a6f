package scheduler

import (
	"bytes"
	"container/heap"
	"time"

	"github.com/google/uuid"
)

// entry is one (fire_time, task_id) pair the supervisor intends to
// dispatch in the future. Ordering is ascending fire time, ties broken by
// task id byte order - the exact tie-break the core design doc requires,
// which is also why this heap is hand-rolled against container/heap
// rather than routed through a generic delay-queue dependency: a generic
// queue keyed purely on "delay until due" has no hook for a secondary
// comparator, and this tie-break is load-bearing for test determinism.
type entry struct {
	fireAt time.Time
	taskID uuid.UUID
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].fireAt.Before(h[j].fireAt)
	}
	return bytes.Compare(h[i].taskID[:], h[j].taskID[:]) < 0
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// schedule is the supervisor's in-memory priority queue of pending tasks.
// It is only ever touched from the supervisor's own goroutine, so it
// needs no internal locking (per the core design doc's concurrency
// model: "the supervisor's heap is accessed only from its own driver").
type schedule struct {
	h entryHeap
}

func newSchedule() *schedule {
	return &schedule{}
}

func (s *schedule) push(taskID uuid.UUID, fireAt time.Time) {
	heap.Push(&s.h, entry{fireAt: fireAt, taskID: taskID})
}

func (s *schedule) len() int {
	return s.h.Len()
}

// peekFireAt returns the fire time of the earliest entry, if any.
func (s *schedule) peekFireAt() (time.Time, bool) {
	if s.h.Len() == 0 {
		return time.Time{}, false
	}
	return s.h[0].fireAt, true
}

// popDue pops and returns every entry whose fire time is at or before
// now, in heap order (fire_time ascending, task_id ascending on ties).
func (s *schedule) popDue(now time.Time) []uuid.UUID {
	var due []uuid.UUID
	for s.h.Len() > 0 && !s.h[0].fireAt.After(now) {
		e := heap.Pop(&s.h).(entry)
		due = append(due, e.taskID)
	}
	return due
}
