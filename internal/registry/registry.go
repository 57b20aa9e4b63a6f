// Package registry holds the supervisor's in-memory view of the live
// worker set. It exists purely to pick a dispatch target quickly; the
// atomic CAS in the database gateway remains the source of truth for
// correctness, so nothing here ever needs to be durable.
package registry

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHeartbeatInterval and DefaultLivenessWindow are the defaults
// named in the core design doc: workers are expected to heartbeat every
// 5s, and are considered unreachable after missing three of them.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultLivenessWindow    = 3 * DefaultHeartbeatInterval
)

type entry struct {
	lastHeardAt time.Time
	busy        bool
}

// Registry tracks {id, last_heard_at, busy} for every worker the
// supervisor has heard from. Busy is a best-effort hint only - PickTarget
// falls back to ignoring it if no idle worker qualifies, and the atomic
// claim against the database is what actually prevents double dispatch.
type Registry struct {
	mu             sync.Mutex
	workers        map[uuid.UUID]*entry
	livenessWindow time.Duration
	rand           *rand.Rand
}

// New creates an empty Registry. livenessWindow should be
// 3 x heartbeat_interval; callers that don't override it should use
// DefaultLivenessWindow.
func New(livenessWindow time.Duration) *Registry {
	return &Registry{
		workers:        make(map[uuid.UUID]*entry),
		livenessWindow: livenessWindow,
		rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RecordHeartbeat upserts id's liveness timestamp and clears its busy
// flag - a fresh heartbeat is evidence the worker picked up whatever it
// was doing (or was never busy to begin with).
func (r *Registry) RecordHeartbeat(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[id]
	if !ok {
		e = &entry{}
		r.workers[id] = e
	}

	e.lastHeardAt = at
	e.busy = false
}

// MarkBusy flags id as busy. Best-effort: if id isn't known yet (e.g. its
// very first heartbeat hasn't arrived), this is a no-op.
func (r *Registry) MarkBusy(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.workers[id]; ok {
		e.busy = true
	}
}

// PickTarget returns a uniformly-random live, idle worker. If none
// qualify, it relaxes the busy constraint and picks among all live
// workers; if still none qualify, it returns false.
func (r *Registry) PickTarget() (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	idle := r.eligible(now, true)
	if len(idle) > 0 {
		return idle[r.rand.Intn(len(idle))], true
	}

	any := r.eligible(now, false)
	if len(any) > 0 {
		return any[r.rand.Intn(len(any))], true
	}

	return uuid.Nil, false
}

func (r *Registry) eligible(now time.Time, requireIdle bool) []uuid.UUID {
	var out []uuid.UUID
	for id, e := range r.workers {
		if now.Sub(e.lastHeardAt) > r.livenessWindow {
			continue
		}
		if requireIdle && e.busy {
			continue
		}
		out = append(out, id)
	}
	return out
}

// GC removes workers we haven't heard from in a long time, so the
// registry's memory doesn't grow unbounded across a long-lived
// supervisor process. Purely hygienic - PickTarget already excludes
// stale entries by last_heard_at, so correctness doesn't depend on GC
// running at any particular cadence.
func (r *Registry) GC(now time.Time) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []uuid.UUID
	for id, e := range r.workers {
		if now.Sub(e.lastHeardAt) > r.livenessWindow {
			dead = append(dead, id)
		}
	}

	for _, id := range dead {
		delete(r.workers, id)
	}

	return dead
}

// Len reports how many workers the registry currently knows about,
// live or not. Mostly useful for tests and metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.workers)
}
