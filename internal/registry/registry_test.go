package registry

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickTarget_PrefersIdle(t *testing.T) {
	r := New(10 * time.Second)
	now := time.Now()

	w1, w2, w3 := uuid.New(), uuid.New(), uuid.New()

	r.RecordHeartbeat(w1, now)
	r.RecordHeartbeat(w2, now)
	r.RecordHeartbeat(w3, now)
	r.MarkBusy(w2)

	for i := 0; i < 10; i++ {
		got, ok := r.PickTarget()
		require.True(t, ok)
		assert.True(t, got == w1 || got == w3, "busy worker must not be picked while idle ones exist")
	}
}

func TestPickTarget_RelaxesBusyWhenNoneIdle(t *testing.T) {
	r := New(10 * time.Second)
	now := time.Now()

	w1 := uuid.New()
	r.RecordHeartbeat(w1, now)
	r.MarkBusy(w1)

	got, ok := r.PickTarget()
	require.True(t, ok)
	assert.Equal(t, w1, got)
}

func TestPickTarget_NoneWhenEmpty(t *testing.T) {
	r := New(10 * time.Second)

	_, ok := r.PickTarget()
	assert.False(t, ok)
}

func TestPickTarget_ExcludesStaleWorkers(t *testing.T) {
	r := New(3 * time.Second)
	now := time.Now()

	stale := uuid.New()
	fresh := uuid.New()

	r.RecordHeartbeat(stale, now.Add(-10*time.Second))
	r.RecordHeartbeat(fresh, now)

	for i := 0; i < 10; i++ {
		got, ok := r.PickTarget()
		require.True(t, ok)
		assert.Equal(t, fresh, got)
	}
}

func TestRecordHeartbeat_ClearsBusy(t *testing.T) {
	r := New(10 * time.Second)
	now := time.Now()

	w := uuid.New()
	r.RecordHeartbeat(w, now)
	r.MarkBusy(w)

	assert.True(t, r.workers[w].busy, "MarkBusy must flag the worker busy")

	r.RecordHeartbeat(w, now.Add(time.Second))
	assert.False(t, r.workers[w].busy, "a fresh heartbeat must clear the busy flag")

	got, ok := r.PickTarget()
	require.True(t, ok)
	assert.Equal(t, w, got)
}

func TestGC_RemovesStaleWorkers(t *testing.T) {
	r := New(3 * time.Second)

	w1, w2, w3 := uuid.New(), uuid.New(), uuid.New()

	r.RecordHeartbeat(w1, mustParse(t, "2018-01-01T12:00:06Z"))
	r.RecordHeartbeat(w2, mustParse(t, "2018-01-01T12:00:00Z"))
	r.RecordHeartbeat(w3, mustParse(t, "2018-01-01T12:00:12Z"))

	dead := r.GC(mustParse(t, "2018-01-01T12:00:10Z"))

	assert.ElementsMatch(t, []uuid.UUID{w1, w2}, dead)
	assert.Equal(t, 1, r.Len())
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm
}
