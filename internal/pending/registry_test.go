package pending

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRemove_CancelsTimer(t *testing.T) {
	r := New(1000)
	var fired atomic.Bool
	timer := time.AfterFunc(10*time.Millisecond, func() { fired.Store(true) })

	r.Add("a", &Entry{Command: "worker_status"}, timer)
	_, ok := r.Remove("a")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	assert.False(t, fired.Load(), "timer should have been cancelled before it could fire")
}

func TestClear_CancelsAllAndEmpties(t *testing.T) {
	r := New(1000)
	var fired1, fired2 atomic.Bool
	r.Add("a", &Entry{}, time.AfterFunc(10*time.Millisecond, func() { fired1.Store(true) }))
	r.Add("b", &Entry{}, time.AfterFunc(10*time.Millisecond, func() { fired2.Store(true) }))

	entries := r.Clear()
	assert.Len(t, entries, 2)
	assert.Equal(t, 0, r.Size())

	time.Sleep(30 * time.Millisecond)
	assert.False(t, fired1.Load())
	assert.False(t, fired2.Load())
}

func TestGet_UnknownIDNotFound(t *testing.T) {
	r := New(1000)
	_, ok := r.Get("missing")
	assert.False(t, ok)

	// Subsequent add for the same id succeeds normally.
	r.Add("missing", &Entry{}, time.NewTimer(time.Hour))
	_, ok = r.Get("missing")
	assert.True(t, ok)
}

func TestAdd_ReAddCancelsPriorTimer(t *testing.T) {
	r := New(1000)
	var fired atomic.Bool
	first := time.AfterFunc(10*time.Millisecond, func() { fired.Store(true) })
	r.Add("a", &Entry{Command: "first"}, first)

	second := time.NewTimer(time.Hour)
	r.Add("a", &Entry{Command: "second"}, second)

	time.Sleep(30 * time.Millisecond)
	assert.False(t, fired.Load(), "re-adding the same id must cancel the prior timer")

	e, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "second", e.Command)
}

func TestNextID_MonotonicNoDuplicates(t *testing.T) {
	r := New(42)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := r.NextID()
		require.False(t, seen[id], "duplicate id generated: %s", id)
		seen[id] = true
	}
}

func TestEach_VisitsAllEntries(t *testing.T) {
	r := New(1000)
	r.Add("a", &Entry{Command: "x"}, time.NewTimer(time.Hour))
	r.Add("b", &Entry{Command: "y"}, time.NewTimer(time.Hour))

	visited := make(map[string]string)
	r.Each(func(id string, e *Entry) {
		visited[id] = e.Command
	})
	assert.Equal(t, map[string]string{"a": "x", "b": "y"}, visited)
}
