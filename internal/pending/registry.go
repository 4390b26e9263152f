// Package pending implements the daemon's pending-request registry: the
// keyed map of in-flight worker requests to their reply destination,
// deadline timer, and minimal correlation context. The registry owns timer
// lifetime — every Add arms a timer and every Remove/Clear cancels one
// before the entry is dropped, so there is never a dangling timer.
package pending

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is the minimal context kept for one in-flight worker request.
type Entry struct {
	SocketID  string // originating connection, opaque to this package
	SessionID string
	Command   string // the client-facing command name, e.g. "worker_peek"
	BaseData  any    // optional base payload captured at forward time (e.g. daemon status)
	timer     *time.Timer
}

// Registry owns the set of unresolved outbound requests and their deadlines.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry

	counter   atomic.Uint64
	startNano int64
}

// New creates an empty registry. startNano should be a value fixed once per
// daemon process (its own start time in nanoseconds) so NextID never repeats
// across process restarts sharing the same monotonic clock source.
func New(startNano int64) *Registry {
	return &Registry{
		entries:   make(map[string]*Entry),
		startNano: startNano,
	}
}

// NextID mints a new id by combining a monotonically increasing counter
// with the registry's fixed start-time nanoseconds, per the correlation-id
// scheme in SPEC_FULL §6.2: a timestamp-plus-random suffix can collide, a
// counter composed with a fixed per-process epoch cannot.
func (r *Registry) NextID() string {
	n := r.counter.Add(1)
	return fmt.Sprintf("%d-%d", r.startNano, n)
}

// Add stores entry under id, arming timer as its deadline handle. If id is
// already present, the previous entry's timer is cancelled first — adding
// never leaks a timer, even on an overwrite.
func (r *Registry) Add(id string, entry *Entry, timer *time.Timer) {
	entry.timer = timer

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[id]; ok && old.timer != nil {
		old.timer.Stop()
	}
	r.entries[id] = entry
}

// Get returns the entry for id, or ok=false if none is registered.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Remove cancels id's timer (if any) and removes it, returning the entry
// that was present, or ok=false if id was not registered.
func (r *Registry) Remove(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(r.entries, id)
	return e, true
}

// Clear cancels every timer and empties the registry, returning the
// entries that were present (used on worker exit to flush every pending
// request with a uniform error).
func (r *Registry) Clear() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		out = append(out, e)
	}
	r.entries = make(map[string]*Entry)
	return out
}

// Each calls fn for every currently registered entry. fn must not call back
// into the registry (Add/Remove/Clear would deadlock).
func (r *Registry) Each(fn func(id string, e *Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		fn(id, e)
	}
}

// Size returns the number of currently pending entries.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
