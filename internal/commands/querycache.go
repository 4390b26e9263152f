package commands

import (
	"sync"

	"github.com/tabctl/tabctl/internal/session"
	"github.com/tabctl/tabctl/internal/tabctlerrors"
)

// QueryCache holds the most recent dom_query result's 1-based index ->
// nodeId mapping. It is process-lifetime, worker-owned state (SPEC_FULL
// §6.4.1): an in-memory map is authoritative, mirrored to query-cache.json
// so an outside inspector can read the last query result without talking
// to the worker. It does not survive a worker restart.
type QueryCache struct {
	mu       sync.RWMutex
	selector string
	byIndex  map[int]int // 1-based index -> CDP nodeId
	path     string
}

// NewQueryCache creates an empty cache that persists to path on every Set.
func NewQueryCache(path string) *QueryCache {
	return &QueryCache{byIndex: make(map[int]int), path: path}
}

type queryCacheFile struct {
	Selector string      `json:"selector"`
	ByIndex  map[int]int `json:"byIndex"`
}

// Set replaces the cache with a fresh query result and persists it.
// Persistence failures are not fatal to the command: the in-memory map is
// authoritative and the disk copy is a convenience for outside inspection.
func (q *QueryCache) Set(selector string, byIndex map[int]int) error {
	q.mu.Lock()
	q.selector = selector
	q.byIndex = byIndex
	q.mu.Unlock()

	if q.path == "" {
		return nil
	}
	return session.WriteAtomic(q.path, queryCacheFile{Selector: selector, ByIndex: byIndex})
}

// Lookup resolves a 1-based index to the nodeId captured by the most
// recent dom_query, failing with guidance to run a query first if the
// cache is empty or the index is out of range.
func (q *QueryCache) Lookup(index int) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	nodeID, ok := q.byIndex[index]
	if !ok {
		return 0, &tabctlerrors.CacheMissError{Index: index}
	}
	return nodeID, nil
}
