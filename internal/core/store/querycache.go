package store

import (
	"strconv"
	"sync"
)

// defaultCacheLimit bounds retained entries across ticks. EndTick drops the
// cache entirely once the limit is passed.
const defaultCacheLimit = 256

// QueryCache memoizes "entities holding all of component set S", keyed by the
// sorted deduplicated set. Invalidation is synchronous and eager; a tick
// requires a fully consistent view, so scanning the cached keys on each
// mutation is preferred over any stale read. Hits and puts copy, so a caller
// can never alias or corrupt a cached result.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	limit   int

	version uint64
	hits    uint64
	misses  uint64
}

type cacheEntry struct {
	ids    []uint64
	result []uint64
}

func NewQueryCache() *QueryCache {
	return &QueryCache{
		entries: make(map[string]cacheEntry),
		limit:   defaultCacheLimit,
	}
}

// Get returns a copy of the cached result for the canonical id set, or false
// on a miss. ids must be sorted and deduplicated.
func (q *QueryCache) Get(ids []uint64) ([]uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[cacheKey(ids)]
	if !ok {
		q.misses++
		return nil, false
	}
	q.hits++
	out := make([]uint64, len(e.result))
	copy(out, e.result)
	return out, true
}

// Put stores a copy of result under the canonical id set.
func (q *QueryCache) Put(ids []uint64, result []uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := cacheEntry{
		ids:    make([]uint64, len(ids)),
		result: make([]uint64, len(result)),
	}
	copy(e.ids, ids)
	copy(e.result, result)
	q.entries[cacheKey(ids)] = e
}

// InvalidateComponent drops every entry whose key set contains the component.
func (q *QueryCache) InvalidateComponent(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := false
	for key, e := range q.entries {
		if containsID(e.ids, id) {
			delete(q.entries, key)
			dropped = true
		}
	}
	if dropped {
		q.version++
	}
}

// InvalidateAll drops everything. Entity creation, destruction, and store
// reset change the membership of every set.
func (q *QueryCache) InvalidateAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropAllLocked()
}

// BeginTick clears eagerly so the tick starts cold and consistent.
func (q *QueryCache) BeginTick() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropAllLocked()
}

// EndTick bounds memory: past the entry limit the cache is dropped rather
// than trimmed.
func (q *QueryCache) EndTick() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.entries) > q.limit {
		q.dropAllLocked()
	}
}

func (q *QueryCache) dropAllLocked() {
	if len(q.entries) == 0 {
		return
	}
	q.entries = make(map[string]cacheEntry)
	q.version++
}

// Version is a monotonic invalidation counter, for diagnostics only.
func (q *QueryCache) Version() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.version
}

func (q *QueryCache) Hits() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hits
}

func (q *QueryCache) Misses() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.misses
}

func (q *QueryCache) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func cacheKey(ids []uint64) string {
	var b []byte
	for i, id := range ids {
		if i > 0 {
			b = append(b, '/')
		}
		b = strconv.AppendUint(b, id, 10)
	}
	return string(b)
}

func containsID(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
