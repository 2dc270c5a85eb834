package store

import (
	"fmt"
	"sort"
	"sync"
)

// Options fix a store's capacities and select optional behavior at
// construction. Capacities are final; an operation that would breach one
// fails, the store never resizes.
type Options struct {
	MaxEntities   int
	MaxComponents int

	// QueryCache memoizes component-set queries between mutations.
	QueryCache bool

	// TrackChanges records per-cell mutations for incremental snapshots.
	// TrackLimit bounds the record list; past it the log reports overflow
	// and consumers fall back to a full rebuild.
	TrackChanges bool
	TrackLimit   int

	// ExplicitCreate rejects attaches that name an unknown entity instead of
	// creating it. Containers set this so their match-tagging factory is the
	// only creation path.
	ExplicitCreate bool
}

const defaultTrackLimit = 4096

// Store holds one float value per (entity, component) pair in a fixed-size
// row-major pool. Rows are entities, columns are component types, absence is
// the NaN sentinel. Reads take the shared lock so transport goroutines may
// poll while the tick goroutine writes.
type Store struct {
	mu sync.RWMutex

	maxEntities    int
	maxComponents  int
	explicitCreate bool

	values []float32

	rowOf    map[uint64]int
	idAt     []uint64 // row -> entity id, 0 when vacant
	freeRows []int    // reclaimed rows, reused oldest first
	next     int      // first never-used row
	lastID   uint64   // monotonic id source, ids are never reused

	colOf  map[uint64]int
	compAt []Component

	cache *QueryCache
	log   *ChangeLog
}

// New builds a store and declares the reserved components. MaxComponents must
// leave room for them.
func New(opts Options) (*Store, error) {
	if opts.MaxEntities < 1 {
		return nil, fmt.Errorf("store: max entities must be positive, got %d", opts.MaxEntities)
	}
	if opts.MaxComponents < 1 {
		return nil, fmt.Errorf("store: max components must be positive, got %d", opts.MaxComponents)
	}
	s := &Store{
		maxEntities:    opts.MaxEntities,
		maxComponents:  opts.MaxComponents,
		explicitCreate: opts.ExplicitCreate,
		values:         make([]float32, opts.MaxEntities*opts.MaxComponents),
		rowOf:          make(map[uint64]int, opts.MaxEntities),
		idAt:           make([]uint64, opts.MaxEntities),
		colOf:          make(map[uint64]int, opts.MaxComponents),
		compAt:         make([]Component, 0, opts.MaxComponents),
	}
	for i := range s.values {
		s.values[i] = null
	}
	if opts.QueryCache {
		s.cache = NewQueryCache()
	}
	if opts.TrackChanges {
		limit := opts.TrackLimit
		if limit < 1 {
			limit = defaultTrackLimit
		}
		s.log = newChangeLog(limit)
	}
	for _, c := range []Component{EntityID, MatchID, OwnerID} {
		if err := s.declareLocked(c); err != nil {
			return nil, fmt.Errorf("declare reserved component %s: %w", c.Name, err)
		}
	}
	return s, nil
}

var null = Null()

// CreateEntity allocates a fresh entity with no components. Ids are monotonic
// and never reused; rows are.
func (s *Store) CreateEntity() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindRowLocked(s.lastID + 1)
}

// DestroyEntity removes the entity and every component bound to it.
func (s *Store) DestroyEntity(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rowOf[id]
	if !ok {
		return ErrEntityNotFound
	}
	base := row * s.maxComponents
	for col, c := range s.compAt {
		old := s.values[base+col]
		if IsNull(old) {
			continue
		}
		s.values[base+col] = null
		if s.log != nil {
			s.log.record(Removed, id, c.ID, old, null)
		}
	}
	delete(s.rowOf, id)
	s.idAt[row] = 0
	s.freeRows = append(s.freeRows, row)
	if s.log != nil {
		s.log.entityDestroyed(id)
	}
	if s.cache != nil {
		s.cache.InvalidateAll()
	}
	return nil
}

// Attach binds one component value, declaring the component's column on first
// use and creating the entity implicitly unless the store forbids it.
func (s *Store) Attach(entity uint64, c Component, v float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.rowForWriteLocked(entity)
	if err != nil {
		return err
	}
	col, ok := s.colOf[c.ID]
	if !ok {
		if err := s.declareLocked(c); err != nil {
			return err
		}
		col = s.colOf[c.ID]
	}
	s.writeCellLocked(row, col, entity, c, v)
	return nil
}

// AttachBatch binds several components at once. It is all or nothing: length
// mismatches and capacity breaches are detected before any cell is written.
func (s *Store) AttachBatch(entity uint64, comps []Component, vals []float32) error {
	if len(comps) != len(vals) {
		return ErrLengthMismatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rowOf[entity]; !ok {
		if entity == 0 {
			return ErrEntityNotFound
		}
		if s.explicitCreate {
			return ErrExplicitCreate
		}
		if len(s.rowOf) >= s.maxEntities {
			return ErrEntityCapacity
		}
	}
	fresh := 0
	seen := make(map[uint64]bool, len(comps))
	for _, c := range comps {
		if _, ok := s.colOf[c.ID]; !ok && !seen[c.ID] {
			seen[c.ID] = true
			fresh++
		}
	}
	if len(s.compAt)+fresh > s.maxComponents {
		return ErrComponentCapacity
	}
	row, err := s.rowForWriteLocked(entity)
	if err != nil {
		return err
	}
	for i, c := range comps {
		col, ok := s.colOf[c.ID]
		if !ok {
			if err := s.declareLocked(c); err != nil {
				return err
			}
			col = s.colOf[c.ID]
		}
		s.writeCellLocked(row, col, entity, c, vals[i])
	}
	return nil
}

// Detach clears one binding. Unknown entities and undeclared components are a
// no-op; detach never creates a column.
func (s *Store) Detach(entity uint64, c Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rowOf[entity]
	if !ok {
		return
	}
	col, ok := s.colOf[c.ID]
	if !ok {
		return
	}
	idx := row*s.maxComponents + col
	old := s.values[idx]
	if IsNull(old) {
		return
	}
	s.values[idx] = null
	if s.log != nil {
		s.log.record(Removed, entity, c.ID, old, null)
	}
	if s.cache != nil {
		s.cache.InvalidateComponent(c.ID)
	}
}

// Value reads one binding. Missing entities and components read as the null
// sentinel, never an error.
func (s *Store) Value(entity uint64, c Component) float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valueLocked(entity, c)
}

// Read fills dst with one value per component, null where a binding is
// missing. dst must match comps in length.
func (s *Store) Read(entity uint64, comps []Component, dst []float32) error {
	if len(comps) != len(dst) {
		return ErrLengthMismatch
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, c := range comps {
		dst[i] = s.valueLocked(entity, c)
	}
	return nil
}

// Has reports whether the entity holds a non-null value for c.
func (s *Store) Has(entity uint64, c Component) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !IsNull(s.valueLocked(entity, c))
}

// Alive reports whether the entity currently occupies a row.
func (s *Store) Alive(entity uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rowOf[entity]
	return ok
}

// EntitiesWith returns the ids of entities holding every listed component, in
// ascending id order. With no arguments it returns every live entity. Results
// are served from the query cache when possible; a miss scans all rows.
func (s *Store) EntitiesWith(comps ...Component) []uint64 {
	key := canonicalIDs(comps)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache != nil {
		if r, ok := s.cache.Get(key); ok {
			return r
		}
	}
	cols := make([]int, 0, len(key))
	for _, id := range key {
		col, ok := s.colOf[id]
		if !ok {
			// Undeclared component: no entity can hold it.
			if s.cache != nil {
				s.cache.Put(key, nil)
			}
			return []uint64{}
		}
		cols = append(cols, col)
	}
	out := make([]uint64, 0, len(s.rowOf))
	for row := 0; row < s.next; row++ {
		id := s.idAt[row]
		if id == 0 {
			continue
		}
		base := row * s.maxComponents
		hold := true
		for _, col := range cols {
			if IsNull(s.values[base+col]) {
				hold = false
				break
			}
		}
		if hold {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if s.cache != nil {
		s.cache.Put(key, out)
	}
	return out
}

// Entities returns every live entity id in ascending order.
func (s *Store) Entities() []uint64 {
	return s.EntitiesWith()
}

// DeclareComponent reserves a column for c before any value is written, so
// empty columns still appear in snapshots. Idempotent.
func (s *Store) DeclareComponent(c Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.colOf[c.ID]; ok {
		return nil
	}
	return s.declareLocked(c)
}

// Components lists the declared components in column order.
func (s *Store) Components() []Component {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Component, len(s.compAt))
	copy(out, s.compAt)
	return out
}

// Reset destroys every entity but keeps declared columns, so registered
// modules survive a simulation restart. Entity ids keep climbing.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.values {
		s.values[i] = null
	}
	s.rowOf = make(map[uint64]int, s.maxEntities)
	for i := range s.idAt {
		s.idAt[i] = 0
	}
	s.freeRows = s.freeRows[:0]
	s.next = 0
	if s.log != nil {
		s.log.reset()
	}
	if s.cache != nil {
		s.cache.InvalidateAll()
	}
}

// BeginTick clears the query cache so the tick starts from a consistent view.
func (s *Store) BeginTick() {
	if s.cache != nil {
		s.cache.BeginTick()
	}
}

// EndTick bounds cache memory between ticks.
func (s *Store) EndTick() {
	if s.cache != nil {
		s.cache.EndTick()
	}
}

// ConsumeChanges drains the change log. The second result is false when the
// store does not track changes.
func (s *Store) ConsumeChanges() (ChangeSet, bool) {
	if s.log == nil {
		return ChangeSet{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.consume(), true
}

// Cache exposes the query cache for diagnostics, nil when disabled.
func (s *Store) Cache() *QueryCache { return s.cache }

func (s *Store) EntityCount() int    { return s.count() }
func (s *Store) ComponentCount() int { s.mu.RLock(); defer s.mu.RUnlock(); return len(s.compAt) }
func (s *Store) MaxEntities() int    { return s.maxEntities }
func (s *Store) MaxComponents() int  { return s.maxComponents }

func (s *Store) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rowOf)
}

func (s *Store) valueLocked(entity uint64, c Component) float32 {
	row, ok := s.rowOf[entity]
	if !ok {
		return null
	}
	col, ok := s.colOf[c.ID]
	if !ok {
		return null
	}
	return s.values[row*s.maxComponents+col]
}

// rowForWriteLocked resolves the entity's row, creating the entity when the
// store allows implicit creation.
func (s *Store) rowForWriteLocked(entity uint64) (int, error) {
	if row, ok := s.rowOf[entity]; ok {
		return row, nil
	}
	if entity == 0 {
		return 0, ErrEntityNotFound
	}
	if s.explicitCreate {
		return 0, ErrExplicitCreate
	}
	if _, err := s.bindRowLocked(entity); err != nil {
		return 0, err
	}
	return s.rowOf[entity], nil
}

func (s *Store) bindRowLocked(id uint64) (uint64, error) {
	var row int
	if len(s.freeRows) > 0 {
		row, s.freeRows = s.freeRows[0], s.freeRows[1:]
	} else if s.next < s.maxEntities {
		row = s.next
		s.next++
	} else {
		return 0, ErrEntityCapacity
	}
	s.rowOf[id] = row
	s.idAt[row] = id
	if id > s.lastID {
		s.lastID = id
	}
	if s.log != nil {
		s.log.entityCreated(id)
	}
	if s.cache != nil {
		s.cache.InvalidateAll()
	}
	return id, nil
}

func (s *Store) declareLocked(c Component) error {
	if len(s.compAt) >= s.maxComponents {
		return ErrComponentCapacity
	}
	s.colOf[c.ID] = len(s.compAt)
	s.compAt = append(s.compAt, c)
	return nil
}

func (s *Store) writeCellLocked(row, col int, entity uint64, c Component, v float32) {
	idx := row*s.maxComponents + col
	old := s.values[idx]
	if IsNull(old) && IsNull(v) {
		return
	}
	if !IsNull(old) && !IsNull(v) && old == v {
		return
	}
	s.values[idx] = v
	switch {
	case IsNull(old):
		if s.log != nil {
			s.log.record(Added, entity, c.ID, null, v)
		}
		if s.cache != nil {
			s.cache.InvalidateComponent(c.ID)
		}
	case IsNull(v):
		if s.log != nil {
			s.log.record(Removed, entity, c.ID, old, null)
		}
		if s.cache != nil {
			s.cache.InvalidateComponent(c.ID)
		}
	default:
		// Value change only; set membership is unaffected, the cache stays.
		if s.log != nil {
			s.log.record(Modified, entity, c.ID, old, v)
		}
	}
}

// canonicalIDs sorts and deduplicates the component ids so equal sets share
// one cache key.
func canonicalIDs(comps []Component) []uint64 {
	ids := make([]uint64, 0, len(comps))
	for _, c := range comps {
		ids = append(ids, c.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:0]
	var prev uint64
	for i, id := range ids {
		if i > 0 && id == prev {
			continue
		}
		out = append(out, id)
		prev = id
	}
	return out
}
