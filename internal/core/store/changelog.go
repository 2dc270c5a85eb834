package store

// ChangeKind classifies one cell mutation.
type ChangeKind uint8

const (
	Added ChangeKind = iota + 1
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "ADDED"
	case Modified:
		return "MODIFIED"
	case Removed:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Change records one cell mutation. Added carries a null old value, Removed a
// null new value, Modified neither.
type Change struct {
	Kind      ChangeKind
	Entity    uint64
	Component uint64
	Old       float32
	New       float32
}

// ChangeSet is the drained log since the previous consume. Overflow means the
// record limit was hit and the cell list is incomplete; consumers must
// rebuild from the store instead of applying it.
type ChangeSet struct {
	Changes   []Change
	Created   map[uint64]struct{}
	Destroyed map[uint64]struct{}
	Overflow  bool
}

// ChangeLog accumulates cell mutations between consumes. The store appends
// under its own lock; the log itself is not safe for concurrent use.
type ChangeLog struct {
	limit     int
	changes   []Change
	created   map[uint64]struct{}
	destroyed map[uint64]struct{}
	overflow  bool
}

func newChangeLog(limit int) *ChangeLog {
	return &ChangeLog{
		limit:     limit,
		created:   make(map[uint64]struct{}),
		destroyed: make(map[uint64]struct{}),
	}
}

func (l *ChangeLog) record(kind ChangeKind, entity, component uint64, old, new float32) {
	if l.overflow {
		return
	}
	if len(l.changes) >= l.limit {
		l.overflow = true
		l.changes = nil
		return
	}
	l.changes = append(l.changes, Change{
		Kind:      kind,
		Entity:    entity,
		Component: component,
		Old:       old,
		New:       new,
	})
}

func (l *ChangeLog) entityCreated(id uint64) {
	l.created[id] = struct{}{}
}

func (l *ChangeLog) entityDestroyed(id uint64) {
	// Created and destroyed within one window cancels out.
	if _, ok := l.created[id]; ok {
		delete(l.created, id)
		return
	}
	l.destroyed[id] = struct{}{}
}

func (l *ChangeLog) consume() ChangeSet {
	set := ChangeSet{
		Changes:   l.changes,
		Created:   l.created,
		Destroyed: l.destroyed,
		Overflow:  l.overflow,
	}
	l.changes = nil
	l.created = make(map[uint64]struct{})
	l.destroyed = make(map[uint64]struct{})
	l.overflow = false
	return set
}

func (l *ChangeLog) reset() {
	l.changes = nil
	l.created = make(map[uint64]struct{})
	l.destroyed = make(map[uint64]struct{})
	l.overflow = false
}
