package store

import (
	"math"
	"sync/atomic"
)

// Component identifies a float-valued attribute type. Identity is the id;
// the name exists for logs, data tables, and wire labels.
type Component struct {
	ID   uint64
	Name string
}

// Reserved components every store declares at construction. MATCH_ID groups
// entities into matches, OWNER_ID binds an entity to a player for filtered
// snapshots, ENTITY_ID mirrors the row's entity id as a column.
var (
	EntityID = Component{ID: 1, Name: "ENTITY_ID"}
	MatchID  = Component{ID: 2, Name: "MATCH_ID"}
	OwnerID  = Component{ID: 3, Name: "OWNER_ID"}
)

// nextComponentID hands out ids above the reserved range.
var nextComponentID atomic.Uint64

func init() {
	nextComponentID.Store(63)
}

// NewComponent allocates a fresh component id for the given name. Ids are
// unique process-wide so two modules can never collide on one.
func NewComponent(name string) Component {
	return Component{ID: nextComponentID.Add(1), Name: name}
}

// Null returns the sentinel marking an absent binding.
func Null() float32 {
	return float32(math.NaN())
}

// IsNull reports whether v is the absent-binding sentinel. Callers must use
// this predicate; comparing against Null() directly never matches.
func IsNull(v float32) bool {
	return v != v
}
