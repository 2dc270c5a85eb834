package snapshot

import "github.com/matchforge/engine/internal/core/store"

// EntityChange is one positional edit to a module column. Added appends a row
// (null old value), Removed splices a row out (null new value), Modified
// rewrites one cell in place; for Modified either side may be null when the
// binding itself appeared or vanished on a live row.
type EntityChange struct {
	Kind   store.ChangeKind
	Row    int
	Entity uint64
	Old    float32
	New    float32
}

// Delta carries the per-column changes between two published snapshots of one
// match. Changes apply in kind order: Modified cells first at pre-update
// rows, then Removed rows in the listed descending order, then Added rows as
// appends. Every column of one module lists the same Added and Removed rows,
// so alignment survives application.
type Delta struct {
	Match    uint64
	FromTick uint64
	ToTick   uint64
	Modules  []ModuleChanges
}

// ModuleChanges groups one module's column edits.
type ModuleChanges struct {
	Module  string
	Columns []ColumnChanges
}

// ColumnChanges lists one column's edits.
type ColumnChanges struct {
	Component store.Component
	Changes   []EntityChange
}

// Empty reports whether the delta carries no edits.
func (d *Delta) Empty() bool {
	for _, m := range d.Modules {
		for _, c := range m.Columns {
			if len(c.Changes) > 0 {
				return false
			}
		}
	}
	return true
}
