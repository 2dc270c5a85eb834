// Package snapshot turns store contents into per-match, row-aligned value
// columns and keeps regeneration cheap by reusing the previous snapshot when
// the tracked changes allow it.
package snapshot

import (
	"fmt"

	"github.com/matchforge/engine/internal/core/store"
)

// Snapshot is an immutable point-in-time view of one match: per module, an
// ordered entity list plus one value column per declared component, all
// row-aligned. Published snapshots are never mutated; regeneration replaces
// them wholesale.
type Snapshot struct {
	Match   uint64
	Tick    uint64
	Modules []ModuleData
}

// ModuleData holds one module's rows. Index i in Entities and in every
// column's Values denotes the same entity. Rows are ordered by ascending
// entity id. Slices are empty but never nil for an empty match, so every
// registered module appears in every snapshot with its full column set.
type ModuleData struct {
	Module   string
	Entities []uint64
	Columns  []Column
}

// Column is one component's values in module declaration order.
type Column struct {
	Component store.Component
	Values    []float32
}

// Module finds a module's rows by name.
func (s *Snapshot) Module(name string) (*ModuleData, bool) {
	for i := range s.Modules {
		if s.Modules[i].Module == name {
			return &s.Modules[i], true
		}
	}
	return nil, false
}

// Column finds a column by component id.
func (m *ModuleData) Column(componentID uint64) ([]float32, bool) {
	for i := range m.Columns {
		if m.Columns[i].Component.ID == componentID {
			return m.Columns[i].Values, true
		}
	}
	return nil, false
}

// Row returns the row index of an entity, or -1.
func (m *ModuleData) Row(entity uint64) int {
	for i, e := range m.Entities {
		if e == entity {
			return i
		}
	}
	return -1
}

// Clone deep-copies the snapshot so incremental edits never touch a
// published one.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{Match: s.Match, Tick: s.Tick, Modules: make([]ModuleData, len(s.Modules))}
	for i, md := range s.Modules {
		entities := make([]uint64, len(md.Entities))
		copy(entities, md.Entities)
		cols := make([]Column, len(md.Columns))
		for j, c := range md.Columns {
			vals := make([]float32, len(c.Values))
			copy(vals, c.Values)
			cols[j] = Column{Component: c.Component, Values: vals}
		}
		out.Modules[i] = ModuleData{Module: md.Module, Entities: entities, Columns: cols}
	}
	return out
}

// validate rejects row misalignment so a broken snapshot can never be
// published.
func (s *Snapshot) validate() error {
	for _, md := range s.Modules {
		rows := len(md.Entities)
		for _, c := range md.Columns {
			if len(c.Values) != rows {
				return fmt.Errorf("snapshot match %d module %s: column %s has %d values for %d rows",
					s.Match, md.Module, c.Component.Name, len(c.Values), rows)
			}
		}
	}
	return nil
}
