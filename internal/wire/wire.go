// Package wire defines the JSON shapes served over HTTP and WebSocket.
// Store cells are float32 with NaN as the null sentinel; NaN is not
// representable in JSON, so columns carry pointers and null cells become
// JSON null.
package wire

import (
	"github.com/matchforge/engine/internal/core/snapshot"
	"github.com/matchforge/engine/internal/core/store"
)

const ProtocolVersion = 1

// Snapshot is the full-state document for one match.
type Snapshot struct {
	Match   uint64   `json:"match"`
	Tick    uint64   `json:"tick"`
	Modules []Module `json:"modules"`
}

// Module is one module's aligned arrays. Entities and every column share
// row order.
type Module struct {
	Module   string   `json:"module"`
	Entities []uint64 `json:"entities"`
	Columns  []Column `json:"columns"`
}

// Column is one component's values in row order.
type Column struct {
	Component string     `json:"component"`
	Values    []*float32 `json:"values"`
}

// Delta is the edit list between two snapshots of one match. Clients apply
// modified cells first, then remove the listed rows in the given order,
// then append added rows.
type Delta struct {
	Match    uint64        `json:"match"`
	FromTick uint64        `json:"from_tick"`
	ToTick   uint64        `json:"to_tick"`
	Modules  []ModuleDelta `json:"modules"`
}

type ModuleDelta struct {
	Module  string        `json:"module"`
	Columns []ColumnDelta `json:"columns"`
}

type ColumnDelta struct {
	Component string   `json:"component"`
	Changes   []Change `json:"changes"`
}

// Change is one positional edit. Kind is ADDED, MODIFIED, or REMOVED.
type Change struct {
	Kind   string   `json:"kind"`
	Row    int      `json:"row"`
	Entity uint64   `json:"entity"`
	Old    *float32 `json:"old"`
	New    *float32 `json:"new"`
}

// Message is the WebSocket envelope. Exactly one payload field is set,
// matching Type ("snapshot" or "delta").
type Message struct {
	Ver      int       `json:"ver"`
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Delta    *Delta    `json:"delta,omitempty"`
}

// SnapshotMessage wraps a full snapshot for the stream.
func SnapshotMessage(s *snapshot.Snapshot) Message {
	return Message{Ver: ProtocolVersion, Type: "snapshot", Snapshot: FromSnapshot(s)}
}

// DeltaMessage wraps a delta for the stream.
func DeltaMessage(d *snapshot.Delta) Message {
	return Message{Ver: ProtocolVersion, Type: "delta", Delta: FromDelta(d)}
}

// FromSnapshot converts an engine snapshot to its wire form.
func FromSnapshot(s *snapshot.Snapshot) *Snapshot {
	out := &Snapshot{
		Match:   s.Match,
		Tick:    s.Tick,
		Modules: make([]Module, len(s.Modules)),
	}
	for i, md := range s.Modules {
		m := Module{
			Module:   md.Module,
			Entities: append([]uint64(nil), md.Entities...),
			Columns:  make([]Column, len(md.Columns)),
		}
		if m.Entities == nil {
			m.Entities = []uint64{}
		}
		for j, col := range md.Columns {
			values := make([]*float32, len(col.Values))
			for k, v := range col.Values {
				values[k] = cell(v)
			}
			m.Columns[j] = Column{Component: col.Component.Name, Values: values}
		}
		out.Modules[i] = m
	}
	return out
}

// FromDelta converts an engine delta to its wire form.
func FromDelta(d *snapshot.Delta) *Delta {
	out := &Delta{
		Match:    d.Match,
		FromTick: d.FromTick,
		ToTick:   d.ToTick,
		Modules:  make([]ModuleDelta, len(d.Modules)),
	}
	for i, md := range d.Modules {
		m := ModuleDelta{
			Module:  md.Module,
			Columns: make([]ColumnDelta, len(md.Columns)),
		}
		for j, col := range md.Columns {
			changes := make([]Change, len(col.Changes))
			for k, ch := range col.Changes {
				changes[k] = Change{
					Kind:   ch.Kind.String(),
					Row:    ch.Row,
					Entity: ch.Entity,
					Old:    cell(ch.Old),
					New:    cell(ch.New),
				}
			}
			m.Columns[j] = ColumnDelta{Component: col.Component.Name, Changes: changes}
		}
		out.Modules[i] = m
	}
	return out
}

// cell maps a store value to its wire form, turning the null sentinel into
// a nil pointer.
func cell(v float32) *float32 {
	if store.IsNull(v) {
		return nil
	}
	return &v
}
