package snapshot

import (
	"fmt"

	"github.com/matchforge/engine/internal/core/module"
	"github.com/matchforge/engine/internal/core/store"
)

// buildMatch reads every module's matching rows from scratch. Membership is
// the module flag plus a MATCH_ID equal to the match; rows come back in
// ascending entity id order because the store's queries do.
func buildMatch(s *store.Store, mods []*module.Module, match, tick uint64) (*Snapshot, error) {
	return build(s, mods, match, tick, func(uint64) bool { return true })
}

// buildMatchForPlayer additionally filters rows to entities owned by the
// player. Built on demand, never cached.
func buildMatchForPlayer(s *store.Store, mods []*module.Module, match, player, tick uint64) (*Snapshot, error) {
	owner := float32(player)
	return build(s, mods, match, tick, func(e uint64) bool {
		return s.Value(e, store.OwnerID) == owner
	})
}

func build(s *store.Store, mods []*module.Module, match, tick uint64, keep func(uint64) bool) (*Snapshot, error) {
	snap := &Snapshot{Match: match, Tick: tick, Modules: make([]ModuleData, 0, len(mods))}
	want := float32(match)
	for _, m := range mods {
		md := ModuleData{Module: m.Name, Entities: make([]uint64, 0, 8)}
		for _, e := range s.EntitiesWith(m.Flag, store.MatchID) {
			if s.Value(e, store.MatchID) != want {
				continue
			}
			if !keep(e) {
				continue
			}
			md.Entities = append(md.Entities, e)
		}
		columns := make([][]float32, len(m.Components))
		for i := range columns {
			columns[i] = make([]float32, 0, len(md.Entities))
		}
		buf := make([]float32, len(m.Components))
		for _, e := range md.Entities {
			if err := s.Read(e, m.Components, buf); err != nil {
				return nil, fmt.Errorf("read entity %d for module %s: %w", e, m.Name, err)
			}
			for i, v := range buf {
				columns[i] = append(columns[i], v)
			}
		}
		md.Columns = make([]Column, len(m.Components))
		for i, c := range m.Components {
			md.Columns[i] = Column{Component: c, Values: columns[i]}
		}
		snap.Modules = append(snap.Modules, md)
	}
	if err := snap.validate(); err != nil {
		return nil, err
	}
	return snap, nil
}
