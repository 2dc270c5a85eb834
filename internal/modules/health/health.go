// Package health tracks hit points: a regeneration system, a death sweep,
// and commands for dealing and undoing damage.
package health

import (
	"fmt"

	"github.com/matchforge/engine/internal/core/module"
	"github.com/matchforge/engine/internal/core/store"
)

var (
	Flag      = store.NewComponent("LIVING")
	Health    = store.NewComponent("HEALTH")
	MaxHealth = store.NewComponent("MAX_HEALTH")
	Regen     = store.NewComponent("REGEN")
)

// New builds the health module descriptor.
func New() *module.Module {
	return &module.Module{
		Name:       "health",
		Version:    "1.0",
		Flag:       Flag,
		Components: []store.Component{Flag, Health, MaxHealth, Regen},
		Systems:    []module.System{&RegenSystem{}, &DeathSystem{}},
		Commands: []module.Command{
			module.CommandFunc{
				CommandName: "damage",
				CommandSchema: module.Schema{
					"entity": module.FieldLong,
					"amount": module.FieldFloat,
				},
				Fn: damage,
			},
			module.CommandFunc{
				CommandName: "heal",
				CommandSchema: module.Schema{
					"entity": module.FieldLong,
					"amount": module.FieldFloat,
				},
				Fn: heal,
			},
		},
	}
}

// RegenSystem adds each entity's REGEN to HEALTH once per tick, clamped to
// MAX_HEALTH. Entities without a REGEN binding are skipped.
type RegenSystem struct{}

func (s *RegenSystem) Name() string { return "health.regen" }

func (s *RegenSystem) Update(tick uint64, st *store.Store) error {
	for _, e := range st.EntitiesWith(Flag, Health, Regen) {
		hp := st.Value(e, Health)
		regen := st.Value(e, Regen)
		if regen == 0 {
			continue
		}
		next := hp + regen
		if max := st.Value(e, MaxHealth); !store.IsNull(max) && next > max {
			next = max
		}
		if next == hp {
			continue
		}
		if err := st.Attach(e, Health, next); err != nil {
			return fmt.Errorf("regen entity %d: %w", e, err)
		}
	}
	return nil
}

// DeathSystem destroys entities whose HEALTH has reached zero. It runs
// after RegenSystem so a same-tick regen can still save an entity.
type DeathSystem struct{}

func (s *DeathSystem) Name() string { return "health.death" }

func (s *DeathSystem) Update(tick uint64, st *store.Store) error {
	for _, e := range st.EntitiesWith(Flag, Health) {
		if st.Value(e, Health) > 0 {
			continue
		}
		if err := st.DestroyEntity(e); err != nil {
			return fmt.Errorf("death sweep entity %d: %w", e, err)
		}
	}
	return nil
}

func damage(p module.Payload, env *module.Env) error {
	e := uint64(p.Long("entity"))
	if !env.Store.Alive(e) {
		return fmt.Errorf("damage: entity %d: %w", e, store.ErrEntityNotFound)
	}
	hp := env.Store.Value(e, Health)
	if store.IsNull(hp) {
		return fmt.Errorf("damage: entity %d has no health", e)
	}
	next := hp - p.Float("amount")
	if next < 0 {
		next = 0
	}
	if err := env.Store.Attach(e, Health, next); err != nil {
		return fmt.Errorf("damage: %w", err)
	}
	return nil
}

func heal(p module.Payload, env *module.Env) error {
	e := uint64(p.Long("entity"))
	if !env.Store.Alive(e) {
		return fmt.Errorf("heal: entity %d: %w", e, store.ErrEntityNotFound)
	}
	hp := env.Store.Value(e, Health)
	if store.IsNull(hp) {
		return fmt.Errorf("heal: entity %d has no health", e)
	}
	next := hp + p.Float("amount")
	if max := env.Store.Value(e, MaxHealth); !store.IsNull(max) && next > max {
		next = max
	}
	if err := env.Store.Attach(e, Health, next); err != nil {
		return fmt.Errorf("heal: %w", err)
	}
	return nil
}
