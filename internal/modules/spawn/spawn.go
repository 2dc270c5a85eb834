// Package spawn stamps out entities from named archetypes and tears them
// down again. It carries no systems; both operations arrive as commands.
package spawn

import (
	"fmt"
	"sort"

	"github.com/matchforge/engine/internal/core/module"
	"github.com/matchforge/engine/internal/core/store"
	"github.com/matchforge/engine/internal/data"
)

var Flag = store.NewComponent("SPAWNED")

// New builds the spawn module descriptor around an archetype table. The
// table is shared read-only across containers.
func New(table *data.ArchetypeTable) *module.Module {
	return &module.Module{
		Name:       "spawn",
		Version:    "1.0",
		Flag:       Flag,
		Components: []store.Component{Flag},
		Commands: []module.Command{
			module.CommandFunc{
				CommandName: "spawn",
				CommandSchema: module.Schema{
					"match":     module.FieldLong,
					"archetype": module.FieldString,
				},
				Fn: spawnCommand(table),
			},
			module.CommandFunc{
				CommandName: "despawn",
				CommandSchema: module.Schema{
					"entity": module.FieldLong,
				},
				Fn: despawn,
			},
		},
	}
}

// Spawn creates one entity in the given match and attaches every component
// the archetype names. Unknown component names fail before the entity is
// populated; the half-built entity is destroyed on the way out.
func Spawn(env *module.Env, match uint64, a data.Archetype) (uint64, error) {
	e, err := env.Factory.CreateEntity(match)
	if err != nil {
		return 0, fmt.Errorf("spawn %q: %w", a.Name, err)
	}

	names := make([]string, 0, len(a.Components))
	for name := range a.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	comps := make([]store.Component, 0, len(names)+1)
	values := make([]float32, 0, len(names)+1)
	comps = append(comps, Flag)
	values = append(values, 1)
	for _, name := range names {
		comp, ok := env.Components.ComponentByName(name)
		if !ok {
			_ = env.Store.DestroyEntity(e)
			return 0, fmt.Errorf("spawn %q: unknown component %q", a.Name, name)
		}
		comps = append(comps, comp)
		values = append(values, a.Components[name])
	}
	if err := env.Store.AttachBatch(e, comps, values); err != nil {
		_ = env.Store.DestroyEntity(e)
		return 0, fmt.Errorf("spawn %q: %w", a.Name, err)
	}
	return e, nil
}

func spawnCommand(table *data.ArchetypeTable) func(module.Payload, *module.Env) error {
	return func(p module.Payload, env *module.Env) error {
		name := p.String("archetype")
		a, ok := table.Get(name)
		if !ok {
			return fmt.Errorf("spawn: unknown archetype %q", name)
		}
		_, err := Spawn(env, uint64(p.Long("match")), a)
		return err
	}
}

func despawn(p module.Payload, env *module.Env) error {
	e := uint64(p.Long("entity"))
	if err := env.Store.DestroyEntity(e); err != nil {
		return fmt.Errorf("despawn entity %d: %w", e, err)
	}
	return nil
}
