// Package movement provides 2D kinematics: position and velocity columns,
// a per-tick integration system, and commands to steer entities.
package movement

import (
	"fmt"

	"github.com/matchforge/engine/internal/core/module"
	"github.com/matchforge/engine/internal/core/store"
)

var (
	Flag      = store.NewComponent("MOVEMENT")
	PositionX = store.NewComponent("POSITION_X")
	PositionY = store.NewComponent("POSITION_Y")
	VelocityX = store.NewComponent("VELOCITY_X")
	VelocityY = store.NewComponent("VELOCITY_Y")
)

// New builds the movement module descriptor. Each container gets its own
// instance; the component ids are process-wide.
func New() *module.Module {
	return &module.Module{
		Name:       "movement",
		Version:    "1.0",
		Flag:       Flag,
		Components: []store.Component{Flag, PositionX, PositionY, VelocityX, VelocityY},
		Systems:    []module.System{&IntegrateSystem{}},
		Commands: []module.Command{
			module.CommandFunc{
				CommandName: "set_velocity",
				CommandSchema: module.Schema{
					"entity": module.FieldLong,
					"vx":     module.FieldFloat,
					"vy":     module.FieldFloat,
				},
				Fn: setVelocity,
			},
			module.CommandFunc{
				CommandName: "teleport",
				CommandSchema: module.Schema{
					"entity": module.FieldLong,
					"x":      module.FieldFloat,
					"y":      module.FieldFloat,
				},
				Fn: teleport,
			},
		},
	}
}

// IntegrateSystem advances positions by one tick of velocity. Entities
// without both position columns are skipped until a teleport or spawn
// places them.
type IntegrateSystem struct{}

func (s *IntegrateSystem) Name() string { return "movement.integrate" }

func (s *IntegrateSystem) Update(tick uint64, st *store.Store) error {
	for _, e := range st.EntitiesWith(Flag, PositionX, PositionY) {
		vx := st.Value(e, VelocityX)
		vy := st.Value(e, VelocityY)
		if store.IsNull(vx) && store.IsNull(vy) {
			continue
		}
		if !store.IsNull(vx) && vx != 0 {
			if err := st.Attach(e, PositionX, st.Value(e, PositionX)+vx); err != nil {
				return fmt.Errorf("integrate entity %d: %w", e, err)
			}
		}
		if !store.IsNull(vy) && vy != 0 {
			if err := st.Attach(e, PositionY, st.Value(e, PositionY)+vy); err != nil {
				return fmt.Errorf("integrate entity %d: %w", e, err)
			}
		}
	}
	return nil
}

func setVelocity(p module.Payload, env *module.Env) error {
	e := uint64(p.Long("entity"))
	if !env.Store.Alive(e) {
		return fmt.Errorf("set_velocity: entity %d: %w", e, store.ErrEntityNotFound)
	}
	if err := env.Store.Attach(e, VelocityX, p.Float("vx")); err != nil {
		return fmt.Errorf("set_velocity: %w", err)
	}
	if err := env.Store.Attach(e, VelocityY, p.Float("vy")); err != nil {
		return fmt.Errorf("set_velocity: %w", err)
	}
	return nil
}

func teleport(p module.Payload, env *module.Env) error {
	e := uint64(p.Long("entity"))
	if !env.Store.Alive(e) {
		return fmt.Errorf("teleport: entity %d: %w", e, store.ErrEntityNotFound)
	}
	if err := env.Store.Attach(e, PositionX, p.Float("x")); err != nil {
		return fmt.Errorf("teleport: %w", err)
	}
	if err := env.Store.Attach(e, PositionY, p.Float("y")); err != nil {
		return fmt.Errorf("teleport: %w", err)
	}
	return nil
}
