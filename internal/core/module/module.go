// Package module defines the contract between the simulation core and its
// gameplay collaborators: component declarations, per-tick systems, and
// commands, bundled into modules and registered per container.
package module

import (
	"go.uber.org/zap"

	"github.com/matchforge/engine/internal/core/store"
)

// System is one per-tick transformation. Systems run sequentially in module
// declaration order on the container's tick goroutine and operate purely
// through the store contract.
type System interface {
	Name() string
	Update(tick uint64, s *store.Store) error
}

// EntityFactory creates match-tagged entities. The container's implementation
// attaches ENTITY_ID and MATCH_ID, and is the only creation path when the
// store forbids implicit creation.
type EntityFactory interface {
	CreateEntity(match uint64) (uint64, error)
}

// ComponentResolver finds declared components by name, for data-driven
// commands that reference components symbolically.
type ComponentResolver interface {
	ComponentByName(name string) (store.Component, bool)
}

// Env is the execution environment a command runs in.
type Env struct {
	Tick       uint64
	Store      *store.Store
	Factory    EntityFactory
	Components ComponentResolver
	Log        *zap.Logger
}

// Module bundles a flag component marking its live entities, the component
// columns it contributes, per-tick systems in run order, and commands.
type Module struct {
	Name       string
	Version    string
	Flag       store.Component
	Components []store.Component
	Systems    []System
	Commands   []Command
}

// SystemFunc adapts a function to the System interface.
type SystemFunc struct {
	SystemName string
	Fn         func(tick uint64, s *store.Store) error
}

func (f SystemFunc) Name() string { return f.SystemName }

func (f SystemFunc) Update(tick uint64, s *store.Store) error {
	return f.Fn(tick, s)
}
