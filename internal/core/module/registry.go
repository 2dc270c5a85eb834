package module

import (
	"fmt"
	"sync"

	"github.com/matchforge/engine/internal/core/store"
)

// Registry holds one container's registered modules. It is an explicit
// instance passed by handle; there is no process-wide module directory.
// Registration order is run order.
type Registry struct {
	mu         sync.RWMutex
	store      *store.Store
	modules    []*Module
	byName     map[string]*Module
	commands   map[string]Command
	compByName map[string]store.Component

	listeners map[int]func(*Module)
	nextSub   int
}

func NewRegistry(s *store.Store) *Registry {
	r := &Registry{
		store:      s,
		byName:     make(map[string]*Module),
		commands:   make(map[string]Command),
		compByName: make(map[string]store.Component),
		listeners:  make(map[int]func(*Module)),
	}
	for _, c := range []store.Component{store.EntityID, store.MatchID, store.OwnerID} {
		r.compByName[c.Name] = c
	}
	return r
}

// Register declares the module's components into the store and binds its
// commands. The flag component is appended to the column set when the module
// leaves it out. Fails without side effects on name or command collisions;
// store capacity failures surface from the declaration step.
func (r *Registry) Register(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Name == "" {
		return fmt.Errorf("module name required")
	}
	if _, ok := r.byName[m.Name]; ok {
		return fmt.Errorf("module %q already registered", m.Name)
	}
	if m.Flag.ID == 0 {
		return fmt.Errorf("module %q: flag component required", m.Name)
	}
	hasFlag := false
	for _, c := range m.Components {
		if c.ID == m.Flag.ID {
			hasFlag = true
			break
		}
	}
	if !hasFlag {
		m.Components = append(m.Components, m.Flag)
	}
	for _, c := range m.Components {
		if known, ok := r.compByName[c.Name]; ok && known.ID != c.ID {
			return fmt.Errorf("module %q: component name %q already bound to id %d", m.Name, c.Name, known.ID)
		}
	}
	for _, cmd := range m.Commands {
		if _, ok := r.commands[cmd.Name()]; ok {
			return fmt.Errorf("module %q: command %q already registered", m.Name, cmd.Name())
		}
	}
	for _, c := range m.Components {
		if err := r.store.DeclareComponent(c); err != nil {
			return fmt.Errorf("module %q: declare component %s: %w", m.Name, c.Name, err)
		}
		r.compByName[c.Name] = c
	}
	for _, cmd := range m.Commands {
		r.commands[cmd.Name()] = cmd
	}
	r.modules = append(r.modules, m)
	r.byName[m.Name] = m
	for _, fn := range r.listeners {
		fn(m)
	}
	return nil
}

// Modules returns the registered modules in registration order.
func (r *Registry) Modules() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Module, len(r.modules))
	copy(out, r.modules)
	return out
}

func (r *Registry) Module(name string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// Command resolves a command by name across all modules.
func (r *Registry) Command(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	return c, ok
}

// ComponentByName resolves a declared component, reserved ones included.
func (r *Registry) ComponentByName(name string) (store.Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.compByName[name]
	return c, ok
}

// Subscribe adds a registration listener and returns its subscription id.
// Listeners run synchronously on the registering goroutine.
func (r *Registry) Subscribe(fn func(*Module)) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSub++
	r.listeners[r.nextSub] = fn
	return r.nextSub
}

func (r *Registry) Unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, id)
}
