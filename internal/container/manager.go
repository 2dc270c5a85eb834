package container

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matchforge/engine/internal/core/module"
)

// ManagerOptions configure the multi-container host. Modules returns a fresh
// module set per container so no descriptor state crosses container
// boundaries; Provision, when set, wires optional collaborators (script
// hooks, persistence listeners) onto each new container.
type ManagerOptions struct {
	Log       *zap.Logger
	Limits    Limits
	Modules   func() []*module.Module
	Provision func(*Container) error
}

// Manager hosts independent containers. Each progresses on its own clock;
// the manager only tracks membership and fans out shutdown.
type Manager struct {
	log       *zap.Logger
	limits    Limits
	modules   func() []*module.Module
	provision func(*Container) error

	mu         sync.RWMutex
	containers map[string]*Container
	seq        int
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Modules == nil {
		opts.Modules = func() []*module.Module { return nil }
	}
	opts.Limits.fill()
	return &Manager{
		log:        opts.Log,
		limits:     opts.Limits,
		modules:    opts.Modules,
		provision:  opts.Provision,
		containers: make(map[string]*Container),
	}
}

// Create builds and registers a container. An empty id gets a generated one.
func (m *Manager) Create(id string) (*Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == "" {
		m.seq++
		id = fmt.Sprintf("c-%d", m.seq)
	}
	if _, ok := m.containers[id]; ok {
		return nil, fmt.Errorf("container %q already exists", id)
	}
	c, err := New(Options{
		ID:      id,
		Limits:  m.limits,
		Log:     m.log,
		Modules: m.modules(),
	})
	if err != nil {
		return nil, fmt.Errorf("create container %q: %w", id, err)
	}
	if m.provision != nil {
		if err := m.provision(c); err != nil {
			return nil, fmt.Errorf("provision container %q: %w", id, err)
		}
	}
	m.containers[id] = c
	m.log.Info("container created", zap.String("container", id))
	return c, nil
}

func (m *Manager) Get(id string) (*Container, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.containers[id]
	return c, ok
}

// List returns the containers sorted by id.
func (m *Manager) List() []*Container {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Container, 0, len(m.containers))
	for _, c := range m.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.containers)
}

// Remove stops a container and forgets it. A container already stopped is
// removed without error.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	c, ok := m.containers[id]
	if ok {
		delete(m.containers, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("container %q not found", id)
	}
	if c.State() != Stopped {
		if err := c.Stop(); err != nil {
			return fmt.Errorf("stop container %q: %w", id, err)
		}
	}
	m.log.Info("container removed", zap.String("container", id))
	return nil
}

// StopAll stops every container in parallel and waits for all of them.
func (m *Manager) StopAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, c := range m.List() {
		c := c
		if c.State() == Stopped {
			continue
		}
		g.Go(func() error {
			if err := c.Stop(); err != nil {
				return fmt.Errorf("stop container %q: %w", c.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
