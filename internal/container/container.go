// Package container runs isolated simulations. Each container owns a private
// store, registry, snapshot engine, command queue, and tick clock; containers
// share no mutable state, so isolation holds by construction rather than by
// per-access checks.
package container

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/matchforge/engine/internal/core/module"
	"github.com/matchforge/engine/internal/core/snapshot"
	"github.com/matchforge/engine/internal/core/store"
)

var (
	ErrStopped        = errors.New("container stopped")
	ErrInvalidState   = errors.New("invalid container state")
	ErrUnknownMatch   = errors.New("unknown match")
	ErrUnknownPlayer  = errors.New("unknown player")
	ErrUnknownCommand = errors.New("unknown command")
	ErrNotPlaying     = errors.New("auto advance inactive")
	ErrAlreadyPlaying = errors.New("auto advance already active")
)

// State is the container lifecycle position. Stopped is terminal.
type State uint32

const (
	Created State = iota
	Running
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Limits are the container's resource ceilings, fixed at construction.
// Entity and component breaches fail the store operation; the command ceiling
// defers excess commands to the next tick.
type Limits struct {
	MaxEntities        int
	MaxComponents      int
	MaxCommandsPerTick int
	TrackLimit         int
	SnapshotMaxAge     uint64
	RebuildThreshold   float64
}

func (l *Limits) fill() {
	if l.MaxEntities < 1 {
		l.MaxEntities = 1024
	}
	if l.MaxComponents < 1 {
		l.MaxComponents = 64
	}
	if l.MaxCommandsPerTick < 1 {
		l.MaxCommandsPerTick = 256
	}
}

// TickHook runs on the tick goroutine after systems, before snapshot
// regeneration. Script engines attach through this.
type TickHook func(tick uint64) error

// Match groups entities inside one container via their MATCH_ID value.
type Match struct {
	ID          uint64
	Name        string
	CreatedTick uint64
}

// Player is a registered participant, bound to one match. Entity ownership
// uses the player id as the OWNER_ID component value.
type Player struct {
	ID    uint64
	Name  string
	Match uint64
}

// Options configure a container at construction.
type Options struct {
	ID      string
	Limits  Limits
	Log     *zap.Logger
	Modules []*module.Module
}

// Container owns one simulation: a store with query cache and change
// tracking, the module registry, the snapshot engine, a command queue, and
// the tick clock. Entities enter only through CreateEntityForMatch, so every
// row carries a MATCH_ID belonging to this container.
type Container struct {
	id     string
	log    *zap.Logger
	limits Limits

	store *store.Store
	reg   *module.Registry
	eng   *snapshot.Engine
	queue *commandQueue
	stats *Stats

	mu         sync.Mutex
	state      State
	matches    map[uint64]*Match
	nextMatch  uint64
	players    map[uint64]*Player
	nextPlayer uint64
	hooks      []TickHook

	tickMu sync.Mutex
	tick   atomic.Uint64

	playMu   sync.Mutex
	playing  bool
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}

	waitMu  sync.Mutex
	waiters []*tickWaiter

	subMu     sync.Mutex
	listeners map[int]func(tick uint64)
	nextSub   int
}

// New builds a container in the CREATED state and registers its modules.
func New(opts Options) (*Container, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("container id required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	opts.Limits.fill()
	s, err := store.New(store.Options{
		MaxEntities:    opts.Limits.MaxEntities,
		MaxComponents:  opts.Limits.MaxComponents,
		QueryCache:     true,
		TrackChanges:   true,
		TrackLimit:     opts.Limits.TrackLimit,
		ExplicitCreate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}
	reg := module.NewRegistry(s)
	c := &Container{
		id:     opts.ID,
		log:    opts.Log,
		limits: opts.Limits,
		store:  s,
		reg:    reg,
		eng: snapshot.NewEngine(s, reg, opts.Log, snapshot.Config{
			MaxCacheAge:      opts.Limits.SnapshotMaxAge,
			RebuildThreshold: opts.Limits.RebuildThreshold,
		}),
		queue:     newCommandQueue(),
		stats:     &Stats{},
		matches:   make(map[uint64]*Match),
		players:   make(map[uint64]*Player),
		listeners: make(map[int]func(uint64)),
	}
	for _, m := range opts.Modules {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("register module: %w", err)
		}
	}
	return c, nil
}

func (c *Container) ID() string                 { return c.id }
func (c *Container) Limits() Limits             { return c.limits }
func (c *Container) Store() *store.Store        { return c.store }
func (c *Container) Registry() *module.Registry { return c.reg }

func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start moves CREATED to RUNNING.
func (c *Container) Start() error {
	return c.transition(Created, Running)
}

// Pause suspends ticking without losing the auto-advance schedule.
func (c *Container) Pause() error {
	return c.transition(Running, Paused)
}

// Resume continues a paused container.
func (c *Container) Resume() error {
	return c.transition(Paused, Running)
}

func (c *Container) transition(from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return fmt.Errorf("%w: %s requires %s, container is %s", ErrInvalidState, to, from, c.state)
	}
	c.state = to
	c.log.Info("container state changed",
		zap.String("container", c.id),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	return nil
}

// Stop is terminal: it halts auto-advance, waits for any in-flight tick to
// finish, fails pending waiters, and clears the store. Published snapshots
// stay readable. Stopping twice fails like any other invalid transition.
func (c *Container) Stop() error {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return fmt.Errorf("%w: container already %s", ErrInvalidState, Stopped)
	}
	prev := c.state
	c.state = Stopped
	c.mu.Unlock()

	c.StopPlay()
	// An in-flight manual tick holds tickMu; joining it keeps teardown after
	// tick completion.
	c.tickMu.Lock()
	c.tickMu.Unlock()

	c.failWaiters(ErrStopped)
	c.store.Reset()
	c.log.Info("container stopped",
		zap.String("container", c.id),
		zap.String("from", prev.String()),
		zap.Uint64("tick", c.tick.Load()))
	return nil
}

// CreateMatch registers a match id for entity tagging. Allowed in any state
// but STOPPED.
func (c *Container) CreateMatch(name string) (*Match, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Stopped {
		return nil, ErrStopped
	}
	c.nextMatch++
	m := &Match{ID: c.nextMatch, Name: name, CreatedTick: c.tick.Load()}
	c.matches[m.ID] = m
	c.log.Info("match created",
		zap.String("container", c.id),
		zap.Uint64("match", m.ID),
		zap.String("name", name))
	return m, nil
}

// DestroyMatch removes the match, its entities, and its cached snapshots.
func (c *Container) DestroyMatch(id uint64) error {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if _, ok := c.matches[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownMatch, id)
	}
	delete(c.matches, id)
	c.mu.Unlock()

	want := float32(id)
	for _, e := range c.store.EntitiesWith(store.MatchID) {
		if c.store.Value(e, store.MatchID) != want {
			continue
		}
		if err := c.store.DestroyEntity(e); err != nil {
			return fmt.Errorf("destroy entity %d: %w", e, err)
		}
	}
	c.eng.DropMatch(id)
	return nil
}

func (c *Container) Match(id uint64) (*Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.matches[id]
	return m, ok
}

// Matches lists the container's matches in id order.
func (c *Container) Matches() []*Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Match, 0, len(c.matches))
	for _, m := range c.matches {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Container) matchIDs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, 0, len(c.matches))
	for id := range c.matches {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RegisterPlayer binds a player to a match for ownership filtering.
func (c *Container) RegisterPlayer(name string, match uint64) (*Player, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Stopped {
		return nil, ErrStopped
	}
	if _, ok := c.matches[match]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMatch, match)
	}
	c.nextPlayer++
	p := &Player{ID: c.nextPlayer, Name: name, Match: match}
	c.players[p.ID] = p
	return p, nil
}

func (c *Container) Player(id uint64) (*Player, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.players[id]
	return p, ok
}

func (c *Container) Players() []*Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Player, 0, len(c.players))
	for _, p := range c.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateEntityForMatch is the container's only entity creation path. The
// fresh entity carries ENTITY_ID and MATCH_ID; the store rejects ad hoc
// creation by attach, so untagged entities cannot exist here.
func (c *Container) CreateEntityForMatch(match uint64) (uint64, error) {
	c.mu.Lock()
	_, ok := c.matches[match]
	stopped := c.state == Stopped
	c.mu.Unlock()
	if stopped {
		return 0, ErrStopped
	}
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownMatch, match)
	}
	e, err := c.store.CreateEntity()
	if err != nil {
		return 0, err
	}
	comps := []store.Component{store.EntityID, store.MatchID}
	vals := []float32{float32(e), float32(match)}
	if err := c.store.AttachBatch(e, comps, vals); err != nil {
		return 0, fmt.Errorf("tag entity %d: %w", e, err)
	}
	return e, nil
}

type factory struct{ c *Container }

func (f factory) CreateEntity(match uint64) (uint64, error) {
	return f.c.CreateEntityForMatch(match)
}

// Submit validates the payload against the command's schema and enqueues it.
// Rejection happens here, before any store mutation; accepted commands run on
// the next tick, ceiling permitting.
func (c *Container) Submit(name string, p module.Payload) error {
	if c.State() == Stopped {
		return ErrStopped
	}
	cmd, ok := c.reg.Command(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	if err := cmd.Schema().Validate(p); err != nil {
		return fmt.Errorf("command %s: %w", name, err)
	}
	c.queue.push(queuedCommand{name: name, cmd: cmd, payload: p})
	return nil
}

// QueueLen is the current command backlog.
func (c *Container) QueueLen() int { return c.queue.len() }

// AddTickHook appends a hook run after systems each tick.
func (c *Container) AddTickHook(h TickHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

func (c *Container) tickHooks() []TickHook {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TickHook, len(c.hooks))
	copy(out, c.hooks)
	return out
}

// Subscribe registers a post-tick listener, called on the tick goroutine.
func (c *Container) Subscribe(fn func(tick uint64)) int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	c.listeners[c.nextSub] = fn
	return c.nextSub
}

func (c *Container) Unsubscribe(id int) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.listeners, id)
}

func (c *Container) notifyTick(tick uint64) {
	c.subMu.Lock()
	fns := make([]func(uint64), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(tick)
	}
}

// Snapshot returns the published snapshot for a match, building one directly
// when the match has not seen a tick yet.
func (c *Container) Snapshot(match uint64) (*snapshot.Snapshot, error) {
	if _, ok := c.Match(match); !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMatch, match)
	}
	if snap, ok := c.eng.Snapshot(match); ok {
		return snap, nil
	}
	return c.eng.Build(match, c.tick.Load())
}

// PlayerSnapshot returns an ownership-filtered view for one player.
func (c *Container) PlayerSnapshot(match, player uint64) (*snapshot.Snapshot, error) {
	p, ok := c.Player(player)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPlayer, player)
	}
	if p.Match != match {
		return nil, fmt.Errorf("%w: player %d belongs to match %d", ErrUnknownMatch, player, p.Match)
	}
	return c.eng.PlayerSnapshot(match, player, c.tick.Load())
}

// LastDelta returns the changes of the latest incremental regeneration.
func (c *Container) LastDelta(match uint64) (*snapshot.Delta, bool) {
	return c.eng.LastDelta(match)
}

// SnapshotMetrics returns the snapshot engine counters.
func (c *Container) SnapshotMetrics() snapshot.Metrics {
	return c.eng.Metrics()
}

// runTick executes one tick under tickMu: clear caches, drain commands up to
// the ceiling, run systems in declared order, run hooks, regenerate
// snapshots, then publish the new tick. Command and system failures are
// logged and isolated; a started tick always commits.
func (c *Container) runTick() error {
	start := time.Now()
	next := c.tick.Load() + 1
	c.store.BeginTick()

	cmds := c.queue.drain(c.limits.MaxCommandsPerTick)
	env := &module.Env{
		Tick:       next,
		Store:      c.store,
		Factory:    factory{c},
		Components: c.reg,
		Log:        c.log,
	}
	executed, failed := 0, 0
	for _, qc := range cmds {
		if err := qc.cmd.Execute(qc.payload, env); err != nil {
			failed++
			c.log.Warn("command failed",
				zap.String("container", c.id),
				zap.String("command", qc.name),
				zap.Uint64("tick", next),
				zap.Error(err))
			continue
		}
		executed++
	}

	for _, m := range c.reg.Modules() {
		for _, sys := range m.Systems {
			if err := sys.Update(next, c.store); err != nil {
				c.log.Warn("system failed",
					zap.String("container", c.id),
					zap.String("module", m.Name),
					zap.String("system", sys.Name()),
					zap.Uint64("tick", next),
					zap.Error(err))
			}
		}
	}

	for _, hook := range c.tickHooks() {
		if err := hook(next); err != nil {
			c.log.Warn("tick hook failed",
				zap.String("container", c.id),
				zap.Uint64("tick", next),
				zap.Error(err))
		}
	}

	regenErr := c.eng.Regenerate(next, c.matchIDs())

	c.store.EndTick()
	c.tick.Store(next)
	c.stats.observeTick(next, time.Since(start), executed, failed, c.queue.len())
	c.notifyTick(next)
	c.notifyWaiters(next)
	if regenErr != nil {
		return fmt.Errorf("regenerate snapshots: %w", regenErr)
	}
	return nil
}
