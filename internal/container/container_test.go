package container

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matchforge/engine/internal/core/module"
	"github.com/matchforge/engine/internal/core/store"
)

// moverModule is a minimal gameplay module: a flag, a position, a velocity,
// one integration system, and a set_velocity command.
func moverModule() (*module.Module, store.Component, store.Component, store.Component) {
	flag := store.NewComponent("MOVER")
	px := store.NewComponent("PX")
	vx := store.NewComponent("VX")
	mod := &module.Module{
		Name:       "movement",
		Version:    "1.0",
		Flag:       flag,
		Components: []store.Component{flag, px, vx},
		Systems: []module.System{module.SystemFunc{
			SystemName: "integrate",
			Fn: func(tick uint64, s *store.Store) error {
				for _, e := range s.EntitiesWith(flag, px, vx) {
					if err := s.Attach(e, px, s.Value(e, px)+s.Value(e, vx)); err != nil {
						return err
					}
				}
				return nil
			},
		}},
		Commands: []module.Command{module.CommandFunc{
			CommandName:   "set_velocity",
			CommandSchema: module.Schema{"entity": module.FieldLong, "vx": module.FieldFloat},
			Fn: func(p module.Payload, env *module.Env) error {
				return env.Store.Attach(uint64(p.Long("entity")), vx, p.Float("vx"))
			},
		}},
	}
	return mod, flag, px, vx
}

func newTestContainer(t *testing.T, limits Limits) (*Container, store.Component, store.Component, store.Component) {
	t.Helper()
	mod, flag, px, vx := moverModule()
	c, err := New(Options{
		ID:      "test",
		Limits:  limits,
		Log:     zap.NewNop(),
		Modules: []*module.Module{mod},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, flag, px, vx
}

func TestLifecycleTransitions(t *testing.T) {
	c, _, _, _ := newTestContainer(t, Limits{})
	if c.State() != Created {
		t.Fatalf("expected CREATED, got %s", c.State())
	}
	if err := c.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState pausing a created container, got %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState starting twice, got %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := c.Advance(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState advancing while paused, got %v", err)
	}
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.State() != Stopped {
		t.Fatalf("expected STOPPED, got %s", c.State())
	}
	if err := c.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState stopping twice, got %v", err)
	}
	if err := c.Advance(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState advancing a stopped container, got %v", err)
	}
	if err := c.Submit("set_velocity", module.Payload{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestAdvanceRequiresRunning(t *testing.T) {
	c, _, _, _ := newTestContainer(t, Limits{})
	if err := c.Advance(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if c.CurrentTick() != 1 {
		t.Fatalf("expected tick 1, got %d", c.CurrentTick())
	}
}

func TestCommandAppliesOnNextTickOnly(t *testing.T) {
	c, flag, px, vx := newTestContainer(t, Limits{})
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m, err := c.CreateMatch("arena")
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	e, err := c.CreateEntityForMatch(m.ID)
	if err != nil {
		t.Fatalf("CreateEntityForMatch: %v", err)
	}
	s := c.Store()
	if err := s.Attach(e, flag, 1); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := s.Attach(e, px, 0); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	p := module.Payload{"entity": float64(e), "vx": float64(5)}
	if err := c.Submit("set_velocity", p); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if v := s.Value(e, vx); !store.IsNull(v) {
		t.Fatalf("expected no velocity before the tick, got %v", v)
	}
	if err := c.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if v := s.Value(e, vx); v != 5 {
		t.Fatalf("expected velocity 5 after the tick, got %v", v)
	}
	// The integration system ran after the command within the same tick.
	if v := s.Value(e, px); v != 5 {
		t.Fatalf("expected position 5 after the tick, got %v", v)
	}
}

func TestSubmitValidation(t *testing.T) {
	c, _, _, _ := newTestContainer(t, Limits{})
	if err := c.Submit("no_such_command", module.Payload{}); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	err := c.Submit("set_velocity", module.Payload{"entity": "seven", "vx": float64(1)})
	if !errors.Is(err, module.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if c.QueueLen() != 0 {
		t.Fatalf("expected rejected commands to never enqueue, got backlog %d", c.QueueLen())
	}
}

func TestCommandCeilingDefersExcess(t *testing.T) {
	c, flag, _, vx := newTestContainer(t, Limits{MaxCommandsPerTick: 2})
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m, _ := c.CreateMatch("arena")
	e, err := c.CreateEntityForMatch(m.ID)
	if err != nil {
		t.Fatalf("CreateEntityForMatch: %v", err)
	}
	if err := c.Store().Attach(e, flag, 1); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	for i := 1; i <= 5; i++ {
		p := module.Payload{"entity": float64(e), "vx": float64(i)}
		if err := c.Submit("set_velocity", p); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := c.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got := c.QueueLen(); got != 3 {
		t.Fatalf("expected 3 deferred commands, got %d", got)
	}
	// FIFO: the second command ran last within the ceiling.
	if v := c.Store().Value(e, vx); v != 2 {
		t.Fatalf("expected velocity 2 after first tick, got %v", v)
	}
	if err := c.AdvanceBy(2); err != nil {
		t.Fatalf("AdvanceBy: %v", err)
	}
	if got := c.QueueLen(); got != 0 {
		t.Fatalf("expected empty backlog, got %d", got)
	}
	if v := c.Store().Value(e, vx); v != 5 {
		t.Fatalf("expected velocity 5 after the backlog drained, got %v", v)
	}
}

func TestPlayAdvancesAndStopHolds(t *testing.T) {
	c, _, _, _ := newTestContainer(t, Limits{})
	if err := c.Play(10 * time.Millisecond); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState playing a created container, got %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Play(0); err == nil {
		t.Fatal("expected a sub-millisecond interval to fail")
	}
	before := c.CurrentTick()
	if err := c.Play(10 * time.Millisecond); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := c.Play(10 * time.Millisecond); !errors.Is(err, ErrAlreadyPlaying) {
		t.Fatalf("expected ErrAlreadyPlaying, got %v", err)
	}
	if !c.IsPlaying() {
		t.Fatal("expected IsPlaying true")
	}
	if c.Interval() != 10*time.Millisecond {
		t.Fatalf("expected 10ms interval, got %s", c.Interval())
	}
	time.Sleep(100 * time.Millisecond)
	c.StopPlay()
	after := c.CurrentTick()
	if after <= before {
		t.Fatalf("expected ticks to advance during play, got %d then %d", before, after)
	}
	if c.IsPlaying() {
		t.Fatal("expected IsPlaying false after stop")
	}
	time.Sleep(30 * time.Millisecond)
	if got := c.CurrentTick(); got != after {
		t.Fatalf("expected tick to hold at %d after stop, got %d", after, got)
	}
	// StopPlay is idempotent.
	c.StopPlay()
}

func TestPauseHoldsAutoAdvance(t *testing.T) {
	c, _, _, _ := newTestContainer(t, Limits{})
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Play(5 * time.Millisecond); err != nil {
		t.Fatalf("Play: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	time.Sleep(15 * time.Millisecond) // let an in-flight tick settle
	held := c.CurrentTick()
	time.Sleep(40 * time.Millisecond)
	if got := c.CurrentTick(); got != held {
		t.Fatalf("expected tick to hold at %d while paused, got %d", held, got)
	}
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if got := c.CurrentTick(); got <= held {
		t.Fatalf("expected ticks to resume past %d, got %d", held, got)
	}
	c.StopPlay()
}

func TestWaitForTick(t *testing.T) {
	c, _, _, _ := newTestContainer(t, Limits{})
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.WaitForTick(context.Background(), 3); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("expected ErrNotPlaying, got %v", err)
	}
	if err := c.Play(5 * time.Millisecond); err != nil {
		t.Fatalf("Play: %v", err)
	}
	defer c.StopPlay()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitForTick(ctx, 3); err != nil {
		t.Fatalf("WaitForTick: %v", err)
	}
	if got := c.CurrentTick(); got < 3 {
		t.Fatalf("expected tick >= 3, got %d", got)
	}
	// A target already reached returns immediately.
	if err := c.WaitForTick(context.Background(), 1); err != nil {
		t.Fatalf("WaitForTick on reached target: %v", err)
	}
}

func TestWaitForTickTimesOut(t *testing.T) {
	c, _, _, _ := newTestContainer(t, Limits{})
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Play(50 * time.Millisecond); err != nil {
		t.Fatalf("Play: %v", err)
	}
	defer c.StopPlay()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.WaitForTick(ctx, 1_000_000)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestStopFailsPendingWaiters(t *testing.T) {
	c, _, _, _ := newTestContainer(t, Limits{})
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Play(time.Hour); err != nil {
		t.Fatalf("Play: %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.WaitForTick(context.Background(), 10)
	}()
	time.Sleep(20 * time.Millisecond)
	c.StopPlay()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNotPlaying) {
			t.Fatalf("expected ErrNotPlaying, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the waiter to be released")
	}
}

func TestCreateEntityForMatchTagsRows(t *testing.T) {
	c, _, _, _ := newTestContainer(t, Limits{})
	if _, err := c.CreateEntityForMatch(9); !errors.Is(err, ErrUnknownMatch) {
		t.Fatalf("expected ErrUnknownMatch, got %v", err)
	}
	m, _ := c.CreateMatch("arena")
	e, err := c.CreateEntityForMatch(m.ID)
	if err != nil {
		t.Fatalf("CreateEntityForMatch: %v", err)
	}
	s := c.Store()
	if v := s.Value(e, store.MatchID); v != float32(m.ID) {
		t.Fatalf("expected MATCH_ID %d, got %v", m.ID, v)
	}
	if v := s.Value(e, store.EntityID); v != float32(e) {
		t.Fatalf("expected ENTITY_ID %d, got %v", e, v)
	}
	// Ad hoc creation by attach is disabled inside containers.
	if err := s.Attach(424242, store.OwnerID, 1); !errors.Is(err, store.ErrExplicitCreate) {
		t.Fatalf("expected ErrExplicitCreate, got %v", err)
	}
}

func TestSnapshotBeforeFirstTick(t *testing.T) {
	c, flag, px, _ := newTestContainer(t, Limits{})
	m, _ := c.CreateMatch("arena")
	e, err := c.CreateEntityForMatch(m.ID)
	if err != nil {
		t.Fatalf("CreateEntityForMatch: %v", err)
	}
	s := c.Store()
	if err := s.Attach(e, flag, 1); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := s.Attach(e, px, 3); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	snap, err := c.Snapshot(m.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	md, ok := snap.Module("movement")
	if !ok {
		t.Fatal("expected movement module in snapshot")
	}
	if len(md.Entities) != 1 || md.Entities[0] != e {
		t.Fatalf("expected entity %d, got %v", e, md.Entities)
	}
	if _, err := c.Snapshot(999); !errors.Is(err, ErrUnknownMatch) {
		t.Fatalf("expected ErrUnknownMatch, got %v", err)
	}
}

func TestContainersAreIsolated(t *testing.T) {
	a, aflag, _, _ := newTestContainer(t, Limits{})
	b, _, _, _ := newTestContainer(t, Limits{})
	if err := a.Start(); err != nil {
		t.Fatalf("Start a: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start b: %v", err)
	}
	am, _ := a.CreateMatch("arena")
	bm, _ := b.CreateMatch("arena")
	e, err := a.CreateEntityForMatch(am.ID)
	if err != nil {
		t.Fatalf("CreateEntityForMatch: %v", err)
	}
	if err := a.Store().Attach(e, aflag, 1); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := a.Advance(); err != nil {
		t.Fatalf("Advance a: %v", err)
	}
	if err := b.Advance(); err != nil {
		t.Fatalf("Advance b: %v", err)
	}
	if n := b.Store().EntityCount(); n != 0 {
		t.Fatalf("expected container b to hold no entities, got %d", n)
	}
	bs, err := b.Snapshot(bm.ID)
	if err != nil {
		t.Fatalf("Snapshot b: %v", err)
	}
	md, _ := bs.Module("movement")
	if len(md.Entities) != 0 {
		t.Fatalf("expected no rows in container b, got %v", md.Entities)
	}
	if a.CurrentTick() != 1 || b.CurrentTick() != 1 {
		t.Fatalf("expected independent tick clocks at 1, got %d and %d", a.CurrentTick(), b.CurrentTick())
	}
}

func TestStatsCollects(t *testing.T) {
	c, flag, _, _ := newTestContainer(t, Limits{})
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m, _ := c.CreateMatch("arena")
	e, _ := c.CreateEntityForMatch(m.ID)
	if err := c.Store().Attach(e, flag, 1); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := c.Submit("set_velocity", module.Payload{"entity": float64(e), "vx": float64(1)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.AdvanceBy(3); err != nil {
		t.Fatalf("AdvanceBy: %v", err)
	}
	v := c.Stats()
	if v.Tick != 3 || v.Ticks != 3 {
		t.Fatalf("expected 3 ticks, got %+v", v)
	}
	if v.CommandsExecuted != 1 {
		t.Fatalf("expected 1 executed command, got %d", v.CommandsExecuted)
	}
	if v.Entities != 1 || v.Matches != 1 {
		t.Fatalf("expected 1 entity and 1 match, got %+v", v)
	}
	if v.Snapshots.Generations == 0 {
		t.Fatal("expected snapshot generations to be counted")
	}
	if v.State != "RUNNING" {
		t.Fatalf("expected RUNNING, got %s", v.State)
	}
}

func TestFailingCommandDoesNotAbortTick(t *testing.T) {
	mod, flag, _, _ := moverModule()
	boom := module.CommandFunc{
		CommandName:   "boom",
		CommandSchema: module.Schema{},
		Fn: func(module.Payload, *module.Env) error {
			return errors.New("exploded")
		},
	}
	mod.Commands = append(mod.Commands, boom)
	c, err := New(Options{ID: "t", Log: zap.NewNop(), Modules: []*module.Module{mod}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m, _ := c.CreateMatch("arena")
	e, _ := c.CreateEntityForMatch(m.ID)
	if err := c.Store().Attach(e, flag, 1); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := c.Submit("boom", module.Payload{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.Advance(); err != nil {
		t.Fatalf("expected the tick to commit despite the failing command, got %v", err)
	}
	if c.CurrentTick() != 1 {
		t.Fatalf("expected tick 1, got %d", c.CurrentTick())
	}
	if v := c.Stats(); v.CommandsFailed != 1 {
		t.Fatalf("expected 1 failed command, got %d", v.CommandsFailed)
	}
}

func TestDestroyMatchRemovesEntities(t *testing.T) {
	c, flag, _, _ := newTestContainer(t, Limits{})
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	keep, _ := c.CreateMatch("keep")
	drop, _ := c.CreateMatch("drop")
	ke, _ := c.CreateEntityForMatch(keep.ID)
	de, _ := c.CreateEntityForMatch(drop.ID)
	if err := c.Store().Attach(ke, flag, 1); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := c.Store().Attach(de, flag, 1); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := c.DestroyMatch(drop.ID); err != nil {
		t.Fatalf("DestroyMatch: %v", err)
	}
	if _, ok := c.Match(drop.ID); ok {
		t.Fatal("expected the match to be gone")
	}
	if c.Store().Alive(de) {
		t.Fatal("expected the match's entities to be destroyed")
	}
	if !c.Store().Alive(ke) {
		t.Fatal("expected other matches untouched")
	}
}
