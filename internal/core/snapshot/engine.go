package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matchforge/engine/internal/core/module"
	"github.com/matchforge/engine/internal/core/store"
)

// Config bounds how long the engine keeps patching a cached snapshot.
type Config struct {
	// MaxCacheAge forces a full rebuild once a match's snapshot has gone this
	// many ticks without one.
	MaxCacheAge uint64
	// RebuildThreshold is the changed-row share past which patching costs
	// more than rebuilding.
	RebuildThreshold float64
}

const (
	defaultMaxCacheAge      = 60
	defaultRebuildThreshold = 0.5
)

func (c *Config) fill() {
	if c.MaxCacheAge == 0 {
		c.MaxCacheAge = defaultMaxCacheAge
	}
	if c.RebuildThreshold <= 0 {
		c.RebuildThreshold = defaultRebuildThreshold
	}
}

// Engine generates per-match snapshots from one container's store. Each
// regeneration decides per match between reusing the published snapshot
// untouched, patching a private copy with the tracked changes, and rebuilding
// from scratch.
type Engine struct {
	store *store.Store
	reg   *module.Registry
	log   *zap.Logger
	cfg   Config

	mu      sync.RWMutex
	matches map[uint64]*matchState
	metrics Metrics
}

type matchState struct {
	published *Snapshot
	builtTick uint64 // tick of the last full rebuild
	delta     *Delta // edits of the last regeneration, nil after a hit or rebuild
}

func NewEngine(s *store.Store, reg *module.Registry, log *zap.Logger, cfg Config) *Engine {
	cfg.fill()
	return &Engine{
		store:   s,
		reg:     reg,
		log:     log,
		cfg:     cfg,
		matches: make(map[uint64]*matchState),
	}
}

var null = store.Null()

// Regenerate refreshes the published snapshot of every listed match. It
// consumes the store's change log, so it runs exactly once per tick, after
// commands and systems. Cached state for unlisted matches is dropped.
func (e *Engine) Regenerate(tick uint64, matchIDs []uint64) error {
	start := time.Now()
	set, tracked := e.store.ConsumeChanges()
	mods := e.reg.Modules()

	e.mu.Lock()
	defer e.mu.Unlock()

	listed := make(map[uint64]bool, len(matchIDs))
	for _, m := range matchIDs {
		listed[m] = true
	}
	for m := range e.matches {
		if !listed[m] {
			delete(e.matches, m)
		}
	}

	var an *analysis
	if tracked && !set.Overflow {
		an = analyze(e.store, mods, set)
	}

	var errs []error
	for _, m := range matchIDs {
		if err := e.regenerateMatch(m, tick, mods, an); err != nil {
			errs = append(errs, fmt.Errorf("match %d: %w", m, err))
		}
	}
	e.metrics.observePass(time.Since(start))
	return errors.Join(errs...)
}

func (e *Engine) regenerateMatch(m, tick uint64, mods []*module.Module, an *analysis) error {
	st := e.matches[m]
	if st != nil && an != nil && !an.structural[m] && tick-st.builtTick < e.cfg.MaxCacheAge {
		mc := an.perMatch[m]
		if mc == nil {
			// Nothing touched this match: the published snapshot stands.
			e.metrics.Generations++
			e.metrics.CacheHits++
			st.delta = nil
			return nil
		}
		if !e.pastThreshold(st, mc) {
			next, delta, err := e.applyIncremental(st.published, mc, mods, tick)
			if err == nil {
				st.published = next
				st.delta = delta
				e.metrics.Generations++
				e.metrics.Incremental++
				return nil
			}
			e.metrics.Failures++
			e.log.Warn("incremental snapshot failed, rebuilding",
				zap.Uint64("match", m),
				zap.Uint64("tick", tick),
				zap.Error(err))
		}
	}
	snap, err := buildMatch(e.store, mods, m, tick)
	if err != nil {
		// Keep the previous published snapshot rather than expose a partial
		// one, and force a rebuild on the next pass.
		e.metrics.Failures++
		if st != nil {
			st.delta = nil
			st.builtTick = 0
		}
		return err
	}
	e.matches[m] = &matchState{published: snap, builtTick: tick}
	e.metrics.Generations++
	e.metrics.FullRebuilds++
	return nil
}

// pastThreshold compares the changed-row count against the match's largest
// module.
func (e *Engine) pastThreshold(st *matchState, mc *matchChanges) bool {
	prior := 0
	for _, md := range st.published.Modules {
		if len(md.Entities) > prior {
			prior = len(md.Entities)
		}
	}
	if prior == 0 {
		return false
	}
	changed := len(mc.created) + len(mc.destroyed) + len(mc.modified)
	return float64(changed) > e.cfg.RebuildThreshold*float64(prior)
}

// applyIncremental patches a clone of the previous snapshot, emitting the
// positional change records as it goes. Modified cells land first at
// pre-update rows, removed rows splice out in descending order, added rows
// append; appended ids always exceed existing ones, so ascending row order
// survives.
func (e *Engine) applyIncremental(prev *Snapshot, mc *matchChanges, mods []*module.Module, tick uint64) (*Snapshot, *Delta, error) {
	next := prev.Clone()
	next.Tick = tick
	delta := &Delta{Match: prev.Match, FromTick: prev.Tick, ToTick: tick}

	byName := make(map[string]*module.Module, len(mods))
	for _, m := range mods {
		byName[m.Name] = m
	}

	for mi := range next.Modules {
		md := &next.Modules[mi]
		mod := byName[md.Module]
		if mod == nil {
			return nil, nil, fmt.Errorf("module %s missing from registry", md.Module)
		}
		colChanges := make([]ColumnChanges, len(md.Columns))
		for ci := range md.Columns {
			colChanges[ci].Component = md.Columns[ci].Component
		}

		if len(mc.modified) > 0 {
			index := make(map[uint64]int, len(md.Entities))
			for i, id := range md.Entities {
				index[id] = i
			}
			for _, eid := range sortedKeys(mc.modified) {
				row, ok := index[eid]
				if !ok {
					continue
				}
				for ci := range md.Columns {
					col := &md.Columns[ci]
					nv := e.store.Value(eid, col.Component)
					ov := col.Values[row]
					if cellsEqual(ov, nv) {
						continue
					}
					col.Values[row] = nv
					colChanges[ci].Changes = append(colChanges[ci].Changes, EntityChange{
						Kind: store.Modified, Row: row, Entity: eid, Old: ov, New: nv,
					})
				}
			}
		}

		if len(mc.destroyed) > 0 {
			type rowRef struct {
				row int
				id  uint64
			}
			var gone []rowRef
			for i, id := range md.Entities {
				if mc.destroyed[id] {
					gone = append(gone, rowRef{i, id})
				}
			}
			for k := len(gone) - 1; k >= 0; k-- {
				r := gone[k]
				for ci := range md.Columns {
					col := &md.Columns[ci]
					colChanges[ci].Changes = append(colChanges[ci].Changes, EntityChange{
						Kind: store.Removed, Row: r.row, Entity: r.id, Old: col.Values[r.row], New: null,
					})
					col.Values = append(col.Values[:r.row], col.Values[r.row+1:]...)
				}
				md.Entities = append(md.Entities[:r.row], md.Entities[r.row+1:]...)
			}
		}

		for _, eid := range mc.created {
			if !e.store.Has(eid, mod.Flag) {
				continue
			}
			row := len(md.Entities)
			md.Entities = append(md.Entities, eid)
			for ci := range md.Columns {
				col := &md.Columns[ci]
				nv := e.store.Value(eid, col.Component)
				col.Values = append(col.Values, nv)
				colChanges[ci].Changes = append(colChanges[ci].Changes, EntityChange{
					Kind: store.Added, Row: row, Entity: eid, Old: null, New: nv,
				})
			}
		}

		mcs := ModuleChanges{Module: md.Module}
		for _, cc := range colChanges {
			if len(cc.Changes) > 0 {
				mcs.Columns = append(mcs.Columns, cc)
			}
		}
		if len(mcs.Columns) > 0 {
			delta.Modules = append(delta.Modules, mcs)
		}
	}
	if err := next.validate(); err != nil {
		return nil, nil, err
	}
	return next, delta, nil
}

// Snapshot returns the published snapshot for a match. The result is shared
// and must be treated as read-only.
func (e *Engine) Snapshot(match uint64) (*Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.matches[match]
	if st == nil {
		return nil, false
	}
	return st.published, true
}

// Build generates a match snapshot directly from the store, bypassing the
// cached state. Serves reads before a match's first regeneration.
func (e *Engine) Build(match, tick uint64) (*Snapshot, error) {
	return buildMatch(e.store, e.reg.Modules(), match, tick)
}

// PlayerSnapshot builds a per-player view on demand, never cached.
func (e *Engine) PlayerSnapshot(match, player, tick uint64) (*Snapshot, error) {
	return buildMatchForPlayer(e.store, e.reg.Modules(), match, player, tick)
}

// LastDelta returns the edits of the most recent regeneration when it was
// incremental. After a cache hit or a full rebuild there is no delta.
func (e *Engine) LastDelta(match uint64) (*Delta, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.matches[match]
	if st == nil || st.delta == nil {
		return nil, false
	}
	return st.delta, true
}

// DropMatch forgets a match's cached state.
func (e *Engine) DropMatch(match uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.matches, match)
}

// Reset forgets every match.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.matches = make(map[uint64]*matchState)
}

// Metrics returns a copy of the counters.
func (e *Engine) Metrics() Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics
}

// analysis partitions one tick's change set by match and flags the matches
// whose row structure changed in place.
type analysis struct {
	structural map[uint64]bool
	perMatch   map[uint64]*matchChanges
}

type matchChanges struct {
	created   []uint64
	destroyed map[uint64]bool
	modified  map[uint64]bool
}

func analyze(s *store.Store, mods []*module.Module, set store.ChangeSet) *analysis {
	flags := make(map[uint64]bool, len(mods))
	for _, m := range mods {
		flags[m.Flag.ID] = true
	}

	an := &analysis{
		structural: make(map[uint64]bool),
		perMatch:   make(map[uint64]*matchChanges),
	}

	byEntity := make(map[uint64][]store.Change)
	for _, ch := range set.Changes {
		byEntity[ch.Entity] = append(byEntity[ch.Entity], ch)
	}

	// Destroyed entities: the match comes from the removed MATCH_ID cell.
	for eid := range set.Destroyed {
		match, ok := removedMatch(byEntity[eid])
		if !ok {
			continue // never match-tagged, invisible to snapshots
		}
		an.forMatch(match).destroyed[eid] = true
	}

	// Created entities: the factory tags them within the same tick.
	for eid := range set.Created {
		v := s.Value(eid, store.MatchID)
		if store.IsNull(v) {
			continue
		}
		mc := an.forMatch(uint64(v))
		mc.created = append(mc.created, eid)
	}

	// Surviving entities with cell changes. Entities created and destroyed
	// within the same tick never reached a snapshot and are skipped.
	for eid, chs := range byEntity {
		if _, ok := set.Created[eid]; ok {
			continue
		}
		if _, ok := set.Destroyed[eid]; ok {
			continue
		}
		if !s.Alive(eid) {
			continue
		}
		cur := s.Value(eid, store.MatchID)
		for _, ch := range chs {
			if ch.Component == store.MatchID.ID {
				// The entity moved between matches or gained or lost its
				// tag; both sides rebuild.
				if !store.IsNull(ch.Old) {
					an.structural[uint64(ch.Old)] = true
				}
				if !store.IsNull(ch.New) {
					an.structural[uint64(ch.New)] = true
				}
				continue
			}
			if flags[ch.Component] && ch.Kind != store.Modified {
				// A flag flipped on a live row changes module membership in
				// the middle of the row order. Rebuild the match.
				if !store.IsNull(cur) {
					an.structural[uint64(cur)] = true
				}
				continue
			}
			if store.IsNull(cur) {
				continue
			}
			an.forMatch(uint64(cur)).modified[eid] = true
		}
	}

	for _, mc := range an.perMatch {
		sort.Slice(mc.created, func(i, j int) bool { return mc.created[i] < mc.created[j] })
	}
	return an
}

func (an *analysis) forMatch(m uint64) *matchChanges {
	mc := an.perMatch[m]
	if mc == nil {
		mc = &matchChanges{
			destroyed: make(map[uint64]bool),
			modified:  make(map[uint64]bool),
		}
		an.perMatch[m] = mc
	}
	return mc
}

func removedMatch(chs []store.Change) (uint64, bool) {
	for _, ch := range chs {
		if ch.Component == store.MatchID.ID && ch.Kind == store.Removed {
			return uint64(ch.Old), true
		}
	}
	return 0, false
}

func cellsEqual(a, b float32) bool {
	if store.IsNull(a) && store.IsNull(b) {
		return true
	}
	return a == b
}

func sortedKeys(m map[uint64]bool) []uint64 {
	out := make([]uint64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
