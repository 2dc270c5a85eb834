// Package gamemaster runs operator-supplied Lua inside a container's tick.
// Scripts observe and mutate the simulation through a small host API and a
// per-tick on_tick callback.
package gamemaster

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/matchforge/engine/internal/container"
	"github.com/matchforge/engine/internal/core/store"
)

// Engine wraps a single gopher-lua VM bound to one container. The VM is
// touched only from the container's tick goroutine once Attach has run;
// construction happens before the first tick.
type Engine struct {
	vm  *lua.LState
	c   *container.Container
	log *zap.Logger
}

// Options configure an Engine.
type Options struct {
	// Dir is scanned non-recursively for .lua files. A missing directory
	// loads nothing.
	Dir string
	Log *zap.Logger
}

// Attach creates a Lua engine for the container, loads its scripts, and
// registers the per-tick callback. The caller owns the returned engine and
// must Close it after the container stops.
func Attach(c *container.Container, opts Options) (*Engine, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, c: c, log: opts.Log}
	e.registerHostAPI()

	if opts.Dir != "" {
		if err := e.loadDir(opts.Dir); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load gamemaster scripts: %w", err)
		}
	}

	c.AddTickHook(e.onTick)
	return e, nil
}

// Close shuts the VM down. Call only after the container has stopped.
func (e *Engine) Close() {
	e.vm.Close()
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script",
			zap.String("container", e.c.ID()),
			zap.String("file", path))
	}
	return nil
}

// LoadString runs a script source directly. Used by tests and the REPL-less
// provisioning path where scripts arrive inline.
func (e *Engine) LoadString(src string) error {
	if err := e.vm.DoString(src); err != nil {
		return fmt.Errorf("load inline script: %w", err)
	}
	return nil
}

// onTick calls the Lua on_tick(ctx) callback if the scripts defined one.
func (e *Engine) onTick(tick uint64) error {
	fn := e.vm.GetGlobal("on_tick")
	if fn == lua.LNil {
		return nil
	}

	ctx := e.vm.NewTable()
	ctx.RawSetString("tick", lua.LNumber(tick))
	matches := e.vm.NewTable()
	for i, m := range e.c.Matches() {
		mt := e.vm.NewTable()
		mt.RawSetString("id", lua.LNumber(m.ID))
		mt.RawSetString("name", lua.LString(m.Name))
		matches.RawSetInt(i+1, mt)
	}
	ctx.RawSetString("matches", matches)

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, ctx); err != nil {
		return fmt.Errorf("lua on_tick: %w", err)
	}
	return nil
}

// registerHostAPI exposes the game table to scripts:
//
//	game.get(entity, name)        -> number or nil
//	game.set(entity, name, v)     -> sets a component; nil detaches
//	game.has(entity, name)        -> bool
//	game.entities(name, ...)      -> array of entity ids
//	game.spawn(match)             -> new entity id
//	game.destroy(entity)
//	game.log(msg)
//
// Component names resolve through the container's registry; unknown names
// raise a Lua error so the script fails loudly instead of writing nowhere.
func (e *Engine) registerHostAPI() {
	t := e.vm.NewTable()
	t.RawSetString("get", e.vm.NewFunction(e.luaGet))
	t.RawSetString("set", e.vm.NewFunction(e.luaSet))
	t.RawSetString("has", e.vm.NewFunction(e.luaHas))
	t.RawSetString("entities", e.vm.NewFunction(e.luaEntities))
	t.RawSetString("spawn", e.vm.NewFunction(e.luaSpawn))
	t.RawSetString("destroy", e.vm.NewFunction(e.luaDestroy))
	t.RawSetString("log", e.vm.NewFunction(e.luaLog))
	e.vm.SetGlobal("game", t)
}

func (e *Engine) component(L *lua.LState, idx int) store.Component {
	name := L.CheckString(idx)
	comp, ok := e.c.Registry().ComponentByName(name)
	if !ok {
		L.RaiseError("unknown component %q", name)
	}
	return comp
}

func (e *Engine) luaGet(L *lua.LState) int {
	entity := uint64(L.CheckNumber(1))
	comp := e.component(L, 2)
	v := e.c.Store().Value(entity, comp)
	if store.IsNull(v) {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(v))
	return 1
}

func (e *Engine) luaSet(L *lua.LState) int {
	entity := uint64(L.CheckNumber(1))
	comp := e.component(L, 2)
	if L.Get(3) == lua.LNil {
		e.c.Store().Detach(entity, comp)
		return 0
	}
	v := float32(L.CheckNumber(3))
	if err := e.c.Store().Attach(entity, comp, v); err != nil {
		L.RaiseError("set %s on entity %d: %v", comp.Name, entity, err)
	}
	return 0
}

func (e *Engine) luaHas(L *lua.LState) int {
	entity := uint64(L.CheckNumber(1))
	comp := e.component(L, 2)
	L.Push(lua.LBool(e.c.Store().Has(entity, comp)))
	return 1
}

func (e *Engine) luaEntities(L *lua.LState) int {
	n := L.GetTop()
	comps := make([]store.Component, 0, n)
	for i := 1; i <= n; i++ {
		comps = append(comps, e.component(L, i))
	}
	out := L.NewTable()
	for i, id := range e.c.Store().EntitiesWith(comps...) {
		out.RawSetInt(i+1, lua.LNumber(id))
	}
	L.Push(out)
	return 1
}

func (e *Engine) luaSpawn(L *lua.LState) int {
	match := uint64(L.CheckNumber(1))
	id, err := e.c.CreateEntityForMatch(match)
	if err != nil {
		L.RaiseError("spawn in match %d: %v", match, err)
	}
	L.Push(lua.LNumber(id))
	return 1
}

func (e *Engine) luaDestroy(L *lua.LState) int {
	entity := uint64(L.CheckNumber(1))
	if err := e.c.Store().DestroyEntity(entity); err != nil {
		L.RaiseError("destroy entity %d: %v", entity, err)
	}
	return 0
}

func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info("gamemaster",
		zap.String("container", e.c.ID()),
		zap.String("msg", L.CheckString(1)))
	return 0
}
