package module

import (
	"testing"

	"github.com/matchforge/engine/internal/core/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	s, err := store.New(store.Options{MaxEntities: 16, MaxComponents: 32})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return NewRegistry(s), s
}

func testModule(name string) *Module {
	flag := store.NewComponent(name + "_FLAG")
	return &Module{
		Name:       name,
		Version:    "1.0",
		Flag:       flag,
		Components: []store.Component{flag, store.NewComponent(name + "_VALUE")},
	}
}

func TestRegisterDeclaresColumns(t *testing.T) {
	r, s := newTestRegistry(t)
	m := testModule("alpha")
	if err := r.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Reserved columns plus the module's two.
	if n := s.ComponentCount(); n != 5 {
		t.Fatalf("expected 5 declared components, got %d", n)
	}
	if _, ok := r.ComponentByName("alpha_VALUE"); !ok {
		t.Fatal("expected component to resolve by name")
	}
	if _, ok := r.ComponentByName("MATCH_ID"); !ok {
		t.Fatal("expected reserved components to resolve by name")
	}
}

func TestRegisterAppendsMissingFlag(t *testing.T) {
	r, _ := newTestRegistry(t)
	flag := store.NewComponent("beta_FLAG")
	m := &Module{Name: "beta", Flag: flag, Components: []store.Component{store.NewComponent("beta_X")}}
	if err := r.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	found := false
	for _, c := range m.Components {
		if c.ID == flag.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected flag to be appended to the column set")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Register(testModule("gamma")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(testModule("gamma")); err == nil {
		t.Fatal("expected duplicate module name to fail")
	}

	cmd := CommandFunc{CommandName: "noop", CommandSchema: Schema{}, Fn: func(Payload, *Env) error { return nil }}
	a := testModule("delta")
	a.Commands = []Command{cmd}
	b := testModule("epsilon")
	b.Commands = []Command{cmd}
	if err := r.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(b); err == nil {
		t.Fatal("expected duplicate command name to fail")
	}
}

func TestRegisterComponentNameClash(t *testing.T) {
	r, _ := newTestRegistry(t)
	a := &Module{Name: "a", Flag: store.NewComponent("SHARED")}
	if err := r.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	b := &Module{Name: "b", Flag: store.NewComponent("SHARED")}
	if err := r.Register(b); err == nil {
		t.Fatal("expected same name with a different id to fail")
	}
}

func TestRegistrationOrderIsRunOrder(t *testing.T) {
	r, _ := newTestRegistry(t)
	names := []string{"one", "two", "three"}
	for _, n := range names {
		if err := r.Register(testModule(n)); err != nil {
			t.Fatalf("Register %s: %v", n, err)
		}
	}
	mods := r.Modules()
	if len(mods) != 3 {
		t.Fatalf("expected 3 modules, got %d", len(mods))
	}
	for i, n := range names {
		if mods[i].Name != n {
			t.Fatalf("expected %s at position %d, got %s", n, i, mods[i].Name)
		}
	}
}

func TestListeners(t *testing.T) {
	r, _ := newTestRegistry(t)
	var seen []string
	id := r.Subscribe(func(m *Module) { seen = append(seen, m.Name) })
	if err := r.Register(testModule("first")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Unsubscribe(id)
	if err := r.Register(testModule("second")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(seen) != 1 || seen[0] != "first" {
		t.Fatalf("expected only the first registration to notify, got %v", seen)
	}
}

func TestCommandLookup(t *testing.T) {
	r, _ := newTestRegistry(t)
	ran := false
	m := testModule("zeta")
	m.Commands = []Command{CommandFunc{
		CommandName:   "poke",
		CommandSchema: Schema{"entity": FieldLong},
		Fn:            func(Payload, *Env) error { ran = true; return nil },
	}}
	if err := r.Register(m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	cmd, ok := r.Command("poke")
	if !ok {
		t.Fatal("expected command to resolve")
	}
	if err := cmd.Execute(Payload{}, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !ran {
		t.Fatal("expected command to run")
	}
}
