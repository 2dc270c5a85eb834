package data

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Archetype is a named bundle of component values used to stamp out
// entities. Component names resolve against the container's registry at
// spawn time; flags conventionally carry the value 1.
type Archetype struct {
	Name       string             `yaml:"name"`
	Components map[string]float32 `yaml:"components"`
}

type archetypeFile struct {
	Archetypes []Archetype `yaml:"archetypes"`
}

// ArchetypeTable holds all spawnable archetypes indexed by name.
type ArchetypeTable struct {
	byName map[string]Archetype
}

// NewArchetypeTable builds a table from in-memory archetypes. Later entries
// with the same name win.
func NewArchetypeTable(archetypes ...Archetype) *ArchetypeTable {
	t := &ArchetypeTable{byName: make(map[string]Archetype, len(archetypes))}
	for _, a := range archetypes {
		t.byName[a.Name] = a
	}
	return t
}

// Get returns the archetype with the given name.
func (t *ArchetypeTable) Get(name string) (Archetype, bool) {
	a, ok := t.byName[name]
	return a, ok
}

// Count returns the number of archetypes in the table.
func (t *ArchetypeTable) Count() int {
	return len(t.byName)
}

// Names returns all archetype names sorted.
func (t *ArchetypeTable) Names() []string {
	out := make([]string, 0, len(t.byName))
	for name := range t.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LoadArchetypeTable loads archetype data from a YAML file.
func LoadArchetypeTable(path string) (*ArchetypeTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archetypes: %w", err)
	}
	var f archetypeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse archetypes: %w", err)
	}
	t := &ArchetypeTable{byName: make(map[string]Archetype, len(f.Archetypes))}
	for _, a := range f.Archetypes {
		if a.Name == "" {
			return nil, fmt.Errorf("parse archetypes: entry without a name")
		}
		t.byName[a.Name] = a
	}
	return t, nil
}
