package module

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPayload marks schema validation failures. Payloads are rejected
// before any store mutation.
var ErrInvalidPayload = errors.New("invalid payload")

// FieldType is the scalar type a schema expects for one payload field.
type FieldType uint8

const (
	FieldLong FieldType = iota + 1
	FieldFloat
	FieldBool
	FieldString
)

func (t FieldType) String() string {
	switch t {
	case FieldLong:
		return "long"
	case FieldFloat:
		return "float"
	case FieldBool:
		return "bool"
	case FieldString:
		return "string"
	default:
		return "unknown"
	}
}

// Schema maps payload field names to their expected scalar types.
type Schema map[string]FieldType

// Payload carries loosely typed command arguments, usually decoded from
// JSON. Validate normalizes values in place; the typed accessors assume a
// validated payload.
type Payload map[string]any

// Command mutates the store between ticks. Execute runs on the tick
// goroutine with an already validated payload.
type Command interface {
	Name() string
	Schema() Schema
	Execute(p Payload, env *Env) error
}

// Validate checks p against the schema and normalizes each field: longs to
// int64, floats to float64. Missing, unknown, and mistyped fields fail and
// leave the command unexecuted.
func (s Schema) Validate(p Payload) error {
	for name := range p {
		if _, ok := s[name]; !ok {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidPayload, name)
		}
	}
	for name, ft := range s {
		raw, ok := p[name]
		if !ok {
			return fmt.Errorf("%w: missing field %q (%s)", ErrInvalidPayload, name, ft)
		}
		switch ft {
		case FieldLong:
			v, ok := asLong(raw)
			if !ok {
				return fmt.Errorf("%w: field %q: expected long, got %T", ErrInvalidPayload, name, raw)
			}
			p[name] = v
		case FieldFloat:
			v, ok := asFloat(raw)
			if !ok {
				return fmt.Errorf("%w: field %q: expected float, got %T", ErrInvalidPayload, name, raw)
			}
			p[name] = v
		case FieldBool:
			if _, ok := raw.(bool); !ok {
				return fmt.Errorf("%w: field %q: expected bool, got %T", ErrInvalidPayload, name, raw)
			}
		case FieldString:
			if _, ok := raw.(string); !ok {
				return fmt.Errorf("%w: field %q: expected string, got %T", ErrInvalidPayload, name, raw)
			}
		default:
			return fmt.Errorf("%w: field %q: unsupported type %d", ErrInvalidPayload, name, ft)
		}
	}
	return nil
}

// asLong accepts native integer types and whole JSON numbers.
func asLong(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	case float32:
		f := float64(n)
		if f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Long reads a validated long field.
func (p Payload) Long(name string) int64 {
	v, _ := p[name].(int64)
	return v
}

// Float reads a validated float field as the store's value type.
func (p Payload) Float(name string) float32 {
	v, _ := p[name].(float64)
	return float32(v)
}

// Bool reads a validated bool field.
func (p Payload) Bool(name string) bool {
	v, _ := p[name].(bool)
	return v
}

// String reads a validated string field.
func (p Payload) String(name string) string {
	v, _ := p[name].(string)
	return v
}

// CommandFunc adapts a schema and function to the Command interface.
type CommandFunc struct {
	CommandName   string
	CommandSchema Schema
	Fn            func(p Payload, env *Env) error
}

func (c CommandFunc) Name() string   { return c.CommandName }
func (c CommandFunc) Schema() Schema { return c.CommandSchema }

func (c CommandFunc) Execute(p Payload, env *Env) error {
	return c.Fn(p, env)
}
