package grants

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Predicate maps context fields to constraints. All listed fields must match
// (logical AND); a field named here but absent from the context fails the
// predicate, never errors.
type Predicate map[string]Constraint

// Constraint restricts a single context field. Exactly one of the three
// forms is set: exact equality, inclusive numeric bounds, or set membership.
type Constraint struct {
	Eq  any
	Min *float64
	Max *float64
	In  []any
}

// Matches evaluates the predicate against a caller-supplied context.
func (p Predicate) Matches(context map[string]any) bool {
	for field, constraint := range p {
		value, ok := context[field]
		if !ok {
			return false
		}
		if !constraint.matches(value) {
			return false
		}
	}
	return true
}

func (c Constraint) matches(value any) bool {
	if c.Min != nil || c.Max != nil {
		n, ok := toFloat(value)
		if !ok {
			return false
		}
		if c.Min != nil && n < *c.Min {
			return false
		}
		if c.Max != nil && n > *c.Max {
			return false
		}
		return true
	}
	if c.In != nil {
		for _, candidate := range c.In {
			if equalValues(candidate, value) {
				return true
			}
		}
		return false
	}
	return equalValues(c.Eq, value)
}

// equalValues compares loosely across numeric representations, since JSON
// decoding yields float64 while callers may pass ints.
func equalValues(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// constraintJSON is the wire form of a bounded or membership constraint.
type constraintJSON struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
	In  []any    `json:"in,omitempty"`
}

// MarshalJSON renders equality constraints as bare scalars and the other
// forms as objects, matching the persisted jsonb layout.
func (c Constraint) MarshalJSON() ([]byte, error) {
	if c.Min != nil || c.Max != nil || c.In != nil {
		return json.Marshal(constraintJSON{Min: c.Min, Max: c.Max, In: c.In})
	}
	return json.Marshal(c.Eq)
}

// UnmarshalJSON accepts either a bare scalar (equality) or an object with
// min/max/in keys.
func (c *Constraint) UnmarshalJSON(data []byte) error {
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	obj, ok := probe.(map[string]any)
	if !ok {
		c.Eq = probe
		return nil
	}
	for key := range obj {
		if key != "min" && key != "max" && key != "in" {
			return fmt.Errorf("grants: unsupported constraint key %q", key)
		}
	}
	var wire constraintJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Min == nil && wire.Max == nil && wire.In == nil {
		return fmt.Errorf("grants: empty constraint object")
	}
	c.Min = wire.Min
	c.Max = wire.Max
	c.In = wire.In
	return nil
}
