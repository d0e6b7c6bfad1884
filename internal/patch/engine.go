package patch

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNoChangesApplied is returned when no property in the request could be
// applied. The caller must not persist the entity.
var ErrNoChangesApplied = errors.New("patch: no changes applied")

// Rejection reasons reported per property.
const (
	ReasonUnknown      = "unknown property"
	ReasonNotPatchable = "not patchable"
	ReasonTypeMismatch = "type mismatch"
)

// Change is one (property, rawValue) pair. The raw value is untyped until the
// engine coerces it to the property's declared type.
type Change struct {
	Property string
	Value    any
}

// Result is the per-property outcome. Applied results carry the old and new
// values; rejected results carry the reason.
type Result struct {
	Property string `json:"property"`
	Applied  bool   `json:"applied"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Outcome reports what happened to each property of one request. A later
// applied pair for the same property overwrites the earlier result
// (last-write-wins); a later rejected pair does not, since the earlier
// applied mutation stands on the entity and must stay reported.
type Outcome struct {
	order   []string
	results map[string]*Result
}

// Results returns per-property results in first-seen property order.
func (o *Outcome) Results() []Result {
	out := make([]Result, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, *o.results[name])
	}
	return out
}

// Result returns the outcome for one property, or nil if the request never
// named it.
func (o *Outcome) Result(property string) *Result {
	return o.results[property]
}

// AppliedCount returns the number of properties whose final result is Applied.
func (o *Outcome) AppliedCount() int {
	n := 0
	for _, r := range o.results {
		if r.Applied {
			n++
		}
	}
	return n
}

func (o *Outcome) record(r *Result) {
	prev, seen := o.results[r.Property]
	if !seen {
		o.order = append(o.order, r.Property)
		o.results[r.Property] = r
		return
	}
	// The entity still holds the earlier applied value, so a rejection of a
	// repeated pair must not erase that from the outcome.
	if prev.Applied && !r.Applied {
		return
	}
	o.results[r.Property] = r
}

// Apply processes the changes in caller order against the entity behind the
// table. Unknown, read-only, and uncoercible properties are rejected without
// aborting the rest of the request; valid properties are assigned in place.
// When nothing applies, the outcome is returned together with
// ErrNoChangesApplied and the entity is unchanged.
func Apply(table *Table, changes []Change) (*Outcome, error) {
	outcome := &Outcome{results: make(map[string]*Result)}

	// Original values per property, captured before the first assignment so
	// repeated pairs report old values from entity state, not intermediates.
	originals := make(map[string]any)

	for _, change := range changes {
		prop := table.Lookup(change.Property)
		if prop == nil {
			outcome.record(&Result{Property: change.Property, Reason: ReasonUnknown})
			continue
		}
		if prop.ReadOnly {
			outcome.record(&Result{Property: change.Property, Reason: ReasonNotPatchable})
			continue
		}

		value, err := coerce(prop, change.Value)
		if err != nil {
			outcome.record(&Result{Property: change.Property, Reason: ReasonTypeMismatch})
			continue
		}

		old, captured := originals[prop.Name]
		if !captured {
			old = prop.Get()
			originals[prop.Name] = old
		}

		if reason, rejected := checkRules(prop, value, old); rejected {
			outcome.record(&Result{Property: change.Property, Reason: reason})
			continue
		}

		prop.Set(value)
		outcome.record(&Result{
			Property: change.Property,
			Applied:  true,
			OldValue: old,
			NewValue: value,
		})
	}

	if outcome.AppliedCount() == 0 {
		return outcome, ErrNoChangesApplied
	}
	return outcome, nil
}

func checkRules(prop *Property, value, old any) (string, bool) {
	if value == nil {
		return "", false // nullable clears skip value rules
	}
	for _, rule := range prop.Rules {
		ok, err := rule.check(value, old)
		if err != nil {
			return rule.Message, true
		}
		if !ok {
			return rule.Message, true
		}
	}
	return "", false
}

// coerce converts a raw JSON-decoded value to the property's declared type.
// String renditions of numbers and booleans are accepted the same way query
// parameters are; anything else is a type mismatch.
func coerce(prop *Property, raw any) (any, error) {
	if raw == nil {
		if prop.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("property %s is not nullable", prop.Name)
	}

	switch prop.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string")
		}
		return s, nil

	case TypeInt:
		n, err := coerceInt64(raw)
		if err != nil {
			return nil, err
		}
		if n > math.MaxInt32 || n < math.MinInt32 {
			return nil, fmt.Errorf("out of int range")
		}
		return int(n), nil

	case TypeBigint:
		return coerceInt64(raw)

	case TypeDecimal:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case json.Number:
			return v.Float64()
		case string:
			return strconv.ParseFloat(v, 64)
		default:
			return nil, fmt.Errorf("expected number")
		}

	case TypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		default:
			return nil, fmt.Errorf("expected boolean")
		}

	case TypeEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string")
		}
		for _, allowed := range prop.Enum {
			if s == allowed {
				return s, nil
			}
		}
		return nil, fmt.Errorf("value %q not in enum {%s}", s, strings.Join(prop.Enum, ", "))

	case TypeTimestamp:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected timestamp string")
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q", s)
		}
		return t, nil

	case TypeUUID:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected uuid string")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid %q", s)
		}
		return id, nil

	default:
		return nil, fmt.Errorf("unsupported property type %q", prop.Type)
	}
}

func coerceInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("expected integer, got fraction")
		}
		return int64(v), nil
	case json.Number:
		// Int64 keeps full precision for values a float64 round-trip would
		// corrupt; exponent forms fall back to the float path.
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("expected integer, got fraction")
		}
		return int64(f), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("expected integer")
	}
}
