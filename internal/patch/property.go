// Package patch applies partial updates to entities by property name. It is
// entity-shape-agnostic: each entity type exposes a Table describing its
// patchable properties, and the engine only ever touches an entity through
// that table's accessors.
package patch

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Property value types understood by the coercion step.
const (
	TypeString    = "string"
	TypeInt       = "int"
	TypeBigint    = "bigint"
	TypeDecimal   = "decimal"
	TypeBoolean   = "boolean"
	TypeEnum      = "enum"
	TypeTimestamp = "timestamp"
	TypeUUID      = "uuid"
)

// Property describes one patchable property of a bound entity instance. Get
// and Set close over the instance; the engine never sees the entity itself.
type Property struct {
	Name     string
	Type     string
	ReadOnly bool
	Nullable bool
	Enum     []string
	Rules    []Rule
	Get      func() any
	Set      func(v any)
}

// Table is the ordered patchable-property set of one entity instance. Built
// per request by the entity type; cheap to construct, never cached across
// entities.
type Table struct {
	props map[string]*Property
	order []string
}

func NewTable(props ...Property) *Table {
	t := &Table{props: make(map[string]*Property, len(props))}
	for i := range props {
		p := props[i]
		t.props[p.Name] = &p
		t.order = append(t.order, p.Name)
	}
	return t
}

// Lookup returns the property with the given name, or nil.
func (t *Table) Lookup(name string) *Property {
	return t.props[name]
}

// Names returns the property names in declaration order.
func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}

// Rule is a compiled validation expression evaluated against a coerced value
// before it is assigned. The environment exposes "value" (the candidate) and
// "old" (the entity's current value).
type Rule struct {
	Message string
	program *vm.Program
}

// NewRule compiles an expression into a rule. The expression must evaluate to
// a boolean; false rejects the property with the given message.
func NewRule(expression, message string) (Rule, error) {
	program, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return Rule{}, fmt.Errorf("compile rule %q: %w", expression, err)
	}
	return Rule{Message: message, program: program}, nil
}

// MustRule is NewRule for statically known expressions.
func MustRule(expression, message string) Rule {
	r, err := NewRule(expression, message)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rule) check(value, old any) (bool, error) {
	out, err := expr.Run(r.program, map[string]any{
		"value": value,
		"old":   old,
	})
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}
