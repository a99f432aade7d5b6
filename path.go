package arbiter

import (
	"fmt"
	"time"
)

// Symbolic path capture. Rule authors never spell a "table.column" string;
// they build references through two-level fluent builders:
//
//	post := arbiter.Table("post")
//	ref := post.Column("ownerId") // ColumnRef{post, ownerId}
//
// The model is exactly table → column. The builder offers no third level,
// and malformed identifiers fail at construction with ErrPathResolution.
// Inside Exists/Count/HasMany predicates a Scope plays the same role for
// the related table, tagging its references as correlated so the compiler
// can tell inner paths from outer ones.

// ColumnRef is a concrete (table, column) subject reference. The zero value
// is invalid; obtain references from Table or Scope.
type ColumnRef struct {
	table  string
	column string
	scoped bool
	err    error
}

// Table returns the referenced table name.
func (c ColumnRef) Table() string { return c.table }

// Column returns the referenced column name.
func (c ColumnRef) Column() string { return c.column }

// Scoped reports whether the reference was captured inside a related-table
// predicate and therefore resolves against the correlated table.
func (c ColumnRef) Scoped() bool { return c.scoped }

// Err returns the capture error for a malformed reference, or nil.
func (c ColumnRef) Err() error { return c.err }

// String returns the canonical "table.column" spelling for diagnostics.
func (c ColumnRef) String() string {
	return c.table + "." + c.column
}

// TableRef is a partially captured subject path: the table is named, the
// column is not. A TableRef is not a legal operand; only the ColumnRef
// produced by Column is.
type TableRef struct {
	name string
	err  error
}

// Table starts a subject path capture for the named table.
func Table(name string) TableRef {
	if err := checkIdent(name); err != nil {
		return TableRef{name: name, err: fmt.Errorf("%w: table %q: %v", ErrPathResolution, name, err)}
	}
	return TableRef{name: name}
}

// Name returns the captured table name.
func (t TableRef) Name() string { return t.name }

// Column completes the capture with a column name.
func (t TableRef) Column(name string) ColumnRef {
	if t.err != nil {
		return ColumnRef{table: t.name, column: name, err: t.err}
	}
	if err := checkIdent(name); err != nil {
		return ColumnRef{
			table:  t.name,
			column: name,
			err:    fmt.Errorf("%w: column %q on table %q: %v", ErrPathResolution, name, t.name, err),
		}
	}
	return ColumnRef{table: t.name, column: name}
}

// Scope captures column references for the related table inside an
// Exists/Count/HasMany predicate. It behaves like TableRef but marks its
// output as correlated.
type Scope struct {
	table string
}

// Column returns a scoped reference to a column on the related table.
func (s Scope) Column(name string) ColumnRef {
	if err := checkIdent(name); err != nil {
		return ColumnRef{
			table:  s.table,
			column: name,
			scoped: true,
			err:    fmt.Errorf("%w: column %q on related table %q: %v", ErrPathResolution, name, s.table, err),
		}
	}
	return ColumnRef{table: s.table, column: name, scoped: true}
}

// ActorValue is a concrete runtime value captured from the actor. It is the
// marker that separates "bound parameter, safe to pass to the backend" from
// "symbolic column reference, must resolve against the mapping".
type ActorValue struct {
	value any
}

// Bind captures a runtime actor value for use in a rule. The value is
// resolved once, at capture time, and never re-derived from the subject.
func Bind(v any) ActorValue {
	return ActorValue{value: v}
}

// Value returns the captured value.
func (a ActorValue) Value() any { return a.value }

// checkIdent validates a captured identifier: non-empty, letters, digits,
// and underscores, not starting with a digit. A dotted name is rejected
// here, which is what keeps capture two levels deep.
func checkIdent(name string) error {
	if name == "" {
		return fmt.Errorf("empty identifier")
	}
	for i, r := range name {
		switch {
		case r == '_',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return fmt.Errorf("identifier starts with a digit")
			}
		default:
			return fmt.Errorf("illegal character %q", r)
		}
	}
	return nil
}

// toOperand normalizes an operator argument into one of the three legal
// operand forms. Anything else, including a bare TableRef or a dotted
// string masquerading as a path, is rejected.
func toOperand(v any) (operand, error) {
	switch x := v.(type) {
	case ColumnRef:
		if x.err != nil {
			return operand{}, x.err
		}
		if x.table == "" || x.column == "" {
			return operand{}, fmt.Errorf("%w: incomplete column reference %q", ErrPathResolution, x.String())
		}
		return operand{kind: operandColumn, col: x}, nil
	case TableRef:
		return operand{}, fmt.Errorf("%w: table %q used without a column", ErrPathResolution, x.name)
	case Scope:
		return operand{}, fmt.Errorf("%w: related-table scope used without a column", ErrPathResolution)
	case ActorValue:
		return operand{kind: operandActor, val: x.value}, nil
	case nil:
		return operand{kind: operandPrimitive, val: nil}, nil
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, time.Time:
		return operand{kind: operandPrimitive, val: x}, nil
	default:
		return operand{}, fmt.Errorf("%w: unsupported operand type %T", ErrInvalidOperand, v)
	}
}

// toPrimitive normalizes a value for a primitive-only position (In lists).
func toPrimitive(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, time.Time:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unsupported primitive type %T", ErrInvalidOperand, v)
	}
}
