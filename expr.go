package arbiter

import "regexp"

// kind discriminates the closed set of expression variants. Trees are built
// exclusively through the operator library, which guarantees every node's
// shape; the interpreters treat any other kind as corruption.
type kind int

const (
	kindInvalid kind = iota
	kindLiteral
	kindCompare
	kindIn
	kindNull
	kindPattern
	kindBetween
	kindMatches
	kindRelated
	kindTenant
	kindNot
	kindAnd
	kindOr
	kindFunc
)

// CompareOp identifies a comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNotEq
	OpGt
	OpLt
	OpGte
	OpLte
)

// String returns the SQL spelling of the operator.
func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNotEq:
		return "<>"
	case OpGt:
		return ">"
	case OpLt:
		return "<"
	case OpGte:
		return ">="
	case OpLte:
		return "<="
	}
	return "?"
}

// ordered reports whether the operator is an ordering comparison, which
// collapses to false when either operand is null.
func (op CompareOp) ordered() bool {
	switch op {
	case OpGt, OpLt, OpGte, OpLte:
		return true
	}
	return false
}

// PatternOp identifies a string pattern operator.
type PatternOp int

const (
	PatternPrefix PatternOp = iota
	PatternSuffix
	PatternSubstring
)

// String names the pattern operator.
func (op PatternOp) String() string {
	switch op {
	case PatternPrefix:
		return "startsWith"
	case PatternSuffix:
		return "endsWith"
	case PatternSubstring:
		return "contains"
	}
	return "?"
}

// operand discriminates the three legal value positions: a subject column
// reference, a bound actor value, or a primitive.
type operandKind int

const (
	// The zero operand is invalid so unset operand fields on a node are
	// never mistaken for a column reference.
	operandInvalid operandKind = iota
	operandColumn
	operandActor
	operandPrimitive
)

type operand struct {
	kind operandKind
	col  ColumnRef
	val  any // captured actor value or primitive
}

// Expr is one node of an authorization rule: a comparison, a logical
// combinator, a literal, a cross-table cardinality test, a tenant guard, or
// an escape-hatch function.
//
// Expr values are immutable; interpreters only walk them. A malformed
// construction (bad path, bad operand, bad regex) poisons the node with the
// construction error, which both interpreters surface on first use.
type Expr struct {
	kind kind
	err  error

	value bool // literal

	op    CompareOp // compare
	left  ColumnRef // compare, in, null, pattern, between, matches, tenant
	right operand   // compare

	values []any // in

	negated bool // null: IS NOT NULL when set

	pat  PatternOp // pattern
	text string    // pattern

	lo, hi operand // between

	pattern string         // matches
	flags   string         // matches
	re      *regexp.Regexp // matches, compiled at construction

	table    string // related
	pred     *Expr  // related predicate, not operand
	minCount int    // related

	tenant operand // tenant: bound actor value, unset for TenantScoped
	byName bool    // tenant: resolve actor field by column name

	rules []Expr // and, or

	fn RuleFunc // func
}

func (Expr) rule() {}

// Err returns the construction error carried by a poisoned expression, or
// nil for a well-formed one. Both Evaluate and Compile return this error
// when handed a poisoned tree, so checking it eagerly is optional.
func (e Expr) Err() error {
	if e.err != nil {
		return e.err
	}
	for i := range e.rules {
		if err := e.rules[i].Err(); err != nil {
			return err
		}
	}
	if e.pred != nil {
		if err := e.pred.Err(); err != nil {
			return err
		}
	}
	return nil
}

// poisoned builds an invalid expression carrying a construction error.
func poisoned(err error) Expr {
	return Expr{kind: kindInvalid, err: err}
}
