package arbiter

import (
	"fmt"
	"sort"
)

// Column is an opaque backend column handle: whatever the persistence
// layer's query builder exposes for one column. The engine never inspects
// it; it only passes handles to the Dialect.
type Column any

// Predicate is an opaque backend filter produced by Compile, merged by the
// caller into its own query construction.
type Predicate any

// TableMapping declares which tables and columns a compiled predicate may
// reference, and supplies the backend handle for each column. It is the
// sole authority: a rule referencing anything outside the mapping fails
// compilation with ErrUndeclaredTable or ErrUndeclaredColumn.
//
// Mappings are built per call site and never cached by the engine.
type TableMapping map[string]map[string]Column

// Dialect turns the engine's node-by-node walk into backend predicates.
// Implementations live next to their query builder (pkg/sqlfilter,
// pkg/bobfilter); the engine core has no backend knowledge of its own.
//
// Empty-combinator identities carry over: All(nil) must produce an
// always-true predicate and Any(nil) an always-false one, matching the
// evaluator's And()/Or() semantics.
type Dialect interface {
	// Literal produces an always-true or always-false predicate.
	Literal(allow bool) (Predicate, error)

	// CompareValue compares a column against a bound value. The value is
	// a parameter, never interpolated as text.
	CompareValue(op CompareOp, col Column, value any) (Predicate, error)

	// CompareColumns compares two columns.
	CompareColumns(op CompareOp, left, right Column) (Predicate, error)

	// In tests membership in a bound value list. The engine never calls
	// it with an empty list.
	In(col Column, values []any) (Predicate, error)

	// Null tests for null (or, negated, for non-null).
	Null(col Column, negated bool) (Predicate, error)

	// Pattern tests a string column for a prefix, suffix, or substring.
	// The text is a bound value with pattern metacharacters escaped.
	Pattern(op PatternOp, col Column, text string) (Predicate, error)

	// Regexp tests a string column against a regular expression. The
	// translation to the backend's pattern operator is best-effort and
	// lossy; implementations document what survives.
	Regexp(col Column, pattern, flags string) (Predicate, error)

	// Not negates a predicate.
	Not(p Predicate) (Predicate, error)

	// All conjoins predicates; empty input is always-true.
	All(ps []Predicate) (Predicate, error)

	// Any disjoins predicates; empty input is always-false.
	Any(ps []Predicate) (Predicate, error)

	// Exists wraps a correlated predicate in an existence subquery over
	// the named table.
	Exists(table string, where Predicate) (Predicate, error)

	// CountAtLeast tests that at least min rows of the named table
	// satisfy the correlated predicate. Called only with min >= 2;
	// min 1 goes through Exists.
	CountAtLeast(table string, where Predicate, min int) (Predicate, error)
}

// CompileEnv is the compilation context: the actor whose captured values
// become bound parameters, the declared table mapping, an optional extra
// mapping for related tables, and the backend dialect.
type CompileEnv struct {
	Actor   Actor
	Tables  TableMapping
	Related TableMapping
	Dialect Dialect
}

// Compile walks a rule and emits a backend filter predicate equivalent to
// what Evaluate would decide per row. It mirrors the evaluator node by
// node, but resolves subject references against the declared mapping
// instead of row data, and runs escape-hatch functions once, at compile
// time, with the actor only.
//
// Rule functions must not depend on subject data; there is no row at
// compile time, and a function that implicitly reads per-row state would
// fold the wrong answer into the predicate. This is an authoring contract
// the compiler cannot check.
func Compile(rule Rule, env CompileEnv) (Predicate, error) {
	if env.Dialect == nil {
		return nil, fmt.Errorf("arbiter: compile requires a dialect")
	}
	return compileRule(rule, env, nil, 0)
}

func compileRule(rule Rule, env CompileEnv, scopes []string, depth int) (Predicate, error) {
	switch r := rule.(type) {
	case Expr:
		return compileExpr(r, env, scopes, depth)
	case RuleFunc:
		return compileFunc(r, env, scopes, depth)
	case nil:
		return nil, fmt.Errorf("%w: nil rule", ErrUnknownExpressionKind)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownExpressionKind, rule)
	}
}

func compileFunc(fn RuleFunc, env CompileEnv, scopes []string, depth int) (Predicate, error) {
	if depth >= maxRuleDepth {
		return nil, ErrRuleDepthExceeded
	}
	v := fn(env.Actor)
	if v.final {
		return env.Dialect.Literal(v.allowed)
	}
	return compileExpr(v.expr, env, scopes, depth+1)
}

func compileExpr(e Expr, env CompileEnv, scopes []string, depth int) (Predicate, error) {
	if e.err != nil {
		return nil, e.err
	}
	d := env.Dialect

	switch e.kind {
	case kindLiteral:
		return d.Literal(e.value)

	case kindCompare:
		col, err := lookupColumn(e.left, env)
		if err != nil {
			return nil, err
		}
		if e.right.kind == operandColumn {
			right, err := lookupColumn(e.right.col, env)
			if err != nil {
				return nil, err
			}
			return d.CompareColumns(e.op, col, right)
		}
		return d.CompareValue(e.op, col, e.right.val)

	case kindIn:
		col, err := lookupColumn(e.left, env)
		if err != nil {
			return nil, err
		}
		if len(e.values) == 0 {
			return d.Literal(false)
		}
		return d.In(col, e.values)

	case kindNull:
		col, err := lookupColumn(e.left, env)
		if err != nil {
			return nil, err
		}
		return d.Null(col, e.negated)

	case kindPattern:
		col, err := lookupColumn(e.left, env)
		if err != nil {
			return nil, err
		}
		return d.Pattern(e.pat, col, e.text)

	case kindBetween:
		col, err := lookupColumn(e.left, env)
		if err != nil {
			return nil, err
		}
		lo, err := compileBound(d, OpGte, col, e.lo, env)
		if err != nil {
			return nil, err
		}
		hi, err := compileBound(d, OpLte, col, e.hi, env)
		if err != nil {
			return nil, err
		}
		return d.All([]Predicate{lo, hi})

	case kindMatches:
		col, err := lookupColumn(e.left, env)
		if err != nil {
			return nil, err
		}
		return d.Regexp(col, e.pattern, e.flags)

	case kindRelated:
		return compileRelated(e, env, scopes, depth)

	case kindTenant:
		return compileTenant(e, env)

	case kindNot:
		inner, err := compileExpr(e.rules[0], env, scopes, depth)
		if err != nil {
			return nil, err
		}
		return d.Not(inner)

	case kindAnd:
		ps, err := compileList(e.rules, env, scopes, depth)
		if err != nil {
			return nil, err
		}
		return d.All(ps)

	case kindOr:
		ps, err := compileList(e.rules, env, scopes, depth)
		if err != nil {
			return nil, err
		}
		return d.Any(ps)

	case kindFunc:
		return compileFunc(e.fn, env, scopes, depth)
	}

	return nil, fmt.Errorf("%w: kind %d", ErrUnknownExpressionKind, e.kind)
}

func compileList(rules []Expr, env CompileEnv, scopes []string, depth int) ([]Predicate, error) {
	ps := make([]Predicate, len(rules))
	for i := range rules {
		p, err := compileExpr(rules[i], env, scopes, depth)
		if err != nil {
			return nil, err
		}
		ps[i] = p
	}
	return ps, nil
}

func compileBound(d Dialect, op CompareOp, col Column, bound operand, env CompileEnv) (Predicate, error) {
	if bound.kind == operandColumn {
		other, err := lookupColumn(bound.col, env)
		if err != nil {
			return nil, err
		}
		return d.CompareColumns(op, col, other)
	}
	return d.CompareValue(op, col, bound.val)
}

// compileRelated validates correlation, compiles the inner predicate with
// the related mapping in scope, and applies the cardinality test. scopes is
// the stack of related tables enclosing this node, outermost first.
func compileRelated(e Expr, env CompileEnv, scopes []string, depth int) (Predicate, error) {
	if e.minCount == 0 {
		// Zero rows always satisfy the threshold; the evaluator never
		// touches the table here and neither does the predicate.
		return env.Dialect.Literal(true)
	}
	if !referencesOuter(e.pred, e.table, scopes) {
		return nil, fmt.Errorf("%w: predicate on %q references no outer subject path", ErrUncorrelatedSubquery, e.table)
	}
	if _, err := lookupTable(e.table, env, true); err != nil {
		return nil, err
	}
	inner := append(append([]string(nil), scopes...), e.table)
	where, err := compileExpr(*e.pred, env, inner, depth)
	if err != nil {
		return nil, err
	}
	if e.minCount == 1 {
		return env.Dialect.Exists(e.table, where)
	}
	return env.Dialect.CountAtLeast(e.table, where, e.minCount)
}

func compileTenant(e Expr, env CompileEnv) (Predicate, error) {
	var actorValue any
	if e.byName {
		v, ok := env.Actor.Field(e.left.Column())
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingActorField, e.left.Column())
		}
		actorValue = v
	} else {
		if e.tenant.val == nil {
			return nil, fmt.Errorf("%w: bound tenant value for %s is nil", ErrMissingActorField, e.left.String())
		}
		actorValue = e.tenant.val
	}
	col, err := lookupColumn(e.left, env)
	if err != nil {
		return nil, err
	}
	return env.Dialect.CompareValue(OpEq, col, actorValue)
}

// referencesOuter reports whether the predicate for a subquery over the
// inner table touches at least one path resolved outside that table's own
// rows: an outer subject reference, or a scoped reference to one of the
// enclosing related tables. Without one, the subquery answers the same for
// every outer row.
func referencesOuter(e *Expr, inner string, enclosing []string) bool {
	if e == nil {
		return false
	}
	if correlates(e.left, inner, enclosing) {
		return true
	}
	for _, op := range []operand{e.right, e.lo, e.hi} {
		if op.kind == operandColumn && correlates(op.col, inner, enclosing) {
			return true
		}
	}
	for i := range e.rules {
		if referencesOuter(&e.rules[i], inner, enclosing) {
			return true
		}
	}
	// A nested related node re-validates its own predicate when compiled;
	// here its subtree only matters for references beyond the inner table.
	return referencesOuter(e.pred, inner, enclosing)
}

func correlates(ref ColumnRef, inner string, enclosing []string) bool {
	if ref.table == "" {
		return false
	}
	if !ref.scoped {
		return true
	}
	if ref.table == inner {
		return false
	}
	for _, t := range enclosing {
		if ref.table == t {
			return true
		}
	}
	return false
}

// lookupColumn resolves a subject reference to its declared handle. Scoped
// references consult the related mapping first; outer references consult
// the primary mapping first.
func lookupColumn(ref ColumnRef, env CompileEnv) (Column, error) {
	if ref.err != nil {
		return nil, ref.err
	}
	columns, err := lookupTable(ref.table, env, ref.scoped)
	if err != nil {
		return nil, err
	}
	col, ok := columns[ref.column]
	if !ok {
		return nil, fmt.Errorf("%w: %q on table %q (declared: %s)",
			ErrUndeclaredColumn, ref.column, ref.table, keyList(columns))
	}
	return col, nil
}

func lookupTable(table string, env CompileEnv, preferRelated bool) (map[string]Column, error) {
	first, second := env.Tables, env.Related
	if preferRelated {
		first, second = env.Related, env.Tables
	}
	if cols, ok := first[table]; ok {
		return cols, nil
	}
	if cols, ok := second[table]; ok {
		return cols, nil
	}
	return nil, fmt.Errorf("%w: %q (declared: %s)", ErrUndeclaredTable, table, declaredTables(env))
}

func declaredTables(env CompileEnv) string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range []TableMapping{env.Tables, env.Related} {
		for name := range m {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return listOrNone(names)
}

func keyList(columns map[string]Column) string {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return listOrNone(names)
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
