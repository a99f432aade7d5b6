package arbiter

import (
	"fmt"
	"regexp"
	"strings"
)

// The operator library is the only sanctioned way to build expression
// nodes. Every constructor normalizes its arguments to concrete references
// or primitives on entry and returns a poisoned node on malformed input, so
// shape errors surface on first use instead of mid-walk.

// Literal is a constant rule: always-allow or always-deny.
func Literal(v bool) Expr {
	return Expr{kind: kindLiteral, value: v}
}

// Eq compares a subject column for equality against a column, a bound
// actor value, or a primitive.
func Eq(path ColumnRef, value any) Expr {
	return compare(OpEq, path, value)
}

// NotEq compares a subject column for inequality.
func NotEq(path ColumnRef, value any) Expr {
	return compare(OpNotEq, path, value)
}

// Gt compares a subject column with greater-than.
func Gt(path ColumnRef, value any) Expr {
	return compare(OpGt, path, value)
}

// Lt compares a subject column with less-than.
func Lt(path ColumnRef, value any) Expr {
	return compare(OpLt, path, value)
}

// Gte compares a subject column with greater-than-or-equal.
func Gte(path ColumnRef, value any) Expr {
	return compare(OpGte, path, value)
}

// Lte compares a subject column with less-than-or-equal.
func Lte(path ColumnRef, value any) Expr {
	return compare(OpLte, path, value)
}

func compare(op CompareOp, path ColumnRef, value any) Expr {
	if err := checkRef(path); err != nil {
		return poisoned(err)
	}
	right, err := toOperand(value)
	if err != nil {
		return poisoned(err)
	}
	return Expr{kind: kindCompare, op: op, left: path, right: right}
}

// In tests membership of a subject column in a list of primitives. An
// empty list is legal and always false.
func In(path ColumnRef, values ...any) Expr {
	if err := checkRef(path); err != nil {
		return poisoned(err)
	}
	prims := make([]any, len(values))
	for i, v := range values {
		p, err := toPrimitive(v)
		if err != nil {
			return poisoned(err)
		}
		prims[i] = p
	}
	return Expr{kind: kindIn, left: path, values: prims}
}

// IsNull tests a subject column for null/absence.
func IsNull(path ColumnRef) Expr {
	if err := checkRef(path); err != nil {
		return poisoned(err)
	}
	return Expr{kind: kindNull, left: path}
}

// IsNotNull tests a subject column for presence.
func IsNotNull(path ColumnRef) Expr {
	if err := checkRef(path); err != nil {
		return poisoned(err)
	}
	return Expr{kind: kindNull, left: path, negated: true}
}

// StartsWith tests a string column for a prefix.
func StartsWith(path ColumnRef, text string) Expr {
	return pattern(PatternPrefix, path, text)
}

// EndsWith tests a string column for a suffix.
func EndsWith(path ColumnRef, text string) Expr {
	return pattern(PatternSuffix, path, text)
}

// Contains tests a string column for a substring.
func Contains(path ColumnRef, text string) Expr {
	return pattern(PatternSubstring, path, text)
}

func pattern(op PatternOp, path ColumnRef, text string) Expr {
	if err := checkRef(path); err != nil {
		return poisoned(err)
	}
	return Expr{kind: kindPattern, pat: op, left: path, text: text}
}

// Between tests a subject column against an inclusive range. Each bound may
// be a column, a bound actor value, or a primitive.
func Between(path ColumnRef, min, max any) Expr {
	if err := checkRef(path); err != nil {
		return poisoned(err)
	}
	lo, err := toOperand(min)
	if err != nil {
		return poisoned(err)
	}
	hi, err := toOperand(max)
	if err != nil {
		return poisoned(err)
	}
	return Expr{kind: kindBetween, left: path, lo: lo, hi: hi}
}

// Matches tests a string column against a regular expression.
//
// The evaluator applies the pattern with Go regexp semantics. The compiler
// hands the pattern to the dialect, which performs a best-effort, lossy
// translation to the backend's pattern operator; see the dialect package
// for the exact limitations.
func Matches(path ColumnRef, pattern string) Expr {
	return MatchesFlags(path, pattern, "")
}

// MatchesFlags is Matches with regex flags. Supported flags are "i"
// (case-insensitive), "m" (multi-line anchors), and "s" (dot matches
// newline); any other flag is a construction error.
func MatchesFlags(path ColumnRef, pattern, flags string) Expr {
	if err := checkRef(path); err != nil {
		return poisoned(err)
	}
	re, err := compileRegexp(pattern, flags)
	if err != nil {
		return poisoned(err)
	}
	return Expr{kind: kindMatches, left: path, pattern: pattern, flags: flags, re: re}
}

func compileRegexp(pattern, flags string) (*regexp.Regexp, error) {
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			inline.WriteRune(f)
		default:
			return nil, fmt.Errorf("%w: unsupported regex flag %q", ErrInvalidOperand, string(f))
		}
	}
	p := pattern
	if inline.Len() > 0 {
		p = "(?" + inline.String() + ")" + p
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pattern %q: %v", ErrInvalidOperand, pattern, err)
	}
	return re, nil
}

// Exists tests that at least one row of the related table satisfies the
// predicate. The predicate builder receives a Scope for the related table;
// references captured through it resolve against each candidate row, while
// references built from Table resolve against the outer subject.
func Exists(table TableRef, pred func(Scope) Expr) Expr {
	return related(table, pred, 1)
}

// Count tests that at least min rows of the related table satisfy the
// predicate. A min of zero is legal and always true.
func Count(table TableRef, pred func(Scope) Expr, min int) Expr {
	return related(table, pred, min)
}

// HasMany tests that at least two rows of the related table satisfy the
// predicate. Use Count for a different threshold.
func HasMany(table TableRef, pred func(Scope) Expr) Expr {
	return related(table, pred, 2)
}

func related(table TableRef, pred func(Scope) Expr, min int) Expr {
	if table.err != nil {
		return poisoned(table.err)
	}
	if pred == nil {
		return poisoned(fmt.Errorf("%w: nil predicate for related table %q", ErrInvalidOperand, table.name))
	}
	if min < 0 {
		return poisoned(fmt.Errorf("%w: negative row count %d for related table %q", ErrInvalidOperand, min, table.name))
	}
	p := pred(Scope{table: table.name})
	if err := p.Err(); err != nil {
		return poisoned(err)
	}
	return Expr{kind: kindRelated, table: table.name, pred: &p, minCount: min}
}

// TenantScoped compares a subject column against the actor field of the
// same name, resolved under actor["user"] first and then at the top level.
// A missing actor field is a configuration error, not a silent deny.
func TenantScoped(path ColumnRef) Expr {
	if err := checkRef(path); err != nil {
		return poisoned(err)
	}
	return Expr{kind: kindTenant, left: path, byName: true}
}

// BelongsToTenant compares a subject column against a captured actor
// value. A nil captured value is treated as a missing actor field and is a
// configuration error.
func BelongsToTenant(actor ActorValue, path ColumnRef) Expr {
	if err := checkRef(path); err != nil {
		return poisoned(err)
	}
	return Expr{kind: kindTenant, left: path, tenant: operand{kind: operandActor, val: actor.value}}
}

// Not negates a rule.
func Not(e Expr) Expr {
	if err := e.Err(); err != nil {
		return poisoned(err)
	}
	return Expr{kind: kindNot, rules: []Expr{e}}
}

// And combines rules conjunctively. And() with no rules is always true.
func And(rules ...Expr) Expr {
	return combine(kindAnd, rules)
}

// Or combines rules disjunctively. Or() with no rules is always false.
func Or(rules ...Expr) Expr {
	return combine(kindOr, rules)
}

func combine(k kind, rules []Expr) Expr {
	for i := range rules {
		if err := rules[i].Err(); err != nil {
			return poisoned(err)
		}
	}
	return Expr{kind: k, rules: append([]Expr(nil), rules...)}
}

// Func lifts an escape-hatch function into an expression node, letting it
// participate in And/Or/Not and policy composition. See RuleFunc for the
// authoring contract.
func Func(fn RuleFunc) Expr {
	if fn == nil {
		return poisoned(fmt.Errorf("%w: nil rule function", ErrInvalidOperand))
	}
	return Expr{kind: kindFunc, fn: fn}
}

// checkRef validates a left-position subject reference.
func checkRef(path ColumnRef) error {
	if path.err != nil {
		return path.err
	}
	if path.table == "" || path.column == "" {
		return fmt.Errorf("%w: incomplete column reference %q", ErrPathResolution, path.String())
	}
	return nil
}
