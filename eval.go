package arbiter

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// maxRuleDepth bounds the function→expression trampoline. Nested rule
// functions expanding into further rule functions stop here with
// ErrRuleDepthExceeded instead of recursing without limit.
const maxRuleDepth = 32

// Evaluate walks a rule against one concrete actor/resource pair and
// returns the boolean decision. It is synchronous, performs no I/O, and
// holds no state between calls.
//
// Null handling mirrors SQL's three-valued logic collapsed to false: when
// either resolved operand of a comparison is null or missing, the
// comparison is false. This includes equality, so that in-process decisions
// agree with compiled predicates executed by the backend. IsNull and
// IsNotNull are the explicit presence tests.
//
// Related-table entries in Resources must be slices of records. A missing
// key or a non-slice value counts as zero rows; a single record is never
// coerced into a one-row sequence.
func Evaluate(rule Rule, env Env) (bool, error) {
	return evalRule(rule, env, nil, 0)
}

// scopeFrame binds one related-table row during Exists/Count/HasMany
// predicate evaluation. Frames stack for nested predicates; scoped
// references resolve against the innermost frame for their table.
type scopeFrame struct {
	table string
	row   map[string]any
}

func evalRule(rule Rule, env Env, scopes []scopeFrame, depth int) (bool, error) {
	switch r := rule.(type) {
	case Expr:
		return evalExpr(r, env, scopes, depth)
	case RuleFunc:
		return evalFunc(r, env, scopes, depth)
	case nil:
		return false, fmt.Errorf("%w: nil rule", ErrUnknownExpressionKind)
	default:
		return false, fmt.Errorf("%w: %T", ErrUnknownExpressionKind, rule)
	}
}

func evalFunc(fn RuleFunc, env Env, scopes []scopeFrame, depth int) (bool, error) {
	if depth >= maxRuleDepth {
		return false, ErrRuleDepthExceeded
	}
	v := fn(env.Actor)
	if v.final {
		return v.allowed, nil
	}
	return evalExpr(v.expr, env, scopes, depth+1)
}

func evalExpr(e Expr, env Env, scopes []scopeFrame, depth int) (bool, error) {
	if e.err != nil {
		return false, e.err
	}

	switch e.kind {
	case kindLiteral:
		return e.value, nil

	case kindCompare:
		left, err := resolveColumn(e.left, env, scopes)
		if err != nil {
			return false, err
		}
		right, err := resolveOperand(e.right, env, scopes)
		if err != nil {
			return false, err
		}
		if left == nil || right == nil {
			return false, nil
		}
		return compareValues(e.op, left, right), nil

	case kindIn:
		left, err := resolveColumn(e.left, env, scopes)
		if err != nil {
			return false, err
		}
		if left == nil || len(e.values) == 0 {
			return false, nil
		}
		for _, v := range e.values {
			if v != nil && equalValues(left, v) {
				return true, nil
			}
		}
		return false, nil

	case kindNull:
		v, err := resolveColumn(e.left, env, scopes)
		if err != nil {
			return false, err
		}
		if e.negated {
			return v != nil, nil
		}
		return v == nil, nil

	case kindPattern:
		v, err := resolveColumn(e.left, env, scopes)
		if err != nil {
			return false, err
		}
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		switch e.pat {
		case PatternPrefix:
			return strings.HasPrefix(s, e.text), nil
		case PatternSuffix:
			return strings.HasSuffix(s, e.text), nil
		case PatternSubstring:
			return strings.Contains(s, e.text), nil
		}
		return false, fmt.Errorf("%w: pattern op %d", ErrUnknownExpressionKind, e.pat)

	case kindBetween:
		left, err := resolveColumn(e.left, env, scopes)
		if err != nil {
			return false, err
		}
		lo, err := resolveOperand(e.lo, env, scopes)
		if err != nil {
			return false, err
		}
		hi, err := resolveOperand(e.hi, env, scopes)
		if err != nil {
			return false, err
		}
		if left == nil || lo == nil || hi == nil {
			return false, nil
		}
		return compareValues(OpGte, left, lo) && compareValues(OpLte, left, hi), nil

	case kindMatches:
		v, err := resolveColumn(e.left, env, scopes)
		if err != nil {
			return false, err
		}
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		return e.re.MatchString(s), nil

	case kindRelated:
		return evalRelated(e, env, scopes, depth)

	case kindTenant:
		return evalTenant(e, env, scopes)

	case kindNot:
		inner, err := evalExpr(e.rules[0], env, scopes, depth)
		if err != nil {
			return false, err
		}
		return !inner, nil

	case kindAnd:
		for i := range e.rules {
			ok, err := evalExpr(e.rules[i], env, scopes, depth)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case kindOr:
		for i := range e.rules {
			ok, err := evalExpr(e.rules[i], env, scopes, depth)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case kindFunc:
		return evalFunc(e.fn, env, scopes, depth)
	}

	return false, fmt.Errorf("%w: kind %d", ErrUnknownExpressionKind, e.kind)
}

// evalRelated filters the related table's rows by the predicate and applies
// the cardinality test. Each matching candidate row is pushed as a scope
// frame so the predicate's scoped references resolve against it while outer
// references keep resolving against the original resources.
func evalRelated(e Expr, env Env, scopes []scopeFrame, depth int) (bool, error) {
	if e.minCount == 0 {
		return true, nil
	}
	rows := rowsOf(env.Resources[e.table])
	matched := 0
	for _, row := range rows {
		frame := scopeFrame{table: e.table, row: row}
		next := make([]scopeFrame, 0, len(scopes)+1)
		next = append(next, scopes...)
		next = append(next, frame)
		ok, err := evalExpr(*e.pred, env, next, depth)
		if err != nil {
			return false, err
		}
		if ok {
			matched++
			if matched >= e.minCount {
				return true, nil
			}
		}
	}
	return false, nil
}

func evalTenant(e Expr, env Env, scopes []scopeFrame) (bool, error) {
	var actorValue any
	if e.byName {
		v, ok := env.Actor.Field(e.left.Column())
		if !ok {
			return false, fmt.Errorf("%w: %q", ErrMissingActorField, e.left.Column())
		}
		actorValue = v
	} else {
		if e.tenant.val == nil {
			return false, fmt.Errorf("%w: bound tenant value for %s is nil", ErrMissingActorField, e.left.String())
		}
		actorValue = e.tenant.val
	}
	subject, err := resolveColumn(e.left, env, scopes)
	if err != nil {
		return false, err
	}
	if subject == nil {
		return false, nil
	}
	return equalValues(subject, actorValue), nil
}

// resolveColumn resolves a subject reference to a row value. Scoped
// references resolve against the innermost frame for their table; outer
// references walk Resources[table][column]. A missing table, record, or
// column resolves to nil, which the comparison operators collapse to false.
func resolveColumn(ref ColumnRef, env Env, scopes []scopeFrame) (any, error) {
	if ref.err != nil {
		return nil, ref.err
	}
	if ref.scoped {
		for i := len(scopes) - 1; i >= 0; i-- {
			if scopes[i].table == ref.table {
				return scopes[i].row[ref.column], nil
			}
		}
		return nil, fmt.Errorf("%w: scoped reference %s used outside its predicate", ErrPathResolution, ref.String())
	}
	record, ok := env.Resources[ref.table].(map[string]any)
	if !ok {
		return nil, nil
	}
	return record[ref.column], nil
}

func resolveOperand(op operand, env Env, scopes []scopeFrame) (any, error) {
	if op.kind == operandColumn {
		return resolveColumn(op.col, env, scopes)
	}
	return op.val, nil
}

// rowsOf normalizes a related-table entry into a row slice. Anything that
// is not a slice of records counts as zero rows.
func rowsOf(v any) []map[string]any {
	switch rows := v.(type) {
	case []map[string]any:
		return rows
	case []any:
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			if m, ok := r.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// compareValues applies a comparison to two non-nil resolved values.
// Equality works across numeric types; ordering works for numbers, strings,
// and times. Incomparable pairs are false for every operator except NotEq,
// which is the negation of equality.
func compareValues(op CompareOp, a, b any) bool {
	switch op {
	case OpEq:
		return equalValues(a, b)
	case OpNotEq:
		return !equalValues(a, b)
	}
	cmp, ok := orderValues(a, b)
	if !ok {
		return false
	}
	switch op {
	case OpGt:
		return cmp > 0
	case OpLt:
		return cmp < 0
	case OpGte:
		return cmp >= 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

func equalValues(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

// orderValues returns -1/0/1 when the pair is orderable.
func orderValues(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
