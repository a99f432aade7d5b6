package arbiter_test

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter"
)

// memDialect compiles rules into in-memory row predicates. It exists so
// tests can execute a compiled predicate against the same resources the
// evaluator sees and assert both interpreters agree, without a database.
// Its semantics deliberately mirror SQL: null operands collapse
// comparisons to false, empty AND is true, empty OR is false.
type memDialect struct{}

type memCol struct {
	table  string
	column string
}

type memScope struct {
	table string
	row   map[string]any
}

// memPred decides one row set. Scopes carry related-table rows during
// subquery execution, innermost last.
type memPred func(env arbiter.Env, scopes []memScope) bool

// memMapping declares tables for the mem dialect.
func memMapping(tables map[string][]string) arbiter.TableMapping {
	m := arbiter.TableMapping{}
	for table, columns := range tables {
		cols := map[string]arbiter.Column{}
		for _, c := range columns {
			cols[c] = memCol{table: table, column: c}
		}
		m[table] = cols
	}
	return m
}

func memResolve(col memCol, env arbiter.Env, scopes []memScope) any {
	for i := len(scopes) - 1; i >= 0; i-- {
		if scopes[i].table == col.table {
			return scopes[i].row[col.column]
		}
	}
	if record, ok := env.Resources[col.table].(map[string]any); ok {
		return record[col.column]
	}
	return nil
}

func memRows(env arbiter.Env, table string) []map[string]any {
	switch rows := env.Resources[table].(type) {
	case []map[string]any:
		return rows
	case []any:
		var out []map[string]any
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

func asMemCol(c arbiter.Column) (memCol, error) {
	col, ok := c.(memCol)
	if !ok {
		return memCol{}, fmt.Errorf("memdialect: foreign column handle %T", c)
	}
	return col, nil
}

func asMemPred(p arbiter.Predicate) (memPred, error) {
	pred, ok := p.(memPred)
	if !ok {
		return nil, fmt.Errorf("memdialect: foreign predicate %T", p)
	}
	return pred, nil
}

func (memDialect) Literal(allow bool) (arbiter.Predicate, error) {
	return memPred(func(arbiter.Env, []memScope) bool { return allow }), nil
}

func (memDialect) CompareValue(op arbiter.CompareOp, col arbiter.Column, value any) (arbiter.Predicate, error) {
	c, err := asMemCol(col)
	if err != nil {
		return nil, err
	}
	return memPred(func(env arbiter.Env, scopes []memScope) bool {
		left := memResolve(c, env, scopes)
		if left == nil || value == nil {
			return false
		}
		return memCompare(op, left, value)
	}), nil
}

func (memDialect) CompareColumns(op arbiter.CompareOp, left, right arbiter.Column) (arbiter.Predicate, error) {
	lc, err := asMemCol(left)
	if err != nil {
		return nil, err
	}
	rc, err := asMemCol(right)
	if err != nil {
		return nil, err
	}
	return memPred(func(env arbiter.Env, scopes []memScope) bool {
		lv := memResolve(lc, env, scopes)
		rv := memResolve(rc, env, scopes)
		if lv == nil || rv == nil {
			return false
		}
		return memCompare(op, lv, rv)
	}), nil
}

func (memDialect) In(col arbiter.Column, values []any) (arbiter.Predicate, error) {
	c, err := asMemCol(col)
	if err != nil {
		return nil, err
	}
	return memPred(func(env arbiter.Env, scopes []memScope) bool {
		left := memResolve(c, env, scopes)
		if left == nil {
			return false
		}
		for _, v := range values {
			if v != nil && memCompare(arbiter.OpEq, left, v) {
				return true
			}
		}
		return false
	}), nil
}

func (memDialect) Null(col arbiter.Column, negated bool) (arbiter.Predicate, error) {
	c, err := asMemCol(col)
	if err != nil {
		return nil, err
	}
	return memPred(func(env arbiter.Env, scopes []memScope) bool {
		isNull := memResolve(c, env, scopes) == nil
		if negated {
			return !isNull
		}
		return isNull
	}), nil
}

func (memDialect) Pattern(op arbiter.PatternOp, col arbiter.Column, text string) (arbiter.Predicate, error) {
	c, err := asMemCol(col)
	if err != nil {
		return nil, err
	}
	return memPred(func(env arbiter.Env, scopes []memScope) bool {
		s, ok := memResolve(c, env, scopes).(string)
		if !ok {
			return false
		}
		switch op {
		case arbiter.PatternPrefix:
			return strings.HasPrefix(s, text)
		case arbiter.PatternSuffix:
			return strings.HasSuffix(s, text)
		default:
			return strings.Contains(s, text)
		}
	}), nil
}

func (memDialect) Regexp(col arbiter.Column, pattern, flags string) (arbiter.Predicate, error) {
	c, err := asMemCol(col)
	if err != nil {
		return nil, err
	}
	p := pattern
	if flags != "" {
		p = "(?" + flags + ")" + p
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	return memPred(func(env arbiter.Env, scopes []memScope) bool {
		s, ok := memResolve(c, env, scopes).(string)
		if !ok {
			return false
		}
		return re.MatchString(s)
	}), nil
}

func (memDialect) Not(p arbiter.Predicate) (arbiter.Predicate, error) {
	inner, err := asMemPred(p)
	if err != nil {
		return nil, err
	}
	return memPred(func(env arbiter.Env, scopes []memScope) bool {
		return !inner(env, scopes)
	}), nil
}

func (memDialect) All(ps []arbiter.Predicate) (arbiter.Predicate, error) {
	preds, err := memPreds(ps)
	if err != nil {
		return nil, err
	}
	return memPred(func(env arbiter.Env, scopes []memScope) bool {
		for _, p := range preds {
			if !p(env, scopes) {
				return false
			}
		}
		return true
	}), nil
}

func (memDialect) Any(ps []arbiter.Predicate) (arbiter.Predicate, error) {
	preds, err := memPreds(ps)
	if err != nil {
		return nil, err
	}
	return memPred(func(env arbiter.Env, scopes []memScope) bool {
		for _, p := range preds {
			if p(env, scopes) {
				return true
			}
		}
		return false
	}), nil
}

func (memDialect) Exists(table string, where arbiter.Predicate) (arbiter.Predicate, error) {
	return memCount(table, where, 1)
}

func (memDialect) CountAtLeast(table string, where arbiter.Predicate, min int) (arbiter.Predicate, error) {
	return memCount(table, where, min)
}

func memCount(table string, where arbiter.Predicate, min int) (arbiter.Predicate, error) {
	inner, err := asMemPred(where)
	if err != nil {
		return nil, err
	}
	return memPred(func(env arbiter.Env, scopes []memScope) bool {
		matched := 0
		for _, row := range memRows(env, table) {
			next := make([]memScope, 0, len(scopes)+1)
			next = append(next, scopes...)
			next = append(next, memScope{table: table, row: row})
			if inner(env, next) {
				matched++
				if matched >= min {
					return true
				}
			}
		}
		return false
	}), nil
}

func memPreds(ps []arbiter.Predicate) ([]memPred, error) {
	out := make([]memPred, len(ps))
	for i, p := range ps {
		pred, err := asMemPred(p)
		if err != nil {
			return nil, err
		}
		out[i] = pred
	}
	return out, nil
}

func memCompare(op arbiter.CompareOp, a, b any) bool {
	switch op {
	case arbiter.OpEq:
		return memEqual(a, b)
	case arbiter.OpNotEq:
		return !memEqual(a, b)
	}
	cmp, ok := memOrder(a, b)
	if !ok {
		return false
	}
	switch op {
	case arbiter.OpGt:
		return cmp > 0
	case arbiter.OpLt:
		return cmp < 0
	case arbiter.OpGte:
		return cmp >= 0
	case arbiter.OpLte:
		return cmp <= 0
	}
	return false
}

func memEqual(a, b any) bool {
	if af, ok := memFloat(a); ok {
		bf, bok := memFloat(b)
		return bok && af == bf
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	// Same fallback as the evaluator, so composite row values (slices,
	// maps) compare identically in both interpreters.
	return reflect.DeepEqual(a, b)
}

func memOrder(a, b any) (int, bool) {
	if af, ok := memFloat(a); ok {
		if bf, ok := memFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), true
		}
		return 0, false
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}

func memFloat(v any) (float64, bool) {
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
