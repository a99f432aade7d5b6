// Package bobfilter compiles arbiter rules into bob query-builder
// expressions for PostgreSQL.
//
// The compiled predicate is a psql expression that drops straight into
// sm.Where alongside the caller's own query construction:
//
//	pred, _ := arbiter.Compile(rule, arbiter.CompileEnv{
//	    Actor:   actor,
//	    Tables:  mapping,
//	    Dialect: bobfilter.NewDialect(),
//	})
//	q := psql.Select(
//	    sm.Columns("id", "title"),
//	    sm.From("post"),
//	    sm.Where(bobfilter.Expr(pred)),
//	)
package bobfilter

import (
	"context"
	"fmt"
	"strings"

	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/sm"

	"github.com/arbiterhq/arbiter"
)

// Dialect emits bob psql expressions for compiled rules.
type Dialect struct{}

func NewDialect() Dialect { return Dialect{} }

var _ arbiter.Dialect = Dialect{}

// Mapping declares tables and columns, handing out quoted bob column
// expressions as the backend handles.
func Mapping(tables map[string][]string) (arbiter.TableMapping, error) {
	m := make(arbiter.TableMapping, len(tables))
	for table, columns := range tables {
		cols := make(map[string]arbiter.Column, len(columns))
		for _, name := range columns {
			if err := arbiter.Table(table).Column(name).Err(); err != nil {
				return nil, err
			}
			cols[name] = psql.Quote(table, name)
		}
		m[table] = cols
	}
	return m, nil
}

// Expr unwraps a compiled predicate back to a bob expression for use in
// sm.Where. It panics on a predicate from another dialect; compilation
// through this dialect always produces the right type.
func Expr(p arbiter.Predicate) psql.Expression {
	e, err := asExpr(p)
	if err != nil {
		panic(err)
	}
	return e
}

func (Dialect) Literal(allow bool) (arbiter.Predicate, error) {
	if allow {
		return psql.Raw("TRUE"), nil
	}
	return psql.Raw("FALSE"), nil
}

func (Dialect) CompareValue(op arbiter.CompareOp, col arbiter.Column, value any) (arbiter.Predicate, error) {
	c, err := asExpr(col)
	if err != nil {
		return nil, err
	}
	switch op {
	case arbiter.OpEq:
		return c.EQ(psql.Arg(value)), nil
	case arbiter.OpNotEq:
		return c.NE(psql.Arg(value)), nil
	}
	return psql.Raw(fmt.Sprintf("? %s ?", op), c, psql.Arg(value)), nil
}

func (Dialect) CompareColumns(op arbiter.CompareOp, left, right arbiter.Column) (arbiter.Predicate, error) {
	l, err := asExpr(left)
	if err != nil {
		return nil, err
	}
	r, err := asExpr(right)
	if err != nil {
		return nil, err
	}
	switch op {
	case arbiter.OpEq:
		return l.EQ(r), nil
	case arbiter.OpNotEq:
		return l.NE(r), nil
	}
	return psql.Raw(fmt.Sprintf("? %s ?", op), l, r), nil
}

func (Dialect) In(col arbiter.Column, values []any) (arbiter.Predicate, error) {
	c, err := asExpr(col)
	if err != nil {
		return nil, err
	}
	args := make([]bob.Expression, len(values))
	for i, v := range values {
		args[i] = psql.Arg(v)
	}
	return c.In(args...), nil
}

func (Dialect) Null(col arbiter.Column, negated bool) (arbiter.Predicate, error) {
	c, err := asExpr(col)
	if err != nil {
		return nil, err
	}
	if negated {
		return psql.Raw("? IS NOT NULL", c), nil
	}
	return psql.Raw("? IS NULL", c), nil
}

func (Dialect) Pattern(op arbiter.PatternOp, col arbiter.Column, text string) (arbiter.Predicate, error) {
	c, err := asExpr(col)
	if err != nil {
		return nil, err
	}
	escaped := escapeLike(text)
	var pattern string
	switch op {
	case arbiter.PatternPrefix:
		pattern = escaped + "%"
	case arbiter.PatternSuffix:
		pattern = "%" + escaped
	case arbiter.PatternSubstring:
		pattern = "%" + escaped + "%"
	default:
		return nil, fmt.Errorf("bobfilter: unknown pattern operator %v", op)
	}
	return psql.Raw(`? LIKE ? ESCAPE '\'`, c, psql.Arg(pattern)), nil
}

// Regexp emits the PostgreSQL regex match operator, ~* when the i flag is
// set. The m and s flags become inline groups; the pattern itself crosses
// from Go regex syntax to POSIX best-effort.
func (Dialect) Regexp(col arbiter.Column, pattern, flags string) (arbiter.Predicate, error) {
	c, err := asExpr(col)
	if err != nil {
		return nil, err
	}
	op := "~"
	if strings.Contains(flags, "i") {
		op = "~*"
	}
	var inline string
	if strings.Contains(flags, "m") {
		inline += "m"
	}
	if strings.Contains(flags, "s") {
		inline += "s"
	}
	if inline != "" {
		pattern = "(?" + inline + ")" + pattern
	}
	return psql.Raw(fmt.Sprintf("? %s ?", op), c, psql.Arg(pattern)), nil
}

// Not negates with IS NOT TRUE so null comparisons under the negation
// come out true, matching the in-process evaluator.
func (Dialect) Not(p arbiter.Predicate) (arbiter.Predicate, error) {
	e, err := asExpr(p)
	if err != nil {
		return nil, err
	}
	return psql.Raw("(?) IS NOT TRUE", e), nil
}

func (Dialect) All(ps []arbiter.Predicate) (arbiter.Predicate, error) {
	if len(ps) == 0 {
		return psql.Raw("TRUE"), nil
	}
	exprs, err := asExprs(ps)
	if err != nil {
		return nil, err
	}
	return psql.And(exprs...), nil
}

func (Dialect) Any(ps []arbiter.Predicate) (arbiter.Predicate, error) {
	if len(ps) == 0 {
		return psql.Raw("FALSE"), nil
	}
	exprs, err := asExprs(ps)
	if err != nil {
		return nil, err
	}
	return psql.Or(exprs...), nil
}

func (Dialect) Exists(table string, where arbiter.Predicate) (arbiter.Predicate, error) {
	w, err := asExpr(where)
	if err != nil {
		return nil, err
	}
	return psql.Raw("EXISTS (SELECT 1 FROM ? WHERE ?)", psql.Quote(table), w), nil
}

func (Dialect) CountAtLeast(table string, where arbiter.Predicate, min int) (arbiter.Predicate, error) {
	w, err := asExpr(where)
	if err != nil {
		return nil, err
	}
	return psql.Raw("(SELECT COUNT(*) FROM ? WHERE ?) >= ?", psql.Quote(table), w, psql.Arg(min)), nil
}

// WhereSQL renders a compiled predicate to its SQL text and bound
// arguments by building a probe SELECT and cutting out the WHERE clause.
// Intended for logging and tests; queries should embed the expression
// directly.
func WhereSQL(ctx context.Context, p arbiter.Predicate) (string, []any, error) {
	e, err := asExpr(p)
	if err != nil {
		return "", nil, err
	}
	q := psql.Select(
		sm.Columns(psql.Raw("1")),
		sm.Where(e),
	)
	sql, args, err := bob.Build(ctx, q)
	if err != nil {
		return "", nil, err
	}
	sql = strings.TrimSuffix(strings.TrimSpace(sql), ";")
	idx := strings.Index(strings.ToUpper(sql), "WHERE ")
	if idx == -1 {
		return "", nil, fmt.Errorf("bobfilter: rendered query has no WHERE clause: %s", sql)
	}
	return strings.TrimSpace(sql[idx+len("WHERE "):]), args, nil
}

func asExpr(p arbiter.Predicate) (psql.Expression, error) {
	e, ok := p.(psql.Expression)
	if !ok {
		return psql.Expression{}, fmt.Errorf("bobfilter: predicate %T was not produced by this dialect", p)
	}
	return e, nil
}

func asExprs(ps []arbiter.Predicate) ([]bob.Expression, error) {
	exprs := make([]bob.Expression, len(ps))
	for i, p := range ps {
		e, err := asExpr(p)
		if err != nil {
			return nil, err
		}
		exprs[i] = e
	}
	return exprs, nil
}

func escapeLike(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(text)
}
