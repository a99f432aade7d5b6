package sqlfilter

import (
	"fmt"
	"regexp/syntax"
	"strings"

	"github.com/arbiterhq/arbiter"
)

// Dialect emits SQL fragments for compiled rules. The zero value is ready
// to use; NewDialect exists for symmetry with other backends.
type Dialect struct{}

func NewDialect() Dialect { return Dialect{} }

var _ arbiter.Dialect = Dialect{}

func (Dialect) Literal(allow bool) (arbiter.Predicate, error) {
	if allow {
		return raw("TRUE"), nil
	}
	return raw("FALSE"), nil
}

func (Dialect) CompareValue(op arbiter.CompareOp, col arbiter.Column, value any) (arbiter.Predicate, error) {
	c, err := asColumn(col)
	if err != nil {
		return nil, err
	}
	return raw(fmt.Sprintf("%s %s ?", c, op), value), nil
}

func (Dialect) CompareColumns(op arbiter.CompareOp, left, right arbiter.Column) (arbiter.Predicate, error) {
	l, err := asColumn(left)
	if err != nil {
		return nil, err
	}
	r, err := asColumn(right)
	if err != nil {
		return nil, err
	}
	return raw(fmt.Sprintf("%s %s %s", l, op, r)), nil
}

func (Dialect) In(col arbiter.Column, values []any) (arbiter.Predicate, error) {
	c, err := asColumn(col)
	if err != nil {
		return nil, err
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return raw(fmt.Sprintf("%s IN (%s)", c, marks), values...), nil
}

func (Dialect) Null(col arbiter.Column, negated bool) (arbiter.Predicate, error) {
	c, err := asColumn(col)
	if err != nil {
		return nil, err
	}
	if negated {
		return raw(fmt.Sprintf("%s IS NOT NULL", c)), nil
	}
	return raw(fmt.Sprintf("%s IS NULL", c)), nil
}

func (Dialect) Pattern(op arbiter.PatternOp, col arbiter.Column, text string) (arbiter.Predicate, error) {
	c, err := asColumn(col)
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
		return nil, fmt.Errorf("sqlfilter: unknown pattern operator %v", op)
	}
	return raw(fmt.Sprintf(`%s LIKE ? ESCAPE '\'`, c), pattern), nil
}

// Regexp emits a POSIX regex match (~ or ~* for the i flag). Anchored
// literal patterns are lowered to LIKE so backends without regex support
// still work through Render. The translation from Go regex syntax to POSIX
// is best-effort: character classes and common quantifiers carry over, Go
// extensions like non-greedy quantifiers do not, and the m/s flags become
// inline (?m)/(?s) groups.
func (Dialect) Regexp(col arbiter.Column, pattern, flags string) (arbiter.Predicate, error) {
	c, err := asColumn(col)
	if err != nil {
		return nil, err
	}
	insensitive := strings.Contains(flags, "i")

	if like, ok := likeFromRegexp(pattern); ok && !insensitive {
		return raw(fmt.Sprintf(`%s LIKE ? ESCAPE '\'`, c), like), nil
	}

	op := "~"
	if insensitive {
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
	return raw(fmt.Sprintf("%s %s ?", c, op), pattern), nil
}

// Not negates with IS NOT TRUE rather than NOT so a NULL comparison under
// the negation comes out true, the same answer the in-process evaluator
// gives after collapsing the null leaf to false.
func (Dialect) Not(p arbiter.Predicate) (arbiter.Predicate, error) {
	f, err := asFragment(p)
	if err != nil {
		return nil, err
	}
	return raw("("+f.sql+") IS NOT TRUE", f.args...), nil
}

func (Dialect) All(ps []arbiter.Predicate) (arbiter.Predicate, error) {
	return join(ps, " AND ", "TRUE")
}

func (Dialect) Any(ps []arbiter.Predicate) (arbiter.Predicate, error) {
	return join(ps, " OR ", "FALSE")
}

func (Dialect) Exists(table string, where arbiter.Predicate) (arbiter.Predicate, error) {
	f, err := asFragment(where)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)", quoteIdent(table), f.sql)
	return raw(sql, f.args...), nil
}

func (Dialect) CountAtLeast(table string, where arbiter.Predicate, min int) (arbiter.Predicate, error) {
	f, err := asFragment(where)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("(SELECT COUNT(*) FROM %s WHERE %s) >= ?", quoteIdent(table), f.sql)
	return raw(sql, append(f.Args(), min)...), nil
}

func join(ps []arbiter.Predicate, sep, empty string) (arbiter.Predicate, error) {
	if len(ps) == 0 {
		return raw(empty), nil
	}
	if len(ps) == 1 {
		return asFragment(ps[0])
	}
	parts := make([]string, len(ps))
	var args []any
	for i, p := range ps {
		f, err := asFragment(p)
		if err != nil {
			return nil, err
		}
		parts[i] = "(" + f.sql + ")"
		args = append(args, f.args...)
	}
	return raw(strings.Join(parts, sep), args...), nil
}

// escapeLike escapes LIKE metacharacters so the text matches literally
// under ESCAPE '\'.
func escapeLike(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(text)
}

// likeFromRegexp lowers a fully anchored literal regex (^...$ around plain
// text) to a LIKE pattern. Anything with live metacharacters keeps the
// regex operator.
func likeFromRegexp(pattern string) (string, bool) {
	body, ok := strings.CutPrefix(pattern, "^")
	if !ok {
		return "", false
	}
	body, ok = strings.CutSuffix(body, "$")
	if !ok {
		return "", false
	}
	re, err := syntax.Parse(body, syntax.Perl)
	if err != nil {
		return "", false
	}
	text, complete := literalText(re.Simplify())
	if !complete {
		return "", false
	}
	return escapeLike(text), true
}

func literalText(re *syntax.Regexp) (string, bool) {
	switch re.Op {
	case syntax.OpLiteral:
		return string(re.Rune), true
	case syntax.OpEmptyMatch:
		return "", true
	case syntax.OpConcat:
		var b strings.Builder
		for _, sub := range re.Sub {
			s, ok := literalText(sub)
			if !ok {
				return "", false
			}
			b.WriteString(s)
		}
		return b.String(), true
	}
	return "", false
}
