// Package sqlfilter compiles arbiter rules into portable SQL predicates.
//
// It implements arbiter.Dialect with plain SQL fragments: predicate text
// with ? placeholders plus an ordered argument list. Fragments render to
// question-mark or dollar-numbered placeholder styles, so they slot into
// database/sql and pgx alike:
//
//	mapping, _ := sqlfilter.Mapping(map[string][]string{
//	    "post": {"id", "ownerId", "published"},
//	})
//	pred, _ := arbiter.Compile(rule, arbiter.CompileEnv{
//	    Actor:   actor,
//	    Tables:  mapping,
//	    Dialect: sqlfilter.NewDialect(),
//	})
//	rows, _ := sqlfilter.Query(ctx, db, "post", []string{"id", "title"}, pred)
//
// Every value in a fragment is a bound parameter. Identifiers are validated
// at mapping construction and double-quoted on emission; no caller input is
// ever interpolated into predicate text.
package sqlfilter

import (
	"fmt"
	"strings"

	"github.com/arbiterhq/arbiter"
)

// Fragment is a SQL predicate: text with ? placeholders and the bound
// arguments in order. Fragments are immutable values.
type Fragment struct {
	sql  string
	args []any
}

// SQL returns the predicate text with ? placeholders.
func (f Fragment) SQL() string { return f.sql }

// Args returns the bound arguments in placeholder order.
func (f Fragment) Args() []any { return append([]any(nil), f.args...) }

// Placeholder selects the parameter style used by Render.
type Placeholder int

const (
	// Question renders ? placeholders (database/sql with MySQL/SQLite
	// drivers).
	Question Placeholder = iota
	// Dollar renders $1..$n placeholders (PostgreSQL).
	Dollar
)

// Render returns the predicate text in the requested placeholder style
// together with its arguments. Numbering starts at 1; use RenderFrom when
// merging into a query that already binds parameters.
func (f Fragment) Render(style Placeholder) (string, []any) {
	sql, args, _ := f.RenderFrom(style, 1)
	return sql, args
}

// RenderFrom renders with dollar numbering starting at the given index and
// returns the next free index.
func (f Fragment) RenderFrom(style Placeholder, start int) (string, []any, int) {
	if style == Question {
		return f.sql, f.Args(), start + len(f.args)
	}
	var b strings.Builder
	n := start
	for _, r := range f.sql {
		if r == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), f.Args(), n
}

// column is the backend column handle this package plugs into an
// arbiter.TableMapping. Identifiers are validated before a handle exists,
// so emission can quote without re-checking.
type column struct {
	table string
	name  string
}

func (c column) String() string {
	return quoteIdent(c.table) + "." + quoteIdent(c.name)
}

// Mapping declares tables and their columns, producing the table mapping
// Compile resolves references against. Identifier validation fails fast
// here; nothing reaches a query that did not pass through the declaration.
func Mapping(tables map[string][]string) (arbiter.TableMapping, error) {
	m := make(arbiter.TableMapping, len(tables))
	for table, columns := range tables {
		cols := make(map[string]arbiter.Column, len(columns))
		for _, name := range columns {
			// Reuse path capture for identifier validation.
			if err := arbiter.Table(table).Column(name).Err(); err != nil {
				return nil, err
			}
			cols[name] = column{table: table, name: name}
		}
		m[table] = cols
	}
	return m, nil
}

// quoteIdent double-quotes an identifier. Validation happened at mapping
// construction; embedded quotes cannot occur.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

func raw(sql string, args ...any) Fragment {
	return Fragment{sql: sql, args: args}
}

func asColumn(c arbiter.Column) (column, error) {
	col, ok := c.(column)
	if !ok {
		return column{}, fmt.Errorf("sqlfilter: column handle %T was not declared through sqlfilter.Mapping", c)
	}
	return col, nil
}

func asFragment(p arbiter.Predicate) (Fragment, error) {
	f, ok := p.(Fragment)
	if !ok {
		return Fragment{}, fmt.Errorf("sqlfilter: predicate %T was not produced by this dialect", p)
	}
	return f, nil
}
