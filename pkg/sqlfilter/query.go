package sqlfilter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/arbiterhq/arbiter"
	"github.com/jackc/pgx/v5"
)

// Querier is the subset of *sql.DB / *sql.Tx the query helpers need, so
// callers can pass either, or a wrapped connection.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PgxQuerier is the pgx counterpart, satisfied by *pgx.Conn and *pgxpool.Pool.
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Select builds a SELECT over the table restricted to rows the compiled
// predicate admits. Column names go through the same identifier validation
// as Mapping; an empty column list selects *.
func Select(table string, columns []string, where arbiter.Predicate) (Fragment, error) {
	f, err := asFragment(where)
	if err != nil {
		return Fragment{}, err
	}
	if err := arbiter.Table(table).Column("x").Err(); err != nil {
		return Fragment{}, err
	}
	cols := "*"
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, name := range columns {
			if err := arbiter.Table(table).Column(name).Err(); err != nil {
				return Fragment{}, err
			}
			quoted[i] = quoteIdent(name)
		}
		cols = strings.Join(quoted, ", ")
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s", cols, quoteIdent(table), f.sql)
	return Fragment{sql: sql, args: f.Args()}, nil
}

// Query runs a filtered SELECT through database/sql with $n placeholders.
func Query(ctx context.Context, q Querier, table string, columns []string, where arbiter.Predicate) (*sql.Rows, error) {
	stmt, err := Select(table, columns, where)
	if err != nil {
		return nil, err
	}
	text, args := stmt.Render(Dollar)
	return q.QueryContext(ctx, text, args...)
}

// QueryPgx runs a filtered SELECT through pgx.
func QueryPgx(ctx context.Context, q PgxQuerier, table string, columns []string, where arbiter.Predicate) (pgx.Rows, error) {
	stmt, err := Select(table, columns, where)
	if err != nil {
		return nil, err
	}
	text, args := stmt.Render(Dollar)
	return q.Query(ctx, text, args...)
}
