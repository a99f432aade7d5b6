package sqlfilter_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/arbiterhq/arbiter"
	"github.com/arbiterhq/arbiter/pkg/sqlfilter"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// TestPostgresAgreement runs compiled predicates against a real database
// and checks that the rows PostgreSQL returns are exactly the rows the
// in-process evaluator admits. Set DATABASE_URL to enable.
func TestPostgresAgreement(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping database integration test")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.PingContext(ctx))

	_, err = db.ExecContext(ctx, `
		DROP TABLE IF EXISTS arbiter_it_comment;
		DROP TABLE IF EXISTS arbiter_it_post;
		CREATE TABLE arbiter_it_post (
			id        text PRIMARY KEY,
			"ownerId" text,
			published boolean,
			views     integer,
			title     text
		);
		CREATE TABLE arbiter_it_comment (
			id       text PRIMARY KEY,
			"postId" text,
			approved boolean
		);
	`)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.ExecContext(ctx, `DROP TABLE IF EXISTS arbiter_it_comment; DROP TABLE IF EXISTS arbiter_it_post`)
	})

	posts := []map[string]any{
		{"id": "p1", "ownerId": "u1", "published": false, "views": 3, "title": "Hello world"},
		{"id": "p2", "ownerId": "u2", "published": true, "views": 42, "title": "Other"},
		{"id": "p3", "ownerId": "u1", "published": true, "views": 12, "title": "He said"},
		{"id": "p4", "ownerId": nil, "published": nil, "views": nil, "title": nil},
	}
	for _, p := range posts {
		_, err = db.ExecContext(ctx,
			`INSERT INTO arbiter_it_post (id, "ownerId", published, views, title) VALUES ($1, $2, $3, $4, $5)`,
			p["id"], p["ownerId"], p["published"], p["views"], p["title"])
		require.NoError(t, err)
	}
	comments := []map[string]any{
		{"id": "c1", "postId": "p1", "approved": true},
		{"id": "c2", "postId": "p1", "approved": false},
		{"id": "c3", "postId": "p2", "approved": true},
	}
	for _, c := range comments {
		_, err = db.ExecContext(ctx,
			`INSERT INTO arbiter_it_comment (id, "postId", approved) VALUES ($1, $2, $3)`,
			c["id"], c["postId"], c["approved"])
		require.NoError(t, err)
	}

	post := arbiter.Table("arbiter_it_post")
	tables, err := sqlfilter.Mapping(map[string][]string{
		"arbiter_it_post": {"id", "ownerId", "published", "views", "title"},
	})
	require.NoError(t, err)
	related, err := sqlfilter.Mapping(map[string][]string{
		"arbiter_it_comment": {"id", "postId", "approved"},
	})
	require.NoError(t, err)

	rules := map[string]arbiter.Expr{
		"owner or published": arbiter.Or(
			arbiter.Eq(post.Column("ownerId"), arbiter.Bind("u1")),
			arbiter.Eq(post.Column("published"), true),
		),
		"views range":    arbiter.Between(post.Column("views"), 5, 50),
		"null owner":     arbiter.IsNull(post.Column("ownerId")),
		"title prefix":   arbiter.StartsWith(post.Column("title"), "He"),
		"title match":    arbiter.Matches(post.Column("title"), "^H.*d$"),
		"not published":  arbiter.Not(arbiter.Eq(post.Column("published"), true)),
		"state in":       arbiter.In(post.Column("id"), "p1", "p3"),
		"has comments": arbiter.Exists(arbiter.Table("arbiter_it_comment"), func(c arbiter.Scope) arbiter.Expr {
			return arbiter.Eq(c.Column("postId"), post.Column("id"))
		}),
		"two comments": arbiter.Count(arbiter.Table("arbiter_it_comment"), func(c arbiter.Scope) arbiter.Expr {
			return arbiter.Eq(c.Column("postId"), post.Column("id"))
		}, 2),
	}

	env := arbiter.CompileEnv{
		Actor:   arbiter.Actor{"id": "u1"},
		Tables:  tables,
		Related: related,
		Dialect: sqlfilter.NewDialect(),
	}

	commentsFor := func(postID any) []map[string]any {
		var out []map[string]any
		for _, c := range comments {
			if c["postId"] == postID {
				out = append(out, c)
			}
		}
		return out
	}

	for name, rule := range rules {
		t.Run(name, func(t *testing.T) {
			pred, err := arbiter.Compile(rule, env)
			require.NoError(t, err)

			rows, err := sqlfilter.Query(ctx, db, "arbiter_it_post", []string{"id"}, pred)
			require.NoError(t, err)
			defer rows.Close()

			got := map[string]bool{}
			for rows.Next() {
				var id string
				require.NoError(t, rows.Scan(&id))
				got[id] = true
			}
			require.NoError(t, rows.Err())

			for _, p := range posts {
				data := arbiter.Env{
					Actor: env.Actor,
					Resources: arbiter.Resources{
						"arbiter_it_post":    p,
						"arbiter_it_comment": commentsFor(p["id"]),
					},
				}
				want, err := arbiter.Evaluate(rule, data)
				require.NoError(t, err)
				require.Equal(t, want, got[p["id"].(string)],
					"row %v: evaluator and database disagree", p["id"])
			}
		})
	}
}
