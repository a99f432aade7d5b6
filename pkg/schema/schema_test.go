package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
tables:
  - name: post
    columns: [id, ownerId, published]
  - name: user
    columns: [id, tenantId]
related:
  - name: comments
    columns: [id, postId, approved]
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Len(t, s.Tables, 2)
	assert.Len(t, s.Related, 1)
	assert.Equal(t, map[string][]string{
		"post": {"id", "ownerId", "published"},
		"user": {"id", "tenantId"},
	}, s.TableColumns())
	assert.Equal(t, map[string][]string{
		"comments": {"id", "postId", "approved"},
	}, s.RelatedColumns())
	assert.Equal(t, []string{"comments", "post", "user"}, s.TableNames())
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"no tables",
			`related: [{name: comments, columns: [id]}]`,
			"at least one table",
		},
		{
			"no columns",
			`tables: [{name: post, columns: []}]`,
			"declares no columns",
		},
		{
			"duplicate table",
			"tables:\n  - {name: post, columns: [id]}\n  - {name: post, columns: [id]}",
			"declared twice",
		},
		{
			"duplicate across groups",
			"tables:\n  - {name: post, columns: [id]}\nrelated:\n  - {name: post, columns: [id]}",
			"declared twice",
		},
		{
			"duplicate column",
			`tables: [{name: post, columns: [id, id]}]`,
			`column "id" twice`,
		},
		{
			"malformed column",
			`tables: [{name: post, columns: ["owner id"]}]`,
			"owner id",
		},
		{
			"unknown field",
			`tables: [{name: post, columns: [id], extra: 1}]`,
			"parsing",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbiter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, s.Tables, 2)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestGenerateGo(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	src, err := GenerateGo("authz", s)
	require.NoError(t, err)
	code := string(src)

	assert.Contains(t, code, "Code generated by arbiter generate. DO NOT EDIT.")
	assert.Contains(t, code, "package authz")
	assert.Contains(t, code, "type PostPaths struct")
	assert.Contains(t, code, `var Post = PostPaths{t: arbiter.Table("post")}`)
	assert.Contains(t, code, `func (p PostPaths) OwnerID() arbiter.ColumnRef`)
	assert.Contains(t, code, `return p.t.Column("ownerId")`)
	assert.Contains(t, code, "type CommentsPaths struct")
	// Formatted output has no double blank lines from template joins.
	assert.NotContains(t, code, "\n\n\n")
}

func TestGenerateGo_Errors(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	_, err = GenerateGo("", s)
	require.Error(t, err)

	bad := &Schema{Tables: []Table{{Name: "post"}}}
	_, err = GenerateGo("authz", bad)
	require.Error(t, err)
}

func TestGoName(t *testing.T) {
	cases := map[string]string{
		"post":       "Post",
		"ownerId":    "OwnerID",
		"owner_id":   "OwnerID",
		"tenantId":   "TenantID",
		"apiKey":     "APIKey",
		"htmlBody":   "HTMLBody",
		"created_at": "CreatedAt",
	}
	for in, want := range cases {
		if got := goName(in); got != want {
			t.Errorf("goName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGeneratedSourceIsGofmt(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	src, err := GenerateGo("authz", s)
	require.NoError(t, err)
	// format.Source already ran; a second pass must be a no-op.
	assert.False(t, strings.Contains(string(src), "\t "), "mixed indentation in generated source")
}
