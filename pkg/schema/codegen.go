package schema

import (
	"bytes"
	"embed"
	"fmt"
	"go/format"
	"strings"
	"text/template"
)

//go:embed templates/*.tpl
var templatesFS embed.FS

var templates *template.Template

func init() {
	var err error
	templates, err = template.New("").Funcs(template.FuncMap{
		"goName": goName,
	}).ParseFS(templatesFS, "templates/*.tpl")
	if err != nil {
		panic(fmt.Sprintf("failed to parse codegen templates: %v", err))
	}
}

// pathsData is the template input for typed path builder generation.
type pathsData struct {
	Package string
	Tables  []Table
}

// GenerateGo renders typed path builders for every declared table, so rule
// authors write Paths.Post.OwnerID() instead of repeating string literals.
// The output is gofmt-formatted source for the named package.
func GenerateGo(pkg string, s *Schema) ([]byte, error) {
	if pkg == "" {
		return nil, fmt.Errorf("schema: generate requires a package name")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	data := pathsData{
		Package: pkg,
		Tables:  append(append([]Table(nil), s.Tables...), s.Related...),
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "paths.go.tpl", data); err != nil {
		return nil, fmt.Errorf("schema: rendering path builders: %w", err)
	}

	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("schema: formatting generated source: %w", err)
	}
	return src, nil
}

// goName derives an exported Go name from a column or table identifier:
// snake and lower-camel segments are title-cased and common initialisms
// upper-cased, so owner_id and ownerId both become OwnerID.
func goName(ident string) string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range ident {
		switch {
		case r == '_':
			flush()
		case r >= 'A' && r <= 'Z':
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	var b strings.Builder
	for _, w := range words {
		upper := strings.ToUpper(w)
		if initialisms[upper] {
			b.WriteString(upper)
			continue
		}
		b.WriteString(strings.ToUpper(w[:1]))
		b.WriteString(strings.ToLower(w[1:]))
	}
	return b.String()
}

var initialisms = map[string]bool{
	"ID":   true,
	"URL":  true,
	"URI":  true,
	"UUID": true,
	"API":  true,
	"SQL":  true,
	"HTML": true,
	"JSON": true,
}
