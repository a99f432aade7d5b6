// Package schema loads declarative table schemas for rule compilation.
//
// A schema file declares which tables and columns compiled predicates may
// reference, in YAML:
//
//	tables:
//	  - name: post
//	    columns: [id, ownerId, published]
//	related:
//	  - name: comments
//	    columns: [id, postId, approved]
//
// The declarations feed the compile-time table mappings and drive typed
// path builder generation (see GenerateGo).
package schema

import (
	"fmt"
	"os"
	"sort"

	"sigs.k8s.io/yaml"

	"github.com/arbiterhq/arbiter"
)

// Schema is a set of table declarations. Tables holds the primary subject
// tables; Related holds tables reachable only through relationship
// predicates (Exists, Count, HasMany).
type Schema struct {
	Tables  []Table `json:"tables"`
	Related []Table `json:"related,omitempty"`
}

// Table declares one table and the columns rules may reference on it.
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// Load reads and validates a schema file.
func Load(path string) (*Schema, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: reading %s: %w", path, err)
	}
	return Parse(content)
}

// Parse decodes and validates schema YAML.
func Parse(content []byte) (*Schema, error) {
	var s Schema
	if err := yaml.UnmarshalStrict(content, &s); err != nil {
		return nil, fmt.Errorf("schema: parsing: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the declarations: at least one table, valid identifiers
// throughout, no duplicate tables or columns.
func (s *Schema) Validate() error {
	if len(s.Tables) == 0 {
		return fmt.Errorf("schema: at least one table must be declared")
	}
	seen := make(map[string]bool)
	for _, group := range [][]Table{s.Tables, s.Related} {
		for _, t := range group {
			if seen[t.Name] {
				return fmt.Errorf("schema: table %q declared twice", t.Name)
			}
			seen[t.Name] = true
			if err := t.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t Table) validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("schema: table %q declares no columns", t.Name)
	}
	cols := make(map[string]bool)
	for _, c := range t.Columns {
		// Identifier rules are the path capture rules.
		if err := arbiter.Table(t.Name).Column(c).Err(); err != nil {
			return fmt.Errorf("schema: table %q: %w", t.Name, err)
		}
		if cols[c] {
			return fmt.Errorf("schema: table %q declares column %q twice", t.Name, c)
		}
		cols[c] = true
	}
	return nil
}

// TableColumns returns the primary table declarations as the map shape the
// dialect mapping constructors take.
func (s *Schema) TableColumns() map[string][]string {
	return columnsMap(s.Tables)
}

// RelatedColumns returns the related table declarations.
func (s *Schema) RelatedColumns() map[string][]string {
	return columnsMap(s.Related)
}

// TableNames returns all declared table names, sorted.
func (s *Schema) TableNames() []string {
	var names []string
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	for _, t := range s.Related {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

func columnsMap(tables []Table) map[string][]string {
	if len(tables) == 0 {
		return nil
	}
	m := make(map[string][]string, len(tables))
	for _, t := range tables {
		m[t.Name] = append([]string(nil), t.Columns...)
	}
	return m
}
