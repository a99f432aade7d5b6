package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/arbiterhq/arbiter"
)

// PolicyDoc is a declarative policy file: one subject, one rule tree per
// action.
//
//	subject: post
//	actions:
//	  read:
//	    any:
//	      - eq: {path: post.ownerId, actor: id}
//	      - eq: {path: post.published, value: true}
//	  delete:
//	    eq: {path: post.ownerId, actor: id}
//
// Paths are table.column. Inside exists/count nodes, paths on the related
// table resolve against the subquery row; paths on other tables stay outer
// references, which is what correlates the subquery.
type PolicyDoc struct {
	Subject string              `json:"subject"`
	Actions map[string]RuleNode `json:"actions"`
}

// RuleNode is one node of a declarative rule tree. Exactly one field may
// be set.
type RuleNode struct {
	All []RuleNode `json:"all,omitempty"`
	Any []RuleNode `json:"any,omitempty"`
	Not *RuleNode  `json:"not,omitempty"`

	Eq  *CompareNode `json:"eq,omitempty"`
	Neq *CompareNode `json:"neq,omitempty"`
	Gt  *CompareNode `json:"gt,omitempty"`
	Gte *CompareNode `json:"gte,omitempty"`
	Lt  *CompareNode `json:"lt,omitempty"`
	Lte *CompareNode `json:"lte,omitempty"`

	In         *InNode      `json:"in,omitempty"`
	Null       *PathNode    `json:"null,omitempty"`
	NotNull    *PathNode    `json:"notNull,omitempty"`
	StartsWith *PatternNode `json:"startsWith,omitempty"`
	EndsWith   *PatternNode `json:"endsWith,omitempty"`
	Contains   *PatternNode `json:"contains,omitempty"`
	Matches    *MatchesNode `json:"matches,omitempty"`

	Exists *RelatedNode `json:"exists,omitempty"`
	Count  *RelatedNode `json:"count,omitempty"`

	Tenant *PathNode `json:"tenant,omitempty"`
	Allow  *bool     `json:"allow,omitempty"`
}

// CompareNode compares a path against a literal value, an actor field, or
// another path. Exactly one of Value, Actor, Path2 may be set.
type CompareNode struct {
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
	Actor string `json:"actor,omitempty"`
	Path2 string `json:"path2,omitempty"`
}

type InNode struct {
	Path   string `json:"path"`
	Values []any  `json:"values"`
}

type PathNode struct {
	Path string `json:"path"`
}

type PatternNode struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

type MatchesNode struct {
	Path    string `json:"path"`
	Pattern string `json:"pattern"`
	Flags   string `json:"flags,omitempty"`
}

// RelatedNode is an exists or count node over a related table.
type RelatedNode struct {
	Table string   `json:"table"`
	Where RuleNode `json:"where"`
	Min   int      `json:"min,omitempty"` // count only
}

// LoadPolicy reads a declarative policy file.
func LoadPolicy(path string) (*PolicyDoc, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: reading %s: %w", path, err)
	}
	return ParsePolicy(content)
}

// ParsePolicy decodes a declarative policy document.
func ParsePolicy(content []byte) (*PolicyDoc, error) {
	var doc PolicyDoc
	if err := yaml.UnmarshalStrict(content, &doc); err != nil {
		return nil, fmt.Errorf("schema: parsing policy: %w", err)
	}
	if doc.Subject == "" {
		return nil, fmt.Errorf("schema: policy requires a subject")
	}
	if len(doc.Actions) == 0 {
		return nil, fmt.Errorf("schema: policy %q defines no actions", doc.Subject)
	}
	return &doc, nil
}

// Build turns the document into a policy with the actor's fields bound
// into the rules. Actor references resolve now; a missing field is a
// build error, not a silent false.
func (doc *PolicyDoc) Build(actor arbiter.Actor) (arbiter.Policy, error) {
	b := ruleBuilder{actor: actor}
	rules := make(map[string]arbiter.Rule, len(doc.Actions))
	for name, node := range doc.Actions {
		expr, err := b.build(node)
		if err != nil {
			return arbiter.Policy{}, fmt.Errorf("schema: action %q: %w", name, err)
		}
		rules[name] = expr
	}
	return arbiter.NewPolicy(doc.Subject, rules), nil
}

// ActorFields lists the actor fields the document references, sorted and
// deduplicated. Tenant nodes resolve by the column name of their path, so
// that name is included too.
func (doc *PolicyDoc) ActorFields() []string {
	seen := map[string]bool{}
	for _, node := range doc.Actions {
		collectActorFields(node, seen)
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func collectActorFields(n RuleNode, seen map[string]bool) {
	for _, child := range n.All {
		collectActorFields(child, seen)
	}
	for _, child := range n.Any {
		collectActorFields(child, seen)
	}
	if n.Not != nil {
		collectActorFields(*n.Not, seen)
	}
	for _, cmp := range []*CompareNode{n.Eq, n.Neq, n.Gt, n.Gte, n.Lt, n.Lte} {
		if cmp != nil && cmp.Actor != "" {
			seen[cmp.Actor] = true
		}
	}
	if n.Exists != nil {
		collectActorFields(n.Exists.Where, seen)
	}
	if n.Count != nil {
		collectActorFields(n.Count.Where, seen)
	}
	if n.Tenant != nil {
		if _, col, ok := strings.Cut(n.Tenant.Path, "."); ok {
			seen[col] = true
		}
	}
}

// ruleBuilder renders rule nodes. Inside a related-table predicate, scope
// and scopeTable identify the subquery row paths resolve against.
type ruleBuilder struct {
	actor      arbiter.Actor
	scope      *arbiter.Scope
	scopeTable string
}

func (b ruleBuilder) build(n RuleNode) (arbiter.Expr, error) {
	set := 0
	var out arbiter.Expr
	var err error

	if n.All != nil {
		set++
		out, err = b.buildList(arbiter.And, n.All)
	}
	if n.Any != nil {
		set++
		out, err = b.buildList(arbiter.Or, n.Any)
	}
	if n.Not != nil {
		set++
		var inner arbiter.Expr
		inner, err = b.build(*n.Not)
		out = arbiter.Not(inner)
	}
	for op, node := range map[arbiter.CompareOp]*CompareNode{
		arbiter.OpEq:    n.Eq,
		arbiter.OpNotEq: n.Neq,
		arbiter.OpGt:    n.Gt,
		arbiter.OpGte:   n.Gte,
		arbiter.OpLt:    n.Lt,
		arbiter.OpLte:   n.Lte,
	} {
		if node != nil {
			set++
			out, err = b.buildCompare(op, *node)
		}
	}
	if n.In != nil {
		set++
		var ref arbiter.ColumnRef
		ref, err = b.path(n.In.Path)
		out = arbiter.In(ref, n.In.Values...)
	}
	if n.Null != nil {
		set++
		var ref arbiter.ColumnRef
		ref, err = b.path(n.Null.Path)
		out = arbiter.IsNull(ref)
	}
	if n.NotNull != nil {
		set++
		var ref arbiter.ColumnRef
		ref, err = b.path(n.NotNull.Path)
		out = arbiter.IsNotNull(ref)
	}
	for pat, node := range map[arbiter.PatternOp]*PatternNode{
		arbiter.PatternPrefix:    n.StartsWith,
		arbiter.PatternSuffix:    n.EndsWith,
		arbiter.PatternSubstring: n.Contains,
	} {
		if node != nil {
			set++
			var ref arbiter.ColumnRef
			ref, err = b.path(node.Path)
			switch pat {
			case arbiter.PatternPrefix:
				out = arbiter.StartsWith(ref, node.Value)
			case arbiter.PatternSuffix:
				out = arbiter.EndsWith(ref, node.Value)
			default:
				out = arbiter.Contains(ref, node.Value)
			}
		}
	}
	if n.Matches != nil {
		set++
		var ref arbiter.ColumnRef
		ref, err = b.path(n.Matches.Path)
		out = arbiter.MatchesFlags(ref, n.Matches.Pattern, n.Matches.Flags)
	}
	if n.Exists != nil {
		set++
		out, err = b.buildRelated(*n.Exists, 1)
	}
	if n.Count != nil {
		set++
		min := n.Count.Min
		if min == 0 {
			min = 1
		}
		out, err = b.buildRelated(*n.Count, min)
	}
	if n.Tenant != nil {
		set++
		var ref arbiter.ColumnRef
		ref, err = b.path(n.Tenant.Path)
		out = arbiter.TenantScoped(ref)
	}
	if n.Allow != nil {
		set++
		out = arbiter.Literal(*n.Allow)
	}

	if err != nil {
		return arbiter.Expr{}, err
	}
	if set == 0 {
		return arbiter.Expr{}, fmt.Errorf("empty rule node")
	}
	if set > 1 {
		return arbiter.Expr{}, fmt.Errorf("rule node sets %d operators, want exactly one", set)
	}
	return out, nil
}

func (b ruleBuilder) buildList(combine func(...arbiter.Expr) arbiter.Expr, nodes []RuleNode) (arbiter.Expr, error) {
	exprs := make([]arbiter.Expr, len(nodes))
	for i, n := range nodes {
		e, err := b.build(n)
		if err != nil {
			return arbiter.Expr{}, err
		}
		exprs[i] = e
	}
	return combine(exprs...), nil
}

func (b ruleBuilder) buildCompare(op arbiter.CompareOp, n CompareNode) (arbiter.Expr, error) {
	ref, err := b.path(n.Path)
	if err != nil {
		return arbiter.Expr{}, err
	}

	var right any
	switch {
	case n.Actor != "":
		if n.Value != nil || n.Path2 != "" {
			return arbiter.Expr{}, fmt.Errorf("compare on %s sets more than one right-hand side", n.Path)
		}
		v, ok := b.actor.Field(n.Actor)
		if !ok {
			return arbiter.Expr{}, fmt.Errorf("actor field %q is not set", n.Actor)
		}
		right = arbiter.Bind(v)
	case n.Path2 != "":
		if n.Value != nil {
			return arbiter.Expr{}, fmt.Errorf("compare on %s sets more than one right-hand side", n.Path)
		}
		other, err := b.path(n.Path2)
		if err != nil {
			return arbiter.Expr{}, err
		}
		right = other
	default:
		right = n.Value
	}

	switch op {
	case arbiter.OpEq:
		return arbiter.Eq(ref, right), nil
	case arbiter.OpNotEq:
		return arbiter.NotEq(ref, right), nil
	case arbiter.OpGt:
		return arbiter.Gt(ref, right), nil
	case arbiter.OpGte:
		return arbiter.Gte(ref, right), nil
	case arbiter.OpLt:
		return arbiter.Lt(ref, right), nil
	}
	return arbiter.Lte(ref, right), nil
}

func (b ruleBuilder) buildRelated(n RelatedNode, min int) (arbiter.Expr, error) {
	if n.Table == "" {
		return arbiter.Expr{}, fmt.Errorf("related node requires a table")
	}
	var buildErr error
	expr := arbiter.Count(arbiter.Table(n.Table), func(s arbiter.Scope) arbiter.Expr {
		inner := b
		inner.scope = &s
		inner.scopeTable = n.Table
		e, err := inner.build(n.Where)
		if err != nil {
			buildErr = err
			return arbiter.Literal(false)
		}
		return e
	}, min)
	if buildErr != nil {
		return arbiter.Expr{}, buildErr
	}
	return expr, nil
}

// path parses table.column. A path on the enclosing related table resolves
// through the subquery scope.
func (b ruleBuilder) path(path string) (arbiter.ColumnRef, error) {
	table, col, ok := strings.Cut(path, ".")
	if !ok || table == "" || col == "" {
		return arbiter.ColumnRef{}, fmt.Errorf("path %q is not table.column", path)
	}
	var ref arbiter.ColumnRef
	if b.scope != nil && table == b.scopeTable {
		ref = b.scope.Column(col)
	} else {
		ref = arbiter.Table(table).Column(col)
	}
	if err := ref.Err(); err != nil {
		return arbiter.ColumnRef{}, err
	}
	return ref, nil
}
