// Package arbiter is an authorization-decision engine built around a single
// expression tree with two interpreters.
//
// Application code defines named actions ("read", "delete", ...) over a
// subject type as boolean-valued rules referencing an actor (the requester)
// and a subject (the resource). The same rule serves two consumers:
//
//   - Evaluate walks the tree against concrete actor/resource data and
//     returns a boolean decision, used for single-record checks.
//   - Compile walks the tree against a caller-declared table mapping and
//     emits a backend filter predicate, used to scope listing queries so
//     unauthorized rows never reach the application.
//
// Because both interpreters consume the identical tree, "may I act on this
// row" and "list only the rows I may see" stay consistent.
//
// # Building rules
//
// Rules are assembled from the operator library over symbolic column
// references and bound actor values:
//
//	post := arbiter.Table("post")
//	rule := arbiter.Or(
//	    arbiter.Eq(post.Column("published"), true),
//	    arbiter.Eq(post.Column("ownerId"), arbiter.Bind(actorID)),
//	)
//
// Column references always carry an explicit (table, column) pair. There is
// no string concatenation anywhere in a rule, and the compiler rejects any
// table or column the caller did not declare.
//
// # Policies
//
// A Policy groups named actions for one subject label:
//
//	policy := arbiter.NewPolicy("post", map[string]arbiter.Rule{
//	    "read":   rule,
//	    "delete": arbiter.Eq(post.Column("ownerId"), arbiter.Bind(actorID)),
//	})
//
// Policies compose structurally: Extend merges action maps with AND on
// overlapping names, AndPolicies/OrPolicies fold several policies together.
//
// # Checking
//
//	ok, err := arbiter.Evaluate(rule, arbiter.Env{
//	    Actor:     arbiter.Actor{"id": "u1", "role": "user"},
//	    Resources: arbiter.Resources{"post": map[string]any{"ownerId": "u1"}},
//	})
//
// # Query scoping
//
//	pred, err := arbiter.Compile(rule, arbiter.CompileEnv{
//	    Actor:   actor,
//	    Tables:  mapping, // caller-declared tables and columns
//	    Dialect: sqlfilter.NewDialect(),
//	})
//
// The predicate is opaque to the engine; dialect packages (pkg/sqlfilter,
// pkg/bobfilter) turn it into something a query builder can merge into a
// WHERE clause.
//
// Expression trees and policies are immutable after construction and safe to
// share across goroutines. Evaluate and Compile are pure functions of their
// inputs and hold no cross-call state.
package arbiter

// Actor is the requester context supplied at evaluation or compile time.
// Its shape is application-defined; tenant operators look fields up under
// actor["user"] first and then at the top level.
//
// Actor values are read, never written, by the engine.
type Actor map[string]any

// Field resolves a named actor field, checking the nested "user" record
// before the top level. The second return reports whether the field was
// present with a non-nil value.
func (a Actor) Field(name string) (any, bool) {
	if user, ok := a["user"].(map[string]any); ok {
		if v, ok := user[name]; ok && v != nil {
			return v, true
		}
	}
	if v, ok := a[name]; ok && v != nil {
		return v, true
	}
	return nil, false
}

// Resources holds subject data keyed by table name.
//
// For ordinary subject references the value is a single record
// (map[string]any). For tables referenced by Exists/Count/HasMany the value
// must be a slice of records; a missing key or a non-slice value counts as
// zero rows and is never coerced into a one-row sequence.
type Resources map[string]any

// Env is the evaluation context for a single decision: one actor, one set
// of subject resources.
type Env struct {
	Actor     Actor
	Resources Resources
}

// Rule is an action's authorization rule: either a declarative expression
// (Expr) or an escape-hatch function (RuleFunc).
type Rule interface {
	rule()
}

// RuleFunc is the escape hatch for rules that cannot be written
// declaratively. It receives only the actor, never subject or resource
// data, so the compiler can fold its result into a predicate without
// per-row evaluation.
//
// A RuleFunc must be side-effect-free and cheap: the engine may invoke it
// more than once, e.g. during an outer traversal and again inside a nested
// expansion.
type RuleFunc func(actor Actor) Verdict

func (RuleFunc) rule() {}

// Verdict is the tagged result of a RuleFunc: either a final boolean
// decision or a declarative expression evaluated in its place.
type Verdict struct {
	final   bool
	allowed bool
	expr    Expr
}

// Allow is a final verdict granting access.
func Allow() Verdict {
	return Verdict{final: true, allowed: true}
}

// Deny is a final verdict refusing access.
func Deny() Verdict {
	return Verdict{final: true, allowed: false}
}

// Defer hands the decision to a declarative expression. The expression is
// interpreted in the same context as the rule that produced it, subject to
// the engine's nesting depth limit.
func Defer(e Expr) Verdict {
	return Verdict{expr: e}
}
