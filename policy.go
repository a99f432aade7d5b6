package arbiter

import (
	"fmt"
	"sort"
)

// Policy groups named action rules for one subject label. Policies are
// immutable after construction; composition returns new values.
type Policy struct {
	subject string
	actions map[string]Rule
}

// NewPolicy builds a policy from an action map. The map is copied; later
// mutation of the argument does not affect the policy.
func NewPolicy(subject string, actions map[string]Rule) Policy {
	copied := make(map[string]Rule, len(actions))
	for name, rule := range actions {
		copied[name] = rule
	}
	return Policy{subject: subject, actions: copied}
}

// Subject returns the policy's subject label.
func (p Policy) Subject() string { return p.subject }

// Action returns the rule for a named action. Asking for an undefined
// action is an explicit error, never a silent deny.
func (p Policy) Action(name string) (Rule, error) {
	rule, ok := p.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q on subject %q (defined: %s)",
			ErrUnknownAction, name, p.subject, actionList(p.actions))
	}
	return rule, nil
}

// Actions returns the defined action names, sorted.
func (p Policy) Actions() []string {
	names := make([]string, 0, len(p.actions))
	for name := range p.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extend merges additional actions into a new policy. A name defined in
// both combines conjunctively: the merged action passes only when both
// rules pass. New names are added as-is.
func (p Policy) Extend(actions map[string]Rule) Policy {
	merged := make(map[string]Rule, len(p.actions)+len(actions))
	for name, rule := range p.actions {
		merged[name] = rule
	}
	for name, rule := range actions {
		if existing, ok := merged[name]; ok {
			merged[name] = And(asExpr(existing), asExpr(rule))
		} else {
			merged[name] = rule
		}
	}
	return Policy{subject: p.subject, actions: merged}
}

// AndPolicies folds policies into one whose same-named declarative rules
// combine conjunctively. Escape-hatch function rules do not participate in
// folding and are dropped; this is a documented scope limit of structural
// composition, not an oversight. The result carries the first policy's
// subject label.
func AndPolicies(policies ...Policy) Policy {
	return foldPolicies(kindAnd, policies)
}

// OrPolicies folds policies into one whose same-named declarative rules
// combine disjunctively. Function rules are excluded as in AndPolicies.
func OrPolicies(policies ...Policy) Policy {
	return foldPolicies(kindOr, policies)
}

func foldPolicies(k kind, policies []Policy) Policy {
	subject := ""
	if len(policies) > 0 {
		subject = policies[0].subject
	}
	grouped := make(map[string][]Expr)
	for _, p := range policies {
		for name, rule := range p.actions {
			expr, ok := rule.(Expr)
			if !ok || expr.kind == kindFunc {
				continue
			}
			grouped[name] = append(grouped[name], expr)
		}
	}
	actions := make(map[string]Rule, len(grouped))
	for name, exprs := range grouped {
		if len(exprs) == 1 {
			actions[name] = exprs[0]
			continue
		}
		actions[name] = combine(k, exprs)
	}
	return Policy{subject: subject, actions: actions}
}

// asExpr lifts any rule into expression form so composition can treat the
// action map uniformly.
func asExpr(rule Rule) Expr {
	switch r := rule.(type) {
	case Expr:
		return r
	case RuleFunc:
		return Func(r)
	default:
		return poisoned(fmt.Errorf("%w: %T", ErrUnknownExpressionKind, rule))
	}
}

func actionList(actions map[string]Rule) string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return listOrNone(names)
}
