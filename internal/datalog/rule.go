package datalog

import (
	"github.com/certen/biscuit/internal/errs"
	"github.com/certen/biscuit/internal/expr"
	"github.com/certen/biscuit/internal/term"
)

// Query is a list of body predicates plus expressions that must all hold
// for a variable binding, restricted to an optional trusted scope.
type Query struct {
	Body    []term.Predicate
	Exprs   []expr.Expression
	Trusted []TrustedScope
}

// Rule derives Head from Body + Exprs, restricted to an optional trusted
// scope. Every variable in Head must appear in some Body predicate — this
// is validated by NewRule, matching the "rules must not leave a head
// variable unbound" invariant (§3).
type Rule struct {
	Head    term.Predicate
	Body    []term.Predicate
	Exprs   []expr.Expression
	Trusted []TrustedScope
}

// NewRule validates head-variable groundedness and constructs a Rule.
func NewRule(head term.Predicate, body []term.Predicate, exprs []expr.Expression, trusted []TrustedScope) (Rule, error) {
	bodyVars := map[string]struct{}{}
	for _, p := range body {
		for v := range p.Variables() {
			bodyVars[v] = struct{}{}
		}
	}
	for v := range head.Variables() {
		if _, ok := bodyVars[v]; !ok {
			return Rule{}, errs.Validation(errs.CodeUnboundVariableInHead, "rule head variable $%s does not appear in the body", v)
		}
	}
	return Rule{Head: head, Body: body, Exprs: exprs, Trusted: trusted}, nil
}

// CheckKind selects how a Check's queries combine into a pass/fail result.
type CheckKind int

const (
	CheckIf CheckKind = iota
	CheckAll
	RejectIf
)

// Check is a constraint validated after the fixpoint: check_if passes if
// any query succeeds, check_all passes if for some query every binding that
// satisfies its predicates also satisfies its expressions, reject_if is
// check_if's negation.
type Check struct {
	Kind    CheckKind
	Queries []Query
}

// PolicyKind selects whether a matching Policy allows or denies.
type PolicyKind int

const (
	AllowIf PolicyKind = iota
	DenyIf
)

// Policy is an authorizer-only ordered alternative: the first Policy whose
// query succeeds decides the authorization outcome.
type Policy struct {
	Kind    PolicyKind
	Queries []Query
}
