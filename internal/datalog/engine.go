// Package datalog implements the fixpoint resolution engine (§4.5): rule
// saturation over scope-restricted fact sets, kept as stable/recent/new
// sets, where each round matches rule bodies against all of stable and
// recent rather than only bindings that use a recent fact, followed by
// check and policy validation. It knows nothing about the chain's signing
// or wire format — it consumes plain facts and rules tagged by block
// origin and produces an allow/deny Decision.
package datalog

import (
	"fmt"
	"sort"

	"github.com/certen/biscuit/internal/errs"
	"github.com/certen/biscuit/internal/expr"
	"github.com/certen/biscuit/internal/term"
	"github.com/certen/biscuit/internal/value"
)

// FactScope tags a fact's origin: either the authorizer or a specific
// chain block index.
type FactScope struct {
	Authorizer bool
	Block      int
}

func AuthorizerScope() FactScope    { return FactScope{Authorizer: true} }
func BlockScope(i int) FactScope    { return FactScope{Block: i} }

func (s FactScope) String() string {
	if s.Authorizer {
		return "authorizer"
	}
	return fmt.Sprintf("block(%d)", s.Block)
}

type scopedFact struct {
	scope FactScope
	fact  term.Fact
}

func factKey(sf scopedFact) string {
	parts := make([]string, len(sf.fact.Predicate.Terms))
	for i, t := range sf.fact.Predicate.Terms {
		parts[i] = t.Value().String()
	}
	return fmt.Sprintf("%s|%s/%d|%v", sf.scope, sf.fact.Predicate.Name, len(parts), parts)
}

// BlockProgram is one block's contribution to the combined program: the
// facts it asserts and the rules it derives with, plus its trusted scope
// declaration (used when a rule doesn't declare its own).
type BlockProgram struct {
	Facts           []term.Fact
	Rules           []Rule
	DeclaredTrusted []TrustedScope
	Signature       []byte // revocation_id fact input; nil for the authorizer
}

// Limits bounds the fixpoint; a nil pointer means unbounded.
type Limits struct {
	MaxFacts      *int
	MaxIterations *int
}

// Decision is the outcome of running the fixpoint and validating checks
// and policies against it.
type Decision struct {
	Allowed bool
	// Err carries the authorization failure (failing check, denying
	// policy, or "no successful policy") when Allowed is false.
	Err *errs.Error
}

// Context holds the fixpoint's saturated fact set plus enough bookkeeping
// to validate checks and policies against it.
type Context struct {
	facts      map[string]scopedFact
	blockCount int
	verified   ThirdPartyVerified
}

// Run saturates authorizerFacts/authorizerRules together with each block's
// facts/rules to a fixpoint, subject to limits, and returns a queryable
// Context. It does not itself decide authorization — call ValidateChecks
// and ValidatePolicies (or Query) against the result.
func Run(authorizerFacts []term.Fact, authorizerRules []Rule, blocks []BlockProgram, verified ThirdPartyVerified, limits Limits) (*Context, error) {
	ctx := &Context{
		facts:      map[string]scopedFact{},
		blockCount: len(blocks),
		verified:   verified,
	}

	stable := map[string]scopedFact{}
	recent := map[string]scopedFact{}

	add := func(dst map[string]scopedFact, scope FactScope, f term.Fact) {
		sf := scopedFact{scope: scope, fact: f}
		dst[factKey(sf)] = sf
	}

	for _, f := range authorizerFacts {
		add(recent, AuthorizerScope(), f)
	}
	for i, b := range blocks {
		for _, f := range b.Facts {
			add(recent, BlockScope(i), f)
		}
		if b.Signature != nil {
			revFact, err := term.NewFact(term.NewPredicate("revocation_id",
				term.Val(value.Int(int64(i))),
				term.Val(value.Bytes(b.Signature)),
			))
			if err != nil {
				return nil, err
			}
			add(recent, AuthorizerScope(), revFact)
		}
	}

	totalFacts := func() int { return len(stable) + len(recent) }

	iterations := 0
	for len(recent) > 0 {
		if limits.MaxIterations != nil && iterations >= *limits.MaxIterations {
			return nil, errs.Evaluation(errs.CodeTooManyIterations, "resolution exceeded %d iterations", *limits.MaxIterations)
		}
		iterations++

		newFacts := map[string]scopedFact{}

		applyRule := func(r Rule, scope FactScope, authorizerCtx bool, blockIdx int) error {
			visible := Expand(effectiveTrusted(r.Trusted, blocks, blockIdx, authorizerCtx), blockIdx, authorizerCtx, ctx.verified, ctx.blockCount)
			universe := unionVisible(stable, recent, visible)
			bindingsList := matchBody(r.Body, universe, nil)
			for _, bindings := range bindingsList {
				ok, err := evalAll(r.Exprs, bindings)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				headTerms := make([]term.Term, len(r.Head.Terms))
				for i, t := range r.Head.Terms {
					v, err := t.Resolve(bindings)
					if err != nil {
						return err
					}
					headTerms[i] = term.Val(v)
				}
				f, err := term.NewFact(term.NewPredicate(r.Head.Name, headTerms...))
				if err != nil {
					return err
				}
				sf := scopedFact{scope: scope, fact: f}
				key := factKey(sf)
				if _, inStable := stable[key]; inStable {
					continue
				}
				if _, inRecent := recent[key]; inRecent {
					continue
				}
				newFacts[key] = sf
			}
			return nil
		}

		for _, r := range authorizerRules {
			if err := applyRule(r, AuthorizerScope(), true, -1); err != nil {
				return nil, err
			}
		}
		for i, b := range blocks {
			for _, r := range b.Rules {
				if err := applyRule(r, BlockScope(i), false, i); err != nil {
					return nil, err
				}
			}
		}

		for k, v := range recent {
			stable[k] = v
		}
		recent = newFacts

		if limits.MaxFacts != nil && totalFacts() > *limits.MaxFacts {
			return nil, errs.Evaluation(errs.CodeTooManyFacts, "resolution exceeded %d facts", *limits.MaxFacts)
		}
	}

	for k, v := range stable {
		ctx.facts[k] = v
	}
	return ctx, nil
}

// effectiveTrusted picks a rule's own trusted scope, falling back to the
// owning block's declared trust, falling back to {authorizer, block(i)}.
func effectiveTrusted(ruleTrusted []TrustedScope, blocks []BlockProgram, blockIdx int, authorizerCtx bool) []TrustedScope {
	if len(ruleTrusted) > 0 {
		return ruleTrusted
	}
	if !authorizerCtx && blockIdx >= 0 && blockIdx < len(blocks) && len(blocks[blockIdx].DeclaredTrusted) > 0 {
		return blocks[blockIdx].DeclaredTrusted
	}
	return nil // Expand treats empty as {block(i)} ∪ {0}, which already covers the default
}

// unionVisible returns the facts from stable+recent whose scope is in the
// visible set (or, for the authorizer's own facts, always included since
// the authorizer trusts itself).
func unionVisible(stable, recent map[string]scopedFact, visible map[int]bool) []scopedFact {
	var out []scopedFact
	consider := func(m map[string]scopedFact) {
		for _, sf := range m {
			if sf.scope.Authorizer || visible[sf.scope.Block] {
				out = append(out, sf)
			}
		}
	}
	consider(stable)
	consider(recent)
	return out
}

// matchBody finds every variable binding under which every body predicate
// is satisfied by some visible fact, requiring predicate name+arity match
// and concrete-term equality, with variables consistent across repeats.
func matchBody(body []term.Predicate, universe []scopedFact, seed map[string]value.Value) []map[string]value.Value {
	bindings := []map[string]value.Value{cloneBindings(seed)}
	for _, pred := range body {
		var next []map[string]value.Value
		for _, b := range bindings {
			for _, sf := range universe {
				if sf.fact.Predicate.Name != pred.Name || len(sf.fact.Predicate.Terms) != len(pred.Terms) {
					continue
				}
				nb, ok := unify(pred, sf.fact, b)
				if ok {
					next = append(next, nb)
				}
			}
		}
		bindings = next
		if len(bindings) == 0 {
			return nil
		}
	}
	return bindings
}

func cloneBindings(b map[string]value.Value) map[string]value.Value {
	out := map[string]value.Value{}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func unify(pred term.Predicate, fact term.Fact, bindings map[string]value.Value) (map[string]value.Value, bool) {
	out := cloneBindings(bindings)
	for i, t := range pred.Terms {
		fv := fact.Predicate.Terms[i].Value()
		if t.IsVariable() {
			if existing, ok := out[t.Variable()]; ok {
				if !existing.EqualStrict(fv) {
					return nil, false
				}
				continue
			}
			out[t.Variable()] = fv
			continue
		}
		if !t.Value().EqualStrict(fv) {
			return nil, false
		}
	}
	return out, true
}

func evalAll(exprs []expr.Expression, bindings map[string]value.Value) (bool, error) {
	for _, e := range exprs {
		ok, err := e.Evaluate(bindings)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// runQuery evaluates a Query against ctx's saturated facts at an optional
// block index context, returning every satisfying binding.
func (ctx *Context) runQuery(q Query, blockIdx int, authorizerCtx bool) ([]map[string]value.Value, error) {
	trusted := q.Trusted
	visible := Expand(trusted, blockIdx, authorizerCtx, ctx.verified, ctx.blockCount)
	var universe []scopedFact
	for _, sf := range ctx.facts {
		if sf.scope.Authorizer {
			universe = append(universe, sf)
			continue
		}
		if visible[sf.scope.Block] {
			universe = append(universe, sf)
		}
	}
	bindingsList := matchBody(q.Body, universe, nil)
	var out []map[string]value.Value
	for _, b := range bindingsList {
		ok, err := evalAll(q.Exprs, b)
		if err != nil {
			if errs.Is(err, errs.CodeTypeError) {
				continue
			}
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// ValidateChecks validates the authorizer's own checks, then every block's
// declared checks. Each query sees all authorizer facts plus the blocks its
// own trusted scope expands to (an empty scope gives block 0 and the
// executing block). A block's declared trust is not consulted for its checks.
func ValidateChecks(ctx *Context, authorizerChecks []Check, blockChecks [][]Check) *errs.Error {
	for _, c := range authorizerChecks {
		if e := validateCheck(ctx, c, -1, true); e != nil {
			return e
		}
	}
	for i, checks := range blockChecks {
		for _, c := range checks {
			if e := validateCheck(ctx, c, i, false); e != nil {
				return e
			}
		}
	}
	return nil
}

func validateCheck(ctx *Context, c Check, blockIdx int, authorizerCtx bool) *errs.Error {
	anySucceeded := false
	for _, q := range c.Queries {
		bindings, err := ctx.runQuery(q, blockIdx, authorizerCtx)
		if err != nil {
			if e, ok := errs.As(err); ok {
				return e
			}
			return errs.Evaluation(errs.CodeTypeError, "%v", err)
		}
		switch c.Kind {
		case CheckIf, RejectIf:
			if len(bindings) > 0 {
				anySucceeded = true
			}
		case CheckAll:
			ground, gerr := matchBodyGroundCount(ctx, q, blockIdx, authorizerCtx)
			if gerr != nil {
				return gerr
			}
			if len(bindings) == ground {
				anySucceeded = true
			}
		}
	}
	switch c.Kind {
	case CheckIf:
		if !anySucceeded {
			return errs.Authorization(errs.CodeFailedCheck, c, "check_if failed")
		}
	case CheckAll:
		if !anySucceeded {
			return errs.Authorization(errs.CodeFailedCheck, c, "check_all failed")
		}
	case RejectIf:
		if anySucceeded {
			return errs.Authorization(errs.CodeFailedCheck, c, "reject_if matched")
		}
	}
	return nil
}

// matchBodyGroundCount counts every binding that satisfies a query's body
// predicates regardless of its expressions, so check_all can compare
// "bindings satisfying predicates" against "bindings also satisfying
// expressions".
func matchBodyGroundCount(ctx *Context, q Query, blockIdx int, authorizerCtx bool) (int, *errs.Error) {
	visible := Expand(q.Trusted, blockIdx, authorizerCtx, ctx.verified, ctx.blockCount)
	var universe []scopedFact
	for _, sf := range ctx.facts {
		if sf.scope.Authorizer || visible[sf.scope.Block] {
			universe = append(universe, sf)
		}
	}
	return len(matchBody(q.Body, universe, nil)), nil
}

// ValidatePolicies evaluates authorizer policies in order; the first
// matching query decides the outcome.
func ValidatePolicies(ctx *Context, policies []Policy) Decision {
	for _, p := range policies {
		for _, q := range p.Queries {
			bindings, err := ctx.runQuery(q, -1, true)
			if err != nil {
				continue
			}
			if len(bindings) == 0 {
				continue
			}
			switch p.Kind {
			case AllowIf:
				return Decision{Allowed: true}
			case DenyIf:
				return Decision{Allowed: false, Err: errs.Authorization(errs.CodeDeniedByPolicy, p, "denied by policy")}
			}
		}
	}
	return Decision{Allowed: false, Err: errs.Authorization(errs.CodeNoSuccessfulPolicy, nil, "no successful policy")}
}

// EvaluateCheck evaluates a single Check against ctx without requiring any
// policy to match (§4.6 "query(check|datalog) → bool").
func EvaluateCheck(ctx *Context, c Check) (bool, error) {
	if e := validateCheck(ctx, c, -1, true); e != nil {
		if e.Code == errs.CodeFailedCheck {
			return false, nil
		}
		return false, e
	}
	return true, nil
}

// Facts returns the saturated fact set, sorted for deterministic
// iteration (§5 "implementations should use a deterministic iteration
// order").
func (ctx *Context) Facts() []term.Fact {
	keys := make([]string, 0, len(ctx.facts))
	for k := range ctx.facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]term.Fact, 0, len(keys))
	for _, k := range keys {
		out = append(out, ctx.facts[k].fact)
	}
	return out
}
