package datalog

import (
	"testing"

	"github.com/certen/biscuit/internal/errs"
	"github.com/certen/biscuit/internal/term"
	"github.com/certen/biscuit/internal/value"
)

func userFact(name string) term.Fact {
	return term.MustFact(term.NewPredicate("user", term.Val(value.Str(name))))
}

func queryUser(name string) Query {
	return Query{Body: []term.Predicate{term.NewPredicate("user", term.Val(value.Str(name)))}}
}

func TestRunSaturatesRuleDerivedFacts(t *testing.T) {
	blocks := []BlockProgram{{Facts: []term.Fact{userFact("alice")}}}
	rule, err := NewRule(
		term.NewPredicate("allowed", term.Var("x")),
		[]term.Predicate{term.NewPredicate("user", term.Var("x"))},
		nil, nil,
	)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}

	ctx, err := Run(nil, []Rule{rule}, blocks, noneVerified, Limits{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	found := false
	for _, f := range ctx.Facts() {
		if f.Predicate.Name == "allowed" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the fixpoint to derive an \"allowed\" fact from the rule")
	}
}

func TestRunEnforcesMaxFacts(t *testing.T) {
	blocks := []BlockProgram{{Facts: []term.Fact{userFact("alice")}}}
	limit := 0
	_, err := Run(nil, nil, blocks, noneVerified, Limits{MaxFacts: &limit})
	if err == nil {
		t.Fatal("expected a too-many-facts error")
	}
	if !errs.Is(err, errs.CodeTooManyFacts) {
		t.Fatalf("expected CodeTooManyFacts, got %v", err)
	}
}

func TestRunEnforcesMaxIterations(t *testing.T) {
	blocks := []BlockProgram{{Facts: []term.Fact{userFact("alice")}}}
	rule, err := NewRule(
		term.NewPredicate("allowed", term.Var("x")),
		[]term.Predicate{term.NewPredicate("user", term.Var("x"))},
		nil, nil,
	)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	zero := 0
	_, err = Run(nil, []Rule{rule}, blocks, noneVerified, Limits{MaxIterations: &zero})
	if err == nil {
		t.Fatal("expected a too-many-iterations error")
	}
	if !errs.Is(err, errs.CodeTooManyIterations) {
		t.Fatalf("expected CodeTooManyIterations, got %v", err)
	}
}

func TestValidateChecksCheckIfPassAndFail(t *testing.T) {
	blocks := []BlockProgram{{Facts: []term.Fact{userFact("alice")}}}
	ctx, err := Run(nil, nil, blocks, noneVerified, Limits{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	pass := Check{Kind: CheckIf, Queries: []Query{queryUser("alice")}}
	if e := ValidateChecks(ctx, nil, [][]Check{{pass}}); e != nil {
		t.Fatalf("expected check_if to pass: %v", e)
	}

	fail := Check{Kind: CheckIf, Queries: []Query{queryUser("bob")}}
	e := ValidateChecks(ctx, nil, [][]Check{{fail}})
	if e == nil {
		t.Fatal("expected check_if to fail for an absent fact")
	}
	if e.Code != errs.CodeFailedCheck {
		t.Fatalf("expected CodeFailedCheck, got %v", e.Code)
	}
}

func TestValidateChecksRejectIf(t *testing.T) {
	blocks := []BlockProgram{{Facts: []term.Fact{userFact("alice")}}}
	ctx, err := Run(nil, nil, blocks, noneVerified, Limits{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	matching := Check{Kind: RejectIf, Queries: []Query{queryUser("alice")}}
	if e := ValidateChecks(ctx, nil, [][]Check{{matching}}); e == nil {
		t.Fatal("expected reject_if to fail when its query matches")
	}

	nonMatching := Check{Kind: RejectIf, Queries: []Query{queryUser("bob")}}
	if e := ValidateChecks(ctx, nil, [][]Check{{nonMatching}}); e != nil {
		t.Fatalf("expected reject_if to pass when its query does not match: %v", e)
	}
}

func TestValidateChecksCheckAll(t *testing.T) {
	blocks := []BlockProgram{{Facts: []term.Fact{userFact("alice"), userFact("bob")}}}
	ctx, err := Run(nil, nil, blocks, noneVerified, Limits{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	allUsers := Query{Body: []term.Predicate{term.NewPredicate("user", term.Var("x"))}}
	c := Check{Kind: CheckAll, Queries: []Query{allUsers}}
	if e := ValidateChecks(ctx, nil, [][]Check{{c}}); e != nil {
		t.Fatalf("expected check_all with no expressions to pass trivially: %v", e)
	}
}

func TestValidatePoliciesAllowDenyNoMatch(t *testing.T) {
	blocks := []BlockProgram{{Facts: []term.Fact{userFact("alice")}}}
	ctx, err := Run(nil, nil, blocks, noneVerified, Limits{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	allow := Policy{Kind: AllowIf, Queries: []Query{queryUser("alice")}}
	d := ValidatePolicies(ctx, []Policy{allow})
	if !d.Allowed {
		t.Fatalf("expected allow_if to grant authorization: %v", d.Err)
	}

	deny := Policy{Kind: DenyIf, Queries: []Query{queryUser("alice")}}
	d = ValidatePolicies(ctx, []Policy{deny})
	if d.Allowed || d.Err == nil || d.Err.Code != errs.CodeDeniedByPolicy {
		t.Fatalf("expected deny_if to deny authorization, got %v", d)
	}

	noMatch := Policy{Kind: AllowIf, Queries: []Query{queryUser("nobody")}}
	d = ValidatePolicies(ctx, []Policy{noMatch})
	if d.Allowed || d.Err == nil || d.Err.Code != errs.CodeNoSuccessfulPolicy {
		t.Fatalf("expected no-successful-policy outcome, got %v", d)
	}
}

func TestEvaluateCheckReturnsBoolWithoutPolicy(t *testing.T) {
	blocks := []BlockProgram{{Facts: []term.Fact{userFact("alice")}}}
	ctx, err := Run(nil, nil, blocks, noneVerified, Limits{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ok, err := EvaluateCheck(ctx, Check{Kind: CheckIf, Queries: []Query{queryUser("alice")}})
	if err != nil || !ok {
		t.Fatalf("EvaluateCheck(alice) = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = EvaluateCheck(ctx, Check{Kind: CheckIf, Queries: []Query{queryUser("bob")}})
	if err != nil || ok {
		t.Fatalf("EvaluateCheck(bob) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestContextFactsDeterministicOrder(t *testing.T) {
	blocks := []BlockProgram{{Facts: []term.Fact{userFact("bob"), userFact("alice")}}}
	ctx, err := Run(nil, nil, blocks, noneVerified, Limits{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	first := ctx.Facts()
	second := ctx.Facts()
	if len(first) != len(second) {
		t.Fatal("Facts() returned different lengths across calls")
	}
	for i := range first {
		if first[i].Predicate.String() != second[i].Predicate.String() {
			t.Fatal("Facts() order is not deterministic across calls")
		}
	}
}
