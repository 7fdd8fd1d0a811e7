package term

import (
	"testing"

	"github.com/certen/biscuit/internal/value"
)

func TestResolveConcreteTerm(t *testing.T) {
	tm := Val(value.Str("alice"))
	v, err := tm.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s, _ := v.AsString(); s != "alice" {
		t.Fatalf("resolved value = %q, want alice", s)
	}
}

func TestResolveUnboundVariable(t *testing.T) {
	tm := Var("x")
	if _, err := tm.Resolve(map[string]value.Value{}); err == nil {
		t.Fatal("expected an error resolving an unbound variable")
	}
}

func TestResolveBoundVariable(t *testing.T) {
	tm := Var("x")
	bindings := map[string]value.Value{"x": value.Int(42)}
	v, err := tm.Resolve(bindings)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if i, _ := v.AsInt(); i != 42 {
		t.Fatalf("resolved value = %d, want 42", i)
	}
}

func TestPredicateVariables(t *testing.T) {
	p := NewPredicate("right", Var("user"), Val(value.Str("read")), Var("resource"))
	vars := p.Variables()
	if len(vars) != 2 {
		t.Fatalf("Variables() returned %d entries, want 2: %v", len(vars), vars)
	}
	if _, ok := vars["user"]; !ok {
		t.Fatal(`expected "user" among the predicate's variables`)
	}
	if _, ok := vars["resource"]; !ok {
		t.Fatal(`expected "resource" among the predicate's variables`)
	}
}

func TestNewFactRejectsVariables(t *testing.T) {
	p := NewPredicate("user", Var("x"))
	if _, err := NewFact(p); err == nil {
		t.Fatal("expected an error constructing a fact from a predicate with a variable")
	}
}

func TestNewFactAcceptsGroundPredicate(t *testing.T) {
	p := NewPredicate("user", Val(value.Str("alice")))
	f, err := NewFact(p)
	if err != nil {
		t.Fatalf("NewFact: %v", err)
	}
	if f.Predicate.Arity() != 1 {
		t.Fatalf("Arity() = %d, want 1", f.Predicate.Arity())
	}
}

func TestMustFactPanicsOnVariable(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected MustFact to panic on a non-ground predicate")
		}
	}()
	MustFact(NewPredicate("user", Var("x")))
}
