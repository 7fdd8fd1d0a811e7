// Package term models the Term/Predicate/Fact layer of the term algebra:
// a Term is either a concrete Value or a named variable; a Predicate pairs
// a name with an ordered list of Terms; a Fact is a Predicate whose every
// term is concrete.
package term

import (
	"fmt"
	"strings"

	"github.com/certen/biscuit/internal/errs"
	"github.com/certen/biscuit/internal/value"
)

// Term is either a concrete Value or an unresolved variable name.
type Term struct {
	variable string
	val      value.Value
	isVar    bool
}

func Var(name string) Term       { return Term{variable: name, isVar: true} }
func Val(v value.Value) Term     { return Term{val: v} }

func (t Term) IsVariable() bool      { return t.isVar }
func (t Term) Variable() string      { return t.variable }
func (t Term) Value() value.Value    { return t.val }

func (t Term) String() string {
	if t.isVar {
		return "$" + t.variable
	}
	return t.val.String()
}

// Resolve substitutes a variable using bindings, returning the concrete
// Value. Returns CodeUnknownVariable if the term is an unresolved variable
// absent from bindings.
func (t Term) Resolve(bindings map[string]value.Value) (value.Value, error) {
	if !t.isVar {
		return t.val, nil
	}
	v, ok := bindings[t.variable]
	if !ok {
		return value.Value{}, errs.Evaluation(errs.CodeUnknownVariable, "unbound variable $%s", t.variable)
	}
	return v, nil
}

// Predicate is a named, ordered list of Terms.
type Predicate struct {
	Name  string
	Terms []Term
}

func NewPredicate(name string, terms ...Term) Predicate {
	return Predicate{Name: name, Terms: terms}
}

func (p Predicate) Arity() int { return len(p.Terms) }

func (p Predicate) String() string {
	parts := make([]string, len(p.Terms))
	for i, t := range p.Terms {
		parts[i] = t.String()
	}
	return fmt.Sprintf("%s(%s)", p.Name, strings.Join(parts, ", "))
}

// Variables returns the set of variable names appearing in the predicate.
func (p Predicate) Variables() map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range p.Terms {
		if t.IsVariable() {
			out[t.Variable()] = struct{}{}
		}
	}
	return out
}

// Fact is a Predicate guaranteed to have no variable terms.
type Fact struct {
	Predicate Predicate
}

// NewFact validates groundness (CodeVariableInFact on failure) and
// constructs a Fact.
func NewFact(p Predicate) (Fact, error) {
	for _, t := range p.Terms {
		if t.IsVariable() {
			return Fact{}, errs.Validation(errs.CodeVariableInFact, "fact %q contains variable $%s", p.Name, t.Variable())
		}
	}
	return Fact{Predicate: p}, nil
}

// MustFact panics on a non-ground predicate; for facts whose groundness is
// guaranteed by construction, such as literal facts in tests.
func MustFact(p Predicate) Fact {
	f, err := NewFact(p)
	if err != nil {
		panic(err)
	}
	return f
}
