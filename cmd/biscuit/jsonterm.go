package main

// The CLI's fact/check/policy input format is deliberately narrow: ground
// facts plus single-query checks and policies over conjunctions of body
// predicates. It exists to drive `new`/`attenuate`/`authorize` end to end
// from a shell; anything needing expressions, multi-query checks, or
// rules should construct the token/internal/datalog Go values directly —
// this module's datalogtext package is an explicit stub, not this file.

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/certen/biscuit/internal/datalog"
	"github.com/certen/biscuit/internal/term"
	"github.com/certen/biscuit/internal/value"
)

type jsonTerm struct {
	Var   *string `json:"var,omitempty"`
	Str   *string `json:"str,omitempty"`
	Int   *int64  `json:"int,omitempty"`
	Bool  *bool   `json:"bool,omitempty"`
	Bytes *string `json:"bytes,omitempty"` // hex-encoded
	Date  *string `json:"date,omitempty"`  // RFC3339
}

func (jt jsonTerm) toTerm() (term.Term, error) {
	switch {
	case jt.Var != nil:
		return term.Var(*jt.Var), nil
	case jt.Str != nil:
		return term.Val(value.Str(*jt.Str)), nil
	case jt.Int != nil:
		return term.Val(value.Int(*jt.Int)), nil
	case jt.Bool != nil:
		return term.Val(value.Bool(*jt.Bool)), nil
	case jt.Bytes != nil:
		raw, err := hex.DecodeString(*jt.Bytes)
		if err != nil {
			return term.Term{}, fmt.Errorf("decode bytes term: %w", err)
		}
		return term.Val(value.Bytes(raw)), nil
	case jt.Date != nil:
		t, err := time.Parse(time.RFC3339, *jt.Date)
		if err != nil {
			return term.Term{}, fmt.Errorf("decode date term: %w", err)
		}
		return term.Val(value.Date(uint64(t.Unix()))), nil
	default:
		return term.Term{}, fmt.Errorf("term must set exactly one of var/str/int/bool/bytes/date")
	}
}

type jsonPredicate struct {
	Name  string     `json:"name"`
	Terms []jsonTerm `json:"terms"`
}

func (jp jsonPredicate) toPredicate() (term.Predicate, error) {
	terms := make([]term.Term, len(jp.Terms))
	for i, jt := range jp.Terms {
		t, err := jt.toTerm()
		if err != nil {
			return term.Predicate{}, fmt.Errorf("predicate %q term %d: %w", jp.Name, i, err)
		}
		terms[i] = t
	}
	return term.NewPredicate(jp.Name, terms...), nil
}

func (jp jsonPredicate) toFact() (term.Fact, error) {
	p, err := jp.toPredicate()
	if err != nil {
		return term.Fact{}, err
	}
	return term.NewFact(p)
}

type jsonQuery struct {
	Body []jsonPredicate `json:"body"`
}

func (jq jsonQuery) toQuery() (datalog.Query, error) {
	body := make([]term.Predicate, len(jq.Body))
	for i, jp := range jq.Body {
		p, err := jp.toPredicate()
		if err != nil {
			return datalog.Query{}, err
		}
		body[i] = p
	}
	return datalog.Query{Body: body}, nil
}

type jsonCheck struct {
	Kind  string    `json:"kind"` // "check_if", "check_all", "reject_if"
	Query jsonQuery `json:"query"`
}

func (jc jsonCheck) toCheck() (datalog.Check, error) {
	var kind datalog.CheckKind
	switch jc.Kind {
	case "check_if", "":
		kind = datalog.CheckIf
	case "check_all":
		kind = datalog.CheckAll
	case "reject_if":
		kind = datalog.RejectIf
	default:
		return datalog.Check{}, fmt.Errorf("unknown check kind %q", jc.Kind)
	}
	q, err := jc.Query.toQuery()
	if err != nil {
		return datalog.Check{}, err
	}
	return datalog.Check{Kind: kind, Queries: []datalog.Query{q}}, nil
}

type jsonPolicy struct {
	Kind  string    `json:"kind"` // "allow_if", "deny_if"
	Query jsonQuery `json:"query"`
}

func (jp jsonPolicy) toPolicy() (datalog.Policy, error) {
	var kind datalog.PolicyKind
	switch jp.Kind {
	case "allow_if", "":
		kind = datalog.AllowIf
	case "deny_if":
		kind = datalog.DenyIf
	default:
		return datalog.Policy{}, fmt.Errorf("unknown policy kind %q", jp.Kind)
	}
	q, err := jp.Query.toQuery()
	if err != nil {
		return datalog.Policy{}, err
	}
	return datalog.Policy{Kind: kind, Queries: []datalog.Query{q}}, nil
}

// blockFile is the input document for `new`/`attenuate`: the facts and
// checks one block contributes, plus an optional free-form context
// annotation.
type blockFile struct {
	Context string          `json:"context,omitempty"`
	Facts   []jsonPredicate `json:"facts"`
	Checks  []jsonCheck     `json:"checks,omitempty"`
}

func loadBlockFile(path string) (string, []term.Fact, []datalog.Check, error) {
	data, err := readFile(path)
	if err != nil {
		return "", nil, nil, err
	}
	var bf blockFile
	if err := json.Unmarshal(data, &bf); err != nil {
		return "", nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	facts := make([]term.Fact, len(bf.Facts))
	for i, jp := range bf.Facts {
		f, err := jp.toFact()
		if err != nil {
			return "", nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		facts[i] = f
	}
	checks := make([]datalog.Check, len(bf.Checks))
	for i, jc := range bf.Checks {
		c, err := jc.toCheck()
		if err != nil {
			return "", nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		checks[i] = c
	}
	return bf.Context, facts, checks, nil
}

// authorizerFile is the input document for `authorize`: the ambient
// facts, checks, and ordered policies supplied at the point of use.
type authorizerFile struct {
	Facts    []jsonPredicate `json:"facts"`
	Checks   []jsonCheck     `json:"checks"`
	Policies []jsonPolicy    `json:"policies"`
}

func loadAuthorizerFile(path string) ([]term.Fact, []datalog.Check, []datalog.Policy, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	var af authorizerFile
	if err := json.Unmarshal(data, &af); err != nil {
		return nil, nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	facts := make([]term.Fact, len(af.Facts))
	for i, jp := range af.Facts {
		f, err := jp.toFact()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		facts[i] = f
	}
	checks := make([]datalog.Check, len(af.Checks))
	for i, jc := range af.Checks {
		c, err := jc.toCheck()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		checks[i] = c
	}
	policies := make([]datalog.Policy, len(af.Policies))
	for i, jp := range af.Policies {
		p, err := jp.toPolicy()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		policies[i] = p
	}
	return facts, checks, policies, nil
}
