package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/certen/biscuit/internal/datalog"
	"github.com/certen/biscuit/internal/errs"
	"github.com/certen/biscuit/internal/expr"
	"github.com/certen/biscuit/internal/intern"
	"github.com/certen/biscuit/internal/term"
)

const (
	fldPredicateName  protowire.Number = 1
	fldPredicateTerms protowire.Number = 2
)

func EncodePredicate(p term.Predicate, syms *intern.SymbolTable) []byte {
	var out []byte
	out = appendVarintField(out, fldPredicateName, syms.Intern(p.Name))
	for _, t := range p.Terms {
		out = appendBytesField(out, fldPredicateTerms, EncodeTerm(t, syms))
	}
	return out
}

func DecodePredicate(data []byte, syms *intern.SymbolTable) (term.Predicate, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return term.Predicate{}, err
	}
	nf, ok := findFirst(fields, fldPredicateName)
	if !ok {
		return term.Predicate{}, errs.Validation(errs.CodeMissingField, "predicate missing name")
	}
	name, err := syms.Lookup(fieldVarint(nf))
	if err != nil {
		return term.Predicate{}, err
	}
	var terms []term.Term
	for _, tf := range findAll(fields, fldPredicateTerms) {
		t, err := DecodeTerm(tf.buf, syms)
		if err != nil {
			return term.Predicate{}, err
		}
		terms = append(terms, t)
	}
	return term.NewPredicate(name, terms...), nil
}

const fldFactPredicate protowire.Number = 1

func EncodeFact(f term.Fact, syms *intern.SymbolTable) []byte {
	return appendBytesField(nil, fldFactPredicate, EncodePredicate(f.Predicate, syms))
}

func DecodeFact(data []byte, syms *intern.SymbolTable) (term.Fact, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return term.Fact{}, err
	}
	pf, ok := findFirst(fields, fldFactPredicate)
	if !ok {
		return term.Fact{}, errs.Validation(errs.CodeMissingField, "fact missing predicate")
	}
	p, err := DecodePredicate(pf.buf, syms)
	if err != nil {
		return term.Fact{}, err
	}
	return term.NewFact(p)
}

// --- Scope ---

const (
	fldScopeType      protowire.Number = 1
	fldScopePublicKey protowire.Number = 2
)

const (
	scopeTypeAuthority uint64 = 0
	scopeTypePrevious  uint64 = 1
)

func EncodeScope(s datalog.TrustedScope) []byte {
	switch s.Kind {
	case datalog.ScopeAuthority:
		return appendVarintField(nil, fldScopeType, scopeTypeAuthority)
	case datalog.ScopePrevious:
		return appendVarintField(nil, fldScopeType, scopeTypePrevious)
	case datalog.ScopePublicKey:
		return appendZigzagField(nil, fldScopePublicKey, s.PublicKeyIdx)
	}
	return nil
}

func DecodeScope(data []byte) (datalog.TrustedScope, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return datalog.TrustedScope{}, err
	}
	if f, ok := findFirst(fields, fldScopePublicKey); ok {
		return datalog.PublicKey(protowire.DecodeZigZag(fieldVarint(f))), nil
	}
	if f, ok := findFirst(fields, fldScopeType); ok {
		if fieldVarint(f) == scopeTypePrevious {
			return datalog.Previous(), nil
		}
		return datalog.Authority(), nil
	}
	return datalog.TrustedScope{}, errs.Validation(errs.CodeUnknownScope, "scope has no recognized field")
}

func encodeScopes(scopes []datalog.TrustedScope) []byte {
	var out []byte
	for _, s := range scopes {
		out = appendBytesField(out, 1, EncodeScope(s))
	}
	return out
}

func decodeScopes(data []byte) ([]datalog.TrustedScope, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	var out []datalog.TrustedScope
	for _, f := range findAll(fields, 1) {
		s, err := DecodeScope(f.buf)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// --- Rule (also used to encode a bare Query, which shares its shape) ---

const (
	fldRuleHead  protowire.Number = 1
	fldRuleBody  protowire.Number = 2
	fldRuleExprs protowire.Number = 3
	fldRuleScope protowire.Number = 4
)

func EncodeRule(r datalog.Rule, syms *intern.SymbolTable) []byte {
	var out []byte
	out = appendBytesField(out, fldRuleHead, EncodePredicate(r.Head, syms))
	for _, b := range r.Body {
		out = appendBytesField(out, fldRuleBody, EncodePredicate(b, syms))
	}
	for _, e := range r.Exprs {
		out = appendBytesField(out, fldRuleExprs, EncodeExpression(e, syms))
	}
	if len(r.Trusted) > 0 {
		out = appendBytesField(out, fldRuleScope, encodeScopes(r.Trusted))
	}
	return out
}

func DecodeRule(data []byte, syms *intern.SymbolTable) (datalog.Rule, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return datalog.Rule{}, err
	}
	hf, ok := findFirst(fields, fldRuleHead)
	if !ok {
		return datalog.Rule{}, errs.Validation(errs.CodeMissingField, "rule missing head")
	}
	head, err := DecodePredicate(hf.buf, syms)
	if err != nil {
		return datalog.Rule{}, err
	}
	var body []term.Predicate
	for _, bf := range findAll(fields, fldRuleBody) {
		p, err := DecodePredicate(bf.buf, syms)
		if err != nil {
			return datalog.Rule{}, err
		}
		body = append(body, p)
	}
	var exprs []expr.Expression
	for _, ef := range findAll(fields, fldRuleExprs) {
		e, err := DecodeExpression(ef.buf, syms)
		if err != nil {
			return datalog.Rule{}, err
		}
		exprs = append(exprs, e)
	}
	var trusted []datalog.TrustedScope
	if sf, ok := findFirst(fields, fldRuleScope); ok {
		trusted, err = decodeScopes(sf.buf)
		if err != nil {
			return datalog.Rule{}, err
		}
	}
	return datalog.NewRule(head, body, exprs, trusted)
}

// EncodeQuery/DecodeQuery reuse Rule's wire shape: a Query is a Rule
// without a head, so the head field is omitted.
func EncodeQuery(q datalog.Query, syms *intern.SymbolTable) []byte {
	r := datalog.Rule{Body: q.Body, Exprs: q.Exprs, Trusted: q.Trusted}
	var out []byte
	for _, b := range r.Body {
		out = appendBytesField(out, fldRuleBody, EncodePredicate(b, syms))
	}
	for _, e := range r.Exprs {
		out = appendBytesField(out, fldRuleExprs, EncodeExpression(e, syms))
	}
	if len(r.Trusted) > 0 {
		out = appendBytesField(out, fldRuleScope, encodeScopes(r.Trusted))
	}
	return out
}

func DecodeQuery(data []byte, syms *intern.SymbolTable) (datalog.Query, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return datalog.Query{}, err
	}
	var body []term.Predicate
	for _, bf := range findAll(fields, fldRuleBody) {
		p, err := DecodePredicate(bf.buf, syms)
		if err != nil {
			return datalog.Query{}, err
		}
		body = append(body, p)
	}
	var exprs []expr.Expression
	for _, ef := range findAll(fields, fldRuleExprs) {
		e, err := DecodeExpression(ef.buf, syms)
		if err != nil {
			return datalog.Query{}, err
		}
		exprs = append(exprs, e)
	}
	var trusted []datalog.TrustedScope
	if sf, ok := findFirst(fields, fldRuleScope); ok {
		trusted, err = decodeScopes(sf.buf)
		if err != nil {
			return datalog.Query{}, err
		}
	}
	return datalog.Query{Body: body, Exprs: exprs, Trusted: trusted}, nil
}

// --- CheckV2 ---

const (
	fldCheckQueries protowire.Number = 1
	fldCheckKind    protowire.Number = 2
)

func EncodeCheck(c datalog.Check, syms *intern.SymbolTable) []byte {
	var out []byte
	for _, q := range c.Queries {
		out = appendBytesField(out, fldCheckQueries, EncodeQuery(q, syms))
	}
	// kind defaults to check_if (0) and is omitted to preserve legacy
	// signatures (§9 open-question compatibility note).
	if c.Kind != datalog.CheckIf {
		out = appendVarintField(out, fldCheckKind, uint64(c.Kind))
	}
	return out
}

func DecodeCheck(data []byte, syms *intern.SymbolTable) (datalog.Check, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return datalog.Check{}, err
	}
	var queries []datalog.Query
	for _, qf := range findAll(fields, fldCheckQueries) {
		q, err := DecodeQuery(qf.buf, syms)
		if err != nil {
			return datalog.Check{}, err
		}
		queries = append(queries, q)
	}
	kind := datalog.CheckIf
	if kf, ok := findFirst(fields, fldCheckKind); ok {
		kind = datalog.CheckKind(fieldVarint(kf))
	}
	return datalog.Check{Kind: kind, Queries: queries}, nil
}
