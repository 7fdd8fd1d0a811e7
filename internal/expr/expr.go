// Package expr implements the expression engine: a stack machine over a
// postfix op-list whose operands are either concrete Values or Closures.
//
// Closures are first-class stack elements used only as operands to the
// lazy/higher-order binary operators (any, all, lazy_and, lazy_or,
// try_or). Evaluation is otherwise a straight left-to-right walk of the
// op-list: value(Term) resolves and pushes, unary(kind) pops one operand,
// binary(kind) pops two (right operand on top of the stack, popped first).
package expr

import (
	"regexp"
	"strings"

	"github.com/certen/biscuit/internal/errs"
	"github.com/certen/biscuit/internal/term"
	"github.com/certen/biscuit/internal/value"
)

type UnaryKind int

const (
	UnaryNot UnaryKind = iota
	UnaryLength
	UnaryTypeOf
)

type BinaryKind int

const (
	BinLessThan BinaryKind = iota
	BinGreaterThan
	BinLessOrEqual
	BinGreaterOrEqual
	BinEqual
	BinNotEqual
	BinStrictEqual
	BinStrictNotEqual
	BinAdd
	BinSub
	BinMul
	BinDiv
	BinBitAnd
	BinBitOr
	BinBitXor
	BinAnd
	BinOr
	BinLazyAnd
	BinLazyOr
	BinContains
	BinStartsWith
	BinEndsWith
	BinMatches
	BinIntersection
	BinUnion
	BinGet
	BinAny
	BinAll
	BinTryOr
)

// OpKind discriminates the four Op constructors. Exported so that
// serialization layers outside this package (the wire encoder) can
// introspect an Op without the engine exposing its internal stack
// machinery.
type OpKind int

const (
	OpKindValue OpKind = iota
	OpKindUnary
	OpKindBinary
	OpKindClosure
)

// opTag is kept as an alias of the exported OpKind so the rest of this
// file's switches read the same as before the type was exported.
type opTag = OpKind

const (
	tagValue  = OpKindValue
	tagUnary  = OpKindUnary
	tagBinary = OpKindBinary
	tagClosure = OpKindClosure
)

// Op is one instruction of a postfix expression program.
type Op struct {
	tag    opTag
	term   term.Term
	unary  UnaryKind
	binary BinaryKind
	clo    Closure
}

func OpValue(t term.Term) Op        { return Op{tag: tagValue, term: t} }
func OpUnary(k UnaryKind) Op        { return Op{tag: tagUnary, unary: k} }
func OpBinary(k BinaryKind) Op      { return Op{tag: tagBinary, binary: k} }
func OpClosure(c Closure) Op        { return Op{tag: tagClosure, clo: c} }

// Kind, Term, Unary, Binary, and ClosureVal expose an Op's fields for
// code outside the package that needs to walk the op-list structurally
// (the wire encoder's ExpressionV2 representation).
func (o Op) Kind() OpKind        { return o.tag }
func (o Op) Term() term.Term     { return o.term }
func (o Op) Unary() UnaryKind    { return o.unary }
func (o Op) Binary() BinaryKind  { return o.binary }
func (o Op) ClosureVal() Closure { return o.clo }

// Closure is an ordered parameter list plus a nested op-list.
type Closure struct {
	Params []string
	Ops    []Op
}

// Expression is an ordered list of ops forming a postfix program. A
// top-level Expression must evaluate to exactly one bool.
type Expression struct {
	Ops []Op
}

func New(ops ...Op) Expression { return Expression{Ops: ops} }

// elem is a stack slot: either a concrete Value or a Closure.
type elem struct {
	isClosure bool
	val       value.Value
	clo       Closure
}

func valElem(v value.Value) elem { return elem{val: v} }
func cloElem(c Closure) elem     { return elem{isClosure: true, clo: c} }

// Evaluate runs the expression against the given variable bindings and
// requires the result to be a single bool.
func (e Expression) Evaluate(bindings map[string]value.Value) (bool, error) {
	stack, err := run(e.Ops, bindings)
	if err != nil {
		return false, err
	}
	if len(stack) != 1 {
		return false, errs.Evaluation(errs.CodeInvalidExpression, "expression left %d values on the stack, want 1", len(stack))
	}
	top := stack[0]
	if top.isClosure {
		return false, errs.Evaluation(errs.CodeClosureEvalToClosure, "top-level expression evaluated to a closure")
	}
	b, ok := top.val.AsBool()
	if !ok {
		return false, errs.Evaluation(errs.CodeNonBooleanExpression, "expression evaluated to %s, want bool", top.val.TypeName())
	}
	return b, nil
}

// run executes an op-list against bindings and returns the final stack.
func run(ops []Op, bindings map[string]value.Value) ([]elem, error) {
	var stack []elem
	for _, op := range ops {
		switch op.tag {
		case tagValue:
			v, err := op.term.Resolve(bindings)
			if err != nil {
				return nil, err
			}
			stack = append(stack, valElem(v))
		case tagClosure:
			stack = append(stack, cloElem(op.clo))
		case tagUnary:
			if len(stack) < 1 {
				return nil, errs.Evaluation(errs.CodeInvalidExpression, "unary op with empty stack")
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			res, err := applyUnary(op.unary, top)
			if err != nil {
				return nil, err
			}
			stack = append(stack, res)
		case tagBinary:
			if len(stack) < 2 {
				return nil, errs.Evaluation(errs.CodeInvalidExpression, "binary op with fewer than 2 operands")
			}
			right := stack[len(stack)-1]
			left := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			res, err := applyBinary(op.binary, left, right, bindings)
			if err != nil {
				return nil, err
			}
			stack = append(stack, res)
		}
	}
	return stack, nil
}

func applyUnary(k UnaryKind, x elem) (elem, error) {
	if x.isClosure {
		return elem{}, errs.Evaluation(errs.CodeInvalidUnaryOp, "unary op applied to a closure")
	}
	v := x.val
	switch k {
	case UnaryNot:
		b, ok := v.AsBool()
		if !ok {
			return elem{}, typeErr("!", v)
		}
		return valElem(value.Bool(!b)), nil
	case UnaryLength:
		switch v.Kind() {
		case value.KindString:
			s, _ := v.AsString()
			return valElem(value.Int(int64(len(s)))), nil
		case value.KindBytes:
			b, _ := v.AsBytes()
			return valElem(value.Int(int64(len(b)))), nil
		case value.KindSet:
			s, _ := v.AsSet()
			return valElem(value.Int(int64(len(s)))), nil
		case value.KindArray:
			a, _ := v.AsArray()
			return valElem(value.Int(int64(len(a)))), nil
		case value.KindMap:
			return valElem(value.Int(int64(v.MapLen()))), nil
		default:
			return elem{}, typeErr("length", v)
		}
	case UnaryTypeOf:
		return valElem(value.Str(v.TypeName())), nil
	}
	return elem{}, errs.Evaluation(errs.CodeInvalidUnaryOp, "unknown unary op")
}

func typeErr(op string, vs ...value.Value) error {
	return errs.Evaluation(errs.CodeTypeError, "type error in %q", op)
}

// invokeClosure calls a nullary-or-more closure with concrete args,
// enforcing arity, no-shadowing, and the no-closure-result rule.
func invokeClosure(c Closure, args []value.Value, outer map[string]value.Value) (value.Value, error) {
	if len(c.Params) != len(args) {
		return value.Value{}, errs.Evaluation(errs.CodeWrongArity, "closure expects %d args, got %d", len(c.Params), len(args))
	}
	inner := make(map[string]value.Value, len(outer)+len(c.Params))
	for k, v := range outer {
		inner[k] = v
	}
	for i, p := range c.Params {
		if _, shadow := outer[p]; shadow {
			return value.Value{}, errs.Evaluation(errs.CodeVariableShadowing, "closure parameter $%s shadows an outer variable", p)
		}
		inner[p] = args[i]
	}
	stack, err := run(c.Ops, inner)
	if err != nil {
		return value.Value{}, err
	}
	if len(stack) != 1 {
		return value.Value{}, errs.Evaluation(errs.CodeInvalidExpression, "closure body left %d values on the stack, want 1", len(stack))
	}
	if stack[0].isClosure {
		return value.Value{}, errs.Evaluation(errs.CodeClosureEvalToClosure, "closure evaluated to a closure")
	}
	return stack[0].val, nil
}

func applyBinary(k BinaryKind, left, right elem, bindings map[string]value.Value) (elem, error) {
	switch k {
	case BinLazyAnd, BinLazyOr:
		if left.isClosure || !right.isClosure {
			return elem{}, errs.Evaluation(errs.CodeInvalidBinaryOp, "lazy and/or expects value then closure")
		}
		lb, ok := left.val.AsBool()
		if !ok {
			return elem{}, typeErr("lazy_and/lazy_or", left.val)
		}
		if k == BinLazyAnd && !lb {
			return valElem(value.Bool(false)), nil
		}
		if k == BinLazyOr && lb {
			return valElem(value.Bool(true)), nil
		}
		rv, err := invokeClosure(right.clo, nil, bindings)
		if err != nil {
			return elem{}, err
		}
		rb, ok := rv.AsBool()
		if !ok {
			return elem{}, typeErr("lazy_and/lazy_or closure", rv)
		}
		return valElem(value.Bool(rb)), nil
	case BinAny, BinAll:
		if left.isClosure || !right.isClosure {
			return elem{}, errs.Evaluation(errs.CodeInvalidBinaryOp, "any/all expects collection then closure")
		}
		return applyAnyAll(k, left.val, right.clo, bindings)
	case BinTryOr:
		if !left.isClosure || right.isClosure {
			return elem{}, errs.Evaluation(errs.CodeInvalidBinaryOp, "try_or expects closure then value")
		}
		v, err := invokeClosure(left.clo, nil, bindings)
		if err != nil {
			if errs.Is(err, errs.CodeTypeError) {
				return valElem(right.val), nil
			}
			return elem{}, err
		}
		return valElem(v), nil
	}

	if left.isClosure || right.isClosure {
		return elem{}, errs.Evaluation(errs.CodeInvalidBinaryOp, "operator does not accept a closure operand")
	}
	return applyValueBinary(k, left.val, right.val)
}

func applyAnyAll(k BinaryKind, coll value.Value, clo Closure, bindings map[string]value.Value) (elem, error) {
	wantAll := k == BinAll
	eval := func(arg value.Value) (bool, error) {
		v, err := invokeClosure(clo, []value.Value{arg}, bindings)
		if err != nil {
			return false, err
		}
		b, ok := v.AsBool()
		if !ok {
			return false, typeErr("any/all closure", v)
		}
		return b, nil
	}
	switch coll.Kind() {
	case value.KindSet:
		elems, _ := coll.AsSet()
		for _, e := range elems {
			b, err := eval(e)
			if err != nil {
				return elem{}, err
			}
			if wantAll && !b {
				return valElem(value.Bool(false)), nil
			}
			if !wantAll && b {
				return valElem(value.Bool(true)), nil
			}
		}
	case value.KindArray:
		elems, _ := coll.AsArray()
		for _, e := range elems {
			b, err := eval(e)
			if err != nil {
				return elem{}, err
			}
			if wantAll && !b {
				return valElem(value.Bool(false)), nil
			}
			if !wantAll && b {
				return valElem(value.Bool(true)), nil
			}
		}
	case value.KindMap:
		for _, k := range coll.MapKeys() {
			v, _ := coll.MapGet(k)
			var kv value.Value
			if k.IsString() {
				kv = value.Str(k.Str())
			} else {
				kv = value.Int(k.Int())
			}
			pair := value.Array([]value.Value{kv, v})
			b, err := eval(pair)
			if err != nil {
				return elem{}, err
			}
			if wantAll && !b {
				return valElem(value.Bool(false)), nil
			}
			if !wantAll && b {
				return valElem(value.Bool(true)), nil
			}
		}
	default:
		return elem{}, typeErr("any/all", coll)
	}
	return valElem(value.Bool(wantAll)), nil
}

func applyValueBinary(k BinaryKind, l, r value.Value) (elem, error) {
	switch k {
	case BinLessThan, BinGreaterThan, BinLessOrEqual, BinGreaterOrEqual:
		return cmpOp(k, l, r)
	case BinStrictEqual:
		if l.Kind() != r.Kind() {
			return elem{}, typeErr("===", l, r)
		}
		return valElem(value.Bool(l.EqualStrict(r))), nil
	case BinStrictNotEqual:
		if l.Kind() != r.Kind() {
			return elem{}, typeErr("!==", l, r)
		}
		return valElem(value.Bool(!l.EqualStrict(r))), nil
	case BinEqual:
		return valElem(value.Bool(l.Equal(r))), nil
	case BinNotEqual:
		return valElem(value.Bool(!l.Equal(r))), nil
	case BinAdd:
		return arith(k, l, r)
	case BinSub, BinMul, BinDiv:
		return arith(k, l, r)
	case BinBitAnd, BinBitOr, BinBitXor:
		li, lok := l.AsInt()
		ri, rok := r.AsInt()
		if !lok || !rok {
			return elem{}, typeErr("bitwise", l, r)
		}
		switch k {
		case BinBitAnd:
			return valElem(value.Int(li & ri)), nil
		case BinBitOr:
			return valElem(value.Int(li | ri)), nil
		default:
			return valElem(value.Int(li ^ ri)), nil
		}
	case BinAnd, BinOr:
		lb, lok := l.AsBool()
		rb, rok := r.AsBool()
		if !lok || !rok {
			return elem{}, typeErr("and/or", l, r)
		}
		if k == BinAnd {
			return valElem(value.Bool(lb && rb)), nil
		}
		return valElem(value.Bool(lb || rb)), nil
	case BinContains:
		return containsOp(l, r)
	case BinStartsWith, BinEndsWith:
		ls, lok := l.AsString()
		rs, rok := r.AsString()
		if !lok || !rok {
			return elem{}, typeErr("starts_with/ends_with", l, r)
		}
		if k == BinStartsWith {
			return valElem(value.Bool(strings.HasPrefix(ls, rs))), nil
		}
		return valElem(value.Bool(strings.HasSuffix(ls, rs))), nil
	case BinMatches:
		ls, lok := l.AsString()
		rs, rok := r.AsString()
		if !lok || !rok {
			return elem{}, typeErr("matches", l, r)
		}
		re, err := regexp.Compile(rs)
		if err != nil {
			return elem{}, errs.Evaluation(errs.CodeTypeError, "invalid regex: %v", err)
		}
		return valElem(value.Bool(re.MatchString(ls))), nil
	case BinIntersection, BinUnion:
		ls, lok := l.AsSet()
		rs, rok := r.AsSet()
		if !lok || !rok {
			return elem{}, typeErr("intersection/union", l, r)
		}
		return setOp(k, ls, rs)
	case BinGet:
		return getOp(l, r)
	}
	return elem{}, errs.Evaluation(errs.CodeInvalidBinaryOp, "unknown binary op")
}

func cmpOp(k BinaryKind, l, r value.Value) (elem, error) {
	var c int
	switch {
	case l.Kind() == value.KindInteger && r.Kind() == value.KindInteger:
		li, _ := l.AsInt()
		ri, _ := r.AsInt()
		c = 0
		if li < ri {
			c = -1
		} else if li > ri {
			c = 1
		}
	case l.Kind() == value.KindDate && r.Kind() == value.KindDate:
		ld, _ := l.AsDate()
		rd, _ := r.AsDate()
		c = 0
		if ld < rd {
			c = -1
		} else if ld > rd {
			c = 1
		}
	default:
		return elem{}, typeErr("ordering", l, r)
	}
	switch k {
	case BinLessThan:
		return valElem(value.Bool(c < 0)), nil
	case BinGreaterThan:
		return valElem(value.Bool(c > 0)), nil
	case BinLessOrEqual:
		return valElem(value.Bool(c <= 0)), nil
	default:
		return valElem(value.Bool(c >= 0)), nil
	}
}

func arith(k BinaryKind, l, r value.Value) (elem, error) {
	if k == BinAdd && l.Kind() == value.KindString && r.Kind() == value.KindString {
		ls, _ := l.AsString()
		rs, _ := r.AsString()
		return valElem(value.Str(ls + rs)), nil
	}
	li, lok := l.AsInt()
	ri, rok := r.AsInt()
	if !lok || !rok {
		return elem{}, typeErr("arithmetic", l, r)
	}
	switch k {
	case BinAdd:
		res := li + ri
		if (ri > 0 && res < li) || (ri < 0 && res > li) {
			return elem{}, errs.Evaluation(errs.CodeIntegerOverflow, "integer overflow in addition")
		}
		return valElem(value.Int(res)), nil
	case BinSub:
		res := li - ri
		if (ri < 0 && res < li) || (ri > 0 && res > li) {
			return elem{}, errs.Evaluation(errs.CodeIntegerOverflow, "integer overflow in subtraction")
		}
		return valElem(value.Int(res)), nil
	case BinMul:
		if li != 0 && ri != 0 {
			res := li * ri
			if res/ri != li {
				return elem{}, errs.Evaluation(errs.CodeIntegerOverflow, "integer overflow in multiplication")
			}
			return valElem(value.Int(res)), nil
		}
		return valElem(value.Int(0)), nil
	case BinDiv:
		if ri == 0 {
			return elem{}, errs.Evaluation(errs.CodeIntegerOverflow, "division by zero")
		}
		return valElem(value.Int(li / ri)), nil
	}
	return elem{}, errs.Evaluation(errs.CodeInvalidBinaryOp, "unknown arithmetic op")
}

func containsOp(l, r value.Value) (elem, error) {
	switch l.Kind() {
	case value.KindString:
		ls, _ := l.AsString()
		rs, ok := r.AsString()
		if !ok {
			return elem{}, typeErr("contains", l, r)
		}
		return valElem(value.Bool(strings.Contains(ls, rs))), nil
	case value.KindArray:
		elems, _ := l.AsArray()
		for _, e := range elems {
			if e.Equal(r) {
				return valElem(value.Bool(true)), nil
			}
		}
		return valElem(value.Bool(false)), nil
	case value.KindSet:
		elems, _ := l.AsSet()
		if r.Kind() == value.KindSet {
			rset, _ := r.AsSet()
			for _, re := range rset {
				found := false
				for _, e := range elems {
					if e.EqualStrict(re) {
						found = true
						break
					}
				}
				if !found {
					return valElem(value.Bool(false)), nil
				}
			}
			return valElem(value.Bool(true)), nil
		}
		for _, e := range elems {
			if e.Equal(r) {
				return valElem(value.Bool(true)), nil
			}
		}
		return valElem(value.Bool(false)), nil
	case value.KindMap:
		var key value.MapKey
		switch r.Kind() {
		case value.KindInteger:
			i, _ := r.AsInt()
			key = value.IntKey(i)
		case value.KindString:
			s, _ := r.AsString()
			key = value.StrKey(s)
		default:
			return elem{}, typeErr("contains (map key)", r)
		}
		_, ok := l.MapGet(key)
		return valElem(value.Bool(ok)), nil
	default:
		return elem{}, typeErr("contains", l)
	}
}

func setOp(k BinaryKind, l, r []value.Value) (elem, error) {
	var out []value.Value
	switch k {
	case BinIntersection:
		for _, a := range l {
			for _, b := range r {
				if a.EqualStrict(b) {
					out = append(out, a)
					break
				}
			}
		}
	case BinUnion:
		out = append(out, l...)
		for _, b := range r {
			dup := false
			for _, a := range l {
				if a.EqualStrict(b) {
					dup = true
					break
				}
			}
			if !dup {
				out = append(out, b)
			}
		}
	}
	s, err := value.NewSet(out)
	if err != nil {
		return elem{}, err
	}
	return valElem(s), nil
}

func getOp(l, r value.Value) (elem, error) {
	switch l.Kind() {
	case value.KindArray:
		idx, ok := r.AsInt()
		if !ok {
			return elem{}, typeErr("get (array index)", r)
		}
		elems, _ := l.AsArray()
		if idx < 0 || int(idx) >= len(elems) {
			return valElem(value.Null()), nil
		}
		return valElem(elems[idx]), nil
	case value.KindMap:
		var key value.MapKey
		switch r.Kind() {
		case value.KindInteger:
			i, _ := r.AsInt()
			key = value.IntKey(i)
		case value.KindString:
			s, _ := r.AsString()
			key = value.StrKey(s)
		default:
			return elem{}, typeErr("get (map key)", r)
		}
		v, ok := l.MapGet(key)
		if !ok {
			return valElem(value.Null()), nil
		}
		return valElem(v), nil
	default:
		return elem{}, typeErr("get", l)
	}
}
