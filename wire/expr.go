package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/certen/biscuit/internal/errs"
	"github.com/certen/biscuit/internal/expr"
	"github.com/certen/biscuit/internal/intern"
)

const (
	fldOpKind    protowire.Number = 1
	fldOpTerm    protowire.Number = 2
	fldOpUnary   protowire.Number = 3
	fldOpBinary  protowire.Number = 4
	fldOpClosure protowire.Number = 5
)

const (
	fldClosureParams protowire.Number = 1
	fldClosureOps    protowire.Number = 2
)

const fldExprOps protowire.Number = 1

func EncodeOp(op expr.Op, syms *intern.SymbolTable) []byte {
	var out []byte
	out = appendVarintField(out, fldOpKind, uint64(op.Kind()))
	switch op.Kind() {
	case expr.OpKindValue:
		out = appendBytesField(out, fldOpTerm, EncodeTerm(op.Term(), syms))
	case expr.OpKindUnary:
		out = appendVarintField(out, fldOpUnary, uint64(op.Unary()))
	case expr.OpKindBinary:
		out = appendVarintField(out, fldOpBinary, uint64(op.Binary()))
	case expr.OpKindClosure:
		out = appendBytesField(out, fldOpClosure, encodeClosure(op.ClosureVal(), syms))
	}
	return out
}

func DecodeOp(data []byte, syms *intern.SymbolTable) (expr.Op, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return expr.Op{}, err
	}
	kf, ok := findFirst(fields, fldOpKind)
	if !ok {
		return expr.Op{}, errs.Validation(errs.CodeMissingField, "op missing kind")
	}
	switch expr.OpKind(fieldVarint(kf)) {
	case expr.OpKindValue:
		tf, ok := findFirst(fields, fldOpTerm)
		if !ok {
			return expr.Op{}, errs.Validation(errs.CodeMissingField, "value op missing term")
		}
		t, err := DecodeTerm(tf.buf, syms)
		if err != nil {
			return expr.Op{}, err
		}
		return expr.OpValue(t), nil
	case expr.OpKindUnary:
		uf, ok := findFirst(fields, fldOpUnary)
		if !ok {
			return expr.Op{}, errs.Validation(errs.CodeMissingField, "unary op missing kind")
		}
		return expr.OpUnary(expr.UnaryKind(fieldVarint(uf))), nil
	case expr.OpKindBinary:
		bf, ok := findFirst(fields, fldOpBinary)
		if !ok {
			return expr.Op{}, errs.Validation(errs.CodeMissingField, "binary op missing kind")
		}
		return expr.OpBinary(expr.BinaryKind(fieldVarint(bf))), nil
	case expr.OpKindClosure:
		cf, ok := findFirst(fields, fldOpClosure)
		if !ok {
			return expr.Op{}, errs.Validation(errs.CodeMissingField, "closure op missing body")
		}
		c, err := decodeClosure(cf.buf, syms)
		if err != nil {
			return expr.Op{}, err
		}
		return expr.OpClosure(c), nil
	}
	return expr.Op{}, errs.Validation(errs.CodeInvalidExpression, "unknown op kind")
}

func encodeClosure(c expr.Closure, syms *intern.SymbolTable) []byte {
	var out []byte
	for _, p := range c.Params {
		out = appendVarintField(out, fldClosureParams, syms.Intern(p))
	}
	for _, op := range c.Ops {
		out = appendBytesField(out, fldClosureOps, EncodeOp(op, syms))
	}
	return out
}

func decodeClosure(data []byte, syms *intern.SymbolTable) (expr.Closure, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return expr.Closure{}, err
	}
	var params []string
	for _, pf := range findAll(fields, fldClosureParams) {
		name, err := syms.Lookup(fieldVarint(pf))
		if err != nil {
			return expr.Closure{}, err
		}
		params = append(params, name)
	}
	var ops []expr.Op
	for _, of := range findAll(fields, fldClosureOps) {
		op, err := DecodeOp(of.buf, syms)
		if err != nil {
			return expr.Closure{}, err
		}
		ops = append(ops, op)
	}
	return expr.Closure{Params: params, Ops: ops}, nil
}

func EncodeExpression(e expr.Expression, syms *intern.SymbolTable) []byte {
	var out []byte
	for _, op := range e.Ops {
		out = appendBytesField(out, fldExprOps, EncodeOp(op, syms))
	}
	return out
}

func DecodeExpression(data []byte, syms *intern.SymbolTable) (expr.Expression, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return expr.Expression{}, err
	}
	var ops []expr.Op
	for _, of := range findAll(fields, fldExprOps) {
		op, err := DecodeOp(of.buf, syms)
		if err != nil {
			return expr.Expression{}, err
		}
		ops = append(ops, op)
	}
	return expr.Expression{Ops: ops}, nil
}
