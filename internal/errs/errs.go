// Package errs defines the error taxonomy for the token core.
//
// The core surfaces five orthogonal error kinds: Validation, Attenuation,
// Datalog (parse), Evaluation, and Authorization. Every boundary operation
// either succeeds or fails with exactly one Error value of one of these
// kinds, carrying a stable Code so callers can branch without string
// matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the five orthogonal error categories from the error
// handling design.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAttenuation    Kind = "attenuation"
	KindDatalog        Kind = "datalog"
	KindEvaluation     Kind = "evaluation"
	KindAuthorization  Kind = "authorization"
)

// Code is a stable machine-readable error identifier.
type Code string

// Validation codes.
const (
	CodeMissingField           Code = "missing_field"
	CodeInvalidSignature       Code = "invalid_signature"
	CodeInvalidKey             Code = "invalid_key"
	CodeInvalidSealingSig      Code = "invalid_sealing_signature"
	CodeInvalidExternalSig     Code = "invalid_external_signature"
	CodeInvalidProof           Code = "invalid_proof"
	CodeInvalidVersion         Code = "invalid_version"
	CodeUnknownRootKey         Code = "unknown_root_key"
	CodeUnknownSymbol          Code = "unknown_symbol"
	CodeUnknownPublicKey       Code = "unknown_public_key"
	CodeDuplicateSymbol        Code = "duplicate_symbol"
	CodeDuplicatePublicKey     Code = "duplicate_public_key"
	CodeSetInSet               Code = "set_in_set"
	CodeDuplicateMapKey        Code = "duplicate_map_key"
	CodeVariableInFact         Code = "variable_in_fact"
	CodeUnboundVariableInHead  Code = "unbound_variable_in_head"
	CodeThirdPartySignedAuth   Code = "third_party_signed_authority"
	CodeDeprecatedExternalSig  Code = "deprecated_third_party_signature"
	CodeInvalidBase64URL       Code = "invalid_base64url_string"
	CodeInvalidHexData         Code = "invalid_hex_data"
	CodeInvalidQueryHead       Code = "invalid_query_head"
)

// Attenuation codes.
const (
	CodeCannotAttenuateSealed Code = "cannot_attenuate_sealed_token"
)

// Datalog (parse) codes — kept for parity with the text-form grammar, whose
// lexer/parser are out of scope (§1). No code path in this module raises
// them as KindDatalog errors; the wire decoder reuses CodeUnknownScope as a
// validation error.
const (
	CodeErrorInLexing               Code = "error_in_lexing"
	CodeMissingSemicolon             Code = "missing_semicolon"
	CodeMissingRightParen            Code = "missing_right_paren"
	CodeUnexpectedEndOfCode          Code = "unexpected_end_of_code"
	CodeUnknownBlockElement          Code = "unknown_block_element"
	CodeUnknownCheck                 Code = "unknown_check"
	CodeUnknownMethod                Code = "unknown_method"
	CodeUnknownPolicy                Code = "unknown_policy"
	CodeUnknownPredicate             Code = "unknown_predicate"
	CodeUnknownRuleElement           Code = "unknown_rule_element"
	CodeUnknownScope                 Code = "unknown_scope"
	CodeUnknownTerm                  Code = "unknown_term"
	CodeVariableInHeadAlone          Code = "variable_in_head_alone"
	CodeChainedComparisons           Code = "chained_comparisons_without_parens"
	CodeInvalidMapKey                Code = "invalid_map_key"
	CodeMapMissingValue              Code = "map_missing_value"
)

// Evaluation codes.
const (
	CodeAuthorizerWithoutPolicy Code = "authorizer_without_policy"
	CodeIntegerOverflow         Code = "integer_overflow"
	CodeInvalidExpression       Code = "invalid_expression"
	CodeInvalidBinaryOp         Code = "invalid_binary_op"
	CodeInvalidUnaryOp          Code = "invalid_unary_op"
	CodeNonBooleanExpression    Code = "non_boolean_expression"
	CodeUnknownVariable         Code = "unknown_variable"
	CodeUnknownForeignFunction  Code = "unknown_foreign_function"
	CodeTypeError               Code = "type_error"
	CodeWrongArity              Code = "wrong_arity"
	CodeVariableShadowing       Code = "variable_shadowing"
	CodeClosureEvalToClosure    Code = "closure_evaluated_to_closure"
	CodeTooManyFacts            Code = "too_many_facts"
	CodeTooManyIterations       Code = "too_many_iterations"
)

// Authorization codes — one of these is always attached to a KindAuthorization error.
const (
	CodeFailedCheck       Code = "failed_check"
	CodeDeniedByPolicy    Code = "denied_by_policy"
	CodeNoSuccessfulPolicy Code = "no_successful_policy"
)

// Error is the single error type returned across the public API surface.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error

	// Detail carries kind-specific payload: for KindAuthorization this is
	// the failing Check, Policy, or nil (no successful policy).
	Detail any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with no message.
func New(kind Kind, code Code) *Error {
	return &Error{Kind: kind, Code: code}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps a cause.
func Wrap(kind Kind, code Code, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetail attaches kind-specific payload and returns the receiver.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

// Is reports whether err is an *Error carrying the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Validation constructs a KindValidation error.
func Validation(code Code, format string, args ...any) *Error {
	return Newf(KindValidation, code, format, args...)
}

// Evaluation constructs a KindEvaluation error.
func Evaluation(code Code, format string, args ...any) *Error {
	return Newf(KindEvaluation, code, format, args...)
}

// Datalog constructs a KindDatalog error.
func Datalog(code Code, format string, args ...any) *Error {
	return Newf(KindDatalog, code, format, args...)
}

// Attenuation constructs a KindAttenuation error.
func Attenuation(code Code, format string, args ...any) *Error {
	return Newf(KindAttenuation, code, format, args...)
}

// Authorization constructs a KindAuthorization error with a detail payload
// (a failing Check, a matching deny Policy, or nil for "no successful policy").
func Authorization(code Code, detail any, format string, args ...any) *Error {
	return Newf(KindAuthorization, code, format, args...).WithDetail(detail)
}
