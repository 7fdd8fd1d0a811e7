// Package datalogtext documents, but does not implement, a human-readable
// surface syntax for facts/rules/checks/policies. A text-form lexer and
// parser is out of scope for this module (see spec §1's Non-goals); the
// supported construction path is the Go API in internal/datalog and term
// directly, or the small JSON fact/check/policy format cmd/biscuit's CLI
// reads for its own input files.
//
// This stub exists so the abstract contract a future parser would need to
// satisfy is recorded in one place, not so callers import it.
package datalogtext

import "errors"

// ErrNotImplemented is returned by every function in this package.
var ErrNotImplemented = errors.New("datalogtext: text-form parsing is not implemented; construct facts/rules/checks/policies via internal/datalog and term directly")

// ParseFact would parse a single ground fact from its surface syntax
// (e.g. `user("alice")`). Not implemented.
func ParseFact(string) (any, error) { return nil, ErrNotImplemented }

// ParseRule would parse a single rule (`head <- body, expr...`). Not
// implemented.
func ParseRule(string) (any, error) { return nil, ErrNotImplemented }

// ParseCheck would parse a single check (`check if ...` / `check all ...`
// / `reject if ...`). Not implemented.
func ParseCheck(string) (any, error) { return nil, ErrNotImplemented }

// ParsePolicy would parse a single policy (`allow if ...` / `deny if
// ...`). Not implemented.
func ParsePolicy(string) (any, error) { return nil, ErrNotImplemented }

// ParseBlock would parse a whole block's worth of facts/rules/checks from
// its surface syntax, the way the reference Biscuit implementations'
// builder DSLs do. Not implemented.
func ParseBlock(string) (any, error) { return nil, ErrNotImplemented }
