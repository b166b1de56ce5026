// Package diagnostics defines the error records the region checker reports.
//
// Failures are not Go errors in the control-flow sense: the checker keeps
// walking after each one with a best-effort recovered state, so independent
// problems in one function surface together as a batch.
package diagnostics

import (
	"fmt"

	"github.com/veld-lang/veld/internal/ir"
)

// ErrorCode classifies a diagnostic. Codes are stable across releases; the
// message text is not.
type ErrorCode string

const (
	// ErrR000 MalformedInput: the elaborated input itself is broken at this
	// statement (unknown callee, unknown field, unbound variable).
	ErrR000 ErrorCode = "R000"

	// ErrR001 UseAfterTransfer: the variable's region is held by a live
	// future, was consumed by a prior call, or was retracted.
	ErrR001 ErrorCode = "R001"

	// ErrR002 ContractMismatch: the current state cannot be transformed into
	// the declared contract shape within the step budget.
	ErrR002 ErrorCode = "R002"

	// ErrR003 TreeInvariantViolation: two tracked isolated-field edges point
	// at the same region where the contract demands a forest.
	ErrR003 ErrorCode = "R003"

	// ErrR004 UnificationFailure: the states flowing into a branch join
	// cannot be reconciled within the step budget.
	ErrR004 ErrorCode = "R004"

	// ErrR005 DanglingHandle: a future handle is awaited twice, awaited
	// without being created, or still live when the function returns.
	ErrR005 ErrorCode = "R005"
)

var codeNames = map[ErrorCode]string{
	ErrR000: "MalformedInput",
	ErrR001: "UseAfterTransfer",
	ErrR002: "ContractMismatch",
	ErrR003: "TreeInvariantViolation",
	ErrR004: "UnificationFailure",
	ErrR005: "DanglingHandle",
}

// Name returns the human-readable kind for a code.
func (c ErrorCode) Name() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return string(c)
}

// DiagnosticError is one reported failure: kind, statement location, and the
// offending variable/field when one can be named.
type DiagnosticError struct {
	Code    ErrorCode
	Pos     ir.Position
	Fn      string // function being checked
	Var     string // offending variable or handle, if any
	Field   string // offending isolated field, if any
	Message string
	File    string
}

// NewError creates a diagnostic at the given statement position.
func NewError(code ErrorCode, pos ir.Position, format string, args ...interface{}) *DiagnosticError {
	return &DiagnosticError{Code: code, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// WithSubject attaches the offending variable and field.
func (e *DiagnosticError) WithSubject(variable, field string) *DiagnosticError {
	e.Var = variable
	e.Field = field
	return e
}

func (e *DiagnosticError) Error() string {
	subject := ""
	if e.Var != "" {
		subject = " (" + e.Var
		if e.Field != "" {
			subject += "." + e.Field
		}
		subject += ")"
	}
	return fmt.Sprintf("%s: [%s] %s%s", e.Pos, e.Code, e.Message, subject)
}
