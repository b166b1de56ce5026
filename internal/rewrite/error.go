package rewrite

import (
	"fmt"

	"github.com/veld-lang/veld/internal/regions"
)

// UnboundVarError indicates a variable with no typing-context entry.
type UnboundVarError struct {
	Var string
}

func (e *UnboundVarError) Error() string {
	return fmt.Sprintf("variable %q is not bound", e.Var)
}

// LostRegionError indicates a binding whose region is no longer owned:
// either held by a live future (Retired false) or consumed/retracted for
// good (Retired true).
type LostRegionError struct {
	Var     string
	Region  regions.RegionID
	Retired bool
}

func (e *LostRegionError) Error() string {
	what := "held elsewhere"
	if e.Retired {
		what = "consumed"
	}
	if e.Var != "" {
		return fmt.Sprintf("region %s of %q is %s", e.Region, e.Var, what)
	}
	return fmt.Sprintf("region %s is %s", e.Region, what)
}

// PinnedRegionError indicates an attempt to explore inside a pinned region.
type PinnedRegionError struct {
	Var    string
	Region regions.RegionID
}

func (e *PinnedRegionError) Error() string {
	return fmt.Sprintf("region %s of %q is pinned; its fields may not be explored", e.Region, e.Var)
}

// UnknownFieldError indicates a field the type declaration does not carry.
type UnknownFieldError struct {
	Type  string
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("type %s has no field %q", e.Type, e.Field)
}

// NotIsolatedError indicates an isolated-field operation on an ordinary
// field.
type NotIsolatedError struct {
	Type  string
	Field string
}

func (e *NotIsolatedError) Error() string {
	return fmt.Sprintf("field %s.%s is not declared isolated", e.Type, e.Field)
}

// DeadFieldError indicates a read through a dead tombstone: the value
// behind the field was transferred or destroyed.
type DeadFieldError struct {
	Var   string
	Field string
}

func (e *DeadFieldError) Error() string {
	return fmt.Sprintf("field %s.%s has been read out or transferred", e.Var, e.Field)
}

// RetractBlockedError indicates a retract whose precondition failed.
type RetractBlockedError struct {
	Field  string
	Reason string
}

func (e *RetractBlockedError) Error() string {
	return fmt.Sprintf("cannot retract %q: %s", e.Field, e.Reason)
}

// UnfocusBlockedError indicates a region that cannot fold its children map.
type UnfocusBlockedError struct {
	Var    string
	Field  string
	Reason string
}

func (e *UnfocusBlockedError) Error() string {
	return fmt.Sprintf("cannot unfocus %q: %s %s", e.Var, e.Field, e.Reason)
}

// AttachConflictError indicates two regions tracking the same isolated
// field at different children; merging them would alias tracked trees.
type AttachConflictError struct {
	Field string
	A, B  regions.RegionID
}

func (e *AttachConflictError) Error() string {
	return fmt.Sprintf("cannot merge: field %q tracked at both %s and %s", e.Field, e.A, e.B)
}

// BudgetExceededError indicates the per-statement step bound ran out before
// the rewrite converged.
type BudgetExceededError struct {
	Budget int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("transformation search exceeded %d steps", e.Budget)
}
