// Package checker implements the region-ownership analysis: a statement
// walk over each elaborated function body that keeps the typing context and
// region store consistent with every operation, drives both to the declared
// contract shapes at calls and returns, and reconciles divergent states at
// control-flow joins.
//
// The analysis is sound but deliberately incomplete: regions conservatively
// over-approximate aliasing and reachability, so some race-free programs are
// rejected. What acceptance guarantees is that no two concurrently-live
// accessors ever hold overlapping regions.
package checker

import (
	"fmt"
	"sort"

	"github.com/veld-lang/veld/internal/diagnostics"
	"github.com/veld-lang/veld/internal/ir"
	"github.com/veld-lang/veld/internal/regions"
	"github.com/veld-lang/veld/internal/rewrite"
)

// Checker analyzes one program. Each function is checked independently from
// a signature-clean initial state; there is no cross-function mutable state.
type Checker struct {
	prog   *ir.Program
	fields map[string]map[string]ir.FieldDecl
}

// New creates a checker for the program.
func New(prog *ir.Program) *Checker {
	c := &Checker{
		prog:   prog,
		fields: make(map[string]map[string]ir.FieldDecl, len(prog.Types)),
	}
	for _, t := range prog.Types {
		m := make(map[string]ir.FieldDecl, len(t.Fields))
		for _, f := range t.Fields {
			m[f.Name] = f
		}
		c.fields[t.Name] = m
	}
	return c
}

// FieldInfo implements rewrite.FieldResolver against the declared types.
func (c *Checker) FieldInfo(typeName, field string) (string, bool, bool) {
	f, ok := c.fields[typeName][field]
	if !ok {
		return "", false, false
	}
	return f.Type, f.Iso, true
}

// IsoFields returns the isolated fields of a type, sorted.
func (c *Checker) IsoFields(typeName string) []string {
	var out []string
	for name, f := range c.fields[typeName] {
		if f.Iso {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Report is the per-function outcome: the diagnostics batch, empty on
// acceptance.
type Report struct {
	Name  string
	Diags []*diagnostics.DiagnosticError
}

// OK reports acceptance.
func (r Report) OK() bool { return len(r.Diags) == 0 }

// Check analyzes every function, in declaration order.
func (c *Checker) Check() []Report {
	out := make([]Report, 0, len(c.prog.Funcs))
	for i := range c.prog.Funcs {
		fn := &c.prog.Funcs[i]
		out = append(out, Report{Name: fn.Sig.Name, Diags: c.CheckFunction(fn)})
	}
	return out
}

// CheckFunction analyzes one function body against its signature. All
// failures found along the way are returned as one batch; after each one
// the walk continues with a best-effort recovered state.
func (c *Checker) CheckFunction(fn *ir.Function) []*diagnostics.DiagnosticError {
	w := &walker{
		checker:      c,
		fn:           fn,
		st:           rewrite.NewState(),
		fut:          regions.NewFutures(),
		errorSet:     make(map[string]*diagnostics.DiagnosticError),
		paramRegions: make(map[string]regions.RegionID),
		renames:      make(map[regions.RegionID]regions.RegionID),
	}
	w.eng = rewrite.NewEngine(w.st, c)

	w.materializeEntry()
	w.walkStmts(fn.Body)
	if !w.returned {
		w.checkExit(endPos(fn), "")
	}
	return w.getErrors()
}

// endPos picks the position the implicit fall-off-the-end exit check is
// reported at.
func endPos(fn *ir.Function) ir.Position {
	if n := len(fn.Body); n > 0 {
		return fn.Body[n-1].Pos()
	}
	return ir.Position{}
}

// walker carries the mutable state of one function check. Branch arms get
// sub-walkers with cloned state but a shared diagnostic set.
type walker struct {
	checker *Checker
	fn      *ir.Function

	st  *rewrite.State
	eng *rewrite.Engine
	fut *regions.Futures

	// paramRegions records each parameter's entry region. Contracts are
	// stated against these, not against whatever the parameter variable was
	// later rebound to.
	paramRegions map[string]regions.RegionID

	// renames follows attach relabelings so entry regions stay resolvable
	// at the exit check.
	renames map[regions.RegionID]regions.RegionID

	errorSet map[string]*diagnostics.DiagnosticError
	returned bool
}

// materializeEntry builds the signature-clean initial state: one region per
// parameter (shared within a declared group), pin marks, and the declared
// entry-shape edges.
func (w *walker) materializeEntry() {
	sig := &w.fn.Sig
	groupRegion := make(map[int]regions.RegionID)
	for _, p := range sig.Params {
		var r regions.RegionID
		if p.Group != 0 {
			if shared, ok := groupRegion[p.Group]; ok {
				r = shared
			} else {
				r = w.st.Store.Alloc()
				groupRegion[p.Group] = r
			}
		} else {
			r = w.st.Store.Alloc()
		}
		if p.Pinned {
			if reg, ok := w.st.Store.Get(r); ok {
				reg.Pinned = true
			}
		}
		w.st.Ctx.Bind(p.Name, r, p.Type)
		w.paramRegions[p.Name] = r
	}

	for _, e := range sig.EntryShape {
		parent := w.paramRegions[e.Var]
		pdecl, _ := sig.Param(e.Var)
		if _, iso, ok := w.checker.FieldInfo(pdecl.Type, e.Field); !ok || !iso {
			w.addError(diagnostics.NewError(diagnostics.ErrR000, ir.Position{},
				"entry shape names %s.%s, which is not an isolated field", e.Var, e.Field).
				WithSubject(e.Var, e.Field))
			continue
		}
		if e.Dead {
			w.st.Store.SetChild(parent, e.Field, regions.NoRegion)
		} else {
			w.st.Store.SetChild(parent, e.Field, w.paramRegions[e.Target])
		}
	}

	if v := w.st.Store.CheckForest(); v != nil {
		w.addError(diagnostics.NewError(diagnostics.ErrR003, ir.Position{},
			"declared entry shape is not a forest: %v", v))
	}
}

// sub creates a branch-arm walker over its own state but the shared
// diagnostic set and rename log.
func (w *walker) sub(st *rewrite.State, fut *regions.Futures) *walker {
	s := &walker{
		checker:      w.checker,
		fn:           w.fn,
		st:           st,
		fut:          fut,
		paramRegions: w.paramRegions,
		renames:      w.renames,
		errorSet:     w.errorSet,
	}
	s.eng = rewrite.NewEngine(st, w.checker)
	return s
}

// attach merges two regions through the engine, recording the relabeling so
// parameter entry regions stay resolvable.
func (w *walker) attach(a, b regions.RegionID) (regions.RegionID, error) {
	m, err := w.eng.Attach(a, b)
	if err != nil {
		return m, err
	}
	if a != m {
		w.renames[a] = m
	}
	if b != m {
		w.renames[b] = m
	}
	return m, nil
}

// resolveRename follows the attach relabeling chain.
func (w *walker) resolveRename(r regions.RegionID) regions.RegionID {
	for {
		next, ok := w.renames[r]
		if !ok {
			return r
		}
		r = next
	}
}

func (w *walker) addError(err *diagnostics.DiagnosticError) {
	err.Fn = w.fn.Sig.Name
	key := fmt.Sprintf("%d:%d:%s", err.Pos.Line, err.Pos.Column, err.Code)
	w.errorSet[key] = err
}

func (w *walker) errorf(code diagnostics.ErrorCode, pos ir.Position, format string, args ...interface{}) *diagnostics.DiagnosticError {
	d := diagnostics.NewError(code, pos, format, args...)
	w.addError(d)
	return d
}

// getErrors returns the batch, sorted by position then code for
// deterministic output.
func (w *walker) getErrors() []*diagnostics.DiagnosticError {
	out := make([]*diagnostics.DiagnosticError, 0, len(w.errorSet))
	for _, err := range w.errorSet {
		out = append(out, err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pos.Line != out[j].Pos.Line {
			return out[i].Pos.Line < out[j].Pos.Line
		}
		if out[i].Pos.Column != out[j].Pos.Column {
			return out[i].Pos.Column < out[j].Pos.Column
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// engineError translates an engine failure into a diagnostic at pos. The
// subject variable/field is attached where the error carries one.
func (w *walker) engineError(pos ir.Position, err error) {
	switch e := err.(type) {
	case *rewrite.UnboundVarError:
		w.errorf(diagnostics.ErrR000, pos, "variable %q is not bound", e.Var).WithSubject(e.Var, "")
	case *rewrite.LostRegionError:
		w.errorf(diagnostics.ErrR001, pos, "%v", e).WithSubject(e.Var, "")
	case *rewrite.PinnedRegionError:
		w.errorf(diagnostics.ErrR002, pos, "%v", e).WithSubject(e.Var, "")
	case *rewrite.UnknownFieldError:
		w.errorf(diagnostics.ErrR000, pos, "%v", e).WithSubject("", e.Field)
	case *rewrite.NotIsolatedError:
		w.errorf(diagnostics.ErrR000, pos, "%v", e).WithSubject("", e.Field)
	case *rewrite.DeadFieldError:
		w.errorf(diagnostics.ErrR001, pos, "%v", e).WithSubject(e.Var, e.Field)
	case *rewrite.RetractBlockedError:
		w.errorf(diagnostics.ErrR002, pos, "cannot establish contract: %v", e).WithSubject("", e.Field)
	case *rewrite.UnfocusBlockedError:
		w.errorf(diagnostics.ErrR002, pos, "cannot establish contract: %v", e).WithSubject(e.Var, e.Field)
	case *rewrite.AttachConflictError:
		w.errorf(diagnostics.ErrR003, pos, "%v", e).WithSubject("", e.Field)
	case *rewrite.BudgetExceededError:
		w.errorf(diagnostics.ErrR002, pos, "%v", e)
	case *regions.ForestViolation:
		w.errorf(diagnostics.ErrR003, pos, "%v", e)
	case *regions.UnknownHandleError:
		w.errorf(diagnostics.ErrR005, pos, "%v", e).WithSubject(e.Handle, "")
	case *regions.RedeemedHandleError:
		w.errorf(diagnostics.ErrR005, pos, "%v", e).WithSubject(e.Handle, "")
	case *regions.DuplicateHandleError:
		w.errorf(diagnostics.ErrR000, pos, "%v", e).WithSubject(e.Handle, "")
	default:
		w.errorf(diagnostics.ErrR002, pos, "%v", err)
	}
}

// recoverBinding rebinds a variable to a fresh region after a failed
// operation so one failure does not cascade into unbound-variable noise.
func (w *walker) recoverBinding(name, typ string) {
	r := w.st.Store.Alloc()
	w.st.Ctx.Bind(name, r, typ)
}
