// Package rewrite implements the virtual transformation engine: the closed
// set of sound rewrites over a (typing context, region store) pair — fresh,
// explore, focus, retract, unfocus, attach — plus the bounded drivers that
// chain them to reach canonical shapes at calls, returns and joins.
//
// Every transformation either preserves the information content of the state
// or strictly loses some of it; none may claim structure beyond what prior
// explores justified. Chained applications are bounded per statement by
// config.RewriteStepBudget, so the search the matcher and unifier run on top
// of the engine always terminates.
package rewrite

import (
	"fmt"
	"sort"

	"github.com/veld-lang/veld/internal/config"
	"github.com/veld-lang/veld/internal/regions"
)

// FieldResolver supplies the per-field isolation table declared by nominal
// types. It is the engine's only view of the type system.
type FieldResolver interface {
	// FieldInfo returns the field's type and iso flag. ok is false when the
	// type or field is unknown.
	FieldInfo(typeName, field string) (typ string, iso bool, ok bool)
}

// State is the pair the engine rewrites: Γ and ℋ.
type State struct {
	Ctx   *regions.Context
	Store *regions.Store
}

// NewState creates an empty state.
func NewState() *State {
	return &State{Ctx: regions.NewContext(), Store: regions.NewStore()}
}

// Clone deep-copies the state. Clones share the region id space.
func (s *State) Clone() *State {
	return &State{Ctx: s.Ctx.Clone(), Store: s.Store.Clone()}
}

// Kind tags one transformation step.
type Kind int

const (
	StepFresh Kind = iota
	StepExplore
	StepFocus
	StepRetract
	StepUnfocus
	StepAttach
)

func (k Kind) String() string {
	switch k {
	case StepFresh:
		return "fresh"
	case StepExplore:
		return "explore"
	case StepFocus:
		return "focus"
	case StepRetract:
		return "retract"
	case StepUnfocus:
		return "unfocus"
	case StepAttach:
		return "attach"
	default:
		return "step(?)"
	}
}

// Step records one applied transformation. The per-statement step log is the
// canonical annotation an accepting check leaves behind.
type Step struct {
	Kind  Kind
	Var   string
	Field string
	From  regions.RegionID
	To    regions.RegionID
}

func (s Step) String() string {
	switch s.Kind {
	case StepAttach:
		return fmt.Sprintf("attach(%s, %s) -> %s", s.From, s.Field, s.To)
	case StepExplore, StepRetract:
		return fmt.Sprintf("%s(%s.%s)", s.Kind, s.Var, s.Field)
	default:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Var)
	}
}

// Engine applies transformations to one state under a step budget.
type Engine struct {
	st     *State
	types  FieldResolver
	budget int
	steps  []Step
}

// NewEngine wraps a state. The budget starts full; the checker resets it at
// every statement boundary.
func NewEngine(st *State, types FieldResolver) *Engine {
	return &Engine{st: st, types: types, budget: config.RewriteStepBudget}
}

// State returns the engine's current state.
func (e *Engine) State() *State { return e.st }

// SetState repoints the engine, e.g. after a branch join.
func (e *Engine) SetState(st *State) { e.st = st }

// ResetBudget refills the step budget and clears the step log. Called at
// each statement boundary.
func (e *Engine) ResetBudget() {
	e.budget = config.RewriteStepBudget
	e.steps = nil
}

// Steps returns the transformations applied since the last reset.
func (e *Engine) Steps() []Step { return e.steps }

func (e *Engine) spend(s Step) error {
	if e.budget <= 0 {
		return &BudgetExceededError{Budget: config.RewriteStepBudget}
	}
	e.budget--
	e.steps = append(e.steps, s)
	return nil
}

// resolve maps a variable to its live region, distinguishing "never bound"
// from "bound but the region is lost" (in flight or retired).
func (e *Engine) resolve(name string) (regions.Binding, *regions.Region, error) {
	b, ok := e.st.Ctx.Lookup(name)
	if !ok {
		return b, nil, &UnboundVarError{Var: name}
	}
	reg, ok := e.st.Store.Get(b.Region)
	if !ok {
		return b, nil, &LostRegionError{Var: name, Region: b.Region, Retired: e.st.Store.Retired(b.Region)}
	}
	return b, reg, nil
}

// Fresh allocates a new region for a value-semantic binding. Isolated fields
// of the new value start as explicit dead tombstones: they must be assigned
// before the value can meet any contract that reads them.
func (e *Engine) Fresh(name, typ string) (regions.RegionID, error) {
	if err := e.spend(Step{Kind: StepFresh, Var: name}); err != nil {
		return regions.NoRegion, err
	}
	r := e.st.Store.Alloc()
	for _, f := range e.isoFields(typ) {
		e.st.Store.SetChild(r, f, regions.NoRegion)
	}
	e.st.Ctx.Bind(name, r, typ)
	return r, nil
}

// isoFields lists a type's isolated fields, sorted, via repeated FieldInfo
// probes. Resolvers that know the declaration may implement IsoFields
// directly to skip the probe.
func (e *Engine) isoFields(typ string) []string {
	type lister interface{ IsoFields(typeName string) []string }
	if l, ok := e.types.(lister); ok {
		fields := append([]string(nil), l.IsoFields(typ)...)
		sort.Strings(fields)
		return fields
	}
	return nil
}

// Explore makes the isolated field's child region explicit. Re-exploring a
// field already tracked yields the same region id — the engine never hands
// out two ids for one underlying value (double-discovery freedom). First
// exploration of an intact field allocates a fresh child.
func (e *Engine) Explore(name, field string) (regions.RegionID, error) {
	b, reg, err := e.resolve(name)
	if err != nil {
		return regions.NoRegion, err
	}
	if reg.Pinned {
		return regions.NoRegion, &PinnedRegionError{Var: name, Region: b.Region}
	}
	_, iso, ok := e.types.FieldInfo(b.Type, field)
	if !ok {
		return regions.NoRegion, &UnknownFieldError{Type: b.Type, Field: field}
	}
	if !iso {
		return regions.NoRegion, &NotIsolatedError{Type: b.Type, Field: field}
	}

	if child, present := e.st.Store.Child(b.Region, field); present {
		if child == regions.NoRegion {
			return regions.NoRegion, &DeadFieldError{Var: name, Field: field}
		}
		return child, nil // idempotent re-exploration, costs nothing
	}

	if err := e.spend(Step{Kind: StepExplore, Var: name, Field: field}); err != nil {
		return regions.NoRegion, err
	}
	child := e.st.Store.Alloc()
	e.st.Store.SetChild(b.Region, field, child)
	return child, nil
}

// Retract drops the tracked edge at name.field and destroys the child
// region. The field itself reverts to intact-untracked (it still holds its
// value; the store just stops tracking it), while the child's id is retired
// for good — any binding that referenced it is permanently lost, and any
// other tracked edge at the same child becomes a dead tombstone.
func (e *Engine) Retract(name, field string) error {
	b, _, err := e.resolve(name)
	if err != nil {
		return err
	}
	return e.RetractEdge(b.Region, field)
}

// RetractEdge is Retract addressed by region, for drivers canonicalizing
// exit states where no variable names the parent.
func (e *Engine) RetractEdge(parent regions.RegionID, field string) error {
	child, present := e.st.Store.Child(parent, field)
	if !present || child == regions.NoRegion {
		return &RetractBlockedError{Field: field, Reason: "field is not tracked"}
	}
	creg, ok := e.st.Store.Get(child)
	if !ok {
		return &RetractBlockedError{Field: field, Reason: "child region is not owned"}
	}
	if creg.Tracked() {
		return &RetractBlockedError{Field: field, Reason: "child region still tracks structure"}
	}
	if dead := creg.DeadFields(); len(dead) > 0 {
		return &RetractBlockedError{Field: field, Reason: fmt.Sprintf("child field %s is dead", dead[0])}
	}
	if err := e.spend(Step{Kind: StepRetract, Field: field, From: parent, To: child}); err != nil {
		return err
	}
	e.st.Store.DropChild(parent, field)
	e.st.Store.Retire(child)
	return nil
}

// Focus materializes an explicit (possibly empty) children map so rules can
// pattern-match a canonical shape. Purely presentational.
func (e *Engine) Focus(name string) error {
	b, reg, err := e.resolve(name)
	if err != nil {
		return err
	}
	if reg.Children != nil {
		return nil
	}
	if err := e.spend(Step{Kind: StepFocus, Var: name, From: b.Region}); err != nil {
		return err
	}
	reg.Children = make(map[string]regions.RegionID)
	return nil
}

// Unfocus folds away an empty children map. A concrete edge or a dead
// tombstone blocks it: tracked structure must be retracted first, and a dead
// field can never be silently hidden.
func (e *Engine) Unfocus(name string) error {
	b, _, err := e.resolve(name)
	if err != nil {
		return err
	}
	return e.unfocusRegion(name, b.Region)
}

func (e *Engine) unfocusRegion(name string, r regions.RegionID) error {
	reg, _ := e.st.Store.Get(r)
	if reg == nil || reg.Children == nil {
		return nil
	}
	if fields := reg.TrackedFields(); len(fields) > 0 {
		return &UnfocusBlockedError{Var: name, Field: fields[0], Reason: "field is tracked"}
	}
	if fields := reg.DeadFields(); len(fields) > 0 {
		return &UnfocusBlockedError{Var: name, Field: fields[0], Reason: "field is dead"}
	}
	if err := e.spend(Step{Kind: StepUnfocus, Var: name, From: r}); err != nil {
		return err
	}
	reg.Children = nil
	return nil
}

// Attach merges two regions into one fresh region: the information-losing
// declaration that their values may alias or reach one another. All context
// bindings and store edges referencing either are relabeled to the merged
// id; the old ids retire.
//
// Isolated-field structure is never merged: two regions tracking the same
// field at different children cannot attach (that would alias tracked
// trees). Where exactly one side tracks or tombstones a field, the merged
// field goes dead and the orphaned child is absorbed into the merge, so
// co-reachability is never split across region boundaries.
func (e *Engine) Attach(a, b regions.RegionID) (regions.RegionID, error) {
	if a == b {
		return a, nil
	}
	ra, ok := e.st.Store.Get(a)
	if !ok {
		return regions.NoRegion, &LostRegionError{Region: a, Retired: e.st.Store.Retired(a)}
	}
	rb, ok := e.st.Store.Get(b)
	if !ok {
		return regions.NoRegion, &LostRegionError{Region: b, Retired: e.st.Store.Retired(b)}
	}

	fields := make(map[string]bool)
	for f := range ra.Children {
		fields[f] = true
	}
	for f := range rb.Children {
		fields[f] = true
	}
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)

	merged := make(map[string]regions.RegionID)
	var absorb []regions.RegionID
	for _, f := range names {
		ca, oka := ra.Children[f]
		cb, okb := rb.Children[f]
		switch {
		case oka && okb && ca != regions.NoRegion && cb != regions.NoRegion:
			if ca != cb {
				return regions.NoRegion, &AttachConflictError{Field: f, A: ca, B: cb}
			}
			merged[f] = ca
		case oka && okb: // at least one dead
			merged[f] = regions.NoRegion
			if ca != regions.NoRegion {
				absorb = append(absorb, ca)
			}
			if cb != regions.NoRegion {
				absorb = append(absorb, cb)
			}
		case oka || okb:
			// Tracked or dead on one side only. The merged region cannot
			// claim the field for all its values, so it goes dead, and a
			// formerly tracked child folds into the merge to keep
			// reachability inside one region.
			merged[f] = regions.NoRegion
			if oka && ca != regions.NoRegion {
				absorb = append(absorb, ca)
			}
			if okb && cb != regions.NoRegion {
				absorb = append(absorb, cb)
			}
		}
	}

	if err := e.spend(Step{Kind: StepAttach, From: a, Field: b.String()}); err != nil {
		return regions.NoRegion, err
	}
	m := e.st.Store.Alloc()
	mreg, _ := e.st.Store.Get(m)
	mreg.Pinned = ra.Pinned || rb.Pinned
	if len(merged) > 0 {
		mreg.Children = merged
	}
	e.st.Store.ReplaceRefs(a, m)
	e.st.Store.ReplaceRefs(b, m)
	e.st.Ctx.RebindRegion(a, m)
	e.st.Ctx.RebindRegion(b, m)
	e.st.Store.Forget(a)
	e.st.Store.Forget(b)
	e.steps[len(e.steps)-1].To = m

	for _, c := range absorb {
		next, err := e.Attach(m, c)
		if err != nil {
			return regions.NoRegion, err
		}
		m = next
	}
	return m, nil
}
