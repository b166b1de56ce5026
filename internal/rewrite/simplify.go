package rewrite

import "github.com/veld-lang/veld/internal/regions"

// AllowNoDead is the Simplify policy for contracts that declare no residual
// tombstones.
func AllowNoDead(string) bool { return false }

// Simplify drives a region to the bare canonical form r⟨⟩ expected by plain
// (untombstoned, unpinned) contract positions: tracked children are
// retracted leaf-first, then the empty children map folds away.
//
// allowDead names the isolated fields the target contract declares dead;
// those tombstones survive and block the final unfocus (the region then
// stays focused in exactly the declared shape). Any other dead field makes
// the region un-simplifiable and is returned as a DeadFieldError so the
// caller can report the residual mismatch.
func (e *Engine) Simplify(r regions.RegionID, allowDead func(field string) bool) error {
	return e.simplify(r, allowDead, make(map[regions.RegionID]bool))
}

func (e *Engine) simplify(r regions.RegionID, allowDead func(field string) bool, visiting map[regions.RegionID]bool) error {
	if visiting[r] {
		// A tracked cycle can only come from an isolated-field assignment
		// that has not been repaired; report it as an un-retractable edge.
		return &RetractBlockedError{Reason: "tracked edges form a cycle"}
	}
	visiting[r] = true
	defer delete(visiting, r)

	reg, ok := e.st.Store.Get(r)
	if !ok {
		return &LostRegionError{Region: r, Retired: e.st.Store.Retired(r)}
	}
	for _, f := range reg.TrackedFields() {
		child := reg.Children[f]
		if child == regions.NoRegion {
			continue // died under a sibling's retract; handled below
		}
		if err := e.simplify(child, AllowNoDead, visiting); err != nil {
			return err
		}
		if err := e.RetractEdge(r, f); err != nil {
			return err
		}
	}
	residual := false
	for _, f := range reg.DeadFields() {
		if !allowDead(f) {
			return &DeadFieldError{Field: f}
		}
		residual = true
	}
	if residual {
		return nil // declared shape, stays focused
	}
	return e.unfocusRegion("", r)
}

// RepairForest restores the tree invariant below root by firing retracts on
// doubled edges: retracting one of the two edges destroys the shared target
// and turns the survivor into a dead tombstone. Where no retract can fire
// the original violation is returned.
//
// This is the exit-time recovery behind single-value double-initialization:
// exactly one retract fires, the sibling field dies, and the caller then
// reports the dead field against the contract instead of the raw violation.
func (e *Engine) RepairForest(root regions.RegionID) error {
	for {
		v := e.st.Store.ForestFrom(root)
		if v == nil {
			return nil
		}
		if err := e.RetractEdge(v.First.Parent, v.First.Field); err != nil {
			return v
		}
	}
}
