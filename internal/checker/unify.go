package checker

import (
	"fmt"
	"sort"

	"github.com/veld-lang/veld/internal/config"
	"github.com/veld-lang/veld/internal/diagnostics"
	"github.com/veld-lang/veld/internal/ir"
	"github.com/veld-lang/veld/internal/regions"
	"github.com/veld-lang/veld/internal/rewrite"
)

// unifyBranches folds the two arm states of a conditional back into one.
// The then-arm state is the working copy; the else-arm state is walked
// alongside it and every disagreement is resolved toward the weaker fact:
// a region live in one arm and consumed in the other is consumed, a field
// tracked in one arm and intact in the other is folded back, a field dead
// anywhere is dead. A name bound to two different regions across the arms
// joins on their attach, losing the distinction for every binding of
// either. Only a merge conflict over tracked structure, an exhausted step
// budget, or arms whose in-flight handles differ fail with a diagnostic;
// the then-arm state is then kept so later statements stay checkable.
func (w *walker) unifyBranches(pos ir.Position, base regions.RegionID, thenW, elseW *walker) (*rewrite.State, *regions.Futures) {
	u := &unifier{
		thenW:  thenW,
		elseW:  elseW,
		base:   base,
		idMap:  make(map[regions.RegionID]regions.RegionID),
		done:   make(map[[2]regions.RegionID]bool),
		budget: config.UnifyStepBudget,
	}
	if err := u.run(); err != nil {
		w.errorf(diagnostics.ErrR004, pos, "cannot unify the branches of this conditional: %v", err)
	}
	return thenW.st, thenW.fut
}

// unifier carries the working state of one branch join. idMap records which
// else-arm region each then-arm region stands for, so aliasing decisions
// made independently in the two arms can be checked for agreement.
type unifier struct {
	thenW, elseW *walker
	base         regions.RegionID
	idMap        map[regions.RegionID]regions.RegionID // else id -> then id
	done         map[[2]regions.RegionID]bool
	budget       int
}

func (u *unifier) spend() error {
	if u.budget <= 0 {
		return fmt.Errorf("join exceeded %d reconciliation steps", config.UnifyStepBudget)
	}
	u.budget--
	return nil
}

func (u *unifier) run() error {
	if err := u.unifyFutures(); err != nil {
		return err
	}

	thenVars := u.thenW.st.Ctx.Vars()
	elseSet := make(map[string]bool)
	for _, v := range u.elseW.st.Ctx.Vars() {
		elseSet[v] = true
	}

	shared := thenVars[:0:0]
	for _, v := range thenVars {
		if elseSet[v] {
			shared = append(shared, v)
		} else {
			// Bound in the then-arm only: not visible after the join.
			u.thenW.st.Ctx.Unbind(v)
		}
	}
	sort.Strings(shared)

	for _, v := range shared {
		if err := u.unifyVar(v); err != nil {
			return err
		}
	}
	return nil
}

func (u *unifier) unifyFutures() error {
	thenLive := u.thenW.fut.Live()
	elseLive := u.elseW.fut.Live()
	elseSet := make(map[string]bool, len(elseLive))
	for _, h := range elseLive {
		elseSet[h] = true
	}
	for _, h := range thenLive {
		if !elseSet[h] {
			return fmt.Errorf("handle %q is in flight in only one branch", h)
		}
		delete(elseSet, h)
	}
	for h := range elseSet {
		return fmt.Errorf("handle %q is in flight in only one branch", h)
	}

	for _, h := range thenLive {
		tp, _ := u.thenW.fut.Pending(h)
		ep, _ := u.elseW.fut.Pending(h)
		if tp.Type != ep.Type {
			return fmt.Errorf("handle %q carries a %s in one branch and a %s in the other",
				h, tp.Type, ep.Type)
		}
		if tp.Result != regions.NoRegion && ep.Result != regions.NoRegion {
			if _, err := u.correspond(tp.Result, ep.Result); err != nil {
				return fmt.Errorf("handle %q: %v", h, err)
			}
		}
	}
	return nil
}

func (u *unifier) unifyVar(v string) error {
	tb, _ := u.thenW.st.Ctx.Lookup(v)
	eb, _ := u.elseW.st.Ctx.Lookup(v)
	if tb.Type != eb.Type {
		// The arms disagree on what the variable even is; it carries no
		// usable fact past the join.
		u.thenW.st.Ctx.Unbind(v)
		return u.spend()
	}

	tLive := u.thenW.st.Store.Has(tb.Region)
	eLive := u.elseW.st.Store.Has(eb.Region)
	switch {
	case !tLive && !eLive:
		return nil // unusable in both arms, and stays so
	case tLive != eLive:
		// Live in one arm only: the join can promise nothing, so the
		// surviving copy is consumed too.
		if err := u.spend(); err != nil {
			return err
		}
		if tLive {
			u.thenW.st.Store.Discard(tb.Region)
		} else {
			// Absent from the working state already (in flight or never
			// materialized); mark it retired so a later use reads as
			// consumed rather than as recoverable.
			u.thenW.st.Store.Retire(tb.Region)
		}
		return nil
	}

	m, err := u.correspond(tb.Region, eb.Region)
	if err != nil {
		return fmt.Errorf("variable %q: %v", v, err)
	}
	if m == regions.NoRegion {
		return nil // the merge demoted the variable to consumed
	}
	return u.reconcile(m, eb.Region)
}

// correspond records that then-arm region t plays the role of else-arm
// region e, merging then-arm regions where the roles demand it: a name
// bound to two different pre-branch regions joins on their attach, and
// every Γ entry and tracked edge for either follows the merge. Returns
// the then-arm region carrying the role afterwards; NoRegion means the
// merge demoted the role to consumed and nothing is left to reconcile.
func (u *unifier) correspond(t, e regions.RegionID) (regions.RegionID, error) {
	if prev, ok := u.idMap[e]; ok {
		if prev == t {
			return t, nil
		}
		// The else-arm sees one region where the then-arm still has two.
		m, err := u.attach(prev, t)
		if err != nil {
			return regions.NoRegion, err
		}
		u.remap(prev, t, m)
		u.idMap[e] = m
		return m, nil
	}
	if t != e && t < u.base && e < u.base {
		// The arms bound different pre-branch regions to one role; the
		// join is their information-losing merge.
		m, err := u.attach(t, e)
		if err != nil {
			return regions.NoRegion, err
		}
		u.remap(t, e, m)
		u.idMap[e] = m
		return m, nil
	}
	u.idMap[e] = t
	return t, nil
}

// attach merges two then-arm regions on behalf of correspond. A side no
// longer owned in the then-arm cannot merge; the surviving side is
// consumed too and the role reads as consumed past the join.
func (u *unifier) attach(a, b regions.RegionID) (regions.RegionID, error) {
	if err := u.spend(); err != nil {
		return regions.NoRegion, err
	}
	st := u.thenW.st.Store
	if !st.Has(a) || !st.Has(b) {
		if st.Has(a) {
			st.Discard(a)
		}
		if st.Has(b) {
			st.Discard(b)
		}
		return regions.NoRegion, nil
	}
	u.thenW.eng.ResetBudget()
	m, err := u.thenW.eng.Attach(a, b)
	if err != nil {
		return regions.NoRegion, fmt.Errorf("cannot merge the branch regions: %v", err)
	}
	return m, nil
}

// remap redirects every recorded role from the merged ids to the merge.
// Pre-branch ids double as else-arm roles, so they map forward too.
func (u *unifier) remap(a, b, m regions.RegionID) {
	for e, t := range u.idMap {
		if t == a || t == b {
			u.idMap[e] = m
		}
	}
	if a < u.base {
		u.idMap[a] = m
	}
	if b < u.base {
		u.idMap[b] = m
	}
}

// reconcile drives the then-arm region t to the meet of its shape and the
// shape of else-arm region e, field by field.
func (u *unifier) reconcile(t, e regions.RegionID) error {
	key := [2]regions.RegionID{t, e}
	if u.done[key] {
		return nil
	}
	u.done[key] = true
	if err := u.spend(); err != nil {
		return err
	}

	treg, tok := u.thenW.st.Store.Get(t)
	ereg, eok := u.elseW.st.Store.Get(e)
	if !tok || !eok {
		return fmt.Errorf("region %s is not materialized in both branches", t)
	}
	treg.Pinned = treg.Pinned || ereg.Pinned

	fields := make(map[string]bool)
	for f := range treg.Children {
		fields[f] = true
	}
	for f := range ereg.Children {
		fields[f] = true
	}
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)

	for _, f := range names {
		tc, tHas := treg.Children[f]
		ec, eHas := ereg.Children[f]
		tDead := tHas && tc == regions.NoRegion
		eDead := eHas && ec == regions.NoRegion

		switch {
		case tDead && eDead:
			// agreed tombstone
		case tDead || eDead:
			if err := u.killField(t, f, tc, tHas && !tDead); err != nil {
				return err
			}
		case tHas && eHas:
			mc, err := u.correspond(tc, ec)
			if err != nil {
				return fmt.Errorf("field %q: %v", f, err)
			}
			if mc == regions.NoRegion {
				continue // merged away as consumed; the edge died with it
			}
			if err := u.reconcile(mc, ec); err != nil {
				return err
			}
		case tHas != eHas:
			// Tracked in one arm, intact in the other: fold the tracked
			// side back so both arms read "intact".
			if err := u.spend(); err != nil {
				return err
			}
			if !tHas {
				continue // then-arm is already intact
			}
			u.thenW.eng.ResetBudget()
			if err := u.thenW.eng.Simplify(tc, rewrite.AllowNoDead); err == nil {
				if err := u.thenW.eng.RetractEdge(t, f); err == nil {
					continue
				}
			}
			// The subtree will not fold cleanly; the meet degrades to a
			// tombstone, which is always expressible.
			if err := u.killField(t, f, tc, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// killField demotes field f of then-arm region t to a tombstone, discarding
// the tracked subtree under it if there is one.
func (u *unifier) killField(t regions.RegionID, f string, child regions.RegionID, tracked bool) error {
	if err := u.spend(); err != nil {
		return err
	}
	if tracked && u.thenW.st.Store.Has(child) {
		u.thenW.st.Store.Discard(child)
	}
	u.thenW.st.Store.SetChild(t, f, regions.NoRegion)
	return nil
}
