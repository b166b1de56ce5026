package checker

import (
	"fmt"
	"sort"

	"github.com/veld-lang/veld/internal/diagnostics"
	"github.com/veld-lang/veld/internal/ir"
	"github.com/veld-lang/veld/internal/regions"
	"github.com/veld-lang/veld/internal/rewrite"
)

// matchCall checks a call site against the callee's declared contract and
// applies its effects. handle is empty for synchronous calls; for spawns it
// names the future handle the in-flight fragment is filed under.
//
// The matching itself is a bounded drive of the engine: grouped arguments
// attach, un-tombstoned un-pinned parameters simplify to the bare canonical
// shape, declared entry-shape fragments are verified, and only then do the
// consumed/preserved/fresh-result effects fire.
func (w *walker) matchCall(pos ir.Position, calleeName string, args []string, resultVar, handle string) {
	async := handle != ""
	fail := func() {
		// Best-effort recovery: keep later statements checkable.
		if resultVar != "" {
			w.recoverBinding(resultVar, "")
		}
		if async {
			_ = w.fut.Spawn(handle, regions.Pending{Result: w.st.Store.Reserve()})
		}
	}

	callee, ok := w.checker.prog.Func(calleeName)
	if !ok {
		w.errorf(diagnostics.ErrR000, pos, "unknown function %q", calleeName)
		fail()
		return
	}
	sig := &callee.Sig
	if len(args) != len(sig.Params) {
		w.errorf(diagnostics.ErrR000, pos, "%s expects %d arguments, got %d",
			calleeName, len(sig.Params), len(args))
		fail()
		return
	}

	// Resolve every argument to a live region first; a lost region here is
	// the use-after-transfer case (the region is in flight or consumed).
	failed := false
	for i, a := range args {
		p := sig.Params[i]
		b, ok := w.lookupLive(pos, a)
		if !ok {
			failed = true
			continue
		}
		if b.Type != p.Type {
			w.errorf(diagnostics.ErrR002, pos, "argument %q has type %s, contract expects %s",
				a, b.Type, p.Type).WithSubject(a, "")
			failed = true
		}
	}
	if failed {
		fail()
		return
	}

	// Grouped parameters must share one region: attach the arguments.
	groups := make(map[int][]string)
	var groupIDs []int
	for i, p := range sig.Params {
		if p.Group != 0 {
			if len(groups[p.Group]) == 0 {
				groupIDs = append(groupIDs, p.Group)
			}
			groups[p.Group] = append(groups[p.Group], args[i])
		}
	}
	sort.Ints(groupIDs)
	for _, id := range groupIDs {
		members := groups[id]
		first, _ := w.st.Ctx.Lookup(members[0])
		m := first.Region
		for _, a := range members[1:] {
			b, _ := w.st.Ctx.Lookup(a)
			merged, err := w.attach(m, b.Region)
			if err != nil {
				w.engineError(pos, err)
				fail()
				return
			}
			m = merged
		}
	}

	// Separate parameters must arrive in separate regions; the contract
	// promises the callee disjointness.
	argRegion := func(param string) regions.RegionID {
		for i, p := range sig.Params {
			if p.Name == param {
				b, _ := w.st.Ctx.Lookup(args[i])
				return b.Region
			}
		}
		return regions.NoRegion
	}
	slotOf := make(map[regions.RegionID]string)
	argOf := make(map[regions.RegionID]string)
	for i, p := range sig.Params {
		b, _ := w.st.Ctx.Lookup(args[i])
		slot := fmt.Sprintf("param:%s", p.Name)
		if p.Group != 0 {
			slot = fmt.Sprintf("group:%d", p.Group)
		}
		if prev, dup := slotOf[b.Region]; dup && prev != slot {
			w.errorf(diagnostics.ErrR002, pos,
				"arguments %q and %q share a region but the contract keeps them separate",
				argOf[b.Region], args[i]).WithSubject(args[i], "")
			fail()
			return
		}
		slotOf[b.Region] = slot
		argOf[b.Region] = args[i]
	}

	// Per-parameter shape: pin compatibility, declared fragments, and the
	// bare canonical form for everything undeclared.
	for i, p := range sig.Params {
		b, _ := w.st.Ctx.Lookup(args[i])
		reg, _ := w.st.Store.Get(b.Region)
		if reg.Pinned && !p.Pinned {
			w.errorf(diagnostics.ErrR002, pos,
				"pinned region of %q cannot meet the unpinned parameter %q", args[i], p.Name).
				WithSubject(args[i], "")
			failed = true
			continue
		}
		if p.Pinned {
			reg.Pinned = true // callee restrictions persist for the caller
			continue
		}
		if v := w.st.Store.ForestFrom(b.Region); v != nil {
			w.errorf(diagnostics.ErrR003, pos, "%v", v).WithSubject(args[i], "")
			failed = true
			continue
		}
		if err := w.driveToShape(b.Region, paramShape(sig, p.Name), argRegion); err != nil {
			w.errorf(diagnostics.ErrR002, pos,
				"cannot establish contract for argument %q: %v", args[i], err).
				WithSubject(args[i], fieldOf(err))
			failed = true
		}
	}
	if failed {
		fail()
		return
	}

	if !async {
		w.applyCallEffects(pos, sig, args, resultVar)
		return
	}
	w.applySpawnEffects(pos, sig, args, handle)
}

// paramShape selects the entry-shape edges declared for one parameter.
func paramShape(sig *ir.Signature, param string) []ir.ShapeEdge {
	var out []ir.ShapeEdge
	for _, e := range sig.EntryShape {
		if e.Var == param {
			out = append(out, e)
		}
	}
	return out
}

// fieldOf pulls the offending field out of an engine error, if any.
func fieldOf(err error) string {
	switch e := err.(type) {
	case *rewrite.DeadFieldError:
		return e.Field
	case *rewrite.RetractBlockedError:
		return e.Field
	case *rewrite.UnfocusBlockedError:
		return e.Field
	default:
		return ""
	}
}

// driveToShape canonicalizes a region to a declared contract shape: every
// tracked edge the shape does not declare is retracted leaf-first, declared
// edges and tombstones are verified, and residual dead fields outside the
// declaration are the mismatch.
func (w *walker) driveToShape(r regions.RegionID, edges []ir.ShapeEdge, resolve func(param string) regions.RegionID) error {
	if len(edges) == 0 {
		return w.eng.Simplify(r, rewrite.AllowNoDead)
	}

	targets := make(map[string]regions.RegionID)
	deadDeclared := make(map[string]bool)
	for _, e := range edges {
		if e.Dead {
			deadDeclared[e.Field] = true
		} else {
			targets[e.Field] = resolve(e.Target)
		}
	}

	reg, ok := w.st.Store.Get(r)
	if !ok {
		return &rewrite.LostRegionError{Region: r, Retired: w.st.Store.Retired(r)}
	}
	for _, f := range reg.TrackedFields() {
		child := reg.Children[f]
		if child == regions.NoRegion {
			continue
		}
		if want, declared := targets[f]; declared {
			if child != want {
				return fmt.Errorf("field %q is tracked at %s, contract expects %s", f, child, want)
			}
			continue
		}
		if err := w.eng.Simplify(child, rewrite.AllowNoDead); err != nil {
			return err
		}
		if err := w.eng.RetractEdge(r, f); err != nil {
			return err
		}
	}
	for f := range targets {
		if c, present := w.st.Store.Child(r, f); !present || c == regions.NoRegion {
			return fmt.Errorf("field %q must arrive tracked, but it is not", f)
		}
	}
	for f := range deadDeclared {
		if c, present := w.st.Store.Child(r, f); !present || c != regions.NoRegion {
			return fmt.Errorf("field %q must arrive as a tombstone", f)
		}
	}
	for _, f := range reg.DeadFields() {
		if !deadDeclared[f] {
			return &rewrite.DeadFieldError{Field: f}
		}
	}
	return nil
}

// applyCallEffects fires a synchronous call's contract effects: consumed
// argument regions are destroyed for good, the result is allocated per the
// declared freshness rule.
func (w *walker) applyCallEffects(pos ir.Position, sig *ir.Signature, args []string, resultVar string) {
	for i, p := range sig.Params {
		if p.Mode != ir.ModeConsumed {
			continue
		}
		if b, ok := w.st.Ctx.Lookup(args[i]); ok {
			w.st.Store.Discard(b.Region)
		}
	}

	if sig.Result.Type == "" {
		if resultVar != "" {
			w.errorf(diagnostics.ErrR000, pos, "%s produces no value", sig.Name).
				WithSubject(resultVar, "")
			w.recoverBinding(resultVar, "")
		}
		return
	}
	if sig.Result.Origin == ir.ResultOriginFresh {
		if resultVar != "" {
			if _, err := w.eng.Fresh(resultVar, sig.Result.Type); err != nil {
				w.engineError(pos, err)
				w.recoverBinding(resultVar, sig.Result.Type)
			}
		}
		return
	}
	// Result lives in a preserved parameter's region.
	for i, p := range sig.Params {
		if p.Name == sig.Result.Origin {
			if b, ok := w.st.Ctx.Lookup(args[i]); ok && resultVar != "" {
				w.st.Ctx.Bind(resultVar, b.Region, sig.Result.Type)
			}
			return
		}
	}
}

// applySpawnEffects moves the argument regions out of the store for the
// lifetime of the handle: preserved fragments into the future context to be
// reinstated at await, consumed fragments out of existence.
func (w *walker) applySpawnEffects(pos ir.Position, sig *ir.Signature, args []string, handle string) {
	restore := regions.NewFragment()
	var relink []regions.Relink
	argRegions := make(map[string]regions.RegionID, len(args))
	for i, p := range sig.Params {
		b, ok := w.st.Ctx.Lookup(args[i])
		if !ok {
			continue
		}
		argRegions[p.Name] = b.Region
		switch p.Mode {
		case ir.ModePreserved:
			for _, in := range w.st.Store.InEdges(b.Region) {
				relink = append(relink, regions.Relink{
					Parent: in.Parent, Field: in.Field, Target: b.Region,
				})
			}
			restore.Merge(w.st.Store.Extract(b.Region))
		case ir.ModeConsumed:
			w.st.Store.Discard(b.Region)
		}
	}

	if restore.Empty() {
		restore = nil // all arguments consumed; nothing comes back at await
	}

	var result regions.RegionID
	if sig.Result.Type != "" {
		if sig.Result.Origin == ir.ResultOriginFresh {
			result = w.st.Store.Reserve()
		} else {
			result = argRegions[sig.Result.Origin]
		}
	}
	if err := w.fut.Spawn(handle, regions.Pending{
		Restore: restore,
		Relink:  relink,
		Result:  result,
		Type:    sig.Result.Type,
	}); err != nil {
		w.engineError(pos, err)
	}
}

// checkExit verifies the function's declared post-condition against the
// surviving state: no live handles, preserved parameters restorable to
// their entry shape, and the result in a region matching its declared
// origin. Forest breaches on a caller-visible (preserved) region are tree
// invariant violations; a mis-shaped or unrepairable fresh result is a
// contract mismatch.
func (w *walker) checkExit(pos ir.Position, resultVar string) {
	w.eng.ResetBudget()
	sig := &w.fn.Sig

	for _, h := range w.fut.Live() {
		w.errorf(diagnostics.ErrR005, pos,
			"function exits while handle %q is still in flight", h).WithSubject(h, "")
	}

	entryResolve := func(param string) regions.RegionID {
		return w.resolveRename(w.paramRegions[param])
	}

	preservedAt := make(map[regions.RegionID]string)
	for _, p := range sig.Params {
		if p.Mode != ir.ModePreserved {
			continue
		}
		entry := entryResolve(p.Name)
		if !w.st.Store.Has(entry) {
			w.errorf(diagnostics.ErrR002, pos,
				"preserved parameter %q no longer owns its region at exit", p.Name).
				WithSubject(p.Name, "")
			continue
		}
		if other, dup := preservedAt[entry]; dup {
			op, _ := sig.Param(other)
			if p.Group == 0 || op.Group != p.Group {
				w.errorf(diagnostics.ErrR002, pos,
					"preserved parameters %q and %q were merged into one region", other, p.Name).
					WithSubject(p.Name, "")
			}
			continue // declared group mates were driven together already
		}
		preservedAt[entry] = p.Name

		if p.Pinned {
			continue // arrived opaque, leaves opaque
		}
		if reg, ok := w.st.Store.Get(entry); ok && reg.Pinned {
			w.errorf(diagnostics.ErrR002, pos,
				"preserved parameter %q became pinned; the contract hands back an unpinned region", p.Name).
				WithSubject(p.Name, "")
			continue
		}
		if v := w.st.Store.ForestFrom(entry); v != nil {
			w.errorf(diagnostics.ErrR003, pos, "exit state of %q: %v", p.Name, v).
				WithSubject(p.Name, "")
			continue
		}
		if err := w.driveToShape(entry, paramShape(sig, p.Name), entryResolve); err != nil {
			w.errorf(diagnostics.ErrR002, pos,
				"cannot establish exit contract for %q: %v", p.Name, err).
				WithSubject(p.Name, fieldOf(err))
		}
	}

	w.checkExitResult(pos, resultVar, preservedAt, entryResolve)
}

func (w *walker) checkExitResult(pos ir.Position, resultVar string, preservedAt map[regions.RegionID]string, entryResolve func(string) regions.RegionID) {
	sig := &w.fn.Sig
	if sig.Result.Type == "" {
		if resultVar != "" {
			w.errorf(diagnostics.ErrR000, pos, "function declares no result").
				WithSubject(resultVar, "")
		}
		return
	}
	if resultVar == "" {
		w.errorf(diagnostics.ErrR002, pos, "missing result of type %s", sig.Result.Type)
		return
	}
	b, ok := w.lookupLive(pos, resultVar)
	if !ok {
		return
	}
	if b.Type != "" && b.Type != sig.Result.Type {
		w.errorf(diagnostics.ErrR002, pos, "result %q has type %s, contract declares %s",
			resultVar, b.Type, sig.Result.Type).WithSubject(resultVar, "")
		return
	}

	if sig.Result.Origin != ir.ResultOriginFresh {
		if b.Region != entryResolve(sig.Result.Origin) {
			w.errorf(diagnostics.ErrR002, pos,
				"result %q must occupy the region of parameter %q", resultVar, sig.Result.Origin).
				WithSubject(resultVar, "")
		}
		return
	}

	if owner, shared := preservedAt[b.Region]; shared {
		w.errorf(diagnostics.ErrR002, pos,
			"result %q must occupy a fresh region, not parameter %q's", resultVar, owner).
			WithSubject(resultVar, "")
		return
	}
	if v := w.st.Store.ForestFrom(b.Region); v != nil {
		// A doubled edge under the fresh result is repairable: one retract
		// destroys the shared target and tombstones the sibling. What's
		// left is then judged against the contract shape.
		if err := w.eng.RepairForest(b.Region); err != nil {
			w.errorf(diagnostics.ErrR003, pos, "exit state of result %q: %v", resultVar, err).
				WithSubject(resultVar, "")
			return
		}
	}
	if err := w.eng.Simplify(b.Region, rewrite.AllowNoDead); err != nil {
		if dead, ok := err.(*rewrite.DeadFieldError); ok {
			w.errorf(diagnostics.ErrR002, pos,
				"isolated field %q of result %q was never initialized or was lost",
				dead.Field, resultVar).WithSubject(resultVar, dead.Field)
			return
		}
		w.errorf(diagnostics.ErrR002, pos,
			"cannot establish exit contract for result %q: %v", resultVar, err).
			WithSubject(resultVar, fieldOf(err))
	}
}
