package rewrite

import (
	"errors"
	"testing"

	"github.com/veld-lang/veld/internal/regions"
)

// tableResolver is a FieldResolver over literal declarations.
type tableResolver map[string]map[string]struct {
	typ string
	iso bool
}

func (t tableResolver) FieldInfo(typeName, field string) (string, bool, bool) {
	f, ok := t[typeName][field]
	return f.typ, f.iso, ok
}

func (t tableResolver) IsoFields(typeName string) []string {
	var out []string
	for name, f := range t[typeName] {
		if f.iso {
			out = append(out, name)
		}
	}
	return out
}

var pairTypes = tableResolver{
	"IsoPair": {
		"left":  {typ: "Cell", iso: true},
		"right": {typ: "Cell", iso: true},
		"tag":   {typ: "Int", iso: false},
	},
	"Cell": {},
}

func newPairEngine(t *testing.T) (*Engine, regions.RegionID) {
	t.Helper()
	st := NewState()
	r := st.Store.Alloc()
	st.Ctx.Bind("p", r, "IsoPair")
	return NewEngine(st, pairTypes), r
}

func TestExploreIsIdempotent(t *testing.T) {
	e, _ := newPairEngine(t)

	first, err := e.Explore("p", "left")
	if err != nil {
		t.Fatalf("first explore: %v", err)
	}
	second, err := e.Explore("p", "left")
	if err != nil {
		t.Fatalf("re-explore: %v", err)
	}
	if first != second {
		t.Errorf("re-exploring left gave %s then %s; double discovery", first, second)
	}

	right, err := e.Explore("p", "right")
	if err != nil {
		t.Fatalf("explore right: %v", err)
	}
	if right == first {
		t.Errorf("distinct fields share region %s", right)
	}
}

func TestExploreRejectsNonIsoAndUnknown(t *testing.T) {
	e, _ := newPairEngine(t)

	var notIso *NotIsolatedError
	if _, err := e.Explore("p", "tag"); !errors.As(err, &notIso) {
		t.Errorf("explore(tag) err = %v, want NotIsolatedError", err)
	}
	var unknown *UnknownFieldError
	if _, err := e.Explore("p", "middle"); !errors.As(err, &unknown) {
		t.Errorf("explore(middle) err = %v, want UnknownFieldError", err)
	}
}

func TestExploreRejectsPinnedRegion(t *testing.T) {
	e, r := newPairEngine(t)
	reg, _ := e.State().Store.Get(r)
	reg.Pinned = true

	var pinned *PinnedRegionError
	if _, err := e.Explore("p", "left"); !errors.As(err, &pinned) {
		t.Errorf("explore on pinned region err = %v, want PinnedRegionError", err)
	}
}

func TestRetractFinality(t *testing.T) {
	e, _ := newPairEngine(t)
	st := e.State()

	left, err := e.Explore("p", "left")
	if err != nil {
		t.Fatalf("explore: %v", err)
	}
	st.Ctx.Bind("l", left, "Cell")

	if err := e.Retract("p", "left"); err != nil {
		t.Fatalf("retract: %v", err)
	}
	if st.Store.Has(left) {
		t.Fatal("retracted region still owned")
	}
	// The binding survives lexically but its region lookup must fail.
	var lost *LostRegionError
	if _, err := e.Explore("l", "left"); !errors.As(err, &lost) {
		t.Errorf("using binding of retracted region: err = %v, want LostRegionError", err)
	}

	// The field reverts to intact: a later explore yields a fresh id, never
	// the retired one.
	again, err := e.Explore("p", "left")
	if err != nil {
		t.Fatalf("re-explore after retract: %v", err)
	}
	if again == left {
		t.Errorf("retired id %s reissued by explore", left)
	}
}

func TestRetractTombstonesDoubledSibling(t *testing.T) {
	e, r := newPairEngine(t)
	st := e.State()

	left, err := e.Explore("p", "left")
	if err != nil {
		t.Fatalf("explore: %v", err)
	}
	// Simulate the double-initialization shape: both fields at one region.
	st.Store.SetChild(r, "right", left)

	if err := e.Retract("p", "left"); err != nil {
		t.Fatalf("retract: %v", err)
	}
	c, ok := st.Store.Child(r, "right")
	if !ok || c != regions.NoRegion {
		t.Errorf("right = (%s, %v) after sibling retract, want dead tombstone", c, ok)
	}
	// Exactly one retract can fire: the surviving edge is dead, not tracked.
	var blocked *RetractBlockedError
	if err := e.Retract("p", "right"); !errors.As(err, &blocked) {
		t.Errorf("second retract err = %v, want RetractBlockedError", err)
	}
}

func TestRetractBlockedOnTrackedChild(t *testing.T) {
	st := NewState()
	types := tableResolver{
		"List": {"next": {typ: "List", iso: true}},
	}
	r := st.Store.Alloc()
	st.Ctx.Bind("xs", r, "List")
	e := NewEngine(st, types)

	next, err := e.Explore("xs", "next")
	if err != nil {
		t.Fatalf("explore: %v", err)
	}
	st.Ctx.Bind("tail", next, "List")
	if _, err := e.Explore("tail", "next"); err != nil {
		t.Fatalf("explore tail: %v", err)
	}

	var blocked *RetractBlockedError
	if err := e.Retract("xs", "next"); !errors.As(err, &blocked) {
		t.Errorf("retract above tracked structure: err = %v, want RetractBlockedError", err)
	}

	// Leaf-first order is fine.
	if err := e.Retract("tail", "next"); err != nil {
		t.Fatalf("retract leaf: %v", err)
	}
	if err := e.Retract("xs", "next"); err != nil {
		t.Fatalf("retract after leaf: %v", err)
	}
}

func TestAttachRelabelsEverything(t *testing.T) {
	st := NewState()
	e := NewEngine(st, pairTypes)

	a := st.Store.Alloc()
	b := st.Store.Alloc()
	parent := st.Store.Alloc()
	st.Store.SetChild(parent, "left", a)
	st.Ctx.Bind("x", a, "Cell")
	st.Ctx.Bind("y", b, "Cell")
	st.Ctx.Bind("z", b, "Cell")

	m, err := e.Attach(a, b)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if st.Store.Has(a) || st.Store.Has(b) {
		t.Error("attached operands still live")
	}
	for _, v := range []string{"x", "y", "z"} {
		if bind, _ := st.Ctx.Lookup(v); bind.Region != m {
			t.Errorf("%s = %s after attach, want %s", v, bind.Region, m)
		}
	}
	if c, _ := st.Store.Child(parent, "left"); c != m {
		t.Errorf("edge into operand relabeled to %s, want %s", c, m)
	}
}

func TestAttachRejectsConflictingTrackedFields(t *testing.T) {
	st := NewState()
	e := NewEngine(st, pairTypes)

	a := st.Store.Alloc()
	b := st.Store.Alloc()
	st.Store.SetChild(a, "left", st.Store.Alloc())
	st.Store.SetChild(b, "left", st.Store.Alloc())

	var conflict *AttachConflictError
	if _, err := e.Attach(a, b); !errors.As(err, &conflict) {
		t.Errorf("attach with conflicting tracked fields: err = %v, want AttachConflictError", err)
	}
}

func TestAttachAbsorbsOrphanedChild(t *testing.T) {
	st := NewState()
	e := NewEngine(st, pairTypes)

	a := st.Store.Alloc()
	b := st.Store.Alloc()
	child := st.Store.Alloc()
	st.Store.SetChild(a, "left", child)

	m, err := e.Attach(a, b)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	mreg, _ := st.Store.Get(m)
	if c, ok := mreg.Children["left"]; !ok || c != regions.NoRegion {
		t.Errorf("merged left = (%s, %v), want dead tombstone", c, ok)
	}
	// The child folded into the merge; it may not survive as a region the
	// checker could hand out independently.
	if st.Store.Has(child) {
		t.Error("one-sided tracked child survived the merge as its own region")
	}
}

func TestFocusUnfocusRoundTrip(t *testing.T) {
	e, r := newPairEngine(t)
	st := e.State()

	if err := e.Focus("p"); err != nil {
		t.Fatalf("focus: %v", err)
	}
	reg, _ := st.Store.Get(r)
	if reg.Children == nil {
		t.Fatal("focus did not materialize the children map")
	}
	if err := e.Unfocus("p"); err != nil {
		t.Fatalf("unfocus: %v", err)
	}
	if reg.Children != nil {
		t.Fatal("unfocus did not fold the children map")
	}
}

func TestUnfocusBlockedByDeadField(t *testing.T) {
	e, r := newPairEngine(t)
	e.State().Store.SetChild(r, "left", regions.NoRegion)

	var blocked *UnfocusBlockedError
	if err := e.Unfocus("p"); !errors.As(err, &blocked) {
		t.Errorf("unfocus over tombstone: err = %v, want UnfocusBlockedError", err)
	}
}

func TestSimplifyRetractsAndFolds(t *testing.T) {
	e, r := newPairEngine(t)
	st := e.State()

	if _, err := e.Explore("p", "left"); err != nil {
		t.Fatalf("explore: %v", err)
	}
	if _, err := e.Explore("p", "right"); err != nil {
		t.Fatalf("explore: %v", err)
	}

	if err := e.Simplify(r, AllowNoDead); err != nil {
		t.Fatalf("simplify: %v", err)
	}
	reg, _ := st.Store.Get(r)
	if reg.Children != nil {
		t.Errorf("simplified region still focused: %v", reg.Children)
	}
}

func TestSimplifyReportsResidualDeadField(t *testing.T) {
	e, r := newPairEngine(t)
	e.State().Store.SetChild(r, "right", regions.NoRegion)

	var dead *DeadFieldError
	err := e.Simplify(r, AllowNoDead)
	if !errors.As(err, &dead) {
		t.Fatalf("simplify err = %v, want DeadFieldError", err)
	}
	if dead.Field != "right" {
		t.Errorf("residual field = %q, want right", dead.Field)
	}

	// The same tombstone is fine when the contract declares it.
	if err := e.Simplify(r, func(f string) bool { return f == "right" }); err != nil {
		t.Errorf("simplify with declared tombstone: %v", err)
	}
}

func TestRepairForestFiresOneRetract(t *testing.T) {
	e, r := newPairEngine(t)
	st := e.State()

	shared := st.Store.Alloc()
	st.Store.SetChild(r, "left", shared)
	st.Store.SetChild(r, "right", shared)

	if err := e.RepairForest(r); err != nil {
		t.Fatalf("repair: %v", err)
	}
	if v := st.Store.ForestFrom(r); v != nil {
		t.Fatalf("forest still violated after repair: %v", v)
	}
	reg, _ := st.Store.Get(r)
	if got := reg.DeadFields(); len(got) != 1 {
		t.Errorf("dead fields after repair = %v, want exactly one", got)
	}
	if st.Store.Has(shared) {
		t.Error("shared target survived repair")
	}
}

func TestBudgetBoundsChainedSteps(t *testing.T) {
	st := NewState()
	types := tableResolver{
		"List": {"next": {typ: "List", iso: true}},
	}
	r := st.Store.Alloc()
	st.Ctx.Bind("n0", r, "List")
	e := NewEngine(st, types)

	cur := "n0"
	var budgetErr *BudgetExceededError
	for i := 0; ; i++ {
		next, err := e.Explore(cur, "next")
		if errors.As(err, &budgetErr) {
			break // bounded as required
		}
		if err != nil {
			t.Fatalf("explore %d: %v", i, err)
		}
		name := "n" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		st.Ctx.Bind(name, next, "List")
		cur = name
		if i > 10000 {
			t.Fatal("step budget never triggered")
		}
	}

	e.ResetBudget()
	if _, err := e.Explore("n0", "next"); err != nil {
		t.Errorf("explore after budget reset: %v", err)
	}
}

func TestStepLogRecordsAppliedSequence(t *testing.T) {
	e, _ := newPairEngine(t)

	if _, err := e.Explore("p", "left"); err != nil {
		t.Fatalf("explore: %v", err)
	}
	if _, err := e.Explore("p", "left"); err != nil {
		t.Fatalf("re-explore: %v", err)
	}
	if err := e.Retract("p", "left"); err != nil {
		t.Fatalf("retract: %v", err)
	}

	steps := e.Steps()
	want := []Kind{StepExplore, StepRetract}
	if len(steps) != len(want) {
		t.Fatalf("logged %d steps, want %d: %v", len(steps), len(want), steps)
	}
	for i, s := range steps {
		if s.Kind != want[i] {
			t.Errorf("step %d = %s, want %s", i, s.Kind, want[i])
		}
	}
	// Re-exploration is free and leaves no trace; the log holds only the
	// steps that changed the state.
	if got := steps[0].String(); got != "explore(p.left)" {
		t.Errorf("step 0 renders as %q", got)
	}

	e.ResetBudget()
	if len(e.Steps()) != 0 {
		t.Error("reset kept the step log")
	}
}
