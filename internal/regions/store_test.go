package regions

import "testing"

func TestAllocNeverReusesIDs(t *testing.T) {
	s := NewStore()
	a := s.Alloc()
	b := s.Alloc()
	if a == b {
		t.Fatalf("Alloc returned the same id twice: %s", a)
	}

	s.Retire(a)
	if s.Has(a) {
		t.Errorf("retired region %s still live", a)
	}
	if !s.Retired(a) {
		t.Errorf("region %s not marked retired", a)
	}

	// Retract finality: no later allocation may reissue the retired id.
	for i := 0; i < 100; i++ {
		if r := s.Alloc(); r == a {
			t.Fatalf("retired id %s was reissued", a)
		}
	}
}

func TestRetireTombstonesDanglingEdges(t *testing.T) {
	s := NewStore()
	parent := s.Alloc()
	child := s.Alloc()
	s.SetChild(parent, "left", child)
	s.SetChild(parent, "right", child)

	s.Retire(child)

	for _, f := range []string{"left", "right"} {
		c, ok := s.Child(parent, f)
		if !ok {
			t.Fatalf("entry for %s disappeared", f)
		}
		if c != NoRegion {
			t.Errorf("edge %s = %s, want dead tombstone", f, c)
		}
	}
	reg, _ := s.Get(parent)
	if got := reg.DeadFields(); len(got) != 2 {
		t.Errorf("DeadFields = %v, want [left right]", got)
	}
}

func TestCheckForestDetectsSharedTarget(t *testing.T) {
	s := NewStore()
	parent := s.Alloc()
	child := s.Alloc()
	s.SetChild(parent, "left", child)

	if v := s.CheckForest(); v != nil {
		t.Fatalf("single edge flagged as violation: %v", v)
	}

	s.SetChild(parent, "right", child)
	v := s.CheckForest()
	if v == nil {
		t.Fatal("shared target not detected")
	}
	if v.Target != child {
		t.Errorf("violation target = %s, want %s", v.Target, child)
	}

	// Restricted check from an unrelated root must stay clean.
	other := s.Alloc()
	if v := s.ForestFrom(other); v != nil {
		t.Errorf("ForestFrom(%s) = %v, want nil", other, v)
	}
	if v := s.ForestFrom(parent); v == nil {
		t.Error("ForestFrom(parent) missed the shared target")
	}
}

func TestForestIgnoresTombstones(t *testing.T) {
	s := NewStore()
	parent := s.Alloc()
	s.SetChild(parent, "left", NoRegion)
	s.SetChild(parent, "right", NoRegion)
	if v := s.CheckForest(); v != nil {
		t.Errorf("dead tombstones flagged as violation: %v", v)
	}
}

func TestExtractRemovesSubgraphAndTombstones(t *testing.T) {
	s := NewStore()
	pair := s.Alloc()
	left := s.Alloc()
	right := s.Alloc()
	leaf := s.Alloc()
	s.SetChild(pair, "left", left)
	s.SetChild(pair, "right", right)
	s.SetChild(left, "next", leaf)

	frag := s.Extract(left)

	for _, id := range []RegionID{left, leaf} {
		if s.Has(id) {
			t.Errorf("extracted region %s still in store", id)
		}
		if !frag.Contains(id) {
			t.Errorf("fragment missing %s", id)
		}
	}
	if !s.Has(pair) || !s.Has(right) {
		t.Error("extraction removed regions outside the subgraph")
	}

	// The parent edge into the departed fragment must be a dead tombstone.
	c, ok := s.Child(pair, "left")
	if !ok || c != NoRegion {
		t.Errorf("pair.left = (%s, %v), want dead tombstone", c, ok)
	}

	s.Reinstate(frag)
	if !s.Has(left) || !s.Has(leaf) {
		t.Error("reinstated regions not live")
	}
	// Reinstatement restores custody of the records, not the severed edge.
	if c, _ := s.Child(pair, "left"); c != NoRegion {
		t.Errorf("pair.left resurrected to %s after reinstate", c)
	}
}

func TestDiscardRetiresWholeSubgraph(t *testing.T) {
	s := NewStore()
	root := s.Alloc()
	child := s.Alloc()
	s.SetChild(root, "next", child)

	s.Discard(root)

	for _, id := range []RegionID{root, child} {
		if s.Has(id) {
			t.Errorf("discarded region %s still live", id)
		}
		if !s.Retired(id) {
			t.Errorf("discarded region %s not retired", id)
		}
	}
}

func TestCloneIsolation(t *testing.T) {
	s := NewStore()
	r := s.Alloc()
	s.SetChild(r, "left", s.Alloc())

	c := s.Clone()
	c.SetChild(r, "left", NoRegion)
	c.Alloc()

	if got, _ := s.Child(r, "left"); got == NoRegion {
		t.Error("mutating the clone leaked into the original")
	}
	if s.Next() == c.Next() {
		t.Error("clone allocation moved the original's counter")
	}
}

func TestContextStrongUpdateAndRebind(t *testing.T) {
	s := NewStore()
	ctx := NewContext()
	r1 := s.Alloc()
	r2 := s.Alloc()

	ctx.Bind("x", r1, "Cell")
	ctx.Bind("y", r1, "Cell")
	ctx.Bind("x", r2, "Cell") // strong update

	if b, _ := ctx.Lookup("x"); b.Region != r2 {
		t.Errorf("x = %s after strong update, want %s", b.Region, r2)
	}
	if b, _ := ctx.Lookup("y"); b.Region != r1 {
		t.Errorf("y = %s, rebinding x must not move y", b.Region)
	}

	merged := s.Alloc()
	ctx.RebindRegion(r1, merged)
	if got := ctx.VarsOf(merged); len(got) != 1 || got[0] != "y" {
		t.Errorf("VarsOf(merged) = %v, want [y]", got)
	}
}
