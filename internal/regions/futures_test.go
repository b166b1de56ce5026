package regions

import (
	"errors"
	"testing"
)

func TestFutureLifecycle(t *testing.T) {
	s := NewStore()
	pair := s.Alloc()
	frag := s.Extract(pair)

	fut := NewFutures()
	res := s.Reserve()
	if err := fut.Spawn("h", Pending{Restore: frag, Result: res, Type: "Reply"}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if got := fut.Live(); len(got) != 1 || got[0] != "h" {
		t.Fatalf("Live = %v, want [h]", got)
	}

	p, err := fut.Redeem("h")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if p.Result != res || p.Type != "Reply" {
		t.Errorf("Redeem returned (%s, %s), want (%s, Reply)", p.Result, p.Type, res)
	}
	if fut.Len() != 0 {
		t.Errorf("handle still live after redeem")
	}
}

func TestDoubleAwaitAndUnknownHandle(t *testing.T) {
	fut := NewFutures()
	if err := fut.Spawn("h", Pending{}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := fut.Redeem("h"); err != nil {
		t.Fatalf("first Redeem: %v", err)
	}

	_, err := fut.Redeem("h")
	var redeemed *RedeemedHandleError
	if !errors.As(err, &redeemed) {
		t.Errorf("second Redeem error = %v, want RedeemedHandleError", err)
	}

	_, err = fut.Redeem("ghost")
	var unknown *UnknownHandleError
	if !errors.As(err, &unknown) {
		t.Errorf("Redeem(ghost) error = %v, want UnknownHandleError", err)
	}
}

func TestSpawnRejectsReusedHandle(t *testing.T) {
	fut := NewFutures()
	if err := fut.Spawn("h", Pending{}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	var dup *DuplicateHandleError
	if err := fut.Spawn("h", Pending{}); !errors.As(err, &dup) {
		t.Errorf("reusing a live handle: err = %v, want DuplicateHandleError", err)
	}

	if _, err := fut.Redeem("h"); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if err := fut.Spawn("h", Pending{}); !errors.As(err, &dup) {
		t.Errorf("reusing a redeemed handle: err = %v, want DuplicateHandleError", err)
	}
}

// A fragment held by a live handle must be invisible to the store: this is
// the exclusivity interval the analysis certifies between spawn and await.
func TestInFlightFragmentIsExclusive(t *testing.T) {
	s := NewStore()
	pair := s.Alloc()
	cell := s.Alloc()
	s.SetChild(pair, "left", cell)

	fut := NewFutures()
	frag := s.Extract(pair)
	if err := fut.Spawn("h", Pending{Restore: frag, Result: s.Reserve()}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if s.Has(pair) || s.Has(cell) {
		t.Fatal("in-flight regions still owned by the store")
	}

	p, err := fut.Redeem("h")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	s.Reinstate(p.Restore)
	if !s.Has(pair) || !s.Has(cell) {
		t.Error("redeemed fragment not reinstated")
	}
}
