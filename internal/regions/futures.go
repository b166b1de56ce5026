package regions

import (
	"fmt"
	"sort"
)

// Pending is the record kept per live future handle: the fragment that will
// be reinstated at await, the edges severed when it was extracted, the
// reserved result region, and the result type. Fragments consumed outright
// by the spawned callee are not here; they are discarded at spawn time and
// never come back.
type Pending struct {
	Restore *Fragment
	Relink  []Relink
	Result  RegionID
	Type    string
}

// Futures is the future context Φ. A handle is live from spawn until
// redeemed; while live, its fragment is in neither the store nor the typing
// context's reach.
type Futures struct {
	pending  map[string]Pending
	redeemed map[string]bool
}

// NewFutures creates an empty future context.
func NewFutures() *Futures {
	return &Futures{
		pending:  make(map[string]Pending),
		redeemed: make(map[string]bool),
	}
}

// DuplicateHandleError indicates a spawn reusing a handle name that is
// still live or was already redeemed.
type DuplicateHandleError struct {
	Handle string
}

func (e *DuplicateHandleError) Error() string {
	return fmt.Sprintf("handle %q already in use", e.Handle)
}

// UnknownHandleError indicates an await of a handle that was never created.
type UnknownHandleError struct {
	Handle string
}

func (e *UnknownHandleError) Error() string {
	return fmt.Sprintf("handle %q was never created", e.Handle)
}

// RedeemedHandleError indicates a second await of the same handle.
type RedeemedHandleError struct {
	Handle string
}

func (e *RedeemedHandleError) Error() string {
	return fmt.Sprintf("handle %q already awaited", e.Handle)
}

// Spawn records a new live handle.
func (f *Futures) Spawn(handle string, p Pending) error {
	if _, live := f.pending[handle]; live || f.redeemed[handle] {
		return &DuplicateHandleError{Handle: handle}
	}
	f.pending[handle] = p
	return nil
}

// Redeem retires a live handle, returning its pending record. Distinguishes
// a double await from an await of a handle that never existed.
func (f *Futures) Redeem(handle string) (Pending, error) {
	p, ok := f.pending[handle]
	if !ok {
		if f.redeemed[handle] {
			return Pending{}, &RedeemedHandleError{Handle: handle}
		}
		return Pending{}, &UnknownHandleError{Handle: handle}
	}
	delete(f.pending, handle)
	f.redeemed[handle] = true
	return p, nil
}

// Pending returns the record for a live handle.
func (f *Futures) Pending(handle string) (Pending, bool) {
	p, ok := f.pending[handle]
	return p, ok
}

// Live returns the live handle names, sorted.
func (f *Futures) Live() []string {
	out := make([]string, 0, len(f.pending))
	for h := range f.pending {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of live handles.
func (f *Futures) Len() int { return len(f.pending) }

// Clone deep-copies the future context. Fragment records are shared between
// the clones; branch walking never mutates a fragment in place.
func (f *Futures) Clone() *Futures {
	n := NewFutures()
	for h, p := range f.pending {
		n.pending[h] = p
	}
	for h := range f.redeemed {
		n.redeemed[h] = true
	}
	return n
}
