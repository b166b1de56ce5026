// Package regions holds the ground state the checker reasons over: the
// region store (the live regions and their tracked isolated-field edges),
// the typing context binding variables to regions, and the future context
// holding region fragments that are in flight between spawn and await.
package regions

import (
	"fmt"
	"sort"
)

// RegionID names a region. IDs come from a per-store arena counter and are
// never reissued: once a region is retracted or consumed, its id stays dead
// for the rest of the function check. NoRegion doubles as the dead-tombstone
// marker in children maps.
type RegionID int

const NoRegion RegionID = 0

func (r RegionID) String() string {
	if r == NoRegion {
		return "⊥"
	}
	return fmt.Sprintf("r%d", int(r))
}

// Region is one live region record. Children maps isolated-field names to
// tracked child regions. Three states per field:
//
//   - no entry: the field is intact but untracked (explorable)
//   - entry with a concrete id: the field is tracked at that child region
//   - entry with NoRegion: a dead tombstone — the value behind the field has
//     been transferred or destroyed and the field may not be read
//
// A nil Children map is the unfocused presentation of "no entries".
type Region struct {
	Children map[string]RegionID
	Pinned   bool
}

func (r *Region) clone() *Region {
	c := &Region{Pinned: r.Pinned}
	if r.Children != nil {
		c.Children = make(map[string]RegionID, len(r.Children))
		for k, v := range r.Children {
			c.Children[k] = v
		}
	}
	return c
}

// Tracked reports whether the region has any concrete child edge.
func (r *Region) Tracked() bool {
	for _, c := range r.Children {
		if c != NoRegion {
			return true
		}
	}
	return false
}

// DeadFields returns the tombstoned field names, sorted.
func (r *Region) DeadFields() []string {
	var out []string
	for f, c := range r.Children {
		if c == NoRegion {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// TrackedFields returns the concretely tracked field names, sorted.
func (r *Region) TrackedFields() []string {
	var out []string
	for f, c := range r.Children {
		if c != NoRegion {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Store is the region store ℋ: the set of currently owned regions.
type Store struct {
	regions map[RegionID]*Region
	next    RegionID
	retired map[RegionID]bool
}

// NewStore creates an empty store. The first allocated id is 1.
func NewStore() *Store {
	return &Store{
		regions: make(map[RegionID]*Region),
		next:    1,
		retired: make(map[RegionID]bool),
	}
}

// Alloc creates a fresh empty region and returns its id.
func (s *Store) Alloc() RegionID {
	r := s.next
	s.next++
	s.regions[r] = &Region{}
	return r
}

// Reserve hands out a fresh id without adding a record. Used for the result
// region of a spawned computation, which only materializes at await.
func (s *Store) Reserve() RegionID {
	r := s.next
	s.next++
	return r
}

// Install adds an empty record for a previously reserved id.
func (s *Store) Install(r RegionID) {
	s.regions[r] = &Region{}
}

// Get returns the record for a live region.
func (s *Store) Get(r RegionID) (*Region, bool) {
	reg, ok := s.regions[r]
	return reg, ok
}

// Has reports whether the region is live (owned by this store).
func (s *Store) Has(r RegionID) bool {
	_, ok := s.regions[r]
	return ok
}

// Retired reports whether the id was permanently invalidated.
func (s *Store) Retired(r RegionID) bool {
	return s.retired[r]
}

// Retire removes a region and marks its id dead. Every tracked edge in the
// remaining store that pointed at it becomes a dead tombstone: the owning
// field still physically holds a pointer, but the value behind it is gone
// from this store's custody.
func (s *Store) Retire(r RegionID) {
	delete(s.regions, r)
	s.retired[r] = true
	for _, reg := range s.regions {
		for f, c := range reg.Children {
			if c == r {
				reg.Children[f] = NoRegion
			}
		}
	}
}

// ReplaceRefs repoints every tracked edge at old to target repl. Used by
// attach, which relabels rather than rewrites.
func (s *Store) ReplaceRefs(old, repl RegionID) {
	for _, reg := range s.regions {
		for f, c := range reg.Children {
			if c == old {
				reg.Children[f] = repl
			}
		}
	}
}

// Forget removes a region and marks its id dead without touching edges.
// Callers are expected to have repointed or dropped them already.
func (s *Store) Forget(r RegionID) {
	delete(s.regions, r)
	s.retired[r] = true
}

// SetChild installs or overwrites a tracked edge. child may be NoRegion to
// write a dead tombstone.
func (s *Store) SetChild(r RegionID, field string, child RegionID) {
	reg := s.regions[r]
	if reg.Children == nil {
		reg.Children = make(map[string]RegionID)
	}
	reg.Children[field] = child
}

// Child looks up the entry for a field. ok is false when the field has no
// entry at all (intact, untracked).
func (s *Store) Child(r RegionID, field string) (RegionID, bool) {
	reg, ok := s.regions[r]
	if !ok || reg.Children == nil {
		return NoRegion, false
	}
	c, ok := reg.Children[field]
	return c, ok
}

// DropChild removes a field entry entirely, returning the field to the
// intact-untracked state.
func (s *Store) DropChild(r RegionID, field string) {
	if reg, ok := s.regions[r]; ok && reg.Children != nil {
		delete(reg.Children, field)
	}
}

// IDs returns the live region ids, sorted.
func (s *Store) IDs() []RegionID {
	out := make([]RegionID, 0, len(s.regions))
	for r := range s.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of live regions.
func (s *Store) Len() int { return len(s.regions) }

// Next returns the arena counter. Branch unification uses it to tell apart
// ids allocated before the branch (shared meaning) from branch-local ones.
func (s *Store) Next() RegionID { return s.next }

// SetNext raises the arena counter. It never lowers it; ids must stay
// unique for the lifetime of a function check.
func (s *Store) SetNext(n RegionID) {
	if n > s.next {
		s.next = n
	}
}

// Clone deep-copies the store. Clones share the id space: an id allocated
// before the clone means the same region in both copies.
func (s *Store) Clone() *Store {
	c := &Store{
		regions: make(map[RegionID]*Region, len(s.regions)),
		next:    s.next,
		retired: make(map[RegionID]bool, len(s.retired)),
	}
	for id, reg := range s.regions {
		c.regions[id] = reg.clone()
	}
	for id := range s.retired {
		c.retired[id] = true
	}
	return c
}

// EdgeRef names one tracked edge for forest-violation reporting.
type EdgeRef struct {
	Parent RegionID
	Field  string
}

// Relink is an edge severed by an extraction, remembered so the owning
// field can be repointed at the fragment root when the fragment returns.
type Relink struct {
	Parent RegionID
	Field  string
	Target RegionID
}

// InEdges returns the tracked edges in the store that point at target, in
// deterministic order.
func (s *Store) InEdges(target RegionID) []EdgeRef {
	var out []EdgeRef
	for _, id := range s.IDs() {
		reg := s.regions[id]
		fields := make([]string, 0, len(reg.Children))
		for f := range reg.Children {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			if reg.Children[f] == target {
				out = append(out, EdgeRef{Parent: id, Field: f})
			}
		}
	}
	return out
}

// ForestViolation reports two tracked edges sharing one target.
type ForestViolation struct {
	Target RegionID
	First  EdgeRef
	Second EdgeRef
}

func (v *ForestViolation) Error() string {
	return fmt.Sprintf("isolated edges %s.%s and %s.%s both reach %s",
		v.First.Parent, v.First.Field, v.Second.Parent, v.Second.Field, v.Target)
}

// CheckForest verifies the tree invariant over the whole store: every
// concrete child is itself live, and no two tracked edges share a target.
// Returns the first violation in deterministic order, or nil.
func (s *Store) CheckForest() *ForestViolation {
	return s.checkForest(s.IDs())
}

// ForestFrom verifies the tree invariant restricted to the subgraph
// reachable from root through tracked edges.
func (s *Store) ForestFrom(root RegionID) *ForestViolation {
	return s.checkForest(s.reachable(root))
}

func (s *Store) checkForest(ids []RegionID) *ForestViolation {
	owner := make(map[RegionID]EdgeRef)
	for _, id := range ids {
		reg, ok := s.regions[id]
		if !ok {
			continue
		}
		for _, f := range reg.TrackedFields() {
			c := reg.Children[f]
			edge := EdgeRef{Parent: id, Field: f}
			if !s.Has(c) {
				// A tracked edge at a non-live region is a dangling edge;
				// Retire tombstones these, so hitting one here means a
				// transformation skipped its bookkeeping.
				return &ForestViolation{Target: c, First: edge, Second: edge}
			}
			if prev, seen := owner[c]; seen {
				return &ForestViolation{Target: c, First: prev, Second: edge}
			}
			owner[c] = edge
		}
	}
	return nil
}

// reachable returns root plus everything below it through tracked edges,
// sorted. Cycles cannot arise from explore alone but an assignment can
// create one transiently, so the walk guards against revisits.
func (s *Store) reachable(root RegionID) []RegionID {
	seen := make(map[RegionID]bool)
	stack := []RegionID{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		reg, ok := s.regions[id]
		if !ok {
			continue
		}
		for _, f := range reg.TrackedFields() {
			stack = append(stack, reg.Children[f])
		}
	}
	out := make([]RegionID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fragment is a detached piece of a store: region records removed from ℋ as
// a unit, held by a future handle until redeemed.
type Fragment struct {
	regions map[RegionID]*Region
}

// NewFragment creates an empty fragment.
func NewFragment() *Fragment {
	return &Fragment{regions: make(map[RegionID]*Region)}
}

// IDs returns the fragment's region ids, sorted.
func (f *Fragment) IDs() []RegionID {
	if f == nil {
		return nil
	}
	out := make([]RegionID, 0, len(f.regions))
	for r := range f.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether the fragment holds the region.
func (f *Fragment) Contains(r RegionID) bool {
	if f == nil {
		return false
	}
	_, ok := f.regions[r]
	return ok
}

// Empty reports whether the fragment holds nothing.
func (f *Fragment) Empty() bool {
	return f == nil || len(f.regions) == 0
}

// Merge folds another fragment into this one. Region ids are unique per
// function check, so the union is disjoint by construction.
func (f *Fragment) Merge(other *Fragment) {
	if other == nil {
		return
	}
	for id, reg := range other.regions {
		f.regions[id] = reg
	}
}

// Extract removes the subgraphs rooted at the given regions from the store
// and returns them as one fragment. Tracked edges from the remaining store
// into the fragment become dead tombstones: while the fragment is away, the
// fields that pointed into it are unreadable.
func (s *Store) Extract(roots ...RegionID) *Fragment {
	frag := &Fragment{regions: make(map[RegionID]*Region)}
	for _, root := range roots {
		for _, id := range s.reachable(root) {
			if reg, ok := s.regions[id]; ok {
				frag.regions[id] = reg
				delete(s.regions, id)
			}
		}
	}
	for _, reg := range s.regions {
		for f, c := range reg.Children {
			if c != NoRegion && frag.Contains(c) {
				reg.Children[f] = NoRegion
			}
		}
	}
	return frag
}

// Discard removes the subgraphs rooted at the given regions permanently:
// extract plus retiring every id so nothing can rebind to them.
func (s *Store) Discard(roots ...RegionID) {
	frag := s.Extract(roots...)
	for _, id := range frag.IDs() {
		s.retired[id] = true
	}
}

// Reinstate returns a fragment's records to the store.
func (s *Store) Reinstate(frag *Fragment) {
	if frag == nil {
		return
	}
	for id, reg := range frag.regions {
		s.regions[id] = reg
	}
}
