package scopeset

import "github.com/cuemby/idbcoordinator/internal/model"

// Set is a multiset of object store ids, counting how many currently
// in-progress transactions reference each store. The coordinator adds
// the scope of every ReadOnly and ReadWrite transaction it schedules.
type Set struct {
	counts map[model.ObjectStoreID]int
}

// New returns an empty Set.
func New() *Set {
	return &Set{counts: make(map[model.ObjectStoreID]int)}
}

// Add increments the count for every store in scope. Called exactly once
// per transaction when it enters inProgressTransactions.
func (s *Set) Add(scope []model.ObjectStoreID) {
	for _, id := range scope {
		s.counts[id]++
	}
}

// Remove decrements the count for every store in scope. Called exactly
// once per transaction when it leaves inProgressTransactions. Panics on
// underflow — a count reaching zero crossings below zero is a scope
// bookkeeping bug and a fatal programming error per the error-handling
// design.
func (s *Set) Remove(scope []model.ObjectStoreID) {
	for _, id := range scope {
		n, ok := s.counts[id]
		if !ok || n <= 0 {
			panic("scopeset: underflow removing object store from scope counters")
		}
		if n == 1 {
			delete(s.counts, id)
		} else {
			s.counts[id] = n - 1
		}
	}
}

// Overlaps reports whether any store in scope currently has a non-zero
// count.
func (s *Set) Overlaps(scope []model.ObjectStoreID) bool {
	for _, id := range scope {
		if s.counts[id] > 0 {
			return true
		}
	}
	return false
}

// OverlapsScope reports whether two scopes share any object store. Used
// when deferring a read-only transaction behind a writer already
// deferred in the same scan, rather than against the live scope
// counters.
func OverlapsScope(a, b []model.ObjectStoreID) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[model.ObjectStoreID]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
