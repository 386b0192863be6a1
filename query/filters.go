package query

import "github.com/asyncquery/querycache/keyhash"

// TriState is a three-way filter switch: unset (don't filter on this),
// or an explicit true/false.
type TriState int

const (
	// Unset means "no constraint" for this filter dimension.
	Unset TriState = iota
	True
	False
)

func (t TriState) match(v bool) bool {
	switch t {
	case True:
		return v
	case False:
		return !v
	default:
		return true
	}
}

// Filters selects a subset of a Cache's queries — spec.md §4.4 "query
// filters", combined with AND semantics across every non-zero field.
type Filters struct {
	// QueryKey, if set, is matched against each Query's key using
	// keyhash.PartialMatch (a prefix/subset match, not exact equality)
	// unless Exact is true.
	QueryKey any
	HasKey   bool
	Exact    bool

	Active   TriState
	Fetching TriState
	Stale    TriState

	// Predicate, if set, must also return true. It runs after every
	// other criterion, so cheap filters short-circuit first.
	Predicate func(*Query) bool
}

// Matches reports whether q satisfies f.
func (f Filters) Matches(q *Query) bool {
	if f.HasKey {
		if f.Exact {
			if keyhash.Hash(q.Key()) != keyhash.Hash(f.QueryKey) {
				return false
			}
		} else if !keyhash.PartialMatch(f.QueryKey, q.Key()) {
			return false
		}
	}
	if !f.Active.match(q.IsActive()) {
		return false
	}
	if !f.Fetching.match(q.State().IsFetching) {
		return false
	}
	if !f.Stale.match(q.IsStale()) {
		return false
	}
	if f.Predicate != nil && !f.Predicate(q) {
		return false
	}
	return true
}

// ByKey builds a Filters matching queries whose key partially matches key.
func ByKey(key any) Filters { return Filters{QueryKey: key, HasKey: true} }

// ByExactKey builds a Filters matching exactly key.
func ByExactKey(key any) Filters { return Filters{QueryKey: key, HasKey: true, Exact: true} }
