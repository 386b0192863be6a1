package query

import "sync"

// ListEntry pairs a Query's hash with its currently derived Result, the
// unit ListListener receives — spec.md §4.6 "Queries Observer".
type ListEntry struct {
	QueryHash string
	Query     *Query
	Result    Result
}

// ListListener receives the full set of matching entries, in no
// particular order, whenever any of them changes, or the match set
// itself changes.
type ListListener func([]ListEntry)

// ListObserver watches every Query in a Cache matching Filters and
// fans out a combined Result set to one Listener — the batched
// multi-query analogue of Observer, grounded on the same
// eventing.Subscription shape as Observer but generalized to a
// dynamic membership set that is recomputed against the Cache's
// event stream.
type ListObserver struct {
	cache   *Cache
	filters Filters

	mu       sync.Mutex
	listener ListListener
	entries  map[string]*Observer
	closed   bool

	unsubscribeCache func()
}

// NewListObserver creates a ListObserver over cache matching filters.
func NewListObserver(cache *Cache, filters Filters) *ListObserver {
	return &ListObserver{
		cache:   cache,
		filters: filters,
		entries: make(map[string]*Observer),
	}
}

// Subscribe attaches l, immediately builds Observers for every currently
// matching Query, and starts tracking Cache membership changes. The
// returned func tears everything down.
func (lo *ListObserver) Subscribe(l ListListener) (unsubscribe func()) {
	lo.mu.Lock()
	lo.listener = l
	lo.mu.Unlock()

	for _, q := range lo.cache.FindAll(lo.filters) {
		lo.track(q)
	}

	lo.unsubscribeCache = lo.cache.Subscribe(func(e Event) {
		switch e.Type {
		case EventAdded:
			if lo.filters.Matches(e.Query) {
				lo.track(e.Query)
				lo.publish()
			}
		case EventRemoved:
			lo.untrack(e.Query.Hash())
			lo.publish()
		case EventUpdated:
			lo.mu.Lock()
			_, tracked := lo.entries[e.Query.Hash()]
			lo.mu.Unlock()
			matches := lo.filters.Matches(e.Query)
			switch {
			case matches && !tracked:
				lo.track(e.Query)
				lo.publish()
			case !matches && tracked:
				lo.untrack(e.Query.Hash())
				lo.publish()
			}
		}
	})

	lo.publish()
	return lo.unsubscribe
}

func (lo *ListObserver) track(q *Query) {
	obs := NewObserver(q, q.Options())
	obs.Subscribe(func(Result) { lo.publish() })
	lo.mu.Lock()
	lo.entries[q.Hash()] = obs
	lo.mu.Unlock()
}

func (lo *ListObserver) untrack(hash string) {
	lo.mu.Lock()
	obs, ok := lo.entries[hash]
	delete(lo.entries, hash)
	lo.mu.Unlock()
	if ok {
		obs.unsubscribe()
	}
}

func (lo *ListObserver) publish() {
	lo.mu.Lock()
	if lo.closed || lo.listener == nil {
		lo.mu.Unlock()
		return
	}
	out := make([]ListEntry, 0, len(lo.entries))
	for hash, obs := range lo.entries {
		out = append(out, ListEntry{QueryHash: hash, Query: obs.query, Result: obs.Result()})
	}
	listener := lo.listener
	lo.mu.Unlock()
	listener(out)
}

func (lo *ListObserver) unsubscribe() {
	lo.mu.Lock()
	if lo.closed {
		lo.mu.Unlock()
		return
	}
	lo.closed = true
	cacheUnsub := lo.unsubscribeCache
	all := make([]*Observer, 0, len(lo.entries))
	for _, obs := range lo.entries {
		all = append(all, obs)
	}
	lo.entries = nil
	lo.mu.Unlock()

	if cacheUnsub != nil {
		cacheUnsub()
	}
	for _, obs := range all {
		obs.unsubscribe()
	}
}

// Entries returns the current matching set as a snapshot.
func (lo *ListObserver) Entries() []ListEntry {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	out := make([]ListEntry, 0, len(lo.entries))
	for hash, obs := range lo.entries {
		out = append(out, ListEntry{QueryHash: hash, Query: obs.query, Result: obs.Result()})
	}
	return out
}
