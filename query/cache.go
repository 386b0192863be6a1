package query

import (
	"sync"

	"github.com/asyncquery/querycache/keyhash"
	"github.com/asyncquery/querycache/logger"
	"github.com/asyncquery/querycache/notify"
	"github.com/asyncquery/querycache/retry"
)

// EventType classifies a Cache event — spec.md §4.4 "cache subscribe".
type EventType int

const (
	EventAdded EventType = iota
	EventRemoved
	EventUpdated
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Event is delivered to Cache-level subscribers on every add/remove/update.
type Event struct {
	Type  EventType
	Query *Query
}

// CacheListener receives Cache events.
type CacheListener func(Event)

// Cache owns every Query for one in-process store, keyed by canonical
// query-key hash — spec.md §4.4 "Query Cache". It is the direct analogue
// of the teacher's cache.Cache (github.com/agentuity/go-common/cache),
// generalized from a single TTL map to a full per-entry state machine
// with observer-driven retention.
type Cache struct {
	mu      sync.RWMutex
	queries map[string]*Query

	notify *notify.Manager
	log    logger.Logger

	listenersMu sync.Mutex
	listeners   map[uint64]CacheListener

	defaultsMu     sync.Mutex
	queryDefaults  []keyDefault
	defaultOptions Options
}

type keyDefault struct {
	key  any
	opts []Option
}

// NewCache constructs an empty Cache. log may be nil (defaults to a
// no-op Logger).
func NewCache(log logger.Logger) *Cache {
	if log == nil {
		log = logger.Noop()
	}
	return &Cache{
		queries:        make(map[string]*Query),
		notify:         notify.New(),
		log:            log,
		listeners:      make(map[uint64]CacheListener),
		defaultOptions: DefaultOptions(),
	}
}

func (c *Cache) notifier() *notify.Manager { return c.notify }

// Batch runs fn with observer notifications deferred and coalesced: any
// SetData/Invalidate/etc. calls fn makes are still applied immediately,
// but the resulting Schedule callbacks are held until fn returns, then
// flushed once each — spec.md §8 "Batching" seed scenario (N mutations
// inside one batch produce exactly one notification per observer, not
// N). Nested Batch calls share the outermost batch.
func (c *Cache) Batch(fn func()) { notify.BatchVoid(c.notify, fn) }

// SetDefaultOptions replaces the global fallback Options applied to
// every Build call that doesn't otherwise override a field.
func (c *Cache) SetDefaultOptions(opts Options) {
	c.defaultsMu.Lock()
	defer c.defaultsMu.Unlock()
	c.defaultOptions = opts
}

// SetQueryDefaults registers per-key-shape default options, applied to
// any query whose key partially matches key — spec.md §12 "query
// defaults resolution order": per-call options win over these, which win
// over the global defaults. Among multiple registered defaults matching
// the same key, the first one registered wins (spec.md Open Question,
// resolved this way to match a predictable, order-of-registration
// semantics rather than most-specific-match, which would require a
// specificity metric the source system doesn't define either).
func (c *Cache) SetQueryDefaults(key any, opts ...Option) {
	c.defaultsMu.Lock()
	defer c.defaultsMu.Unlock()
	c.queryDefaults = append(c.queryDefaults, keyDefault{key: key, opts: opts})
}

// GetQueryDefaults returns the registered per-key-shape options for the
// first registered default whose key partially matches key.
func (c *Cache) GetQueryDefaults(key any) ([]Option, bool) {
	c.defaultsMu.Lock()
	defer c.defaultsMu.Unlock()
	for _, d := range c.queryDefaults {
		if keyhash.PartialMatch(d.key, key) {
			return d.opts, true
		}
	}
	return nil, false
}

func (c *Cache) resolveOptions(key any, overrides ...Option) Options {
	c.defaultsMu.Lock()
	base := c.defaultOptions
	var perKey []Option
	for _, d := range c.queryDefaults {
		if keyhash.PartialMatch(d.key, key) {
			perKey = d.opts
			break
		}
	}
	c.defaultsMu.Unlock()

	resolved := Apply(base, perKey...)
	resolved = Apply(resolved, overrides...)
	resolved.QueryKey = key
	resolved.QueryHash = keyhash.Hash(key)
	return resolved
}

// Build returns the existing Query for key, or constructs and registers
// a new one using resolved default options plus overrides.
func (c *Cache) Build(key any, overrides ...Option) *Query {
	hash := keyhash.Hash(key)

	c.mu.Lock()
	if q, ok := c.queries[hash]; ok {
		c.mu.Unlock()
		if len(overrides) > 0 {
			q.updateOptions(Apply(q.Options(), overrides...))
		}
		return q
	}
	opts := c.resolveOptions(key, overrides...)
	q := newQuery(c, opts)
	c.queries[hash] = q
	c.mu.Unlock()

	c.emit(Event{Type: EventAdded, Query: q})
	return q
}

// Get returns the Query for key if one exists.
func (c *Cache) Get(key any) (*Query, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.queries[keyhash.Hash(key)]
	return q, ok
}

// GetByHash returns the Query with the given canonical hash, if present.
func (c *Cache) GetByHash(hash string) (*Query, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.queries[hash]
	return q, ok
}

// FindAll returns every Query matching f, in unspecified order.
func (c *Cache) FindAll(f Filters) []*Query {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Query
	for _, q := range c.queries {
		if f.Matches(q) {
			out = append(out, q)
		}
	}
	return out
}

// Find returns one Query matching f, if any.
func (c *Cache) Find(f Filters) (*Query, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, q := range c.queries {
		if f.Matches(q) {
			return q, true
		}
	}
	return nil, false
}

// All returns every Query currently tracked.
func (c *Cache) All() []*Query {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Query, 0, len(c.queries))
	for _, q := range c.queries {
		out = append(out, q)
	}
	return out
}

// Remove immediately evicts every Query matching f, cancelling any
// in-flight fetch first.
func (c *Cache) Remove(f Filters) int {
	victims := c.FindAll(f)
	for _, q := range victims {
		q.Cancel(retry.CancelOptions{Revert: false, Silent: true})
		c.remove(q)
	}
	return len(victims)
}

func (c *Cache) remove(q *Query) {
	c.mu.Lock()
	if _, ok := c.queries[q.hash]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.queries, q.hash)
	c.mu.Unlock()
	c.emit(Event{Type: EventRemoved, Query: q})
}

// Clear evicts every Query unconditionally.
func (c *Cache) Clear() {
	c.mu.Lock()
	all := make([]*Query, 0, len(c.queries))
	for _, q := range c.queries {
		all = append(all, q)
	}
	c.queries = make(map[string]*Query)
	c.mu.Unlock()
	for _, q := range all {
		c.emit(Event{Type: EventRemoved, Query: q})
	}
}

// Subscribe registers l for every Cache event; the returned func
// unsubscribes.
func (c *Cache) Subscribe(l CacheListener) (unsubscribe func()) {
	id := nextObserverID()
	c.listenersMu.Lock()
	c.listeners[id] = l
	c.listenersMu.Unlock()
	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Cache) emit(e Event) {
	c.listenersMu.Lock()
	ls := make([]CacheListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.listenersMu.Unlock()
	for _, l := range ls {
		listener := l
		c.notify.Schedule(func() { listener(e) })
	}
}
