package mutation

import (
	"context"
	"sort"
	"sync"

	"github.com/asyncquery/querycache/keyhash"
	"github.com/asyncquery/querycache/logger"
	"github.com/asyncquery/querycache/notify"
)

type mutationKeyDefault struct {
	key  any
	opts []Option
}

// Cache retains every in-flight or recently settled Mutation for one
// in-process store — spec.md §4.7 "The Mutation Cache retains mutations
// (subject to their own cacheTime)". Unlike query.Cache, entries are
// keyed by ID, not by a canonical hash: mutations are never deduplicated.
type Cache struct {
	mu        sync.Mutex
	mutations map[string]*Mutation
	order     []string

	notify *notify.Manager
	log    logger.Logger

	defaultOptions Options
	keyDefaults    []mutationKeyDefault
}

// NewCache constructs an empty Cache.
func NewCache(log logger.Logger) *Cache {
	if log == nil {
		log = logger.Noop()
	}
	return &Cache{
		mutations:      make(map[string]*Mutation),
		notify:         notify.New(),
		log:            log,
		defaultOptions: DefaultOptions(),
	}
}

func (c *Cache) notifier() *notify.Manager { return c.notify }

// Batch defers observer notifications for every Mutation transition made
// inside fn until fn returns, coalescing them the same way query.Cache
// does.
func (c *Cache) Batch(fn func()) { notify.BatchVoid(c.notify, fn) }

// SetDefaultOptions replaces the fallback Options applied to Build
// calls that don't otherwise override a field.
func (c *Cache) SetDefaultOptions(opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultOptions = opts
}

// Build constructs and registers a new Mutation for variables, merging
// overrides onto the Cache's default options. Mutations carry no
// dedup key (spec.md §4.7 "Mutations do not share a keyed slot") but
// may still resolve per-key-shape defaults via BuildWithKey.
func (c *Cache) Build(variables any, overrides ...Option) *Mutation {
	return c.BuildWithKey(nil, variables, overrides...)
}

// BuildWithKey is Build, but additionally resolves per-key registered
// defaults for mutationKey (spec.md §4.8 "same for mutations" as
// query.Cache.SetQueryDefaults/GetQueryDefaults) before applying
// overrides. mutationKey has no bearing on identity or dedup — it only
// selects which registered defaults apply.
func (c *Cache) BuildWithKey(mutationKey any, variables any, overrides ...Option) *Mutation {
	c.mu.Lock()
	base := c.defaultOptions
	var perKey []Option
	if mutationKey != nil {
		for _, d := range c.keyDefaults {
			if keyhash.PartialMatch(d.key, mutationKey) {
				perKey = d.opts
				break
			}
		}
	}
	c.mu.Unlock()

	opts := Apply(base, perKey...)
	opts = Apply(opts, overrides...)

	m := newMutation(c, opts, variables)

	c.mu.Lock()
	c.mutations[m.ID] = m
	c.order = append(c.order, m.ID)
	c.mu.Unlock()
	return m
}

// SetMutationDefaults registers per-key-shape default options, applied
// to any BuildWithKey call whose mutationKey partially matches key.
// First-registered wins on overlapping matches, mirroring
// query.Cache.SetQueryDefaults.
func (c *Cache) SetMutationDefaults(key any, opts ...Option) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyDefaults = append(c.keyDefaults, mutationKeyDefault{key: key, opts: opts})
}

// GetMutationDefaults returns the registered options for the first
// registered default whose key partially matches key.
func (c *Cache) GetMutationDefaults(key any) ([]Option, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.keyDefaults {
		if keyhash.PartialMatch(d.key, key) {
			return d.opts, true
		}
	}
	return nil, false
}

// Get returns the Mutation with the given ID, if present.
func (c *Cache) Get(id string) (*Mutation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.mutations[id]
	return m, ok
}

// All returns every retained Mutation, oldest first.
func (c *Cache) All() []*Mutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Mutation, 0, len(c.order))
	for _, id := range c.order {
		if m, ok := c.mutations[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *Cache) remove(m *Mutation) {
	c.mu.Lock()
	delete(c.mutations, m.ID)
	for i, id := range c.order {
		if id == m.ID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

// Clear discards every retained Mutation.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.mutations = make(map[string]*Mutation)
	c.order = nil
	c.mu.Unlock()
}

// ResumePausedMutations re-executes every Mutation whose Retryer is
// currently paused on the focus/online bus — spec.md §4.7
// "resumePausedMutations()". Mutations are resumed in the order they
// were enqueued (build order), the Open Question this pack resolves as
// FIFO rather than arbitrary concurrent resumption, matching how the
// Cache already preserves insertion order for iteration.
func (c *Cache) ResumePausedMutations(ctx context.Context) {
	candidates := c.pausedInOrder()
	go func() {
		for _, m := range candidates {
			_, _ = m.Execute(ctx)
		}
	}()
}

func (c *Cache) pausedInOrder() []*Mutation {
	all := c.All()
	paused := make([]*Mutation, 0, len(all))
	for _, m := range all {
		if m.State().IsPaused {
			paused = append(paused, m)
		}
	}
	sort.SliceStable(paused, func(i, j int) bool {
		return paused[i].State().SubmittedAt < paused[j].State().SubmittedAt
	})
	return paused
}
