// Package querycache is the Client Facade of spec.md §4.8: it wires
// together a query.Cache, a mutation.Cache, and a revalidate.Bus behind
// the consumer-facing operations a caller actually invokes
// (fetchQueryData, prefetchQuery, setQueryData, mutate, watchQuery, …).
package querycache

import (
	"context"
	"sync"

	"github.com/asyncquery/querycache/logger"
	"github.com/asyncquery/querycache/mutation"
	"github.com/asyncquery/querycache/query"
	"github.com/asyncquery/querycache/retry"
	"github.com/asyncquery/querycache/revalidate"
)

// Client aggregates the Query Cache, Mutation Cache, and Focus/Online
// Bus for one in-process store — the direct analogue of the source
// system's QueryClient.
type Client struct {
	Queries   *query.Cache
	Mutations *mutation.Cache
	Bus       *revalidate.Bus

	mu      sync.Mutex
	mounted bool
	unmount func()
	log     logger.Logger
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithLogger sets the Logger propagated to both caches.
func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithBus sets the Focus/Online Bus the Client watches; defaults to
// revalidate.Default() (the process-wide singleton).
func WithBus(b *revalidate.Bus) ClientOption {
	return func(c *Client) { c.Bus = b }
}

// New constructs a Client with fresh, empty Query and Mutation caches.
func New(opts ...ClientOption) *Client {
	c := &Client{log: logger.Noop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.Bus == nil {
		c.Bus = revalidate.Default()
	}
	c.Queries = query.NewCache(c.log)
	c.Mutations = mutation.NewCache(c.log)
	c.Queries.SetDefaultOptions(query.Apply(query.DefaultOptions(), query.WithBus(c.Bus), query.WithLogger(c.log)))
	c.Mutations.SetDefaultOptions(mutation.Apply(mutation.DefaultOptions(), mutation.WithBus(c.Bus), mutation.WithLogger(c.log)))
	return c
}

// Mount registers the Client's Bus lifecycle (idempotent per Client) —
// spec.md §4.8 "mount/unmount (register with the Focus/Online Bus)".
// While mounted, every online transition on the Bus resumes the Mutation
// Cache's paused mutations. The Bus itself installs its platform
// handlers lazily on first Subscribe.
func (c *Client) Mount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mounted {
		return
	}
	c.mounted = true
	unsub := c.Bus.Subscribe(revalidate.Listener{
		OnOnline: func() { go c.Mutations.ResumePausedMutations(context.Background()) },
	})
	c.unmount = unsub
}

// Unmount tears down the Client's Bus registration. Idempotent.
func (c *Client) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mounted {
		return
	}
	c.mounted = false
	if c.unmount != nil {
		c.unmount()
		c.unmount = nil
	}
}

// FetchQueryData builds (or reuses) the Query for key and fetches it,
// returning the raw result. Retry defaults to disabled for this entry
// point unless overridden — spec.md §4.8 "For fetchQueryData, retry
// defaults to false when unspecified (prefetches must not hang
// indefinitely in server contexts)".
func (c *Client) FetchQueryData(ctx context.Context, key any, fn query.FetchFn, opts ...query.Option) (any, error) {
	overrides := append([]query.Option{query.WithRetry(retry.Never()), query.WithQueryFn(fn)}, opts...)
	q := c.Queries.Build(key, overrides...)
	return q.Fetch(ctx)
}

// PrefetchQuery is FetchQueryData with all errors swallowed — spec.md
// §4.8 "fire-and-forget variant that swallows errors".
func (c *Client) PrefetchQuery(ctx context.Context, key any, fn query.FetchFn, opts ...query.Option) {
	_, _ = c.FetchQueryData(ctx, key, fn, opts...)
}

// GetQueryData returns the current cached data for key, if a Query
// exists for it.
func (c *Client) GetQueryData(key any) (any, bool) {
	q, ok := c.Queries.Get(key)
	if !ok {
		return nil, false
	}
	return q.State().Data, true
}

// SetQueryData writes data directly into the Query for key (building
// one if it doesn't exist yet), bypassing any fetch.
func (c *Client) SetQueryData(key any, updater func(prev any) any) any {
	q := c.Queries.Build(key)
	return q.SetData(updater, 0)
}

// GetQueryState returns the full State for key, if a Query exists.
func (c *Client) GetQueryState(key any) (query.State, bool) {
	q, ok := c.Queries.Get(key)
	if !ok {
		return query.State{}, false
	}
	return q.State(), true
}

// RemoveQueries evicts every Query matching f.
func (c *Client) RemoveQueries(f query.Filters) int {
	return c.Queries.Remove(f)
}

// CancelQueries cancels the in-flight fetch (if any) of every Query
// matching f. revert has no default and is always passed explicitly:
// true keeps each Query's existing data, false records a cancellation
// error.
func (c *Client) CancelQueries(f query.Filters, revert bool) {
	for _, q := range c.Queries.FindAll(f) {
		q.Cancel(retry.CancelOptions{Revert: revert})
	}
}

// InvalidateQueries marks every matching Query stale and, unless
// refetch is false, refetches those that are currently active —
// spec.md §4.8 "invalidateQueries (marks stale and, by default,
// refetches active matches)".
func (c *Client) InvalidateQueries(ctx context.Context, f query.Filters, refetch bool) {
	for _, q := range c.Queries.FindAll(f) {
		q.Invalidate()
		if refetch && q.IsActive() {
			go q.Fetch(ctx)
		}
	}
}

// RefetchQueries refetches every Query matching f, regardless of
// staleness.
func (c *Client) RefetchQueries(ctx context.Context, f query.Filters) []error {
	matches := c.Queries.FindAll(f)
	errs := make([]error, len(matches))
	var wg sync.WaitGroup
	for i, q := range matches {
		wg.Add(1)
		go func(i int, q *query.Query) {
			defer wg.Done()
			_, err := q.Refetch(ctx)
			errs[i] = err
		}(i, q)
	}
	wg.Wait()
	return errs
}

// WatchQuery builds (or reuses) the Query for key and returns a
// subscribed Observer plus its unsubscribe func.
func (c *Client) WatchQuery(key any, fn query.FetchFn, listener query.Listener, opts ...query.Option) (*query.Observer, func()) {
	overrides := append([]query.Option{query.WithQueryFn(fn)}, opts...)
	q := c.Queries.Build(key, overrides...)
	obs := query.NewObserver(q, q.Options())
	unsub := obs.Subscribe(listener)
	return obs, unsub
}

// WatchQueries returns a subscribed ListObserver over every Query
// matching f.
func (c *Client) WatchQueries(f query.Filters, listener query.ListListener) (*query.ListObserver, func()) {
	lo := query.NewListObserver(c.Queries, f)
	unsub := lo.Subscribe(listener)
	return lo, unsub
}

// WatchMutation returns a subscribed mutation.Observer for m.
func (c *Client) WatchMutation(m *mutation.Mutation, listener mutation.Listener) (*mutation.Observer, func()) {
	obs := mutation.NewObserver(m)
	unsub := obs.Subscribe(listener)
	return obs, unsub
}

// Mutate builds a Mutation for variables and executes it immediately —
// spec.md §4.8 "mutate (build + execute)".
func (c *Client) Mutate(ctx context.Context, variables any, fn mutation.MutateFunc, opts ...mutation.Option) (any, error) {
	overrides := append([]mutation.Option{mutation.WithMutationFn(fn)}, opts...)
	m := c.Mutations.Build(variables, overrides...)
	return m.Execute(ctx)
}

// SetDefaultOptions replaces the Query Cache's global default options.
func (c *Client) SetDefaultOptions(opts ...query.Option) {
	c.Queries.SetDefaultOptions(query.Apply(query.DefaultOptions(), opts...))
}

// SetQueryDefaults registers per-key-shape default query options —
// spec.md §4.8 "setQueryDefaults(key, opts) (first partial-key match
// wins)".
func (c *Client) SetQueryDefaults(key any, opts ...query.Option) {
	c.Queries.SetQueryDefaults(key, opts...)
}

// GetQueryDefaults returns the registered per-key-shape default query
// options for the first registration whose key partially matches key.
func (c *Client) GetQueryDefaults(key any) ([]query.Option, bool) {
	return c.Queries.GetQueryDefaults(key)
}

// SetMutationDefaultOptions replaces the Mutation Cache's global
// default options.
func (c *Client) SetMutationDefaultOptions(opts ...mutation.Option) {
	c.Mutations.SetDefaultOptions(mutation.Apply(mutation.DefaultOptions(), opts...))
}

// SetMutationDefaults registers per-key-shape default mutation options,
// the mutation-side analogue of SetQueryDefaults — spec.md §4.8 "same
// for mutations".
func (c *Client) SetMutationDefaults(key any, opts ...mutation.Option) {
	c.Mutations.SetMutationDefaults(key, opts...)
}

// GetMutationDefaults returns the registered per-key-shape default
// mutation options for the first registration whose key partially
// matches key.
func (c *Client) GetMutationDefaults(key any) ([]mutation.Option, bool) {
	return c.Mutations.GetMutationDefaults(key)
}

// Clear discards every Query and Mutation in the Client's caches.
func (c *Client) Clear() {
	c.Queries.Clear()
	c.Mutations.Clear()
}

// Batch runs fn with observer notifications on both the Query Cache and
// the Mutation Cache deferred until fn returns, then flushed once per
// changed observer — spec.md §8 "Batching" seed scenario: several
// setQueryData (or mutation) calls made inside fn produce exactly one
// notification per affected observer instead of one per call.
func (c *Client) Batch(fn func()) {
	c.Queries.Batch(func() {
		c.Mutations.Batch(fn)
	})
}
