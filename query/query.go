// Package query implements the core caching and observation engine:
// Query (per-key state machine), Cache (map hash→Query), Observer
// (bridges one consumer to one Query), and ListObserver (fan-out over a
// list of queries) — spec.md §4.3–§4.6.
package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asyncquery/querycache/logger"
	"github.com/asyncquery/querycache/retry"
)

// ErrMissingQueryFn is returned when a fetch is attempted on a Query
// that has never been given a QueryFn.
var ErrMissingQueryFn = errors.New("query: no query function configured")

// Query is one cache entry: it owns its key, its current State, its
// effective Options, its observer set, and (while a fetch is running)
// the Retryer driving that fetch. A Query is exclusively owned by
// exactly one Cache for its lifetime (spec.md §3).
type Query struct {
	cache *Cache

	key  any
	hash string

	mu       sync.Mutex
	state    State
	options  Options
	retryer  *retry.Retryer[any]
	observers map[uint64]*Observer

	retentionTimer *time.Timer
	staleTimer     *time.Timer
	destroyed      bool

	sf singleflight.Group
}

func newQuery(c *Cache, opts Options) *Query {
	q := &Query{
		cache:     c,
		key:       opts.QueryKey,
		hash:      opts.QueryHash,
		options:   opts,
		state:     initialState(opts.InitialData, opts.InitialDataUpdatedAt),
		observers: make(map[uint64]*Observer),
	}
	q.startRetention(opts.CacheTime)
	return q
}

// Key returns the Query's structured key.
func (q *Query) Key() any { return q.key }

// Hash returns the Query's canonical key hash.
func (q *Query) Hash() string { return q.hash }

// State returns a snapshot of the Query's current state.
func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Options returns a snapshot of the Query's effective options.
func (q *Query) Options() Options {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.options
}

// IsStale reports whether the Query is stale right now.
func (q *Query) IsStale() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.IsStale(q.options.StaleTime, nowMillis())
}

// IsActive reports whether the Query has any observer whose options
// consider it enabled.
func (q *Query) IsActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, o := range q.observers {
		if o.optionsLocked().isEnabled() {
			return true
		}
	}
	return false
}

// ObserverCount returns the number of subscribed observers.
func (q *Query) ObserverCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.observers)
}

// updateOptions merges opts into the Query's effective options without
// affecting an in-flight fetch (spec.md §4.3 "Single-flight").
func (q *Query) updateOptions(opts Options) {
	q.mu.Lock()
	q.options = opts
	q.mu.Unlock()
}

// log returns a Logger scoped to this Query for diagnostic lines.
func (q *Query) log() logger.Logger {
	q.mu.Lock()
	l := q.options.Logger
	q.mu.Unlock()
	if l == nil {
		return logger.Noop()
	}
	return l.With(map[string]any{"queryHash": q.hash})
}

// Fetch runs the Query's QueryFn under its retry policy, unless a fetch
// is already in flight, in which case the existing attempt's eventual
// result is shared with the new caller (spec.md §4.3 "Single-flight",
// §8 invariant 2). Concurrent Fetch calls are collapsed with
// golang.org/x/sync/singleflight, the same mechanism the pack's
// auth.JWKSKeyProvider (jonwraymond-toolops) and
// other_examples/probablyArth-callonce-go use to prevent thundering
// herds on a shared key.
//
// If the Query already holds data and is not stale under its current
// StaleTime, Fetch returns that cached data without invoking QueryFn at
// all — spec.md §8 "Stale window" seed scenario. Use Refetch to bypass
// this gate and force a fetch regardless of staleness.
func (q *Query) Fetch(ctx context.Context, overrides ...Option) (any, error) {
	return q.doFetch(ctx, false, overrides...)
}

// Refetch is Fetch without the staleness gate: it always invokes QueryFn
// (still deduplicated via single-flight against any fetch already in
// progress). Used by explicit refetch call sites — mount/focus/online/
// interval revalidation and the Client Facade's refetchQueries — where
// spec.md means "refetch" literally, not "fetch if needed".
func (q *Query) Refetch(ctx context.Context, overrides ...Option) (any, error) {
	return q.doFetch(ctx, true, overrides...)
}

func (q *Query) doFetch(ctx context.Context, force bool, overrides ...Option) (any, error) {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return nil, ErrNoQuery
	}
	opts := Apply(q.options, overrides...)
	q.options = opts
	if opts.QueryFn == nil {
		q.mu.Unlock()
		return nil, ErrMissingQueryFn
	}
	state := q.state
	q.mu.Unlock()

	if !force && state.Data != nil && !state.IsStale(opts.StaleTime, nowMillis()) {
		return state.Data, nil
	}

	v, err, _ := q.sf.Do("fetch", func() (any, error) {
		return q.execute(ctx, opts)
	})
	return v, err
}

func (q *Query) execute(ctx context.Context, opts Options) (any, error) {
	// A Query with no observers (a bare prefetch/fetch) still needs to be
	// GC'd once cacheTime elapses (spec.md §3 Lifecycle, §8 "Cache GC").
	// addObserver/removeObserver toggle the timer around an observed
	// window, but a settle is itself a point where the timer must be
	// (re)armed if nothing ever subscribed.
	defer q.maybeRestartRetention()

	q.transition(func(s State) State { return s.withFetchBegin() })
	log := q.log()
	log.Debug("fetch: starting")

	cfg := retry.Config[any]{
		Fn: func(ctx context.Context) (any, error) {
			return opts.QueryFn(ctx)
		},
		Retry:          opts.Retry,
		RetryDelay:     opts.RetryDelay,
		Bus:            opts.Bus,
		CircuitBreaker: opts.CircuitBreaker,
		Logger:         opts.Logger,
		OnError: func(err error, failureCount int) {
			q.transition(func(s State) State { return s.withFetchAttemptFailure(err, failureCount) })
			log.Warn("fetch: attempt %d failed: %v", failureCount, err)
		},
	}

	r := retry.Run(ctx, cfg)
	q.mu.Lock()
	q.retryer = r
	q.mu.Unlock()

	value, err, cancelled := r.Wait()

	q.mu.Lock()
	q.retryer = nil
	q.mu.Unlock()

	if cancelled {
		return q.finishCancelled(r, log)
	}
	if err != nil {
		q.transition(func(s State) State { return s.withTerminalFailure(err, nowMillis()) })
		log.Error("fetch: failed: %v", err)
		q.notifyCacheEvent(EventUpdated)
		return nil, err
	}

	q.transition(func(s State) State { return s.withSuccess(value, nowMillis()) })
	log.Debug("fetch: succeeded")
	q.notifyCacheEvent(EventUpdated)
	return value, nil
}

func (q *Query) finishCancelled(r *retry.Retryer[any], log logger.Logger) (any, error) {
	revert := r.WasRevertCancel()
	silent := r.WasSilentCancel()
	log.Debug("fetch: cancelled (revert=%v silent=%v)", revert, silent)

	q.mu.Lock()
	prior := q.state
	q.mu.Unlock()

	if revert {
		q.transition(func(s State) State { return prior.withFetchEnded() })
	} else {
		q.transition(func(s State) State {
			return s.withTerminalFailure(retry.ErrCancelled, nowMillis())
		})
	}
	if !silent {
		q.notifyCacheEvent(EventUpdated)
	}
	return prior.Data, retry.ErrCancelled
}

// Cancel aborts the in-flight fetch, if any. It is a no-op if no fetch
// is running.
func (q *Query) Cancel(opts retry.CancelOptions) {
	q.mu.Lock()
	r := q.retryer
	q.mu.Unlock()
	if r == nil {
		return
	}
	r.Cancel(opts)
}

// SetData applies updater to the current data and transitions to
// success, matching spec.md §4.3 "setData".
func (q *Query) SetData(updater func(prev any) any, updatedAt int64) any {
	var result any
	q.transition(func(s State) State {
		result = updater(s.Data)
		ts := updatedAt
		if ts == 0 {
			ts = nowMillis()
		}
		return s.withSetData(result, ts)
	})
	q.notifyCacheEvent(EventUpdated)
	return result
}

// Invalidate marks the Query stale-on-demand.
func (q *Query) Invalidate() {
	q.transition(func(s State) State { return s.withInvalidated() })
	q.notifyCacheEvent(EventUpdated)
}

// Reset clears the Query back to its initial (never-fetched) state.
func (q *Query) Reset() {
	q.mu.Lock()
	opts := q.options
	q.mu.Unlock()
	q.transition(func(State) State { return initialState(opts.InitialData, opts.InitialDataUpdatedAt) })
	q.notifyCacheEvent(EventUpdated)
}

// SetState overwrites state wholesale, but only if it is newer than the
// current state — the hydration path (spec.md §4.3 "setState (hydration)").
func (q *Query) SetState(s State) (applied bool) {
	q.mu.Lock()
	if s.UpdatedAt <= q.state.UpdatedAt {
		q.mu.Unlock()
		return false
	}
	q.state = s
	q.mu.Unlock()
	q.notifyObservers()
	q.notifyCacheEvent(EventUpdated)
	return true
}

// transition applies fn to the current state under lock, then notifies
// observers.
func (q *Query) transition(fn func(State) State) {
	q.mu.Lock()
	q.state = fn(q.state)
	q.mu.Unlock()
	q.notifyObservers()
}

func (q *Query) notifyObservers() {
	q.mu.Lock()
	observers := make([]*Observer, 0, len(q.observers))
	for _, o := range q.observers {
		observers = append(observers, o)
	}
	nm := q.cache.notifier()
	q.mu.Unlock()
	for _, o := range observers {
		obs := o
		nm.Schedule(func() { obs.onQueryUpdate() })
	}
}

func (q *Query) notifyCacheEvent(t EventType) {
	if q.cache != nil {
		q.cache.emit(Event{Type: t, Query: q})
	}
}

// addObserver registers o and cancels any pending retention timer — a
// Query with observers is never garbage collected (spec.md §3 invariant).
func (q *Query) addObserver(o *Observer) {
	q.mu.Lock()
	q.observers[o.id] = o
	q.stopRetentionLocked()
	q.mu.Unlock()
}

// removeObserver unregisters o and, if the observer set is now empty,
// starts the cache-retention timer.
func (q *Query) removeObserver(o *Observer) {
	q.mu.Lock()
	delete(q.observers, o.id)
	empty := len(q.observers) == 0
	cacheTime := q.options.CacheTime
	q.mu.Unlock()
	if empty {
		q.startRetention(cacheTime)
	}
}

// maybeRestartRetention (re)arms the retention timer if the Query
// currently has no observers — called after every fetch settles
// (construction arms the timer directly via startRetention), so a Query
// nobody ever subscribed to (a bare prefetch)
// is still collected once cacheTime elapses, matching how react-query
// schedules GC both in the query constructor and on every settle.
func (q *Query) maybeRestartRetention() {
	q.mu.Lock()
	empty := len(q.observers) == 0
	cacheTime := q.options.CacheTime
	q.mu.Unlock()
	if empty {
		q.startRetention(cacheTime)
	}
}

func (q *Query) startRetention(cacheTime time.Duration) {
	if cacheTime <= 0 && cacheTime != CacheTimeInfinite {
		cacheTime = 0
	}
	if cacheTime == CacheTimeInfinite {
		return
	}
	q.mu.Lock()
	q.stopRetentionLocked()
	q.retentionTimer = time.AfterFunc(cacheTime, func() {
		q.destroy()
	})
	q.mu.Unlock()
}

func (q *Query) stopRetentionLocked() {
	if q.retentionTimer != nil {
		q.retentionTimer.Stop()
		q.retentionTimer = nil
	}
}

// destroy removes the Query from its Cache. Called when the retention
// timer fires with no observers still attached.
func (q *Query) destroy() {
	q.mu.Lock()
	if len(q.observers) > 0 || q.destroyed {
		q.mu.Unlock()
		return
	}
	q.destroyed = true
	q.stopRetentionLocked()
	if q.staleTimer != nil {
		q.staleTimer.Stop()
		q.staleTimer = nil
	}
	q.mu.Unlock()
	if q.cache != nil {
		q.cache.remove(q)
	}
}

// CacheTimeInfinite disables cache-retention garbage collection.
const CacheTimeInfinite = time.Duration(1<<63 - 1)

// ErrNoQuery is returned by operations attempted on a destroyed Query.
var ErrNoQuery = errors.New("query: no such query")
