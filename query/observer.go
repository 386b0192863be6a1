package query

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asyncquery/querycache/retry"
	"github.com/asyncquery/querycache/revalidate"
)

var observerIDs uint64

func nextObserverID() uint64 { return atomic.AddUint64(&observerIDs, 1) }

// Listener is invoked whenever an Observer's Result changes in a way its
// notify policy allows through — spec.md §4.5 "subscribe".
type Listener func(Result)

// Observer bridges one consumer to one Query: it holds consumer-specific
// options (Select, KeepPreviousData, NotifyOnChangeProps), derives a
// Result on every Query update, and decides whether that Result change
// is worth delivering to the consumer's Listener.
//
// Grounded on the same one-consumer-per-subscription shape as the
// teacher's eventing.Subscription (github.com/agentuity/go-common/eventing),
// generalized so the "value" it carries is a derived Result rather than a
// raw event payload.
type Observer struct {
	id uint64

	mu       sync.Mutex
	query    *Query
	options  Options
	listener Listener
	result   Result
	tracked  map[string]bool

	unsubscribeFocus  func()
	refetchTicker     *time.Timer
	closed            bool
}

// NewObserver creates an Observer for query with opts, computing its
// initial Result but not yet subscribing to updates — call Subscribe.
func NewObserver(q *Query, opts Options) *Observer {
	o := &Observer{
		id:      nextObserverID(),
		query:   q,
		options: opts,
		tracked: make(map[string]bool),
	}
	o.result = deriveResult(q.State(), opts.StaleTime, nowMillis(), opts.Select, opts.KeepPreviousData, nil)
	return o
}

// Subscribe attaches l as the Observer's Listener, registers with the
// underlying Query (pinning it against cache-time eviction), performs the
// mount-time refetch decision (spec.md §4.5 "refetchOnMount"), and wires
// focus/online/interval revalidation. The returned func unsubscribes.
func (o *Observer) Subscribe(l Listener) (unsubscribe func()) {
	o.mu.Lock()
	o.listener = l
	q := o.query
	o.mu.Unlock()

	q.addObserver(o)
	o.maybeRefetchOnMount()
	o.wireBus()
	o.wireInterval()

	return o.unsubscribe
}

func (o *Observer) unsubscribe() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	q := o.query
	if o.unsubscribeFocus != nil {
		o.unsubscribeFocus()
		o.unsubscribeFocus = nil
	}
	if o.refetchTicker != nil {
		o.refetchTicker.Stop()
		o.refetchTicker = nil
	}
	o.mu.Unlock()
	q.removeObserver(o)
}

// Result returns the Observer's current derived Result.
func (o *Observer) Result() Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// SetOptions updates the Observer's own options (distinct from the
// Query's shared options) and re-derives its Result immediately, then
// evaluates whether the option change itself should trigger a refetch —
// spec.md §4.5 "options change".
func (o *Observer) SetOptions(opts Options) {
	o.mu.Lock()
	prevEnabled := o.options.isEnabled()
	o.options = opts
	o.mu.Unlock()
	o.recompute(true)
	if !prevEnabled && opts.isEnabled() {
		o.refetch(context.Background())
	}
}

func (o *Observer) optionsLocked() Options { return o.options }

// Refetch triggers an immediate fetch through the underlying Query,
// regardless of staleness.
func (o *Observer) Refetch(ctx context.Context) (any, error) {
	return o.refetch(ctx)
}

func (o *Observer) refetch(ctx context.Context) (any, error) {
	o.mu.Lock()
	q := o.query
	o.mu.Unlock()
	return q.Refetch(ctx)
}

func (o *Observer) maybeRefetchOnMount() {
	o.mu.Lock()
	trigger := o.options.RefetchOnMount
	enabled := o.options.isEnabled()
	staleTime := o.options.StaleTime
	o.mu.Unlock()
	if !enabled || trigger == TriggerDisabled {
		return
	}
	q := o.query
	if trigger == TriggerAlways || q.State().IsStale(staleTime, nowMillis()) {
		go o.refetch(context.Background())
	}
}

func (o *Observer) wireBus() {
	o.mu.Lock()
	bus := o.options.Bus
	focusTrig := o.options.RefetchOnWindowFocus
	onlineTrig := o.options.RefetchOnReconnect
	o.mu.Unlock()
	if bus == nil {
		bus = revalidate.Default()
	}

	shouldRefetch := func(trigger Trigger) bool {
		o.mu.Lock()
		enabled := o.options.isEnabled()
		staleTime := o.options.StaleTime
		o.mu.Unlock()
		if !enabled || trigger == TriggerDisabled {
			return false
		}
		return trigger == TriggerAlways || o.query.State().IsStale(staleTime, nowMillis())
	}

	unsub := bus.Subscribe(revalidate.Listener{
		OnFocus: func() {
			if shouldRefetch(focusTrig) {
				go o.refetch(context.Background())
			}
		},
		OnOnline: func() {
			if shouldRefetch(onlineTrig) {
				go o.refetch(context.Background())
			}
		},
	})
	o.mu.Lock()
	o.unsubscribeFocus = unsub
	o.mu.Unlock()
}

func (o *Observer) wireInterval() {
	o.mu.Lock()
	interval := o.options.RefetchInterval
	inBackground := o.options.RefetchIntervalInBackground
	bus := o.options.Bus
	o.mu.Unlock()
	if interval <= 0 {
		return
	}
	if bus == nil {
		bus = revalidate.Default()
	}

	var tick func()
	tick = func() {
		o.mu.Lock()
		closed := o.closed
		iv := o.options.RefetchInterval
		o.mu.Unlock()
		if closed || iv <= 0 {
			return
		}
		if inBackground || bus.IsVisibleAndOnline() {
			go o.refetch(context.Background())
		}
		o.mu.Lock()
		if !o.closed {
			o.refetchTicker = time.AfterFunc(iv, tick)
		}
		o.mu.Unlock()
	}
	o.mu.Lock()
	o.refetchTicker = time.AfterFunc(interval, tick)
	o.mu.Unlock()
}

// onQueryUpdate is invoked (via the notify Manager) whenever the
// underlying Query's State changes.
func (o *Observer) onQueryUpdate() {
	o.recompute(false)
}

// recompute re-derives the Observer's Result from current Query state
// and, if the notify policy allows, delivers it to the Listener.
//
// notifyOnChangeProps == TrackedProps enables "tracked" mode: the
// consumer is assumed to only read certain Result fields (recorded via
// MarkRead), and a change is delivered only if a tracked field actually
// changed — spec.md §4.5 "notifyOnChangeProps: 'tracked'".
func (o *Observer) recompute(force bool) {
	o.mu.Lock()
	q := o.query
	opts := o.options
	prev := o.result
	o.mu.Unlock()

	next := deriveResult(q.State(), opts.StaleTime, nowMillis(), opts.Select, opts.KeepPreviousData, &prev)

	o.mu.Lock()
	o.result = next
	listener := o.listener
	tracked := o.tracked
	o.mu.Unlock()

	if listener == nil {
		return
	}
	if force {
		listener(next)
		return
	}

	changed := changedFields(prev, next, opts.IsDataEqual)
	if len(changed) == 0 {
		return
	}

	switch {
	case opts.NotifyOnChangeProps == nil:
		listener(next)
	case isTracked(opts.NotifyOnChangeProps):
		for _, f := range changed {
			if tracked[f] {
				listener(next)
				return
			}
		}
	default:
		allow := make(map[string]bool, len(opts.NotifyOnChangeProps))
		for _, f := range opts.NotifyOnChangeProps {
			allow[f] = true
		}
		for _, f := range changed {
			if allow[f] {
				listener(next)
				return
			}
		}
	}
}

// MarkRead records that the consumer has read field (one of the names
// used by changedFields, e.g. "data", "isFetching") — required for
// "tracked" notifyOnChangeProps mode to deliver updates for it.
func (o *Observer) MarkRead(field string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracked[field] = true
}

// Cancel cancels any in-flight fetch on the underlying Query on behalf
// of this observer (spec.md §4.5 does not distinguish per-observer
// cancellation from Query-wide cancellation; there is exactly one fetch
// per Query at a time).
func (o *Observer) Cancel(opts retry.CancelOptions) {
	o.query.Cancel(opts)
}
