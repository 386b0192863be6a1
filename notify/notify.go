// Package notify implements the coalesced notification scheduler shared
// by the query and mutation caches: many state changes made during one
// logical step should be observed by consumers as a single batch of
// callbacks, in the order they were scheduled.
//
// Go has no microtask queue, so "flush on the next microtask" is
// implemented as "flush synchronously once the outermost Batch call
// returns, or immediately if no batch is open". Combined with observers
// recomputing their result view lazily (at flush time, not at schedule
// time — see query.Observer), this gives callers exactly the coalescing
// behavior spec'd for repeated writes inside one Batch: the queued
// callbacks all observe the final state, and only the first one to
// notice a change actually calls the listener.
package notify

import "sync"

// Manager coalesces scheduled callbacks into batches. The zero value is
// not usable; construct with New. A Manager is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	depth int
	queue []func()
	wrap  func(func())
	onPanic func(any)
}

// New returns a ready to use Manager.
func New() *Manager {
	return &Manager{}
}

// Schedule enqueues fn. If no batch is currently open, fn (and anything
// queued ahead of it) is flushed before Schedule returns. If a batch is
// open, fn is appended to the current batch and runs when the outermost
// Batch call returns.
func (m *Manager) Schedule(fn func()) {
	m.mu.Lock()
	if m.depth > 0 {
		m.queue = append(m.queue, fn)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.dispatch(fn)
}

// Batch opens a batch, runs fn synchronously, closes the batch, and
// flushes every callback scheduled during fn — in the order they were
// scheduled — before returning fn's result. Nested Batch calls share the
// outermost batch: only the outermost call flushes.
func Batch[T any](m *Manager, fn func() T) T {
	m.enter()
	result := fn()
	m.exit()
	return result
}

// BatchVoid is Batch for callbacks with no return value.
func BatchVoid(m *Manager, fn func()) {
	Batch(m, func() struct{} {
		fn()
		return struct{}{}
	})
}

func (m *Manager) enter() {
	m.mu.Lock()
	m.depth++
	m.mu.Unlock()
}

// exit closes one level of batch nesting and, once the outermost Batch
// call has returned, flushes every callback queued during it. The whole
// flush runs inside a single call to the installed wrap function — not
// once per callback — so a UI binding's render-transaction wrapper
// coalesces the whole batch into one transaction, matching what
// coalesced the callbacks into one flush in the first place.
func (m *Manager) exit() {
	m.mu.Lock()
	m.depth--
	if m.depth > 0 {
		m.mu.Unlock()
		return
	}
	pending := m.queue
	m.queue = nil
	wrap := m.wrap
	m.mu.Unlock()

	flush := func() {
		for _, fn := range pending {
			m.guard(fn)()
		}
	}
	if wrap != nil {
		wrap(flush)
		return
	}
	flush()
}

// dispatch delivers a single callback scheduled outside any open batch.
// There is exactly one callback in this flush, so wrapping it directly
// is equivalent to wrapping the (one-item) flush.
func (m *Manager) dispatch(fn func()) {
	m.mu.Lock()
	wrap := m.wrap
	m.mu.Unlock()
	guarded := m.guard(fn)
	if wrap != nil {
		wrap(guarded)
		return
	}
	guarded()
}

func (m *Manager) guard(fn func()) func() {
	m.mu.Lock()
	onPanic := m.onPanic
	m.mu.Unlock()
	return func() {
		defer func() {
			if r := recover(); r != nil && onPanic != nil {
				onPanic(r)
			}
		}()
		fn()
	}
}

// OnPanic installs a handler invoked when a scheduled callback panics.
// A panicking callback never prevents later callbacks in the same flush
// from running — the panic is recovered and, if a handler is set,
// reported through it (this is the "platform's unhandled-error channel"
// spec.md §7 leaves to the host). Passing nil discards panics silently.
func (m *Manager) OnPanic(handler func(recovered any)) {
	m.mu.Lock()
	m.onPanic = handler
	m.mu.Unlock()
}

// BatchCalls lifts fn so that each invocation of the returned function is
// deferred into Schedule instead of running immediately. This is how
// Query/Mutation dispatch notifications: calling the wrapped function
// during a Batch just enqueues the call.
func BatchCalls[T any](m *Manager, fn func(T)) func(T) {
	return func(arg T) {
		m.Schedule(func() { fn(arg) })
	}
}

// SetBatchNotifyFunction installs an outer wrapper invoked once around
// each flush (every callback queued during one Batch, or a single
// unbatched Schedule call) — used by UI bindings to wrap a whole flush's
// notification delivery in one render transaction rather than one per
// callback. Passing nil restores the default (call the callbacks
// directly).
func (m *Manager) SetBatchNotifyFunction(wrapper func(func())) {
	m.mu.Lock()
	m.wrap = wrapper
	m.mu.Unlock()
}

// IsBatching reports whether a batch is currently open. Exposed so
// callers that want to opt into deferred delivery only when a batch is
// already open (avoiding starting one of their own) can check first.
func (m *Manager) IsBatching() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth > 0
}
