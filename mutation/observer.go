package mutation

import (
	"context"
	"sync"
	"sync/atomic"
)

var observerIDs uint64

func nextObserverID() uint64 { return atomic.AddUint64(&observerIDs, 1) }

// Listener receives a Mutation's State on every change.
type Listener func(State)

// Observer bridges one consumer to one Mutation, the mutation-side
// analogue of query.Observer.
type Observer struct {
	id uint64

	mu       sync.Mutex
	mutation *Mutation
	listener Listener
	closed   bool
}

// NewObserver creates an Observer bound to m.
func NewObserver(m *Mutation) *Observer {
	return &Observer{id: nextObserverID(), mutation: m}
}

// Subscribe attaches l and registers with the underlying Mutation,
// pinning it against cache-time eviction. The returned func unsubscribes.
func (o *Observer) Subscribe(l Listener) (unsubscribe func()) {
	o.mu.Lock()
	o.listener = l
	m := o.mutation
	o.mu.Unlock()
	m.addObserver(o)
	l(m.State())
	return o.unsubscribe
}

func (o *Observer) unsubscribe() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	m := o.mutation
	o.mu.Unlock()
	m.removeObserver(o)
}

// Execute runs the underlying Mutation.
func (o *Observer) Execute(ctx context.Context) (any, error) {
	return o.mutation.Execute(ctx)
}

// State returns the underlying Mutation's current state.
func (o *Observer) State() State {
	return o.mutation.State()
}

func (o *Observer) onMutationUpdate() {
	o.mu.Lock()
	listener := o.listener
	m := o.mutation
	o.mu.Unlock()
	if listener != nil {
		listener(m.State())
	}
}
