// Package mutation implements the write-side counterpart to package
// query: a one-shot asynchronous operation with lifecycle tracking,
// retry/backoff, and pause-on-offline resumption, but with no keyed
// dedup — spec.md §4.7 "Mutation subsystem".
package mutation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asyncquery/querycache/logger"
	"github.com/asyncquery/querycache/retry"
	"github.com/asyncquery/querycache/revalidate"
)

// ErrMissingFn is returned by Execute when the Mutation was built
// without a MutationFn.
var ErrMissingFn = errors.New("mutation: no mutation function configured")

// Status mirrors query.Status's four-state shape for a Mutation's
// lifecycle.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a Mutation's observable snapshot — spec.md §4.7 "A Mutation
// owns state {status, data, error, variables, context, failureCount,
// isPaused}".
type State struct {
	Status       Status
	Data         any
	Err          error
	Variables    any
	Context      any
	FailureCount int
	IsPaused     bool
	SubmittedAt  int64
}

func initialState(variables any) State {
	return State{Status: StatusIdle, Variables: variables}
}

// MutateFunc performs the write. It must respect ctx cancellation.
type MutateFunc func(ctx context.Context, variables any) (any, error)

// Hooks are the lifecycle callbacks fired around Execute — spec.md
// §4.7 "onMutate before, onSuccess/onError/onSettled after".
type Hooks struct {
	// OnMutate runs synchronously before the mutate function starts and
	// may return an arbitrary context value threaded onto State.Context
	// and passed to OnError/OnSettled (the classic "optimistic update
	// context" hook).
	OnMutate  func(variables any) any
	OnSuccess func(data any, variables any, mutateContext any)
	OnError   func(err error, variables any, mutateContext any)
	OnSettled func(data any, err error, variables any, mutateContext any)
}

// Options configures a Mutation.
type Options struct {
	MutationFn MutateFunc
	Retry      retry.Policy
	RetryDelay retry.DelayFunc
	CacheTime  time.Duration
	Bus        *revalidate.Bus
	Logger     logger.Logger
	Hooks      Hooks
}

// DefaultOptions mirrors spec.md §6 defaults, adapted for mutations:
// retry is disabled by default (a write is not safely idempotent unless
// the caller opts in).
func DefaultOptions() Options {
	return Options{
		Retry:      retry.Never(),
		RetryDelay: retry.DefaultDelay,
		CacheTime:  5 * time.Minute,
		Logger:     logger.Noop(),
	}
}

// Mutation is a one-shot tracked write. Unlike Query, mutations are not
// deduplicated by key — every Execute call creates independent state,
// even for two Mutations built with identical MutationFn/variables
// shapes (spec.md §4.7 "Mutations do not share a keyed slot").
type Mutation struct {
	ID string

	cache *Cache

	mu        sync.Mutex
	state     State
	options   Options
	retryer   *retry.Retryer[any]
	observers map[uint64]*Observer

	retentionTimer *time.Timer
	destroyed      bool
}

func newMutation(c *Cache, opts Options, variables any) *Mutation {
	return &Mutation{
		ID:        uuid.NewString(),
		cache:     c,
		options:   opts,
		state:     initialState(variables),
		observers: make(map[uint64]*Observer),
	}
}

// State returns a snapshot of the Mutation's current state.
func (m *Mutation) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mutation) log() logger.Logger {
	m.mu.Lock()
	l := m.options.Logger
	m.mu.Unlock()
	if l == nil {
		return logger.Noop()
	}
	return l.With(map[string]any{"mutationId": m.ID})
}

// Execute runs the Mutation's MutateFunc under its retry policy,
// firing OnMutate/OnSuccess/OnError/OnSettled around it.
func (m *Mutation) Execute(ctx context.Context) (any, error) {
	m.mu.Lock()
	opts := m.options
	variables := m.state.Variables
	m.mu.Unlock()

	if opts.MutationFn == nil {
		return nil, ErrMissingFn
	}

	var mutateCtx any
	if opts.Hooks.OnMutate != nil {
		mutateCtx = opts.Hooks.OnMutate(variables)
	}

	m.transition(func(s State) State {
		s.Status = StatusLoading
		s.Context = mutateCtx
		s.SubmittedAt = nowMillis()
		return s
	})

	log := m.log()
	cfg := retry.Config[any]{
		Fn: func(ctx context.Context) (any, error) {
			return opts.MutationFn(ctx, variables)
		},
		Retry:      opts.Retry,
		RetryDelay: opts.RetryDelay,
		Bus:        opts.Bus,
		Logger:     opts.Logger,
		OnError: func(err error, failureCount int) {
			m.transition(func(s State) State {
				s.FailureCount = failureCount
				return s
			})
		},
	}

	r := retry.Run(ctx, cfg)
	m.mu.Lock()
	m.retryer = r
	m.mu.Unlock()

	value, err, cancelled := r.Wait()

	m.mu.Lock()
	m.retryer = nil
	m.mu.Unlock()

	if cancelled {
		log.Debug("mutation: cancelled")
		m.transition(func(s State) State {
			s.Status = StatusError
			s.Err = retry.ErrCancelled
			return s
		})
		if opts.Hooks.OnError != nil {
			opts.Hooks.OnError(retry.ErrCancelled, variables, mutateCtx)
		}
		if opts.Hooks.OnSettled != nil {
			opts.Hooks.OnSettled(nil, retry.ErrCancelled, variables, mutateCtx)
		}
		return nil, retry.ErrCancelled
	}

	if err != nil {
		log.Error("mutation: failed: %v", err)
		m.transition(func(s State) State {
			s.Status = StatusError
			s.Err = err
			return s
		})
		if opts.Hooks.OnError != nil {
			opts.Hooks.OnError(err, variables, mutateCtx)
		}
		if opts.Hooks.OnSettled != nil {
			opts.Hooks.OnSettled(nil, err, variables, mutateCtx)
		}
		return nil, err
	}

	log.Debug("mutation: succeeded")
	m.transition(func(s State) State {
		s.Status = StatusSuccess
		s.Data = value
		s.Err = nil
		return s
	})
	if opts.Hooks.OnSuccess != nil {
		opts.Hooks.OnSuccess(value, variables, mutateCtx)
	}
	if opts.Hooks.OnSettled != nil {
		opts.Hooks.OnSettled(value, nil, variables, mutateCtx)
	}
	return value, nil
}

// IsPaused reports whether Execute's Retryer is currently paused
// waiting for the focus/online bus.
func (m *Mutation) IsPaused() bool {
	m.mu.Lock()
	r := m.retryer
	m.mu.Unlock()
	if r == nil {
		return false
	}
	paused := r.IsPaused()
	if paused {
		m.transition(func(s State) State { s.IsPaused = true; return s })
	}
	return paused
}

// Cancel aborts the in-flight execution, if any.
func (m *Mutation) Cancel(opts retry.CancelOptions) {
	m.mu.Lock()
	r := m.retryer
	m.mu.Unlock()
	if r != nil {
		r.Cancel(opts)
	}
}

func (m *Mutation) transition(fn func(State) State) {
	m.mu.Lock()
	m.state = fn(m.state)
	m.mu.Unlock()
	m.notifyObservers()
}

func (m *Mutation) notifyObservers() {
	m.mu.Lock()
	observers := make([]*Observer, 0, len(m.observers))
	for _, o := range m.observers {
		observers = append(observers, o)
	}
	nm := m.cache.notifier()
	m.mu.Unlock()
	for _, o := range observers {
		obs := o
		nm.Schedule(func() { obs.onMutationUpdate() })
	}
}

func (m *Mutation) addObserver(o *Observer) {
	m.mu.Lock()
	m.observers[o.id] = o
	m.stopRetentionLocked()
	m.mu.Unlock()
}

func (m *Mutation) removeObserver(o *Observer) {
	m.mu.Lock()
	delete(m.observers, o.id)
	empty := len(m.observers) == 0
	cacheTime := m.options.CacheTime
	m.mu.Unlock()
	if empty {
		m.startRetention(cacheTime)
	}
}

func (m *Mutation) startRetention(cacheTime time.Duration) {
	m.mu.Lock()
	m.stopRetentionLocked()
	m.retentionTimer = time.AfterFunc(cacheTime, m.destroy)
	m.mu.Unlock()
}

func (m *Mutation) stopRetentionLocked() {
	if m.retentionTimer != nil {
		m.retentionTimer.Stop()
		m.retentionTimer = nil
	}
}

func (m *Mutation) destroy() {
	m.mu.Lock()
	if len(m.observers) > 0 || m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.stopRetentionLocked()
	m.mu.Unlock()
	if m.cache != nil {
		m.cache.remove(m)
	}
}

var nowMillis = func() int64 { return time.Now().UnixMilli() }
