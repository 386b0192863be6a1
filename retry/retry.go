// Package retry implements the Retryer described in spec.md §4.2: it
// wraps a fallible async operation with retry, exponential backoff,
// focus/online-aware pausing, and cooperative cancellation.
//
// The backoff calculation and error-classification shape are adapted
// from the teacher's gravity.Retry/gravity.RetryConfig
// (github.com/agentuity/go-common/gravity) and
// resilience.CircuitBreaker (github.com/agentuity/go-common/resilience);
// the single-attempt loop is rebuilt as a cancellable goroutine instead
// of a blocking call, since a Retryer here must be cancellable from a
// different goroutine while an attempt (or its backoff delay) is in
// flight.
package retry

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/asyncquery/querycache/logger"
	"github.com/asyncquery/querycache/revalidate"
)

// ErrCancelled is returned as the terminal error of a Retryer stopped by
// Cancel before it settled on its own.
var ErrCancelled = errors.New("retry: cancelled")

// Policy decides whether a failed attempt should be retried. It mirrors
// spec.md's four retry shapes (false / true / bound / predicate) as one
// Go type: a predicate over the failure count (1-indexed, the count of
// the attempt that just failed) and the error it produced.
type Policy func(failureCount int, err error) bool

// Never never retries.
func Never() Policy { return func(int, error) bool { return false } }

// Always retries forever.
func Always() Policy { return func(int, error) bool { return true } }

// MaxAttempts retries until failureCount exceeds n (n additional
// attempts beyond the first).
func MaxAttempts(n int) Policy {
	return func(failureCount int, _ error) bool { return failureCount <= n }
}

// DelayFunc computes the backoff before the (failureCount+1)th attempt.
type DelayFunc func(failureCount int) time.Duration

// DefaultDelay is exponential backoff doubling from 1s, capped at 30s —
// the default in spec.md §6.
func DefaultDelay(failureCount int) time.Duration {
	ms := math.Min(1000*math.Pow(2, float64(failureCount)), 30000)
	return time.Duration(ms) * time.Millisecond
}

// Config configures a single Retryer run.
type Config[T any] struct {
	// Fn is invoked to attempt the operation. It must respect ctx
	// cancellation: once ctx is done, Fn should return promptly.
	Fn func(ctx context.Context) (T, error)

	// Retry decides whether to retry after a failed attempt. Defaults to
	// MaxAttempts(3) if nil.
	Retry Policy

	// RetryDelay computes the backoff between attempts. Defaults to
	// DefaultDelay if nil.
	RetryDelay DelayFunc

	// Bus, if set, pauses a pending retry delay while
	// !Bus.IsVisibleAndOnline(), resuming (and restarting the delay) once
	// it becomes true again.
	Bus *revalidate.Bus

	// CircuitBreaker, if set, gates each attempt through Allow/RecordResult
	// (see CircuitBreaker) — a supplemental guard, not part of the base
	// retry Policy.
	CircuitBreaker *CircuitBreaker

	OnError    func(err error, failureCount int)
	OnSuccess  func(value T)
	OnFail     func(failureCount int, err error)
	OnContinue func()

	Logger logger.Logger
}

// Retryer runs Config.Fn under the configured retry policy. Construct
// with Run; the operation starts immediately in its own goroutine.
type Retryer[T any] struct {
	cfg    Config[T]
	cancel context.CancelFunc

	mu        sync.Mutex
	isPaused  bool
	isResolved bool
	failureCount int

	done  chan struct{}
	value T
	err   error
	// revertedFromCancel records the Revert option of the Cancel call that
	// settled the Retryer; the caller (Query) is responsible for restoring
	// its prior value into state.
	revertedFromCancel bool
	silentCancel       bool
}

// Run starts fn under cfg's policy and returns immediately; use Wait to
// block for the outcome.
func Run[T any](ctx context.Context, cfg Config[T]) *Retryer[T] {
	if cfg.Retry == nil {
		cfg.Retry = MaxAttempts(3)
	}
	if cfg.RetryDelay == nil {
		cfg.RetryDelay = DefaultDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Noop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Retryer[T]{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.loop(runCtx)
	return r
}

// Wait blocks until the Retryer settles and returns its outcome. It is
// safe to call Wait from multiple goroutines.
func (r *Retryer[T]) Wait() (value T, err error, cancelled bool) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.err, errors.Is(r.err, ErrCancelled)
}

// IsPaused reports whether the Retryer is currently waiting on the
// focus/online bus before it will attempt its next retry delay.
func (r *Retryer[T]) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isPaused
}

// FailureCount returns the number of consecutive failed attempts so far.
func (r *Retryer[T]) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureCount
}

// CancelOptions configures Cancel.
type CancelOptions struct {
	// Revert, if true, settles the Retryer as cancelled without
	// discarding a previously observed successful value — the caller
	// decides what "reverting" means for its own state. If false (the
	// zero value, used when Revert is not set), the Retryer settles with
	// a plain cancellation error and no implied recovery.
	Revert bool
	// Silent suppresses external notification of the cancellation (the
	// caller checks this before firing OnError-driven side effects).
	Silent bool
}

// Cancel aborts the in-flight attempt (by cancelling its context) and
// any pending retry delay, then settles the Retryer with ErrCancelled.
// Calling Cancel after the Retryer has already settled is a no-op.
func (r *Retryer[T]) Cancel(opts CancelOptions) {
	r.mu.Lock()
	if r.isResolved {
		r.mu.Unlock()
		return
	}
	r.revertedFromCancel = opts.Revert
	r.silentCancel = opts.Silent
	r.mu.Unlock()
	r.cancel()
}

// WasSilentCancel and WasRevertCancel report how the terminal
// cancellation (if any) was requested, so a caller inspecting the
// outcome after Wait knows whether to suppress notifications or restore
// prior state.
func (r *Retryer[T]) WasSilentCancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.silentCancel
}

func (r *Retryer[T]) WasRevertCancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revertedFromCancel
}

func (r *Retryer[T]) loop(ctx context.Context) {
	for {
		if r.cfg.CircuitBreaker != nil {
			if guardErr := r.cfg.CircuitBreaker.Allow(); guardErr != nil {
				r.mu.Lock()
				r.failureCount++
				failureCount := r.failureCount
				r.mu.Unlock()
				if r.cfg.OnError != nil {
					r.cfg.OnError(guardErr, failureCount)
				}
				if !r.cfg.Retry(failureCount, guardErr) {
					var zero T
					r.settle(zero, guardErr)
					if r.cfg.OnFail != nil {
						r.cfg.OnFail(failureCount, guardErr)
					}
					return
				}
				if !r.waitBeforeRetry(ctx, failureCount) {
					var zero T
					r.settle(zero, ErrCancelled)
					return
				}
				continue
			}
		}

		value, err := r.cfg.Fn(ctx)
		if r.cfg.CircuitBreaker != nil {
			r.cfg.CircuitBreaker.RecordResult(err)
		}
		if err == nil {
			r.settle(value, nil)
			if r.cfg.OnSuccess != nil {
				r.cfg.OnSuccess(value)
			}
			return
		}

		if ctx.Err() != nil {
			var zero T
			r.settle(zero, ErrCancelled)
			return
		}

		r.mu.Lock()
		r.failureCount++
		failureCount := r.failureCount
		r.mu.Unlock()

		if r.cfg.OnError != nil {
			r.cfg.OnError(err, failureCount)
		}
		r.cfg.Logger.Debug("retry: attempt %d failed: %v", failureCount, err)

		if !r.cfg.Retry(failureCount, err) {
			var zero T
			r.settle(zero, err)
			if r.cfg.OnFail != nil {
				r.cfg.OnFail(failureCount, err)
			}
			return
		}

		if !r.waitBeforeRetry(ctx, failureCount) {
			var zero T
			r.settle(zero, ErrCancelled)
			return
		}
	}
}

// waitBeforeRetry blocks for the configured backoff, pausing first if
// the focus/online bus reports the host is not visible and online.
// Returns false if ctx was cancelled while waiting.
func (r *Retryer[T]) waitBeforeRetry(ctx context.Context, failureCount int) bool {
	if r.cfg.Bus != nil && !r.cfg.Bus.IsVisibleAndOnline() {
		if !r.awaitResume(ctx) {
			return false
		}
		if r.cfg.OnContinue != nil {
			r.cfg.OnContinue()
		}
	}

	delay := r.cfg.RetryDelay(failureCount)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Retryer[T]) awaitResume(ctx context.Context) bool {
	r.mu.Lock()
	r.isPaused = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.isPaused = false
		r.mu.Unlock()
	}()

	resumed := make(chan struct{}, 1)
	notify := func() {
		select {
		case resumed <- struct{}{}:
		default:
		}
	}
	unsubscribe := r.cfg.Bus.Subscribe(revalidate.Listener{OnFocus: notify, OnOnline: notify})
	defer unsubscribe()

	for {
		if r.cfg.Bus.IsVisibleAndOnline() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-resumed:
			// one of the two conditions changed; loop to recheck both
		}
	}
}

func (r *Retryer[T]) settle(value T, err error) {
	r.mu.Lock()
	if r.isResolved {
		r.mu.Unlock()
		return
	}
	r.isResolved = true
	r.value = value
	r.err = err
	r.mu.Unlock()
	close(r.done)
}
