package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncquery/querycache/revalidate"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	var attempts int32
	r := Run(context.Background(), Config[string]{
		Fn: func(ctx context.Context) (string, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		},
		RetryDelay: func(int) time.Duration { return time.Millisecond },
	})
	val, err, cancelled := r.Wait()
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, "ok", val)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestRetryExhaustsMaxAttempts(t *testing.T) {
	var attempts int32
	wantErr := errors.New("persistent")
	r := Run(context.Background(), Config[string]{
		Fn: func(ctx context.Context) (string, error) {
			atomic.AddInt32(&attempts, 1)
			return "", wantErr
		},
		Retry:      MaxAttempts(2),
		RetryDelay: func(int) time.Duration { return time.Millisecond },
	})
	_, err, cancelled := r.Wait()
	assert.False(t, cancelled)
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts)) // initial + 2 retries
}

func TestRetryNeverRetries(t *testing.T) {
	var attempts int32
	r := Run(context.Background(), Config[string]{
		Fn: func(ctx context.Context) (string, error) {
			atomic.AddInt32(&attempts, 1)
			return "", errors.New("fails once")
		},
		Retry: Never(),
	})
	_, err, _ := r.Wait()
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestRetryOnErrorAndOnFailHooksFire(t *testing.T) {
	var errorCalls, failCalls int
	r := Run(context.Background(), Config[string]{
		Fn: func(ctx context.Context) (string, error) {
			return "", errors.New("nope")
		},
		Retry:      MaxAttempts(1),
		RetryDelay: func(int) time.Duration { return time.Millisecond },
		OnError:    func(err error, n int) { errorCalls++ },
		OnFail:     func(n int, err error) { failCalls++ },
	})
	_, _, _ = r.Wait()
	assert.Equal(t, 2, errorCalls) // one per failed attempt (initial + 1 retry)
	assert.Equal(t, 1, failCalls)  // exactly once, on the terminal failure
}

func TestCancelRevertSettlesWithCancelledError(t *testing.T) {
	started := make(chan struct{})
	r := Run(context.Background(), Config[string]{
		Fn: func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	<-started
	r.Cancel(CancelOptions{Revert: true})
	_, err, cancelled := r.Wait()
	assert.True(t, cancelled)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, r.WasRevertCancel())
}

func TestCancelSilentIsRecorded(t *testing.T) {
	started := make(chan struct{})
	r := Run(context.Background(), Config[string]{
		Fn: func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	<-started
	r.Cancel(CancelOptions{Revert: false, Silent: true})
	_, _, cancelled := r.Wait()
	assert.True(t, cancelled)
	assert.True(t, r.WasSilentCancel())
	assert.False(t, r.WasRevertCancel())
}

func TestPausesWhileBusOffline(t *testing.T) {
	bus := revalidate.New()
	bus.SetOnline(false)

	var attempts int32
	var continued int32
	r := Run(context.Background(), Config[string]{
		Fn: func(ctx context.Context) (string, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 2 {
				return "", errors.New("retry me")
			}
			return "ok", nil
		},
		Bus:        bus,
		RetryDelay: func(int) time.Duration { return time.Millisecond },
		OnContinue: func() { atomic.AddInt32(&continued, 1) },
	})

	// give the retryer time to fail once and enter the paused state
	require.Eventually(t, func() bool { return r.IsPaused() }, time.Second, time.Millisecond)
	bus.SetOnline(true)

	val, err, _ := r.Wait()
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, int32(1), atomic.LoadInt32(&continued))
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Cooldown: time.Hour, SuccessThreshold: 1})
	assert.NoError(t, cb.Allow())
	cb.RecordResult(errors.New("x"))
	assert.NoError(t, cb.Allow())
	cb.RecordResult(errors.New("x"))
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Cooldown: time.Millisecond, SuccessThreshold: 1})
	cb.RecordResult(errors.New("x"))
	assert.Equal(t, CircuitOpen, cb.State())
	time.Sleep(5 * time.Millisecond)
	assert.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	cb.RecordResult(nil)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestDefaultDelayIsExponentialAndCapped(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, DefaultDelay(0))
	assert.Equal(t, 2000*time.Millisecond, DefaultDelay(1))
	assert.Equal(t, 30000*time.Millisecond, DefaultDelay(20))
}
