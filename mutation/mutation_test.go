package mutation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutationExecuteSucceeds(t *testing.T) {
	c := NewCache(nil)
	m := c.Build("payload", WithMutationFn(func(ctx context.Context, v any) (any, error) {
		return v.(string) + "!", nil
	}))
	v, err := m.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "payload!", v)
	assert.Equal(t, StatusSuccess, m.State().Status)
}

func TestMutationExecuteWithoutMutationFnFails(t *testing.T) {
	c := NewCache(nil)
	m := c.Build("payload")
	_, err := m.Execute(context.Background())
	assert.ErrorIs(t, err, ErrMissingFn)
}

func TestMutationHooksFireInOrder(t *testing.T) {
	var order []string
	c := NewCache(nil)
	m := c.Build("v", WithMutationFn(func(ctx context.Context, v any) (any, error) {
		return "ok", nil
	}), WithHooks(Hooks{
		OnMutate:  func(v any) any { order = append(order, "mutate"); return "ctx" },
		OnSuccess: func(data, v, mctx any) { order = append(order, "success:"+mctx.(string)) },
		OnSettled: func(data any, err error, v, mctx any) { order = append(order, "settled") },
	}))
	_, err := m.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mutate", "success:ctx", "settled"}, order)
}

func TestMutationErrorFiresOnErrorAndOnSettled(t *testing.T) {
	var gotErr error
	settled := false
	c := NewCache(nil)
	wantErr := errors.New("boom")
	m := c.Build(nil, WithMutationFn(func(ctx context.Context, v any) (any, error) {
		return nil, wantErr
	}), WithHooks(Hooks{
		OnError:   func(err error, v, mctx any) { gotErr = err },
		OnSettled: func(data any, err error, v, mctx any) { settled = true },
	}))
	_, err := m.Execute(context.Background())
	assert.ErrorIs(t, err, wantErr)
	assert.ErrorIs(t, gotErr, wantErr)
	assert.True(t, settled)
	assert.Equal(t, StatusError, m.State().Status)
}

func TestMutationRetryPolicyRetriesTransientFailures(t *testing.T) {
	var attempts int32
	c := NewCache(nil)
	m := c.Build("v", WithMutationFn(func(ctx context.Context, v any) (any, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, errors.New("transient")
		}
		return "done", nil
	}), WithRetry(retryAlways()), WithRetryDelay(func(int) time.Duration { return time.Millisecond }))
	v, err := m.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestMutationObserverReceivesUpdates(t *testing.T) {
	c := NewCache(nil)
	m := c.Build("v", WithMutationFn(func(ctx context.Context, v any) (any, error) {
		return "ok", nil
	}))
	obs := NewObserver(m)
	var last State
	unsub := obs.Subscribe(func(s State) { last = s })
	defer unsub()

	_, err := obs.Execute(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return last.Status == StatusSuccess
	}, time.Second, time.Millisecond)
}

func TestCacheResumePausedMutationsRunsInSubmitOrder(t *testing.T) {
	c := NewCache(nil)
	var order []string
	build := func(name string) *Mutation {
		m := c.Build(name, WithMutationFn(func(ctx context.Context, v any) (any, error) {
			order = append(order, v.(string))
			return "ok", nil
		}))
		m.mu.Lock()
		m.state.IsPaused = true
		m.state.SubmittedAt = nowMillis()
		m.mu.Unlock()
		return m
	}
	build("first")
	time.Sleep(2 * time.Millisecond)
	build("second")

	c.ResumePausedMutations(context.Background())
	require.Eventually(t, func() bool { return len(order) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, order)
}

func retryAlways() func(int, error) bool {
	return func(failureCount int, err error) bool { return failureCount <= 5 }
}
