package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverExposesInitialResultAfterSubscribe(t *testing.T) {
	c := newTestCache()
	q := c.Build("todos", WithEnabled(false))
	q.SetData(func(any) any { return "seed" }, 0)

	obs := NewObserver(q, q.Options())
	var results []Result
	var mu sync.Mutex
	unsub := obs.Subscribe(func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	defer unsub()

	assert.Equal(t, "seed", obs.Result().Data)
}

func TestObserverRefetchesOnMountWhenStale(t *testing.T) {
	c := newTestCache()
	fetched := make(chan struct{}, 1)
	q := c.Build("todos", WithQueryFn(func(ctx CancelContext) (any, error) {
		fetched <- struct{}{}
		return "v", nil
	}))

	obs := NewObserver(q, Apply(q.Options(), WithRefetchOnMount(TriggerIfStale)))
	unsub := obs.Subscribe(func(Result) {})
	defer unsub()

	select {
	case <-fetched:
	case <-time.After(time.Second):
		t.Fatal("expected refetch on mount")
	}
}

func TestObserverSkipsRefetchOnMountWhenDisabled(t *testing.T) {
	c := newTestCache()
	fetched := make(chan struct{}, 1)
	q := c.Build("todos", WithQueryFn(func(ctx CancelContext) (any, error) {
		fetched <- struct{}{}
		return "v", nil
	}))

	obs := NewObserver(q, Apply(q.Options(), WithRefetchOnMount(TriggerDisabled)))
	unsub := obs.Subscribe(func(Result) {})
	defer unsub()

	select {
	case <-fetched:
		t.Fatal("did not expect a refetch")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestObserverNotifyOnChangePropsFiltersUpdates(t *testing.T) {
	c := newTestCache()
	q := c.Build("todos", WithEnabled(false))

	obs := NewObserver(q, Apply(q.Options(), WithNotifyOnChangeProps("data")))
	var calls int
	var mu sync.Mutex
	unsub := obs.Subscribe(func(Result) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	defer unsub()

	q.Invalidate() // only isStale changes, not data
	q.SetData(func(any) any { return "v" }, 0) // data changes

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, time.Millisecond)
}

func TestObserverTrackedModeOnlyNotifiesReadFields(t *testing.T) {
	c := newTestCache()
	q := c.Build("todos", WithEnabled(false))

	obs := NewObserver(q, Apply(q.Options(), WithNotifyOnChangeProps(TrackedProps...)))
	obs.MarkRead("data")

	var calls int
	var mu sync.Mutex
	unsub := obs.Subscribe(func(Result) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	defer unsub()

	q.Invalidate() // isStale not tracked
	q.SetData(func(any) any { return "v" }, 0) // data tracked

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, time.Millisecond)
}

func TestObserverIsDataEqualSuppressesNotificationForEquivalentData(t *testing.T) {
	c := newTestCache()
	q := c.Build("todos", WithEnabled(false))

	eq := func(a, b any) bool {
		as, aok := a.([]string)
		bs, bok := b.([]string)
		if !aok || !bok {
			return false
		}
		return len(as) == len(bs)
	}
	obs := NewObserver(q, Apply(q.Options(), WithIsDataEqual(eq), WithNotifyOnChangeProps("data")))
	var calls int
	var mu sync.Mutex
	unsub := obs.Subscribe(func(Result) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	defer unsub()

	q.SetData(func(any) any { return []string{"a"} }, 0)
	q.SetData(func(any) any { return []string{"b"} }, 0) // same length, eq says unchanged

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, time.Millisecond)

	q.SetData(func(any) any { return []string{"b", "c"} }, 0) // different length, eq says changed

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, time.Millisecond)
}

func TestObserverUnsubscribeStartsRetention(t *testing.T) {
	c := newTestCache()
	q := c.Build("todos", WithEnabled(false), WithCacheTime(10*time.Millisecond))
	obs := NewObserver(q, q.Options())
	unsub := obs.Subscribe(func(Result) {})
	assert.Equal(t, 1, q.ObserverCount())
	unsub()
	assert.Equal(t, 0, q.ObserverCount())

	require.Eventually(t, func() bool {
		_, ok := c.Get("todos")
		return !ok
	}, time.Second, time.Millisecond)
}

func TestObserverRefetchThroughContext(t *testing.T) {
	c := newTestCache()
	q := c.Build("todos", WithQueryFn(func(ctx CancelContext) (any, error) { return "v", nil }))
	obs := NewObserver(q, Apply(q.Options(), WithRefetchOnMount(TriggerDisabled)))
	unsub := obs.Subscribe(func(Result) {})
	defer unsub()

	v, err := obs.Refetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}
