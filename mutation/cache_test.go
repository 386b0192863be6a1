package mutation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheBuildAssignsUniqueIDs(t *testing.T) {
	c := NewCache(nil)
	m1 := c.Build("a")
	m2 := c.Build("a")
	assert.NotEqual(t, m1.ID, m2.ID)
	assert.Len(t, c.All(), 2)
}

func TestCacheGetByID(t *testing.T) {
	c := NewCache(nil)
	m := c.Build("a")
	found, ok := c.Get(m.ID)
	require.True(t, ok)
	assert.Same(t, m, found)
}

func TestCacheClearDropsEverything(t *testing.T) {
	c := NewCache(nil)
	c.Build("a")
	c.Build("b")
	c.Clear()
	assert.Empty(t, c.All())
}

func TestCacheRetentionRemovesAfterLastObserverUnsubscribes(t *testing.T) {
	c := NewCache(nil)
	c.SetDefaultOptions(Apply(DefaultOptions(), WithCacheTime(10*time.Millisecond)))
	m := c.Build("a", WithMutationFn(func(ctx context.Context, v any) (any, error) { return "v", nil }))

	obs := NewObserver(m)
	unsub := obs.Subscribe(func(State) {})
	unsub()

	require.Eventually(t, func() bool {
		_, ok := c.Get(m.ID)
		return !ok
	}, time.Second, time.Millisecond)
}
