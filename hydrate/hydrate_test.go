package hydrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncquery/querycache/query"
)

func newCacheWithSuccess(key any, data any) *query.Cache {
	c := query.NewCache(nil)
	q := c.Build(key)
	q.SetData(func(any) any { return data }, 0)
	return c
}

func TestDehydrateOnlyIncludesSuccessByDefault(t *testing.T) {
	c := query.NewCache(nil)
	c.Build("loading-only") // status idle, never fetched

	success := c.Build("done")
	success.SetData(func(any) any { return "v" }, 0)

	payload := Dehydrate(c, DehydrateOptions{})
	require.Len(t, payload.Queries, 1)
	assert.Equal(t, "done", payload.Queries[0].QueryKey)
}

func TestDehydrateEncodesInfiniteCacheTimeAsNegativeOne(t *testing.T) {
	c := query.NewCache(nil)
	q := c.Build("done", query.WithCacheTime(query.CacheTimeInfinite))
	q.SetData(func(any) any { return "v" }, 0)

	payload := Dehydrate(c, DehydrateOptions{})
	require.Len(t, payload.Queries, 1)
	assert.EqualValues(t, -1, payload.Queries[0].Config.CacheTime)
}

func TestHydrateRestoresQueryIntoEmptyCache(t *testing.T) {
	src := newCacheWithSuccess("done", "v")
	payload := Dehydrate(src, DehydrateOptions{})

	dst := query.NewCache(nil)
	Hydrate(dst, payload, HydrateOptions{})

	q, ok := dst.Get("done")
	require.True(t, ok)
	assert.Equal(t, "v", q.State().Data)
	assert.Equal(t, query.StatusSuccess, q.State().Status)
}

func TestHydrateSkipsStaleIncomingState(t *testing.T) {
	dst := query.NewCache(nil)
	q := dst.Build("done")
	q.SetData(func(any) any { return "fresh" }, 5000)

	payload := DehydratedPayload{Queries: []DehydratedQuery{{
		QueryKey:  "done",
		QueryHash: q.Hash(),
		State: DehydratedState{
			Data:      "stale",
			UpdatedAt: 1000,
			Status:    "success",
		},
	}}}
	Hydrate(dst, payload, HydrateOptions{})

	assert.Equal(t, "fresh", q.State().Data)
}

func TestHydrateOverwritesWithNewerIncomingState(t *testing.T) {
	dst := query.NewCache(nil)
	q := dst.Build("done")
	q.SetData(func(any) any { return "old" }, 1000)

	payload := DehydratedPayload{Queries: []DehydratedQuery{{
		QueryKey:  "done",
		QueryHash: q.Hash(),
		State: DehydratedState{
			Data:      "new",
			UpdatedAt: 9000,
			Status:    "success",
		},
	}}}
	Hydrate(dst, payload, HydrateOptions{})

	assert.Equal(t, "new", q.State().Data)
}

func TestHydrateSkipsUnparseableEntries(t *testing.T) {
	dst := query.NewCache(nil)
	payload := DehydratedPayload{Queries: []DehydratedQuery{{QueryHash: ""}}}
	assert.NotPanics(t, func() { Hydrate(dst, payload, HydrateOptions{}) })
	assert.Empty(t, dst.All())
}

func TestHydrateReportsSkippedEntriesViaOnSkip(t *testing.T) {
	dst := query.NewCache(nil)
	payload := DehydratedPayload{Queries: []DehydratedQuery{{QueryHash: ""}}}
	var skipped []error
	Hydrate(dst, payload, HydrateOptions{OnSkip: func(err error) { skipped = append(skipped, err) }})
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0], ErrInvalidPayload)
}

func TestJSONRoundTrip(t *testing.T) {
	c := newCacheWithSuccess("done", map[string]any{"n": float64(1)})
	payload := Dehydrate(c, DehydrateOptions{})

	data, err := EncodeJSON(payload)
	require.NoError(t, err)

	decoded, err := DecodeJSON(data)
	require.NoError(t, err)
	require.Len(t, decoded.Queries, 1)
	assert.Equal(t, "done", decoded.Queries[0].QueryKey)
}

func TestMsgpackRoundTrip(t *testing.T) {
	c := newCacheWithSuccess("done", "v")
	payload := Dehydrate(c, DehydrateOptions{})

	data, err := EncodeMsgpack(payload)
	require.NoError(t, err)

	decoded, err := DecodeMsgpack(data)
	require.NoError(t, err)
	require.Len(t, decoded.Queries, 1)
	assert.Equal(t, "v", decoded.Queries[0].State.Data)
}

func TestErrorStateRoundTripsAsMessageString(t *testing.T) {
	c := query.NewCache(nil)
	q := c.Build("failing", query.WithEnabled(false))
	q.SetState(query.State{
		Status:         query.StatusError,
		Err:            assert.AnError,
		ErrorUpdatedAt: 500,
		UpdatedAt:      500,
	})

	payload := Dehydrate(c, DehydrateOptions{ShouldDehydrate: func(*query.Query) bool { return true }})
	require.Len(t, payload.Queries, 1)
	assert.Equal(t, assert.AnError.Error(), payload.Queries[0].State.Error)

	dst := query.NewCache(nil)
	Hydrate(dst, payload, HydrateOptions{})
	restored, ok := dst.Get("failing")
	require.True(t, ok)
	assert.EqualError(t, restored.State().Err, assert.AnError.Error())
}
