// Package hydrate implements spec.md §4.9: snapshotting a query.Cache
// into a plain, serializer-safe tree, and merging such a tree back into
// a Cache with freshness-based conflict resolution.
package hydrate

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/asyncquery/querycache/query"
)

// ErrInvalidPayload classifies a dehydrated entry Hydrate had to skip
// because it carried no query hash to key a restored Query by.
var ErrInvalidPayload = errors.New("hydrate: dehydrated entry missing queryHash")

// cacheTimeInfinity is the wire encoding for query.CacheTimeInfinite —
// a serializer that only understands JSON numbers cannot represent
// Go's max-duration sentinel, so it round-trips through -1 instead.
const cacheTimeInfinity = -1

// DehydratedQuery is one Query's serializable snapshot.
type DehydratedQuery struct {
	QueryKey  any               `json:"queryKey" msgpack:"queryKey"`
	QueryHash string            `json:"queryHash" msgpack:"queryHash"`
	State     DehydratedState   `json:"state" msgpack:"state"`
	Config    DehydratedConfig  `json:"config" msgpack:"config"`
}

// DehydratedState is query.State reshaped for serialization: Err is
// flattened to its message string, since error values do not survive a
// JSON/msgpack round trip.
type DehydratedState struct {
	Data              any    `json:"data,omitempty" msgpack:"data,omitempty"`
	DataUpdatedAt     int64  `json:"dataUpdatedAt" msgpack:"dataUpdatedAt"`
	Error             string `json:"error,omitempty" msgpack:"error,omitempty"`
	ErrorUpdatedAt    int64  `json:"errorUpdatedAt" msgpack:"errorUpdatedAt"`
	UpdatedAt         int64  `json:"updatedAt" msgpack:"updatedAt"`
	FetchFailureCount int    `json:"fetchFailureCount" msgpack:"fetchFailureCount"`
	IsInvalidated     bool   `json:"isInvalidated" msgpack:"isInvalidated"`
	Status            string `json:"status" msgpack:"status"`
}

// DehydratedConfig carries the per-query settings a restored Query needs
// that aren't part of its State.
type DehydratedConfig struct {
	CacheTime int64 `json:"cacheTime" msgpack:"cacheTime"`
}

// DehydratedPayload is the top-level payload — spec.md §6 "Dehydrated
// payload".
type DehydratedPayload struct {
	Queries []DehydratedQuery `json:"queries" msgpack:"queries"`
}

// ShouldDehydrateFunc decides whether a Query is included in a snapshot.
// The default only dehydrates successfully settled queries.
type ShouldDehydrateFunc func(q *query.Query) bool

// DefaultShouldDehydrate includes a Query iff its last known status is
// success — spec.md §4.9 "default: state.status === 'success'".
func DefaultShouldDehydrate(q *query.Query) bool {
	return q.State().Status == query.StatusSuccess
}

// DehydrateOptions configures Dehydrate.
type DehydrateOptions struct {
	ShouldDehydrate ShouldDehydrateFunc
}

// Dehydrate snapshots every Query in cache for which opts'
// ShouldDehydrate (default DefaultShouldDehydrate) returns true.
func Dehydrate(cache *query.Cache, opts DehydrateOptions) DehydratedPayload {
	should := opts.ShouldDehydrate
	if should == nil {
		should = DefaultShouldDehydrate
	}

	var out DehydratedPayload
	for _, q := range cache.All() {
		if !should(q) {
			continue
		}
		out.Queries = append(out.Queries, toDehydratedQuery(q))
	}
	return out
}

func toDehydratedQuery(q *query.Query) DehydratedQuery {
	s := q.State()
	errMsg := ""
	if s.Err != nil {
		errMsg = s.Err.Error()
	}
	ct := q.Options().CacheTime
	wireCacheTime := ct.Milliseconds()
	if ct == query.CacheTimeInfinite {
		wireCacheTime = cacheTimeInfinity
	}
	return DehydratedQuery{
		QueryKey:  q.Key(),
		QueryHash: q.Hash(),
		State: DehydratedState{
			Data:              s.Data,
			DataUpdatedAt:     s.DataUpdatedAt,
			Error:             errMsg,
			ErrorUpdatedAt:    s.ErrorUpdatedAt,
			UpdatedAt:         s.UpdatedAt,
			FetchFailureCount: s.FetchFailureCount,
			IsInvalidated:     s.IsInvalidated,
			Status:            s.Status.String(),
		},
		Config: DehydratedConfig{CacheTime: wireCacheTime},
	}
}

// HydrateOptions configures Hydrate.
type HydrateOptions struct {
	// DefaultOptions seeds any newly restored Query (one with no
	// existing counterpart in cache).
	DefaultOptions []query.Option

	// OnSkip, if set, is called with ErrInvalidPayload for every
	// dehydrated entry Hydrate could not restore.
	OnSkip func(error)
}

// Hydrate merges payload into cache: for each dehydrated query, if a
// Query with the same hash already exists, its state is overwritten iff
// the incoming state is newer (spec.md §4.9 "iff dehydrated.state.
// updatedAt > existing.state.updatedAt"); otherwise a new Query is
// built with the decoded cacheTime plus opts.DefaultOptions. Restored
// queries' retention timers start now, not at their original creation
// time (spec.md §4.9).
//
// Payloads that do not parse into a well-formed DehydratedQuery entry
// are skipped rather than aborting the whole merge (spec.md §7
// "Hydration skip: ... silently skipped").
func Hydrate(cache *query.Cache, payload DehydratedPayload, opts HydrateOptions) {
	for _, dq := range payload.Queries {
		if dq.QueryHash == "" {
			if opts.OnSkip != nil {
				opts.OnSkip(ErrInvalidPayload)
			}
			continue
		}
		state := fromDehydratedState(dq.State)

		if existing, ok := cache.GetByHash(dq.QueryHash); ok {
			existing.SetState(state)
			continue
		}

		cacheTime := time.Duration(dq.Config.CacheTime) * time.Millisecond
		if dq.Config.CacheTime == cacheTimeInfinity {
			cacheTime = query.CacheTimeInfinite
		}

		overrides := append([]query.Option{}, opts.DefaultOptions...)
		overrides = append(overrides, query.WithCacheTime(cacheTime))
		q := cache.Build(dq.QueryKey, overrides...)
		q.SetState(state)
	}
}

func fromDehydratedState(ds DehydratedState) query.State {
	status := query.StatusIdle
	switch ds.Status {
	case "loading":
		status = query.StatusLoading
	case "success":
		status = query.StatusSuccess
	case "error":
		status = query.StatusError
	}
	var err error
	if ds.Error != "" {
		err = errors.New(ds.Error)
	}
	return query.State{
		Data:              ds.Data,
		DataUpdatedAt:     ds.DataUpdatedAt,
		Err:               err,
		ErrorUpdatedAt:    ds.ErrorUpdatedAt,
		UpdatedAt:         ds.UpdatedAt,
		FetchFailureCount: ds.FetchFailureCount,
		IsInvalidated:     ds.IsInvalidated,
		Status:            status,
	}
}

// EncodeJSON serializes payload with encoding/json, the default wire
// format (spec.md §6: "must round-trip through a serializer that
// accepts only strings, numbers, booleans, nulls, arrays, objects").
func EncodeJSON(payload DehydratedPayload) ([]byte, error) {
	return json.Marshal(payload)
}

// DecodeJSON parses a JSON-encoded DehydratedPayload.
func DecodeJSON(data []byte) (DehydratedPayload, error) {
	var p DehydratedPayload
	err := json.Unmarshal(data, &p)
	return p, err
}

// EncodeMsgpack serializes payload with github.com/vmihailenco/msgpack,
// a more compact alternative wire format grounded in the teacher's
// cache/redis.go and cache/sqlite.go, which already msgpack-encode
// cached values for their storage tiers.
func EncodeMsgpack(payload DehydratedPayload) ([]byte, error) {
	return msgpack.Marshal(payload)
}

// DecodeMsgpack parses a msgpack-encoded DehydratedPayload.
func DecodeMsgpack(data []byte) (DehydratedPayload, error) {
	var p DehydratedPayload
	err := msgpack.Unmarshal(data, &p)
	return p, err
}
