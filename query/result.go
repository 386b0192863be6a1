package query

import (
	"reflect"
	"time"
)

// Result is the read-only view an Observer hands to its consumer —
// spec.md §4.5 "derived Result fields". It is recomputed from a
// Query's State plus that Observer's own Select/KeepPreviousData
// options, so two Observers on the same Query can carry different
// Results.
type Result struct {
	Data              any
	Err               error
	Status            Status
	IsLoading         bool
	IsFetching        bool
	IsSuccess         bool
	IsError           bool
	IsStale           bool
	IsPlaceholderData bool
	DataUpdatedAt     int64
	ErrorUpdatedAt    int64
	FetchFailureCount int
}

// deriveResult builds a Result from state, applying sel (may be nil) and
// falling back to prevResult.Data under keepPrevious when the query has
// no data of its own yet (spec.md §4.5 "keepPreviousData").
func deriveResult(state State, staleTime time.Duration, now int64, sel func(any) any, keepPrevious bool, prevResult *Result) Result {
	data := state.Data
	placeholder := false

	if data == nil && keepPrevious && prevResult != nil && prevResult.Data != nil {
		data = prevResult.Data
		placeholder = true
	}

	if sel != nil && data != nil {
		data = sel(data)
	}

	return Result{
		Data:              data,
		Err:               state.Err,
		Status:            state.Status,
		IsLoading:         state.Status == StatusLoading,
		IsFetching:        state.IsFetching,
		IsSuccess:         state.Status == StatusSuccess,
		IsError:           state.Status == StatusError,
		IsStale:           state.IsStale(staleTime, now),
		IsPlaceholderData: placeholder,
		DataUpdatedAt:     state.DataUpdatedAt,
		ErrorUpdatedAt:    state.ErrorUpdatedAt,
		FetchFailureCount: state.FetchFailureCount,
	}
}

// changedFields returns the names of Result fields that differ between a
// and b, using the same field vocabulary NotifyOnChangeProps uses. eq
// compares the Data field and, if nil, falls back to reflect.DeepEqual
// — spec.md §4.5 "optional isDataEqual for the data field".
func changedFields(a, b Result, eq func(a, b any) bool) []string {
	var changed []string
	if !dataEqual(a.Data, b.Data, eq) {
		changed = append(changed, "data")
	}
	if a.Err != b.Err {
		changed = append(changed, "error")
	}
	if a.Status != b.Status {
		changed = append(changed, "status")
	}
	if a.IsLoading != b.IsLoading {
		changed = append(changed, "isLoading")
	}
	if a.IsFetching != b.IsFetching {
		changed = append(changed, "isFetching")
	}
	if a.IsStale != b.IsStale {
		changed = append(changed, "isStale")
	}
	if a.FetchFailureCount != b.FetchFailureCount {
		changed = append(changed, "failureCount")
	}
	return changed
}

func dataEqual(a, b any, eq func(a, b any) bool) bool {
	if eq != nil {
		return eq(a, b)
	}
	return reflect.DeepEqual(a, b)
}
