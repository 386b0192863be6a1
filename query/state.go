package query

import "time"

// Status is one of the four query lifecycle states from spec.md §3.
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

// nowMillis is the clock every timestamp in this package derives from.
// It is a var, not a call to time.Now directly, so tests can freeze it.
var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}

// State is the observable state of a Query — spec.md §3 "Query State".
// It is a value type: every mutation to a Query replaces its State
// wholesale under the Query's lock, never edits fields of a shared
// pointer, so a State handed to an Observer is a frozen snapshot.
type State struct {
	Data              any
	DataUpdatedAt     int64
	Err               error
	ErrorUpdatedAt    int64
	UpdatedAt         int64
	FetchFailureCount int
	IsFetching        bool
	IsInvalidated     bool
	Status            Status
}

// initialState builds the State for a freshly built Query, seeded from
// InitialData if the caller supplied one.
func initialState(initialData any, initialDataUpdatedAt int64) State {
	if initialData == nil {
		return State{Status: StatusIdle}
	}
	ts := initialDataUpdatedAt
	if ts == 0 {
		ts = nowMillis()
	}
	return State{
		Data:          initialData,
		DataUpdatedAt: ts,
		UpdatedAt:     ts,
		Status:        StatusSuccess,
	}
}

// IsStale reports whether s is stale under staleTime, evaluated at now
// (unix millis). spec.md §4.3: "stale iff isInvalidated || now -
// dataUpdatedAt >= staleTime (default 0 -> always stale)".
func (s State) IsStale(staleTime time.Duration, now int64) bool {
	if s.IsInvalidated {
		return true
	}
	return now-s.DataUpdatedAt >= staleTime.Milliseconds()
}

// withFetchBegin returns the state transition for "fetch begins":
// loading if there is no data yet, otherwise the current status is kept
// but isFetching flips on.
func (s State) withFetchBegin() State {
	next := s
	next.IsFetching = true
	if next.Data == nil {
		next.Status = StatusLoading
	}
	return next
}

func (s State) withSuccess(data any, updatedAt int64) State {
	return State{
		Data:              data,
		DataUpdatedAt:     updatedAt,
		Err:               nil,
		ErrorUpdatedAt:    s.ErrorUpdatedAt,
		UpdatedAt:         maxInt64(s.UpdatedAt, updatedAt),
		FetchFailureCount: 0,
		IsFetching:        false,
		IsInvalidated:     false,
		Status:            StatusSuccess,
	}
}

func (s State) withFetchAttemptFailure(err error, failureCount int) State {
	next := s
	next.FetchFailureCount = failureCount
	next.IsFetching = true
	_ = err
	return next
}

// withTerminalFailure is the transition for the attempt that exhausts
// the retry policy. FetchFailureCount is carried over as-is: the
// terminal attempt already ran through withFetchAttemptFailure (the
// retryer's OnError hook fires for every failed attempt, including the
// last one), so it already holds that attempt's failure count.
func (s State) withTerminalFailure(err error, updatedAt int64) State {
	return State{
		Data:              s.Data,
		DataUpdatedAt:     s.DataUpdatedAt,
		Err:               err,
		ErrorUpdatedAt:    updatedAt,
		UpdatedAt:         maxInt64(s.UpdatedAt, updatedAt),
		FetchFailureCount: s.FetchFailureCount,
		IsFetching:        false,
		IsInvalidated:     false,
		Status:            StatusError,
	}
}

func (s State) withFetchEnded() State {
	next := s
	next.IsFetching = false
	if next.Data != nil {
		next.Status = StatusSuccess
	} else if next.Err != nil {
		next.Status = StatusError
	} else {
		next.Status = StatusIdle
	}
	return next
}

func (s State) withSetData(data any, updatedAt int64) State {
	return State{
		Data:              data,
		DataUpdatedAt:     updatedAt,
		Err:               nil,
		ErrorUpdatedAt:    s.ErrorUpdatedAt,
		UpdatedAt:         maxInt64(s.UpdatedAt, updatedAt),
		FetchFailureCount: 0,
		IsFetching:        s.IsFetching,
		IsInvalidated:     false,
		Status:            StatusSuccess,
	}
}

func (s State) withInvalidated() State {
	next := s
	next.IsInvalidated = true
	return next
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
