package query

import (
	"time"

	"github.com/asyncquery/querycache/logger"
	"github.com/asyncquery/querycache/retry"
	"github.com/asyncquery/querycache/revalidate"
)

// Trigger is the tri-state shape spec.md uses for refetchOnMount /
// refetchOnWindowFocus / refetchOnReconnect: disabled, "only if stale"
// (the default, spelled `true` in the source system), or "always".
type Trigger int

const (
	// TriggerIfStale refetches only when the Query is currently stale.
	TriggerIfStale Trigger = iota
	// TriggerAlways refetches unconditionally.
	TriggerAlways
	// TriggerDisabled never refetches for this event.
	TriggerDisabled
)

// Options configures a single Query. The zero value is not meaningful on
// its own — build one with DefaultOptions() and Apply.
type Options struct {
	QueryKey  any
	QueryHash string
	QueryFn   func(ctx CancelContext) (any, error)

	// Enabled gates automatic fetching entirely. nil means true.
	Enabled *bool

	StaleTime time.Duration
	CacheTime time.Duration

	Retry      retry.Policy
	RetryDelay retry.DelayFunc

	RefetchOnMount        Trigger
	RefetchOnWindowFocus  Trigger
	RefetchOnReconnect    Trigger
	RefetchInterval       time.Duration
	RefetchIntervalInBackground bool

	KeepPreviousData bool

	InitialData          any
	InitialDataUpdatedAt int64

	Select      func(data any) any
	IsDataEqual func(a, b any) bool

	// NotifyOnChangeProps restricts notification to observers whose
	// derived Result changed in one of these fields. nil means "notify on
	// any change"; the sentinel []string{"tracked"} means auto-track which
	// fields the consumer actually read (see Observer.MarkRead).
	NotifyOnChangeProps []string

	ThrowOnError bool

	Bus            *revalidate.Bus
	Logger         logger.Logger
	CircuitBreaker *retry.CircuitBreaker
}

// FetchFn is the function shape QueryFn expects, named for use at
// facade call sites (e.g. Client.FetchQueryData) where spelling out the
// inline function type on every call would be noisy.
type FetchFn = func(ctx CancelContext) (any, error)

// CancelContext is the minimal context surface QueryFn needs — the same
// shape context.Context satisfies, kept narrow so this package does not
// force every caller to import "context" just to write a QueryFn.
type CancelContext interface {
	Done() <-chan struct{}
	Err() error
	Value(key any) any
}

// DefaultOptions returns the spec.md §6 defaults.
func DefaultOptions() Options {
	return Options{
		StaleTime:                   0,
		CacheTime:                   5 * time.Minute,
		Retry:                       retry.MaxAttempts(3),
		RetryDelay:                  retry.DefaultDelay,
		RefetchOnMount:              TriggerIfStale,
		RefetchOnWindowFocus:        TriggerIfStale,
		RefetchOnReconnect:          TriggerIfStale,
		RefetchIntervalInBackground: false,
		Logger:                      logger.Noop(),
	}
}

// Option mutates an Options in place, the same functional-option shape
// as the teacher's cache.Option (github.com/agentuity/go-common/cache).
type Option func(*Options)

// Apply clones base and applies opts to the clone, in order — later
// options win, matching cache.applyOptions layering.
func Apply(base Options, opts ...Option) Options {
	o := base
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func WithQueryFn(fn func(ctx CancelContext) (any, error)) Option {
	return func(o *Options) { o.QueryFn = fn }
}

func WithEnabled(enabled bool) Option {
	return func(o *Options) { o.Enabled = &enabled }
}

func WithStaleTime(d time.Duration) Option {
	return func(o *Options) { o.StaleTime = d }
}

func WithCacheTime(d time.Duration) Option {
	return func(o *Options) { o.CacheTime = d }
}

func WithRetry(p retry.Policy) Option {
	return func(o *Options) { o.Retry = p }
}

func WithRetryDelay(f retry.DelayFunc) Option {
	return func(o *Options) { o.RetryDelay = f }
}

func WithRefetchOnMount(t Trigger) Option {
	return func(o *Options) { o.RefetchOnMount = t }
}

func WithRefetchOnWindowFocus(t Trigger) Option {
	return func(o *Options) { o.RefetchOnWindowFocus = t }
}

func WithRefetchOnReconnect(t Trigger) Option {
	return func(o *Options) { o.RefetchOnReconnect = t }
}

func WithRefetchInterval(d time.Duration, inBackground bool) Option {
	return func(o *Options) {
		o.RefetchInterval = d
		o.RefetchIntervalInBackground = inBackground
	}
}

func WithKeepPreviousData(keep bool) Option {
	return func(o *Options) { o.KeepPreviousData = keep }
}

func WithInitialData(data any, updatedAt int64) Option {
	return func(o *Options) {
		o.InitialData = data
		o.InitialDataUpdatedAt = updatedAt
	}
}

func WithSelect(fn func(any) any) Option {
	return func(o *Options) { o.Select = fn }
}

func WithIsDataEqual(fn func(a, b any) bool) Option {
	return func(o *Options) { o.IsDataEqual = fn }
}

func WithNotifyOnChangeProps(props ...string) Option {
	return func(o *Options) { o.NotifyOnChangeProps = props }
}

// TrackedProps is the NotifyOnChangeProps sentinel enabling auto-tracking.
var TrackedProps = []string{"tracked"}

func WithThrowOnError(throw bool) Option {
	return func(o *Options) { o.ThrowOnError = throw }
}

func WithBus(b *revalidate.Bus) Option {
	return func(o *Options) { o.Bus = b }
}

func WithLogger(l logger.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithCircuitBreaker(cb *retry.CircuitBreaker) Option {
	return func(o *Options) { o.CircuitBreaker = cb }
}

func (o Options) isEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

func isTracked(props []string) bool {
	return len(props) == 1 && props[0] == "tracked"
}
