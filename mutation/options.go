package mutation

import (
	"time"

	"github.com/asyncquery/querycache/logger"
	"github.com/asyncquery/querycache/retry"
	"github.com/asyncquery/querycache/revalidate"
)

// Option mutates an Options in place, the same functional-option shape
// as query.Option.
type Option func(*Options)

// Apply clones base and applies opts to the clone, in order.
func Apply(base Options, opts ...Option) Options {
	o := base
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func WithMutationFn(fn MutateFunc) Option {
	return func(o *Options) { o.MutationFn = fn }
}

func WithRetry(p retry.Policy) Option {
	return func(o *Options) { o.Retry = p }
}

func WithRetryDelay(f retry.DelayFunc) Option {
	return func(o *Options) { o.RetryDelay = f }
}

func WithCacheTime(d time.Duration) Option {
	return func(o *Options) { o.CacheTime = d }
}

func WithBus(b *revalidate.Bus) Option {
	return func(o *Options) { o.Bus = b }
}

func WithLogger(l logger.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithHooks(h Hooks) Option {
	return func(o *Options) { o.Hooks = h }
}
