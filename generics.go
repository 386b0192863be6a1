package querycache

import (
	"context"
	"fmt"

	"github.com/asyncquery/querycache/mutation"
	"github.com/asyncquery/querycache/query"
)

// FetchQueryData is the generic, type-safe counterpart to
// Client.FetchQueryData: it type-asserts the fetched value to T,
// grounded in the teacher's cache.GetContext[T]/cache.Exec[T] pattern
// of layering a generic wrapper over an any-typed core operation.
func FetchQueryData[T any](ctx context.Context, c *Client, key any, fn func(ctx query.CancelContext) (T, error), opts ...query.Option) (T, error) {
	wrapped := func(ctx query.CancelContext) (any, error) {
		return fn(ctx)
	}
	v, err := c.FetchQueryData(ctx, key, wrapped, opts...)
	return castOrZero[T](v, err)
}

// GetQueryData is the generic, type-safe counterpart to
// Client.GetQueryData.
func GetQueryData[T any](c *Client, key any) (T, bool) {
	v, ok := c.GetQueryData(key)
	if !ok {
		var zero T
		return zero, false
	}
	typed, tOk := v.(T)
	return typed, tOk
}

// SetQueryData is the generic, type-safe counterpart to
// Client.SetQueryData.
func SetQueryData[T any](c *Client, key any, updater func(prev T) T) T {
	result := c.SetQueryData(key, func(prev any) any {
		var typedPrev T
		if prev != nil {
			typedPrev, _ = prev.(T)
		}
		return updater(typedPrev)
	})
	typed, _ := result.(T)
	return typed
}

// Mutate is the generic, type-safe counterpart to Client.Mutate.
func Mutate[V any, T any](ctx context.Context, c *Client, variables V, fn func(ctx context.Context, variables V) (T, error), opts ...mutation.Option) (T, error) {
	wrapped := func(ctx context.Context, variables any) (any, error) {
		typed, _ := variables.(V)
		return fn(ctx, typed)
	}
	v, err := c.Mutate(ctx, variables, wrapped, opts...)
	return castOrZero[T](v, err)
}

func castOrZero[T any](v any, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	if v == nil {
		var zero T
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("querycache: cannot convert value of type %T to %T", v, typed)
	}
	return typed, nil
}
