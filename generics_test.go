package querycache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncquery/querycache/query"
)

type todo struct {
	ID   int
	Name string
}

func TestFetchQueryDataGenericReturnsTypedValue(t *testing.T) {
	c := newTestClient()
	v, err := FetchQueryData(context.Background(), c, "todos", func(ctx query.CancelContext) (todo, error) {
		return todo{ID: 1, Name: "a"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, todo{ID: 1, Name: "a"}, v)
}

func TestFetchQueryDataGenericPropagatesError(t *testing.T) {
	c := newTestClient()
	_, err := FetchQueryData(context.Background(), c, "todos", func(ctx query.CancelContext) (todo, error) {
		return todo{}, errors.New("boom")
	})
	assert.Error(t, err)
}

func TestGetQueryDataGenericRoundTrips(t *testing.T) {
	c := newTestClient()
	_, err := FetchQueryData(context.Background(), c, "todos", func(ctx query.CancelContext) (todo, error) {
		return todo{ID: 2, Name: "b"}, nil
	})
	require.NoError(t, err)

	v, ok := GetQueryData[todo](c, "todos")
	require.True(t, ok)
	assert.Equal(t, todo{ID: 2, Name: "b"}, v)
}

func TestGetQueryDataGenericMissingKeyReturnsFalse(t *testing.T) {
	c := newTestClient()
	_, ok := GetQueryData[todo](c, "missing")
	assert.False(t, ok)
}

func TestSetQueryDataGenericAppliesUpdater(t *testing.T) {
	c := newTestClient()
	result := SetQueryData(c, "counter", func(prev int) int { return prev + 1 })
	assert.Equal(t, 1, result)

	result = SetQueryData(c, "counter", func(prev int) int { return prev + 1 })
	assert.Equal(t, 2, result)
}

func TestMutateGenericReturnsTypedValue(t *testing.T) {
	c := newTestClient()
	v, err := Mutate(context.Background(), c, todo{ID: 3, Name: "c"}, func(ctx context.Context, variables todo) (string, error) {
		return variables.Name, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "c", v)
}

func TestCastOrZeroReturnsZeroOnError(t *testing.T) {
	v, err := castOrZero[int](5, errors.New("boom"))
	assert.Error(t, err)
	assert.Zero(t, v)
}

func TestCastOrZeroReturnsZeroOnNil(t *testing.T) {
	v, err := castOrZero[string](nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestCastOrZeroErrorsOnTypeMismatch(t *testing.T) {
	_, err := castOrZero[int]("not an int", nil)
	assert.Error(t, err)
}
