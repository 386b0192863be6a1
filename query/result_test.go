package query

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveResultBasicFields(t *testing.T) {
	s := State{Data: "v", Status: StatusSuccess, DataUpdatedAt: 1000}
	r := deriveResult(s, time.Minute, 1000, nil, false, nil)
	assert.Equal(t, "v", r.Data)
	assert.True(t, r.IsSuccess)
	assert.False(t, r.IsStale)
}

func TestDeriveResultAppliesSelect(t *testing.T) {
	s := State{Data: 4, Status: StatusSuccess}
	r := deriveResult(s, 0, 0, func(v any) any { return v.(int) * 2 }, false, nil)
	assert.Equal(t, 8, r.Data)
}

func TestDeriveResultKeepPreviousDataUsesPlaceholder(t *testing.T) {
	prev := &Result{Data: "old"}
	s := State{Status: StatusLoading}
	r := deriveResult(s, 0, 0, nil, true, prev)
	assert.Equal(t, "old", r.Data)
	assert.True(t, r.IsPlaceholderData)
}

func TestChangedFieldsDetectsDataAndStatus(t *testing.T) {
	a := Result{Data: "a", Status: StatusLoading}
	b := Result{Data: "b", Status: StatusSuccess}
	changed := changedFields(a, b, nil)
	assert.Contains(t, changed, "data")
	assert.Contains(t, changed, "status")
}

func TestChangedFieldsEmptyWhenIdentical(t *testing.T) {
	a := Result{Data: "a", Err: errors.New("x")}
	assert.Empty(t, changedFields(a, a, nil))
}

func TestChangedFieldsHonorsIsDataEqual(t *testing.T) {
	a := Result{Data: []byte("a")}
	b := Result{Data: []byte("a")}
	eq := func(x, y any) bool { return string(x.([]byte)) == string(y.([]byte)) }
	assert.Empty(t, changedFields(a, b, eq))

	alwaysDifferent := func(x, y any) bool { return false }
	assert.Contains(t, changedFields(a, b, alwaysDifferent), "data")
}
