package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_PushBeforeFull(t *testing.T) {
	r := New[int](4)
	r.Push(1)
	r.Push(2)
	require.Equal(t, 2, r.Len())
	assert.Equal(t, []int{1, 2}, r.ToSlice())
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last)
}

func TestRing_WrapAround(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	// capacity 3, pushed 1..5 -> oldest-first view is [3,4,5]
	assert.Equal(t, []int{3, 4, 5}, r.ToSlice())
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last)
}

func TestRing_EmptyLast(t *testing.T) {
	r := New[string](2)
	_, ok := r.Last()
	assert.False(t, ok)
	assert.Empty(t, r.ToSlice())
}

func TestRing_ZeroCapacityClampsToOne(t *testing.T) {
	r := New[int](0)
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{2}, r.ToSlice())
}
