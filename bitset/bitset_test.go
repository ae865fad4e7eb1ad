package bitset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitArraySetGetClear(t *testing.T) {
	b := NewBitArray(100)
	require.False(t, b.GetBit(50))
	b.SetBit(50)
	require.True(t, b.GetBit(50))
	b.ClearBit(50)
	require.False(t, b.GetBit(50))
}

func TestBitArrayPopCountMasksPadding(t *testing.T) {
	b := NewBitArray(5)
	for i := uint64(0); i < 5; i++ {
		b.SetBit(i)
	}
	// the backing byte has 3 padding bits above index 5; they must not count.
	require.EqualValues(t, 5, b.PopCount())
}

func TestBitArrayUnionIntersect(t *testing.T) {
	a := NewBitArray(16)
	b := NewBitArray(16)
	a.SetBit(1)
	a.SetBit(2)
	b.SetBit(2)
	b.SetBit(3)

	u := Union(a, b)
	require.True(t, u.GetBit(1))
	require.True(t, u.GetBit(2))
	require.True(t, u.GetBit(3))
	require.EqualValues(t, 3, u.PopCount())

	i := Intersect(a, b)
	require.False(t, i.GetBit(1))
	require.True(t, i.GetBit(2))
	require.False(t, i.GetBit(3))
	require.EqualValues(t, 1, i.PopCount())
}

func TestCounters32AddSub(t *testing.T) {
	c := NewCounters32(4)
	require.EqualValues(t, 5, c.Add(0, 5))
	require.EqualValues(t, 8, c.Add(0, 3))
	require.EqualValues(t, 6, c.Sub(0, 2))
	require.EqualValues(t, 0, c.Sub(0, 100))
}

func TestCounters32Saturation(t *testing.T) {
	c := NewCounters32(1)
	c.set(0, ^uint32(0)-1)
	require.EqualValues(t, ^uint32(0), c.Add(0, 10))
	// saturating add at max is idempotent.
	require.EqualValues(t, ^uint32(0), c.Add(0, 10))
}

func TestCounters32NonZeroCount(t *testing.T) {
	c := NewCounters32(5)
	c.Add(0, 1)
	c.Add(2, 1)
	require.EqualValues(t, 2, c.NonZeroCount())
}
