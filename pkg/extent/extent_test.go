package extent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsZeroLength(t *testing.T) {
	_, err := New(0, 0)
	require.Error(t, err)

	_, err = New(-1, 4)
	require.Error(t, err)

	e, err := New(10, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(30), e.End())
}

func TestUnionMergesAdjacentAndOverlapping(t *testing.T) {
	a := []StreamExtent{{Offset: 0, Length: 10}, {Offset: 20, Length: 10}}
	b := []StreamExtent{{Offset: 5, Length: 10}, {Offset: 30, Length: 5}}

	got := Union(a, b)
	want := []StreamExtent{{Offset: 0, Length: 15}, {Offset: 20, Length: 15}}
	assert.Equal(t, want, got)
}

func TestUnionWithEmptyIsIdentity(t *testing.T) {
	a := []StreamExtent{{Offset: 0, Length: 10}, {Offset: 40, Length: 4}}
	got := Union(a, nil)
	assert.Equal(t, normalize(a), got)
}

func TestIntersectSelf(t *testing.T) {
	a := []StreamExtent{{Offset: 0, Length: 10}, {Offset: 20, Length: 10}}
	assert.Equal(t, normalize(a), Intersect(a, a))
}

func TestIntersectCommutative(t *testing.T) {
	a := []StreamExtent{{Offset: 0, Length: 10}, {Offset: 25, Length: 5}}
	b := []StreamExtent{{Offset: 5, Length: 30}}
	assert.Equal(t, Intersect(a, b), Intersect(b, a))
}

func TestIntersectPartialOverlap(t *testing.T) {
	a := []StreamExtent{{Offset: 0, Length: 10}}
	b := []StreamExtent{{Offset: 5, Length: 10}}
	got := Intersect(a, b)
	assert.Equal(t, []StreamExtent{{Offset: 5, Length: 5}}, got)
}

func TestSubtractSelfIsEmpty(t *testing.T) {
	a := []StreamExtent{{Offset: 0, Length: 10}, {Offset: 20, Length: 5}}
	assert.Empty(t, Subtract(a, a))
}

func TestSubtractRoundTrip(t *testing.T) {
	a := []StreamExtent{{Offset: 0, Length: 100}}
	b := []StreamExtent{{Offset: 10, Length: 20}}

	diff := Subtract(a, b)
	union := Union(diff, b)

	// subtract(union(A,B), B) should be a subset of A
	remainder := Subtract(union, b)
	for _, e := range remainder {
		found := false
		for _, orig := range normalize(a) {
			if e.Offset >= orig.Offset && e.End() <= orig.End() {
				found = true
				break
			}
		}
		assert.True(t, found, "extent %+v should be contained in A", e)
	}
}

func TestSubtractMiddleHole(t *testing.T) {
	a := []StreamExtent{{Offset: 0, Length: 100}}
	b := []StreamExtent{{Offset: 40, Length: 10}}
	got := Subtract(a, b)
	assert.Equal(t, []StreamExtent{{Offset: 0, Length: 40}, {Offset: 50, Length: 50}}, got)
}

func TestEnumerateBlocksMergesAdjacentExtentsInSameBlock(t *testing.T) {
	list := []StreamExtent{{Offset: 10, Length: 10}, {Offset: 30, Length: 4}}
	blocks, err := EnumerateBlocks(list, 4096)
	require.NoError(t, err)
	assert.Equal(t, []Block{{Index: 0, Count: 1}}, blocks)
}

func TestEnumerateBlocksSpansMultipleBlocks(t *testing.T) {
	list := []StreamExtent{{Offset: 0, Length: 4096*3 + 1}}
	blocks, err := EnumerateBlocks(list, 4096)
	require.NoError(t, err)
	assert.Equal(t, []Block{{Index: 0, Count: 4}}, blocks)
}

func TestEnumerateBlocksRejectsBadBlockSize(t *testing.T) {
	_, err := EnumerateBlocks(nil, 0)
	require.Error(t, err)
}
