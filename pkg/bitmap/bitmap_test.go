package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorfs/corefs/pkg/vio"
)

func TestMarkPresentAndIsPresent(t *testing.T) {
	bm := New(vio.NewMemoryStream())

	present, err := bm.IsPresent(5)
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, bm.MarkPresent(5))
	present, err = bm.IsPresent(5)
	require.NoError(t, err)
	assert.True(t, present)

	// neighboring bits unaffected
	present, err = bm.IsPresent(4)
	require.NoError(t, err)
	assert.False(t, present)
	present, err = bm.IsPresent(6)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestMarkAbsentClearsBit(t *testing.T) {
	bm := New(vio.NewMemoryStream())
	require.NoError(t, bm.MarkPresent(10))
	require.NoError(t, bm.MarkAbsent(10))

	present, err := bm.IsPresent(10)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestMarkAbsentBeyondStreamIsNoop(t *testing.T) {
	bm := New(vio.NewMemoryStream())
	require.NoError(t, bm.MarkAbsent(1000))
}

func TestMarkRangeSetsConsecutiveBits(t *testing.T) {
	bm := New(vio.NewMemoryStream())
	require.NoError(t, bm.MarkRange(3, 5))

	for i := int64(3); i < 8; i++ {
		present, err := bm.IsPresent(i)
		require.NoError(t, err)
		assert.Truef(t, present, "bit %d should be set", i)
	}
	present, err := bm.IsPresent(2)
	require.NoError(t, err)
	assert.False(t, present)
	present, err = bm.IsPresent(8)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestStreamGrowsIn8ByteIncrements(t *testing.T) {
	base := vio.NewMemoryStream()
	bm := New(base)

	require.NoError(t, bm.MarkPresent(0))
	assert.Equal(t, int64(growthIncrement), base.Len())

	require.NoError(t, bm.MarkPresent(100))
	assert.Equal(t, int64(0), base.Len()%growthIncrement)
	assert.GreaterOrEqual(t, base.Len()*8, int64(101))
}

func TestAllocateFirstAvailableScansFromHint(t *testing.T) {
	bm := New(vio.NewMemoryStream())
	require.NoError(t, bm.MarkRange(0, 24))

	idx, err := bm.AllocateFirstAvailable(0)
	require.NoError(t, err)
	assert.Equal(t, int64(24), idx)

	present, err := bm.IsPresent(24)
	require.NoError(t, err)
	assert.True(t, present)
}

func TestAllocateFirstAvailableWrapsAtCapacity(t *testing.T) {
	base := vio.NewMemoryStream()
	require.NoError(t, base.SetLen(1)) // 8 bits of capacity
	bm := New(base)

	// fill bits 4..7, leave 0..3 free
	require.NoError(t, bm.MarkRange(4, 4))

	idx, err := bm.AllocateFirstAvailable(6)
	require.NoError(t, err)
	assert.Equal(t, int64(0), idx)
}

func TestAllocateFirstAvailableGrowsWhenFull(t *testing.T) {
	base := vio.NewMemoryStream()
	require.NoError(t, base.SetLen(1))
	bm := New(base)
	require.NoError(t, bm.MarkRange(0, 8))

	idx, err := bm.AllocateFirstAvailable(0)
	require.NoError(t, err)
	assert.Equal(t, int64(8), idx)

	present, err := bm.IsPresent(8)
	require.NoError(t, err)
	assert.True(t, present)
}

func TestDeallocationNeverShrinksStream(t *testing.T) {
	base := vio.NewMemoryStream()
	bm := New(base)
	require.NoError(t, bm.MarkPresent(50))
	lenBefore := base.Len()

	require.NoError(t, bm.MarkAbsent(50))
	assert.Equal(t, lenBefore, base.Len())
}
