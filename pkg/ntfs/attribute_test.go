package ntfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResidentAttributeEncodeParseRoundTrip(t *testing.T) {
	a := &Attribute{
		Type:  AttrData,
		Flags: 0,
		ID:    7,
		Value: []byte("hello resident world"),
	}
	buf := a.Encode()

	parsed, err := ParseAttribute(buf)
	require.NoError(t, err)
	assert.Equal(t, AttrData, parsed.Type)
	assert.False(t, parsed.NonResident)
	assert.Equal(t, uint16(7), parsed.ID)
	assert.Equal(t, a.Value, parsed.Value)
	assert.Equal(t, int(parsed.Length), len(buf))
	assert.Zero(t, len(buf)%8, "encoded attribute must be 8-byte aligned")
}

func TestNonResidentAttributeEncodeParseRoundTrip(t *testing.T) {
	cooked := []CookedRun{
		{StartVCN: 0, Length: 4, LCN: 100},
		{StartVCN: 4, Length: 6, Sparse: true},
		{StartVCN: 10, Length: 2, LCN: 108},
	}
	a := &Attribute{
		Type:            AttrData,
		NonResident:     true,
		ID:              3,
		LastVCN:         11,
		AllocatedSize:   12 * 4096,
		DataSize:        12 * 4096,
		InitializedSize: 12 * 4096,
		CookedRuns:      cooked,
	}
	buf := a.Encode()

	parsed, err := ParseAttribute(buf)
	require.NoError(t, err)
	assert.True(t, parsed.NonResident)
	assert.Equal(t, a.LastVCN, parsed.LastVCN)
	assert.Equal(t, a.DataSize, parsed.DataSize)
	require.Len(t, parsed.CookedRuns, len(cooked))
	for i := range cooked {
		assert.Equal(t, cooked[i], parsed.CookedRuns[i])
	}
}

func TestNamedAttributeRoundTrip(t *testing.T) {
	a := &Attribute{
		Type:  AttrData,
		Name:  "$I30",
		Value: []byte{1, 2, 3, 4},
	}
	buf := a.Encode()
	parsed, err := ParseAttribute(buf)
	require.NoError(t, err)
	assert.Equal(t, "$I30", parsed.Name)
}

func TestDataRunCodecRoundTrip(t *testing.T) {
	runs := []DataRun{
		{Length: 10, LCNDelta: 500},
		{Length: 5, Sparse: true},
		{Length: 20, LCNDelta: -300},
	}
	cooked, err := cookDataRuns(runs, 0)
	require.NoError(t, err)

	encoded := encodeDataRuns(cooked)
	decoded, err := decodeDataRuns(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, len(runs))

	recooked, err := cookDataRuns(decoded, 0)
	require.NoError(t, err)
	assert.Equal(t, cooked, recooked)
}

func TestCollapseCookedRunsMergesAdjacent(t *testing.T) {
	runs := []CookedRun{
		{StartVCN: 0, Length: 4, LCN: 100},
		{StartVCN: 4, Length: 4, LCN: 104},
		{StartVCN: 8, Length: 2, LCN: 200},
	}
	out := collapseCookedRuns(runs)
	require.Len(t, out, 2)
	assert.Equal(t, uint64(8), out[0].Length)
}

func TestTileCookedRunsDetectsGap(t *testing.T) {
	runs := []CookedRun{
		{StartVCN: 0, Length: 4},
		{StartVCN: 5, Length: 4},
	}
	err := tileCookedRuns(runs, 8)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
