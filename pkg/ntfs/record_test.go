package ntfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMarshalRoundTrip(t *testing.T) {
	raw := newBlankRecord(1024, 512, 5)
	rec, err := ParseRecord(raw, 512)
	require.NoError(t, err)
	assert.False(t, rec.Header.InUse())
	assert.Equal(t, uint32(5), rec.Header.OwnIndex)

	rec.Header.Flags = RecordFlagInUse
	rec.Header.SequenceNumber = 3
	rec.Header.HardLinkCount = 1

	marshaled := rec.Marshal(512)

	rec2, err := ParseRecord(marshaled, 512)
	require.NoError(t, err)
	assert.True(t, rec2.Header.InUse())
	assert.Equal(t, uint16(3), rec2.Header.SequenceNumber)
	assert.Equal(t, uint16(1), rec2.Header.HardLinkCount)
	assert.Equal(t, uint32(5), rec2.Header.OwnIndex)
}

func TestRecordRejectsBadMagic(t *testing.T) {
	raw := newBlankRecord(1024, 512, 0)
	raw[0] = 'X'
	_, err := ParseRecord(raw, 512)
	assert.Error(t, err)
}

func TestRecordDetectsTornFixup(t *testing.T) {
	raw := newBlankRecord(1024, 512, 0)
	// corrupt the sector trailer the fix-up array is protecting.
	raw[510] ^= 0xFF
	_, err := ParseRecord(raw, 512)
	assert.ErrorIs(t, err, ErrCorruptMetadata)
}

func TestFileReferencePacksIndexAndSequence(t *testing.T) {
	r := NewFileReference(123456, 42)
	assert.Equal(t, uint64(123456), r.Index())
	assert.Equal(t, uint16(42), r.Sequence())
	assert.False(t, r.IsZero())
	assert.True(t, FileReference(0).IsZero())
}
