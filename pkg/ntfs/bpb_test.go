package ntfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBPB(bytesPerSector uint16, sectorsPerCluster uint8, mftRecordSize, indexRecordSize int8) []byte {
	buf := make([]byte, 512)
	copy(buf[3:], []byte("NTFS    "))
	binary.LittleEndian.PutUint16(buf[0x0B:], bytesPerSector)
	buf[0x0D] = sectorsPerCluster
	binary.LittleEndian.PutUint64(buf[0x28:], 61440)
	binary.LittleEndian.PutUint64(buf[0x30:], 4)
	binary.LittleEndian.PutUint64(buf[0x38:], 5)
	buf[0x40] = byte(mftRecordSize)
	buf[0x44] = byte(indexRecordSize)
	binary.LittleEndian.PutUint64(buf[0x48:], 0xDEADBEEF)
	return buf
}

func TestParseBPBPositiveClusterCounts(t *testing.T) {
	buf := fakeBPB(512, 8, 0xF6 /* -10 */, 1)
	bpb, err := ParseBPB(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(512*8), bpb.BytesPerCluster())
	assert.Equal(t, uint32(1024), bpb.MFTRecordSize())
	assert.Equal(t, uint32(512*8), bpb.IndexRecordSize())
}

func TestParseBPBRejectsBadMagic(t *testing.T) {
	buf := fakeBPB(512, 8, 0xF6, 1)
	buf[3] = 'X'
	_, err := ParseBPB(buf)
	assert.Error(t, err)
}

func TestBPBMarshalRoundTrip(t *testing.T) {
	buf := fakeBPB(4096, 1, 0xF7, 0xF6)
	bpb, err := ParseBPB(buf)
	require.NoError(t, err)
	out := bpb.Marshal()
	bpb2, err := ParseBPB(out)
	require.NoError(t, err)
	assert.Equal(t, bpb.BytesPerCluster(), bpb2.BytesPerCluster())
	assert.Equal(t, bpb.MFTCluster, bpb2.MFTCluster)
	assert.Equal(t, bpb.VolumeSerialNumber, bpb2.VolumeSerialNumber)
}
