package ntfs

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// BIOSParameterBlock is the decoded first sector of an NTFS volume (spec
// §6 "BIOS parameter block"). Only the fields the core actually consumes
// are retained; the rest of the boot sector (boot code, signature) is not
// modeled.
type BIOSParameterBlock struct {
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	MediaDescriptor     uint8
	SectorsPerTrack     uint16
	Heads               uint16
	HiddenSectors       uint32
	TotalSectors        uint64
	MFTCluster          uint64
	MFTMirrorCluster    uint64
	RawRecordSize       int8
	RawIndexRecordSize  int8
	VolumeSerialNumber  uint64
	Checksum            uint32
}

const bpbSize = 0x60

// ntfsMagic is the literal at offset 0x03 of the boot sector.
var ntfsMagic = []byte("NTFS    ")

// ParseBPB decodes a BIOSParameterBlock from the first sector of a volume.
func ParseBPB(sector []byte) (*BIOSParameterBlock, error) {
	if len(sector) < bpbSize {
		return nil, errors.Wrap(ErrInvalidFormat, "ntfs: boot sector too short")
	}
	if string(sector[0x03:0x0B]) != string(ntfsMagic) {
		return nil, errors.Wrap(ErrInvalidFormat, "ntfs: bad boot sector magic")
	}

	b := &BIOSParameterBlock{
		BytesPerSector:     binary.LittleEndian.Uint16(sector[0x0B:]),
		SectorsPerCluster:  sector[0x0D],
		MediaDescriptor:    sector[0x15],
		SectorsPerTrack:    binary.LittleEndian.Uint16(sector[0x18:]),
		Heads:              binary.LittleEndian.Uint16(sector[0x1A:]),
		HiddenSectors:      binary.LittleEndian.Uint32(sector[0x1C:]),
		TotalSectors:       binary.LittleEndian.Uint64(sector[0x28:]),
		MFTCluster:         binary.LittleEndian.Uint64(sector[0x30:]),
		MFTMirrorCluster:   binary.LittleEndian.Uint64(sector[0x38:]),
		RawRecordSize:      int8(sector[0x40]),
		RawIndexRecordSize: int8(sector[0x44]),
		VolumeSerialNumber: binary.LittleEndian.Uint64(sector[0x48:]),
		Checksum:           binary.LittleEndian.Uint32(sector[0x50:]),
	}

	if b.BytesPerSector == 0 || b.SectorsPerCluster == 0 {
		return nil, errors.Wrap(ErrInvalidFormat, "ntfs: zero geometry field")
	}

	return b, nil
}

// Marshal encodes the fields ParseBPB reads back into a fresh
// bpbSize-byte buffer.
func (b *BIOSParameterBlock) Marshal() []byte {
	sector := make([]byte, bpbSize)
	copy(sector[0x03:], ntfsMagic)
	binary.LittleEndian.PutUint16(sector[0x0B:], b.BytesPerSector)
	sector[0x0D] = b.SectorsPerCluster
	sector[0x15] = b.MediaDescriptor
	binary.LittleEndian.PutUint16(sector[0x18:], b.SectorsPerTrack)
	binary.LittleEndian.PutUint16(sector[0x1A:], b.Heads)
	binary.LittleEndian.PutUint32(sector[0x1C:], b.HiddenSectors)
	binary.LittleEndian.PutUint64(sector[0x28:], b.TotalSectors)
	binary.LittleEndian.PutUint64(sector[0x30:], b.MFTCluster)
	binary.LittleEndian.PutUint64(sector[0x38:], b.MFTMirrorCluster)
	sector[0x40] = byte(b.RawRecordSize)
	sector[0x44] = byte(b.RawIndexRecordSize)
	binary.LittleEndian.PutUint64(sector[0x48:], b.VolumeSerialNumber)
	binary.LittleEndian.PutUint32(sector[0x50:], b.Checksum)
	return sector
}

// recordSizeFromRaw turns the signed clusters-or-bytes encoding into a
// concrete byte count: positive N means N clusters, negative N means
// 1<<|N| bytes.
func recordSizeFromRaw(raw int8, bytesPerCluster uint32) uint32 {
	if raw < 0 {
		return 1 << uint(-raw)
	}
	return uint32(raw) * bytesPerCluster
}

// BytesPerCluster is SectorsPerCluster*BytesPerSector.
func (b *BIOSParameterBlock) BytesPerCluster() uint32 {
	return uint32(b.SectorsPerCluster) * uint32(b.BytesPerSector)
}

// MFTRecordSize resolves RawRecordSize into a concrete byte count.
func (b *BIOSParameterBlock) MFTRecordSize() uint32 {
	return recordSizeFromRaw(b.RawRecordSize, b.BytesPerCluster())
}

// IndexRecordSize resolves RawIndexRecordSize into a concrete byte count.
func (b *BIOSParameterBlock) IndexRecordSize() uint32 {
	return recordSizeFromRaw(b.RawIndexRecordSize, b.BytesPerCluster())
}

// ClusterCount is the volume's usable cluster count.
func (b *BIOSParameterBlock) ClusterCount() uint64 {
	return b.TotalSectors / uint64(b.SectorsPerCluster)
}
