package ntfs

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// recordMagic is the 4-byte literal at the start of every in-use MFT
// record (spec §6 "File record header").
var recordMagic = []byte("FILE")

// Record flags (spec §3.4).
const (
	RecordFlagInUse     uint16 = 0x0001
	RecordFlagDirectory uint16 = 0x0002
)

// FileReference packs a 48-bit MFT index with a 16-bit sequence number,
// the base-file-reference wire format (spec §6).
type FileReference uint64

// NewFileReference builds a FileReference from its parts.
func NewFileReference(index uint64, sequence uint16) FileReference {
	return FileReference((index & 0x0000FFFFFFFFFFFF) | uint64(sequence)<<48)
}

// Index is the 48-bit record index.
func (r FileReference) Index() uint64 { return uint64(r) & 0x0000FFFFFFFFFFFF }

// Sequence is the 16-bit sequence number.
func (r FileReference) Sequence() uint16 { return uint16(uint64(r) >> 48) }

// IsZero reports whether this is the sentinel "no base record" reference.
func (r FileReference) IsZero() bool { return r == 0 }

// RecordHeader is the fixed-layout prefix of every MFT record (spec §3.4,
// §6 "File record header").
type RecordHeader struct {
	UpdateSequenceOffset uint16
	UpdateSequenceCount  uint16
	LogSequenceNumber    uint64
	SequenceNumber       uint16
	HardLinkCount        uint16
	FirstAttributeOffset uint16
	Flags                uint16
	RealSize             uint32
	AllocatedSize        uint32
	BaseFileReference    FileReference
	NextAttributeID      uint16
	OwnIndex             uint32
}

const recordHeaderFixedSize = 48

// InUse reports the InUse flag.
func (h *RecordHeader) InUse() bool { return h.Flags&RecordFlagInUse != 0 }

// IsDirectory reports the Directory flag.
func (h *RecordHeader) IsDirectory() bool { return h.Flags&RecordFlagDirectory != 0 }

// Record is a fully parsed, fix-up-applied MFT record: the header plus the
// raw attribute bytes following it (parsed lazily by attribute.go's
// ParseAttributes, since most callers only need a handful of attributes
// out of a record with many).
type Record struct {
	Header RecordHeader
	Data   []byte // raw record buffer, post fix-up
}

// applyFixup reverses the NTFS "fix-up array" protection in place: the
// last two bytes of every sectorSize-byte sector were relocated to a
// trailing array at UpdateSequenceOffset, replaced on disk by a shared
// placeholder. Reading restores the saved bytes and verifies every
// placeholder matched, catching torn sector writes (spec §3.4, §5).
func applyFixup(buf []byte, sectorSize int) error {
	if len(buf) < 8 {
		return errors.Wrap(ErrInvalidFormat, "ntfs: record too short for fix-up header")
	}
	usaOffset := int(binary.LittleEndian.Uint16(buf[4:]))
	usaCount := int(binary.LittleEndian.Uint16(buf[6:]))
	if usaCount == 0 {
		return nil
	}
	if usaOffset+usaCount*2 > len(buf) {
		return errors.Wrap(ErrInvalidFormat, "ntfs: fix-up array out of bounds")
	}

	placeholder := buf[usaOffset : usaOffset+2]
	// usaCount includes the placeholder entry itself; there are
	// usaCount-1 actual sector trailers to restore.
	for i := 0; i < usaCount-1; i++ {
		sectorEnd := (i+1)*sectorSize - 2
		if sectorEnd+2 > len(buf) {
			break
		}
		if buf[sectorEnd] != placeholder[0] || buf[sectorEnd+1] != placeholder[1] {
			return errors.Wrapf(ErrCorruptMetadata, "ntfs: fix-up placeholder mismatch in sector %d", i)
		}
		saved := buf[usaOffset+2+i*2 : usaOffset+2+i*2+2]
		buf[sectorEnd] = saved[0]
		buf[sectorEnd+1] = saved[1]
	}
	return nil
}

// applyUnfixup is the write-side inverse: it relocates each sector's
// trailing two bytes into the update-sequence array and stamps a shared
// placeholder in their place, returning a new buffer (the input is not
// modified so the caller can keep serving reads from the fixed-up copy).
func applyUnfixup(buf []byte, sectorSize int, placeholder uint16) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)

	usaOffset := int(binary.LittleEndian.Uint16(out[4:]))
	usaCount := int(binary.LittleEndian.Uint16(out[6:]))
	if usaCount == 0 {
		return out
	}

	var ph [2]byte
	binary.LittleEndian.PutUint16(ph[:], placeholder)
	copy(out[usaOffset:usaOffset+2], ph[:])

	for i := 0; i < usaCount-1; i++ {
		sectorEnd := (i+1)*sectorSize - 2
		if sectorEnd+2 > len(out) {
			break
		}
		copy(out[usaOffset+2+i*2:usaOffset+2+i*2+2], out[sectorEnd:sectorEnd+2])
		out[sectorEnd] = ph[0]
		out[sectorEnd+1] = ph[1]
	}
	return out
}

// ParseRecord decodes one MFT-record-sized buffer. buf is mutated in place
// by fix-up application; callers that need the original bytes should copy
// first.
func ParseRecord(buf []byte, sectorSize int) (*Record, error) {
	if len(buf) < recordHeaderFixedSize {
		return nil, errors.Wrap(ErrInvalidFormat, "ntfs: record buffer too short")
	}
	if string(buf[0:4]) != string(recordMagic) {
		return nil, errors.Wrap(ErrInvalidFormat, "ntfs: bad record magic")
	}
	if err := applyFixup(buf, sectorSize); err != nil {
		return nil, err
	}

	h := RecordHeader{
		UpdateSequenceOffset: binary.LittleEndian.Uint16(buf[4:]),
		UpdateSequenceCount:  binary.LittleEndian.Uint16(buf[6:]),
		LogSequenceNumber:    binary.LittleEndian.Uint64(buf[8:]),
		SequenceNumber:       binary.LittleEndian.Uint16(buf[16:]),
		HardLinkCount:        binary.LittleEndian.Uint16(buf[18:]),
		FirstAttributeOffset: binary.LittleEndian.Uint16(buf[20:]),
		Flags:                binary.LittleEndian.Uint16(buf[22:]),
		RealSize:             binary.LittleEndian.Uint32(buf[24:]),
		AllocatedSize:        binary.LittleEndian.Uint32(buf[28:]),
		BaseFileReference:    FileReference(binary.LittleEndian.Uint64(buf[32:])),
		NextAttributeID:      binary.LittleEndian.Uint16(buf[40:]),
	}
	if len(buf) >= 48 {
		h.OwnIndex = binary.LittleEndian.Uint32(buf[44:])
	}

	if h.RealSize > h.AllocatedSize || int(h.AllocatedSize) > len(buf) {
		return nil, errors.Wrap(ErrInvalidFormat, "ntfs: real_size/allocated_size violate record bound")
	}
	if h.InUse() && h.SequenceNumber == 0 {
		return nil, errors.Wrap(ErrCorruptMetadata, "ntfs: in-use record has zero sequence number")
	}

	return &Record{Header: h, Data: buf}, nil
}

// newBlankRecord formats an empty, not-in-use record of recordSize bytes
// with a standard fix-up layout (one placeholder plus one saved-word slot
// per sector), used by the MFT allocator when extending the record store.
func newBlankRecord(recordSize, sectorSize int, index uint32) []byte {
	buf := make([]byte, recordSize)
	copy(buf[0:4], recordMagic)

	usaCount := recordSize/sectorSize + 1
	usaOffset := recordHeaderFixedSize
	binary.LittleEndian.PutUint16(buf[4:], uint16(usaOffset))
	binary.LittleEndian.PutUint16(buf[6:], uint16(usaCount))
	binary.LittleEndian.PutUint16(buf[16:], 1) // sequence number starts at 1
	binary.LittleEndian.PutUint16(buf[20:], uint16(usaOffset+usaCount*2))
	binary.LittleEndian.PutUint32(buf[24:], uint32(usaOffset+usaCount*2+8))
	binary.LittleEndian.PutUint32(buf[28:], uint32(recordSize))
	binary.LittleEndian.PutUint16(buf[40:], 0)
	if recordSize >= 48 {
		binary.LittleEndian.PutUint32(buf[44:], index)
	}

	// terminate the (empty) attribute list with a single end marker.
	endOff := usaOffset + usaCount*2
	binary.LittleEndian.PutUint32(buf[endOff:], uint32(AttrEndOfList))

	return buf
}

// Marshal serializes the header back into h.Data (the attribute bytes
// following the header are left untouched by callers that mutated them
// directly) and applies the fix-up transform, ready to write to the
// record stream.
func (r *Record) Marshal(sectorSize int) []byte {
	buf := r.Data
	binary.LittleEndian.PutUint16(buf[4:], r.Header.UpdateSequenceOffset)
	binary.LittleEndian.PutUint16(buf[6:], r.Header.UpdateSequenceCount)
	binary.LittleEndian.PutUint64(buf[8:], r.Header.LogSequenceNumber)
	binary.LittleEndian.PutUint16(buf[16:], r.Header.SequenceNumber)
	binary.LittleEndian.PutUint16(buf[18:], r.Header.HardLinkCount)
	binary.LittleEndian.PutUint16(buf[20:], r.Header.FirstAttributeOffset)
	binary.LittleEndian.PutUint16(buf[22:], r.Header.Flags)
	binary.LittleEndian.PutUint32(buf[24:], r.Header.RealSize)
	binary.LittleEndian.PutUint32(buf[28:], r.Header.AllocatedSize)
	binary.LittleEndian.PutUint64(buf[32:], uint64(r.Header.BaseFileReference))
	binary.LittleEndian.PutUint16(buf[40:], r.Header.NextAttributeID)
	if len(buf) >= 48 {
		binary.LittleEndian.PutUint32(buf[44:], r.Header.OwnIndex)
	}
	return applyUnfixup(buf, sectorSize, 1)
}
