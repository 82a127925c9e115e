package ntfs

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// filetimeEpoch is 1601-01-01 00:00:00 UTC, the origin of Windows FILETIME
// (spec §4.8: "100-ns ticks since 1601-01-01 UTC").
var filetimeEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

// FileTime converts a time.Time to its FILETIME tick count.
func FileTime(t time.Time) uint64 {
	d := t.Sub(filetimeEpoch)
	return uint64(d / 100)
}

// FileTimeToTime is the inverse of FileTime.
func FileTimeToTime(ft uint64) time.Time {
	return filetimeEpoch.Add(time.Duration(ft) * 100)
}

// StandardInformation flags (the subset of NTFS_FILE_ATTRIBUTE bits this
// package round-trips).
const (
	FileAttrReadOnly uint32 = 0x0001
	FileAttrHidden   uint32 = 0x0002
	FileAttrSystem   uint32 = 0x0004
	FileAttrArchive  uint32 = 0x0020
	FileAttrSparse   uint32 = 0x0200

	// FileAttrDirectory mirrors FILE_ATTRIBUTE_DIRECTORY. $STANDARD_INFORMATION
	// never actually carries it (directory-ness is the record header's
	// Directory flag), but $FILE_NAME's duplicate attribute field does, so
	// directory listings can tell files from directories without opening
	// each child record (spec §4.7 "duplicated information").
	FileAttrDirectory uint32 = 0x10000000
)

// StandardInformation is the $STANDARD_INFORMATION attribute value (spec
// §4.8 timestamp semantics, plus the quota/usn fields SPEC_FULL §3 calls
// out as round-tripped but not interpreted).
type StandardInformation struct {
	CreationTime   uint64
	LastModified   uint64
	RecordChanged  uint64
	LastAccessed   uint64
	FileAttributes uint32

	// Version >= 3.0 fields; zero on an older/minimal record.
	QuotaCharged uint64
	USN          uint64
}

const standardInfoV1Size = 48

// ParseStandardInformation decodes a $STANDARD_INFORMATION value, tolerating
// the shorter pre-3.0 48-byte form.
func ParseStandardInformation(buf []byte) (*StandardInformation, error) {
	if len(buf) < standardInfoV1Size {
		return nil, errors.Wrap(ErrInvalidFormat, "ntfs: standard information too short")
	}
	si := &StandardInformation{
		CreationTime:   binary.LittleEndian.Uint64(buf[0:]),
		LastModified:   binary.LittleEndian.Uint64(buf[8:]),
		RecordChanged:  binary.LittleEndian.Uint64(buf[16:]),
		LastAccessed:   binary.LittleEndian.Uint64(buf[24:]),
		FileAttributes: binary.LittleEndian.Uint32(buf[32:]),
	}
	if len(buf) >= 72 {
		si.QuotaCharged = binary.LittleEndian.Uint64(buf[56:])
		si.USN = binary.LittleEndian.Uint64(buf[64:])
	}
	return si, nil
}

// Encode serializes a StandardInformation, always in the 72-byte
// version-3 form (quota/usn are zero when unused, which every real reader
// tolerates).
func (si *StandardInformation) Encode() []byte {
	buf := make([]byte, 72)
	binary.LittleEndian.PutUint64(buf[0:], si.CreationTime)
	binary.LittleEndian.PutUint64(buf[8:], si.LastModified)
	binary.LittleEndian.PutUint64(buf[16:], si.RecordChanged)
	binary.LittleEndian.PutUint64(buf[24:], si.LastAccessed)
	binary.LittleEndian.PutUint32(buf[32:], si.FileAttributes)
	binary.LittleEndian.PutUint64(buf[56:], si.QuotaCharged)
	binary.LittleEndian.PutUint64(buf[64:], si.USN)
	return buf
}
