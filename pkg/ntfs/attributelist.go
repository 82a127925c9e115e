package ntfs

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// AttributeListEntry indexes where one instance of an attribute lives,
// used when a file's attributes spill across more than one MFT record
// (spec §3.4/§4.8, supplemented per SPEC_FULL.md §3). Grounded in the
// attribute-list layout documented by the pack's gomft reference
// (other_examples/42ba60b1_t9t-gomft__mft-mft.go.go).
type AttributeListEntry struct {
	Type          AttributeType
	StartVCN      uint64
	FileReference FileReference
	AttributeID   uint16
	Name          string
}

// ParseAttributeList decodes a resident or reassembled non-resident
// $ATTRIBUTE_LIST value into its entries.
func ParseAttributeList(value []byte) ([]AttributeListEntry, error) {
	var entries []AttributeListEntry
	off := 0
	for off+26 <= len(value) {
		typ := AttributeType(binary.LittleEndian.Uint32(value[off:]))
		recLen := binary.LittleEndian.Uint16(value[off+4:])
		if recLen < 26 {
			return nil, errors.Wrap(ErrInvalidFormat, "ntfs: attribute-list entry too short")
		}
		if off+int(recLen) > len(value) {
			return nil, errors.Wrap(ErrInvalidFormat, "ntfs: attribute-list entry overruns buffer")
		}
		nameLength := value[off+6]
		nameOffset := value[off+7]
		startVCN := binary.LittleEndian.Uint64(value[off+8:])
		fileRef := FileReference(binary.LittleEndian.Uint64(value[off+16:]))
		attrID := binary.LittleEndian.Uint16(value[off+24:])

		e := AttributeListEntry{
			Type:          typ,
			StartVCN:      startVCN,
			FileReference: fileRef,
			AttributeID:   attrID,
		}
		if nameLength > 0 {
			start := off + int(nameOffset)
			e.Name = decodeUTF16(value[start : start+int(nameLength)*2])
		}
		entries = append(entries, e)
		off += int(recLen)
	}
	return entries, nil
}

// EncodeAttributeList serializes entries back into a resident attribute
// value, 8-byte aligning each record the way the on-disk format requires.
func EncodeAttributeList(entries []AttributeListEntry) []byte {
	var out []byte
	for _, e := range entries {
		nameBytes := encodeUTF16(e.Name)
		recLen := 26 + len(nameBytes)
		recLen = (recLen + 7) &^ 7

		rec := make([]byte, recLen)
		binary.LittleEndian.PutUint32(rec[0:], uint32(e.Type))
		binary.LittleEndian.PutUint16(rec[4:], uint16(recLen))
		rec[6] = byte(len(nameBytes) / 2)
		rec[7] = 26
		binary.LittleEndian.PutUint64(rec[8:], e.StartVCN)
		binary.LittleEndian.PutUint64(rec[16:], uint64(e.FileReference))
		binary.LittleEndian.PutUint16(rec[24:], e.AttributeID)
		copy(rec[26:], nameBytes)

		out = append(out, rec...)
	}
	return out
}
