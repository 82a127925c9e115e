package ntfs

import (
	"bytes"
	"encoding/binary"
)

// CollationRule selects an index's key ordering (spec §4.7).
type CollationRule uint32

const (
	CollationBinary               CollationRule = 0x00
	CollationFilename             CollationRule = 0x01
	CollationUnsignedLong         CollationRule = 0x10
	CollationSID                  CollationRule = 0x11
	CollationSecurityHash         CollationRule = 0x12
	CollationMultipleUnsignedLongs CollationRule = 0x13
)

// Collator compares two encoded index keys, returning <0, 0, >0 like
// bytes.Compare.
type Collator func(a, b []byte) int

// binaryCollator is the fallback: plain byte-lexicographic order.
func binaryCollator(a, b []byte) int { return bytes.Compare(a, b) }

// filenameKeyName extracts the UTF-16 name from a $FILE_NAME-shaped key:
// byte 0x40 holds the name length in UTF-16 code units, 0x42 the name
// itself (spec §4.7).
func filenameKeyName(key []byte) []byte {
	if len(key) < 0x42 {
		return nil
	}
	nameLen := int(key[0x40])
	end := 0x42 + nameLen*2
	if end > len(key) {
		end = len(key)
	}
	return key[0x42:end]
}

// filenameCollator compares $FILE_NAME keys case-insensitively through the
// volume's $UpCase table.
func filenameCollator(upcase *UpCaseTable) Collator {
	return func(a, b []byte) int {
		an, bn := filenameKeyName(a), filenameKeyName(b)
		au := decodeUTF16(an)
		bu := decodeUTF16(bn)
		if upcase != nil {
			au = upcase.UpperString(au)
			bu = upcase.UpperString(bu)
		}
		return bytes.Compare([]byte(au), []byte(bu))
	}
}

// unsignedLongCollator compares a single little-endian uint32.
func unsignedLongCollator(a, b []byte) int {
	av := binary.LittleEndian.Uint32(a)
	bv := binary.LittleEndian.Uint32(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// multipleUnsignedLongsCollator compares arrays of little-endian uint32,
// lexicographically.
func multipleUnsignedLongsCollator(a, b []byte) int {
	na, nb := len(a)/4, len(b)/4
	n := na
	if nb < n {
		n = nb
	}
	for i := 0; i < n; i++ {
		av := binary.LittleEndian.Uint32(a[i*4:])
		bv := binary.LittleEndian.Uint32(b[i*4:])
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	default:
		return 0
	}
}

// securityHashCollator compares (hash, id) pairs of little-endian uint32.
func securityHashCollator(a, b []byte) int {
	if c := unsignedLongCollator(a[0:4], b[0:4]); c != 0 {
		return c
	}
	return unsignedLongCollator(a[4:8], b[4:8])
}

// sidCollator is lexicographic byte compare, shorter-first on a common
// prefix.
func sidCollator(a, b []byte) int { return bytes.Compare(a, b) }

// SelectCollator resolves an $INDEX_ROOT's collation rule to a Collator.
func SelectCollator(rule CollationRule, upcase *UpCaseTable) Collator {
	switch rule {
	case CollationFilename:
		return filenameCollator(upcase)
	case CollationUnsignedLong:
		return unsignedLongCollator
	case CollationMultipleUnsignedLongs:
		return multipleUnsignedLongsCollator
	case CollationSecurityHash:
		return securityHashCollator
	case CollationSID:
		return sidCollator
	default:
		return binaryCollator
	}
}
