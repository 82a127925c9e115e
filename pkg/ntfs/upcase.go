package ntfs

import (
	"encoding/binary"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// upCaseTableSize is the fixed 65536-entry table an NTFS volume stores in
// its $UpCase meta-file (spec §3.3).
const upCaseTableSize = 1 << 16

// UpCaseTable is the volume's authoritative per-character upper-case map,
// used by the filename collator (spec §4.7 "filename: case-insensitive
// Unicode using the upper-case table").
type UpCaseTable [upCaseTableSize]uint16

// DecodeUpCaseTable parses the raw $UpCase attribute value (65536
// little-endian uint16s) read off an existing volume.
func DecodeUpCaseTable(raw []byte) *UpCaseTable {
	var t UpCaseTable
	for i := 0; i < upCaseTableSize && i*2+2 <= len(raw); i++ {
		t[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return &t
}

// Encode serializes the table back to its on-disk byte form.
func (t *UpCaseTable) Encode() []byte {
	out := make([]byte, upCaseTableSize*2)
	for i, v := range t {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

// ToUpper maps a single UTF-16 code unit through the table.
func (t *UpCaseTable) ToUpper(c uint16) uint16 { return t[c] }

// UpperString maps a string's UTF-16 code units through the table,
// reassembling a Go string — the form the filename collator compares.
func (t *UpCaseTable) UpperString(s string) string {
	u16 := toUTF16(s)
	for i, c := range u16 {
		u16[i] = t.ToUpper(c)
	}
	return fromUTF16(u16)
}

// NewDefaultUpCaseTable synthesizes the table a fresh NTFS format would
// seed before any volume-specific customization: golang.org/x/text/cases'
// Unicode-correct upper-casing, the way a from-scratch formatter derives $UpCase
// instead of shipping one read off an existing disk image.
func NewDefaultUpCaseTable() *UpCaseTable {
	var t UpCaseTable
	upper := cases.Upper(language.Und)
	for i := 0; i < upCaseTableSize; i++ {
		r := rune(i)
		if !unicode.IsPrint(r) {
			t[i] = uint16(i)
			continue
		}
		mapped := upper.String(string(r))
		u16 := toUTF16(mapped)
		if len(u16) == 1 {
			t[i] = u16[0]
		} else {
			t[i] = uint16(i)
		}
	}
	return &t
}

func toUTF16(s string) []uint16 {
	return encodeUTF16AsUint16(s)
}

func fromUTF16(u16 []uint16) string {
	return decodeUTF16(uint16SliceToBytes(u16))
}

func encodeUTF16AsUint16(s string) []uint16 {
	raw := encodeUTF16(s)
	u16 := make([]uint16, len(raw)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return u16
}

func uint16SliceToBytes(u16 []uint16) []byte {
	out := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}
