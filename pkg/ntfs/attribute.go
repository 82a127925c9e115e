package ntfs

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// Attribute flags (spec §3.5).
const (
	AttrFlagCompressed uint16 = 0x0001
	AttrFlagEncrypted  uint16 = 0x4000
	AttrFlagSparse     uint16 = 0x8000
)

// Attribute is the tagged-variant representation spec §9 calls for:
// Resident carries Value directly, NonResident carries CookedRuns and the
// size triad. Dispatch on NonResident.
type Attribute struct {
	Type        AttributeType
	Length      uint32
	NonResident bool
	Flags       uint16
	ID          uint16
	Name        string

	// Resident fields.
	Value []byte

	// Non-resident fields.
	StartVCN                uint64
	LastVCN                 uint64
	CompressionUnitExponent uint8
	AllocatedSize           uint64
	DataSize                uint64
	InitializedSize         uint64
	CompressedSize          uint64
	Runs                    []DataRun
	CookedRuns              []CookedRun
}

// IsCompressed, IsEncrypted, IsSparse read the attribute flags.
func (a *Attribute) IsCompressed() bool { return a.Flags&AttrFlagCompressed != 0 }
func (a *Attribute) IsEncrypted() bool  { return a.Flags&AttrFlagEncrypted != 0 }
func (a *Attribute) IsSparse() bool     { return a.Flags&AttrFlagSparse != 0 }

// DataRun is one on-disk run of the packed data-run sequence (spec §3.5):
// a run length in clusters plus a signed LCN delta from the previous run's
// LCN (sparse runs carry Sparse=true and no delta).
type DataRun struct {
	Length   int64
	LCNDelta int64
	Sparse   bool
}

// CookedRun is a resolved run spanning [StartVCN, StartVCN+Length) of an
// attribute's virtual cluster range (spec §3.7).
type CookedRun struct {
	StartVCN uint64
	Length   uint64
	LCN      uint64
	Sparse   bool
}

// ParseAttribute decodes one attribute record starting at buf[0]. The
// number of bytes it occupies is the returned attribute's declared
// Length, which callers use to advance to the next attribute.
func ParseAttribute(buf []byte) (*Attribute, error) {
	if len(buf) < 16 {
		return nil, errors.Wrap(ErrInvalidFormat, "ntfs: attribute header too short")
	}

	typ := AttributeType(binary.LittleEndian.Uint32(buf[0:]))
	length := binary.LittleEndian.Uint32(buf[4:])
	if typ == AttrEndOfList {
		return &Attribute{Type: typ, Length: 4}, nil
	}
	if length < 16 || int(length) > len(buf) {
		return nil, errors.Wrap(ErrInvalidFormat, "ntfs: attribute length out of bounds")
	}

	nonResident := buf[8] != 0
	nameLength := buf[9]
	nameOffset := binary.LittleEndian.Uint16(buf[10:])
	flags := binary.LittleEndian.Uint16(buf[12:])
	id := binary.LittleEndian.Uint16(buf[14:])

	a := &Attribute{
		Type:        typ,
		Length:      length,
		NonResident: nonResident,
		Flags:       flags,
		ID:          id,
	}

	if nameLength > 0 {
		nameBytes := buf[nameOffset : int(nameOffset)+int(nameLength)*2]
		a.Name = decodeUTF16(nameBytes)
	}

	if !nonResident {
		if len(buf) < 24 {
			return nil, errors.Wrap(ErrInvalidFormat, "ntfs: resident attribute tail too short")
		}
		valueLength := binary.LittleEndian.Uint32(buf[16:])
		valueOffset := binary.LittleEndian.Uint16(buf[20:])
		if int(valueOffset)+int(valueLength) > int(length) {
			return nil, errors.Wrap(ErrInvalidFormat, "ntfs: resident value out of bounds")
		}
		a.Value = append([]byte(nil), buf[valueOffset:int(valueOffset)+int(valueLength)]...)
		return a, nil
	}

	if len(buf) < 64 {
		return nil, errors.Wrap(ErrInvalidFormat, "ntfs: non-resident attribute tail too short")
	}
	a.StartVCN = binary.LittleEndian.Uint64(buf[16:])
	a.LastVCN = binary.LittleEndian.Uint64(buf[24:])
	runsOffset := binary.LittleEndian.Uint16(buf[32:])
	a.CompressionUnitExponent = buf[34]
	a.AllocatedSize = binary.LittleEndian.Uint64(buf[40:])
	a.DataSize = binary.LittleEndian.Uint64(buf[48:])
	a.InitializedSize = binary.LittleEndian.Uint64(buf[56:])
	if a.IsCompressed() || a.IsSparse() {
		if len(buf) < 72 {
			return nil, errors.Wrap(ErrInvalidFormat, "ntfs: compressed/sparse attribute missing compressed size")
		}
		a.CompressedSize = binary.LittleEndian.Uint64(buf[64:])
	}

	runs, err := decodeDataRuns(buf[runsOffset:length])
	if err != nil {
		return nil, err
	}
	a.Runs = runs
	a.CookedRuns, err = cookDataRuns(runs, a.StartVCN)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// ParseAttributes walks a record's attribute list starting at firstOffset,
// stopping at the 0xFFFFFFFF terminator (spec §3.4).
func ParseAttributes(data []byte, firstOffset int) ([]*Attribute, error) {
	var attrs []*Attribute
	off := firstOffset
	for off+4 <= len(data) {
		a, err := ParseAttribute(data[off:])
		if err != nil {
			return nil, err
		}
		if a.Type == AttrEndOfList {
			break
		}
		attrs = append(attrs, a)
		off += int(a.Length)
	}
	return attrs, nil
}

// Encode serializes an Attribute back to its on-disk record layout,
// 8-byte aligning the total length the way every other NTFS structure
// does (spec §3.5).
func (a *Attribute) Encode() []byte {
	nameBytes := encodeUTF16(a.Name)
	nameOffset := 24
	if a.NonResident {
		nameOffset = 64
		if a.IsCompressed() || a.IsSparse() {
			nameOffset = 72
		}
	}

	if !a.NonResident {
		valueOffset := nameOffset + len(nameBytes)
		valueOffset = (valueOffset + 7) &^ 7
		total := valueOffset + len(a.Value)
		total = (total + 7) &^ 7

		buf := make([]byte, total)
		binary.LittleEndian.PutUint32(buf[0:], uint32(a.Type))
		binary.LittleEndian.PutUint32(buf[4:], uint32(total))
		buf[8] = 0
		buf[9] = byte(len(nameBytes) / 2)
		binary.LittleEndian.PutUint16(buf[10:], uint16(nameOffset))
		binary.LittleEndian.PutUint16(buf[12:], a.Flags)
		binary.LittleEndian.PutUint16(buf[14:], a.ID)
		binary.LittleEndian.PutUint32(buf[16:], uint32(len(a.Value)))
		binary.LittleEndian.PutUint16(buf[20:], uint16(valueOffset))
		copy(buf[nameOffset:], nameBytes)
		copy(buf[valueOffset:], a.Value)
		return buf
	}

	runs := encodeDataRuns(a.CookedRuns)
	runsOffset := nameOffset + len(nameBytes)
	runsOffset = (runsOffset + 7) &^ 7
	total := runsOffset + len(runs)
	total = (total + 7) &^ 7

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:], uint32(a.Type))
	binary.LittleEndian.PutUint32(buf[4:], uint32(total))
	buf[8] = 1
	buf[9] = byte(len(nameBytes) / 2)
	binary.LittleEndian.PutUint16(buf[10:], uint16(nameOffset))
	binary.LittleEndian.PutUint16(buf[12:], a.Flags)
	binary.LittleEndian.PutUint16(buf[14:], a.ID)
	binary.LittleEndian.PutUint64(buf[16:], a.StartVCN)
	binary.LittleEndian.PutUint64(buf[24:], a.LastVCN)
	binary.LittleEndian.PutUint16(buf[32:], uint16(runsOffset))
	buf[34] = a.CompressionUnitExponent
	binary.LittleEndian.PutUint64(buf[40:], a.AllocatedSize)
	binary.LittleEndian.PutUint64(buf[48:], a.DataSize)
	binary.LittleEndian.PutUint64(buf[56:], a.InitializedSize)
	if a.IsCompressed() || a.IsSparse() {
		binary.LittleEndian.PutUint64(buf[64:], a.CompressedSize)
	}
	copy(buf[nameOffset:], nameBytes)
	copy(buf[runsOffset:], runs)
	return buf
}

// decodeDataRuns parses the packed varint run sequence (spec §3.5): each
// run is a header byte of two nibbles (offsetSize, lengthSize), a signed
// little-endian length of lengthSize bytes, and — unless offsetSize is
// zero (a sparse run) — a signed little-endian LCN delta of offsetSize
// bytes. A zero header byte terminates the sequence.
func decodeDataRuns(buf []byte) ([]DataRun, error) {
	var runs []DataRun
	off := 0
	for off < len(buf) {
		header := buf[off]
		if header == 0 {
			break
		}
		lengthSize := int(header & 0x0F)
		offsetSize := int(header >> 4)
		off++

		if off+lengthSize+offsetSize > len(buf) {
			return nil, errors.Wrap(ErrInvalidFormat, "ntfs: data run overruns attribute buffer")
		}

		length := decodeSignedLE(buf[off : off+lengthSize])
		off += lengthSize

		run := DataRun{Length: length}
		if offsetSize == 0 {
			run.Sparse = true
		} else {
			run.LCNDelta = decodeSignedLE(buf[off : off+offsetSize])
			off += offsetSize
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// decodeSignedLE sign-extends a little-endian two's-complement integer of
// arbitrary byte width (NTFS data runs use the minimum width that fits).
func decodeSignedLE(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	if b[len(b)-1]&0x80 != 0 {
		v |= ^uint64(0) << uint(len(b)*8)
	}
	return int64(v)
}

// encodeSignedLE is the inverse of decodeSignedLE, choosing the smallest
// byte width that can represent v (0 for v == 0).
func encodeSignedLE(v int64) []byte {
	if v == 0 {
		return nil
	}
	var out []byte
	for {
		out = append(out, byte(v))
		v >>= 8
		if (v == 0 && out[len(out)-1]&0x80 == 0) || (v == -1 && out[len(out)-1]&0x80 != 0) {
			break
		}
	}
	return out
}

// cookDataRuns resolves the packed run sequence into an ordered, gapless
// list of CookedRun covering [startVCN, lastVCN+1) (spec §3.7). The LCN
// state is cumulative across runs: a non-sparse run's LCN is the previous
// non-sparse run's LCN plus its delta.
func cookDataRuns(runs []DataRun, startVCN uint64) ([]CookedRun, error) {
	cooked := make([]CookedRun, 0, len(runs))
	vcn := startVCN
	var lcn int64
	for _, r := range runs {
		if r.Length <= 0 {
			return nil, errors.Wrap(ErrInvalidFormat, "ntfs: non-positive data run length")
		}
		cr := CookedRun{StartVCN: vcn, Length: uint64(r.Length), Sparse: r.Sparse}
		if !r.Sparse {
			lcn += r.LCNDelta
			if lcn < 0 {
				return nil, errors.Wrap(ErrInvalidFormat, "ntfs: negative resolved lcn")
			}
			cr.LCN = uint64(lcn)
		}
		cooked = append(cooked, cr)
		vcn += uint64(r.Length)
	}
	return cooked, nil
}

// collapseCookedRuns merges adjacent runs with matching sparseness and a
// continuous LCN, the inverse operation of fragmentation (spec §3.7).
func collapseCookedRuns(runs []CookedRun) []CookedRun {
	if len(runs) == 0 {
		return runs
	}
	out := make([]CookedRun, 0, len(runs))
	cur := runs[0]
	for _, r := range runs[1:] {
		contiguous := cur.StartVCN+cur.Length == r.StartVCN
		sameSparseness := cur.Sparse == r.Sparse
		lcnContinuous := cur.Sparse || cur.LCN+cur.Length == r.LCN
		if contiguous && sameSparseness && lcnContinuous {
			cur.Length += r.Length
			continue
		}
		out = append(out, cur)
		cur = r
	}
	out = append(out, cur)
	return out
}

// encodeDataRuns serializes cooked runs back into the packed on-disk
// sequence, for attribute-runtime writes that reshape a file's extent
// list (spec §4.6 write path).
func encodeDataRuns(runs []CookedRun) []byte {
	var out []byte
	var lcn int64
	for _, r := range runs {
		lengthBytes := encodeSignedLE(int64(r.Length))
		if len(lengthBytes) == 0 {
			lengthBytes = []byte{0}
		}
		var offsetBytes []byte
		if !r.Sparse {
			delta := int64(r.LCN) - lcn
			offsetBytes = encodeSignedLE(delta)
			if len(offsetBytes) == 0 {
				offsetBytes = []byte{0}
			}
			lcn = int64(r.LCN)
		}
		header := byte(len(lengthBytes)) | byte(len(offsetBytes))<<4
		out = append(out, header)
		out = append(out, lengthBytes...)
		out = append(out, offsetBytes...)
	}
	out = append(out, 0)
	return out
}

// tileCookedRuns validates that cooked runs tile [0, lastVCN+1) with no
// gaps or overlaps (spec §4.6: "extents must tile ... A mismatch is a
// fatal 'non-contiguous data runs' error").
func tileCookedRuns(runs []CookedRun, lastVCN uint64) error {
	var expect uint64
	for _, r := range runs {
		if r.StartVCN != expect {
			return errors.Wrapf(ErrInvalidFormat, "ntfs: non-contiguous data runs at vcn %d", r.StartVCN)
		}
		expect += r.Length
	}
	if expect != lastVCN+1 {
		return errors.Wrapf(ErrInvalidFormat, "ntfs: data runs cover %d clusters, want %d", expect, lastVCN+1)
	}
	return nil
}

func decodeUTF16(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
}

func encodeUTF16(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	out := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}
