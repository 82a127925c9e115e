// Package partition reads a protective-MBR/GPT partition table off a raw
// disk image and hands back each partition's byte range, the minimal
// external-collaborator contract SPEC_FULL §0 describes: "an offset+length
// sector range per partition". Grounded on the teacher's GPT-writing
// pkg/vimg/partitions.go, read in reverse.
package partition

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Geometry constants mirror pkg/vimg/partitions.go's build-side constants
// exactly, since a reader must agree with the writer on every offset.
const (
	SectorSize          = 512
	gptSignature        = 0x5452415020494645 // "EFI PART" little-endian
	gptHeaderSize       = 92
	gptEntrySize        = 128
	primaryGPTHeaderLBA = 1
)

// ErrNotGPT is returned when the protective MBR or GPT signature doesn't
// validate.
var ErrNotGPT = errors.New("partition: not a GPT-partitioned image")

// Partition describes one GPT entry's logical disk range.
type Partition struct {
	Type       uuid.UUID
	ID         uuid.UUID
	Name       string
	FirstLBA   uint64
	LastLBA    uint64
}

// Offset is the partition's starting byte offset on the disk image.
func (p Partition) Offset() int64 { return int64(p.FirstLBA) * SectorSize }

// Length is the partition's size in bytes (inclusive LastLBA, per the GPT
// spec).
func (p Partition) Length() int64 { return int64(p.LastLBA-p.FirstLBA+1) * SectorSize }

// ReadTable parses the protective MBR and primary GPT header/entry array
// off r (an io.ReaderAt over the whole disk image) and returns every
// non-empty partition entry in table order.
func ReadTable(r io.ReaderAt) ([]Partition, error) {
	mbr := make([]byte, SectorSize)
	if _, err := r.ReadAt(mbr, 0); err != nil {
		return nil, errors.Wrap(err, "partition: reading protective mbr")
	}
	if mbr[510] != 0x55 || mbr[511] != 0xAA {
		return nil, errors.Wrap(ErrNotGPT, "partition: missing mbr boot signature")
	}

	header := make([]byte, gptHeaderSize)
	if _, err := r.ReadAt(header, primaryGPTHeaderLBA*SectorSize); err != nil {
		return nil, errors.Wrap(err, "partition: reading gpt header")
	}
	if binary.LittleEndian.Uint64(header[0:8]) != gptSignature {
		return nil, errors.Wrap(ErrNotGPT, "partition: bad gpt header signature")
	}

	declaredCRC := binary.LittleEndian.Uint32(header[16:20])
	zeroed := append([]byte(nil), header...)
	binary.LittleEndian.PutUint32(zeroed[16:20], 0)
	if crc32.ChecksumIEEE(zeroed) != declaredCRC {
		return nil, errors.Wrap(ErrNotGPT, "partition: gpt header crc mismatch")
	}

	entriesLBA := binary.LittleEndian.Uint64(header[72:80])
	numEntries := binary.LittleEndian.Uint32(header[80:84])
	entrySize := binary.LittleEndian.Uint32(header[84:88])
	if entrySize == 0 {
		entrySize = gptEntrySize
	}

	buf := make([]byte, int(numEntries)*int(entrySize))
	if _, err := r.ReadAt(buf, int64(entriesLBA)*SectorSize); err != nil {
		return nil, errors.Wrap(err, "partition: reading gpt entries")
	}

	var out []Partition
	for i := uint32(0); i < numEntries; i++ {
		raw := buf[int(i)*int(entrySize) : int(i)*int(entrySize)+int(entrySize)]
		typeGUID, err := uuid.FromBytes(raw[0:16])
		if err != nil {
			return nil, errors.Wrap(err, "partition: decoding entry type guid")
		}
		if typeGUID == uuid.Nil {
			continue
		}
		partGUID, err := uuid.FromBytes(raw[16:32])
		if err != nil {
			return nil, errors.Wrap(err, "partition: decoding entry partition guid")
		}
		firstLBA := binary.LittleEndian.Uint64(raw[32:40])
		lastLBA := binary.LittleEndian.Uint64(raw[40:48])
		name := decodeUTF16Name(raw[56:128])

		out = append(out, Partition{
			Type:     typeGUID,
			ID:       partGUID,
			Name:     name,
			FirstLBA: firstLBA,
			LastLBA:  lastLBA,
		})
	}
	return out, nil
}

func decodeUTF16Name(b []byte) string {
	var u16 []uint16
	for i := 0; i+1 < len(b); i += 2 {
		v := binary.LittleEndian.Uint16(b[i:])
		if v == 0 {
			break
		}
		u16 = append(u16, v)
	}
	var buf bytes.Buffer
	for _, r := range u16 {
		buf.WriteRune(rune(r))
	}
	return buf.String()
}
