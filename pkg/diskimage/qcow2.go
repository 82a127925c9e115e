package diskimage

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/zchee/go-qcow2"
)

// OpenQCOW2 parses a QCOW2 header off backing using the same field layout
// as zchee/go-qcow2's QCowHeader (the teacher's go.mod dependency for this
// format) and walks the two-level (L1/L2) cluster table to resolve
// logical offsets, returning a read-only sector stream.
func OpenQCOW2(backing io.ReaderAt) (*mappedStream, error) {
	raw := make([]byte, 104)
	if _, err := backing.ReadAt(raw, 0); err != nil {
		return nil, errors.Wrap(err, "diskimage: reading qcow2 header")
	}
	if !bytes.Equal(raw[0:4], qcow2.QcowMagic) {
		return nil, errors.Wrap(ErrUnsupportedContainer, "diskimage: not a qcow2 image")
	}

	clusterBits := binary.BigEndian.Uint32(raw[20:24])
	size := int64(binary.BigEndian.Uint64(raw[24:32]))
	cryptMethod := binary.BigEndian.Uint32(raw[32:36])
	l1Size := int64(binary.BigEndian.Uint32(raw[36:40]))
	l1TableOffset := int64(binary.BigEndian.Uint64(raw[40:48]))

	if cryptMethod != 0 {
		return nil, errors.Wrap(ErrUnsupportedContainer, "diskimage: encrypted qcow2 images are not supported")
	}

	clusterSize := int64(1) << clusterBits
	// Each L2 table has clusterSize/8 entries (8 bytes per entry).
	l2Entries := clusterSize / 8

	l1 := make([]byte, l1Size*8)
	if _, err := backing.ReadAt(l1, l1TableOffset); err != nil {
		return nil, errors.Wrap(err, "diskimage: reading qcow2 l1 table")
	}

	l2Cache := make(map[int64][]byte)
	loadL2 := func(l1Index int64) ([]byte, error) {
		if t, ok := l2Cache[l1Index]; ok {
			return t, nil
		}
		entry := binary.BigEndian.Uint64(l1[l1Index*8 : l1Index*8+8])
		l2Offset := int64(entry &^ (uint64(0x7F) << 57)) // mask reserved + copied bit
		if l2Offset == 0 {
			l2Cache[l1Index] = nil
			return nil, nil
		}
		l2 := make([]byte, l2Entries*8)
		if _, err := backing.ReadAt(l2, l2Offset); err != nil {
			return nil, err
		}
		l2Cache[l1Index] = l2
		return l2, nil
	}

	resolve := func(block int64) (int64, bool) {
		l1Index := block / l2Entries
		l2Index := block % l2Entries
		if l1Index >= l1Size {
			return 0, false
		}
		l2, err := loadL2(l1Index)
		if err != nil || l2 == nil {
			return 0, false
		}
		entry := binary.BigEndian.Uint64(l2[l2Index*8 : l2Index*8+8])
		if entry&(1<<62) != 0 {
			// compressed cluster: out of scope for this read adapter.
			return 0, false
		}
		clusterOffset := int64(entry &^ (uint64(0x3) << 62))
		if clusterOffset == 0 {
			return 0, false
		}
		return clusterOffset, true
	}

	return &mappedStream{
		backing: backing,
		m: &blockMap{
			blockSize: clusterSize,
			capacity:  size,
			resolve:   resolve,
		},
	}, nil
}
