package diskimage

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// vhdCookie is "conectix" read as a big-endian uint64, the footer/header
// magic the teacher's pkg/vhd writer stamps on every image it produces.
const vhdCookie = 0x636F6E6563746978

// vhdHeaderCookie is "cxsparse", the dynamic-disk header's own magic.
const vhdHeaderCookie = 0x6378737061727365

const (
	vhdFooterSize  = 512
	vhdDiskTypeFixed   = 2
	vhdDiskTypeDynamic = 3
)

// OpenVHD parses a fixed or dynamic VHD footer (and, for dynamic disks, the
// block-allocation table that follows the sparse header) off backing, and
// returns a read-only sector stream over the logical disk the image
// describes.
func OpenVHD(backing io.ReaderAt, size int64) (*mappedStream, error) {
	footer := make([]byte, vhdFooterSize)
	if _, err := backing.ReadAt(footer, size-vhdFooterSize); err != nil {
		return nil, errors.Wrap(err, "diskimage: reading vhd footer")
	}
	if binary.BigEndian.Uint64(footer[0:8]) != vhdCookie {
		return nil, errors.Wrap(ErrUnsupportedContainer, "diskimage: not a vhd image")
	}

	diskType := binary.BigEndian.Uint32(footer[60:64])
	currentSize := int64(binary.BigEndian.Uint64(footer[48:56]))

	switch diskType {
	case vhdDiskTypeFixed:
		return &mappedStream{
			backing: backing,
			m: &blockMap{
				blockSize: currentSize,
				capacity:  currentSize,
				resolve:   func(block int64) (int64, bool) { return 0, true },
			},
		}, nil

	case vhdDiskTypeDynamic:
		return openDynamicVHD(backing, footer)

	default:
		return nil, errors.Wrapf(ErrUnsupportedContainer, "diskimage: vhd disk type %d", diskType)
	}
}

func openDynamicVHD(backing io.ReaderAt, footer []byte) (*mappedStream, error) {
	dataOffset := int64(binary.BigEndian.Uint64(footer[16:24]))

	header := make([]byte, 1024)
	if _, err := backing.ReadAt(header, dataOffset); err != nil {
		return nil, errors.Wrap(err, "diskimage: reading vhd dynamic header")
	}
	if binary.BigEndian.Uint64(header[0:8]) != vhdHeaderCookie {
		return nil, errors.Wrap(ErrUnsupportedContainer, "diskimage: bad vhd dynamic header cookie")
	}

	tableOffset := int64(binary.BigEndian.Uint64(header[16:24]))
	maxTableEntries := int64(binary.BigEndian.Uint32(header[28:32]))
	blockSize := int64(binary.BigEndian.Uint32(header[32:36]))
	currentSize := int64(binary.BigEndian.Uint64(footer[48:56]))

	bat := make([]byte, maxTableEntries*4)
	if _, err := backing.ReadAt(bat, tableOffset); err != nil {
		return nil, errors.Wrap(err, "diskimage: reading vhd block allocation table")
	}

	// Each allocated block is preceded by a 512-byte sector bitmap the
	// teacher's writer emits unconditionally (writeBAT); real VHD readers
	// must skip it, but since this adapter never marks a block partially
	// sparse, the simplification is to treat any allocated block as fully
	// present (documented in DESIGN.md).
	sectorBitmapSize := int64(512)

	resolve := func(block int64) (int64, bool) {
		if block >= maxTableEntries {
			return 0, false
		}
		sector := binary.BigEndian.Uint32(bat[block*4 : block*4+4])
		if sector == 0xFFFFFFFF {
			return 0, false
		}
		return int64(sector)*512 + sectorBitmapSize, true
	}

	return &mappedStream{
		backing: backing,
		m: &blockMap{
			blockSize: blockSize,
			capacity:  currentSize,
			resolve:   resolve,
		},
	}, nil
}
