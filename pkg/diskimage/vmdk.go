package diskimage

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// vmdkMagic, sectorSize and the grain geometry constants mirror the
// teacher's pkg/vmdk/common.go Header exactly; this reader walks the same
// grain-directory/grain-table structure that writer builds, in reverse.
const (
	vmdkMagic           = 0x564d444b
	vmdkSectorSize       = 0x200
	vmdkTableMaxRows     = 512
	vmdkTableRowSize     = 4
)

// OpenVMDK parses a monolithicSparse VMDK's header and grain directory off
// backing and returns a read-only sector stream over the logical disk.
func OpenVMDK(backing io.ReaderAt) (*mappedStream, error) {
	hdr := make([]byte, 512)
	if _, err := backing.ReadAt(hdr, 0); err != nil {
		return nil, errors.Wrap(err, "diskimage: reading vmdk header")
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != vmdkMagic {
		return nil, errors.Wrap(ErrUnsupportedContainer, "diskimage: not a vmdk sparse image")
	}

	capacitySectors := int64(binary.LittleEndian.Uint64(hdr[12:20]))
	grainSizeSectors := int64(binary.LittleEndian.Uint64(hdr[20:28]))
	numGTEsPerGT := int64(binary.LittleEndian.Uint32(hdr[44:48]))
	gdOffsetSectors := int64(binary.LittleEndian.Uint64(hdr[56:64]))

	grainSizeBytes := grainSizeSectors * vmdkSectorSize
	capacity := capacitySectors * vmdkSectorSize

	totalGrains := (capacitySectors + grainSizeSectors - 1) / grainSizeSectors
	totalTables := (totalGrains + numGTEsPerGT - 1) / numGTEsPerGT

	gd := make([]byte, totalTables*4)
	if _, err := backing.ReadAt(gd, gdOffsetSectors*vmdkSectorSize); err != nil {
		return nil, errors.Wrap(err, "diskimage: reading vmdk grain directory")
	}

	// Grain tables are read lazily and cached, since a large disk's full
	// table set can be sizable; resolve() only ever touches the table
	// covering the block it's asked about.
	tableCache := make(map[int64][]byte)
	loadTable := func(tableIndex int64) ([]byte, error) {
		if gt, ok := tableCache[tableIndex]; ok {
			return gt, nil
		}
		gtSectorOffset := binary.LittleEndian.Uint32(gd[tableIndex*4 : tableIndex*4+4])
		if gtSectorOffset == 0 {
			tableCache[tableIndex] = nil
			return nil, nil
		}
		gt := make([]byte, numGTEsPerGT*vmdkTableRowSize)
		if _, err := backing.ReadAt(gt, int64(gtSectorOffset)*vmdkSectorSize); err != nil {
			return nil, err
		}
		tableCache[tableIndex] = gt
		return gt, nil
	}

	resolve := func(block int64) (int64, bool) {
		tableIndex := block / numGTEsPerGT
		entryIndex := block % numGTEsPerGT
		gt, err := loadTable(tableIndex)
		if err != nil || gt == nil {
			return 0, false
		}
		grainSector := binary.LittleEndian.Uint32(gt[entryIndex*4 : entryIndex*4+4])
		if grainSector == 0 {
			return 0, false
		}
		return int64(grainSector) * vmdkSectorSize, true
	}

	return &mappedStream{
		backing: backing,
		m: &blockMap{
			blockSize: grainSizeBytes,
			capacity:  capacity,
			resolve:   resolve,
		},
	}, nil
}
