package ntfs

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/bitmap"
	"github.com/sectorfs/corefs/pkg/vio"
)

// IndexRootHeader is the fixed prefix of an $INDEX_ROOT attribute's value
// (spec §3.6/§4.7): which attribute type is indexed, the collation rule,
// and the index-block geometry used once the index outgrows the root.
type IndexRootHeader struct {
	AttributeType                  AttributeType
	CollationRule                  CollationRule
	IndexAllocationSize            uint32
	ClustersPerIndexRecordExponent uint8
}

const indexRootFixedHeaderSize = 16

// ParseIndexRoot decodes an $INDEX_ROOT attribute value into its header and
// top-level entries.
func ParseIndexRoot(value []byte) (*IndexRootHeader, []*IndexEntry, error) {
	if len(value) < indexRootFixedHeaderSize {
		return nil, nil, errors.Wrap(ErrInvalidFormat, "ntfs: index root too short")
	}
	root := &IndexRootHeader{
		AttributeType:                  AttributeType(binary.LittleEndian.Uint32(value[0:])),
		CollationRule:                  CollationRule(binary.LittleEndian.Uint32(value[4:])),
		IndexAllocationSize:            binary.LittleEndian.Uint32(value[8:]),
		ClustersPerIndexRecordExponent: value[12],
	}
	entries, err := DecodeIndexEntries(value[indexRootFixedHeaderSize:])
	if err != nil {
		return nil, nil, err
	}
	return root, entries, nil
}

// EncodeIndexRoot is the inverse of ParseIndexRoot.
func EncodeIndexRoot(root *IndexRootHeader, entries []*IndexEntry) []byte {
	body := EncodeIndexEntries(entries)
	out := make([]byte, indexRootFixedHeaderSize+len(body))
	binary.LittleEndian.PutUint32(out[0:], uint32(root.AttributeType))
	binary.LittleEndian.PutUint32(out[4:], uint32(root.CollationRule))
	binary.LittleEndian.PutUint32(out[8:], root.IndexAllocationSize)
	out[12] = root.ClustersPerIndexRecordExponent
	copy(out[indexRootFixedHeaderSize:], body)
	return out
}

// indexBlockMagic marks an $INDEX_ALLOCATION block, sharing the multi-
// sector fix-up header layout of an MFT record (spec §3.6: index blocks
// "carry the same fix-up protection as MFT records").
var indexBlockMagic = []byte("INDX")

const indexBlockFixedHeaderSize = 24 // magic(4) + usaOffset(2) + usaCount(2) + lsn(8) + vcn(8)

func decodeIndexBlock(buf []byte, sectorSize int) (vcn uint64, entries []*IndexEntry, err error) {
	if len(buf) < indexBlockFixedHeaderSize {
		return 0, nil, errors.Wrap(ErrInvalidFormat, "ntfs: index block too short")
	}
	if string(buf[0:4]) != string(indexBlockMagic) {
		return 0, nil, errors.Wrap(ErrInvalidFormat, "ntfs: bad index block magic")
	}
	if err := applyFixup(buf, sectorSize); err != nil {
		return 0, nil, err
	}
	vcn = binary.LittleEndian.Uint64(buf[16:])
	usaOffset := int(binary.LittleEndian.Uint16(buf[4:]))
	usaCount := int(binary.LittleEndian.Uint16(buf[6:]))
	entriesStart := (usaOffset + usaCount*2 + 7) &^ 7
	if entriesStart > len(buf) {
		return 0, nil, errors.Wrap(ErrInvalidFormat, "ntfs: index block entries offset out of bounds")
	}
	entries, err = DecodeIndexEntries(buf[entriesStart:])
	return vcn, entries, err
}

func encodeIndexBlock(vcn uint64, entries []*IndexEntry, blockSize, sectorSize int) []byte {
	usaOffset := indexBlockFixedHeaderSize
	usaCount := blockSize/sectorSize + 1
	entriesStart := (usaOffset + usaCount*2 + 7) &^ 7

	buf := make([]byte, blockSize)
	copy(buf[0:4], indexBlockMagic)
	binary.LittleEndian.PutUint16(buf[4:], uint16(usaOffset))
	binary.LittleEndian.PutUint16(buf[6:], uint16(usaCount))
	binary.LittleEndian.PutUint64(buf[16:], vcn)
	copy(buf[entriesStart:], EncodeIndexEntries(entries))
	return applyUnfixup(buf, sectorSize, 1)
}

// DiskNodeStore adapts a real $INDEX_ROOT/$INDEX_ALLOCATION/$BITMAP triad
// to the NodeStore interface the B+-tree algorithm in index.go drives
// (spec §4.7). Sub-node numbering is block-relative, not a raw LCN: block
// i lives at byte offset i*blockSize within the $INDEX_ALLOCATION stream,
// and bit i of the companion $BITMAP marks it in use.
type DiskNodeStore struct {
	root         *IndexRootHeader
	rootEntries  []*IndexEntry
	rootCapacity int
	rootDirty    bool

	allocation vio.SparseStream
	bitmap     *bitmap.Bitmap
	blockSize  int
	sectorSize int
}

// NewDiskNodeStore wires an already-parsed root plus an allocation stream
// and bitmap. Both are nil for an index without $INDEX_ALLOCATION; no
// code here creates one, so AllocateNode then fails with ErrUnsupported
// and such an index cannot grow beyond its root.
func NewDiskNodeStore(root *IndexRootHeader, rootEntries []*IndexEntry, rootCapacity int, allocation vio.SparseStream, bm *bitmap.Bitmap, blockSize, sectorSize int) *DiskNodeStore {
	return &DiskNodeStore{
		root:         root,
		rootEntries:  rootEntries,
		rootCapacity: rootCapacity,
		allocation:   allocation,
		bitmap:       bm,
		blockSize:    blockSize,
		sectorSize:   sectorSize,
	}
}

func (s *DiskNodeStore) RootEntries() []*IndexEntry { return s.rootEntries }

func (s *DiskNodeStore) SetRootEntries(entries []*IndexEntry) {
	s.rootEntries = entries
	s.rootDirty = true
}

func (s *DiskNodeStore) RootCapacity() int { return s.rootCapacity }

// RootDirty reports whether SetRootEntries was called since the last
// EncodeIndexRoot by the owning File, which is responsible for writing the
// result back into the $INDEX_ROOT attribute's resident value.
func (s *DiskNodeStore) RootDirty() bool { return s.rootDirty }

func (s *DiskNodeStore) ClearRootDirty() { s.rootDirty = false }

func (s *DiskNodeStore) LoadNode(vcn uint64) ([]*IndexEntry, error) {
	if s.allocation == nil {
		return nil, errors.Wrap(ErrCorruptMetadata, "ntfs: index has sub-node reference but no $INDEX_ALLOCATION")
	}
	buf := make([]byte, s.blockSize)
	if _, err := s.allocation.Seek(int64(vcn)*int64(s.blockSize), io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(s.allocation, buf); err != nil {
		return nil, errors.Wrapf(err, "ntfs: reading index block %d", vcn)
	}
	_, entries, err := decodeIndexBlock(buf, s.sectorSize)
	return entries, err
}

func (s *DiskNodeStore) StoreNode(vcn uint64, entries []*IndexEntry) error {
	if s.allocation == nil {
		return errors.Wrap(ErrCorruptMetadata, "ntfs: storing index block with no $INDEX_ALLOCATION")
	}
	buf := encodeIndexBlock(vcn, entries, s.blockSize, s.sectorSize)
	if _, err := s.allocation.Seek(int64(vcn)*int64(s.blockSize), io.SeekStart); err != nil {
		return err
	}
	_, err := s.allocation.Write(buf)
	return err
}

func (s *DiskNodeStore) AllocateNode() (uint64, error) {
	if s.allocation == nil || s.bitmap == nil {
		return 0, errors.Wrap(ErrUnsupported, "ntfs: index has no $INDEX_ALLOCATION to grow into")
	}
	idx, err := s.bitmap.AllocateFirstAvailable(0)
	if err != nil {
		return 0, err
	}
	required := (idx + 1) * int64(s.blockSize)
	if s.allocation.Len() < required {
		if err := s.allocation.SetLen(required); err != nil {
			return 0, err
		}
	}
	return uint64(idx), nil
}

func (s *DiskNodeStore) FreeNode(vcn uint64) error {
	if s.bitmap == nil {
		return nil
	}
	return s.bitmap.MarkAbsent(int64(vcn))
}

func (s *DiskNodeStore) NodeCapacity() int {
	usaCount := s.blockSize/s.sectorSize + 1
	entriesStart := (indexBlockFixedHeaderSize + usaCount*2 + 7) &^ 7
	return s.blockSize - entriesStart
}

// MemoryNodeStore is an in-memory NodeStore, used by the index tests.
type MemoryNodeStore struct {
	root     []*IndexEntry
	nodes    map[uint64][]*IndexEntry
	nextVCN  uint64
	rootCap  int
	nodeCap  int
}

// NewMemoryNodeStore builds an empty store with the given per-node
// capacity budgets.
func NewMemoryNodeStore(rootCapacity, nodeCapacity int) *MemoryNodeStore {
	return &MemoryNodeStore{
		root:    []*IndexEntry{{Flags: EntryFlagEnd}},
		nodes:   make(map[uint64][]*IndexEntry),
		rootCap: rootCapacity,
		nodeCap: nodeCapacity,
	}
}

func (s *MemoryNodeStore) RootEntries() []*IndexEntry          { return s.root }
func (s *MemoryNodeStore) SetRootEntries(entries []*IndexEntry) { s.root = entries }
func (s *MemoryNodeStore) RootCapacity() int                    { return s.rootCap }
func (s *MemoryNodeStore) NodeCapacity() int                    { return s.nodeCap }

func (s *MemoryNodeStore) LoadNode(vcn uint64) ([]*IndexEntry, error) {
	entries, ok := s.nodes[vcn]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "ntfs: no such index node %d", vcn)
	}
	return entries, nil
}

func (s *MemoryNodeStore) StoreNode(vcn uint64, entries []*IndexEntry) error {
	s.nodes[vcn] = entries
	return nil
}

func (s *MemoryNodeStore) AllocateNode() (uint64, error) {
	vcn := s.nextVCN
	s.nextVCN++
	s.nodes[vcn] = []*IndexEntry{{Flags: EntryFlagEnd}}
	return vcn, nil
}

func (s *MemoryNodeStore) FreeNode(vcn uint64) error {
	delete(s.nodes, vcn)
	return nil
}
