package ntfs

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Index entry flags (spec §3.6).
const (
	EntryFlagNode uint16 = 0x01
	EntryFlagEnd  uint16 = 0x02
)

// IndexEntry is one B+-tree entry: length, key/data buffers, flags, and an
// optional child virtual-cluster-number pointer (spec §3.6).
type IndexEntry struct {
	Flags    uint16
	ChildVCN uint64
	Key      []byte
	Data     []byte
}

func (e *IndexEntry) IsNode() bool { return e.Flags&EntryFlagNode != 0 }
func (e *IndexEntry) IsEnd() bool  { return e.Flags&EntryFlagEnd != 0 }

// encodedSize is the entry's on-disk footprint: an 8-byte header, the key
// and data buffers, padded to 8 bytes, plus an 8-byte child pointer when
// the Node flag is set (spec §3.6: "padding to 8 B").
func (e *IndexEntry) encodedSize() int {
	size := 8 + len(e.Key) + len(e.Data)
	size = (size + 7) &^ 7
	if e.IsNode() {
		size += 8
	}
	return size
}

func (e *IndexEntry) clone() *IndexEntry {
	c := &IndexEntry{Flags: e.Flags, ChildVCN: e.ChildVCN}
	c.Key = append([]byte(nil), e.Key...)
	c.Data = append([]byte(nil), e.Data...)
	return c
}

// DecodeIndexEntries parses a node's entry list out of buf, stopping
// after the End-flagged terminal entry.
func DecodeIndexEntries(buf []byte) ([]*IndexEntry, error) {
	var entries []*IndexEntry
	off := 0
	for off+8 <= len(buf) {
		length := binary.LittleEndian.Uint16(buf[off:])
		keyLen := binary.LittleEndian.Uint16(buf[off+2:])
		dataLen := binary.LittleEndian.Uint16(buf[off+4:])
		flags := binary.LittleEndian.Uint16(buf[off+6:])
		if length < 8 || off+int(length) > len(buf) {
			return nil, errors.Wrap(ErrInvalidFormat, "ntfs: index entry length out of bounds")
		}

		e := &IndexEntry{Flags: flags}
		keyStart := off + 8
		if int(keyLen) > 0 {
			e.Key = append([]byte(nil), buf[keyStart:keyStart+int(keyLen)]...)
		}
		dataStart := keyStart + int(keyLen)
		if int(dataLen) > 0 {
			e.Data = append([]byte(nil), buf[dataStart:dataStart+int(dataLen)]...)
		}
		if e.IsNode() {
			e.ChildVCN = binary.LittleEndian.Uint64(buf[off+int(length)-8:])
		}

		entries = append(entries, e)
		off += int(length)
		if e.IsEnd() {
			break
		}
	}
	return entries, nil
}

// EncodeIndexEntries is the inverse of DecodeIndexEntries.
func EncodeIndexEntries(entries []*IndexEntry) []byte {
	var out []byte
	for _, e := range entries {
		size := e.encodedSize()
		rec := make([]byte, size)
		binary.LittleEndian.PutUint16(rec[0:], uint16(size))
		binary.LittleEndian.PutUint16(rec[2:], uint16(len(e.Key)))
		binary.LittleEndian.PutUint16(rec[4:], uint16(len(e.Data)))
		binary.LittleEndian.PutUint16(rec[6:], e.Flags)
		copy(rec[8:], e.Key)
		copy(rec[8+len(e.Key):], e.Data)
		if e.IsNode() {
			binary.LittleEndian.PutUint64(rec[size-8:], e.ChildVCN)
		}
		out = append(out, rec...)
	}
	return out
}

// NodeStore is the storage collaborator the B+-tree algorithm drives: the
// root entry list plus however sub-nodes are addressed and persisted. A
// MemoryNodeStore backs tests; DiskNodeStore (index_disk.go) backs a real
// $INDEX_ROOT/$INDEX_ALLOCATION/$BITMAP triad (spec §4.7).
type NodeStore interface {
	RootEntries() []*IndexEntry
	SetRootEntries([]*IndexEntry)
	RootCapacity() int

	LoadNode(vcn uint64) ([]*IndexEntry, error)
	StoreNode(vcn uint64, entries []*IndexEntry) error
	AllocateNode() (uint64, error)
	FreeNode(vcn uint64) error
	NodeCapacity() int
}

// Index is the B+-tree directory/system index (spec §3.6, §4.7).
type Index struct {
	store    NodeStore
	collator Collator
}

// NewIndex builds an Index over an existing store.
func NewIndex(store NodeStore, collator Collator) *Index {
	return &Index{store: store, collator: collator}
}

func entriesSize(entries []*IndexEntry) int {
	n := 0
	for _, e := range entries {
		n += e.encodedSize()
	}
	return n
}

// nodeRef identifies a node: either the root (vcn ignored) or a numbered
// sub-node.
type nodeRef struct {
	isRoot bool
	vcn    uint64
}

func (idx *Index) loadEntries(ref nodeRef) ([]*IndexEntry, error) {
	if ref.isRoot {
		return idx.store.RootEntries(), nil
	}
	return idx.store.LoadNode(ref.vcn)
}

func (idx *Index) storeEntries(ref nodeRef, entries []*IndexEntry) error {
	if ref.isRoot {
		idx.store.SetRootEntries(entries)
		return nil
	}
	return idx.store.StoreNode(ref.vcn, entries)
}

func (idx *Index) capacity(ref nodeRef) int {
	if ref.isRoot {
		return idx.store.RootCapacity()
	}
	return idx.store.NodeCapacity()
}

// Search walks down from the root, returning the matching entry if found.
func (idx *Index) Search(key []byte) (*IndexEntry, bool, error) {
	ref := nodeRef{isRoot: true}
	for {
		entries, err := idx.loadEntries(ref)
		if err != nil {
			return nil, false, err
		}
		match, childVCN, hasChild, found := idx.searchNode(entries, key)
		if found {
			return match, true, nil
		}
		if !hasChild {
			return nil, false, nil
		}
		ref = nodeRef{vcn: childVCN}
	}
}

// searchNode implements the per-node linear scan of spec §4.7: on exact
// match, return it; on key < entry.key, recurse into that entry's child
// if present; otherwise continue to the terminal End entry and recurse
// into its child if present.
func (idx *Index) searchNode(entries []*IndexEntry, key []byte) (match *IndexEntry, childVCN uint64, hasChild bool, found bool) {
	for _, e := range entries {
		if e.IsEnd() {
			if e.IsNode() {
				return nil, e.ChildVCN, true, false
			}
			return nil, 0, false, false
		}
		c := idx.collator(key, e.Key)
		if c == 0 {
			return e, 0, false, true
		}
		if c < 0 {
			if e.IsNode() {
				return nil, e.ChildVCN, true, false
			}
			return nil, 0, false, false
		}
	}
	return nil, 0, false, false
}

// searchInsertPosition finds where key belongs within entries (before the
// first entry whose key compares greater, or before the End entry), and
// whether child recursion is needed first.
func (idx *Index) searchInsertPosition(entries []*IndexEntry, key []byte) (pos int, recurseChild uint64, recurse bool, duplicate bool) {
	for i, e := range entries {
		if e.IsEnd() {
			if e.IsNode() {
				return i, e.ChildVCN, true, false
			}
			return i, 0, false, false
		}
		c := idx.collator(key, e.Key)
		if c == 0 {
			return i, 0, false, true
		}
		if c < 0 {
			if e.IsNode() {
				return i, e.ChildVCN, true, false
			}
			return i, 0, false, false
		}
	}
	return len(entries), 0, false, false
}

// Insert adds a new leaf entry (spec §4.7 Insert).
func (idx *Index) Insert(key, data []byte) error {
	return idx.insertInto(nodeRef{isRoot: true}, &IndexEntry{Key: append([]byte(nil), key...), Data: append([]byte(nil), data...)})
}

func (idx *Index) insertInto(ref nodeRef, newEntry *IndexEntry) error {
	entries, err := idx.loadEntries(ref)
	if err != nil {
		return err
	}

	pos, childVCN, recurse, duplicate := idx.searchInsertPosition(entries, newEntry.Key)
	if duplicate {
		return ErrAlreadyExists
	}

	if recurse {
		promoted, err := idx.insertRecursive(nodeRef{vcn: childVCN}, newEntry)
		if err != nil {
			return err
		}
		if promoted == nil {
			return nil
		}
		entries, err = idx.loadEntries(ref)
		if err != nil {
			return err
		}
		pos, _, _, duplicate = idx.searchInsertPosition(entries, promoted.Key)
		if duplicate {
			return ErrAlreadyExists
		}
		newEntry = promoted
	}

	entries = insertAt(entries, pos, newEntry)
	return idx.persistAfterInsert(ref, entries)
}

// insertRecursive inserts into a non-root node, returning a promotion
// entry if the node had to be divided.
func (idx *Index) insertRecursive(ref nodeRef, newEntry *IndexEntry) (*IndexEntry, error) {
	entries, err := idx.loadEntries(ref)
	if err != nil {
		return nil, err
	}
	pos, childVCN, recurse, duplicate := idx.searchInsertPosition(entries, newEntry.Key)
	if duplicate {
		return nil, ErrAlreadyExists
	}
	if recurse {
		promoted, err := idx.insertRecursive(nodeRef{vcn: childVCN}, newEntry)
		if err != nil {
			return nil, err
		}
		if promoted == nil {
			return nil, nil
		}
		entries, err = idx.loadEntries(ref)
		if err != nil {
			return nil, err
		}
		pos, _, _, duplicate = idx.searchInsertPosition(entries, promoted.Key)
		if duplicate {
			return nil, ErrAlreadyExists
		}
		newEntry = promoted
	}
	entries = insertAt(entries, pos, newEntry)

	if entriesSize(entries) <= idx.capacity(ref) {
		if err := idx.storeEntries(ref, entries); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// divide (spec §4.7 step 4, non-root branch).
	return idx.divide(ref, entries)
}

func insertAt(entries []*IndexEntry, pos int, e *IndexEntry) []*IndexEntry {
	out := make([]*IndexEntry, 0, len(entries)+1)
	out = append(out, entries[:pos]...)
	out = append(out, e)
	out = append(out, entries[pos:]...)
	return out
}

// persistAfterInsert stores entries, demoting the root if it now exceeds
// its available space (spec §4.7 step 4, root branch).
func (idx *Index) persistAfterInsert(ref nodeRef, entries []*IndexEntry) error {
	if entriesSize(entries) <= idx.capacity(ref) {
		return idx.storeEntries(ref, entries)
	}
	if !ref.isRoot {
		_, err := idx.divide(ref, entries)
		return err
	}
	return idx.demoteRoot(entries)
}

// demoteRoot allocates a new block, moves all entries into it, and
// replaces the root with a single End+Node entry pointing to it.
func (idx *Index) demoteRoot(entries []*IndexEntry) error {
	vcn, err := idx.store.AllocateNode()
	if err != nil {
		return err
	}
	if err := idx.store.StoreNode(vcn, entries); err != nil {
		return err
	}
	idx.store.SetRootEntries([]*IndexEntry{{Flags: EntryFlagEnd | EntryFlagNode, ChildVCN: vcn}})
	return nil
}

// divide splits an over-full non-root node: the middle entry is promoted
// to the parent, entries before it plus a new End entry (carrying the
// middle entry's child pointer) move to a fresh block.
func (idx *Index) divide(ref nodeRef, entries []*IndexEntry) (*IndexEntry, error) {
	mid := len(entries) / 2
	middle := entries[mid]

	leftVCN, err := idx.store.AllocateNode()
	if err != nil {
		return nil, err
	}
	left := make([]*IndexEntry, 0, mid+1)
	for _, e := range entries[:mid] {
		left = append(left, e.clone())
	}
	left = append(left, &IndexEntry{Flags: EntryFlagEnd | (middle.Flags & EntryFlagNode), ChildVCN: middle.ChildVCN})
	if err := idx.store.StoreNode(leftVCN, left); err != nil {
		return nil, err
	}

	right := entries[mid+1:]
	if err := idx.store.StoreNode(ref.vcn, right); err != nil {
		return nil, err
	}

	promoted := middle.clone()
	promoted.Flags |= EntryFlagNode
	promoted.ChildVCN = leftVCN
	return promoted, nil
}

// Update replaces an existing entry's data in place if the encoded size
// doesn't change; a size change is rejected (spec §4.7 Update and §9 open
// question 1: "the safe implementation is remove + insert").
func (idx *Index) Update(key, newData []byte) error {
	return idx.updateIn(nodeRef{isRoot: true}, key, newData)
}

func (idx *Index) updateIn(ref nodeRef, key, newData []byte) error {
	entries, err := idx.loadEntries(ref)
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.IsEnd() {
			if e.IsNode() {
				return idx.updateIn(nodeRef{vcn: e.ChildVCN}, key, newData)
			}
			return ErrNotFound
		}
		c := idx.collator(key, e.Key)
		if c == 0 {
			oldSize := e.encodedSize()
			candidate := e.clone()
			candidate.Data = append([]byte(nil), newData...)
			if candidate.encodedSize() != oldSize {
				return errors.Wrap(ErrUnsupported, "ntfs: index update changes entry size, remove+insert instead")
			}
			entries[i] = candidate
			return idx.storeEntries(ref, entries)
		}
		if c < 0 {
			if e.IsNode() {
				return idx.updateIn(nodeRef{vcn: e.ChildVCN}, key, newData)
			}
			return ErrNotFound
		}
	}
	return ErrNotFound
}

// Iterate returns every entry in collation order, skipping End markers
// (spec §4.7 Iteration: "in-order walk skipping End-flagged entries").
func (idx *Index) Iterate() ([]*IndexEntry, error) {
	var out []*IndexEntry
	if err := idx.walk(nodeRef{isRoot: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (idx *Index) walk(ref nodeRef, out *[]*IndexEntry) error {
	entries, err := idx.loadEntries(ref)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsNode() && !e.IsEnd() {
			if err := idx.walk(nodeRef{vcn: e.ChildVCN}, out); err != nil {
				return err
			}
		}
		if !e.IsEnd() {
			*out = append(*out, e)
		}
	}
	// visit the End entry's child last, it holds the largest keys.
	if len(entries) > 0 {
		last := entries[len(entries)-1]
		if last.IsEnd() && last.IsNode() {
			if err := idx.walk(nodeRef{vcn: last.ChildVCN}, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Prober is an arbitrary probe used by FindAll (spec §4.7): CompareTo
// reports how a key compares to the probe's target, 0 meaning a match.
type Prober interface {
	CompareTo(key []byte) int
}

// FindAll visits every subtree of the index, returning all matching
// entries (CompareTo == 0). No branch is pruned: a non-zero CompareTo
// result only means the entry is not returned.
func (idx *Index) FindAll(probe Prober) ([]*IndexEntry, error) {
	var out []*IndexEntry
	if err := idx.findAllIn(nodeRef{isRoot: true}, probe, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (idx *Index) findAllIn(ref nodeRef, probe Prober, out *[]*IndexEntry) error {
	entries, err := idx.loadEntries(ref)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsEnd() {
			if c := probe.CompareTo(e.Key); c == 0 {
				*out = append(*out, e)
			} else if c < 0 {
				// not a match; scanning continues through the
				// remaining entries and their subtrees.
			}
		}
		if e.IsNode() {
			if err := idx.findAllIn(nodeRef{vcn: e.ChildVCN}, probe, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete removes an entry (spec §4.7 Delete: locate; if internal, splice
// in the rightmost-leaf predecessor of its own subtree; lift empty
// children; populate-end to maintain the rightmost-child invariant).
func (idx *Index) Delete(key []byte) error {
	return idx.deleteFrom(nodeRef{isRoot: true}, key)
}

func (idx *Index) deleteFrom(ref nodeRef, key []byte) error {
	entries, err := idx.loadEntries(ref)
	if err != nil {
		return err
	}

	for i, e := range entries {
		if e.IsEnd() {
			if e.IsNode() {
				if err := idx.deleteFrom(nodeRef{vcn: e.ChildVCN}, key); err != nil {
					return err
				}
				return idx.postDeleteFixup(ref)
			}
			return ErrNotFound
		}
		c := idx.collator(key, e.Key)
		if c < 0 {
			if e.IsNode() {
				if err := idx.deleteFrom(nodeRef{vcn: e.ChildVCN}, key); err != nil {
					return err
				}
				return idx.postDeleteFixup(ref)
			}
			return ErrNotFound
		}
		if c > 0 {
			continue
		}

		// exact match at entries[i].
		if !e.IsNode() {
			entries = append(entries[:i], entries[i+1:]...)
			if err := idx.storeEntries(ref, entries); err != nil {
				return err
			}
			return idx.postDeleteFixup(ref)
		}

		// internal entry: splice in the largest leaf key of its subtree.
		pred, err := idx.removeRightmostLeaf(nodeRef{vcn: e.ChildVCN})
		if err != nil {
			return err
		}
		replacement := pred.clone()
		replacement.Flags = e.Flags
		replacement.ChildVCN = e.ChildVCN
		entries[i] = replacement
		if err := idx.storeEntries(ref, entries); err != nil {
			return err
		}
		if err := idx.postDeleteFixup(nodeRef{vcn: e.ChildVCN}); err != nil {
			return err
		}
		return idx.postDeleteFixup(ref)
	}
	return ErrNotFound
}

// removeRightmostLeaf finds and removes the largest-keyed leaf entry
// within the subtree rooted at ref, returning it.
func (idx *Index) removeRightmostLeaf(ref nodeRef) (*IndexEntry, error) {
	entries, err := idx.loadEntries(ref)
	if err != nil {
		return nil, err
	}
	last := entries[len(entries)-1]
	if last.IsEnd() && last.IsNode() {
		pred, err := idx.removeRightmostLeaf(nodeRef{vcn: last.ChildVCN})
		if err != nil {
			return nil, err
		}
		if err := idx.postDeleteFixup(nodeRef{vcn: last.ChildVCN}); err != nil {
			return nil, err
		}
		return pred, nil
	}
	// the rightmost non-End entry in this node is the largest leaf key.
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].IsEnd() {
			pred := entries[i]
			entries = append(entries[:i], entries[i+1:]...)
			if err := idx.storeEntries(ref, entries); err != nil {
				return nil, err
			}
			return pred, nil
		}
	}
	return nil, errors.Wrap(ErrCorruptMetadata, "ntfs: index node has no leaf entries")
}

// postDeleteFixup applies lift and populate-end (spec §4.7 steps 3-4),
// then re-checks node size.
func (idx *Index) postDeleteFixup(ref nodeRef) error {
	entries, err := idx.loadEntries(ref)
	if err != nil {
		return err
	}

	changed := false
	for i, e := range entries {
		if !e.IsNode() || e.IsEnd() {
			continue
		}
		child, err := idx.loadEntries(nodeRef{vcn: e.ChildVCN})
		if err != nil {
			return err
		}
		if len(child) == 1 && child[0].IsEnd() {
			// lift: absorb the child's own child pointer (if any).
			if err := idx.store.FreeNode(e.ChildVCN); err != nil {
				return err
			}
			if child[0].IsNode() {
				entries[i].ChildVCN = child[0].ChildVCN
			} else {
				entries[i].Flags &^= EntryFlagNode
			}
			changed = true
		}
	}

	// populate-end: if the next-to-last entry is a Node and the last is a
	// bare End, move the next-to-last's child pointer onto End.
	if n := len(entries); n >= 2 {
		last := entries[n-1]
		prev := entries[n-2]
		if last.IsEnd() && !last.IsNode() && prev.IsNode() && !prev.IsEnd() {
			entries[n-1] = &IndexEntry{Flags: EntryFlagEnd | EntryFlagNode, ChildVCN: prev.ChildVCN}
			pushed := prev.clone()
			pushed.Flags &^= EntryFlagNode
			if err := idx.pushIntoChild(entries[n-1].ChildVCN, pushed); err != nil {
				return err
			}
			entries = append(entries[:n-2], entries[n-1:]...)
			changed = true
		}
	}

	if changed {
		if err := idx.storeEntries(ref, entries); err != nil {
			return err
		}
	}
	return idx.persistAfterInsert(ref, entries)
}

// pushIntoChild inserts an entry directly into a child node's entry list
// (used by populate-end, which doesn't go through ordinary Insert since
// the entry's position relative to the child's existing keys is already
// known to be "greatest").
func (idx *Index) pushIntoChild(vcn uint64, e *IndexEntry) error {
	entries, err := idx.store.LoadNode(vcn)
	if err != nil {
		return err
	}
	pos := len(entries) - 1
	if pos < 0 {
		pos = 0
	}
	entries = insertAt(entries, pos, e)
	return idx.store.StoreNode(vcn, entries)
}
