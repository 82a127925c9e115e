package ntfs

import (
	"io"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/bitmap"
	"github.com/sectorfs/corefs/pkg/extent"
	"github.com/sectorfs/corefs/pkg/vio"
)

// indexAttrName is the fixed name NTFS uses for the directory B+-tree's
// $INDEX_ROOT/$INDEX_ALLOCATION/$BITMAP triad (spec §3.6).
const indexAttrName = "$I30"

// defaultIndexBlockSize matches the common real-world choice (one 4 KiB
// cluster per index block) used whenever this package allocates a fresh
// directory index.
const defaultIndexBlockSize = 4096

// File aggregates one primary MFT record plus any extension records
// chained via $ATTRIBUTE_LIST (spec §4.8). Attribute mutation in this
// package is scoped to attributes that live in the primary record — the
// common case for everything except very large, heavily fragmented
// non-resident streams whose run list has itself spilled into an
// extension record, which DESIGN.md calls out as a documented
// simplification rather than a silent gap.
type File struct {
	volume *Volume
	mft    *MFT

	index  uint32
	record *Record
	attrs  []*Attribute

	// extensionAttrs marks which entries of attrs were pulled in from an
	// extension record by mergeExtensions, so persist() knows not to
	// rewrite them into the primary record.
	extensionAttrs map[*Attribute]bool
}

// OpenFile loads a file's primary record and its directly-held attributes,
// additionally indexing (but not yet merging) its extension records if an
// $ATTRIBUTE_LIST is present.
func OpenFile(mft *MFT, index uint32) (*File, error) {
	rec, err := mft.GetRecord(index)
	if err != nil {
		return nil, err
	}
	if !rec.Header.InUse() {
		return nil, ErrNotFound
	}
	attrs, err := ParseAttributes(rec.Data, int(rec.Header.FirstAttributeOffset))
	if err != nil {
		return nil, err
	}

	f := &File{volume: mft.volume, mft: mft, index: index, record: rec, attrs: attrs}
	if err := f.mergeExtensions(); err != nil {
		return nil, err
	}
	return f, nil
}

// mergeExtensions follows a resident/non-resident $ATTRIBUTE_LIST to pull
// in attributes held by extension records chained off this file's primary
// record (spec §3.4/§4.8, SPEC_FULL §3).
func (f *File) mergeExtensions() error {
	var listAttr *Attribute
	for _, a := range f.attrs {
		if a.Type == AttrAttributeList && a.Name == "" {
			listAttr = a
			break
		}
	}
	if listAttr == nil {
		return nil
	}

	var raw []byte
	if listAttr.NonResident {
		cs := NewClusterStream(f.volume, listAttr)
		raw = make([]byte, cs.Len())
		if _, err := io.ReadFull(cs, raw); err != nil {
			return errors.Wrap(err, "ntfs: reading $ATTRIBUTE_LIST")
		}
	} else {
		raw = listAttr.Value
	}

	entries, err := ParseAttributeList(raw)
	if err != nil {
		return err
	}

	seen := make(map[uint16]bool)
	for _, a := range f.attrs {
		seen[a.ID] = true
	}

	for _, e := range entries {
		if e.FileReference.Index() == uint64(f.index) {
			continue
		}
		if seen[e.AttributeID] {
			continue
		}
		extRec, err := f.mft.GetRecordChecked(e.FileReference)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		extAttrs, err := ParseAttributes(extRec.Data, int(extRec.Header.FirstAttributeOffset))
		if err != nil {
			return err
		}
		for _, a := range extAttrs {
			if a.ID == e.AttributeID {
				f.attrs = append(f.attrs, a)
				seen[a.ID] = true
				if f.extensionAttrs == nil {
					f.extensionAttrs = make(map[*Attribute]bool)
				}
				f.extensionAttrs[a] = true
			}
		}
	}
	return nil
}

// CreateFile allocates a new MFT record and formats it with
// $STANDARD_INFORMATION and $FILE_NAME (plus, for directories, a blank
// $INDEX_ROOT) but does not link it into any parent directory — callers
// follow up with parent.LinkChild (spec §4.8, §8 boundary scenario 3/4).
func CreateFile(mft *MFT, parentRef FileReference, longName string, isDirectory bool, upcase *UpCaseTable, now uint64) (*File, *FileNameAttribute, error) {
	if mft.volume.Options.ReadOnly {
		return nil, nil, ErrReadOnly
	}

	idx, err := mft.AllocateRecord(false)
	if err != nil {
		return nil, nil, err
	}
	rec, err := mft.GetRecord(idx)
	if err != nil {
		return nil, nil, err
	}
	rec.Header.Flags |= RecordFlagInUse
	if isDirectory {
		rec.Header.Flags |= RecordFlagDirectory
	}
	rec.Header.HardLinkCount = 1

	si := &StandardInformation{CreationTime: now, LastModified: now, RecordChanged: now, LastAccessed: now}
	stdInfoAttr := &Attribute{Type: AttrStandardInformation, ID: 0, Value: si.Encode()}

	namespace := NamespaceWin32
	if Is83Compliant(longName) {
		namespace = NamespaceWin32AndDOS
	}
	var fnFlags uint32
	if isDirectory {
		fnFlags = FileAttrDirectory
	}
	fn := &FileNameAttribute{
		ParentDirectory: parentRef,
		CreationTime:    now,
		LastModified:    now,
		LastMFTChange:   now,
		LastAccess:      now,
		Flags:           fnFlags,
		Namespace:       namespace,
		Name:            longName,
	}
	fileNameAttr := &Attribute{Type: AttrFileName, ID: 1, Value: fn.Encode()}

	attrs := []*Attribute{stdInfoAttr, fileNameAttr}
	nextID := uint16(2)
	if isDirectory {
		root := &IndexRootHeader{
			AttributeType:                  AttrFileName,
			CollationRule:                  CollationFilename,
			IndexAllocationSize:            defaultIndexBlockSize,
			ClustersPerIndexRecordExponent: 0,
		}
		rootAttr := &Attribute{
			Type: AttrIndexRoot, Name: indexAttrName, ID: nextID,
			Value: EncodeIndexRoot(root, []*IndexEntry{{Flags: EntryFlagEnd}}),
		}
		attrs = append(attrs, rootAttr)
		nextID++
	}
	rec.Header.NextAttributeID = nextID

	f := &File{volume: mft.volume, mft: mft, index: idx, record: rec, attrs: attrs}
	if err := f.persist(); err != nil {
		return nil, nil, err
	}
	return f, fn, nil
}

// GenerateUniqueShortName probes parent's directory index for a free
// 8.3 alias for longName, starting at tail "~1" (spec §8 boundary
// scenario 4).
func GenerateUniqueShortName(parent *File, longName string, upcase *UpCaseTable) (string, error) {
	for n := 1; n < 100000; n++ {
		candidate := GenerateShortName(longName, n, upcase)
		_, found, err := parent.FindChild(candidate, upcase)
		if err != nil {
			return "", err
		}
		if !found {
			return candidate, nil
		}
	}
	return "", errors.Wrap(ErrNoSpace, "ntfs: exhausted short name tail numbers")
}

// Reference returns the FileReference identifying this file's primary
// record.
func (f *File) Reference() FileReference {
	return NewFileReference(uint64(f.index), f.record.Header.SequenceNumber)
}

// IsDirectory reports the primary record's directory flag.
func (f *File) IsDirectory() bool { return f.record.Header.IsDirectory() }

// AddFileName attaches an additional $FILE_NAME attribute (the DOS short
// name alongside the long Win32 name, spec §8 boundary scenario 4) and
// persists the record.
func (f *File) AddFileName(fn *FileNameAttribute) error {
	a := &Attribute{Type: AttrFileName, ID: f.nextAttributeID(), Value: fn.Encode()}
	f.attrs = append(f.attrs, a)
	return f.persist()
}

func (f *File) find(typ AttributeType, name string) *Attribute {
	for _, a := range f.attrs {
		if a.Type == typ && a.Name == name {
			return a
		}
	}
	return nil
}

func (f *File) findAll(typ AttributeType) []*Attribute {
	var out []*Attribute
	for _, a := range f.attrs {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

// StandardInformation decodes the file's $STANDARD_INFORMATION attribute.
func (f *File) StandardInformation() (*StandardInformation, error) {
	a := f.find(AttrStandardInformation, "")
	if a == nil {
		return nil, errors.Wrap(ErrCorruptMetadata, "ntfs: file missing $STANDARD_INFORMATION")
	}
	return ParseStandardInformation(a.Value)
}

// setStandardInformation replaces the resident $STANDARD_INFORMATION value
// and persists the primary record.
func (f *File) setStandardInformation(si *StandardInformation) error {
	a := f.find(AttrStandardInformation, "")
	if a == nil {
		return errors.Wrap(ErrCorruptMetadata, "ntfs: file missing $STANDARD_INFORMATION")
	}
	a.Value = si.Encode()
	return f.persist()
}

// FileNames returns every $FILE_NAME attribute (long name, and a short
// name alias when one was generated).
func (f *File) FileNames() ([]*FileNameAttribute, error) {
	var out []*FileNameAttribute
	for _, a := range f.findAll(AttrFileName) {
		fn, err := ParseFileName(a.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, fn)
	}
	return out, nil
}

// PrimaryName picks the name enumeration should show: the Win32/POSIX long
// name, unless hideDos is false and only a bare Dos name exists.
func (f *File) PrimaryName(hideDos bool) (string, error) {
	names, err := f.FileNames()
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if n.Namespace == NamespaceWin32 || n.Namespace == NamespaceWin32AndDOS || n.Namespace == NamespacePOSIX {
			return n.Name, nil
		}
	}
	if !hideDos {
		for _, n := range names {
			if n.Namespace == NamespaceDOS {
				return n.Name, nil
			}
		}
	}
	return "", ErrNotFound
}

// ShortName returns the 8.3 alias, if one exists.
func (f *File) ShortName() (string, bool, error) {
	names, err := f.FileNames()
	if err != nil {
		return "", false, err
	}
	for _, n := range names {
		if n.Namespace == NamespaceDOS || n.Namespace == NamespaceWin32AndDOS {
			return n.Name, true, nil
		}
	}
	return "", false, nil
}

// ObjectID decodes the file's $OBJECT_ID attribute, if present (SPEC_FULL
// §3).
func (f *File) ObjectID() (*ObjectID, bool, error) {
	a := f.find(AttrObjectID, "")
	if a == nil {
		return nil, false, nil
	}
	oid, err := DecodeObjectID(a.Value)
	if err != nil {
		return nil, false, err
	}
	return oid, true, nil
}

// Streams lists the names of this file's $DATA attributes ("" for the
// unnamed default stream).
func (f *File) Streams() []string {
	var out []string
	for _, a := range f.findAll(AttrData) {
		out = append(out, a.Name)
	}
	return out
}

// OpenStream opens a named (or, for "", unnamed) $DATA stream for
// transactional reads and writes (spec §4.8).
func (f *File) OpenStream(name string) (*NtfsFileStream, error) {
	a := f.find(AttrData, name)
	if a == nil {
		return nil, ErrNotFound
	}
	var s vio.SparseStream
	if a.NonResident {
		s = NewClusterStream(f.volume, a)
	} else {
		s = vio.NewMemoryStreamFromBytes(a.Value)
	}
	return &NtfsFileStream{file: f, attr: a, stream: s}, nil
}

// CreateStream adds a new, empty resident $DATA attribute (spec §4.8
// "open/create a named data stream").
func (f *File) CreateStream(name string) (*NtfsFileStream, error) {
	if f.find(AttrData, name) != nil {
		return nil, ErrAlreadyExists
	}
	a := &Attribute{Type: AttrData, Name: name, ID: f.nextAttributeID()}
	f.attrs = append(f.attrs, a)
	if err := f.persist(); err != nil {
		return nil, err
	}
	return &NtfsFileStream{file: f, attr: a, stream: vio.NewMemoryStream()}, nil
}

func (f *File) nextAttributeID() uint16 {
	id := f.record.Header.NextAttributeID
	f.record.Header.NextAttributeID++
	return id
}

// persist re-encodes every attribute this file holds directly (i.e. those
// owned by the primary record) back into the record buffer and flushes it
// through the MFT (spec §4.5 "FlushRecord").
func (f *File) persist() error {
	var primary []*Attribute
	for _, a := range f.attrs {
		if f.ownedByPrimary(a) {
			primary = append(primary, a)
		}
	}

	var body []byte
	for _, a := range primary {
		body = append(body, a.Encode()...)
	}
	endMarker := make([]byte, 8)
	for i := 0; i < 4; i++ {
		endMarker[i] = 0xFF
	}
	body = append(body, endMarker...)

	total := int(f.record.Header.FirstAttributeOffset) + len(body)
	if total > int(f.record.Header.AllocatedSize) {
		return errors.Wrap(ErrNoSpace, "ntfs: record attributes exceed allocated size")
	}

	newData := make([]byte, len(f.record.Data))
	copy(newData, f.record.Data[:f.record.Header.FirstAttributeOffset])
	copy(newData[f.record.Header.FirstAttributeOffset:], body)
	f.record.Data = newData
	f.record.Header.RealSize = uint32(total)

	return f.mft.FlushRecord(f.index, f.record)
}

// ownedByPrimary reports whether an attribute's bytes physically belong in
// this file's primary record, as opposed to an extension record merged in
// by mergeExtensions. Every attribute this package itself ever creates is
// primary-resident by construction; extension records only arise from
// pre-existing $ATTRIBUTE_LIST entries this package round-trips but does
// not yet re-home (see DESIGN.md), so persist() never rewrites one of
// those back out.
func (f *File) ownedByPrimary(a *Attribute) bool {
	return f.extensionAttrs == nil || !f.extensionAttrs[a]
}

// NtfsFileStream wraps one $DATA attribute's bytes for transactional I/O
// (spec §4.8): a begin/commit scope around each mutating call, timestamp
// bookkeeping, and an MFT flush on close.
type NtfsFileStream struct {
	file   *File
	attr   *Attribute
	stream vio.SparseStream

	active   bool
	modified bool
	accessed bool
}

// Begin opens a transaction scope (spec §4.8: "begins a per-operation
// transaction around every mutating call").
func (s *NtfsFileStream) Begin() { s.active = true }

func (s *NtfsFileStream) Read(p []byte) (int, error) {
	n, err := s.stream.Read(p)
	if n > 0 {
		s.accessed = true
	}
	return n, err
}

func (s *NtfsFileStream) Write(p []byte) (int, error) {
	if s.file.volume.Options.ReadOnly {
		return 0, ErrReadOnly
	}
	n, err := s.stream.Write(p)
	if n > 0 {
		s.modified = true
		s.accessed = true
	}
	return n, err
}

func (s *NtfsFileStream) Seek(offset int64, whence int) (int64, error) {
	return s.stream.Seek(offset, whence)
}

func (s *NtfsFileStream) Len() int64 { return s.stream.Len() }

// Extents reports the stream's non-hole byte ranges (ClusterStream tracks
// real sparseness; vio.MemoryStream, backing resident attributes, reports
// the whole range as one extent). Export uses this to skip re-reading
// holes when copying the stream out to an external writer.
func (s *NtfsFileStream) Extents() ([]extent.StreamExtent, bool) {
	return s.stream.Extents()
}

func (s *NtfsFileStream) SetLen(n int64) error {
	if s.file.volume.Options.ReadOnly {
		return ErrReadOnly
	}
	s.modified = true
	return s.stream.SetLen(n)
}

// Commit stamps standard-information timestamps per spec §4.8 ("marks the
// file modified on any write, else accessed on any read, when
// committing"), persists a resized resident value if this stream wraps one,
// and flushes the owning record.
func (s *NtfsFileStream) Commit(now uint64) error {
	if mem, ok := s.stream.(*vio.MemoryStream); ok && !s.attr.NonResident {
		s.attr.Value = mem.Bytes()
	}

	si, err := s.file.StandardInformation()
	if err != nil {
		return err
	}
	switch {
	case s.modified:
		si.LastModified = now
		si.LastAccessed = now
		si.RecordChanged = now
	case s.accessed:
		si.LastAccessed = now
	}
	s.modified, s.accessed = false, false
	s.active = false

	return s.file.setStandardInformation(si)
}

// Close flushes the owning record (spec §4.8: "invokes update_record_in_mft
// on close and after commit"). NTFS has no rollback, so Close after a
// partially-applied write still commits whatever succeeded.
func (s *NtfsFileStream) Close() error {
	return s.file.persist()
}

// directoryIndex builds an Index over this directory's $I30 triad.
func (f *File) directoryIndex() (*Index, *DiskNodeStore, error) {
	if !f.IsDirectory() {
		return nil, nil, errors.Wrap(ErrInvalidFormat, "ntfs: not a directory")
	}
	rootAttr := f.find(AttrIndexRoot, indexAttrName)
	if rootAttr == nil {
		return nil, nil, errors.Wrap(ErrCorruptMetadata, "ntfs: directory missing $INDEX_ROOT")
	}
	root, rootEntries, err := ParseIndexRoot(rootAttr.Value)
	if err != nil {
		return nil, nil, err
	}

	var allocStream vio.SparseStream
	var bm *bitmap.Bitmap
	if allocAttr := f.find(AttrIndexAllocation, indexAttrName); allocAttr != nil {
		allocStream = NewClusterStream(f.volume, allocAttr)
		if bmAttr := f.find(AttrBitmap, indexAttrName); bmAttr != nil {
			if bmAttr.NonResident {
				bm = bitmap.New(NewClusterStream(f.volume, bmAttr))
			} else {
				bm = bitmap.New(vio.NewMemoryStreamFromBytes(bmAttr.Value))
			}
		}
	}

	rootCapacity := int(f.record.Header.AllocatedSize) - int(f.record.Header.FirstAttributeOffset)
	store := NewDiskNodeStore(root, rootEntries, rootCapacity, allocStream, bm, int(root.IndexAllocationSize), f.volume.sectorSize())
	collator := SelectCollator(root.CollationRule, f.volume.UpCase)
	return NewIndex(store, collator), store, nil
}

// persistDirectoryIndex writes a possibly-changed root entry list back into
// $INDEX_ROOT and flushes the record.
func (f *File) persistDirectoryIndex(store *DiskNodeStore) error {
	if !store.RootDirty() {
		return nil
	}
	rootAttr := f.find(AttrIndexRoot, indexAttrName)
	rootAttr.Value = EncodeIndexRoot(store.root, store.RootEntries())
	store.ClearRootDirty()
	return f.persist()
}

// LinkChild inserts a $FILE_NAME-keyed entry for child into this
// directory's index (spec §4.8 "update directory-entry mirror").
func (f *File) LinkChild(child *File, fn *FileNameAttribute) error {
	idx, store, err := f.directoryIndex()
	if err != nil {
		return err
	}
	key := fn.Encode()
	data := make([]byte, 8)
	ref := child.Reference()
	for i := 0; i < 8; i++ {
		data[i] = byte(ref >> (8 * i))
	}
	if err := idx.Insert(key, data); err != nil {
		return err
	}
	return f.persistDirectoryIndex(store)
}

// FindChild looks up a name in this directory's index, trying the long
// name collation key built from name.
func (f *File) FindChild(name string, upcase *UpCaseTable) (FileReference, bool, error) {
	idx, _, err := f.directoryIndex()
	if err != nil {
		return 0, false, err
	}
	entries, err := idx.Iterate()
	if err != nil {
		return 0, false, err
	}
	for _, e := range entries {
		fn, err := ParseFileName(e.Key)
		if err != nil {
			continue
		}
		match := fn.Name == name
		if !match && upcase != nil {
			match = upcase.UpperString(fn.Name) == upcase.UpperString(name)
		}
		if match {
			var ref uint64
			for i := 0; i < 8 && i < len(e.Data); i++ {
				ref |= uint64(e.Data[i]) << (8 * i)
			}
			return FileReference(ref), true, nil
		}
	}
	return 0, false, nil
}

// ListChildren returns every $FILE_NAME entry in this directory's index.
func (f *File) ListChildren() ([]*FileNameAttribute, error) {
	idx, _, err := f.directoryIndex()
	if err != nil {
		return nil, err
	}
	entries, err := idx.Iterate()
	if err != nil {
		return nil, err
	}
	var out []*FileNameAttribute
	for _, e := range entries {
		fn, err := ParseFileName(e.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, fn)
	}
	return out, nil
}

// UnlinkChild removes name's directory-index entry.
func (f *File) UnlinkChild(name string, upcase *UpCaseTable) error {
	idx, store, err := f.directoryIndex()
	if err != nil {
		return err
	}
	entries, err := idx.Iterate()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fn, err := ParseFileName(e.Key)
		if err != nil {
			continue
		}
		match := fn.Name == name
		if !match && upcase != nil {
			match = upcase.UpperString(fn.Name) == upcase.UpperString(name)
		}
		if match {
			if err := idx.Delete(e.Key); err != nil {
				return err
			}
			return f.persistDirectoryIndex(store)
		}
	}
	return ErrNotFound
}
