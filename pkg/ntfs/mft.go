package ntfs

import (
	"io"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/bitmap"
	"github.com/sectorfs/corefs/pkg/elog"
	"github.com/sectorfs/corefs/pkg/vio"
)

// Fixed well-known MFT indices (spec §4.5).
const (
	IndexMFT       uint32 = 0
	IndexMFTMirr   uint32 = 1
	IndexLogFile   uint32 = 2
	IndexVolume    uint32 = 3
	IndexAttrDef   uint32 = 4
	IndexRoot      uint32 = 5
	IndexBitmap    uint32 = 6
	IndexBoot      uint32 = 7
	IndexBadClus   uint32 = 8
	IndexSecure    uint32 = 9
	IndexUpCase    uint32 = 10
	IndexExtend    uint32 = 11

	// FirstUserIndex is the first index available for ordinary files;
	// 12..23 are reserved for MFT overflow.
	FirstUserIndex uint32 = 24

	mftOverflowHigh uint32 = 15
	mftOverflowLow  uint32 = 12

	defaultRecordCacheSize = 256
)

// MFT is the self-describing, self-allocating record store (spec §4.5).
// Bootstrapping is two-phase: Phase1Bootstrap reads record 0 directly off
// the raw volume stream, then Phase2Bootstrap swaps recordStream for
// $MFT's own data-attribute stream, after which all record I/O is routed
// through the attribute runtime the MFT itself sits on top of (spec §9's
// "never a true cycle of owning references": the swap is interior
// mutability via a single replaceable field, not a cyclic reference).
type MFT struct {
	volume       *Volume
	recordStream vio.SparseStream
	recordSize   uint32

	recordBitmap *bitmap.Bitmap // $MFT's own $BITMAP attribute
	mirrorStream vio.SparseStream

	cache       map[uint32]*Record
	cacheOrder  []uint32
	cacheLimit  int

	progress elog.DomainProgress
}

// SetProgressReporter attaches a progress reporter whose NewBitmapSweepProgress
// bar is reported against while AllocateRecord scans the record bitmap for
// a free slot (SPEC_FULL §1.2).
func (m *MFT) SetProgressReporter(p elog.DomainProgress) {
	m.progress = p
}

// Phase1Bootstrap reads the first 24 record slots directly from
// mft_cluster*bytes_per_cluster on the raw volume stream, enough to
// locate $MFT's own $DATA attribute (spec §4.5, §9).
func Phase1Bootstrap(v *Volume) (*MFT, error) {
	recordSize := v.BPB.MFTRecordSize()
	offset := int64(v.BPB.MFTCluster) * int64(v.BPB.BytesPerCluster())

	phase1, err := vio.NewSubStream(v.Raw, offset, int64(recordSize)*24)
	if err != nil {
		return nil, errors.Wrap(err, "ntfs: mapping mft bootstrap window")
	}

	m := &MFT{
		volume:       v,
		recordStream: phase1,
		recordSize:   recordSize,
		cache:        make(map[uint32]*Record),
		cacheLimit:   defaultRecordCacheSize,
	}
	return m, nil
}

// Phase2Bootstrap reads record 0 from the phase-1 window, locates its
// $DATA attribute, and replaces recordStream with a ClusterStream over
// that attribute — from this point the MFT is self-hosting.
func (m *MFT) Phase2Bootstrap() error {
	rec0, err := m.readRawRecord(0)
	if err != nil {
		return errors.Wrap(err, "ntfs: reading mft record 0 during bootstrap")
	}

	attrs, err := ParseAttributes(rec0.Data, int(rec0.Header.FirstAttributeOffset))
	if err != nil {
		return errors.Wrap(err, "ntfs: parsing mft record 0 attributes")
	}

	var dataAttr, bitmapAttr *Attribute
	for _, a := range attrs {
		switch a.Type {
		case AttrData:
			if a.Name == "" {
				dataAttr = a
			}
		case AttrBitmap:
			if a.Name == "" {
				bitmapAttr = a
			}
		}
	}
	if dataAttr == nil || !dataAttr.NonResident {
		return errors.Wrap(ErrInvalidFormat, "ntfs: mft record 0 missing non-resident $DATA")
	}
	if err := tileCookedRuns(dataAttr.CookedRuns, dataAttr.LastVCN); err != nil {
		return err
	}

	m.recordStream = NewClusterStream(m.volume, dataAttr)
	if bitmapAttr != nil {
		var bitmapStream vio.SparseStream
		if bitmapAttr.NonResident {
			bitmapStream = NewClusterStream(m.volume, bitmapAttr)
		} else {
			bitmapStream = vio.NewMemoryStreamFromBytes(bitmapAttr.Value)
		}
		m.recordBitmap = bitmap.New(bitmapStream)
	}

	// reset the cache: the bootstrap record was read through the
	// temporary window and must be re-validated through the real stream.
	m.cache = make(map[uint32]*Record)
	m.cacheOrder = nil

	return nil
}

// BootstrapMirror opens $MFTMirr's (index 1) data attribute as the
// mirror target for indices < 4 (spec §4.5 "Every mutation ... mirrors it
// into $MFTMirr's data stream").
func (m *MFT) BootstrapMirror() error {
	rec, err := m.GetRecord(IndexMFTMirr)
	if err != nil {
		return err
	}
	attrs, err := ParseAttributes(rec.Data, int(rec.Header.FirstAttributeOffset))
	if err != nil {
		return err
	}
	for _, a := range attrs {
		if a.Type == AttrData && a.Name == "" && a.NonResident {
			m.mirrorStream = NewClusterStream(m.volume, a)
			return nil
		}
	}
	return errors.Wrap(ErrInvalidFormat, "ntfs: $MFTMirr missing non-resident $DATA")
}

func (m *MFT) readRawRecord(index uint32) (*Record, error) {
	buf := make([]byte, m.recordSize)
	if _, err := m.recordStream.Seek(int64(index)*int64(m.recordSize), io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(m.recordStream, buf); err != nil {
		return nil, err
	}
	return ParseRecord(buf, m.volume.sectorSize())
}

// GetRecord fetches a record by index, through the bounded cache. When
// safe_sequence_number_checks is enabled callers should use
// GetRecordChecked to validate a FileReference's sequence number instead.
func (m *MFT) GetRecord(index uint32) (*Record, error) {
	if r, ok := m.cache[index]; ok {
		return r, nil
	}
	r, err := m.readRawRecord(index)
	if err != nil {
		return nil, err
	}
	m.cachePut(index, r)
	return r, nil
}

// GetRecordChecked resolves a FileReference, returning ErrNotFound (a
// "null" result per spec §4.5) if safe_sequence_number_checks is on and
// the stored record's sequence number doesn't match the reference's.
func (m *MFT) GetRecordChecked(ref FileReference) (*Record, error) {
	r, err := m.GetRecord(uint32(ref.Index()))
	if err != nil {
		return nil, err
	}
	if m.volume.Options.SafeSequenceNumberChecks && r.Header.SequenceNumber != ref.Sequence() {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *MFT) cachePut(index uint32, r *Record) {
	if _, exists := m.cache[index]; !exists {
		if len(m.cacheOrder) >= m.cacheLimit {
			oldest := m.cacheOrder[0]
			m.cacheOrder = m.cacheOrder[1:]
			delete(m.cache, oldest)
		}
		m.cacheOrder = append(m.cacheOrder, index)
	}
	m.cache[index] = r
}

func (m *MFT) invalidate(index uint32) {
	delete(m.cache, index)
	for i, v := range m.cacheOrder {
		if v == index {
			m.cacheOrder = append(m.cacheOrder[:i], m.cacheOrder[i+1:]...)
			break
		}
	}
}

// FlushRecord writes a record back to the main stream and, for indices
// below 4, mirrors it into $MFTMirr (spec §4.5).
func (m *MFT) FlushRecord(index uint32, r *Record) error {
	if m.volume.Options.ReadOnly {
		return ErrReadOnly
	}
	buf := r.Marshal(m.volume.sectorSize())
	if _, err := m.recordStream.Seek(int64(index)*int64(m.recordSize), io.SeekStart); err != nil {
		return err
	}
	if _, err := m.recordStream.Write(buf); err != nil {
		return errors.Wrapf(err, "ntfs: flushing mft record %d", index)
	}

	if index < 4 && m.mirrorStream != nil {
		if _, err := m.mirrorStream.Seek(int64(index)*int64(m.recordSize), io.SeekStart); err != nil {
			return err
		}
		if _, err := m.mirrorStream.Write(buf); err != nil {
			return errors.Wrapf(err, "ntfs: mirroring mft record %d", index)
		}
	}

	m.cachePut(index, r)
	return nil
}

// AllocateRecord implements the spec §4.5 allocation policy: normal
// records scan the bitmap from FirstUserIndex, extending the record
// store by whole 64-record groups if necessary; overflow records (used
// when $MFT's own record needs an $ATTRIBUTE_LIST extension) scan
// 15..12 in reverse and never extend the stream.
func (m *MFT) AllocateRecord(overflow bool) (idx uint32, err error) {
	if m.volume.Options.ReadOnly {
		return 0, ErrReadOnly
	}
	if m.recordBitmap == nil {
		return 0, errors.New("ntfs: mft record bitmap not initialized")
	}

	if overflow {
		for i := int64(mftOverflowHigh); i >= int64(mftOverflowLow); i-- {
			present, err := m.recordBitmap.IsPresent(i)
			if err != nil {
				return 0, err
			}
			if !present {
				if err := m.recordBitmap.MarkPresent(i); err != nil {
					return 0, err
				}
				if err := m.formatRecord(uint32(i)); err != nil {
					return 0, err
				}
				return uint32(i), nil
			}
		}
		return 0, ErrFragmented
	}

	if m.progress != nil {
		bar := m.progress.NewBitmapSweepProgress(m.recordStream.Len() / int64(m.recordSize))
		m.recordBitmap.SetProgress(bar)
		defer func() {
			m.recordBitmap.SetProgress(nil)
			bar.Finish(err == nil)
		}()
	}

	var i64 int64
	i64, err = m.recordBitmap.AllocateFirstAvailable(int64(FirstUserIndex))
	if err != nil {
		return 0, err
	}
	idx = uint32(i64)

	requiredLen := (i64 + 1) * int64(m.recordSize)
	if requiredLen > m.recordStream.Len() {
		groupEnd := roundUpIndex(idx+1, 64)
		newLen := int64(groupEnd) * int64(m.recordSize)
		if err = m.recordStream.SetLen(newLen); err != nil {
			return 0, errors.Wrap(err, "ntfs: extending mft data stream")
		}
		for i := idx; i < groupEnd; i++ {
			if err = m.formatRecord(i); err != nil {
				return 0, err
			}
		}
	} else if err = m.formatRecord(idx); err != nil {
		return 0, err
	}

	return idx, nil
}

func roundUpIndex(n, multiple uint32) uint32 {
	if n%multiple == 0 {
		return n
	}
	return (n/multiple + 1) * multiple
}

func (m *MFT) formatRecord(index uint32) error {
	buf := newBlankRecord(int(m.recordSize), m.volume.sectorSize(), index)
	if _, err := m.recordStream.Seek(int64(index)*int64(m.recordSize), io.SeekStart); err != nil {
		return err
	}
	_, err := m.recordStream.Write(buf)
	return err
}

// RemoveRecord marks a record not-in-use, increments its sequence number,
// clears its bitmap bit, and invalidates the cache entry (spec §3.4,
// §4.5).
func (m *MFT) RemoveRecord(index uint32) error {
	r, err := m.GetRecord(index)
	if err != nil {
		return err
	}
	r.Header.Flags &^= RecordFlagInUse
	r.Header.SequenceNumber++
	if err := m.FlushRecord(index, r); err != nil {
		return err
	}
	if m.recordBitmap != nil {
		if err := m.recordBitmap.MarkAbsent(int64(index)); err != nil {
			return err
		}
	}
	m.invalidate(index)
	return nil
}
