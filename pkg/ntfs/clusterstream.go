package ntfs

import (
	"io"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/extent"
	"github.com/sectorfs/corefs/pkg/lznt1"
)

// ClusterSource is the volume-level collaborator a ClusterStream
// translates VCN/LCN coordinates through: the raw sector stream plus the
// cluster allocator (spec §4.6's "direct LCN→LBA translation").
type ClusterSource interface {
	BytesPerCluster() uint32
	ReadCluster(lcn uint64, p []byte) error
	WriteCluster(lcn uint64, p []byte) error
	AllocateCluster() (uint64, error)
	FreeCluster(lcn uint64) error
}

// clusterMode selects the cluster-stream variant dispatched at
// construction (spec §9: "tagged variant ... dispatched at construction").
type clusterMode int

const (
	modeRaw clusterMode = iota
	modeSparse
	modeCompressed
)

// ClusterStream exposes a non-resident attribute's cooked runs as a
// vio.SparseStream. It mutates attr's size fields in place as writes
// extend or shrink the logical length; callers (the attribute runtime)
// are responsible for persisting the attribute header afterward.
type ClusterStream struct {
	source ClusterSource
	attr   *Attribute
	mode   clusterMode
	runs   []CookedRun // sorted, gapless over [0, vcnCount)
	cursor int64
}

// NewClusterStream selects the variant from the attribute's flags (spec
// §4.6).
func NewClusterStream(source ClusterSource, attr *Attribute) *ClusterStream {
	mode := modeRaw
	switch {
	case attr.IsCompressed():
		mode = modeCompressed
	case attr.IsSparse():
		mode = modeSparse
	}
	runs := make([]CookedRun, len(attr.CookedRuns))
	copy(runs, attr.CookedRuns)
	return &ClusterStream{source: source, attr: attr, mode: mode, runs: runs}
}

func (c *ClusterStream) bytesPerCluster() int64 { return int64(c.source.BytesPerCluster()) }

func (c *ClusterStream) Len() int64     { return int64(c.attr.DataSize) }
func (c *ClusterStream) CanRead() bool  { return true }
func (c *ClusterStream) CanWrite() bool { return true }
func (c *ClusterStream) Close() error   { return nil }

func (c *ClusterStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = c.cursor + offset
	case io.SeekEnd:
		target = c.Len() + offset
	default:
		return 0, errors.New("ntfs: invalid whence")
	}
	if target < 0 {
		return 0, errors.New("ntfs: negative seek position")
	}
	c.cursor = target
	return c.cursor, nil
}

// Extents reports the non-sparse byte ranges within [0, DataSize).
func (c *ClusterStream) Extents() ([]extent.StreamExtent, bool) {
	bpc := c.bytesPerCluster()
	var exts []extent.StreamExtent
	for _, r := range c.runs {
		if r.Sparse {
			continue
		}
		start := int64(r.StartVCN) * bpc
		length := int64(r.Length) * bpc
		if start >= c.Len() {
			continue
		}
		if start+length > c.Len() {
			length = c.Len() - start
		}
		if length <= 0 {
			continue
		}
		exts = append(exts, extent.StreamExtent{Offset: start, Length: length})
	}
	return exts, true
}

// findRun returns the index of the cooked run containing vcn.
func (c *ClusterStream) findRun(vcn uint64) int {
	for i, r := range c.runs {
		if vcn >= r.StartVCN && vcn < r.StartVCN+r.Length {
			return i
		}
	}
	return -1
}

func (c *ClusterStream) Read(p []byte) (int, error) {
	if c.cursor >= c.Len() {
		return 0, io.EOF
	}
	n, err := c.readAt(c.cursor, p)
	c.cursor += int64(n)
	return n, err
}

// readAt implements the three-case read path of spec §4.6: unaligned/
// short reads go through a scratch cluster buffer, full aligned clusters
// read straight into the caller's buffer, and sparse clusters zero-fill.
// Reads never cross the InitializedDataLength boundary into stale bytes
// (spec §3.5/GLOSSARY): anything at or beyond it reads zero.
func (c *ClusterStream) readAt(offset int64, p []byte) (int, error) {
	if offset+int64(len(p)) > c.Len() {
		p = p[:c.Len()-offset]
	}

	bpc := c.bytesPerCluster()
	total := 0
	for total < len(p) {
		abs := offset + int64(total)
		vcn := uint64(abs / bpc)
		withinCluster := abs % bpc
		chunk := p[total:]
		if int64(len(chunk)) > bpc-withinCluster {
			chunk = chunk[:bpc-withinCluster]
		}

		if abs >= int64(c.attr.InitializedSize) {
			zeroFill(chunk)
			total += len(chunk)
			continue
		}

		if c.mode == modeCompressed {
			n, err := c.readCompressed(vcn, withinCluster, chunk)
			if err != nil {
				return total, err
			}
			total += n
			continue
		}

		idx := c.findRun(vcn)
		if idx < 0 {
			zeroFill(chunk)
			total += len(chunk)
			continue
		}
		r := c.runs[idx]
		if r.Sparse {
			zeroFill(chunk)
			total += len(chunk)
			continue
		}

		lcn := r.LCN + (vcn - r.StartVCN)
		if withinCluster == 0 && int64(len(chunk)) == bpc {
			if err := c.source.ReadCluster(lcn, chunk); err != nil {
				return total, err
			}
		} else {
			scratch := make([]byte, bpc)
			if err := c.source.ReadCluster(lcn, scratch); err != nil {
				return total, err
			}
			copy(chunk, scratch[withinCluster:])
		}
		total += len(chunk)
	}
	return total, nil
}

func zeroFill(p []byte) {
	for i := range p {
		p[i] = 0
	}
}

// compressionUnitClusters is 1<<CompressionUnitExponent, defaulting to 16
// (spec §4.6, §6: "writers should only set compression_unit_exponent = 4").
func (c *ClusterStream) compressionUnitClusters() int {
	exp := c.attr.CompressionUnitExponent
	if exp == 0 {
		exp = 4
	}
	return 1 << exp
}

// readCompressed decodes the compression unit containing vcn and copies
// the requested slice out of it.
func (c *ClusterStream) readCompressed(vcn uint64, withinCluster int64, out []byte) (int, error) {
	unitClusters := uint64(c.compressionUnitClusters())
	unitStart := (vcn / unitClusters) * unitClusters
	bpc := c.bytesPerCluster()
	unitSize := int64(unitClusters) * bpc

	decoded := make([]byte, unitSize)

	// A unit is absent (all sparse) -> zero. Stored verbatim -> each
	// cluster read directly. Otherwise the non-sparse prefix is one
	// LZNT1-compressed blob.
	allSparse := true
	for i := uint64(0); i < unitClusters; i++ {
		idx := c.findRun(unitStart + i)
		if idx >= 0 && !c.runs[idx].Sparse {
			allSparse = false
			break
		}
	}
	if allSparse {
		// decoded left zero
	} else {
		storedVerbatim := true
		for i := uint64(0); i < unitClusters; i++ {
			idx := c.findRun(unitStart + i)
			if idx < 0 || c.runs[idx].Sparse {
				storedVerbatim = false
				break
			}
		}
		if storedVerbatim {
			for i := uint64(0); i < unitClusters; i++ {
				idx := c.findRun(unitStart + i)
				r := c.runs[idx]
				lcn := r.LCN + (unitStart + i - r.StartVCN)
				if err := c.source.ReadCluster(lcn, decoded[i*uint64(bpc):(i+1)*uint64(bpc)]); err != nil {
					return 0, err
				}
			}
		} else {
			// compressed: the non-sparse clusters at the front hold the
			// LZNT1 byte stream for the whole unit.
			var compressed []byte
			for i := uint64(0); i < unitClusters; i++ {
				idx := c.findRun(unitStart + i)
				if idx < 0 || c.runs[idx].Sparse {
					break
				}
				r := c.runs[idx]
				lcn := r.LCN + (unitStart + i - r.StartVCN)
				buf := make([]byte, bpc)
				if err := c.source.ReadCluster(lcn, buf); err != nil {
					return 0, err
				}
				compressed = append(compressed, buf...)
			}
			if _, err := lznt1.Decompress(decoded, compressed); err != nil {
				return 0, errors.Wrap(err, "ntfs: decompressing compression unit")
			}
		}
	}

	vcnWithinUnit := vcn - unitStart
	srcOff := int64(vcnWithinUnit)*bpc + withinCluster
	copy(out, decoded[srcOff:srcOff+int64(len(out))])
	return len(out), nil
}

func (c *ClusterStream) Write(p []byte) (int, error) {
	n, err := c.writeAt(c.cursor, p)
	c.cursor += int64(n)
	return n, err
}

// writeAt mirrors the read path (spec §4.6 write path): it first grows
// capacity if needed, zero-fills any gap up to InitializedDataLength, then
// performs the write, converting sparse runs to allocated ones as needed
// for the Sparse variant.
func (c *ClusterStream) writeAt(offset int64, p []byte) (int, error) {
	if c.mode == modeCompressed {
		// Writing to a compressed attribute needs whole-unit
		// recompress-on-dirty (DESIGN.md): decode the covering
		// compression unit, splice in the write, re-run it through
		// lznt1.Compress, and replace the unit's runs. That's not
		// implemented yet, so refuse outright rather than storing
		// cleartext bytes under a Compressed attribute that
		// readCompressed (above) would later try to LZNT1-decode into
		// garbage.
		return 0, errors.Wrap(ErrUnsupported, "ntfs: writing to a compressed attribute is not yet supported")
	}

	end := offset + int64(len(p))
	if end > c.Len() {
		if err := c.setCapacity(end); err != nil {
			return 0, err
		}
	}
	if offset > int64(c.attr.InitializedSize) {
		if err := c.initializeUpTo(offset); err != nil {
			return 0, err
		}
	}

	bpc := c.bytesPerCluster()
	total := 0
	for total < len(p) {
		abs := offset + int64(total)
		vcn := uint64(abs / bpc)
		withinCluster := abs % bpc
		chunk := p[total:]
		if int64(len(chunk)) > bpc-withinCluster {
			chunk = chunk[:bpc-withinCluster]
		}

		lcn, freshlyAllocated, err := c.clusterForWrite(vcn)
		if err != nil {
			return total, err
		}

		if withinCluster == 0 && int64(len(chunk)) == bpc {
			if err := c.source.WriteCluster(lcn, chunk); err != nil {
				return total, err
			}
		} else {
			scratch := make([]byte, bpc)
			if freshlyAllocated {
				// A cluster clusterForWrite just allocated has no
				// defined prior content (AllocateCluster makes no
				// zeroing promise) and nothing valid to read back, so
				// treat its bytes as zero instead of reading.
				zeroFill(scratch)
			} else if err := c.source.ReadCluster(lcn, scratch); err != nil {
				return total, err
			}
			copy(scratch[withinCluster:], chunk)
			if err := c.source.WriteCluster(lcn, scratch); err != nil {
				return total, err
			}
		}
		total += len(chunk)
	}

	if end > int64(c.attr.DataSize) {
		c.attr.DataSize = uint64(end)
	}
	if end > int64(c.attr.InitializedSize) {
		c.attr.InitializedSize = uint64(end)
	}
	c.runs = collapseCookedRuns(c.runs)
	c.attr.CookedRuns = c.runs
	return total, nil
}

// clusterForWrite returns the LCN backing vcn, allocating a real cluster
// and splitting the covering run if it was sparse (Sparse variant only;
// raw attributes are never sparse by construction). freshlyAllocated tells
// the caller whether lcn was just allocated this call (no prior content to
// read back) versus an existing cluster being read-modify-written.
func (c *ClusterStream) clusterForWrite(vcn uint64) (lcn uint64, freshlyAllocated bool, err error) {
	idx := c.findRun(vcn)
	if idx < 0 {
		return 0, false, errors.Wrapf(ErrCorruptMetadata, "ntfs: vcn %d not covered by any run", vcn)
	}
	r := c.runs[idx]
	if !r.Sparse {
		return r.LCN + (vcn - r.StartVCN), false, nil
	}
	if c.mode == modeRaw {
		return 0, false, errors.Wrap(ErrInvalidFormat, "ntfs: sparse run in a raw (non-sparse) attribute")
	}

	lcn, err = c.source.AllocateCluster()
	if err != nil {
		return 0, false, err
	}
	c.splitRunAt(idx, vcn, lcn)
	return lcn, true, nil
}

// splitRunAt replaces the sparse run at idx with up to three runs: the
// unchanged sparse prefix, a one-cluster allocated run at vcn, and the
// unchanged sparse suffix.
func (c *ClusterStream) splitRunAt(idx int, vcn, lcn uint64) {
	r := c.runs[idx]
	var replacement []CookedRun
	if vcn > r.StartVCN {
		replacement = append(replacement, CookedRun{StartVCN: r.StartVCN, Length: vcn - r.StartVCN, Sparse: true})
	}
	replacement = append(replacement, CookedRun{StartVCN: vcn, Length: 1, LCN: lcn})
	if vcn+1 < r.StartVCN+r.Length {
		replacement = append(replacement, CookedRun{StartVCN: vcn + 1, Length: r.StartVCN + r.Length - vcn - 1, Sparse: true})
	}

	next := make([]CookedRun, 0, len(c.runs)+len(replacement))
	next = append(next, c.runs[:idx]...)
	next = append(next, replacement...)
	next = append(next, c.runs[idx+1:]...)
	c.runs = next
}

// setCapacity grows AllocatedSize/the cooked-run list so byte offset end
// is addressable and raises DataSize to end when end lies beyond it. The
// new space is one sparse run for a sparse attribute and freshly
// allocated clusters for a raw one, so raw runs stay non-sparse.
func (c *ClusterStream) setCapacity(end int64) error {
	bpc := c.bytesPerCluster()
	neededVCN := uint64((end + bpc - 1) / bpc)
	var haveVCN uint64
	if len(c.runs) > 0 {
		last := c.runs[len(c.runs)-1]
		haveVCN = last.StartVCN + last.Length
	}
	if neededVCN > haveVCN {
		if c.mode == modeRaw {
			for vcn := haveVCN; vcn < neededVCN; vcn++ {
				lcn, err := c.source.AllocateCluster()
				if err != nil {
					return err
				}
				c.runs = append(c.runs, CookedRun{StartVCN: vcn, Length: 1, LCN: lcn})
			}
			c.runs = collapseCookedRuns(c.runs)
		} else {
			c.runs = append(c.runs, CookedRun{StartVCN: haveVCN, Length: neededVCN - haveVCN, Sparse: true})
		}
		c.attr.CookedRuns = c.runs
	}
	c.attr.AllocatedSize = neededVCN * uint64(bpc)
	c.attr.LastVCN = neededVCN - 1
	if uint64(end) > c.attr.DataSize {
		c.attr.DataSize = uint64(end)
	}
	return nil
}

// initializeUpTo zero-fills bytes between the current InitializedSize and
// offset before a write that starts beyond it (spec §4.6: "initialize_data").
func (c *ClusterStream) initializeUpTo(offset int64) error {
	start := int64(c.attr.InitializedSize)
	if offset <= start {
		return nil
	}
	zero := make([]byte, offset-start)
	_, err := c.writeAt(start, zero)
	return err
}

// SetLen truncates or extends the attribute's logical length, removing
// whole extent records beyond the new end per spec §4.6 truncation rules.
func (c *ClusterStream) SetLen(n int64) error {
	if n > c.Len() {
		return c.setCapacity(n)
	}
	bpc := c.bytesPerCluster()
	newEndVCN := uint64((n + bpc - 1) / bpc)

	kept := c.runs[:0:0]
	for _, r := range c.runs {
		if r.StartVCN >= newEndVCN {
			if !r.Sparse {
				for i := uint64(0); i < r.Length; i++ {
					_ = c.source.FreeCluster(r.LCN + i)
				}
			}
			continue
		}
		if r.StartVCN+r.Length > newEndVCN {
			r.Length = newEndVCN - r.StartVCN
		}
		kept = append(kept, r)
	}
	c.runs = kept
	c.attr.CookedRuns = kept
	c.attr.DataSize = uint64(n)
	c.attr.AllocatedSize = newEndVCN * uint64(bpc)
	if uint64(n) < c.attr.InitializedSize {
		c.attr.InitializedSize = uint64(n)
	}
	if newEndVCN > 0 {
		c.attr.LastVCN = newEndVCN - 1
	} else {
		c.attr.LastVCN = 0
	}
	return nil
}
