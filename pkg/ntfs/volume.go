package ntfs

import (
	"io"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/bitmap"
	"github.com/sectorfs/corefs/pkg/vio"
)

// Options configures volume behavior (spec §6 "NTFS options").
type Options struct {
	ReadOnly                       bool `yaml:"read_only"`
	SafeSequenceNumberChecks       bool `yaml:"safe_sequence_number_checks"`
	HideDosFileNames               bool `yaml:"hide_dos_file_names"`
	FileLengthFromDirectoryEntries bool `yaml:"file_length_from_directory_entries"`
}

// Volume is the process-wide per-volume context (spec §3.3): the raw
// sector stream, parsed geometry, the collation table, the attribute
// definitions, options, and the cached well-known MFT entries.
type Volume struct {
	Raw     vio.SparseStream
	BPB     *BIOSParameterBlock
	UpCase  *UpCaseTable
	AttrDef []AttrDefEntry
	Options Options

	MFT *MFT

	// clusterBitmap backs $Bitmap (index 6): the volume-wide cluster
	// allocation map, distinct from the MFT's own internal record bitmap
	// (spec §4.4/§4.5).
	clusterBitmap *bitmap.Bitmap
}

// BytesPerCluster implements ClusterSource.
func (v *Volume) BytesPerCluster() uint32 { return v.BPB.BytesPerCluster() }

// ReadCluster implements ClusterSource by translating an LCN directly to
// a byte offset on the raw sector stream (spec §4.6 "direct LCN→LBA
// translation").
func (v *Volume) ReadCluster(lcn uint64, p []byte) error {
	bpc := int64(v.BytesPerCluster())
	if _, err := v.Raw.Seek(int64(lcn)*bpc, io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(v.Raw, p)
	return err
}

// WriteCluster implements ClusterSource.
func (v *Volume) WriteCluster(lcn uint64, p []byte) error {
	if v.Options.ReadOnly {
		return ErrReadOnly
	}
	bpc := int64(v.BytesPerCluster())
	if _, err := v.Raw.Seek(int64(lcn)*bpc, io.SeekStart); err != nil {
		return err
	}
	_, err := v.Raw.Write(p)
	return err
}

// AllocateCluster implements ClusterSource via the volume's $Bitmap.
func (v *Volume) AllocateCluster() (uint64, error) {
	if v.Options.ReadOnly {
		return 0, ErrReadOnly
	}
	if v.clusterBitmap == nil {
		return 0, errors.New("ntfs: volume cluster bitmap not initialized")
	}
	idx, err := v.clusterBitmap.AllocateFirstAvailable(0)
	if err != nil {
		return 0, errors.Wrap(err, "ntfs: allocating cluster")
	}
	return uint64(idx), nil
}

// FreeCluster implements ClusterSource.
func (v *Volume) FreeCluster(lcn uint64) error {
	if v.clusterBitmap == nil {
		return nil
	}
	return v.clusterBitmap.MarkAbsent(int64(lcn))
}

// sectorSize is a small helper used throughout record I/O.
func (v *Volume) sectorSize() int { return int(v.BPB.BytesPerSector) }
