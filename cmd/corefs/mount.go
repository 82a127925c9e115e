package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/diskimage"
	"github.com/sectorfs/corefs/pkg/elog"
	"github.com/sectorfs/corefs/pkg/fsiface"
	"github.com/sectorfs/corefs/pkg/ntfs"
	"github.com/sectorfs/corefs/pkg/partition"
	"github.com/sectorfs/corefs/pkg/vio"
)

// ntfsPartitionType is the GPT "Basic data partition" GUID Microsoft also
// uses for NTFS/exFAT volumes; it's the only type value corefs knows to
// look for when no --partition index is given.
const ntfsPartitionType = "ebd0a0a2-b9e5-4433-87c0-68b6b72699c7"

// mount opens path (optionally through a VHD/VMDK/QCOW2 container per its
// extension), finds the requested partition (or, absent one, the first
// GPT entry typed as a basic-data/NTFS volume), and bootstraps an
// fsiface.FileSystem over it.
func mount(path string, partIndex int) (fsiface.FileSystem, error) {
	return mountFS(path, partIndex)
}

// mountFS is mount but returns the concrete *ntfs.FS, for commands (import)
// that need ntfs-specific operations fsiface.FileSystem doesn't expose.
func mountFS(path string, partIndex int) (*ntfs.FS, error) {
	volume, mft, _, err := mountVolume(path, partIndex)
	if err != nil {
		return nil, err
	}
	now := func() uint64 { return ntfs.FileTime(time.Now()) }
	fs := ntfs.NewFS(volume, mft, now)
	if dp, ok := log.(elog.DomainProgress); ok {
		fs.SetProgress(dp)
	}
	return fs, nil
}

// mountVolume does the same work as mount but also returns the raw
// *ntfs.Volume and the partition table, for commands (info) that need
// geometry beyond what fsiface.FileSystem exposes.
func mountVolume(path string, partIndex int) (*ntfs.Volume, *ntfs.MFT, []partition.Partition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "corefs: opening image")
	}

	raw, err := vio.NewMmapStream(f)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "corefs: mapping image")
	}

	var disk vio.SparseStream = raw
	switch {
	case strings.HasSuffix(path, ".vhd"):
		disk, err = diskimage.OpenVHD(raw, raw.Len())
	case strings.HasSuffix(path, ".vmdk"):
		disk, err = diskimage.OpenVMDK(raw)
	case strings.HasSuffix(path, ".qcow2"):
		disk, err = diskimage.OpenQCOW2(raw)
	}
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "corefs: opening container")
	}

	table, err := partition.ReadTable(asReaderAt(disk))
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "corefs: reading partition table")
	}

	var chosen *partition.Partition
	if partIndex >= 0 {
		if partIndex >= len(table) {
			return nil, nil, nil, errors.Errorf("corefs: partition index %d out of range (found %d)", partIndex, len(table))
		}
		chosen = &table[partIndex]
	} else {
		for i := range table {
			if strings.EqualFold(table[i].Type.String(), ntfsPartitionType) {
				chosen = &table[i]
				break
			}
		}
		if chosen == nil {
			return nil, nil, nil, errors.New("corefs: no NTFS-typed partition found; pass --partition")
		}
	}

	volStream, err := vio.NewSubStream(disk, chosen.Offset(), chosen.Length())
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "corefs: windowing partition")
	}

	boot := make([]byte, 512)
	if _, err := volStream.Read(boot); err != nil {
		return nil, nil, nil, errors.Wrap(err, "corefs: reading boot sector")
	}
	bpb, err := ntfs.ParseBPB(boot)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "corefs: parsing bios parameter block")
	}

	volume := &ntfs.Volume{
		Raw:     volStream,
		BPB:     bpb,
		Options: ntfs.DefaultOptions(),
	}
	mft, err := ntfs.Phase1Bootstrap(volume)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "corefs: phase 1 bootstrap")
	}
	if err := mft.Phase2Bootstrap(); err != nil {
		return nil, nil, nil, errors.Wrap(err, "corefs: phase 2 bootstrap")
	}
	volume.MFT = mft

	upcaseFile, err := ntfs.OpenFile(mft, ntfs.IndexUpCase)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "corefs: opening $upcase record")
	}
	upcaseStream, err := upcaseFile.OpenStream("")
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "corefs: opening $upcase data stream")
	}
	upcaseRaw := make([]byte, upcaseStream.Len())
	if _, err := io.ReadFull(upcaseStream, upcaseRaw); err != nil {
		return nil, nil, nil, errors.Wrap(err, "corefs: reading $upcase table")
	}
	volume.UpCase = ntfs.DecodeUpCaseTable(upcaseRaw)

	return volume, mft, table, nil
}

// asReaderAt adapts a vio.SparseStream (Seek+Read) to io.ReaderAt, the
// contract pkg/partition was written against so it can also run directly
// over an *os.File.
type readerAtStream struct {
	s vio.SparseStream
}

func asReaderAt(s vio.SparseStream) *readerAtStream {
	return &readerAtStream{s: s}
}

func (r *readerAtStream) ReadAt(p []byte, off int64) (int, error) {
	if _, err := r.s.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return r.s.Read(p)
}
