package ntfs

import (
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/vio"
)

// Import creates a new file at destPath under fs and streams src's content
// into its unnamed $DATA attribute (spec §8 scenario 1/6, "importing a host
// file into a volume"). Directories are created empty; src.Read is never
// called for them. A cached symlink (SymlinkIsCached) imports as the literal
// bytes of its target string — NTFS reparse points are a non-goal, so a
// symlink round-trips as a regular file holding its link text.
//
// The created file's $STANDARD_INFORMATION timestamps are stamped from
// src.ModTime rather than the current clock, so importing preserves the
// host file's recorded modification time instead of making every import
// look like it happened at the moment of the copy.
func Import(fs *FS, destPath string, src vio.HostFile) error {
	defer src.Close()

	isDir := src.IsDir()
	stream, err := fs.Create(destPath, isDir)
	if err != nil {
		return errors.Wrap(err, "ntfs: creating import destination")
	}

	if !isDir {
		fss, ok := stream.(*fsStream)
		if !ok {
			return errors.New("ntfs: import destination has an unexpected stream implementation")
		}

		// Copy through a snapshot overlay so a failure partway through
		// leaves the freshly created file's data stream untouched rather
		// than half-written (spec §4.2's OPEN/SNAPSHOT/FROZEN machinery,
		// applied to imports rather than a caller-driven snapshot/revert).
		snap := vio.NewSnapshotStream(fss.s.stream)
		if err := snap.Snapshot(); err != nil {
			stream.Close()
			return errors.Wrap(err, "ntfs: starting import transaction")
		}
		fss.s.stream = snap

		if _, err := io.Copy(stream, src); err != nil {
			_ = snap.Revert()
			fss.s.stream = snap.Base()
			stream.Close()
			return errors.Wrap(err, "ntfs: importing host file content")
		}

		if fs.progress != nil {
			bar := fs.progress.NewFlushProgress(snap.OverlayChunkCount())
			snap.SetProgress(bar)
			flushErr := snap.Forget()
			bar.Finish(flushErr == nil)
			fss.s.stream = snap.Base()
			if flushErr != nil {
				stream.Close()
				return errors.Wrap(flushErr, "ntfs: flushing imported content")
			}
		} else {
			flushErr := snap.Forget()
			fss.s.stream = snap.Base()
			if flushErr != nil {
				stream.Close()
				return errors.Wrap(flushErr, "ntfs: flushing imported content")
			}
		}

		// Close (which commits the transaction and flushes the resident
		// $DATA value) must happen before the $STANDARD_INFORMATION
		// override below, or Commit's own modified-time stamping would
		// clobber src's recorded ModTime right back out.
		if err := stream.Close(); err != nil {
			return errors.Wrap(err, "ntfs: committing imported content")
		}
	}

	f, _, _, err := fs.resolve(destPath)
	if err != nil {
		return errors.Wrap(err, "ntfs: resolving imported file")
	}
	si, err := f.StandardInformation()
	if err != nil {
		return err
	}
	stamp := FileTime(src.ModTime())
	si.CreationTime = stamp
	si.LastModified = stamp
	si.LastAccessed = stamp
	si.RecordChanged = stamp
	return f.setStandardInformation(si)
}

// ImportTree recursively imports hostRoot's contents into fs under
// destRoot (spec §8 scenario 1/6, "importing a host directory tree"). It
// uses vio.LazyOpenHostFile rather than vio.OpenHostFile, so a deep tree
// doesn't hold an *os.File open per entry while only its own directory is
// being walked — each host file is opened the moment Import's io.Copy
// actually reads it, and closed again right after.
func ImportTree(fs *FS, destRoot, hostRoot string) error {
	rootInfo, err := os.Lstat(hostRoot)
	if err != nil {
		return errors.Wrap(err, "ntfs: statting import root")
	}
	if !rootInfo.IsDir() {
		src, err := vio.LazyOpenHostFile(hostRoot)
		if err != nil {
			return err
		}
		return Import(fs, destRoot, src)
	}

	if _, err := fs.Stat(destRoot); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := fs.Create(destRoot, true); err != nil {
			return errors.Wrap(err, "ntfs: creating import root directory")
		}
	}

	entries, err := os.ReadDir(hostRoot)
	if err != nil {
		return errors.Wrap(err, "ntfs: reading host directory")
	}
	for _, e := range entries {
		hostPath := filepath.Join(hostRoot, e.Name())
		destPath := path.Join(destRoot, e.Name())
		if e.IsDir() {
			if err := ImportTree(fs, destPath, hostPath); err != nil {
				return err
			}
			continue
		}
		src, err := vio.LazyOpenHostFile(hostPath)
		if err != nil {
			return err
		}
		if err := Import(fs, destPath, src); err != nil {
			return errors.Wrapf(err, "ntfs: importing %s", hostPath)
		}
	}
	return nil
}
