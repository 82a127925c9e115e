package ntfs

import (
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/sectorfs/corefs/pkg/elog"
	"github.com/sectorfs/corefs/pkg/fsiface"
)

// FS adapts a mounted Volume to fsiface.FileSystem (SPEC_FULL §0's "uniform
// file-system interface NTFS implements"), resolving slash-separated paths
// against the root directory's B+-tree index one component at a time.
type FS struct {
	volume *Volume
	mft    *MFT
	now    func() uint64

	progress elog.DomainProgress
}

// NewFS wraps a bootstrapped volume. nowFunc supplies the FILETIME stamped
// on creates/writes; callers in production wire this to the real clock,
// tests wire it to a fixed value.
func NewFS(volume *Volume, mft *MFT, nowFunc func() uint64) *FS {
	return &FS{volume: volume, mft: mft, now: nowFunc}
}

// SetProgress attaches a progress reporter that RemoveAll, Import and the
// underlying MFT's record-bitmap sweep report long-running operations
// against (SPEC_FULL §1.2). A nil reporter (the default) leaves these
// operations silent.
func (fs *FS) SetProgress(p elog.DomainProgress) {
	fs.progress = p
	fs.mft.SetProgressReporter(p)
}

func splitPath(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

// resolve walks path's components from the root directory, returning the
// final File and, when the caller also needs it, its parent directory.
func (fs *FS) resolve(p string) (file *File, parent *File, name string, err error) {
	parts := splitPath(p)
	cur, err := OpenFile(fs.mft, IndexRoot)
	if err != nil {
		return nil, nil, "", err
	}
	if len(parts) == 0 {
		return cur, nil, "", nil
	}
	for i, part := range parts {
		if !cur.IsDirectory() {
			return nil, nil, "", errors.Wrap(ErrNotFound, "ntfs: path component is not a directory")
		}
		ref, found, err := cur.FindChild(part, fs.volume.UpCase)
		if err != nil {
			return nil, nil, "", err
		}
		if !found {
			return nil, nil, "", ErrNotFound
		}
		next, err := OpenFile(fs.mft, uint32(ref.Index()))
		if err != nil {
			return nil, nil, "", err
		}
		if i == len(parts)-1 {
			return next, cur, part, nil
		}
		cur = next
	}
	return cur, nil, "", nil
}

func toInfo(f *File) (*fsiface.Info, error) {
	si, err := f.StandardInformation()
	if err != nil {
		return nil, err
	}
	name, err := f.PrimaryName(true)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return &fsiface.Info{
		Name:          name,
		IsDir:         f.IsDirectory(),
		CreatedAt:     FileTimeToTime(si.CreationTime),
		ModifiedAt:    FileTimeToTime(si.LastModified),
		AccessedAt:    FileTimeToTime(si.LastAccessed),
		ChangedAt:     FileTimeToTime(si.RecordChanged),
		ReadOnly:      si.FileAttributes&FileAttrReadOnly != 0,
		Hidden:        si.FileAttributes&FileAttrHidden != 0,
		System:        si.FileAttributes&FileAttrSystem != 0,
	}, nil
}

// Stat implements fsiface.FileSystem.
func (fs *FS) Stat(p string) (*fsiface.Info, error) {
	f, _, _, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := toInfo(f)
	if err != nil {
		return nil, err
	}
	if !info.IsDir {
		if s, err := f.OpenStream(""); err == nil {
			info.Size = uint64(s.Len())
			info.AllocatedSize = uint64(s.Len())
		}
	}
	return info, nil
}

// ReadDir implements fsiface.FileSystem.
func (fs *FS) ReadDir(p string) ([]fsiface.Entry, error) {
	dir, _, _, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}
	if !dir.IsDirectory() {
		return nil, errors.Wrap(ErrNotFound, "ntfs: not a directory")
	}
	names, err := dir.ListChildren()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []fsiface.Entry
	for _, fn := range names {
		if fn.Namespace == NamespaceDOS && fs.volume.Options.HideDosFileNames {
			continue // with HideDosFileNames, the short alias is not listed as an entry of its own
		}
		if seen[fn.Name] {
			continue
		}
		seen[fn.Name] = true
		out = append(out, fsiface.Entry{
			Name:       fn.Name,
			IsDir:      fn.Flags&FileAttrDirectory != 0,
			Size:       fn.RealSize,
			ModifiedAt: FileTimeToTime(fn.LastModified),
		})
	}
	return out, nil
}

// Open implements fsiface.FileSystem.
func (fs *FS) Open(p, streamName string) (fsiface.Stream, error) {
	f, _, _, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}
	s, err := f.OpenStream(streamName)
	if err != nil {
		return nil, err
	}
	s.Begin()
	return &fsStream{s: s, now: fs.now}, nil
}

// Export implements fsiface.FileSystem, streaming path's content to dst
// extent-by-extent via ExportTo rather than a flat Read/Write copy, so a
// sparse file's holes don't have to be read back as literal zero bytes.
func (fs *FS) Export(p, streamName string, dst io.Writer) error {
	f, _, _, err := fs.resolve(p)
	if err != nil {
		return err
	}
	s, err := f.OpenStream(streamName)
	if err != nil {
		return err
	}
	defer s.Close()
	return ExportTo(dst, s)
}

// Create implements fsiface.FileSystem.
func (fs *FS) Create(p string, isDir bool) (fsiface.Stream, error) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return nil, errors.Wrap(ErrAlreadyExists, "ntfs: cannot create the root")
	}
	parentPath := "/" + strings.Join(parts[:len(parts)-1], "/")
	name := parts[len(parts)-1]

	parent, _, _, err := fs.resolve(parentPath)
	if err != nil {
		return nil, err
	}
	if _, found, err := parent.FindChild(name, fs.volume.UpCase); err != nil {
		return nil, err
	} else if found {
		return nil, ErrAlreadyExists
	}

	now := fs.now()
	child, fn, err := CreateFile(fs.mft, parent.Reference(), name, isDir, fs.volume.UpCase, now)
	if err != nil {
		return nil, err
	}
	if !Is83Compliant(name) {
		short, err := GenerateUniqueShortName(parent, name, fs.volume.UpCase)
		if err != nil {
			return nil, err
		}
		shortFn := *fn
		shortFn.Namespace = NamespaceDOS
		shortFn.Name = short
		if err := child.AddFileName(&shortFn); err != nil {
			return nil, err
		}
		if err := parent.LinkChild(child, &shortFn); err != nil {
			return nil, err
		}
	}
	if err := parent.LinkChild(child, fn); err != nil {
		return nil, err
	}
	if isDir {
		return nil, nil
	}
	s, err := child.CreateStream("")
	if err != nil {
		return nil, err
	}
	s.Begin()
	return &fsStream{s: s, now: fs.now}, nil
}

// Remove implements fsiface.FileSystem.
func (fs *FS) Remove(p string) error {
	file, parent, name, err := fs.resolve(p)
	if err != nil {
		return err
	}
	if parent == nil {
		return errors.Wrap(ErrInvalidFormat, "ntfs: cannot remove the root")
	}
	if file.IsDirectory() {
		children, err := file.ListChildren()
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return errors.Wrap(ErrAlreadyExists, "ntfs: directory not empty")
		}
	}
	if err := parent.UnlinkChild(name, fs.volume.UpCase); err != nil {
		return err
	}
	return fs.mft.RemoveRecord(uint32(file.Reference().Index()))
}

// RemoveAll implements fsiface.FileSystem, recursing depth-first before
// unlinking each directory itself (spec §8 scenario 3/6). When a progress
// reporter is attached (SetProgress), every removed entry ticks a delete
// progress bar sized as an indeterminate spinner, since the total entry
// count isn't known before the walk completes.
func (fs *FS) RemoveAll(p string) error {
	var bar elog.Progress
	if fs.progress != nil {
		bar = fs.progress.NewDeleteProgress(0)
	}
	err := fs.removeAll(p, bar)
	if bar != nil {
		bar.Finish(err == nil)
	}
	return err
}

func (fs *FS) removeAll(p string, bar elog.Progress) error {
	file, _, _, err := fs.resolve(p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if file.IsDirectory() {
		children, err := file.ListChildren()
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, fn := range children {
			if fn.Namespace == NamespaceDOS || seen[fn.Name] {
				continue
			}
			seen[fn.Name] = true
			if err := fs.removeAll(path.Join(p, fn.Name), bar); err != nil {
				return err
			}
		}
	}
	if bar != nil {
		bar.Increment(1)
	}
	return fs.Remove(p)
}

// Rename implements fsiface.FileSystem: unlink from the old parent, relink
// under the new name/parent, updating every $FILE_NAME record the file
// carries (long name and, if present, the short alias) so both index
// entries stay consistent (spec §8 scenario 4).
func (fs *FS) Rename(oldPath, newPath string) error {
	file, oldParent, oldName, err := fs.resolve(oldPath)
	if err != nil {
		return err
	}
	if oldParent == nil {
		return errors.Wrap(ErrInvalidFormat, "ntfs: cannot rename the root")
	}

	newParts := splitPath(newPath)
	if len(newParts) == 0 {
		return errors.Wrap(ErrInvalidFormat, "ntfs: cannot rename onto the root")
	}
	newParentPath := "/" + strings.Join(newParts[:len(newParts)-1], "/")
	newName := newParts[len(newParts)-1]

	newParent, _, _, err := fs.resolve(newParentPath)
	if err != nil {
		return err
	}
	if _, found, err := newParent.FindChild(newName, fs.volume.UpCase); err != nil {
		return err
	} else if found {
		return ErrAlreadyExists
	}

	names, err := file.FileNames()
	if err != nil {
		return err
	}
	for _, fn := range names {
		if fn.Namespace == NamespaceDOS {
			continue
		}
		fn.Name = newName
		fn.ParentDirectory = newParent.Reference()
		if err := newParent.LinkChild(file, fn); err != nil {
			return err
		}
	}

	return oldParent.UnlinkChild(oldName, fs.volume.UpCase)
}

// Close implements fsiface.FileSystem.
func (fs *FS) Close() error {
	return fs.volume.Raw.Close()
}

// fsStream adapts NtfsFileStream to fsiface.Stream, committing the
// transaction on every Close the way spec §4.8 describes ("invokes
// update_record_in_mft on close").
type fsStream struct {
	s   *NtfsFileStream
	now func() uint64
}

func (s *fsStream) Read(p []byte) (int, error)  { return s.s.Read(p) }
func (s *fsStream) Write(p []byte) (int, error) { return s.s.Write(p) }
func (s *fsStream) Seek(offset int64, whence int) (int64, error) {
	return s.s.Seek(offset, whence)
}
func (s *fsStream) Len() int64         { return s.s.Len() }
func (s *fsStream) SetLen(n int64) error { return s.s.SetLen(n) }

func (s *fsStream) Close() error {
	if err := s.s.Commit(s.now()); err != nil {
		return err
	}
	return s.s.Close()
}

var _ fsiface.FileSystem = (*FS)(nil)
