package ntfs

import "github.com/pkg/errors"

// Sentinel errors implementing the taxonomy of spec §7. Call sites wrap
// these with errors.Wrapf to attach positional context, the way
// vdecompiler/fs.go wraps lower-level errors with the offset or path that
// triggered them.
var (
	// ErrInvalidFormat covers bad magic, fix-up mismatches, and data runs
	// that don't tile their declared virtual-cluster range.
	ErrInvalidFormat = errors.New("ntfs: invalid format")

	// ErrCorruptMetadata covers internally-inconsistent but structurally
	// valid metadata (e.g. the bitmap and a record's InUse flag disagree).
	ErrCorruptMetadata = errors.New("ntfs: corrupt metadata")

	// ErrReadOnly is returned by any mutating call on a read-only volume.
	ErrReadOnly = errors.New("ntfs: volume is read-only")

	// ErrNoSpace is returned when bitmap allocation cannot find room.
	ErrNoSpace = errors.New("ntfs: no space left on volume")

	// ErrNotFound covers missing index keys and absent named streams.
	ErrNotFound = errors.New("ntfs: not found")

	// ErrAlreadyExists is returned inserting a duplicate index key.
	ErrAlreadyExists = errors.New("ntfs: already exists")

	// ErrFragmented is fatal: the MFT's own record cannot be extended.
	ErrFragmented = errors.New("ntfs: mft too fragmented")

	// ErrUnsupported covers e.g. a compression-unit exponent other than 4.
	ErrUnsupported = errors.New("ntfs: unsupported")
)
