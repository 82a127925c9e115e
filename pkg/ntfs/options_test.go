package ntfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.False(t, opts.ReadOnly)
	assert.True(t, opts.SafeSequenceNumberChecks)
	assert.True(t, opts.HideDosFileNames)
	assert.True(t, opts.FileLengthFromDirectoryEntries)
}

func TestLoadOptionsMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte("read_only: true\n"), 0o644))

	opts, err := LoadOptions(path)
	require.NoError(t, err)

	assert.True(t, opts.ReadOnly)
	// Fields the file doesn't mention keep the defaults.
	assert.True(t, opts.SafeSequenceNumberChecks)
	assert.True(t, opts.HideDosFileNames)
	assert.True(t, opts.FileLengthFromDirectoryEntries)
}

func TestLoadOptionsMissingFile(t *testing.T) {
	_, err := LoadOptions("/nonexistent/options.yaml")
	assert.Error(t, err)
}
