package ntfs

import (
	"os"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// DefaultOptions mirrors the real NTFS driver's conservative defaults
// (spec §6): dos names hidden, sequence numbers checked, directory entry
// sizes trusted over walking the data stream.
func DefaultOptions() Options {
	return Options{
		ReadOnly:                       false,
		SafeSequenceNumberChecks:       true,
		HideDosFileNames:               true,
		FileLengthFromDirectoryEntries: true,
	}
}

// LoadOptions reads a YAML options document from path and merges it over
// DefaultOptions, the same load-then-merge-over-defaults pattern the
// teacher's pkg/vcfg uses for VCFG documents (mergo.WithOverride lets any
// field the file sets win, leaving the rest at their defaults). Note the
// usual mergo caveat: a field explicitly set to false in the file can't be
// told apart from one the file omits, so it won't clear a default of true
// (the same limitation the teacher's own bool-free VCFG documents sidestep
// by using custom types instead of plain bools).
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	raw, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrap(err, "ntfs: reading options file")
	}

	var override Options
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return opts, errors.Wrap(err, "ntfs: parsing options file")
	}

	if err := mergo.Merge(&opts, &override, mergo.WithOverride); err != nil {
		return opts, errors.Wrap(err, "ntfs: merging options")
	}
	return opts, nil
}
