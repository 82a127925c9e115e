package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// nonSeekableWriter hides os.Stdout's Seek method from vio.WriteSeeker's
// type assertion. *os.File implements io.Seeker even when its underlying
// fd is a pipe or tty, where an actual Seek call fails — stripping the
// method forces ExportTo's zero-fill-on-forward-seek path, the one a
// genuinely unseekable destination needs.
type nonSeekableWriter struct{ io.Writer }

func catCmd() *cobra.Command {
	var partIndex int
	var streamName string
	cmd := &cobra.Command{
		Use:   "cat IMAGE PATH",
		Short: "Print a file's data stream to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := mount(args[0], partIndex)
			if err != nil {
				return err
			}
			defer fs.Close()

			return fs.Export(args[1], streamName, nonSeekableWriter{os.Stdout})
		},
	}
	cmd.Flags().IntVar(&partIndex, "partition", -1, "GPT partition index (default: first NTFS-typed partition)")
	cmd.Flags().StringVar(&streamName, "stream", "", "named alternate data stream (default: unnamed $DATA)")
	return cmd
}
