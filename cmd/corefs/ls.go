package main

import (
	"github.com/spf13/cobra"
)

func lsCmd() *cobra.Command {
	var partIndex int
	cmd := &cobra.Command{
		Use:   "ls IMAGE [PATH]",
		Short: "List a directory's contents",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dirPath := "/"
			if len(args) == 2 {
				dirPath = args[1]
			}
			fs, err := mount(args[0], partIndex)
			if err != nil {
				return err
			}
			defer fs.Close()

			entries, err := fs.ReadDir(dirPath)
			if err != nil {
				return err
			}
			for _, e := range entries {
				tag := "-"
				if e.IsDir {
					tag = "d"
				}
				log.Printf("%s %10d %s  %s", tag, e.Size, e.ModifiedAt.Format("2006-01-02 15:04"), e.Name)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&partIndex, "partition", -1, "GPT partition index (default: first NTFS-typed partition)")
	return cmd
}
