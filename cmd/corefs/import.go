package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sectorfs/corefs/pkg/ntfs"
	"github.com/sectorfs/corefs/pkg/vio"
)

func importCmd() *cobra.Command {
	var partIndex int
	cmd := &cobra.Command{
		Use:   "import IMAGE HOSTPATH DESTPATH",
		Short: "Copy a host file or directory tree into an NTFS volume",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, hostPath, destPath := args[0], args[1], args[2]

			fs, err := mountFS(image, partIndex)
			if err != nil {
				return err
			}
			defer fs.Close()

			hostInfo, err := os.Lstat(hostPath)
			if err != nil {
				return err
			}
			if hostInfo.IsDir() {
				if err := ntfs.ImportTree(fs, destPath, hostPath); err != nil {
					return err
				}
			} else {
				src, err := vio.OpenHostFile(hostPath)
				if err != nil {
					return err
				}
				if err := ntfs.Import(fs, destPath, src); err != nil {
					return err
				}
			}
			log.Infof("imported %s as %s", hostPath, destPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&partIndex, "partition", -1, "GPT partition index (default: first NTFS-typed partition)")
	return cmd
}
