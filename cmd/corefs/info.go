package main

import (
	"github.com/spf13/cobra"
)

func infoCmd() *cobra.Command {
	var partIndex int
	cmd := &cobra.Command{
		Use:   "info IMAGE",
		Short: "Dump the partition table and NTFS volume geometry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			volume, _, table, err := mountVolume(args[0], partIndex)
			if err != nil {
				return err
			}
			defer volume.Raw.Close()

			log.Printf("partitions:")
			for i, p := range table {
				log.Printf("  [%d] type=%s first_lba=%d last_lba=%d", i, p.Type, p.FirstLBA, p.LastLBA)
			}

			bpb := volume.BPB
			log.Printf("volume:")
			log.Printf("  bytes_per_sector:  %d", bpb.BytesPerSector)
			log.Printf("  sectors_per_cluster: %d", bpb.SectorsPerCluster)
			log.Printf("  bytes_per_cluster: %d", bpb.BytesPerCluster())
			log.Printf("  cluster_count:     %d", bpb.ClusterCount())
			log.Printf("  mft_record_size:   %d", bpb.MFTRecordSize())
			log.Printf("  mft_cluster:       %d", bpb.MFTCluster)
			log.Printf("  volume_serial:     %#x", bpb.VolumeSerialNumber)
			return nil
		},
	}
	cmd.Flags().IntVar(&partIndex, "partition", -1, "GPT partition index (default: first NTFS-typed partition)")
	return cmd
}
