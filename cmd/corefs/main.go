// Command corefs is a thin demonstration harness over pkg/ntfs: open an
// image, list a directory, cat a file, dump volume info. It is not a
// product CLI — there is no CLI surface at the core library level, this
// just exercises the library the way a developer poking at an image would.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sectorfs/corefs/pkg/elog"
)

var log elog.View

func main() {
	cli := &elog.CLI{}
	log = cli

	root := &cobra.Command{
		Use:           "corefs",
		Short:         "Inspect NTFS volumes inside raw, VHD, VMDK or QCOW2 disk images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&cli.IsVerbose, "verbose", false, "print Infof-level progress messages (e.g. import confirmations)")
	root.PersistentFlags().BoolVar(&cli.DisableColors, "no-color", false, "disable colored log output")
	root.AddCommand(lsCmd(), catCmd(), infoCmd(), importCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
