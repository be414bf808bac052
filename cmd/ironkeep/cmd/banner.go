package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const banner = `
  _____                 _  __
 |_   _|               | |/ /
   | |  _ __ ___  _ __ | ' / ___  ___ _ __
   | | | '__/ _ \| '_ \|  < / _ \/ _ \ '_ \
  _| |_| | | (_) | | | | . \  __/  __/ |_) |
 |_____|_|  \___/|_| |_|_|\_\___|\___| .__/
                                     | |
                                     |_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Key Custodian & Secure Record Store - Version %s\x1b[0m\n\n", Version)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printBanner(cmd.OutOrStdout())
		},
	}
}
