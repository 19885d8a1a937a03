// Command gridstream converts sequences of forecast snapshot files into one
// time-series NetCDF file, streaming a bounded number of timesteps at a time.
//
// Usage:
//
//	gridstream convert 'data/pfABOF+*' out.nc -d SURFACCPLUIE --chunk-hours 6
//	gridstream inspect out.nc --record 3
//	gridstream info data/pfABOF+0001
//	gridstream validate 'data/pfABOF+*' out.nc
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/gridstream/internal/domain"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gridstream: %s: %v\n", domain.ErrorKind(err), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gridstream",
		Short:         "Convert forecast snapshot sequences into a NetCDF time series",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newConvertCommand(),
		newInspectCommand(),
		newInfoCommand(),
		newValidateCommand(),
	)
	return root
}
