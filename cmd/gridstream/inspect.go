package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/gridstream/internal/adapter/netcdf"
)

func newInspectCommand() *cobra.Command {
	var (
		record int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "inspect <output>",
		Short: "Summarize a converted NetCDF file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := netcdf.Inspect(args[0], record)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			return printSummary(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().IntVar(&record, "record", 0, "record whose value ranges are shown")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func printSummary(w io.Writer, sum netcdf.Summary) error {
	size := "unknown size"
	if st, err := os.Stat(sum.Path); err == nil {
		size = humanize.Bytes(uint64(st.Size()))
	}
	fmt.Fprintf(w, "%s (%s)\n", sum.Path, size)
	fmt.Fprintf(w, "records: %d\n\n", sum.Records)

	fmt.Fprintln(w, "attributes:")
	for _, k := range netcdf.AttributeKeys(sum.Attributes) {
		fmt.Fprintf(w, "  %s = %v\n", k, sum.Attributes[k])
	}

	fmt.Fprintf(w, "\nvariables (ranges at record %d):\n", sum.Record)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tDIMS\tTYPE\tMIN\tMAX\tORIGINAL")
	for _, v := range sum.Variables {
		lo, hi := "-", "-"
		if v.HasRange {
			lo, hi = fmt.Sprintf("%.6g", v.Min), fmt.Sprintf("%.6g", v.Max)
		}
		orig := sum.NameMap[v.Name]
		if orig == "" {
			orig = v.Name
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			v.Name, strings.Join(v.Dims, ","), v.Type, lo, hi, orig)
	}
	return tw.Flush()
}
