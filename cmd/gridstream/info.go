package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/gridstream/internal/adapter/snapshot"
	"github.com/couchcryptid/gridstream/internal/config"
	"github.com/couchcryptid/gridstream/internal/domain"
	"github.com/couchcryptid/gridstream/internal/observability"
)

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <snapshot>",
		Short: "List the variables stored in a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dec := snapshot.NewDecoder(observability.NewLogger(cfg))
			path := args[0]

			names, err := dec.Variables(cmd.Context(), path)
			if err != nil {
				return err
			}
			meta, err := dec.Decode(cmd.Context(), path, nil)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, path)
			if hour, err := domain.ParseForecastHour(path); err == nil {
				fmt.Fprintf(w, "forecast hour: %d\n", hour)
			}
			fmt.Fprintf(w, "valid time:    %s\n", meta.ValidTime.Format(time.RFC3339))
			fmt.Fprintf(w, "base time:     %s\n", meta.BaseTime.Format(time.RFC3339))
			fmt.Fprintf(w, "grid:          %d x %d\n", meta.NY, meta.NX)
			fmt.Fprintf(w, "variables:     %d\n\n", len(names))

			stackedAs := make(map[string]string)
			for _, g := range domain.DetectLevelGroups(names) {
				for _, m := range g.Members {
					stackedAs[m] = fmt.Sprintf("%s[%s]", domain.SafeName(g.Name), g.Dim)
				}
			}

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSAFE NAME\tSTACKED INTO")
			for _, n := range names {
				stacked := stackedAs[n]
				if stacked == "" {
					stacked = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", n, domain.SafeName(n), stacked)
			}
			return tw.Flush()
		},
	}
}
