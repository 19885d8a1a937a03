package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/gridstream/internal/adapter/netcdf"
	"github.com/couchcryptid/gridstream/internal/adapter/snapshot"
	"github.com/couchcryptid/gridstream/internal/config"
	"github.com/couchcryptid/gridstream/internal/domain"
	"github.com/couchcryptid/gridstream/internal/observability"
	"github.com/couchcryptid/gridstream/internal/pipeline"
)

// maxReported caps the problems printed by validate.
const maxReported = 20

var errValidation = errors.New("validation failed")

func newValidateCommand() *cobra.Command {
	var (
		keepNegative bool
		tolerance    float64
	)
	cmd := &cobra.Command{
		Use:   "validate <pattern> <output>",
		Short: "Check a converted file against its source snapshots",
		Long: "Re-reads every source snapshot and compares each 2-D output variable record by record.\n" +
			"Instantaneous variables must equal the source value; de-accumulated variables must\n" +
			"equal the difference from the previous file (clamped at zero unless --keep-negative).",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			v := &validator{
				dec:          snapshot.NewDecoder(observability.NewLogger(cfg)),
				keepNegative: keepNegative,
				tolerance:    tolerance,
			}
			return v.run(cmd.Context(), cmd.OutOrStdout(), args[0], args[1])
		},
	}
	cmd.Flags().BoolVar(&keepNegative, "keep-negative", false, "the output was converted with --keep-negative")
	cmd.Flags().Float64Var(&tolerance, "tolerance", 1e-9, "absolute or relative tolerance for value comparison")
	return cmd
}

// recordCheck is one output variable compared against its source field.
type recordCheck struct {
	name       string
	original   string
	cumulative bool
}

type validator struct {
	dec          *snapshot.Decoder
	keepNegative bool
	tolerance    float64

	problems []string
	total    int
}

func (v *validator) report(format string, args ...any) {
	v.total++
	if len(v.problems) < maxReported {
		v.problems = append(v.problems, fmt.Sprintf(format, args...))
	}
}

func (v *validator) run(ctx context.Context, w io.Writer, pattern, output string) error {
	paths, err := pipeline.Discover(pattern)
	if err != nil {
		return err
	}
	seq, err := pipeline.NewSequencer(1)
	if err != nil {
		return err
	}
	it, err := seq.Sequence(paths)
	if err != nil {
		return err
	}
	files := it.Files()

	sum, err := netcdf.Inspect(output, 0)
	if err != nil {
		return err
	}
	if sum.Records != len(files)-1 {
		v.report("output has %d records, %d source files give %d", sum.Records, len(files), len(files)-1)
	}

	hours, err := netcdf.ReadVariable(output, netcdf.VarForecastHour)
	if err != nil {
		return err
	}
	for i, f := range files[1:] {
		if i < len(hours) && int(hours[i]) != f.ForecastHour {
			v.report("record %d: forecast_hour %v, source %s is hour %d", i, hours[i], f.Path, f.ForecastHour)
		}
	}

	checks := planChecks(sum)
	records := min(sum.Records, len(files)-1)
	if err := v.compare(ctx, output, files, checks, records); err != nil {
		return err
	}

	fmt.Fprintf(w, "checked %d records of %d variables against %d source files\n", records, len(checks), len(files))
	if v.total == 0 {
		fmt.Fprintln(w, "OK")
		return nil
	}
	for _, p := range v.problems {
		fmt.Fprintln(w, "  "+p)
	}
	if v.total > len(v.problems) {
		fmt.Fprintf(w, "  ... and %d more\n", v.total-len(v.problems))
	}
	return fmt.Errorf("%w: %d problems", errValidation, v.total)
}

// planChecks selects the 2-D record variables of an output. Level-stacked
// variables are not compared.
func planChecks(sum netcdf.Summary) []recordCheck {
	var checks []recordCheck
	for _, vs := range sum.Variables {
		if vs.Name == netcdf.VarTime || vs.Name == netcdf.VarForecastHour {
			continue
		}
		if !slices.Equal(vs.Dims, []string{domain.DimTime, domain.DimY, domain.DimX}) {
			continue
		}
		orig, _ := vs.Attributes["original_name"].(string)
		if orig == "" {
			orig = vs.Name
		}
		acc, _ := vs.Attributes["accumulation"].(string)
		checks = append(checks, recordCheck{
			name:       vs.Name,
			original:   orig,
			cumulative: acc == "cumulative-interval",
		})
	}
	return checks
}

// compare decodes the source files in order, keeping only the previous
// cumulative fields, and compares each output record.
func (v *validator) compare(ctx context.Context, output string, files []domain.SourceFile, checks []recordCheck, records int) error {
	names := make([]string, len(checks))
	for i, c := range checks {
		names[i] = c.original
	}

	reader, err := netcdf.OpenReader(output)
	if err != nil {
		return err
	}
	defer reader.Close()

	prev, err := v.dec.Decode(ctx, files[0].Path, names)
	if err != nil {
		return err
	}
	for r := 0; r < records; r++ {
		snap, err := v.dec.Decode(ctx, files[r+1].Path, names)
		if err != nil {
			return err
		}
		for _, c := range checks {
			got, err := reader.Record(c.name, r)
			if err != nil {
				return err
			}
			src, ok := snap.Fields[c.original]
			if !ok {
				v.report("record %d: %s missing from %s", r, c.original, files[r+1].Path)
				continue
			}
			want := src.Data
			if c.cumulative {
				want = v.interval(prev.Fields[c.original].Data, src.Data)
			}
			v.compareValues(r, c.name, want, got)
		}
		prev = snap
	}
	return nil
}

func (v *validator) interval(prev, cur []float64) []float64 {
	out := make([]float64, len(cur))
	if len(prev) != len(cur) {
		return out
	}
	floats.SubTo(out, cur, prev)
	if !v.keepNegative {
		for i, x := range out {
			if x < 0 {
				out[i] = 0
			}
		}
	}
	return out
}

func (v *validator) compareValues(record int, name string, want, got []float64) {
	if len(want) != len(got) {
		v.report("record %d: %s has %d values, source has %d", record, name, len(got), len(want))
		return
	}
	for i := range want {
		if !floats.EqualWithinAbsOrRel(want[i], got[i], v.tolerance, v.tolerance) {
			v.report("record %d: %s[%d] = %v, want %v", record, name, i, got[i], want[i])
			return
		}
	}
}
