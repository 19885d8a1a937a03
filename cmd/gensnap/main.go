// Command gensnap writes a synthetic sequence of hourly snapshot files for
// benchmarks and manual runs of gridstream.
//
// Usage:
//
//	go run ./cmd/gensnap --count 48 --ny 200 --nx 300 --prefix pfSYNTH data/synth
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/gridstream/internal/adapter/snapshot"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *cobra.Command {
	var (
		count    int
		ny, nx   int
		prefix   string
		baseTime string
	)
	cmd := &cobra.Command{
		Use:          "gensnap <dir>",
		Short:        "Write synthetic hourly snapshot files",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 2 {
				return fmt.Errorf("--count must be at least 2, got %d", count)
			}
			base, err := time.Parse(time.RFC3339, baseTime)
			if err != nil {
				return fmt.Errorf("invalid --base-time: %w", err)
			}
			dir := args[0]
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}

			s := snapshot.Synthetic{NY: ny, NX: nx, BaseTime: base.UTC(), Prefix: prefix}
			paths, err := s.WriteSequence(dir, count)
			if err != nil {
				return err
			}

			var total uint64
			for _, p := range paths {
				if st, err := os.Stat(p); err == nil {
					total += uint64(st.Size())
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d snapshots (%s) to %s\n", len(paths), humanize.Bytes(total), dir)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 24, "number of hourly snapshots, starting at hour 0")
	cmd.Flags().IntVar(&ny, "ny", 100, "grid rows")
	cmd.Flags().IntVar(&nx, "nx", 100, "grid columns")
	cmd.Flags().StringVar(&prefix, "prefix", "pfSYNTH", "file name stem; files are named <prefix>+HHHH")
	cmd.Flags().StringVar(&baseTime, "base-time", "2024-07-01T00:00:00Z", "forecast base time (RFC 3339)")
	return cmd
}
