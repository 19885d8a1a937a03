package integration_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gridstream/internal/adapter/netcdf"
	"github.com/couchcryptid/gridstream/internal/adapter/snapshot"
	"github.com/couchcryptid/gridstream/internal/observability"
	"github.com/couchcryptid/gridstream/internal/pipeline"
)

var runStart = time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeSnapshots writes count synthetic hourly snapshots and returns the glob
// pattern matching them.
func writeSnapshots(t *testing.T, count, ny, nx int) string {
	t.Helper()
	dir := t.TempDir()
	s := snapshot.Synthetic{NY: ny, NX: nx, BaseTime: runStart, Prefix: "pfSYNTH"}
	_, err := s.WriteSequence(dir, count)
	require.NoError(t, err)
	return filepath.Join(dir, "pfSYNTH+*")
}

type convertOptions struct {
	chunkHours int
	prefetch   bool
	observers  []pipeline.ChunkObserver
}

// convert runs the full conversion from a glob pattern to a new output file
// and returns its path.
func convert(ctx context.Context, t *testing.T, pattern string, opts convertOptions) (string, pipeline.Summary) {
	t.Helper()
	if opts.chunkHours == 0 {
		opts.chunkHours = 1
	}

	paths, err := pipeline.Discover(pattern)
	require.NoError(t, err)
	seq, err := pipeline.NewSequencer(opts.chunkHours)
	require.NoError(t, err)
	it, err := seq.Sequence(paths)
	require.NoError(t, err)

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	loader := pipeline.NewLoader(snapshot.NewDecoder(logger), pipeline.LoaderOptions{
		Deaccumulate: []string{snapshot.SyntheticRain},
		StackLevels:  true,
	}, logger, metrics)

	out := filepath.Join(t.TempDir(), "out.nc")
	store := netcdf.NewStore(out, netcdf.Options{}, logger)
	p := pipeline.New(loader, store, logger, metrics, pipeline.Options{
		Output:    out,
		Source:    pattern,
		Prefetch:  opts.prefetch,
		Observers: opts.observers,
	})

	sum, err := p.Run(ctx, it)
	if err != nil {
		_ = store.Abort()
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())
	return out, sum
}
