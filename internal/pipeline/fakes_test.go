package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/gridstream/internal/domain"
	"github.com/couchcryptid/gridstream/internal/observability"
	"github.com/couchcryptid/gridstream/internal/pipeline"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

var runStart = time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)

// valueFunc returns the raw value of field name at a forecast hour and cell.
type valueFunc func(name string, hour, cell int) float64

// fakeDecoder generates snapshots on demand so a test never holds more than the
// pipeline itself asks for.
type fakeDecoder struct {
	ny, nx int
	names  []string
	value  valueFunc

	// shapeAt overrides the grid for one forecast hour.
	shapeAt map[int][2]int
	// missingAt drops a field for one forecast hour.
	missingAt map[int]string
	// failAt makes Decode fail for one forecast hour.
	failAt map[int]error

	mu        sync.Mutex
	decoded   []string
	requested [][]string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (d *fakeDecoder) Variables(_ context.Context, _ string) ([]string, error) {
	return slices.Clone(d.names), nil
}

func (d *fakeDecoder) Decode(ctx context.Context, path string, names []string) (domain.Snapshot, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		prev := d.maxInFlight.Load()
		if n <= prev || d.maxInFlight.CompareAndSwap(prev, n) {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}

	hour, err := domain.ParseForecastHour(path)
	if err != nil {
		return domain.Snapshot{}, err
	}

	d.mu.Lock()
	d.decoded = append(d.decoded, path)
	d.requested = append(d.requested, slices.Clone(names))
	d.mu.Unlock()

	if err := d.failAt[hour]; err != nil {
		return domain.Snapshot{}, err
	}

	ny, nx := d.ny, d.nx
	if s, ok := d.shapeAt[hour]; ok {
		ny, nx = s[0], s[1]
	}

	snap := domain.Snapshot{
		ValidTime: runStart.Add(time.Duration(hour) * time.Hour),
		BaseTime:  runStart,
		NY:        ny,
		NX:        nx,
		Fields:    make(map[string]domain.Field, len(names)),
	}
	for _, name := range names {
		if d.missingAt[hour] == name {
			continue
		}
		data := make([]float64, ny*nx)
		for c := range data {
			data[c] = d.value(name, hour, c)
		}
		snap.Fields[name] = domain.Field{
			Dims:  []string{domain.DimY, domain.DimX},
			Shape: []int{ny, nx},
			Data:  data,
		}
	}
	return snap, nil
}

func (d *fakeDecoder) decodeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.decoded)
}

// memStore keeps copies of every appended chunk.
type memStore struct {
	chunks  []domain.Chunk
	records int

	// failOn makes the nth Append (1-based) fail.
	failOn int
	calls  int
}

func (s *memStore) Append(_ context.Context, chunk domain.Chunk) error {
	s.calls++
	if s.failOn > 0 && s.calls == s.failOn {
		return fmt.Errorf("%w: disk full", domain.ErrWrite)
	}
	if chunk.FirstIndex != s.records {
		return fmt.Errorf("chunk starts at %d, store has %d records", chunk.FirstIndex, s.records)
	}
	cp := chunk
	cp.Data = make(map[string][]float64, len(chunk.Data))
	for k, v := range chunk.Data {
		cp.Data[k] = slices.Clone(v)
	}
	s.chunks = append(s.chunks, cp)
	s.records += chunk.Timesteps()
	return nil
}

func (s *memStore) Records() int {
	return s.records
}

// series flattens variable name across all stored chunks: [t][cells].
func (s *memStore) series(name string) []float64 {
	var out []float64
	for _, c := range s.chunks {
		out = append(out, c.Data[name]...)
	}
	return out
}

func (s *memStore) forecastHours() []int {
	var out []int
	for _, c := range s.chunks {
		out = append(out, c.ForecastHours...)
	}
	return out
}

// countingStore discards chunk data and only counts records.
type countingStore struct {
	records int
}

func (s *countingStore) Append(_ context.Context, chunk domain.Chunk) error {
	s.records += chunk.Timesteps()
	return nil
}

func (s *countingStore) Records() int {
	return s.records
}

// observerFunc adapts a function to pipeline.ChunkObserver.
type observerFunc func(ctx context.Context, ev domain.AppendEvent) error

func (f observerFunc) OnChunkAppended(ctx context.Context, ev domain.AppendEvent) error {
	return f(ctx, ev)
}

var errObserver = errors.New("observer unavailable")

// --- helpers ---

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hourPaths(hours ...int) []string {
	paths := make([]string, len(hours))
	for i, h := range hours {
		paths[i] = fmt.Sprintf("/data/pfGRIDSTREAM+%04d", h)
	}
	return paths
}

func seqHours(n int) []int {
	hours := make([]int, n)
	for i := range hours {
		hours[i] = i
	}
	return hours
}

type runConfig struct {
	chunkHours int
	prefetch   bool
	loader     pipeline.LoaderOptions
	observers  []pipeline.ChunkObserver
}

func runPipeline(t *testing.T, ctx context.Context, dec pipeline.Decoder, store pipeline.ChunkStore, paths []string, rc runConfig) (*pipeline.Pipeline, pipeline.Summary, error) {
	t.Helper()
	if rc.chunkHours == 0 {
		rc.chunkHours = 1
	}
	seq, err := pipeline.NewSequencer(rc.chunkHours)
	require.NoError(t, err)
	it, err := seq.Sequence(paths)
	require.NoError(t, err)
	metrics := newTestMetrics()
	loader := pipeline.NewLoader(dec, rc.loader, discardLogger(), metrics)
	p := pipeline.New(loader, store, discardLogger(), metrics, pipeline.Options{
		Output:    "out.nc",
		Source:    "test",
		Prefetch:  rc.prefetch,
		Observers: rc.observers,
	})
	sum, err := p.Run(ctx, it)
	return p, sum, err
}
