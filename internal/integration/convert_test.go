package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gridstream/internal/adapter/netcdf"
	"github.com/couchcryptid/gridstream/internal/adapter/snapshot"
	"github.com/couchcryptid/gridstream/internal/domain"
	"github.com/couchcryptid/gridstream/internal/pipeline"
)

const (
	testNY = 6
	testNX = 8
)

// TestConvert_EndToEnd converts synthetic snapshots and reads the output back
// with an independent NetCDF reader.
func TestConvert_EndToEnd(t *testing.T) {
	pattern := writeSnapshots(t, 7, testNY, testNX)

	out, sum := convert(context.Background(), t, pattern, convertOptions{chunkHours: 4})
	assert.Equal(t, 7, sum.Files)
	assert.Equal(t, 2, sum.Chunks)
	assert.Equal(t, 6, sum.Records)

	info, err := netcdf.Inspect(out, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, info.Records)
	assert.Equal(t, "CLSVENT.ZONAL", info.NameMap["CLSVENT_ZONAL"])
	assert.Equal(t, snapshot.SyntheticRain, info.Attributes["deaccumulated_variables"])

	var names []string
	for _, v := range info.Variables {
		names = append(names, v.Name)
	}
	assert.Subset(t, names, []string{
		netcdf.VarTime, netcdf.VarForecastHour, netcdf.VarLat, netcdf.VarLon,
		"SURFTEMPERATURE", "SURFACCPLUIE", "CLSVENT_ZONAL", "TEMPERATURE",
	})

	hours, err := netcdf.ReadVariable(out, netcdf.VarForecastHour)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, hours)

	rain, err := netcdf.ReadVariable(out, "SURFACCPLUIE")
	require.NoError(t, err)
	cells := testNY * testNX
	require.Len(t, rain, 6*cells)
	for rec := 0; rec < 6; rec++ {
		for c := 0; c < cells; c++ {
			assert.InDelta(t, snapshot.SyntheticRainRate(c), rain[rec*cells+c], 1e-9, "record %d cell %d", rec, c)
		}
	}

	levels, err := netcdf.ReadRecord(out, "TEMPERATURE", 5)
	require.NoError(t, err)
	require.Len(t, levels, snapshot.SyntheticLevels*cells)
	assert.InDelta(t, levels[0]-6.5, levels[cells], 1e-9)
}

// TestConvert_ChunkingTransparent checks that chunk size and prefetch do not
// change a single output value.
func TestConvert_ChunkingTransparent(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })

	pattern := writeSnapshots(t, 10, testNY, testNX)

	ref, _ := convert(context.Background(), t, pattern, convertOptions{chunkHours: 1})
	variants := map[string]convertOptions{
		"chunk 25":           {chunkHours: 25},
		"chunk 4 prefetch":   {chunkHours: 4, prefetch: true},
		"chunk 1 prefetch":   {chunkHours: 1, prefetch: true},
		"chunk 9 sequential": {chunkHours: 9},
	}

	vars := []string{netcdf.VarTime, netcdf.VarForecastHour, "SURFTEMPERATURE", "SURFACCPLUIE", "CLSVENT_ZONAL", "TEMPERATURE"}
	for name, opts := range variants {
		t.Run(name, func(t *testing.T) {
			out, sum := convert(context.Background(), t, pattern, opts)
			assert.Equal(t, 9, sum.Records)
			for _, v := range vars {
				want, err := netcdf.ReadVariable(ref, v)
				require.NoError(t, err)
				got, err := netcdf.ReadVariable(out, v)
				require.NoError(t, err)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("%s mismatch (-chunk1 +%s):\n%s", v, name, diff)
				}
			}
		})
	}
}

func TestConvert_InsufficientInput(t *testing.T) {
	pattern := writeSnapshots(t, 1, testNY, testNX)

	paths, err := pipeline.Discover(pattern)
	require.NoError(t, err)
	seq, err := pipeline.NewSequencer(1)
	require.NoError(t, err)
	_, err = seq.Sequence(paths)
	assert.ErrorIs(t, err, domain.ErrInsufficientInput)
}
