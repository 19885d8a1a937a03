package pipeline_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gridstream/internal/domain"
	"github.com/couchcryptid/gridstream/internal/pipeline"
)

var levelFieldNames = []string{
	"SURFTEMPERATURE",
	"S002TEMPERATURE",
	"S001TEMPERATURE",
	"P85000TEMPERATURE",
	"P00000TEMPERATURE",
	"P50000TEMPERATURE",
	"SURFACCPLUIE",
	"CLSTEMPERATURE.2M",
	"S001WIND",
}

// levelValue encodes the field's position in levelFieldNames so stacked order
// can be checked from the data.
func levelValue(name string, hour, cell int) float64 {
	for i, n := range levelFieldNames {
		if n == name {
			return float64(i*100 + hour*10 + cell)
		}
	}
	return -1
}

func newLevelLoader(opts pipeline.LoaderOptions) (*fakeDecoder, *pipeline.Loader) {
	dec := &fakeDecoder{ny: 1, nx: 2, names: levelFieldNames, value: levelValue}
	return dec, pipeline.NewLoader(dec, opts, discardLogger(), newTestMetrics())
}

func sourceFile(hour int) domain.SourceFile {
	return domain.SourceFile{Path: hourPaths(hour)[0], ForecastHour: hour}
}

func specNames(specs []domain.VariableSpec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

func TestLoader_Load_StacksLevels(t *testing.T) {
	_, loader := newLevelLoader(pipeline.LoaderOptions{
		StackLevels:  true,
		Deaccumulate: []string{"SURFACCPLUIE"},
	})

	snap, err := loader.Load(context.Background(), sourceFile(1))
	require.NoError(t, err)

	layout := loader.Layout()
	require.NotNil(t, layout)
	assert.Equal(t, []string{
		"SURFTEMPERATURE",
		"TEMPERATURE",
		"P_TEMPERATURE",
		"SURFACCPLUIE",
		"CLSTEMPERATURE_2M",
		"S001WIND",
	}, specNames(layout.Specs))
	assert.Equal(t, []string{"SURFACCPLUIE"}, layout.Cumulative)
	assert.Empty(t, layout.Unmatched)

	if diff := cmp.Diff(map[string][]int{
		domain.DimLevel:    {1, 2},
		domain.DimPressure: {100000, 85000, 50000},
	}, layout.Grid.Levels); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}

	temp := snap.Fields["TEMPERATURE"]
	assert.Equal(t, []string{domain.DimLevel, domain.DimY, domain.DimX}, temp.Dims)
	assert.Equal(t, []int{2, 1, 2}, temp.Shape)
	// S001 (index 2) then S002 (index 1), hour 1.
	assert.Equal(t, []float64{210, 211, 110, 111}, temp.Data)

	ptemp := snap.Fields["P_TEMPERATURE"]
	assert.Equal(t, []int{3, 1, 2}, ptemp.Shape)
	// P00000 (index 4), P85000 (index 3), P50000 (index 5).
	assert.Equal(t, []float64{410, 411, 310, 311, 510, 511}, ptemp.Data)

	plain := snap.Fields["CLSTEMPERATURE_2M"]
	assert.Equal(t, []string{domain.DimY, domain.DimX}, plain.Dims)
	assert.Equal(t, []float64{710, 711}, plain.Data)

	assert.Equal(t, "CLSTEMPERATURE_2M", layout.NameMap.Safe("CLSTEMPERATURE.2M"))
	orig, ok := layout.NameMap.Original("CLSTEMPERATURE_2M")
	assert.True(t, ok)
	assert.Equal(t, "CLSTEMPERATURE.2M", orig)
}

func TestLoader_Load_NoStacking(t *testing.T) {
	_, loader := newLevelLoader(pipeline.LoaderOptions{StackLevels: false})

	snap, err := loader.Load(context.Background(), sourceFile(0))
	require.NoError(t, err)
	assert.Len(t, snap.Fields, len(levelFieldNames))
	assert.Contains(t, snap.Fields, "S001TEMPERATURE")
	assert.Contains(t, snap.Fields, "P00000TEMPERATURE")
	assert.Empty(t, loader.Layout().Grid.Levels)
}

func TestLoader_Load_RequestsOnlySelectedFields(t *testing.T) {
	dec, loader := newLevelLoader(pipeline.LoaderOptions{
		Variables:   []string{"CLSTEMPERATURE_2M", "SURFACCPLUIE", "SURFACCPLUIE"},
		StackLevels: true,
	})

	for _, h := range []int{0, 1, 2} {
		_, err := loader.Load(context.Background(), sourceFile(h))
		require.NoError(t, err)
	}

	require.Len(t, dec.requested, 3)
	for _, names := range dec.requested {
		assert.Equal(t, []string{"CLSTEMPERATURE.2M", "SURFACCPLUIE"}, names)
	}
	assert.Equal(t, []string{"CLSTEMPERATURE_2M", "SURFACCPLUIE"}, specNames(loader.Layout().Specs))
}

func TestLoader_Load_DeaccumulateByMemberName(t *testing.T) {
	_, loader := newLevelLoader(pipeline.LoaderOptions{
		StackLevels:  true,
		Deaccumulate: []string{"S002TEMPERATURE", "NOSUCHFIELD"},
	})

	_, err := loader.Load(context.Background(), sourceFile(0))
	require.NoError(t, err)

	layout := loader.Layout()
	assert.Equal(t, []string{"TEMPERATURE"}, layout.Cumulative)
	assert.Equal(t, []string{"NOSUCHFIELD"}, layout.Unmatched)
	for _, s := range layout.Specs {
		if s.Name == "TEMPERATURE" {
			assert.Equal(t, domain.Cumulative, s.Kind)
		} else {
			assert.Equal(t, domain.Instantaneous, s.Kind, s.Name)
		}
	}
}

func TestLoader_Load_Errors(t *testing.T) {
	t.Run("requested variable missing", func(t *testing.T) {
		_, loader := newLevelLoader(pipeline.LoaderOptions{Variables: []string{"NOPE"}})
		_, err := loader.Load(context.Background(), sourceFile(0))
		require.ErrorIs(t, err, domain.ErrDecode)
	})

	t.Run("grid changes", func(t *testing.T) {
		dec, loader := newLevelLoader(pipeline.LoaderOptions{})
		dec.shapeAt = map[int][2]int{1: {2, 2}}
		_, err := loader.Load(context.Background(), sourceFile(0))
		require.NoError(t, err)
		_, err = loader.Load(context.Background(), sourceFile(1))
		require.ErrorIs(t, err, domain.ErrShapeMismatch)
	})

	t.Run("field missing from later file", func(t *testing.T) {
		dec, loader := newLevelLoader(pipeline.LoaderOptions{StackLevels: true})
		dec.missingAt = map[int]string{1: "S002TEMPERATURE"}
		_, err := loader.Load(context.Background(), sourceFile(0))
		require.NoError(t, err)
		_, err = loader.Load(context.Background(), sourceFile(1))
		require.ErrorIs(t, err, domain.ErrDecode)
	})

	t.Run("safe name collision", func(t *testing.T) {
		dec := &fakeDecoder{ny: 1, nx: 1, names: []string{"A.B", "A_B"}, value: levelValue}
		loader := pipeline.NewLoader(dec, pipeline.LoaderOptions{}, discardLogger(), newTestMetrics())
		_, err := loader.Load(context.Background(), sourceFile(0))
		require.ErrorIs(t, err, domain.ErrSchemaMismatch)
	})

	t.Run("stacked groups disagree on levels", func(t *testing.T) {
		dec := &fakeDecoder{
			ny: 1, nx: 1,
			names: []string{"S001T", "S002T", "S001Q", "S003Q"},
			value: levelValue,
		}
		loader := pipeline.NewLoader(dec, pipeline.LoaderOptions{StackLevels: true}, discardLogger(), newTestMetrics())
		_, err := loader.Load(context.Background(), sourceFile(0))
		require.ErrorIs(t, err, domain.ErrShapeMismatch)
	})
}
