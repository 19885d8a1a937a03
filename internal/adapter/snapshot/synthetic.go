package snapshot

import (
	"fmt"
	"math"
	"path/filepath"
	"time"
)

// Synthetic field names. SyntheticRain is cumulative; the others are
// instantaneous. The model-level temperatures stack into one variable.
const (
	SyntheticTemperature = "SURFTEMPERATURE"
	SyntheticRain        = "SURFACCPLUIE"
	SyntheticWind        = "CLSVENT.ZONAL"
)

// SyntheticLevels is the number of S###TEMPERATURE model-level fields.
const SyntheticLevels = 3

// Synthetic generates deterministic snapshot sequences for benchmarks and
// manual runs.
type Synthetic struct {
	NY, NX   int
	BaseTime time.Time

	// Prefix is the file name stem; files are named Prefix+"+HHHH".
	Prefix string
}

// Name returns the file name of the snapshot at hour.
func (s Synthetic) Name(hour int) string {
	return fmt.Sprintf("%s+%04d", s.Prefix, hour)
}

// Snapshot builds the snapshot at forecast hour. Rain accumulates by a fixed
// per-cell rate each hour, so de-accumulated intervals are constant.
func (s Synthetic) Snapshot(hour int) File {
	cells := s.NY * s.NX
	lat := make([]float64, cells)
	lon := make([]float64, cells)
	temp := make([]float64, cells)
	rain := make([]float64, cells)
	wind := make([]float64, cells)
	levels := make([][]float64, SyntheticLevels)
	for l := range levels {
		levels[l] = make([]float64, cells)
	}

	for y := 0; y < s.NY; y++ {
		for x := 0; x < s.NX; x++ {
			i := y*s.NX + x
			lat[i] = 40 + 0.025*float64(y)
			lon[i] = -5 + 0.025*float64(x)
			diurnal := 5 * math.Sin(2*math.Pi*float64(hour)/24)
			temp[i] = 285 + diurnal - 0.01*float64(y)
			rain[i] = float64(hour) * SyntheticRainRate(i)
			wind[i] = 3 + math.Cos(float64(x+hour)/10)
			for l := range levels {
				levels[l][i] = temp[i] - 6.5*float64(l+1)
			}
		}
	}

	fields := []NamedField{
		{Name: SyntheticTemperature, Data: temp},
		{Name: SyntheticRain, Data: rain},
		{Name: SyntheticWind, Data: wind},
	}
	for l, data := range levels {
		fields = append(fields, NamedField{Name: fmt.Sprintf("S%03dTEMPERATURE", l+1), Data: data})
	}

	return File{
		ValidTime: s.BaseTime.Add(time.Duration(hour) * time.Hour),
		BaseTime:  s.BaseTime,
		NY:        s.NY,
		NX:        s.NX,
		Lat:       lat,
		Lon:       lon,
		Fields:    fields,
	}
}

// SyntheticRainRate is the hourly rain increment of cell i.
func SyntheticRainRate(i int) float64 {
	return 0.1 * float64(i%7)
}

// WriteSequence writes count consecutive hourly snapshots starting at hour 0
// into dir and returns their paths.
func (s Synthetic) WriteSequence(dir string, count int) ([]string, error) {
	if s.NY <= 0 || s.NX <= 0 {
		return nil, fmt.Errorf("synthetic grid must be positive, got %dx%d", s.NY, s.NX)
	}
	paths := make([]string, 0, count)
	for h := 0; h < count; h++ {
		p := filepath.Join(dir, s.Name(h))
		if err := WriteFile(p, s.Snapshot(h)); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
