package domain

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// cumulativeState is the last cumulative field seen for one variable.
type cumulativeState struct {
	forecastHour int
	values       []float64
}

// DeaccumState carries the previous cumulative value of every cumulative
// variable from one file to the next, and from one window to the next. It is
// owned by the caller, lives for one run and is never rebuilt from output.
type DeaccumState struct {
	seeded   bool
	lastHour int
	vars     map[string]*cumulativeState
}

// NewDeaccumState returns an empty, unseeded state.
func NewDeaccumState() *DeaccumState {
	return &DeaccumState{vars: make(map[string]*cumulativeState)}
}

// Seeded reports whether a baseline has been installed.
func (s *DeaccumState) Seeded() bool {
	return s.seeded
}

// LastForecastHour returns the forecast hour of the last file applied.
func (s *DeaccumState) LastForecastHour() int {
	return s.lastHour
}

// DeaccumResult summarizes one Apply call.
type DeaccumResult struct {
	ForecastHour int

	// IntervalHours is the distance to the previous file.
	IntervalHours int

	// Clamped counts negative intervals per variable. With KeepNegative the
	// count is still reported but values are retained.
	Clamped map[string]int
}

// Deaccumulator converts cumulative-since-start fields into per-interval fields.
type Deaccumulator struct {
	cumulative   map[string]bool
	keepNegative bool
}

// NewDeaccumulator creates a Deaccumulator for the given (safe) variable names.
// When keepNegative is false, negative intervals are clamped to zero.
func NewDeaccumulator(cumulative []string, keepNegative bool) *Deaccumulator {
	set := make(map[string]bool, len(cumulative))
	for _, name := range cumulative {
		set[name] = true
	}
	return &Deaccumulator{cumulative: set, keepNegative: keepNegative}
}

// IsCumulative reports whether name is de-accumulated.
func (d *Deaccumulator) IsCumulative(name string) bool {
	return d.cumulative[name]
}

// Seed installs snap as the baseline without producing output. It is used for
// the very first file of a run.
func (d *Deaccumulator) Seed(state *DeaccumState, snap Snapshot) error {
	for name := range d.cumulative {
		f, ok := snap.Fields[name]
		if !ok {
			return fmt.Errorf("%w: cumulative variable %q missing from %s", ErrDecode, name, snap.Source.Path)
		}
		state.vars[name] = &cumulativeState{forecastHour: snap.Source.ForecastHour, values: f.Data}
	}
	state.seeded = true
	state.lastHour = snap.Source.ForecastHour
	return nil
}

// Apply replaces every cumulative field of snap with its interval since the
// state's previous file and advances the state. Instantaneous fields pass
// through. The returned snapshot shares instantaneous arrays with snap.
func (d *Deaccumulator) Apply(state *DeaccumState, snap Snapshot) (Snapshot, DeaccumResult, error) {
	hour := snap.Source.ForecastHour
	if !state.seeded {
		return Snapshot{}, DeaccumResult{}, fmt.Errorf("%w: de-accumulation of hour %d without a baseline", ErrFormat, hour)
	}
	if hour <= state.lastHour {
		return Snapshot{}, DeaccumResult{}, fmt.Errorf("%w: forecast hour %d does not follow %d", ErrFormat, hour, state.lastHour)
	}

	for name := range d.cumulative {
		if _, ok := snap.Fields[name]; !ok {
			return Snapshot{}, DeaccumResult{}, fmt.Errorf("%w: cumulative variable %q missing from %s", ErrDecode, name, snap.Source.Path)
		}
	}

	res := DeaccumResult{
		ForecastHour:  hour,
		IntervalHours: hour - state.lastHour,
		Clamped:       make(map[string]int),
	}

	out := snap
	out.Fields = make(map[string]Field, len(snap.Fields))
	for name, f := range snap.Fields {
		if !d.cumulative[name] {
			out.Fields[name] = f
			continue
		}
		prev, ok := state.vars[name]
		if !ok {
			return Snapshot{}, DeaccumResult{}, fmt.Errorf("%w: no baseline for cumulative variable %q", ErrSchemaMismatch, name)
		}
		if len(prev.values) != len(f.Data) {
			return Snapshot{}, DeaccumResult{}, fmt.Errorf("%w: %q has %d values, baseline has %d", ErrShapeMismatch, name, len(f.Data), len(prev.values))
		}

		interval := make([]float64, len(f.Data))
		floats.SubTo(interval, f.Data, prev.values)
		if n := d.clampNegative(interval); n > 0 {
			res.Clamped[name] = n
		}

		out.Fields[name] = Field{Dims: f.Dims, Shape: f.Shape, Data: interval}
		prev.forecastHour = hour
		prev.values = f.Data
	}

	state.lastHour = hour
	return out, res, nil
}

// clampNegative zeroes negative values unless negatives are kept, and returns
// how many were found.
func (d *Deaccumulator) clampNegative(values []float64) int {
	n := 0
	for i, v := range values {
		if v < 0 {
			n++
			if !d.keepNegative {
				values[i] = 0
			}
		}
	}
	return n
}
