package domain

import (
	"fmt"
	"slices"
	"time"
)

// Dimension names used in the output schema.
const (
	DimTime     = "time"
	DimY        = "y"
	DimX        = "x"
	DimLevel    = "level"
	DimPressure = "pressure"
)

// DTypeFloat64 is the only field dtype produced by the pipeline.
const DTypeFloat64 = "float64"

// AccumulationKind tells whether a variable is a snapshot value or an amount
// accumulated since forecast start.
type AccumulationKind int

const (
	Instantaneous AccumulationKind = iota
	Cumulative
)

func (k AccumulationKind) String() string {
	switch k {
	case Cumulative:
		return "cumulative"
	default:
		return "instantaneous"
	}
}

// SourceFile is one discovered snapshot. ValidTime is zero until the file has
// been decoded.
type SourceFile struct {
	Path         string
	ForecastHour int
	ValidTime    time.Time
}

// Window is a contiguous run of source files consumed to produce one chunk.
// Files[0] is the baseline: it supplies the de-accumulation reference and
// produces no output timestep.
type Window struct {
	Index int
	Files []SourceFile
}

// Baseline returns the window's first file.
func (w Window) Baseline() SourceFile {
	return w.Files[0]
}

// Timesteps returns the number of output timesteps the window produces.
func (w Window) Timesteps() int {
	if len(w.Files) == 0 {
		return 0
	}
	return len(w.Files) - 1
}

// Field is a dense array over the named dimensions, stored row-major.
type Field struct {
	Dims  []string
	Shape []int
	Data  []float64
}

// Len returns the number of cells implied by Shape.
func (f Field) Len() int {
	return product(f.Shape)
}

// Grid describes the horizontal grid and vertical coordinates of a run. The
// slices are shared by every chunk of the run and must not be mutated.
type Grid struct {
	NY, NX int
	Lat    []float64
	Lon    []float64

	// Levels maps a vertical dimension name (DimLevel, DimPressure) to its
	// coordinate values.
	Levels map[string][]int
}

// Snapshot is the decoded content of one source file.
type Snapshot struct {
	Source    SourceFile
	ValidTime time.Time
	BaseTime  time.Time
	NY, NX    int
	Lat       []float64
	Lon       []float64
	Fields    map[string]Field
}

// GridShape returns (ny, nx).
func (s Snapshot) GridShape() [2]int {
	return [2]int{s.NY, s.NX}
}

// VariableSpec declares one output variable. Dims and Shape exclude the time
// dimension.
type VariableSpec struct {
	Name         string
	OriginalName string
	Dims         []string
	Shape        []int
	DType        string
	Kind         AccumulationKind

	// Members lists the raw vendor fields stacked into this variable, in level
	// order. Empty for plain 2-D fields.
	Members []string
}

// Cells returns the number of values per timestep.
func (v VariableSpec) Cells() int {
	return product(v.Shape)
}

// Compare reports how other differs from v, or nil when they describe the same
// variable.
func (v VariableSpec) Compare(other VariableSpec) error {
	switch {
	case v.Name != other.Name:
		return fmt.Errorf("variable name %q != %q", other.Name, v.Name)
	case !slices.Equal(v.Dims, other.Dims):
		return fmt.Errorf("variable %q dims %v != %v", v.Name, other.Dims, v.Dims)
	case !slices.Equal(v.Shape, other.Shape):
		return fmt.Errorf("variable %q shape %v != %v", v.Name, other.Shape, v.Shape)
	case v.DType != other.DType:
		return fmt.Errorf("variable %q dtype %s != %s", v.Name, other.DType, v.DType)
	}
	return nil
}

// Chunk is an in-memory block of consecutive output timesteps. Data holds one
// slice per variable laid out [t][cells...].
type Chunk struct {
	FirstIndex    int
	ValidTimes    []time.Time
	ForecastHours []int
	Variables     []VariableSpec
	Data          map[string][]float64
	Grid          Grid
	BaseTime      time.Time
	Source        string
	NameMap       NameMap
}

// Timesteps returns the number of timesteps held by the chunk.
func (c Chunk) Timesteps() int {
	return len(c.ValidTimes)
}

// AppendEvent describes a chunk that has been durably appended to the output.
type AppendEvent struct {
	Output        string      `json:"output"`
	Window        int         `json:"window"`
	FirstIndex    int         `json:"first_index"`
	Timesteps     int         `json:"timesteps"`
	TotalRecords  int         `json:"total_records"`
	ValidTimes    []time.Time `json:"valid_times"`
	ForecastHours []int       `json:"forecast_hours"`
	AppendedAt    time.Time   `json:"appended_at"`
}

func product(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
