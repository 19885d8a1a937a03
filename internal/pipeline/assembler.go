package pipeline

import (
	"fmt"
	"time"

	"github.com/couchcryptid/gridstream/internal/domain"
)

// Assembler builds chunks for a fixed variable layout.
type Assembler struct {
	layout *Layout
	source string
}

// NewAssembler creates an Assembler. source is recorded on every chunk.
func NewAssembler(layout *Layout, source string) *Assembler {
	return &Assembler{layout: layout, source: source}
}

// NewBuilder starts a chunk of steps timesteps whose first timestep has the
// given global index. The data buffers are allocated once, at full size.
func (a *Assembler) NewBuilder(firstIndex, steps int) *ChunkBuilder {
	data := make(map[string][]float64, len(a.layout.Specs))
	for _, spec := range a.layout.Specs {
		data[spec.Name] = make([]float64, steps*spec.Cells())
	}
	return &ChunkBuilder{
		assembler: a,
		steps:     steps,
		chunk: domain.Chunk{
			FirstIndex:    firstIndex,
			ValidTimes:    make([]time.Time, 0, steps),
			ForecastHours: make([]int, 0, steps),
			Variables:     a.layout.Specs,
			Data:          data,
			Grid:          a.layout.Grid,
			BaseTime:      a.layout.BaseTime,
			Source:        a.source,
			NameMap:       a.layout.NameMap,
		},
	}
}

// ChunkBuilder fills one chunk timestep by timestep.
type ChunkBuilder struct {
	assembler *Assembler
	steps     int
	chunk     domain.Chunk
}

// Add copies the fields of snap into the next timestep slot.
func (b *ChunkBuilder) Add(snap domain.Snapshot) error {
	t := len(b.chunk.ValidTimes)
	if t >= b.steps {
		return fmt.Errorf("chunk at index %d already holds %d timesteps", b.chunk.FirstIndex, b.steps)
	}
	if t > 0 && snap.Source.ForecastHour <= b.chunk.ForecastHours[t-1] {
		return fmt.Errorf("%w: forecast hour %d added after %d", domain.ErrFormat, snap.Source.ForecastHour, b.chunk.ForecastHours[t-1])
	}

	for _, spec := range b.assembler.layout.Specs {
		f, ok := snap.Fields[spec.Name]
		if !ok {
			return fmt.Errorf("%w: variable %q missing from %s", domain.ErrDecode, spec.Name, snap.Source.Path)
		}
		cells := spec.Cells()
		if len(f.Data) != cells {
			return fmt.Errorf("%w: variable %q has %d values, expected %d",
				domain.ErrShapeMismatch, spec.Name, len(f.Data), cells)
		}
		copy(b.chunk.Data[spec.Name][t*cells:(t+1)*cells], f.Data)
	}

	b.chunk.ValidTimes = append(b.chunk.ValidTimes, snap.ValidTime)
	b.chunk.ForecastHours = append(b.chunk.ForecastHours, snap.Source.ForecastHour)
	return nil
}

// Build returns the finished chunk. Every slot must have been filled.
func (b *ChunkBuilder) Build() (domain.Chunk, error) {
	if n := len(b.chunk.ValidTimes); n != b.steps {
		return domain.Chunk{}, fmt.Errorf("chunk at index %d has %d of %d timesteps", b.chunk.FirstIndex, n, b.steps)
	}
	return b.chunk, nil
}
