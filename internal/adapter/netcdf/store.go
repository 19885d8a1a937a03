// Package netcdf writes conversion output as a NetCDF classic (64-bit offset)
// file with time as the record dimension, and reads it back for inspection.
package netcdf

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/couchcryptid/gridstream/internal/domain"
)

// Variable names reserved for record coordinates.
const (
	VarTime         = "time"
	VarForecastHour = "forecast_hour"
	VarLat          = "lat"
	VarLon          = "lon"

	timeUnits = "seconds since 1970-01-01 00:00:00 UTC"
)

// File is the output handle. It is write-only: the store never reads back what
// it has written.
type File interface {
	io.WriterAt
	Sync() error
	Close() error
}

// OpenFunc creates the output file.
type OpenFunc func(path string) (File, error)

func createFile(path string) (File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// Options configures a Store.
type Options struct {
	// Title is written as the global "title" attribute.
	Title string

	// Open overrides how the output file is created.
	Open OpenFunc
}

// Store appends chunks to one output file. The file is created on the first
// Append; each later Append writes only the new records and then the record
// count, so its cost depends on the chunk alone.
type Store struct {
	path   string
	opts   Options
	logger *slog.Logger

	file     File
	hdr      *header
	schema   []domain.VariableSpec
	ny, nx   int
	varIndex map[string]int // schema position by name
	numrecs  int64

	// failed is set after a write error; the store refuses further appends.
	failed error
}

// NewStore returns a store for path. Nothing is created until the first Append.
func NewStore(path string, opts Options, logger *slog.Logger) *Store {
	if opts.Open == nil {
		opts.Open = createFile
	}
	if opts.Title == "" {
		opts.Title = "gridstream conversion"
	}
	return &Store{path: path, opts: opts, logger: logger}
}

// Path returns the output path.
func (s *Store) Path() string {
	return s.path
}

// Records returns the number of records durably committed.
func (s *Store) Records() int {
	return int(s.numrecs)
}

// Append writes chunk at the next free record. A chunk whose schema differs
// from the first chunk's fails with domain.ErrSchemaMismatch before any byte is
// written.
func (s *Store) Append(ctx context.Context, chunk domain.Chunk) error {
	if s.failed != nil {
		return fmt.Errorf("%w: %s is unusable after an earlier failure: %v", domain.ErrWrite, s.path, s.failed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if chunk.Timesteps() == 0 {
		return nil
	}

	if s.hdr == nil {
		if err := checkChunkData(chunk); err != nil {
			return err
		}
		if err := s.create(chunk); err != nil {
			return s.fail(err)
		}
	} else if err := s.checkSchema(chunk); err != nil {
		return err
	}

	if err := s.writeRecords(chunk); err != nil {
		return s.fail(err)
	}
	return nil
}

// Close syncs and closes the output. It is a no-op when nothing was written.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	err := multierr.Append(f.Sync(), f.Close())
	if err != nil {
		return fmt.Errorf("%w: close %s: %v", domain.ErrWrite, s.path, err)
	}
	s.logger.Debug("output closed", "path", s.path, "records", s.numrecs)
	return nil
}

// Abort closes the output without a final sync. Committed records stay valid.
func (s *Store) Abort() error {
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	return f.Close()
}

func (s *Store) fail(err error) error {
	s.failed = err
	return err
}

func (s *Store) checkSchema(chunk domain.Chunk) error {
	if chunk.Grid.NY != s.ny || chunk.Grid.NX != s.nx {
		return fmt.Errorf("%w: chunk grid %dx%d, output grid %dx%d",
			domain.ErrSchemaMismatch, chunk.Grid.NY, chunk.Grid.NX, s.ny, s.nx)
	}
	if len(chunk.Variables) != len(s.schema) {
		return fmt.Errorf("%w: chunk has %d variables, output has %d",
			domain.ErrSchemaMismatch, len(chunk.Variables), len(s.schema))
	}
	for i, v := range chunk.Variables {
		if err := s.schema[i].Compare(v); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSchemaMismatch, err)
		}
	}
	return checkChunkData(chunk)
}

// checkChunkData verifies that every variable carries exactly one value per
// cell and timestep.
func checkChunkData(chunk domain.Chunk) error {
	steps := chunk.Timesteps()
	if len(chunk.ForecastHours) != steps {
		return fmt.Errorf("%w: %d valid times, %d forecast hours", domain.ErrSchemaMismatch, steps, len(chunk.ForecastHours))
	}
	for _, v := range chunk.Variables {
		if v.DType != domain.DTypeFloat64 {
			return fmt.Errorf("%w: variable %q has dtype %s", domain.ErrSchemaMismatch, v.Name, v.DType)
		}
		if got, want := len(chunk.Data[v.Name]), steps*v.Cells(); got != want {
			return fmt.Errorf("%w: variable %q has %d values, expected %d",
				domain.ErrSchemaMismatch, v.Name, got, want)
		}
	}
	return nil
}

// create defines the output from the first chunk, writes the header and the
// fixed coordinate variables.
func (s *Store) create(chunk domain.Chunk) error {
	hdr, index, err := s.define(chunk)
	if err != nil {
		return err
	}

	f, err := s.opts.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", domain.ErrWrite, s.path, err)
	}
	s.file = f

	if _, err := f.WriteAt(hdr.encode(), 0); err != nil {
		return fmt.Errorf("%w: write header of %s: %v", domain.ErrWrite, s.path, err)
	}
	for _, v := range hdr.vars {
		if v.record {
			continue
		}
		var b []byte
		switch v.name {
		case VarLat:
			b = appendDoubles(nil, chunk.Grid.Lat)
		case VarLon:
			b = appendDoubles(nil, chunk.Grid.Lon)
		default:
			b = appendInts(nil, toInt32(chunk.Grid.Levels[v.name]))
		}
		b = appendPadding(b, int64(len(b)))
		if _, err := f.WriteAt(b, v.begin); err != nil {
			return fmt.Errorf("%w: write %s of %s: %v", domain.ErrWrite, v.name, s.path, err)
		}
	}

	s.hdr = hdr
	s.varIndex = index
	s.schema = slices.Clone(chunk.Variables)
	s.ny, s.nx = chunk.Grid.NY, chunk.Grid.NX

	s.logger.Info("output created",
		"path", s.path,
		"variables", len(s.schema),
		"grid", fmt.Sprintf("%dx%d", s.ny, s.nx),
		"record_bytes", hdr.recSize,
	)
	return nil
}

// define builds the header for the first chunk and maps every variable name to
// its schema position.
func (s *Store) define(chunk domain.Chunk) (*header, map[string]int, error) {
	hdr := &header{}
	dimID := map[string]int{}
	addDim := func(name string, length int64) {
		dimID[name] = len(hdr.dims)
		hdr.dims = append(hdr.dims, dimension{name: name, length: length})
	}
	addDim(domain.DimTime, 0)
	addDim(domain.DimY, int64(chunk.Grid.NY))
	addDim(domain.DimX, int64(chunk.Grid.NX))

	levelDims := make([]string, 0, len(chunk.Grid.Levels))
	for dim := range chunk.Grid.Levels {
		levelDims = append(levelDims, dim)
	}
	sort.Strings(levelDims)
	for _, dim := range levelDims {
		addDim(dim, int64(len(chunk.Grid.Levels[dim])))
	}

	for _, v := range chunk.Variables {
		if len(v.Dims) != len(v.Shape) {
			return nil, nil, fmt.Errorf("%w: variable %q dims %v, shape %v", domain.ErrSchemaMismatch, v.Name, v.Dims, v.Shape)
		}
		for i, d := range v.Dims {
			id, ok := dimID[d]
			if !ok {
				return nil, nil, fmt.Errorf("%w: variable %q uses unknown dimension %q", domain.ErrSchemaMismatch, v.Name, d)
			}
			if want := hdr.dims[id].length; int64(v.Shape[i]) != want {
				return nil, nil, fmt.Errorf("%w: variable %q dimension %q has length %d, expected %d",
					domain.ErrSchemaMismatch, v.Name, d, v.Shape[i], want)
			}
		}
	}

	hdr.attrs = globalAttributes(s.opts.Title, chunk)

	// Fixed coordinates first.
	for _, dim := range levelDims {
		attrs := []attribute{stringAttr("long_name", levelLongName(dim))}
		if dim == domain.DimPressure {
			attrs = append(attrs, stringAttr("units", "Pa"), stringAttr("positive", "down"))
		}
		hdr.vars = append(hdr.vars, variable{name: dim, dimIDs: []int{dimID[dim]}, typ: ncInt, attrs: attrs})
	}
	cells := chunk.Grid.NY * chunk.Grid.NX
	hasLatLon := len(chunk.Grid.Lat) == cells && len(chunk.Grid.Lon) == cells && cells > 0
	if hasLatLon {
		yx := []int{dimID[domain.DimY], dimID[domain.DimX]}
		hdr.vars = append(hdr.vars,
			variable{name: VarLat, dimIDs: yx, typ: ncDouble, attrs: []attribute{
				stringAttr("standard_name", "latitude"), stringAttr("units", "degrees_north"),
			}},
			variable{name: VarLon, dimIDs: yx, typ: ncDouble, attrs: []attribute{
				stringAttr("standard_name", "longitude"), stringAttr("units", "degrees_east"),
			}},
		)
	}

	// Record variables.
	t := dimID[domain.DimTime]
	hdr.vars = append(hdr.vars,
		variable{name: VarTime, dimIDs: []int{t}, typ: ncDouble, record: true, attrs: []attribute{
			stringAttr("standard_name", "time"),
			stringAttr("units", timeUnits),
			stringAttr("calendar", "standard"),
		}},
		variable{name: VarForecastHour, dimIDs: []int{t}, typ: ncInt, record: true, attrs: []attribute{
			stringAttr("long_name", "forecast lead time"),
			stringAttr("units", "hours"),
		}},
	)

	reserved := map[string]bool{VarTime: true, VarForecastHour: true, VarLat: true, VarLon: true}
	for _, dim := range levelDims {
		reserved[dim] = true
	}
	index := make(map[string]int, len(chunk.Variables))
	for i, v := range chunk.Variables {
		if _, dup := index[v.Name]; dup || reserved[v.Name] {
			return nil, nil, fmt.Errorf("%w: variable name %q is already defined", domain.ErrSchemaMismatch, v.Name)
		}
		ids := []int{t}
		for _, d := range v.Dims {
			ids = append(ids, dimID[d])
		}
		index[v.Name] = i
		hdr.vars = append(hdr.vars, variable{
			name:   v.Name,
			dimIDs: ids,
			typ:    ncDouble,
			record: true,
			attrs:  variableAttributes(v, chunk.Grid, hasLatLon),
		})
	}

	hdr.layout()
	return hdr, index, nil
}

func globalAttributes(title string, chunk domain.Chunk) []attribute {
	var cumulative, instantaneous []string
	for _, v := range chunk.Variables {
		if v.Kind == domain.Cumulative {
			cumulative = append(cumulative, v.Name)
		} else {
			instantaneous = append(instantaneous, v.Name)
		}
	}

	attrs := []attribute{
		stringAttr("Conventions", "CF-1.8"),
		stringAttr("title", title),
	}
	if chunk.Source != "" {
		attrs = append(attrs, stringAttr("source", chunk.Source))
	}
	attrs = append(attrs, stringAttr("history",
		domain.Now().Format(time.RFC3339)+" created by gridstream convert"))
	if !chunk.BaseTime.IsZero() {
		attrs = append(attrs, stringAttr("base_time", chunk.BaseTime.UTC().Format(time.RFC3339)))
	}
	if len(cumulative) > 0 {
		attrs = append(attrs, stringAttr("deaccumulated_variables", strings.Join(cumulative, " ")))
	}
	if len(instantaneous) > 0 {
		attrs = append(attrs, stringAttr("instantaneous_variables", strings.Join(instantaneous, " ")))
	}
	if nm := chunk.NameMap.Attribute(); nm != "" {
		attrs = append(attrs, stringAttr("name_map", nm))
	}
	return attrs
}

func variableAttributes(v domain.VariableSpec, grid domain.Grid, hasLatLon bool) []attribute {
	orig := v.OriginalName
	if orig == "" {
		orig = v.Name
	}
	accumulation := "instantaneous"
	if v.Kind == domain.Cumulative {
		accumulation = "cumulative-interval"
	}
	attrs := []attribute{
		stringAttr("long_name", orig),
		stringAttr("original_name", orig),
		stringAttr("accumulation", accumulation),
	}
	if v.Kind == domain.Cumulative {
		attrs = append(attrs, stringAttr("cell_methods", "time: sum"))
	}
	if len(v.Dims) == 3 {
		attrs = append(attrs, intsAttr("level_values", toInt32(grid.Levels[v.Dims[0]])))
	}
	if hasLatLon {
		attrs = append(attrs, stringAttr("coordinates", "lat lon"))
	}
	return attrs
}

func levelLongName(dim string) string {
	if dim == domain.DimPressure {
		return "pressure level"
	}
	return "model level"
}

// writeRecords writes chunk as consecutive records after the committed ones,
// syncs, then publishes the new record count in the header.
func (s *Store) writeRecords(chunk domain.Chunk) error {
	start := time.Now()
	buf := make([]byte, 0, s.hdr.recSize)
	steps := chunk.Timesteps()

	for t := range steps {
		buf = buf[:0]
		for _, v := range s.hdr.vars {
			if !v.record {
				continue
			}
			switch v.name {
			case VarTime:
				buf = appendDoubles(buf, []float64{epochSeconds(chunk.ValidTimes[t])})
			case VarForecastHour:
				buf = appendInts(buf, []int32{int32(chunk.ForecastHours[t])})
			default:
				spec := s.schema[s.varIndex[v.name]]
				cells := spec.Cells()
				buf = appendDoubles(buf, chunk.Data[v.name][t*cells:(t+1)*cells])
			}
		}

		rec := s.numrecs + int64(t)
		if _, err := s.file.WriteAt(buf, s.hdr.recBegin+rec*s.hdr.recSize); err != nil {
			return fmt.Errorf("%w: write record %d of %s: %v", domain.ErrWrite, rec, s.path, err)
		}
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", domain.ErrWrite, s.path, err)
	}

	total := s.numrecs + int64(steps)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(total))
	if _, err := s.file.WriteAt(n[:], numrecsOffset); err != nil {
		return fmt.Errorf("%w: update record count of %s: %v", domain.ErrWrite, s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", domain.ErrWrite, s.path, err)
	}
	s.numrecs = total
	s.hdr.numrecs = total

	s.logger.Debug("records appended",
		"path", s.path,
		"first_record", total-int64(steps),
		"records", steps,
		"total", total,
		"duration", time.Since(start),
	)
	return nil
}

// epochSeconds converts t to seconds since the Unix epoch without the int64
// nanosecond overflow of UnixNano outside 1678-2262.
func epochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func toInt32(values []int) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(v)
	}
	return out
}
