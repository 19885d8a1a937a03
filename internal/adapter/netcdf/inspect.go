package netcdf

import (
	"fmt"
	"reflect"
	"slices"

	cdf "github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/gridstream/internal/domain"
)

// VariableSummary describes one variable of an output file.
type VariableSummary struct {
	Name       string
	Dims       []string
	Type       string
	Attributes map[string]any

	// Min and Max cover the inspected record for record variables and the
	// whole variable otherwise. Valid only when HasRange is set.
	Min, Max float64
	HasRange bool
}

// Summary describes an output file.
type Summary struct {
	Path       string
	Records    int
	Record     int
	Attributes map[string]any
	Variables  []VariableSummary

	// NameMap maps safe variable names back to their original names.
	NameMap map[string]string
}

// Inspect opens an output file read-only and summarizes it, computing value
// ranges at the given record.
func Inspect(path string, record int) (Summary, error) {
	g, err := cdf.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer g.Close()

	sum := Summary{
		Path:       path,
		Record:     record,
		Attributes: attributeMap(g.Attributes()),
	}
	if nm, ok := sum.Attributes["name_map"].(string); ok {
		sum.NameMap = domain.ParseNameMapAttribute(nm)
	}

	records, err := recordCount(g)
	if err != nil {
		return Summary{}, fmt.Errorf("inspect %s: %w", path, err)
	}
	sum.Records = records
	if records > 0 && (record < 0 || record >= records) {
		return Summary{}, fmt.Errorf("inspect %s: record %d out of range [0, %d)", path, record, records)
	}

	for _, name := range g.ListVariables() {
		vg, err := g.GetVarGetter(name)
		if err != nil {
			return Summary{}, fmt.Errorf("inspect %s: variable %s: %w", path, name, err)
		}
		vs := VariableSummary{
			Name:       name,
			Dims:       vg.Dimensions(),
			Type:       vg.Type(),
			Attributes: attributeMap(vg.Attributes()),
		}

		values, err := readValues(vg, record, records)
		if err != nil {
			return Summary{}, fmt.Errorf("inspect %s: variable %s: %w", path, name, err)
		}
		if len(values) > 0 {
			vs.Min, vs.Max, vs.HasRange = floats.Min(values), floats.Max(values), true
		}
		sum.Variables = append(sum.Variables, vs)
	}
	return sum, nil
}

// Reader reads record slices from one open output file. Variable getters are
// looked up once and reused across records. A Reader is not safe for
// concurrent use.
type Reader struct {
	path string
	g    api.Group
	vars map[string]api.VarGetter
}

// OpenReader opens an output file read-only.
func OpenReader(path string) (*Reader, error) {
	g, err := cdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Reader{path: path, g: g, vars: make(map[string]api.VarGetter)}, nil
}

// Record returns the flattened values of a record variable at one record.
func (r *Reader) Record(name string, record int) ([]float64, error) {
	vg, ok := r.vars[name]
	if !ok {
		var err error
		vg, err = r.g.GetVarGetter(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: variable %s: %w", r.path, name, err)
		}
		if dims := vg.Dimensions(); len(dims) == 0 || dims[0] != domain.DimTime {
			return nil, fmt.Errorf("read %s: variable %s is not a record variable", r.path, name)
		}
		r.vars[name] = vg
	}
	raw, err := vg.GetSlice(int64(record), int64(record)+1)
	if err != nil {
		return nil, fmt.Errorf("read %s: variable %s record %d: %w", r.path, name, record, err)
	}
	return flatten(raw)
}

// Close releases the underlying file.
func (r *Reader) Close() {
	r.g.Close()
}

// ReadRecord returns the flattened values of a record variable at one record.
func ReadRecord(path, name string, record int) ([]float64, error) {
	r, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Record(name, record)
}

// ReadVariable returns all flattened values of a variable.
func ReadVariable(path, name string) ([]float64, error) {
	g, err := cdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer g.Close()

	vg, err := g.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: variable %s: %w", path, name, err)
	}
	raw, err := vg.Values()
	if err != nil {
		return nil, fmt.Errorf("read %s: variable %s: %w", path, name, err)
	}
	return flatten(raw)
}

func recordCount(g api.Group) (int, error) {
	vg, err := g.GetVarGetter(VarTime)
	if err != nil {
		return 0, fmt.Errorf("time variable: %w", err)
	}
	raw, err := vg.Values()
	if err != nil {
		return 0, fmt.Errorf("time variable: %w", err)
	}
	values, err := flatten(raw)
	if err != nil {
		return 0, err
	}
	return len(values), nil
}

func readValues(vg api.VarGetter, record, records int) ([]float64, error) {
	dims := vg.Dimensions()
	if len(dims) > 0 && dims[0] == domain.DimTime {
		if records == 0 {
			return nil, nil
		}
		raw, err := vg.GetSlice(int64(record), int64(record)+1)
		if err != nil {
			return nil, err
		}
		return flatten(raw)
	}
	raw, err := vg.Values()
	if err != nil {
		return nil, err
	}
	return flatten(raw)
}

func attributeMap(am api.AttributeMap) map[string]any {
	out := make(map[string]any)
	if am == nil {
		return out
	}
	for _, k := range am.Keys() {
		if v, ok := am.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// AttributeKeys returns the keys of an attribute map in sorted order.
func AttributeKeys(attrs map[string]any) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// flatten converts a (possibly nested) numeric slice or scalar returned by the
// reader into a flat []float64 in row-major order.
func flatten(v any) ([]float64, error) {
	switch x := v.(type) {
	case []float64:
		return x, nil
	case float64:
		return []float64{x}, nil
	}
	var out []float64
	if err := flattenValue(reflect.ValueOf(v), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenValue(rv reflect.Value, out *[]float64) error {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := range rv.Len() {
			if err := flattenValue(rv.Index(i), out); err != nil {
				return err
			}
		}
	case reflect.Float32, reflect.Float64:
		*out = append(*out, rv.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		*out = append(*out, float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		*out = append(*out, float64(rv.Uint()))
	case reflect.Interface:
		return flattenValue(rv.Elem(), out)
	default:
		return fmt.Errorf("unsupported value type %s", rv.Type())
	}
	return nil
}
