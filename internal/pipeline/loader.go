package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/gridstream/internal/domain"
	"github.com/couchcryptid/gridstream/internal/observability"
)

// Decoder reads snapshot files. Implementations are not safe for concurrent
// use; the Loader serializes every call.
type Decoder interface {
	// Variables lists the field names stored in a file, in file order.
	Variables(ctx context.Context, path string) ([]string, error)

	// Decode reads only the named fields. Every returned field is a 2-D
	// [y, x] array keyed by its raw name.
	Decode(ctx context.Context, path string, names []string) (domain.Snapshot, error)
}

// LoaderOptions selects and shapes the variables of a run.
type LoaderOptions struct {
	// Variables are the fields to convert, by raw or safe name. Empty means
	// every field of the first file.
	Variables []string

	// Deaccumulate lists cumulative fields. Entries may name a raw field, a
	// safe name, a stacked variable or one of its level members.
	Deaccumulate []string

	// StackLevels stacks S###/P##### level fields into 3-D variables.
	StackLevels bool
}

// Layout is the variable layout fixed by the first file of a run.
type Layout struct {
	// RawNames are the fields requested from the decoder.
	RawNames []string

	Specs      []domain.VariableSpec
	Cumulative []string
	NameMap    domain.NameMap
	Grid       domain.Grid
	BaseTime   time.Time

	// Unmatched lists de-accumulation entries that name no variable.
	Unmatched []string
}

// Loader decodes snapshot files through a Decoder, requests only the fields the
// run needs, renames them to safe names, stacks level groups and checks every
// file against the first file's grid.
type Loader struct {
	decoder Decoder
	opts    LoaderOptions
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	layout *Layout
}

// NewLoader creates a Loader.
func NewLoader(decoder Decoder, opts LoaderOptions, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	return &Loader{
		decoder: decoder,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Layout returns the layout fixed by the first Load, or nil before it.
func (l *Loader) Layout() *Layout {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.layout
}

// Load decodes one file. The first call fixes the run's layout and grid.
func (l *Loader) Load(ctx context.Context, file domain.SourceFile) (domain.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.layout == nil {
		layout, err := l.plan(ctx, file)
		if err != nil {
			return domain.Snapshot{}, err
		}
		l.layout = layout
	}

	start := time.Now()
	raw, err := l.decoder.Decode(ctx, file.Path, l.layout.RawNames)
	if err != nil {
		return domain.Snapshot{}, wrapDecode(ctx, file.Path, err)
	}
	l.metrics.FilesDecoded.Inc()
	l.metrics.DecodeDuration.Observe(time.Since(start).Seconds())

	if err := l.checkGrid(file, raw); err != nil {
		return domain.Snapshot{}, err
	}

	snap := domain.Snapshot{
		Source:    file,
		ValidTime: raw.ValidTime,
		BaseTime:  raw.BaseTime,
		NY:        raw.NY,
		NX:        raw.NX,
		Fields:    make(map[string]domain.Field, len(l.layout.Specs)),
	}
	snap.Source.ValidTime = raw.ValidTime

	cells := raw.NY * raw.NX
	for _, spec := range l.layout.Specs {
		field, err := normalizeField(spec, raw, cells)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("%s: %w", file.Path, err)
		}
		snap.Fields[spec.Name] = field
	}

	l.logger.Debug("snapshot loaded",
		"path", file.Path,
		"forecast_hour", file.ForecastHour,
		"valid_time", raw.ValidTime,
		"fields", len(snap.Fields),
	)
	return snap, nil
}

// checkGrid fixes the grid on the first file and rejects later files whose grid
// differs.
func (l *Loader) checkGrid(file domain.SourceFile, raw domain.Snapshot) error {
	g := &l.layout.Grid
	if g.NY == 0 && g.NX == 0 {
		if raw.NY <= 0 || raw.NX <= 0 {
			return fmt.Errorf("%w: %s has empty grid %dx%d", domain.ErrShapeMismatch, file.Path, raw.NY, raw.NX)
		}
		g.NY, g.NX = raw.NY, raw.NX
		if len(raw.Lat) == raw.NY*raw.NX && len(raw.Lon) == raw.NY*raw.NX {
			g.Lat, g.Lon = raw.Lat, raw.Lon
		}
		l.layout.BaseTime = raw.BaseTime
		for i := range l.layout.Specs {
			l.layout.Specs[i].Shape = specShape(l.layout.Specs[i], g)
		}
		return nil
	}
	if raw.NY != g.NY || raw.NX != g.NX {
		return fmt.Errorf("%w: %s grid %dx%d, run grid %dx%d",
			domain.ErrShapeMismatch, file.Path, raw.NY, raw.NX, g.NY, g.NX)
	}
	return nil
}

// plan lists the first file's fields and builds the run layout.
func (l *Loader) plan(ctx context.Context, first domain.SourceFile) (*Layout, error) {
	available, err := l.decoder.Variables(ctx, first.Path)
	if err != nil {
		return nil, wrapDecode(ctx, first.Path, err)
	}

	raw, err := resolveRequested(l.opts.Variables, available, first.Path)
	if err != nil {
		return nil, err
	}

	var groups []domain.LevelGroup
	if l.opts.StackLevels {
		groups = domain.DetectLevelGroups(raw)
	}
	memberOf := make(map[string]int)
	for gi, g := range groups {
		for _, m := range g.Members {
			memberOf[m] = gi
		}
	}

	// Output order follows the requested order; a stacked group takes the
	// position of its first member.
	var originals []string
	var specs []domain.VariableSpec
	emitted := make(map[int]bool)
	for _, name := range raw {
		gi, stacked := memberOf[name]
		if !stacked {
			originals = append(originals, name)
			specs = append(specs, domain.VariableSpec{
				OriginalName: name,
				Dims:         []string{domain.DimY, domain.DimX},
				DType:        domain.DTypeFloat64,
			})
			continue
		}
		if emitted[gi] {
			continue
		}
		emitted[gi] = true
		g := groups[gi]
		originals = append(originals, g.Name)
		specs = append(specs, domain.VariableSpec{
			OriginalName: g.Name,
			Dims:         []string{g.Dim, domain.DimY, domain.DimX},
			DType:        domain.DTypeFloat64,
			Members:      slices.Clone(g.Members),
		})
	}

	names, err := domain.NewNameMap(originals)
	if err != nil {
		return nil, err
	}
	for i := range specs {
		specs[i].Name = names.Safe(specs[i].OriginalName)
	}

	levels, err := levelCoordinates(groups)
	if err != nil {
		return nil, err
	}

	layout := &Layout{
		RawNames: raw,
		Specs:    specs,
		NameMap:  names,
		Grid:     domain.Grid{Levels: levels},
	}
	layout.Cumulative, layout.Unmatched = markCumulative(layout.Specs, l.opts.Deaccumulate)

	l.logger.Info("variable layout fixed",
		"source", first.Path,
		"raw_fields", len(raw),
		"variables", len(specs),
		"stacked_groups", len(groups),
		"cumulative", layout.Cumulative,
	)
	if len(layout.Unmatched) > 0 {
		l.logger.Warn("de-accumulation entries match no variable", "names", layout.Unmatched)
	}
	return layout, nil
}

// resolveRequested maps requested names (raw or safe) onto the fields available
// in the first file.
func resolveRequested(requested, available []string, path string) ([]string, error) {
	if len(requested) == 0 {
		if len(available) == 0 {
			return nil, fmt.Errorf("%w: %s contains no fields", domain.ErrDecode, path)
		}
		return slices.Clone(available), nil
	}

	bySafe := make(map[string]string, len(available))
	present := make(map[string]bool, len(available))
	for _, a := range available {
		present[a] = true
		bySafe[domain.SafeName(a)] = a
	}

	out := make([]string, 0, len(requested))
	seen := make(map[string]bool)
	for _, r := range requested {
		name := r
		if !present[name] {
			alt, ok := bySafe[r]
			if !ok {
				return nil, fmt.Errorf("%w: requested variable %q missing from %s", domain.ErrDecode, r, path)
			}
			name = alt
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}

// levelCoordinates collects one coordinate per vertical dimension. Groups that
// share a dimension must share its levels.
func levelCoordinates(groups []domain.LevelGroup) (map[string][]int, error) {
	levels := make(map[string][]int)
	owner := make(map[string]string)
	for _, g := range groups {
		prev, ok := levels[g.Dim]
		if !ok {
			levels[g.Dim] = g.Levels
			owner[g.Dim] = g.Name
			continue
		}
		if !slices.Equal(prev, g.Levels) {
			return nil, fmt.Errorf("%w: %s levels %v differ from %s levels %v on dimension %q",
				domain.ErrShapeMismatch, g.Name, g.Levels, owner[g.Dim], prev, g.Dim)
		}
	}
	return levels, nil
}

// markCumulative flags the specs named by the de-accumulation list and returns
// their safe names plus the entries that matched nothing.
func markCumulative(specs []domain.VariableSpec, deaccum []string) (cumulative, unmatched []string) {
	for _, d := range deaccum {
		matched := false
		for i := range specs {
			s := &specs[i]
			if d == s.OriginalName || d == s.Name || domain.SafeName(d) == s.Name || slices.Contains(s.Members, d) {
				if s.Kind != domain.Cumulative {
					s.Kind = domain.Cumulative
					cumulative = append(cumulative, s.Name)
				}
				matched = true
			}
		}
		if !matched {
			unmatched = append(unmatched, d)
		}
	}
	return cumulative, unmatched
}

func specShape(spec domain.VariableSpec, g *domain.Grid) []int {
	if len(spec.Members) == 0 {
		return []int{g.NY, g.NX}
	}
	return []int{len(spec.Members), g.NY, g.NX}
}

// normalizeField builds the output field for spec from the raw decoded fields,
// stacking level members in order.
func normalizeField(spec domain.VariableSpec, raw domain.Snapshot, cells int) (domain.Field, error) {
	if len(spec.Members) == 0 {
		f, ok := raw.Fields[spec.OriginalName]
		if !ok {
			return domain.Field{}, fmt.Errorf("%w: variable %q missing", domain.ErrDecode, spec.OriginalName)
		}
		if len(f.Data) != cells {
			return domain.Field{}, fmt.Errorf("%w: variable %q has %d values, grid has %d",
				domain.ErrShapeMismatch, spec.OriginalName, len(f.Data), cells)
		}
		return domain.Field{Dims: spec.Dims, Shape: spec.Shape, Data: f.Data}, nil
	}

	data := make([]float64, len(spec.Members)*cells)
	for i, m := range spec.Members {
		f, ok := raw.Fields[m]
		if !ok {
			return domain.Field{}, fmt.Errorf("%w: level field %q missing", domain.ErrDecode, m)
		}
		if len(f.Data) != cells {
			return domain.Field{}, fmt.Errorf("%w: level field %q has %d values, grid has %d",
				domain.ErrShapeMismatch, m, len(f.Data), cells)
		}
		copy(data[i*cells:(i+1)*cells], f.Data)
	}
	return domain.Field{Dims: spec.Dims, Shape: spec.Shape, Data: data}, nil
}

func wrapDecode(ctx context.Context, path string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("decode %s: %w", path, ctxErr)
	}
	switch domain.ErrorKind(err) {
	case "decode", "shape_mismatch", "canceled":
		return fmt.Errorf("decode %s: %w", path, err)
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrDecode, path, err)
	}
}
