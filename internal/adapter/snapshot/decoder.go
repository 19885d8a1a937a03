package snapshot

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/couchcryptid/gridstream/internal/domain"
)

// maxValues bounds a single array so a corrupt length cannot trigger a huge
// allocation.
const maxValues = 1 << 28

// Decoder reads snapshot files field by field. Fields that are not requested
// are skipped in the stream and never materialized. A Decoder reuses one read
// buffer and is not safe for concurrent use.
type Decoder struct {
	br     *bufio.Reader
	logger *slog.Logger
}

// NewDecoder creates a Decoder.
func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{
		br:     bufio.NewReaderSize(nil, 1<<16),
		logger: logger,
	}
}

// Variables lists the field names of the snapshot at path in file order.
func (d *Decoder) Variables(ctx context.Context, path string) ([]string, error) {
	var names []string
	err := d.scan(ctx, path, func(dec *msgpack.Decoder, key string) error {
		if key != keyFields {
			return dec.Skip()
		}
		n, err := dec.DecodeMapLen()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			name, err := dec.DecodeString()
			if err != nil {
				return err
			}
			if err := dec.Skip(); err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Decode reads the snapshot at path, keeping only the named fields. Each field
// is returned as a [y, x] array keyed by its stored name. Requested names that
// the file lacks are simply absent from the result. A file without a valid_time
// fails with domain.ErrDecode.
func (d *Decoder) Decode(ctx context.Context, path string, names []string) (domain.Snapshot, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	snap := domain.Snapshot{Fields: make(map[string]domain.Field, len(names))}
	skipped := 0
	hasValidTime := false
	err := d.scan(ctx, path, func(dec *msgpack.Decoder, key string) error {
		var err error
		switch key {
		case keyValidTime:
			snap.ValidTime, err = dec.DecodeTime()
			hasValidTime = err == nil && !snap.ValidTime.IsZero()
		case keyBaseTime:
			snap.BaseTime, err = dec.DecodeTime()
		case keyNY:
			snap.NY, err = dec.DecodeInt()
		case keyNX:
			snap.NX, err = dec.DecodeInt()
		case keyLat:
			snap.Lat, err = readFloats(dec)
		case keyLon:
			snap.Lon, err = readFloats(dec)
		case keyFields:
			skipped, err = d.decodeFields(ctx, dec, want, snap.Fields)
		default:
			err = dec.Skip()
		}
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	if !hasValidTime {
		return domain.Snapshot{}, fmt.Errorf("%w: %s: missing valid_time", domain.ErrDecode, path)
	}
	if snap.NY <= 0 || snap.NX <= 0 {
		return domain.Snapshot{}, fmt.Errorf("%w: %s: missing or empty grid %dx%d", domain.ErrDecode, path, snap.NY, snap.NX)
	}

	snap.ValidTime = snap.ValidTime.UTC()
	snap.BaseTime = snap.BaseTime.UTC()
	cells := snap.NY * snap.NX
	for name, f := range snap.Fields {
		if len(f.Data) != cells {
			return domain.Snapshot{}, fmt.Errorf("%w: %s: field %s has %d values, grid %dx%d",
				domain.ErrShapeMismatch, path, name, len(f.Data), snap.NY, snap.NX)
		}
		f.Dims = []string{domain.DimY, domain.DimX}
		f.Shape = []int{snap.NY, snap.NX}
		snap.Fields[name] = f
	}

	d.logger.Debug("snapshot decoded", "path", path, "fields", len(snap.Fields), "skipped", skipped)
	return snap, nil
}

func (d *Decoder) decodeFields(ctx context.Context, dec *msgpack.Decoder, want map[string]bool, out map[string]domain.Field) (int, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return 0, err
	}
	skipped := 0
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		name, err := dec.DecodeString()
		if err != nil {
			return skipped, err
		}
		if !want[name] {
			skipped++
			if err := dec.Skip(); err != nil {
				return skipped, fmt.Errorf("field %s: %w", name, err)
			}
			continue
		}
		data, err := readFloats(dec)
		if err != nil {
			return skipped, fmt.Errorf("field %s: %w", name, err)
		}
		out[name] = domain.Field{Data: data}
	}
	return skipped, nil
}

// scan walks the top-level map of the file at path, calling fn for each key
// with the decoder positioned at its value. fn must consume the value.
func (d *Decoder) scan(ctx context.Context, path string, fn func(dec *msgpack.Decoder, key string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	defer f.Close()

	d.br.Reset(f)
	defer d.br.Reset(nil)
	dec := msgpack.NewDecoder(d.br)

	n, err := dec.DecodeMapLen()
	if err != nil {
		return fmt.Errorf("%w: %s: not a snapshot map: %v", domain.ErrDecode, path, err)
	}
	seen := make([]string, 0, n)
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return fmt.Errorf("%w: %s: key %d: %v", domain.ErrDecode, path, i, err)
		}
		if slices.Contains(seen, key) {
			return fmt.Errorf("%w: %s: duplicate key %q", domain.ErrDecode, path, key)
		}
		seen = append(seen, key)
		if err := fn(dec, key); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %s: %v", domain.ErrDecode, path, err)
		}
	}
	return nil
}

func readFloats(dec *msgpack.Decoder) ([]float64, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if n > maxValues {
		return nil, fmt.Errorf("array of %d values exceeds limit %d", n, maxValues)
	}
	out := make([]float64, n)
	for i := range out {
		if out[i], err = dec.DecodeFloat64(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
