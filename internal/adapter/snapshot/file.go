// Package snapshot reads and writes msgpack-encoded model snapshot files.
//
// A snapshot file is one msgpack map:
//
//	valid_time  timestamp
//	base_time   timestamp
//	ny, nx      int
//	lat, lon    []float64 (optional, ny*nx each)
//	fields      map of field name to []float64 (ny*nx each, row-major)
//
// Field order inside "fields" is preserved by [Encode] and reported by
// [Decoder.Variables].
package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Top-level keys of a snapshot file.
const (
	keyValidTime = "valid_time"
	keyBaseTime  = "base_time"
	keyNY        = "ny"
	keyNX        = "nx"
	keyLat       = "lat"
	keyLon       = "lon"
	keyFields    = "fields"
)

// NamedField is one 2-D field of a snapshot.
type NamedField struct {
	Name string
	Data []float64
}

// File is the in-memory form of a snapshot file, used for writing.
type File struct {
	ValidTime time.Time
	BaseTime  time.Time
	NY, NX    int
	Lat, Lon  []float64
	Fields    []NamedField
}

// Encode writes f to w as a msgpack map.
func Encode(w io.Writer, f File) error {
	cells := f.NY * f.NX
	if cells <= 0 {
		return fmt.Errorf("encode snapshot: empty grid %dx%d", f.NY, f.NX)
	}
	for _, fld := range f.Fields {
		if len(fld.Data) != cells {
			return fmt.Errorf("encode snapshot: field %s has %d values, grid has %d", fld.Name, len(fld.Data), cells)
		}
	}

	keys := 5
	hasCoords := len(f.Lat) > 0 || len(f.Lon) > 0
	if hasCoords {
		if len(f.Lat) != cells || len(f.Lon) != cells {
			return fmt.Errorf("encode snapshot: lat/lon need %d values, have %d/%d", cells, len(f.Lat), len(f.Lon))
		}
		keys += 2
	}

	enc := msgpack.NewEncoder(w)
	steps := []func() error{
		func() error { return enc.EncodeMapLen(keys) },
		func() error { return encodeTime(enc, keyValidTime, f.ValidTime) },
		func() error { return encodeTime(enc, keyBaseTime, f.BaseTime) },
		func() error { return encodeInt(enc, keyNY, f.NY) },
		func() error { return encodeInt(enc, keyNX, f.NX) },
	}
	if hasCoords {
		steps = append(steps,
			func() error { return encodeFloats(enc, keyLat, f.Lat) },
			func() error { return encodeFloats(enc, keyLon, f.Lon) },
		)
	}
	steps = append(steps, func() error { return encodeFields(enc, f.Fields) })

	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
	}
	return nil
}

// WriteFile encodes f into a new file at path.
func WriteFile(path string, f File) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	bw := bufio.NewWriter(out)
	if err := Encode(bw, f); err != nil {
		out.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return out.Close()
}

func encodeTime(enc *msgpack.Encoder, key string, t time.Time) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeTime(t.UTC())
}

func encodeInt(enc *msgpack.Encoder, key string, v int) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return enc.EncodeInt(int64(v))
}

func encodeFloats(enc *msgpack.Encoder, key string, vs []float64) error {
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	return writeFloats(enc, vs)
}

func encodeFields(enc *msgpack.Encoder, fields []NamedField) error {
	if err := enc.EncodeString(keyFields); err != nil {
		return err
	}
	if err := enc.EncodeMapLen(len(fields)); err != nil {
		return err
	}
	for _, fld := range fields {
		if err := enc.EncodeString(fld.Name); err != nil {
			return err
		}
		if err := writeFloats(enc, fld.Data); err != nil {
			return fmt.Errorf("field %s: %w", fld.Name, err)
		}
	}
	return nil
}

func writeFloats(enc *msgpack.Encoder, vs []float64) error {
	if err := enc.EncodeArrayLen(len(vs)); err != nil {
		return err
	}
	for _, v := range vs {
		if err := enc.EncodeFloat64(v); err != nil {
			return err
		}
	}
	return nil
}
