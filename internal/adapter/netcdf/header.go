package netcdf

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Classic format tags, 64-bit offset variant.
var magic = [4]byte{'C', 'D', 'F', 0x02}

const (
	tagDimension = 0x0A
	tagVariable  = 0x0B
	tagAttribute = 0x0C

	// numrecsOffset is the byte offset of the record count in the header.
	numrecsOffset = 4
)

type ncType uint32

const (
	ncChar   ncType = 2
	ncInt    ncType = 4
	ncDouble ncType = 6
)

func (t ncType) size() int64 {
	switch t {
	case ncChar:
		return 1
	case ncInt:
		return 4
	case ncDouble:
		return 8
	default:
		panic(fmt.Sprintf("netcdf: unsupported type %d", t))
	}
}

type dimension struct {
	name string
	// length is 0 for the record dimension.
	length int64
}

// attribute values are string (NC_CHAR), []int32 (NC_INT) or []float64
// (NC_DOUBLE).
type attribute struct {
	name  string
	value any
}

func stringAttr(name, v string) attribute       { return attribute{name: name, value: v} }
func intsAttr(name string, v []int32) attribute { return attribute{name: name, value: v} }
func doubleAttr(name string, v float64) attribute {
	return attribute{name: name, value: []float64{v}}
}

type variable struct {
	name   string
	dimIDs []int
	attrs  []attribute
	typ    ncType
	record bool

	// vsize is the padded byte size of the variable, or of one record's
	// slice of it for record variables.
	vsize int64
	begin int64
}

// header is the in-memory form of a classic-format header.
type header struct {
	dims    []dimension
	attrs   []attribute
	vars    []variable
	numrecs int64

	recBegin int64
	recSize  int64
}

// layout computes vsize, begin offsets and the record layout. Fixed-size
// variables follow the header in declaration order, then the record section.
func (h *header) layout() {
	for i := range h.vars {
		v := &h.vars[i]
		n := v.typ.size()
		for _, id := range v.dimIDs {
			if d := h.dims[id]; d.length > 0 {
				n *= d.length
			}
		}
		v.vsize = pad4(n)
	}

	offset := int64(len(h.encode()))
	for i := range h.vars {
		v := &h.vars[i]
		if v.record {
			continue
		}
		v.begin = offset
		offset += v.vsize
	}

	h.recBegin = offset
	h.recSize = 0
	for i := range h.vars {
		v := &h.vars[i]
		if !v.record {
			continue
		}
		v.begin = h.recBegin + h.recSize
		h.recSize += v.vsize
	}
}

// encode serializes the header. Offsets are fixed-width, so the length does
// not depend on the begin values.
func (h *header) encode() []byte {
	b := make([]byte, 0, 4096)
	b = append(b, magic[:]...)
	b = binary.BigEndian.AppendUint32(b, uint32(h.numrecs))

	if len(h.dims) == 0 {
		b = appendAbsent(b)
	} else {
		b = binary.BigEndian.AppendUint32(b, tagDimension)
		b = binary.BigEndian.AppendUint32(b, uint32(len(h.dims)))
		for _, d := range h.dims {
			b = appendName(b, d.name)
			b = binary.BigEndian.AppendUint32(b, uint32(d.length))
		}
	}

	b = appendAttributes(b, h.attrs)

	if len(h.vars) == 0 {
		return appendAbsent(b)
	}
	b = binary.BigEndian.AppendUint32(b, tagVariable)
	b = binary.BigEndian.AppendUint32(b, uint32(len(h.vars)))
	for _, v := range h.vars {
		b = appendName(b, v.name)
		b = binary.BigEndian.AppendUint32(b, uint32(len(v.dimIDs)))
		for _, id := range v.dimIDs {
			b = binary.BigEndian.AppendUint32(b, uint32(id))
		}
		b = appendAttributes(b, v.attrs)
		b = binary.BigEndian.AppendUint32(b, uint32(v.typ))
		b = binary.BigEndian.AppendUint32(b, uint32(min(v.vsize, math.MaxUint32)))
		b = binary.BigEndian.AppendUint64(b, uint64(v.begin))
	}
	return b
}

func appendAbsent(b []byte) []byte {
	return binary.BigEndian.AppendUint64(b, 0)
}

func appendName(b []byte, name string) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(name)))
	b = append(b, name...)
	return appendPadding(b, int64(len(name)))
}

func appendAttributes(b []byte, attrs []attribute) []byte {
	if len(attrs) == 0 {
		return appendAbsent(b)
	}
	b = binary.BigEndian.AppendUint32(b, tagAttribute)
	b = binary.BigEndian.AppendUint32(b, uint32(len(attrs)))
	for _, a := range attrs {
		b = appendName(b, a.name)
		switch v := a.value.(type) {
		case string:
			b = binary.BigEndian.AppendUint32(b, uint32(ncChar))
			b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
			b = append(b, v...)
			b = appendPadding(b, int64(len(v)))
		case []int32:
			b = binary.BigEndian.AppendUint32(b, uint32(ncInt))
			b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
			for _, x := range v {
				b = binary.BigEndian.AppendUint32(b, uint32(x))
			}
		case []float64:
			b = binary.BigEndian.AppendUint32(b, uint32(ncDouble))
			b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
			for _, x := range v {
				b = binary.BigEndian.AppendUint64(b, math.Float64bits(x))
			}
		default:
			panic(fmt.Sprintf("netcdf: unsupported attribute %s of type %T", a.name, a.value))
		}
	}
	return b
}

func appendPadding(b []byte, n int64) []byte {
	for range pad4(n) - n {
		b = append(b, 0)
	}
	return b
}

func pad4(n int64) int64 {
	return (n + 3) &^ 3
}

// appendDoubles encodes values big-endian.
func appendDoubles(b []byte, values []float64) []byte {
	for _, v := range values {
		b = binary.BigEndian.AppendUint64(b, math.Float64bits(v))
	}
	return b
}

// appendInts encodes values big-endian.
func appendInts(b []byte, values []int32) []byte {
	for _, v := range values {
		b = binary.BigEndian.AppendUint32(b, uint32(v))
	}
	return b
}
