package domain

import (
	"context"
	"errors"
)

// Error kinds raised by the conversion pipeline. Components wrap these with
// context; callers classify with errors.Is or [ErrorKind].
var (
	// ErrFormat reports an input file name without a parsable forecast hour,
	// duplicate forecast hours, or snapshots arriving out of order.
	ErrFormat = errors.New("format error")

	// ErrInsufficientInput reports fewer than two matching input files.
	ErrInsufficientInput = errors.New("insufficient input")

	// ErrShapeMismatch reports a snapshot whose grid differs from the first
	// snapshot of the run.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrSchemaMismatch reports a chunk whose variables, dimensions or dtype
	// differ from the schema fixed by the first chunk.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrDecode reports a snapshot that could not be decoded, including a
	// requested variable missing from the file.
	ErrDecode = errors.New("decode error")

	// ErrWrite reports an output write failure. Timesteps from the failed
	// chunk onward must be treated as unverified.
	ErrWrite = errors.New("write error")
)

// ErrorKind returns a short, stable name for the error kind wrapped by err, as
// reported on the diagnostic stream by the CLI.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrInsufficientInput):
		return "insufficient_input"
	case errors.Is(err, ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrWrite):
		return "write"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
