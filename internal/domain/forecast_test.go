package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseForecastHour(t *testing.T) {
	valid := map[string]int{
		"pfABOFABOF+0001":           1,
		"/data/run/pfABOFABOF+0012": 12,
		"ICMSHABOF+0048.sfx":        48,
		"ICMSHABOF+0006:00":         6,
		"run+120.fa":                120,
	}
	for path, want := range valid {
		got, err := ParseForecastHour(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	invalid := []string{"pfABOFABOF", "pf+ab", "ICMSHABOF+0006:30", "a+0001/b"}
	for _, path := range invalid {
		_, err := ParseForecastHour(path)
		require.ErrorIs(t, err, ErrFormat, path)
	}
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "format", ErrorKind(ErrFormat))
	assert.Equal(t, "schema_mismatch", ErrorKind(fmtWrap(ErrSchemaMismatch)))
	assert.Equal(t, "write", ErrorKind(fmtWrap(ErrWrite)))
	assert.Equal(t, "internal", ErrorKind(assert.AnError))
	assert.Empty(t, ErrorKind(nil))
}

func fmtWrap(err error) error {
	return fmt.Errorf("append chunk: %w", err)
}
