package domain

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

// forecastHourRe matches the lead-time suffix of a snapshot file name:
// "+0012", "+0012.sfx", "+0006:00".
var forecastHourRe = regexp.MustCompile(`\+(\d{1,5})(?::(\d{2}))?(?:\.[A-Za-z0-9]+)?$`)

// ParseForecastHour extracts the forecast hour from a snapshot path.
func ParseForecastHour(path string) (int, error) {
	base := filepath.Base(path)
	m := forecastHourRe.FindStringSubmatch(base)
	if m == nil {
		return 0, fmt.Errorf("%w: no forecast hour in file name %q", ErrFormat, base)
	}
	if m[2] != "" && m[2] != "00" {
		return 0, fmt.Errorf("%w: sub-hourly lead time %q in %q is not supported", ErrFormat, m[1]+":"+m[2], base)
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: forecast hour in %q: %v", ErrFormat, base, err)
	}
	return hour, nil
}
