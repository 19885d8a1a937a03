package domain

import (
	"fmt"
	"sort"
	"strings"
)

// SafeName rewrites a vendor field name into a container-safe identifier:
// every character outside [A-Za-z0-9_] becomes "_" and a leading digit gets a
// "v_" prefix.
func SafeName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 2)
	for i, r := range name {
		if i == 0 && r >= '0' && r <= '9' {
			b.WriteString("v_")
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// NameMap is the run's fixed table of original → safe variable names.
type NameMap struct {
	toSafe map[string]string
	toOrig map[string]string
}

// NewNameMap builds the table for the given original names. Two originals that
// collapse onto the same safe name are rejected.
func NewNameMap(originals []string) (NameMap, error) {
	m := NameMap{
		toSafe: make(map[string]string, len(originals)),
		toOrig: make(map[string]string, len(originals)),
	}
	for _, orig := range originals {
		if _, ok := m.toSafe[orig]; ok {
			continue
		}
		safe := SafeName(orig)
		if prev, ok := m.toOrig[safe]; ok {
			return NameMap{}, fmt.Errorf("%w: %q and %q both map to %q", ErrSchemaMismatch, prev, orig, safe)
		}
		m.toSafe[orig] = safe
		m.toOrig[safe] = orig
	}
	return m, nil
}

// Safe returns the safe name for orig, computing it when orig is not in the
// table.
func (m NameMap) Safe(orig string) string {
	if s, ok := m.toSafe[orig]; ok {
		return s
	}
	return SafeName(orig)
}

// Original returns the original name for safe, if known.
func (m NameMap) Original(safe string) (string, bool) {
	o, ok := m.toOrig[safe]
	return o, ok
}

// Len returns the number of entries.
func (m NameMap) Len() int {
	return len(m.toSafe)
}

// Attribute encodes the renamed entries as "orig=safe;orig=safe", sorted by
// original name. Names that did not change are omitted.
func (m NameMap) Attribute() string {
	origs := make([]string, 0, len(m.toSafe))
	for o, s := range m.toSafe {
		if o != s {
			origs = append(origs, o)
		}
	}
	sort.Strings(origs)
	parts := make([]string, len(origs))
	for i, o := range origs {
		parts[i] = o + "=" + m.toSafe[o]
	}
	return strings.Join(parts, ";")
}

// ParseNameMapAttribute decodes a "name_map" attribute into safe → original.
func ParseNameMapAttribute(attr string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(attr, ";") {
		orig, safe, ok := strings.Cut(part, "=")
		if !ok || orig == "" || safe == "" {
			continue
		}
		out[safe] = orig
	}
	return out
}
