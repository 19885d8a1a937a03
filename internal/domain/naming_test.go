package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"SURFTEMPERATURE":   "SURFTEMPERATURE",
		"SURFPREC.EAU.CON":  "SURFPREC_EAU_CON",
		"CLSVENT.ZONAL":     "CLSVENT_ZONAL",
		"WIND U-PHYS":       "WIND_U_PHYS",
		"2MTEMP":            "v_2MTEMP",
		"already_safe_name": "already_safe_name",
	}
	for in, want := range cases {
		assert.Equal(t, want, SafeName(in), in)
	}
}

func TestNameMap(t *testing.T) {
	m, err := NewNameMap([]string{"SURFPREC.EAU.CON", "SURFTEMPERATURE", "CLSVENT.ZONAL", "SURFTEMPERATURE"})
	require.NoError(t, err)

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, "SURFPREC_EAU_CON", m.Safe("SURFPREC.EAU.CON"))
	orig, ok := m.Original("CLSVENT_ZONAL")
	assert.True(t, ok)
	assert.Equal(t, "CLSVENT.ZONAL", orig)

	attr := m.Attribute()
	assert.Equal(t, "CLSVENT.ZONAL=CLSVENT_ZONAL;SURFPREC.EAU.CON=SURFPREC_EAU_CON", attr)
	assert.Equal(t, map[string]string{
		"CLSVENT_ZONAL":    "CLSVENT.ZONAL",
		"SURFPREC_EAU_CON": "SURFPREC.EAU.CON",
	}, ParseNameMapAttribute(attr))
}

func TestNameMap_Collision(t *testing.T) {
	_, err := NewNameMap([]string{"A.B", "A_B"})
	require.ErrorIs(t, err, ErrSchemaMismatch)
}
