package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geocompliance-backend/models"
)

func TestStableID_Deterministic(t *testing.T) {
	a := StableID(models.KindRegulation, "UT", "HB311", "13-63-101")
	b := StableID(models.KindRegulation, "ut", " HB311 ", "13-63-101")
	assert.Equal(t, a, b)
	assert.Equal(t, 5, int(a.Version()))
}

func TestStableID_DistinguishesKindAndKey(t *testing.T) {
	reg := StableID(models.KindRegulation, "UT", "HB311", "minor")
	def := StableID(models.KindDefinition, "UT", "HB311", "minor")
	other := StableID(models.KindRegulation, "UT", "HB311", "13-63-102")

	assert.NotEqual(t, reg, def)
	assert.NotEqual(t, reg, other)
}

func TestCanonicalKey_SortedKeys(t *testing.T) {
	key, err := CanonicalKey(models.KindDefinition, "ca", "sb976", "Minor")
	require.NoError(t, err)
	assert.Equal(t, `{"key":"Minor","kind":"definition","region":"CA","statute":"SB976"}`, string(key))
}

func TestRegulationName(t *testing.T) {
	tests := []struct {
		region, statute, lawID string
		want                   string
	}{
		{"UT", "HB311", "13-63-101", "UT_HB311_13_63_101"},
		{"ut", "hb 311", "13-63-101.5", "UT_HB_311_13_63_101_5"},
		{"FL", "HB3", "501.1736", "FL_HB3_501_1736"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RegulationName(tt.region, tt.statute, tt.lawID))
	}
}

func TestRegionIdent(t *testing.T) {
	ident, err := RegionIdent(" UT ")
	require.NoError(t, err)
	assert.Equal(t, "ut", ident)

	for _, bad := range []string{"", "1ut", "ut; drop table x", "u-t"} {
		_, err := RegionIdent(bad)
		assert.ErrorIs(t, err, ErrInvalidRegion, bad)
	}
}
