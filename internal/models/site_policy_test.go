package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSitePolicy_ListAccessors(t *testing.T) {
	policy := SitePolicy{
		IPAllowlist:      `["10.0.0.0/8", "203.0.113.10"]`,
		IPDenylist:       `["198.51.100.0/24"]`,
		CountryAllowlist: "de, fr ,US",
		CountryDenylist:  "",
	}

	assert.Equal(t, []string{"10.0.0.0/8", "203.0.113.10"}, policy.IPAllowEntries())
	assert.Equal(t, []string{"198.51.100.0/24"}, policy.IPDenyEntries())
	assert.Equal(t, []string{"DE", "FR", "US"}, policy.CountryAllowCodes())
	assert.Nil(t, policy.CountryDenyCodes())
}

func TestSitePolicy_MalformedColumnsDegrade(t *testing.T) {
	policy := SitePolicy{
		IPAllowlist:     `{broken`,
		GeofencePolygon: `not json`,
	}

	assert.Nil(t, policy.IPAllowEntries())
	assert.Nil(t, policy.PolygonRing())
}

func TestSitePolicy_PolygonRing(t *testing.T) {
	policy := SitePolicy{GeofencePolygon: `[[-74.02, 40.70], [-74.00, 40.70], [-74.00, 40.72]]`}
	ring := policy.PolygonRing()
	assert.Len(t, ring, 3)
	assert.Equal(t, [2]float64{-74.02, 40.70}, ring[0])
}

func TestSitePolicy_AccessModes(t *testing.T) {
	cases := []struct {
		mode        string
		requiresIP  bool
		requiresGPS bool
	}{
		{AccessModeDisabled, false, false},
		{AccessModeIPOnly, true, false},
		{AccessModeGeoOnly, false, true},
		{AccessModeIPAndGeo, true, true},
	}
	for _, tc := range cases {
		policy := SitePolicy{AccessMode: tc.mode}
		assert.Equal(t, tc.requiresIP, policy.RequiresIP(), tc.mode)
		assert.Equal(t, tc.requiresGPS, policy.RequiresGPS(), tc.mode)
	}
}
