package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Access modes supported by a site policy.
const (
	AccessModeDisabled = "disabled"
	AccessModeIPOnly   = "ip_only"
	AccessModeGeoOnly  = "geo_only"
	AccessModeIPAndGeo = "ip_and_geo"
)

// Geofence types supported by a site policy.
const (
	GeofenceNone    = ""
	GeofencePolygon = "polygon"
	GeofenceRadius  = "radius"
)

// SitePolicy defines the access rules evaluated for a protected site. The
// decision engine reads policies through the policy cache; any mutation must
// go through SitePolicyService so the cache tiers are invalidated.
type SitePolicy struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	UUID     string `json:"uuid" gorm:"uniqueIndex"`
	Slug     string `json:"slug" gorm:"index"`
	Hostname string `json:"hostname" gorm:"uniqueIndex"`
	Enabled  bool   `json:"enabled"`

	// AccessMode is one of "disabled", "ip_only", "geo_only", "ip_and_geo".
	AccessMode string `json:"access_mode"`

	IPAllowlist string `json:"ip_allowlist" gorm:"type:text"` // JSON array of IP/CIDR strings
	IPDenylist  string `json:"ip_denylist" gorm:"type:text"`  // JSON array of IP/CIDR strings

	CountryAllowlist string `json:"country_allowlist"` // Comma-separated ISO 3166-1 alpha-2 codes
	CountryDenylist  string `json:"country_denylist"`  // Comma-separated ISO 3166-1 alpha-2 codes

	BlockVPN bool `json:"block_vpn"`

	// GeofenceType is "", "polygon" or "radius".
	GeofenceType    string  `json:"geofence_type"`
	GeofencePolygon string  `json:"geofence_polygon" gorm:"type:text"` // JSON array of [lng, lat] pairs
	GeofenceLat     float64 `json:"geofence_lat"`
	GeofenceLng     float64 `json:"geofence_lng"`
	GeofenceRadius  float64 `json:"geofence_radius_km"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IPAllowEntries decodes the allowlist JSON column. A malformed column yields
// an empty list so a bad admin write can never take a site down.
func (p *SitePolicy) IPAllowEntries() []string {
	return decodeEntries(p.IPAllowlist)
}

// IPDenyEntries decodes the denylist JSON column.
func (p *SitePolicy) IPDenyEntries() []string {
	return decodeEntries(p.IPDenylist)
}

// CountryAllowCodes returns the normalized country allowlist.
func (p *SitePolicy) CountryAllowCodes() []string {
	return splitCodes(p.CountryAllowlist)
}

// CountryDenyCodes returns the normalized country denylist.
func (p *SitePolicy) CountryDenyCodes() []string {
	return splitCodes(p.CountryDenylist)
}

// PolygonRing decodes the polygon JSON column as [lng, lat] pairs.
func (p *SitePolicy) PolygonRing() [][2]float64 {
	if p.GeofencePolygon == "" {
		return nil
	}
	var ring [][2]float64
	if err := json.Unmarshal([]byte(p.GeofencePolygon), &ring); err != nil {
		return nil
	}
	return ring
}

// RequiresIP reports whether the policy's access mode includes IP checks.
func (p *SitePolicy) RequiresIP() bool {
	return p.AccessMode == AccessModeIPOnly || p.AccessMode == AccessModeIPAndGeo
}

// RequiresGPS reports whether the policy's access mode includes GPS checks.
func (p *SitePolicy) RequiresGPS() bool {
	return p.AccessMode == AccessModeGeoOnly || p.AccessMode == AccessModeIPAndGeo
}

func decodeEntries(raw string) []string {
	if raw == "" {
		return nil
	}
	var entries []string
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}
	return entries
}

func splitCodes(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	codes := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			codes = append(codes, p)
		}
	}
	return codes
}
