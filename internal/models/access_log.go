package models

import (
	"time"
)

// AccessLog records a single access decision. Rows are written asynchronously
// by the audit service and mutated exactly once afterwards, when the evidence
// pipeline attaches a screenshot reference. IPAddress is stored anonymized.
type AccessLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UUID      string    `json:"uuid" gorm:"uniqueIndex"`
	SiteID    uint      `json:"site_id" gorm:"index"`
	Timestamp time.Time `json:"timestamp" gorm:"index"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	URL       string    `json:"url"`
	Allowed   bool      `json:"allowed" gorm:"index"`
	Reason    string    `json:"reason"`

	IPCountry string `json:"ip_country"`
	IPCity    string `json:"ip_city"`

	// Nil when the resolver returned no coordinates, so a lookup miss stays
	// distinguishable from a genuine (0, 0) location.
	IPLat *float64 `json:"ip_lat,omitempty"`
	IPLng *float64 `json:"ip_lng,omitempty"`

	GPSLat      *float64 `json:"gps_lat,omitempty"`
	GPSLng      *float64 `json:"gps_lng,omitempty"`
	GPSAccuracy *float64 `json:"gps_accuracy,omitempty"`

	ScreenshotURL string `json:"screenshot_url"`

	CreatedAt time.Time `json:"created_at"`
}
