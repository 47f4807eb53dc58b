// Package geo provides GPS fix validation, great-circle distance and geofence
// evaluation for the decision engine.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKM is the mean Earth radius used for great-circle distances.
const EarthRadiusKM = 6371.0

// DefaultMaxAccuracyMeters is the accuracy threshold applied when a caller
// passes no explicit limit.
const DefaultMaxAccuracyMeters = 100.0

// Validation error codes.
const (
	CodeInvalidLatitude  = "INVALID_LATITUDE"
	CodeInvalidLongitude = "INVALID_LONGITUDE"
	CodeInvalidAccuracy  = "INVALID_ACCURACY"
	CodeAccuracyTooLow   = "ACCURACY_TOO_LOW"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// Fix is a single GPS reading reported by a client device. Accuracy is the
// device-reported error radius in meters and may be absent.
type Fix struct {
	Lat      float64
	Lng      float64
	Accuracy *float64
}

// Point returns the fix coordinates without the accuracy component.
func (f Fix) Point() Point {
	return Point{Lat: f.Lat, Lng: f.Lng}
}

// ValidationError describes why a GPS fix was rejected.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidateFix checks a GPS fix for range and accuracy sanity. A fix without
// an accuracy field is accepted; callers wanting a stronger guarantee pair
// this with the IP cross-check.
func ValidateFix(fix Fix, maxAccuracyMeters float64) error {
	if maxAccuracyMeters <= 0 {
		maxAccuracyMeters = DefaultMaxAccuracyMeters
	}

	if math.IsNaN(fix.Lat) || fix.Lat < -90 || fix.Lat > 90 {
		return &ValidationError{
			Code:    CodeInvalidLatitude,
			Message: fmt.Sprintf("latitude %v out of range [-90, 90]", fix.Lat),
		}
	}
	if math.IsNaN(fix.Lng) || fix.Lng < -180 || fix.Lng > 180 {
		return &ValidationError{
			Code:    CodeInvalidLongitude,
			Message: fmt.Sprintf("longitude %v out of range [-180, 180]", fix.Lng),
		}
	}
	if fix.Accuracy != nil {
		if *fix.Accuracy < 0 {
			return &ValidationError{
				Code:    CodeInvalidAccuracy,
				Message: fmt.Sprintf("accuracy %v must not be negative", *fix.Accuracy),
			}
		}
		if *fix.Accuracy > maxAccuracyMeters {
			return &ValidationError{
				Code:    CodeAccuracyTooLow,
				Message: fmt.Sprintf("accuracy %vm exceeds the maximum of %vm", *fix.Accuracy, maxAccuracyMeters),
			}
		}
	}
	return nil
}

// Distance returns the great-circle (haversine) distance between two points
// in kilometers.
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}

	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return EarthRadiusKM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// CrossCheckResult reports the outcome of the GPS-vs-IP location comparison.
// DistanceKM is populated whenever both coordinates were available.
type CrossCheckResult struct {
	OK         bool
	DistanceKM float64
	Checked    bool
}

// CrossCheck compares a GPS fix against the IP-derived location. When the IP
// location is nil the check passes: the user cannot be penalized for a
// missing signal. maxDistanceKM defaults to 500 when non-positive.
func CrossCheck(fix Fix, ipLocation *Point, maxDistanceKM float64) CrossCheckResult {
	if ipLocation == nil {
		return CrossCheckResult{OK: true}
	}
	if maxDistanceKM <= 0 {
		maxDistanceKM = 500
	}

	d := Distance(fix.Point(), *ipLocation)
	return CrossCheckResult{
		OK:         d <= maxDistanceKM,
		DistanceKM: d,
		Checked:    true,
	}
}
