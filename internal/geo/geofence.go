package geo

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ErrInvalidFence is returned when a geofence configuration is incomplete or
// of an unknown type.
var ErrInvalidFence = errors.New("invalid geofence configuration")

// Fence types.
const (
	FenceRadius  = "radius"
	FencePolygon = "polygon"
)

// accuracyBufferFactor scales device accuracy into the fence buffer so a user
// standing on the boundary with a noisy fix is not rejected.
const accuracyBufferFactor = 1.5

// Fence is a site's geofence configuration in evaluator form.
type Fence struct {
	Type     string
	Center   Point
	RadiusKM float64
	Ring     [][2]float64 // [lng, lat] pairs
}

// FenceResult reports a geofence evaluation. DistanceKM is always populated
// so denials remain observable: distance to the center for radius fences,
// distance to the nearest boundary (0 inside) for polygon fences.
type FenceResult struct {
	Allowed           bool
	DistanceKM        float64
	EffectiveRadiusKM float64
}

// EvaluateFence decides whether a validated GPS fix lies within the fence,
// widened by the device accuracy.
func EvaluateFence(fence Fence, fix Fix) (FenceResult, error) {
	switch fence.Type {
	case FenceRadius:
		return evaluateRadius(fence, fix)
	case FencePolygon:
		return evaluatePolygon(fence, fix)
	default:
		return FenceResult{}, ErrInvalidFence
	}
}

func accuracyBufferKM(fix Fix) float64 {
	if fix.Accuracy == nil {
		return 0
	}
	return *fix.Accuracy * accuracyBufferFactor / 1000
}

func evaluateRadius(fence Fence, fix Fix) (FenceResult, error) {
	if fence.RadiusKM <= 0 {
		return FenceResult{}, ErrInvalidFence
	}

	effective := fence.RadiusKM + accuracyBufferKM(fix)
	d := Distance(fix.Point(), fence.Center)

	return FenceResult{
		Allowed:           d <= effective,
		DistanceKM:        d,
		EffectiveRadiusKM: effective,
	}, nil
}

func evaluatePolygon(fence Fence, fix Fix) (FenceResult, error) {
	if len(fence.Ring) < 3 {
		return FenceResult{}, ErrInvalidFence
	}

	ring := make(orb.Ring, 0, len(fence.Ring)+1)
	for _, pt := range fence.Ring {
		ring = append(ring, orb.Point{pt[0], pt[1]})
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}

	point := orb.Point{fix.Lng, fix.Lat}
	buffer := accuracyBufferKM(fix)

	if planar.RingContains(ring, point) {
		return FenceResult{Allowed: true, DistanceKM: 0, EffectiveRadiusKM: buffer}, nil
	}

	// Outside the ring: the fix still passes when its accuracy buffer reaches
	// the boundary. Uses the same flat-Earth approximation as the buffer in
	// radius mode, which is fine at fence scale.
	d := distanceToRingKM(ring, Point{Lat: fix.Lat, Lng: fix.Lng})
	return FenceResult{
		Allowed:           d <= buffer,
		DistanceKM:        d,
		EffectiveRadiusKM: buffer,
	}, nil
}

// distanceToRingKM returns the minimum distance from a point to the ring
// boundary in kilometers, via a local equirectangular projection centered on
// the point.
func distanceToRingKM(ring orb.Ring, p Point) float64 {
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	project := func(pt orb.Point) orb.Point {
		x := (pt[0] - p.Lng) * cosLat
		y := pt[1] - p.Lat
		return orb.Point{x, y}
	}

	origin := orb.Point{0, 0}
	min := math.Inf(1)
	for i := 0; i+1 < len(ring); i++ {
		d := planar.DistanceFromSegment(project(ring[i]), project(ring[i+1]), origin)
		if d < min {
			min = d
		}
	}

	// Degrees to kilometers along a great circle.
	return min * math.Pi / 180 * EarthRadiusKM
}
