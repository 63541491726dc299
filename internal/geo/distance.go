// Package geo provides the distance math used to weight votes by how far
// the voter was from the reported event.
package geo

import "math"

const (
	earthRadiusMeters = 6371000

	// decayRangeMeters is the distance at which the linear decay would hit
	// zero if it were not floored.
	decayRangeMeters = 10000

	// factorFloor is the minimum influence a vote retains regardless of
	// distance, so distant witnesses are never weighted out entirely.
	factorFloor = 0.1
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinates are inside the WGS84 envelope.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// DistanceFactor maps a distance to a vote-weight multiplier in
// [factorFloor, 1]. A nil distance means the voter's location is unknown and
// carries no penalty.
func DistanceFactor(distanceMeters *float64) float64 {
	if distanceMeters == nil {
		return 1.0
	}
	return math.Max(factorFloor, 1-*distanceMeters/decayRangeMeters)
}
