// Package geo provides the geodesic primitives used by the score index
// and the feedback gates: great-circle distances and bounding boxes on
// a spherical Earth.
package geo

import "math"

// Earth radius in meters (spherical model).
const earthRadius = 6371000.0

// Location is a point in decimal degrees.
type Location struct {
	Lat  float64
	Long float64
}

func (l Location) latRad() float64 {
	return l.Lat * math.Pi / 180
}

func (l Location) longRad() float64 {
	return l.Long * math.Pi / 180
}

// Distance returns the great-circle distance to other in meters.
// The cosine term is clamped to [-1, 1] so that rounding error near
// identical or antipodal points cannot produce NaN.
func (l Location) Distance(other Location) float64 {
	if l == other {
		return 0
	}
	c := math.Sin(l.latRad())*math.Sin(other.latRad()) +
		math.Cos(l.latRad())*math.Cos(other.latRad())*
			math.Cos(l.longRad()-other.longRad())
	if c >= 1 {
		return 0
	}
	if c <= -1 {
		return math.Pi * earthRadius
	}
	return math.Acos(c) * earthRadius
}

// Box is an axis-aligned bounding box in decimal degrees.
type Box struct {
	MinLat  float64
	MinLong float64
	MaxLat  float64
	MaxLong float64
}

// BoundingBox returns the box that covers a circle of the given radius
// (meters) centered on l. The longitude delta widens with latitude.
func (l Location) BoundingBox(radius float64) Box {
	dLat := radius / earthRadius * 180 / math.Pi
	dLong := math.Asin(math.Sin(radius/earthRadius)/math.Cos(l.latRad())) * 180 / math.Pi
	return Box{
		MinLat:  l.Lat - dLat,
		MinLong: l.Long - dLong,
		MaxLat:  l.Lat + dLat,
		MaxLong: l.Long + dLong,
	}
}

// Contains reports whether the box contains the given point.
func (b Box) Contains(l Location) bool {
	return l.Lat >= b.MinLat && l.Lat <= b.MaxLat &&
		l.Long >= b.MinLong && l.Long <= b.MaxLong
}
