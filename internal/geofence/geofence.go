// Package geofence decides whether a coordinate lies inside a hostel's
// permitted area. A boundary is a circle (preferred) or a polygon.
package geofence

import (
	"errors"
	"math"
)

// EarthRadiusMeters is the sphere radius used by Haversine.
const EarthRadiusMeters = 6371000.0

// edgeEpsilon is the tolerance, in degrees, for treating a point as lying
// on a polygon edge.
const edgeEpsilon = 1e-12

// LatLng is a WGS84 coordinate in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Valid reports whether the coordinate is within the legal degree ranges.
func (p LatLng) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Boundary is a named hostel region. When Center and RadiusMeters are both
// set the circle is used and Points is ignored.
type Boundary struct {
	Name         string   `json:"name" yaml:"name"`
	Center       *LatLng  `json:"center,omitempty" yaml:"center,omitempty"`
	RadiusMeters float64  `json:"radiusMeters,omitempty" yaml:"radius_m,omitempty"`
	Points       []LatLng `json:"points,omitempty" yaml:"points,omitempty"`
}

// Mode names the rule a Result was computed with.
type Mode string

const (
	ModeCircle  Mode = "circle"
	ModePolygon Mode = "polygon"
)

// Result is the outcome of Check. DistanceMeters is set in circle mode.
type Result struct {
	Valid          bool
	Mode           Mode
	DistanceMeters *float64
}

var errNoShape = errors.New("boundary has neither a circle nor a polygon")

// IsCircle reports whether b is evaluated in circle mode.
func (b Boundary) IsCircle() bool {
	return b.Center != nil && b.RadiusMeters > 0
}

// Validate checks that b describes a usable shape.
func (b Boundary) Validate() error {
	if b.IsCircle() {
		if !b.Center.Valid() {
			return errors.New("circle center out of range")
		}
		return nil
	}
	if len(b.Points) < 3 {
		return errNoShape
	}
	for _, p := range b.Points {
		if !p.Valid() {
			return errors.New("polygon point out of range")
		}
	}
	return nil
}

// Check decides whether coord is inside b. The circle boundary is
// inclusive; polygon points on an edge or vertex count as inside.
func Check(coord LatLng, b Boundary) Result {
	if b.IsCircle() {
		d := Haversine(coord, *b.Center)
		return Result{Valid: d <= b.RadiusMeters, Mode: ModeCircle, DistanceMeters: &d}
	}
	return Result{Valid: PointInPolygon(coord, b.Points), Mode: ModePolygon}
}

// Haversine returns the great-circle distance in meters between a and b.
func Haversine(a, b LatLng) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lng - a.Lng) * math.Pi / 180

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// PointInPolygon applies the even-odd rule with longitude as X and
// latitude as Y. Fewer than three points never contain anything.
func PointInPolygon(p LatLng, polygon []LatLng) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	x, y := p.Lng, p.Lat
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := polygon[i].Lng, polygon[i].Lat
		xj, yj := polygon[j].Lng, polygon[j].Lat
		if onSegment(x, y, xi, yi, xj, yj) {
			return true
		}
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func onSegment(x, y, x1, y1, x2, y2 float64) bool {
	cross := (x-x1)*(y2-y1) - (y-y1)*(x2-x1)
	if math.Abs(cross) > edgeEpsilon {
		return false
	}
	return x >= math.Min(x1, x2)-edgeEpsilon && x <= math.Max(x1, x2)+edgeEpsilon &&
		y >= math.Min(y1, y2)-edgeEpsilon && y <= math.Max(y1, y2)+edgeEpsilon
}
