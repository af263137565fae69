package geo

import (
	"github.com/golang/geo/r3"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// LonLat is a geodetic position in degrees, with a height in meters above the
// reference surface.
type LonLat struct {
	Lon    float64
	Lat    float64
	Height float64
}

func (ll LonLat) Point() orb.Point {
	return orb.Point{ll.Lon, ll.Lat}
}

// Ellipsoid converts between geodetic and cartesian positions.
type Ellipsoid interface {
	ToCartesian(LonLat) r3.Vector
	ToLonLat(r3.Vector) LonLat
}

// Sphere is an Ellipsoid with equal axes, centered on the origin.
type Sphere struct {
	Radius float64
}

// Earth is a sphere with the WGS84 equatorial radius.
var Earth = Sphere{Radius: 6378137}

func (s Sphere) ToCartesian(ll LonLat) r3.Vector {
	p := s2.PointFromLatLng(s2.LatLngFromDegrees(ll.Lat, ll.Lon))
	return p.Vector.Mul(s.Radius + ll.Height)
}

func (s Sphere) ToLonLat(v r3.Vector) LonLat {
	norm := v.Norm()
	if norm == 0 {
		return LonLat{Height: -s.Radius}
	}

	ll := s2.LatLngFromPoint(s2.Point{Vector: v.Mul(1 / norm)})
	return LonLat{
		Lon:    ll.Lng.Degrees(),
		Lat:    ll.Lat.Degrees(),
		Height: norm - s.Radius,
	}
}
