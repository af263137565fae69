package geo

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Extent is an axis-aligned rectangle in lon/lat degrees.
//
// A new extent is degenerate (south west at [180, 90], north east at
// [-180, -90]) so that the first Fit collapses it onto the fitted point.
type Extent struct {
	SouthWest orb.Point
	NorthEast orb.Point
}

func NewEmptyExtent() Extent {
	return Extent{
		SouthWest: orb.Point{180, 90},
		NorthEast: orb.Point{-180, -90},
	}
}

func NewExtent(southWest, northEast orb.Point) Extent {
	return Extent{SouthWest: southWest, NorthEast: northEast}
}

func ExtentFromBound(b orb.Bound) Extent {
	return Extent{SouthWest: b.Min, NorthEast: b.Max}
}

func (e Extent) Bound() orb.Bound {
	return orb.Bound{Min: e.SouthWest, Max: e.NorthEast}
}

// Fit grows the extent so it contains p. It never shrinks.
func (e *Extent) Fit(p orb.Point) {
	if p[0] < e.SouthWest[0] {
		e.SouthWest[0] = p[0]
	}
	if p[1] < e.SouthWest[1] {
		e.SouthWest[1] = p[1]
	}
	if p[0] > e.NorthEast[0] {
		e.NorthEast[0] = p[0]
	}
	if p[1] > e.NorthEast[1] {
		e.NorthEast[1] = p[1]
	}
}

func (e Extent) IsEmpty() bool {
	return e.SouthWest[0] > e.NorthEast[0] || e.SouthWest[1] > e.NorthEast[1]
}

// Contains reports whether p lies inside e, edges included.
func (e Extent) Contains(p orb.Point) bool {
	return p[0] >= e.SouthWest[0] && p[0] <= e.NorthEast[0] &&
		p[1] >= e.SouthWest[1] && p[1] <= e.NorthEast[1]
}

// Overlaps reports whether e and o share a region with a non zero area.
// Extents that only touch along an edge do not overlap.
func (e Extent) Overlaps(o Extent) bool {
	return e.SouthWest[0] < o.NorthEast[0] && e.NorthEast[0] > o.SouthWest[0] &&
		e.SouthWest[1] < o.NorthEast[1] && e.NorthEast[1] > o.SouthWest[1]
}

func (e Extent) Width() float64 {
	return e.NorthEast[0] - e.SouthWest[0]
}

func (e Extent) Height() float64 {
	return e.NorthEast[1] - e.SouthWest[1]
}

func (e Extent) Center() orb.Point {
	return orb.Point{
		(e.SouthWest[0] + e.NorthEast[0]) / 2,
		(e.SouthWest[1] + e.NorthEast[1]) / 2,
	}
}

func (e Extent) String() string {
	return fmt.Sprintf("[%g,%g]-[%g,%g]", e.SouthWest[0], e.SouthWest[1], e.NorthEast[0], e.NorthEast[1])
}
