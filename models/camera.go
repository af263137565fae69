package models

import (
	"math"

	"github.com/aukilabs/geoquad/geo"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/paulmach/orb"
)

// Camera is the viewport a layer renders: a lon/lat rectangle and the zoom of
// the tiles covering it.
type Camera struct {
	Bound orb.Bound
	Zoom  uint32
}

// IsZero reports whether no viewport was set. A zero camera sees nothing but
// the always collection.
func (c Camera) IsZero() bool {
	return c == Camera{}
}

func (c Camera) Validate() error {
	for _, v := range [...]float64{c.Bound.Min[0], c.Bound.Min[1], c.Bound.Max[0], c.Bound.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("viewport is not finite").
				WithType(ErrTypeBadViewport).
				WithTag("bound", c.Bound)
		}
	}

	if c.Bound.Min[0] > c.Bound.Max[0] || c.Bound.Min[1] > c.Bound.Max[1] {
		return errors.New("viewport corners are inverted").
			WithType(ErrTypeBadViewport).
			WithTag("bound", c.Bound)
	}

	if c.Bound.Min[1] < -90 || c.Bound.Max[1] > 90 {
		return errors.New("viewport latitude out of range").
			WithType(ErrTypeBadViewport).
			WithTag("bound", c.Bound)
	}

	if c.Zoom > geo.MaxZoom {
		return errors.New("zoom out of range").
			WithType(ErrTypeBadViewport).
			WithTag("zoom", c.Zoom).
			WithTag("max_zoom", geo.MaxZoom)
	}
	return nil
}

// Tiles returns the visible tiles of each tree. Polar tiles are omitted when
// polar is false.
func (c Camera) Tiles(polar bool) (mercator, north, south []geo.TileKey) {
	if c.IsZero() {
		return nil, nil, nil
	}

	mercator = geo.MercatorTiles(c.Bound, c.Zoom)
	if polar {
		north = geo.PolarTiles(geo.TreeNorth, c.Bound, c.Zoom)
		south = geo.PolarTiles(geo.TreeSouth, c.Bound, c.Zoom)
	}
	return mercator, north, south
}
