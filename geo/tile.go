package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxViewportTiles bounds the number of tiles a viewport expands to. Larger
// viewports are covered at a coarser zoom.
const MaxViewportTiles = 4096

// MaxZoom is the deepest zoom a tile key can address.
const MaxZoom = 30

// TileKey addresses a tile of a tree. Y grows southward for every tree, so a
// Mercator key is a regular XYZ web map tile.
type TileKey struct {
	Z uint32
	X uint32
	Y uint32
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

// Children returns the four sub tiles in NW, NE, SW, SE order.
func (k TileKey) Children() [4]TileKey {
	var children [4]TileKey
	for i := range children {
		children[i] = TileKey{
			Z: k.Z + 1,
			X: k.X*2 + uint32(i%2),
			Y: k.Y*2 + uint32(i/2),
		}
	}
	return children
}

func (k TileKey) Parent() TileKey {
	if k.Z == 0 {
		return k
	}
	return TileKey{Z: k.Z - 1, X: k.X / 2, Y: k.Y / 2}
}

// Less orders keys by zoom, then row, then column.
func (k TileKey) Less(o TileKey) bool {
	if k.Z != o.Z {
		return k.Z < o.Z
	}
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	return k.X < o.X
}

// TileExtent returns the lon/lat rectangle covered by key in tree t.
func TileExtent(t Tree, k TileKey) Extent {
	if t == TreeMercator {
		return ExtentFromBound(maptile.New(k.X, k.Y, maptile.Zoom(k.Z)).Bound())
	}

	polar := capExtent(t)
	n := float64(uint64(1) << k.Z)
	w := polar.Width() / n
	h := polar.Height() / n

	north := polar.NorthEast[1] - float64(k.Y)*h
	west := polar.SouthWest[0] + float64(k.X)*w
	return Extent{
		SouthWest: orb.Point{west, north - h},
		NorthEast: orb.Point{west + w, north},
	}
}

// TileMidpoint returns the point where the four children of key meet. Mercator
// tiles split at equal projected distance, so their middle latitude is not the
// arithmetic mean of the tile edges.
func TileMidpoint(t Tree, k TileKey) orb.Point {
	e := TileExtent(t, k)
	mid := e.Center()

	if t == TreeMercator {
		south := maptile.New(k.X*2, k.Y*2+1, maptile.Zoom(k.Z+1)).Bound()
		mid[1] = south.Max[1]
	}
	return mid
}

// MercatorTiles returns the Mercator tiles at zoom z that cover b. The zoom is
// lowered until the tile count fits MaxViewportTiles.
func MercatorTiles(b orb.Bound, z uint32) []TileKey {
	minLat := math.Max(b.Min[1], MinLat)
	maxLat := math.Min(b.Max[1], MaxLat)
	minLon := math.Max(b.Min[0], -180)
	maxLon := math.Min(b.Max[0], 180)
	if minLat > maxLat || minLon > maxLon {
		return nil
	}
	z = min(z, MaxZoom)

	for {
		n := uint32(1) << z
		nw := maptile.At(orb.Point{minLon, maxLat}, maptile.Zoom(z))
		se := maptile.At(orb.Point{maxLon, minLat}, maptile.Zoom(z))

		minX, maxX := clampTile(nw.X, n), clampTile(se.X, n)
		minY, maxY := clampTile(nw.Y, n), clampTile(se.Y, n)

		if z > 0 && uint64(maxX-minX+1)*uint64(maxY-minY+1) > MaxViewportTiles {
			z--
			continue
		}
		return tileRange(z, minX, maxX, minY, maxY)
	}
}

// PolarTiles returns the tiles of polar tree t at zoom z that cover b.
func PolarTiles(t Tree, b orb.Bound, z uint32) []TileKey {
	if t == TreeMercator {
		return MercatorTiles(b, z)
	}

	polar := capExtent(t)
	view := ExtentFromBound(b)
	if !view.Overlaps(polar) {
		return nil
	}
	z = min(z, MaxZoom)

	for {
		n := uint32(1) << z
		w := polar.Width() / float64(n)
		h := polar.Height() / float64(n)

		minX := tileIndex(view.SouthWest[0]-polar.SouthWest[0], w, n)
		maxX := tileIndex(view.NorthEast[0]-polar.SouthWest[0], w, n)
		minY := tileIndex(polar.NorthEast[1]-view.NorthEast[1], h, n)
		maxY := tileIndex(polar.NorthEast[1]-view.SouthWest[1], h, n)

		if z > 0 && uint64(maxX-minX+1)*uint64(maxY-minY+1) > MaxViewportTiles {
			z--
			continue
		}
		return tileRange(z, minX, maxX, minY, maxY)
	}
}

func tileIndex(offset, size float64, n uint32) uint32 {
	i := math.Floor(offset / size)
	if i <= 0 {
		return 0
	}
	if i >= float64(n) {
		return n - 1
	}
	return uint32(i)
}

func clampTile(v, n uint32) uint32 {
	if v >= n {
		return n - 1
	}
	return v
}

func tileRange(z, minX, maxX, minY, maxY uint32) []TileKey {
	tiles := make([]TileKey, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, TileKey{Z: z, X: x, Y: y})
		}
	}
	return tiles
}
