package spatial

import (
	"github.com/aukilabs/geoquad/geo"
	"github.com/tidwall/rtree"
)

// tileIndex answers whether an extent overlaps any of the tiles visible in the
// current frame for one tree.
type tileIndex struct {
	tiles rtree.RTreeG[geo.TileKey]
}

func newTileIndex(t geo.Tree, keys []geo.TileKey) *tileIndex {
	var idx tileIndex
	for _, k := range keys {
		e := geo.TileExtent(t, k)
		idx.tiles.Insert(
			[2]float64{e.SouthWest[0], e.SouthWest[1]},
			[2]float64{e.NorthEast[0], e.NorthEast[1]},
			k,
		)
	}
	return &idx
}

func (idx *tileIndex) overlaps(e geo.Extent) bool {
	found := false
	idx.tiles.Search(
		[2]float64{e.SouthWest[0], e.SouthWest[1]},
		[2]float64{e.NorthEast[0], e.NorthEast[1]},
		func(min, max [2]float64, _ geo.TileKey) bool {
			// The rtree also reports tiles that only share an edge.
			if e.Overlaps(geo.NewExtent(min, max)) {
				found = true
				return false
			}
			return true
		},
	)
	return found
}
