package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// The latitude band a Web-Mercator projection can represent. Beyond it the
// projection diverges, so the polar caps get their own trees.
var (
	MaxLat = 180 / math.Pi * math.Atan(math.Sinh(math.Pi))
	MinLat = -MaxLat
)

// Tree identifies one of the three trees of the forest.
type Tree uint8

const (
	TreeMercator Tree = iota
	TreeNorth
	TreeSouth
)

// Trees lists every tree in walk order.
var Trees = [...]Tree{TreeMercator, TreeNorth, TreeSouth}

func (t Tree) String() string {
	switch t {
	case TreeMercator:
		return "mercator"
	case TreeNorth:
		return "north"
	case TreeSouth:
		return "south"
	default:
		return "unknown"
	}
}

// ParseTree is the inverse of Tree.String.
func ParseTree(s string) (Tree, bool) {
	for _, t := range Trees {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// TreeOf returns the tree responsible for the given latitude. Both band
// boundaries belong to the Mercator tree; the caps are open at the band edge.
func TreeOf(lat float64) Tree {
	switch {
	case lat > MaxLat:
		return TreeNorth
	case lat < MinLat:
		return TreeSouth
	default:
		return TreeMercator
	}
}

// capExtent returns the region covered by a polar tree.
func capExtent(t Tree) Extent {
	if t == TreeSouth {
		return Extent{SouthWest: orb.Point{-180, -90}, NorthEast: orb.Point{180, MinLat}}
	}
	return Extent{SouthWest: orb.Point{-180, MaxLat}, NorthEast: orb.Point{180, 90}}
}
