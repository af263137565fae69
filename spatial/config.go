package spatial

import (
	"math"

	"github.com/aukilabs/geoquad/geo"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	DefaultMaxCountPerNode = 30
	DefaultMaxDepth        = 17
)

// ScaleByDistance describes how drawables shrink with camera distance: full
// scale up to Near, zero scale at Far, hidden beyond FarInvisible.
type ScaleByDistance struct {
	Near         float64
	Far          float64
	FarInvisible float64
}

// Config is the construction time configuration of an Index.
type Config struct {
	// Name labels the index metrics.
	Name string

	// The number of entities a node holds before it splits.
	MaxCountPerNode int

	// The deepest zoom a node can be split to. Zero means DefaultMaxDepth.
	MaxDepth int

	ScaleByDistance ScaleByDistance

	// Whether entities added without an explicit mode are materialized by the
	// deferred scheduler rather than on first visibility.
	Async bool

	// Rendering hint pinning zero altitude entities to the ground. It does
	// not change how entities are indexed.
	GroundAlign bool

	PickingEnabled bool

	// Converts between geodetic and cartesian positions. Defaults to
	// geo.Earth.
	Ellipsoid geo.Ellipsoid
}

func DefaultConfig() Config {
	return Config{
		Name:            "default",
		MaxCountPerNode: DefaultMaxCountPerNode,
		MaxDepth:        DefaultMaxDepth,
		ScaleByDistance: ScaleByDistance{
			Near:         math.MaxFloat64,
			Far:          math.MaxFloat64,
			FarInvisible: math.MaxFloat64,
		},
		Async:          true,
		PickingEnabled: true,
		Ellipsoid:      geo.Earth,
	}
}

func (c Config) Validate() error {
	if c.MaxCountPerNode <= 0 {
		return errors.New("max count per node must be positive").
			WithTag("max_count_per_node", c.MaxCountPerNode)
	}

	if c.MaxDepth <= 0 || c.MaxDepth > geo.MaxZoom {
		return errors.New("max depth out of range").
			WithTag("max_depth", c.MaxDepth).
			WithTag("limit", geo.MaxZoom)
	}

	sd := c.ScaleByDistance
	if sd.Near < 0 || sd.Far < sd.Near || sd.FarInvisible < sd.Far {
		return errors.New("scale by distance must be ordered near <= far <= far invisible").
			WithTag("near", sd.Near).
			WithTag("far", sd.Far).
			WithTag("far_invisible", sd.FarInvisible)
	}

	return nil
}
