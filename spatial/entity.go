package spatial

import (
	"github.com/aukilabs/geoquad/geo"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

type Kind uint8

const (
	KindPoint Kind = iota
	KindPolyline
	KindPolygon
)

func (k Kind) String() string {
	switch k {
	case KindPolyline:
		return "polyline"
	case KindPolygon:
		return "polygon"
	default:
		return "point"
	}
}

// ParseKind returns the kind named s. An empty string is a point.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "", "point":
		return KindPoint, true
	case "polyline":
		return KindPolyline, true
	case "polygon":
		return KindPolygon, true
	default:
		return KindPoint, false
	}
}

// Entity is a positioned record indexed by an Index. An entity belongs to at
// most one index at a time.
type Entity struct {
	ID   uuid.UUID
	Kind Kind

	// Exempt entities are never partitioned and are rendered every frame,
	// closed polylines for instance.
	LineTypeExempt bool

	lonLat       geo.LonLat
	hasLonLat    bool
	cartesian    r3.Vector
	hasCartesian bool

	owner    *Index
	position int
	node     NodeID
	inAlways bool
}

// NewEntity returns a point entity located at ll.
func NewEntity(ll geo.LonLat) *Entity {
	return &Entity{
		ID:        uuid.New(),
		lonLat:    ll,
		hasLonLat: true,
		position:  -1,
	}
}

// NewCartesianEntity returns a point entity located at v. Its geodetic
// position is derived when it is indexed.
func NewCartesianEntity(v r3.Vector) *Entity {
	return &Entity{
		ID:           uuid.New(),
		cartesian:    v,
		hasCartesian: true,
		position:     -1,
	}
}

func (e *Entity) LonLat() (geo.LonLat, bool) {
	return e.lonLat, e.hasLonLat
}

func (e *Entity) Cartesian() (r3.Vector, bool) {
	return e.cartesian, e.hasCartesian
}

// SetLonLat moves an entity that is not indexed. Indexed entities must be
// removed first, moving them in place would break their node assignment.
func (e *Entity) SetLonLat(ll geo.LonLat) bool {
	if e.owner != nil {
		return false
	}
	e.lonLat = ll
	e.hasLonLat = true
	e.hasCartesian = false
	return true
}

// Owned reports whether the entity belongs to an index.
func (e *Entity) Owned() bool {
	return e.owner != nil
}

// Node returns the node holding the entity, or NoNode.
func (e *Entity) Node() NodeID {
	return e.node
}

// InAlways reports whether the entity lives in the always collection.
func (e *Entity) InAlways() bool {
	return e.inAlways
}

// resolve fills the missing position representation.
func (e *Entity) resolve(ellipsoid geo.Ellipsoid) {
	switch {
	case !e.hasLonLat && e.hasCartesian:
		e.lonLat = ellipsoid.ToLonLat(e.cartesian)
		e.hasLonLat = true
	case e.hasLonLat && !e.hasCartesian:
		e.cartesian = ellipsoid.ToCartesian(e.lonLat)
		e.hasCartesian = true
	}
}

func (e *Entity) release() {
	e.owner = nil
	e.position = -1
	e.node = NoNode
	e.inAlways = false
}
