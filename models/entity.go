package models

import (
	"math"

	"github.com/aukilabs/geoquad/geo"
	"github.com/aukilabs/geoquad/spatial"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
)

const (
	ErrTypeBadEntity    = "bad_entity"
	ErrTypeBadViewport  = "bad_viewport"
	ErrTypeUnknownLayer = "unknown_layer"
)

// EntityData is the JSON representation of an entity.
type EntityData struct {
	ID             string  `json:"id,omitempty"`
	Kind           string  `json:"kind,omitempty"`
	Lon            float64 `json:"lon"`
	Lat            float64 `json:"lat"`
	Height         float64 `json:"height,omitempty"`
	LineTypeExempt bool    `json:"line_type_exempt,omitempty"`
}

// ToEntity validates d and returns the entity it describes. A missing id is
// generated.
func (d EntityData) ToEntity() (*spatial.Entity, error) {
	if math.IsNaN(d.Lon) || d.Lon < -180 || d.Lon > 180 {
		return nil, errors.New("longitude out of range").
			WithType(ErrTypeBadEntity).
			WithTag("lon", d.Lon)
	}
	if math.IsNaN(d.Lat) || d.Lat < -90 || d.Lat > 90 {
		return nil, errors.New("latitude out of range").
			WithType(ErrTypeBadEntity).
			WithTag("lat", d.Lat)
	}

	kind, ok := spatial.ParseKind(d.Kind)
	if !ok {
		return nil, errors.New("unknown entity kind").
			WithType(ErrTypeBadEntity).
			WithTag("kind", d.Kind)
	}

	e := spatial.NewEntity(geo.LonLat{
		Lon:    d.Lon,
		Lat:    d.Lat,
		Height: d.Height,
	})
	e.Kind = kind
	e.LineTypeExempt = d.LineTypeExempt

	if d.ID != "" {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, errors.New("invalid entity id").
				WithType(ErrTypeBadEntity).
				WithTag("id", d.ID).
				Wrap(err)
		}
		e.ID = id
	}
	return e, nil
}

// EntityDataFrom returns the JSON representation of e.
func EntityDataFrom(e *spatial.Entity) EntityData {
	ll, _ := e.LonLat()
	return EntityData{
		ID:             e.ID.String(),
		Kind:           e.Kind.String(),
		Lon:            ll.Lon,
		Lat:            ll.Lat,
		Height:         ll.Height,
		LineTypeExempt: e.LineTypeExempt,
	}
}
