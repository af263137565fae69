package http

import (
	"io"
	"net/http"

	"github.com/aukilabs/geoquad/models"
	"github.com/aukilabs/geoquad/spatial"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
)

const (
	// DefaultMaxBatchSize is the number of entities a request can carry when
	// LayerAPI.MaxBatchSize is not set.
	DefaultMaxBatchSize = 10000

	maxBodySize = 64 << 20
)

// LayerAPI serves the entity and statistics endpoints of the layers.
type LayerAPI struct {
	Layers       *models.LayerStore
	MaxBatchSize int
}

// Register adds the layer routes to mux.
func (a LayerAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /layers", a.handleListLayers)
	mux.HandleFunc("GET /layers/{name}/stats", a.handleStats)
	mux.HandleFunc("POST /layers/{name}/entities", a.handleAddEntities)
	mux.HandleFunc("PUT /layers/{name}/entities", a.handleSetEntities)
	mux.HandleFunc("GET /layers/{name}/entities/{id}", a.handleGetEntity)
	mux.HandleFunc("DELETE /layers/{name}/entities/{id}", a.handleRemoveEntity)
}

type EntitiesRequest struct {
	Entities []models.EntityData `json:"entities"`
}

type EntitiesResponse struct {
	IDs []string `json:"ids"`
}

type LayerResponse struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Entities int    `json:"entities"`
}

type ExtentResponse struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

type StatsResponse struct {
	Layer       string          `json:"layer"`
	LayerID     string          `json:"layer_id"`
	Entities    int             `json:"entities"`
	Always      int             `json:"always"`
	Nodes       int             `json:"nodes"`
	MaxDepth    int             `json:"max_depth"`
	Collections int             `json:"collections"`
	Deferred    int             `json:"deferred"`
	Trees       map[string]int  `json:"trees"`
	Extent      *ExtentResponse `json:"extent,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func (a LayerAPI) handleListLayers(w http.ResponseWriter, r *http.Request) {
	layers := a.Layers.Layers()

	res := make([]LayerResponse, len(layers))
	for i, l := range layers {
		res[i] = LayerResponse{
			Name:     l.Name,
			ID:       l.ID,
			Entities: l.EntityCount(),
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (a LayerAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	l, ok := a.layer(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, statsResponse(l, l.Stats()))
}

func (a LayerAPI) handleAddEntities(w http.ResponseWriter, r *http.Request) {
	l, ok := a.layer(w, r)
	if !ok {
		return
	}

	entities, err := a.readEntities(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := l.AddEntities(entities...); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	logs.WithTag("layer", l.Name).
		WithTag("count", len(entities)).
		Debug("entities added")
	writeJSON(w, http.StatusCreated, entityIDs(entities))
}

func (a LayerAPI) handleSetEntities(w http.ResponseWriter, r *http.Request) {
	l, ok := a.layer(w, r)
	if !ok {
		return
	}

	entities, err := a.readEntities(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := l.SetEntities(entities...); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	logs.WithTag("layer", l.Name).
		WithTag("count", len(entities)).
		Info("entities replaced")
	writeJSON(w, http.StatusOK, entityIDs(entities))
}

func (a LayerAPI) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	l, ok := a.layer(w, r)
	if !ok {
		return
	}

	id, ok := entityID(w, r)
	if !ok {
		return
	}

	e, ok := l.Entity(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("entity not found").
			WithType(models.ErrTypeBadEntity).
			WithTag("entity_id", id))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a LayerAPI) handleRemoveEntity(w http.ResponseWriter, r *http.Request) {
	l, ok := a.layer(w, r)
	if !ok {
		return
	}

	id, ok := entityID(w, r)
	if !ok {
		return
	}

	if !l.RemoveEntity(id) {
		writeError(w, http.StatusNotFound, errors.New("entity not found").
			WithType(models.ErrTypeBadEntity).
			WithTag("entity_id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a LayerAPI) layer(w http.ResponseWriter, r *http.Request) (*models.Layer, bool) {
	name := r.PathValue("name")

	l, ok := a.Layers.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("layer not found").
			WithType(models.ErrTypeUnknownLayer).
			WithTag("layer", name))
	}
	return l, ok
}

func (a LayerAPI) readEntities(r *http.Request) ([]*spatial.Entity, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, errors.New("reading request body failed").Wrap(err)
	}

	var req EntitiesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.New("decoding entities failed").
			WithType(models.ErrTypeBadEntity).
			Wrap(err)
	}

	maxBatchSize := a.MaxBatchSize
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	if len(req.Entities) > maxBatchSize {
		return nil, errors.New("too many entities").
			WithType(models.ErrTypeBadEntity).
			WithTag("count", len(req.Entities)).
			WithTag("max", maxBatchSize)
	}

	entities := make([]*spatial.Entity, len(req.Entities))
	for i, d := range req.Entities {
		e, err := d.ToEntity()
		if err != nil {
			return nil, err
		}
		entities[i] = e
	}
	return entities, nil
}

func entityID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid entity id").
			WithType(models.ErrTypeBadEntity).
			Wrap(err))
		return uuid.Nil, false
	}
	return id, true
}

func entityIDs(entities []*spatial.Entity) EntitiesResponse {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID.String()
	}
	return EntitiesResponse{IDs: ids}
}

func statsResponse(l *models.Layer, s spatial.Stats) StatsResponse {
	res := StatsResponse{
		Layer:       l.Name,
		LayerID:     l.ID,
		Entities:    s.Entities,
		Always:      s.Always,
		Nodes:       s.Nodes,
		MaxDepth:    s.MaxDepth,
		Collections: s.Collections,
		Deferred:    s.Deferred,
		Trees:       s.Trees,
	}

	if !s.Extent.IsEmpty() {
		res.Extent = &ExtentResponse{
			West:  s.Extent.SouthWest[0],
			South: s.Extent.SouthWest[1],
			East:  s.Extent.NorthEast[0],
			North: s.Extent.NorthEast[1],
		}
	}
	return res
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logs.Warn(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logs.WithTag("status", status).Debug(err)

	writeJSON(w, status, ErrorResponse{
		Error: err.Error(),
		Type:  errors.Type(err),
	})
}
