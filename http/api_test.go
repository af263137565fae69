package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aukilabs/geoquad/models"
	"github.com/aukilabs/geoquad/spatial"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, maxBatchSize int) (*httptest.Server, *models.Layer) {
	var layers models.LayerStore
	t.Cleanup(layers.Close)

	layer := models.NewLayer(models.LayerConfig{
		Name:          "poi",
		Index:         spatial.Config{MaxCountPerNode: 2},
		FrameDuration: time.Second,
	})
	require.NoError(t, layers.Add(layer))

	var mux http.ServeMux
	LayerAPI{
		Layers:       &layers,
		MaxBatchSize: maxBatchSize,
	}.Register(&mux)

	server := httptest.NewServer(&mux)
	t.Cleanup(server.Close)
	return server, layer
}

func doRequest(t *testing.T, method, url string, body any, res any) int {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if res != nil {
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(b, res))
	}
	return resp.StatusCode
}

func TestLayerAPIAddEntities(t *testing.T) {
	t.Run("add entities", func(t *testing.T) {
		server, layer := newTestAPI(t, 0)

		var res EntitiesResponse
		status := doRequest(t, http.MethodPost, server.URL+"/layers/poi/entities", EntitiesRequest{
			Entities: []models.EntityData{
				{Lon: 1, Lat: 2},
				{Lon: 3, Lat: 89},
				{Lon: 5, Lat: 6, LineTypeExempt: true},
			},
		}, &res)

		require.Equal(t, http.StatusCreated, status)
		require.Len(t, res.IDs, 3)
		require.Equal(t, 3, layer.EntityCount())
	})

	t.Run("unknown layer", func(t *testing.T) {
		server, _ := newTestAPI(t, 0)

		var res ErrorResponse
		status := doRequest(t, http.MethodPost, server.URL+"/layers/roads/entities", EntitiesRequest{}, &res)
		require.Equal(t, http.StatusNotFound, status)
		require.Equal(t, models.ErrTypeUnknownLayer, res.Type)
	})

	t.Run("invalid entity", func(t *testing.T) {
		server, layer := newTestAPI(t, 0)

		var res ErrorResponse
		status := doRequest(t, http.MethodPost, server.URL+"/layers/poi/entities", EntitiesRequest{
			Entities: []models.EntityData{
				{Lon: 1, Lat: 2},
				{Lon: 200, Lat: 2},
			},
		}, &res)
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, models.ErrTypeBadEntity, res.Type)
		require.Zero(t, layer.EntityCount())
	})

	t.Run("too many entities", func(t *testing.T) {
		server, _ := newTestAPI(t, 1)

		status := doRequest(t, http.MethodPost, server.URL+"/layers/poi/entities", EntitiesRequest{
			Entities: []models.EntityData{{}, {}},
		}, nil)
		require.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("duplicate entity", func(t *testing.T) {
		server, _ := newTestAPI(t, 0)
		req := EntitiesRequest{
			Entities: []models.EntityData{{ID: uuid.NewString(), Lon: 1, Lat: 1}},
		}

		status := doRequest(t, http.MethodPost, server.URL+"/layers/poi/entities", req, nil)
		require.Equal(t, http.StatusCreated, status)

		status = doRequest(t, http.MethodPost, server.URL+"/layers/poi/entities", req, nil)
		require.Equal(t, http.StatusConflict, status)
	})

	t.Run("malformed body", func(t *testing.T) {
		server, _ := newTestAPI(t, 0)

		resp, err := http.Post(server.URL+"/layers/poi/entities", "application/json", bytes.NewBufferString("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestLayerAPISetEntities(t *testing.T) {
	server, layer := newTestAPI(t, 0)
	require.NoError(t, layer.AddEntities(spatial.NewEntity(geoLonLat(1, 1))))

	var res EntitiesResponse
	status := doRequest(t, http.MethodPut, server.URL+"/layers/poi/entities", EntitiesRequest{
		Entities: []models.EntityData{
			{Lon: 10, Lat: 10},
			{Lon: 11, Lat: 11},
		},
	}, &res)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, res.IDs, 2)
	require.Equal(t, 2, layer.EntityCount())
}

func TestLayerAPIEntity(t *testing.T) {
	server, layer := newTestAPI(t, 0)
	e := spatial.NewEntity(geoLonLat(7, 8))
	require.NoError(t, layer.AddEntities(e))
	url := server.URL + "/layers/poi/entities/" + e.ID.String()

	var data models.EntityData
	status := doRequest(t, http.MethodGet, url, nil, &data)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, e.ID.String(), data.ID)
	require.Equal(t, 7.0, data.Lon)

	status = doRequest(t, http.MethodDelete, url, nil, nil)
	require.Equal(t, http.StatusNoContent, status)
	require.Zero(t, layer.EntityCount())

	status = doRequest(t, http.MethodDelete, url, nil, nil)
	require.Equal(t, http.StatusNotFound, status)

	status = doRequest(t, http.MethodGet, url, nil, nil)
	require.Equal(t, http.StatusNotFound, status)

	status = doRequest(t, http.MethodDelete, server.URL+"/layers/poi/entities/42", nil, nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestLayerAPIStats(t *testing.T) {
	server, layer := newTestAPI(t, 0)

	var res StatsResponse
	status := doRequest(t, http.MethodGet, server.URL+"/layers/poi/stats", nil, &res)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, res.Extent)
	require.Equal(t, 3, res.Nodes)

	require.NoError(t, layer.AddEntities(
		spatial.NewEntity(geoLonLat(-10, 10)),
		spatial.NewEntity(geoLonLat(10, 10)),
		spatial.NewEntity(geoLonLat(10, -10)),
		spatial.NewEntity(geoLonLat(0, 89)),
	))

	status = doRequest(t, http.MethodGet, server.URL+"/layers/poi/stats", nil, &res)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "poi", res.Layer)
	require.Equal(t, layer.ID, res.LayerID)
	require.Equal(t, 4, res.Entities)
	require.Equal(t, 7, res.Nodes)
	require.Equal(t, 1, res.MaxDepth)
	require.Equal(t, 3, res.Trees["mercator"])
	require.Equal(t, 1, res.Trees["north"])
	require.NotNil(t, res.Extent)
	require.Equal(t, -10.0, res.Extent.West)
	require.Equal(t, 89.0, res.Extent.North)
}

func TestLayerAPIListLayers(t *testing.T) {
	server, layer := newTestAPI(t, 0)

	var res []LayerResponse
	status := doRequest(t, http.MethodGet, server.URL+"/layers", nil, &res)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, []LayerResponse{{Name: "poi", ID: layer.ID}}, res)
}
