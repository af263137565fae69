package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aukilabs/geoquad/geo"
	"github.com/stretchr/testify/require"
)

func geoLonLat(lon, lat float64) geo.LonLat {
	return geo.LonLat{Lon: lon, Lat: lat}
}

func TestMetricsPathFormatter(t *testing.T) {
	t.Run("ignored status codes", func(t *testing.T) {
		for _, status := range []int{
			http.StatusMovedPermanently,
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusMethodNotAllowed,
		} {
			require.Empty(t, MetricsPathFormatter(status, "/layers"))
		}
	})

	t.Run("entity ids are replaced", func(t *testing.T) {
		require.Equal(t, "/layers/poi/entities/:id",
			MetricsPathFormatter(http.StatusOK, "/layers/poi/entities/0b1f0a53-5b8e-4e4c-9d8a-3f2f1e6a7c10"))
		require.Equal(t, "/layers/poi/entities",
			MetricsPathFormatter(http.StatusCreated, "/layers/poi/entities"))
		require.Equal(t, "/layers/poi/stats",
			MetricsPathFormatter(http.StatusOK, "/layers/poi/stats"))
	})
}

func TestHandleWithCORS(t *testing.T) {
	h := HandleWithCORS(http.HandlerFunc(HandleHealthCheck))

	t.Run("preflight", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/health", nil))
		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("request", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestHandleReadyCheck(t *testing.T) {
	ready := false
	h := HandleReadyCheck(func() bool { return ready })

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = true
	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleVersion(t *testing.T) {
	w := httptest.NewRecorder()
	HandleVersion("v1.2.3")(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "v1.2.3", w.Body.String())
}

func TestListenAndServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var mux http.ServeMux
	mux.HandleFunc("/health", HandleHealthCheck)
	server := &http.Server{Addr: "127.0.0.1:0", Handler: &mux}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ListenAndServe(ctx, time.Second, server)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("servers did not stop")
	}
}
