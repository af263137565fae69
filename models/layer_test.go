package models

import (
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/geoquad/geo"
	"github.com/aukilabs/geoquad/spatial"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func newTestLayer(t *testing.T, async bool) *Layer {
	l := NewLayer(LayerConfig{
		Name: "test",
		Index: spatial.Config{
			MaxCountPerNode: 2,
			Async:           async,
			PickingEnabled:  true,
		},
		FrameDuration: time.Millisecond * 5,
	})
	t.Cleanup(l.Close)
	return l
}

func point(lon, lat float64) *spatial.Entity {
	return spatial.NewEntity(geo.LonLat{Lon: lon, Lat: lat})
}

var worldCamera = Camera{
	Bound: orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}},
}

func TestLayerAddEntities(t *testing.T) {
	t.Run("add entities", func(t *testing.T) {
		l := newTestLayer(t, false)
		a, b := point(1, 1), point(2, 2)

		err := l.AddEntities(a, b)
		require.NoError(t, err)
		require.Equal(t, 2, l.EntityCount())
		require.Len(t, l.entities, 2)

		data, ok := l.Entity(a.ID)
		require.True(t, ok)
		require.Equal(t, 1.0, data.Lon)
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		l := newTestLayer(t, false)
		a := point(1, 1)
		require.NoError(t, l.AddEntities(a))

		b := point(2, 2)
		b.ID = a.ID
		err := l.AddEntities(point(3, 3), b)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeBadEntity))
		require.Equal(t, 1, l.EntityCount())
	})

	t.Run("duplicate id in a batch is rejected", func(t *testing.T) {
		l := newTestLayer(t, false)
		a, b := point(1, 1), point(2, 2)
		b.ID = a.ID

		require.Error(t, l.AddEntities(a, b))
		require.Zero(t, l.EntityCount())
	})
}

func TestLayerRemoveEntity(t *testing.T) {
	l := newTestLayer(t, false)
	a := point(1, 1)
	require.NoError(t, l.AddEntities(a))

	require.True(t, l.RemoveEntity(a.ID))
	require.False(t, l.RemoveEntity(a.ID))
	require.False(t, l.RemoveEntity(uuid.New()))
	require.Zero(t, l.EntityCount())
	require.Empty(t, l.entities)
}

func TestLayerSetEntities(t *testing.T) {
	l := newTestLayer(t, true)
	old := point(1, 1)
	require.NoError(t, l.AddEntities(old))

	a, b, c := point(10, 10), point(-10, 10), point(10, 88)
	require.NoError(t, l.SetEntities(a, b, c))
	require.Equal(t, 3, l.EntityCount())

	_, ok := l.Entity(old.ID)
	require.False(t, ok)
	_, ok = l.Entity(c.ID)
	require.True(t, ok)

	stats := l.Stats()
	require.Equal(t, 2, stats.Trees[geo.TreeMercator.String()])
	require.Equal(t, 1, stats.Trees[geo.TreeNorth.String()])
	require.Zero(t, stats.Deferred)
}

func TestLayerSetCamera(t *testing.T) {
	l := newTestLayer(t, false)

	require.NoError(t, l.SetCamera(worldCamera))
	require.Equal(t, worldCamera, l.Camera())

	err := l.SetCamera(Camera{
		Bound: orb.Bound{Min: orb.Point{10, 0}, Max: orb.Point{0, 10}},
	})
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeBadViewport))
	require.Equal(t, worldCamera, l.Camera())
}

func TestLayerRenderFrame(t *testing.T) {
	t.Run("zero camera only renders the always collection", func(t *testing.T) {
		l := newTestLayer(t, false)

		exempt := point(0, 0)
		exempt.LineTypeExempt = true
		require.NoError(t, l.AddEntities(point(1, 1), exempt))

		f := l.RenderFrame()
		require.Equal(t, uint64(1), f.Number)
		require.Len(t, f.Collections, 1)
		require.Empty(t, f.Collections[0].Tree)
		require.Equal(t, []string{exempt.ID.String()}, f.Collections[0].EntityIDs)
	})

	t.Run("visible entities are rendered", func(t *testing.T) {
		l := newTestLayer(t, false)
		a, b, c := point(10, 10), point(-10, 10), point(0, 89)
		require.NoError(t, l.AddEntities(a, b, c))
		require.NoError(t, l.SetCamera(worldCamera))

		f := l.RenderFrame()
		require.Len(t, f.Collections, 3)
		require.Equal(t, geo.TreeMercator.String(), f.Collections[1].Tree)
		require.Equal(t, "0/0/0", f.Collections[1].Node)
		require.Len(t, f.Collections[1].EntityIDs, 2)
		require.Equal(t, geo.TreeNorth.String(), f.Collections[2].Tree)
		require.Equal(t, []string{c.ID.String()}, f.Collections[2].EntityIDs)
		require.True(t, f.Collections[2].PickingEnabled)
	})

	t.Run("polar trees can be disabled", func(t *testing.T) {
		l := NewLayer(LayerConfig{
			Name:              "flat",
			FrameDuration:     time.Millisecond * 5,
			DisablePolarTrees: true,
		})
		defer l.Close()

		require.NoError(t, l.AddEntities(point(0, 89), point(0, 0)))
		require.NoError(t, l.SetCamera(worldCamera))

		f := l.RenderFrame()
		require.Len(t, f.Collections, 2)
		require.Equal(t, geo.TreeMercator.String(), f.Collections[1].Tree)
	})

	t.Run("deferred builds run with the frame", func(t *testing.T) {
		l := newTestLayer(t, true)
		a := point(10, 10)
		require.NoError(t, l.AddEntities(a))
		require.Equal(t, 1, l.Stats().Deferred)

		f := l.RenderFrame()
		require.Len(t, f.Collections, 1)
		require.Zero(t, l.Stats().Deferred)
		require.Equal(t, 1, l.Stats().Collections)
	})

	t.Run("frame numbers increase", func(t *testing.T) {
		l := newTestLayer(t, false)
		require.Equal(t, uint64(1), l.RenderFrame().Number)
		require.Equal(t, uint64(2), l.RenderFrame().Number)
	})
}

func TestLayerHandleFrame(t *testing.T) {
	l := newTestLayer(t, false)

	cancel := l.HandleFrame(func(Frame) {})
	require.Len(t, l.frameHandlers, 1)
	defer cancel()

	cancel()
	require.Empty(t, l.frameHandlers)
}

func TestLayerStartDispatchFrames(t *testing.T) {
	l := newTestLayer(t, false)
	require.NoError(t, l.AddEntities(point(1, 1)))
	require.NoError(t, l.SetCamera(worldCamera))

	frames := make(chan Frame, 1)
	var once sync.Once
	l.HandleFrame(func(f Frame) {
		once.Do(func() {
			frames <- f
		})
	})

	go l.StartDispatchFrames()

	f := <-frames
	require.NotZero(t, f.Number)
	require.Len(t, f.Collections, 2)
	l.Close()
}

func TestLayerStore(t *testing.T) {
	var store LayerStore

	a := NewLayer(LayerConfig{Name: "b"})
	b := NewLayer(LayerConfig{Name: "a"})
	require.NoError(t, store.Add(a))
	require.NoError(t, store.Add(b))

	dup := NewLayer(LayerConfig{Name: "a"})
	defer dup.Close()
	require.Error(t, store.Add(dup))

	l, ok := store.Get("a")
	require.True(t, ok)
	require.Same(t, b, l)

	layers := store.Layers()
	require.Len(t, layers, 2)
	require.Equal(t, "a", layers[0].Name)
	require.Equal(t, "b", layers[1].Name)

	store.Remove(b)
	_, ok = store.Get("a")
	require.False(t, ok)

	store.Close()
	require.Empty(t, store.Layers())
}
