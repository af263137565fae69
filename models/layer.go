package models

import (
	"sort"
	"sync"
	"time"

	"github.com/aukilabs/geoquad/spatial"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
)

// DefaultFrameDuration is the frame interval of layers configured without one.
const DefaultFrameDuration = 100 * time.Millisecond

// LayerConfig is the configuration of a layer.
type LayerConfig struct {
	Name  string
	Index spatial.Config

	// The interval between two rendered frames.
	FrameDuration time.Duration

	// Skips the polar trees when computing the visible tiles.
	DisablePolarTrees bool
}

// Layer is a named set of entities kept in a spatial index. A frame ticker
// drives the index: every frame runs the deferred builds, collects the
// collections visible from the layer camera and hands them to the frame
// handlers.
type Layer struct {
	ID   string
	Name string

	polar bool

	mutex        sync.Mutex
	index        *spatial.Index
	entities     map[uuid.UUID]*spatial.Entity
	camera       Camera
	cancelEvents []func()

	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameTicker     *time.Ticker
	frameHandlerIDs SequentialIDGenerator
	frameHandlers   map[uint32]func(Frame)
	frameMutex      sync.RWMutex

	closeOnce sync.Once
}

func NewLayer(c LayerConfig) *Layer {
	if c.Index.Name == "" {
		c.Index.Name = c.Name
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = DefaultFrameDuration
	}

	l := &Layer{
		ID:             uuid.New().String(),
		Name:           c.Name,
		polar:          !c.DisablePolarTrees,
		index:          spatial.New(c.Index),
		entities:       make(map[uuid.UUID]*spatial.Entity),
		closeFrameChan: make(chan struct{}, 1),
		frameTicker:    time.NewTicker(c.FrameDuration),
		frameHandlers:  make(map[uint32]func(Frame)),
	}

	l.cancelEvents = []func(){
		l.index.OnEntityAdd(func(e *spatial.Entity) {
			l.entities[e.ID] = e
		}),
		l.index.OnEntityRemove(func(e *spatial.Entity) {
			delete(l.entities, e.ID)
		}),
	}

	l.index.Attach()
	return l
}

func (l *Layer) Close() {
	l.closeOnce.Do(func() {
		l.frameTicker.Stop()
		l.closeFrameChan <- struct{}{}

		l.mutex.Lock()
		defer l.mutex.Unlock()

		for _, cancel := range l.cancelEvents {
			cancel()
		}
		l.index.Detach()
	})
}

// AddEntities indexes entities. Nothing is added when one of them reuses an
// id already present in the layer or in the batch.
func (l *Layer) AddEntities(entities ...*spatial.Entity) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	batch := make(map[uuid.UUID]struct{}, len(entities))
	for _, e := range entities {
		_, inLayer := l.entities[e.ID]
		_, inBatch := batch[e.ID]
		if inLayer || inBatch || e.Owned() {
			return errors.New("entity already exists").
				WithType(ErrTypeBadEntity).
				WithTag("layer", l.Name).
				WithTag("entity_id", e.ID)
		}
		batch[e.ID] = struct{}{}
	}

	for _, e := range entities {
		l.index.Insert(e)
	}
	instrumentLayerEntities(l.Name, l.index.Count())
	return nil
}

// SetEntities replaces the entities of the layer.
func (l *Layer) SetEntities(entities ...*spatial.Entity) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	batch := make(map[uuid.UUID]struct{}, len(entities))
	for _, e := range entities {
		if _, ok := batch[e.ID]; ok || e.Owned() {
			return errors.New("duplicate entity").
				WithType(ErrTypeBadEntity).
				WithTag("layer", l.Name).
				WithTag("entity_id", e.ID)
		}
		batch[e.ID] = struct{}{}
	}

	l.index.SetEntities(entities)
	instrumentLayerEntities(l.Name, l.index.Count())
	return nil
}

// RemoveEntity removes the entity with the given id and reports whether it
// existed.
func (l *Layer) RemoveEntity(id uuid.UUID) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	e, ok := l.entities[id]
	if !ok {
		return false
	}

	l.index.RemoveEntity(e)
	instrumentLayerEntities(l.Name, l.index.Count())
	return true
}

func (l *Layer) Entity(id uuid.UUID) (EntityData, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	e, ok := l.entities[id]
	if !ok {
		return EntityData{}, false
	}
	return EntityDataFrom(e), true
}

func (l *Layer) EntityCount() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.index.Count()
}

func (l *Layer) Stats() spatial.Stats {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.index.Stats()
}

// SetCamera sets the viewport the next frames are rendered from.
func (l *Layer) SetCamera(c Camera) error {
	if err := c.Validate(); err != nil {
		return err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.camera = c
	return nil
}

func (l *Layer) Camera() Camera {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.camera
}

// Frame is a snapshot of what a layer renders at a given frame.
type Frame struct {
	Number      uint64
	Camera      Camera
	Collections []CollectionView
}

// CollectionView is a snapshot of an entity collection.
type CollectionView struct {
	// Empty for the always collection.
	Tree string
	Node string

	PickingEnabled bool
	EntityIDs      []string
}

// RenderFrame runs the deferred builds queued so far, then collects the
// collections visible from the layer camera.
func (l *Layer) RenderFrame() Frame {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.index.Scheduler().Tick()

	mercator, north, south := l.camera.Tiles(l.polar)
	collections := l.index.CollectVisible(mercator, north, south)

	f := Frame{
		Number:      l.index.Frame(),
		Camera:      l.camera,
		Collections: make([]CollectionView, 0, len(collections)),
	}

	visible := 0
	for _, c := range collections {
		view := CollectionView{
			PickingEnabled: c.PickingEnabled(),
			EntityIDs:      make([]string, 0, c.Len()),
		}
		if n := l.index.Node(c.Node()); n != nil {
			view.Tree = n.Tree().String()
			view.Node = n.Key().String()
		}

		for _, e := range c.Entities() {
			view.EntityIDs = append(view.EntityIDs, e.ID.String())
		}
		sort.Strings(view.EntityIDs)

		visible += c.Len()
		f.Collections = append(f.Collections, view)
	}

	instrumentFrame(l.Name, len(collections), visible)
	return f
}

// HandleFrame registers h to be called with every rendered frame. Handlers
// must not block.
func (l *Layer) HandleFrame(h func(Frame)) (cancel func()) {
	l.frameMutex.Lock()
	defer l.frameMutex.Unlock()

	id := l.frameHandlerIDs.New()
	l.frameHandlers[id] = h

	return func() {
		l.frameMutex.Lock()
		defer l.frameMutex.Unlock()

		delete(l.frameHandlers, id)
		l.frameHandlerIDs.Reuse(id)
	}
}

// StartDispatchFrames renders a frame on every tick until the layer is
// closed.
func (l *Layer) StartDispatchFrames() {
	l.startFrameOnce.Do(func() {
		logs.WithTag("layer", l.Name).
			WithTag("layer_id", l.ID).
			Info("dispatching frames")

		for {
			select {
			case <-l.closeFrameChan:
				return

			case <-l.frameTicker.C:
				f := l.RenderFrame()

				l.frameMutex.RLock()
				for _, h := range l.frameHandlers {
					h(f)
				}
				l.frameMutex.RUnlock()
			}
		}
	})
}

// LayerStore holds the layers served by the process, by name.
type LayerStore struct {
	initOnce sync.Once
	mutex    sync.RWMutex
	layers   map[string]*Layer
}

func (s *LayerStore) init() {
	s.layers = map[string]*Layer{}
}

func (s *LayerStore) Add(l *Layer) error {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.layers[l.Name]; ok {
		return errors.New("layer already exists").WithTag("layer", l.Name)
	}
	s.layers[l.Name] = l

	instrumentLayerCount(len(s.layers))
	return nil
}

// Remove closes l and removes it from the store.
func (s *LayerStore) Remove(l *Layer) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.layers[l.Name] == l {
		delete(s.layers, l.Name)
	}
	l.Close()

	instrumentLayerCount(len(s.layers))
}

func (s *LayerStore) Get(name string) (*Layer, bool) {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	l, ok := s.layers[name]
	return l, ok
}

// Layers returns the layers sorted by name.
func (s *LayerStore) Layers() []*Layer {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	layers := make([]*Layer, 0, len(s.layers))
	for _, l := range s.layers {
		layers = append(layers, l)
	}
	sort.Slice(layers, func(i, j int) bool {
		return layers[i].Name < layers[j].Name
	})
	return layers
}

// Close closes and removes every layer.
func (s *LayerStore) Close() {
	for _, l := range s.Layers() {
		s.Remove(l)
	}
}
