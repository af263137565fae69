package spatial

import (
	"sort"

	"github.com/aukilabs/geoquad/geo"
)

// Index partitions entities over three quad trees: one for the Web-Mercator
// band and one per polar cap. Every frame, CollectVisible returns the entity
// collections overlapping the visible tiles.
//
// An Index is not safe for concurrent use.
type Index struct {
	config    Config
	ellipsoid geo.Ellipsoid
	attached  bool

	entities []*Entity
	always   *EntityCollection
	nodes    []*QuadNode
	roots    [len(geo.Trees)]NodeID
	extent   geo.Extent

	scheduler *Scheduler
	frame     uint64

	pickingEnabled  bool
	scaleByDistance ScaleByDistance
	groundAlign     bool

	onAdd    entityHandlers
	onRemove entityHandlers
}

// New returns an index configured with c. A zero Name, MaxCountPerNode,
// MaxDepth, ScaleByDistance or Ellipsoid falls back to DefaultConfig. Async
// and PickingEnabled are used as given.
func New(c Config) *Index {
	defaults := DefaultConfig()
	if c.Name == "" {
		c.Name = defaults.Name
	}
	if c.MaxCountPerNode <= 0 {
		c.MaxCountPerNode = defaults.MaxCountPerNode
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = defaults.MaxDepth
	}
	if c.MaxDepth > geo.MaxZoom {
		c.MaxDepth = geo.MaxZoom
	}
	if c.ScaleByDistance == (ScaleByDistance{}) {
		c.ScaleByDistance = defaults.ScaleByDistance
	}
	if c.Ellipsoid == nil {
		c.Ellipsoid = defaults.Ellipsoid
	}

	idx := &Index{
		config:          c,
		ellipsoid:       c.Ellipsoid,
		scheduler:       newScheduler(c.Name, DefaultConcurrency),
		pickingEnabled:  c.PickingEnabled,
		scaleByDistance: c.ScaleByDistance,
		groundAlign:     c.GroundAlign,
	}
	idx.always = idx.newCollection(NoNode)
	idx.resetTrees()
	return idx
}

func (idx *Index) Config() Config {
	return idx.config
}

// Scheduler returns the deferred build scheduler. Its Tick must be called
// once per frame.
func (idx *Index) Scheduler() *Scheduler {
	return idx.scheduler
}

// Attached reports whether a rendering context is attached.
func (idx *Index) Attached() bool {
	return idx.attached
}

// Attach marks the rendering context as attached and builds the trees from
// the entities added so far.
func (idx *Index) Attach() {
	if idx.attached {
		return
	}
	idx.attached = true
	idx.buildTree(idx.entities)
}

// Detach drops the trees. Entities stay owned and the trees are rebuilt on
// the next Attach.
func (idx *Index) Detach() {
	if !idx.attached {
		return
	}
	idx.attached = false
	idx.resetTrees()
}

// Add indexes e. Entities already owned by an index are ignored. When
// immediate is false, the node receiving e queues a deferred build;
// otherwise e waits in its node until the node is first seen visible.
func (idx *Index) Add(e *Entity, immediate bool) {
	if e == nil || e.owner != nil {
		return
	}

	e.owner = idx
	e.position = len(idx.entities)
	e.node = NoNode
	idx.entities = append(idx.entities, e)

	switch {
	case e.LineTypeExempt:
		idx.addAlways(e)

	case idx.attached:
		idx.prepare(e)
		idx.root(e).insertEntity(e, immediate)
	}

	instrumentEntityCount(idx.config.Name, len(idx.entities))
	idx.onAdd.dispatch(e)
}

// Insert adds e using the configured mode: deferred when the index is async.
func (idx *Index) Insert(e *Entity) {
	idx.Add(e, !idx.config.Async)
}

func (idx *Index) AddEntities(entities []*Entity, immediate bool) {
	for _, e := range entities {
		idx.Add(e, immediate)
	}
}

// RemoveEntity reverses every side effect of adding e. Entities not owned by
// idx are ignored.
func (idx *Index) RemoveEntity(e *Entity) {
	if e == nil || e.owner != idx {
		return
	}

	p := e.position
	copy(idx.entities[p:], idx.entities[p+1:])
	idx.entities[len(idx.entities)-1] = nil
	idx.entities = idx.entities[:len(idx.entities)-1]
	for i := p; i < len(idx.entities); i++ {
		idx.entities[i].position = i
	}

	switch {
	case e.inAlways:
		idx.always.remove(e)

	case e.node != NoNode:
		idx.node(e.node).removeEntity(e)
	}

	e.release()
	instrumentEntityCount(idx.config.Name, len(idx.entities))
	idx.onRemove.dispatch(e)
}

func (idx *Index) RemoveEntities(entities []*Entity) {
	for _, e := range entities {
		idx.RemoveEntity(e)
	}
}

// Clear removes every entity.
func (idx *Index) Clear() {
	entities := idx.entities
	idx.entities = nil
	idx.always.clear()
	idx.resetTrees()

	for _, e := range entities {
		e.release()
	}
	instrumentEntityCount(idx.config.Name, 0)

	for _, e := range entities {
		idx.onRemove.dispatch(e)
	}
}

// SetEntities replaces every entity of the index with entities, rebuilding
// the trees in bulk.
func (idx *Index) SetEntities(entities []*Entity) {
	idx.Clear()

	added := make([]*Entity, 0, len(entities))
	for _, e := range entities {
		if e == nil || e.owner != nil {
			continue
		}

		e.owner = idx
		e.position = len(idx.entities)
		e.node = NoNode
		idx.entities = append(idx.entities, e)
		if e.LineTypeExempt {
			idx.addAlways(e)
		}
		added = append(added, e)
	}

	if idx.attached {
		idx.buildTree(added)
	}

	instrumentEntityCount(idx.config.Name, len(idx.entities))
	for _, e := range added {
		idx.onAdd.dispatch(e)
	}
}

// Entities returns a copy of the owned entities in insertion order.
func (idx *Index) Entities() []*Entity {
	entities := make([]*Entity, len(idx.entities))
	copy(entities, idx.entities)
	return entities
}

// Each calls fn for every owned entity, last added first.
func (idx *Index) Each(fn func(*Entity)) {
	for i := len(idx.entities) - 1; i >= 0; i-- {
		fn(idx.entities[i])
	}
}

func (idx *Index) Count() int {
	return len(idx.entities)
}

// Extent returns the bounding rectangle of the indexed entities. It only grows.
func (idx *Index) Extent() geo.Extent {
	return idx.extent
}

// Always returns the collection of the entities exempt from partitioning.
func (idx *Index) Always() *EntityCollection {
	return idx.always
}

// Root returns the root node of tree t.
func (idx *Index) Root(t geo.Tree) *QuadNode {
	return idx.node(idx.roots[t])
}

// Node returns the node with the given id, nil if there is none.
func (idx *Index) Node(id NodeID) *QuadNode {
	if id == NoNode || int(id) >= len(idx.nodes) {
		return nil
	}
	return idx.nodes[id]
}

// Frame returns the number of the last CollectVisible call.
func (idx *Index) Frame() uint64 {
	return idx.frame
}

// CollectVisible returns the collections to render this frame: the always
// collection first, then the collections of every node overlapping the
// visible tiles of its tree, ordered by tree then node id. Visible nodes
// that were never materialized are materialized on the way.
func (idx *Index) CollectVisible(mercator, north, south []geo.TileKey) []*EntityCollection {
	idx.frame++

	var collections []*EntityCollection
	for t, tiles := range [...][]geo.TileKey{mercator, north, south} {
		if len(tiles) == 0 {
			continue
		}
		tree := geo.Trees[t]
		collections = idx.Root(tree).collectVisible(newTileIndex(tree, tiles), collections)
	}

	sort.Slice(collections, func(i, j int) bool {
		a := idx.node(collections[i].node)
		b := idx.node(collections[j].node)
		if a.tree != b.tree {
			return a.tree < b.tree
		}
		return a.id < b.id
	})

	return append([]*EntityCollection{idx.always}, collections...)
}

// SetPickingEnabled sets the picking flag of the always collection and of
// every materialized collection.
func (idx *Index) SetPickingEnabled(enable bool) {
	idx.pickingEnabled = enable
	idx.always.pickingEnabled = enable
	idx.eachCollection(func(c *EntityCollection) {
		c.pickingEnabled = enable
	})
}

func (idx *Index) PickingEnabled() bool {
	return idx.pickingEnabled
}

// SetScaleByDistance sets the scale hints of every collection. Callers are
// expected to keep near <= far <= farInvisible.
func (idx *Index) SetScaleByDistance(near, far, farInvisible float64) {
	sbd := ScaleByDistance{Near: near, Far: far, FarInvisible: farInvisible}
	idx.scaleByDistance = sbd
	idx.always.scaleByDistance = sbd
	idx.eachCollection(func(c *EntityCollection) {
		c.scaleByDistance = sbd
	})
}

func (idx *Index) ScaleByDistance() ScaleByDistance {
	return idx.scaleByDistance
}

func (idx *Index) SetGroundAlign(v bool) {
	idx.groundAlign = v
	idx.always.groundAlign = v
	idx.eachCollection(func(c *EntityCollection) {
		c.groundAlign = v
	})
}

func (idx *Index) GroundAlign() bool {
	return idx.groundAlign
}

// Stats summarizes the index structure.
type Stats struct {
	Entities    int
	Always      int
	Nodes       int
	MaxDepth    int
	Collections int
	Deferred    int
	Trees       map[string]int
	Extent      geo.Extent
}

func (idx *Index) Stats() Stats {
	s := Stats{
		Entities: len(idx.entities),
		Always:   idx.always.Len(),
		Nodes:    len(idx.nodes) - 1,
		Trees:    make(map[string]int, len(geo.Trees)),
		Extent:   idx.extent,
	}

	for _, n := range idx.nodes[1:] {
		if n.Depth() > s.MaxDepth {
			s.MaxDepth = n.Depth()
		}
		if n.collection != nil {
			s.Collections++
		}
		s.Deferred += len(n.deferred)
	}

	for _, t := range geo.Trees {
		s.Trees[t.String()] = idx.Root(t).count
	}
	return s
}

func (idx *Index) eachCollection(fn func(*EntityCollection)) {
	for _, t := range geo.Trees {
		idx.Root(t).eachCollection(fn)
	}
}

func (n *QuadNode) eachCollection(fn func(*EntityCollection)) {
	if n.collection != nil {
		fn(n.collection)
	}
	if n.split {
		for i := range n.children {
			n.child(i).eachCollection(fn)
		}
	}
}

func (idx *Index) addAlways(e *Entity) {
	e.inAlways = true
	idx.always.add(e)
}

// prepare derives the missing position of e and fits the index extent.
func (idx *Index) prepare(e *Entity) {
	e.resolve(idx.ellipsoid)
	idx.extent.Fit(e.lonLat.Point())
}

func (idx *Index) root(e *Entity) *QuadNode {
	return idx.Root(geo.TreeOf(e.lonLat.Lat))
}

// buildTree bulk loads the non exempt entities into the trees.
func (idx *Index) buildTree(entities []*Entity) {
	var partitions [len(geo.Trees)][]*Entity
	for _, e := range entities {
		if e.LineTypeExempt {
			continue
		}
		idx.prepare(e)
		t := geo.TreeOf(e.lonLat.Lat)
		partitions[t] = append(partitions[t], e)
	}

	for t, partition := range partitions {
		idx.Root(geo.Trees[t]).build(partition)
	}
}

// resetTrees replaces the three trees with empty roots.
func (idx *Index) resetTrees() {
	for _, n := range idx.nodes {
		if n == nil {
			continue
		}
		for _, e := range n.deferred {
			e.node = NoNode
		}
		if n.collection != nil {
			for _, e := range n.collection.entities {
				e.node = NoNode
			}
			n.releaseCollection()
		}
	}

	idx.scheduler.reset()
	idx.nodes = []*QuadNode{nil}
	idx.extent = geo.NewEmptyExtent()
	for _, t := range geo.Trees {
		idx.roots[t] = idx.newNode(t, geo.TileKey{}, NoNode).id
	}
}

func (idx *Index) node(id NodeID) *QuadNode {
	return idx.nodes[id]
}

func (idx *Index) newNode(t geo.Tree, key geo.TileKey, parent NodeID) *QuadNode {
	n := &QuadNode{
		index:  idx,
		id:     NodeID(len(idx.nodes)),
		tree:   t,
		key:    key,
		extent: geo.TileExtent(t, key),
		parent: parent,
	}
	idx.nodes = append(idx.nodes, n)
	return n
}

func (idx *Index) newCollection(node NodeID) *EntityCollection {
	return newEntityCollection(node, idx.pickingEnabled, idx.scaleByDistance, idx.groundAlign)
}
