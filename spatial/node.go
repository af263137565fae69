package spatial

import (
	"github.com/aukilabs/geoquad/geo"
)

// NodeID is a handle into the node arena of an Index. Zero is never a valid
// node.
type NodeID uint32

const NoNode NodeID = 0

// QuadNode is a node of one of the three trees of an Index.
//
// A leaf holds entities either in a materialized collection or, until it is
// materialized, in its deferred buffer. A split node never holds entities
// directly; it only aggregates the count of its subtree.
type QuadNode struct {
	index    *Index
	id       NodeID
	tree     geo.Tree
	key      geo.TileKey
	extent   geo.Extent
	parent   NodeID
	children [4]NodeID
	split    bool

	collection *EntityCollection
	deferred   []*Entity
	count      int
	inQueue    bool

	// The frame number the node was last seen visible in.
	visibleFrame uint64
}

func (n *QuadNode) ID() NodeID {
	return n.id
}

func (n *QuadNode) Tree() geo.Tree {
	return n.tree
}

func (n *QuadNode) Key() geo.TileKey {
	return n.key
}

func (n *QuadNode) Depth() int {
	return int(n.key.Z)
}

func (n *QuadNode) Extent() geo.Extent {
	return n.extent
}

func (n *QuadNode) Parent() NodeID {
	return n.parent
}

// Children returns the child ids, nil for a leaf.
func (n *QuadNode) Children() []NodeID {
	if !n.split {
		return nil
	}
	return n.children[:]
}

func (n *QuadNode) IsLeaf() bool {
	return !n.split
}

// Count returns the number of entities in the subtree rooted at n.
func (n *QuadNode) Count() int {
	return n.count
}

// Collection returns the materialized collection, nil if there is none.
func (n *QuadNode) Collection() *EntityCollection {
	return n.collection
}

// Deferred returns the number of entities waiting for materialization.
func (n *QuadNode) Deferred() int {
	return len(n.deferred)
}

func (n *QuadNode) InQueue() bool {
	return n.inQueue
}

func (n *QuadNode) visible() bool {
	return n.index.frame != 0 && n.visibleFrame == n.index.frame
}

func (n *QuadNode) child(i int) *QuadNode {
	return n.index.node(n.children[i])
}

func (n *QuadNode) directCount() int {
	c := len(n.deferred)
	if n.collection != nil {
		c += n.collection.Len()
	}
	return c
}

// quadrant returns the child slot covering ll. Points on the split lines go
// north and east.
func (n *QuadNode) quadrant(ll geo.LonLat) int {
	mid := geo.TileMidpoint(n.tree, n.key)

	q := 0
	if ll.Lon >= mid[0] {
		q++
	}
	if ll.Lat < mid[1] {
		q += 2
	}
	return q
}

func (n *QuadNode) canSplit() bool {
	return int(n.key.Z) < n.index.config.MaxDepth
}

func (n *QuadNode) insertEntity(e *Entity, immediate bool) {
	n.count++

	if n.split {
		n.child(n.quadrant(e.lonLat)).insertEntity(e, immediate)
		return
	}

	e.node = n.id
	if n.collection != nil {
		n.collection.add(e)
	} else {
		n.deferred = append(n.deferred, e)
	}

	if n.directCount() > n.index.config.MaxCountPerNode && n.canSplit() {
		n.splitAndMigrate(immediate)
		return
	}

	if n.collection == nil && !immediate {
		n.index.scheduler.enqueue(n)
	}
}

func (n *QuadNode) createChildren() {
	for i, key := range n.key.Children() {
		n.children[i] = n.index.newNode(n.tree, key, n.id).id
	}
	n.split = true
}

func (n *QuadNode) splitAndMigrate(immediate bool) {
	entities := n.deferred
	if n.collection != nil {
		entities = append(n.collection.Entities(), entities...)
		n.releaseCollection()
	}
	n.deferred = nil

	// Migrated entities land in the new leaves first; only the leaves that
	// end up holding them are queued.
	n.createChildren()
	for _, e := range entities {
		n.child(n.quadrant(e.lonLat)).insertEntity(e, true)
	}
	if !immediate {
		n.enqueueDeferredLeaves()
	}

	instrumentSplit(n.index.config.Name, n.tree)
}

func (n *QuadNode) enqueueDeferredLeaves() {
	if n.split {
		for i := range n.children {
			n.child(i).enqueueDeferredLeaves()
		}
		return
	}
	if n.collection == nil && len(n.deferred) != 0 {
		n.index.scheduler.enqueue(n)
	}
}

// removeEntity detaches e from n and decrements the counts up to the root.
func (n *QuadNode) removeEntity(e *Entity) bool {
	switch {
	case n.collection != nil && n.collection.remove(e):
		if n.collection.Len() == 0 && len(n.deferred) == 0 {
			n.releaseCollection()
		}

	default:
		i := indexOf(n.deferred, e)
		if i < 0 {
			return false
		}
		copy(n.deferred[i:], n.deferred[i+1:])
		n.deferred[len(n.deferred)-1] = nil
		n.deferred = n.deferred[:len(n.deferred)-1]
	}

	for id := n.id; id != NoNode; {
		ancestor := n.index.node(id)
		ancestor.count--
		id = ancestor.parent
	}
	return true
}

// applyCollection moves the deferred buffer into the node collection. An empty
// buffer is a no-op that yields an empty, unattached collection.
func (n *QuadNode) applyCollection() *EntityCollection {
	n.inQueue = false

	if len(n.deferred) == 0 {
		if n.collection != nil {
			return n.collection
		}
		return n.index.newCollection(NoNode)
	}

	if n.collection == nil {
		n.collection = n.index.newCollection(n.id)
	}
	for _, e := range n.deferred {
		n.collection.add(e)
	}
	n.deferred = nil

	instrumentMaterialize(n.index.config.Name, n.tree)
	return n.collection
}

func (n *QuadNode) releaseCollection() {
	n.collection.node = NoNode
	n.collection = nil
}

// build distributes entities over a fresh subtree without going through the
// scheduler. Leaves get their collection right away.
func (n *QuadNode) build(entities []*Entity) {
	n.count += len(entities)
	if len(entities) == 0 {
		return
	}

	if len(entities) <= n.index.config.MaxCountPerNode || !n.canSplit() {
		if n.collection == nil {
			n.collection = n.index.newCollection(n.id)
		}
		for _, e := range entities {
			e.node = n.id
			n.collection.add(e)
		}
		return
	}

	var buckets [4][]*Entity
	for _, e := range entities {
		q := n.quadrant(e.lonLat)
		buckets[q] = append(buckets[q], e)
	}

	n.createChildren()
	for i, bucket := range buckets {
		n.child(i).build(bucket)
	}
}

// walk is the first visibility pass. Visible materialized collections are
// appended to out; visible nodes still holding deferred entities are appended
// to pending and not descended into.
func (n *QuadNode) walk(tiles *tileIndex, out []*EntityCollection, pending *[]*QuadNode) []*EntityCollection {
	if n.count == 0 || !tiles.overlaps(n.extent) {
		return out
	}
	n.visibleFrame = n.index.frame

	if n.collection != nil {
		out = append(out, n.collection)
	} else if len(n.deferred) != 0 {
		*pending = append(*pending, n)
		return out
	}

	if n.split {
		for i := range n.children {
			out = n.child(i).walk(tiles, out, pending)
		}
	}
	return out
}

// collectVisible runs both visibility passes on the subtree rooted at n.
func (n *QuadNode) collectVisible(tiles *tileIndex, out []*EntityCollection) []*EntityCollection {
	var pending []*QuadNode
	out = n.walk(tiles, out, &pending)

	for i := len(pending) - 1; i >= 0; i-- {
		if c := pending[i].applyCollection(); c.Len() != 0 {
			out = append(out, c)
		}
	}
	return out
}

func indexOf(entities []*Entity, e *Entity) int {
	for i, v := range entities {
		if v == e {
			return i
		}
	}
	return -1
}
