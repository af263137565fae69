package spatial

// EntityCollection is a render-ready bucket of entities. A node owns its
// collection; the collection only refers back to the node by id.
type EntityCollection struct {
	node            NodeID
	entities        []*Entity
	positions       map[*Entity]int
	pickingEnabled  bool
	scaleByDistance ScaleByDistance
	groundAlign     bool
}

func newEntityCollection(node NodeID, pickingEnabled bool, sbd ScaleByDistance, groundAlign bool) *EntityCollection {
	return &EntityCollection{
		node:            node,
		positions:       make(map[*Entity]int),
		pickingEnabled:  pickingEnabled,
		scaleByDistance: sbd,
		groundAlign:     groundAlign,
	}
}

// Node returns the id of the owning node. NoNode for the always collection or
// a collection that was released by its node.
func (c *EntityCollection) Node() NodeID {
	return c.node
}

func (c *EntityCollection) Len() int {
	return len(c.entities)
}

func (c *EntityCollection) Has(e *Entity) bool {
	_, ok := c.positions[e]
	return ok
}

// Entities returns a copy of the collection members. Order is not
// meaningful.
func (c *EntityCollection) Entities() []*Entity {
	entities := make([]*Entity, len(c.entities))
	copy(entities, c.entities)
	return entities
}

func (c *EntityCollection) PickingEnabled() bool {
	return c.pickingEnabled
}

func (c *EntityCollection) ScaleByDistance() ScaleByDistance {
	return c.scaleByDistance
}

func (c *EntityCollection) GroundAlign() bool {
	return c.groundAlign
}

func (c *EntityCollection) add(e *Entity) {
	if _, ok := c.positions[e]; ok {
		return
	}
	c.positions[e] = len(c.entities)
	c.entities = append(c.entities, e)
}

// remove drops e without notifying anyone. Returns false when e is not a
// member.
func (c *EntityCollection) remove(e *Entity) bool {
	i, ok := c.positions[e]
	if !ok {
		return false
	}

	last := len(c.entities) - 1
	c.entities[i] = c.entities[last]
	c.positions[c.entities[i]] = i
	c.entities[last] = nil
	c.entities = c.entities[:last]
	delete(c.positions, e)
	return true
}

func (c *EntityCollection) clear() {
	c.entities = nil
	c.positions = make(map[*Entity]int)
}
