package spatial

// EntityHandler is called with the entity an event is about.
type EntityHandler func(*Entity)

type handlerSlot struct {
	id uint64
	h  EntityHandler
}

// entityHandlers is one callback slot list. Handlers run in registration
// order.
type entityHandlers struct {
	nextID uint64
	slots  []handlerSlot
}

func (hs *entityHandlers) add(h EntityHandler) (cancel func()) {
	hs.nextID++
	id := hs.nextID
	hs.slots = append(hs.slots, handlerSlot{id: id, h: h})

	return func() {
		for i, s := range hs.slots {
			if s.id == id {
				hs.slots = append(hs.slots[:i], hs.slots[i+1:]...)
				return
			}
		}
	}
}

func (hs *entityHandlers) dispatch(e *Entity) {
	for _, s := range hs.slots {
		s.h(e)
	}
}

// OnEntityAdd registers h to be called after an entity is added. The returned
// function unregisters it.
func (idx *Index) OnEntityAdd(h EntityHandler) (cancel func()) {
	return idx.onAdd.add(h)
}

// OnEntityRemove registers h to be called after an entity is removed. The
// returned function unregisters it.
func (idx *Index) OnEntityRemove(h EntityHandler) (cancel func()) {
	return idx.onRemove.add(h)
}
