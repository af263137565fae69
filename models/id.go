package models

import (
	"sort"
	"sync"
)

// SequentialIDGenerator hands out small positive ids, reusing released ones
// lowest first.
type SequentialIDGenerator struct {
	mutex    sync.Mutex
	current  uint32
	released []uint32
}

// New returns the lowest released id, or the next unused one.
func (g *SequentialIDGenerator) New() uint32 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if len(g.released) != 0 {
		id := g.released[0]
		g.released = g.released[1:]
		return id
	}

	g.current++
	return g.current
}

// Reuse releases id so New can return it again. Ids never handed out and ids
// already released are ignored.
func (g *SequentialIDGenerator) Reuse(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if id == 0 || id > g.current {
		return
	}

	i := sort.Search(len(g.released), func(i int) bool {
		return g.released[i] >= id
	})
	if i < len(g.released) && g.released[i] == id {
		return
	}

	g.released = append(g.released, 0)
	copy(g.released[i+1:], g.released[i:])
	g.released[i] = id
}
