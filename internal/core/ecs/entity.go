package ecs

import "strconv"

// EntityID encodes a 32-bit slot index in the lower bits and a 32-bit
// generation in the upper bits. A pooled body gets a fresh ID every time it is
// acquired, so a reference kept from its previous life never matches again.
type EntityID uint64

func NewEntityID(index uint32, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

func (id EntityID) Index() uint32      { return uint32(id) }
func (id EntityID) Generation() uint32 { return uint32(id >> 32) }
func (id EntityID) IsZero() bool       { return id == 0 }

func (id EntityID) String() string {
	return strconv.FormatUint(uint64(id.Index()), 10) + "v" + strconv.FormatUint(uint64(id.Generation()), 10)
}

// IDAllocator hands out generational IDs with a free list of slot indices.
// Generation starts at 1 so the zero ID is never issued.
type IDAllocator struct {
	generations []uint32
	freeList    []uint32
	live        int
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{
		generations: make([]uint32, 0, 1024),
		freeList:    make([]uint32, 0, 256),
	}
}

// Acquire returns a live ID, reusing a released slot when one exists.
func (a *IDAllocator) Acquire() EntityID {
	a.live++
	if n := len(a.freeList); n > 0 {
		idx := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		return NewEntityID(idx, a.generations[idx])
	}
	idx := uint32(len(a.generations))
	a.generations = append(a.generations, 1)
	return NewEntityID(idx, 1)
}

// Alive reports whether id is the current generation of its slot.
func (a *IDAllocator) Alive(id EntityID) bool {
	idx := id.Index()
	if int(idx) >= len(a.generations) {
		return false
	}
	return a.generations[idx] == id.Generation()
}

// Release invalidates id. Stale or unknown IDs are ignored.
func (a *IDAllocator) Release(id EntityID) {
	if !a.Alive(id) {
		return
	}
	idx := id.Index()
	a.generations[idx]++
	if a.generations[idx] == 0 {
		a.generations[idx] = 1
	}
	a.freeList = append(a.freeList, idx)
	a.live--
}

// Live returns the number of IDs acquired and not yet released.
func (a *IDAllocator) Live() int { return a.live }
