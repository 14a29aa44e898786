package amqpcore

// idAllocator hands out channel ids from [1, max], the range spec.md §4.C
// reserves for client channels (id 0 is connection-global). It is owned
// exclusively by the reader loop, same as the rest of the channel
// manager's state.
type idAllocator struct {
	max    uint16
	next   uint16
	free   []uint16
	inUse  map[uint16]bool
}

func newIdAllocator(max uint16) *idAllocator {
	return &idAllocator{max: max, next: 1, inUse: make(map[uint16]bool)}
}

// allocate returns the next free id, preferring a released id over a
// fresh one, and fails with OutOfChannelIdsError once every id in
// [1, max] is in use.
func (a *idAllocator) allocate() (uint16, error) {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		a.inUse[id] = true
		return id, nil
	}
	if a.next > a.max {
		return 0, &OutOfChannelIdsError{Max: a.max}
	}
	id := a.next
	a.next++
	a.inUse[id] = true
	return id, nil
}

// release returns id to the free list. Releasing an id not currently
// allocated is a no-op.
func (a *idAllocator) release(id uint16) {
	if !a.inUse[id] {
		return
	}
	delete(a.inUse, id)
	a.free = append(a.free, id)
}
