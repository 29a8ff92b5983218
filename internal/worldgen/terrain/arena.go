package terrain

import "sync"

// Handle is an opaque reference to a spawned representation. A zero Handle
// is never valid.
type Handle struct {
	Index uint32 `json:"index"`
	Gen   uint32 `json:"gen"`
}

func (h Handle) IsZero() bool { return h == Handle{} }

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// Arena stores values behind generational handles. A removed slot is
// reused with a bumped generation, so stale handles stop resolving.
type Arena[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	live  int
}

func (a *Arena[T]) Insert(v T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot[T]{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.gen++
	s.live = true
	s.val = v
	a.live++
	// Index is stored +1 so the zero Handle is never issued.
	return Handle{Index: idx + 1, Gen: s.gen}
}

func (a *Arena[T]) lookup(h Handle) (*slot[T], bool) {
	if h.Index == 0 || int(h.Index) > len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.Index-1]
	if !s.live || s.gen != h.Gen {
		return nil, false
	}
	return s, true
}

func (a *Arena[T]) Get(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.lookup(h)
	if !ok {
		var zero T
		return zero, false
	}
	return s.val, true
}

func (a *Arena[T]) Valid(h Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.lookup(h)
	return ok
}

// Remove frees the slot. It reports false for stale or unknown handles.
func (a *Arena[T]) Remove(h Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.lookup(h)
	if !ok {
		return false
	}
	var zero T
	s.val = zero
	s.live = false
	a.free = append(a.free, h.Index-1)
	a.live--
	return true
}

func (a *Arena[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}
