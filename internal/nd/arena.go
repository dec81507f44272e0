package nd

import "fmt"

// Handle refers to an arena slot. The zero value refers to nothing.
type Handle struct {
	idx uint32
	gen uint32
}

// IsValid reports whether the handle was ever issued.
func (m Handle) IsValid() bool {
	return m.gen != 0
}

func (m Handle) String() string {
	return fmt.Sprintf("%d.%d", m.idx, m.gen)
}

type slot[T any] struct {
	value T
	gen   uint32
	refs  int
	used  bool
}

// arena is a fixed-capacity pool of reference-counted values addressed by
// generation-checked handles. It never evicts.
type arena[T any] struct {
	slots []slot[T]
	free  []uint32
	used  int
}

func newArena[T any](capacity int) *arena[T] {
	m := &arena[T]{
		slots: make([]slot[T], capacity),
		free:  make([]uint32, 0, capacity),
	}
	for idx := capacity - 1; idx >= 0; idx-- {
		m.free = append(m.free, uint32(idx))
	}
	return m
}

// alloc takes a free slot with one reference. The value is zeroed.
func (m *arena[T]) alloc() (Handle, *T, bool) {
	if len(m.free) == 0 {
		return Handle{}, nil, false
	}

	idx := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]

	s := &m.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.refs = 1
	s.used = true
	m.used++

	var zero T
	s.value = zero
	return Handle{idx: idx, gen: s.gen}, &s.value, true
}

// get returns the value the handle refers to, nil for a stale handle.
func (m *arena[T]) get(h Handle) *T {
	if int(h.idx) >= len(m.slots) {
		return nil
	}
	s := &m.slots[h.idx]
	if !s.used || s.gen != h.gen {
		return nil
	}
	return &s.value
}

func (m *arena[T]) acquire(h Handle) error {
	if m.get(h) == nil {
		return fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	m.slots[h.idx].refs++
	return nil
}

// release drops one reference, calling onFree and returning the slot to
// the pool when none remain.
func (m *arena[T]) release(h Handle, onFree func(*T)) error {
	value := m.get(h)
	if value == nil {
		return fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}

	s := &m.slots[h.idx]
	s.refs--
	if s.refs > 0 {
		return nil
	}

	if onFree != nil {
		onFree(value)
	}
	var zero T
	s.value = zero
	s.used = false
	m.free = append(m.free, h.idx)
	m.used--
	return nil
}

func (m *arena[T]) refs(h Handle) int {
	if m.get(h) == nil {
		return 0
	}
	return m.slots[h.idx].refs
}

func (m *arena[T]) len() int {
	return m.used
}

func (m *arena[T]) cap() int {
	return len(m.slots)
}
