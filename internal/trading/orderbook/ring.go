package orderbook

// Ring is a fixed-capacity FIFO queue. Storage is allocated once at
// construction and never grows; a full ring rejects pushes instead of
// overwriting. Front and At expose elements in place so the matcher can
// decrement a resting quantity without dequeuing.
type Ring[T any] struct {
	items []T
	head  int
	size  int
}

// NewRing allocates a ring holding up to capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("orderbook: ring capacity must be positive")
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v at the tail. Returns false, leaving the ring unchanged,
// when the ring is full.
func (r *Ring[T]) Push(v T) bool {
	if r.size == len(r.items) {
		return false
	}
	r.items[(r.head+r.size)%len(r.items)] = v
	r.size++
	return true
}

// Pop removes and returns the head element.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return v, true
}

// Front returns a pointer to the head element for in-place mutation, or
// nil when empty. The pointer is invalidated by the next Push or Pop.
func (r *Ring[T]) Front() *T {
	if r.size == 0 {
		return nil
	}
	return &r.items[r.head]
}

// At returns a pointer to the i-th element in FIFO order (0 is the head),
// or nil when i is out of range. Same invalidation rule as Front.
func (r *Ring[T]) At(i int) *T {
	if i < 0 || i >= r.size {
		return nil
	}
	return &r.items[(r.head+i)%len(r.items)]
}

// Len returns the number of queued elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Empty reports whether no elements are queued.
func (r *Ring[T]) Empty() bool { return r.size == 0 }

// Full reports whether Push would fail.
func (r *Ring[T]) Full() bool { return r.size == len(r.items) }
