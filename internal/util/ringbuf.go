package util

// Ring keeps the last Cap() values appended to it, oldest first. It does
// no locking of its own; the owner serializes access (the log buffer holds
// one under its own mutex).
type Ring[T any] struct {
	slots []T
	next  int
	full  bool
}

// NewRing returns a ring holding at most capacity values.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{slots: make([]T, capacity)}
}

// Append records v, displacing the oldest value once the ring is full.
func (r *Ring[T]) Append(v T) {
	r.slots[r.next] = v
	r.next++
	if r.next == len(r.slots) {
		r.next = 0
		r.full = true
	}
}

// Items returns the retained values, oldest first, as a fresh slice.
func (r *Ring[T]) Items() []T {
	if !r.full {
		return append([]T(nil), r.slots[:r.next]...)
	}
	out := make([]T, 0, len(r.slots))
	out = append(out, r.slots[r.next:]...)
	return append(out, r.slots[:r.next]...)
}

// Size reports how many values the ring currently retains.
func (r *Ring[T]) Size() int {
	if r.full {
		return len(r.slots)
	}
	return r.next
}

// Cap reports the retention limit.
func (r *Ring[T]) Cap() int {
	return len(r.slots)
}
