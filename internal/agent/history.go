package agent

import (
	json "github.com/json-iterator/go"
)

// History is a bounded FIFO of recent values. When full, pushing evicts the oldest entry.
type History[T comparable] struct {
	capacity int
	items    []T
}

// NewHistory creates a History holding at most capacity entries. A capacity below
// one is treated as one.
func NewHistory[T comparable](capacity int) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[T]{capacity: capacity, items: make([]T, 0, capacity)}
}

// Push appends v, evicting the oldest entry when the buffer is full.
func (h *History[T]) Push(v T) {
	if len(h.items) == h.capacity {
		copy(h.items, h.items[1:])
		h.items = h.items[:len(h.items)-1]
	}
	h.items = append(h.items, v)
}

// Len returns the number of retained entries.
func (h *History[T]) Len() int { return len(h.items) }

// Cap returns the maximum number of retained entries.
func (h *History[T]) Cap() int { return h.capacity }

// Count returns how many retained entries equal v.
func (h *History[T]) Count(v T) int {
	n := 0
	for _, item := range h.items {
		if item == v {
			n++
		}
	}
	return n
}

// Last returns the i-th most recent entry (0 is the newest).
func (h *History[T]) Last(i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(h.items) {
		return zero, false
	}
	return h.items[len(h.items)-1-i], true
}

// Items returns a copy of the retained entries, oldest first.
func (h *History[T]) Items() []T {
	out := make([]T, len(h.items))
	copy(out, h.items)
	return out
}

// MarshalJSON encodes the retained entries as an array, oldest first.
func (h *History[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.items)
}
