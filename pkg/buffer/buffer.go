// Package buffer provides a fixed capacity queue shared between
// producers (acquisition channels) and consumers.
package buffer

import (
	"errors"
	"sync"
	"sync/atomic"
)

var ErrInvalidCapacity = errors.New("buffer capacity must be strictly positive")

// Circular buffer safe for multiple producers and consumers.
// When full, Push rejects the new element and counts it as dropped.
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []T
	readPos  int
	occupied int
	dropped  atomic.Uint64
}

func New[T any](capacity int) (*Buffer[T], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Buffer[T]{items: make([]T, capacity)}, nil
}

// Push appends item, returns false if the buffer is full.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.occupied == len(b.items) {
		b.dropped.Add(1)
		return false
	}
	writePos := (b.readPos + b.occupied) % len(b.items)
	b.items[writePos] = item
	b.occupied++
	return true
}

// Pop removes the oldest item, returns false if the buffer is empty.
func (b *Buffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var item T
	if b.occupied == 0 {
		return item, false
	}
	item = b.items[b.readPos]
	// Release references held by the slot
	var zero T
	b.items[b.readPos] = zero
	b.readPos = (b.readPos + 1) % len(b.items)
	b.occupied--
	return item, true
}

// PopN removes up to len(out) items and returns how many were copied.
func (b *Buffer[T]) PopN(out []T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	n := 0
	for n < len(out) && b.occupied > 0 {
		out[n] = b.items[b.readPos]
		b.items[b.readPos] = zero
		b.readPos = (b.readPos + 1) % len(b.items)
		b.occupied--
		n++
	}
	return n
}

func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.occupied
}

func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Dropped returns the number of rejected pushes since creation.
func (b *Buffer[T]) Dropped() uint64 {
	return b.dropped.Load()
}
