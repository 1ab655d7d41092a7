// Package buffer provides a bounded FIFO queue with drop accounting.
package buffer

import (
	"sync"
	"sync/atomic"
)

// RingBuffer is a thread-safe circular buffer.
// When full, Push rejects the new element and PushOverwrite evicts the
// oldest one. Either way the drop is counted.
type RingBuffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64 // Current number of elements
	capacity int64

	// Statistics
	pushCount atomic.Int64
	popCount  atomic.Int64
	dropCount atomic.Int64
}

// New creates a new RingBuffer with the given capacity.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: int64(capacity),
	}
}

// Push adds v to the buffer.
// Returns false if the buffer is full and v was dropped.
func (rb *RingBuffer[T]) Push(v T) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count >= rb.capacity {
		rb.dropCount.Add(1)
		return false
	}

	rb.put(v)
	return true
}

// PushOverwrite adds v to the buffer, evicting the oldest element if full.
// Returns true if an element was evicted.
func (rb *RingBuffer[T]) PushOverwrite(v T) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	evicted := false
	if rb.count >= rb.capacity {
		var zero T
		rb.data[rb.tail%rb.capacity] = zero
		rb.tail++
		rb.count--
		rb.dropCount.Add(1)
		evicted = true
	}

	rb.put(v)
	return evicted
}

func (rb *RingBuffer[T]) put(v T) {
	rb.data[rb.head%rb.capacity] = v
	rb.head++
	rb.count++
	rb.pushCount.Add(1)
}

// Pop removes and returns the oldest element.
// Returns false if the buffer is empty.
func (rb *RingBuffer[T]) Pop() (T, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	if rb.count == 0 {
		return zero, false
	}

	idx := rb.tail % rb.capacity
	v := rb.data[idx]
	rb.data[idx] = zero // Clear for GC
	rb.tail++
	rb.count--
	rb.popCount.Add(1)

	return v, true
}

// PopN removes and returns up to n oldest elements, oldest first.
func (rb *RingBuffer[T]) PopN(n int) []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 || n <= 0 {
		return nil
	}

	count := int64(n)
	if count > rb.count {
		count = rb.count
	}

	var zero T
	result := make([]T, count)
	for i := int64(0); i < count; i++ {
		idx := (rb.tail + i) % rb.capacity
		result[i] = rb.data[idx]
		rb.data[idx] = zero
	}

	rb.tail += count
	rb.count -= count
	rb.popCount.Add(count)

	return result
}

// PeekNewest returns the newest element without removing it.
func (rb *RingBuffer[T]) PeekNewest() (T, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var zero T
	if rb.count == 0 {
		return zero, false
	}

	return rb.data[(rb.head-1)%rb.capacity], true
}

// Len returns the current number of elements in the buffer.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer[T]) Cap() int {
	return int(rb.capacity)
}

// Dropped returns the number of elements dropped or evicted so far.
func (rb *RingBuffer[T]) Dropped() int64 {
	return rb.dropCount.Load()
}

// Stats returns buffer statistics.
func (rb *RingBuffer[T]) Stats() Stats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return Stats{
		Capacity:   int(rb.capacity),
		Count:      int(rb.count),
		UsageRatio: float64(rb.count) / float64(rb.capacity),
		PushCount:  rb.pushCount.Load(),
		PopCount:   rb.popCount.Load(),
		DropCount:  rb.dropCount.Load(),
	}
}

// Stats holds buffer statistics.
type Stats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	PopCount   int64
	DropCount  int64
}
