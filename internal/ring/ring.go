// Package ring provides the fixed-capacity FIFO every monitor records into.
package ring

// Buffer is a fixed-capacity circular buffer. When full, each Push evicts the
// oldest entry. Buffer is not safe for concurrent use; the owning monitor
// serialises access with its own lock so append and analysis share one
// critical section.
type Buffer[T any] struct {
	entries  []T
	capacity int
	head     int // index of the oldest entry once the buffer is full
	total    uint64
}

// New creates a buffer holding at most capacity entries. Non-positive
// capacities are treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends v and reports whether an older entry was evicted.
func (b *Buffer[T]) Push(v T) bool {
	b.total++
	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, v)
		return false
	}
	b.entries[b.head] = v
	b.head = (b.head + 1) % b.capacity
	return true
}

// Len returns the number of retained entries.
func (b *Buffer[T]) Len() int { return len(b.entries) }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return b.capacity }

// Total returns how many entries were ever pushed since the last Reset.
func (b *Buffer[T]) Total() uint64 { return b.total }

// Items returns a copy of the retained entries, oldest first.
func (b *Buffer[T]) Items() []T {
	return b.Last(len(b.entries))
}

// Last returns a copy of the newest n entries, oldest first.
func (b *Buffer[T]) Last(n int) []T {
	size := len(b.entries)
	if n > size {
		n = size
	}
	if n <= 0 {
		return []T{}
	}
	out := make([]T, n)
	start := size - n
	for i := 0; i < n; i++ {
		out[i] = b.entries[(b.head+start+i)%size]
	}
	return out
}

// Each calls fn for every retained entry, oldest first, until fn returns false.
func (b *Buffer[T]) Each(fn func(T) bool) {
	size := len(b.entries)
	for i := 0; i < size; i++ {
		if !fn(b.entries[(b.head+i)%size]) {
			return
		}
	}
}

// Reset drops every entry and the push counter.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.entries {
		b.entries[i] = zero
	}
	b.entries = b.entries[:0]
	b.head = 0
	b.total = 0
}

// Tail applies keep to the retained entries, oldest first, and returns the
// newest limit matches. A limit of 0 or less returns every match.
func Tail[T any](items []T, keep func(T) bool, limit int) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if keep == nil || keep(it) {
			out = append(out, it)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
