package stream

import "sync/atomic"

// Ring is a fixed-capacity single-producer/single-consumer FIFO of
// samples. Push is called from one goroutine and Pop/PopInto from one
// other (the device callback); neither blocks or allocates.
type Ring struct {
	buf  []float32
	head atomic.Uint64 // total samples written
	_    [56]byte
	tail atomic.Uint64 // total samples read
}

// NewRing allocates a ring holding capacity samples (at least 1)
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float32, capacity)}
}

// Cap returns the capacity in samples
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of buffered samples
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Free returns the space available to the producer
func (r *Ring) Free() int {
	return len(r.buf) - r.Len()
}

// Push writes as much of src as fits and returns the count written
func (r *Ring) Push(src []float32) int {
	head := r.head.Load()
	free := len(r.buf) - int(head-r.tail.Load())
	n := len(src)
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	size := uint64(len(r.buf))
	start := int(head % size)
	first := copy(r.buf[start:], src[:n])
	copy(r.buf, src[first:n])

	r.head.Store(head + uint64(n))
	return n
}

// Pop removes one sample; ok is false when the ring is empty
func (r *Ring) Pop() (v float32, ok bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return 0, false
	}
	v = r.buf[tail%uint64(len(r.buf))]
	r.tail.Store(tail + 1)
	return v, true
}

// PopInto fills dst from the ring and returns the count read
func (r *Ring) PopInto(dst []float32) int {
	tail := r.tail.Load()
	n := int(r.head.Load() - tail)
	if n > len(dst) {
		n = len(dst)
	}
	if n == 0 {
		return 0
	}

	size := uint64(len(r.buf))
	start := int(tail % size)
	first := copy(dst[:n], r.buf[start:])
	copy(dst[first:n], r.buf)

	r.tail.Store(tail + uint64(n))
	return n
}
