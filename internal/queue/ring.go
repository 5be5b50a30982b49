package queue

// ring is a growable FIFO ring buffer. One slot stays empty so that
// head == tail always means empty. Not safe for concurrent use.
type ring[T any] struct {
	buf  []T
	head int
	tail int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity+1)}
}

func (r *ring[T]) empty() bool {
	return r.head == r.tail
}

func (r *ring[T]) full() bool {
	return (r.tail+1)%len(r.buf) == r.head
}

func (r *ring[T]) len() int {
	if r.tail >= r.head {
		return r.tail - r.head
	}
	return len(r.buf) - r.head + r.tail
}

func (r *ring[T]) push(v T) {
	if r.full() {
		r.grow()
	}
	r.buf[r.tail] = v
	r.tail = (r.tail + 1) % len(r.buf)
}

func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r.empty() {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	return v, true
}

// grow doubles the usable capacity, unrolling the contents to index 0.
func (r *ring[T]) grow() {
	n := r.len()
	next := make([]T, 2*(len(r.buf)-1)+1)
	for i := 0; i < n; i++ {
		next[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.buf = next
	r.head = 0
	r.tail = n
}
