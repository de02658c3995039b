package audio

import (
	"sync"
)

// RingBuffer is a thread-safe ring buffer for captured PCM.
// Writes that do not fit are dropped and counted rather than blocking the
// device callback.
type RingBuffer struct {
	buffer  []byte
	size    int
	read    int
	write   int
	dropped int64
	mu      sync.Mutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	if size < 2 {
		size = 2
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write writes data to the ring buffer
// Returns the number of bytes written (may be less than len(data) if buffer is full)
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(data)
	if space := rb.space(); n > space {
		rb.dropped += int64(n - space)
		n = space
	}

	// At most two copies: up to the end of the slice, then from the start
	first := copy(rb.buffer[rb.write:], data[:n])
	if first < n {
		copy(rb.buffer, data[first:n])
	}
	rb.write = (rb.write + n) % rb.size

	return n
}

// Read reads data from the ring buffer
// Returns the number of bytes read
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.readLocked(data)
}

// Drain returns everything buffered and empties the buffer.
// It returns nil when the buffer is empty.
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := rb.available()
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	rb.readLocked(out)
	return out
}

func (rb *RingBuffer) readLocked(data []byte) int {
	n := len(data)
	if avail := rb.available(); n > avail {
		n = avail
	}

	first := n
	if rb.read+first > rb.size {
		first = rb.size - rb.read
	}
	copy(data, rb.buffer[rb.read:rb.read+first])
	if first < n {
		copy(data[first:n], rb.buffer[:n-first])
	}
	rb.read = (rb.read + n) % rb.size

	return n
}

func (rb *RingBuffer) available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// -1 to prevent full/empty ambiguity
func (rb *RingBuffer) space() int {
	return rb.size - rb.available() - 1
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.available()
}

// Space returns the number of bytes available to write
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.space()
}

// Dropped returns how many bytes were discarded because the buffer was full
func (rb *RingBuffer) Dropped() int64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.write = 0
	rb.dropped = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.read == rb.write
}

// IsFull returns true if the buffer is full
func (rb *RingBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.space() == 0
}
