package logging

import (
	"os"
	"sync"
)

// RingBuffer is a thread-safe circular byte buffer that keeps the most
// recent writes. It implements io.Writer; old data is overwritten when full.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	written int64 // total bytes ever written
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1024 * 1024
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer. Data wraps around when the buffer is full.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	size := int64(len(rb.buf))

	// Oversized writes: only the tail can survive anyway.
	src := p
	if int64(n) > size {
		src = p[int64(n)-size:]
	}

	for len(src) > 0 {
		off := rb.written % size
		copied := copy(rb.buf[off:], src)
		rb.written += int64(copied)
		src = src[copied:]
	}

	return n, nil
}

// Bytes returns the buffer contents in chronological order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := int64(len(rb.buf))
	if rb.written <= size {
		out := make([]byte, rb.written)
		copy(out, rb.buf[:rb.written])
		return out
	}

	off := rb.written % size
	out := make([]byte, size)
	copy(out, rb.buf[off:])
	copy(out[size-off:], rb.buf[:off])
	return out
}

// DumpToFile writes the ring buffer contents to a file in chronological order.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
