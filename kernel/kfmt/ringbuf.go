package kfmt

import "io"

// ringBufferSize defines the size of the buffer that keeps early Printf
// output. It must be a power of 2.
const ringBufferSize = 2048

// ringBuffer keeps the last ringBufferSize bytes written to it; older output
// is overwritten.
type ringBuffer struct {
	buffer [ringBufferSize]byte

	// start indexes the oldest buffered byte and count tracks how many
	// bytes are buffered.
	start, count int
}

// Write appends p to the buffer, discarding the oldest bytes when the buffer
// is full. It never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.start+rb.count)&(ringBufferSize-1)] = b
		if rb.count < ringBufferSize {
			rb.count++
		} else {
			rb.start = (rb.start + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read drains up to len(p) buffered bytes into p. It returns io.EOF once the
// buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	n := 0
	for ; n < len(p) && rb.count > 0; n++ {
		p[n] = rb.buffer[rb.start]
		rb.start = (rb.start + 1) & (ringBufferSize - 1)
		rb.count--
	}

	return n, nil
}

// Len returns the number of buffered bytes.
func (rb *ringBuffer) Len() int { return rb.count }
