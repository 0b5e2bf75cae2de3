// Package audiobuf is the queue of captured 8-bit PCM samples shared by the capture loop and the
// stream decoder. Samples are appended at the tail and removed from the head.
package audiobuf

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnderflow = errors.New("audiobuf: delete past end of buffer")

type Buffer struct {
	mu   sync.Mutex
	data []byte
	head int
}

func New() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Write(samples []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, samples...)
}

// Read returns a copy of the first n samples without consuming them, or nil when fewer than n are
// buffered.
func (b *Buffer) Read(n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 || len(b.data)-b.head < n {
		return nil
	}
	out := make([]byte, n)
	copy(out, b.data[b.head:b.head+n])
	return out
}

func (b *Buffer) Delete(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	size := len(b.data) - b.head
	if n < 0 || n > size {
		return fmt.Errorf("%w: %d of %d samples", ErrUnderflow, n, size)
	}
	b.head += n
	// reclaim the consumed prefix once it outweighs what is left
	if b.head > size-n {
		live := copy(b.data, b.data[b.head:])
		b.data = b.data[:live]
		b.head = 0
	}
	return nil
}

func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.head
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
	b.head = 0
}
