package audio

import (
	"io"
	"sync"
	"time"
)

// Loopback is an in-memory device: whatever is written can be read back in order.
type Loopback struct {
	// Wait bounds how long ReadSamples blocks when nothing is queued.
	Wait time.Duration

	mu     sync.Mutex
	data   []byte
	closed bool
	notify chan struct{}
}

func NewLoopback() *Loopback {
	return &Loopback{Wait: 20 * time.Millisecond, notify: make(chan struct{}, 1)}
}

func (l *Loopback) WriteSamples(pcm []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.data = append(l.data, pcm...)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return nil
}

func (l *Loopback) ReadSamples(buf []byte) (int, error) {
	if n, ok, err := l.take(buf); ok {
		return n, err
	}
	select {
	case <-l.notify:
	case <-time.After(l.Wait):
	}
	n, _, err := l.take(buf)
	return n, err
}

func (l *Loopback) take(buf []byte) (int, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.data) > 0 {
		n := copy(buf, l.data)
		l.data = l.data[n:]
		return n, true, nil
	}
	if l.closed {
		return 0, true, io.EOF
	}
	return 0, false, nil
}

// Pending is the number of written samples not yet read.
func (l *Loopback) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.data)
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
