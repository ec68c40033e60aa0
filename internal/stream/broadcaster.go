// Package stream fans one byte stream out to independent readers and
// splices a serialized payload into an HTML document as it streams.
package stream

import (
	"errors"
	"io"
	"sync"
)

const (
	// DefaultChunkSize is the producer read size.
	DefaultChunkSize = 32 * 1024
	// DefaultMaxLag is how far the producer may run ahead of the slowest
	// open consumer before it pauses.
	DefaultMaxLag = 256 * 1024
	// Unbounded disables producer backpressure.
	Unbounded = -1
)

// ErrConsumerClosed is returned by Read after the consumer was closed.
var ErrConsumerClosed = errors.New("stream: read from closed consumer")

// Options tunes a Broadcaster. Zero values use the defaults.
type Options struct {
	ChunkSize int
	MaxLag    int
}

// Broadcaster copies one producer into N consumers. Consumers share a
// single buffer and advance independently; bytes every open consumer has
// read are dropped from the buffer.
type Broadcaster struct {
	mutex sync.Mutex
	cond  *sync.Cond

	src       io.Reader
	chunkSize int
	maxLag    int

	buf  []byte
	base int64 // stream offset of buf[0]
	err  error // terminal producer error, io.EOF on success

	consumers []*consumer
	done      chan struct{}
}

// New starts copying src to n consumers.
func New(src io.Reader, n int, opts Options) *Broadcaster {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxLag == 0 {
		opts.MaxLag = DefaultMaxLag
	}

	b := &Broadcaster{
		src:       src,
		chunkSize: opts.ChunkSize,
		maxLag:    opts.MaxLag,
		done:      make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mutex)
	for i := 0; i < n; i++ {
		b.consumers = append(b.consumers, &consumer{b: b})
	}
	go b.produce()
	return b
}

// Tee splits r into n independently readable copies.
func Tee(r io.Reader, n int) []io.ReadCloser {
	return New(r, n, Options{}).Consumers()
}

// Consumers returns the consumer readers in creation order.
func (b *Broadcaster) Consumers() []io.ReadCloser {
	out := make([]io.ReadCloser, len(b.consumers))
	for i, c := range b.consumers {
		out[i] = c
	}
	return out
}

// Done is closed once the producer has stopped.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

func (b *Broadcaster) produce() {
	defer close(b.done)

	for {
		b.mutex.Lock()
		for b.openCount() > 0 && b.lagging() {
			b.cond.Wait()
		}
		if b.openCount() == 0 {
			b.err = ErrConsumerClosed
			b.mutex.Unlock()
			b.closeSource()
			return
		}
		b.mutex.Unlock()

		chunk := make([]byte, b.chunkSize)
		n, err := b.src.Read(chunk)

		b.mutex.Lock()
		if n > 0 {
			b.buf = append(b.buf, chunk[:n]...)
		}
		if err != nil {
			b.err = err
		}
		b.cond.Broadcast()
		b.mutex.Unlock()

		if err != nil {
			b.closeSource()
			return
		}
	}
}

func (b *Broadcaster) closeSource() {
	if c, ok := b.src.(io.Closer); ok {
		_ = c.Close()
	}
}

// lagging reports whether the slowest open consumer is more than maxLag
// bytes behind the producer. Must hold mutex.
func (b *Broadcaster) lagging() bool {
	if b.maxLag < 0 {
		return false
	}
	end := b.base + int64(len(b.buf))
	return end-b.minOpenPos() > int64(b.maxLag)
}

func (b *Broadcaster) openCount() int {
	n := 0
	for _, c := range b.consumers {
		if !c.closed {
			n++
		}
	}
	return n
}

func (b *Broadcaster) minOpenPos() int64 {
	lowest := b.base + int64(len(b.buf))
	for _, c := range b.consumers {
		if !c.closed && c.pos < lowest {
			lowest = c.pos
		}
	}
	return lowest
}

// trim drops the buffer prefix every open consumer has read. Must hold
// mutex.
func (b *Broadcaster) trim() {
	drop := b.minOpenPos() - b.base
	if drop <= 0 {
		return
	}
	b.buf = b.buf[drop:]
	b.base += drop
}

type consumer struct {
	b      *Broadcaster
	pos    int64
	closed bool
}

func (c *consumer) Read(p []byte) (int, error) {
	b := c.b
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for {
		if c.closed {
			return 0, ErrConsumerClosed
		}
		end := b.base + int64(len(b.buf))
		if c.pos < end {
			n := copy(p, b.buf[c.pos-b.base:])
			c.pos += int64(n)
			b.trim()
			b.cond.Broadcast()
			return n, nil
		}
		if b.err != nil {
			return 0, b.err
		}
		b.cond.Wait()
	}
}

// Close detaches the consumer. The producer stops once every consumer is
// closed.
func (c *consumer) Close() error {
	b := c.b
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	b.trim()
	b.cond.Broadcast()
	return nil
}
