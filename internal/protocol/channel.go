package protocol

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrChannelFull is returned by TrySend when the buffer is full.
	ErrChannelFull = errors.New("protocol: channel full")
	// ErrChannelClosed is returned once the channel has been closed.
	ErrChannelClosed = errors.New("protocol: channel closed")
)

// Channel is a bounded multi-producer multi-consumer queue whose Try
// operations never block.
type Channel[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
}

// NewChannel returns a channel buffering up to size messages. size < 1 is
// treated as 1.
func NewChannel[T any](size int) *Channel[T] {
	if size < 1 {
		size = 1
	}
	return &Channel[T]{ch: make(chan T, size)}
}

// TrySend enqueues v without blocking.
func (c *Channel[T]) TrySend(v T) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.ch <- v:
		return nil
	default:
		return ErrChannelFull
	}
}

// TryRecv dequeues a message if one is buffered.
func (c *Channel[T]) TryRecv() (T, bool) {
	select {
	case v, ok := <-c.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Recv blocks until a message arrives, the channel is closed and drained,
// or ctx is done.
func (c *Channel[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-c.ch:
		if !ok {
			return zero, ErrChannelClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Len returns the number of buffered messages.
func (c *Channel[T]) Len() int {
	return len(c.ch)
}

// Close closes the channel. Buffered messages can still be received.
// Closing twice is a no-op.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// ServerEnd is the server's side of a channel pair.
type ServerEnd struct {
	In  *Channel[ClientMessage]
	Out *Channel[ServerMessage]
}

// ClientEnd is a client's side of a channel pair.
type ClientEnd struct {
	In  *Channel[ServerMessage]
	Out *Channel[ClientMessage]
}

// NewPair returns connected endpoints, each direction buffering size
// messages.
func NewPair(size int) (*ServerEnd, *ClientEnd) {
	toServer := NewChannel[ClientMessage](size)
	toClient := NewChannel[ServerMessage](size)
	return &ServerEnd{In: toServer, Out: toClient}, &ClientEnd{In: toClient, Out: toServer}
}

// Close closes both directions.
func (e *ServerEnd) Close() {
	e.In.Close()
	e.Out.Close()
}
