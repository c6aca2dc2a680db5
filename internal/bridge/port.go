package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrAlreadySubscribed is returned when a port is subscribed to twice.
var ErrAlreadySubscribed = errors.New("port already subscribed")

// ErrPortClosed is returned by Send after Close.
var ErrPortClosed = errors.New("port closed")

const defaultPortBuffer = 16

// Port is a one-directional, single-consumer channel from an instance to the
// bridge. Values are delivered in the order they were sent.
type Port[T any] struct {
	name string
	ch   chan T

	// mu is held shared by senders and exclusively by Close, so no send can
	// enqueue once Done is closed.
	mu         sync.RWMutex
	stop       chan struct{}
	done       chan struct{}
	closed     atomic.Bool
	subscribed atomic.Bool
}

// NewPort creates a named port.
func NewPort[T any](name string) *Port[T] {
	return &Port[T]{
		name: name,
		ch:   make(chan T, defaultPortBuffer),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Name returns the port name.
func (p *Port[T]) Name() string {
	return p.name
}

// Send emits v. It blocks while the buffer is full until the subscriber
// catches up, ctx is done, or the port is closed. A nil error means v will
// be seen by the subscriber, even if the port closes right after.
func (p *Port[T]) Send(ctx context.Context, v T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return ErrPortClosed
	}
	// Room in the buffer wins over a canceled ctx.
	select {
	case p.ch <- v:
		return nil
	default:
	}
	select {
	case p.ch <- v:
		return nil
	case <-p.stop:
		return ErrPortClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns the receiving end. Only the first call succeeds.
func (p *Port[T]) Subscribe() (<-chan T, error) {
	if !p.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}
	return p.ch, nil
}

// Close stops further sends and waits for sends in flight to settle.
// Values already buffered are still delivered when the subscriber drains them.
func (p *Port[T]) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		<-p.done
		return
	}
	// Wake senders blocked on a full buffer, then wait for all of them.
	close(p.stop)
	p.mu.Lock()
	close(p.done)
	p.mu.Unlock()
}

// Done is closed once the port is closed and no send can enqueue anymore.
func (p *Port[T]) Done() <-chan struct{} {
	return p.done
}
