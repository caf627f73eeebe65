package server

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO channel. Push never blocks; items accumulate
// in an internal buffer drained by a pump goroutine. After Close the
// buffered items are still delivered, then Pop reports closure. Abort
// stops the pump without draining, for when the consumer is gone.
type Queue[T any] struct {
	mu     sync.Mutex
	in     chan T
	out    chan T
	quit   chan struct{}
	closed bool

	abortOnce sync.Once
}

// NewQueue creates a queue and starts its pump goroutine.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		in:   make(chan T),
		out:  make(chan T),
		quit: make(chan struct{}),
	}
	go q.pump()
	return q
}

func (q *Queue[T]) pump() {
	defer close(q.out)

	var buf []T
	for {
		var out chan T
		var next T
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}
		select {
		case v, ok := <-q.in:
			if !ok {
				// Flush what remains before closing the output side,
				// unless the consumer has already left.
				for _, v := range buf {
					select {
					case q.out <- v:
					case <-q.quit:
						return
					}
				}
				return
			}
			buf = append(buf, v)
		case out <- next:
			buf = buf[1:]
		case <-q.quit:
			return
		}
	}
}

// Push enqueues an item. Pushing to a closed queue drops the item.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.in <- v
}

// Pop blocks until an item is available, the queue is closed and drained,
// or the context is cancelled. The second return value is false only for
// closure or cancellation.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	select {
	case v, ok := <-q.out:
		return v, ok
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Close stops accepting new items. Already-queued items remain poppable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.in)
}

// Abort closes the queue and stops the pump without flushing buffered
// items. Consumers call it when their run loop exits, so the pump never
// blocks delivering to a reader that is gone.
func (q *Queue[T]) Abort() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.in)
	}
	q.mu.Unlock()
	q.abortOnce.Do(func() { close(q.quit) })
}
