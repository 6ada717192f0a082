// Package notify delivers events from producers that must never block,
// such as bus receive handlers, to one consumer goroutine.
package notify

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultCapacity is used when NewQueue is given a capacity below 1.
const DefaultCapacity = 16

// Queue is a bounded multi-producer, single-consumer event queue. When it
// is full, Send drops the new event and counts it.
type Queue[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// NewQueue returns a queue holding up to capacity events.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Send enqueues v without blocking and reports whether it was accepted.
func (q *Queue[T]) Send(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Receive blocks until an event arrives or ctx ends.
func (q *Queue[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryReceive returns the next event if one is queued.
func (q *Queue[T]) TryReceive() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// ReceiveTimeout waits up to d for an event.
func (q *Queue[T]) ReceiveTimeout(d time.Duration) (T, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case v := <-q.ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// Len returns the number of queued events.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Dropped returns the number of events Send discarded.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }
